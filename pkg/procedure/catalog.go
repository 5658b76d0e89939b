package procedure

import (
	"fmt"
	"sort"
)

// Code identifies an administrative procedure category a mandate may cover.
type Code string

// Definition carries the display metadata attached to a procedure code.
type Definition struct {
	Code        Code   `json:"code"`
	Title       string `json:"title"`
	ShortTitle  string `json:"short_title"`
	Description string `json:"description"`
}

// Catalog is the closed set of procedure codes known to the system. It is
// built once at startup and never mutated afterwards.
type Catalog struct {
	definitions map[Code]Definition
	codes       []Code
}

// NewCatalog builds a catalog from a set of definitions.
func NewCatalog(defs []Definition) *Catalog {
	definitions := make(map[Code]Definition, len(defs))
	codes := make([]Code, 0, len(defs))
	for _, d := range defs {
		if _, exists := definitions[d.Code]; exists {
			continue
		}
		definitions[d.Code] = d
		codes = append(codes, d.Code)
	}
	sort.Slice(codes, func(i, j int) bool { return codes[i] < codes[j] })
	return &Catalog{definitions: definitions, codes: codes}
}

// DefaultCatalog returns the standard procedure catalog.
func DefaultCatalog() *Catalog {
	return NewCatalog([]Definition{
		{Code: "papiers", Title: "Papiers - Citoyenneté", ShortTitle: "Papiers", Description: "État-civil, passeport, élections, carte d'identité"},
		{Code: "famille", Title: "Famille", ShortTitle: "Famille", Description: "Allocations familiales, naissance, mariage, scolarité"},
		{Code: "social", Title: "Social - Santé", ShortTitle: "Social", Description: "Carte vitale, chômage, handicap, RSA"},
		{Code: "travail", Title: "Travail", ShortTitle: "Travail", Description: "CDD, concours, retraite, démission"},
		{Code: "logement", Title: "Logement", ShortTitle: "Logement", Description: "Allocations logement, permis de construire, logement social"},
		{Code: "transports", Title: "Transports", ShortTitle: "Transports", Description: "Carte grise, permis de conduire, contrôle technique"},
		{Code: "argent", Title: "Argent", ShortTitle: "Argent", Description: "Crédit immobilier, impôts, consommation, surendettement"},
		{Code: "justice", Title: "Justice", ShortTitle: "Justice", Description: "Casier judiciaire, plainte, aide juridictionnelle"},
		{Code: "etranger", Title: "Étranger", ShortTitle: "Étranger", Description: "Titres de séjour, attestation d'accueil, regroupement familial"},
		{Code: "loisirs", Title: "Loisirs", ShortTitle: "Loisirs", Description: "Animaux, permis bateau, tourisme, permis de chasser"},
	})
}

// Valid reports whether code belongs to the catalog.
func (c *Catalog) Valid(code Code) bool {
	_, ok := c.definitions[code]
	return ok
}

// Get returns the definition for a code.
func (c *Catalog) Get(code Code) (Definition, error) {
	def, ok := c.definitions[code]
	if !ok {
		return Definition{}, fmt.Errorf("unknown procedure code: %s", code)
	}
	return def, nil
}

// Codes returns all catalog codes in lexicographic order.
func (c *Catalog) Codes() []Code {
	out := make([]Code, len(c.codes))
	copy(out, c.codes)
	return out
}

// ValidateAll checks every code in the given set against the catalog and
// returns the offending codes, if any.
func (c *Catalog) ValidateAll(codes []Code) []Code {
	var unknown []Code
	for _, code := range codes {
		if !c.Valid(code) {
			unknown = append(unknown, code)
		}
	}
	return unknown
}

// SortedStrings returns the codes sorted lexicographically as plain strings.
// The attestation canonicalization relies on this ordering.
func SortedStrings(codes []Code) []string {
	out := make([]string, len(codes))
	for i, code := range codes {
		out[i] = string(code)
	}
	sort.Strings(out)
	return out
}
