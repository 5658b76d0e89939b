// Package attestation computes the integrity digest binding a printed mandate
// document to its database record. The digest is deterministic: the same facts
// always produce the same 64-character hex hash regardless of the order the
// procedures or fields are supplied in, which lets a document be re-verified
// later from journal data alone.
package attestation

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/opencivics/simple-mandate/pkg/procedure"
)

const fieldSeparator = ";"

// Facts holds the mandate facts covered by the integrity digest.
type Facts struct {
	OrganizationID string
	BeneficiarySub string
	Procedures     []procedure.Code
	CreationDate   time.Time
	ExpirationDate time.Time
}

// Service computes and verifies attestation digests. It holds the secret salt
// and the SHA-256 of the attestation template in use; it keeps no other state.
type Service struct {
	salt         string
	templateHash string
}

// NewService creates an attestation service for the given salt and raw
// template bytes.
func NewService(salt string, templateContent []byte) *Service {
	return &Service{
		salt:         salt,
		templateHash: TemplateHash(templateContent),
	}
}

// NewServiceWithTemplateHash creates a service from a precomputed template
// hash, for callers that only persisted the digest of the template.
func NewServiceWithTemplateHash(salt, templateHash string) *Service {
	return &Service{salt: salt, templateHash: templateHash}
}

// TemplateHash returns the SHA-256 hex digest of raw template bytes.
func TemplateHash(content []byte) string {
	sum := sha256.Sum256(content)
	return hex.EncodeToString(sum[:])
}

// Compute canonicalizes the facts and returns the salted SHA-256 hex digest.
//
// Canonical form: a map keyed exactly by {creation_date, demarches_list,
// expiration_date, organization_id, template_hash, usager_sub}, entries sorted
// by key, values joined with ";", salt appended.
func (s *Service) Compute(facts Facts) (string, error) {
	if facts.OrganizationID == "" {
		return "", fmt.Errorf("attestation facts missing organization id")
	}
	if facts.BeneficiarySub == "" {
		return "", fmt.Errorf("attestation facts missing beneficiary sub")
	}
	if len(facts.Procedures) == 0 {
		return "", fmt.Errorf("attestation facts missing procedures")
	}

	fields := map[string]string{
		"creation_date":   facts.CreationDate.UTC().Format("2006-01-02"),
		"demarches_list":  strings.Join(procedure.SortedStrings(facts.Procedures), ","),
		"expiration_date": facts.ExpirationDate.UTC().Format("2006-01-02"),
		"organization_id": facts.OrganizationID,
		"template_hash":   s.templateHash,
		"usager_sub":      facts.BeneficiarySub,
	}

	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	values := make([]string, 0, len(keys))
	for _, k := range keys {
		values = append(values, fields[k])
	}

	salted := strings.Join(values, fieldSeparator) + s.salt
	sum := sha256.Sum256([]byte(salted))
	return hex.EncodeToString(sum[:]), nil
}

// Verify recomputes the digest for the facts and compares it to hash.
func (s *Service) Verify(hash string, facts Facts) (bool, error) {
	computed, err := s.Compute(facts)
	if err != nil {
		return false, err
	}
	return computed == hash, nil
}
