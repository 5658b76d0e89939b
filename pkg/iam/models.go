package iam

import (
	"time"

	"github.com/google/uuid"
)

// Organization is a structure habilitated to receive delegations.
type Organization struct {
	ID           uuid.UUID `json:"id"`
	Name         string    `json:"name"`
	Address      string    `json:"address,omitempty"`
	ContactEmail string    `json:"contact_email,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

// Helper is a certified person acting on behalf of beneficiaries. A helper
// belongs to one primary organization and may act for a set of others.
type Helper struct {
	ID                uuid.UUID   `json:"id"`
	Email             string      `json:"email"`
	FirstName         string      `json:"first_name"`
	LastName          string      `json:"last_name"`
	OrganizationID    uuid.UUID   `json:"organization_id"`
	ActingOrgIDs      []uuid.UUID `json:"acting_org_ids,omitempty"`
	CanCreateMandates bool        `json:"can_create_mandates"`
	IsOrgManager      bool        `json:"is_org_manager"`
	CreatedAt         time.Time   `json:"created_at"`
	DeactivatedAt     *time.Time  `json:"deactivated_at,omitempty"`
}

// FullName returns the helper's display name.
func (h Helper) FullName() string {
	return h.FirstName + " " + h.LastName
}

// ActsFor reports whether the helper may act for the given organization.
func (h Helper) ActsFor(orgID uuid.UUID) bool {
	if h.OrganizationID == orgID {
		return true
	}
	for _, id := range h.ActingOrgIDs {
		if id == orgID {
			return true
		}
	}
	return false
}

// Beneficiary is an end user identified by the stable subject identifier the
// identity source asserts. Beneficiaries never own delegations directly; they
// are only referenced by them.
type Beneficiary struct {
	Sub        string    `json:"sub"`
	GivenName  string    `json:"given_name"`
	FamilyName string    `json:"family_name"`
	Birthdate  string    `json:"birthdate,omitempty"`
	Email      string    `json:"email,omitempty"`
	Phone      string    `json:"phone,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}
