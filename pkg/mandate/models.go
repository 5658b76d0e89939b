package mandate

import (
	"time"

	"github.com/google/uuid"

	"github.com/opencivics/simple-mandate/pkg/procedure"
)

// DurationKeyword names the validity period of a mandate.
type DurationKeyword string

const (
	// DurationShort is valid for one day.
	DurationShort DurationKeyword = "SHORT"
	// DurationSemester is valid for 182 days.
	DurationSemester DurationKeyword = "SEMESTER"
	// DurationLong is valid for one year.
	DurationLong DurationKeyword = "LONG"
	// DurationEmergency is the legacy fixed-date variant: mandates issued
	// under the 2020 health-emergency rules all expire on the same day.
	DurationEmergency DurationKeyword = "EUS_03_20"
)

// emergencyLastDay is the fixed expiration of DurationEmergency mandates.
var emergencyLastDay = time.Date(2021, 2, 16, 23, 59, 59, 0, time.UTC)

// ValidDuration reports whether the keyword is a known duration.
func ValidDuration(keyword DurationKeyword) bool {
	switch keyword {
	case DurationShort, DurationSemester, DurationLong, DurationEmergency:
		return true
	}
	return false
}

// Expiration computes the expiration timestamp of a mandate created at t0.
func Expiration(keyword DurationKeyword, t0 time.Time) time.Time {
	switch keyword {
	case DurationShort:
		return t0.Add(24 * time.Hour)
	case DurationSemester:
		return t0.Add(182 * 24 * time.Hour)
	case DurationLong:
		return t0.Add(365 * 24 * time.Hour)
	case DurationEmergency:
		return emergencyLastDay
	}
	return t0
}

// DurationDays returns the mandate lifetime in whole days, as recorded in the
// journal.
func DurationDays(keyword DurationKeyword, t0 time.Time) int {
	return int(Expiration(keyword, t0).Sub(t0).Hours() / 24)
}

// Mandate is a time-bound delegation from a beneficiary to an organization.
type Mandate struct {
	ID              uuid.UUID       `json:"id"`
	OrganizationID  uuid.UUID       `json:"organization_id"`
	BeneficiarySub  string          `json:"beneficiary_sub"`
	DurationKeyword DurationKeyword `json:"duration_keyword"`
	CreatedAt       time.Time       `json:"created_at"`
	ExpiresAt       time.Time       `json:"expires_at"`
	Remote          bool            `json:"remote"`
	RevokedAt       *time.Time      `json:"revoked_at,omitempty"`
}

// IsActive reports whether the mandate is active at the given instant.
// Expiration is computed, never swept: this is the only definition of active.
func (m Mandate) IsActive(now time.Time) bool {
	return m.RevokedAt == nil && now.Before(m.ExpiresAt)
}

// Authorization is one procedure-scoped grant within a mandate. Its
// revocation timestamp, once set, is immutable.
type Authorization struct {
	ID               uuid.UUID      `json:"id"`
	MandateID        uuid.UUID      `json:"mandate_id"`
	Procedure        procedure.Code `json:"procedure"`
	RevokedAt        *time.Time     `json:"revoked_at,omitempty"`
	LastRenewalToken string         `json:"-"`
}

// IsRevoked reports whether the authorization has been revoked.
func (a Authorization) IsRevoked() bool {
	return a.RevokedAt != nil
}

// CreateMandateParams carries the inputs of a mandate creation.
type CreateMandateParams struct {
	OrganizationID uuid.UUID
	BeneficiarySub string
	Procedures     []procedure.Code
	Duration       DurationKeyword
	Remote         bool
	ActorID        uuid.UUID
	RenewalToken   string
}

// RenewMandateParams carries the inputs of a mandate renewal. An empty
// Procedures slice renews the procedures still active on the source mandate.
type RenewMandateParams struct {
	Procedures []procedure.Code
	Duration   DurationKeyword
	Remote     bool
	ActorID    uuid.UUID
}

// Receipt is the result of a committed mandate creation.
type Receipt struct {
	Mandate         Mandate
	Authorizations  []Authorization
	AttestationHash string
}

// TransferReport lists the outcome of a bulk transfer: failures are reported
// per mandate, they never block the successes.
type TransferReport struct {
	Transferred []uuid.UUID
	Failed      []uuid.UUID
}
