package journal

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Service appends journal entries for the ledger operations. Every mutating
// operation in the delegation, second-factor and broker components records
// exactly one entry per logical state change through these helpers.
type Service struct {
	repo Repository
	now  func() time.Time
}

// NewService creates a journal service on the given sink.
func NewService(repo Repository) *Service {
	return &Service{repo: repo, now: func() time.Time { return time.Now().UTC() }}
}

// NewServiceWithClock creates a journal service with a fixed clock, for tests.
func NewServiceWithClock(repo Repository, now func() time.Time) *Service {
	return &Service{repo: repo, now: now}
}

// WithRepository returns a service writing to a different sink, used to bind
// journal writes to an open transaction.
func (s *Service) WithRepository(repo Repository) *Service {
	return &Service{repo: repo, now: s.now}
}

func (s *Service) log(ctx context.Context, action Action, actorID string, payload map[string]any) error {
	err := s.repo.Append(ctx, Entry{
		ID:        uuid.New(),
		Action:    action,
		ActorID:   actorID,
		Timestamp: s.now(),
		Payload:   payload,
	})
	if err != nil {
		return fmt.Errorf("failed to journal %s: %w", action, err)
	}
	return nil
}

// LogConnection records the start of an identity-broker flow.
func (s *Service) LogConnection(ctx context.Context, actorID, sessionID string) error {
	return s.log(ctx, ActionConnection, actorID, map[string]any{
		"session_id": sessionID,
	})
}

// LogAttestationCreation records a mandate creation together with its
// attestation hash. The hash digest is the only attestation material ever
// persisted; the plaintext canonical string is never stored.
func (s *Service) LogAttestationCreation(ctx context.Context, actorID, mandateID, attestationHash string, procedures []string, durationDays int, remote bool) error {
	return s.log(ctx, ActionAttestationCreation, actorID, map[string]any{
		"mandate_id":       mandateID,
		"attestation_hash": attestationHash,
		"procedures":       procedures,
		"duration_days":    durationDays,
		"remote":           remote,
	})
}

// LogAuthorizationCreation records one new procedure authorization.
func (s *Service) LogAuthorizationCreation(ctx context.Context, actorID, mandateID, authorizationID, procedureCode string) error {
	return s.log(ctx, ActionAuthorizationCreation, actorID, map[string]any{
		"mandate_id":       mandateID,
		"authorization_id": authorizationID,
		"procedure":        procedureCode,
	})
}

// LogAuthorizationCancel records the revocation of one authorization.
func (s *Service) LogAuthorizationCancel(ctx context.Context, actorID, authorizationID string) error {
	return s.log(ctx, ActionAuthorizationCancel, actorID, map[string]any{
		"authorization_id": authorizationID,
	})
}

// LogMandateCancel records the revocation of a whole mandate.
func (s *Service) LogMandateCancel(ctx context.Context, actorID, mandateID string) error {
	return s.log(ctx, ActionMandateCancel, actorID, map[string]any{
		"mandate_id": mandateID,
	})
}

// LogMandateTransfer records a bulk reassignment of mandates to another
// organization.
func (s *Service) LogMandateTransfer(ctx context.Context, actorID, targetOrgID string, transferred, failed []string) error {
	return s.log(ctx, ActionMandateTransfer, actorID, map[string]any{
		"target_organization_id": targetOrgID,
		"transferred":            transferred,
		"failed":                 failed,
	})
}

// LogCardAssociation records the pairing of a TOTP card with a helper.
func (s *Service) LogCardAssociation(ctx context.Context, actorID, helperID, serialNumber string) error {
	return s.log(ctx, ActionCardAssociation, actorID, map[string]any{
		"helper_id":     helperID,
		"serial_number": serialNumber,
	})
}

// LogCardConfirmation records the successful confirmation of a TOTP card.
func (s *Service) LogCardConfirmation(ctx context.Context, actorID, helperID, serialNumber string) error {
	return s.log(ctx, ActionCardConfirmation, actorID, map[string]any{
		"helper_id":     helperID,
		"serial_number": serialNumber,
	})
}

// LogCardDissociation records the unpairing of a TOTP card.
func (s *Service) LogCardDissociation(ctx context.Context, actorID, helperID, serialNumber string) error {
	return s.log(ctx, ActionCardDissociation, actorID, map[string]any{
		"helper_id":     helperID,
		"serial_number": serialNumber,
	})
}

// LogCardImport records an administrative batch import of TOTP cards.
func (s *Service) LogCardImport(ctx context.Context, actorID string, count int) error {
	return s.log(ctx, ActionCardImport, actorID, map[string]any{
		"count": count,
	})
}

// LogCorrelationIssue records the issuance of an intake correlation id.
func (s *Service) LogCorrelationIssue(ctx context.Context, actorID string, correlationID int64) error {
	return s.log(ctx, ActionCorrelationIssue, actorID, map[string]any{
		"correlation_id": correlationID,
	})
}
