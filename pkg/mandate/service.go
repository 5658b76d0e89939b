package mandate

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/opencivics/simple-mandate/pkg/attestation"
	"github.com/opencivics/simple-mandate/pkg/journal"
	"github.com/opencivics/simple-mandate/pkg/procedure"
)

// ActorChecker gates which helpers may create mandates. Implemented by the
// iam package.
type ActorChecker interface {
	CheckCanCreateMandates(ctx context.Context, helperID, organizationID uuid.UUID) error
}

// RevocationNotifier is told about committed mandate revocations. Dispatch
// happens after the revocation commits; delivery failure never unwinds
// ledger state, so the notifier reports nothing back.
type RevocationNotifier interface {
	MandateRevoked(ctx context.Context, actorID, mandateID string, revokedAt time.Time)
}

// Service is the delegation ledger: creation with supersession, revocation,
// expiry queries and bulk transfer.
type Service struct {
	repo        Repository
	catalog     *procedure.Catalog
	attestation *attestation.Service
	journal     *journal.Service
	actors      ActorChecker
	notifier    RevocationNotifier
	now         func() time.Time
}

// NewService creates a delegation ledger service.
func NewService(repo Repository, catalog *procedure.Catalog, attestationSvc *attestation.Service, journalSvc *journal.Service, actors ActorChecker) *Service {
	return &Service{
		repo:        repo,
		catalog:     catalog,
		attestation: attestationSvc,
		journal:     journalSvc,
		actors:      actors,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// NewServiceWithClock creates a service with a fixed clock, for tests.
func NewServiceWithClock(repo Repository, catalog *procedure.Catalog, attestationSvc *attestation.Service, journalSvc *journal.Service, actors ActorChecker, now func() time.Time) *Service {
	s := NewService(repo, catalog, attestationSvc, journalSvc, actors)
	s.now = now
	return s
}

// WithNotifier returns a copy of the service that dispatches post-commit
// revocation notices through n.
func (s *Service) WithNotifier(n RevocationNotifier) *Service {
	copied := *s
	copied.notifier = n
	return &copied
}

// journalVia returns the journal service bound to the sink a repository
// mutation runs in. A nil sink means the repository has no transactional
// journal binding and the default sink is used.
func (s *Service) journalVia(sink journal.Repository) *journal.Service {
	if sink == nil {
		return s.journal
	}
	return s.journal.WithRepository(sink)
}

// CreateMandate validates and commits a new mandate with one authorization
// per procedure. An active authorization for the same organization,
// beneficiary and procedure is revoked first, so the triple never carries two
// simultaneously active delegations. The whole write is one atomic unit.
func (s *Service) CreateMandate(ctx context.Context, params CreateMandateParams) (*Receipt, error) {
	if len(params.Procedures) == 0 {
		return nil, ValidationError{Detail: "at least one procedure is required"}
	}
	if unknown := s.catalog.ValidateAll(params.Procedures); len(unknown) > 0 {
		return nil, NewUnknownProceduresError(unknown)
	}
	if !ValidDuration(params.Duration) {
		return nil, ValidationError{Detail: fmt.Sprintf("unknown duration keyword: %s", params.Duration)}
	}
	if params.BeneficiarySub == "" {
		return nil, ValidationError{Detail: "beneficiary sub is required"}
	}

	if err := s.actors.CheckCanCreateMandates(ctx, params.ActorID, params.OrganizationID); err != nil {
		return nil, err
	}

	now := s.now()
	m := Mandate{
		ID:              uuid.New(),
		OrganizationID:  params.OrganizationID,
		BeneficiarySub:  params.BeneficiarySub,
		DurationKeyword: params.Duration,
		CreatedAt:       now,
		ExpiresAt:       Expiration(params.Duration, now),
		Remote:          params.Remote,
	}

	auths := make([]Authorization, 0, len(params.Procedures))
	for _, code := range params.Procedures {
		auths = append(auths, Authorization{
			ID:               uuid.New(),
			MandateID:        m.ID,
			Procedure:        code,
			LastRenewalToken: params.RenewalToken,
		})
	}

	hash, err := s.attestation.Compute(attestation.Facts{
		OrganizationID: m.OrganizationID.String(),
		BeneficiarySub: m.BeneficiarySub,
		Procedures:     params.Procedures,
		CreationDate:   m.CreatedAt,
		ExpirationDate: m.ExpiresAt,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to compute attestation hash: %w", err)
	}

	actor := params.ActorID.String()
	superseded, err := s.repo.CreateMandate(ctx, m, auths, now,
		func(sink journal.Repository, supersededIDs []uuid.UUID) error {
			j := s.journalVia(sink)
			for _, id := range supersededIDs {
				if err := j.LogAuthorizationCancel(ctx, actor, id.String()); err != nil {
					return err
				}
			}
			if err := j.LogAttestationCreation(ctx, actor, m.ID.String(), hash,
				procedure.SortedStrings(params.Procedures), DurationDays(params.Duration, now), params.Remote); err != nil {
				return err
			}
			for _, a := range auths {
				if err := j.LogAuthorizationCreation(ctx, actor, m.ID.String(), a.ID.String(), string(a.Procedure)); err != nil {
					return err
				}
			}
			return nil
		})
	if err != nil {
		return nil, err
	}

	slog.Info("Mandate created",
		"mandate", m.ID,
		"organization", m.OrganizationID,
		"procedures", len(auths),
		"superseded", len(superseded),
		"expires_at", m.ExpiresAt)

	return &Receipt{Mandate: m, Authorizations: auths, AttestationHash: hash}, nil
}

// RenewMandate issues a fresh mandate for the beneficiary of an existing one,
// in the same organization. The new mandate supersedes what it overlaps, like
// any other creation; the source mandate id is carried as the renewal token on
// the new authorizations.
func (s *Service) RenewMandate(ctx context.Context, mandateID uuid.UUID, params RenewMandateParams) (*Receipt, error) {
	prev, err := s.repo.GetMandate(ctx, mandateID)
	if err != nil {
		return nil, err
	}

	procedures := params.Procedures
	if len(procedures) == 0 {
		procedures, err = s.ActiveProcedures(ctx, mandateID)
		if err != nil {
			return nil, err
		}
		if len(procedures) == 0 {
			return nil, ValidationError{Detail: "mandate has no active procedures left to renew"}
		}
	}

	return s.CreateMandate(ctx, CreateMandateParams{
		OrganizationID: prev.OrganizationID,
		BeneficiarySub: prev.BeneficiarySub,
		Procedures:     procedures,
		Duration:       params.Duration,
		Remote:         params.Remote,
		ActorID:        params.ActorID,
		RenewalToken:   prev.ID.String(),
	})
}

// RevokeAuthorization revokes one authorization. Revoking an already revoked
// authorization logs a warning and changes nothing.
func (s *Service) RevokeAuthorization(ctx context.Context, authorizationID uuid.UUID, actorID string) error {
	a, revoked, err := s.repo.RevokeAuthorization(ctx, authorizationID, s.now(),
		func(sink journal.Repository, a Authorization) error {
			return s.journalVia(sink).LogAuthorizationCancel(ctx, actorID, a.ID.String())
		})
	if err != nil {
		return err
	}
	if !revoked {
		slog.Warn("Authorization already revoked", "authorization", a.ID)
	}
	return nil
}

// RevokeMandate revokes every live authorization of the mandate and the
// mandate itself as one atomic unit.
func (s *Service) RevokeMandate(ctx context.Context, mandateID uuid.UUID, actorID string) error {
	now := s.now()
	m, revoked, err := s.repo.RevokeMandate(ctx, mandateID, now,
		func(sink journal.Repository, m Mandate, revoked []Authorization) error {
			j := s.journalVia(sink)
			for _, a := range revoked {
				if err := j.LogAuthorizationCancel(ctx, actorID, a.ID.String()); err != nil {
					return err
				}
			}
			return j.LogMandateCancel(ctx, actorID, m.ID.String())
		})
	if err != nil {
		return err
	}

	slog.Info("Mandate revoked", "mandate", m.ID, "authorizations", len(revoked))
	if s.notifier != nil {
		s.notifier.MandateRevoked(ctx, actorID, m.ID.String(), now)
	}
	return nil
}

// FindExpiringSoon returns active mandates whose expiration falls within the
// threshold window. The caller (an external notifier) decides what to do
// with them.
func (s *Service) FindExpiringSoon(ctx context.Context, thresholdDays int) ([]Mandate, error) {
	now := s.now()
	return s.repo.FindExpiringBetween(ctx, now, now.Add(time.Duration(thresholdDays)*24*time.Hour))
}

// GetMandate returns one mandate with its authorizations.
func (s *Service) GetMandate(ctx context.Context, id uuid.UUID) (Mandate, []Authorization, error) {
	m, err := s.repo.GetMandate(ctx, id)
	if err != nil {
		return Mandate{}, nil, err
	}
	auths, err := s.repo.FindAuthorizationsByMandate(ctx, id)
	if err != nil {
		return Mandate{}, nil, err
	}
	return m, auths, nil
}

// ActiveProcedures returns the procedures still actively granted by a
// mandate at the current time.
func (s *Service) ActiveProcedures(ctx context.Context, mandateID uuid.UUID) ([]procedure.Code, error) {
	m, auths, err := s.GetMandate(ctx, mandateID)
	if err != nil {
		return nil, err
	}
	if !m.IsActive(s.now()) {
		return nil, nil
	}
	var out []procedure.Code
	for _, a := range auths {
		if !a.IsRevoked() {
			out = append(out, a.Procedure)
		}
	}
	return out, nil
}

// TransferToOrganization reassigns mandates to another organization. Each
// transfer is independently transactional: conflicting mandates are reported
// in the result, they do not block or roll back the others.
func (s *Service) TransferToOrganization(ctx context.Context, newOrgID uuid.UUID, mandateIDs []uuid.UUID, actorID string) (TransferReport, error) {
	var report TransferReport
	now := s.now()
	for _, id := range mandateIDs {
		if err := s.repo.TransferMandate(ctx, id, newOrgID, now); err != nil {
			slog.Warn("Mandate transfer skipped", "mandate", id, "error", err)
			report.Failed = append(report.Failed, id)
			continue
		}
		report.Transferred = append(report.Transferred, id)
	}

	if len(report.Transferred) > 0 || len(report.Failed) > 0 {
		err := s.journal.LogMandateTransfer(ctx, actorID, newOrgID.String(),
			uuidStrings(report.Transferred), uuidStrings(report.Failed))
		if err != nil {
			return report, err
		}
	}
	return report, nil
}

// NextCorrelationID issues the next intake correlation identifier.
func (s *Service) NextCorrelationID(ctx context.Context, actorID string) (int64, error) {
	return s.repo.NextCorrelationID(ctx, func(sink journal.Repository, id int64) error {
		return s.journalVia(sink).LogCorrelationIssue(ctx, actorID, id)
	})
}

func uuidStrings(ids []uuid.UUID) []string {
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = id.String()
	}
	return out
}
