package iam

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
)

// SecondFactorChecker reports whether a helper holds a confirmed second
// factor. Implemented by the secondfactor package.
type SecondFactorChecker interface {
	HasConfirmed(ctx context.Context, helperID uuid.UUID) (bool, error)
}

// Service exposes identity lookups and the explicit capability checks the
// ledgers call before mutating anything. Visibility rules live here as plain
// functions, independent of any UI layer.
type Service struct {
	repo         Repository
	secondFactor SecondFactorChecker
}

// NewService creates an IAM service.
func NewService(repo Repository, secondFactor SecondFactorChecker) *Service {
	return &Service{repo: repo, secondFactor: secondFactor}
}

// GetHelper returns the helper with the given id.
func (s *Service) GetHelper(ctx context.Context, id uuid.UUID) (Helper, error) {
	return s.repo.GetHelper(ctx, id)
}

// GetOrganization returns the organization with the given id.
func (s *Service) GetOrganization(ctx context.Context, id uuid.UUID) (Organization, error) {
	return s.repo.GetOrganization(ctx, id)
}

// HelperEmail returns the contact address for a helper.
func (s *Service) HelperEmail(ctx context.Context, helperID uuid.UUID) (string, error) {
	helper, err := s.repo.GetHelper(ctx, helperID)
	if err != nil {
		return "", err
	}
	return helper.Email, nil
}

// GetBeneficiary returns the beneficiary with the given subject identifier.
func (s *Service) GetBeneficiary(ctx context.Context, sub string) (Beneficiary, error) {
	return s.repo.GetBeneficiary(ctx, sub)
}

// RegisterBeneficiary records or refreshes the attributes the identity source
// asserted for a beneficiary.
func (s *Service) RegisterBeneficiary(ctx context.Context, beneficiary Beneficiary) error {
	if beneficiary.Sub == "" {
		return fmt.Errorf("beneficiary sub is required")
	}
	return s.repo.UpsertBeneficiary(ctx, beneficiary)
}

// CheckCanCreateMandates verifies that the helper is active, habilitated, acts
// for the organization, and holds a confirmed second factor. It returns
// ErrNotPermitted with an operator-safe message otherwise.
func (s *Service) CheckCanCreateMandates(ctx context.Context, helperID, organizationID uuid.UUID) error {
	helper, err := s.repo.GetHelper(ctx, helperID)
	if err != nil {
		return err
	}

	if helper.DeactivatedAt != nil {
		return ErrNotPermitted{Detail: "this account is deactivated"}
	}
	if !helper.CanCreateMandates {
		return ErrNotPermitted{Detail: "this account is not habilitated to create mandates"}
	}
	if !helper.ActsFor(organizationID) {
		return ErrNotPermitted{Detail: "this account does not act for the requested organization"}
	}

	confirmed, err := s.secondFactor.HasConfirmed(ctx, helperID)
	if err != nil {
		return fmt.Errorf("failed to check second factor: %w", err)
	}
	if !confirmed {
		slog.Warn("Mandate creation blocked, no confirmed second factor", "helper", helperID)
		return ErrNotPermitted{Detail: "a confirmed second-factor card is required to create mandates"}
	}
	return nil
}

// CheckIsOrgManager verifies that the helper manages the given organization.
// Card pairing operations require this role.
func (s *Service) CheckIsOrgManager(ctx context.Context, helperID, organizationID uuid.UUID) error {
	helper, err := s.repo.GetHelper(ctx, helperID)
	if err != nil {
		return err
	}
	if helper.DeactivatedAt != nil {
		return ErrNotPermitted{Detail: "this account is deactivated"}
	}
	if !helper.IsOrgManager || !helper.ActsFor(organizationID) {
		return ErrNotPermitted{Detail: "this account does not manage the requested organization"}
	}
	return nil
}
