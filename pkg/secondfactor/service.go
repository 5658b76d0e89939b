package secondfactor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/opencivics/simple-mandate/pkg/journal"
)

// Service drives the card pairing state machine:
//
//	UNASSOCIATED --Associate--> PENDING_CONFIRMATION --Confirm--> CONFIRMED
//	CONFIRMED --Dissociate--> UNASSOCIATED
//
// A helper without a CONFIRMED card cannot create mandates; the delegation
// ledger checks HasConfirmed before committing anything.
type Service struct {
	repo      Repository
	validator CodeValidator
	journal   *journal.Service
	notifier  ConfirmationNotifier
	now       func() time.Time
}

// ConfirmationNotifier is told about committed card confirmations. Dispatch
// happens after the pairing commits; delivery failure never unwinds card
// state.
type ConfirmationNotifier interface {
	CardConfirmed(ctx context.Context, helperID, serialNumber string)
}

// NewService creates a second-factor service.
func NewService(repo Repository, validator CodeValidator, journalSvc *journal.Service) *Service {
	return &Service{
		repo:      repo,
		validator: validator,
		journal:   journalSvc,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// NewServiceWithClock creates a service with a fixed clock, for tests.
func NewServiceWithClock(repo Repository, validator CodeValidator, journalSvc *journal.Service, now func() time.Time) *Service {
	return &Service{repo: repo, validator: validator, journal: journalSvc, now: now}
}

// WithNotifier returns a copy of the service that dispatches post-commit
// confirmation notices through n.
func (s *Service) WithNotifier(n ConfirmationNotifier) *Service {
	copied := *s
	copied.notifier = n
	return &copied
}

// journalVia returns the journal service bound to the given transactional
// sink, or the default service when the sink is nil.
func (s *Service) journalVia(sink journal.Repository) *journal.Service {
	if sink == nil {
		return s.journal
	}
	return s.journal.WithRepository(sink)
}

// Associate links a card to a helper and moves it to PENDING_CONFIRMATION.
// It fails with ErrCardConflict when the card is already linked elsewhere or
// the helper already has a different confirmed card; the card is left
// untouched in that case. The card row stays locked from the guard check to
// the write, so two concurrent attempts to link one card resolve to exactly
// one winner.
func (s *Service) Associate(ctx context.Context, serialNumber string, helperID uuid.UUID, actorID string) error {
	return s.repo.InTx(ctx, func(r Repository, sink journal.Repository) error {
		card, err := r.GetCardForUpdate(ctx, serialNumber)
		if err != nil {
			return err
		}

		if card.HelperID != nil && *card.HelperID != helperID {
			return ErrCardConflict{SerialNumber: serialNumber, Detail: "already linked to another helper"}
		}

		existing, err := r.GetConfirmedCardByHelper(ctx, helperID)
		if err == nil && existing.SerialNumber != serialNumber {
			return ErrCardConflict{
				SerialNumber: serialNumber,
				Detail:       fmt.Sprintf("helper already has confirmed card %s", existing.SerialNumber),
			}
		}
		var notFound ErrCardNotFound
		if err != nil && !errors.As(err, &notFound) {
			return fmt.Errorf("failed to check existing card: %w", err)
		}

		card.HelperID = &helperID
		card.State = StatePendingConfirmation
		card.Tolerance = ProvisioningTolerance
		card.ConfirmedAt = nil

		if err := r.UpdateCard(ctx, card); err != nil {
			return fmt.Errorf("failed to associate card: %w", err)
		}

		slog.Info("Card associated", "serial", serialNumber, "helper", helperID)
		return s.journalVia(sink).LogCardAssociation(ctx, actorID, helperID.String(), serialNumber)
	})
}

// Confirm validates a code against the card seed and, on the first success,
// narrows the tolerance window and marks the card CONFIRMED.
func (s *Service) Confirm(ctx context.Context, serialNumber, code, actorID string) error {
	var confirmedHelper string
	err := s.repo.InTx(ctx, func(r Repository, sink journal.Repository) error {
		card, err := r.GetCardForUpdate(ctx, serialNumber)
		if err != nil {
			return err
		}

		if card.State != StatePendingConfirmation {
			return ErrInvalidState{SerialNumber: serialNumber, State: card.State}
		}

		valid, err := s.validator.VerifyCode(card.Seed, code, card.Tolerance, s.now())
		if err != nil {
			return fmt.Errorf("failed to verify passcode: %w", err)
		}
		if !valid {
			slog.Warn("Card confirmation rejected", "serial", serialNumber)
			return ErrInvalidPasscode{SerialNumber: serialNumber}
		}

		confirmedAt := s.now()
		card.State = StateConfirmed
		card.Tolerance = ConfirmedTolerance
		card.ConfirmedAt = &confirmedAt

		if err := r.UpdateCard(ctx, card); err != nil {
			return fmt.Errorf("failed to confirm card: %w", err)
		}

		confirmedHelper = card.HelperID.String()
		slog.Info("Card confirmed", "serial", serialNumber, "helper", confirmedHelper)
		return s.journalVia(sink).LogCardConfirmation(ctx, actorID, confirmedHelper, serialNumber)
	})
	if err != nil {
		return err
	}

	if s.notifier != nil {
		s.notifier.CardConfirmed(ctx, confirmedHelper, serialNumber)
	}
	return nil
}

// Dissociate unlinks a card from its helper. The confirmation artifact is
// discarded but the physical card record stays, back in stock.
func (s *Service) Dissociate(ctx context.Context, serialNumber, actorID string) error {
	return s.repo.InTx(ctx, func(r Repository, sink journal.Repository) error {
		card, err := r.GetCardForUpdate(ctx, serialNumber)
		if err != nil {
			return err
		}

		if card.HelperID == nil {
			return ErrInvalidState{SerialNumber: serialNumber, State: card.State}
		}
		helperID := card.HelperID.String()

		card.HelperID = nil
		card.State = StateUnassociated
		card.Tolerance = ProvisioningTolerance
		card.ConfirmedAt = nil

		if err := r.UpdateCard(ctx, card); err != nil {
			return fmt.Errorf("failed to dissociate card: %w", err)
		}

		slog.Info("Card dissociated", "serial", serialNumber, "helper", helperID)
		return s.journalVia(sink).LogCardDissociation(ctx, actorID, helperID, serialNumber)
	})
}

// HasConfirmed reports whether the helper holds a confirmed card.
func (s *Service) HasConfirmed(ctx context.Context, helperID uuid.UUID) (bool, error) {
	_, err := s.repo.GetConfirmedCardByHelper(ctx, helperID)
	if err == nil {
		return true, nil
	}
	var notFound ErrCardNotFound
	if errors.As(err, &notFound) {
		return false, nil
	}
	return false, fmt.Errorf("failed to look up confirmed card: %w", err)
}

// ValidateCode checks a code against the helper's confirmed card. Used by the
// consent step of the broker flow.
func (s *Service) ValidateCode(ctx context.Context, helperID uuid.UUID, code string) (bool, error) {
	card, err := s.repo.GetConfirmedCardByHelper(ctx, helperID)
	if err != nil {
		var notFound ErrCardNotFound
		if errors.As(err, &notFound) {
			return false, nil
		}
		return false, fmt.Errorf("failed to look up confirmed card: %w", err)
	}

	valid, err := s.validator.VerifyCode(card.Seed, code, card.Tolerance, s.now())
	if err != nil {
		return false, fmt.Errorf("failed to verify passcode: %w", err)
	}
	return valid, nil
}

// ImportBatch registers freshly provisioned cards as UNASSOCIATED stock.
// Duplicate serial numbers are skipped and reported in the returned count of
// imported rows.
func (s *Service) ImportBatch(ctx context.Context, seeds []CardSeed, actorID string) (int, error) {
	imported := 0
	for _, seed := range seeds {
		if seed.SerialNumber == "" || seed.Seed == "" {
			return imported, fmt.Errorf("card batch row missing serial number or seed")
		}
		err := s.repo.CreateCard(ctx, Card{
			SerialNumber: seed.SerialNumber,
			Seed:         seed.Seed,
			State:        StateUnassociated,
			Tolerance:    ProvisioningTolerance,
			CreatedAt:    s.now(),
		})
		var conflict ErrCardConflict
		if errors.As(err, &conflict) {
			slog.Warn("Skipping duplicate card in batch", "serial", seed.SerialNumber)
			continue
		}
		if err != nil {
			return imported, fmt.Errorf("failed to import card %s: %w", seed.SerialNumber, err)
		}
		imported++
	}

	if imported > 0 {
		if err := s.journal.LogCardImport(ctx, actorID, imported); err != nil {
			return imported, err
		}
	}
	return imported, nil
}
