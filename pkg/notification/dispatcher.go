package notification

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// HelperDirectory resolves a helper id to a contact address.
type HelperDirectory interface {
	HelperEmail(ctx context.Context, helperID uuid.UUID) (string, error)
}

// Dispatcher turns post-commit ledger events into notices. It is attached to
// the mandate and second-factor services, which call it only after their
// transaction commits; every failure here is logged and swallowed so delivery
// problems never surface to the caller.
type Dispatcher struct {
	manager *NotificationManager
	helpers HelperDirectory
}

// NewDispatcher creates a dispatcher over the given manager and directory.
func NewDispatcher(manager *NotificationManager, helpers HelperDirectory) *Dispatcher {
	return &Dispatcher{manager: manager, helpers: helpers}
}

// MandateRevoked sends the revocation confirmation to the helper who revoked
// the mandate.
func (d *Dispatcher) MandateRevoked(ctx context.Context, actorID, mandateID string, revokedAt time.Time) {
	to, ok := d.resolveHelper(ctx, actorID, "mandate revocation notice")
	if !ok {
		return
	}
	err := d.manager.Send(MandateRevoked, EmailSystem, NotificationData{
		To: to,
		Data: map[string]string{
			"MandateID": mandateID,
			"RevokedAt": revokedAt.Format("02/01/2006"),
		},
	})
	if err != nil {
		slog.Warn("failed to send mandate revocation notice", "mandate_id", mandateID, "err", err)
	}
}

// CardConfirmed sends the pairing confirmation to the helper whose card was
// just activated.
func (d *Dispatcher) CardConfirmed(ctx context.Context, helperID, serialNumber string) {
	to, ok := d.resolveHelper(ctx, helperID, "card confirmation notice")
	if !ok {
		return
	}
	err := d.manager.Send(CardConfirmed, EmailSystem, NotificationData{
		To: to,
		Data: map[string]string{
			"SerialNumber": serialNumber,
		},
	})
	if err != nil {
		slog.Warn("failed to send card confirmation notice", "serial_number", serialNumber, "err", err)
	}
}

func (d *Dispatcher) resolveHelper(ctx context.Context, helperID, notice string) (string, bool) {
	id, err := uuid.Parse(helperID)
	if err != nil {
		slog.Warn("skipping notice for non-helper actor", "notice", notice, "actor_id", helperID)
		return "", false
	}
	email, err := d.helpers.HelperEmail(ctx, id)
	if err != nil {
		slog.Warn("failed to resolve helper email", "notice", notice, "helper_id", helperID, "err", err)
		return "", false
	}
	if email == "" {
		slog.Warn("helper has no email on file", "notice", notice, "helper_id", helperID)
		return "", false
	}
	return email, true
}
