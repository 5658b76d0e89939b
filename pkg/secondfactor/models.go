package secondfactor

import (
	"time"

	"github.com/google/uuid"
)

// State is the lifecycle state of a physical TOTP card.
type State string

const (
	// StateUnassociated means the card exists in stock but is linked to nobody.
	StateUnassociated State = "UNASSOCIATED"
	// StatePendingConfirmation means the card is linked to a helper but the
	// helper has not yet proven possession with a valid code.
	StatePendingConfirmation State = "PENDING_CONFIRMATION"
	// StateConfirmed means the card is linked and usable as a second factor.
	StateConfirmed State = "CONFIRMED"
)

const (
	// Period is the code generation step of the physical cards, in seconds.
	Period = 60
	// ProvisioningTolerance is the wide validation window (in steps) accepted
	// while a card awaits its first confirmation. Cards may have drifted on
	// the shelf.
	ProvisioningTolerance = 30
	// ConfirmedTolerance is the narrow window applied after first
	// confirmation, which limits replay.
	ConfirmedTolerance = 1
)

// Card is a physical one-time-password credential. A card and a helper are
// paired one to one.
type Card struct {
	SerialNumber string     `json:"serial_number"`
	Seed         string     `json:"-"`
	HelperID     *uuid.UUID `json:"helper_id,omitempty"`
	State        State      `json:"state"`
	Tolerance    uint       `json:"tolerance"`
	CreatedAt    time.Time  `json:"created_at"`
	ConfirmedAt  *time.Time `json:"confirmed_at,omitempty"`
}

// CardSeed is one row of an administrative card batch import.
type CardSeed struct {
	SerialNumber string
	Seed         string
}
