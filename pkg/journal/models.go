package journal

import (
	"time"

	"github.com/google/uuid"
)

// Action identifies the kind of state change a journal entry records.
type Action string

const (
	ActionConnection            Action = "connection"
	ActionAttestationCreation   Action = "create_attestation"
	ActionAuthorizationCreation Action = "create_autorisation"
	ActionAuthorizationCancel   Action = "cancel_autorisation"
	ActionMandateCancel         Action = "cancel_mandat"
	ActionMandateTransfer       Action = "transfert_mandat"
	ActionCardAssociation       Action = "card_association"
	ActionCardConfirmation      Action = "card_validation"
	ActionCardDissociation      Action = "card_dissociation"
	ActionCardImport            Action = "toitp_card_import"
	ActionCorrelationIssue      Action = "correlation_issue"
)

// Entry is one append-only journal record. Entries are never updated or
// deleted once written.
type Entry struct {
	ID        uuid.UUID      `json:"id"`
	Action    Action         `json:"action"`
	ActorID   string         `json:"actor_id"`
	Timestamp time.Time      `json:"timestamp"`
	Payload   map[string]any `json:"payload,omitempty"`
}
