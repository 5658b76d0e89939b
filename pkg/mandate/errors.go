package mandate

import (
	"fmt"
	"strings"

	"github.com/opencivics/simple-mandate/pkg/procedure"
)

// ValidationError is returned on bad or missing input. Caller-fixable.
type ValidationError struct {
	Detail string
}

func (e ValidationError) Error() string {
	return e.Detail
}

// NewUnknownProceduresError builds the validation error for codes outside the
// catalog.
func NewUnknownProceduresError(unknown []procedure.Code) ValidationError {
	codes := make([]string, len(unknown))
	for i, c := range unknown {
		codes[i] = string(c)
	}
	return ValidationError{Detail: fmt.Sprintf("unknown procedure codes: %s", strings.Join(codes, ", "))}
}

// ErrMandateNotFound is returned when no mandate matches the given id.
type ErrMandateNotFound struct {
	ID string
}

func (e ErrMandateNotFound) Error() string {
	return fmt.Sprintf("no mandate found with id %s", e.ID)
}

// ErrAuthorizationNotFound is returned when no authorization matches the id.
type ErrAuthorizationNotFound struct {
	ID string
}

func (e ErrAuthorizationNotFound) Error() string {
	return fmt.Sprintf("no authorization found with id %s", e.ID)
}

// ErrTransferConflict is returned when moving a mandate would leave the
// target organization with two simultaneously active delegations for the same
// beneficiary and procedure.
type ErrTransferConflict struct {
	MandateID string
}

func (e ErrTransferConflict) Error() string {
	return fmt.Sprintf("mandate %s conflicts with an active mandate in the target organization", e.MandateID)
}

// TransactionError wraps a storage-level failure. The enclosing unit has been
// rolled back in full; idempotent callers may retry.
type TransactionError struct {
	Op  string
	Err error
}

func (e TransactionError) Error() string {
	return fmt.Sprintf("transaction failed during %s: %v", e.Op, e.Err)
}

func (e TransactionError) Unwrap() error {
	return e.Err
}
