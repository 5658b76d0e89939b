package secondfactor

import "fmt"

// ErrCardNotFound is returned when no card matches the given serial number.
type ErrCardNotFound struct {
	SerialNumber string
}

func (e ErrCardNotFound) Error() string {
	return fmt.Sprintf("no card found with serial number %s", e.SerialNumber)
}

// ErrCardConflict is returned when an association would break the 1:1 pairing
// between a card and a helper. No mutation happens when it is returned.
type ErrCardConflict struct {
	SerialNumber string
	Detail       string
}

func (e ErrCardConflict) Error() string {
	return fmt.Sprintf("card %s: %s", e.SerialNumber, e.Detail)
}

// ErrInvalidPasscode is returned when a confirmation code does not validate
// against the card seed.
type ErrInvalidPasscode struct {
	SerialNumber string
}

func (e ErrInvalidPasscode) Error() string {
	return fmt.Sprintf("invalid passcode for card %s", e.SerialNumber)
}

// ErrInvalidState is returned when an operation is attempted on a card in the
// wrong lifecycle state.
type ErrInvalidState struct {
	SerialNumber string
	State        State
}

func (e ErrInvalidState) Error() string {
	return fmt.Sprintf("card %s is in state %s", e.SerialNumber, e.State)
}
