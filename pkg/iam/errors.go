package iam

import "fmt"

// ErrHelperNotFound is returned when no helper matches the given id.
type ErrHelperNotFound struct {
	ID string
}

func (e ErrHelperNotFound) Error() string {
	return fmt.Sprintf("no helper found with id %s", e.ID)
}

// ErrOrganizationNotFound is returned when no organization matches the id.
type ErrOrganizationNotFound struct {
	ID string
}

func (e ErrOrganizationNotFound) Error() string {
	return fmt.Sprintf("no organization found with id %s", e.ID)
}

// ErrBeneficiaryNotFound is returned when no beneficiary matches the subject.
type ErrBeneficiaryNotFound struct {
	Sub string
}

func (e ErrBeneficiaryNotFound) Error() string {
	return fmt.Sprintf("no beneficiary found with sub %s", e.Sub)
}

// ErrNotPermitted is returned when a helper lacks the capability an operation
// requires. The message is safe to surface to the operator.
type ErrNotPermitted struct {
	Detail string
}

func (e ErrNotPermitted) Error() string {
	return e.Detail
}
