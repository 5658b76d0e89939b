package attestation

import "fmt"

// IntegrityMismatchError is returned when a stored attestation hash does not
// match the digest recomputed from the mandate facts. Callers log and flag the
// mismatch; it is not fatal to the request that triggered the check.
type IntegrityMismatchError struct {
	MandateID string
}

func (e IntegrityMismatchError) Error() string {
	return fmt.Sprintf("attestation hash mismatch for mandate %s", e.MandateID)
}
