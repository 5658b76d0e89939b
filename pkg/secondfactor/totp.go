package secondfactor

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
)

// CodeValidator abstracts the one-time-password scheme of the physical cards
// so the concrete credential format stays swappable and testable.
type CodeValidator interface {
	GenerateCode(seed string, at time.Time) (string, error)
	VerifyCode(seed, code string, tolerance uint, at time.Time) (bool, error)
}

// TOTPValidator implements CodeValidator with RFC 6238 TOTP, matching the
// parameters burned into the cards: 60 second period, six digits, SHA-1.
type TOTPValidator struct{}

// NewTOTPValidator creates the production code validator.
func NewTOTPValidator() TOTPValidator {
	return TOTPValidator{}
}

func validateOpts(tolerance uint) totp.ValidateOpts {
	return totp.ValidateOpts{
		Period:    Period,
		Skew:      tolerance,
		Digits:    otp.DigitsSix,
		Algorithm: otp.AlgorithmSHA1,
	}
}

// GenerateCode returns the code the card displays at the given time.
func (TOTPValidator) GenerateCode(seed string, at time.Time) (string, error) {
	code, err := totp.GenerateCodeCustom(seed, at.UTC(), validateOpts(0))
	if err != nil {
		slog.Error("Failed to generate totp passcode", "error", err)
		return "", fmt.Errorf("failed to generate passcode: %w", err)
	}
	return code, nil
}

// VerifyCode checks a code against the seed within tolerance steps around at.
func (TOTPValidator) VerifyCode(seed, code string, tolerance uint, at time.Time) (bool, error) {
	valid, err := totp.ValidateCustom(code, seed, at.UTC(), validateOpts(tolerance))
	if err != nil {
		slog.Error("Failed to validate totp passcode", "error", err)
		return false, fmt.Errorf("failed to validate passcode: %w", err)
	}
	return valid, nil
}
