// Package pkce implements the Proof Key for Code Exchange check (RFC 7636).
// The broker applies it when the relying party sends a code challenge on the
// authorization request; public clients use it to bind the code to the
// client that requested it.
package pkce

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"strings"
)

// Method is a PKCE code challenge method.
type Method string

const (
	MethodPlain Method = "plain"
	MethodS256  Method = "S256"
)

// ValidMethod reports whether the string names a supported challenge method.
func ValidMethod(method string) bool {
	return method == string(MethodPlain) || method == string(MethodS256)
}

// NewVerifier returns a fresh random code verifier: 32 random bytes,
// base64url encoded without padding, which yields the RFC minimum of 43
// characters.
func NewVerifier() (string, error) {
	bytes := make([]byte, 32)
	if _, err := rand.Read(bytes); err != nil {
		return "", fmt.Errorf("failed to generate code verifier: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(bytes), nil
}

// Challenge derives the code challenge for a verifier under the given method.
func Challenge(verifier string, method Method) (string, error) {
	switch method {
	case MethodPlain:
		return verifier, nil
	case MethodS256:
		hash := sha256.Sum256([]byte(verifier))
		return base64.RawURLEncoding.EncodeToString(hash[:]), nil
	default:
		return "", fmt.Errorf("unsupported challenge method: %s", method)
	}
}

// Verify checks a code verifier against the challenge recorded at
// authorization time. It enforces the RFC 7636 verifier length and character
// set before comparing.
func Verify(verifier, challenge string, method Method) error {
	if verifier == "" {
		return fmt.Errorf("code verifier is required")
	}
	if challenge == "" {
		return fmt.Errorf("code challenge is required")
	}
	if len(verifier) < 43 || len(verifier) > 128 {
		return fmt.Errorf("code verifier must be between 43 and 128 characters")
	}
	if !validVerifierCharset(verifier) {
		return fmt.Errorf("code verifier contains invalid characters")
	}

	expected, err := Challenge(verifier, method)
	if err != nil {
		return err
	}
	if expected != challenge {
		return fmt.Errorf("code verifier does not match challenge")
	}
	return nil
}

func validVerifierCharset(verifier string) bool {
	const allowed = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789-._~"
	for _, r := range verifier {
		if !strings.ContainsRune(allowed, r) {
			return false
		}
	}
	return true
}
