package broker

import "fmt"

// InvalidRequestError reports missing or malformed authorize parameters. It
// maps to an OAuth2 error redirect when the redirect URI is trusted, and to
// a plain 400 otherwise.
type InvalidRequestError struct {
	Detail string
}

func (e InvalidRequestError) Error() string {
	return fmt.Sprintf("invalid_request: %s", e.Detail)
}

// InvalidGrantError reports an unknown, expired or already consumed
// authorization code.
type InvalidGrantError struct {
	Detail string
}

func (e InvalidGrantError) Error() string {
	return fmt.Sprintf("invalid_grant: %s", e.Detail)
}

// InvalidClientError reports failed client authentication on the token
// endpoint.
type InvalidClientError struct {
	Detail string
}

func (e InvalidClientError) Error() string {
	return fmt.Sprintf("invalid_client: %s", e.Detail)
}

// UnauthorizedError reports an unknown or expired access token on userinfo.
type UnauthorizedError struct {
	Detail string
}

func (e UnauthorizedError) Error() string {
	return fmt.Sprintf("unauthorized: %s", e.Detail)
}

// ErrSessionNotFound is returned when no connection session matches.
type ErrSessionNotFound struct {
	ID string
}

func (e ErrSessionNotFound) Error() string {
	return fmt.Sprintf("connection session not found: %s", e.ID)
}

// ErrInvalidFlowState is returned when an operation arrives in a flow state
// that does not expect it, including repeat identity callbacks.
type ErrInvalidFlowState struct {
	SessionID string
	State     State
}

func (e ErrInvalidFlowState) Error() string {
	return fmt.Sprintf("connection session %s does not accept this operation in state %s", e.SessionID, e.State)
}
