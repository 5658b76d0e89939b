package broker

import (
	"time"

	"github.com/google/uuid"

	"github.com/opencivics/simple-mandate/pkg/mandate"
	"github.com/opencivics/simple-mandate/pkg/procedure"
)

// State tracks where a connection session is in the authorization code flow.
type State string

const (
	StateInit             State = "INIT"
	StateAwaitingIdentity State = "AWAITING_IDENTITY"
	StateCodeIssued       State = "CODE_ISSUED"
	StateTokenExchanged   State = "TOKEN_EXCHANGED"
	StateUserinfoServed   State = "USERINFO_SERVED"
	StateEnded            State = "ENDED"
)

// ConnectionSession is the ephemeral server-side record correlating one
// in-progress flow. It lapses by TTL; expiry is checked lazily on access.
type ConnectionSession struct {
	ID              uuid.UUID
	OrganizationID  uuid.UUID
	HelperID        uuid.UUID
	Procedures      []procedure.Code
	DurationKeyword mandate.DurationKeyword
	Remote          bool
	State           State
	Nonce           string
	OAuthState      string
	RedirectURI     string
	AccessToken     string
	Code            string
	CodeConsumed    bool
	CodeChallenge   string
	ChallengeMethod string
	BeneficiarySub  string
	MandateID       *uuid.UUID
	CreatedAt       time.Time
	ExpiresAt       time.Time
}

// Expired reports whether the session has outlived its TTL.
func (s ConnectionSession) Expired(now time.Time) bool {
	return !now.Before(s.ExpiresAt)
}

// RelyingParty is the single configured OAuth2 client of the broker.
type RelyingParty struct {
	ClientID               string
	ClientSecret           string
	RedirectURIs           []string
	PostLogoutRedirectURIs []string
}

// TrustsRedirectURI reports whether uri is one of the registered redirect
// URIs. Exact string match, no prefix logic.
func (rp RelyingParty) TrustsRedirectURI(uri string) bool {
	for _, allowed := range rp.RedirectURIs {
		if uri == allowed {
			return true
		}
	}
	return false
}

// AllowsPostLogoutRedirect reports whether uri is on the post-logout
// allow-list. Exact match only, anything else is rejected.
func (rp RelyingParty) AllowsPostLogoutRedirect(uri string) bool {
	for _, allowed := range rp.PostLogoutRedirectURIs {
		if uri == allowed {
			return true
		}
	}
	return false
}

// AuthorizeParams carries the query parameters of an authorize request.
type AuthorizeParams struct {
	ClientID            string
	RedirectURI         string
	Scope               string
	State               string
	Nonce               string
	ACRValues           string
	CodeChallenge       string
	CodeChallengeMethod string
}

// BeneficiaryIdentity is the identity asserted by the external identity
// source on callback.
type BeneficiaryIdentity struct {
	Sub        string
	GivenName  string
	FamilyName string
	Birthdate  string
	Email      string
	Phone      string
}

// ConsentParams carries the recap-screen confirmation: who is granting what,
// for how long, proven by a second-factor passcode.
type ConsentParams struct {
	HelperID       uuid.UUID
	OrganizationID uuid.UUID
	TOTPCode       string
	Procedures     []procedure.Code
	Duration       mandate.DurationKeyword
	Remote         bool
}

// TokenResponse is the JSON body of a successful token exchange.
type TokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int    `json:"expires_in"`
}

// Claims is the userinfo payload: beneficiary attributes plus exactly the
// procedures consented in this session's mandate.
type Claims struct {
	Sub        string   `json:"sub"`
	GivenName  string   `json:"given_name"`
	FamilyName string   `json:"family_name"`
	Birthdate  string   `json:"birthdate,omitempty"`
	Email      string   `json:"email,omitempty"`
	Phone      string   `json:"phone,omitempty"`
	Procedures []string `json:"procedures"`
}
