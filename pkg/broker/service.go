package broker

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log/slog"
	"net/url"
	"time"

	"github.com/google/uuid"

	"github.com/opencivics/simple-mandate/pkg/iam"
	"github.com/opencivics/simple-mandate/pkg/journal"
	"github.com/opencivics/simple-mandate/pkg/mandate"
	"github.com/opencivics/simple-mandate/pkg/pkce"
)

// MandateCreator commits the consented delegation. Implemented by
// mandate.Service.
type MandateCreator interface {
	CreateMandate(ctx context.Context, params mandate.CreateMandateParams) (*mandate.Receipt, error)
	GetMandate(ctx context.Context, id uuid.UUID) (mandate.Mandate, []mandate.Authorization, error)
}

// PasscodeChecker verifies the helper's second-factor passcode at the
// consent step. Implemented by secondfactor.Service.
type PasscodeChecker interface {
	ValidateCode(ctx context.Context, helperID uuid.UUID, code string) (bool, error)
}

// IdentityRegistry records and serves beneficiary identities asserted by the
// external identity source. Implemented by iam.Service.
type IdentityRegistry interface {
	RegisterBeneficiary(ctx context.Context, beneficiary iam.Beneficiary) error
	GetBeneficiary(ctx context.Context, sub string) (iam.Beneficiary, error)
}

// Service implements the authorization code flow against a single configured
// relying party. All cross-request state lives in the session repository.
type Service struct {
	repo              Repository
	relyingParty      RelyingParty
	identitySourceURL string
	sessionTTL        time.Duration
	mandates          MandateCreator
	passcodes         PasscodeChecker
	identities        IdentityRegistry
	journal           *journal.Service
	now               func() time.Time
}

// NewService creates a broker for the given relying party.
func NewService(repo Repository, rp RelyingParty, identitySourceURL string, sessionTTL time.Duration,
	mandates MandateCreator, passcodes PasscodeChecker, identities IdentityRegistry, journalSvc *journal.Service) *Service {
	return &Service{
		repo:              repo,
		relyingParty:      rp,
		identitySourceURL: identitySourceURL,
		sessionTTL:        sessionTTL,
		mandates:          mandates,
		passcodes:         passcodes,
		identities:        identities,
		journal:           journalSvc,
		now:               func() time.Time { return time.Now().UTC() },
	}
}

// NewServiceWithClock creates a broker with a fixed clock, for tests.
func NewServiceWithClock(repo Repository, rp RelyingParty, identitySourceURL string, sessionTTL time.Duration,
	mandates MandateCreator, passcodes PasscodeChecker, identities IdentityRegistry, journalSvc *journal.Service,
	now func() time.Time) *Service {
	s := NewService(repo, rp, identitySourceURL, sessionTTL, mandates, passcodes, identities, journalSvc)
	s.now = now
	return s
}

// effectiveState applies the lazy TTL check: a lapsed session behaves as
// ENDED whatever its stored state says.
func (s *Service) effectiveState(session ConnectionSession) State {
	if session.Expired(s.now()) {
		return StateEnded
	}
	return session.State
}

// Authorize starts a flow. Protocol errors with a trusted redirect URI are
// reported as an OAuth2 error redirect, not as a Go error; only an untrusted
// redirect URI or unknown client aborts with InvalidRequestError.
func (s *Service) Authorize(ctx context.Context, params AuthorizeParams) (string, error) {
	if params.RedirectURI == "" || !s.relyingParty.TrustsRedirectURI(params.RedirectURI) {
		return "", InvalidRequestError{Detail: "redirect_uri missing or not registered"}
	}
	if params.ClientID != s.relyingParty.ClientID {
		return "", InvalidRequestError{Detail: "unknown client_id"}
	}
	if params.State == "" || params.Nonce == "" {
		return errorRedirect(params.RedirectURI, "invalid_request", "state and nonce are required", params.State), nil
	}

	if params.CodeChallenge != "" && !pkce.ValidMethod(params.CodeChallengeMethod) {
		return errorRedirect(params.RedirectURI, "invalid_request", "unsupported code_challenge_method", params.State), nil
	}

	now := s.now()
	session := ConnectionSession{
		ID:              uuid.New(),
		State:           StateAwaitingIdentity,
		Nonce:           params.Nonce,
		OAuthState:      params.State,
		RedirectURI:     params.RedirectURI,
		CodeChallenge:   params.CodeChallenge,
		ChallengeMethod: params.CodeChallengeMethod,
		CreatedAt:       now,
		ExpiresAt:       now.Add(s.sessionTTL),
	}
	if err := s.repo.CreateSession(ctx, session); err != nil {
		return "", fmt.Errorf("failed to create connection session: %w", err)
	}
	if err := s.journal.LogConnection(ctx, params.ClientID, session.ID.String()); err != nil {
		return "", err
	}

	forward, err := url.Parse(s.identitySourceURL)
	if err != nil {
		return "", fmt.Errorf("invalid identity source URL: %w", err)
	}
	q := forward.Query()
	q.Set("session_id", session.ID.String())
	q.Set("nonce", session.Nonce)
	forward.RawQuery = q.Encode()

	slog.Info("Authorization flow started", "session", session.ID, "client", params.ClientID)
	return forward.String(), nil
}

// ResumeWithIdentity attaches the identity asserted by the external identity
// source. The transition is not re-entrant: a session already carrying an
// identity, or past AWAITING_IDENTITY, rejects the callback.
func (s *Service) ResumeWithIdentity(ctx context.Context, sessionID uuid.UUID, identity BeneficiaryIdentity) error {
	session, err := s.repo.GetSession(ctx, sessionID)
	if err != nil {
		return err
	}
	if s.effectiveState(session) != StateAwaitingIdentity || session.BeneficiarySub != "" {
		return ErrInvalidFlowState{SessionID: sessionID.String(), State: s.effectiveState(session)}
	}
	if identity.Sub == "" {
		return InvalidRequestError{Detail: "identity callback without sub"}
	}

	err = s.identities.RegisterBeneficiary(ctx, iam.Beneficiary{
		Sub:        identity.Sub,
		GivenName:  identity.GivenName,
		FamilyName: identity.FamilyName,
		Birthdate:  identity.Birthdate,
		Email:      identity.Email,
		Phone:      identity.Phone,
	})
	if err != nil {
		return fmt.Errorf("failed to register beneficiary: %w", err)
	}

	session.BeneficiarySub = identity.Sub
	return s.repo.UpdateSession(ctx, session)
}

// CompleteConsent is the recap step: the helper confirms the delegation with
// a second-factor passcode, the mandate commits and the authorization code
// is issued. Returns the redirect back to the relying party.
func (s *Service) CompleteConsent(ctx context.Context, sessionID uuid.UUID, params ConsentParams) (string, error) {
	session, err := s.repo.GetSession(ctx, sessionID)
	if err != nil {
		return "", err
	}
	if s.effectiveState(session) != StateAwaitingIdentity || session.BeneficiarySub == "" {
		return "", ErrInvalidFlowState{SessionID: sessionID.String(), State: s.effectiveState(session)}
	}

	ok, err := s.passcodes.ValidateCode(ctx, params.HelperID, params.TOTPCode)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", UnauthorizedError{Detail: "second factor passcode rejected"}
	}

	receipt, err := s.mandates.CreateMandate(ctx, mandate.CreateMandateParams{
		OrganizationID: params.OrganizationID,
		BeneficiarySub: session.BeneficiarySub,
		Procedures:     params.Procedures,
		Duration:       params.Duration,
		Remote:         params.Remote,
		ActorID:        params.HelperID,
		RenewalToken:   session.ID.String(),
	})
	if err != nil {
		return "", err
	}

	code, err := newOpaqueToken()
	if err != nil {
		return "", err
	}

	session.OrganizationID = params.OrganizationID
	session.HelperID = params.HelperID
	session.Procedures = params.Procedures
	session.DurationKeyword = params.Duration
	session.Remote = params.Remote
	session.Code = code
	session.CodeConsumed = false
	session.MandateID = &receipt.Mandate.ID
	session.State = StateCodeIssued
	if err := s.repo.UpdateSession(ctx, session); err != nil {
		return "", err
	}

	slog.Info("Consent completed", "session", session.ID, "mandate", receipt.Mandate.ID)

	redirect, err := url.Parse(session.RedirectURI)
	if err != nil {
		return "", fmt.Errorf("invalid redirect URI on session %s: %w", session.ID, err)
	}
	q := redirect.Query()
	q.Set("code", code)
	q.Set("state", session.OAuthState)
	redirect.RawQuery = q.Encode()
	return redirect.String(), nil
}

// Token exchanges an authorization code for an opaque access token. The code
// is consumed atomically: a second exchange with the same code fails with
// InvalidGrantError. When the authorize request carried a code challenge the
// exchange must present the matching verifier. The token TTL is the remaining
// session TTL.
func (s *Service) Token(ctx context.Context, code, clientID, clientSecret, codeVerifier string) (TokenResponse, error) {
	if clientID != s.relyingParty.ClientID || clientSecret != s.relyingParty.ClientSecret {
		return TokenResponse{}, InvalidClientError{Detail: "client authentication failed"}
	}

	session, err := s.repo.ConsumeCode(ctx, code)
	if err != nil {
		return TokenResponse{}, err
	}
	now := s.now()
	if session.Expired(now) || session.State != StateCodeIssued {
		return TokenResponse{}, InvalidGrantError{Detail: "authorization code no longer valid"}
	}
	if session.CodeChallenge != "" {
		if err := pkce.Verify(codeVerifier, session.CodeChallenge, pkce.Method(session.ChallengeMethod)); err != nil {
			return TokenResponse{}, InvalidGrantError{Detail: "code verifier rejected"}
		}
	}

	token, err := newOpaqueToken()
	if err != nil {
		return TokenResponse{}, err
	}
	session.AccessToken = token
	session.State = StateTokenExchanged
	if err := s.repo.UpdateSession(ctx, session); err != nil {
		return TokenResponse{}, err
	}

	return TokenResponse{
		AccessToken: token,
		TokenType:   "Bearer",
		ExpiresIn:   int(session.ExpiresAt.Sub(now).Seconds()),
	}, nil
}

// Userinfo serves claims derived strictly from the mandate committed in this
// session: beneficiary attributes plus the consented procedures.
func (s *Service) Userinfo(ctx context.Context, accessToken string) (Claims, error) {
	session, err := s.repo.GetSessionByAccessToken(ctx, accessToken)
	if err != nil {
		return Claims{}, UnauthorizedError{Detail: "unknown access token"}
	}
	state := s.effectiveState(session)
	if state != StateTokenExchanged && state != StateUserinfoServed {
		return Claims{}, UnauthorizedError{Detail: "access token no longer valid"}
	}
	if session.MandateID == nil {
		return Claims{}, UnauthorizedError{Detail: "no mandate committed for this session"}
	}

	_, auths, err := s.mandates.GetMandate(ctx, *session.MandateID)
	if err != nil {
		return Claims{}, fmt.Errorf("failed to load mandate for session %s: %w", session.ID, err)
	}
	beneficiary, err := s.identities.GetBeneficiary(ctx, session.BeneficiarySub)
	if err != nil {
		return Claims{}, fmt.Errorf("failed to load beneficiary for session %s: %w", session.ID, err)
	}

	procedures := make([]string, 0, len(auths))
	for _, a := range auths {
		if !a.IsRevoked() {
			procedures = append(procedures, string(a.Procedure))
		}
	}

	session.State = StateUserinfoServed
	if err := s.repo.UpdateSession(ctx, session); err != nil {
		return Claims{}, err
	}

	return Claims{
		Sub:        beneficiary.Sub,
		GivenName:  beneficiary.GivenName,
		FamilyName: beneficiary.FamilyName,
		Birthdate:  beneficiary.Birthdate,
		Email:      beneficiary.Email,
		Phone:      beneficiary.Phone,
		Procedures: procedures,
	}, nil
}

// EndSession invalidates the session and returns the post-logout redirect.
// The target must match the configured allow-list exactly.
func (s *Service) EndSession(ctx context.Context, sessionID uuid.UUID, postLogoutRedirectURI string) (string, error) {
	if !s.relyingParty.AllowsPostLogoutRedirect(postLogoutRedirectURI) {
		return "", InvalidRequestError{Detail: "post_logout_redirect_uri not allow-listed"}
	}

	session, err := s.repo.GetSession(ctx, sessionID)
	if err == nil {
		session.State = StateEnded
		session.AccessToken = ""
		if err := s.repo.UpdateSession(ctx, session); err != nil {
			return "", err
		}
	}
	return postLogoutRedirectURI, nil
}

// PurgeExpired deletes every lapsed session. Idempotent; meant for the
// scheduled purge job.
func (s *Service) PurgeExpired(ctx context.Context) (int64, error) {
	deleted, err := s.repo.DeleteExpiredBefore(ctx, s.now())
	if err != nil {
		return 0, err
	}
	if deleted > 0 {
		slog.Info("Expired connection sessions purged", "count", deleted)
	}
	return deleted, nil
}

func newOpaqueToken() (string, error) {
	bytes := make([]byte, 32)
	if _, err := rand.Read(bytes); err != nil {
		return "", fmt.Errorf("failed to generate random token: %w", err)
	}
	return hex.EncodeToString(bytes), nil
}

func errorRedirect(redirectURI, code, description, state string) string {
	u, err := url.Parse(redirectURI)
	if err != nil {
		return redirectURI
	}
	q := u.Query()
	q.Set("error", code)
	q.Set("error_description", description)
	if state != "" {
		q.Set("state", state)
	}
	u.RawQuery = q.Encode()
	return u.String()
}
