package broker

import (
	"context"
	"net/url"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opencivics/simple-mandate/pkg/attestation"
	"github.com/opencivics/simple-mandate/pkg/iam"
	"github.com/opencivics/simple-mandate/pkg/journal"
	"github.com/opencivics/simple-mandate/pkg/mandate"
	"github.com/opencivics/simple-mandate/pkg/pkce"
	"github.com/opencivics/simple-mandate/pkg/procedure"
)

type allowAllActors struct{}

func (allowAllActors) CheckCanCreateMandates(ctx context.Context, helperID, organizationID uuid.UUID) error {
	return nil
}

type acceptAllPasscodes struct{ accept bool }

func (p acceptAllPasscodes) ValidateCode(ctx context.Context, helperID uuid.UUID, code string) (bool, error) {
	return p.accept, nil
}

type stubSecondFactor struct{}

func (stubSecondFactor) HasConfirmed(ctx context.Context, helperID uuid.UUID) (bool, error) {
	return true, nil
}

type brokerFixture struct {
	svc         *Service
	repo        *InMemoryRepository
	mandateRepo *mandate.InMemoryRepository
	now         time.Time
}

const (
	testClientID     = "rp-client"
	testClientSecret = "rp-secret"
	testRedirectURI  = "https://rp.example.org/callback"
	testLogoutURI    = "https://rp.example.org/logged-out"
)

func newFixture(t *testing.T) *brokerFixture {
	t.Helper()
	now := time.Date(2026, 4, 2, 10, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }

	journalSvc := journal.NewServiceWithClock(journal.NewInMemoryRepository(), clock)
	mandateRepo := mandate.NewInMemoryRepository()
	mandateSvc := mandate.NewServiceWithClock(mandateRepo, procedure.DefaultCatalog(),
		attestation.NewServiceWithTemplateHash("salt", "tpl"), journalSvc, allowAllActors{}, clock)
	identitySvc := iam.NewService(iam.NewInMemoryRepository(), stubSecondFactor{})

	repo := NewInMemoryRepository()
	svc := NewServiceWithClock(repo, RelyingParty{
		ClientID:               testClientID,
		ClientSecret:           testClientSecret,
		RedirectURIs:           []string{testRedirectURI},
		PostLogoutRedirectURIs: []string{testLogoutURI},
	}, "https://identity.example.org/authorize", 10*time.Minute,
		mandateSvc, acceptAllPasscodes{accept: true}, identitySvc, journalSvc, clock)

	return &brokerFixture{svc: svc, repo: repo, mandateRepo: mandateRepo, now: now}
}

func (f *brokerFixture) startSession(t *testing.T) uuid.UUID {
	t.Helper()
	ctx := context.Background()
	forward, err := f.svc.Authorize(ctx, AuthorizeParams{
		ClientID:    testClientID,
		RedirectURI: testRedirectURI,
		Scope:       "openid",
		State:       "rp-state",
		Nonce:       "rp-nonce",
	})
	require.NoError(t, err)

	u, err := url.Parse(forward)
	require.NoError(t, err)
	sessionID, err := uuid.Parse(u.Query().Get("session_id"))
	require.NoError(t, err)
	return sessionID
}

func (f *brokerFixture) consentedCode(t *testing.T, sessionID uuid.UUID, procedures []procedure.Code) string {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, f.svc.ResumeWithIdentity(ctx, sessionID, BeneficiaryIdentity{
		Sub:        "sub-42",
		GivenName:  "Jeanne",
		FamilyName: "Martin",
	}))
	redirect, err := f.svc.CompleteConsent(ctx, sessionID, ConsentParams{
		HelperID:       uuid.New(),
		OrganizationID: uuid.New(),
		TOTPCode:       "123456",
		Procedures:     procedures,
		Duration:       mandate.DurationLong,
	})
	require.NoError(t, err)

	u, err := url.Parse(redirect)
	require.NoError(t, err)
	assert.Equal(t, "rp-state", u.Query().Get("state"))
	code := u.Query().Get("code")
	require.NotEmpty(t, code)
	return code
}

func TestAuthorize(t *testing.T) {
	ctx := context.Background()

	t.Run("forwards to identity source with session id", func(t *testing.T) {
		f := newFixture(t)
		sessionID := f.startSession(t)

		session, err := f.repo.GetSession(ctx, sessionID)
		require.NoError(t, err)
		assert.Equal(t, StateAwaitingIdentity, session.State)
		assert.Equal(t, "rp-state", session.OAuthState)
		assert.Equal(t, "rp-nonce", session.Nonce)
		assert.Equal(t, f.now.Add(10*time.Minute), session.ExpiresAt)
	})

	t.Run("rejects untrusted redirect URI without redirecting", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.svc.Authorize(ctx, AuthorizeParams{
			ClientID:    testClientID,
			RedirectURI: "https://evil.example.org/callback",
			State:       "s",
			Nonce:       "n",
		})
		var reqErr InvalidRequestError
		require.ErrorAs(t, err, &reqErr)
	})

	t.Run("rejects unknown client", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.svc.Authorize(ctx, AuthorizeParams{
			ClientID:    "someone-else",
			RedirectURI: testRedirectURI,
			State:       "s",
			Nonce:       "n",
		})
		var reqErr InvalidRequestError
		require.ErrorAs(t, err, &reqErr)
	})

	t.Run("missing state becomes an error redirect to the trusted URI", func(t *testing.T) {
		f := newFixture(t)
		redirect, err := f.svc.Authorize(ctx, AuthorizeParams{
			ClientID:    testClientID,
			RedirectURI: testRedirectURI,
			Nonce:       "n",
		})
		require.NoError(t, err)

		u, err := url.Parse(redirect)
		require.NoError(t, err)
		assert.Equal(t, "rp.example.org", u.Host)
		assert.Equal(t, "invalid_request", u.Query().Get("error"))
	})
}

func TestResumeWithIdentity(t *testing.T) {
	ctx := context.Background()

	t.Run("attaches beneficiary identity once", func(t *testing.T) {
		f := newFixture(t)
		sessionID := f.startSession(t)

		require.NoError(t, f.svc.ResumeWithIdentity(ctx, sessionID, BeneficiaryIdentity{Sub: "sub-42"}))

		// Repeat callbacks are rejected.
		err := f.svc.ResumeWithIdentity(ctx, sessionID, BeneficiaryIdentity{Sub: "sub-43"})
		var stateErr ErrInvalidFlowState
		require.ErrorAs(t, err, &stateErr)

		session, err := f.repo.GetSession(ctx, sessionID)
		require.NoError(t, err)
		assert.Equal(t, "sub-42", session.BeneficiarySub)
	})

	t.Run("rejects callback without sub", func(t *testing.T) {
		f := newFixture(t)
		sessionID := f.startSession(t)

		err := f.svc.ResumeWithIdentity(ctx, sessionID, BeneficiaryIdentity{})
		var reqErr InvalidRequestError
		require.ErrorAs(t, err, &reqErr)
	})
}

func TestCompleteConsent(t *testing.T) {
	ctx := context.Background()

	t.Run("commits the mandate and issues a code", func(t *testing.T) {
		f := newFixture(t)
		sessionID := f.startSession(t)
		f.consentedCode(t, sessionID, []procedure.Code{"argent", "famille"})

		session, err := f.repo.GetSession(ctx, sessionID)
		require.NoError(t, err)
		assert.Equal(t, StateCodeIssued, session.State)
		require.NotNil(t, session.MandateID)

		m, err := f.mandateRepo.GetMandate(ctx, *session.MandateID)
		require.NoError(t, err)
		assert.True(t, m.IsActive(f.now))

		auths, err := f.mandateRepo.FindAuthorizationsByMandate(ctx, *session.MandateID)
		require.NoError(t, err)
		assert.Len(t, auths, 2)
	})

	t.Run("rejects a bad passcode before touching the ledger", func(t *testing.T) {
		f := newFixture(t)
		f.svc.passcodes = acceptAllPasscodes{accept: false}
		sessionID := f.startSession(t)
		require.NoError(t, f.svc.ResumeWithIdentity(ctx, sessionID, BeneficiaryIdentity{Sub: "sub-42"}))

		_, err := f.svc.CompleteConsent(ctx, sessionID, ConsentParams{
			HelperID:       uuid.New(),
			OrganizationID: uuid.New(),
			TOTPCode:       "000000",
			Procedures:     []procedure.Code{"argent"},
			Duration:       mandate.DurationShort,
		})
		var unauthorized UnauthorizedError
		require.ErrorAs(t, err, &unauthorized)

		session, err := f.repo.GetSession(ctx, sessionID)
		require.NoError(t, err)
		assert.Nil(t, session.MandateID)
		assert.Empty(t, session.Code)
	})

	t.Run("rejects consent before the identity callback", func(t *testing.T) {
		f := newFixture(t)
		sessionID := f.startSession(t)

		_, err := f.svc.CompleteConsent(ctx, sessionID, ConsentParams{
			HelperID:       uuid.New(),
			OrganizationID: uuid.New(),
			TOTPCode:       "123456",
			Procedures:     []procedure.Code{"argent"},
			Duration:       mandate.DurationShort,
		})
		var stateErr ErrInvalidFlowState
		require.ErrorAs(t, err, &stateErr)
	})
}

func TestToken(t *testing.T) {
	ctx := context.Background()

	t.Run("exchanges the code exactly once", func(t *testing.T) {
		f := newFixture(t)
		sessionID := f.startSession(t)
		code := f.consentedCode(t, sessionID, []procedure.Code{"argent"})

		resp, err := f.svc.Token(ctx, code, testClientID, testClientSecret, "")
		require.NoError(t, err)
		assert.NotEmpty(t, resp.AccessToken)
		assert.Equal(t, "Bearer", resp.TokenType)
		assert.Equal(t, int((10 * time.Minute).Seconds()), resp.ExpiresIn)

		// Second exchange with the same code must not issue a token.
		_, err = f.svc.Token(ctx, code, testClientID, testClientSecret, "")
		var grantErr InvalidGrantError
		require.ErrorAs(t, err, &grantErr)
	})

	t.Run("rejects a wrong client secret", func(t *testing.T) {
		f := newFixture(t)
		sessionID := f.startSession(t)
		code := f.consentedCode(t, sessionID, []procedure.Code{"argent"})

		_, err := f.svc.Token(ctx, code, testClientID, "wrong", "")
		var clientErr InvalidClientError
		require.ErrorAs(t, err, &clientErr)
	})

	t.Run("rejects an unknown code", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.svc.Token(ctx, "no-such-code", testClientID, testClientSecret, "")
		var grantErr InvalidGrantError
		require.ErrorAs(t, err, &grantErr)
	})
}

func TestTokenPKCE(t *testing.T) {
	ctx := context.Background()

	startWithChallenge := func(t *testing.T, f *brokerFixture, challenge string) uuid.UUID {
		t.Helper()
		forward, err := f.svc.Authorize(ctx, AuthorizeParams{
			ClientID:            testClientID,
			RedirectURI:         testRedirectURI,
			State:               "rp-state",
			Nonce:               "rp-nonce",
			CodeChallenge:       challenge,
			CodeChallengeMethod: "S256",
		})
		require.NoError(t, err)
		u, err := url.Parse(forward)
		require.NoError(t, err)
		sessionID, err := uuid.Parse(u.Query().Get("session_id"))
		require.NoError(t, err)
		return sessionID
	}

	t.Run("accepts the matching verifier", func(t *testing.T) {
		f := newFixture(t)
		verifier, err := pkce.NewVerifier()
		require.NoError(t, err)
		challenge, err := pkce.Challenge(verifier, pkce.MethodS256)
		require.NoError(t, err)

		sessionID := startWithChallenge(t, f, challenge)
		code := f.consentedCode(t, sessionID, []procedure.Code{"argent"})

		resp, err := f.svc.Token(ctx, code, testClientID, testClientSecret, verifier)
		require.NoError(t, err)
		assert.NotEmpty(t, resp.AccessToken)
	})

	t.Run("rejects a wrong or missing verifier", func(t *testing.T) {
		f := newFixture(t)
		verifier, err := pkce.NewVerifier()
		require.NoError(t, err)
		challenge, err := pkce.Challenge(verifier, pkce.MethodS256)
		require.NoError(t, err)

		sessionID := startWithChallenge(t, f, challenge)
		code := f.consentedCode(t, sessionID, []procedure.Code{"argent"})

		wrong, err := pkce.NewVerifier()
		require.NoError(t, err)
		_, err = f.svc.Token(ctx, code, testClientID, testClientSecret, wrong)
		var grantErr InvalidGrantError
		require.ErrorAs(t, err, &grantErr)
	})

	t.Run("redirects on an unsupported challenge method", func(t *testing.T) {
		f := newFixture(t)
		forward, err := f.svc.Authorize(ctx, AuthorizeParams{
			ClientID:            testClientID,
			RedirectURI:         testRedirectURI,
			State:               "rp-state",
			Nonce:               "rp-nonce",
			CodeChallenge:       "anything",
			CodeChallengeMethod: "md5",
		})
		require.NoError(t, err)
		u, err := url.Parse(forward)
		require.NoError(t, err)
		assert.Equal(t, "invalid_request", u.Query().Get("error"))
	})
}

func TestUserinfo(t *testing.T) {
	ctx := context.Background()

	t.Run("serves exactly the consented procedures", func(t *testing.T) {
		f := newFixture(t)
		sessionID := f.startSession(t)
		code := f.consentedCode(t, sessionID, []procedure.Code{"argent", "famille"})
		resp, err := f.svc.Token(ctx, code, testClientID, testClientSecret, "")
		require.NoError(t, err)

		claims, err := f.svc.Userinfo(ctx, resp.AccessToken)
		require.NoError(t, err)
		assert.Equal(t, "sub-42", claims.Sub)
		assert.Equal(t, "Jeanne", claims.GivenName)
		assert.ElementsMatch(t, []string{"argent", "famille"}, claims.Procedures)

		// Userinfo can be served repeatedly on the same token.
		_, err = f.svc.Userinfo(ctx, resp.AccessToken)
		require.NoError(t, err)
	})

	t.Run("does not leak procedures from the beneficiary's other mandates", func(t *testing.T) {
		f := newFixture(t)

		first := f.startSession(t)
		firstCode := f.consentedCode(t, first, []procedure.Code{"argent", "logement"})
		_, err := f.svc.Token(ctx, firstCode, testClientID, testClientSecret, "")
		require.NoError(t, err)

		second := f.startSession(t)
		secondCode := f.consentedCode(t, second, []procedure.Code{"famille"})
		resp, err := f.svc.Token(ctx, secondCode, testClientID, testClientSecret, "")
		require.NoError(t, err)

		claims, err := f.svc.Userinfo(ctx, resp.AccessToken)
		require.NoError(t, err)
		assert.Equal(t, []string{"famille"}, claims.Procedures)
	})

	t.Run("rejects an unknown token", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.svc.Userinfo(ctx, "bogus")
		var unauthorized UnauthorizedError
		require.ErrorAs(t, err, &unauthorized)
	})
}

func TestEndSession(t *testing.T) {
	ctx := context.Background()

	t.Run("redirects to an allow-listed target and ends the session", func(t *testing.T) {
		f := newFixture(t)
		sessionID := f.startSession(t)

		redirect, err := f.svc.EndSession(ctx, sessionID, testLogoutURI)
		require.NoError(t, err)
		assert.Equal(t, testLogoutURI, redirect)

		session, err := f.repo.GetSession(ctx, sessionID)
		require.NoError(t, err)
		assert.Equal(t, StateEnded, session.State)
	})

	t.Run("rejects a non-allow-listed target", func(t *testing.T) {
		f := newFixture(t)
		sessionID := f.startSession(t)

		_, err := f.svc.EndSession(ctx, sessionID, "https://rp.example.org/other")
		var reqErr InvalidRequestError
		require.ErrorAs(t, err, &reqErr)
	})
}

func TestSessionTTL(t *testing.T) {
	ctx := context.Background()

	t.Run("a lapsed session rejects the identity callback", func(t *testing.T) {
		f := newFixture(t)
		sessionID := f.startSession(t)

		f.svc.now = func() time.Time { return f.now.Add(11 * time.Minute) }
		err := f.svc.ResumeWithIdentity(ctx, sessionID, BeneficiaryIdentity{Sub: "sub-42"})
		var stateErr ErrInvalidFlowState
		require.ErrorAs(t, err, &stateErr)
		assert.Equal(t, StateEnded, stateErr.State)
	})

	t.Run("a lapsed token is unauthorized", func(t *testing.T) {
		f := newFixture(t)
		sessionID := f.startSession(t)
		code := f.consentedCode(t, sessionID, []procedure.Code{"argent"})
		resp, err := f.svc.Token(ctx, code, testClientID, testClientSecret, "")
		require.NoError(t, err)

		f.svc.now = func() time.Time { return f.now.Add(11 * time.Minute) }
		_, err = f.svc.Userinfo(ctx, resp.AccessToken)
		var unauthorized UnauthorizedError
		require.ErrorAs(t, err, &unauthorized)
	})

	t.Run("purge deletes only lapsed sessions", func(t *testing.T) {
		f := newFixture(t)
		f.startSession(t)
		f.startSession(t)

		deleted, err := f.svc.PurgeExpired(ctx)
		require.NoError(t, err)
		assert.Zero(t, deleted)

		f.svc.now = func() time.Time { return f.now.Add(11 * time.Minute) }
		deleted, err = f.svc.PurgeExpired(ctx)
		require.NoError(t, err)
		assert.EqualValues(t, 2, deleted)
	})
}
