package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opencivics/simple-mandate/pkg/attestation"
	"github.com/opencivics/simple-mandate/pkg/broker"
	"github.com/opencivics/simple-mandate/pkg/iam"
	"github.com/opencivics/simple-mandate/pkg/journal"
	"github.com/opencivics/simple-mandate/pkg/mandate"
	"github.com/opencivics/simple-mandate/pkg/procedure"
)

type allowAllActors struct{}

func (allowAllActors) CheckCanCreateMandates(ctx context.Context, helperID, organizationID uuid.UUID) error {
	return nil
}

type acceptAllPasscodes struct{}

func (acceptAllPasscodes) ValidateCode(ctx context.Context, helperID uuid.UUID, code string) (bool, error) {
	return true, nil
}

type stubSecondFactor struct{}

func (stubSecondFactor) HasConfirmed(ctx context.Context, helperID uuid.UUID) (bool, error) {
	return true, nil
}

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	clock := func() time.Time { return time.Date(2026, 4, 2, 10, 0, 0, 0, time.UTC) }

	journalSvc := journal.NewServiceWithClock(journal.NewInMemoryRepository(), clock)
	mandateSvc := mandate.NewServiceWithClock(mandate.NewInMemoryRepository(), procedure.DefaultCatalog(),
		attestation.NewServiceWithTemplateHash("salt", "tpl"), journalSvc, allowAllActors{}, clock)
	identitySvc := iam.NewService(iam.NewInMemoryRepository(), stubSecondFactor{})

	svc := broker.NewServiceWithClock(broker.NewInMemoryRepository(), broker.RelyingParty{
		ClientID:               "rp-client",
		ClientSecret:           "rp-secret",
		RedirectURIs:           []string{"https://rp.example.org/callback"},
		PostLogoutRedirectURIs: []string{"https://rp.example.org/logged-out"},
	}, "https://identity.example.org/authorize", 10*time.Minute,
		mandateSvc, acceptAllPasscodes{}, identitySvc, journalSvc, clock)

	server := httptest.NewServer(Routes(NewHandler(svc)))
	t.Cleanup(server.Close)
	return server
}

func noRedirectClient() *http.Client {
	return &http.Client{CheckRedirect: func(req *http.Request, via []*http.Request) error {
		return http.ErrUseLastResponse
	}}
}

func runFlowToCode(t *testing.T, server *httptest.Server) string {
	t.Helper()
	client := noRedirectClient()

	resp, err := client.Get(server.URL + "/authorize?" + url.Values{
		"client_id":    {"rp-client"},
		"redirect_uri": {"https://rp.example.org/callback"},
		"scope":        {"openid"},
		"state":        {"rp-state"},
		"nonce":        {"rp-nonce"},
	}.Encode())
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusFound, resp.StatusCode)

	forward, err := url.Parse(resp.Header.Get("Location"))
	require.NoError(t, err)
	sessionID := forward.Query().Get("session_id")
	require.NotEmpty(t, sessionID)

	callback, err := client.Post(server.URL+"/sessions/"+sessionID+"/callback", "application/json",
		strings.NewReader(`{"sub":"sub-42","given_name":"Jeanne","family_name":"Martin"}`))
	require.NoError(t, err)
	defer callback.Body.Close()
	require.Equal(t, http.StatusNoContent, callback.StatusCode)

	consentBody := `{"helper_id":"` + uuid.NewString() + `","organization_id":"` + uuid.NewString() +
		`","totp_code":"123456","procedures":["argent","famille"],"duration":"LONG"}`
	consent, err := client.Post(server.URL+"/sessions/"+sessionID+"/consent", "application/json",
		strings.NewReader(consentBody))
	require.NoError(t, err)
	defer consent.Body.Close()
	require.Equal(t, http.StatusFound, consent.StatusCode)

	back, err := url.Parse(consent.Header.Get("Location"))
	require.NoError(t, err)
	assert.Equal(t, "rp-state", back.Query().Get("state"))
	code := back.Query().Get("code")
	require.NotEmpty(t, code)
	return code
}

func exchangeCode(t *testing.T, server *httptest.Server, code string) (*http.Response, broker.TokenResponse) {
	t.Helper()
	resp, err := http.PostForm(server.URL+"/token", url.Values{
		"grant_type":    {"authorization_code"},
		"code":          {code},
		"client_id":     {"rp-client"},
		"client_secret": {"rp-secret"},
	})
	require.NoError(t, err)
	defer resp.Body.Close()

	var token broker.TokenResponse
	if resp.StatusCode == http.StatusOK {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&token))
	}
	return resp, token
}

func TestAuthorizationCodeFlow(t *testing.T) {
	server := newTestServer(t)
	code := runFlowToCode(t, server)

	resp, token := exchangeCode(t, server, code)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "Bearer", token.TokenType)
	assert.NotEmpty(t, token.AccessToken)

	req, err := http.NewRequest(http.MethodGet, server.URL+"/userinfo", nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+token.AccessToken)
	userinfo, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer userinfo.Body.Close()
	require.Equal(t, http.StatusOK, userinfo.StatusCode)

	var claims broker.Claims
	require.NoError(t, json.NewDecoder(userinfo.Body).Decode(&claims))
	assert.Equal(t, "sub-42", claims.Sub)
	assert.ElementsMatch(t, []string{"argent", "famille"}, claims.Procedures)
}

func TestTokenEndpointSingleUse(t *testing.T) {
	server := newTestServer(t)
	code := runFlowToCode(t, server)

	first, _ := exchangeCode(t, server, code)
	require.Equal(t, http.StatusOK, first.StatusCode)

	second, _ := exchangeCode(t, server, code)
	assert.Equal(t, http.StatusBadRequest, second.StatusCode)
}

func TestUserinfoWithoutToken(t *testing.T) {
	server := newTestServer(t)

	resp, err := http.Get(server.URL + "/userinfo")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestEndSessionAllowList(t *testing.T) {
	server := newTestServer(t)
	client := noRedirectClient()

	resp, err := client.Get(server.URL + "/end_session?" + url.Values{
		"post_logout_redirect_uri": {"https://rp.example.org/logged-out"},
	}.Encode())
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusFound, resp.StatusCode)

	rejected, err := client.Get(server.URL + "/end_session?" + url.Values{
		"post_logout_redirect_uri": {"https://elsewhere.example.org/"},
	}.Encode())
	require.NoError(t, err)
	defer rejected.Body.Close()
	assert.Equal(t, http.StatusBadRequest, rejected.StatusCode)
}
