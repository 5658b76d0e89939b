package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/jwtauth/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opencivics/simple-mandate/pkg/attestation"
	"github.com/opencivics/simple-mandate/pkg/iam"
	"github.com/opencivics/simple-mandate/pkg/journal"
	"github.com/opencivics/simple-mandate/pkg/mandate"
	"github.com/opencivics/simple-mandate/pkg/procedure"
)

var testAuth = jwtauth.New("HS256", []byte("test-secret"), nil)

type allowAllActors struct{}

func (allowAllActors) CheckCanCreateMandates(ctx context.Context, helperID, organizationID uuid.UUID) error {
	return nil
}

type denyAllActors struct{}

func (denyAllActors) CheckCanCreateMandates(ctx context.Context, helperID, organizationID uuid.UUID) error {
	return iam.ErrNotPermitted{Detail: "a confirmed second-factor card is required to create mandates"}
}

// newTestServer mounts the handler behind the same jwtauth middleware the
// production router uses, so requests carry a real bearer token.
func newTestServer(t *testing.T, actors mandate.ActorChecker) (*httptest.Server, string) {
	t.Helper()
	clock := func() time.Time { return time.Date(2026, 4, 2, 10, 0, 0, 0, time.UTC) }
	journalSvc := journal.NewServiceWithClock(journal.NewInMemoryRepository(), clock)
	svc := mandate.NewServiceWithClock(mandate.NewInMemoryRepository(), procedure.DefaultCatalog(),
		attestation.NewServiceWithTemplateHash("salt", "tpl"), journalSvc, actors, clock)

	r := chi.NewRouter()
	r.Use(jwtauth.Verifier(testAuth))
	r.Use(jwtauth.Authenticator(testAuth))
	r.Mount("/", Routes(NewHandler(svc)))

	server := httptest.NewServer(r)
	t.Cleanup(server.Close)

	_, token, err := testAuth.Encode(map[string]interface{}{"sub": uuid.NewString()})
	require.NoError(t, err)
	return server, token
}

func doJSON(t *testing.T, method, url, token string, body any) *http.Response {
	t.Helper()
	raw, err := json.Marshal(body)
	require.NoError(t, err)
	req, err := http.NewRequest(method, url, bytes.NewReader(raw))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	return resp
}

func createMandate(t *testing.T, server *httptest.Server, token string, procedures []string) MandateResponse {
	t.Helper()
	resp := doJSON(t, http.MethodPost, server.URL+"/", token, CreateMandateRequest{
		OrganizationID: uuid.NewString(),
		BeneficiarySub: "sub-42",
		Procedures:     procedures,
		Duration:       "LONG",
	})
	defer resp.Body.Close()
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var out MandateResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return out
}

func TestCreateAndGetMandate(t *testing.T) {
	server, token := newTestServer(t, allowAllActors{})

	created := createMandate(t, server, token, []string{"argent", "famille"})
	assert.NotEmpty(t, created.ID)
	assert.NotEmpty(t, created.AttestationHash)
	assert.Len(t, created.Authorizations, 2)

	resp := doJSON(t, http.MethodGet, server.URL+"/"+created.ID, token, nil)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var fetched MandateResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&fetched))
	assert.Equal(t, created.ID, fetched.ID)
	assert.Equal(t, "sub-42", fetched.BeneficiarySub)
	assert.Len(t, fetched.Authorizations, 2)
}

func TestCreateMandateRejectsUnknownProcedure(t *testing.T) {
	server, token := newTestServer(t, allowAllActors{})

	resp := doJSON(t, http.MethodPost, server.URL+"/", token, CreateMandateRequest{
		OrganizationID: uuid.NewString(),
		BeneficiarySub: "sub-42",
		Procedures:     []string{"not-a-procedure"},
		Duration:       "LONG",
	})
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestCreateMandateEnforcesActorGate(t *testing.T) {
	t.Run("helper without the capability gets 403", func(t *testing.T) {
		server, token := newTestServer(t, denyAllActors{})

		resp := doJSON(t, http.MethodPost, server.URL+"/", token, CreateMandateRequest{
			OrganizationID: uuid.NewString(),
			BeneficiarySub: "sub-42",
			Procedures:     []string{"argent"},
			Duration:       "LONG",
		})
		defer resp.Body.Close()
		assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	})

	t.Run("missing token gets 401", func(t *testing.T) {
		server, _ := newTestServer(t, allowAllActors{})

		resp := doJSON(t, http.MethodPost, server.URL+"/", "", CreateMandateRequest{
			OrganizationID: uuid.NewString(),
			BeneficiarySub: "sub-42",
			Procedures:     []string{"argent"},
			Duration:       "LONG",
		})
		defer resp.Body.Close()
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	})

	t.Run("token subject that is no helper id gets 401", func(t *testing.T) {
		server, _ := newTestServer(t, allowAllActors{})
		_, token, err := testAuth.Encode(map[string]interface{}{"sub": "service-account"})
		require.NoError(t, err)

		resp := doJSON(t, http.MethodPost, server.URL+"/", token, CreateMandateRequest{
			OrganizationID: uuid.NewString(),
			BeneficiarySub: "sub-42",
			Procedures:     []string{"argent"},
			Duration:       "LONG",
		})
		defer resp.Body.Close()
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	})
}

func TestRenewMandate(t *testing.T) {
	server, token := newTestServer(t, allowAllActors{})
	created := createMandate(t, server, token, []string{"argent"})

	resp := doJSON(t, http.MethodPost, server.URL+"/"+created.ID+"/renew", token, RenewRequest{
		Duration: "SHORT",
	})
	defer resp.Body.Close()
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var renewed MandateResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&renewed))
	assert.NotEqual(t, created.ID, renewed.ID)
	assert.Len(t, renewed.Authorizations, 1)
}

func TestRevokeMandate(t *testing.T) {
	server, token := newTestServer(t, allowAllActors{})
	created := createMandate(t, server, token, []string{"argent"})

	resp := doJSON(t, http.MethodPost, server.URL+"/"+created.ID+"/revoke", token, nil)
	defer resp.Body.Close()
	require.Equal(t, http.StatusNoContent, resp.StatusCode)

	get := doJSON(t, http.MethodGet, server.URL+"/"+created.ID, token, nil)
	defer get.Body.Close()

	var fetched MandateResponse
	require.NoError(t, json.NewDecoder(get.Body).Decode(&fetched))
	assert.NotNil(t, fetched.RevokedAt)
	for _, a := range fetched.Authorizations {
		assert.NotNil(t, a.RevokedAt)
	}
}

func TestRevokeUnknownMandate(t *testing.T) {
	server, token := newTestServer(t, allowAllActors{})

	resp := doJSON(t, http.MethodPost, server.URL+"/"+uuid.NewString()+"/revoke", token, nil)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestExpiringRejectsBadDays(t *testing.T) {
	server, token := newTestServer(t, allowAllActors{})

	resp := doJSON(t, http.MethodGet, server.URL+"/expiring?days=zero", token, nil)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestCorrelationIDIncrements(t *testing.T) {
	server, token := newTestServer(t, allowAllActors{})

	read := func() int64 {
		resp := doJSON(t, http.MethodPost, server.URL+"/correlation-id", token, nil)
		defer resp.Body.Close()
		require.Equal(t, http.StatusOK, resp.StatusCode)
		var out map[string]int64
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
		return out["correlation_id"]
	}

	first := read()
	second := read()
	assert.Equal(t, first+1, second)
}
