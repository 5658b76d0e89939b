package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opencivics/simple-mandate/pkg/journal"
	"github.com/opencivics/simple-mandate/pkg/secondfactor"
)

// stubValidator accepts one hardcoded passcode.
type stubValidator struct{ accepted string }

func (s stubValidator) GenerateCode(seed string, at time.Time) (string, error) {
	return s.accepted, nil
}

func (s stubValidator) VerifyCode(seed, code string, tolerance uint, at time.Time) (bool, error) {
	return code == s.accepted, nil
}

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	journalSvc := journal.NewService(journal.NewInMemoryRepository())
	svc := secondfactor.NewService(secondfactor.NewInMemoryRepository(), stubValidator{accepted: "123456"}, journalSvc)

	server := httptest.NewServer(Routes(NewHandler(svc)))
	t.Cleanup(server.Close)
	return server
}

func postJSON(t *testing.T, url string, body any) *http.Response {
	t.Helper()
	raw, err := json.Marshal(body)
	require.NoError(t, err)
	resp, err := http.Post(url, "application/json", bytes.NewReader(raw))
	require.NoError(t, err)
	return resp
}

func TestCardLifecycle(t *testing.T) {
	server := newTestServer(t)
	helperID := uuid.New()

	resp := postJSON(t, server.URL+"/import", ImportRequest{Cards: []ImportCard{
		{SerialNumber: "TOTP-000001", Seed: "JBSWY3DPEHPK3PXP"},
	}})
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var imported map[string]int
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&imported))
	assert.Equal(t, 1, imported["imported"])

	resp = postJSON(t, server.URL+"/TOTP-000001/associate", AssociateRequest{HelperID: helperID.String()})
	resp.Body.Close()
	require.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp = postJSON(t, server.URL+"/TOTP-000001/confirm", ConfirmRequest{Code: "123456"})
	resp.Body.Close()
	require.Equal(t, http.StatusNoContent, resp.StatusCode)

	get, err := http.Get(server.URL + "/helpers/" + helperID.String() + "/confirmed")
	require.NoError(t, err)
	defer get.Body.Close()
	var confirmed map[string]bool
	require.NoError(t, json.NewDecoder(get.Body).Decode(&confirmed))
	assert.True(t, confirmed["confirmed"])

	resp = postJSON(t, server.URL+"/TOTP-000001/dissociate", nil)
	resp.Body.Close()
	require.Equal(t, http.StatusNoContent, resp.StatusCode)
}

func TestConfirmRejectsWrongPasscode(t *testing.T) {
	server := newTestServer(t)
	helperID := uuid.New()

	resp := postJSON(t, server.URL+"/import", ImportRequest{Cards: []ImportCard{
		{SerialNumber: "TOTP-000002", Seed: "JBSWY3DPEHPK3PXP"},
	}})
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = postJSON(t, server.URL+"/TOTP-000002/associate", AssociateRequest{HelperID: helperID.String()})
	resp.Body.Close()
	require.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp = postJSON(t, server.URL+"/TOTP-000002/confirm", ConfirmRequest{Code: "000000"})
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestAssociateUnknownCard(t *testing.T) {
	server := newTestServer(t)

	resp := postJSON(t, server.URL+"/NOPE-000000/associate", AssociateRequest{HelperID: uuid.NewString()})
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}
