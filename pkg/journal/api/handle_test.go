package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opencivics/simple-mandate/pkg/journal"
)

func newTestServer(t *testing.T) (*httptest.Server, *journal.InMemoryRepository) {
	t.Helper()
	repo := journal.NewInMemoryRepository()
	server := httptest.NewServer(Routes(NewHandler(repo)))
	t.Cleanup(server.Close)
	return server, repo
}

func seedEntry(t *testing.T, repo *journal.InMemoryRepository, action journal.Action, actorID string, at time.Time) {
	t.Helper()
	err := repo.Append(context.Background(), journal.Entry{
		ID:        uuid.New(),
		Action:    action,
		ActorID:   actorID,
		Timestamp: at,
	})
	require.NoError(t, err)
}

func listEntries(t *testing.T, url string) (int, []journal.Entry) {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return resp.StatusCode, nil
	}
	var entries []journal.Entry
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&entries))
	return resp.StatusCode, entries
}

func TestListFilters(t *testing.T) {
	server, repo := newTestServer(t)
	now := time.Now().UTC()

	seedEntry(t, repo, journal.ActionConnection, "helper-1", now.Add(-48*time.Hour))
	seedEntry(t, repo, journal.ActionMandateCancel, "helper-1", now.Add(-time.Hour))
	seedEntry(t, repo, journal.ActionConnection, "helper-2", now.Add(-time.Minute))

	t.Run("by action", func(t *testing.T) {
		status, entries := listEntries(t, server.URL+"/?action=connection")
		require.Equal(t, http.StatusOK, status)
		require.Len(t, entries, 2)
		for _, e := range entries {
			assert.Equal(t, journal.ActionConnection, e.Action)
		}
	})

	t.Run("by actor", func(t *testing.T) {
		status, entries := listEntries(t, server.URL+"/?actor=helper-1")
		require.Equal(t, http.StatusOK, status)
		require.Len(t, entries, 2)
		for _, e := range entries {
			assert.Equal(t, "helper-1", e.ActorID)
		}
	})

	t.Run("by since", func(t *testing.T) {
		since := now.Add(-2 * time.Hour).Format(time.RFC3339)
		status, entries := listEntries(t, server.URL+"/?since="+since)
		require.Equal(t, http.StatusOK, status)
		assert.Len(t, entries, 2)
	})

	t.Run("default window covers the last day", func(t *testing.T) {
		status, entries := listEntries(t, server.URL+"/")
		require.Equal(t, http.StatusOK, status)
		assert.Len(t, entries, 2)
	})
}

func TestListRejectsBadSince(t *testing.T) {
	server, _ := newTestServer(t)

	status, _ := listEntries(t, server.URL+"/?since=yesterday")
	assert.Equal(t, http.StatusBadRequest, status)
}

func TestListEmptyJournal(t *testing.T) {
	server, _ := newTestServer(t)

	resp, err := http.Get(server.URL + "/")
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	var entries []journal.Entry
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&entries))
	assert.Empty(t, entries)
}
