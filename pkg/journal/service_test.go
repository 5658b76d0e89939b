package journal

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fixedClock() func() time.Time {
	t0 := time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)
	return func() time.Time { return t0 }
}

func TestServiceLogsOneEntryPerCall(t *testing.T) {
	repo := NewInMemoryRepository()
	svc := NewServiceWithClock(repo, fixedClock())
	ctx := context.Background()

	require.NoError(t, svc.LogMandateCancel(ctx, "helper-1", "mandate-1"))
	require.NoError(t, svc.LogAuthorizationCancel(ctx, "helper-1", "auth-1"))
	require.NoError(t, svc.LogAuthorizationCancel(ctx, "helper-1", "auth-2"))

	cancels, err := repo.FindByAction(ctx, ActionAuthorizationCancel)
	require.NoError(t, err)
	assert.Len(t, cancels, 2)

	mandates, err := repo.FindByAction(ctx, ActionMandateCancel)
	require.NoError(t, err)
	require.Len(t, mandates, 1)
	assert.Equal(t, "mandate-1", mandates[0].Payload["mandate_id"])
	assert.Equal(t, "helper-1", mandates[0].ActorID)
}

func TestAttestationCreationPayload(t *testing.T) {
	repo := NewInMemoryRepository()
	svc := NewServiceWithClock(repo, fixedClock())
	ctx := context.Background()

	err := svc.LogAttestationCreation(ctx, "helper-1", "mandate-1", "abc123", []string{"argent", "famille"}, 365, true)
	require.NoError(t, err)

	entries, err := repo.FindByAction(ctx, ActionAttestationCreation)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "abc123", entries[0].Payload["attestation_hash"])
	assert.Equal(t, []string{"argent", "famille"}, entries[0].Payload["procedures"])
	assert.Equal(t, true, entries[0].Payload["remote"])
}

func TestFindByActorAndSince(t *testing.T) {
	repo := NewInMemoryRepository()
	now := time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)
	clock := now
	svc := NewServiceWithClock(repo, func() time.Time { return clock })
	ctx := context.Background()

	require.NoError(t, svc.LogConnection(ctx, "helper-1", "sess-1"))
	clock = now.Add(time.Hour)
	require.NoError(t, svc.LogConnection(ctx, "helper-2", "sess-2"))

	byActor, err := repo.FindByActor(ctx, "helper-2")
	require.NoError(t, err)
	assert.Len(t, byActor, 1)

	since, err := repo.FindSince(ctx, now.Add(30*time.Minute))
	require.NoError(t, err)
	assert.Len(t, since, 1)
	assert.Equal(t, "helper-2", since[0].ActorID)
}
