package db

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openStore(t *testing.T) *SessionStore {
	t.Helper()
	store, err := NewSessionStore(filepath.Join(t.TempDir(), "nested", "sessions.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestSessionStore_ConnectDisconnect(t *testing.T) {
	ctx := context.Background()
	store := openStore(t)
	start := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	id, err := store.RecordConnect(ctx, SessionStart{ClientID: 4, IP: "10.0.0.9", Port: 5123, At: start})
	require.NoError(t, err)

	require.NoError(t, store.RecordDisconnect(ctx, id, SessionEnd{
		LoginName:  "griffon",
		FinalState: "lobby",
		Messages:   12,
		At:         start.Add(time.Minute),
	}))

	sessions, err := store.Recent(ctx, 10)
	require.NoError(t, err)
	require.Len(t, sessions, 1)

	got := sessions[0]
	assert.Equal(t, uint32(4), got.ClientID)
	assert.Equal(t, "10.0.0.9", got.IP)
	assert.Equal(t, "lobby", got.FinalState)
	assert.Equal(t, uint64(12), got.Messages)
	assert.True(t, got.ConnectedAt.Equal(start))
	require.NotNil(t, got.DisconnectedAt)
	assert.True(t, got.DisconnectedAt.Equal(start.Add(time.Minute)))
}

func TestSessionStore_DisconnectTwiceFails(t *testing.T) {
	ctx := context.Background()
	store := openStore(t)

	id, err := store.RecordConnect(ctx, SessionStart{ClientID: 1, IP: "127.0.0.1", At: time.Now()})
	require.NoError(t, err)
	require.NoError(t, store.RecordDisconnect(ctx, id, SessionEnd{At: time.Now()}))
	assert.Error(t, store.RecordDisconnect(ctx, id, SessionEnd{At: time.Now()}))
}

func TestSessionStore_RecentNewestFirst(t *testing.T) {
	ctx := context.Background()
	store := openStore(t)

	for i := uint32(1); i <= 5; i++ {
		_, err := store.RecordConnect(ctx, SessionStart{ClientID: i, IP: "127.0.0.1", At: time.Now()})
		require.NoError(t, err)
	}

	total, open, err := store.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(5), total)
	assert.Equal(t, int64(5), open)

	sessions, err := store.Recent(ctx, 3)
	require.NoError(t, err)
	require.Len(t, sessions, 3)
	assert.Equal(t, uint32(5), sessions[0].ClientID)
	assert.Nil(t, sessions[0].DisconnectedAt)
}

func TestSessionStore_CloseDanglingAndPrune(t *testing.T) {
	ctx := context.Background()
	store := openStore(t)
	old := time.Now().Add(-48 * time.Hour)

	_, err := store.RecordConnect(ctx, SessionStart{ClientID: 1, IP: "127.0.0.1", At: old})
	require.NoError(t, err)
	_, err = store.RecordConnect(ctx, SessionStart{ClientID: 2, IP: "127.0.0.1", At: old})
	require.NoError(t, err)

	closed, err := store.CloseDangling(ctx, old)
	require.NoError(t, err)
	assert.Equal(t, int64(2), closed)

	pruned, err := store.Prune(ctx, time.Now().Add(-24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(2), pruned)

	sessions, err := store.Recent(ctx, 0)
	require.NoError(t, err)
	assert.Empty(t, sessions)
}
