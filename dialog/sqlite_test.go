package dialog_test

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/empi-systems/agentcore/coreengine/envelope"
	"github.com/empi-systems/agentcore/dialog"
)

func openTestStore(t *testing.T) *dialog.SQLiteStore {
	t.Helper()
	store, err := dialog.OpenSQLite(filepath.Join(t.TempDir(), "dialog.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func makeRecord(sessionID string, seq int, role, text string) *dialog.Record {
	env := envelope.New("dialog_recorder", "user_input", nil)
	env.Payload.Data = map[string]any{"text": text, "role": role}
	return &dialog.Record{
		SessionID: sessionID,
		Seq:       seq,
		MessageID: env.Header.MessageID,
		Role:      role,
		Hash:      fmt.Sprintf("hash_%d", seq),
		Envelope:  env,
		CreatedAt: time.Now().UTC(),
	}
}

// =============================================================================
// SQLITE STORE
// =============================================================================

func TestSQLiteRoundTrip(t *testing.T) {
	// Records come back in seq order with their envelopes intact.
	store := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Append(ctx, makeRecord("s1", 1, "user", "hello")))
	require.NoError(t, store.Append(ctx, makeRecord("s1", 2, "assistant", "hi")))

	records, err := store.History(ctx, "s1", 0)
	require.NoError(t, err)
	require.Len(t, records, 2)

	assert.Equal(t, 1, records[0].Seq)
	assert.Equal(t, "user", records[0].Role)
	assert.Equal(t, "hello", records[0].Envelope.Payload.Data["text"])
	assert.Equal(t, "EMPI/1.0", records[0].Envelope.Header.Protocol)
	assert.Equal(t, 2, records[1].Seq)
	assert.Equal(t, "hi", records[1].Envelope.Payload.Data["text"])
}

func TestSQLiteHistoryLimit(t *testing.T) {
	// A limit keeps the newest records, still ascending.
	store := openTestStore(t)
	ctx := context.Background()

	for i := 1; i <= 5; i++ {
		require.NoError(t, store.Append(ctx, makeRecord("s1", i, "user", fmt.Sprintf("m%d", i))))
	}

	records, err := store.History(ctx, "s1", 2)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, 4, records[0].Seq)
	assert.Equal(t, 5, records[1].Seq)
}

func TestSQLiteLast(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	last, err := store.Last(ctx, "missing")
	require.NoError(t, err)
	assert.Nil(t, last)

	require.NoError(t, store.Append(ctx, makeRecord("s1", 1, "user", "a")))
	require.NoError(t, store.Append(ctx, makeRecord("s1", 2, "assistant", "b")))

	last, err = store.Last(ctx, "s1")
	require.NoError(t, err)
	require.NotNil(t, last)
	assert.Equal(t, 2, last.Seq)
	assert.Equal(t, "hash_2", last.Hash)
}

func TestSQLiteCountAndClear(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Append(ctx, makeRecord("s1", 1, "user", "a")))
	require.NoError(t, store.Append(ctx, makeRecord("s2", 1, "user", "other session")))

	n, err := store.Count(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	require.NoError(t, store.Clear(ctx, "s1"))

	n, err = store.Count(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	// Other sessions are untouched.
	n, err = store.Count(ctx, "s2")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestSQLiteDuplicateSeq(t *testing.T) {
	// The (session, seq) primary key rejects collisions.
	store := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Append(ctx, makeRecord("s1", 1, "user", "a")))
	assert.Error(t, store.Append(ctx, makeRecord("s1", 1, "user", "again")))
}

func TestRecorderOverSQLite(t *testing.T) {
	// The recorder round-trips through SQLite, including resume.
	path := filepath.Join(t.TempDir(), "dialog.db")
	ctx := context.Background()

	store, err := dialog.OpenSQLite(path)
	require.NoError(t, err)

	r, err := dialog.NewRecorder("persisted", store)
	require.NoError(t, err)
	first, err := r.RecordUserMessage(ctx, "saved across restarts")
	require.NoError(t, err)
	assert.Empty(t, first.Header.ParentHash)
	require.NoError(t, store.Close())

	reopened, err := dialog.OpenSQLite(path)
	require.NoError(t, err)
	defer reopened.Close()

	resumed, err := dialog.NewRecorder("persisted", reopened)
	require.NoError(t, err)
	assert.Equal(t, 1, resumed.MessageCount())

	env, err := resumed.RecordAssistantMessage(ctx, "still here")
	require.NoError(t, err)
	assert.NotEmpty(t, env.Header.ParentHash)

	simple, err := resumed.SimpleHistory(ctx)
	require.NoError(t, err)
	require.Len(t, simple, 2)
	assert.Equal(t, "saved across restarts", simple[0]["content"])

	hist, err := resumed.FullHistory(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, hist.Payload.Data["message_count"])
}
