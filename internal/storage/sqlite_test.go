package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bull/drugbot/internal/drug"
	"github.com/bull/drugbot/internal/session"
)

// setupSQLiteStore creates a store in a temporary directory.
func setupSQLiteStore(t *testing.T) (*SQLiteStore, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "drugbot.db")
	store, err := NewSQLiteStore(path)
	require.NoError(t, err)
	t.Cleanup(func() { assert.NoError(t, store.Close()) })
	return store, path
}

func TestSQLiteStore_SessionRoundTrip(t *testing.T) {
	store, path := setupSQLiteStore(t)
	ctx := context.Background()

	now := time.Date(2026, 3, 1, 12, 0, 0, 123456789, time.UTC)
	sess := &session.Session{ID: "s1", CreatedAt: now, UpdatedAt: now}
	user := session.Message{Role: session.RoleUser, Text: "aspirin headache", Timestamp: now}
	assistant := session.Message{
		Role:      session.RoleAssistant,
		Text:      "Aspirin relieves headaches [1].",
		Sources:   []drug.Source{{DrugName: "Aspirin", Section: "effects", Rank: 1, Provenance: "OnSIDES"}},
		Timestamp: now.Add(time.Second),
	}
	require.NoError(t, store.SaveTurn(ctx, sess, user, assistant))

	// A second process sees the same state.
	reopened, err := NewSQLiteStore(path)
	require.NoError(t, err)
	defer reopened.Close()

	loaded, err := reopened.LoadSession(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, now, loaded.CreatedAt)
	assert.Equal(t, now.Add(time.Second), loaded.UpdatedAt)
	require.Len(t, loaded.Messages, 2)
	assert.Equal(t, user.Text, loaded.Messages[0].Text)
	assert.Empty(t, loaded.Messages[0].Sources)
	assert.Equal(t, assistant, loaded.Messages[1])
}

func TestSQLiteStore_UnknownSession(t *testing.T) {
	store, _ := setupSQLiteStore(t)
	_, err := store.LoadSession(context.Background(), "missing")
	assert.ErrorIs(t, err, drug.ErrNotFound)
}

func TestSQLiteStore_ClearMessages(t *testing.T) {
	store, _ := setupSQLiteStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	for _, id := range []string{"a", "b"} {
		sess := &session.Session{ID: id, CreatedAt: now}
		u := session.Message{Role: session.RoleUser, Text: "q", Timestamp: now}
		a := session.Message{Role: session.RoleAssistant, Text: "r", Timestamp: now}
		require.NoError(t, store.SaveTurn(ctx, sess, u, a))
	}

	n, err := store.ClearMessages(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	a, err := store.LoadSession(ctx, "a")
	require.NoError(t, err)
	assert.Empty(t, a.Messages, "the session survives without messages")

	n, err = store.ClearMessages(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestSQLiteStore_RecentQuestions(t *testing.T) {
	store, _ := setupSQLiteStore(t)
	ctx := context.Background()

	empty, err := store.LoadRecentQuestions(ctx)
	require.NoError(t, err)
	assert.Empty(t, empty)

	require.NoError(t, store.SaveRecentQuestions(ctx, []string{"q3", "q2", "q1"}))
	require.NoError(t, store.SaveRecentQuestions(ctx, []string{"q4", "q3", "q2", "q1"}))

	got, err := store.LoadRecentQuestions(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"q4", "q3", "q2", "q1"}, got)
}

func TestSQLiteStore_BacksSessionManager(t *testing.T) {
	store, path := setupSQLiteStore(t)
	ctx := context.Background()

	m, err := session.NewManager(ctx, store, nil)
	require.NoError(t, err)
	s, err := m.GetOrCreate(ctx, "")
	require.NoError(t, err)
	now := time.Now().UTC()
	require.NoError(t, m.AppendTurn(ctx, s.ID,
		session.Message{Text: "q1", Timestamp: now},
		session.Message{Text: "r1", Timestamp: now}))
	require.NoError(t, m.AddRecentQuestion(ctx, "q1"))

	reopened, err := NewSQLiteStore(path)
	require.NoError(t, err)
	defer reopened.Close()
	restarted, err := session.NewManager(ctx, reopened, nil)
	require.NoError(t, err)

	assert.Equal(t, []string{"q1"}, restarted.RecentQuestions())
	history, err := restarted.History(ctx, s.ID)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, session.RoleAssistant, history[1].Role)
}
