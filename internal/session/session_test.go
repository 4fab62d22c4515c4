package session

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bull/drugbot/internal/drug"
)

func newManager(t *testing.T) *Manager {
	t.Helper()
	m, err := NewManager(context.Background(), nil, nil)
	require.NoError(t, err)
	return m
}

func turn(text string) (Message, Message) {
	now := time.Now().UTC()
	return Message{Text: text, Timestamp: now},
		Message{Text: "answer to " + text, Timestamp: now, Sources: []drug.Source{{DrugName: "Aspirin", Rank: 1}}}
}

func TestGetOrCreate(t *testing.T) {
	m := newManager(t)
	ctx := context.Background()

	s, err := m.GetOrCreate(ctx, "")
	require.NoError(t, err)
	assert.NotEmpty(t, s.ID)

	resumed, err := m.GetOrCreate(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, s.ID, resumed.ID)

	fresh, err := m.GetOrCreate(ctx, "never-seen")
	require.NoError(t, err)
	assert.NotEqual(t, "never-seen", fresh.ID)
}

func TestAppendTurn_AlternatesAndCounts(t *testing.T) {
	m := newManager(t)
	ctx := context.Background()
	s, err := m.GetOrCreate(ctx, "")
	require.NoError(t, err)

	u, a := turn("aspirin headache")
	require.NoError(t, m.AppendTurn(ctx, s.ID, u, a))

	history, err := m.History(ctx, s.ID)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, RoleUser, history[0].Role)
	assert.Equal(t, RoleAssistant, history[1].Role)
	assert.Equal(t, "Aspirin", history[1].Sources[0].DrugName)
	assert.Equal(t, 1, m.Stats().QueryCount)

	err = m.AppendTurn(ctx, "missing", u, a)
	assert.ErrorIs(t, err, drug.ErrNotFound)
	assert.Equal(t, 1, m.Stats().QueryCount)
}

func TestHistory_IsACopy(t *testing.T) {
	m := newManager(t)
	ctx := context.Background()
	s, _ := m.GetOrCreate(ctx, "")
	u, a := turn("q")
	require.NoError(t, m.AppendTurn(ctx, s.ID, u, a))

	history, err := m.History(ctx, s.ID)
	require.NoError(t, err)
	history[0].Text = "mutated"

	again, err := m.History(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, "q", again[0].Text)
}

func TestAddRecentQuestion_KeepsFiveNewestFirst(t *testing.T) {
	m := newManager(t)
	ctx := context.Background()

	for i := 1; i <= 6; i++ {
		require.NoError(t, m.AddRecentQuestion(ctx, fmt.Sprintf("q%d", i)))
	}
	assert.Equal(t, []string{"q6", "q5", "q4", "q3", "q2"}, m.RecentQuestions())

	require.NoError(t, m.AddRecentQuestion(ctx, "q4"))
	assert.Equal(t, []string{"q6", "q5", "q4", "q3", "q2"}, m.RecentQuestions(), "duplicate is a no-op")
}

func TestClearHistory(t *testing.T) {
	m := newManager(t)
	ctx := context.Background()
	s1, _ := m.GetOrCreate(ctx, "")
	s2, _ := m.GetOrCreate(ctx, "")
	u, a := turn("q")
	require.NoError(t, m.AppendTurn(ctx, s1.ID, u, a))
	require.NoError(t, m.AppendTurn(ctx, s2.ID, u, a))
	require.NoError(t, m.AddRecentQuestion(ctx, "q"))

	res, err := m.ClearHistory(ctx, s1.ID)
	require.NoError(t, err)
	assert.Equal(t, ClearResult{Cleared: 2, DiscardClientTranscript: true}, res)

	h1, _ := m.History(ctx, s1.ID)
	h2, _ := m.History(ctx, s2.ID)
	assert.Empty(t, h1)
	assert.Len(t, h2, 2)

	res, err = m.ClearHistory(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, 2, res.Cleared)
	h2, _ = m.History(ctx, s2.ID)
	assert.Empty(t, h2)

	assert.Equal(t, []string{"q"}, m.RecentQuestions(), "recent questions survive a history clear")
	assert.Equal(t, 2, m.Stats().QueryCount, "query count is monotonic")

	_, err = m.ClearHistory(ctx, "missing")
	assert.ErrorIs(t, err, drug.ErrNotFound)
}

func TestStats_Status(t *testing.T) {
	m := newManager(t)
	assert.Equal(t, StatusNotReady, m.Stats().Status)

	m.SetIndexCounts(0, 0)
	assert.Equal(t, StatusNotReady, m.Stats().Status, "an empty index is not ready")

	m.SetIndexCounts(2, 5)
	assert.Equal(t, Stats{DrugCount: 2, ChunkCount: 5, Status: StatusReady}, m.Stats())
}

func TestConcurrentTurnsAreAllCounted(t *testing.T) {
	m := newManager(t)
	ctx := context.Background()

	const workers, perWorker = 8, 25
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			s, err := m.GetOrCreate(ctx, "")
			if !assert.NoError(t, err) {
				return
			}
			for i := 0; i < perWorker; i++ {
				u, a := turn(fmt.Sprintf("w%d-q%d", w, i))
				assert.NoError(t, m.AppendTurn(ctx, s.ID, u, a))
				assert.NoError(t, m.AddRecentQuestion(ctx, u.Text))
				_ = m.Stats()
			}
		}(w)
	}
	wg.Wait()

	assert.Equal(t, workers*perWorker, m.Stats().QueryCount)
	assert.Len(t, m.RecentQuestions(), MaxRecentQuestions)
}

type failingStore struct{ Store }

func (failingStore) LoadRecentQuestions(context.Context) ([]string, error) { return nil, nil }
func (failingStore) SaveRecentQuestions(context.Context, []string) error {
	return fmt.Errorf("disk full")
}
func (failingStore) LoadSession(_ context.Context, id string) (*Session, error) {
	return nil, fmt.Errorf("session %s: %w", id, drug.ErrNotFound)
}
func (failingStore) SaveTurn(context.Context, *Session, Message, Message) error {
	return fmt.Errorf("disk full")
}

func TestPersistenceFailureLeavesStateUntouched(t *testing.T) {
	ctx := context.Background()
	m, err := NewManager(ctx, failingStore{}, nil)
	require.NoError(t, err)

	assert.Error(t, m.AddRecentQuestion(ctx, "q"))
	assert.Empty(t, m.RecentQuestions())

	s, err := m.GetOrCreate(ctx, "")
	require.NoError(t, err)
	u, a := turn("q")
	assert.Error(t, m.AppendTurn(ctx, s.ID, u, a))

	history, err := m.History(ctx, s.ID)
	require.NoError(t, err)
	assert.Empty(t, history)
	assert.Zero(t, m.Stats().QueryCount)
}

func TestRelease_ForgetsSessionsWithoutTurns(t *testing.T) {
	m := newManager(t)
	ctx := context.Background()

	idle, err := m.GetOrCreate(ctx, "")
	require.NoError(t, err)
	used, err := m.GetOrCreate(ctx, "")
	require.NoError(t, err)
	u, a := turn("aspirin headache")
	require.NoError(t, m.AppendTurn(ctx, used.ID, u, a))

	m.Release(idle.ID)
	m.Release(used.ID)

	_, err = m.History(ctx, idle.ID)
	assert.ErrorIs(t, err, drug.ErrNotFound)
	history, err := m.History(ctx, used.ID)
	require.NoError(t, err)
	assert.Len(t, history, 2)
	assert.Len(t, m.sessions, 1)
	assert.Empty(t, m.unsaved)
}

func TestRecordOutcome(t *testing.T) {
	m := newManager(t)
	assert.Zero(t, m.Stats().AvgLatencyMs)

	m.RecordOutcome(100*time.Millisecond, nil)
	m.RecordOutcome(300*time.Millisecond, fmt.Errorf("remote unavailable"))

	st := m.Stats()
	assert.Equal(t, 1, st.FailedCount)
	assert.InDelta(t, 200.0, st.AvgLatencyMs, 0.001)
	assert.InDelta(t, 300.0, st.LastLatencyMs, 0.001)
	assert.Equal(t, "remote unavailable", st.LastError)
	assert.Zero(t, st.QueryCount, "outcomes do not count as answered turns")
}
