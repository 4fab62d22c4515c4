// Package session keeps conversation history, the recent-question list and
// usage counters behind a single lock.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/bull/drugbot/internal/drug"
)

// MaxRecentQuestions bounds the recent-question list.
const MaxRecentQuestions = 5

// Status values reported by Stats.
const (
	StatusReady    = "ready"
	StatusNotReady = "not_ready"
)

// Role identifies the author of a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one entry of a conversation.
type Message struct {
	Role      Role          `json:"role"`
	Text      string        `json:"text"`
	Sources   []drug.Source `json:"sources,omitempty"`
	Timestamp time.Time     `json:"timestamp"`
}

// Session is an ordered conversation. Messages alternate user/assistant.
type Session struct {
	ID        string    `json:"id"`
	Messages  []Message `json:"messages"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (s *Session) clone() *Session {
	c := *s
	c.Messages = make([]Message, len(s.Messages))
	copy(c.Messages, s.Messages)
	return &c
}

// Stats is a snapshot of the usage counters. Latencies cover every timed
// question, answered or failed.
type Stats struct {
	DrugCount     int     `json:"drug_count"`
	ChunkCount    int     `json:"chunk_count"`
	QueryCount    int     `json:"query_count"`
	FailedCount   int     `json:"failed_count"`
	AvgLatencyMs  float64 `json:"avg_latency_ms"`
	LastLatencyMs float64 `json:"last_latency_ms"`
	LastError     string  `json:"last_error,omitempty"`
	Status        string  `json:"status"`
}

// ClearResult reports a history clear. DiscardClientTranscript tells the
// caller to drop any transcript it has cached for the cleared sessions.
type ClearResult struct {
	Cleared                 int  `json:"cleared"`
	DiscardClientTranscript bool `json:"discard_client_transcript"`
}

// Store persists sessions and the recent-question list.
// LoadSession returns drug.ErrNotFound for unknown ids.
type Store interface {
	LoadSession(ctx context.Context, id string) (*Session, error)
	SaveTurn(ctx context.Context, s *Session, user, assistant Message) error
	ClearMessages(ctx context.Context, sessionID string) (int, error)
	LoadRecentQuestions(ctx context.Context) ([]string, error)
	SaveRecentQuestions(ctx context.Context, questions []string) error
}

// Manager owns all shared mutable state of the service.
// Every operation holds mu for its whole duration, including persistence,
// so that a failed write leaves memory untouched.
type Manager struct {
	store  Store
	logger *slog.Logger
	now    func() time.Time

	mu         sync.Mutex
	sessions   map[string]*Session
	unsaved    map[string]struct{} // created by GetOrCreate, no turn yet
	recent     []string
	drugs      int
	chunks     int
	queries    int
	indexReady bool

	failed      int
	timed       int
	latencySum  time.Duration
	lastLatency time.Duration
	lastError   string
}

// NewManager creates a Manager and loads the persisted recent questions.
// A nil store keeps everything in memory.
func NewManager(ctx context.Context, store Store, logger *slog.Logger) (*Manager, error) {
	if logger == nil {
		logger = slog.Default()
	}
	m := &Manager{
		store:    store,
		logger:   logger,
		now:      time.Now,
		sessions: make(map[string]*Session),
		unsaved:  make(map[string]struct{}),
	}
	if store != nil {
		recent, err := store.LoadRecentQuestions(ctx)
		if err != nil {
			return nil, fmt.Errorf("load recent questions: %w", err)
		}
		if len(recent) > MaxRecentQuestions {
			recent = recent[:MaxRecentQuestions]
		}
		m.recent = recent
	}
	return m, nil
}

// GetOrCreate resumes the session with the given id, or starts a new one.
// An empty or unknown id yields a session with a freshly generated id, which
// is kept only until Release unless a turn is appended first.
func (m *Manager) GetOrCreate(ctx context.Context, id string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if id != "" {
		s, err := m.lookupLocked(ctx, id)
		if err == nil {
			return s.clone(), nil
		}
		if !errors.Is(err, drug.ErrNotFound) {
			return nil, err
		}
		m.logger.Debug("Unknown session, starting a new one", "requested", id)
	}

	now := m.now().UTC()
	s := &Session{ID: uuid.NewString(), CreatedAt: now, UpdatedAt: now}
	m.sessions[s.ID] = s
	m.unsaved[s.ID] = struct{}{}
	return s.clone(), nil
}

// Release forgets a session started by GetOrCreate that never got a turn.
// Sessions with recorded turns are not affected.
func (m *Manager) Release(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.unsaved[id]; !ok {
		return
	}
	delete(m.unsaved, id)
	delete(m.sessions, id)
}

// lookupLocked must be called with m.mu held.
func (m *Manager) lookupLocked(ctx context.Context, id string) (*Session, error) {
	if s, ok := m.sessions[id]; ok {
		return s, nil
	}
	if m.store == nil {
		return nil, fmt.Errorf("session %s: %w", id, drug.ErrNotFound)
	}
	s, err := m.store.LoadSession(ctx, id)
	if err != nil {
		return nil, err
	}
	m.sessions[id] = s
	return s, nil
}

// AppendTurn appends a user message and its assistant reply, then counts
// the query as answered.
func (m *Manager) AppendTurn(ctx context.Context, sessionID string, user, assistant Message) error {
	user.Role, assistant.Role = RoleUser, RoleAssistant

	m.mu.Lock()
	defer m.mu.Unlock()

	s, err := m.lookupLocked(ctx, sessionID)
	if err != nil {
		return err
	}
	if m.store != nil {
		if err := m.store.SaveTurn(ctx, s, user, assistant); err != nil {
			return fmt.Errorf("persist turn: %w", err)
		}
	}

	s.Messages = append(s.Messages, user, assistant)
	s.UpdatedAt = assistant.Timestamp
	delete(m.unsaved, sessionID)
	m.queries++
	return nil
}

// AddRecentQuestion records a question. A question already in the list is a
// no-op and keeps its position; otherwise it goes first and the list is
// truncated to MaxRecentQuestions.
func (m *Manager) AddRecentQuestion(ctx context.Context, text string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, q := range m.recent {
		if q == text {
			return nil
		}
	}

	next := make([]string, 0, MaxRecentQuestions)
	next = append(next, text)
	next = append(next, m.recent...)
	if len(next) > MaxRecentQuestions {
		next = next[:MaxRecentQuestions]
	}

	if m.store != nil {
		if err := m.store.SaveRecentQuestions(ctx, next); err != nil {
			return fmt.Errorf("persist recent questions: %w", err)
		}
	}
	m.recent = next
	return nil
}

// RecentQuestions returns the recent questions, newest first.
func (m *Manager) RecentQuestions() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.recent))
	copy(out, m.recent)
	return out
}

// History returns the messages of a session.
func (m *Manager) History(ctx context.Context, sessionID string) ([]Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, err := m.lookupLocked(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	return s.clone().Messages, nil
}

// ClearHistory removes every message of a session, or of all sessions when
// sessionID is empty. Sessions themselves survive and can be resumed.
func (m *Manager) ClearHistory(ctx context.Context, sessionID string) (ClearResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if sessionID != "" {
		if _, err := m.lookupLocked(ctx, sessionID); err != nil {
			return ClearResult{}, err
		}
	}

	cleared := 0
	if m.store != nil {
		n, err := m.store.ClearMessages(ctx, sessionID)
		if err != nil {
			return ClearResult{}, fmt.Errorf("clear history: %w", err)
		}
		cleared = n
	}

	memCleared := 0
	now := m.now().UTC()
	for id, s := range m.sessions {
		if sessionID != "" && id != sessionID {
			continue
		}
		memCleared += len(s.Messages)
		s.Messages = nil
		s.UpdatedAt = now
	}
	if m.store == nil {
		cleared = memCleared
	}

	m.logger.Info("History cleared", "session", sessionID, "messages", cleared)
	return ClearResult{Cleared: cleared, DiscardClientTranscript: true}, nil
}

// SetIndexCounts records the counts of a finalized index and marks it ready.
func (m *Manager) SetIndexCounts(drugs, chunks int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.drugs, m.chunks = drugs, chunks
	m.indexReady = true
}

// RecordOutcome records how long a question took. A non-nil failure counts
// the question as failed and becomes the last reported error.
func (m *Manager) RecordOutcome(latency time.Duration, failure error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.timed++
	m.latencySum += latency
	m.lastLatency = latency
	if failure != nil {
		m.failed++
		m.lastError = failure.Error()
	}
}

// Stats returns a consistent snapshot of the counters.
func (m *Manager) Stats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()

	status := StatusNotReady
	if m.indexReady && m.chunks > 0 {
		status = StatusReady
	}
	st := Stats{
		DrugCount:     m.drugs,
		ChunkCount:    m.chunks,
		QueryCount:    m.queries,
		FailedCount:   m.failed,
		LastLatencyMs: milliseconds(m.lastLatency),
		LastError:     m.lastError,
		Status:        status,
	}
	if m.timed > 0 {
		st.AvgLatencyMs = milliseconds(m.latencySum / time.Duration(m.timed))
	}
	return st
}

func milliseconds(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}
