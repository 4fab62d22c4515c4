// Package drugbot is the request/response surface the transports call into.
package drugbot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/bull/drugbot/internal/answer"
	"github.com/bull/drugbot/internal/drug"
	"github.com/bull/drugbot/internal/session"
)

// NotReadyMessage is shown when the index is missing, empty or built with another model.
const NotReadyMessage = "The drug information system is not ready yet. Please try again later."

// Answer is the transport-facing result of a question.
type Answer struct {
	SessionID       string        `json:"session_id"`
	Response        string        `json:"response"`
	Sources         []drug.Source `json:"sources"`
	FoundDrugs      []string      `json:"found_drugs"`
	Timestamp       time.Time     `json:"timestamp"`
	NoInformation   bool          `json:"no_information,omitempty"`
	ConnectionError bool          `json:"connection_error,omitempty"`
}

// Answerer produces a response for a question in a session.
type Answerer interface {
	Answer(ctx context.Context, query, sessionID string) (*answer.Response, error)
}

// Service ties the answer pipeline to session bookkeeping.
type Service struct {
	answerer Answerer
	sessions *session.Manager
	logger   *slog.Logger
	now      func() time.Time
}

// NewService creates a Service.
func NewService(answerer Answerer, sessions *session.Manager, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{answerer: answerer, sessions: sessions, logger: logger, now: time.Now}
}

// Answer resolves the session, answers the question and records it in the
// recent-question list. Connection-error answers are not recorded anywhere,
// and a new session that gets no turn is released.
// Errors wrapping drug.ErrIndexInconsistent mean the service is not ready.
//
// Every question except invalid or cancelled ones is timed; connection
// errors and not-ready errors count as failed.
func (s *Service) Answer(ctx context.Context, query, sessionID string) (*Answer, error) {
	start := s.now()
	sess, err := s.sessions.GetOrCreate(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("resolve session: %w", err)
	}
	defer s.sessions.Release(sess.ID)

	resp, err := s.answerer.Answer(ctx, query, sess.ID)
	elapsed := s.now().Sub(start)
	if err != nil {
		switch {
		case ctx.Err() != nil, errors.Is(err, drug.ErrValidation):
		default:
			if errors.Is(err, drug.ErrIndexInconsistent) {
				s.logger.Error("Index not ready", "error", err)
			}
			s.sessions.RecordOutcome(elapsed, err)
		}
		return nil, err
	}

	if resp.ConnectionError {
		s.sessions.RecordOutcome(elapsed, drug.ErrRemoteUnavailable)
	} else {
		s.sessions.RecordOutcome(elapsed, nil)
		if err := s.sessions.AddRecentQuestion(ctx, strings.TrimSpace(query)); err != nil {
			// Best effort: the turn itself is already recorded.
			s.logger.Warn("Failed to record recent question", "error", err)
		}
	}

	return &Answer{
		SessionID:       sess.ID,
		Response:        resp.Text,
		Sources:         resp.Sources,
		FoundDrugs:      resp.FoundDrugs,
		Timestamp:       resp.Timestamp,
		NoInformation:   resp.NoInformation,
		ConnectionError: resp.ConnectionError,
	}, nil
}

// Stats returns the usage counters.
func (s *Service) Stats() session.Stats {
	return s.sessions.Stats()
}

// RecentQuestions returns up to five recent questions, newest first.
func (s *Service) RecentQuestions() []string {
	return s.sessions.RecentQuestions()
}

// History returns the conversation of a session.
func (s *Service) History(ctx context.Context, sessionID string) ([]session.Message, error) {
	return s.sessions.History(ctx, sessionID)
}

// ClearHistory clears one session, or every session when sessionID is empty.
// Callers must confirm with the user first; the operation cannot be undone.
func (s *Service) ClearHistory(ctx context.Context, sessionID string) (session.ClearResult, error) {
	return s.sessions.ClearHistory(ctx, sessionID)
}
