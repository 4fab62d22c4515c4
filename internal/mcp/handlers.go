package mcp

import (
	"context"
	"errors"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/bull/drugbot/internal/drug"
	"github.com/bull/drugbot/internal/drugbot"
	"github.com/bull/drugbot/internal/session"
)

// ErrNotConfirmed is returned by clear_history without confirm=true.
var ErrNotConfirmed = errors.New("clearing history requires confirm=true")

// handleAsk answers a question. A missing or stale index is reported as a
// not_ready answer instead of a tool error so clients can show the message.
func (s *Server) handleAsk(ctx context.Context, _ *mcp.CallToolRequest, input AskInput) (
	*mcp.CallToolResult, AskOutput, error,
) {
	ans, err := s.core.Answer(ctx, input.Query, input.SessionID)
	if err != nil {
		switch {
		case errors.Is(err, drug.ErrIndexInconsistent):
			return nil, AskOutput{
				SessionID:  input.SessionID,
				Response:   drugbot.NotReadyMessage,
				Sources:    []drug.Source{},
				FoundDrugs: []string{},
				Status:     StatusNotReady,
			}, nil
		case errors.Is(err, drug.ErrValidation):
			return nil, AskOutput{}, fmt.Errorf("invalid question: %w", err)
		default:
			s.logger.Error("Question failed", "error", err)
			return nil, AskOutput{}, err
		}
	}

	status := StatusAnswered
	switch {
	case ans.ConnectionError:
		status = StatusConnectionError
	case ans.NoInformation:
		status = StatusNoInformation
	}

	return nil, AskOutput{
		SessionID:  ans.SessionID,
		Response:   ans.Response,
		Sources:    ans.Sources,
		FoundDrugs: ans.FoundDrugs,
		Timestamp:  ans.Timestamp,
		Status:     status,
	}, nil
}

func (s *Server) handleStats(_ context.Context, _ *mcp.CallToolRequest, _ StatsInput) (
	*mcp.CallToolResult, StatsOutput, error,
) {
	st := s.core.Stats()
	return nil, StatsOutput{
		DrugCount:     st.DrugCount,
		ChunkCount:    st.ChunkCount,
		QueryCount:    st.QueryCount,
		FailedCount:   st.FailedCount,
		AvgLatencyMs:  st.AvgLatencyMs,
		LastLatencyMs: st.LastLatencyMs,
		LastError:     st.LastError,
		Status:        st.Status,
	}, nil
}

func (s *Server) handleRecentQuestions(_ context.Context, _ *mcp.CallToolRequest, _ RecentQuestionsInput) (
	*mcp.CallToolResult, RecentQuestionsOutput, error,
) {
	questions := s.core.RecentQuestions()
	if questions == nil {
		questions = []string{}
	}
	return nil, RecentQuestionsOutput{Questions: questions, Count: len(questions)}, nil
}

func (s *Server) handleHistory(ctx context.Context, _ *mcp.CallToolRequest, input HistoryInput) (
	*mcp.CallToolResult, HistoryOutput, error,
) {
	messages, err := s.core.History(ctx, input.SessionID)
	if err != nil {
		if errors.Is(err, drug.ErrNotFound) {
			return nil, HistoryOutput{
				SessionID: input.SessionID,
				Messages:  []session.Message{},
				Found:     false,
			}, nil
		}
		return nil, HistoryOutput{}, fmt.Errorf("load history: %w", err)
	}
	if messages == nil {
		messages = []session.Message{}
	}
	return nil, HistoryOutput{SessionID: input.SessionID, Messages: messages, Found: true}, nil
}

func (s *Server) handleClearHistory(ctx context.Context, _ *mcp.CallToolRequest, input ClearHistoryInput) (
	*mcp.CallToolResult, ClearHistoryOutput, error,
) {
	if !input.Confirm {
		return nil, ClearHistoryOutput{}, ErrNotConfirmed
	}

	result, err := s.core.ClearHistory(ctx, input.SessionID)
	if err != nil {
		return nil, ClearHistoryOutput{}, fmt.Errorf("clear history: %w", err)
	}

	scope := "all conversations"
	if input.SessionID != "" {
		scope = "session " + input.SessionID
	}
	s.logger.Info("History cleared", "scope", scope, "messages", result.Cleared)

	return nil, ClearHistoryOutput{
		Cleared:                 result.Cleared,
		DiscardClientTranscript: result.DiscardClientTranscript,
		Message:                 fmt.Sprintf("Cleared %d messages from %s.", result.Cleared, scope),
	}, nil
}
