// Package mcp exposes the drug information service as MCP tools.
package mcp

import (
	"time"

	"github.com/bull/drugbot/internal/drug"
	"github.com/bull/drugbot/internal/session"
)

// AskInput defines the input parameters for the ask_drug_question tool.
type AskInput struct {
	// Query is the user's question in natural language.
	Query string `json:"query" jsonschema:"the question about a drug, at least three characters"`
	// SessionID resumes an existing conversation. Empty starts a new one.
	SessionID string `json:"session_id,omitempty" jsonschema:"conversation id returned by a previous call; omit to start a new conversation"`
}

// AskOutput contains the grounded answer.
type AskOutput struct {
	SessionID  string        `json:"session_id"`
	Response   string        `json:"response"`
	Sources    []drug.Source `json:"sources"`
	FoundDrugs []string      `json:"found_drugs"`
	Timestamp  time.Time     `json:"timestamp"`
	// Status is "answered", "no_information", "connection_error" or "not_ready".
	Status string `json:"status"`
}

// Answer status values.
const (
	StatusAnswered        = "answered"
	StatusNoInformation   = "no_information"
	StatusConnectionError = "connection_error"
	StatusNotReady        = "not_ready"
)

// StatsInput takes no parameters.
type StatsInput struct{}

// StatsOutput mirrors session.Stats.
type StatsOutput struct {
	DrugCount     int     `json:"drug_count"`
	ChunkCount    int     `json:"chunk_count"`
	QueryCount    int     `json:"query_count"`
	FailedCount   int     `json:"failed_count"`
	AvgLatencyMs  float64 `json:"avg_latency_ms"`
	LastLatencyMs float64 `json:"last_latency_ms"`
	LastError     string  `json:"last_error,omitempty"`
	Status        string  `json:"status"`
}

// RecentQuestionsInput takes no parameters.
type RecentQuestionsInput struct{}

// RecentQuestionsOutput lists recent questions, newest first.
type RecentQuestionsOutput struct {
	Questions []string `json:"questions"`
	Count     int      `json:"count"`
}

// HistoryInput defines the input parameters for the get_history tool.
type HistoryInput struct {
	SessionID string `json:"session_id" jsonschema:"conversation id to read"`
}

// HistoryOutput contains a conversation transcript.
type HistoryOutput struct {
	SessionID string            `json:"session_id"`
	Messages  []session.Message `json:"messages"`
	Found     bool              `json:"found"`
}

// ClearHistoryInput defines the input parameters for the clear_history tool.
// Clearing cannot be undone, so Confirm must be true.
type ClearHistoryInput struct {
	SessionID string `json:"session_id,omitempty" jsonschema:"conversation to clear; omit to clear every conversation"`
	Confirm   bool   `json:"confirm" jsonschema:"must be true; confirm with the user before clearing"`
}

// ClearHistoryOutput reports how many messages were removed.
type ClearHistoryOutput struct {
	Cleared int `json:"cleared"`
	// DiscardClientTranscript tells the client to drop its cached copy.
	DiscardClientTranscript bool   `json:"discard_client_transcript"`
	Message                 string `json:"message,omitempty"`
}
