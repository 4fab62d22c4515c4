package mcp

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bull/drugbot/internal/session"
)

func checkHealth(t *testing.T, stats StatsReporter, store HealthChecker) (int, HealthResponse) {
	t.Helper()
	rec := httptest.NewRecorder()
	NewHealthHandler(stats, store)(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	var body HealthResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	return rec.Code, body
}

func TestHealthHandler(t *testing.T) {
	ready := &mockCore{stats: session.Stats{
		DrugCount: 2, ChunkCount: 5, QueryCount: 9, FailedCount: 2, AvgLatencyMs: 42, Status: session.StatusReady,
	}}
	notReady := &mockCore{stats: session.Stats{Status: session.StatusNotReady}}

	tests := []struct {
		name    string
		stats   StatsReporter
		store   HealthChecker
		code    int
		status  string
		storage string
	}{
		{"ready without store", ready, nil, http.StatusOK, "healthy", ""},
		{"ready with store", ready, mockChecker{}, http.StatusOK, "healthy", "connected"},
		{"store down", ready, mockChecker{err: errors.New("dial")}, http.StatusServiceUnavailable, "unhealthy", "disconnected"},
		{"index not loaded", notReady, mockChecker{}, http.StatusServiceUnavailable, "unhealthy", "connected"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, body := checkHealth(t, tt.stats, tt.store)
			assert.Equal(t, tt.code, code)
			assert.Equal(t, tt.status, body.Status)
			assert.Equal(t, tt.storage, body.Storage)
			assert.NotEmpty(t, body.Timestamp)
		})
	}

	_, body := checkHealth(t, ready, nil)
	assert.Equal(t, 2, body.Drugs)
	assert.Equal(t, 5, body.Chunks)
	assert.Equal(t, 9, body.Queries)
	assert.Equal(t, 2, body.Failed)
	assert.InDelta(t, 42.0, body.AvgLatencyMs, 0.001)
	assert.Equal(t, session.StatusReady, body.Index)
}
