package mcp

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/bull/drugbot/internal/session"
)

// HealthResponse represents the JSON response from the health check endpoint.
type HealthResponse struct {
	Status       string  `json:"status"`
	Index        string  `json:"index"`
	Storage      string  `json:"storage,omitempty"`
	Drugs        int     `json:"drugs"`
	Chunks       int     `json:"chunks"`
	Queries      int     `json:"queries"`
	Failed       int     `json:"failed"`
	AvgLatencyMs float64 `json:"avg_latency_ms"`
	Timestamp    string  `json:"timestamp"`
}

// HealthChecker is an optional backing store probe, such as Qdrant.
type HealthChecker interface {
	Health(ctx context.Context) error
}

// StatsReporter reports index readiness.
type StatsReporter interface {
	Stats() session.Stats
}

// NewHealthHandler creates an HTTP handler for the /health endpoint.
// It reports 503 until an index is loaded, or while store is unreachable.
// store may be nil.
func NewHealthHandler(stats StatsReporter, store HealthChecker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
		defer cancel()

		st := stats.Stats()
		response := HealthResponse{
			Status:       "healthy",
			Index:        st.Status,
			Drugs:        st.DrugCount,
			Chunks:       st.ChunkCount,
			Queries:      st.QueryCount,
			Failed:       st.FailedCount,
			AvgLatencyMs: st.AvgLatencyMs,
			Timestamp:    time.Now().UTC().Format(time.RFC3339),
		}
		code := http.StatusOK

		if st.Status != session.StatusReady {
			response.Status = "unhealthy"
			code = http.StatusServiceUnavailable
		}
		if store != nil {
			response.Storage = "connected"
			if err := store.Health(ctx); err != nil {
				response.Storage = "disconnected"
				response.Status = "unhealthy"
				code = http.StatusServiceUnavailable
			}
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(code)
		json.NewEncoder(w).Encode(response)
	}
}
