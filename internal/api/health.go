package api

import (
	"context"
	"net/http"
	"time"
)

// Pinger is a dependency whose reachability is reported by /health.
type Pinger interface {
	Ping(ctx context.Context) error
}

// StreamCounter reports how many WebSocket clients are connected.
type StreamCounter interface {
	ClientCount() int
}

type HealthResponse struct {
	Status        string            `json:"status"`
	Version       string            `json:"version"`
	Checks        map[string]string `json:"checks,omitempty"`
	StreamClients int               `json:"stream_clients"`
}

// HealthHandler reports healthy when every dependency answers a ping.
// streams may be nil.
func HealthHandler(checks map[string]Pinger, streams StreamCounter) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		resp := HealthResponse{
			Status:  "healthy",
			Version: "1.0.0",
			Checks:  make(map[string]string, len(checks)),
		}
		status := http.StatusOK

		for name, p := range checks {
			if err := p.Ping(ctx); err != nil {
				resp.Checks[name] = err.Error()
				resp.Status = "degraded"
				status = http.StatusServiceUnavailable
				continue
			}
			resp.Checks[name] = "ok"
		}

		if streams != nil {
			resp.StreamClients = streams.ClientCount()
		}

		respondJSON(w, status, resp)
	}
}
