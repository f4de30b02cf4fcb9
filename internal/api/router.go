package api

import (
	"log/slog"
	"net/http"

	"github.com/dmscreen/sessionfeed/internal/auth"
	"github.com/dmscreen/sessionfeed/internal/engine"
	ws "github.com/dmscreen/sessionfeed/internal/websocket"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// Dependencies are the services the HTTP layer is built from. Limiter and
// Hub are optional.
type Dependencies struct {
	Auth      *auth.Authenticator
	Polls     *engine.PollService
	Publisher *engine.Publisher
	Limiter   PollLimiter
	RateLimit int
	Hub       *ws.Hub
	Health    map[string]Pinger
	Logger    *slog.Logger
}

// NewRouter creates and configures the HTTP router.
func NewRouter(d Dependencies) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Heartbeat("/ping"))
	r.Use(corsMiddleware)
	r.Use(d.Auth.Middleware)

	realtime := NewRealtimeHandler(d.Polls, d.Limiter, d.RateLimit, d.Hub, d.Logger)
	sessions := NewSessionHandler(d.Polls, d.Publisher, d.Hub, d.Logger)

	var streams StreamCounter
	if d.Hub != nil {
		streams = d.Hub
	}

	r.Get("/ws", realtime.Stream)

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", HealthHandler(d.Health, streams))

		r.Get("/realtime/poll", realtime.Poll)

		r.Route("/sessions/{sessionID}", func(r chi.Router) {
			r.Post("/events", sessions.Publish)
			r.Get("/online", sessions.Online)
		})
	})

	return r
}

// corsMiddleware lets the browser client poll from another origin.
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}
