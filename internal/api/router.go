package api

import (
	"net/http"

	"github.com/arnavmehta/webhook-dispatcher/internal/notify"
	"github.com/arnavmehta/webhook-dispatcher/internal/store"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// NewRouter creates and configures the HTTP router. defaultTargetURL is used
// by POST /events when the request omits target_url.
func NewRouter(st store.Store, hub *notify.Hub, defaultTargetURL string) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Heartbeat("/ping"))
	r.Use(corsMiddleware)

	eventHandler := NewEventHandler(st, defaultTargetURL)
	attemptHandler := NewAttemptHandler(st)
	dashHandler := NewDashboardHandler(st, hub)

	if hub != nil {
		r.Get("/ws", hub.HandleWebSocket)
	}

	r.Get("/health", HealthHandler())
	r.Get("/metrics", dashHandler.Metrics)
	r.Get("/attempts", attemptHandler.List)

	r.Route("/events", func(r chi.Router) {
		r.Post("/", eventHandler.Create)
		r.Get("/{id}", eventHandler.Get)
	})

	return r
}

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
