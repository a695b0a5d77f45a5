package router

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/connexus-ai/ragbox-backend/internal/handler"
	"github.com/connexus-ai/ragbox-backend/internal/middleware"
)

// Dependencies holds all injected services needed by the router.
type Dependencies struct {
	DB                 handler.DBPinger
	FrontendURL        string
	Version            string
	Metrics            *middleware.Metrics
	MetricsReg         *prometheus.Registry
	InternalAuthSecret string

	ChatDeps         handler.ChatDeps
	FeedbackDeps     handler.FeedbackDeps
	IngestDeps       handler.IngestDeps
	AdminMigrateDeps handler.AdminMigrateDeps
	DebugDeps        handler.DebugDeps

	// Rate limiters (nil = no rate limiting)
	GeneralRateLimiter *middleware.RateLimiter
	ChatRateLimiter    *middleware.RateLimiter
}

// internalAuthOnly wraps a handler with a simple internal auth check. Used
// for the admin migration endpoint called by the deploy pipeline, which has
// no end-user session to authenticate.
func internalAuthOnly(secret string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token := r.Header.Get("X-Internal-Auth")
		if secret == "" || token != secret {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusUnauthorized)
			json.NewEncoder(w).Encode(map[string]interface{}{
				"success": false,
				"error":   "unauthorized",
			})
			return
		}
		next.ServeHTTP(w, r)
	}
}

// New creates and configures the Chi router with all routes.
func New(deps *Dependencies) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.SecurityHeaders)
	r.Use(middleware.Logging)
	r.Use(middleware.CORS(deps.FrontendURL))
	if deps.Metrics != nil {
		r.Use(middleware.Monitoring(deps.Metrics))
	}

	r.Get("/health", handler.Health(deps.DB, deps.Version))
	if deps.MetricsReg != nil {
		r.Handle("/metrics", middleware.MetricsHandler(deps.MetricsReg))
	}

	// Admin routes — internal auth only, called by the deploy pipeline.
	r.Post("/api/admin/migrate", internalAuthOnly(deps.InternalAuthSecret,
		handler.AdminMigrate(deps.AdminMigrateDeps)))

	r.Group(func(r chi.Router) {
		if deps.GeneralRateLimiter != nil {
			r.Use(middleware.RateLimit(deps.GeneralRateLimiter))
		}

		timeout30s := middleware.Timeout(30 * time.Second)

		// Chat — NO write timeout (/api/chat/stream is SSE). Stricter rate limit.
		chatRoutes := r.With()
		if deps.ChatRateLimiter != nil {
			chatRoutes = r.With(middleware.RateLimit(deps.ChatRateLimiter))
		}
		chatRoutes.Post("/api/chat", handler.Chat(deps.ChatDeps))
		chatRoutes.Post("/api/chat/stream", handler.ChatStream(deps.ChatDeps))

		r.With(timeout30s).Post("/api/feedback", handler.Feedback(deps.FeedbackDeps))
		r.With(timeout30s).Get("/api/debug/metrics", handler.DebugMetrics(deps.DebugDeps))

		// Ingestion may take longer than typical API calls (parse+chunk+embed).
		r.With(middleware.Timeout(120 * time.Second)).Post("/api/documents/ingest", handler.IngestDocument(deps.IngestDeps))
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		json.NewEncoder(w).Encode(map[string]interface{}{
			"success": false,
			"error":   "route not found",
		})
	})

	return r
}
