package web

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/alavescortez-del/gingerai-sub000/internal/config"
	"github.com/alavescortez-del/gingerai-sub000/internal/logger"
)

// NewRouter wires the HTTP surface: a public health check and the
// authenticated chat API.
func NewRouter(cfg *config.Config, handlers *Handlers, log *logger.Logger) *chi.Mux {
	r := chi.NewRouter()

	r.Use(requestLogger(log))
	r.Use(corsMiddleware)

	r.Get("/health", handlers.HealthCheck)

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(AuthMiddleware(cfg.Auth.JWTSecret, cfg.Auth.Issuer))

		r.Route("/chat", func(r chi.Router) {
			r.Post("/turn", handlers.Turn)
			r.Post("/action", handlers.Action)
			r.Get("/history", handlers.History)
			r.Get("/events", handlers.Events)
		})

		r.Get("/personas/{id}", func(w http.ResponseWriter, req *http.Request) {
			handlers.GetPersona(w, req, chi.URLParam(req, "id"))
		})
		r.Get("/scenarios/{id}", func(w http.ResponseWriter, req *http.Request) {
			handlers.GetScenario(w, req, chi.URLParam(req, "id"))
		})
	})

	return r
}

func requestLogger(log *logger.Logger) func(http.Handler) http.Handler {
	l := log.With("component", "http")
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			next.ServeHTTP(w, r)
			l.Debug("request", "method", r.Method, "path", r.URL.Path, "duration", time.Since(start))
		})
	}
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "*")
		w.Header().Set("Access-Control-Max-Age", "300")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}
