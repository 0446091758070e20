// ABOUTME: Lookbook HTTP server exposing run management, generation, and call-history routes behind a chi router.
// ABOUTME: Thin translation layer: handlers map orchestrator errors onto transport status codes.
package web

import (
	"crypto/subtle"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	gocache "github.com/patrickmn/go-cache"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/lookbook-studio/lookbook/history"
	"github.com/lookbook-studio/lookbook/orchestrator"
	"github.com/lookbook-studio/lookbook/store"
)

const runListCacheKey = "runs"

// Server is the lookbook HTTP server.
type Server struct {
	runs      *store.FSRunStore
	orch      *orchestrator.Orchestrator
	calls     *history.CallLog
	router    chi.Router
	addr      string
	authToken string

	// summaries caches the run-list response; any run mutation flushes it.
	summaries *gocache.Cache
}

// ServerConfig holds the configuration for the web server.
type ServerConfig struct {
	Addr      string // listen address (default: "127.0.0.1:8090")
	AuthToken string // optional bearer token; empty disables auth
	Registry  *prometheus.Registry
}

// NewServer creates a Server wired to the given stores and orchestrator.
func NewServer(cfg ServerConfig, runs *store.FSRunStore, orch *orchestrator.Orchestrator, calls *history.CallLog) *Server {
	if cfg.Addr == "" {
		cfg.Addr = "127.0.0.1:8090"
	}

	s := &Server{
		runs:      runs,
		orch:      orch,
		calls:     calls,
		addr:      cfg.Addr,
		authToken: cfg.AuthToken,
		summaries: gocache.New(30*time.Second, time.Minute),
	}
	s.router = s.buildRouter(cfg.Registry)
	return s
}

// ServeHTTP delegates to the chi router, satisfying http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// HTTPServer returns an http.Server with timeouts to prevent resource
// exhaustion from slow clients. Generation requests block while polling the
// provider, so the write timeout is generous.
func (s *Server) HTTPServer() *http.Server {
	return &http.Server{
		Addr:              s.addr,
		Handler:           s,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      10 * time.Minute,
		IdleTimeout:       2 * time.Minute,
	}
}

func (s *Server) buildRouter(registry *prometheus.Registry) chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Get("/health", s.handleHealth)
	if registry != nil {
		r.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	}

	r.Route("/api", func(r chi.Router) {
		if s.authToken != "" {
			r.Use(s.requireAuth)
		}

		r.Route("/runs", func(r chi.Router) {
			r.Get("/", s.handleRunList)
			r.Post("/", s.handleRunCreate)

			r.Route("/{runID}", func(r chi.Router) {
				r.Get("/", s.handleRunGet)
				r.Post("/inputs", s.handleSelectInput)
				r.Post("/settings", s.handleSetSettings)
				r.Post("/complete", s.handleRunComplete)
				r.Post("/archive", s.handleRunArchive)

				r.Post("/generate", s.handleGenerate)
				r.Post("/regenerate", s.handleRegenerate)
				r.Post("/generate-all", s.handleGenerateAll)

				r.Get("/results/{file}", s.handleResultFile)
				r.Get("/calls", s.handleRunCalls)
			})
		})

		r.Route("/calls", func(r chi.Router) {
			r.Get("/", s.handleCallList)
			r.Get("/{callID}", s.handleCallGet)
			r.Post("/clear", s.handleCallsClear)
			r.Post("/prune", s.handleCallsPrune)
		})
	})

	return r
}

// requireAuth enforces a constant-time bearer token check on API routes.
func (s *Server) requireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		if subtle.ConstantTimeCompare([]byte(token), []byte(s.authToken)) != 1 {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// invalidateSummaries drops the cached run list after any run mutation.
func (s *Server) invalidateSummaries() {
	s.summaries.Delete(runListCacheKey)
}
