package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/taibuivan/storyforge/internal/factory"
	"github.com/taibuivan/storyforge/internal/svcctx"
)

// Server wraps the chi router and the underlying http.Server. Constructed
// once in cmd/storyforge's serve command with a fully wired Factory.
type Server struct {
	httpServer *http.Server
	router     *chi.Mux
	factory    *factory.Factory
	logger     *slog.Logger
}

// Config configures the HTTP listener and operator auth.
type Config struct {
	Addr         string // e.g. "127.0.0.1:8080"
	OperatorAuth string // HMAC secret; empty disables auth (dev only)
}

// New constructs the router, registers every route, and wraps it in an
// http.Server bound to cfg.Addr.
func New(f *factory.Factory, cfg Config, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}

	var verifier TokenVerifier
	if cfg.OperatorAuth != "" {
		verifier = NewHMACVerifier(cfg.OperatorAuth)
	}

	services := f.Services()

	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(chimw.Timeout(30 * time.Second))
	r.Use(withServices(services))

	r.Get("/health", handleHealth)
	r.Get("/ready", handleReady(f))

	r.Route("/projects/{projectID}", func(pr chi.Router) {
		pr.Use(authenticate(verifier))
		pr.Get("/status", handleStatus)
		pr.Post("/run", handleRun)
		pr.Post("/pause", handlePause)
		pr.Post("/resume", handleResume)
		pr.Post("/stop", handleStop)
	})

	r.Route("/publisher", func(pr chi.Router) {
		pr.Use(authenticate(verifier))
		pr.Post("/tick", handleTick)
	})

	return &Server{
		router:  r,
		factory: f,
		logger:  logger,
		httpServer: &http.Server{
			Addr:              cfg.Addr,
			Handler:           r,
			ReadHeaderTimeout: 10 * time.Second,
		},
	}
}

// Start blocks serving HTTP until ctx is cancelled, then shuts down
// gracefully with a 10s deadline.
func (s *Server) Start(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("api server listening", "addr", s.httpServer.Addr)
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return s.httpServer.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// withServices injects services into every request's context, so
// handlers extract what they need via svcctx accessors instead of
// closing over a *factory.Factory.
func withServices(services *svcctx.Services) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			next.ServeHTTP(w, r.WithContext(svcctx.WithServices(r.Context(), services)))
		})
	}
}
