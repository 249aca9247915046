package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/seantiz/fluxd/internal/assets"
	"github.com/seantiz/fluxd/internal/engine"
	"github.com/seantiz/fluxd/internal/engineapi"
	"github.com/seantiz/fluxd/internal/generation"
	"github.com/seantiz/fluxd/internal/outputs"
	"github.com/seantiz/fluxd/internal/store"
	"github.com/seantiz/fluxd/internal/workflow"
)

const (
	shutdownTimeout   = 10 * time.Second
	readHeaderTimeout = 10 * time.Second
	writeTimeout      = 30 * time.Second
)

// EngineProbe reports the supervised engine's lifecycle state.
type EngineProbe interface {
	IsRunning() bool
	State() engine.State
}

// EngineClient is the subset of the engine HTTP API the server proxies.
type EngineClient interface {
	Ping(ctx context.Context) error
	QueueStatus(ctx context.Context) (engineapi.QueueStatus, error)
}

// LogSource streams classified engine output.
type LogSource interface {
	Subscribe() (<-chan engine.LogLine, func())
	Recent(n int) []engine.LogLine
}

// Deps are the server's collaborators. Any of Outputs and Assets may be
// nil, in which case their routes answer 404.
type Deps struct {
	Store       store.Store
	Generations *generation.Service
	Variants    *workflow.Registry
	Engine      EngineProbe
	Client      EngineClient
	Logs        LogSource
	Outputs     *outputs.Dir
	Assets      *assets.Manager
}

// Server wraps the chi router and application dependencies.
type Server struct {
	router *chi.Mux
	deps   Deps
	logger *slog.Logger
	addr   string
}

// NewServer creates and configures a new HTTP server.
func NewServer(addr string, deps Deps, logger *slog.Logger) *Server {
	srv := &Server{
		router: chi.NewRouter(),
		deps:   deps,
		logger: logger,
		addr:   addr,
	}

	srv.router.Use(middleware.RequestID)
	srv.router.Use(middleware.Recoverer)
	srv.router.Use(srv.loggingMiddleware)
	srv.router.Use(metricsMiddleware)
	srv.router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-Id"},
		ExposedHeaders:   []string{"X-Request-Id", headerGenerationID, headerGenerationIDs},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	srv.routes()

	return srv
}

// routes registers all HTTP routes on the router.
func (s *Server) routes() {
	s.router.Get("/healthz", s.handleHealthz)
	s.router.Handle("/metrics", metricsHandler())

	s.router.Route("/v1", func(r chi.Router) {
		r.Get("/variants", s.handleListVariants)
		r.Get("/queue", s.handleQueueStatus)
		r.Get("/stats", s.handleGetStats)

		r.Post("/{variant}/generate", s.handleGenerate)
		r.Post("/{variant}/generate/bulk", s.handleGenerateBulk)

		r.Get("/generations", s.handleListGenerations)
		r.Get("/generations/{id}", s.handleGetGeneration)

		r.Get("/engine/logs", s.handleStreamEngineLogs)
		r.Get("/engine/logs/recent", s.handleRecentEngineLogs)

		r.Route("/images", func(r chi.Router) {
			r.Get("/", s.handleListImages)
			r.Delete("/", s.handleDeleteAllImages)
			r.Get("/archive", s.handleImageArchive)
			r.Get("/{name}", s.handleGetImage)
			r.Delete("/{name}", s.handleDeleteImage)
		})

		r.Route("/models", func(r chi.Router) {
			r.Get("/", s.handleListModels)
			r.Get("/{name}", s.handleGetModel)
			r.Post("/{name}/download", s.handleDownloadModel)
			r.Delete("/{name}", s.handleDeleteModel)
		})
	})
}

// Router returns the chi router for route registration.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// Run serves HTTP until ctx is cancelled, then shuts down gracefully.
// Request contexts derive from ctx, so in-flight submissions waiting on the
// engine are cancelled when shutdown begins.
func (s *Server) Run(ctx context.Context) error {
	httpServer := &http.Server{
		Addr:              s.addr,
		Handler:           s.router,
		ReadHeaderTimeout: readHeaderTimeout,
		WriteTimeout:      writeTimeout,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("server listening", "addr", s.addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("shutting down", "cause", context.Cause(ctx))
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}

	s.logger.Info("server stopped")
	return nil
}

// loggingMiddleware logs each request using the structured logger.
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		s.logger.Info("request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}
