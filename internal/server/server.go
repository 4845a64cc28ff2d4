package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/roadsight/billboard-proxy/internal/analyzer"
	"github.com/roadsight/billboard-proxy/internal/auth"
	"github.com/roadsight/billboard-proxy/internal/config"
	"github.com/roadsight/billboard-proxy/internal/llm"
	"github.com/roadsight/billboard-proxy/internal/metrics"
)

// runtime is the per-config state a request works against. It is swapped
// as a whole on reload so a request never sees a mix of two configs.
type runtime struct {
	cfg      *config.Config
	analyzer *analyzer.Analyzer
	prober   llm.Prober
	auth     *auth.Service
}

type Server struct {
	cfg     config.ServerConfig
	server  *http.Server
	router  *chi.Mux
	metrics *metrics.Metrics
	state   atomic.Pointer[runtime]
}

func New(cfg *config.Config, m *metrics.Metrics) *Server {
	s := &Server{
		cfg:     cfg.Server,
		router:  chi.NewRouter(),
		metrics: m,
	}
	s.Reload(cfg)
	s.setupRoutes(cfg.CORS)

	s.server = &http.Server{
		Addr:         fmt.Sprintf("%s:%s", cfg.Server.Host, cfg.Server.Port),
		Handler:      s.router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	return s
}

// Reload swaps in a new configuration for subsequent requests. Listener
// settings and CORS origins of the service routes keep their startup values.
func (s *Server) Reload(cfg *config.Config) {
	rt := &runtime{
		cfg:      cfg,
		analyzer: analyzer.New(cfg, llm.NewHTTPRelay(cfg.OpenAI, nil), s.metrics),
		prober:   llm.NewOpenAI(cfg.OpenAI),
	}
	if cfg.Auth.Enabled {
		rt.auth = auth.NewService(cfg.Auth)
	}

	if s.state.Swap(rt) != nil {
		slog.Info("configuration reloaded", "actions", len(cfg.Actions), "auth", cfg.Auth.Enabled)
	}
}

func (s *Server) setupRoutes(corsCfg config.CORSConfig) {
	s.router.Use(requestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(logRequests)
	s.router.Use(middleware.Recoverer)

	// Analysis proxy; its CORS headers are fixed and written by the handler
	s.router.With(s.requireToken).HandleFunc("/", s.handleAnalyze)
	s.router.With(s.requireToken).HandleFunc("/api/analyze", s.handleAnalyze)

	s.router.Handle("/metrics", s.metrics.Handler())

	s.router.Route("/api/v1", func(r chi.Router) {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: corsCfg.AllowedOrigins,
			AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
			AllowedHeaders: []string{"Accept", "Authorization", "Content-Type", requestIDHeader},
			ExposedHeaders: []string{requestIDHeader},
			MaxAge:         300,
		}))

		r.Get("/health", s.handleHealth)
		r.Get("/ready", s.handleReady)
		r.Get("/stats", s.handleStats)
		r.Post("/auth/token", s.handleToken)
	})
}

func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) Run() error {
	// Create a channel to listen for errors coming from the listener
	serverErrors := make(chan error, 1)

	go func() {
		slog.Info("Starting server", "address", s.server.Addr)
		serverErrors <- s.server.ListenAndServe()
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		return fmt.Errorf("server error: %w", err)

	case sig := <-shutdown:
		slog.Info("Starting shutdown", "signal", sig)

		// Give outstanding requests a deadline for completion
		ctx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
		defer cancel()

		if err := s.server.Shutdown(ctx); err != nil {
			return fmt.Errorf("shutdown error: %w", err)
		}
	}

	return nil
}
