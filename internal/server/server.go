package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"github.com/lewisedginton/chat_memory/internal/api"
	appconfig "github.com/lewisedginton/chat_memory/internal/config"
	"github.com/lewisedginton/chat_memory/internal/mcp_server"
	"github.com/lewisedginton/chat_memory/pkg/health"
	"github.com/lewisedginton/chat_memory/pkg/health/checkers"
	"github.com/lewisedginton/chat_memory/pkg/httpmiddleware"
	"github.com/lewisedginton/chat_memory/pkg/logger"
	"github.com/lewisedginton/chat_memory/pkg/metrics"
)

// Server runs the HTTP API, the MCP endpoint and the background loops.
type Server struct {
	cfg        *appconfig.AppConfig
	log        logger.Logger
	components *Components
	metrics    *metrics.Metrics
	health     *health.HealthChecker
	handler    http.Handler
}

// New opens every component and builds the router. The caller owns the
// returned server and must call Run, which releases the components.
func New(ctx context.Context, cfg *appconfig.AppConfig, log logger.Logger) (*Server, error) {
	s := &Server{cfg: cfg, log: log}
	if cfg.Metrics.Enabled {
		s.metrics = metrics.NewMetrics(cfg.Metrics.EnableHTTPMetrics, log)
	}

	var err error
	s.components, err = Open(ctx, cfg, log, s.metrics)
	if err != nil {
		return nil, err
	}

	sessions := s.components.Sessions
	s.metrics.AddCustomMetric(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "memory_sessions_active",
		Help: "Conversation sessions held in memory",
	}, func() float64 { return float64(sessions.Len()) }))

	s.health = health.New(
		health.WithTimeout(cfg.Health.Timeout),
		health.WithFailureThreshold(cfg.Health.FailureThreshold),
		health.WithLogger(log),
	)
	s.health.AddReadinessCheck(checkers.NewBackendChecker(s.components.Store))

	s.handler, err = s.router()
	if err != nil {
		_ = s.components.Close(ctx)
		return nil, err
	}

	log.Info("Server initialized",
		logger.StringField("http_addr", cfg.HTTP.Addr()),
		logger.StringField("backend", s.components.Store.Name()),
		logger.StringField("mode", string(s.components.Store.Mode())))
	return s, nil
}

func (s *Server) router() (http.Handler, error) {
	c := s.components
	apiHandler, err := api.New(api.Config{
		Memories:  c.Memories,
		Sessions:  c.Sessions,
		Stats:     c.Stats,
		Optimizer: c.Optimizer,
		Exporter:  c.Exporter,
		Logger:    s.log,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create API handler: %w", err)
	}
	mcpServer, err := mcp_server.New(mcp_server.Config{
		Memories: c.Memories,
		Sessions: c.Sessions,
		Stats:    c.Stats,
		Logger:   s.log,
		Version:  s.cfg.Version,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create MCP server: %w", err)
	}

	r := chi.NewRouter()
	mw := httpmiddleware.DefaultConfig()
	mw.Logger = s.log
	mw.EnableLogging = true
	mw.Timeout = s.cfg.HTTP.WriteTimeout
	httpmiddleware.ApplyToRouter(r, mw)
	r.Use(s.metrics.HTTPMiddleware())

	r.Get("/health/live", s.health.LivenessHandler())
	r.Get("/health/ready", s.health.ReadinessHandler())
	r.Mount("/v1", apiHandler.Routes())
	r.Handle("/mcp", mcpServer.Handler())
	return r, nil
}

// Handler returns the root HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.handler
}

func (s *Server) Components() *Components {
	return s.components
}

// Run serves until ctx is cancelled or a component fails, then shuts the
// HTTP server down, flushes session snapshots and closes the backend.
func (s *Server) Run(ctx context.Context) error {
	httpServer := &http.Server{
		Addr:           s.cfg.HTTP.Addr(),
		Handler:        s.handler,
		ReadTimeout:    s.cfg.HTTP.ReadTimeout,
		WriteTimeout:   s.cfg.HTTP.WriteTimeout,
		IdleTimeout:    s.cfg.HTTP.IdleTimeout,
		MaxHeaderBytes: s.cfg.HTTP.MaxHeaderBytes,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		s.log.Info("Starting HTTP server", logger.StringField("addr", httpServer.Addr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.HTTP.ShutdownTimeout)
		defer cancel()
		s.log.Info("Gracefully closing HTTP server")
		return httpServer.Shutdown(shutdownCtx)
	})

	if s.metrics != nil {
		g.Go(func() error {
			return s.metrics.Listen(gctx, s.cfg.Metrics.Port)
		})
	}
	if s.cfg.Optimizer.Enabled {
		g.Go(func() error {
			return s.components.Optimizer.Start(gctx)
		})
	}
	g.Go(func() error {
		return s.components.Sessions.Run(gctx)
	})

	err := g.Wait()

	closeCtx, cancel := context.WithTimeout(context.Background(), s.cfg.HTTP.ShutdownTimeout)
	defer cancel()
	if closeErr := s.components.Close(closeCtx); closeErr != nil {
		s.log.Error("Error during shutdown", logger.ErrorField(closeErr))
		if err == nil {
			err = closeErr
		}
	}
	s.log.Info("Server exited")
	return err
}
