package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	apihttp "github.com/GriffinCanCode/webshell/internal/api/http"
	"github.com/GriffinCanCode/webshell/internal/api/middleware"
	"github.com/GriffinCanCode/webshell/internal/api/ws"
	"github.com/GriffinCanCode/webshell/internal/domain/terminal"
	"github.com/GriffinCanCode/webshell/internal/infrastructure/config"
	"github.com/GriffinCanCode/webshell/internal/infrastructure/logging"
	"github.com/GriffinCanCode/webshell/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/webshell/internal/providers/auth"
	"github.com/GriffinCanCode/webshell/internal/pty"
)

// Server wraps the HTTP server and dependencies
type Server struct {
	router   *gin.Engine
	http     *http.Server
	registry *terminal.Registry
	logger   *logging.Logger
	config   *config.Config
	metrics  *monitoring.Metrics

	// cancel ends every attached terminal connection.
	cancel    context.CancelFunc
	closeOnce sync.Once
}

// NewServer creates a new server instance
func NewServer(cfg *config.Config) (*Server, error) {
	logger, err := logging.New(logging.Config{
		Level:       cfg.Logging.Level,
		Development: cfg.Logging.Development,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}

	logger.Info("Initializing webshell server",
		zap.String("addr", net.JoinHostPort(cfg.Server.Host, cfg.Server.Port)),
		zap.Int("max_sessions", cfg.Terminal.MaxSessions),
		zap.Duration("idle_timeout", cfg.Terminal.IdleTimeout()),
	)

	// Initialize metrics first (needed by other components)
	promRegistry := prometheus.NewRegistry()
	promRegistry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics := monitoring.NewMetrics(promRegistry)

	verifier, err := auth.NewVerifier(auth.Config{
		Tokens:        cfg.Auth.Tokens,
		TrustedHeader: cfg.Auth.TrustedHeader,
	})
	if err != nil {
		return nil, fmt.Errorf("invalid auth configuration: %w", err)
	}
	if !verifier.Enabled() {
		logger.Warn("No AUTH_TOKENS or AUTH_TRUSTED_HEADER configured, every connection will be rejected")
	}

	shell := cfg.Terminal.Shell
	if shell == "" {
		shell = pty.DefaultShell()
	}
	if resolved, err := pty.LookShell(shell); err != nil {
		logger.Warn("Configured shell not found, sessions will fail to start", zap.String("shell", shell), zap.Error(err))
	} else {
		logger.Info("Using shell", zap.String("shell", resolved))
	}

	registry := terminal.NewRegistry(terminal.RegistryConfig{
		MaxSessions: cfg.Terminal.MaxSessions,
		Session: terminal.SessionConfig{
			Shell:      shell,
			WorkingDir: cfg.Terminal.WorkingDir,
			KillGrace:  cfg.Terminal.KillGrace,
		},
	}, logger.Logger, metrics)

	// Create router
	if !cfg.Logging.Development {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()

	// Add middleware
	router.Use(gin.Recovery())
	router.Use(middleware.RequestLogger(logger.Logger))
	router.Use(monitoring.Middleware(metrics))
	if len(cfg.Server.AllowedOrigins) > 0 {
		router.Use(middleware.CORS(middleware.DefaultCORSConfig(cfg.Server.AllowedOrigins)))
	}
	if cfg.RateLimit.Enabled {
		logger.Info("Rate limiting enabled",
			zap.Int("rps", cfg.RateLimit.RequestsPerSecond),
			zap.Int("burst", cfg.RateLimit.Burst),
		)
		rl := middleware.DefaultRateLimitConfig()
		rl.RequestsPerSecond = cfg.RateLimit.RequestsPerSecond
		rl.Burst = cfg.RateLimit.Burst
		router.Use(middleware.RateLimit(rl))
	}

	ctx, cancel := context.WithCancel(context.Background())

	// Create handlers
	handlers := apihttp.NewHandlers(registry, verifier, metrics, logger.Logger)
	wsHandler := ws.NewHandler(ctx, registry, verifier, ws.Config{
		AllowedOrigins: cfg.Server.AllowedOrigins,
		Bridge: terminal.BridgeConfig{
			PollInterval:   cfg.Terminal.PollInterval,
			ReceiveTimeout: cfg.Terminal.ReceiveTimeout,
			IdleTimeout:    cfg.Terminal.IdleTimeout(),
			Scrollback:     cfg.Terminal.Scrollback,
		},
	}, logger, metrics)

	// Register routes
	router.GET("/", handlers.Root)
	router.GET("/health", handlers.Health)
	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(promRegistry, promhttp.HandlerOpts{Registry: promRegistry})))

	// Own session
	router.GET("/api/terminal/session", handlers.GetSession)
	router.DELETE("/api/terminal/session", handlers.DeleteSession)

	// WebSocket
	router.GET("/ws/terminal", wsHandler.HandleConnection)

	logger.Info("Server initialized successfully")

	return &Server{
		router:   router,
		http:     &http.Server{Addr: net.JoinHostPort(cfg.Server.Host, cfg.Server.Port), Handler: router},
		registry: registry,
		logger:   logger,
		config:   cfg,
		metrics:  metrics,
		cancel:   cancel,
	}, nil
}

// Handler returns the routed HTTP handler
func (s *Server) Handler() http.Handler {
	return s.router
}

// Registry returns the terminal session registry
func (s *Server) Registry() *terminal.Registry {
	return s.registry
}

// Run starts the HTTP server and blocks until it stops. It returns nil
// after Close.
func (s *Server) Run() error {
	s.logger.Info("Starting HTTP server", zap.String("addr", s.http.Addr))
	if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Close gracefully shuts down the server. Attached clients are told the
// server is going away, then every shell is reaped.
func (s *Server) Close() error {
	var err error
	s.closeOnce.Do(func() {
		s.logger.Info("Shutting down server...")

		// WebSocket connections are hijacked, so http.Server.Shutdown does
		// not wait for them.
		s.cancel()

		ctx, cancel := context.WithTimeout(context.Background(), s.config.Server.ShutdownTimeout)
		defer cancel()
		if shutdownErr := s.http.Shutdown(ctx); shutdownErr != nil {
			s.logger.Error("HTTP shutdown failed", zap.Error(shutdownErr))
			err = fmt.Errorf("failed to shut down http server: %w", shutdownErr)
		}

		s.registry.Shutdown()
		s.logger.Info("Server stopped", zap.Any("metrics", s.metrics.Snapshot()))

		// Sync logger before exit
		_ = s.logger.Sync()
	})
	return err
}
