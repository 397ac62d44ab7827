package http

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"

	"QuantSim/pkg/http/middleware"
	"QuantSim/pkg/logger"
)

// ServerOption configures Server.
type ServerOption func(*ServerConfig)

// ServerConfig holds server configuration.
type ServerConfig struct {
	Host            string
	Port            int
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
	RateLimit       float64
	RateBurst       int
	MetricsPath     string
	MetricsHandler  http.Handler
	Registerer      prometheus.Registerer
	SlowThreshold   time.Duration
}

// Server wraps an Echo server.
type Server struct {
	echo   *echo.Echo
	config *ServerConfig
	log    *logger.Logger
	errCh  chan error
}

// NewServer builds the Echo instance and registers every handler.
func NewServer(l *logger.Logger, handlers []Handler, opts ...ServerOption) *Server {
	cfg := &ServerConfig{
		Host:            "0.0.0.0",
		Port:            8080,
		ReadTimeout:     15 * time.Second,
		WriteTimeout:    60 * time.Second,
		ShutdownTimeout: 10 * time.Second,
		MetricsPath:     "/metrics",
		SlowThreshold:   2 * time.Second,
	}
	for _, opt := range opts {
		opt(cfg)
	}
	if l == nil {
		l = logger.Nop()
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Server.ReadTimeout = cfg.ReadTimeout
	e.Server.WriteTimeout = cfg.WriteTimeout

	e.Use(middleware.Recover(l))
	e.Use(middleware.RequestLogging(l, cfg.SlowThreshold))
	if cfg.Registerer != nil {
		e.Use(middleware.Metrics(cfg.Registerer))
	}
	if cfg.RateLimit > 0 {
		e.Use(middleware.RateLimit(middleware.NewLimiter(cfg.RateLimit, cfg.RateBurst, nil), func(c echo.Context) error {
			return ErrorResponse(c, TooManyRequestsError())
		}))
	}

	e.GET("/healthz", func(c echo.Context) error {
		return SuccessResponse(c, map[string]string{"status": "ok"})
	})
	if cfg.MetricsHandler != nil {
		e.GET(cfg.MetricsPath, echo.WrapHandler(cfg.MetricsHandler))
	}
	for _, h := range handlers {
		if h != nil {
			h.RegisterRoutes(e)
		}
	}

	return &Server{echo: e, config: cfg, log: l, errCh: make(chan error, 1)}
}

// Start listens in the background. Listen failures arrive on Errors.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	go func() {
		s.log.Info("http server listening", logger.String("addr", addr))
		if err := s.echo.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Error("http server error", logger.Error(err))
			s.errCh <- err
		}
	}()
	return nil
}

// Errors reports a failure to listen.
func (s *Server) Errors() <-chan error { return s.errCh }

// Stop gracefully shuts down the HTTP server.
func (s *Server) Stop(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, s.config.ShutdownTimeout)
	defer cancel()
	if err := s.echo.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	s.log.Info("http server stopped")
	return nil
}

// Echo returns the underlying Echo instance.
func (s *Server) Echo() *echo.Echo { return s.echo }

func WithHost(host string) ServerOption {
	return func(c *ServerConfig) { c.Host = host }
}

func WithPort(port int) ServerOption {
	return func(c *ServerConfig) { c.Port = port }
}

// WithTimeouts sets read, write and shutdown timeouts.
func WithTimeouts(read, write, shutdown time.Duration) ServerOption {
	return func(c *ServerConfig) {
		c.ReadTimeout = read
		c.WriteTimeout = write
		c.ShutdownTimeout = shutdown
	}
}

// WithRateLimit enables per-client token buckets; rate <= 0 disables it.
func WithRateLimit(rate float64, burst int) ServerOption {
	return func(c *ServerConfig) {
		c.RateLimit = rate
		c.RateBurst = burst
	}
}

// WithMetrics exposes h at path and records request metrics on reg.
func WithMetrics(path string, h http.Handler, reg prometheus.Registerer) ServerOption {
	return func(c *ServerConfig) {
		if path != "" {
			c.MetricsPath = path
		}
		c.MetricsHandler = h
		c.Registerer = reg
	}
}
