// Package api serves the bridge's HTTP surface: Prometheus metrics,
// health probes and a small JSON status API.
package api

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/samber/oops"

	"github.com/fadmin-project/fadmin/internal/config"
	"github.com/fadmin-project/fadmin/internal/rcon"
	"github.com/fadmin-project/fadmin/internal/util"
)

// Session is the view of the RCON session the API reads.
type Session interface {
	State() rcon.State
	Version() string
	Send(ctx context.Context, command string) (string, error)
}

// Server is the observability HTTP server.
type Server struct {
	cfg      config.MetricsConfig
	session  Session
	registry *prometheus.Registry
	started  time.Time
	system   util.SystemInfo
	logger   zerolog.Logger

	router *gin.Engine
}

// NewServer creates a new API server. registry backs /metrics.
func NewServer(cfg config.MetricsConfig, session Session, registry *prometheus.Registry) *Server {
	if cfg.ScrapeTimeout <= 0 {
		cfg.ScrapeTimeout = 10 * time.Second
	}
	s := &Server{
		cfg:      cfg,
		session:  session,
		registry: registry,
		started:  time.Now(),
		system:   util.GetSystemInfo(),
		logger:   util.ComponentLogger("api"),
	}
	s.router = s.buildRouter()
	return s
}

// Handler returns the HTTP handler serving every route.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start listens on the configured address and serves until ctx is
// cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	lc := reuseAddrListenConfig()
	ln, err := lc.Listen(ctx, "tcp", s.cfg.Address())
	if err != nil {
		return oops.In("api").With("addr", s.cfg.Address()).Wrapf(err, "failed to listen")
	}
	return s.Serve(ctx, ln)
}

// Serve serves on ln until ctx is cancelled.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	httpServer := &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      s.cfg.ScrapeTimeout + 10*time.Second,
		IdleTimeout:       120 * time.Second,
	}

	s.logger.Info().Str("addr", ln.Addr().String()).Msg("metrics server starting")

	shutdownDone := make(chan struct{})
	go func() {
		defer close(shutdownDone)
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			s.logger.Warn().Err(err).Msg("metrics server shutdown incomplete")
		}
	}()

	err := httpServer.Serve(ln)
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		return oops.In("api").Wrapf(err, "metrics server error")
	}
	<-shutdownDone

	s.logger.Info().Msg("metrics server stopped")
	return nil
}

// buildRouter creates the Gin router with all routes and middleware.
func (s *Server) buildRouter() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	if zerolog.GlobalLevel() <= zerolog.DebugLevel {
		gin.SetMode(gin.DebugMode)
	}

	router := gin.New()

	router.Use(gin.Recovery())
	router.Use(RequestLogger(s.logger))
	router.Use(SecurityHeaders())

	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
		// A missing game pidfile must not hide the game metrics.
		ErrorHandling: promhttp.ContinueOnError,
		ErrorLog:      promLogger{s.logger},
		Timeout:       s.cfg.ScrapeTimeout + 5*time.Second,
	})))

	router.GET("/healthz/liveness", s.handleLiveness)
	router.GET("/healthz/readiness", s.handleReadiness)

	api := router.Group("/api")
	api.Use(cors.New(cors.Config{
		AllowOrigins:     []string{"*"},
		AllowMethods:     []string{"GET", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: false, // Must be false when AllowOrigins is "*"
		MaxAge:           12 * time.Hour,
	}))
	api.Use(NewRateLimiter(5).Middleware())
	{
		api.GET("/ping", s.handlePing)
		api.GET("/status", s.handleStatus)
		api.GET("/players", s.handlePlayers)
	}

	router.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"error": "endpoint not found"})
	})

	return router
}

// promLogger routes promhttp errors into zerolog.
type promLogger struct{ logger zerolog.Logger }

func (l promLogger) Println(v ...interface{}) {
	l.logger.Warn().Msg(fmtArgs(v))
}
