// Package server sets up the HTTP server with all routes
package server

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	_ "github.com/lib/pq" // PostgreSQL driver

	"github.com/visitra/chaincore/internal/auth"
	"github.com/visitra/chaincore/internal/authority"
	"github.com/visitra/chaincore/internal/circuitbreaker"
	"github.com/visitra/chaincore/internal/config"
	"github.com/visitra/chaincore/internal/health"
	"github.com/visitra/chaincore/internal/idgen"
	"github.com/visitra/chaincore/internal/ledger"
	"github.com/visitra/chaincore/internal/logging"
	"github.com/visitra/chaincore/internal/metrics"
	"github.com/visitra/chaincore/internal/retry"
	"github.com/visitra/chaincore/internal/security"
	"github.com/visitra/chaincore/internal/session"
	"github.com/visitra/chaincore/internal/traces"
	"github.com/visitra/chaincore/internal/validation"
)

// Server wraps the HTTP server and dependencies
type Server struct {
	cfg          *config.Config
	client       ledger.Client
	breaker      *circuitbreaker.Breaker
	exec         *retry.Executor
	resolver     *authority.Resolver
	monitor      *health.Monitor
	sessions     *session.Manager
	sessionTimer *session.Timer
	guard        *security.Guard
	authSvc      *auth.Service
	authHandler  *auth.Handler
	db           *sql.DB // nil if using in-memory
	router       *gin.Engine
	httpSrv      *http.Server
	logger       *slog.Logger
	cancelRunCtx context.CancelFunc // cancels background goroutines started in Run
	traceStop    func(context.Context) error

	ready atomic.Bool
}

// Option configures the server
type Option func(*Server)

// WithLogger sets a custom logger
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

// WithLedger sets a custom ledger client (for testing)
func WithLedger(client ledger.Client) Option {
	return func(s *Server) {
		s.client = client
	}
}

// New creates a new server instance
func New(cfg *config.Config, opts ...Option) (*Server, error) {
	s := &Server{
		cfg:    cfg,
		logger: logging.New(cfg.LogLevel, "json"),
	}

	// Apply options first (may set ledger/logger)
	for _, opt := range opts {
		opt(s)
	}

	// Storage (Postgres if DATABASE_URL set, otherwise in-memory)
	var sessionStore session.Store
	var auditStore security.Store
	if cfg.DatabaseURL != "" {
		db, err := sql.Open("postgres", cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("failed to open database: %w", err)
		}

		db.SetMaxOpenConns(25)
		db.SetMaxIdleConns(5)
		db.SetConnMaxLifetime(5 * time.Minute)

		if err := db.Ping(); err != nil {
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}

		s.db = db
		sessionStore = session.NewPostgresStore(db)
		auditStore = security.NewPostgresStore(db)
		s.logger.Info("using PostgreSQL storage", "url", maskDSN(cfg.DatabaseURL))
	} else {
		sessionStore = session.NewMemoryStore()
		auditStore = security.NewMemoryStore()
		s.logger.Info("using in-memory storage (set DATABASE_URL for persistence)")
	}

	// Ledger client
	if s.client == nil {
		if cfg.RegistryContract == "" && cfg.IsDevelopment() {
			s.logger.Warn("no registry contract configured, using mock ledger")
			s.client = ledger.NewMock()
		} else {
			client, err := ledger.New(ledger.Config{
				RPCURL:           cfg.RPCURL,
				ChainID:          cfg.ChainID,
				RegistryContract: cfg.RegistryContract,
				OperatorKey:      cfg.OperatorKey,
			})
			if err != nil {
				return nil, fmt.Errorf("failed to create ledger client: %w", err)
			}
			s.client = client
		}
	}

	// Resilience layer: one breaker guards the whole ledger dependency
	s.breaker = circuitbreaker.New(cfg.CBFailureThreshold, cfg.CBOpenTimeout)
	s.breaker.OnTransition(func(from, to circuitbreaker.State) {
		s.logger.Warn("circuit breaker transition", "from", from.String(), "to", to.String())
	})
	s.exec = retry.NewExecutor(s.breaker, retry.Config{
		MaxRetries:  cfg.RetryMax,
		BaseDelay:   cfg.RetryBaseDelay,
		CallTimeout: cfg.CallTimeout,
	})

	var minBalance *big.Int
	if cfg.MinBalanceWei > 0 {
		minBalance = big.NewInt(cfg.MinBalanceWei)
	}
	s.resolver = authority.New(s.client, s.exec, authority.Config{
		MinBalanceWei:   minBalance,
		FallbackEnabled: cfg.FallbackMode,
	}, s.logger)
	if cfg.FallbackMode {
		s.logger.Warn("fallback mode enabled: admin authority degrades to authorized-with-warning when the ledger is unreachable")
	}

	s.monitor = health.New(s.client, s.exec, cfg.HealthCacheTTL, s.logger)

	// Sessions
	sessions, err := session.NewManager(sessionStore, []byte(cfg.SessionSecret), cfg.SessionLifetime)
	if err != nil {
		return nil, fmt.Errorf("failed to create session manager: %w", err)
	}
	s.sessions = sessions
	s.sessionTimer = session.NewTimer(sessions, cfg.SweepInterval, s.logger)

	// Security guard
	s.guard = security.NewGuard(security.Config{
		Window:     cfg.RateLimitWindow,
		MaxAuth:    cfg.RateLimitMaxAuth,
		MaxAPI:     cfg.RateLimitMaxAPI,
		MaxWallets: cfg.MaxWalletsPerIP,
		WebhookURL: cfg.AlertWebhookURL,
	}, auditStore, s.logger)

	s.authSvc = auth.NewService(sessions, s.resolver, s.guard, cfg.AdminUsername, cfg.AdminSecret, s.logger)
	s.authHandler = auth.NewHandler(s.authSvc, s.logger)

	// Router
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}
	s.router = gin.New()
	s.setupMiddleware()
	s.setupRoutes()

	return s, nil
}

func maskDSN(dsn string) string {
	u, err := url.Parse(dsn)
	if err != nil {
		return "***"
	}
	if u.User != nil {
		u.User = url.UserPassword(u.User.Username(), "***")
	}
	return u.String()
}

// -----------------------------------------------------------------------------
// Middleware
// -----------------------------------------------------------------------------

func (s *Server) setupMiddleware() {
	// Recovery with logging
	s.router.Use(gin.CustomRecovery(func(c *gin.Context, recovered interface{}) {
		logging.L(c.Request.Context()).Error("panic recovered",
			"error", recovered,
			"path", c.Request.URL.Path,
		)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "An unexpected error occurred",
		})
	}))

	// Security headers
	s.router.Use(security.HeadersMiddleware())

	// CORS
	origins := s.cfg.AllowedOrigins
	if len(origins) == 0 && s.cfg.IsDevelopment() {
		origins = []string{"*"}
	}
	s.router.Use(security.CORSMiddleware(origins))

	// Request size limit (1MB)
	s.router.Use(validation.RequestSizeMiddleware(validation.MaxRequestSize))

	// Prometheus metrics
	s.router.Use(metrics.Middleware())

	// Request ID
	s.router.Use(s.requestIDMiddleware())

	// Logging
	s.router.Use(s.loggingMiddleware())
}

func (s *Server) requestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		// Check for existing request ID (from load balancer, etc.)
		requestID := c.GetHeader("X-Request-ID")
		if requestID == "" {
			requestID = idgen.WithPrefix("req_")
		}

		ctx := logging.WithRequestID(c.Request.Context(), requestID)
		ctx = logging.WithLogger(ctx, s.logger)
		c.Request = c.Request.WithContext(ctx)

		c.Header("X-Request-ID", requestID)

		c.Next()
	}
}

func (s *Server) loggingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path

		c.Next()

		latency := time.Since(start)
		status := c.Writer.Status()

		logger := logging.L(c.Request.Context())

		switch {
		case status >= 500:
			logger.Error("request completed",
				"method", c.Request.Method,
				"path", path,
				"status", status,
				"latency_ms", latency.Milliseconds(),
				"client_ip", c.ClientIP(),
			)
		case status >= 400:
			logger.Warn("request completed",
				"method", c.Request.Method,
				"path", path,
				"status", status,
				"latency_ms", latency.Milliseconds(),
			)
		default:
			logger.Info("request completed",
				"method", c.Request.Method,
				"path", path,
				"status", status,
				"latency_ms", latency.Milliseconds(),
			)
		}
	}
}

// apiRateLimitMiddleware applies the general API rate limit by client IP.
func (s *Server) apiRateLimitMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		result := s.guard.CheckAPIRate(c.ClientIP())
		if !result.Allowed {
			retryAfter := int(result.RetryAfter(time.Now()).Seconds()) + 1
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error":       "rate_limit_exceeded",
				"message":     "Too many requests. Please slow down.",
				"retry_after": retryAfter,
			})
			return
		}
		c.Next()
	}
}

// -----------------------------------------------------------------------------
// Routes
// -----------------------------------------------------------------------------

func (s *Server) setupRoutes() {
	// Service health (process liveness, not ledger state)
	s.router.GET("/health", s.healthHandler)
	s.router.GET("/health/live", s.livenessHandler)
	s.router.GET("/health/ready", s.readinessHandler)

	// Prometheus metrics
	s.router.GET("/metrics", metrics.Handler())

	api := s.router.Group("/api/v1")
	api.Use(s.apiRateLimitMiddleware())

	// Login endpoints (public)
	s.authHandler.RegisterRoutes(api)

	// Ledger health snapshot (public, cached)
	api.GET("/ledger/health", s.ledgerHealthHandler)

	// Everything below requires a session
	protected := api.Group("")
	protected.Use(auth.RequireSession(s.sessions))

	s.authHandler.RegisterProtectedRoutes(protected)

	protected.POST("/records", s.createRecordHandler)
	protected.GET("/records/:id", s.verifyRecordHandler)

	protected.GET("/security/report", s.securityReportHandler)
	protected.GET("/security/audit", s.securityAuditHandler)
}

// -----------------------------------------------------------------------------
// Lifecycle
// -----------------------------------------------------------------------------

// Run starts the server and blocks until shutdown
func (s *Server) Run(ctx context.Context) error {
	// Cancellable context for background goroutines so Shutdown() can stop them.
	runCtx, cancel := context.WithCancel(ctx)
	s.cancelRunCtx = cancel

	traceStop, err := traces.Init(runCtx, s.cfg.OTLPEndpoint, s.logger)
	if err != nil {
		return fmt.Errorf("failed to initialize tracing: %w", err)
	}
	s.traceStop = traceStop

	s.httpSrv = &http.Server{
		Addr:              ":" + s.cfg.Port,
		Handler:           s.router,
		ReadTimeout:       10 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errChan := make(chan error, 1)

	go func() {
		s.logger.Info("starting server",
			"port", s.cfg.Port,
			"env", s.cfg.Env,
			"chain_id", s.cfg.ChainID,
		)
		if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	// Expired-session sweep
	go s.sessionTimer.Start(runCtx)

	// DB stats collector
	if s.db != nil {
		go metrics.StartDBStatsCollector(runCtx, s.db, 15*time.Second)
	}

	// Mark as ready after brief delay for startup
	go func() {
		time.Sleep(100 * time.Millisecond)
		s.ready.Store(true)
		s.logger.Info("server ready")
	}()

	// Wait for shutdown signal or error
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errChan:
		return fmt.Errorf("server error: %w", err)
	case sig := <-sigChan:
		s.logger.Info("shutdown signal received", "signal", sig.String())
	case <-ctx.Done():
		s.logger.Info("context cancelled")
	}

	return s.Shutdown()
}

// Shutdown gracefully stops the server
func (s *Server) Shutdown() error {
	s.ready.Store(false)
	s.logger.Info("starting graceful shutdown")

	// Cancel the context for all background goroutines
	if s.cancelRunCtx != nil {
		s.cancelRunCtx()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if s.httpSrv != nil {
		if err := s.httpSrv.Shutdown(ctx); err != nil {
			s.logger.Error("shutdown error", "error", err)
			return err
		}
	}

	s.sessionTimer.Stop()

	if s.traceStop != nil {
		if err := s.traceStop(ctx); err != nil {
			s.logger.Error("trace shutdown error", "error", err)
		}
	}

	if err := s.client.Close(); err != nil {
		s.logger.Error("ledger close error", "error", err)
	}

	if s.db != nil {
		if err := s.db.Close(); err != nil {
			s.logger.Error("database close error", "error", err)
		} else {
			s.logger.Info("database connection closed")
		}
	}

	s.logger.Info("server stopped")
	return nil
}

// Router returns the gin router for testing
func (s *Server) Router() *gin.Engine {
	return s.router
}
