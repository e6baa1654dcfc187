// Package server wires the escrow engine, its stores and the HTTP surface.
package server

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"os/signal"
	"strings"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	_ "github.com/lib/pq" // PostgreSQL driver
	"golang.org/x/sync/errgroup"

	"github.com/wiredan/wiredan/internal/auth"
	"github.com/wiredan/wiredan/internal/circuitbreaker"
	"github.com/wiredan/wiredan/internal/config"
	"github.com/wiredan/wiredan/internal/escrow"
	"github.com/wiredan/wiredan/internal/fees"
	"github.com/wiredan/wiredan/internal/health"
	"github.com/wiredan/wiredan/internal/ledger"
	"github.com/wiredan/wiredan/internal/logging"
	"github.com/wiredan/wiredan/internal/marketplace"
	"github.com/wiredan/wiredan/internal/metrics"
	"github.com/wiredan/wiredan/internal/orders"
	"github.com/wiredan/wiredan/internal/paystack"
	"github.com/wiredan/wiredan/internal/ratelimit"
	"github.com/wiredan/wiredan/internal/realtime"
	"github.com/wiredan/wiredan/internal/reconciliation"
	"github.com/wiredan/wiredan/internal/security"
	"github.com/wiredan/wiredan/internal/traces"
	"github.com/wiredan/wiredan/internal/validation"
	"github.com/wiredan/wiredan/internal/webhook"
)

// Version is reported by /health and the tracer resource.
var Version = "dev"

// webhookPath is exempt from rate limiting and JWT auth.
const webhookPath = "/v1/escrow/webhook"

// Server wraps the HTTP server and dependencies
type Server struct {
	cfg    *config.Config
	logger *slog.Logger
	db     *sql.DB // nil if using in-memory

	authMgr        *auth.Manager
	users          marketplace.Users
	listings       marketplace.Listings
	kyc            marketplace.Verifier // nil when no verifier is configured
	orderStore     orders.Store
	orderService   *orders.Service
	ledger         *ledger.Ledger
	gateway        escrow.Gateway
	breaker        *circuitbreaker.Breaker
	escrowService  *escrow.Service
	escrowTimer    *escrow.Timer
	deliveries     webhook.Store
	ingestor       *webhook.Ingestor
	reconciler     *reconciliation.Service
	reconcileTimer *reconciliation.Timer
	hub            *realtime.Hub
	health         *health.Registry
	rateLimiter    *ratelimit.Limiter
	traceShutdown  func(context.Context) error

	router  *gin.Engine
	httpSrv *http.Server

	ready   atomic.Bool
	healthy atomic.Bool
}

// Option configures the server
type Option func(*Server)

// WithLogger sets a custom logger
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) { s.logger = logger }
}

// WithGateway replaces the Paystack client (for testing).
func WithGateway(g escrow.Gateway) Option {
	return func(s *Server) { s.gateway = g }
}

// WithMarketplace replaces the user and listing readers. A MemoryStore
// also serves as the KYC verifier.
func WithMarketplace(users marketplace.Users, listings marketplace.Listings) Option {
	return func(s *Server) {
		s.users = users
		s.listings = listings
		if v, ok := users.(marketplace.Verifier); ok {
			s.kyc = v
		}
	}
}

// New creates a new server instance
func New(cfg *config.Config, opts ...Option) (*Server, error) {
	s := &Server{
		cfg:    cfg,
		logger: logging.New(cfg.LogLevel, cfg.LogFormat),
	}
	for _, opt := range opts {
		opt(s)
	}

	ctx := context.Background()

	schedule, err := fees.NewSchedule(cfg.FeeBuyer, cfg.FeeSeller)
	if err != nil {
		return nil, fmt.Errorf("fee schedule: %w", err)
	}

	shutdownTracing, err := traces.Init(ctx, traces.Config{
		Endpoint:    cfg.OTLPEndpoint,
		Version:     Version,
		Environment: cfg.Env,
		SampleRatio: cfg.TraceSampleRatio,
	}, s.logger)
	if err != nil {
		s.logger.Warn("failed to initialize tracing", "error", err)
		shutdownTracing = func(context.Context) error { return nil }
	}
	s.traceShutdown = shutdownTracing

	var (
		ledgerStore ledger.Store
		escrowStore escrow.Store
	)
	if cfg.DatabaseURL != "" {
		db, err := sql.Open("postgres", cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("failed to open database: %w", err)
		}
		db.SetMaxOpenConns(cfg.DBMaxOpenConns)
		db.SetMaxIdleConns(cfg.DBMaxIdleConns)
		db.SetConnMaxLifetime(cfg.DBConnMaxLife)

		pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()
		if err := db.PingContext(pingCtx); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}
		s.db = db
		if err := metrics.RegisterDB(db, "wiredan"); err != nil {
			s.logger.Warn("db pool metrics unavailable", "error", err)
		}
		s.logger.Info("using PostgreSQL storage", "url", maskDSN(cfg.DatabaseURL))

		if s.users == nil {
			dir := marketplace.NewPostgresStore(db)
			s.users, s.listings = dir, dir
		}
		s.orderStore = orders.NewPostgresStore(db)
		ledgerStore = ledger.NewPostgresStore(db)
		escrowStore = escrow.NewPostgresStore(db)
		s.deliveries = webhook.NewPostgresStore(db)
	} else {
		s.logger.Info("using in-memory storage (data will not persist)")
		if s.users == nil {
			dir := marketplace.NewMemoryStore()
			s.users, s.listings, s.kyc = dir, dir, dir
		}
		s.orderStore = orders.NewMemoryStore()
		ledgerStore = ledger.NewMemoryStore()
		escrowStore = escrow.NewMemoryStore(s.orderStore, ledgerStore)
		s.deliveries = webhook.NewMemoryStore()
	}

	directory := marketplace.NewDirectory(s.users, s.listings)
	s.orderService = orders.NewService(s.orderStore, directory)
	s.ledger = ledger.New(ledgerStore)

	if s.gateway == nil {
		s.breaker = circuitbreaker.NewWithConfig(circuitbreaker.Config{
			Threshold: 5,
			Cooldown:  30 * time.Second,
			OnStateChange: func(op string, from, to circuitbreaker.State) {
				s.logger.Warn("paystack circuit changed", "op", op, "from", from.String(), "to", to.String())
			},
		})
		s.gateway = paystack.NewClient(paystack.Config{
			SecretKey:   cfg.PaystackSecretKey,
			BaseURL:     cfg.PaystackBaseURL,
			CallbackURL: cfg.PaystackCallbackURL,
			Timeout:     cfg.GatewayTimeout,
		}, paystack.WithBreaker(s.breaker), paystack.WithLogger(s.logger))
	}

	s.hub = realtime.NewHub(s.logger)
	s.escrowService = escrow.NewService(escrowStore, s.orderStore, s.gateway, schedule).
		WithNotifier(s.hub).
		WithLogger(s.logger)
	if cfg.ProviderRefunds {
		s.escrowService.WithProviderRefunds(ledgerStore)
		s.logger.Info("refunds are returned to the buyer's card")
	}
	s.escrowTimer = escrow.NewTimer(s.escrowService, cfg.AutoReleaseAfter, s.logger)

	s.ingestor = webhook.NewIngestor(cfg.PaystackSecretKey, s.escrowService, s.deliveries).WithLogger(s.logger)

	s.reconciler = reconciliation.NewService(escrowStore, s.escrowService, cfg.ReconcilePendingAfter, s.logger)
	s.reconcileTimer = reconciliation.NewTimer(s.reconciler, cfg.ReconcileInterval, s.logger)

	s.authMgr = auth.NewManager(cfg.JWTSecret, cfg.AdminUserIDs)

	s.health = health.NewRegistry(5 * time.Second)
	if s.db != nil {
		s.health.Register("database", health.DatabaseCheck(s.db))
	}
	if s.breaker != nil {
		s.health.Register("paystack", health.BreakerCheck("paystack", s.breaker))
	}

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}
	s.router = gin.New()
	s.setupMiddleware()
	s.setupRoutes()

	s.healthy.Store(true)
	return s, nil
}

// maskDSN hides password in connection string for logging
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
	s.router.Use(gin.CustomRecovery(func(c *gin.Context, recovered any) {
		logging.L(c.Request.Context()).Error("panic recovered",
			"error", recovered,
			"path", c.Request.URL.Path,
		)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "An unexpected error occurred",
		})
	}))

	s.router.Use(traces.Middleware())
	s.router.Use(s.requestIDMiddleware())
	s.router.Use(s.loggingMiddleware())
	s.router.Use(metrics.Middleware())
	s.router.Use(security.HeadersMiddleware(security.HeadersOptions{HSTS: s.cfg.IsProduction()}))
	s.router.Use(security.CORSMiddleware(s.cfg.CORSOrigins))
	s.router.Use(validation.RequestSizeMiddleware(validation.MaxRequestSize))

	// Auth runs before the limiter so signed-in users get their own bucket.
	s.router.Use(auth.Middleware(s.authMgr))
	rl := ratelimit.DefaultConfig()
	rl.RequestsPerMinute = s.cfg.RateLimitRPM
	rl.Exempt = []string{webhookPath, "/health", "/metrics"}
	s.rateLimiter = ratelimit.New(rl)
	s.router.Use(s.rateLimiter.Middleware())

	s.router.Use(s.timeoutMiddleware())
}

func (s *Server) requestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := c.GetHeader("X-Request-ID")
		if requestID == "" || len(requestID) > 128 {
			requestID = generateRequestID()
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

		status := c.Writer.Status()
		attrs := []any{
			"method", c.Request.Method,
			"path", path,
			"status", status,
			"latency_ms", time.Since(start).Milliseconds(),
		}
		logger := logging.L(c.Request.Context())
		switch {
		case status >= 500:
			logger.Error("request completed", append(attrs, "client_ip", c.ClientIP())...)
		case status >= 400:
			logger.Warn("request completed", attrs...)
		default:
			logger.Info("request completed", attrs...)
		}
	}
}

// timeoutMiddleware bounds the request context. Websocket streams are
// long-lived and skip it.
func (s *Server) timeoutMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if s.cfg.RequestTimeout <= 0 || strings.HasSuffix(c.Request.URL.Path, "/stream") {
			c.Next()
			return
		}
		ctx, cancel := context.WithTimeout(c.Request.Context(), s.cfg.RequestTimeout)
		defer cancel()
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

// -----------------------------------------------------------------------------
// Routes
// -----------------------------------------------------------------------------

func (s *Server) setupRoutes() {
	s.router.GET("/health", s.health.Handler(Version))
	s.router.GET("/health/live", s.livenessHandler)
	s.router.GET("/health/ready", s.readinessHandler)
	s.router.GET("/metrics", metrics.Handler())

	v1 := s.router.Group("/v1")

	// Provider callbacks are gated by the HMAC signature, not a token.
	webhookHandler := webhook.NewHandler(s.ingestor, s.deliveries)
	webhookHandler.RegisterRoutes(v1)

	protected := v1.Group("")
	protected.Use(auth.RequireAuth())

	admin := v1.Group("/admin")
	admin.Use(auth.RequireAdmin())

	authHandler := auth.NewHandler(s.authMgr)
	authHandler.RegisterProtectedRoutes(protected)
	authHandler.RegisterAdminRoutes(v1.Group("", auth.RequireAdmin()))

	orderHandler := orders.NewHandler(s.orderService).
		WithEscrowView(s.escrowService).
		WithStreamer(s.hub)
	orderHandler.RegisterProtectedRoutes(protected)

	escrowHandler := escrow.NewHandler(s.escrowService)
	escrowHandler.RegisterProtectedRoutes(protected)
	escrowHandler.RegisterAdminRoutes(admin)
	// Also served at /v1/escrow/refund and /v1/dispute/resolve.
	escrowHandler.RegisterAdminRoutes(v1.Group("", auth.RequireAdmin()))

	ledgerHandler := ledger.NewHandler(s.ledger, marketplace.NewDirectory(s.users, s.listings), s.cfg.Currency)
	ledgerHandler.RegisterProtectedRoutes(protected)

	if s.kyc != nil {
		marketplace.NewHandler(s.kyc).RegisterProtectedRoutes(protected)
	}

	webhookHandler.RegisterAdminRoutes(admin)
	reconciliation.NewHandler(s.reconciler).RegisterAdminRoutes(admin)
	admin.GET("/stream/stats", func(c *gin.Context) {
		c.JSON(http.StatusOK, s.hub.Stats())
	})
}

func (s *Server) livenessHandler(c *gin.Context) {
	if !s.healthy.Load() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unhealthy"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "alive"})
}

func (s *Server) readinessHandler(c *gin.Context) {
	if !s.ready.Load() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "not_ready"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ready"})
}

// -----------------------------------------------------------------------------
// Lifecycle
// -----------------------------------------------------------------------------

// Run serves HTTP and the background loops until ctx is cancelled or the
// process receives SIGINT/SIGTERM, then shuts everything down.
func (s *Server) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	s.httpSrv = &http.Server{
		Addr:              ":" + s.cfg.Port,
		Handler:           s.router,
		ReadTimeout:       10 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		s.logger.Info("starting server", "port", s.cfg.Port, "env", s.cfg.Env)
		if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})
	g.Go(func() error { s.hub.Run(gctx); return nil })
	g.Go(func() error { s.escrowTimer.Start(gctx); return nil })
	g.Go(func() error { s.reconcileTimer.Start(gctx); return nil })
	g.Go(func() error {
		s.ready.Store(true)
		s.logger.Info("server ready")
		<-gctx.Done()
		s.logger.Info("shutdown signal received")
		return s.shutdown()
	})

	return g.Wait()
}

// shutdown drains HTTP, then stops the loops and closes stores.
func (s *Server) shutdown() error {
	s.ready.Store(false)
	s.logger.Info("starting graceful shutdown")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	var errs []error
	if err := s.httpSrv.Shutdown(ctx); err != nil {
		s.logger.Error("shutdown error", "error", err)
		errs = append(errs, err)
	}

	s.escrowTimer.Stop()
	s.reconcileTimer.Stop()
	s.rateLimiter.Stop()

	if err := s.traceShutdown(ctx); err != nil {
		s.logger.Warn("tracer shutdown error", "error", err)
	}

	if s.db != nil {
		if err := s.db.Close(); err != nil {
			s.logger.Error("database close error", "error", err)
			errs = append(errs, err)
		} else {
			s.logger.Info("database connection closed")
		}
	}

	s.logger.Info("server stopped")
	return errors.Join(errs...)
}

// Router returns the gin router for testing
func (s *Server) Router() *gin.Engine {
	return s.router
}

// AuthManager returns the token manager (for tests and ops tooling).
func (s *Server) AuthManager() *auth.Manager {
	return s.authMgr
}

func generateRequestID() string {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return fmt.Sprintf("%d", time.Now().UnixNano())
	}
	return hex.EncodeToString(b)
}
