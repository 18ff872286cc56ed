// Package server sets up the HTTP server with all routes
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
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	_ "github.com/lib/pq" // PostgreSQL driver

	"github.com/ITDevS919/trustverify/internal/checks"
	"github.com/ITDevS919/trustverify/internal/config"
	"github.com/ITDevS919/trustverify/internal/dispute"
	"github.com/ITDevS919/trustverify/internal/escrow"
	"github.com/ITDevS919/trustverify/internal/health"
	"github.com/ITDevS919/trustverify/internal/logging"
	"github.com/ITDevS919/trustverify/internal/metrics"
	"github.com/ITDevS919/trustverify/internal/onboarding"
	"github.com/ITDevS919/trustverify/internal/ratelimit"
	"github.com/ITDevS919/trustverify/internal/realtime"
	"github.com/ITDevS919/trustverify/internal/security"
	"github.com/ITDevS919/trustverify/internal/transactions"
	"github.com/ITDevS919/trustverify/internal/trust"
	"github.com/ITDevS919/trustverify/internal/validation"
	"github.com/ITDevS919/trustverify/internal/webhooks"
)

// -----------------------------------------------------------------------------
// Server
// -----------------------------------------------------------------------------

// Server wraps the HTTP server and dependencies
type Server struct {
	cfg           *config.Config
	trustSvc      *trust.Service
	onboardingSvc *onboarding.Service
	txSvc         *transactions.Service
	escrowSvc     *escrow.Service
	disputeSvc    *dispute.Service
	disputeTimer  *dispute.Timer
	webhooks      *webhooks.Dispatcher
	webhookStore  webhooks.Store
	realtimeHub   *realtime.Hub
	healthReg     *health.Registry
	rateLimiter   *ratelimit.Limiter
	db            *sql.DB // nil if using in-memory
	router        *gin.Engine
	httpSrv       *http.Server
	logger        *slog.Logger
	cancelRunCtx  context.CancelFunc // cancels background goroutines started in Run

	// Health state
	ready   atomic.Bool
	healthy atomic.Bool
}

// Option configures the server
type Option func(*Server)

// WithLogger sets a custom logger
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		s.logger = logger
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

	s.healthReg = health.NewRegistry()

	var (
		entityStore trust.Store
		checkStore  checks.Store
		appStore    onboarding.Store
		txStore     transactions.Store
		escrowStore escrow.Store
		dspStore    dispute.Store
	)

	// Initialize storage (Postgres if DATABASE_URL set, otherwise in-memory)
	if cfg.DatabaseURL != "" {
		db, err := sql.Open("postgres", cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("failed to open database: %w", err)
		}

		// Configure connection pool
		db.SetMaxOpenConns(25)
		db.SetMaxIdleConns(5)
		db.SetConnMaxLifetime(5 * time.Minute)

		if err := db.Ping(); err != nil {
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}

		s.db = db
		s.logger.Info("using PostgreSQL storage", "url", maskDSN(cfg.DatabaseURL))

		entityStore = trust.NewPostgresStore(db)
		checkStore = checks.NewPostgresStore(db)
		appStore = onboarding.NewPostgresStore(db)
		txStore = transactions.NewPostgresStore(db)
		escrowStore = escrow.NewPostgresStore(db)
		dspStore = dispute.NewPostgresStore(db)
		s.webhookStore = webhooks.NewPostgresStore(db)

		s.healthReg.Register("database", health.DBChecker(db))
	} else {
		s.logger.Info("using in-memory storage (data will not persist)")

		entityStore = trust.NewMemoryStore()
		cs := checks.NewMemoryStore()
		checkStore = cs
		appStore = onboarding.NewMemoryStore(cs)
		txStore = transactions.NewMemoryStore()
		escrowStore = escrow.NewMemoryStore()
		dspStore = dispute.NewMemoryStore()
		s.webhookStore = webhooks.NewMemoryStore()
	}

	// Webhooks: outbound event delivery
	s.webhooks = webhooks.NewDispatcher(s.webhookStore)
	emitter := webhooks.NewEmitter(s.webhooks, s.logger)
	s.logger.Info("webhooks enabled")

	// Realtime hub for WebSocket streaming
	s.realtimeHub = realtime.NewHub(s.logger)
	s.logger.Info("realtime streaming enabled")

	// Service events fan out to webhook subscribers and realtime clients
	events := &eventFanout{emitter: emitter, hub: s.realtimeHub}

	// Trust scoring
	s.trustSvc = trust.NewService(entityStore)

	// Verification checks and onboarding decisions
	registry := checks.NewSimulatedRegistry()
	orch := checks.NewOrchestrator(registry, checkStore).
		WithTimeout(cfg.CheckTimeout).
		WithMaxInFlight(cfg.CheckMaxInFlight)
	s.onboardingSvc = onboarding.NewService(appStore, checkStore, orch, entityStore).
		WithTrustService(s.trustSvc).
		WithNotifier(events)
	s.logger.Info("verification checks enabled", "timeout", cfg.CheckTimeout)

	// Transactions
	s.txSvc = transactions.NewService(txStore, s.trustSvc, cfg.BufferWindow)

	// Escrow providers: simulated always available, Stripe when configured
	providers := []escrow.Provider{escrow.NewSimulatedProvider()}
	if cfg.EscrowProvider == "stripe" {
		providers = append(providers, escrow.NewStripeProvider(cfg.StripeAPIKey))
		s.logger.Info("stripe escrow provider enabled")
	}
	s.escrowSvc = escrow.NewService(escrowStore, s.txSvc, providers...).
		WithNotifier(events)
	s.logger.Info("escrow enabled", "bufferWindow", cfg.BufferWindow)

	// Disputes
	arbiter := dispute.NewSimulatedArbiter(s.trustSvc)
	s.disputeSvc = dispute.NewService(dspStore, s.txSvc, s.escrowSvc, s.trustSvc, arbiter).
		WithWindows(cfg.EvidenceWindow, cfg.ArbitrationWindow).
		WithMinConfidence(cfg.ArbiterMinConfidence).
		WithNotifier(events)
	s.escrowSvc.WithDisputeChecker(s.disputeSvc)
	s.disputeTimer = dispute.NewTimer(s.disputeSvc, s.logger)
	s.healthReg.Register("dispute_timer", health.RunningChecker("dispute_timer", s.disputeTimer.Running))
	s.logger.Info("disputes enabled",
		"evidenceWindow", cfg.EvidenceWindow,
		"arbitrationWindow", cfg.ArbitrationWindow,
	)

	// Configure gin
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

	// CORS (allow all origins for demo - restrict in production)
	s.router.Use(security.CORSMiddleware([]string{"*"}))

	// Request size limit (1MB)
	s.router.Use(validation.RequestSizeMiddleware(validation.MaxRequestSize))

	// Rate limiting
	s.rateLimiter = ratelimit.New(ratelimit.DefaultConfig())
	s.router.Use(s.rateLimiter.Middleware())

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

		latency := time.Since(start)
		status := c.Writer.Status()

		logger := logging.L(c.Request.Context())

		// Log level based on status code
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

// -----------------------------------------------------------------------------
// Routes
// -----------------------------------------------------------------------------

func (s *Server) setupRoutes() {
	// Health & metrics endpoints
	s.router.GET("/health", s.healthHandler)
	s.router.GET("/health/live", s.livenessHandler)
	s.router.GET("/health/ready", s.readinessHandler)
	s.router.GET("/metrics", metrics.Handler())

	// WebSocket for real-time streaming
	s.router.GET("/ws", func(c *gin.Context) {
		s.realtimeHub.HandleWebSocket(c.Writer, c.Request)
	})

	// API info
	s.router.GET("/api", s.infoHandler)

	// V1 API group
	v1 := s.router.Group("/v1")
	// Validate :id URL params on all v1 routes (no-op when param absent)
	v1.Use(validation.IDParamMiddleware())

	// Entities and trust scores
	trust.NewHandler(s.trustSvc).RegisterRoutes(v1)

	// Onboarding applications and verification
	onboarding.NewHandler(s.onboardingSvc).RegisterRoutes(v1)

	// Transactions
	transactions.NewHandler(s.txSvc).
		WithEvents(&transactionEventEmitter{s.realtimeHub}).
		RegisterRoutes(v1)

	// Escrow accounts
	escrow.NewHandler(s.escrowSvc).RegisterRoutes(v1)

	// Disputes
	dispute.NewHandler(s.disputeSvc).RegisterRoutes(v1)

	// Webhook subscriptions
	webhooks.NewHandler(s.webhookStore).RegisterRoutes(v1)

	// Realtime hub stats
	v1.GET("/realtime/stats", func(c *gin.Context) {
		c.JSON(http.StatusOK, s.realtimeHub.Stats())
	})
}

// -----------------------------------------------------------------------------
// Handlers
// -----------------------------------------------------------------------------

func (s *Server) healthHandler(c *gin.Context) {
	healthy, statuses := s.healthReg.CheckAll(c.Request.Context())

	status := "healthy"
	httpStatus := http.StatusOK
	if !healthy {
		status = "degraded"
		httpStatus = http.StatusServiceUnavailable
	}

	c.JSON(httpStatus, gin.H{
		"status":    status,
		"version":   "0.1.0",
		"checks":    statuses,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
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

func (s *Server) infoHandler(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"name":        "TrustVerify",
		"description": "Risk decision engine for marketplace transactions",
		"version":     "0.1.0",
	})
}

// -----------------------------------------------------------------------------
// Lifecycle
// -----------------------------------------------------------------------------

// Run starts the HTTP server with graceful shutdown
func (s *Server) Run(ctx context.Context) error {
	// Create a cancellable context for background goroutines so Shutdown() can stop them.
	runCtx, cancel := context.WithCancel(ctx)
	s.cancelRunCtx = cancel

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
		s.logger.Info("starting server", "port", s.cfg.Port, "env", s.cfg.Env)
		if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	// Start realtime hub
	go s.realtimeHub.Run(runCtx)

	// Periodic DB pool stats for Prometheus
	if s.db != nil {
		go metrics.StartDBStatsCollector(runCtx, s.db, 15*time.Second)
	}

	// Start dispute deadline timer
	go s.disputeTimer.Start(runCtx)

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

	// Cancel the context for all background goroutines (hub, timer)
	if s.cancelRunCtx != nil {
		s.cancelRunCtx()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := s.httpSrv.Shutdown(ctx); err != nil {
		s.logger.Error("shutdown error", "error", err)
		return err
	}

	// Stop dispute timer
	if s.disputeTimer != nil {
		s.disputeTimer.Stop()
		s.logger.Info("dispute timer stopped")
	}

	// Stop rate limiter cleanup goroutine
	if s.rateLimiter != nil {
		s.rateLimiter.Stop()
		s.logger.Info("rate limiter stopped")
	}

	// Close database connection pool
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

// -----------------------------------------------------------------------------
// Event fanout
// -----------------------------------------------------------------------------

// eventFanout forwards service events to webhook subscribers and connected
// realtime clients. Implements onboarding.DecisionNotifier,
// escrow.EventNotifier, and dispute.ResolutionNotifier.
type eventFanout struct {
	emitter *webhooks.Emitter
	hub     *realtime.Hub
}

func (f *eventFanout) EmitDecisionCompleted(applicationID, entityID string, dec string, overallScore float64, riskLevel string) {
	f.emitter.EmitDecisionCompleted(applicationID, entityID, dec, overallScore, riskLevel)
	f.hub.BroadcastDecision(map[string]interface{}{
		"applicationId": applicationID,
		"entityId":      entityID,
		"decision":      dec,
		"overallScore":  overallScore,
		"riskLevel":     riskLevel,
	})
}

func (f *eventFanout) EmitEscrowFunded(payerID, accountID, transactionID string, amount float64) {
	f.emitter.EmitEscrowFunded(payerID, accountID, transactionID, amount)
	f.hub.BroadcastEscrow(map[string]interface{}{
		"entityId":      payerID,
		"accountId":     accountID,
		"transactionId": transactionID,
		"status":        "funded",
		"amount":        amount,
	})
}

func (f *eventFanout) EmitEscrowHeld(payeeID, accountID, transactionID string, amount float64) {
	f.emitter.EmitEscrowHeld(payeeID, accountID, transactionID, amount)
	f.hub.BroadcastEscrow(map[string]interface{}{
		"entityId":      payeeID,
		"accountId":     accountID,
		"transactionId": transactionID,
		"status":        "held",
		"amount":        amount,
	})
}

func (f *eventFanout) EmitEscrowReleased(payeeID, accountID, transactionID string, amount float64) {
	f.emitter.EmitEscrowReleased(payeeID, accountID, transactionID, amount)
	f.hub.BroadcastEscrow(map[string]interface{}{
		"entityId":      payeeID,
		"accountId":     accountID,
		"transactionId": transactionID,
		"status":        "released",
		"amount":        amount,
	})
}

func (f *eventFanout) EmitEscrowRefunded(payerID, accountID, transactionID, reason string) {
	f.emitter.EmitEscrowRefunded(payerID, accountID, transactionID, reason)
	f.hub.BroadcastEscrow(map[string]interface{}{
		"entityId":      payerID,
		"accountId":     accountID,
		"transactionId": transactionID,
		"status":        "refunded",
		"reason":        reason,
	})
}

func (f *eventFanout) EmitDisputeOpened(respondentID, disputeID, transactionID, reason string) {
	f.emitter.EmitDisputeOpened(respondentID, disputeID, transactionID, reason)
	f.hub.BroadcastDisputeStage(map[string]interface{}{
		"entityId":      respondentID,
		"disputeId":     disputeID,
		"transactionId": transactionID,
		"stage":         "created",
		"reason":        reason,
	})
}

func (f *eventFanout) EmitDisputeResolved(disputeID, transactionID, outcome string, manual bool) {
	f.emitter.EmitDisputeResolved(disputeID, transactionID, outcome, manual)
	f.hub.BroadcastDisputeStage(map[string]interface{}{
		"disputeId":     disputeID,
		"transactionId": transactionID,
		"stage":         "resolution",
		"outcome":       outcome,
		"manual":        manual,
	})
}

// transactionEventEmitter adapts realtime.Hub to transactions.EventEmitter
type transactionEventEmitter struct {
	hub *realtime.Hub
}

func (e *transactionEventEmitter) EmitTransaction(tx *transactions.Transaction) {
	e.hub.BroadcastTransaction(map[string]interface{}{
		"transactionId": tx.ID,
		"buyerId":       tx.BuyerID,
		"sellerId":      tx.SellerID,
		"amount":        tx.Amount,
		"currency":      tx.Currency,
		"status":        string(tx.Status),
		"riskLevel":     string(tx.RiskLevel),
	})
}

// -----------------------------------------------------------------------------
// Helpers
// -----------------------------------------------------------------------------

func generateRequestID() string {
	bytes := make([]byte, 16)
	if _, err := rand.Read(bytes); err != nil {
		// Fallback to timestamp-based ID
		return fmt.Sprintf("%d", time.Now().UnixNano())
	}
	return hex.EncodeToString(bytes)
}
