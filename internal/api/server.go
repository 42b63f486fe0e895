package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"

	"regimeforge-bot/config"
	"regimeforge-bot/internal/auth"
	"regimeforge-bot/internal/automation"
	"regimeforge-bot/internal/database"
	"regimeforge-bot/internal/events"
	"regimeforge-bot/internal/exchange"
	"regimeforge-bot/internal/globalctx"
	"regimeforge-bot/internal/logging"
	"regimeforge-bot/internal/takeprofit"
)

// Automation is the controller surface the API drives
type Automation interface {
	Coins() *automation.CoinSelector
	GetSettings() automation.Settings
	UpdateSettings(ctx context.Context, p automation.SettingsPatch) (automation.Settings, error)
	State() automation.RuntimeState
	Tick(ctx context.Context) automation.TickResult
	CheckTakeProfit(ctx context.Context, coin string) (takeprofit.CheckResult, *automation.TickResult, error)
	ManualOpen(ctx context.Context, o automation.ManualOrder) (automation.TickResult, error)
	ManualClose(ctx context.Context, coin string) (automation.TickResult, error)
}

// TakeProfit reads and updates per-coin take-profit settings
type TakeProfit interface {
	Settings(ctx context.Context, coin string) takeprofit.Settings
	State(ctx context.Context, coin string) takeprofit.RuntimeState
	UpdateSettings(ctx context.Context, coin string, p takeprofit.Patch) (takeprofit.Settings, error)
	Reset(ctx context.Context, coin string)
}

// ContextProvider returns the composed global market context for a coin
type ContextProvider interface {
	GetMarketSummary(ctx context.Context, coin string) globalctx.Context
}

// JournalReader lists executed automated decisions
type JournalReader interface {
	ListDecisions(ctx context.Context, f database.JournalFilter) ([]database.JournalEntry, error)
}

// HealthChecker reports whether a backing service is reachable
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// BalanceReader reports the account balance in USDT
type BalanceReader interface {
	AccountBalance(ctx context.Context) (float64, error)
}

// HealthFunc adapts a function to HealthChecker
type HealthFunc func(ctx context.Context) error

func (f HealthFunc) HealthCheck(ctx context.Context) error { return f(ctx) }

// Deps are the services behind the routes. Journal, Balance, Auth and
// Health may be nil.
type Deps struct {
	Signals    automation.Evaluator
	Contexts   ContextProvider
	Market     exchange.MarketData
	Automation Automation
	TakeProfit TakeProfit
	Execution  exchange.Execution
	Journal    JournalReader
	Balance    BalanceReader
	Auth       *auth.Service
	Bus        *events.EventBus
	Health     map[string]HealthChecker
	Logger     *logging.Logger
}

// RateLimiter throttles routes that reach the exchange, keyed by route
type RateLimiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	limit    rate.Limit
	burst    int
}

// NewRateLimiter allows burst requests per key, refilling at limit per second
func NewRateLimiter(limit rate.Limit, burst int) *RateLimiter {
	return &RateLimiter{limiters: make(map[string]*rate.Limiter), limit: limit, burst: burst}
}

// Allow checks if a request is allowed for the given key
func (r *RateLimiter) Allow(key string) bool {
	r.mu.Lock()
	l, ok := r.limiters[key]
	if !ok {
		l = rate.NewLimiter(r.limit, r.burst)
		r.limiters[key] = l
	}
	r.mu.Unlock()
	return l.Allow()
}

// Server represents the HTTP API server
type Server struct {
	router      *gin.Engine
	httpServer  *http.Server
	config      config.ServerConfig
	deps        Deps
	hub         *WSHub
	rateLimiter *RateLimiter
	logger      *logging.Logger
	startedAt   time.Time
}

// NewServer creates a new API server and starts its websocket hub
func NewServer(cfg config.ServerConfig, deps Deps) *Server {
	if cfg.ProductionMode {
		gin.SetMode(gin.ReleaseMode)
	}
	logger := deps.Logger
	if logger == nil {
		logger = logging.Nop()
	}
	logger = logger.WithComponent("api")

	router := gin.New()
	router.Use(requestLogger(logger))
	router.Use(gin.Recovery())

	corsConfig := cors.DefaultConfig()
	corsConfig.AllowOrigins = splitOrigins(cfg.AllowedOrigins)
	corsConfig.AllowMethods = []string{"GET", "POST", "PUT", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Type", "Authorization"}
	corsConfig.ExposeHeaders = []string{"Content-Length"}
	corsConfig.AllowCredentials = true
	router.Use(cors.New(corsConfig))

	s := &Server{
		router:      router,
		config:      cfg,
		deps:        deps,
		hub:         NewWSHub(logger),
		rateLimiter: NewRateLimiter(rate.Every(time.Second), 10),
		logger:      logger,
		startedAt:   time.Now(),
	}
	go s.hub.Run()
	if deps.Bus != nil {
		deps.Bus.SubscribeAll(s.hub.BroadcastEvent)
	}

	s.setupRoutes()
	return s
}

func splitOrigins(s string) []string {
	var out []string
	for _, o := range strings.Split(s, ",") {
		if o = strings.TrimSpace(o); o != "" {
			out = append(out, o)
		}
	}
	if len(out) == 0 {
		out = []string{"http://localhost:5173"}
	}
	return out
}

func requestLogger(logger *logging.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		log := logging.APIContext(logger, c.Request.Method, c.FullPath(), c.Writer.Status()).
			WithDuration(time.Since(start))
		if c.Writer.Status() >= http.StatusInternalServerError {
			log.Warn("Request failed")
			return
		}
		log.Debug("Request served")
	}
}

func (s *Server) rateLimitMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !s.rateLimiter.Allow(c.FullPath()) {
			errorResponse(c, http.StatusTooManyRequests, "rate limit exceeded, slow down")
			c.Abort()
			return
		}
		c.Next()
	}
}

func (s *Server) setupRoutes() {
	r := s.router
	r.GET("/api/health", s.handleHealth)
	r.GET("/ws", s.handleWebSocket)

	api := r.Group("/api")
	api.POST("/auth/login", auth.NewHandlers(s.deps.Auth).Login)

	api.GET("/signal/:coin", s.handleGetSignal)
	api.GET("/signal/:coin/brief", s.handleGetSignalBrief)
	api.GET("/context/:coin", s.handleGetContext)
	api.GET("/automation/settings", s.handleGetAutomationSettings)
	api.GET("/automation/state", s.handleGetAutomationState)
	api.GET("/takeprofit/:coin", s.handleGetTakeProfit)
	api.GET("/positions/:coin", s.rateLimitMiddleware(), s.handleGetPosition)
	api.GET("/price/:coin", s.rateLimitMiddleware(), s.handleGetPrice)
	api.GET("/balance", s.rateLimitMiddleware(), s.handleGetBalance)
	api.GET("/journal", s.handleGetJournal)
	api.GET("/coin", s.handleGetCoin)

	protected := api.Group("")
	protected.Use(auth.Middleware(s.deps.Auth))
	protected.PUT("/automation/settings", s.handleUpdateAutomationSettings)
	protected.POST("/automation/tick", s.rateLimitMiddleware(), s.handleTick)
	protected.PUT("/takeprofit/:coin", s.handleUpdateTakeProfit)
	protected.POST("/takeprofit/:coin/check", s.rateLimitMiddleware(), s.handleCheckTakeProfit)
	protected.POST("/takeprofit/:coin/reset", s.handleResetTakeProfit)
	protected.POST("/positions/:coin/open", s.rateLimitMiddleware(), s.handleOpenPosition)
	protected.POST("/positions/:coin/close", s.rateLimitMiddleware(), s.handleClosePosition)
	protected.PUT("/coin", s.handleSetCoin)

	r.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{
			"error":  "API endpoint not found",
			"path":   c.Request.URL.Path,
			"method": c.Request.Method,
		})
	})
}

// Handler exposes the router
func (s *Server) Handler() http.Handler {
	return s.router
}

// Hub returns the websocket hub
func (s *Server) Hub() *WSHub {
	return s.hub
}

// Start starts the HTTP server and blocks until it stops
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)

	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  seconds(s.config.ReadTimeout, 15),
		WriteTimeout: seconds(s.config.WriteTimeout, 15),
		IdleTimeout:  60 * time.Second,
	}

	s.logger.Info("Starting HTTP server", "addr", addr)

	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("failed to start server: %w", err)
	}
	return nil
}

func seconds(v, fallback int) time.Duration {
	if v <= 0 {
		v = fallback
	}
	return time.Duration(v) * time.Second
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("Shutting down HTTP server")
	s.hub.Stop()
	if s.httpServer != nil {
		return s.httpServer.Shutdown(ctx)
	}
	return nil
}

// handleHealth returns server health status
func (s *Server) handleHealth(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	components := make(map[string]string, len(s.deps.Health))
	healthy := true
	for name, hc := range s.deps.Health {
		if hc == nil {
			continue
		}
		if err := hc.HealthCheck(ctx); err != nil {
			components[name] = "unhealthy: " + err.Error()
			healthy = false
			continue
		}
		components[name] = "healthy"
	}

	status, code := "healthy", http.StatusOK
	if !healthy {
		status, code = "unhealthy", http.StatusServiceUnavailable
	}
	c.JSON(code, gin.H{
		"status":            status,
		"components":        components,
		"websocket_clients": s.hub.GetClientCount(),
		"uptime_seconds":    int64(time.Since(s.startedAt).Seconds()),
	})
}

// errorResponse is a helper to send error responses
func errorResponse(c *gin.Context, statusCode int, message string) {
	c.JSON(statusCode, gin.H{
		"error":   true,
		"message": message,
	})
}

// successResponse is a helper to send success responses
func successResponse(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data":    data,
	})
}
