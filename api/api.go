// Package api exposes a read-only status surface plus a small set of
// operator-gated control endpoints, over gin: a gin.Context-based
// handler style narrowed to status/control/stream for a single
// scheduler instance, enriched with a JWT login flow and a websocket
// snapshot feed.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"golang.org/x/crypto/bcrypt"

	"warden/metrics"
	"warden/risk"
	"warden/scheduler"
)

// Scheduler is the subset of *scheduler.Scheduler the API depends on,
// so handlers can be exercised against a fake in tests.
type Scheduler interface {
	Snapshot() scheduler.Snapshot
	Pause()
	Resume()
	Paused() bool
	ClearCircuitBreaker()
	RiskLevel() risk.Level
}

// Config carries the operator auth material and bind address. The
// password hash and JWT secret are secrets read only from the
// environment (config.Config.APIOperatorPasswordHash / APIJWTSecret),
// never from the YAML file.
type Config struct {
	Addr                 string
	OperatorPasswordHash string
	JWTSecret            string
	TokenTTL             time.Duration
}

// Server is the HTTP surface. It holds no mutable trading state of
// its own — every read goes through Scheduler.Snapshot(), the
// atomically-swapped pointer the control loop publishes each tick.
type Server struct {
	cfg       Config
	scheduler Scheduler
	logger    zerolog.Logger
	upgrader  websocket.Upgrader
	engine    *gin.Engine
}

// New builds a Server and registers its routes. Call Run to serve.
func New(cfg Config, sched Scheduler, logger zerolog.Logger) *Server {
	if cfg.TokenTTL == 0 {
		cfg.TokenTTL = time.Hour
	}

	gin.SetMode(gin.ReleaseMode)
	s := &Server{
		cfg:       cfg,
		scheduler: sched,
		logger:    logger,
		upgrader:  websocket.Upgrader{ReadBufferSize: 1024, WriteBufferSize: 1024, CheckOrigin: func(*http.Request) bool { return true }},
	}
	s.engine = gin.New()
	s.engine.Use(gin.Recovery())
	s.routes()
	return s
}

func (s *Server) routes() {
	s.engine.GET("/healthz", s.handleHealthz)
	s.engine.GET("/status", s.handleStatus)
	s.engine.GET("/metrics", gin.WrapH(promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{})))
	s.engine.GET("/stream", s.handleStream)
	s.engine.POST("/login", s.handleLogin)

	control := s.engine.Group("/control")
	control.Use(s.requireAuth)
	control.POST("/pause", s.handlePause)
	control.POST("/resume", s.handleResume)
	control.POST("/clear-breaker", s.handleClearBreaker)
}

// Run serves until ctx is cancelled, then shuts the HTTP server down.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{Addr: s.cfg.Addr, Handler: s.engine}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

	select {
	case err := <-errCh:
		if err == http.ErrServerClosed {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

func (s *Server) handleHealthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) handleStatus(c *gin.Context) {
	snap := s.scheduler.Snapshot()
	c.JSON(http.StatusOK, gin.H{
		"timestamp":          snap.Timestamp,
		"mode":               snap.Mode,
		"risk_level":         snap.RiskLevel,
		"kill_switch_active": snap.KillSwitchActive,
		"paused":             s.scheduler.Paused(),
		"portfolio_value":    snap.PortfolioValue,
		"pnl":                snap.PnL,
		"pnl_pct":            snap.PnLPct,
		"peak_value":         snap.PeakValue,
		"max_drawdown_pct":   snap.MaxDrawdownPct,
		"open_positions":     snap.Positions,
		"total_trades":       snap.TotalTrades,
		"iteration":          snap.Iteration,
	})
}

// handleStream upgrades to a websocket and pushes the current snapshot
// every second. A slow or dead reader is dropped rather than letting
// a blocked write back-pressure the scheduler.
func (s *Server) handleStream(c *gin.Context) {
	conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.logger.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}
	defer conn.Close()

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for range ticker.C {
		conn.SetWriteDeadline(time.Now().Add(2 * time.Second))
		if err := conn.WriteJSON(s.scheduler.Snapshot()); err != nil {
			return
		}
	}
}

type loginRequest struct {
	Password string `json:"password" binding:"required"`
}

// handleLogin compares the supplied password against the configured
// bcrypt hash and issues a short-lived JWT on success.
func (s *Server) handleLogin(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}

	if s.cfg.OperatorPasswordHash == "" {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "operator login is not configured"})
		return
	}
	if err := bcrypt.CompareHashAndPassword([]byte(s.cfg.OperatorPasswordHash), []byte(req.Password)); err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid credentials"})
		return
	}

	now := time.Now()
	claims := jwt.RegisteredClaims{
		Subject:   "operator",
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(s.cfg.TokenTTL)),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(s.cfg.JWTSecret))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to issue token"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"token": signed, "expires_at": claims.ExpiresAt.Time})
}

// requireAuth gates the /control group behind a valid operator JWT.
func (s *Server) requireAuth(c *gin.Context) {
	header := c.GetHeader("Authorization")
	const prefix = "Bearer "
	if len(header) <= len(prefix) || header[:len(prefix)] != prefix {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing bearer token"})
		return
	}
	raw := header[len(prefix):]

	_, err := jwt.Parse(raw, func(t *jwt.Token) (interface{}, error) {
		return []byte(s.cfg.JWTSecret), nil
	}, jwt.WithValidMethods([]string{"HS256"}))
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid or expired token"})
		return
	}
	c.Next()
}

func (s *Server) handlePause(c *gin.Context) {
	s.scheduler.Pause()
	c.JSON(http.StatusOK, gin.H{"message": "paused"})
}

func (s *Server) handleResume(c *gin.Context) {
	s.scheduler.Resume()
	c.JSON(http.StatusOK, gin.H{"message": "resumed"})
}

// handleClearBreaker releases an operator-clearable circuit breaker.
// It cannot override BLACK_SWAN_FREEZE or EMERGENCY — only time or a
// redeploy clears those.
func (s *Server) handleClearBreaker(c *gin.Context) {
	level := s.scheduler.RiskLevel()
	if level == risk.BlackSwanFreeze || level == risk.Emergency {
		c.JSON(http.StatusConflict, gin.H{"error": "cannot clear breaker while " + string(level)})
		return
	}
	s.scheduler.ClearCircuitBreaker()
	c.JSON(http.StatusOK, gin.H{"message": "circuit breaker cleared"})
}
