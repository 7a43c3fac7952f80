// Package httpapi is the admin/observability HTTP surface: health,
// Prometheus metrics, and a backend snapshot, registered on a
// gin.Engine the same way pkg/secure/service.Service.RegisterRoutes
// wires /metrics and its own route group onto the caller's router.
package httpapi

import (
	"context"
	"encoding/base64"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/PayRpc/accessl-dispatch/internal/backend"
	"github.com/PayRpc/accessl-dispatch/internal/breaker"
	"github.com/PayRpc/accessl-dispatch/internal/wire"
	"github.com/PayRpc/accessl-dispatch/internal/wsstream"
)

// Dispatcher is the subset of *dispatcher.Dispatcher the admin surface
// drives from /rsa-op. Declared locally so the admin surface depends
// only on the one operation it drives, and tests can supply a fake.
type Dispatcher interface {
	RsaOp(ctx context.Context, fp wire.Fingerprint, op wire.Op, pad wire.Padding, input []byte) ([]byte, error)
}

// BreakerInspector is the subset of *breaker.Breaker that /debug/breaker
// reports on.
type BreakerInspector interface {
	State(id backend.ID) breaker.State
}

// Config controls the admin surface's rate limiting, modeled on the
// teacher's RateLimiter token-bucket-per-client approach in
// cmd/sprint/main.go, trimmed to one global limiter since this surface
// has no per-tier concept. CallBudget bounds how long /rsa-op waits on
// the dispatcher per spec.md §4.5's wall-clock recommendation; zero
// disables the bound and leaves the request's own context deadline (if
// any) in force.
type Config struct {
	RateLimitRPS   float64
	RateLimitBurst int
	CallBudget     time.Duration
}

// Server wires gin handlers for the admin surface.
type Server struct {
	engine     *gin.Engine
	table      *backend.Table
	hub        *wsstream.Hub
	dispatcher Dispatcher
	breaker    BreakerInspector
	logger     *zap.Logger
	limiter    *rate.Limiter
	callBudget time.Duration
}

// New builds a gin.Engine exposing /healthz, /metrics, /servers,
// /rsa-op, /debug/breaker and, when hub is non-nil, /ws. Call Server.Engine().Run(addr) or use it as an http.Handler
// directly. disp and br may be nil: /rsa-op responds 503 without a
// dispatcher, /debug/breaker omits breaker state without one.
func New(table *backend.Table, hub *wsstream.Hub, disp Dispatcher, br BreakerInspector, cfg Config, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}

	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery())

	s := &Server{
		engine:     engine,
		table:      table,
		hub:        hub,
		dispatcher: disp,
		breaker:    br,
		logger:     logger,
		limiter:    rate.NewLimiter(rate.Limit(cfg.RateLimitRPS), cfg.RateLimitBurst),
		callBudget: cfg.CallBudget,
	}

	engine.Use(s.rateLimitMiddleware())
	s.registerRoutes()
	return s
}

// Engine exposes the underlying gin.Engine for use with http.Server or
// in tests via httptest.
func (s *Server) Engine() *gin.Engine {
	return s.engine
}

func (s *Server) registerRoutes() {
	s.engine.GET("/healthz", s.handleHealthz)
	s.engine.GET("/servers", s.handleServers)
	s.engine.POST("/rsa-op", s.handleRsaOp)
	s.engine.GET("/metrics", gin.WrapH(promhttp.Handler()))
	s.engine.GET("/debug/breaker", s.handleDebugBreaker)
	if s.hub != nil {
		s.engine.GET("/ws", gin.WrapF(s.hub.ServeHTTP))
	}
}

// rateLimitMiddleware enforces one process-wide token bucket across the
// admin surface, following the same rate.NewLimiter(rate.Limit(...),
// burst) construction the teacher's RateLimiter.Allow uses per client.
func (s *Server) rateLimitMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !s.limiter.Allow() {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "rate limit exceeded"})
			return
		}
		c.Next()
	}
}

func (s *Server) handleHealthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "ok",
		"time":   time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) handleServers(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"servers": s.table.Snapshot(),
	})
}

// debugBreakerEntry reports one backend's circuit-breaker state.
type debugBreakerEntry struct {
	BackendID backend.ID `json:"backend_id"`
	State     string     `json:"state"`
}

func (s *Server) handleDebugBreaker(c *gin.Context) {
	if s.breaker == nil {
		c.JSON(http.StatusOK, gin.H{"breakers": []debugBreakerEntry{}})
		return
	}

	snapshot := s.table.Snapshot()
	entries := make([]debugBreakerEntry, 0, len(snapshot))
	for _, be := range snapshot {
		entries = append(entries, debugBreakerEntry{
			BackendID: be.ID,
			State:     s.breaker.State(be.ID).String(),
		})
	}
	c.JSON(http.StatusOK, gin.H{"breakers": entries})
}

// rsaOpRequest is the admin-API front-end for Dispatcher.RsaOp,
// standing in for the OpenSSL engine entry point the original
// accessl-engine exposes in-process: op/padding are the same numeric
// codes defined in internal/wire, plaintext travels as base64.
type rsaOpRequest struct {
	Fingerprint string `json:"fingerprint"` // base64, 16 bytes
	Op          uint32 `json:"op"`
	Padding     uint32 `json:"padding"`
	Plaintext   string `json:"plaintext"` // base64
}

func (s *Server) handleRsaOp(c *gin.Context) {
	if s.dispatcher == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "dispatcher not configured"})
		return
	}

	var req rsaOpRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	fpBytes, err := base64.StdEncoding.DecodeString(req.Fingerprint)
	if err != nil || len(fpBytes) != wire.FingerprintSize {
		c.JSON(http.StatusBadRequest, gin.H{"error": "fingerprint must be base64 of exactly 16 bytes"})
		return
	}
	var fp wire.Fingerprint
	copy(fp[:], fpBytes)

	plaintext, err := base64.StdEncoding.DecodeString(req.Plaintext)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "plaintext must be base64"})
		return
	}

	ctx := c.Request.Context()
	if s.callBudget > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.callBudget)
		defer cancel()
	}

	reply, err := s.dispatcher.RsaOp(ctx, fp, wire.Op(req.Op), wire.Padding(req.Padding), plaintext)
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"reply": base64.StdEncoding.EncodeToString(reply),
	})
}
