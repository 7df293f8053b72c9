package handlers

import (
	"context"
	"net/http"
	"runtime"
	"time"

	"stockledger/internal/caching"
	"stockledger/internal/common"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
)

const checkTimeout = 2 * time.Second

// Pinger reports whether a backing store is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// PingFunc adapts a function to Pinger.
type PingFunc func(ctx context.Context) error

func (f PingFunc) Ping(ctx context.Context) error { return f(ctx) }

// HealthHandlers handles health check and monitoring endpoints
type HealthHandlers struct {
	store    Pinger
	cacheSvc caching.CacheService
	clock    common.Clock
	started  time.Time
	version  string
	logger   *zap.Logger
}

// NewHealthHandlers creates a new health handlers instance
func NewHealthHandlers(store Pinger, cacheSvc caching.CacheService, clock common.Clock, version string, logger *zap.Logger) *HealthHandlers {
	if clock == nil {
		clock = common.SystemClock()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HealthHandlers{
		store:    store,
		cacheSvc: cacheSvc,
		clock:    clock,
		started:  clock.Now(),
		version:  version,
		logger:   logger.Named("health"),
	}
}

// HealthStatus represents the overall health status
type HealthStatus struct {
	Status     string            `json:"status"`
	Timestamp  string            `json:"timestamp"`
	Services   map[string]string `json:"services"`
	Uptime     string            `json:"uptime"`
	Version    string            `json:"version"`
	Goroutines int               `json:"goroutines"`
}

// HealthCheck reports the state of every dependency. A failing dependency
// degrades the response but never fails it.
func (h *HealthHandlers) HealthCheck(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), checkTimeout)
	defer cancel()

	now := h.clock.Now()
	health := &HealthStatus{
		Status:     "healthy",
		Timestamp:  now.UTC().Format(time.RFC3339),
		Services:   make(map[string]string),
		Uptime:     now.Sub(h.started).Truncate(time.Second).String(),
		Version:    h.version,
		Goroutines: runtime.NumGoroutine(),
	}

	if err := h.checkStore(ctx); err != nil {
		h.logger.Warn("store health check failed", zap.Error(err))
		health.Services["store"] = "unhealthy"
		health.Status = "degraded"
	} else {
		health.Services["store"] = "healthy"
	}

	if err := h.checkCache(ctx); err != nil {
		h.logger.Warn("cache health check failed", zap.Error(err))
		health.Services["cache"] = "unhealthy"
		health.Status = "degraded"
	} else {
		health.Services["cache"] = "healthy"
	}

	statusCode := http.StatusOK
	if health.Status == "degraded" {
		statusCode = http.StatusPartialContent
	}

	return c.JSON(statusCode, health)
}

func (h *HealthHandlers) checkStore(ctx context.Context) error {
	if h.store == nil {
		return nil
	}
	return h.store.Ping(ctx)
}

func (h *HealthHandlers) checkCache(ctx context.Context) error {
	if h.cacheSvc == nil {
		return nil
	}
	return h.cacheSvc.Ping(ctx)
}

// ReadinessCheck only passes when the store is reachable. The cache is
// optional for correctness, so its failure does not block traffic.
func (h *HealthHandlers) ReadinessCheck(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), checkTimeout)
	defer cancel()

	if err := h.checkStore(ctx); err != nil {
		return c.JSON(http.StatusServiceUnavailable, map[string]string{
			"status":  "not_ready",
			"message": "store unavailable",
		})
	}

	return c.JSON(http.StatusOK, map[string]string{
		"status":  "ready",
		"message": "all systems operational",
	})
}

// LivenessCheck determines if the application is running (basic liveness probe)
func (h *HealthHandlers) LivenessCheck(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{
		"status":    "alive",
		"timestamp": h.clock.Now().UTC().Format(time.RFC3339),
	})
}
