// Package health implements the liveness, readiness, and monitoring
// endpoints from spec §6.4, generalized from the teacher's
// health.Handler (which only exposes /health/live and /health/ready)
// into the four endpoints the spec names: /health, /health/detailed,
// /monitoring/connection-health, /monitoring/performance.
package health

import (
	"context"
	"net/http"
	"runtime"
	"time"

	"github.com/arkanwolfshade/mythosmud/internal/connmgr"
	"github.com/arkanwolfshade/mythosmud/internal/logging"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Status is one of healthy/degraded/unhealthy, per spec §6.4.
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusDegraded  Status = "degraded"
	StatusUnhealthy Status = "unhealthy"
)

// ComponentChecker probes one dependency's health and reports a status
// plus the probe's own response time. Implementations must be safe to
// call concurrently and must not block past a few seconds.
type ComponentChecker interface {
	Check(ctx context.Context) (Status, time.Duration)
}

// CheckerFunc adapts a plain function to ComponentChecker.
type CheckerFunc func(ctx context.Context) (Status, time.Duration)

func (f CheckerFunc) Check(ctx context.Context) (Status, time.Duration) { return f(ctx) }

// Handler serves the four spec §6.4 endpoints.
type Handler struct {
	conns  *connmgr.Manager
	logger *zap.Logger

	database         ComponentChecker
	connectionMgr    ComponentChecker
	broker           ComponentChecker
}

// NewHandler constructs a Handler. Any checker may be nil, in which case
// that component reports healthy (spec treats absent/out-of-scope
// collaborators as trivially healthy rather than failing the probe).
func NewHandler(conns *connmgr.Manager, database, connectionMgr, broker ComponentChecker, logger *zap.Logger) *Handler {
	return &Handler{conns: conns, database: database, connectionMgr: connectionMgr, broker: broker, logger: logger}
}

func probe(ctx context.Context, c ComponentChecker) (Status, time.Duration) {
	if c == nil {
		return StatusHealthy, 0
	}
	return c.Check(ctx)
}

// componentReport is the per-component shape nested in /health/detailed.
type componentReport struct {
	Status           Status `json:"status"`
	ResponseTimeMs   int64  `json:"response_time_ms"`
}

// Liveness handles GET /health: the process is up, no dependency checks.
func (h *Handler) Liveness(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    string(StatusHealthy),
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

// Detailed handles GET /health/detailed: per-component status for
// database, connection_manager, broker, memory (spec §6.4).
func (h *Handler) Detailed(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 3*time.Second)
	defer cancel()

	dbStatus, dbDur := probe(ctx, h.database)
	connStatus, connDur := probe(ctx, h.connectionMgr)
	brokerStatus, brokerDur := probe(ctx, h.broker)
	memStatus, memDur := h.checkMemory()

	components := map[string]componentReport{
		"database":           {dbStatus, dbDur.Milliseconds()},
		"connection_manager": {connStatus, connDur.Milliseconds()},
		"broker":             {brokerStatus, brokerDur.Milliseconds()},
		"memory":             {memStatus, memDur.Milliseconds()},
	}

	overall := StatusHealthy
	for _, comp := range components {
		if comp.Status == StatusUnhealthy {
			overall = StatusUnhealthy
			break
		}
		if comp.Status == StatusDegraded {
			overall = StatusDegraded
		}
	}

	statusCode := http.StatusOK
	if overall == StatusUnhealthy {
		statusCode = http.StatusServiceUnavailable
		logging.Warn(ctx, "health/detailed reporting unhealthy", zap.Any("components", components))
	}

	c.JSON(statusCode, gin.H{
		"status":     string(overall),
		"components": components,
		"timestamp":  time.Now().UTC().Format(time.RFC3339),
	})
}

// checkMemory reports degraded above a heap-use threshold rather than
// ever reporting unhealthy: memory pressure alone should not fail
// readiness, only flag it for the dashboard.
func (h *Handler) checkMemory() (Status, time.Duration) {
	start := time.Now()
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	status := StatusHealthy
	const degradedThresholdBytes = 1 << 30 // 1 GiB heap in use
	if m.HeapInuse > degradedThresholdBytes {
		status = StatusDegraded
	}
	return status, time.Since(start)
}

// ConnectionHealth handles GET /monitoring/connection-health: aggregate
// and per-transport connection counts (spec §6.4).
func (h *Handler) ConnectionHealth(c *gin.Context) {
	stats := h.conns.Stats()
	byKind := make(map[string]int, len(stats.ByKind))
	for kind, n := range stats.ByKind {
		byKind[string(kind)] = n
	}
	c.JSON(http.StatusOK, gin.H{
		"total_connections": stats.TotalConnections,
		"players_connected": stats.PlayersConnected,
		"by_transport":      byKind,
	})
}

// Performance handles GET /monitoring/performance: a point summary of
// the counters also exported on /metrics, for dashboards that don't
// want to scrape Prometheus directly. Full histogram detail (buckets,
// quantiles) lives only on /metrics — this endpoint is a convenience
// snapshot, not a replacement.
func (h *Handler) Performance(c *gin.Context) {
	stats := h.conns.Stats()
	c.JSON(http.StatusOK, gin.H{
		"connections": gin.H{
			"total":   stats.TotalConnections,
			"players": stats.PlayersConnected,
			"by_kind": stats.ByKind,
		},
		"note": "see /metrics for connection_establish_seconds and message_delivery_seconds histograms",
	})
}
