package health

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/arkanwolfshade/mythosmud/internal/connmgr"
	"github.com/arkanwolfshade/mythosmud/internal/room"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

func newTestHandler(database, connectionMgr, broker ComponentChecker) *Handler {
	conns := connmgr.New(room.NewRegistry(), connmgr.Config{}, zap.NewNop())
	return NewHandler(conns, database, connectionMgr, broker, zap.NewNop())
}

func TestLivenessAlwaysReportsHealthy(t *testing.T) {
	gin.SetMode(gin.TestMode)
	h := newTestHandler(nil, nil, nil)

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest("GET", "/health", nil)

	h.Liveness(c)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "healthy")
	assert.Contains(t, w.Body.String(), "timestamp")
}

func TestDetailedReportsHealthyWithNilCheckers(t *testing.T) {
	gin.SetMode(gin.TestMode)
	h := newTestHandler(nil, nil, nil)

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest("GET", "/health/detailed", nil)

	h.Detailed(c)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"status":"healthy"`)
}

func TestDetailedReturns503WhenAComponentIsUnhealthy(t *testing.T) {
	gin.SetMode(gin.TestMode)
	unhealthy := CheckerFunc(func(ctx context.Context) (Status, time.Duration) {
		return StatusUnhealthy, time.Millisecond
	})
	h := newTestHandler(unhealthy, nil, nil)

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest("GET", "/health/detailed", nil)

	h.Detailed(c)

	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Contains(t, w.Body.String(), `"status":"unhealthy"`)
}

func TestDetailedDegradesWithoutFailing(t *testing.T) {
	gin.SetMode(gin.TestMode)
	degraded := CheckerFunc(func(ctx context.Context) (Status, time.Duration) {
		return StatusDegraded, time.Millisecond
	})
	h := newTestHandler(degraded, nil, nil)

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest("GET", "/health/detailed", nil)

	h.Detailed(c)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"status":"degraded"`)
}

func TestConnectionHealthReportsZeroWhenEmpty(t *testing.T) {
	gin.SetMode(gin.TestMode)
	h := newTestHandler(nil, nil, nil)

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest("GET", "/monitoring/connection-health", nil)

	h.ConnectionHealth(c)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"total_connections":0`)
}

func TestPerformanceReportsConnectionSnapshot(t *testing.T) {
	gin.SetMode(gin.TestMode)
	h := newTestHandler(nil, nil, nil)

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest("GET", "/monitoring/performance", nil)

	h.Performance(c)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "connections")
}
