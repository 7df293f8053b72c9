package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"stockledger/internal/caching"
	"stockledger/internal/common"
	"stockledger/internal/middleware"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type MockJobRunner struct {
	mock.Mock
}

func (m *MockJobRunner) GetJobStatus() map[string]interface{} {
	args := m.Called()
	return args.Get(0).(map[string]interface{})
}

func (m *MockJobRunner) RunNow(name string) error {
	args := m.Called(name)
	return args.Error(0)
}

func newTestServer(store Pinger, runner JobRunner) *echo.Echo {
	clock := &common.FixedClock{T: time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)}
	e := echo.New()
	e.Use(middleware.RequestContext())
	health := NewHealthHandlers(store, caching.NewMemoryCacheService(clock), clock, "test", nil)
	RegisterRoutes(e, health, NewJobHandlers(runner, nil))
	return e
}

func TestHealthCheck_Healthy(t *testing.T) {
	e := newTestServer(PingFunc(func(context.Context) error { return nil }), nil)

	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, rec.Header().Get(middleware.HeaderRequestID))

	var body HealthStatus
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "healthy", body.Status)
	assert.Equal(t, "healthy", body.Services["store"])
	assert.Equal(t, "healthy", body.Services["cache"])
	assert.Equal(t, "test", body.Version)
}

func TestHealthCheck_DegradedStore(t *testing.T) {
	e := newTestServer(PingFunc(func(context.Context) error { return errors.New("connection refused") }), nil)

	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusPartialContent, rec.Code)

	rec = httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	rec = httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health/live", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRequestContext_KeepsCallerRequestID(t *testing.T) {
	e := newTestServer(nil, nil)

	req := httptest.NewRequest(http.MethodGet, "/health/live", nil)
	req.Header.Set(middleware.HeaderRequestID, "req-42")
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	assert.Equal(t, "req-42", rec.Header().Get(middleware.HeaderRequestID))
}

func TestJobEndpoints(t *testing.T) {
	runner := new(MockJobRunner)
	runner.On("GetJobStatus").Return(map[string]interface{}{"total_jobs": 1, "jobs": []string{"reservation-sweep"}}).Once()
	runner.On("RunNow", "reservation-sweep").Return(nil).Once()
	runner.On("RunNow", "missing").Return(errors.New("job missing not found")).Once()

	e := newTestServer(nil, runner)

	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/jobs", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "reservation-sweep")

	rec = httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/jobs/reservation-sweep/run", nil))
	assert.Equal(t, http.StatusAccepted, rec.Code)

	rec = httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/jobs/missing/run", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	runner.AssertExpectations(t)
}
