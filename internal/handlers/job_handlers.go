package handlers

import (
	"net/http"
	"strings"

	"stockledger/internal/common"
	"stockledger/internal/jobs"

	"github.com/labstack/echo/v4"
)

// JobRunner is the part of the background scheduler exposed over HTTP.
type JobRunner interface {
	GetJobStatus() map[string]interface{}
	RunNow(name string) error
}

type JobHandlers struct {
	scheduler JobRunner
	lowStock  *jobs.LowStockScanner
}

func NewJobHandlers(scheduler JobRunner, lowStock *jobs.LowStockScanner) *JobHandlers {
	return &JobHandlers{
		scheduler: scheduler,
		lowStock:  lowStock,
	}
}

// GetJobStatus lists scheduled jobs with their last and next runs.
func (h *JobHandlers) GetJobStatus(c echo.Context) error {
	if h.scheduler == nil {
		return c.JSON(http.StatusOK, map[string]interface{}{"total_jobs": 0, "jobs": []string{}})
	}
	return c.JSON(http.StatusOK, h.scheduler.GetJobStatus())
}

// TriggerJob runs a registered job immediately.
func (h *JobHandlers) TriggerJob(c echo.Context) error {
	name := strings.TrimSpace(c.Param("name"))
	if name == "" {
		return common.SendError(c, common.NewValidation("name", "is required"))
	}
	if h.scheduler == nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "scheduler not running")
	}
	if err := h.scheduler.RunNow(name); err != nil {
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	}
	return c.JSON(http.StatusAccepted, map[string]string{
		"message": "job triggered",
		"job":     name,
	})
}

// GetLowStock lists records at or below their low-stock threshold.
func (h *JobHandlers) GetLowStock(c echo.Context) error {
	records, err := h.lowStock.CheckLowStock(c.Request().Context())
	if err != nil {
		return common.SendError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"records": records,
		"count":   len(records),
	})
}

// RegisterRoutes mounts the ops endpoints.
func RegisterRoutes(e *echo.Echo, health *HealthHandlers, jobHandlers *JobHandlers) {
	e.GET("/health", health.HealthCheck)
	e.GET("/health/ready", health.ReadinessCheck)
	e.GET("/health/live", health.LivenessCheck)

	if jobHandlers != nil {
		e.GET("/jobs", jobHandlers.GetJobStatus)
		e.POST("/jobs/:name/run", jobHandlers.TriggerJob)
		if jobHandlers.lowStock != nil {
			e.GET("/stock/low", jobHandlers.GetLowStock)
		}
	}
}
