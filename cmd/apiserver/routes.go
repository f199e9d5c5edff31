package main

import "github.com/labstack/echo/v4"

// RegisterRunRoutes binds the run-surface operations to /runs.
func RegisterRunRoutes(e *echo.Echo, h *RunHandler) {
	runs := e.Group("/runs")
	runs.POST("", h.EnqueueRun)
	runs.GET("", h.ListRuns)
	runs.GET("/:id", h.GetRun)
	runs.GET("/:id/logs", h.GetRunLogs)
	runs.POST("/:id/cancel", h.CancelRun)
}
