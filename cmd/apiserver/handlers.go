package main

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/lyzr/workflowcore/internal/dispatcher"
	"github.com/lyzr/workflowcore/internal/logging"
	"github.com/lyzr/workflowcore/internal/model"
	"github.com/lyzr/workflowcore/internal/repository"
)

// RunHandler binds the run-surface operations to echo handlers.
type RunHandler struct {
	Dispatcher *dispatcher.Dispatcher
	Repo       repository.Repository
	Logger     *logging.Logger
}

// enqueueRunRequest is the body of POST /runs.
type enqueueRunRequest struct {
	WorkflowID      string        `json:"workflowId"`
	WorkflowVersion int           `json:"workflowVersion"`
	TenantID        string        `json:"tenantId"`
	Input           model.JSON    `json:"input"`
	Mode            model.RunMode `json:"mode"`
}

// EnqueueRun handles POST /runs: loads the requested workflow snapshot and
// hands it to the dispatcher, per enqueueRun(workflowId, input).
func (h *RunHandler) EnqueueRun(c echo.Context) error {
	var req enqueueRunRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.WorkflowID == "" || req.TenantID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "workflowId and tenantId are required")
	}
	if req.Mode == "" {
		req.Mode = model.ModeManual
	}

	ctx := c.Request().Context()
	wf, err := h.Repo.LoadWorkflow(ctx, req.TenantID, req.WorkflowID, req.WorkflowVersion)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "workflow not found")
		}
		h.Logger.Error("enqueueRun: failed to load workflow", "workflow_id", req.WorkflowID, "error", err)
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to load workflow")
	}

	runID, err := h.Dispatcher.EnqueueRun(ctx, wf, req.Input, req.Mode)
	if err != nil {
		h.Logger.Error("enqueueRun failed", "workflow_id", req.WorkflowID, "error", err)
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to enqueue run")
	}

	return c.JSON(http.StatusAccepted, map[string]any{"runId": runID})
}

// GetRun handles GET /runs/:id.
func (h *RunHandler) GetRun(c echo.Context) error {
	runID := c.Param("id")
	tenantID := c.QueryParam("tenantId")

	run, err := h.Dispatcher.GetRun(c.Request().Context(), runID, tenantID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "run not found")
		}
		h.Logger.Error("getRun failed", "run_id", runID, "error", err)
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to load run")
	}
	return c.JSON(http.StatusOK, run)
}

// ListRuns handles GET /runs?workflowId=...&status=...&limit=....
func (h *RunHandler) ListRuns(c echo.Context) error {
	filter := dispatcher.ListFilter{
		WorkflowID: c.QueryParam("workflowId"),
		Status:     model.RunStatus(c.QueryParam("status")),
	}
	if limitParam := c.QueryParam("limit"); limitParam != "" {
		limit, err := strconv.Atoi(limitParam)
		if err != nil || limit < 0 {
			return echo.NewHTTPError(http.StatusBadRequest, "limit must be a non-negative integer")
		}
		filter.Limit = limit
	}

	runs, err := h.Dispatcher.ListRuns(c.Request().Context(), filter)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return c.JSON(http.StatusOK, runs)
}

// GetRunLogs handles GET /runs/:id/logs.
func (h *RunHandler) GetRunLogs(c echo.Context) error {
	runID := c.Param("id")
	results, err := h.Dispatcher.GetRunLogs(c.Request().Context(), runID)
	if err != nil {
		h.Logger.Error("getRunLogs failed", "run_id", runID, "error", err)
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to load run logs")
	}
	return c.JSON(http.StatusOK, results)
}

// CancelRun handles POST /runs/:id/cancel.
func (h *RunHandler) CancelRun(c echo.Context) error {
	runID := c.Param("id")
	accepted, err := h.Dispatcher.CancelRun(c.Request().Context(), runID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "run not found")
		}
		h.Logger.Error("cancelRun failed", "run_id", runID, "error", err)
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to cancel run")
	}
	if !accepted {
		return c.JSON(http.StatusConflict, map[string]any{"cancelled": false, "reason": "run already terminal"})
	}
	return c.JSON(http.StatusAccepted, map[string]any{"cancelled": true})
}
