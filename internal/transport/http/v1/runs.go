package v1

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
)

// ListBufferRuns lists recent runs of a buffer, newest first.
// GET /v1/buffers/:buffer_id/runs
func (h *Handler) ListBufferRuns(c echo.Context) error {
	bufferID := c.Param("buffer_id")
	limit := 20
	if l := c.QueryParam("limit"); l != "" {
		if val, err := strconv.Atoi(l); err == nil && val > 0 {
			limit = val
		}
	}

	runs, err := h.service.ListRuns(c.Request().Context(), bufferID, limit)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"runs": runs,
	})
}

// GetRun retrieves one run.
// GET /v1/runs/:run_id
func (h *Handler) GetRun(c echo.Context) error {
	run, err := h.service.GetRun(c.Request().Context(), c.Param("run_id"))
	if err != nil {
		status := statusFor(err)
		if status == http.StatusBadGateway {
			status = http.StatusInternalServerError
		}
		return c.JSON(status, map[string]string{"error": err.Error()})
	}
	return c.JSON(http.StatusOK, run)
}

// GetRunEvents retrieves the output events of a run.
// GET /v1/runs/:run_id/events
func (h *Handler) GetRunEvents(c echo.Context) error {
	runID := c.Param("run_id")
	limit := 100
	if l := c.QueryParam("limit"); l != "" {
		if val, err := strconv.Atoi(l); err == nil {
			limit = val
		}
	}
	afterSeq := int64(0)
	if s := c.QueryParam("after_seq"); s != "" {
		if val, err := strconv.ParseInt(s, 10, 64); err == nil {
			afterSeq = val
		}
	}

	ctx := c.Request().Context()
	if _, err := h.service.GetRun(ctx, runID); err != nil {
		status := statusFor(err)
		if status == http.StatusBadGateway {
			status = http.StatusInternalServerError
		}
		return c.JSON(status, map[string]string{"error": err.Error()})
	}

	events, err := h.service.GetRunEvents(ctx, runID, afterSeq, limit)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"events":   events,
		"has_more": limit > 0 && len(events) == limit,
	})
}

// GetSnapshot returns the live session state of a buffer.
// GET /v1/buffers/:buffer_id/snapshot
func (h *Handler) GetSnapshot(c echo.Context) error {
	snapshot, err := h.service.Snapshot(c.Param("buffer_id"))
	if err != nil {
		return c.JSON(statusFor(err), map[string]string{"error": err.Error()})
	}
	return c.JSON(http.StatusOK, snapshot)
}
