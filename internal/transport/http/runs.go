package http

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/xiaot623/gogo/assistant/internal/service"
)

// GetRun returns a journaled run.
// GET /v1/runs/:run_id
func (h *Handler) GetRun(c echo.Context) error {
	runID := c.Param("run_id")
	run, err := h.engine.GetRun(c.Request().Context(), runID)
	if err != nil {
		return h.journalError(c, err)
	}
	if run == nil {
		return c.JSON(http.StatusNotFound, map[string]string{"error": "run not found"})
	}
	return c.JSON(http.StatusOK, run)
}

// GetRunEvents returns the events journaled for a run.
// GET /v1/runs/:run_id/events?after_seq=&limit=
func (h *Handler) GetRunEvents(c echo.Context) error {
	runID := c.Param("run_id")
	limit := 100
	if l := c.QueryParam("limit"); l != "" {
		if val, err := strconv.Atoi(l); err == nil {
			limit = val
		}
	}
	afterSeq := 0
	if s := c.QueryParam("after_seq"); s != "" {
		if val, err := strconv.Atoi(s); err == nil {
			afterSeq = val
		}
	}

	ctx := c.Request().Context()
	run, err := h.engine.GetRun(ctx, runID)
	if err != nil {
		return h.journalError(c, err)
	}
	if run == nil {
		return c.JSON(http.StatusNotFound, map[string]string{"error": "run not found"})
	}

	events, err := h.engine.GetRunEvents(ctx, runID, afterSeq, limit)
	if err != nil {
		return h.journalError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"events":   events,
		"has_more": len(events) == limit,
	})
}

// GetRunToolCalls returns the tool calls executed for a run.
// GET /v1/runs/:run_id/tool_calls
func (h *Handler) GetRunToolCalls(c echo.Context) error {
	calls, err := h.engine.GetRunToolCalls(c.Request().Context(), c.Param("run_id"))
	if err != nil {
		return h.journalError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"tool_calls": calls})
}

func (h *Handler) journalError(c echo.Context, err error) error {
	if errors.Is(err, service.ErrJournalDisabled) {
		return c.JSON(http.StatusNotImplemented, map[string]string{"error": err.Error()})
	}
	return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
}
