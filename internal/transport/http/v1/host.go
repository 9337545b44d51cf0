package v1

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/lenylvt/aurora-sub000/internal/domain"
	"github.com/lenylvt/aurora-sub000/internal/service"
	"github.com/lenylvt/aurora-sub000/internal/session"
)

// GetConfig advertises execution capabilities.
// GET /api/config
func (h *Handler) GetConfig(c echo.Context) error {
	return c.JSON(http.StatusOK, h.service.Capabilities())
}

// Execute runs code once and returns its collected output.
// POST /api/execute
func (h *Handler) Execute(c echo.Context) error {
	var req domain.BatchRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request body"})
	}
	if req.Language == "" {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "language is required"})
	}

	result, err := h.service.Execute(c.Request().Context(), req)
	if err != nil {
		return c.JSON(statusFor(err), map[string]string{"error": err.Error()})
	}
	return c.JSON(http.StatusOK, result)
}

// InputHint compares a program's stdin reads with the supplied stdin.
// POST /v1/input_hint
func (h *Handler) InputHint(c echo.Context) error {
	var req domain.RunRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request body"})
	}

	hint, err := h.service.InputHint(req)
	if err != nil {
		return c.JSON(statusFor(err), map[string]string{"error": err.Error()})
	}
	return c.JSON(http.StatusOK, hint)
}

func statusFor(err error) int {
	var blocked *session.BlockedError
	switch {
	case errors.As(err, &blocked):
		return http.StatusForbidden
	case errors.Is(err, session.ErrEmptySource), errors.Is(err, domain.ErrUnknownLanguage), errors.Is(err, service.ErrBufferRequired):
		return http.StatusBadRequest
	case errors.Is(err, service.ErrRunNotFound):
		return http.StatusNotFound
	case errors.Is(err, service.ErrBatchUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusBadGateway
	}
}
