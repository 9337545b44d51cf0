// Package v1 provides the aurora HTTP API handlers.
package v1

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/lenylvt/aurora-sub000/internal/service"
)

// Handler handles HTTP requests.
type Handler struct {
	service *service.Service
}

// NewHandler creates a new handler.
func NewHandler(service *service.Service) *Handler {
	return &Handler{
		service: service,
	}
}

// RegisterRoutes registers routes with the echo server.
func (h *Handler) RegisterRoutes(e *echo.Echo) {
	// Host API probed by clients
	e.GET("/api/config", h.GetConfig)
	e.POST("/api/execute", h.Execute)

	// Run history
	e.GET("/v1/buffers/:buffer_id/runs", h.ListBufferRuns)
	e.GET("/v1/buffers/:buffer_id/snapshot", h.GetSnapshot)
	e.GET("/v1/runs/:run_id", h.GetRun)
	e.GET("/v1/runs/:run_id/events", h.GetRunEvents)
	e.POST("/v1/input_hint", h.InputHint)

	e.GET("/health", h.Health)
}

// Health returns health status.
func (h *Handler) Health(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{
		"status": "healthy",
		"mode":   string(h.service.Mode()),
	})
}
