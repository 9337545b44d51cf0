// Package http wires the echo servers exposed by aurora.
package http

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/lenylvt/aurora-sub000/internal/config"
	"github.com/lenylvt/aurora-sub000/internal/hub"
	"github.com/lenylvt/aurora-sub000/internal/service"
	v1 "github.com/lenylvt/aurora-sub000/internal/transport/http/v1"
	"github.com/lenylvt/aurora-sub000/internal/transport/ws"
)

// NewAPIServer creates the HTTP API server: host endpoints and run history.
func NewAPIServer(svc *service.Service) *echo.Echo {
	e := echo.New()
	e.HideBanner = true

	e.Use(middleware.Logger())
	e.Use(middleware.Recover())
	e.Use(middleware.CORS())

	v1.NewHandler(svc).RegisterRoutes(e)

	return e
}

// NewRelayServer creates the relay server carrying the /ws endpoint.
func NewRelayServer(cfg *config.Config, h *hub.Hub, svc *service.Service) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Logger())
	e.Use(middleware.Recover())

	e.GET("/ws", ws.NewServer(cfg, h, svc).HandleWebSocket)
	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]interface{}{
			"status":      "healthy",
			"connections": h.GetConnectionCount(),
			"buffers":     h.GetBufferCount(),
		})
	})

	return e
}
