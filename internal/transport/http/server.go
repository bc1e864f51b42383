// Package http provides the HTTP server for the assistant engine.
package http

import (
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/xiaot623/gogo/assistant/internal/correlation"
	"github.com/xiaot623/gogo/assistant/internal/observability"
)

// NewServer creates and configures the HTTP server. ws, when non-nil, serves
// the WebSocket chat endpoint.
func NewServer(h *Handler, ws echo.HandlerFunc, metrics *observability.Metrics) *echo.Echo {
	e := echo.New()
	e.HideBanner = true

	// Middleware
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())
	e.Use(middleware.CORS())
	e.Use(Correlation())

	// Register Routes
	h.RegisterRoutes(e)
	if ws != nil {
		e.GET("/ws/chat", ws)
	}
	e.GET("/metrics", echo.WrapHandler(metrics.Handler()))

	return e
}

// Correlation reads X-Correlation-ID (or generates one), stores it in the
// request context and echoes it on the response.
func Correlation() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			id := req.Header.Get(correlation.Header)
			if id == "" {
				id = correlation.New()
			}
			c.SetRequest(req.WithContext(correlation.WithID(req.Context(), id)))
			c.Response().Header().Set(correlation.Header, id)
			return next(c)
		}
	}
}
