package handler

import (
	"github.com/labstack/echo/v4"

	"openai-proxy-go/internal/config"
)

// RegisterRoutes wires all route handlers onto the Echo instance.
// Local routes are registered as static paths, which Echo matches before the
// catch-all proxy route. Methods are normalized before routing so every
// method token reaches the proxy.
func RegisterRoutes(e *echo.Echo, cfg *config.Config, proxy *ProxyHandler, health *HealthHandler) {
	e.Pre(NormalizeMethod())

	e.Any(config.HealthPath, health.Health)
	if cfg.Server.StatusEndpoint {
		e.GET(config.StatusPath, health.Status)
	}

	e.Any("/", proxy.Handle)
	e.Any("/*", proxy.Handle)
}
