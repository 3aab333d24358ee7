package handler

import (
	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"holdproxy/internal/config"
	"holdproxy/internal/metrics"
)

// RegisterRoutes wires all route handlers onto the Echo instance. Admin
// routes live under the configured prefix; every other path and method is
// proxied.
func RegisterRoutes(e *echo.Echo, cfg *config.Config, m *metrics.Metrics, proxy *ProxyHandler, health *HealthHandler) {
	admin := e.Group(cfg.Server.AdminPrefix)
	admin.GET("/healthz", health.Healthz)
	admin.GET("/status", health.Status)

	if cfg.Metrics.Enabled && m != nil {
		e.GET(cfg.Metrics.Path, echo.WrapHandler(promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{})))
	}

	e.Any("/*", proxy.Handle)
	// Any only covers echo's fixed method list. Other methods (WebDAV's
	// MKCOL, LOCK, COPY, MOVE or custom verbs) match the path but no method
	// and would get a 405; the not-found route takes precedence over that.
	e.RouteNotFound("/*", proxy.Handle)
}
