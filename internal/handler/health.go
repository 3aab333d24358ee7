package handler

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"holdproxy/internal/config"
)

// Version is a string type for dependency injection of the build version.
type Version string

// HealthHandler serves health and status endpoints.
type HealthHandler struct {
	cfg     *config.Config
	version Version
}

// NewHealthHandler creates a HealthHandler.
func NewHealthHandler(cfg *config.Config, v Version) *HealthHandler {
	return &HealthHandler{cfg: cfg, version: v}
}

// Healthz returns a simple OK response for liveness probes. It does not
// check the upstream: holding requests while it is down is the point.
func (h *HealthHandler) Healthz(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{
		"status": "ok",
	})
}

// Status returns the effective proxy settings.
func (h *HealthHandler) Status(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]any{
		"status":       "ok",
		"version":      string(h.version),
		"upstream":     h.cfg.Upstream.Addr(),
		"max_attempts": h.cfg.Retry.MaxAttempts,
		"delay":        h.cfg.Retry.Delay().String(),
		"config":       h.cfg.Source(),
	})
}
