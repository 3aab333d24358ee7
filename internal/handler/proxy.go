package handler

import (
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"holdproxy/internal/config"
	"holdproxy/internal/metrics"
	"holdproxy/internal/model"
	"holdproxy/internal/replay"
	"holdproxy/internal/service"
)

// ProxyHandler holds every proxied request until the upstream answers.
type ProxyHandler struct {
	coordinator *service.Coordinator
	bodyLimit   int64
	logger      *slog.Logger
	metrics     *metrics.Metrics
}

// NewProxyHandler creates a ProxyHandler. The metrics parameter is optional.
func NewProxyHandler(coord *service.Coordinator, cfg *config.Config, logger *slog.Logger, m *metrics.Metrics) *ProxyHandler {
	return &ProxyHandler{
		coordinator: coord,
		bodyLimit:   cfg.Server.BodyMaxBytes.Int64(),
		logger:      logger.With("component", "proxy_handler"),
		metrics:     m,
	}
}

// Handle snapshots the request, starts capturing its body into a replay
// buffer and runs the attempt loop while the body is still arriving. The
// terminal outcome becomes either the relayed upstream response or one of
// the fixed error pages. Handle does not return before the capture has
// stopped reading the request body.
func (h *ProxyHandler) Handle(c echo.Context) error {
	req := c.Request()
	if h.bodyLimit > 0 && req.ContentLength > h.bodyLimit {
		return echo.ErrStatusRequestEntityTooLarge
	}

	// The response may start while the client is still sending. Without
	// full duplex, net/http would try to drain the unread body before
	// writing the status line.
	rc := http.NewResponseController(c.Response())
	if err := rc.EnableFullDuplex(); err != nil {
		h.logger.Debug("full duplex not available", "err", err)
	}

	buf := replay.New()
	pr := &model.ProxyRequest{
		Method:        req.Method,
		RequestURI:    req.URL.RequestURI(),
		Host:          req.Host,
		Header:        req.Header.Clone(),
		ContentLength: req.ContentLength,
		RemoteAddr:    c.RealIP(),
		Body:          buf,
	}
	captured := make(chan struct{})
	go func() {
		defer close(captured)
		h.capture(buf, req.Body)
	}()
	defer h.awaitCapture(c, rc, captured)

	out, err := h.coordinator.Run(req.Context(), pr)
	if err != nil {
		h.logger.Error("hold request", "err", err, "path", req.URL.Path)
		c.Set(model.ContextKeyAttempts, 0)
		c.Set(model.ContextKeyOutcome, service.Aborted.String())
		return writeInternalError(c)
	}

	c.Set(model.ContextKeyAttempts, out.Attempts)
	c.Set(model.ContextKeyOutcome, out.State.String())
	if h.metrics != nil {
		h.metrics.BufferedBodyBytes.Observe(float64(buf.Size()))
	}

	switch {
	case out.State == service.Succeeded:
		return h.relay(c, out.Response, out.Attempts)
	case errors.Is(buf.Err(), replay.ErrBodyTooLarge):
		return echo.ErrStatusRequestEntityTooLarge
	case out.State == service.Failed:
		return writeUnavailable(c, h.coordinator.Policy().MaxAttempts)
	default:
		return writeInternalError(c)
	}
}

// capture is the single writer of buf.
func (h *ProxyHandler) capture(buf *replay.Buffer, body io.Reader) {
	n, err := buf.CaptureLimit(body, h.bodyLimit)
	if err != nil {
		h.logger.Debug("client body read ended with error", "err", err, "bytes", n)
	}
}

// awaitCapture waits for the capture goroutine so that nothing reads the
// request body after the handler has returned. A client still sending when
// the outcome is known is cut off with an immediate read deadline; the
// remainder of its body is never forwarded.
func (h *ProxyHandler) awaitCapture(c echo.Context, rc *http.ResponseController, captured <-chan struct{}) {
	select {
	case <-captured:
		return
	default:
	}
	if err := rc.SetReadDeadline(time.Now()); err != nil {
		h.logger.Debug("cannot interrupt body capture", "err", err, "path", c.Request().URL.Path)
		return
	}
	<-captured
}
