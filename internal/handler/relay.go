package handler

import (
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"holdproxy/internal/middleware"
	"holdproxy/internal/model"
)

// HeaderHoldProxy reports the attempt that produced the response, or the
// attempt budget that was exhausted.
const HeaderHoldProxy = "X-HoldProxy"

const (
	unavailableBody   = "<html><body>holdproxy 503: Service unavailable</body></html>"
	internalErrorBody = "<html><body>holdproxy 500</body></html>"

	relayBufferSize = 32 * 1024
)

// relay streams the successful attempt's response to the client. Headers are
// copied as received apart from hop-by-hop fields. Once the status line is
// out, an upstream failure can only be signalled by aborting the connection.
func (h *ProxyHandler) relay(c echo.Context, resp *model.ProxyResponse, attempt int) error {
	defer func() { _ = resp.Body.Close() }()

	w := c.Response()
	dst := w.Header()
	for key, vals := range resp.Header {
		dst[key] = append(dst[key], vals...)
	}
	middleware.StripHopHeaders(dst)
	dst.Set(HeaderHoldProxy, "Attempt "+strconv.Itoa(attempt))

	w.WriteHeader(resp.StatusCode)

	p := make([]byte, relayBufferSize)
	for {
		n, rerr := resp.Body.Read(p)
		if n > 0 {
			if _, werr := w.Write(p[:n]); werr != nil {
				h.logger.Debug("client went away during relay", "err", werr, "path", c.Request().URL.Path)
				return nil
			}
			w.Flush()
		}
		if errors.Is(rerr, io.EOF) {
			return nil
		}
		if rerr != nil {
			h.logger.Error("upstream body interrupted",
				"err", rerr,
				"path", c.Request().URL.Path,
				"bytes_out", w.Size,
			)
			panic(http.ErrAbortHandler)
		}
	}
}

// writeUnavailable sends the fixed page for an exhausted attempt budget.
func writeUnavailable(c echo.Context, maxAttempts int) error {
	c.Response().Header().Set(HeaderHoldProxy, "Failed after "+strconv.Itoa(maxAttempts)+" attempts")
	return c.Blob(http.StatusServiceUnavailable, "text/html", []byte(unavailableBody))
}

// writeInternalError sends the fixed page for a non-retryable failure.
func writeInternalError(c echo.Context) error {
	return c.Blob(http.StatusInternalServerError, "text/html", []byte(internalErrorBody))
}
