// Package model defines shared types for the proxy.
package model

import (
	"io"
	"net/http"

	"holdproxy/internal/replay"
)

// ProxyRequest is the snapshot of one client request held for replay.
// Every attempt rebuilds its outbound request from it.
type ProxyRequest struct {
	Method     string
	RequestURI string // path plus raw query
	Host       string
	Header     http.Header
	// ContentLength mirrors http.Request.ContentLength: -1 means unknown.
	ContentLength int64
	RemoteAddr    string
	Body          *replay.Buffer
}

// ProxyResponse represents the upstream response to be streamed back.
type ProxyResponse struct {
	StatusCode int
	Header     http.Header
	Body       io.ReadCloser
}

// Echo context keys under which the proxy handler records the terminal
// outcome for the request logger.
const (
	ContextKeyAttempts = "holdproxy.attempts"
	ContextKeyOutcome  = "holdproxy.outcome"
)
