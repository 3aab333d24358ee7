// Package service implements the hold-and-retry engine: every client request
// is replayed to the upstream until an attempt gets response headers, the
// upstream keeps refusing past the attempt budget, or a non-retryable error
// ends it.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"holdproxy/internal/config"
	"holdproxy/internal/metrics"
	"holdproxy/internal/model"
)

// ErrInvalidRequest is returned by Run for a request without a body buffer.
var ErrInvalidRequest = errors.New("service: request has no body buffer")

// Doer performs one upstream exchange and returns once response headers
// have arrived.
type Doer interface {
	Do(req *http.Request) (*model.ProxyResponse, error)
}

// Policy bounds how long a request is held.
type Policy struct {
	MaxAttempts int
	Delay       time.Duration
}

// PolicyFromConfig builds the retry policy from the resolved configuration.
func PolicyFromConfig(cfg *config.Config) Policy {
	return Policy{
		MaxAttempts: cfg.Retry.MaxAttempts,
		Delay:       cfg.Retry.Delay(),
	}
}

// Outcome is the terminal result of Run. Response is set only when State is
// Succeeded; Err holds the last attempt error otherwise.
type Outcome struct {
	State    State
	Attempts int
	Response *model.ProxyResponse
	Err      error
	Elapsed  time.Duration
}

// Coordinator drives the attempt sequence for individual requests. It holds
// no per-request state and is safe for concurrent use.
type Coordinator struct {
	doer    Doer
	policy  Policy
	target  url.URL
	logger  *slog.Logger
	metrics *metrics.Metrics
}

// NewCoordinator creates a Coordinator for the configured upstream. The
// metrics parameter is optional.
func NewCoordinator(doer Doer, cfg *config.Config, logger *slog.Logger, m *metrics.Metrics) *Coordinator {
	policy := PolicyFromConfig(cfg)
	if policy.MaxAttempts < 1 {
		policy.MaxAttempts = 1
	}
	return &Coordinator{
		doer:    doer,
		policy:  policy,
		target:  url.URL{Scheme: "http", Host: cfg.Upstream.Addr()},
		logger:  logger.With("component", "coordinator"),
		metrics: m,
	}
}

// Policy returns the retry policy in effect.
func (c *Coordinator) Policy() Policy {
	return c.policy
}

// Run holds pr until it reaches a terminal state. Attempts run strictly one
// after another: attempt n+1 starts only after attempt n has been classified
// and its cursor released. Cancelling ctx (the client went away) ends a
// pending delay or attempt in Aborted.
func (c *Coordinator) Run(ctx context.Context, pr *model.ProxyRequest) (*Outcome, error) {
	if pr == nil || pr.Body == nil {
		return nil, ErrInvalidRequest
	}

	start := time.Now()
	log := c.logger.With("method", pr.Method, "path", pr.RequestURI, "remote_ip", pr.RemoteAddr)
	out := &Outcome{State: Attempting}

	for n := 1; !out.State.Terminal(); n++ {
		out.Attempts = n
		resp, err := c.attempt(ctx, pr, n)
		switch {
		case err == nil:
			out.State, out.Response, out.Err = Succeeded, resp, nil

		case Classify(err) != Retryable || ctx.Err() != nil:
			out.State, out.Err = Aborted, err
			log.Error("upstream request failed", "attempt", n, "err", err)

		case n >= c.policy.MaxAttempts:
			out.State, out.Err = Failed, err
			log.Warn("upstream still down after maximum attempts", "max_attempts", c.policy.MaxAttempts)

		default:
			out.State, out.Err = Delaying, err
			log.Info("upstream down, request held for retry",
				"attempt", n,
				"retry_in", c.policy.Delay.String(),
			)
			if c.metrics != nil {
				c.metrics.RetriesTotal.Inc()
			}
			if werr := c.wait(ctx); werr != nil {
				out.State, out.Err = Aborted, &NonRetryableError{Attempt: n, Err: werr}
				log.Info("client went away while held", "attempt", n, "err", werr)
				break
			}
			out.State = Attempting
		}
	}

	out.Elapsed = time.Since(start)
	if c.metrics != nil {
		c.metrics.OutcomesTotal.WithLabelValues(out.State.String()).Inc()
		c.metrics.AttemptsPerRequest.Observe(float64(out.Attempts))
	}
	return out, nil
}

// attempt performs Attempting(n). The returned error is always a
// *RetryableConnectionError or a *NonRetryableError.
func (c *Coordinator) attempt(ctx context.Context, pr *model.ProxyRequest, n int) (*model.ProxyResponse, error) {
	actx, cancel := context.WithCancel(ctx)
	a := newAttempt(actx, n, pr.Body, cancel)

	req, err := c.newUpstreamRequest(actx, pr, a)
	if err != nil {
		a.invalidate()
		c.recordAttempt(metrics.AttemptError)
		return nil, &NonRetryableError{Attempt: n, Err: err}
	}

	resp, err := c.doer.Do(req)
	if err != nil {
		a.invalidate()
		err = classifyAttempt(n, err)
		if Classify(err) == Retryable {
			c.recordAttempt(metrics.AttemptRefused)
		} else {
			c.recordAttempt(metrics.AttemptError)
		}
		return nil, err
	}

	a.finish()
	c.recordAttempt(metrics.AttemptResponse)
	resp.Body = &cancelOnClose{ReadCloser: resp.Body, cancel: cancel}
	return resp, nil
}

// newUpstreamRequest rebuilds the client request against the upstream. The
// body is the attempt itself, replaying the buffer from its first chunk.
func (c *Coordinator) newUpstreamRequest(ctx context.Context, pr *model.ProxyRequest, a *attempt) (*http.Request, error) {
	ref, err := url.ParseRequestURI(pr.RequestURI)
	if err != nil {
		return nil, fmt.Errorf("parse request uri %q: %w", pr.RequestURI, err)
	}
	u := c.target
	u.Path, u.RawPath, u.RawQuery = ref.Path, ref.RawPath, ref.RawQuery

	req, err := http.NewRequestWithContext(ctx, pr.Method, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("build upstream request: %w", err)
	}

	req.Header = pr.Header.Clone()
	if req.Header == nil {
		req.Header = make(http.Header)
	}
	if _, ok := req.Header["User-Agent"]; !ok {
		// Keep net/http from adding its own User-Agent.
		req.Header["User-Agent"] = []string{""}
	}
	if pr.Host != "" {
		req.Host = pr.Host
	}
	if pr.ContentLength != 0 {
		req.Body = a
		req.ContentLength = pr.ContentLength
	}
	return req, nil
}

// wait sleeps for the retry delay unless ctx ends first.
func (c *Coordinator) wait(ctx context.Context) error {
	if c.policy.Delay <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(c.policy.Delay)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Coordinator) recordAttempt(result string) {
	if c.metrics != nil {
		c.metrics.AttemptsTotal.WithLabelValues(result).Inc()
	}
}
