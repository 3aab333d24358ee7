package service

import (
	"context"
	"errors"
	"io"
	"sync/atomic"

	"holdproxy/internal/replay"
)

// errAttemptInvalid is returned to the transport once an attempt has been
// classified as failed; whatever the cursor delivers afterwards is dropped.
var errAttemptInvalid = errors.New("attempt invalidated")

const (
	attemptLive int32 = iota
	attemptFinished
	attemptInvalid
)

// attempt owns one outbound request body and the cursor feeding it. Read is
// called by the transport's writer goroutine; finish and invalidate may be
// called concurrently by the coordinator.
type attempt struct {
	n      int
	cursor *replay.Cursor
	state  atomic.Int32
	ctx    context.Context
	cancel context.CancelFunc
}

func newAttempt(ctx context.Context, n int, buf *replay.Buffer, cancel context.CancelFunc) *attempt {
	return &attempt{n: n, cursor: buf.Subscribe(), ctx: ctx, cancel: cancel}
}

// Read forwards replayed bytes while the attempt is live. The state is checked
// both before and after the cursor delivers, so a chunk that races with
// classification is never handed to the transport.
func (a *attempt) Read(p []byte) (int, error) {
	if err := a.closedErr(); err != nil {
		return 0, err
	}
	n, err := a.cursor.Read(p)
	if cerr := a.closedErr(); cerr != nil {
		return 0, cerr
	}
	if errors.Is(err, replay.ErrUnsubscribed) {
		return n, errAttemptInvalid
	}
	return n, err
}

// Close is called by the transport when it is done with the body.
func (a *attempt) Close() error {
	return a.cursor.Close()
}

// closedErr reports why the attempt no longer forwards bytes. A finished
// attempt parks the transport's writer until the response has been relayed:
// ending the body early would make the transport treat a short Content-Length
// body as a write failure and close the connection under the response.
func (a *attempt) closedErr() error {
	switch a.state.Load() {
	case attemptFinished:
		<-a.ctx.Done()
		return a.ctx.Err()
	case attemptInvalid:
		return errAttemptInvalid
	default:
		return nil
	}
}

// finish stops the outbound body once response headers have arrived. The
// cursor is released; the per-attempt context stays alive for the response
// and its cancellation is what finally unblocks Read.
func (a *attempt) finish() {
	a.state.CompareAndSwap(attemptLive, attemptFinished)
	_ = a.cursor.Close()
}

// invalidate marks a failed attempt, releases its cursor and tears down the
// outbound connection.
func (a *attempt) invalidate() {
	a.state.Store(attemptInvalid)
	_ = a.cursor.Close()
	a.cancel()
}

// cancelOnClose releases the per-attempt context when the relay closes the
// upstream response body.
type cancelOnClose struct {
	io.ReadCloser
	cancel context.CancelFunc
}

func (c *cancelOnClose) Close() error {
	err := c.ReadCloser.Close()
	c.cancel()
	return err
}
