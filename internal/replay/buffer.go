// Package replay captures a request body once and replays it, in full and in
// order, to any number of independent cursors.
package replay

import (
	"errors"
	"io"
	"sync"
)

// ErrUnsubscribed is returned by a cursor that has been released.
var ErrUnsubscribed = errors.New("replay: cursor unsubscribed")

// ErrBodyTooLarge closes a buffer whose capture exceeded its byte limit.
var ErrBodyTooLarge = errors.New("replay: body exceeds limit")

// captureChunkSize is the read size used by Capture.
const captureChunkSize = 32 * 1024

// Buffer is an append-only log of body chunks closed by an end-of-stream
// marker. Chunks are never mutated or dropped while the buffer is alive, so a
// cursor subscribed at any time sees the full history.
type Buffer struct {
	mu      sync.Mutex
	chunks  [][]byte
	size    int64
	closed  bool
	err     error // terminal read error; nil means clean end of stream
	notify  chan struct{}
	cursors map[*Cursor]struct{}
}

// New returns an empty, open Buffer.
func New() *Buffer {
	return &Buffer{
		notify:  make(chan struct{}),
		cursors: make(map[*Cursor]struct{}),
	}
}

// Append records a copy of chunk. Empty chunks and chunks appended after
// Close are ignored.
func (b *Buffer) Append(chunk []byte) {
	if len(chunk) == 0 {
		return
	}
	owned := make([]byte, len(chunk))
	copy(owned, chunk)

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.chunks = append(b.chunks, owned)
	b.size += int64(len(owned))
	b.wakeLocked()
}

// Close appends the end-of-stream marker. Only the first call has an effect.
func (b *Buffer) Close() {
	b.finish(nil)
}

// CloseWithError ends the stream with a read failure. Cursors deliver the
// history first and then report err instead of io.EOF.
func (b *Buffer) CloseWithError(err error) {
	if err == nil {
		err = io.ErrUnexpectedEOF
	}
	b.finish(err)
}

func (b *Buffer) finish(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	b.err = err
	b.wakeLocked()
}

// wakeLocked releases every waiter and arms a fresh notification channel.
func (b *Buffer) wakeLocked() {
	close(b.notify)
	b.notify = make(chan struct{})
}

// Subscribe returns a cursor positioned at the first chunk.
func (b *Buffer) Subscribe() *Cursor {
	c := &Cursor{buf: b, done: make(chan struct{})}
	b.mu.Lock()
	b.cursors[c] = struct{}{}
	b.mu.Unlock()
	return c
}

// Unsubscribe releases c. It is safe to call more than once.
func (b *Buffer) Unsubscribe(c *Cursor) {
	if c == nil {
		return
	}
	c.release()
}

func (b *Buffer) forget(c *Cursor) {
	b.mu.Lock()
	delete(b.cursors, c)
	b.mu.Unlock()
}

// chunkAt returns chunk i if it exists. Otherwise it returns the terminal
// error (io.EOF on a clean close) or a channel that is closed on the next
// append or close.
func (b *Buffer) chunkAt(i int) ([]byte, <-chan struct{}, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if i < len(b.chunks) {
		return b.chunks[i], nil, nil
	}
	if b.closed {
		if b.err != nil {
			return nil, nil, b.err
		}
		return nil, nil, io.EOF
	}
	return nil, b.notify, nil
}

// Capture reads r to the end, appending every chunk, and closes the buffer.
// A read error other than io.EOF closes the buffer with that error and is
// returned.
func (b *Buffer) Capture(r io.Reader) (int64, error) {
	return b.CaptureLimit(r, 0)
}

// CaptureLimit is Capture with a cap on the recorded size. A read that would
// take the buffer past limit bytes is dropped and the buffer is closed with
// ErrBodyTooLarge. A limit of zero or less means no cap.
func (b *Buffer) CaptureLimit(r io.Reader, limit int64) (int64, error) {
	if r == nil {
		b.Close()
		return 0, nil
	}
	p := make([]byte, captureChunkSize)
	for {
		n, err := r.Read(p)
		if n > 0 {
			if limit > 0 && b.Size()+int64(n) > limit {
				b.CloseWithError(ErrBodyTooLarge)
				return b.Size(), ErrBodyTooLarge
			}
			b.Append(p[:n])
		}
		if errors.Is(err, io.EOF) {
			b.Close()
			return b.Size(), nil
		}
		if err != nil {
			b.CloseWithError(err)
			return b.Size(), err
		}
	}
}

// Err returns the error the buffer was closed with, or nil while it is open
// or after a clean end of stream.
func (b *Buffer) Err() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.err
}

// Len returns the number of chunks recorded so far.
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.chunks)
}

// Size returns the number of body bytes recorded so far.
func (b *Buffer) Size() int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.size
}

// Closed reports whether the end-of-stream marker has been appended.
func (b *Buffer) Closed() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.closed
}

// Subscribers returns the number of cursors that have not been released.
func (b *Buffer) Subscribers() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.cursors)
}
