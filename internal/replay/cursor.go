package replay

import (
	"context"
	"sync"
)

// Cursor is an independent read position into a Buffer. Next and Read must
// be called from a single goroutine; Close may be called from any goroutine.
type Cursor struct {
	buf  *Buffer
	pos  int
	rest []byte // unread tail of the current chunk, used by Read

	once sync.Once
	done chan struct{}
}

// Next returns the next chunk, waiting for it if necessary. It returns io.EOF
// after the last chunk of a cleanly closed buffer, the capture error for a
// buffer closed with an error, ErrUnsubscribed once the cursor is released,
// or ctx.Err() if ctx ends first. The returned slice must not be modified.
func (c *Cursor) Next(ctx context.Context) ([]byte, error) {
	for {
		if c.released() {
			return nil, ErrUnsubscribed
		}

		chunk, wait, err := c.buf.chunkAt(c.pos)
		if err != nil {
			return nil, err
		}
		if wait == nil {
			c.pos++
			return chunk, nil
		}

		select {
		case <-wait:
		case <-c.done:
			return nil, ErrUnsubscribed
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// Read implements io.Reader over the replayed chunks.
func (c *Cursor) Read(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	if len(c.rest) == 0 {
		chunk, err := c.Next(context.Background())
		if err != nil {
			return 0, err
		}
		c.rest = chunk
	}
	n := copy(p, c.rest)
	c.rest = c.rest[n:]
	return n, nil
}

// Close releases the cursor. It is idempotent and always returns nil.
func (c *Cursor) Close() error {
	c.release()
	return nil
}

// Position returns the index of the next chunk the cursor will deliver.
func (c *Cursor) Position() int {
	return c.pos
}

func (c *Cursor) release() {
	c.once.Do(func() {
		close(c.done)
		c.buf.forget(c)
	})
}

func (c *Cursor) released() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}
