package mount

import (
	"errors"
	"io"
	"sync"

	"arcvfs/pkg/arcfs"
)

// cursor turns random-offset reads from the kernel into reads on a
// forward-only entry stream. Reading at the current position continues
// the stream, a forward gap is read and discarded, and a backward jump
// reopens the entry. mu is shared by every cursor over one archive.
type cursor struct {
	open func() (io.ReadCloser, error)

	mu  *sync.Mutex
	rc  io.ReadCloser
	pos int64

	reopens int
}

func newCursor(mu *sync.Mutex, open func() (io.ReadCloser, error)) *cursor {
	return &cursor{mu: mu, open: open}
}

func (c *cursor) ReadAt(p []byte, off int64) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	n, err := c.readAt(p, off)
	if errors.Is(err, arcfs.ErrCursorMoved) {
		// Another file on the same archive took the shared cursor.
		c.reset()
		n, err = c.readAt(p, off)
	}
	return n, err
}

func (c *cursor) readAt(p []byte, off int64) (int, error) {
	if c.rc == nil || off < c.pos {
		if err := c.reopen(); err != nil {
			return 0, err
		}
	}
	if off > c.pos {
		skipped, err := io.CopyN(io.Discard, c.rc, off-c.pos)
		c.pos += skipped
		if err != nil {
			return 0, err
		}
	}
	n, err := io.ReadFull(c.rc, p)
	c.pos += int64(n)
	if errors.Is(err, io.ErrUnexpectedEOF) {
		err = io.EOF
	}
	return n, err
}

func (c *cursor) reopen() error {
	c.reset()
	rc, err := c.open()
	if err != nil {
		return err
	}
	c.rc = rc
	c.reopens++
	return nil
}

func (c *cursor) reset() {
	if c.rc != nil {
		c.rc.Close()
	}
	c.rc = nil
	c.pos = 0
}

func (c *cursor) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	var err error
	if c.rc != nil {
		err = c.rc.Close()
	}
	c.rc = nil
	c.pos = 0
	return err
}
