package arcfs

import (
	"context"
	"errors"
	"fmt"
	"io"
)

// Scan visits every leaf in container order without building a tree. It
// drives a Reader of its own, so it neither moves nor shares the cursor
// used by streams. fn may read the entry through r until it returns;
// unread payload is skipped. Cancellation is checked between entries.
func (a *Archive) Scan(ctx context.Context, fn func(hdr *Header, r io.Reader) error) error {
	if a.closed {
		return ErrClosed
	}
	r := a.backend.New(a.src, a.opts.backendOptions())
	if ps, ok := r.(PasswordSetter); ok {
		ps.SetPassword(a.opts.password)
	}
	if err := r.Open(); err != nil {
		err = fmt.Errorf("%w: %s: %w", ErrBackendOpen, a.Name(), classify(err))
		a.lastErr = err
		return err
	}
	defer r.Close()

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		hdr, err := r.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			err = classify(err)
			a.lastErr = err
			return err
		}
		p, ok := normalize(hdr.Path)
		if !ok {
			continue
		}
		entry := *hdr
		entry.Path = p
		if err := fn(&entry, scanReader{r}); err != nil {
			return err
		}
	}
}

type scanReader struct{ r Reader }

func (s scanReader) Read(p []byte) (int, error) {
	n, err := s.r.Read(p)
	if err != nil && !errors.Is(err, io.EOF) {
		err = classify(err)
	}
	return n, err
}
