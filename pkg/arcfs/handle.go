package arcfs

import (
	"errors"
	"fmt"
	"io"

	"arcvfs/pkg/logger"
)

// Handle shares one Reader between every stream opened from the same
// archive. The backend is opened on the 0→1 reference transition and
// closed on 1→0; nested Open/Close pairs in between cost nothing.
//
// A Handle is not safe for concurrent use. The reference count guards
// against early teardown, not against two goroutines moving the cursor.
type Handle struct {
	name string
	r    Reader

	refs  int
	opens int

	cur      *Header
	ordinal  int   // ordinal of cur among leaves yielded this session, -1 before the first
	consumed int64 // payload bytes of cur already read
	eof      bool
	seen     map[string]struct{}
	gen      uint64

	password string
	lastErr  error
}

// NewHandle wraps r. name is only used in log lines and errors.
func NewHandle(name string, r Reader) *Handle {
	return &Handle{name: name, r: r, ordinal: -1}
}

// Open takes a reference, opening the backend if this is the first one.
func (h *Handle) Open() error {
	if h.refs == 0 {
		if ps, ok := h.r.(PasswordSetter); ok {
			ps.SetPassword(h.password)
		}
		if err := h.r.Open(); err != nil {
			err = fmt.Errorf("%w: %s: %w", ErrBackendOpen, h.name, classify(err))
			h.lastErr = err
			return err
		}
		h.opens++
		h.reset()
		logger.Debug("Backend opened", "archive", h.name, "opens", h.opens)
	}
	h.refs++
	return nil
}

// Close drops a reference, closing the backend when the last one goes.
// Closing an unreferenced handle is a no-op.
func (h *Handle) Close() error {
	if h.refs == 0 {
		return nil
	}
	h.refs--
	if h.refs > 0 {
		return nil
	}
	err := h.r.Close()
	h.cur = nil
	h.seen = nil
	h.gen++
	logger.Debug("Backend closed", "archive", h.name)
	if err != nil {
		h.lastErr = err
	}
	return err
}

// Rewind restarts the backend session from the first entry without
// changing the reference count. Streams positioned before the rewind
// become stale.
func (h *Handle) Rewind() error {
	if h.refs == 0 {
		return ErrClosed
	}
	if err := h.r.Close(); err != nil {
		logger.Debug("Close before rewind failed", "archive", h.name, "err", err)
	}
	if ps, ok := h.r.(PasswordSetter); ok {
		ps.SetPassword(h.password)
	}
	if err := h.r.Open(); err != nil {
		// The backend is gone; drop every reference so the next Open retries.
		h.refs = 0
		h.cur = nil
		err = fmt.Errorf("%w: %s: %w", ErrBackendOpen, h.name, classify(err))
		h.lastErr = err
		return err
	}
	h.opens++
	h.reset()
	logger.Debug("Backend rewound", "archive", h.name, "opens", h.opens)
	return nil
}

func (h *Handle) reset() {
	h.cur = nil
	h.ordinal = -1
	h.consumed = 0
	h.eof = false
	h.seen = make(map[string]struct{})
	h.gen++
}

// Next advances to the next leaf, skipping directory markers. It returns
// io.EOF once the container is exhausted.
func (h *Handle) Next() (*Header, error) {
	if h.refs == 0 {
		return nil, ErrClosed
	}
	if h.eof {
		return nil, io.EOF
	}
	if h.cur != nil {
		h.seen[h.cur.Path] = struct{}{}
	}
	for {
		hdr, err := h.r.Next()
		if err != nil {
			h.cur = nil
			h.gen++
			if errors.Is(err, io.EOF) {
				h.eof = true
				return nil, io.EOF
			}
			err = classify(err)
			h.lastErr = err
			return nil, err
		}
		p, ok := normalize(hdr.Path)
		if !ok {
			continue
		}
		entry := *hdr
		entry.Path = p
		h.cur = &entry
		h.ordinal++
		h.consumed = 0
		h.gen++
		return h.cur, nil
	}
}

// Find positions the cursor on path. An untouched current entry with that
// path is reused; otherwise the cursor scans forward. When the scan runs
// out, the error is ErrCursorPassed if path was seen earlier in this
// session and plain ErrNotFound otherwise.
func (h *Handle) Find(path string) error {
	if h.refs == 0 {
		return ErrClosed
	}
	if h.cur != nil && h.cur.Path == path && h.consumed == 0 {
		return nil
	}
	passed := h.cur != nil && h.cur.Path == path
	for {
		hdr, err := h.Next()
		if errors.Is(err, io.EOF) {
			if _, ok := h.seen[path]; ok || passed {
				return ErrCursorPassed
			}
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		if hdr.Path == path {
			return nil
		}
	}
}

// FindEntry positions the cursor on the ordinal-th leaf of the session,
// which must carry path. Unlike Find it selects the exact occurrence of a
// path the container lists more than once.
func (h *Handle) FindEntry(path string, ordinal int) error {
	if h.refs == 0 {
		return ErrClosed
	}
	if h.cur != nil && h.ordinal == ordinal && h.consumed == 0 {
		if h.cur.Path != path {
			return ErrNotFound
		}
		return nil
	}
	if h.ordinal >= ordinal {
		return ErrCursorPassed
	}
	for h.ordinal < ordinal {
		if _, err := h.Next(); err != nil {
			if errors.Is(err, io.EOF) {
				return ErrNotFound
			}
			return err
		}
	}
	if h.cur.Path != path {
		return ErrNotFound
	}
	return nil
}

// Read copies payload of the current entry.
func (h *Handle) Read(p []byte) (int, error) {
	if h.refs == 0 {
		return 0, ErrClosed
	}
	if h.cur == nil {
		return 0, io.EOF
	}
	n, err := h.r.Read(p)
	h.consumed += int64(n)
	if err != nil && !errors.Is(err, io.EOF) {
		err = classify(err)
		h.lastErr = err
	}
	return n, err
}

func (h *Handle) atStart() bool { return h.ordinal < 0 && !h.eof }

// Current returns the entry under the cursor, or nil.
func (h *Handle) Current() *Header { return h.cur }

// Ordinal returns the session ordinal of the current entry, -1 if none.
func (h *Handle) Ordinal() int { return h.ordinal }

// Generation changes every time the cursor moves or is claimed.
func (h *Handle) Generation() uint64 { return h.gen }

// Claim hands the current entry to a new reader. Streams holding an older
// generation become stale even if the cursor did not move, so two opens of
// one untouched entry never split its payload between them.
func (h *Handle) Claim() uint64 {
	h.gen++
	return h.gen
}

// Refs returns the number of outstanding references.
func (h *Handle) Refs() int { return h.refs }

// Opens returns how many backend sessions have been started.
func (h *Handle) Opens() int { return h.opens }

func (h *Handle) IsOpen() bool { return h.refs > 0 }

func (h *Handle) SetPassword(password string) { h.password = password }

func (h *Handle) Password() string { return h.password }

// LastError returns the most recent failure, for diagnostics.
func (h *Handle) LastError() error { return h.lastErr }
