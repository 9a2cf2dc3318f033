package arcfs

import (
	"errors"
	"io"
	"io/fs"
	"time"
)

// Stream reads one entry through the archive's shared cursor. It is
// forward-only and read-only: every write-shaped call fails with
// ErrReadOnly. Close releases the stream's reference on the Handle.
type Stream struct {
	a      *Archive
	h      *Handle
	file   *File
	gen    uint64
	off    int64
	closed bool
}

var (
	_ fs.File   = (*Stream)(nil)
	_ io.Writer = (*Stream)(nil)
)

func (s *Stream) Read(p []byte) (int, error) {
	if s.closed {
		return 0, pathErr("read", s.file.Path(), ErrClosed)
	}
	if s.h.Generation() != s.gen {
		return 0, pathErr("read", s.file.Path(), ErrCursorMoved)
	}
	n, err := s.h.Read(p)
	s.off += int64(n)
	if err != nil && !errors.Is(err, io.EOF) {
		s.a.lastErr = err
		return n, pathErr("read", s.file.Path(), err)
	}
	return n, err
}

func (s *Stream) Write(p []byte) (int, error) {
	return 0, pathErr("write", s.file.Path(), ErrReadOnly)
}

func (s *Stream) WriteAt(p []byte, off int64) (int, error) {
	return 0, pathErr("write", s.file.Path(), ErrReadOnly)
}

func (s *Stream) WriteString(str string) (int, error) {
	return 0, pathErr("write", s.file.Path(), ErrReadOnly)
}

func (s *Stream) Seek(offset int64, whence int) (int64, error) {
	return s.off, pathErr("seek", s.file.Path(), ErrReadOnly)
}

func (s *Stream) Flush() error {
	return pathErr("flush", s.file.Path(), ErrReadOnly)
}

func (s *Stream) Sync() error {
	return pathErr("sync", s.file.Path(), ErrReadOnly)
}

func (s *Stream) Truncate(size int64) error {
	return pathErr("truncate", s.file.Path(), ErrReadOnly)
}

func (s *Stream) Chmod(mode fs.FileMode) error {
	return pathErr("chmod", s.file.Path(), ErrReadOnly)
}

func (s *Stream) Stat() (fs.FileInfo, error) { return s.file, nil }

func (s *Stream) Name() string        { return s.file.Path() }
func (s *Stream) File() *File         { return s.file }
func (s *Stream) Size() int64         { return s.file.hdr.Size }
func (s *Stream) Mode() fs.FileMode   { return s.file.Mode() }
func (s *Stream) ModTime() time.Time  { return s.file.ModTime() }
func (s *Stream) Created() time.Time  { return s.file.Created() }
func (s *Stream) Accessed() time.Time { return s.file.Accessed() }

// Offset returns how many bytes have been read.
func (s *Stream) Offset() int64 { return s.off }

// Close is safe to call at any point, including after a failed read.
// Calls after the first are no-ops.
func (s *Stream) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	return s.h.Close()
}
