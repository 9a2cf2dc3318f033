// Package spool turns push-style producers into pull-style readers.
//
// A producer writes an entry's payload into a Spool exactly once (Fill).
// The bytes stay in memory up to a threshold and move to a temporary file
// on the scratch filesystem beyond it. Consumers then read at their own
// pace, sequentially or at arbitrary offsets.
package spool

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"time"

	"arcvfs/pkg/logger"

	"github.com/spf13/afero"
)

var (
	ErrSealed   = errors.New("spool: write after fill completed")
	ErrNotReady = errors.New("spool: read before fill")
)

// Spool is a write-once, read-many byte store.
//
// threshold > 0 keeps up to that many bytes in memory; threshold == 0
// spills on the first write; threshold < 0 never spills.
type Spool struct {
	fs        afero.Fs
	dir       string
	threshold int64

	mem    bytes.Buffer
	file   afero.File
	size   int64
	sealed bool
	off    int64
}

func New(fsys afero.Fs, dir string, threshold int64) *Spool {
	if fsys == nil {
		fsys = afero.NewOsFs()
	}
	return &Spool{fs: fsys, dir: dir, threshold: threshold}
}

// Write appends p. It is the push side and is normally driven by Fill.
func (s *Spool) Write(p []byte) (int, error) {
	if s.sealed {
		return 0, ErrSealed
	}
	if s.file == nil && s.threshold >= 0 && int64(s.mem.Len())+int64(len(p)) > s.threshold {
		if err := s.spill(); err != nil {
			return 0, err
		}
	}
	var (
		n   int
		err error
	)
	if s.file != nil {
		n, err = s.file.Write(p)
	} else {
		n, err = s.mem.Write(p)
	}
	s.size += int64(n)
	return n, err
}

func (s *Spool) spill() error {
	f, err := afero.TempFile(s.fs, s.dir, "arcvfs-spool-*")
	if err != nil {
		return fmt.Errorf("spool: create spill file: %w", err)
	}
	if _, err := f.Write(s.mem.Bytes()); err != nil {
		f.Close()
		s.fs.Remove(f.Name())
		return fmt.Errorf("spool: spill: %w", err)
	}
	logger.Debug("Spool spilled to disk", "file", f.Name(), "buffered", s.mem.Len())
	s.mem = bytes.Buffer{}
	s.file = f
	return nil
}

// Fill discards previous content, runs push against the spool and seals
// it. On error the partial content is discarded.
func (s *Spool) Fill(push func(w io.Writer) error) error {
	if err := s.Reset(); err != nil {
		return err
	}
	if err := push(s); err != nil {
		s.Reset()
		return err
	}
	s.sealed = true
	return nil
}

// Filled reports whether a Fill has completed.
func (s *Spool) Filled() bool { return s.sealed }

// Spilled reports whether the content lives in a temporary file.
func (s *Spool) Spilled() bool { return s.file != nil }

// Size returns the number of bytes written.
func (s *Spool) Size() int64 { return s.size }

func (s *Spool) ReadAt(p []byte, off int64) (int, error) {
	if !s.sealed {
		return 0, ErrNotReady
	}
	if off >= s.size {
		return 0, io.EOF
	}
	if s.file != nil {
		n, err := s.file.ReadAt(p, off)
		if err == nil && off+int64(n) >= s.size {
			err = io.EOF
		}
		return n, err
	}
	n := copy(p, s.mem.Bytes()[off:])
	if n < len(p) || off+int64(n) == s.size {
		return n, io.EOF
	}
	return n, nil
}

// Read reads sequentially from the start of the content.
func (s *Spool) Read(p []byte) (int, error) {
	if s.off >= s.size && s.sealed {
		return 0, io.EOF
	}
	n, err := s.ReadAt(p, s.off)
	s.off += int64(n)
	if err == io.EOF && n > 0 {
		err = nil
	}
	return n, err
}

// Reset empties the spool and removes any spill file so it can be filled
// again.
func (s *Spool) Reset() error {
	var err error
	if s.file != nil {
		name := s.file.Name()
		err = errors.Join(s.file.Close(), s.fs.Remove(name))
		s.file = nil
	}
	s.mem.Reset()
	s.size = 0
	s.off = 0
	s.sealed = false
	return err
}

func (s *Spool) Close() error { return s.Reset() }

// View returns an independent reader over the sealed content. Closing
// the view does not affect the spool.
func (s *Spool) View(name string) *View {
	return &View{
		SectionReader: io.NewSectionReader(s, 0, s.size),
		name:          name,
		modTime:       time.Now(),
	}
}

// View is a seekable, random-access window on a Spool.
type View struct {
	*io.SectionReader
	name    string
	modTime time.Time
}

func (v *View) Close() error { return nil }

func (v *View) Stat() (fs.FileInfo, error) { return viewInfo{v}, nil }

type viewInfo struct{ v *View }

func (i viewInfo) Name() string       { return i.v.name }
func (i viewInfo) Size() int64        { return i.v.Size() }
func (i viewInfo) Mode() fs.FileMode  { return 0o444 }
func (i viewInfo) ModTime() time.Time { return i.v.modTime }
func (i viewInfo) IsDir() bool        { return false }
func (i viewInfo) Sys() any           { return nil }
