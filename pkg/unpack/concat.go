package unpack

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"arcvfs/pkg/logger"

	"github.com/spf13/afero"
)

// Part is one volume of a split container.
type Part struct {
	Reader io.ReaderAt
	Offset int64 // start offset in the underlying reader
	Size   int64
}

// ConcatenatedReaderAt presents consecutive parts as one address space.
type ConcatenatedReaderAt struct {
	parts []Part
	total int64
}

func NewConcatenatedReaderAt(parts []Part) *ConcatenatedReaderAt {
	var total int64
	for _, p := range parts {
		total += p.Size
	}
	return &ConcatenatedReaderAt{parts: parts, total: total}
}

func (c *ConcatenatedReaderAt) ReadAt(p []byte, off int64) (int, error) {
	if off < 0 {
		return 0, errors.New("unpack: negative offset")
	}
	if off >= c.total {
		return 0, io.EOF
	}

	idx := 0
	partOff := off
	for idx < len(c.parts) && partOff >= c.parts[idx].Size {
		partOff -= c.parts[idx].Size
		idx++
	}

	read := 0
	for ; idx < len(c.parts) && read < len(p); idx++ {
		part := c.parts[idx]
		want := min(int64(len(p)-read), part.Size-partOff)
		n, err := part.Reader.ReadAt(p[read:read+int(want)], part.Offset+partOff)
		read += n
		if err != nil && err != io.EOF {
			return read, err
		}
		if int64(n) < want {
			// A volume shorter than it claimed: the set is truncated.
			return read, io.ErrUnexpectedEOF
		}
		partOff = 0
	}

	if read < len(p) {
		return read, io.EOF
	}
	return read, nil
}

func (c *ConcatenatedReaderAt) Size() int64 { return c.total }

// Parts returns the number of volumes.
func (c *ConcatenatedReaderAt) Parts() int { return len(c.parts) }

// volumeSet is the open files of a split set, closed together.
type volumeSet struct {
	*ConcatenatedReaderAt
	files []afero.File
}

func (v *volumeSet) Close() error {
	var errs []error
	for _, f := range v.files {
		errs = append(errs, f.Close())
	}
	return errors.Join(errs...)
}

// openSplitVolumes opens first ("x.7z.001") and every consecutive sibling
// that exists next to it on fsys.
func openSplitVolumes(fsys afero.Fs, first string) (*volumeSet, error) {
	if IsMiddleSplitVolume(first) {
		return nil, fmt.Errorf("%s is not the first volume of its set", filepath.Base(first))
	}
	set := &volumeSet{}
	var parts []Part
	for n := 1; ; n++ {
		name := first
		if n > 1 {
			name = SplitVolumeName(first, n)
		}
		f, err := fsys.Open(name)
		if err != nil {
			if n > 1 && errors.Is(err, os.ErrNotExist) {
				break
			}
			set.Close()
			return nil, fmt.Errorf("open volume %s: %w", filepath.Base(name), err)
		}
		info, err := f.Stat()
		if err != nil {
			f.Close()
			set.Close()
			return nil, fmt.Errorf("stat volume %s: %w", filepath.Base(name), err)
		}
		set.files = append(set.files, f)
		parts = append(parts, Part{Reader: f, Size: info.Size()})
	}
	set.ConcatenatedReaderAt = NewConcatenatedReaderAt(parts)
	logger.Debug("Opened split volume set", "first", first, "volumes", len(parts), "size", set.Size())
	return set, nil
}
