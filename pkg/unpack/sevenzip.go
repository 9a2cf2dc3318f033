package unpack

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"arcvfs/pkg/arcfs"
	"arcvfs/pkg/logger"

	"github.com/javi11/sevenzip"
)

// SevenZipBackend reads 7z archives, including split sets named
// "x.7z.001", "x.7z.002", ... when they live on a FileSource.
func SevenZipBackend() arcfs.Backend {
	return arcfs.Backend{Name: "7z", New: newSevenZipReader}
}

// sevenZipReader walks the archive's file table in stored order. Solid
// blocks are decoded once per pass because entries are opened in order.
type sevenZipReader struct {
	src      arcfs.Source
	password string

	closer io.Closer
	files  []*sevenzip.File
	idx    int
	cur    *sevenzip.File
	rc     io.ReadCloser
}

func newSevenZipReader(src arcfs.Source, o arcfs.BackendOptions) arcfs.Reader {
	return &sevenZipReader{src: src, password: o.Password}
}

func (z *sevenZipReader) SetPassword(p string) { z.password = p }

func (z *sevenZipReader) Open() error {
	z.Close()
	var (
		ra   io.ReaderAt
		size int64
	)
	if fsrc, ok := z.src.(*arcfs.FileSource); ok && IsSplitArchivePart(fsrc.Path) {
		set, err := openSplitVolumes(fsrc.Fs, fsrc.Path)
		if err != nil {
			return fmt.Errorf("7z: %w", err)
		}
		ra, size, z.closer = set, set.Size(), set
	} else {
		f, err := z.src.Open()
		if err != nil {
			return err
		}
		info, err := f.Stat()
		if err != nil {
			f.Close()
			return fmt.Errorf("7z: stat %s: %w", z.src.Name(), err)
		}
		ra, size, z.closer = f, info.Size(), f
	}

	r, err := sevenzip.NewReaderWithPassword(ra, size, z.password)
	if err != nil {
		z.Close()
		return fmt.Errorf("7z: open %s: %w", z.src.Name(), encryptedError(err))
	}
	z.files = r.File
	z.idx = -1
	logger.Debug("7z archive opened", "archive", z.src.Name(), "files", len(z.files))
	return nil
}

func (z *sevenZipReader) Next() (*arcfs.Header, error) {
	if z.files == nil && z.closer == nil {
		return nil, arcfs.ErrClosed
	}
	z.closeEntry()
	for {
		z.idx++
		if z.idx >= len(z.files) {
			z.cur = nil
			return nil, io.EOF
		}
		f := z.files[z.idx]
		if f.FileInfo().IsDir() || strings.HasSuffix(f.Name, "/") {
			continue
		}
		z.cur = f
		return &arcfs.Header{
			Path:     strings.ReplaceAll(f.Name, "\\", "/"),
			Size:     int64(f.UncompressedSize),
			Created:  f.Created,
			Modified: f.Modified,
			Accessed: f.Accessed,
			Mode:     f.Mode().Perm(),
		}, nil
	}
}

func (z *sevenZipReader) Read(p []byte) (int, error) {
	if z.cur == nil {
		return 0, io.EOF
	}
	if z.rc == nil {
		rc, err := z.cur.Open()
		if err != nil {
			return 0, fmt.Errorf("7z: open %s: %w", z.cur.Name, encryptedError(err))
		}
		z.rc = rc
	}
	n, err := z.rc.Read(p)
	if err != nil && !errors.Is(err, io.EOF) {
		err = fmt.Errorf("7z: read %s: %w", z.cur.Name, encryptedError(err))
	}
	return n, err
}

// encryptedError tags a decode failure inside an encrypted folder with
// arcfs.ErrPasswordRequired.
func encryptedError(err error) error {
	var re *sevenzip.ReadError
	if errors.As(err, &re) && re.Encrypted {
		return fmt.Errorf("%w: %w", arcfs.ErrPasswordRequired, err)
	}
	return err
}

func (z *sevenZipReader) closeEntry() {
	if z.rc != nil {
		z.rc.Close()
		z.rc = nil
	}
}

func (z *sevenZipReader) Close() error {
	z.closeEntry()
	z.files = nil
	z.cur = nil
	if z.closer == nil {
		return nil
	}
	err := z.closer.Close()
	z.closer = nil
	return err
}
