package unpack

import (
	"fmt"
	"io"
	"strings"

	"arcvfs/pkg/arcfs"

	"github.com/klauspost/compress/zip"
	"github.com/klauspost/compress/zstd"
	"github.com/mholt/archives"
	"github.com/ulikunitz/xz"
)

// Zip compression methods beyond store and deflate.
const (
	zipMethodBzip2 = 12
	zipMethodXz    = 95
)

// ZipBackend reads zip and jar archives. Besides store and deflate it
// decodes bzip2, zstd and xz members. Traditional and AES encryption are
// not supported; such members fail with arcfs.ErrPasswordRequired on read.
func ZipBackend() arcfs.Backend {
	return arcfs.Backend{Name: "zip", New: func(src arcfs.Source, _ arcfs.BackendOptions) arcfs.Reader {
		return &zipReader{src: src}
	}}
}

type zipReader struct {
	src arcfs.Source

	file  arcfs.SourceFile
	files []*zip.File
	idx   int
	cur   *zip.File
	rc    io.ReadCloser
}

func (z *zipReader) Open() error {
	z.Close()
	f, err := z.src.Open()
	if err != nil {
		return err
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return fmt.Errorf("zip: stat %s: %w", z.src.Name(), err)
	}
	zr, err := zip.NewReader(f, info.Size())
	if err != nil {
		f.Close()
		return fmt.Errorf("zip: open %s: %w", z.src.Name(), err)
	}
	zr.RegisterDecompressor(zstd.ZipMethodWinZip, zstd.ZipDecompressor())
	zr.RegisterDecompressor(zipMethodXz, xzDecompressor)
	zr.RegisterDecompressor(zipMethodBzip2, bzip2Decompressor)
	z.file = f
	z.files = zr.File
	z.idx = -1
	return nil
}

func xzDecompressor(r io.Reader) io.ReadCloser {
	xr, err := xz.NewReader(r)
	if err != nil {
		return errReadCloser{err}
	}
	return io.NopCloser(xr)
}

func bzip2Decompressor(r io.Reader) io.ReadCloser {
	rc, err := archives.Bz2{}.OpenReader(r)
	if err != nil {
		return errReadCloser{err}
	}
	return rc
}

type errReadCloser struct{ err error }

func (e errReadCloser) Read([]byte) (int, error) { return 0, e.err }
func (e errReadCloser) Close() error             { return nil }

func (z *zipReader) Next() (*arcfs.Header, error) {
	if z.file == nil {
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
		if strings.HasSuffix(f.Name, "/") || f.FileInfo().IsDir() {
			continue
		}
		z.cur = f
		return &arcfs.Header{
			Path:     strings.ReplaceAll(f.Name, "\\", "/"),
			Size:     int64(f.UncompressedSize64),
			Modified: f.Modified,
			Mode:     f.Mode().Perm(),
		}, nil
	}
}

func (z *zipReader) Read(p []byte) (int, error) {
	if z.cur == nil {
		return 0, io.EOF
	}
	if z.rc == nil {
		if z.cur.Flags&0x1 != 0 {
			return 0, fmt.Errorf("%w: zip: %s is encrypted", arcfs.ErrPasswordRequired, z.cur.Name)
		}
		rc, err := z.cur.Open()
		if err != nil {
			return 0, fmt.Errorf("zip: open %s: %w", z.cur.Name, err)
		}
		z.rc = rc
	}
	return z.rc.Read(p)
}

func (z *zipReader) closeEntry() {
	if z.rc != nil {
		z.rc.Close()
		z.rc = nil
	}
}

func (z *zipReader) Close() error {
	z.closeEntry()
	z.files = nil
	z.cur = nil
	if z.file == nil {
		return nil
	}
	err := z.file.Close()
	z.file = nil
	return err
}
