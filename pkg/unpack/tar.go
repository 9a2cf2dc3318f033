package unpack

import (
	"archive/tar"
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"

	"arcvfs/pkg/arcfs"
	"arcvfs/pkg/detect"
	"arcvfs/pkg/logger"

	"github.com/klauspost/compress/gzip"
	"github.com/mholt/archives"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
	"github.com/ulikunitz/xz"
	"github.com/ulikunitz/xz/lzma"
)

// Compression is the outer filter of a tar stream.
type Compression int

const (
	CompressAuto Compression = iota
	CompressNone
	CompressGzip
	CompressBzip2
	CompressXz
	CompressLzma
	CompressZstd
	CompressLz4
)

func (c Compression) String() string {
	switch c {
	case CompressNone:
		return "none"
	case CompressGzip:
		return "gzip"
	case CompressBzip2:
		return "bzip2"
	case CompressXz:
		return "xz"
	case CompressLzma:
		return "lzma"
	case CompressZstd:
		return "zstd"
	case CompressLz4:
		return "lz4"
	}
	return "auto"
}

// TarBackend reads tar archives behind compression c. A compressed stream
// that does not carry a tar archive is presented as a single entry named
// after the container without its compression suffix.
func TarBackend(c Compression) arcfs.Backend {
	name := "tar"
	if c != CompressAuto && c != CompressNone {
		name += "+" + c.String()
	}
	return arcfs.Backend{Name: name, New: func(src arcfs.Source, _ arcfs.BackendOptions) arcfs.Reader {
		return &tarReader{src: src, comp: c, rawSize: -1}
	}}
}

// sniffLen is how much of a stream is peeked at to identify its filter
// and to check for a tar header behind it.
const sniffLen = 8 << 10

// Raw LZMA has no magic number; this is the usual properties byte
// followed by the low bytes of a power-of-two dictionary size.
var lzmaHeader = []byte{0x5d, 0x00, 0x00}

// sniffCompression identifies a filter from the first bytes of a stream.
func sniffCompression(head []byte) Compression {
	format := detect.Identify(head)
	if ca, ok := format.(archives.CompressedArchive); ok {
		format = ca.Compression
	}
	switch format.(type) {
	case archives.Gz:
		return CompressGzip
	case archives.Bz2:
		return CompressBzip2
	case archives.Xz:
		return CompressXz
	case archives.Zstd:
		return CompressZstd
	case archives.Lz4:
		return CompressLz4
	}
	if bytes.HasPrefix(head, lzmaHeader) {
		return CompressLzma
	}
	return CompressNone
}

func decompress(r io.Reader, c Compression) (io.Reader, io.Closer, error) {
	switch c {
	case CompressNone:
		return r, nil, nil
	case CompressGzip:
		zr, err := gzip.NewReader(r)
		if err != nil {
			return nil, nil, err
		}
		return zr, zr, nil
	case CompressBzip2:
		rc, err := archives.Bz2{}.OpenReader(r)
		if err != nil {
			return nil, nil, err
		}
		return rc, rc, nil
	case CompressXz:
		xr, err := xz.NewReader(r)
		return xr, nil, err
	case CompressLzma:
		lr, err := lzma.NewReader(r)
		return lr, nil, err
	case CompressZstd:
		dec, err := zstd.NewReader(r)
		if err != nil {
			return nil, nil, err
		}
		rc := dec.IOReadCloser()
		return rc, rc, nil
	case CompressLz4:
		return lz4.NewReader(r), nil, nil
	}
	return nil, nil, fmt.Errorf("unknown compression %d", c)
}

// isTarHeader reports whether head starts with a tar header, or with the
// all-zero block that ends an empty archive.
func isTarHeader(head []byte) bool {
	if len(head) < 512 {
		return false
	}
	if bytes.Count(head[:512], []byte{0}) == 512 {
		return true
	}
	mr, err := archives.Tar{}.Match(context.Background(), "", bytes.NewReader(head))
	return err == nil && mr.ByStream
}

type tarReader struct {
	src  arcfs.Source
	comp Compression

	file    arcfs.SourceFile
	dec     io.Closer
	tr      *tar.Reader
	raw     io.Reader
	rawSize int64 // single-entry size, counted once and kept across sessions
	rawDone bool
	body    io.Reader
}

// openStream opens the source and the decompressor and returns a
// buffered reader over the decompressed bytes.
func (t *tarReader) openStream() (*bufio.Reader, Compression, error) {
	f, err := t.src.Open()
	if err != nil {
		return nil, 0, err
	}
	t.file = f
	br := bufio.NewReaderSize(f, 64<<10)
	comp := t.comp
	if comp == CompressAuto {
		head, _ := br.Peek(sniffLen)
		comp = sniffCompression(head)
	}
	r, closer, err := decompress(br, comp)
	if err != nil {
		t.Close()
		return nil, comp, fmt.Errorf("tar: %s stream: %w", comp, err)
	}
	t.dec = closer
	return bufio.NewReaderSize(r, 32<<10), comp, nil
}

func (t *tarReader) Open() error {
	t.Close()
	pr, comp, err := t.openStream()
	if err != nil {
		return err
	}
	head, err := pr.Peek(sniffLen)
	if len(head) == 0 || isTarHeader(head) {
		t.tr = tar.NewReader(pr)
		return nil
	}
	if comp == CompressNone {
		t.Close()
		if err == nil || errors.Is(err, io.EOF) {
			err = errors.New("not a tar archive")
		}
		return fmt.Errorf("tar: %s: %w", t.src.Name(), err)
	}

	if t.rawSize < 0 {
		n, err := io.Copy(io.Discard, pr)
		t.Close()
		if err != nil {
			return fmt.Errorf("tar: %s stream: %w", comp, err)
		}
		t.rawSize = n
		logger.Debug("Compressed stream holds a single file", "archive", t.src.Name(), "size", n)
		if pr, _, err = t.openStream(); err != nil {
			return err
		}
	}
	t.raw = pr
	return nil
}

func (t *tarReader) Next() (*arcfs.Header, error) {
	t.body = nil
	switch {
	case t.tr != nil:
		for {
			hdr, err := t.tr.Next()
			if err != nil {
				return nil, err
			}
			// Directories, links, devices and fifos carry no payload of their own.
			if !hdr.FileInfo().Mode().IsRegular() {
				continue
			}
			t.body = t.tr
			return &arcfs.Header{
				Path:     hdr.Name,
				Size:     hdr.Size,
				Modified: hdr.ModTime,
				Accessed: hdr.AccessTime,
				Mode:     hdr.FileInfo().Mode().Perm(),
			}, nil
		}
	case t.raw != nil:
		if t.rawDone {
			return nil, io.EOF
		}
		t.rawDone = true
		t.body = t.raw
		hdr := &arcfs.Header{
			Path: StripCompressionExt(t.src.Name()),
			Size: t.rawSize,
			Mode: 0o444,
		}
		if info, err := t.file.Stat(); err == nil {
			hdr.Modified = info.ModTime()
		}
		return hdr, nil
	}
	return nil, arcfs.ErrClosed
}

func (t *tarReader) Read(p []byte) (int, error) {
	if t.body == nil {
		return 0, io.EOF
	}
	return t.body.Read(p)
}

func (t *tarReader) Close() error {
	var errs []error
	if t.dec != nil {
		errs = append(errs, t.dec.Close())
		t.dec = nil
	}
	if t.file != nil {
		errs = append(errs, t.file.Close())
		t.file = nil
	}
	t.tr = nil
	t.raw = nil
	t.rawDone = false
	t.body = nil
	return errors.Join(errs...)
}
