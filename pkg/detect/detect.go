// Package detect identifies the content type of archive entries and of
// archive files themselves.
//
// Names are matched first, against a table of container suffixes and then
// against the system MIME table. When sniffing is enabled and the name is
// inconclusive, the first 512 bytes go through the archives format
// matchers.
package detect

import (
	"bytes"
	"context"
	"io"
	"mime"
	"net/http"
	"path"
	"strings"

	"arcvfs/pkg/logger"

	"github.com/mholt/archives"
)

// SniffLen is how many leading bytes are read for magic matching.
const SniffLen = 512

const octetStream = "application/octet-stream"

// suffixes maps container file name endings to content types. Longer,
// more specific endings come first.
var suffixes = []struct{ suffix, contentType string }{
	{".tar.gz", "application/x-compressed-tar"},
	{".tgz", "application/x-compressed-tar"},
	{".tar.bz2", "application/x-bzip-compressed-tar"},
	{".tbz2", "application/x-bzip-compressed-tar"},
	{".tbz", "application/x-bzip-compressed-tar"},
	{".tar.xz", "application/x-xz-compressed-tar"},
	{".txz", "application/x-xz-compressed-tar"},
	{".tar.lzma", "application/x-lzma-compressed-tar"},
	{".tlz", "application/x-lzma-compressed-tar"},
	{".tar.zst", "application/x-zstd-compressed-tar"},
	{".tzst", "application/x-zstd-compressed-tar"},
	{".tar.lz4", "application/x-lz4-compressed-tar"},
	{".tar.z", "application/x-tarz"},
	{".taz", "application/x-tarz"},
	{".tar", "application/x-tar"},
	{".gz", "application/x-gzip"},
	{".bz2", "application/x-bzip2"},
	{".bz", "application/x-bzip"},
	{".xz", "application/x-xz"},
	{".lzma", "application/x-lzma"},
	{".zst", "application/zstd"},
	{".lz4", "application/x-lz4"},
	{".z", "application/x-compress"},
	{".zip", "application/zip"},
	{".jar", "application/x-java-archive"},
	{".war", "application/x-java-archive"},
	{".ear", "application/x-java-archive"},
	{".7z", "application/x-7z-compressed"},
	{".rar", "application/vnd.rar"},
	{".deb", "application/x-deb"},
	{".rpm", "application/x-rpm"},
	{".iso", "application/x-cd-image"},
}

// byStream is the order formats are tried in when archives.Identify
// cannot decide: a compressed head too short to look inside, or a match
// by one of the header-less filters.
var byStream = []archives.Format{
	archives.Tar{},
	archives.Zip{},
	archives.SevenZip{},
	archives.Rar{},
	archives.Gz{},
	archives.Bz2{},
	archives.Xz{},
	archives.Zstd{},
	archives.Lz4{},
	archives.Lzip{},
}

// compressedTar names a tar archive behind each filter.
var compressedTar = map[string]string{
	"application/gzip":    "application/x-compressed-tar",
	"application/x-bzip2": "application/x-bzip-compressed-tar",
	"application/x-xz":    "application/x-xz-compressed-tar",
	"application/zstd":    "application/x-zstd-compressed-tar",
	"application/x-lz4":   "application/x-lz4-compressed-tar",
}

// Containers archives has no format for. An empty zip is listed because
// the zip matcher only recognises a local file header.
var otherMagics = []struct {
	sig         []byte
	contentType string
}{
	{[]byte("PK\x05\x06"), "application/zip"},
	{[]byte{0x1f, 0x9d}, "application/x-compress"},
	{[]byte("!<arch>\ndebian"), "application/x-deb"},
	{[]byte{0xed, 0xab, 0xee, 0xdb}, "application/x-rpm"},
}

// Resolver implements arcfs.Resolver.
type Resolver struct {
	sniff bool
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithSniff enables reading entry content when the name says nothing.
func WithSniff(enabled bool) Option {
	return func(r *Resolver) { r.sniff = enabled }
}

func New(opts ...Option) *Resolver {
	r := &Resolver{}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Resolve returns the content type of name. An empty result means
// unknown. open is only called when sniffing is enabled and the name is
// inconclusive.
func (r *Resolver) Resolve(name string, open func() (io.ReadCloser, error)) (string, error) {
	if ct := ByName(name); ct != "" {
		return ct, nil
	}
	if !r.sniff || open == nil {
		return "", nil
	}
	rc, err := open()
	if err != nil {
		return "", err
	}
	defer rc.Close()
	head := make([]byte, SniffLen)
	n, err := io.ReadFull(rc, head)
	if err != nil && err != io.ErrUnexpectedEOF && err != io.EOF {
		return "", err
	}
	ct := ByContent(head[:n])
	logger.Debug("Sniffed content type", "name", name, "type", ct)
	return ct, nil
}

// ByName resolves from the file name alone.
func ByName(name string) string {
	lower := strings.ToLower(path.Base(name))
	if ext := path.Ext(lower); isVolumeNumber(ext) {
		// "x.7z.001": only 7z split sets are readable as one container.
		if strings.HasSuffix(strings.TrimSuffix(lower, ext), ".7z") {
			return "application/x-7z-compressed"
		}
		return ""
	}
	for _, s := range suffixes {
		if strings.HasSuffix(lower, s.suffix) && len(lower) > len(s.suffix) {
			return s.contentType
		}
	}
	if ext := path.Ext(lower); ext != "" {
		if ct := mime.TypeByExtension(ext); ct != "" {
			return mediaType(ct)
		}
	}
	return ""
}

// Identify returns the archive or filter format head starts with, or nil.
// Brotli and zlib carry no reliable magic number and are never reported.
func Identify(head []byte) archives.Format {
	ctx := context.Background()
	format, _, err := archives.Identify(ctx, "", bytes.NewReader(head))
	if err == nil && !weak(format) {
		return format
	}
	for _, f := range byStream {
		mr, err := f.Match(ctx, "", bytes.NewReader(head))
		if err == nil && mr.ByStream {
			return f
		}
	}
	return nil
}

func weak(f archives.Format) bool {
	switch v := f.(type) {
	case archives.Brotli, archives.Zlib:
		return true
	case archives.CompressedArchive:
		return weak(v.Compression)
	}
	return false
}

// FormatType maps an archives format onto the content types used by the
// suffix table. It returns "" for nil.
func FormatType(f archives.Format) string {
	switch v := f.(type) {
	case nil:
		return ""
	case archives.CompressedArchive:
		ct := FormatType(v.Compression)
		if _, ok := v.Archival.(archives.Tar); ok {
			if tct, ok := compressedTar[v.Compression.MediaType()]; ok {
				return tct
			}
		}
		return ct
	case archives.Gz:
		return "application/x-gzip"
	}
	return f.MediaType()
}

// ByContent identifies head with the archives matchers, then against a
// few containers they do not cover, and falls back to the WHATWG sniffing
// algorithm. Unrecognised content yields octet-stream.
func ByContent(head []byte) string {
	if len(head) == 0 {
		return octetStream
	}
	if ct := FormatType(Identify(head)); ct != "" {
		return ct
	}
	for _, m := range otherMagics {
		if bytes.HasPrefix(head, m.sig) {
			return m.contentType
		}
	}
	return mediaType(http.DetectContentType(head))
}

// mediaType drops parameters such as "; charset=utf-8".
func mediaType(ct string) string {
	mt, _, err := mime.ParseMediaType(ct)
	if err != nil {
		return ct
	}
	return mt
}

func isVolumeNumber(ext string) bool {
	if len(ext) != 4 {
		return false
	}
	for _, c := range ext[1:] {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}
