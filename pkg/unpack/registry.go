package unpack

import (
	"strings"

	"arcvfs/pkg/arcfs"
)

// Content types of containers that are recognised but have no backend.
var unsupportedTypes = []string{
	"application/x-deb",
	"application/x-rpm",
	"application/x-cd-image",
	"application/x-compress",
	"application/x-tarz",
	"application/x-servicepack",
}

// DefaultRegistry routes every supported container content type to its
// backend.
func DefaultRegistry() *arcfs.Registry {
	r := arcfs.NewRegistry()
	r.Register(TarBackend(CompressAuto),
		"application/x-tar",
	)
	r.Register(TarBackend(CompressGzip),
		"application/gzip",
		"application/x-gzip",
		"application/x-compressed-tar",
	)
	r.Register(TarBackend(CompressBzip2),
		"application/x-bzip",
		"application/x-bzip2",
		"application/x-bzip-compressed-tar",
	)
	r.Register(TarBackend(CompressXz),
		"application/x-xz",
		"application/x-xz-compressed-tar",
	)
	r.Register(TarBackend(CompressLzma),
		"application/x-lzma",
		"application/x-lzma-compressed-tar",
	)
	r.Register(TarBackend(CompressZstd),
		"application/zstd",
		"application/x-zstd-compressed-tar",
	)
	r.Register(TarBackend(CompressLz4),
		"application/x-lz4",
		"application/x-lz4-compressed-tar",
	)
	r.Register(ZipBackend(),
		"application/zip",
		"application/x-zip-compressed",
		"application/java-archive",
		"application/x-java-archive",
	)
	r.Register(SevenZipBackend(),
		"application/x-7z-compressed",
	)
	r.Register(RarBackend(),
		"application/vnd.rar",
		"application/x-rar-compressed",
		"application/x-rar",
	)
	return r
}

// IsRecognisedUnsupported reports content types that name a container
// format no backend can read.
func IsRecognisedUnsupported(contentType string) bool {
	ct := strings.ToLower(contentType)
	for _, t := range unsupportedTypes {
		if t == ct {
			return true
		}
	}
	return false
}
