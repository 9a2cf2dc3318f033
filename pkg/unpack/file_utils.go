package unpack

import (
	"fmt"
	"path"
	"strconv"
	"strings"
)

// Extension constants
const (
	ExtRar  = ".rar"
	ExtZip  = ".zip"
	ExtJar  = ".jar"
	Ext7z   = ".7z"
	ExtTar  = ".tar"
	ExtGz   = ".gz"
	ExtTgz  = ".tgz"
	ExtBz2  = ".bz2"
	ExtTbz2 = ".tbz2"
	ExtXz   = ".xz"
	ExtTxz  = ".txz"
	ExtLzma = ".lzma"
	ExtTlz  = ".tlz"
	ExtZst  = ".zst"
	ExtTzst = ".tzst"
	ExtLz4  = ".lz4"
)

// compressionSuffixes are stripped to name the single entry of a bare
// compressed stream, longest first.
var compressionSuffixes = []struct{ ext, repl string }{
	{ExtTgz, ExtTar}, {ExtTbz2, ExtTar}, {ExtTxz, ExtTar}, {ExtTlz, ExtTar}, {ExtTzst, ExtTar},
	{ExtGz, ""}, {ExtBz2, ""}, {ExtXz, ""}, {ExtLzma, ""}, {ExtZst, ""}, {ExtLz4, ""},
}

// StripCompressionExt turns "notes.txt.gz" into "notes.txt". A name with
// no known suffix gets ".out" appended so the entry never shadows the
// container's own name.
func StripCompressionExt(name string) string {
	base := path.Base(name)
	lower := strings.ToLower(base)
	for _, s := range compressionSuffixes {
		if strings.HasSuffix(lower, s.ext) && len(base) > len(s.ext) {
			return base[:len(base)-len(s.ext)] + s.repl
		}
	}
	return base + ".out"
}

// IsArchiveFile checks if the filename looks like a container we can open.
func IsArchiveFile(name string) bool {
	lower := strings.ToLower(name)
	for _, ext := range []string{ExtRar, ExtZip, ExtJar, Ext7z, ExtTar, ExtTgz, ExtTbz2, ExtTxz, ExtTzst} {
		if strings.HasSuffix(lower, ext) {
			return true
		}
	}
	return IsRarPart(lower) || IsSplitArchivePart(lower)
}

// IsRarPart checks if extension is .rXX (e.g. .r01, .r99)
func IsRarPart(name string) bool {
	if len(name) < 4 {
		return false
	}
	ext := strings.ToLower(name[len(name)-4:])
	if ext[0] != '.' || ext[1] != 'r' {
		return false
	}
	return isDigit(ext[2]) && isDigit(ext[3])
}

// IsMiddleRarVolume checks if a RAR file is a volume other than the first.
func IsMiddleRarVolume(name string) bool {
	name = strings.ToLower(path.Base(name))

	// .partN.rar: the first volume has N == 1 however it is padded.
	if strings.HasSuffix(name, ExtRar) {
		stem := strings.TrimSuffix(name, ExtRar)
		if idx := strings.LastIndex(stem, ".part"); idx != -1 {
			n, err := strconv.Atoi(stem[idx+len(".part"):])
			return err == nil && n != 1
		}
		return false
	}

	// .r00 follows the .rar head; every .rNN is a continuation.
	return IsRarPart(name)
}

// IsSplitArchivePart reports names like "x.7z.001".
func IsSplitArchivePart(name string) bool {
	ext := path.Ext(name)
	if len(ext) != 4 {
		return false
	}
	for i := 1; i < 4; i++ {
		if !isDigit(ext[i]) {
			return false
		}
	}
	return true
}

// IsMiddleSplitVolume reports split parts other than ".001". A set can
// only be read from its first part.
func IsMiddleSplitVolume(name string) bool {
	if !IsSplitArchivePart(name) {
		return false
	}
	n, err := strconv.Atoi(path.Ext(name)[1:])
	return err == nil && n != 1
}

// SplitVolumeName returns the name of volume n (1-based) of the split set
// that first belongs to, e.g. ("a.7z.001", 3) -> "a.7z.003".
func SplitVolumeName(first string, n int) string {
	return fmt.Sprintf("%s.%03d", strings.TrimSuffix(first, path.Ext(first)), n)
}

func isDigit(b byte) bool {
	return b >= '0' && b <= '9'
}
