package arcfs

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"syscall"
)

var (
	// ErrReadOnly is returned by every mutating operation. It matches
	// syscall.EROFS so host bindings can pass it through unchanged.
	ErrReadOnly = &readOnlyError{}

	// ErrNotFound reports a path absent from the tree or from a forward scan.
	ErrNotFound = fs.ErrNotExist

	// ErrCursorPassed reports a Find whose target lies behind the shared
	// cursor. It also matches ErrNotFound; a Rewind makes the entry
	// reachable again.
	ErrCursorPassed = fmt.Errorf("%w: entry is behind the cursor", ErrNotFound)

	// ErrCursorMoved is returned by a stream whose shared cursor was moved
	// to another entry by a later open.
	ErrCursorMoved = errors.New("arcfs: shared cursor moved to another entry")

	ErrBackendOpen      = errors.New("arcfs: cannot open container")
	ErrTreeBuild        = errors.New("arcfs: cannot build entry tree")
	ErrTooManyEntries   = errors.New("arcfs: entry limit exceeded")
	ErrPasswordRequired = errors.New("arcfs: password required or incorrect")
	ErrConflict         = errors.New("arcfs: path is both a file and a directory")
	ErrIsDir            = errors.New("arcfs: is a directory")
	ErrNotDir           = errors.New("arcfs: not a directory")
	ErrClosed           = fs.ErrClosed
	ErrUnsupported      = errors.New("arcfs: unsupported container type")
)

type readOnlyError struct{}

func (*readOnlyError) Error() string { return "arcfs: read-only file system" }

func (*readOnlyError) Is(target error) bool {
	return target == syscall.EROFS || target == fs.ErrPermission
}

// classify maps backend-specific failures onto the arcfs sentinels so that
// callers only ever need errors.Is against this package.
func classify(err error) error {
	if err == nil {
		return nil
	}
	for _, known := range []error{
		ErrReadOnly, ErrNotFound, ErrCursorMoved, ErrBackendOpen, ErrTreeBuild,
		ErrTooManyEntries, ErrPasswordRequired, ErrConflict, ErrClosed, ErrUnsupported,
	} {
		if errors.Is(err, known) {
			return err
		}
	}
	// Backends wrap their own password failures in ErrPasswordRequired. The
	// message match is the fallback for decoders that expose no sentinel.
	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, "password") || strings.Contains(msg, "encrypted") {
		return fmt.Errorf("%w: %v", ErrPasswordRequired, err)
	}
	return err
}

func pathErr(op, name string, err error) error {
	return &fs.PathError{Op: op, Path: name, Err: err}
}
