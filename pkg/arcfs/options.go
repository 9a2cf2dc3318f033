package arcfs

import (
	"io"
	"os"

	"github.com/spf13/afero"
)

// OctetStream is the content type of a leaf the resolver could not identify.
const OctetStream = "application/octet-stream"

// Resolver identifies the content type of an entry. open returns a fresh
// reader over the entry's payload; a resolver that works from the name
// alone never calls it.
type Resolver interface {
	Resolve(name string, open func() (io.ReadCloser, error)) (string, error)
}

// ResolverFunc adapts a function to Resolver.
type ResolverFunc func(name string, open func() (io.ReadCloser, error)) (string, error)

func (f ResolverFunc) Resolve(name string, open func() (io.ReadCloser, error)) (string, error) {
	return f(name, open)
}

type options struct {
	password       string
	policy         ConflictPolicy
	maxEntries     int
	resolver       Resolver
	registry       *Registry
	nested         bool
	maxDepth       int
	scratch        afero.Fs
	tempDir        string
	spillThreshold int64
}

func defaultOptions() options {
	return options{
		policy:         ConflictSkip,
		maxEntries:     1_000_000,
		nested:         true,
		maxDepth:       4,
		scratch:        afero.NewOsFs(),
		tempDir:        os.TempDir(),
		spillThreshold: 4 << 20,
	}
}

// Option configures an Archive.
type Option func(*options)

// WithPassword sets the password handed to the backend at open time.
func WithPassword(password string) Option {
	return func(o *options) { o.password = password }
}

func WithConflictPolicy(p ConflictPolicy) Option {
	return func(o *options) { o.policy = p }
}

// WithMaxEntries bounds the number of tree nodes. Zero disables the limit.
func WithMaxEntries(n int) Option {
	return func(o *options) { o.maxEntries = n }
}

// WithResolver sets the content-type resolver run on every leaf.
func WithResolver(r Resolver) Option {
	return func(o *options) { o.resolver = r }
}

// WithRegistry sets the table used to pick backends for the container and
// for nested archives.
func WithRegistry(r *Registry) Option {
	return func(o *options) { o.registry = r }
}

// WithNesting controls whether leaves that are themselves archives are
// presented as directories, and how deep that goes.
func WithNesting(enabled bool, maxDepth int) Option {
	return func(o *options) {
		o.nested = enabled
		o.maxDepth = maxDepth
	}
}

// WithSpill configures the scratch store used by push-based backends and
// nested archives. A nil fs keeps the current one; an empty dir keeps the
// current directory; a zero threshold keeps the current threshold.
func WithSpill(fsys afero.Fs, dir string, threshold int64) Option {
	return func(o *options) {
		if fsys != nil {
			o.scratch = fsys
		}
		if dir != "" {
			o.tempDir = dir
		}
		if threshold != 0 {
			o.spillThreshold = threshold
		}
	}
}

func (o *options) backendOptions() BackendOptions {
	return BackendOptions{
		Password:       o.password,
		Scratch:        o.scratch,
		TempDir:        o.tempDir,
		SpillThreshold: o.spillThreshold,
	}
}
