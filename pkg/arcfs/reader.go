package arcfs

import (
	"io"
	"io/fs"
	"path"
	"sort"
	"strings"
	"time"

	"github.com/spf13/afero"
)

// Header is the metadata of one container entry as reported by a backend.
// Times a format cannot supply are left zero.
type Header struct {
	Path     string
	Size     int64
	Created  time.Time
	Modified time.Time
	Accessed time.Time
	Mode     fs.FileMode
}

// Reader is a forward-only cursor over one container.
//
// Next never revisits an entry within one Open/Close session. Read copies
// payload of the current entry and returns io.EOF at its end. Close is
// idempotent; Open after Close restarts from the first entry.
type Reader interface {
	Open() error
	Next() (*Header, error)
	Read(p []byte) (int, error)
	Close() error
}

// PasswordSetter is implemented by readers of formats that support
// encryption. The password takes effect on the next Open.
type PasswordSetter interface {
	SetPassword(password string)
}

// SourceFile is an open container byte source.
type SourceFile interface {
	io.ReadSeekCloser
	io.ReaderAt
	Stat() (fs.FileInfo, error)
}

// Source yields the container's bytes. Open may be called once per backend
// session.
type Source interface {
	Name() string
	Open() (SourceFile, error)
}

// FileSource is a container stored as a file on an afero filesystem.
// Backends that understand multi-volume sets look for sibling volumes on
// the same filesystem.
type FileSource struct {
	Fs   afero.Fs
	Path string
}

func NewFileSource(fsys afero.Fs, name string) *FileSource {
	if fsys == nil {
		fsys = afero.NewOsFs()
	}
	return &FileSource{Fs: fsys, Path: name}
}

func (s *FileSource) Name() string { return s.Path }

func (s *FileSource) Open() (SourceFile, error) {
	return s.Fs.Open(s.Path)
}

// BackendOptions is what a backend receives at construction.
type BackendOptions struct {
	Password       string
	Scratch        afero.Fs
	TempDir        string
	SpillThreshold int64
}

// Backend constructs Readers for one container family.
type Backend struct {
	Name string
	New  func(src Source, o BackendOptions) Reader
}

// Registry maps content types to backends. It is built once and injected
// into archives through WithRegistry.
type Registry struct {
	byType map[string]Backend
}

func NewRegistry() *Registry {
	return &Registry{byType: make(map[string]Backend)}
}

// Register binds one or more content types to b, replacing earlier bindings.
func (r *Registry) Register(b Backend, types ...string) {
	for _, t := range types {
		r.byType[strings.ToLower(t)] = b
	}
}

// Lookup is safe on a nil registry.
func (r *Registry) Lookup(contentType string) (Backend, bool) {
	if r == nil {
		return Backend{}, false
	}
	b, ok := r.byType[strings.ToLower(contentType)]
	return b, ok && b.New != nil
}

// Types lists the registered content types in sorted order.
func (r *Registry) Types() []string {
	if r == nil {
		return nil
	}
	out := make([]string, 0, len(r.byType))
	for t := range r.byType {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

// normalize turns a backend path into a tree path. Directory markers and
// paths that collapse to nothing report ok == false.
func normalize(p string) (string, bool) {
	if p == "" || strings.HasSuffix(p, "/") {
		return "", false
	}
	clean := strings.TrimPrefix(path.Clean("/"+p), "/")
	if clean == "" || clean == "." {
		return "", false
	}
	return clean, true
}
