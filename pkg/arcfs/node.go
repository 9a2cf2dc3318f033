package arcfs

import (
	"io/fs"
	"path"
	"time"
)

// Node is an entry of the materialized tree. Both *Dir and *File satisfy
// fs.DirEntry and fs.FileInfo.
type Node interface {
	fs.DirEntry
	fs.FileInfo
	Path() string
}

// Dir is a directory implied by the paths of the leaves beneath it.
// Children keep the order in which they were first inserted.
type Dir struct {
	path     string
	modTime  time.Time
	names    []string
	children map[string]Node
}

func newDir(p string, modTime time.Time) *Dir {
	return &Dir{path: p, modTime: modTime, children: make(map[string]Node)}
}

func (d *Dir) Path() string {
	if d.path == "" {
		return "."
	}
	return d.path
}

func (d *Dir) Name() string {
	if d.path == "" {
		return "."
	}
	return path.Base(d.path)
}

func (d *Dir) Size() int64                { return 0 }
func (d *Dir) Mode() fs.FileMode          { return fs.ModeDir | 0o555 }
func (d *Dir) ModTime() time.Time         { return d.modTime }
func (d *Dir) IsDir() bool                { return true }
func (d *Dir) Sys() any                   { return nil }
func (d *Dir) Type() fs.FileMode          { return fs.ModeDir }
func (d *Dir) Info() (fs.FileInfo, error) { return d, nil }

// Len reports the number of direct children.
func (d *Dir) Len() int { return len(d.names) }

// Child returns the direct child called name.
func (d *Dir) Child(name string) (Node, bool) {
	n, ok := d.children[name]
	return n, ok
}

// Entries returns the children in insertion order.
func (d *Dir) Entries() []Node {
	out := make([]Node, 0, len(d.names))
	for _, name := range d.names {
		out = append(out, d.children[name])
	}
	return out
}

// put inserts or replaces a child. A replaced child keeps its position.
func (d *Dir) put(name string, n Node) {
	if _, ok := d.children[name]; !ok {
		d.names = append(d.names, name)
	}
	d.children[name] = n
}

// File is a leaf entry. Its metadata is fixed at tree-build time; the
// content type is assigned exactly once, right after insertion.
type File struct {
	hdr     Header
	ordinal int

	contentType string
	typed       bool

	nested *Archive
}

func (f *File) Path() string       { return f.hdr.Path }
func (f *File) Name() string       { return path.Base(f.hdr.Path) }
func (f *File) ModTime() time.Time { return f.hdr.Modified }
func (f *File) Sys() any           { return &f.hdr }

func (f *File) Size() int64 {
	if f.nested != nil {
		return 0
	}
	return f.hdr.Size
}

// Mode reports the entry's permission bits, or 0444 when the format has
// none. A nested archive presents as a directory.
func (f *File) Mode() fs.FileMode {
	if f.nested != nil {
		return fs.ModeDir | 0o555
	}
	perm := f.hdr.Mode.Perm()
	if perm == 0 {
		perm = 0o444
	}
	return perm
}

func (f *File) IsDir() bool                { return f.nested != nil }
func (f *File) Type() fs.FileMode          { return f.Mode().Type() }
func (f *File) Info() (fs.FileInfo, error) { return f, nil }

// Header returns a copy of the backend metadata.
func (f *File) Header() Header { return f.hdr }

// EntrySize is the payload size even when the entry presents as a directory.
func (f *File) EntrySize() int64      { return f.hdr.Size }
func (f *File) Created() time.Time    { return f.hdr.Created }
func (f *File) Accessed() time.Time   { return f.hdr.Accessed }
func (f *File) Ordinal() int          { return f.ordinal }
func (f *File) ContentType() string   { return f.contentType }
func (f *File) Nested() *Archive      { return f.nested }

func (f *File) setContentType(ct string) {
	if f.typed {
		return
	}
	f.contentType = ct
	f.typed = true
}
