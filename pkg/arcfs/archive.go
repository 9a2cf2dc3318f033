package arcfs

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"strings"
	"time"

	"arcvfs/pkg/logger"
)

// Archive presents one container as a read-only directory tree.
//
// The tree is built lazily, on the first call that needs it, in a single
// pass over the shared Handle, and is cached afterwards. A failed build
// leaves no tree behind; the next call retries.
//
// Archive is not safe for concurrent use.
type Archive struct {
	src     Source
	backend Backend
	ctype   string
	opts    options
	depth   int
	entry   *File

	handle   *Handle
	root     *Dir
	children []*Archive

	conflicts []Conflict
	lastErr   error
	building  bool
	pinned    bool
	closed    bool
}

// New returns an Archive reading src through backend b.
func New(src Source, b Backend, opts ...Option) *Archive {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	return newArchive(src, b, "", o, 0, nil)
}

// Open identifies src with the configured resolver and picks its backend
// from the configured registry.
func Open(src Source, opts ...Option) (*Archive, error) {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	ct := OctetStream
	if o.resolver != nil {
		t, err := o.resolver.Resolve(src.Name(), func() (io.ReadCloser, error) {
			return src.Open()
		})
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %w", ErrBackendOpen, src.Name(), err)
		}
		if t != "" {
			ct = t
		}
	}
	b, ok := o.registry.Lookup(ct)
	if !ok {
		return nil, fmt.Errorf("%w: %s (%s)", ErrUnsupported, src.Name(), ct)
	}
	logger.Debug("Opening archive", "name", src.Name(), "type", ct, "backend", b.Name)
	return newArchive(src, b, ct, o, 0, nil), nil
}

func newArchive(src Source, b Backend, ctype string, o options, depth int, entry *File) *Archive {
	h := NewHandle(src.Name(), b.New(src, o.backendOptions()))
	h.SetPassword(o.password)
	return &Archive{
		src:     src,
		backend: b,
		ctype:   ctype,
		opts:    o,
		depth:   depth,
		entry:   entry,
		handle:  h,
	}
}

func (a *Archive) Name() string        { return a.src.Name() }
func (a *Archive) Source() Source      { return a.src }
func (a *Archive) ContentType() string { return a.ctype }
func (a *Archive) Backend() string     { return a.backend.Name }
func (a *Archive) Depth() int          { return a.depth }

// Entry returns the leaf of the enclosing archive this archive lives in,
// or nil at the top level.
func (a *Archive) Entry() *File { return a.entry }

// Handle exposes the shared cursor.
func (a *Archive) Handle() *Handle { return a.handle }

func (a *Archive) Password() string { return a.opts.password }

// SetPassword replaces the password. It applies from the next backend
// session; an idle pinned session is released so that happens right away.
// Nested archives already discovered inherit it.
func (a *Archive) SetPassword(password string) {
	a.opts.password = password
	a.handle.SetPassword(password)
	if a.pinned && a.handle.Refs() == 1 {
		a.pinned = false
		a.handle.Close()
	}
	for _, c := range a.children {
		c.SetPassword(password)
	}
}

// LastError returns the most recent failure seen by this archive.
func (a *Archive) LastError() error {
	if a.lastErr != nil {
		return a.lastErr
	}
	return a.handle.LastError()
}

// Conflicts lists the leaves dropped by the last successful build.
func (a *Archive) Conflicts() []Conflict {
	out := make([]Conflict, len(a.conflicts))
	copy(out, a.conflicts)
	return out
}

// Root returns the materialized tree, building it if needed.
func (a *Archive) Root() (*Dir, error) { return a.tree() }

func (a *Archive) tree() (*Dir, error) {
	if a.closed {
		return nil, ErrClosed
	}
	if a.root != nil {
		return a.root, nil
	}
	root, err := a.build()
	if err != nil {
		a.lastErr = err
		logger.Warn("Archive unusable", "archive", a.Name(), "err", err)
		return nil, err
	}
	a.root = root
	return root, nil
}

// build runs one full pass over the entry stream. Nothing it creates is
// kept unless the pass completes.
func (a *Archive) build() (*Dir, error) {
	h := a.handle
	if err := h.Open(); err != nil {
		return nil, err
	}
	defer h.Close()
	if !h.atStart() {
		if err := h.Rewind(); err != nil {
			return nil, err
		}
	}

	a.building = true
	defer func() { a.building = false }()

	start := time.Now()
	b := newBuilder(a.opts.maxEntries, a.opts.policy, a.modTime())
	var nested []*Archive
	discard := func(err error) (*Dir, error) {
		for _, c := range nested {
			c.Close()
		}
		return nil, fmt.Errorf("%w: %s: %w", ErrTreeBuild, a.Name(), err)
	}

	for {
		hdr, err := h.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return discard(err)
		}
		f, err := b.insert(hdr, h.Ordinal())
		if err != nil {
			return discard(err)
		}
		if f == nil {
			logger.Warn("Skipping conflicting entry", "archive", a.Name(), "path", hdr.Path)
			continue
		}
		if child := a.typeLeaf(f); child != nil {
			nested = append(nested, child)
		}
	}

	a.children = nested
	a.conflicts = b.conflicts
	logger.Debug("Archive tree built", "archive", a.Name(), "nodes", b.nodes, "conflicts", len(b.conflicts), "duration", time.Since(start))
	return b.root, nil
}

// typeLeaf resolves f's content type and, when the type has a backend,
// attaches a nested archive over f.
func (a *Archive) typeLeaf(f *File) *Archive {
	ct := OctetStream
	if a.opts.resolver != nil {
		t, err := a.opts.resolver.Resolve(f.Path(), func() (io.ReadCloser, error) {
			return a.openFile(f)
		})
		switch {
		case err != nil:
			logger.Debug("Content type unresolved", "archive", a.Name(), "path", f.Path(), "err", err)
		case t != "":
			ct = t
		}
	}
	f.setContentType(ct)

	if !a.opts.nested || a.depth >= a.opts.maxDepth {
		return nil
	}
	b, ok := a.opts.registry.Lookup(ct)
	if !ok {
		return nil
	}
	child := newArchive(newEntrySource(a, f), b, ct, a.opts, a.depth+1, f)
	f.nested = child
	return child
}

func (a *Archive) modTime() time.Time {
	if a.entry != nil {
		return a.entry.ModTime()
	}
	return time.Time{}
}

// openFile positions the shared cursor on f and returns a stream over it.
// A target behind the cursor costs a rewind and a forward rescan.
func (a *Archive) openFile(f *File) (*Stream, error) {
	if a.closed {
		return nil, ErrClosed
	}
	h := a.handle
	// Outside a build the archive keeps one reference of its own so that
	// consecutive forward opens share a backend session.
	if !a.pinned && !a.building {
		if err := h.Open(); err != nil {
			a.lastErr = err
			return nil, err
		}
		a.pinned = true
	}
	if err := h.Open(); err != nil {
		a.lastErr = err
		return nil, err
	}

	err := h.FindEntry(f.Path(), f.ordinal)
	if errors.Is(err, ErrCursorPassed) {
		logger.Debug("Rescanning archive", "archive", a.Name(), "path", f.Path())
		if err = h.Rewind(); err == nil {
			err = h.FindEntry(f.Path(), f.ordinal)
		}
	}
	if err != nil {
		h.Close()
		if !h.IsOpen() {
			a.pinned = false
		}
		a.lastErr = err
		return nil, err
	}
	return &Stream{a: a, h: h, file: f, gen: h.Claim()}, nil
}

// resolve walks name from the root, descending into nested archives. It
// returns the archive owning the final node.
func (a *Archive) resolve(op, name string) (*Archive, Node, error) {
	if !fs.ValidPath(name) {
		return nil, nil, pathErr(op, name, fs.ErrInvalid)
	}
	root, err := a.tree()
	if err != nil {
		return nil, nil, pathErr(op, name, err)
	}
	if name == "." {
		return a, root, nil
	}
	owner := a
	var node Node = root
	for _, seg := range strings.Split(name, "/") {
		dir, next, err := owner.enter(node)
		if err != nil {
			return nil, nil, pathErr(op, name, err)
		}
		child, ok := dir.Child(seg)
		if !ok {
			return nil, nil, pathErr(op, name, ErrNotFound)
		}
		owner, node = next, child
	}
	return owner, node, nil
}

// enter returns the directory listing of node and the archive owning it.
func (a *Archive) enter(node Node) (*Dir, *Archive, error) {
	switch v := node.(type) {
	case *Dir:
		return v, a, nil
	case *File:
		if v.nested == nil {
			return nil, nil, ErrNotDir
		}
		root, err := v.nested.tree()
		if err != nil {
			return nil, nil, err
		}
		return root, v.nested, nil
	}
	return nil, nil, ErrNotDir
}

// Lookup returns the node at name.
func (a *Archive) Lookup(name string) (Node, error) {
	_, n, err := a.resolve("lookup", name)
	return n, err
}

// Exists reports whether name is in the tree.
func (a *Archive) Exists(name string) bool {
	_, err := a.Lookup(name)
	return err == nil
}

// Entries lists the directory at name in insertion order. A directory
// whose archive cannot be read lists as empty, alongside the error.
func (a *Archive) Entries(name string) ([]Node, error) {
	owner, node, err := a.resolve("readdir", name)
	if err != nil {
		return []Node{}, err
	}
	dir, _, err := owner.enter(node)
	if err != nil {
		return []Node{}, pathErr("readdir", name, err)
	}
	return dir.Entries(), nil
}

// Files returns every leaf of this archive depth-first in insertion order.
// Nested archives are reported as their enclosing leaf.
func (a *Archive) Files() ([]*File, error) {
	root, err := a.tree()
	if err != nil {
		return nil, err
	}
	var out []*File
	walk(root, func(f *File) { out = append(out, f) })
	return out, nil
}

// OpenEntry opens the leaf at name for reading.
func (a *Archive) OpenEntry(name string) (*Stream, error) {
	owner, node, err := a.resolve("open", name)
	if err != nil {
		return nil, err
	}
	f, ok := node.(*File)
	if !ok || f.nested != nil {
		return nil, pathErr("open", name, ErrIsDir)
	}
	s, err := owner.openFile(f)
	if err != nil {
		return nil, pathErr("open", name, err)
	}
	return s, nil
}

func (a *Archive) Create(name string) (*Stream, error) {
	return nil, pathErr("create", name, ErrReadOnly)
}

func (a *Archive) Mkdir(name string, perm fs.FileMode) error {
	return pathErr("mkdir", name, ErrReadOnly)
}

func (a *Archive) Remove(name string) error {
	return pathErr("remove", name, ErrReadOnly)
}

func (a *Archive) Rename(oldname, newname string) error {
	return pathErr("rename", oldname, ErrReadOnly)
}

func (a *Archive) Copy(src, dst string) error {
	return pathErr("copy", dst, ErrReadOnly)
}

func (a *Archive) Chmod(name string, mode fs.FileMode) error {
	return pathErr("chmod", name, ErrReadOnly)
}

// Close releases nested archives, the pinned backend session and any
// scratch data. Streams still open keep the backend alive until closed.
func (a *Archive) Close() error {
	if a.closed {
		return nil
	}
	a.closed = true
	var errs []error
	for _, c := range a.children {
		errs = append(errs, c.Close())
	}
	if a.pinned {
		a.pinned = false
		errs = append(errs, a.handle.Close())
	}
	if c, ok := a.src.(io.Closer); ok {
		errs = append(errs, c.Close())
	}
	return errors.Join(errs...)
}
