package arcfs

import (
	"fmt"
	"strings"
	"time"
)

// ConflictPolicy decides what happens when a path is listed both as a file
// and as a directory prefix.
type ConflictPolicy int

const (
	// ConflictSkip drops the conflicting leaf, records it and keeps going.
	ConflictSkip ConflictPolicy = iota
	// ConflictFail aborts the build with ErrConflict.
	ConflictFail
)

func (p ConflictPolicy) String() string {
	if p == ConflictFail {
		return "fail"
	}
	return "skip"
}

// Conflict records a leaf that was not inserted.
type Conflict struct {
	Path string // the leaf that was dropped
	At   string // the existing node that blocked it
	Dir  bool   // true when At is a directory the leaf would have replaced
}

func (c Conflict) String() string {
	if c.Dir {
		return fmt.Sprintf("%s: directory already exists", c.Path)
	}
	return fmt.Sprintf("%s: %s is a file", c.Path, c.At)
}

// builder folds a stream of leaf headers into a Dir tree.
type builder struct {
	root      *Dir
	nodes     int
	limit     int
	policy    ConflictPolicy
	modTime   time.Time
	conflicts []Conflict
}

func newBuilder(limit int, policy ConflictPolicy, modTime time.Time) *builder {
	return &builder{
		root:    newDir("", modTime),
		limit:   limit,
		policy:  policy,
		modTime: modTime,
	}
}

// insert adds one leaf. A nil file with a nil error means the leaf was
// skipped as a conflict.
func (b *builder) insert(hdr *Header, ordinal int) (*File, error) {
	segs := strings.Split(hdr.Path, "/")
	dir := b.root
	for i, seg := range segs[:len(segs)-1] {
		child, ok := dir.children[seg]
		if !ok {
			if err := b.grow(); err != nil {
				return nil, err
			}
			sub := newDir(strings.Join(segs[:i+1], "/"), b.modTime)
			dir.put(seg, sub)
			dir = sub
			continue
		}
		sub, isDir := child.(*Dir)
		if !isDir {
			return nil, b.conflict(Conflict{Path: hdr.Path, At: child.Path()})
		}
		dir = sub
	}

	last := segs[len(segs)-1]
	switch existing := dir.children[last].(type) {
	case nil:
		if err := b.grow(); err != nil {
			return nil, err
		}
	case *Dir:
		return nil, b.conflict(Conflict{Path: hdr.Path, At: existing.Path(), Dir: true})
	}

	f := &File{hdr: *hdr, ordinal: ordinal}
	dir.put(last, f)
	return f, nil
}

func (b *builder) grow() error {
	b.nodes++
	if b.limit > 0 && b.nodes > b.limit {
		return fmt.Errorf("%w: more than %d nodes", ErrTooManyEntries, b.limit)
	}
	return nil
}

func (b *builder) conflict(c Conflict) error {
	b.conflicts = append(b.conflicts, c)
	if b.policy == ConflictFail {
		return fmt.Errorf("%w: %s", ErrConflict, c)
	}
	return nil
}

// walk visits every leaf depth-first in insertion order.
func walk(d *Dir, fn func(*File)) {
	for _, n := range d.Entries() {
		switch v := n.(type) {
		case *Dir:
			walk(v, fn)
		case *File:
			fn(v)
		}
	}
}
