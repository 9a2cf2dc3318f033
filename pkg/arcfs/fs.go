package arcfs

import (
	"io"
	"io/fs"
	"os"
	"sort"
)

var (
	_ fs.FS         = (*Archive)(nil)
	_ fs.ReadDirFS  = (*Archive)(nil)
	_ fs.StatFS     = (*Archive)(nil)
	_ fs.ReadFileFS = (*Archive)(nil)
)

// Open implements fs.FS. Directories, including nested archives, open as
// fs.ReadDirFile.
func (a *Archive) Open(name string) (fs.File, error) {
	owner, node, err := a.resolve("open", name)
	if err != nil {
		return nil, err
	}
	if node.IsDir() {
		dir, _, err := owner.enter(node)
		if err != nil {
			return nil, pathErr("open", name, err)
		}
		return &dirFile{node: node, entries: dir.Entries()}, nil
	}
	s, err := owner.openFile(node.(*File))
	if err != nil {
		return nil, pathErr("open", name, err)
	}
	return s, nil
}

// OpenFile accepts only read-only flags.
func (a *Archive) OpenFile(name string, flag int, perm fs.FileMode) (fs.File, error) {
	if flag&(os.O_WRONLY|os.O_RDWR|os.O_APPEND|os.O_CREATE|os.O_TRUNC) != 0 {
		return nil, pathErr("open", name, ErrReadOnly)
	}
	return a.Open(name)
}

// Stat implements fs.StatFS. The root of an archive that cannot be read
// still stats as an empty directory; LastError holds the cause.
func (a *Archive) Stat(name string) (fs.FileInfo, error) {
	_, node, err := a.resolve("stat", name)
	if err != nil {
		if name == "." {
			return newDir("", a.modTime()), nil
		}
		return nil, err
	}
	return node, nil
}

// ReadDir implements fs.ReadDirFS, which requires entries sorted by name.
// Entries keeps the container's own order.
func (a *Archive) ReadDir(name string) ([]fs.DirEntry, error) {
	nodes, err := a.Entries(name)
	out := make([]fs.DirEntry, 0, len(nodes))
	for _, n := range nodes {
		out = append(out, n)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name() < out[j].Name() })
	return out, err
}

// ReadFile implements fs.ReadFileFS.
func (a *Archive) ReadFile(name string) ([]byte, error) {
	s, err := a.OpenEntry(name)
	if err != nil {
		return nil, err
	}
	defer s.Close()
	data := make([]byte, 0, min(max(s.Size(), 0), 64<<20))
	buf := make([]byte, 32*1024)
	for {
		n, err := s.Read(buf)
		data = append(data, buf[:n]...)
		if err == io.EOF {
			return data, nil
		}
		if err != nil {
			return data, err
		}
	}
}

type dirFile struct {
	node    Node
	entries []Node
	off     int
	closed  bool
}

func (d *dirFile) Stat() (fs.FileInfo, error) { return d.node, nil }

func (d *dirFile) Read([]byte) (int, error) {
	return 0, pathErr("read", d.node.Path(), ErrIsDir)
}

func (d *dirFile) Close() error {
	d.closed = true
	return nil
}

func (d *dirFile) ReadDir(n int) ([]fs.DirEntry, error) {
	if d.closed {
		return nil, pathErr("readdir", d.node.Path(), ErrClosed)
	}
	rest := d.entries[d.off:]
	if n > 0 && len(rest) == 0 {
		return nil, io.EOF
	}
	if n > 0 && n < len(rest) {
		rest = rest[:n]
	}
	d.off += len(rest)
	out := make([]fs.DirEntry, len(rest))
	for i, e := range rest {
		out[i] = e
	}
	return out, nil
}
