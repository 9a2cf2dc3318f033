// Package mount exposes an archive tree through FUSE as a read-only
// filesystem.
package mount

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"sync"
	"syscall"
	"time"

	"arcvfs/pkg/arcfs"
	"arcvfs/pkg/logger"

	gofuse "github.com/hanwen/go-fuse/v2/fs"
	"github.com/hanwen/go-fuse/v2/fuse"
)

// Options configures the FUSE mount.
type Options struct {
	// Mountpoint is created if it does not exist.
	Mountpoint string

	Archive *arcfs.Archive

	// AllowOther permits other users to access the mount. Requires
	// user_allow_other in /etc/fuse.conf.
	AllowOther bool

	Debug bool
}

// Mount mounts opts.Archive at opts.Mountpoint. The caller must call
// Unmount on the returned server, and close the archive afterwards.
func Mount(opts Options) (*fuse.Server, error) {
	if opts.Mountpoint == "" {
		return nil, fmt.Errorf("mountpoint is required")
	}
	if opts.Archive == nil {
		return nil, fmt.Errorf("archive is required")
	}
	if err := os.MkdirAll(opts.Mountpoint, 0o755); err != nil {
		return nil, fmt.Errorf("creating mountpoint %s: %w", opts.Mountpoint, err)
	}

	fsys := &filesystem{archive: opts.Archive}
	root := &dirNode{fsys: fsys, name: "."}

	// The tree never changes after it is built.
	timeout := time.Hour
	server, err := gofuse.Mount(opts.Mountpoint, root, &gofuse.Options{
		EntryTimeout:    &timeout,
		AttrTimeout:     &timeout,
		NegativeTimeout: &timeout,
		MountOptions: fuse.MountOptions{
			FsName:     opts.Archive.Name(),
			Name:       "arcvfs",
			AllowOther: opts.AllowOther,
			Debug:      opts.Debug,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("mounting %s at %s: %w", opts.Archive.Name(), opts.Mountpoint, err)
	}
	logger.Info("Archive mounted", "archive", opts.Archive.Name(), "mountpoint", opts.Mountpoint)
	return server, nil
}

// filesystem serialises access to one archive. The archive shares a single
// backend cursor between all of its files, so every call takes mu.
type filesystem struct {
	mu      sync.Mutex
	archive *arcfs.Archive
}

func (f *filesystem) lookup(name string) (arcfs.Node, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.archive.Lookup(name)
}

func (f *filesystem) entries(name string) ([]arcfs.Node, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.archive.Entries(name)
}

// openEntry is called with mu held by the cursor.
func (f *filesystem) openEntry(name string) (io.ReadCloser, error) {
	s, err := f.archive.OpenEntry(name)
	if err != nil {
		return nil, err
	}
	return s, nil
}

type dirNode struct {
	gofuse.Inode
	fsys *filesystem
	name string
}

var _ gofuse.InodeEmbedder = (*dirNode)(nil)
var _ gofuse.NodeLookuper = (*dirNode)(nil)
var _ gofuse.NodeReaddirer = (*dirNode)(nil)
var _ gofuse.NodeGetattrer = (*dirNode)(nil)

func (d *dirNode) child(name string) string {
	if d.name == "." {
		return name
	}
	return path.Join(d.name, name)
}

func (d *dirNode) Lookup(ctx context.Context, name string, out *fuse.EntryOut) (*gofuse.Inode, syscall.Errno) {
	full := d.child(name)
	node, err := d.fsys.lookup(full)
	if err != nil {
		return nil, errno(err)
	}
	fillAttr(node, &out.Attr)
	if node.IsDir() {
		child := &dirNode{fsys: d.fsys, name: full}
		return d.NewInode(ctx, child, gofuse.StableAttr{Mode: syscall.S_IFDIR}), 0
	}
	child := &fileNode{fsys: d.fsys, name: full, node: node}
	return d.NewInode(ctx, child, gofuse.StableAttr{Mode: syscall.S_IFREG}), 0
}

func (d *dirNode) Readdir(ctx context.Context) (gofuse.DirStream, syscall.Errno) {
	nodes, err := d.fsys.entries(d.name)
	if err != nil {
		logger.Warn("Listing failed", "dir", d.name, "err", err)
		return nil, errno(err)
	}
	return gofuse.NewListDirStream(dirEntries(nodes)), 0
}

func (d *dirNode) Getattr(ctx context.Context, f gofuse.FileHandle, out *fuse.AttrOut) syscall.Errno {
	node, err := d.fsys.lookup(d.name)
	if err != nil {
		return errno(err)
	}
	fillAttr(node, &out.Attr)
	return 0
}

type fileNode struct {
	gofuse.Inode
	fsys *filesystem
	name string
	node arcfs.Node
}

var _ gofuse.InodeEmbedder = (*fileNode)(nil)
var _ gofuse.NodeGetattrer = (*fileNode)(nil)
var _ gofuse.NodeOpener = (*fileNode)(nil)

func (n *fileNode) Getattr(ctx context.Context, f gofuse.FileHandle, out *fuse.AttrOut) syscall.Errno {
	fillAttr(n.node, &out.Attr)
	return 0
}

func (n *fileNode) Open(ctx context.Context, flags uint32) (gofuse.FileHandle, uint32, syscall.Errno) {
	if flags&(syscall.O_WRONLY|syscall.O_RDWR|syscall.O_TRUNC|syscall.O_APPEND) != 0 {
		return nil, 0, syscall.EROFS
	}
	h := &fileHandle{
		name: n.name,
		cur: newCursor(&n.fsys.mu, func() (io.ReadCloser, error) {
			return n.fsys.openEntry(n.name)
		}),
	}
	return h, fuse.FOPEN_KEEP_CACHE, 0
}

// fileHandle is one open(2) of an entry. The entry stream is opened on
// the first read.
type fileHandle struct {
	name string
	cur  *cursor
}

var _ gofuse.FileReader = (*fileHandle)(nil)
var _ gofuse.FileReleaser = (*fileHandle)(nil)

func (h *fileHandle) Read(ctx context.Context, dest []byte, off int64) (fuse.ReadResult, syscall.Errno) {
	n, err := h.cur.ReadAt(dest, off)
	if err != nil && !errors.Is(err, io.EOF) {
		logger.Error("Read failed", "entry", h.name, "offset", off, "err", err)
		return nil, errno(err)
	}
	return fuse.ReadResultData(dest[:n]), 0
}

func (h *fileHandle) Release(ctx context.Context) syscall.Errno {
	if err := h.cur.Close(); err != nil {
		logger.Debug("Closing entry stream", "entry", h.name, "err", err)
	}
	return 0
}

func fillAttr(node arcfs.Node, out *fuse.Attr) {
	mod := node.ModTime()
	if node.IsDir() {
		out.Mode = syscall.S_IFDIR | uint32(node.Mode().Perm())
		out.Nlink = 2
	} else {
		out.Mode = syscall.S_IFREG | uint32(node.Mode().Perm())
		out.Size = uint64(node.Size())
		out.Nlink = 1
	}
	out.Blocks = (out.Size + 511) / 512
	out.SetTimes(nil, &mod, &mod)
	if f, ok := node.(*arcfs.File); ok {
		if at := f.Accessed(); !at.IsZero() {
			out.SetTimes(&at, nil, nil)
		}
	}
}

func dirEntries(nodes []arcfs.Node) []fuse.DirEntry {
	out := make([]fuse.DirEntry, 0, len(nodes))
	for _, n := range nodes {
		mode := uint32(syscall.S_IFREG)
		if n.IsDir() {
			mode = syscall.S_IFDIR
		}
		out = append(out, fuse.DirEntry{Name: n.Name(), Mode: mode})
	}
	return out
}

// errno maps archive errors onto the values the kernel expects.
func errno(err error) syscall.Errno {
	switch {
	case err == nil:
		return 0
	case errors.Is(err, arcfs.ErrReadOnly):
		return syscall.EROFS
	case errors.Is(err, fs.ErrNotExist):
		return syscall.ENOENT
	case errors.Is(err, arcfs.ErrNotDir):
		return syscall.ENOTDIR
	case errors.Is(err, arcfs.ErrIsDir):
		return syscall.EISDIR
	case errors.Is(err, arcfs.ErrPasswordRequired):
		return syscall.EACCES
	case errors.Is(err, fs.ErrInvalid):
		return syscall.EINVAL
	case errors.Is(err, arcfs.ErrTooManyEntries):
		return syscall.EFBIG
	}
	return syscall.EIO
}
