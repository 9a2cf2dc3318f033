package unpack

import (
	"io/fs"
	"path/filepath"

	"arcvfs/pkg/logger"

	"github.com/spf13/afero"
)

// VolumeFS lets rardecode find the sibling volumes of a multi-volume set.
// Every name is resolved by its base name inside one directory of an afero
// filesystem.
type VolumeFS struct {
	fs  afero.Fs
	dir string
}

func NewVolumeFS(fsys afero.Fs, dir string) *VolumeFS {
	return &VolumeFS{fs: fsys, dir: dir}
}

func (v *VolumeFS) Open(name string) (fs.File, error) {
	// rardecode might request "./movie.part02.rar"
	base := filepath.Base(name)
	f, err := v.fs.Open(filepath.Join(v.dir, base))
	if err != nil {
		logger.Debug("VolumeFS: volume not found", "name", base, "dir", v.dir)
		return nil, &fs.PathError{Op: "open", Path: name, Err: fs.ErrNotExist}
	}
	logger.Debug("VolumeFS: opening", "name", base)
	return f, nil
}
