package initialization

import (
	"archive/tar"
	"bytes"
	"io/fs"
	"testing"

	"arcvfs/pkg/arcfs"
	"arcvfs/pkg/config"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func tarBytes(t *testing.T, name, body string) []byte {
	t.Helper()
	var buf bytes.Buffer
	tw := tar.NewWriter(&buf)
	require.NoError(t, tw.WriteHeader(&tar.Header{Name: name, Mode: 0o644, Size: int64(len(body)), Typeflag: tar.TypeReg}))
	_, err := tw.Write([]byte(body))
	require.NoError(t, err)
	require.NoError(t, tw.Close())
	return buf.Bytes()
}

func components(t *testing.T) (*InitializedComponents, afero.Fs) {
	t.Helper()
	fsys := afero.NewMemMapFs()
	cfg := config.Default()
	cfg.TempDir = "/scratch"
	comp, err := Build(cfg, fsys)
	require.NoError(t, err)
	return comp, fsys
}

func TestBuildCreatesTempDir(t *testing.T) {
	_, fsys := components(t)
	ok, err := afero.DirExists(fsys, "/scratch")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestOpenArchiveByName(t *testing.T) {
	comp, fsys := components(t)
	require.NoError(t, afero.WriteFile(fsys, "/in/a.tar", tarBytes(t, "hello.txt", "hi"), 0o644))

	a, err := comp.OpenArchive("/in/a.tar")
	require.NoError(t, err)
	defer a.Close()
	assert.Equal(t, "application/x-tar", a.ContentType())
	assert.Equal(t, "tar", a.Backend())

	data, err := a.ReadFile("hello.txt")
	require.NoError(t, err)
	assert.Equal(t, "hi", string(data))
}

func TestOpenArchiveSniffsUnnamedContainer(t *testing.T) {
	comp, fsys := components(t)
	require.NoError(t, afero.WriteFile(fsys, "/in/download", tarBytes(t, "x", "y"), 0o644))

	a, err := comp.OpenArchive("/in/download")
	require.NoError(t, err)
	defer a.Close()
	assert.Equal(t, "application/x-tar", a.ContentType())
	assert.True(t, a.Exists("x"))
}

func TestOpenArchiveErrors(t *testing.T) {
	comp, fsys := components(t)

	_, err := comp.OpenArchive("/missing.zip")
	assert.ErrorIs(t, err, fs.ErrNotExist)

	require.NoError(t, afero.WriteFile(fsys, "/pkg.deb", []byte("!<arch>\ndebian-binary"), 0o644))
	_, err = comp.OpenArchive("/pkg.deb")
	assert.ErrorIs(t, err, arcfs.ErrUnsupported)
	assert.Contains(t, err.Error(), "recognised but not supported")

	require.NoError(t, afero.WriteFile(fsys, "/notes.txt", []byte("plain text"), 0o644))
	_, err = comp.OpenArchive("/notes.txt")
	assert.ErrorIs(t, err, arcfs.ErrUnsupported)
}

func TestOptionsAppendExtraLast(t *testing.T) {
	comp, _ := components(t)
	base := len(comp.Options())
	assert.Len(t, comp.Options(arcfs.WithPassword("pw")), base+1)
}
