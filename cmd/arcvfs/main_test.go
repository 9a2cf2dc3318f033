package main

import (
	"archive/tar"
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"arcvfs/pkg/arcfs"
	"arcvfs/pkg/unpack"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var mod = time.Date(2024, 2, 3, 4, 5, 0, 0, time.UTC)

func sample(t *testing.T) *arcfs.Archive {
	t.Helper()
	var buf bytes.Buffer
	tw := tar.NewWriter(&buf)
	for _, it := range []struct{ name, body string }{
		{"d/inner.txt", "inner"},
		{"d/e/deep.txt", "deep"},
		{"top.txt", "top"},
	} {
		require.NoError(t, tw.WriteHeader(&tar.Header{
			Name: it.name, Mode: 0o600, Size: int64(len(it.body)), ModTime: mod, Typeflag: tar.TypeReg,
		}))
		_, err := tw.Write([]byte(it.body))
		require.NoError(t, err)
	}
	require.NoError(t, tw.Close())

	fsys := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fsys, "/sample.tar", buf.Bytes(), 0o644))
	a := arcfs.New(arcfs.NewFileSource(fsys, "/sample.tar"), unpack.TarBackend(unpack.CompressNone))
	t.Cleanup(func() { a.Close() })
	return a
}

func TestCleanArg(t *testing.T) {
	assert.Equal(t, ".", cleanArg(""))
	assert.Equal(t, ".", cleanArg("/"))
	assert.Equal(t, "a/b", cleanArg("/a//b/"))
	assert.Equal(t, "b", cleanArg("../../b"))
	assert.Equal(t, "a/c", cleanArg("a/b/../c"))
}

func TestTree(t *testing.T) {
	var out bytes.Buffer
	require.NoError(t, tree(&out, sample(t)))
	assert.Equal(t, `sample.tar
├── d
│   ├── inner.txt
│   └── e
│       └── deep.txt
└── top.txt
`, out.String())
}

func TestList(t *testing.T) {
	var out bytes.Buffer
	require.NoError(t, list(&out, sample(t), "d"))
	lines := bytes.Split(bytes.TrimSpace(out.Bytes()), []byte("\n"))
	require.Len(t, lines, 2)
	assert.Contains(t, string(lines[0]), "-rw-------")
	assert.Contains(t, string(lines[0]), "inner.txt")
	assert.Contains(t, string(lines[1]), "e/")

	assert.Error(t, list(&out, sample(t), "nope"))
}

func TestStatAndCat(t *testing.T) {
	a := sample(t)
	var out bytes.Buffer
	require.NoError(t, stat(&out, a, "d/e/deep.txt"))
	assert.Contains(t, out.String(), "Size:     4\n")
	assert.Contains(t, out.String(), "Mode:     -rw-------\n")

	out.Reset()
	require.NoError(t, cat(&out, a, "top.txt"))
	require.NoError(t, cat(&out, a, "d/inner.txt"))
	assert.Equal(t, "topinner", out.String())

	assert.ErrorIs(t, cat(&out, a, "d"), arcfs.ErrIsDir)
}

func TestExtract(t *testing.T) {
	dest := t.TempDir()
	n, err := extract(t.Context(), sample(t), dest)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	data, err := os.ReadFile(filepath.Join(dest, "d", "e", "deep.txt"))
	require.NoError(t, err)
	assert.Equal(t, "deep", string(data))

	info, err := os.Stat(filepath.Join(dest, "top.txt"))
	require.NoError(t, err)
	assert.True(t, info.ModTime().Equal(mod))
}
