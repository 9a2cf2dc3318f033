package unpack

import (
	"bytes"
	"io"
	"strings"
	"testing"

	"arcvfs/pkg/arcfs"

	"github.com/klauspost/compress/zip"
	"github.com/klauspost/compress/zstd"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type zipItem struct {
	name   string
	body   string
	method uint16
	flags  uint16
}

func buildZip(t *testing.T, items ...zipItem) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	zw.RegisterCompressor(zstd.ZipMethodWinZip, zstd.ZipCompressor())
	for _, it := range items {
		fh := &zip.FileHeader{Name: it.name, Method: it.method, Flags: it.flags}
		w, err := zw.CreateHeader(fh)
		require.NoError(t, err)
		if !strings.HasSuffix(it.name, "/") {
			_, err = io.WriteString(w, it.body)
			require.NoError(t, err)
		}
	}
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

func TestZipBackend(t *testing.T) {
	data := buildZip(t,
		zipItem{name: "d/"},
		zipItem{name: "d/deflated.txt", body: strings.Repeat("deflate ", 64), method: zip.Deflate},
		zipItem{name: "stored.txt", body: "kept as is", method: zip.Store},
		zipItem{name: "d/e/zstd.txt", body: "zstandard member", method: zstd.ZipMethodWinZip},
	)
	src, _ := memSource(t, "/bundle.zip", data)
	a := arcfs.New(src, ZipBackend())
	defer a.Close()

	assert.Equal(t, []string{"d/deflated.txt", "d/e/zstd.txt", "stored.txt"}, leafPaths(t, a))

	root, err := a.Entries(".")
	require.NoError(t, err)
	require.Len(t, root, 2)
	assert.Equal(t, "d", root[0].Name())
	assert.True(t, root[0].IsDir())

	got, err := a.ReadFile("d/e/zstd.txt")
	require.NoError(t, err)
	assert.Equal(t, "zstandard member", string(got))

	got, err = a.ReadFile("d/deflated.txt")
	require.NoError(t, err)
	assert.Equal(t, strings.Repeat("deflate ", 64), string(got))

	got, err = a.ReadFile("stored.txt")
	require.NoError(t, err)
	assert.Equal(t, "kept as is", string(got))
}

func TestZipBackendEncryptedMember(t *testing.T) {
	data := buildZip(t,
		zipItem{name: "open.txt", body: "public", method: zip.Store},
		zipItem{name: "locked.txt", body: "scrambled", method: zip.Store, flags: 0x1},
	)
	src, _ := memSource(t, "/locked.zip", data)
	a := arcfs.New(src, ZipBackend())
	defer a.Close()

	assert.True(t, a.Exists("locked.txt"), "listing works without a password")
	_, err := a.ReadFile("locked.txt")
	assert.ErrorIs(t, err, arcfs.ErrPasswordRequired)

	got, err := a.ReadFile("open.txt")
	require.NoError(t, err)
	assert.Equal(t, "public", string(got))
}

func TestZipBackendCorrupt(t *testing.T) {
	src, _ := memSource(t, "/broken.zip", []byte("PK\x03\x04 but nothing else"))
	a := arcfs.New(src, ZipBackend())
	defer a.Close()

	_, err := a.Root()
	assert.ErrorIs(t, err, arcfs.ErrBackendOpen)
}

func TestNestedZipInsideTarGz(t *testing.T) {
	inner := buildZip(t, zipItem{name: "deep/file.txt", body: "from inside", method: zip.Deflate})
	outer := compressWith(t, CompressGzip, buildTar(t,
		tarItem{name: "top.txt", body: "top"},
		tarItem{name: "pkg/inner.zip", body: string(inner)},
	))
	src, fsys := memSource(t, "/outer.tar.gz", outer)

	byExt := arcfs.ResolverFunc(func(name string, _ func() (io.ReadCloser, error)) (string, error) {
		if strings.HasSuffix(name, ".zip") {
			return "application/zip", nil
		}
		return "", nil
	})
	a := arcfs.New(src, TarBackend(CompressAuto),
		arcfs.WithRegistry(DefaultRegistry()),
		arcfs.WithResolver(byExt),
		arcfs.WithSpill(fsys, "/tmp", 1),
	)

	info, err := a.Stat("pkg/inner.zip")
	require.NoError(t, err)
	assert.True(t, info.IsDir())

	got, err := a.ReadFile("pkg/inner.zip/deep/file.txt")
	require.NoError(t, err)
	assert.Equal(t, "from inside", string(got))

	got, err = a.ReadFile("top.txt")
	require.NoError(t, err)
	assert.Equal(t, "top", string(got))

	spilled, err := afero.ReadDir(fsys, "/tmp")
	require.NoError(t, err)
	assert.Len(t, spilled, 1)

	require.NoError(t, a.Close())
	spilled, err = afero.ReadDir(fsys, "/tmp")
	require.NoError(t, err)
	assert.Empty(t, spilled)
}
