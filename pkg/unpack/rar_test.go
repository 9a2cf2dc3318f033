package unpack

import (
	"bytes"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"testing"
	"time"

	"arcvfs/pkg/arcfs"

	"github.com/javi11/rardecode/v2"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var fixtureTime = time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)

// fixture copies files from testdata into a memory filesystem and returns a
// source over the first of them.
func fixture(t *testing.T, names ...string) *arcfs.FileSource {
	t.Helper()
	fsys := afero.NewMemMapFs()
	for _, name := range names {
		data, err := os.ReadFile(filepath.Join("testdata", name))
		require.NoError(t, err)
		require.NoError(t, afero.WriteFile(fsys, path.Join("/fx", name), data, 0o644))
	}
	return arcfs.NewFileSource(fsys, path.Join("/fx", names[0]))
}

func fixtureFile(t *testing.T, a *arcfs.Archive, name string) *arcfs.File {
	t.Helper()
	node, err := a.Lookup(name)
	require.NoError(t, err)
	f, ok := node.(*arcfs.File)
	require.True(t, ok, name)
	return f
}

func TestRarBackendStoredEntries(t *testing.T) {
	a := arcfs.New(fixture(t, "stored.rar"), RarBackend())
	defer a.Close()

	assert.Equal(t, []string{"docs/readme.txt", "data.bin"}, leafPaths(t, a))

	readme := fixtureFile(t, a, "docs/readme.txt")
	assert.EqualValues(t, 15, readme.Size())
	assert.Equal(t, fs.FileMode(0o644), readme.Mode())
	assert.True(t, readme.ModTime().Equal(fixtureTime), readme.ModTime())

	bin := fixtureFile(t, a, "data.bin")
	assert.EqualValues(t, 5000, bin.Size())
	assert.Equal(t, fs.FileMode(0o600), bin.Mode())

	want := make([]byte, 5000)
	for i := range want {
		want[i] = byte(i % 251)
	}
	data, err := a.ReadFile("data.bin")
	require.NoError(t, err)
	assert.Equal(t, want, data)

	// readme sits behind the cursor now
	opens := a.Handle().Opens()
	data, err = a.ReadFile("docs/readme.txt")
	require.NoError(t, err)
	assert.Equal(t, "hello from rar\n", string(data))
	assert.Equal(t, opens+1, a.Handle().Opens())
}

func TestRarBackendEncryptedEntry(t *testing.T) {
	a := arcfs.New(fixture(t, "encrypted.rar"), RarBackend())
	defer a.Close()

	assert.Equal(t, []string{"public.txt", "secret.txt"}, leafPaths(t, a))
	assert.EqualValues(t, 19, fixtureFile(t, a, "secret.txt").Size())

	data, err := a.ReadFile("public.txt")
	require.NoError(t, err)
	assert.Equal(t, "anyone can read this\n", string(data))

	s, err := a.OpenEntry("secret.txt")
	require.NoError(t, err, "opening only positions the cursor")
	_, err = s.Read(make([]byte, 64))
	assert.ErrorIs(t, err, arcfs.ErrPasswordRequired)
	require.NoError(t, s.Close())

	a.SetPassword("secret")
	data, err = a.ReadFile("secret.txt")
	require.NoError(t, err)
	assert.Equal(t, "top secret payload\n", string(data))
}

func TestRarBackendWrongPassword(t *testing.T) {
	a := arcfs.New(fixture(t, "encrypted.rar"), RarBackend(), arcfs.WithPassword("hunter2"))
	defer a.Close()

	s, err := a.OpenEntry("secret.txt")
	require.NoError(t, err)
	defer s.Close()
	n, err := s.Read(make([]byte, 64))
	assert.Zero(t, n, "nothing decrypted with the wrong key reaches the caller")
	assert.ErrorIs(t, err, arcfs.ErrPasswordRequired)

	data, err := a.ReadFile("public.txt")
	require.NoError(t, err)
	assert.Equal(t, "anyone can read this\n", string(data))
}

func TestRarBackendMultiVolume(t *testing.T) {
	a := arcfs.New(fixture(t, "test.part01.rar", "test.part02.rar"), RarBackend())
	defer a.Close()

	var want bytes.Buffer
	for i := 0; i <= 2000; i++ {
		fmt.Fprintf(&want, "%d\n", i)
	}
	assert.Equal(t, []string{"test.txt"}, leafPaths(t, a))
	assert.EqualValues(t, want.Len(), fixtureFile(t, a, "test.txt").Size())

	data, err := a.ReadFile("test.txt")
	require.NoError(t, err)
	assert.Equal(t, want.String(), string(data))

	middle := arcfs.New(fixture(t, "test.part02.rar", "test.part01.rar"), RarBackend())
	defer middle.Close()
	_, err = middle.Root()
	assert.ErrorIs(t, err, arcfs.ErrBackendOpen)
}

func TestRarPasswordError(t *testing.T) {
	for _, err := range []error{
		rardecode.ErrArchiveEncrypted,
		rardecode.ErrArchivedFileEncrypted,
		rardecode.ErrBadPassword,
	} {
		got := passwordError(fmt.Errorf("wrapped: %w", err), false)
		assert.ErrorIs(t, got, arcfs.ErrPasswordRequired, err.Error())
		assert.ErrorIs(t, got, err)
	}
	assert.ErrorIs(t, passwordError(rardecode.ErrBadFileChecksum, true), arcfs.ErrPasswordRequired)

	plain := passwordError(rardecode.ErrBadFileChecksum, false)
	assert.NotErrorIs(t, plain, arcfs.ErrPasswordRequired)
	assert.ErrorIs(t, plain, rardecode.ErrBadFileChecksum)
}
