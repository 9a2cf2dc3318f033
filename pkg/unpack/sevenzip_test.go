package unpack

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"testing"

	"arcvfs/pkg/arcfs"

	"github.com/javi11/sevenzip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sha256Hex(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

func TestSevenZipBackendEntries(t *testing.T) {
	a := arcfs.New(fixture(t, "plain.7z"), SevenZipBackend())
	defer a.Close()

	assert.Equal(t, []string{"docs/readme.txt", "data.bin"}, leafPaths(t, a))

	readme := fixtureFile(t, a, "docs/readme.txt")
	assert.EqualValues(t, 14, readme.Size())
	assert.True(t, readme.ModTime().Equal(fixtureTime), readme.ModTime())
	assert.EqualValues(t, 5000, fixtureFile(t, a, "data.bin").Size())

	want := make([]byte, 5000)
	for i := range want {
		want[i] = byte(i % 251)
	}
	data, err := a.ReadFile("data.bin")
	require.NoError(t, err)
	assert.Equal(t, want, data)

	opens := a.Handle().Opens()
	data, err = a.ReadFile("docs/readme.txt")
	require.NoError(t, err)
	assert.Equal(t, "hello from 7z\n", string(data))
	assert.Equal(t, opens+1, a.Handle().Opens())
}

func TestSevenZipBackendPassword(t *testing.T) {
	for name, opts := range map[string][]arcfs.Option{
		"missing": nil,
		"wrong":   {arcfs.WithPassword("notpassword")},
	} {
		t.Run(name, func(t *testing.T) {
			a := arcfs.New(fixture(t, "encrypted.7z"), SevenZipBackend(), opts...)
			defer a.Close()

			// Headers are in the clear, so the listing needs no password.
			assert.ElementsMatch(t, []string{"bar", "foo"}, leafPaths(t, a))

			s, err := a.OpenEntry("bar")
			require.NoError(t, err)
			_, err = s.Read(make([]byte, 64))
			assert.ErrorIs(t, err, arcfs.ErrPasswordRequired)
			require.NoError(t, s.Close())

			a.SetPassword("password")
			data, err := a.ReadFile("foo")
			require.NoError(t, err)
			assert.Equal(t, "foo\n", string(data))
			data, err = a.ReadFile("bar")
			require.NoError(t, err)
			assert.Equal(t, "bar\n", string(data))
		})
	}
}

func TestSevenZipBackendSplitSet(t *testing.T) {
	var parts []string
	for i := 1; i <= 6; i++ {
		parts = append(parts, fmt.Sprintf("multi.7z.%03d", i))
	}
	a := arcfs.New(fixture(t, parts...), SevenZipBackend())
	defer a.Close()

	assert.Equal(t, []string{"01", "02", "03", "04", "05", "06", "07", "08", "09", "10"}, leafPaths(t, a))
	assert.EqualValues(t, 3572, fixtureFile(t, a, "01").Size())
	assert.EqualValues(t, 3987, fixtureFile(t, a, "10").Size())

	// The last file's data lives in the last volume.
	data, err := a.ReadFile("10")
	require.NoError(t, err)
	assert.Equal(t, "e37d125aa67fe9aad9cb4ee6bb847d13f23759c0c224f4f6de6635e39b205b19", sha256Hex(data))

	data, err = a.ReadFile("01")
	require.NoError(t, err)
	assert.Contains(t, string(data[:80]), "Lorem ipsum dolor sit amet")
	assert.Equal(t, "61ae140c9c16192497c2b951af0d7660dbd0bf2bbb627f848a8cec5ab75e390c", sha256Hex(data))

	middle := arcfs.New(fixture(t, append([]string{"multi.7z.002"}, parts...)...), SevenZipBackend())
	defer middle.Close()
	_, err = middle.Root()
	assert.ErrorIs(t, err, arcfs.ErrBackendOpen)
	assert.Contains(t, err.Error(), "not the first volume")
}

func TestSevenZipEncryptedError(t *testing.T) {
	inner := errors.New("lzma: corrupt stream")
	assert.ErrorIs(t, encryptedError(&sevenzip.ReadError{Encrypted: true, Err: inner}), arcfs.ErrPasswordRequired)

	plain := encryptedError(&sevenzip.ReadError{Err: inner})
	assert.NotErrorIs(t, plain, arcfs.ErrPasswordRequired)
	assert.ErrorIs(t, plain, inner)
}
