package arcfs

import (
	"errors"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHandleNestedOpensShareOneSession(t *testing.T) {
	fr := newFake(fakeEntry{"a.txt", "a"})
	h := NewHandle("nested.fake", fr)

	const n = 5
	for i := 0; i < n; i++ {
		require.NoError(t, h.Open())
		assert.Equal(t, 1, fr.opens, "backend must be opened once")
	}
	assert.Equal(t, n, h.Refs())

	for i := 0; i < n; i++ {
		require.NoError(t, h.Close())
		if i < n-1 {
			assert.Equal(t, 0, fr.closes, "backend closed before the last reference")
		}
	}
	assert.Equal(t, 1, fr.closes)
	assert.Equal(t, 1, h.Opens())
	assert.False(t, h.IsOpen())

	// Extra closes are harmless.
	require.NoError(t, h.Close())
	assert.Equal(t, 1, fr.closes)
}

func TestHandleOpenFailureKeepsNoReference(t *testing.T) {
	fr := newFake()
	fr.openErr = errors.New("not a container")
	h := NewHandle("broken.fake", fr)

	err := h.Open()
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrBackendOpen)
	assert.Equal(t, 0, h.Refs())
	assert.ErrorIs(t, h.LastError(), ErrBackendOpen)

	fr.openErr = nil
	require.NoError(t, h.Open())
	assert.Equal(t, 1, h.Opens())
	require.NoError(t, h.Close())
}

func TestHandleNextSkipsDirectoryMarkers(t *testing.T) {
	fr := newFake(
		fakeEntry{"d/", ""},
		fakeEntry{"./d/e.txt", "e"},
		fakeEntry{"/", ""},
	)
	h := NewHandle("markers.fake", fr)
	require.NoError(t, h.Open())
	defer h.Close()

	hdr, err := h.Next()
	require.NoError(t, err)
	assert.Equal(t, "d/e.txt", hdr.Path)
	assert.Equal(t, 0, h.Ordinal())

	_, err = h.Next()
	assert.Equal(t, io.EOF, err)
	_, err = h.Next()
	assert.Equal(t, io.EOF, err, "exhausted cursor stays exhausted")
}

func TestHandleFindReusesCurrentEntry(t *testing.T) {
	fr := newFake(fakeEntry{"a/b.txt", "bbb"}, fakeEntry{"c.txt", "cc"})
	h := NewHandle("reuse.fake", fr)
	require.NoError(t, h.Open())
	defer h.Close()

	require.NoError(t, h.Find("a/b.txt"))
	idx := fr.idx
	require.NoError(t, h.Find("a/b.txt"))
	assert.Equal(t, idx, fr.idx, "finding the current entry must not advance the backend")
	assert.Equal(t, "a/b.txt", h.Current().Path)
}

func TestHandleFindBehindCursor(t *testing.T) {
	fr := newFake(fakeEntry{"a/b.txt", "bbb"}, fakeEntry{"c.txt", "cc"})
	h := NewHandle("behind.fake", fr)
	require.NoError(t, h.Open())
	defer h.Close()

	require.NoError(t, h.Find("a/b.txt"))
	require.NoError(t, h.Find("c.txt"))

	err := h.Find("a/b.txt")
	assert.ErrorIs(t, err, ErrCursorPassed)
	assert.ErrorIs(t, err, ErrNotFound)

	err = h.Find("missing.txt")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.NotErrorIs(t, err, ErrCursorPassed, "an absent path must be distinguishable from a passed one")

	require.NoError(t, h.Rewind())
	assert.Equal(t, 2, fr.opens)
	require.NoError(t, h.Find("a/b.txt"))

	buf := make([]byte, 8)
	n, _ := h.Read(buf)
	assert.Equal(t, "bbb", string(buf[:n]))
}

func TestHandleFindAfterPartialReadNeedsRewind(t *testing.T) {
	fr := newFake(fakeEntry{"a.txt", "abc"})
	h := NewHandle("partial.fake", fr)
	require.NoError(t, h.Open())
	defer h.Close()

	require.NoError(t, h.Find("a.txt"))
	_, err := h.Read(make([]byte, 1))
	require.NoError(t, err)

	assert.ErrorIs(t, h.Find("a.txt"), ErrCursorPassed)
	assert.ErrorIs(t, h.FindEntry("a.txt", 0), ErrCursorPassed)
}

func TestHandleFindEntrySelectsOccurrence(t *testing.T) {
	fr := newFake(fakeEntry{"x.txt", "first"}, fakeEntry{"x.txt", "second"})
	h := NewHandle("dup.fake", fr)
	require.NoError(t, h.Open())
	defer h.Close()

	require.NoError(t, h.FindEntry("x.txt", 1))
	data, err := io.ReadAll(readerFunc(h.Read))
	require.NoError(t, err)
	assert.Equal(t, "second", string(data))

	assert.ErrorIs(t, h.FindEntry("x.txt", 0), ErrCursorPassed)
	assert.ErrorIs(t, h.FindEntry("x.txt", 5), ErrNotFound)
}

func TestHandleClaimChangesGeneration(t *testing.T) {
	h := NewHandle("claim.fake", newFake(fakeEntry{"a", "a"}))
	require.NoError(t, h.Open())
	defer h.Close()

	require.NoError(t, h.Find("a"))
	before := h.Generation()
	got := h.Claim()
	assert.NotEqual(t, before, got)
	assert.Equal(t, got, h.Generation())
	require.NoError(t, h.Find("a"), "claiming does not move the cursor")
}

func TestHandleUseAfterClose(t *testing.T) {
	h := NewHandle("closed.fake", newFake(fakeEntry{"a", "a"}))
	_, err := h.Next()
	assert.ErrorIs(t, err, ErrClosed)
	assert.ErrorIs(t, h.Find("a"), ErrClosed)
	assert.ErrorIs(t, h.Rewind(), ErrClosed)
	_, err = h.Read(make([]byte, 1))
	assert.ErrorIs(t, err, ErrClosed)
}

type readerFunc func([]byte) (int, error)

func (f readerFunc) Read(p []byte) (int, error) { return f(p) }
