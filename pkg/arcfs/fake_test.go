package arcfs

import (
	"errors"
	"io"
	"strings"
)

type fakeEntry struct {
	path string
	data string
}

// fakeReader replays a fixed entry list and counts backend sessions.
type fakeReader struct {
	entries []fakeEntry
	idx     int
	body    *strings.Reader
	isOpen  bool

	opens  int
	closes int

	password string
	want     string // password required to read payload, if set
	openErr  error
	failAt   int // Next fails at this index, -1 for never
}

func newFake(entries ...fakeEntry) *fakeReader {
	return &fakeReader{entries: entries, failAt: -1}
}

func (f *fakeReader) Open() error {
	if f.openErr != nil {
		return f.openErr
	}
	f.isOpen = true
	f.opens++
	f.idx = -1
	f.body = nil
	return nil
}

func (f *fakeReader) Next() (*Header, error) {
	if !f.isOpen {
		return nil, errors.New("fake: not open")
	}
	f.idx++
	if f.failAt >= 0 && f.idx == f.failAt {
		return nil, errors.New("fake: corrupt header")
	}
	if f.idx >= len(f.entries) {
		f.body = nil
		return nil, io.EOF
	}
	e := f.entries[f.idx]
	f.body = strings.NewReader(e.data)
	return &Header{Path: e.path, Size: int64(len(e.data)), Mode: 0o644}, nil
}

func (f *fakeReader) Read(p []byte) (int, error) {
	if f.body == nil {
		return 0, io.EOF
	}
	if f.want != "" && f.password != f.want {
		return 0, errors.New("fake: wrong password")
	}
	return f.body.Read(p)
}

func (f *fakeReader) Close() error {
	if f.isOpen {
		f.isOpen = false
		f.closes++
	}
	return nil
}

func (f *fakeReader) SetPassword(p string) { f.password = p }

func fakeBackend(r *fakeReader) Backend {
	return Backend{Name: "fake", New: func(Source, BackendOptions) Reader { return r }}
}

// nameSource is a Source for backends that never touch bytes.
type nameSource string

func (s nameSource) Name() string { return string(s) }

func (s nameSource) Open() (SourceFile, error) {
	return nil, errors.New("nameSource has no content")
}

// linesReader reads containers whose payload is "path=data" lines. It is
// used to check archives nested inside other archives.
type linesReader struct {
	src     Source
	entries []fakeEntry
	idx     int
	body    *strings.Reader
}

func linesBackend() Backend {
	return Backend{Name: "lines", New: func(src Source, _ BackendOptions) Reader {
		return &linesReader{src: src}
	}}
}

func (l *linesReader) Open() error {
	f, err := l.src.Open()
	if err != nil {
		return err
	}
	defer f.Close()
	data, err := io.ReadAll(f)
	if err != nil {
		return err
	}
	l.entries = nil
	for _, line := range strings.Split(strings.TrimSpace(string(data)), "\n") {
		name, body, _ := strings.Cut(line, "=")
		l.entries = append(l.entries, fakeEntry{path: name, data: body})
	}
	l.idx = -1
	return nil
}

func (l *linesReader) Next() (*Header, error) {
	l.idx++
	if l.idx >= len(l.entries) {
		return nil, io.EOF
	}
	e := l.entries[l.idx]
	l.body = strings.NewReader(e.data)
	return &Header{Path: e.path, Size: int64(len(e.data))}, nil
}

func (l *linesReader) Read(p []byte) (int, error) {
	if l.body == nil {
		return 0, io.EOF
	}
	return l.body.Read(p)
}

func (l *linesReader) Close() error {
	l.body = nil
	return nil
}

// extResolver types leaves by suffix only.
func extResolver(types map[string]string) Resolver {
	return ResolverFunc(func(name string, _ func() (io.ReadCloser, error)) (string, error) {
		for suffix, t := range types {
			if strings.HasSuffix(name, suffix) {
				return t, nil
			}
		}
		return "", nil
	})
}
