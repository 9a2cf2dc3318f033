package arcfs

import (
	"io"
	"path"

	"arcvfs/pkg/spool"
)

// entrySource serves a leaf of one archive as the container of another.
// Random-access backends need io.ReaderAt, so the leaf is extracted once
// into a spool and every Open hands out an independent view of it.
type entrySource struct {
	parent *Archive
	file   *File
	sp     *spool.Spool
}

func newEntrySource(parent *Archive, f *File) *entrySource {
	return &entrySource{parent: parent, file: f}
}

func (s *entrySource) Name() string {
	return path.Join(s.parent.Name(), s.file.Path())
}

func (s *entrySource) Open() (SourceFile, error) {
	if s.sp == nil {
		o := s.parent.opts
		sp := spool.New(o.scratch, o.tempDir, o.spillThreshold)
		st, err := s.parent.openFile(s.file)
		if err != nil {
			return nil, err
		}
		err = sp.Fill(func(w io.Writer) error {
			_, err := io.Copy(w, st)
			return err
		})
		st.Close()
		if err != nil {
			sp.Close()
			return nil, err
		}
		s.sp = sp
	}
	return s.sp.View(path.Base(s.file.Path())), nil
}

func (s *entrySource) Close() error {
	if s.sp == nil {
		return nil
	}
	err := s.sp.Close()
	s.sp = nil
	return err
}
