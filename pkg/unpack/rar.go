package unpack

import (
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"arcvfs/pkg/arcfs"
	"arcvfs/pkg/logger"
	"arcvfs/pkg/spool"

	"github.com/javi11/rardecode/v2"
)

// RarBackend reads RAR 1.5 to 7.0 archives.
func RarBackend() arcfs.Backend {
	return arcfs.Backend{Name: "rar", New: newRarReader}
}

type rarStream interface {
	Next() (*rardecode.FileHeader, error)
	io.Reader
}

// rarReader drives rardecode header by header. Entry payload is pushed by
// the decoder into a spool on the first Read of an entry and pulled from
// there, so decode timing never depends on the caller's buffer sizes.
type rarReader struct {
	src      arcfs.Source
	opts     arcfs.BackendOptions
	password string

	file   arcfs.SourceFile
	rc     *rardecode.ReadCloser
	r      rarStream
	sp     *spool.Spool
	filled bool
	locked bool // current entry is encrypted
	err    error
}

func newRarReader(src arcfs.Source, o arcfs.BackendOptions) arcfs.Reader {
	return &rarReader{src: src, opts: o, password: o.Password}
}

func (r *rarReader) SetPassword(p string) { r.password = p }

func (r *rarReader) options() []rardecode.Option {
	var opts []rardecode.Option
	if r.password != "" {
		opts = append(opts, rardecode.Password(r.password))
	}
	return opts
}

func (r *rarReader) Open() error {
	r.Close()
	if fsrc, ok := r.src.(*arcfs.FileSource); ok {
		// On a real filesystem the decoder follows .partN.rar / .rNN siblings.
		if IsMiddleRarVolume(fsrc.Path) {
			return fmt.Errorf("rar: %s is not the first volume of its set", filepath.Base(fsrc.Path))
		}
		opts := append(r.options(), rardecode.FileSystem(NewVolumeFS(fsrc.Fs, filepath.Dir(fsrc.Path))))
		rc, err := rardecode.OpenReader(filepath.Base(fsrc.Path), opts...)
		if err != nil {
			return fmt.Errorf("rar: open %s: %w", fsrc.Path, passwordError(err, false))
		}
		r.rc = rc
		r.r = rc
	} else {
		f, err := r.src.Open()
		if err != nil {
			return err
		}
		rr, err := rardecode.NewReader(f, r.options()...)
		if err != nil {
			f.Close()
			return fmt.Errorf("rar: open %s: %w", r.src.Name(), passwordError(err, false))
		}
		r.file = f
		r.r = rr
	}
	r.sp = spool.New(r.opts.Scratch, r.opts.TempDir, r.opts.SpillThreshold)
	return nil
}

func (r *rarReader) Next() (*arcfs.Header, error) {
	if r.r == nil {
		return nil, arcfs.ErrClosed
	}
	r.filled = false
	r.locked = false
	r.err = nil
	if err := r.sp.Reset(); err != nil {
		logger.Debug("Spool reset failed", "archive", r.src.Name(), "err", err)
	}
	for {
		hdr, err := r.r.Next()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil, io.EOF
			}
			// Without a volume filesystem the listing ends with the first volume.
			if errors.Is(err, rardecode.ErrMultiVolume) || strings.Contains(err.Error(), "multi-volume archive") {
				logger.Warn("RAR continues in a volume that cannot be reached", "archive", r.src.Name())
				return nil, io.EOF
			}
			return nil, passwordError(err, false)
		}
		if hdr.IsDir {
			continue
		}
		r.locked = hdr.Encrypted
		return &arcfs.Header{
			Path:     hdr.Name,
			Size:     hdr.UnPackedSize,
			Created:  hdr.CreationTime,
			Modified: hdr.ModificationTime,
			Accessed: hdr.AccessTime,
			Mode:     hdr.Mode().Perm(),
		}, nil
	}
}

func (r *rarReader) Read(p []byte) (int, error) {
	if r.r == nil {
		return 0, arcfs.ErrClosed
	}
	if r.err != nil {
		return 0, r.err
	}
	if !r.filled {
		err := r.sp.Fill(func(w io.Writer) error {
			_, err := io.Copy(w, r.r)
			return err
		})
		if err != nil {
			r.err = fmt.Errorf("rar: extract: %w", passwordError(err, r.locked))
			return 0, r.err
		}
		r.filled = true
	}
	return r.sp.Read(p)
}

// passwordError tags the decoder's password failures with
// arcfs.ErrPasswordRequired. Stored entries carry no password check value,
// so a wrong password on an encrypted entry shows up as a checksum mismatch.
func passwordError(err error, encrypted bool) error {
	switch {
	case errors.Is(err, rardecode.ErrArchiveEncrypted),
		errors.Is(err, rardecode.ErrArchivedFileEncrypted),
		errors.Is(err, rardecode.ErrBadPassword),
		encrypted && errors.Is(err, rardecode.ErrBadFileChecksum):
		return fmt.Errorf("%w: %w", arcfs.ErrPasswordRequired, err)
	}
	return err
}

func (r *rarReader) Close() error {
	var errs []error
	if r.sp != nil {
		errs = append(errs, r.sp.Close())
		r.sp = nil
	}
	if r.rc != nil {
		errs = append(errs, r.rc.Close())
		r.rc = nil
	}
	if r.file != nil {
		errs = append(errs, r.file.Close())
		r.file = nil
	}
	r.r = nil
	r.filled = false
	r.locked = false
	r.err = nil
	return errors.Join(errs...)
}
