package unzpack

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	gobilly "github.com/go-git/go-billy/v5"
	"github.com/jmgilman/go/fs/billy"
	"github.com/jmgilman/go/fs/core"
	"github.com/opencontainers/go-digest"
)

// Unpacker persists, extracts and unpacks archives using a fixed configuration.
// An Unpacker holds no per-call state and is safe for concurrent use, but
// concurrent calls writing the same paths race on the filesystem.
type Unpacker struct {
	fs     core.FS
	format Format
	logger *slog.Logger
	opts   ExtractOptions
}

// New creates an Unpacker. Without options it writes to the local filesystem,
// decodes ZIP archives, applies no extraction limits and discards logs.
func New(opts ...Option) *Unpacker {
	options := DefaultOptions()
	for _, opt := range opts {
		opt(options)
	}

	if options.FS == nil {
		options.FS = billy.NewLocal()
	}
	if options.Format == nil {
		options.Format = ZipFormat{}
	}
	if options.Logger == nil {
		options.Logger = slog.New(slog.DiscardHandler)
	}

	return &Unpacker{
		fs:     options.FS,
		format: options.Format,
		logger: options.Logger,
		opts:   options.Extract,
	}
}

// Persist writes data to a new file at path, truncating any existing file.
// It is a shorthand for New(opts...).Persist.
func Persist(data []byte, path string, opts ...Option) error {
	return New(opts...).Persist(data, path)
}

// Extract extracts the archive at path into outdir, creating outdir if
// needed. It is a shorthand for New(opts...).Extract.
func Extract(path, outdir string, opts ...Option) error {
	return New(opts...).Extract(path, outdir)
}

// Unpack persists data to archivePath, extracts it into outdir and removes
// archivePath. It is a shorthand for New(opts...).Unpack.
func Unpack(data []byte, archivePath, outdir string, opts ...Option) error {
	return New(opts...).Unpack(data, archivePath, outdir)
}

// Persist writes data to a new file at path, truncating any existing file.
// The parent directory must already exist.
func (u *Unpacker) Persist(data []byte, path string) error {
	target, err := u.abs(path)
	if err != nil {
		return err
	}

	parent := filepath.Dir(target)
	info, err := u.fs.Stat(parent)
	if err != nil {
		return fmt.Errorf("failed to persist archive to %s: %w", target, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("failed to persist archive to %s: %w", target,
			&fs.PathError{Op: "persist", Path: parent, Err: ErrNotDirectory})
	}

	if err := u.fs.WriteFile(target, data, 0o644); err != nil {
		return fmt.Errorf("failed to persist archive to %s: %w", target, err)
	}

	u.logger.Debug("persisted archive",
		"path", target,
		"bytes", len(data),
		"digest", digest.FromBytes(data).String(),
	)
	return nil
}

// Extract extracts the archive at path into outdir.
// The archive is decoded with the configured Format and materialized with
// Materialize; see there for the handling of outdir and entry names.
func (u *Unpacker) Extract(path, outdir string) error {
	src, err := u.abs(path)
	if err != nil {
		return err
	}

	f, err := u.fs.Open(src)
	if err != nil {
		return fmt.Errorf("failed to open archive %s: %w", src, err)
	}
	defer func() { _ = f.Close() }()

	r, size, err := readerAt(f)
	if err != nil {
		return fmt.Errorf("failed to read archive %s: %w", src, err)
	}

	archive, err := u.format.Open(r, size)
	if err != nil {
		return fmt.Errorf("failed to open %s archive %s: %w", u.format.Name(), src, err)
	}
	defer func() { _ = archive.Close() }()

	return u.Materialize(archive, outdir)
}

// Unpack persists data to archivePath, extracts it into outdir and finally
// removes archivePath.
//
// The first failing step stops the sequence and its error is returned as-is.
// When extraction fails the archive file is left in place for inspection.
func (u *Unpacker) Unpack(data []byte, archivePath, outdir string) error {
	if err := u.Persist(data, archivePath); err != nil {
		return err
	}

	if err := u.Extract(archivePath, outdir); err != nil {
		u.logger.Warn("extraction failed, keeping archive", "archive", archivePath, "error", err)
		return err
	}

	target, err := u.abs(archivePath)
	if err != nil {
		return err
	}
	return u.fs.Remove(target)
}

// abs returns p as an absolute, cleaned path. The local filesystem is rooted
// at "/", so relative paths are resolved against the working directory; other
// filesystems resolve them against their own root.
func (u *Unpacker) abs(p string) (string, error) {
	if p == "" {
		return "", fmt.Errorf("path cannot be empty")
	}
	if u.fs.Type() == core.FSTypeLocal {
		if err := hostRooted(u.fs); err != nil {
			return "", err
		}
		a, err := filepath.Abs(p)
		if err != nil {
			return "", fmt.Errorf("failed to resolve %s: %w", p, err)
		}
		return a, nil
	}
	return filepath.Join(string(os.PathSeparator), p), nil
}

// hostRooted rejects local filesystems that are not rooted at "/". Paths on
// the local filesystem are resolved and symlink-checked as host paths, which
// only holds when both agree.
func hostRooted(fsys core.FS) error {
	uw, ok := fsys.(interface{ Unwrap() gobilly.Filesystem })
	if !ok {
		return nil
	}
	if root := uw.Unwrap().Root(); filepath.Clean(root) != string(os.PathSeparator) {
		return fmt.Errorf("local filesystem must be rooted at %q, got %q; use billy.NewLocal()",
			string(os.PathSeparator), root)
	}
	return nil
}

// canonical resolves symlinks on the local filesystem. Other filesystems have
// no symlinks to resolve.
func (u *Unpacker) canonical(p string) (string, error) {
	if u.fs.Type() != core.FSTypeLocal {
		return p, nil
	}
	resolved, err := filepath.EvalSymlinks(p)
	if err != nil {
		return "", fmt.Errorf("failed to canonicalize %s: %w", p, err)
	}
	return resolved, nil
}

// readerAt exposes f as an io.ReaderAt. Handles without ReadAt are read
// through Seek, and only handles that cannot seek are read into memory.
func readerAt(f fs.File) (io.ReaderAt, int64, error) {
	info, err := f.Stat()
	if err != nil {
		return nil, 0, err
	}
	if ra, ok := f.(io.ReaderAt); ok {
		return ra, info.Size(), nil
	}
	if rs, ok := f.(io.ReadSeeker); ok {
		return &seekReaderAt{rs: rs}, info.Size(), nil
	}

	data, err := io.ReadAll(f)
	if err != nil {
		return nil, 0, err
	}
	return bytes.NewReader(data), int64(len(data)), nil
}

// seekReaderAt implements io.ReaderAt over a seekable stream.
type seekReaderAt struct {
	mu sync.Mutex
	rs io.ReadSeeker
}

func (r *seekReaderAt) ReadAt(p []byte, off int64) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, err := r.rs.Seek(off, io.SeekStart); err != nil {
		return 0, err
	}
	n, err := io.ReadFull(r.rs, p)
	if errors.Is(err, io.ErrUnexpectedEOF) {
		err = io.EOF
	}
	return n, err
}
