package unzpack

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path"

	"github.com/gobwas/glob"
	"github.com/jmgilman/go/fs/core"

	"github.com/jmgilman/go/unzpack/internal/validate"
)

// Materialize reconstructs every entry of a under outdir.
//
// outdir is created with its ancestors if it does not exist. If it exists but
// is not a directory, Materialize fails with ErrNotDirectory before writing
// anything. Entries are then processed in storage order: directories are
// created, files are created or truncated and their content copied. Every
// entry must resolve inside outdir, otherwise extraction stops with
// ErrUnsafePath.
//
// The first failure aborts the extraction. Entries written before the failure
// are left in place.
func (u *Unpacker) Materialize(a Archive, outdir string) error {
	patterns, err := compilePatterns(u.opts.FilesToExtract)
	if err != nil {
		return err
	}

	root, scoped, err := u.prepareRoot(outdir)
	if err != nil {
		return err
	}

	m := &materializer{
		root:       root,
		fs:         scoped,
		local:      u.fs.Type() == core.FSTypeLocal,
		opts:       u.opts,
		validators: u.validators(),
		patterns:   patterns,
		sanitizer:  NewPermissionSanitizer(),
		logger:     u.logger,
	}

	for i := range a.Len() {
		entry, err := a.Entry(i)
		if err != nil {
			return fmt.Errorf("failed to read entry %d: %w", i, err)
		}
		if err := m.materialize(entry); err != nil {
			return err
		}
	}

	u.logger.Info("extracted archive",
		"root", root,
		"entries", m.entries,
		"bytes", m.stats.TotalSize,
	)
	return nil
}

// prepareRoot makes sure outdir exists as a directory and returns its
// canonical path together with a filesystem scoped to it.
func (u *Unpacker) prepareRoot(outdir string) (string, core.FS, error) {
	root, err := u.abs(outdir)
	if err != nil {
		return "", nil, err
	}

	exists, err := u.fs.Exists(root)
	if err != nil {
		return "", nil, newEntryError("prepare", root, nil, err)
	}
	if !exists {
		if err := u.fs.MkdirAll(root, 0o755); err != nil {
			return "", nil, newEntryError("prepare", root, nil, err)
		}
	}

	root, err = u.canonical(root)
	if err != nil {
		return "", nil, newEntryError("prepare", outdir, nil, err)
	}

	info, err := u.fs.Stat(root)
	if err != nil {
		return "", nil, newEntryError("prepare", root, nil, err)
	}
	if !info.IsDir() {
		return "", nil, newEntryError("prepare", root, ErrNotDirectory, nil)
	}

	scoped, err := u.fs.Chroot(root)
	if err != nil {
		return "", nil, newEntryError("prepare", root, nil, err)
	}
	return root, scoped, nil
}

// compilePatterns compiles FilesToExtract patterns with "/" as separator.
func compilePatterns(patterns []string) ([]glob.Glob, error) {
	compiled := make([]glob.Glob, 0, len(patterns))
	for _, pattern := range patterns {
		g, err := glob.Compile(pattern, '/')
		if err != nil {
			return nil, fmt.Errorf("invalid extract pattern %q: %w", pattern, err)
		}
		compiled = append(compiled, g)
	}
	return compiled, nil
}

// validators builds the limit checks configured for this Unpacker.
func (u *Unpacker) validators() *ValidatorChain {
	chain := NewValidatorChain()
	if u.opts.MaxFileSize > 0 || u.opts.MaxSize > 0 {
		chain.AddValidator(NewSizeValidator(u.opts.MaxFileSize, u.opts.MaxSize))
	}
	if u.opts.MaxFiles > 0 {
		chain.AddValidator(NewFileCountValidator(u.opts.MaxFiles))
	}
	return chain
}

// materializer holds the state of one extraction.
type materializer struct {
	root       string
	fs         core.FS
	local      bool
	opts       ExtractOptions
	validators *ValidatorChain
	patterns   []glob.Glob
	sanitizer  *PermissionSanitizer
	logger     *slog.Logger

	stats   ArchiveStats
	entries int
}

func (m *materializer) materialize(entry Entry) error {
	name := entry.Name()

	rel, err := validate.Sanitize(name)
	if err != nil {
		return newEntryError("sanitize", name, ErrUnsafePath, err)
	}

	rel, ok := validate.StripPrefix(rel, m.opts.StripPrefix)
	if !ok {
		m.logger.Debug("skipping entry outside prefix", "entry", name, "prefix", m.opts.StripPrefix)
		return nil
	}

	isDir := validate.IsDirName(name)
	if !m.selected(rel, isDir) {
		m.logger.Debug("skipping unselected entry", "entry", name)
		return nil
	}

	target, err := m.resolve(name, rel)
	if err != nil {
		return err
	}

	if isDir {
		return m.dir(name, rel, target)
	}
	return m.file(entry, rel, target)
}

// selected reports whether an entry passes the FilesToExtract filter.
func (m *materializer) selected(rel string, isDir bool) bool {
	if len(m.patterns) == 0 {
		return true
	}
	if isDir {
		return false
	}
	for _, g := range m.patterns {
		if g.Match(rel) {
			return true
		}
	}
	return false
}

// resolve joins rel with the root and checks that the result, with any
// existing symlinks followed, stays inside the root.
func (m *materializer) resolve(name, rel string) (string, error) {
	target, err := validate.Join(m.root, rel)
	if err != nil {
		return "", newEntryError("resolve", name, ErrUnsafePath, err)
	}

	if !m.local {
		return target, nil
	}

	resolved, err := validate.ResolveExisting(target)
	if err != nil {
		return "", newEntryError("resolve", name, nil, err)
	}
	if !validate.Contains(m.root, resolved) {
		return "", newEntryError("resolve", name, ErrUnsafePath,
			fmt.Errorf("%s resolves to %s outside %s", rel, resolved, m.root))
	}
	return target, nil
}

func (m *materializer) dir(name, rel, target string) error {
	m.entries++
	if rel == "." {
		return nil
	}
	if err := m.fs.MkdirAll(rel, 0o755); err != nil {
		return newEntryError("mkdir", name, nil, err)
	}
	m.logger.Debug("created directory", "entry", name, "path", target, "kind", "dir")
	return nil
}

func (m *materializer) file(entry Entry, rel, target string) error {
	name := entry.Name()
	if rel == "." {
		return newEntryError("resolve", name, ErrUnsafePath, fmt.Errorf("file entry names the target root"))
	}

	info := FileInfo{Name: name, Size: entry.Size(), Mode: entry.Mode()}
	if err := m.validators.ValidateFile(info); err != nil {
		return newEntryError("validate", name, nil, err)
	}
	m.stats.TotalFiles++
	m.stats.TotalSize += info.Size
	if err := m.validators.ValidateArchive(m.stats); err != nil {
		return newEntryError("validate", name, nil, err)
	}

	if parent := path.Dir(rel); parent != "." {
		if err := m.fs.MkdirAll(parent, 0o755); err != nil {
			return newEntryError("mkdir", name, nil, err)
		}
	}

	src, err := entry.Open()
	if err != nil {
		return newEntryError("open", name, nil, err)
	}
	defer func() { _ = src.Close() }()

	perm := os.FileMode(0o644)
	if m.opts.PreservePermissions {
		perm = m.sanitizer.SanitizePermissions(info.Mode)
	}

	dst, err := m.fs.OpenFile(rel, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, perm)
	if err != nil {
		return newEntryError("create", name, nil, err)
	}

	written, copyErr := m.copy(dst, src, info.Size)
	closeErr := dst.Close()
	if copyErr != nil {
		return newEntryError("copy", name, nil, copyErr)
	}
	if closeErr != nil {
		return newEntryError("close", name, nil, closeErr)
	}

	// Declared sizes were counted up front; replace with what was written.
	m.stats.TotalSize += written - info.Size

	if m.opts.PreservePermissions {
		if err := m.chmod(rel, target, perm); err != nil {
			return newEntryError("chmod", name, nil, err)
		}
	}

	m.entries++
	m.logger.Debug("extracted file", "entry", name, "path", target, "kind", "file", "bytes", written)
	return nil
}

// chmod applies perm to an extracted file. OpenFile only sets the mode of
// newly created files, so overwritten files need an explicit change. The
// billy local filesystem has no Chmod; target is the verified host path.
func (m *materializer) chmod(rel, target string, perm os.FileMode) error {
	if m.local {
		return os.Chmod(target, perm)
	}
	if mfs, ok := m.fs.(core.MetadataFS); ok {
		return mfs.Chmod(rel, perm)
	}
	return nil
}

// copy streams src into dst. When size limits are configured the copy is
// bounded, so content larger than its declared size cannot bypass them.
func (m *materializer) copy(dst io.Writer, src io.Reader, declared int64) (int64, error) {
	limit := int64(-1)
	if m.opts.MaxFileSize > 0 {
		limit = m.opts.MaxFileSize
	}
	if m.opts.MaxSize > 0 {
		remaining := m.opts.MaxSize - (m.stats.TotalSize - declared)
		if limit < 0 || remaining < limit {
			limit = remaining
		}
	}

	if limit < 0 {
		return io.Copy(dst, src)
	}

	n, err := io.Copy(dst, io.LimitReader(src, limit+1))
	if err != nil {
		return n, err
	}
	if n > limit {
		return n, fmt.Errorf("%w: content exceeds %d bytes", ErrLimitExceeded, limit)
	}
	return n, nil
}
