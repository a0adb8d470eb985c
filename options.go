package unzpack

import (
	"log/slog"

	"github.com/jmgilman/go/fs/core"
)

// Options contains configuration for an Unpacker.
type Options struct {
	// FS provides all filesystem operations.
	// If nil, an OS-backed filesystem from github.com/jmgilman/go/fs/billy is used.
	// Local filesystems must be rooted at "/"; chrooted ones are rejected.
	FS core.FS

	// Format decodes archives. If nil, ZipFormat is used.
	Format Format

	// Logger receives structured diagnostics. If nil, logs are discarded.
	Logger *slog.Logger

	// Extract controls limits and path handling during extraction.
	Extract ExtractOptions
}

// ExtractOptions controls extraction behavior and safety limits.
// The zero value extracts everything with no limits.
type ExtractOptions struct {
	// MaxFiles is the maximum number of file entries allowed.
	// Set to 0 for unlimited.
	MaxFiles int

	// MaxSize is the maximum total uncompressed size of all files combined.
	// Set to 0 for unlimited.
	MaxSize int64

	// MaxFileSize is the maximum size allowed for any individual file.
	// Set to 0 for unlimited.
	MaxFileSize int64

	// StripPrefix removes this leading directory from all entry names.
	// Entries outside the prefix are skipped.
	StripPrefix string

	// FilesToExtract restricts extraction to files whose name, after
	// StripPrefix, matches one of these glob patterns. "*" does not cross
	// "/" while "**" does. Directory entries are skipped; parents of
	// matching files are still created. Empty extracts everything.
	FilesToExtract []string

	// PreservePermissions applies the permission bits recorded in the archive
	// to extracted files, with setuid, setgid and sticky removed. When false,
	// files are created with mode 0o644.
	PreservePermissions bool
}

// DefaultExtractOptions provides hardened limits for archives whose origin
// is not trusted:
// - MaxFiles: 10000
// - MaxSize: 1GB
// - MaxFileSize: 100MB
var DefaultExtractOptions = ExtractOptions{
	MaxFiles:    10000,
	MaxSize:     1 * 1024 * 1024 * 1024, // 1GB
	MaxFileSize: 100 * 1024 * 1024,      // 100MB
}

// Option is a functional option for configuring an Unpacker.
type Option func(*Options)

// WithFilesystem injects the filesystem used for every operation.
// Use billy.NewMemory() to work entirely in memory. A local filesystem must
// be rooted at "/" as billy.NewLocal() is, since local paths are resolved and
// symlink-checked against the host.
func WithFilesystem(fsys core.FS) Option {
	return func(opts *Options) {
		opts.FS = fsys
	}
}

// WithFormat selects the archive decoder.
func WithFormat(format Format) Option {
	return func(opts *Options) {
		opts.Format = format
	}
}

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(opts *Options) {
		opts.Logger = logger
	}
}

// WithExtractOptions replaces all extraction options at once.
func WithExtractOptions(extract ExtractOptions) Option {
	return func(opts *Options) {
		opts.Extract = extract
	}
}

// WithMaxFiles sets the maximum number of file entries allowed.
func WithMaxFiles(maxFiles int) Option {
	return func(opts *Options) {
		opts.Extract.MaxFiles = maxFiles
	}
}

// WithMaxSize sets the maximum total uncompressed size of all files combined.
func WithMaxSize(maxSize int64) Option {
	return func(opts *Options) {
		opts.Extract.MaxSize = maxSize
	}
}

// WithMaxFileSize sets the maximum size allowed for any individual file.
func WithMaxFileSize(maxFileSize int64) Option {
	return func(opts *Options) {
		opts.Extract.MaxFileSize = maxFileSize
	}
}

// WithStripPrefix removes a leading directory from all entry names.
func WithStripPrefix(prefix string) Option {
	return func(opts *Options) {
		opts.Extract.StripPrefix = prefix
	}
}

// WithFilesToExtract restricts extraction to files matching any of the
// glob patterns, for example "**/*.json" or "config/*.yaml".
func WithFilesToExtract(patterns ...string) Option {
	return func(opts *Options) {
		opts.Extract.FilesToExtract = patterns
	}
}

// WithPreservePermissions applies archived permission bits to extracted files.
func WithPreservePermissions(preserve bool) Option {
	return func(opts *Options) {
		opts.Extract.PreservePermissions = preserve
	}
}

// DefaultOptions returns the default options.
func DefaultOptions() *Options {
	return &Options{
		FS:      nil, // Filled by New if unset
		Format:  nil, // Filled by New if unset
		Logger:  nil, // Filled by New if unset
		Extract: ExtractOptions{},
	}
}
