// Package unzpack materializes archives onto a filesystem.
//
// It covers the common "ship a tree inside the binary" case: an archive held
// in memory (for example via //go:embed) is written to disk, expanded into a
// target directory and then removed. Key features:
//   - ZIP archives with Store, Deflate, Zstandard and XZ entries
//   - Path containment on every entry (traversal, absolute names, symlinks)
//   - Optional limits on file count, total size and per-file size
//   - Filesystem abstraction via github.com/jmgilman/go/fs/core
//   - Structured logging with log/slog
//
// Basic usage:
//
//	//go:embed assets.zip
//	var assets []byte
//
//	// Persist, extract and remove the archive in one step
//	err := unzpack.Unpack(assets, "/tmp/assets.zip", "/opt/app/assets")
//
//	// Or extract an archive that is already on disk
//	err = unzpack.Extract("/tmp/assets.zip", "/opt/app/assets",
//	    unzpack.WithExtractOptions(unzpack.DefaultExtractOptions),
//	)
//
// Failures can be told apart with errors.Is against ErrInvalidArchive,
// ErrUnsafePath, ErrNotDirectory and ErrLimitExceeded. Extraction is not
// transactional: entries written before a failure are left in place.
package unzpack
