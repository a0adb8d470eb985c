package unzpack

import (
	"io"
	"io/fs"
)

// Format decodes an archive container.
// Implementations provide different archive encodings; the materializer only
// consumes the Archive and Entry interfaces, so any compliant decoder can be
// substituted with WithFormat.
type Format interface {
	// Open decodes the archive held by r, which is size bytes long.
	// It returns an error wrapping ErrInvalidArchive if r is not a valid
	// archive of this format.
	Open(r io.ReaderAt, size int64) (Archive, error)

	// Name returns a short identifier for the format, such as "zip".
	Name() string
}

// Archive is an opened archive with random access to its entries.
type Archive interface {
	// Len returns the number of entries, including directory entries.
	Len() int

	// Entry returns the entry at index i, in archive storage order.
	Entry(i int) (Entry, error)

	// Close releases resources held by the archive.
	Close() error
}

// Entry is one member of an archive.
type Entry interface {
	// Name returns the slash-separated name stored in the archive.
	// Directory entries end with "/".
	Name() string

	// Size returns the declared uncompressed size in bytes.
	Size() int64

	// Mode returns the file mode recorded for the entry.
	Mode() fs.FileMode

	// Open returns a stream over the entry content. It may be read once.
	Open() (io.ReadCloser, error)
}
