package unzpack

import (
	"errors"
	"fmt"
	"io"
	"io/fs"

	"github.com/klauspost/compress/zip"
	"github.com/klauspost/compress/zstd"
	"github.com/ulikunitz/xz"
)

// Compression methods understood by ZipFormat in addition to Store and
// Deflate. Numbers follow the PKWARE APPNOTE and WinZip assignments.
const (
	// MethodZstdPKWare is the Zstandard method number assigned by PKWARE.
	MethodZstdPKWare uint16 = zstd.ZipMethodPKWare

	// MethodZstd is the Zstandard method number used by WinZip and 7-Zip.
	MethodZstd uint16 = zstd.ZipMethodWinZip

	// MethodXZ is the XZ method number.
	MethodXZ uint16 = 95
)

// ZipFormat decodes ZIP archives using github.com/klauspost/compress/zip.
//
// Besides Store and Deflate, entries compressed with Zstandard (methods 20
// and 93) and XZ (method 95) are supported.
type ZipFormat struct{}

// Name returns "zip".
func (ZipFormat) Name() string {
	return "zip"
}

// Open decodes the central directory of a ZIP archive.
func (ZipFormat) Open(r io.ReaderAt, size int64) (Archive, error) {
	// A reader returned together with an error only flags insecure entry
	// names. Those are rejected per entry during materialization.
	zr, err := zip.NewReader(r, size)
	if zr == nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidArchive, err)
	}

	zr.RegisterDecompressor(MethodZstdPKWare, formatErrors(zstd.ZipDecompressor()))
	zr.RegisterDecompressor(MethodZstd, formatErrors(zstd.ZipDecompressor()))
	zr.RegisterDecompressor(MethodXZ, formatErrors(xzDecompressor))

	return &zipArchive{r: zr}, nil
}

type zipArchive struct {
	r *zip.Reader
}

func (a *zipArchive) Len() int {
	return len(a.r.File)
}

func (a *zipArchive) Entry(i int) (Entry, error) {
	if i < 0 || i >= len(a.r.File) {
		return nil, fmt.Errorf("entry index %d out of range [0, %d)", i, len(a.r.File))
	}
	return &zipEntry{f: a.r.File[i]}, nil
}

// Close is a no-op; the underlying reader is owned by the caller.
func (a *zipArchive) Close() error {
	return nil
}

type zipEntry struct {
	f *zip.File
}

func (e *zipEntry) Name() string {
	return e.f.Name
}

func (e *zipEntry) Size() int64 {
	if e.f.UncompressedSize64 > uint64(1<<63-1) {
		return 1<<63 - 1
	}
	return int64(e.f.UncompressedSize64)
}

func (e *zipEntry) Mode() fs.FileMode {
	return e.f.Mode()
}

func (e *zipEntry) Open() (io.ReadCloser, error) {
	rc, err := e.f.Open()
	if err != nil {
		if isZipFormatError(err) {
			return nil, fmt.Errorf("%w: %w", ErrInvalidArchive, err)
		}
		return nil, err
	}
	return &zipContent{rc: rc}, nil
}

// zipContent reports checksum and format failures found while streaming an
// entry as ErrInvalidArchive.
type zipContent struct {
	rc io.ReadCloser
}

func (c *zipContent) Read(p []byte) (int, error) {
	n, err := c.rc.Read(p)
	if err != nil && isZipFormatError(err) {
		return n, fmt.Errorf("%w: %w", ErrInvalidArchive, err)
	}
	return n, err
}

func (c *zipContent) Close() error {
	return c.rc.Close()
}

func isZipFormatError(err error) bool {
	return errors.Is(err, zip.ErrFormat) ||
		errors.Is(err, zip.ErrAlgorithm) ||
		errors.Is(err, zip.ErrChecksum)
}

// formatErrors wraps a decompressor so that decoding failures surface as
// ErrInvalidArchive.
func formatErrors(dcomp zip.Decompressor) zip.Decompressor {
	return func(r io.Reader) io.ReadCloser {
		return &decodeReader{rc: dcomp(r)}
	}
}

type decodeReader struct {
	rc io.ReadCloser
}

func (d *decodeReader) Read(p []byte) (int, error) {
	n, err := d.rc.Read(p)
	if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, ErrInvalidArchive) {
		return n, fmt.Errorf("%w: %w", ErrInvalidArchive, err)
	}
	return n, err
}

func (d *decodeReader) Close() error {
	return d.rc.Close()
}

func xzDecompressor(r io.Reader) io.ReadCloser {
	xr, err := xz.NewReader(r)
	if err != nil {
		return io.NopCloser(&failedReader{err: err})
	}
	return io.NopCloser(xr)
}

// failedReader returns err from every Read.
type failedReader struct {
	err error
}

func (r *failedReader) Read([]byte) (int, error) {
	return 0, r.err
}
