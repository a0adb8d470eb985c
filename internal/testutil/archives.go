// Package testutil provides archive builders for unzpack tests.
package testutil

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"io/fs"

	"github.com/klauspost/compress/zip"
	"github.com/klauspost/compress/zstd"
	"github.com/ulikunitz/xz"
)

// MethodXZ is the zip compression method number assigned to XZ.
const MethodXZ uint16 = 95

// Entry describes one member written by BuildZip.
type Entry struct {
	// Name is stored verbatim, including any trailing slash.
	Name string

	// Content is the member body. Ignored for directory names.
	Content []byte

	// Method is the zip compression method. Zero means zip.Store.
	Method uint16

	// Mode is the file mode recorded in the header. Zero leaves it unset.
	Mode fs.FileMode
}

// Dir returns a directory entry.
func Dir(name string) Entry {
	return Entry{Name: name}
}

// File returns a stored file entry.
func File(name string, content []byte) Entry {
	return Entry{Name: name, Content: content}
}

// BuildZip builds an in-memory zip archive from entries in the given order.
// The names are written as-is so callers can produce malicious archives.
func BuildZip(entries ...Entry) ([]byte, error) {
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	zw.RegisterCompressor(zstd.ZipMethodWinZip, zstd.ZipCompressor())
	zw.RegisterCompressor(zstd.ZipMethodPKWare, zstd.ZipCompressor())
	zw.RegisterCompressor(MethodXZ, func(w io.Writer) (io.WriteCloser, error) {
		return &lazyXZWriter{w: w}, nil
	})

	for _, e := range entries {
		header := &zip.FileHeader{
			Name:   e.Name,
			Method: e.Method,
		}
		if e.Mode != 0 {
			header.SetMode(e.Mode)
		}

		w, err := zw.CreateHeader(header)
		if err != nil {
			return nil, fmt.Errorf("failed to create zip entry %s: %w", e.Name, err)
		}
		if len(e.Content) == 0 {
			continue
		}
		if _, err := w.Write(e.Content); err != nil {
			return nil, fmt.Errorf("failed to write content for %s: %w", e.Name, err)
		}
	}

	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("failed to finalize zip archive: %w", err)
	}
	return buf.Bytes(), nil
}

// lazyXZWriter defers creating the xz stream until the first Write or Close.
// The zip writer builds compressors before it writes the local header, and
// xz.NewWriter emits the stream header immediately.
type lazyXZWriter struct {
	w  io.Writer
	xw *xz.Writer
}

func (l *lazyXZWriter) init() error {
	if l.xw != nil {
		return nil
	}
	xw, err := xz.NewWriter(l.w)
	if err != nil {
		return err
	}
	l.xw = xw
	return nil
}

func (l *lazyXZWriter) Write(p []byte) (int, error) {
	if err := l.init(); err != nil {
		return 0, err
	}
	return l.xw.Write(p)
}

func (l *lazyXZWriter) Close() error {
	if err := l.init(); err != nil {
		return err
	}
	return l.xw.Close()
}

// MustBuildZip is BuildZip for test setup that cannot fail.
func MustBuildZip(entries ...Entry) []byte {
	data, err := BuildZip(entries...)
	if err != nil {
		panic(err)
	}
	return data
}

// SampleArchive returns the canonical three-entry archive:
// README.md ("hello"), assets/ and assets/logo.png ([1 2 3]).
func SampleArchive() []byte {
	return MustBuildZip(
		File("README.md", []byte("hello")),
		Dir("assets/"),
		File("assets/logo.png", []byte{1, 2, 3}),
	)
}

// TraversalArchive returns an archive whose second entry escapes the root.
// The first entry is legitimate so partial extraction can be observed.
func TraversalArchive(escape string) []byte {
	return MustBuildZip(
		File("normal-file.txt", []byte("legitimate content")),
		File(escape, []byte("malicious content")),
		File("after.txt", []byte("never written")),
	)
}

var (
	localHeaderSig   = []byte("PK\x03\x04")
	centralHeaderSig = []byte("PK\x01\x02")
)

// PatchMethod rewrites the compression method of every member in data,
// in both the local and central directory headers. It is used to produce
// archives with methods no writer supports.
func PatchMethod(data []byte, method uint16) []byte {
	out := bytes.Clone(data)
	patch := func(sig []byte, offset int) {
		for i := 0; ; {
			j := bytes.Index(out[i:], sig)
			if j < 0 {
				return
			}
			pos := i + j + offset
			if pos+2 <= len(out) {
				binary.LittleEndian.PutUint16(out[pos:pos+2], method)
			}
			i += j + len(sig)
		}
	}
	patch(localHeaderSig, 8)
	patch(centralHeaderSig, 10)
	return out
}
