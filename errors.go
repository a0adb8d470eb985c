package unzpack

import (
	"fmt"

	platformerrors "github.com/jmgilman/go/errors"
)

// Sentinel errors for the failure modes callers are expected to tell apart.
// They can be matched with errors.Is, and carry a platform error code that
// can be read with errors.GetCode from github.com/jmgilman/go/errors.
var (
	// ErrInvalidArchive indicates the input is not a valid or supported archive.
	// This covers malformed containers, unsupported compression methods and
	// checksum failures detected while reading entry content.
	ErrInvalidArchive = platformerrors.New(platformerrors.CodeInvalidInput, "invalid archive")

	// ErrUnsafePath indicates an entry name would resolve outside the target
	// root, or is otherwise not a legal relative path.
	ErrUnsafePath = platformerrors.New(platformerrors.CodeForbidden, "unsafe path")

	// ErrNotDirectory indicates the target root exists but is not a directory.
	ErrNotDirectory = platformerrors.New(platformerrors.CodeConflict, "not a directory")

	// ErrLimitExceeded indicates a configured extraction limit was violated.
	ErrLimitExceeded = platformerrors.New(platformerrors.CodeInvalidInput, "extraction limit exceeded")
)

// EntryError records a failure tied to one archive entry or path.
//
// EntryError supports errors.Is and errors.As: it unwraps to both the
// sentinel describing the failure kind (when there is one) and the
// underlying cause.
type EntryError struct {
	// Op is the step that failed (e.g., "sanitize", "mkdir", "create", "copy").
	Op string

	// Entry is the archive entry name, or the path being processed.
	Entry string

	// Kind is one of the package sentinels, or nil for plain I/O failures.
	Kind error

	// Err is the underlying cause. It may be nil when Kind alone describes
	// the failure.
	Err error
}

// Error implements the error interface.
func (e *EntryError) Error() string {
	switch {
	case e.Kind != nil && e.Err != nil:
		return fmt.Sprintf("%s %s: %v: %v", e.Op, e.Entry, e.Kind, e.Err)
	case e.Kind != nil:
		return fmt.Sprintf("%s %s: %v", e.Op, e.Entry, e.Kind)
	default:
		return fmt.Sprintf("%s %s: %v", e.Op, e.Entry, e.Err)
	}
}

// Unwrap returns the wrapped errors for errors.Is and errors.As.
func (e *EntryError) Unwrap() []error {
	errs := make([]error, 0, 2)
	if e.Kind != nil {
		errs = append(errs, e.Kind)
	}
	if e.Err != nil {
		errs = append(errs, e.Err)
	}
	return errs
}

func newEntryError(op, entry string, kind, err error) *EntryError {
	return &EntryError{
		Op:    op,
		Entry: entry,
		Kind:  kind,
		Err:   err,
	}
}
