package unzpack

import (
	"fmt"
	"io/fs"
)

// Validator checks entries against extraction limits.
// Implementations are run for every file entry before it is written, and the
// archive-level check is run with running totals after each entry is counted.
type Validator interface {
	// ValidateFile checks the properties of a single entry.
	ValidateFile(info FileInfo) error

	// ValidateArchive checks aggregate statistics accumulated so far.
	ValidateArchive(stats ArchiveStats) error
}

// FileInfo is the entry metadata used for validation.
type FileInfo struct {
	// Name is the entry name as stored in the archive.
	Name string

	// Size is the declared uncompressed size in bytes.
	Size int64

	// Mode contains the permission and type bits recorded for the entry.
	Mode fs.FileMode
}

// ArchiveStats holds running totals for an extraction.
type ArchiveStats struct {
	// TotalFiles is the number of file entries seen so far.
	TotalFiles int

	// TotalSize is the sum of declared sizes seen so far, in bytes.
	TotalSize int64
}

// SizeValidator enforces per-file and total size limits.
// A zero limit disables the corresponding check.
type SizeValidator struct {
	MaxFileSize  int64
	MaxTotalSize int64
}

// NewSizeValidator creates a SizeValidator with the given limits.
func NewSizeValidator(maxFileSize, maxTotalSize int64) *SizeValidator {
	return &SizeValidator{
		MaxFileSize:  maxFileSize,
		MaxTotalSize: maxTotalSize,
	}
}

// ValidateFile checks a file's declared size.
func (v *SizeValidator) ValidateFile(info FileInfo) error {
	if v.MaxFileSize > 0 && info.Size > v.MaxFileSize {
		return fmt.Errorf("%w: file size %d exceeds limit %d", ErrLimitExceeded, info.Size, v.MaxFileSize)
	}
	return nil
}

// ValidateArchive checks the running total size.
func (v *SizeValidator) ValidateArchive(stats ArchiveStats) error {
	if v.MaxTotalSize > 0 && stats.TotalSize > v.MaxTotalSize {
		return fmt.Errorf("%w: total size %d exceeds limit %d", ErrLimitExceeded, stats.TotalSize, v.MaxTotalSize)
	}
	return nil
}

// FileCountValidator limits the number of file entries.
type FileCountValidator struct {
	MaxFiles int
}

// NewFileCountValidator creates a FileCountValidator. Zero disables the check.
func NewFileCountValidator(maxFiles int) *FileCountValidator {
	return &FileCountValidator{MaxFiles: maxFiles}
}

// ValidateFile is a no-op; the count is checked at archive level.
func (v *FileCountValidator) ValidateFile(FileInfo) error {
	return nil
}

// ValidateArchive checks the running file count.
func (v *FileCountValidator) ValidateArchive(stats ArchiveStats) error {
	if v.MaxFiles > 0 && stats.TotalFiles > v.MaxFiles {
		return fmt.Errorf("%w: file count %d exceeds limit %d", ErrLimitExceeded, stats.TotalFiles, v.MaxFiles)
	}
	return nil
}

// PermissionSanitizer reduces recorded entry modes to plain permission bits,
// dropping setuid, setgid and sticky.
type PermissionSanitizer struct{}

// NewPermissionSanitizer creates a PermissionSanitizer.
func NewPermissionSanitizer() *PermissionSanitizer {
	return &PermissionSanitizer{}
}

// SanitizePermissions returns the permission bits of mode with setuid,
// setgid and sticky removed. A mode without permission bits yields 0o644.
func (v *PermissionSanitizer) SanitizePermissions(mode fs.FileMode) fs.FileMode {
	perm := mode.Perm()
	if perm == 0 {
		return 0o644
	}
	return perm
}

// ValidatorChain runs validators in order and fails fast.
type ValidatorChain struct {
	validators []Validator
}

// NewValidatorChain creates a ValidatorChain.
func NewValidatorChain(validators ...Validator) *ValidatorChain {
	return &ValidatorChain{validators: validators}
}

// AddValidator appends a validator to the chain.
func (vc *ValidatorChain) AddValidator(validator Validator) {
	vc.validators = append(vc.validators, validator)
}

// ValidateFile runs every validator's ValidateFile and returns the first error.
func (vc *ValidatorChain) ValidateFile(info FileInfo) error {
	for _, validator := range vc.validators {
		if err := validator.ValidateFile(info); err != nil {
			return fmt.Errorf("file validation failed for %s: %w", info.Name, err)
		}
	}
	return nil
}

// ValidateArchive runs every validator's ValidateArchive and returns the first error.
func (vc *ValidatorChain) ValidateArchive(stats ArchiveStats) error {
	for _, validator := range vc.validators {
		if err := validator.ValidateArchive(stats); err != nil {
			return fmt.Errorf(
				"archive validation failed (files: %d, size: %d): %w",
				stats.TotalFiles,
				stats.TotalSize,
				err,
			)
		}
	}
	return nil
}
