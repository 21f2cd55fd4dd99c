// Package dberr defines the error vocabulary of the storage core.
// Every expected failure is one of a small set of sentinel errors so
// that callers can classify with errors.Is regardless of how many
// layers of context have been wrapped around it.
package dberr

import (
	"errors"
	"fmt"

	"stratadb/pkg/primitives"
)

// Category classifies errors by the handling strategy they call for.
type Category int

const (
	// CategoryNotFound covers absent storage objects: files, pages,
	// records, and index entries. Typically surfaced to the user.
	CategoryNotFound Category = iota

	// CategoryConflict covers state conflicts: creating a file that
	// exists, opening a file twice, destroying an open file. A
	// duplicate index key is not an error: InsertEntry reports it by
	// returning false.
	CategoryConflict

	// CategoryExhausted covers resource exhaustion, currently only a
	// buffer pool with every frame pinned. Retry after releasing pins.
	CategoryExhausted

	// CategoryIO covers syscall failures, partial transfers, and
	// corruption detected by header checksums. Not recoverable at
	// this layer.
	CategoryIO
)

var (
	// ErrFileExists is returned when creating a file that is already present.
	ErrFileExists = errors.New("file already exists")

	// ErrFileNotFound is returned when opening or destroying a missing file.
	ErrFileNotFound = errors.New("file not found")

	// ErrFileNotOpen is returned when closing a descriptor that is not tracked.
	ErrFileNotOpen = errors.New("file not open")

	// ErrFileNotClosed is returned when opening an already-open file or
	// destroying a file that is still open.
	ErrFileNotClosed = errors.New("file not closed")

	// ErrPageNotExist is returned for page numbers outside a file's range.
	ErrPageNotExist = errors.New("page does not exist")

	// ErrRecordNotFound is returned for rids whose slot is unoccupied.
	ErrRecordNotFound = errors.New("record not found")

	// ErrIndexEntryNotFound is returned for iterator positions past the
	// end of a leaf node.
	ErrIndexEntryNotFound = errors.New("index entry not found")

	// ErrPoolExhausted is returned by the buffer pool when every frame
	// is pinned and no victim can be found.
	ErrPoolExhausted = errors.New("buffer pool exhausted: all frames pinned")

	// ErrIO is the root of all I/O failures, including short reads and
	// writes against page boundaries.
	ErrIO = errors.New("i/o error")

	// ErrCorrupt marks an on-disk structure that failed validation,
	// such as a file header with a bad checksum.
	ErrCorrupt = errors.New("corrupt file")
)

// FileExists wraps ErrFileExists with the offending path.
func FileExists(path string) error {
	return fmt.Errorf("%s: %w", path, ErrFileExists)
}

// FileNotFound wraps ErrFileNotFound with the offending path.
func FileNotFound(path string) error {
	return fmt.Errorf("%s: %w", path, ErrFileNotFound)
}

// FileNotOpen wraps ErrFileNotOpen with the untracked descriptor.
func FileNotOpen(fd int) error {
	return fmt.Errorf("fd %d: %w", fd, ErrFileNotOpen)
}

// FileNotClosed wraps ErrFileNotClosed with the offending path.
func FileNotClosed(path string) error {
	return fmt.Errorf("%s: %w", path, ErrFileNotClosed)
}

// PageNotExist wraps ErrPageNotExist with the out-of-range page number.
func PageNotExist(page primitives.PageNum) error {
	return fmt.Errorf("page %d: %w", page, ErrPageNotExist)
}

// RecordNotFound wraps ErrRecordNotFound with the empty rid.
func RecordNotFound(rid primitives.Rid) error {
	return fmt.Errorf("%s: %w", rid, ErrRecordNotFound)
}

// CategoryOf maps an error chain to its Category. Unrecognized errors
// are treated as I/O failures, the conservative choice.
func CategoryOf(err error) Category {
	switch {
	case errors.Is(err, ErrFileNotFound),
		errors.Is(err, ErrFileNotOpen),
		errors.Is(err, ErrPageNotExist),
		errors.Is(err, ErrRecordNotFound),
		errors.Is(err, ErrIndexEntryNotFound):
		return CategoryNotFound
	case errors.Is(err, ErrFileExists),
		errors.Is(err, ErrFileNotClosed):
		return CategoryConflict
	case errors.Is(err, ErrPoolExhausted):
		return CategoryExhausted
	default:
		return CategoryIO
	}
}
