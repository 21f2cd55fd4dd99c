// Package primitives defines the base identifier types shared by every
// storage layer: page numbers, slot numbers, frame indices, and the
// composite identifiers built from them.
package primitives

// PageSize is the fixed size in bytes of every on-disk page. All file
// offsets are multiples of PageSize; page zero of every data file holds
// the file header.
const PageSize = 4096

// PageNum is a page number within a single file. Valid data pages are
// numbered from 0 (the header page) up to the file's page count.
type PageNum int32

// NoPage marks the absence of a page. It terminates the heap free-page
// list, the index leaf chain, and parent pointers of root nodes.
const NoPage PageNum = -1

// Valid reports whether the page number refers to an actual page.
func (p PageNum) Valid() bool {
	return p != NoPage
}

// SlotNum is a record slot index within a page.
type SlotNum int32

// FrameID indexes a buffer pool frame, in [0, poolSize).
type FrameID int

// LSN is a byte offset into the append-only log file.
type LSN uint64
