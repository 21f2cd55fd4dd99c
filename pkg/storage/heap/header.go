package heap

import (
	"encoding/binary"
	"fmt"

	"github.com/cespare/xxhash/v2"

	"stratadb/pkg/dberr"
	"stratadb/pkg/primitives"
)

// FileHeader is the page-0 metadata of a record file. It is encoded
// little-endian at a fixed layout with a trailing xxhash64 checksum, so
// a torn or foreign header page is rejected at open time.
type FileHeader struct {
	RecordSize     int32
	RecordsPerPage int32
	BitmapSize     int32
	NumPages       int32
	FirstFreePage  primitives.PageNum
}

const (
	// fileHeaderSize covers the five fields plus the checksum.
	fileHeaderSize = 5*4 + 8

	// pageHeaderSize covers nextFreePage and numRecords.
	pageHeaderSize = 2 * 4
)

// recordsPerPage returns the largest slot count such that the page
// header, the bitmap, and the slot array fit in one page.
func recordsPerPage(recordSize int) int {
	n := (primitives.PageSize - pageHeaderSize) * 8 / (recordSize*8 + 1)
	for pageHeaderSize+(n+7)/8+n*recordSize > primitives.PageSize {
		n--
	}
	return n
}

// encode writes the header and its checksum into buf, which must hold
// at least fileHeaderSize bytes.
func (h *FileHeader) encode(buf []byte) {
	binary.LittleEndian.PutUint32(buf[0:], uint32(h.RecordSize))
	binary.LittleEndian.PutUint32(buf[4:], uint32(h.RecordsPerPage))
	binary.LittleEndian.PutUint32(buf[8:], uint32(h.BitmapSize))
	binary.LittleEndian.PutUint32(buf[12:], uint32(h.NumPages))
	binary.LittleEndian.PutUint32(buf[16:], uint32(h.FirstFreePage))
	binary.LittleEndian.PutUint64(buf[20:], xxhash.Sum64(buf[:20]))
}

// decode reads the header from buf, verifying the checksum.
func (h *FileHeader) decode(buf []byte) error {
	sum := binary.LittleEndian.Uint64(buf[20:])
	if sum != xxhash.Sum64(buf[:20]) {
		return fmt.Errorf("record file header checksum mismatch: %w", dberr.ErrCorrupt)
	}
	h.RecordSize = int32(binary.LittleEndian.Uint32(buf[0:]))
	h.RecordsPerPage = int32(binary.LittleEndian.Uint32(buf[4:]))
	h.BitmapSize = int32(binary.LittleEndian.Uint32(buf[8:]))
	h.NumPages = int32(binary.LittleEndian.Uint32(buf[12:]))
	h.FirstFreePage = primitives.PageNum(binary.LittleEndian.Uint32(buf[16:]))
	return nil
}
