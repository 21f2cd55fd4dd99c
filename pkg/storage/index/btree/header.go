package btree

import (
	"encoding/binary"
	"fmt"

	"github.com/cespare/xxhash/v2"

	"stratadb/pkg/dberr"
	"stratadb/pkg/primitives"
)

// IndexHeader is the page-0 metadata of an index file, encoded
// little-endian with a trailing xxhash64 checksum.
//
// NumPages is a high-water mark: page numbers are allocated
// monotonically and never reused, so pages freed by node merges leave
// the count untouched. Reopening the file seeds the allocator from it.
type IndexHeader struct {
	ColType     ColType
	ColLen      int32
	NumPages    int32
	RootPage    primitives.PageNum
	FirstLeaf   primitives.PageNum
	LastLeaf    primitives.PageNum
	KeysPerNode int32
}

const (
	indexHeaderSize = 7*4 + 8

	// nodeHeaderSize covers numKeys, the leaf flag, and the parent,
	// prevLeaf, and nextLeaf page numbers.
	nodeHeaderSize = 5 * 4

	// ridSize is the on-page width of one rid (page number + slot).
	ridSize = 8
)

// keysPerNode returns how many (key, rid) pairs fit a node page.
func keysPerNode(colLen int) int {
	return (primitives.PageSize - nodeHeaderSize) / (colLen + ridSize)
}

func (h *IndexHeader) encode(buf []byte) {
	binary.LittleEndian.PutUint32(buf[0:], uint32(h.ColType))
	binary.LittleEndian.PutUint32(buf[4:], uint32(h.ColLen))
	binary.LittleEndian.PutUint32(buf[8:], uint32(h.NumPages))
	binary.LittleEndian.PutUint32(buf[12:], uint32(h.RootPage))
	binary.LittleEndian.PutUint32(buf[16:], uint32(h.FirstLeaf))
	binary.LittleEndian.PutUint32(buf[20:], uint32(h.LastLeaf))
	binary.LittleEndian.PutUint32(buf[24:], uint32(h.KeysPerNode))
	binary.LittleEndian.PutUint64(buf[28:], xxhash.Sum64(buf[:28]))
}

func (h *IndexHeader) decode(buf []byte) error {
	sum := binary.LittleEndian.Uint64(buf[28:])
	if sum != xxhash.Sum64(buf[:28]) {
		return fmt.Errorf("index file header checksum mismatch: %w", dberr.ErrCorrupt)
	}
	h.ColType = ColType(binary.LittleEndian.Uint32(buf[0:]))
	h.ColLen = int32(binary.LittleEndian.Uint32(buf[4:]))
	h.NumPages = int32(binary.LittleEndian.Uint32(buf[8:]))
	h.RootPage = primitives.PageNum(binary.LittleEndian.Uint32(buf[12:]))
	h.FirstLeaf = primitives.PageNum(binary.LittleEndian.Uint32(buf[16:]))
	h.LastLeaf = primitives.PageNum(binary.LittleEndian.Uint32(buf[20:]))
	h.KeysPerNode = int32(binary.LittleEndian.Uint32(buf[24:]))
	return nil
}
