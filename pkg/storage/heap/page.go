package heap

import (
	"encoding/binary"

	"stratadb/pkg/memory"
	"stratadb/pkg/primitives"
)

// Record pages are laid out as [pageHeader | bitmap | slots]. The page
// header carries the next link of the free-page list and the occupied
// slot count; the bitmap has one bit per slot; each slot is exactly
// RecordSize bytes.
//
// pageHandle overlays typed accessors on a pinned page's bytes. It does
// not own the pin: the operation that fetched the page unpins it.
type pageHandle struct {
	hdr  *FileHeader
	page *memory.Page
}

func newPageHandle(hdr *FileHeader, page *memory.Page) pageHandle {
	return pageHandle{hdr: hdr, page: page}
}

// pageNum returns the handle's page number within the file.
func (h pageHandle) pageNum() primitives.PageNum {
	return h.page.ID().PageNum
}

// nextFreePage returns the next link of the free-page list.
func (h pageHandle) nextFreePage() primitives.PageNum {
	return primitives.PageNum(binary.LittleEndian.Uint32(h.page.Data()[0:]))
}

func (h pageHandle) setNextFreePage(next primitives.PageNum) {
	binary.LittleEndian.PutUint32(h.page.Data()[0:], uint32(next))
}

// numRecords returns the occupied slot count of the page.
func (h pageHandle) numRecords() int {
	return int(binary.LittleEndian.Uint32(h.page.Data()[4:]))
}

func (h pageHandle) setNumRecords(n int) {
	binary.LittleEndian.PutUint32(h.page.Data()[4:], uint32(n))
}

// bitmap returns the occupancy bitmap view.
func (h pageHandle) bitmap() []byte {
	return h.page.Data()[pageHeaderSize : pageHeaderSize+int(h.hdr.BitmapSize)]
}

// slot returns the byte view of slot i.
func (h pageHandle) slot(i primitives.SlotNum) []byte {
	start := pageHeaderSize + int(h.hdr.BitmapSize) + int(i)*int(h.hdr.RecordSize)
	return h.page.Data()[start : start+int(h.hdr.RecordSize)]
}

// isFull reports whether every slot is occupied.
func (h pageHandle) isFull() bool {
	return h.numRecords() == int(h.hdr.RecordsPerPage)
}

// init formats a freshly allocated page: empty bitmap, zero records,
// no free-list successor.
func (h pageHandle) init() {
	h.setNextFreePage(primitives.NoPage)
	h.setNumRecords(0)
	bm := h.bitmap()
	for i := range bm {
		bm[i] = 0
	}
}
