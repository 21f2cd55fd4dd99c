// Package heap implements fixed-width record files on slotted pages.
// Page 0 of each file is the header; record pages follow from page 1.
// Pages with spare slots are threaded through an intrusive free-page
// list headed in the file header, so insertion never scans the file.
package heap

import (
	"fmt"

	"stratadb/pkg/concurrency"
	"stratadb/pkg/dberr"
	"stratadb/pkg/memory"
	"stratadb/pkg/primitives"
	"stratadb/pkg/storage/disk"
)

// RecordFile is an open record file. All page access goes through the
// buffer pool; the in-memory header copy is written back when the file
// is closed by the Manager.
//
// The transaction token on the public operations is passed through for
// the layers above (locking, recovery); the storage core does not
// interpret it.
type RecordFile struct {
	disk *disk.Manager
	pool *memory.BufferPool
	fd   int
	hdr  FileHeader
}

// Fd returns the file's descriptor.
func (f *RecordFile) Fd() int {
	return f.fd
}

// Header returns a copy of the in-memory file header.
func (f *RecordFile) Header() FileHeader {
	return f.hdr
}

// fetchPageHandle pins the record page at pageNum and wraps it. The
// caller unpins through the buffer pool when done.
func (f *RecordFile) fetchPageHandle(pageNum primitives.PageNum) (pageHandle, error) {
	// Page 0 is the file header and is never cached as a record page.
	if pageNum < 1 || pageNum >= primitives.PageNum(f.hdr.NumPages) {
		return pageHandle{}, dberr.PageNotExist(pageNum)
	}
	page, err := f.pool.FetchPage(primitives.PageID{FD: f.fd, PageNum: pageNum})
	if err != nil {
		return pageHandle{}, err
	}
	return newPageHandle(&f.hdr, page), nil
}

// createNewPageHandle allocates and formats a fresh record page, makes
// it the head of the free-page list, and grows the page count. The page
// comes back pinned.
func (f *RecordFile) createNewPageHandle() (pageHandle, error) {
	page, pid, err := f.pool.NewPage(f.fd)
	if err != nil {
		return pageHandle{}, err
	}
	h := newPageHandle(&f.hdr, page)
	h.init()
	// Chain onto any existing free pages so repeated growth (the
	// recovery path) keeps every not-full page reachable.
	h.setNextFreePage(f.hdr.FirstFreePage)
	f.hdr.FirstFreePage = pid.PageNum
	f.hdr.NumPages++
	return h, nil
}

// createPageHandle returns a page with at least one free slot: the head
// of the free-page list, or a fresh page when the list is empty.
func (f *RecordFile) createPageHandle() (pageHandle, error) {
	if f.hdr.FirstFreePage == primitives.NoPage {
		return f.createNewPageHandle()
	}
	return f.fetchPageHandle(f.hdr.FirstFreePage)
}

// releasePageHandle prepends a page that just went from full to
// not-full back onto the free-page list.
func (f *RecordFile) releasePageHandle(h pageHandle) {
	h.setNextFreePage(f.hdr.FirstFreePage)
	f.hdr.FirstFreePage = h.pageNum()
}

// IsRecord reports whether rid names an occupied slot.
func (f *RecordFile) IsRecord(rid primitives.Rid) (bool, error) {
	h, err := f.fetchPageHandle(rid.PageNum)
	if err != nil {
		return false, err
	}
	defer f.pool.UnpinPage(h.page.ID(), false)
	return bitTest(h.bitmap(), int(rid.SlotNum)), nil
}

// GetRecord copies the record at rid out of its page.
func (f *RecordFile) GetRecord(rid primitives.Rid, txn *concurrency.Transaction) ([]byte, error) {
	h, err := f.fetchPageHandle(rid.PageNum)
	if err != nil {
		return nil, err
	}
	defer f.pool.UnpinPage(h.page.ID(), false)

	if !bitTest(h.bitmap(), int(rid.SlotNum)) {
		return nil, dberr.RecordNotFound(rid)
	}
	record := make([]byte, f.hdr.RecordSize)
	copy(record, h.slot(rid.SlotNum))
	return record, nil
}

// InsertRecord places buf in the first free slot of the first free
// page and returns the rid it landed at. A page filled by the insert is
// unlinked from the free-page list.
func (f *RecordFile) InsertRecord(buf []byte, txn *concurrency.Transaction) (primitives.Rid, error) {
	if len(buf) != int(f.hdr.RecordSize) {
		return primitives.Rid{}, fmt.Errorf("record is %d bytes, file stores %d-byte records",
			len(buf), f.hdr.RecordSize)
	}
	h, err := f.createPageHandle()
	if err != nil {
		return primitives.Rid{}, err
	}
	defer f.pool.UnpinPage(h.page.ID(), true)

	slot := firstBit(false, h.bitmap(), int(f.hdr.RecordsPerPage))
	bitSet(h.bitmap(), slot)
	copy(h.slot(primitives.SlotNum(slot)), buf)
	h.setNumRecords(h.numRecords() + 1)
	if h.isFull() {
		f.hdr.FirstFreePage = h.nextFreePage()
	}
	return primitives.Rid{PageNum: h.pageNum(), SlotNum: primitives.SlotNum(slot)}, nil
}

// InsertRecordAt installs a record at a caller-chosen rid, growing the
// file as needed. This is the recovery path: redo must reproduce rids
// exactly. Reapplying to an already-occupied slot overwrites in place.
func (f *RecordFile) InsertRecordAt(rid primitives.Rid, buf []byte) error {
	for rid.PageNum >= primitives.PageNum(f.hdr.NumPages) {
		h, err := f.createNewPageHandle()
		if err != nil {
			return err
		}
		f.pool.UnpinPage(h.page.ID(), true)
	}
	h, err := f.fetchPageHandle(rid.PageNum)
	if err != nil {
		return err
	}
	defer f.pool.UnpinPage(h.page.ID(), true)

	if !bitTest(h.bitmap(), int(rid.SlotNum)) {
		bitSet(h.bitmap(), int(rid.SlotNum))
		h.setNumRecords(h.numRecords() + 1)
		if h.isFull() && f.hdr.FirstFreePage == h.pageNum() {
			f.hdr.FirstFreePage = h.nextFreePage()
		}
	}
	copy(h.slot(rid.SlotNum), buf)
	return nil
}

// DeleteRecord clears the slot at rid. A page that was full becomes the
// new head of the free-page list.
func (f *RecordFile) DeleteRecord(rid primitives.Rid, txn *concurrency.Transaction) error {
	h, err := f.fetchPageHandle(rid.PageNum)
	if err != nil {
		return err
	}
	defer f.pool.UnpinPage(h.page.ID(), true)

	if !bitTest(h.bitmap(), int(rid.SlotNum)) {
		return dberr.RecordNotFound(rid)
	}
	wasFull := h.isFull()
	bitClear(h.bitmap(), int(rid.SlotNum))
	h.setNumRecords(h.numRecords() - 1)
	if wasFull {
		f.releasePageHandle(h)
	}
	return nil
}

// UpdateRecord overwrites the record at rid.
func (f *RecordFile) UpdateRecord(rid primitives.Rid, buf []byte, txn *concurrency.Transaction) error {
	if len(buf) != int(f.hdr.RecordSize) {
		return fmt.Errorf("record is %d bytes, file stores %d-byte records",
			len(buf), f.hdr.RecordSize)
	}
	h, err := f.fetchPageHandle(rid.PageNum)
	if err != nil {
		return err
	}
	defer f.pool.UnpinPage(h.page.ID(), true)

	if !bitTest(h.bitmap(), int(rid.SlotNum)) {
		return dberr.RecordNotFound(rid)
	}
	copy(h.slot(rid.SlotNum), buf)
	return nil
}
