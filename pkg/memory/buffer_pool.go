// Package memory implements the buffer pool: a fixed set of in-memory
// frames caching disk pages, with pin/unpin reference counting and LRU
// eviction of unpinned frames. Every page access of the record and
// index layers goes through it.
package memory

import (
	"fmt"
	"sync"

	"stratadb/pkg/dberr"
	"stratadb/pkg/logging"
	"stratadb/pkg/primitives"
	"stratadb/pkg/storage/disk"
)

// BufferPool caches up to poolSize pages. One latch guards the page
// table, the free list, and every frame's metadata (identity, pin
// count, dirty bit). Page contents are not covered: a caller holding a
// pin owns the right to read the bytes, and writers serialize above the
// pool (record file latches, the tree's root latch).
type BufferPool struct {
	latch     sync.Mutex
	frames    []Page
	pageTable map[primitives.PageID]primitives.FrameID
	freeList  []primitives.FrameID
	disk      *disk.Manager
	replacer  Replacer
}

// NewBufferPool creates a pool of poolSize frames backed by dm, with
// LRU replacement.
func NewBufferPool(poolSize int, dm *disk.Manager) *BufferPool {
	freeList := make([]primitives.FrameID, 0, poolSize)
	for i := 0; i < poolSize; i++ {
		freeList = append(freeList, primitives.FrameID(i))
	}

	logging.L().Debugw("buffer pool created", "pool_size", poolSize)
	return &BufferPool{
		frames:    make([]Page, poolSize),
		pageTable: make(map[primitives.PageID]primitives.FrameID, poolSize),
		freeList:  freeList,
		disk:      dm,
		replacer:  NewLRUReplacer(poolSize),
	}
}

// PoolSize returns the number of frames.
func (bp *BufferPool) PoolSize() int {
	return len(bp.frames)
}

// findVictim picks a reusable frame: the free list first, then an
// eviction candidate from the replacer. Callers hold the latch.
func (bp *BufferPool) findVictim() (primitives.FrameID, bool) {
	if n := len(bp.freeList); n > 0 {
		fid := bp.freeList[n-1]
		bp.freeList = bp.freeList[:n-1]
		return fid, true
	}
	return bp.replacer.Victim()
}

// updateFrame re-targets a frame at newID: writes back the old page if
// dirty, swaps the page-table entries, and zeroes the buffer. Callers
// hold the latch.
func (bp *BufferPool) updateFrame(fid primitives.FrameID, newID primitives.PageID) {
	page := &bp.frames[fid]
	if page.dirty {
		if err := bp.disk.WritePage(page.id.FD, page.id.PageNum, page.Data()); err != nil {
			logging.L().Panicw("write-back failed during eviction", "page", page.id, "error", err)
		}
		page.dirty = false
	}
	delete(bp.pageTable, page.id)
	page.id = newID
	page.reset()
	if newID.Valid() {
		bp.pageTable[newID] = fid
	}
}

// FetchPage returns the resident page for pid, reading it from disk
// into a victim frame on a miss. The page comes back pinned; every
// successful fetch must be paired with exactly one UnpinPage. When all
// frames are pinned the error is dberr.ErrPoolExhausted.
func (bp *BufferPool) FetchPage(pid primitives.PageID) (*Page, error) {
	bp.latch.Lock()
	defer bp.latch.Unlock()

	if fid, ok := bp.pageTable[pid]; ok {
		bp.replacer.Pin(fid)
		bp.frames[fid].pinCount++
		return &bp.frames[fid], nil
	}

	fid, ok := bp.findVictim()
	if !ok {
		return nil, dberr.ErrPoolExhausted
	}
	bp.updateFrame(fid, pid)
	if err := bp.disk.ReadPage(pid.FD, pid.PageNum, bp.frames[fid].Data()); err != nil {
		delete(bp.pageTable, pid)
		bp.frames[fid].id = primitives.PageID{FD: pid.FD, PageNum: primitives.NoPage}
		bp.freeList = append(bp.freeList, fid)
		return nil, fmt.Errorf("fetch %s: %w", pid, err)
	}
	bp.replacer.Pin(fid)
	bp.frames[fid].pinCount = 1
	return &bp.frames[fid], nil
}

// UnpinPage drops one pin from the page and folds dirty into its dirty
// bit (once dirty, a page stays dirty until flushed). It returns false
// if the page is not resident or its pin count is already zero.
func (bp *BufferPool) UnpinPage(pid primitives.PageID, dirty bool) bool {
	bp.latch.Lock()
	defer bp.latch.Unlock()

	fid, ok := bp.pageTable[pid]
	if !ok {
		return false
	}
	page := &bp.frames[fid]
	if page.pinCount <= 0 {
		return false
	}
	page.pinCount--
	if dirty {
		page.dirty = true
	}
	if page.pinCount == 0 {
		bp.replacer.Unpin(fid)
	}
	return true
}

// NewPage allocates a fresh page number for fd, installs it in a victim
// frame zeroed out, and returns it pinned.
func (bp *BufferPool) NewPage(fd int) (*Page, primitives.PageID, error) {
	bp.latch.Lock()
	defer bp.latch.Unlock()

	fid, ok := bp.findVictim()
	if !ok {
		return nil, primitives.PageID{}, dberr.ErrPoolExhausted
	}
	pid := primitives.PageID{FD: fd, PageNum: bp.disk.AllocatePage(fd)}
	bp.updateFrame(fid, pid)
	bp.replacer.Pin(fid)
	bp.frames[fid].pinCount = 1
	return &bp.frames[fid], pid, nil
}

// FlushPage writes the resident page to disk and clears its dirty bit,
// leaving pins untouched. It returns false if pid is invalid or the
// page is not resident.
func (bp *BufferPool) FlushPage(pid primitives.PageID) bool {
	bp.latch.Lock()
	defer bp.latch.Unlock()

	if !pid.Valid() {
		return false
	}
	fid, ok := bp.pageTable[pid]
	if !ok {
		return false
	}
	page := &bp.frames[fid]
	if err := bp.disk.WritePage(pid.FD, pid.PageNum, page.Data()); err != nil {
		logging.L().Panicw("flush failed", "page", pid, "error", err)
	}
	page.dirty = false
	return true
}

// DeletePage evicts the page without writing it back and returns its
// frame to the free list. Deleting a page that is not resident is
// vacuously true; a pinned page cannot be deleted.
func (bp *BufferPool) DeletePage(pid primitives.PageID) bool {
	bp.latch.Lock()
	defer bp.latch.Unlock()

	fid, ok := bp.pageTable[pid]
	if !ok {
		return true
	}
	page := &bp.frames[fid]
	if page.pinCount != 0 {
		return false
	}
	bp.disk.DeallocatePage(pid.PageNum)
	// Clear the dirty bit first: a deleted page must not be written back.
	page.dirty = false
	bp.replacer.Pin(fid)
	bp.updateFrame(fid, primitives.PageID{FD: pid.FD, PageNum: primitives.NoPage})
	bp.freeList = append(bp.freeList, fid)
	return true
}

// EvictAllPages flushes and then evicts every unpinned resident page
// of fd, returning its frames to the free list. Used when a file is
// closed: the OS may hand the same descriptor to the next open, and a
// stale resident page would alias it. Returns false if any page of fd
// is still pinned.
func (bp *BufferPool) EvictAllPages(fd int) bool {
	bp.latch.Lock()
	defer bp.latch.Unlock()

	ok := true
	for i := range bp.frames {
		page := &bp.frames[i]
		if page.id.FD != fd || !page.id.Valid() {
			continue
		}
		if page.pinCount != 0 {
			ok = false
			continue
		}
		fid := primitives.FrameID(i)
		bp.replacer.Pin(fid)
		bp.updateFrame(fid, primitives.PageID{FD: fd, PageNum: primitives.NoPage})
		bp.freeList = append(bp.freeList, fid)
	}
	return ok
}

// FlushAllPages writes every resident page of fd to disk and clears
// their dirty bits.
func (bp *BufferPool) FlushAllPages(fd int) {
	bp.latch.Lock()
	defer bp.latch.Unlock()

	for i := range bp.frames {
		page := &bp.frames[i]
		if page.id.FD != fd || !page.id.Valid() {
			continue
		}
		if err := bp.disk.WritePage(page.id.FD, page.id.PageNum, page.Data()); err != nil {
			logging.L().Panicw("flush-all failed", "page", page.id, "error", err)
		}
		page.dirty = false
	}
}
