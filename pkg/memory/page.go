package memory

import (
	"stratadb/pkg/primitives"
)

// Page is the in-memory image of one disk page plus the bookkeeping the
// buffer pool needs: its identity, a pin count, and a dirty bit. The
// metadata fields are owned by the pool and mutated only under its
// latch; the data bytes belong to whoever holds a pin.
type Page struct {
	id       primitives.PageID
	data     [primitives.PageSize]byte
	pinCount int
	dirty    bool
}

// ID returns the page's current identity. Invalid for frames that hold
// no page.
func (p *Page) ID() primitives.PageID {
	return p.id
}

// Data returns the page's byte buffer. Callers must hold a pin on the
// page for the full duration of any access.
func (p *Page) Data() []byte {
	return p.data[:]
}

// PinCount returns the number of outstanding pins.
func (p *Page) PinCount() int {
	return p.pinCount
}

// IsDirty reports whether the page has unwritten modifications.
func (p *Page) IsDirty() bool {
	return p.dirty
}

// reset zeroes the data buffer when a frame adopts a new identity.
func (p *Page) reset() {
	p.data = [primitives.PageSize]byte{}
}
