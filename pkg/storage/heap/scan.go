package heap

import (
	"stratadb/pkg/primitives"
)

// Scan walks every occupied slot of a record file in (page, slot)
// order. Each advance re-fetches the current page, so records inserted
// or deleted mid-scan may or may not be observed; no snapshot is
// promised.
type Scan struct {
	file *RecordFile
	rid  primitives.Rid
}

// NewScan positions a scan on the file's first record, or at the end
// if the file has none.
func NewScan(file *RecordFile) (*Scan, error) {
	s := &Scan{
		file: file,
		rid:  primitives.Rid{PageNum: 1, SlotNum: -1},
	}
	if err := s.advance(); err != nil {
		return nil, err
	}
	return s, nil
}

// advance moves rid to the next occupied slot after the current
// position, crossing page boundaries, or to the end sentinel.
func (s *Scan) advance() error {
	for s.rid.PageNum < primitives.PageNum(s.file.hdr.NumPages) {
		h, err := s.file.fetchPageHandle(s.rid.PageNum)
		if err != nil {
			return err
		}
		next := nextBit(true, h.bitmap(), int(s.file.hdr.RecordsPerPage), int(s.rid.SlotNum))
		s.file.pool.UnpinPage(h.page.ID(), false)

		if next < int(s.file.hdr.RecordsPerPage) {
			s.rid.SlotNum = primitives.SlotNum(next)
			return nil
		}
		s.rid.PageNum++
		s.rid.SlotNum = -1
	}
	s.rid = primitives.Rid{PageNum: primitives.NoPage, SlotNum: -1}
	return nil
}

// Next moves to the following record. Calling Next at the end is a
// no-op.
func (s *Scan) Next() error {
	if s.IsEnd() {
		return nil
	}
	return s.advance()
}

// IsEnd reports whether the scan has run off the last record.
func (s *Scan) IsEnd() bool {
	return s.rid.PageNum == primitives.NoPage
}

// Rid returns the scan's current position.
func (s *Scan) Rid() primitives.Rid {
	return s.rid
}
