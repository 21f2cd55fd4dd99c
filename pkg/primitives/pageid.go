package primitives

import "fmt"

// PageID identifies a page across every open file: the file descriptor
// of the owning file plus the page number inside it. It is the key of
// the buffer pool's page table.
type PageID struct {
	FD      int
	PageNum PageNum
}

// Valid reports whether the PageID names an actual page.
func (p PageID) Valid() bool {
	return p.PageNum.Valid()
}

func (p PageID) String() string {
	return fmt.Sprintf("PageID(fd=%d, page=%d)", p.FD, p.PageNum)
}
