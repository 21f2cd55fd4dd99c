package primitives

import "fmt"

// Rid locates a record inside a heap file: the page it lives on and the
// slot it occupies. Rids are handed out by record insertion and stored
// as the values of index entries.
type Rid struct {
	PageNum PageNum
	SlotNum SlotNum
}

func (r Rid) String() string {
	return fmt.Sprintf("Rid(page=%d, slot=%d)", r.PageNum, r.SlotNum)
}

// Iid is an index iterator position: a leaf page and a key slot inside
// it. It is not a Rid — the slot counts key positions in the leaf, not
// record slots in a heap page.
type Iid struct {
	PageNum PageNum
	SlotNum SlotNum
}

func (i Iid) String() string {
	return fmt.Sprintf("Iid(page=%d, slot=%d)", i.PageNum, i.SlotNum)
}
