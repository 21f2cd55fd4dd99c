package btree

import (
	"encoding/binary"

	"stratadb/pkg/memory"
	"stratadb/pkg/primitives"
)

// Node pages are laid out as [nodeHeader | keys | rids], with room for
// exactly KeysPerNode pairs. Keys are fixed-width byte strings in
// strictly ascending order. In a leaf, rid i is the heap location of
// key i; in an internal node, rid i's page number is the child holding
// the subtree whose smallest key is key i. Key 0 of an internal node is
// therefore the placeholder for the leftmost subtree, and upper-bound
// searches start at slot 1.
//
// nodeHandle overlays typed accessors on a pinned page. The pin belongs
// to whoever fetched the node.
type nodeHandle struct {
	hdr  *IndexHeader
	page *memory.Page
}

func (n nodeHandle) pageNum() primitives.PageNum {
	return n.page.ID().PageNum
}

func (n nodeHandle) numKeys() int {
	return int(binary.LittleEndian.Uint32(n.page.Data()[0:]))
}

func (n nodeHandle) setNumKeys(v int) {
	binary.LittleEndian.PutUint32(n.page.Data()[0:], uint32(v))
}

func (n nodeHandle) isLeaf() bool {
	return binary.LittleEndian.Uint32(n.page.Data()[4:]) != 0
}

func (n nodeHandle) setLeaf(leaf bool) {
	v := uint32(0)
	if leaf {
		v = 1
	}
	binary.LittleEndian.PutUint32(n.page.Data()[4:], v)
}

func (n nodeHandle) parent() primitives.PageNum {
	return primitives.PageNum(binary.LittleEndian.Uint32(n.page.Data()[8:]))
}

func (n nodeHandle) setParent(p primitives.PageNum) {
	binary.LittleEndian.PutUint32(n.page.Data()[8:], uint32(p))
}

func (n nodeHandle) prevLeaf() primitives.PageNum {
	return primitives.PageNum(binary.LittleEndian.Uint32(n.page.Data()[12:]))
}

func (n nodeHandle) setPrevLeaf(p primitives.PageNum) {
	binary.LittleEndian.PutUint32(n.page.Data()[12:], uint32(p))
}

func (n nodeHandle) nextLeaf() primitives.PageNum {
	return primitives.PageNum(binary.LittleEndian.Uint32(n.page.Data()[16:]))
}

func (n nodeHandle) setNextLeaf(p primitives.PageNum) {
	binary.LittleEndian.PutUint32(n.page.Data()[16:], uint32(p))
}

// initNodePage formats raw page bytes as an empty leaf with no
// neighbors and no parent, for writing node pages outside the pool.
func initNodePage(buf []byte) {
	noPage := primitives.NoPage
	binary.LittleEndian.PutUint32(buf[0:], 0)
	binary.LittleEndian.PutUint32(buf[4:], 1)
	binary.LittleEndian.PutUint32(buf[8:], uint32(noPage))
	binary.LittleEndian.PutUint32(buf[12:], uint32(noPage))
	binary.LittleEndian.PutUint32(buf[16:], uint32(noPage))
}

// init formats a fresh node.
func (n nodeHandle) init(leaf bool, parent primitives.PageNum) {
	n.setNumKeys(0)
	n.setLeaf(leaf)
	n.setParent(parent)
	n.setPrevLeaf(primitives.NoPage)
	n.setNextLeaf(primitives.NoPage)
}

// keys returns the full key region; rids the full rid region.
func (n nodeHandle) keys() []byte {
	end := nodeHeaderSize + int(n.hdr.KeysPerNode)*int(n.hdr.ColLen)
	return n.page.Data()[nodeHeaderSize:end]
}

func (n nodeHandle) rids() []byte {
	start := nodeHeaderSize + int(n.hdr.KeysPerNode)*int(n.hdr.ColLen)
	return n.page.Data()[start : start+int(n.hdr.KeysPerNode)*ridSize]
}

// key returns the byte view of key i.
func (n nodeHandle) key(i int) []byte {
	colLen := int(n.hdr.ColLen)
	return n.keys()[i*colLen : (i+1)*colLen]
}

// keyRange returns the contiguous bytes of keys [lo, hi).
func (n nodeHandle) keyRange(lo, hi int) []byte {
	colLen := int(n.hdr.ColLen)
	return n.keys()[lo*colLen : hi*colLen]
}

// ridRange returns the contiguous bytes of rids [lo, hi).
func (n nodeHandle) ridRange(lo, hi int) []byte {
	return n.rids()[lo*ridSize : hi*ridSize]
}

// rid decodes rid i.
func (n nodeHandle) rid(i int) primitives.Rid {
	raw := n.rids()[i*ridSize:]
	return primitives.Rid{
		PageNum: primitives.PageNum(binary.LittleEndian.Uint32(raw[0:])),
		SlotNum: primitives.SlotNum(binary.LittleEndian.Uint32(raw[4:])),
	}
}

func (n nodeHandle) setRid(i int, rid primitives.Rid) {
	raw := n.rids()[i*ridSize:]
	binary.LittleEndian.PutUint32(raw[0:], uint32(rid.PageNum))
	binary.LittleEndian.PutUint32(raw[4:], uint32(rid.SlotNum))
}

// child returns the child page number stored in rid slot i of an
// internal node.
func (n nodeHandle) child(i int) primitives.PageNum {
	return n.rid(i).PageNum
}

func (n nodeHandle) compare(a, b []byte) int {
	return Compare(n.hdr.ColType, int(n.hdr.ColLen), a, b)
}

// lowerBound returns the smallest i in [0, numKeys] with key(i) >= target.
func (n nodeHandle) lowerBound(target []byte) int {
	lo, hi := 0, n.numKeys()
	for lo < hi {
		mid := (lo + hi) / 2
		if n.compare(target, n.key(mid)) > 0 {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	return lo
}

// upperBound returns the smallest i in [1, numKeys] with key(i) > target.
// The search starts at 1: slot 0 of an internal node is the leftmost
// placeholder and never terminates a descent.
func (n nodeHandle) upperBound(target []byte) int {
	lo, hi := 1, n.numKeys()
	for lo < hi {
		mid := (lo + hi) / 2
		if n.compare(target, n.key(mid)) >= 0 {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	return lo
}

// leafLookup returns the rid stored under key, if present.
func (n nodeHandle) leafLookup(key []byte) (primitives.Rid, bool) {
	i := n.lowerBound(key)
	if i < n.numKeys() && n.compare(n.key(i), key) == 0 {
		return n.rid(i), true
	}
	return primitives.Rid{}, false
}

// internalLookup returns the child page to descend into for key.
func (n nodeHandle) internalLookup(key []byte) primitives.PageNum {
	return n.child(n.upperBound(key) - 1)
}

// insertPairs splices count raw pairs at pos, shifting the tail right.
// keys and rids hold count packed entries.
func (n nodeHandle) insertPairs(pos int, keys, rids []byte, count int) {
	num := n.numKeys()
	colLen := int(n.hdr.ColLen)

	copy(n.keyRange(pos+count, num+count), n.keyRange(pos, num))
	copy(n.ridRange(pos+count, num+count), n.ridRange(pos, num))
	copy(n.keyRange(pos, pos+count), keys[:count*colLen])
	copy(n.ridRange(pos, pos+count), rids[:count*ridSize])
	n.setNumKeys(num + count)
}

// insertPair splices one (key, rid) pair at pos.
func (n nodeHandle) insertPair(pos int, key []byte, rid primitives.Rid) {
	var raw [ridSize]byte
	binary.LittleEndian.PutUint32(raw[0:], uint32(rid.PageNum))
	binary.LittleEndian.PutUint32(raw[4:], uint32(rid.SlotNum))
	n.insertPairs(pos, key, raw[:], 1)
}

// insert adds the pair at its sorted position, rejecting duplicates.
// It returns the resulting pair count: unchanged means the key was
// already present.
func (n nodeHandle) insert(key []byte, rid primitives.Rid) int {
	pos := n.lowerBound(key)
	if pos < n.numKeys() && n.compare(n.key(pos), key) == 0 {
		return n.numKeys()
	}
	n.insertPair(pos, key, rid)
	return n.numKeys()
}

// erasePair removes the pair at pos, shifting the tail left.
func (n nodeHandle) erasePair(pos int) {
	num := n.numKeys()
	copy(n.keyRange(pos, num-1), n.keyRange(pos+1, num))
	copy(n.ridRange(pos, num-1), n.ridRange(pos+1, num))
	n.setNumKeys(num - 1)
}

// remove erases the pair under key if present and returns the
// resulting pair count.
func (n nodeHandle) remove(key []byte) int {
	pos := n.lowerBound(key)
	if pos < n.numKeys() && n.compare(n.key(pos), key) == 0 {
		n.erasePair(pos)
	}
	return n.numKeys()
}

// findChild returns the rid slot holding the given child page number.
// The child must be present; a miss is a broken parent pointer.
func (n nodeHandle) findChild(child primitives.PageNum) int {
	for i := 0; i < n.numKeys(); i++ {
		if n.child(i) == child {
			return i
		}
	}
	panic("btree: child not found in parent node")
}

// removeAndReturnOnlyChild zeroes a one-entry internal node and returns
// its single child, used when the root collapses a level.
func (n nodeHandle) removeAndReturnOnlyChild() primitives.PageNum {
	if n.numKeys() != 1 {
		panic("btree: removeAndReturnOnlyChild on node without exactly one entry")
	}
	child := n.child(0)
	n.erasePair(0)
	return child
}
