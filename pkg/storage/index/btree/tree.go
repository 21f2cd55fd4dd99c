// Package btree implements a B+-tree over fixed-width keys, stored one
// node per page and accessed through the buffer pool. Leaves form a
// doubly linked chain in key order; every internal entry's key is the
// smallest key of the child it points to.
package btree

import (
	"bytes"
	"sync"

	"stratadb/pkg/concurrency"
	"stratadb/pkg/dberr"
	"stratadb/pkg/memory"
	"stratadb/pkg/primitives"
	"stratadb/pkg/storage/disk"
)

// Index is an open index file. A single tree-level latch serializes
// writers and lets readers observe a consistent tree; finer-grained
// latch crabbing can replace it without changing this contract.
//
// Transaction tokens are passed through for the layers above and never
// interpreted here.
type Index struct {
	disk *disk.Manager
	pool *memory.BufferPool
	fd   int
	hdr  IndexHeader

	rootLatch sync.RWMutex
}

// Fd returns the index file's descriptor.
func (ix *Index) Fd() int {
	return ix.fd
}

// Header returns a copy of the in-memory index header.
func (ix *Index) Header() IndexHeader {
	ix.rootLatch.RLock()
	defer ix.rootLatch.RUnlock()
	return ix.hdr
}

// minSize is the underflow threshold for non-root nodes.
func (ix *Index) minSize() int {
	return int(ix.hdr.KeysPerNode) / 2
}

// fetchNode pins the node page at pageNum.
func (ix *Index) fetchNode(pageNum primitives.PageNum) (nodeHandle, error) {
	page, err := ix.pool.FetchPage(primitives.PageID{FD: ix.fd, PageNum: pageNum})
	if err != nil {
		return nodeHandle{}, err
	}
	return nodeHandle{hdr: &ix.hdr, page: page}, nil
}

// unpinNode releases the caller's pin on the node.
func (ix *Index) unpinNode(n nodeHandle, dirty bool) {
	ix.pool.UnpinPage(n.page.ID(), dirty)
}

// createNode allocates and pins a fresh node page. Unlike the heap's
// free-page list, freed index pages are never reused: the allocator is
// monotonic and NumPages tracks the high-water mark.
func (ix *Index) createNode() (nodeHandle, error) {
	page, pid, err := ix.pool.NewPage(ix.fd)
	if err != nil {
		return nodeHandle{}, err
	}
	if int32(pid.PageNum)+1 > ix.hdr.NumPages {
		ix.hdr.NumPages = int32(pid.PageNum) + 1
	}
	return nodeHandle{hdr: &ix.hdr, page: page}, nil
}

// childRid wraps a child page number in rid form for internal nodes.
func childRid(page primitives.PageNum) primitives.Rid {
	return primitives.Rid{PageNum: page, SlotNum: -1}
}

// findLeaf descends from the root to the leaf whose key range covers
// key. The returned leaf is pinned; the caller unpins.
func (ix *Index) findLeaf(key []byte) (nodeHandle, error) {
	node, err := ix.fetchNode(ix.hdr.RootPage)
	if err != nil {
		return nodeHandle{}, err
	}
	for !node.isLeaf() {
		child := node.internalLookup(key)
		next, err := ix.fetchNode(child)
		if err != nil {
			ix.unpinNode(node, false)
			return nodeHandle{}, err
		}
		ix.unpinNode(node, false)
		node = next
	}
	return node, nil
}

// GetValue returns the rids stored under key — at most one, since leaf
// insertion rejects duplicates. An absent key yields an empty slice.
func (ix *Index) GetValue(key []byte, txn *concurrency.Transaction) ([]primitives.Rid, error) {
	ix.rootLatch.RLock()
	defer ix.rootLatch.RUnlock()

	if !ix.hdr.RootPage.Valid() {
		return nil, nil
	}
	leaf, err := ix.findLeaf(key)
	if err != nil {
		return nil, err
	}
	defer ix.unpinNode(leaf, false)

	if rid, ok := leaf.leafLookup(key); ok {
		return []primitives.Rid{rid}, nil
	}
	return nil, nil
}

// InsertEntry adds (key, rid) to the tree, splitting on the way up as
// needed. It returns false without error if the key is already present.
func (ix *Index) InsertEntry(key []byte, rid primitives.Rid, txn *concurrency.Transaction) (bool, error) {
	ix.rootLatch.Lock()
	defer ix.rootLatch.Unlock()

	if !ix.hdr.RootPage.Valid() {
		// The tree was emptied by deletes; bootstrap a fresh root leaf.
		root, err := ix.createNode()
		if err != nil {
			return false, err
		}
		root.init(true, primitives.NoPage)
		root.insertPair(0, key, rid)
		ix.hdr.RootPage = root.pageNum()
		ix.hdr.FirstLeaf = root.pageNum()
		ix.hdr.LastLeaf = root.pageNum()
		ix.unpinNode(root, true)
		return true, nil
	}

	leaf, err := ix.findLeaf(key)
	if err != nil {
		return false, err
	}
	before := leaf.numKeys()
	after := leaf.insert(key, rid)
	if after == before {
		ix.unpinNode(leaf, false)
		return false, nil
	}
	if err := ix.maintainParent(leaf); err != nil {
		ix.unpinNode(leaf, true)
		return false, err
	}

	if after == int(ix.hdr.KeysPerNode) {
		newNode, err := ix.split(leaf)
		if err != nil {
			ix.unpinNode(leaf, true)
			return false, err
		}
		if newNode.isLeaf() && ix.hdr.LastLeaf == leaf.pageNum() {
			ix.hdr.LastLeaf = newNode.pageNum()
		}
		err = ix.insertIntoParent(leaf, newNode.key(0), newNode)
		ix.unpinNode(newNode, true)
		if err != nil {
			ix.unpinNode(leaf, true)
			return false, err
		}
	}
	ix.unpinNode(leaf, true)
	return true, nil
}

// split moves the upper half of node's pairs into a freshly allocated
// right sibling and returns it pinned. Leaves are spliced into the leaf
// chain; for internal nodes the moved children's parent pointers are
// re-aimed at the new node.
func (ix *Index) split(node nodeHandle) (nodeHandle, error) {
	newNode, err := ix.createNode()
	if err != nil {
		return nodeHandle{}, err
	}
	newNode.init(node.isLeaf(), node.parent())

	if node.isLeaf() {
		newNode.setPrevLeaf(node.pageNum())
		newNode.setNextLeaf(node.nextLeaf())
		if node.nextLeaf().Valid() {
			next, err := ix.fetchNode(node.nextLeaf())
			if err != nil {
				return nodeHandle{}, err
			}
			next.setPrevLeaf(newNode.pageNum())
			ix.unpinNode(next, true)
		}
		node.setNextLeaf(newNode.pageNum())
	}

	num := node.numKeys()
	pos := num / 2
	moved := num - pos
	newNode.insertPairs(0, node.keyRange(pos, num), node.ridRange(pos, num), moved)
	node.setNumKeys(pos)

	if !node.isLeaf() {
		for i := 0; i < moved; i++ {
			if err := ix.maintainChild(newNode, i); err != nil {
				return nodeHandle{}, err
			}
		}
	}
	return newNode, nil
}

// insertIntoParent records a split in the parent: newNode becomes the
// child immediately after old, keyed by key (newNode's smallest). A
// parent filled to capacity splits in turn, recursing; splitting the
// root grows the tree by one level.
func (ix *Index) insertIntoParent(old nodeHandle, key []byte, newNode nodeHandle) error {
	if old.pageNum() == ix.hdr.RootPage {
		root, err := ix.createNode()
		if err != nil {
			return err
		}
		root.init(false, primitives.NoPage)
		root.insertPair(0, old.key(0), childRid(old.pageNum()))
		root.insertPair(1, key, childRid(newNode.pageNum()))
		old.setParent(root.pageNum())
		newNode.setParent(root.pageNum())
		ix.hdr.RootPage = root.pageNum()
		ix.unpinNode(root, true)
		return nil
	}

	parent, err := ix.fetchNode(old.parent())
	if err != nil {
		return err
	}
	pos := parent.findChild(old.pageNum())
	parent.insertPair(pos+1, key, childRid(newNode.pageNum()))
	newNode.setParent(parent.pageNum())

	if parent.numKeys() == int(ix.hdr.KeysPerNode) {
		newParent, err := ix.split(parent)
		if err != nil {
			ix.unpinNode(parent, true)
			return err
		}
		err = ix.insertIntoParent(parent, newParent.key(0), newParent)
		ix.unpinNode(newParent, true)
		if err != nil {
			ix.unpinNode(parent, true)
			return err
		}
	}
	ix.unpinNode(parent, true)
	return nil
}

// DeleteEntry removes key from the tree, rebalancing by redistribution
// or merge on the way up. It returns false without error if the key is
// absent.
func (ix *Index) DeleteEntry(key []byte, txn *concurrency.Transaction) (bool, error) {
	ix.rootLatch.Lock()
	defer ix.rootLatch.Unlock()

	if !ix.hdr.RootPage.Valid() {
		return false, nil
	}
	leaf, err := ix.findLeaf(key)
	if err != nil {
		return false, err
	}
	before := leaf.numKeys()
	after := leaf.remove(key)
	if after == before {
		ix.unpinNode(leaf, false)
		return false, nil
	}
	if err := ix.maintainParent(leaf); err != nil {
		ix.unpinNode(leaf, true)
		return false, err
	}

	consumed, err := ix.coalesceOrRedistribute(leaf)
	if err != nil {
		return false, err
	}
	if !consumed {
		ix.unpinNode(leaf, true)
	}
	return true, nil
}

// coalesceOrRedistribute restores the minimum-occupancy invariant for
// node after a removal. It reports whether the caller's pin on node was
// consumed: a merge unpins (and possibly deletes) the node internally,
// a redistribution leaves the caller's pin alone.
func (ix *Index) coalesceOrRedistribute(node nodeHandle) (bool, error) {
	if node.pageNum() == ix.hdr.RootPage {
		return ix.adjustRoot(node)
	}
	if node.numKeys() >= ix.minSize() {
		return false, nil
	}

	parent, err := ix.fetchNode(node.parent())
	if err != nil {
		return false, err
	}
	idx := parent.findChild(node.pageNum())

	// Prefer the left sibling; only the leftmost child borrows right.
	var sibling primitives.PageNum
	if idx > 0 {
		sibling = parent.child(idx - 1)
	} else {
		sibling = parent.child(idx + 1)
	}
	neighbor, err := ix.fetchNode(sibling)
	if err != nil {
		ix.unpinNode(parent, false)
		return false, err
	}

	if neighbor.numKeys()+node.numKeys() >= 2*ix.minSize() {
		err := ix.redistribute(neighbor, node, idx)
		ix.unpinNode(neighbor, true)
		ix.unpinNode(parent, true)
		return false, err
	}

	if err := ix.coalesce(neighbor, node, parent, idx); err != nil {
		return false, err
	}
	return true, nil
}

// redistribute borrows one pair from neighbor into node. With idx == 0
// the neighbor is the right sibling and donates its first pair to
// node's tail; otherwise it is the left sibling and donates its last
// pair to node's head. The separator above the node whose smallest key
// changed is rewritten through maintainParent.
func (ix *Index) redistribute(neighbor, node nodeHandle, idx int) error {
	if idx == 0 {
		node.insertPair(node.numKeys(), neighbor.key(0), neighbor.rid(0))
		neighbor.erasePair(0)
		if !node.isLeaf() {
			if err := ix.maintainChild(node, node.numKeys()-1); err != nil {
				return err
			}
		}
		return ix.maintainParent(neighbor)
	}

	last := neighbor.numKeys() - 1
	node.insertPair(0, neighbor.key(last), neighbor.rid(last))
	neighbor.erasePair(last)
	if !node.isLeaf() {
		if err := ix.maintainChild(node, 0); err != nil {
			return err
		}
	}
	return ix.maintainParent(node)
}

// coalesce merges node into its left sibling and removes node from the
// tree. With idx == 0 the two are swapped first so the survivor is
// always the left node. The pins on both nodes are consumed here; the
// parent's own underflow is handled by recursing.
func (ix *Index) coalesce(neighbor, node, parent nodeHandle, idx int) error {
	if idx == 0 {
		neighbor, node = node, neighbor
		idx = 1
	}

	base := neighbor.numKeys()
	moved := node.numKeys()
	neighbor.insertPairs(base, node.keyRange(0, moved), node.ridRange(0, moved), moved)
	if !node.isLeaf() {
		for i := 0; i < moved; i++ {
			if err := ix.maintainChild(neighbor, base+i); err != nil {
				return err
			}
		}
	} else {
		if err := ix.eraseLeaf(node); err != nil {
			return err
		}
		if ix.hdr.LastLeaf == node.pageNum() {
			ix.hdr.LastLeaf = neighbor.pageNum()
		}
	}

	parent.erasePair(idx)
	dead := node.page.ID()
	ix.unpinNode(node, true)
	ix.pool.DeletePage(dead)
	ix.unpinNode(neighbor, true)

	consumed, err := ix.coalesceOrRedistribute(parent)
	if err != nil {
		return err
	}
	if !consumed {
		ix.unpinNode(parent, true)
	}
	return nil
}

// adjustRoot handles underflow at the root: an internal root left with
// a single child hands the root role to it, and an empty leaf root
// clears the tree. Either way the old root page is released and the
// caller's pin is consumed; otherwise nothing changes.
func (ix *Index) adjustRoot(oldRoot nodeHandle) (bool, error) {
	if !oldRoot.isLeaf() && oldRoot.numKeys() == 1 {
		childPage := oldRoot.removeAndReturnOnlyChild()
		child, err := ix.fetchNode(childPage)
		if err != nil {
			return false, err
		}
		child.setParent(primitives.NoPage)
		ix.unpinNode(child, true)
		ix.hdr.RootPage = childPage

		dead := oldRoot.page.ID()
		ix.unpinNode(oldRoot, true)
		ix.pool.DeletePage(dead)
		return true, nil
	}

	if oldRoot.isLeaf() && oldRoot.numKeys() == 0 {
		ix.hdr.RootPage = primitives.NoPage
		ix.hdr.FirstLeaf = primitives.NoPage
		ix.hdr.LastLeaf = primitives.NoPage

		dead := oldRoot.page.ID()
		ix.unpinNode(oldRoot, true)
		ix.pool.DeletePage(dead)
		return true, nil
	}
	return false, nil
}

// maintainParent walks upward from node rewriting each ancestor's
// separator to the first key of the updated subtree, stopping at the
// first ancestor whose separator already matches.
func (ix *Index) maintainParent(node nodeHandle) error {
	if node.numKeys() == 0 {
		return nil
	}
	cur := node
	for cur.parent().Valid() {
		parent, err := ix.fetchNode(cur.parent())
		if err != nil {
			if cur.pageNum() != node.pageNum() {
				ix.unpinNode(cur, true)
			}
			return err
		}
		rank := parent.findChild(cur.pageNum())
		if bytes.Equal(parent.key(rank), cur.key(0)) {
			ix.unpinNode(parent, false)
			break
		}
		copy(parent.key(rank), cur.key(0))
		if cur.pageNum() != node.pageNum() {
			ix.unpinNode(cur, true)
		}
		cur = parent
	}
	if cur.pageNum() != node.pageNum() {
		ix.unpinNode(cur, true)
	}
	return nil
}

// maintainChild re-aims the parent pointer of node's i-th child at
// node. A no-op for leaves.
func (ix *Index) maintainChild(node nodeHandle, i int) error {
	if node.isLeaf() {
		return nil
	}
	child, err := ix.fetchNode(node.child(i))
	if err != nil {
		return err
	}
	child.setParent(node.pageNum())
	ix.unpinNode(child, true)
	return nil
}

// eraseLeaf unlinks a leaf from the chain before it is deleted.
func (ix *Index) eraseLeaf(leaf nodeHandle) error {
	prev, next := leaf.prevLeaf(), leaf.nextLeaf()
	if prev.Valid() {
		p, err := ix.fetchNode(prev)
		if err != nil {
			return err
		}
		p.setNextLeaf(next)
		ix.unpinNode(p, true)
	} else {
		ix.hdr.FirstLeaf = next
	}
	if next.Valid() {
		nx, err := ix.fetchNode(next)
		if err != nil {
			return err
		}
		nx.setPrevLeaf(prev)
		ix.unpinNode(nx, true)
	}
	return nil
}

// LowerBound returns the position of the first entry with key >= key.
func (ix *Index) LowerBound(key []byte) (primitives.Iid, error) {
	ix.rootLatch.RLock()
	defer ix.rootLatch.RUnlock()
	return ix.lowerBoundLocked(key)
}

func (ix *Index) lowerBoundLocked(key []byte) (primitives.Iid, error) {
	if !ix.hdr.RootPage.Valid() {
		return primitives.Iid{PageNum: primitives.NoPage}, nil
	}
	leaf, err := ix.findLeaf(key)
	if err != nil {
		return primitives.Iid{}, err
	}
	defer ix.unpinNode(leaf, false)
	return primitives.Iid{
		PageNum: leaf.pageNum(),
		SlotNum: primitives.SlotNum(leaf.lowerBound(key)),
	}, nil
}

// UpperBound returns the position just past the last entry with
// key <= key.
func (ix *Index) UpperBound(key []byte) (primitives.Iid, error) {
	ix.rootLatch.RLock()
	defer ix.rootLatch.RUnlock()
	return ix.upperBoundLocked(key)
}

func (ix *Index) upperBoundLocked(key []byte) (primitives.Iid, error) {
	if !ix.hdr.RootPage.Valid() {
		return primitives.Iid{PageNum: primitives.NoPage}, nil
	}
	leaf, err := ix.findLeaf(key)
	if err != nil {
		return primitives.Iid{}, err
	}
	pos := leaf.upperBound(key)
	// The node-level search starts at slot 1; a key below the leaf's
	// first entry ends the range before slot 0.
	if leaf.numKeys() > 0 && leaf.compare(key, leaf.key(0)) < 0 {
		pos = 0
	}
	// Past the last entry of the last leaf is the tree's end; past the
	// last entry of any other leaf is that leaf's one-past-last slot.
	if pos >= leaf.numKeys() && !leaf.nextLeaf().Valid() {
		ix.unpinNode(leaf, false)
		return ix.leafEndLocked()
	}
	iid := primitives.Iid{PageNum: leaf.pageNum(), SlotNum: primitives.SlotNum(pos)}
	ix.unpinNode(leaf, false)
	return iid, nil
}

// LeafBegin returns the position of the tree's first entry.
func (ix *Index) LeafBegin() primitives.Iid {
	ix.rootLatch.RLock()
	defer ix.rootLatch.RUnlock()
	return primitives.Iid{PageNum: ix.hdr.FirstLeaf, SlotNum: 0}
}

// LeafEnd returns the position just past the tree's last entry.
func (ix *Index) LeafEnd() (primitives.Iid, error) {
	ix.rootLatch.RLock()
	defer ix.rootLatch.RUnlock()
	return ix.leafEndLocked()
}

func (ix *Index) leafEndLocked() (primitives.Iid, error) {
	if !ix.hdr.LastLeaf.Valid() {
		return primitives.Iid{PageNum: primitives.NoPage}, nil
	}
	leaf, err := ix.fetchNode(ix.hdr.LastLeaf)
	if err != nil {
		return primitives.Iid{}, err
	}
	defer ix.unpinNode(leaf, false)
	return primitives.Iid{
		PageNum: ix.hdr.LastLeaf,
		SlotNum: primitives.SlotNum(leaf.numKeys()),
	}, nil
}

// GetRid returns the heap rid stored at the iterator position.
func (ix *Index) GetRid(iid primitives.Iid) (primitives.Rid, error) {
	ix.rootLatch.RLock()
	defer ix.rootLatch.RUnlock()

	if !iid.PageNum.Valid() {
		return primitives.Rid{}, dberr.ErrIndexEntryNotFound
	}
	node, err := ix.fetchNode(iid.PageNum)
	if err != nil {
		return primitives.Rid{}, err
	}
	defer ix.unpinNode(node, false)

	if int(iid.SlotNum) >= node.numKeys() {
		return primitives.Rid{}, dberr.ErrIndexEntryNotFound
	}
	return node.rid(int(iid.SlotNum)), nil
}
