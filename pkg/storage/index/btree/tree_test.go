package btree

import (
	"path/filepath"
	"testing"

	"stratadb/pkg/memory"
	"stratadb/pkg/primitives"
	"stratadb/pkg/storage/disk"
)

// newTestIndex builds an int-keyed index with a node fan-out of four,
// so splits and merges trigger after a handful of keys.
func newTestIndex(t *testing.T) (*Manager, *Index) {
	t.Helper()
	dir := t.TempDir()
	dm := disk.NewManager(filepath.Join(dir, "db.log"))
	pool := memory.NewBufferPool(32, dm)
	m := NewManager(dm, pool)

	path := filepath.Join(dir, "t.idx")
	if err := m.createIndex(path, ColInt, 4, 4); err != nil {
		t.Fatalf("create index: %v", err)
	}
	ix, err := m.OpenIndex(path)
	if err != nil {
		t.Fatalf("open index: %v", err)
	}
	t.Cleanup(func() { m.CloseIndex(ix) })
	return m, ix
}

// ridFor derives a distinct heap rid per key so lookups can verify the
// key-to-rid mapping, not just presence.
func ridFor(key int32) primitives.Rid {
	return primitives.Rid{
		PageNum: primitives.PageNum(key * 10),
		SlotNum: primitives.SlotNum(key),
	}
}

func mustInsert(t *testing.T, ix *Index, key int32) {
	t.Helper()
	ok, err := ix.InsertEntry(IntKey(key), ridFor(key), nil)
	if err != nil {
		t.Fatalf("insert %d: %v", key, err)
	}
	if !ok {
		t.Fatalf("insert %d rejected as duplicate", key)
	}
}

func mustDelete(t *testing.T, ix *Index, key int32) {
	t.Helper()
	ok, err := ix.DeleteEntry(IntKey(key), nil)
	if err != nil {
		t.Fatalf("delete %d: %v", key, err)
	}
	if !ok {
		t.Fatalf("delete %d found nothing", key)
	}
}

func checkPresent(t *testing.T, ix *Index, key int32) {
	t.Helper()
	rids, err := ix.GetValue(IntKey(key), nil)
	if err != nil {
		t.Fatalf("get %d: %v", key, err)
	}
	if len(rids) != 1 || rids[0] != ridFor(key) {
		t.Fatalf("get %d = %v, want [%v]", key, rids, ridFor(key))
	}
}

func checkAbsent(t *testing.T, ix *Index, key int32) {
	t.Helper()
	rids, err := ix.GetValue(IntKey(key), nil)
	if err != nil {
		t.Fatalf("get %d: %v", key, err)
	}
	if len(rids) != 0 {
		t.Fatalf("get %d = %v, want absent", key, rids)
	}
}

// validateTree walks the whole tree checking the structural invariants:
// sorted keys, accurate parent pointers, separator keys equal to child
// minima, uniform leaf depth, and an intact leaf chain.
func validateTree(t *testing.T, ix *Index) {
	t.Helper()
	if !ix.hdr.RootPage.Valid() {
		if ix.hdr.FirstLeaf.Valid() || ix.hdr.LastLeaf.Valid() {
			t.Fatal("empty tree with dangling leaf pointers")
		}
		return
	}

	type item struct {
		page   primitives.PageNum
		parent primitives.PageNum
		depth  int
	}
	var leaves []primitives.PageNum
	leafDepth := -1

	stack := []item{{ix.hdr.RootPage, primitives.NoPage, 0}}
	for len(stack) > 0 {
		it := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		node, err := ix.fetchNode(it.page)
		if err != nil {
			t.Fatalf("fetch node %d: %v", it.page, err)
		}
		if node.parent() != it.parent {
			t.Fatalf("node %d parent = %d, want %d", it.page, node.parent(), it.parent)
		}
		for i := 1; i < node.numKeys(); i++ {
			if node.compare(node.key(i-1), node.key(i)) >= 0 {
				t.Fatalf("node %d keys out of order at slot %d", it.page, i)
			}
		}
		if node.isLeaf() {
			if leafDepth == -1 {
				leafDepth = it.depth
			} else if it.depth != leafDepth {
				t.Fatalf("leaf %d at depth %d, others at %d", it.page, it.depth, leafDepth)
			}
			leaves = append(leaves, it.page)
		} else {
			for i := 0; i < node.numKeys(); i++ {
				child, err := ix.fetchNode(node.child(i))
				if err != nil {
					t.Fatalf("fetch child: %v", err)
				}
				if child.numKeys() > 0 && node.compare(node.key(i), child.key(0)) != 0 {
					t.Fatalf("node %d separator %d differs from child %d minimum",
						it.page, i, node.child(i))
				}
				ix.unpinNode(child, false)
				stack = append(stack, item{node.child(i), it.page, it.depth + 1})
			}
		}
		ix.unpinNode(node, false)
	}

	// The chain from FirstLeaf must visit exactly the leaves found by
	// descent, in key order, ending at LastLeaf.
	inTree := make(map[primitives.PageNum]bool, len(leaves))
	for _, p := range leaves {
		inTree[p] = true
	}
	seen := 0
	var last primitives.PageNum = primitives.NoPage
	var prevKey []byte
	for p := ix.hdr.FirstLeaf; p.Valid(); {
		if !inTree[p] {
			t.Fatalf("leaf chain visits %d, which is not in the tree", p)
		}
		node, err := ix.fetchNode(p)
		if err != nil {
			t.Fatalf("fetch leaf %d: %v", p, err)
		}
		if node.prevLeaf() != last {
			t.Fatalf("leaf %d prev = %d, want %d", p, node.prevLeaf(), last)
		}
		for i := 0; i < node.numKeys(); i++ {
			if prevKey != nil && node.compare(prevKey, node.key(i)) >= 0 {
				t.Fatalf("leaf chain keys out of order at leaf %d", p)
			}
			k := make([]byte, ix.hdr.ColLen)
			copy(k, node.key(i))
			prevKey = k
		}
		seen++
		last = p
		next := node.nextLeaf()
		ix.unpinNode(node, false)
		p = next
	}
	if seen != len(leaves) {
		t.Fatalf("leaf chain visits %d leaves, tree has %d", seen, len(leaves))
	}
	if last != ix.hdr.LastLeaf {
		t.Fatalf("leaf chain ends at %d, header says %d", last, ix.hdr.LastLeaf)
	}
}

// The S4 scenario: leaf split, root growth, and a second split.
func TestInsertSplits(t *testing.T) {
	_, ix := newTestIndex(t)

	for k := int32(1); k <= 4; k++ {
		mustInsert(t, ix, k)
	}
	root, err := ix.fetchNode(ix.hdr.RootPage)
	if err != nil {
		t.Fatalf("fetch root: %v", err)
	}
	if root.isLeaf() || root.numKeys() != 2 {
		t.Fatalf("after first split: root leaf=%v numKeys=%d, want internal with 2 children",
			root.isLeaf(), root.numKeys())
	}
	left, err := ix.fetchNode(root.child(0))
	if err != nil {
		t.Fatalf("fetch left: %v", err)
	}
	right, err := ix.fetchNode(root.child(1))
	if err != nil {
		t.Fatalf("fetch right: %v", err)
	}
	if left.numKeys() != 2 || right.numKeys() != 2 {
		t.Fatalf("split halves %d/%d, want 2/2", left.numKeys(), right.numKeys())
	}
	if ix.compareKey(root.key(1), 3) != 0 {
		t.Error("separator after split is not 3")
	}
	ix.unpinNode(left, false)
	ix.unpinNode(right, false)
	ix.unpinNode(root, false)

	for k := int32(5); k <= 7; k++ {
		mustInsert(t, ix, k)
	}
	root, err = ix.fetchNode(ix.hdr.RootPage)
	if err != nil {
		t.Fatalf("fetch root: %v", err)
	}
	if root.numKeys() != 3 {
		t.Fatalf("root has %d children after second split, want 3", root.numKeys())
	}
	if ix.compareKey(root.key(1), 3) != 0 || ix.compareKey(root.key(2), 5) != 0 {
		t.Error("root separators are not [3, 5]")
	}
	ix.unpinNode(root, false)

	for k := int32(1); k <= 7; k++ {
		checkPresent(t, ix, k)
	}
	validateTree(t, ix)
}

// compareKey compares a stored key with an int value.
func (ix *Index) compareKey(stored []byte, v int32) int {
	return Compare(ix.hdr.ColType, int(ix.hdr.ColLen), stored, IntKey(v))
}

func TestDuplicateInsertRejected(t *testing.T) {
	_, ix := newTestIndex(t)

	mustInsert(t, ix, 42)
	ok, err := ix.InsertEntry(IntKey(42), ridFor(42), nil)
	if err != nil {
		t.Fatalf("duplicate insert: %v", err)
	}
	if ok {
		t.Fatal("duplicate insert succeeded")
	}
	checkPresent(t, ix, 42)
}

// The S4 range scan: lower_bound(2) to upper_bound(6) yields 2..6.
func TestRangeScan(t *testing.T) {
	_, ix := newTestIndex(t)
	for k := int32(1); k <= 7; k++ {
		mustInsert(t, ix, k)
	}

	scan, err := NewRangeScan(ix, IntKey(2), IntKey(6))
	if err != nil {
		t.Fatalf("range scan: %v", err)
	}
	var got []primitives.Rid
	for !scan.IsEnd() {
		rid, err := scan.Rid()
		if err != nil {
			t.Fatalf("rid: %v", err)
		}
		got = append(got, rid)
		if err := scan.Next(); err != nil {
			t.Fatalf("next: %v", err)
		}
	}
	want := []primitives.Rid{ridFor(2), ridFor(3), ridFor(4), ridFor(5), ridFor(6)}
	if len(got) != len(want) {
		t.Fatalf("range scan yielded %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("range scan position %d = %v, want %v", i, got[i], want[i])
		}
	}
}

func TestFullScanOrder(t *testing.T) {
	_, ix := newTestIndex(t)

	// Reverse insertion exercises separator maintenance on the left edge.
	for k := int32(20); k >= 1; k-- {
		mustInsert(t, ix, k)
	}
	validateTree(t, ix)

	scan, err := NewFullScan(ix)
	if err != nil {
		t.Fatalf("full scan: %v", err)
	}
	next := int32(1)
	for !scan.IsEnd() {
		rid, err := scan.Rid()
		if err != nil {
			t.Fatalf("rid: %v", err)
		}
		if rid != ridFor(next) {
			t.Fatalf("scan yielded %v, want %v", rid, ridFor(next))
		}
		next++
		if err := scan.Next(); err != nil {
			t.Fatalf("next: %v", err)
		}
	}
	if next != 21 {
		t.Fatalf("full scan visited %d keys, want 20", next-1)
	}
}

// The S5 scenario: deletions drive coalescing until the root collapses
// back to a single leaf.
func TestDeleteCoalesceToLeafRoot(t *testing.T) {
	_, ix := newTestIndex(t)
	for k := int32(1); k <= 7; k++ {
		mustInsert(t, ix, k)
	}

	for k := int32(1); k <= 4; k++ {
		mustDelete(t, ix, k)
		validateTree(t, ix)
	}

	root, err := ix.fetchNode(ix.hdr.RootPage)
	if err != nil {
		t.Fatalf("fetch root: %v", err)
	}
	if !root.isLeaf() || root.numKeys() != 3 {
		t.Fatalf("root leaf=%v numKeys=%d, want leaf with [5 6 7]",
			root.isLeaf(), root.numKeys())
	}
	for i, want := range []int32{5, 6, 7} {
		if ix.compareKey(root.key(i), want) != 0 {
			t.Fatalf("root key %d != %d", i, want)
		}
	}
	ix.unpinNode(root, false)

	if ix.hdr.FirstLeaf != ix.hdr.RootPage || ix.hdr.LastLeaf != ix.hdr.RootPage {
		t.Error("leaf chain does not collapse onto the root leaf")
	}
	for k := int32(1); k <= 4; k++ {
		checkAbsent(t, ix, k)
	}
	for k := int32(5); k <= 7; k++ {
		checkPresent(t, ix, k)
	}
}

// At min_size-1 with a sibling holding more than min_size, the tree
// borrows instead of merging.
func TestDeleteRedistributes(t *testing.T) {
	_, ix := newTestIndex(t)
	for k := int32(1); k <= 7; k++ {
		mustInsert(t, ix, k)
	}
	// Shape: leaves [1 2] [3 4] [5 6 7]. Merge the middle leaf away,
	// then shrink the left one so it must borrow from [5 6 7].
	mustDelete(t, ix, 4)
	validateTree(t, ix)
	mustDelete(t, ix, 2)
	mustDelete(t, ix, 3)
	validateTree(t, ix)

	root, err := ix.fetchNode(ix.hdr.RootPage)
	if err != nil {
		t.Fatalf("fetch root: %v", err)
	}
	if root.isLeaf() || root.numKeys() != 2 {
		t.Fatalf("root should keep two children after redistribution")
	}
	left, err := ix.fetchNode(root.child(0))
	if err != nil {
		t.Fatalf("fetch left: %v", err)
	}
	right, err := ix.fetchNode(root.child(1))
	if err != nil {
		t.Fatalf("fetch right: %v", err)
	}
	if left.numKeys() != 2 || right.numKeys() != 2 {
		t.Fatalf("leaves %d/%d after redistribution, want 2/2",
			left.numKeys(), right.numKeys())
	}
	if ix.compareKey(root.key(1), 6) != 0 {
		t.Error("separator not rewritten to the borrowed key's successor")
	}
	ix.unpinNode(left, false)
	ix.unpinNode(right, false)
	ix.unpinNode(root, false)

	for _, k := range []int32{1, 5, 6, 7} {
		checkPresent(t, ix, k)
	}
}

func TestDeleteMissingKey(t *testing.T) {
	_, ix := newTestIndex(t)
	mustInsert(t, ix, 1)

	ok, err := ix.DeleteEntry(IntKey(99), nil)
	if err != nil {
		t.Fatalf("delete missing: %v", err)
	}
	if ok {
		t.Fatal("delete of missing key reported success")
	}
}

// Deleting the last key of a single-key root leaf empties the tree,
// and the tree accepts inserts again afterwards.
func TestDeleteLastKeyEmptiesTree(t *testing.T) {
	_, ix := newTestIndex(t)

	mustInsert(t, ix, 7)
	mustDelete(t, ix, 7)

	if ix.hdr.RootPage.Valid() {
		t.Fatal("root page survives emptying the tree")
	}
	checkAbsent(t, ix, 7)
	validateTree(t, ix)

	end, err := ix.LeafEnd()
	if err != nil {
		t.Fatalf("leaf end: %v", err)
	}
	if begin := ix.LeafBegin(); begin != end {
		t.Errorf("empty tree has begin %v != end %v", begin, end)
	}

	mustInsert(t, ix, 8)
	checkPresent(t, ix, 8)
	validateTree(t, ix)
}

// A deeper workload: enough keys for three levels, inserted forwards,
// verified, then torn all the way back down.
func TestInsertDeleteChurn(t *testing.T) {
	_, ix := newTestIndex(t)

	const n = 60
	for k := int32(1); k <= n; k++ {
		mustInsert(t, ix, k)
	}
	validateTree(t, ix)
	for k := int32(1); k <= n; k++ {
		checkPresent(t, ix, k)
	}

	// Delete odd keys first, then the rest.
	for k := int32(1); k <= n; k += 2 {
		mustDelete(t, ix, k)
	}
	validateTree(t, ix)
	for k := int32(1); k <= n; k += 2 {
		checkAbsent(t, ix, k)
	}
	for k := int32(2); k <= n; k += 2 {
		checkPresent(t, ix, k)
	}

	for k := int32(2); k <= n; k += 2 {
		mustDelete(t, ix, k)
		validateTree(t, ix)
	}
	if ix.hdr.RootPage.Valid() {
		t.Fatal("tree not empty after deleting every key")
	}
}

func TestBoundsAndGetRid(t *testing.T) {
	_, ix := newTestIndex(t)
	for _, k := range []int32{10, 20, 30, 40, 50} {
		mustInsert(t, ix, k)
	}

	lo, err := ix.LowerBound(IntKey(20))
	if err != nil {
		t.Fatalf("lower bound: %v", err)
	}
	rid, err := ix.GetRid(lo)
	if err != nil {
		t.Fatalf("get rid: %v", err)
	}
	if rid != ridFor(20) {
		t.Errorf("lower_bound(20) resolves to %v, want %v", rid, ridFor(20))
	}

	// lower_bound between keys may land one past a leaf's last slot;
	// the scan normalizes onto the next key.
	lo, err = ix.LowerBound(IntKey(25))
	if err != nil {
		t.Fatalf("lower bound: %v", err)
	}
	end, err := ix.LeafEnd()
	if err != nil {
		t.Fatalf("leaf end: %v", err)
	}
	scan, err := NewScan(ix, lo, end)
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	rid, err = scan.Rid()
	if err != nil {
		t.Fatalf("rid: %v", err)
	}
	if rid != ridFor(30) {
		t.Errorf("scan from lower_bound(25) starts at %v, want %v", rid, ridFor(30))
	}

	// upper_bound past every key equals leaf_end.
	hi, err := ix.UpperBound(IntKey(50))
	if err != nil {
		t.Fatalf("upper bound: %v", err)
	}
	if hi != end {
		t.Errorf("upper_bound(max) = %v, want leaf_end %v", hi, end)
	}
	if _, err := ix.GetRid(end); err == nil {
		t.Error("GetRid at leaf_end succeeded")
	}
}

func TestHeaderSurvivesReopen(t *testing.T) {
	dir := t.TempDir()
	dm := disk.NewManager(filepath.Join(dir, "db.log"))
	pool := memory.NewBufferPool(32, dm)
	m := NewManager(dm, pool)

	path := filepath.Join(dir, "t.idx")
	if err := m.createIndex(path, ColInt, 4, 4); err != nil {
		t.Fatalf("create: %v", err)
	}
	ix, err := m.OpenIndex(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	for k := int32(1); k <= 10; k++ {
		mustInsert(t, ix, k)
	}
	before := ix.Header()
	if err := m.CloseIndex(ix); err != nil {
		t.Fatalf("close: %v", err)
	}

	ix, err = m.OpenIndex(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer m.CloseIndex(ix)
	if got := ix.Header(); got != before {
		t.Fatalf("header after reopen = %+v, want %+v", got, before)
	}
	for k := int32(1); k <= 10; k++ {
		checkPresent(t, ix, k)
	}
	validateTree(t, ix)
}
