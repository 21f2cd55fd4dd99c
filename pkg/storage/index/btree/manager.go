package btree

import (
	"fmt"

	"stratadb/pkg/logging"
	"stratadb/pkg/memory"
	"stratadb/pkg/primitives"
	"stratadb/pkg/storage/disk"
)

// Manager creates, destroys, opens, and closes index files.
type Manager struct {
	disk *disk.Manager
	pool *memory.BufferPool
}

// NewManager wires an index manager to its disk manager and buffer pool.
func NewManager(dm *disk.Manager, pool *memory.BufferPool) *Manager {
	return &Manager{disk: dm, pool: pool}
}

// CreateIndex creates an index file for keys of the given type and
// width, with node fan-out as large as a page allows. The file starts
// with a single empty leaf as root.
func (m *Manager) CreateIndex(path string, colType ColType, colLen int) error {
	return m.createIndex(path, colType, colLen, keysPerNode(colLen))
}

// createIndex creates an index with an explicit fan-out. CreateIndex
// computes the natural maximum.
func (m *Manager) createIndex(path string, colType ColType, colLen, perNode int) error {
	if want := colType.KeyLen(); want != 0 && colLen != want {
		return fmt.Errorf("key type requires %d-byte keys, got %d", want, colLen)
	}
	if colLen <= 0 {
		return fmt.Errorf("key width must be positive, got %d", colLen)
	}
	if perNode < 2 || perNode > keysPerNode(colLen) {
		return fmt.Errorf("%d keys of %d bytes do not fit one node page", perNode, colLen)
	}
	if err := m.disk.CreateFile(path); err != nil {
		return err
	}
	fd, err := m.disk.OpenFile(path)
	if err != nil {
		return err
	}

	hdr := IndexHeader{
		ColType:     colType,
		ColLen:      int32(colLen),
		NumPages:    2,
		RootPage:    1,
		FirstLeaf:   1,
		LastLeaf:    1,
		KeysPerNode: int32(perNode),
	}
	var page [primitives.PageSize]byte
	hdr.encode(page[:])
	if err := m.disk.WritePage(fd, 0, page[:]); err != nil {
		return err
	}

	// The initial root: an empty leaf with no neighbors and no parent.
	var rootPage [primitives.PageSize]byte
	initNodePage(rootPage[:])
	if err := m.disk.WritePage(fd, 1, rootPage[:]); err != nil {
		return err
	}
	logging.L().Infow("created index file",
		"path", path, "col_len", colLen, "keys_per_node", perNode)
	return m.disk.CloseFile(fd)
}

// DestroyIndex removes a closed index file.
func (m *Manager) DestroyIndex(path string) error {
	return m.disk.DestroyFile(path)
}

// OpenIndex opens an index file and returns a handle over it, seeding
// the page allocator from the header's page count.
func (m *Manager) OpenIndex(path string) (*Index, error) {
	fd, err := m.disk.OpenFile(path)
	if err != nil {
		return nil, err
	}
	var page [primitives.PageSize]byte
	if err := m.disk.ReadPage(fd, 0, page[:]); err != nil {
		return nil, err
	}
	ix := &Index{disk: m.disk, pool: m.pool, fd: fd}
	if err := ix.hdr.decode(page[:]); err != nil {
		m.disk.CloseFile(fd)
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	m.disk.SetNextPageNo(fd, primitives.PageNum(ix.hdr.NumPages))
	return ix, nil
}

// CloseIndex flushes the index's pages, writes the header back to page
// 0, and closes the descriptor.
func (m *Manager) CloseIndex(ix *Index) error {
	m.pool.FlushAllPages(ix.fd)
	if !m.pool.EvictAllPages(ix.fd) {
		return fmt.Errorf("close with pinned pages on fd %d", ix.fd)
	}
	var page [primitives.PageSize]byte
	ix.hdr.encode(page[:])
	if err := m.disk.WritePage(ix.fd, 0, page[:]); err != nil {
		return err
	}
	return m.disk.CloseFile(ix.fd)
}
