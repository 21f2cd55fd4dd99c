package heap

import (
	"fmt"

	"stratadb/pkg/logging"
	"stratadb/pkg/memory"
	"stratadb/pkg/primitives"
	"stratadb/pkg/storage/disk"
)

// Manager creates, destroys, opens, and closes record files. Open
// handles are exclusive: the disk manager refuses a second open of the
// same path.
type Manager struct {
	disk *disk.Manager
	pool *memory.BufferPool
}

// NewManager wires a record file manager to its disk manager and
// buffer pool.
func NewManager(dm *disk.Manager, pool *memory.BufferPool) *Manager {
	return &Manager{disk: dm, pool: pool}
}

// CreateFile creates a record file for fixed recordSize-byte records,
// packing as many slots per page as fit.
func (m *Manager) CreateFile(path string, recordSize int) error {
	return m.createFile(path, recordSize, recordsPerPage(recordSize))
}

// createFile creates a record file with an explicit slot count. The
// count must fit the page; CreateFile computes the natural maximum.
func (m *Manager) createFile(path string, recordSize, perPage int) error {
	if recordSize <= 0 {
		return fmt.Errorf("record size must be positive, got %d", recordSize)
	}
	if perPage <= 0 || pageHeaderSize+(perPage+7)/8+perPage*recordSize > primitives.PageSize {
		return fmt.Errorf("%d records of %d bytes do not fit one page", perPage, recordSize)
	}
	if err := m.disk.CreateFile(path); err != nil {
		return err
	}
	fd, err := m.disk.OpenFile(path)
	if err != nil {
		return err
	}

	hdr := FileHeader{
		RecordSize:     int32(recordSize),
		RecordsPerPage: int32(perPage),
		BitmapSize:     int32((perPage + 7) / 8),
		NumPages:       1,
		FirstFreePage:  primitives.NoPage,
	}
	var page [primitives.PageSize]byte
	hdr.encode(page[:])
	if err := m.disk.WritePage(fd, 0, page[:]); err != nil {
		return err
	}
	logging.L().Infow("created record file",
		"path", path, "record_size", recordSize, "records_per_page", perPage)
	return m.disk.CloseFile(fd)
}

// DestroyFile removes a closed record file.
func (m *Manager) DestroyFile(path string) error {
	return m.disk.DestroyFile(path)
}

// OpenFile opens a record file and returns a handle over it. The
// header is read from page 0 and the page allocator is seeded with the
// file's page count.
func (m *Manager) OpenFile(path string) (*RecordFile, error) {
	fd, err := m.disk.OpenFile(path)
	if err != nil {
		return nil, err
	}
	var page [primitives.PageSize]byte
	if err := m.disk.ReadPage(fd, 0, page[:]); err != nil {
		return nil, err
	}
	file := &RecordFile{disk: m.disk, pool: m.pool, fd: fd}
	if err := file.hdr.decode(page[:]); err != nil {
		m.disk.CloseFile(fd)
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	m.disk.SetNextPageNo(fd, primitives.PageNum(file.hdr.NumPages))
	return file, nil
}

// CloseFile flushes the file's pages, writes the header back to page 0,
// and closes the descriptor. The handle must not be used afterwards.
func (m *Manager) CloseFile(file *RecordFile) error {
	m.pool.FlushAllPages(file.fd)
	if !m.pool.EvictAllPages(file.fd) {
		return fmt.Errorf("close with pinned pages on fd %d", file.fd)
	}

	var page [primitives.PageSize]byte
	file.hdr.encode(page[:])
	if err := m.disk.WritePage(file.fd, 0, page[:]); err != nil {
		return err
	}
	return m.disk.CloseFile(file.fd)
}
