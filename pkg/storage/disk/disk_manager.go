// Package disk owns every file descriptor of the storage engine. It
// multiplexes page-aligned I/O over the open files, allocates page
// numbers monotonically per file, and exposes the append/read surface
// of the flat log file consumed by recovery.
package disk

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sync"

	"stratadb/pkg/dberr"
	"stratadb/pkg/logging"
	"stratadb/pkg/primitives"
)

// Manager tracks open files in both directions (path to fd and back)
// and hands out page numbers. The file tables are guarded by an
// internal mutex; page reads and writes are not serialized here — the
// buffer pool's latch and pin discipline keep concurrent access to the
// same page apart.
type Manager struct {
	mu       sync.RWMutex
	pathToFD map[string]int
	fdToFile map[int]*os.File
	fdToPath map[int]string
	nextPage map[int]primitives.PageNum

	logPath string
	logMu   sync.Mutex
	logFile *os.File
}

// NewManager creates a disk manager whose log file lives at logPath.
// The log file is opened lazily on first WriteLog/ReadLog.
func NewManager(logPath string) *Manager {
	return &Manager{
		pathToFD: make(map[string]int),
		fdToFile: make(map[int]*os.File),
		fdToPath: make(map[int]string),
		nextPage: make(map[int]primitives.PageNum),
		logPath:  logPath,
	}
}

// IsFile reports whether path names an existing regular file.
func IsFile(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}

// IsDir reports whether path names an existing directory.
func IsDir(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}

// CreateDir creates the directory at path, including parents.
func CreateDir(path string) error {
	if err := os.MkdirAll(path, 0o755); err != nil {
		return fmt.Errorf("create dir %s: %w", path, err)
	}
	return nil
}

// DestroyDir removes the directory at path and everything below it.
func DestroyDir(path string) error {
	if err := os.RemoveAll(path); err != nil {
		return fmt.Errorf("destroy dir %s: %w", path, err)
	}
	return nil
}

// CreateFile creates an empty file at path. The file must not exist.
func (m *Manager) CreateFile(path string) error {
	if IsFile(path) {
		return dberr.FileExists(path)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		if errors.Is(err, os.ErrExist) {
			return dberr.FileExists(path)
		}
		return fmt.Errorf("create %s: %w", path, dberr.ErrIO)
	}
	logging.L().Debugw("created file", "path", path)
	return f.Close()
}

// DestroyFile removes the file at path. The file must exist and must
// not be open through this manager.
func (m *Manager) DestroyFile(path string) error {
	if !IsFile(path) {
		return dberr.FileNotFound(path)
	}
	m.mu.Lock()
	if _, open := m.pathToFD[path]; open {
		m.mu.Unlock()
		return dberr.FileNotClosed(path)
	}
	m.mu.Unlock()

	if err := os.Remove(path); err != nil {
		return fmt.Errorf("destroy %s: %w", path, dberr.ErrIO)
	}
	logging.L().Debugw("destroyed file", "path", path)
	return nil
}

// OpenFile opens path for page I/O and returns its descriptor. A file
// may be open at most once per manager.
func (m *Manager) OpenFile(path string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, open := m.pathToFD[path]; open {
		return -1, dberr.FileNotClosed(path)
	}
	if !IsFile(path) {
		return -1, dberr.FileNotFound(path)
	}
	f, err := os.OpenFile(path, os.O_RDWR, 0o644)
	if err != nil {
		return -1, fmt.Errorf("open %s: %w", path, dberr.ErrIO)
	}

	fd := int(f.Fd())
	m.pathToFD[path] = fd
	m.fdToFile[fd] = f
	m.fdToPath[fd] = path
	logging.L().Debugw("opened file", "path", path, "fd", fd)
	return fd, nil
}

// CloseFile closes the descriptor and drops it from the file tables.
func (m *Manager) CloseFile(fd int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	f, ok := m.fdToFile[fd]
	if !ok {
		return dberr.FileNotOpen(fd)
	}
	path := m.fdToPath[fd]
	delete(m.pathToFD, path)
	delete(m.fdToFile, fd)
	delete(m.fdToPath, fd)
	delete(m.nextPage, fd)

	if err := f.Close(); err != nil {
		return fmt.Errorf("close %s: %w", path, dberr.ErrIO)
	}
	logging.L().Debugw("closed file", "path", path, "fd", fd)
	return nil
}

// FilePath returns the path an open descriptor was opened with.
func (m *Manager) FilePath(fd int) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	path, ok := m.fdToPath[fd]
	if !ok {
		return "", dberr.FileNotOpen(fd)
	}
	return path, nil
}

// FileFD returns the descriptor for path, opening the file on demand.
func (m *Manager) FileFD(path string) (int, error) {
	m.mu.RLock()
	fd, open := m.pathToFD[path]
	m.mu.RUnlock()
	if open {
		return fd, nil
	}
	return m.OpenFile(path)
}

// GetFileSize returns the size in bytes of the file at path.
func GetFileSize(path string) (int64, error) {
	info, err := os.Stat(path)
	if err != nil {
		return 0, fmt.Errorf("stat %s: %w", path, dberr.ErrIO)
	}
	return info.Size(), nil
}

// file resolves an fd to its open handle.
func (m *Manager) file(fd int) (*os.File, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	f, ok := m.fdToFile[fd]
	if !ok {
		return nil, dberr.FileNotOpen(fd)
	}
	return f, nil
}

// WritePage writes buf at the byte offset of pageNo. A short write is
// an I/O error: pages are written whole or not at all.
func (m *Manager) WritePage(fd int, pageNo primitives.PageNum, buf []byte) error {
	f, err := m.file(fd)
	if err != nil {
		return err
	}
	off := int64(pageNo) * primitives.PageSize
	n, err := f.WriteAt(buf, off)
	if err != nil || n != len(buf) {
		return fmt.Errorf("write page %d of fd %d: wrote %d of %d bytes: %w",
			pageNo, fd, n, len(buf), dberr.ErrIO)
	}
	return nil
}

// ReadPage reads the page at pageNo into buf. A page lying wholly past
// the end of the file reads as zeros, matching the contents a freshly
// allocated page would have after writeback. A page cut short by the
// end of the file is an I/O error.
func (m *Manager) ReadPage(fd int, pageNo primitives.PageNum, buf []byte) error {
	f, err := m.file(fd)
	if err != nil {
		return err
	}
	off := int64(pageNo) * primitives.PageSize
	n, err := f.ReadAt(buf, off)
	if err != nil && err != io.EOF {
		return fmt.Errorf("read page %d of fd %d: %w", pageNo, fd, dberr.ErrIO)
	}
	if err == io.EOF && n > 0 {
		return fmt.Errorf("read page %d of fd %d: read %d of %d bytes: %w",
			pageNo, fd, n, len(buf), dberr.ErrIO)
	}
	for i := n; i < len(buf); i++ {
		buf[i] = 0
	}
	return nil
}

// AllocatePage returns the next page number of fd and advances the
// counter. Page numbers are monotonic per file and never reused.
func (m *Manager) AllocatePage(fd int) primitives.PageNum {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := m.nextPage[fd]
	m.nextPage[fd] = n + 1
	return n
}

// DeallocatePage is a no-op: space reclamation is in-page only. A free
// page bitmap in the file header would be needed to reuse page numbers.
func (m *Manager) DeallocatePage(pageNo primitives.PageNum) {}

// SetNextPageNo seeds the allocation counter of fd, typically from a
// file header's page count when the file is opened.
func (m *Manager) SetNextPageNo(fd int, next primitives.PageNum) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextPage[fd] = next
}

// NextPageNo returns the page number the next AllocatePage would yield.
func (m *Manager) NextPageNo(fd int) primitives.PageNum {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.nextPage[fd]
}
