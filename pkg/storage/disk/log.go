package disk

import (
	"fmt"
	"io"
	"os"

	"stratadb/pkg/dberr"
)

// openLog opens the log file on first use. Callers hold logMu.
func (m *Manager) openLog() error {
	if m.logFile != nil {
		return nil
	}
	f, err := os.OpenFile(m.logPath, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return fmt.Errorf("open log %s: %w", m.logPath, dberr.ErrIO)
	}
	m.logFile = f
	return nil
}

// WriteLog appends buf to the log file. The log is a flat byte stream;
// framing of individual entries is the recovery driver's concern.
func (m *Manager) WriteLog(buf []byte) error {
	m.logMu.Lock()
	defer m.logMu.Unlock()

	if err := m.openLog(); err != nil {
		return err
	}
	end, err := m.logFile.Seek(0, io.SeekEnd)
	if err != nil {
		return fmt.Errorf("seek log end: %w", dberr.ErrIO)
	}
	n, err := m.logFile.WriteAt(buf, end)
	if err != nil || n != len(buf) {
		return fmt.Errorf("append log: wrote %d of %d bytes: %w", n, len(buf), dberr.ErrIO)
	}
	return nil
}

// ReadLog fills buf from the log starting at prevEnd+offset. It returns
// the number of bytes read and false once the position is at or past
// the end of the log.
func (m *Manager) ReadLog(buf []byte, offset, prevEnd int64) (int, bool, error) {
	m.logMu.Lock()
	defer m.logMu.Unlock()

	if err := m.openLog(); err != nil {
		return 0, false, err
	}
	info, err := m.logFile.Stat()
	if err != nil {
		return 0, false, fmt.Errorf("stat log: %w", dberr.ErrIO)
	}
	pos := prevEnd + offset
	if pos >= info.Size() {
		return 0, false, nil
	}

	want := int64(len(buf))
	if remain := info.Size() - pos; remain < want {
		want = remain
	}
	n, err := m.logFile.ReadAt(buf[:want], pos)
	if err != nil && err != io.EOF {
		return n, false, fmt.Errorf("read log at %d: %w", pos, dberr.ErrIO)
	}
	return n, true, nil
}

// CloseLog closes the log file if it was opened.
func (m *Manager) CloseLog() error {
	m.logMu.Lock()
	defer m.logMu.Unlock()
	if m.logFile == nil {
		return nil
	}
	err := m.logFile.Close()
	m.logFile = nil
	return err
}
