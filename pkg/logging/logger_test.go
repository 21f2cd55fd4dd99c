package logging

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestInitRejectsUnknownLevel(t *testing.T) {
	if err := Init(Config{Level: "chatty"}); err == nil {
		t.Fatal("unknown level accepted")
	}
}

func TestUninitializedLoggerIsUsable(t *testing.T) {
	// Before Init the logger is a no-op, not nil.
	L().Infow("should not panic", "k", "v")
}

func TestInitWritesToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.log")
	if err := Init(Config{Level: "debug", Format: "json", Output: path}); err != nil {
		t.Fatalf("init: %v", err)
	}
	L().Infow("hello", "component", "test")
	if err := Sync(); err != nil {
		t.Logf("sync: %v", err) // sync of a plain file can fail on some platforms
	}

	body, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	if !strings.Contains(string(body), `"component":"test"`) {
		t.Errorf("log output missing field: %q", body)
	}

	// Reset to a quiet logger for other tests.
	if err := Init(Config{Level: "error", Output: "stderr"}); err != nil {
		t.Fatalf("re-init: %v", err)
	}
}
