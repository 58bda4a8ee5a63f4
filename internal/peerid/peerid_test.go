package peerid

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
)

func writeFile(path string, data []byte) error {
	return os.WriteFile(path, data, 0o600)
}

func formatUUID(id [Size]byte) string {
	return uuid.UUID(id).String()
}

func TestLoadGeneratesAndPersists(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".uploader", ".uuid")

	first, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	var zero [Size]byte
	if first == zero {
		t.Fatalf("expected non-zero generated peer id")
	}

	second, err := Load(path)
	if err != nil {
		t.Fatalf("second Load failed: %v", err)
	}
	if second != first {
		t.Fatalf("expected stable peer id across loads, got %x then %x", first, second)
	}
}

func TestLoadRejectsWrongLength(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".uuid")
	if err := writeFile(path, []byte("short")); err != nil {
		t.Fatalf("setup write failed: %v", err)
	}

	if _, err := Load(path); err == nil {
		t.Fatalf("expected error for malformed peer id file")
	}
}

func TestParseRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".uuid")
	id, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	hexStr := formatUUID(id)
	parsed, err := Parse(hexStr)
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if parsed != id {
		t.Fatalf("round trip mismatch: got %x want %x", parsed, id)
	}
}
