// Package peerid persists the uploader's stable 16-byte identity.
package peerid

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"
)

// Size is the wire length of a peer id, matching the file-offer message's
// peer id field.
const Size = 16

// DefaultPath returns ~/.uploader/.uuid, creating no directories itself.
func DefaultPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve user home: %w", err)
	}
	return filepath.Join(home, ".uploader", ".uuid"), nil
}

// Load reads the 16 raw peer id bytes persisted at path, generating and
// persisting a new random id if the file does not exist.
func Load(path string) ([Size]byte, error) {
	var id [Size]byte

	raw, err := os.ReadFile(path)
	if err == nil {
		if len(raw) != Size {
			return id, fmt.Errorf("peer id file %q has unexpected length %d", path, len(raw))
		}
		copy(id[:], raw)
		return id, nil
	}
	if !os.IsNotExist(err) {
		return id, fmt.Errorf("read peer id file %q: %w", path, err)
	}

	generated, err := uuid.NewRandom()
	if err != nil {
		return id, fmt.Errorf("generate peer id: %w", err)
	}
	id = [Size]byte(generated)

	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return id, fmt.Errorf("create peer id directory: %w", err)
	}
	if err := os.WriteFile(path, id[:], 0o600); err != nil {
		return id, fmt.Errorf("write peer id file %q: %w", path, err)
	}

	return id, nil
}

// Format renders id the way the CLI and logs display it: the same
// hyphenated hex form Parse accepts back.
func Format(id [Size]byte) string {
	return uuid.UUID(id).String()
}

// Parse decodes a peer id override given as a hex string on the command line.
func Parse(hexPeerID string) ([Size]byte, error) {
	var id [Size]byte
	parsed, err := uuid.Parse(hexPeerID)
	if err != nil {
		return id, fmt.Errorf("parse peer id %q: %w", hexPeerID, err)
	}
	id = [Size]byte(parsed)
	return id, nil
}
