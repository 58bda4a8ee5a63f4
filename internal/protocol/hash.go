package protocol

import (
	"fmt"
	"io"

	"golang.org/x/crypto/blake2b"
)

const (
	// HashSize is the length of H_file, the whole-file digest.
	HashSize = 64
	// ChunkHashSize is the length of H_chunk, the per-chunk digest.
	ChunkHashSize = 32
)

// HashReader streams r and returns its whole-file digest. Used both by the
// local file source (hashing the source file eagerly on offer) and the
// remote file sink (recomputing the destination's digest once the bitmap
// reports completion).
func HashReader(r io.Reader) ([HashSize]byte, error) {
	var out [HashSize]byte

	h, err := blake2b.New512(nil)
	if err != nil {
		return out, fmt.Errorf("init whole-file hasher: %w", err)
	}
	if _, err := io.Copy(h, r); err != nil {
		return out, fmt.Errorf("hash stream: %w", err)
	}

	copy(out[:], h.Sum(nil))
	return out, nil
}

// HashChunk returns the digest of a single chunk's plaintext bytes.
func HashChunk(data []byte) [ChunkHashSize]byte {
	var out [ChunkHashSize]byte
	sum := blake2b.Sum256(data)
	copy(out[:], sum[:])
	return out
}
