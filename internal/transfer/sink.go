package transfer

import (
	"fmt"
	"log"
	"os"

	"gosend-transfer/internal/protocol"
)

// Sink is the receiver-side destination for a file in transit: a
// pre-allocated file on disk paired with its Metadata sidecar.
type Sink struct {
	path string
	meta *Metadata
	size uint64
	hash [protocol.HashSize]byte
}

// NewSink constructs (or reopens) the sink for path given the offered
// size and whole-file hash. It ensures the parent directory, the sidecar
// metadata, and the destination file's logical length, sparsely
// preallocating by writing a single zero byte at size-1.
func NewSink(path string, size uint64, hash [protocol.HashSize]byte, chunkSize uint64) (*Sink, error) {
	meta := New(path, size, chunkSize, hash)
	if err := meta.CreateIfNotExist(); err != nil {
		return nil, err
	}

	if _, err := os.Stat(path); os.IsNotExist(err) {
		f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE, 0o644)
		if err != nil {
			return nil, fmt.Errorf("create destination file %q: %w", path, err)
		}
		if size > 0 {
			if _, err := f.WriteAt([]byte{0}, int64(size-1)); err != nil {
				f.Close()
				return nil, fmt.Errorf("preallocate destination file %q: %w", path, err)
			}
		}
		if err := f.Close(); err != nil {
			return nil, fmt.Errorf("close destination file %q: %w", path, err)
		}
	} else if err != nil {
		return nil, fmt.Errorf("stat destination file %q: %w", path, err)
	}

	return &Sink{path: path, meta: meta, size: size, hash: hash}, nil
}

// ReopenSink reconstructs a Sink for an in-progress transfer by reading its
// sidecar header, recovering size and whole-file hash from disk rather
// than from the wire.
func ReopenSink(path string, chunkSize uint64) (*Sink, error) {
	size, _, hash, err := ReadHeader(path)
	if err != nil {
		return nil, err
	}
	return NewSink(path, size, hash, chunkSize)
}

// NextMissingChunk delegates to the sidecar metadata.
func (s *Sink) NextMissingChunk(from uint64) (uint64, error) {
	return s.meta.NextMissingChunk(from)
}

// NChunks returns the number of chunks implied by the sidecar header.
func (s *Sink) NChunks() uint64 { return s.meta.NChunks() }

// Size returns the total file size recorded in the sidecar header.
func (s *Sink) Size() uint64 { return s.meta.FileSize() }

// SaveChunk validates and writes a received chunk, then marks it in the
// bitmap. An invalid offset or length is logged and ignored rather than
// raised, matching the receiver's tolerant handling of malformed data.
func (s *Sink) SaveChunk(c Chunk) error {
	chunkSize := s.meta.chunkSize
	offset := c.Idx * chunkSize
	if offset > s.size {
		log.Printf("transfer: dropping chunk %d for %q: offset outside file length range", c.Idx, s.path)
		return nil
	}

	expected := chunkSize
	if remaining := s.size - offset; remaining < expected {
		expected = remaining
	}
	if uint64(len(c.Data)) != expected {
		log.Printf("transfer: dropping chunk %d for %q: invalid length %d (want %d)", c.Idx, s.path, len(c.Data), expected)
		return nil
	}

	f, err := os.OpenFile(s.path, os.O_RDWR, 0o644)
	if err != nil {
		return fmt.Errorf("open destination file %q: %w", s.path, err)
	}
	defer f.Close()

	if _, err := f.WriteAt(c.Data, int64(offset)); err != nil {
		return fmt.Errorf("write chunk %d: %w", c.Idx, err)
	}

	return s.meta.MarkChunk(c.Idx, true)
}

// IsComplete is two-stage: the bitmap must first report "no missing
// chunk"; only then is H_file recomputed over the destination file and
// compared bitwise against the offered hash.
func (s *Sink) IsComplete() (bool, error) {
	if _, err := os.Stat(s.path); err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("stat destination file %q: %w", s.path, err)
	}

	next, err := s.meta.NextMissingChunk(0)
	if err != nil {
		return false, err
	}
	if next != MissingChunk {
		return false, nil
	}

	f, err := os.Open(s.path)
	if err != nil {
		return false, fmt.Errorf("open destination file %q: %w", s.path, err)
	}
	defer f.Close()

	localHash, err := protocol.HashReader(f)
	if err != nil {
		return false, fmt.Errorf("hash destination file %q: %w", s.path, err)
	}

	return localHash == s.hash, nil
}
