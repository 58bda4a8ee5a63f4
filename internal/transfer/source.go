package transfer

import (
	"fmt"
	"os"

	"gosend-transfer/internal/protocol"
)

// Chunk is one fixed-size slice of a file plus its digest.
type Chunk struct {
	Idx  uint64
	Data []byte
	Hash [protocol.ChunkHashSize]byte
}

// Source is a read-only view of a local file being offered for upload.
// Its whole-file digest is computed once, eagerly, at construction.
type Source struct {
	path      string
	size      uint64
	chunkSize uint64
	hash      [protocol.HashSize]byte
}

// NewSource opens path, computes its size and whole-file digest, and
// returns the ready-to-offer source. The hash computation streams the
// file through the hasher rather than loading it into memory.
func NewSource(path string, chunkSize uint64) (*Source, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("stat source file %q: %w", path, err)
	}
	if !info.Mode().IsRegular() {
		return nil, fmt.Errorf("source %q is not a regular file", path)
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open source file %q: %w", path, err)
	}
	defer f.Close()

	hash, err := protocol.HashReader(f)
	if err != nil {
		return nil, fmt.Errorf("hash source file %q: %w", path, err)
	}

	return &Source{
		path:      path,
		size:      uint64(info.Size()),
		chunkSize: chunkSize,
		hash:      hash,
	}, nil
}

// Size returns the file's total byte length.
func (s *Source) Size() uint64 { return s.size }

// Hash returns the whole-file digest computed at construction.
func (s *Source) Hash() [protocol.HashSize]byte { return s.hash }

// NChunks returns the number of chunks this file is divided into.
func (s *Source) NChunks() uint64 {
	n := s.size / s.chunkSize
	if s.size%s.chunkSize > 0 {
		n++
	}
	return n
}

// GetChunk reads chunk idx and returns it with its digest. An out-of-range
// index yields an error; callers at the uploader role log and drop it
// rather than crash the connection.
func (s *Source) GetChunk(idx uint64) (Chunk, error) {
	offset := idx * s.chunkSize
	if offset > s.size {
		return Chunk{}, fmt.Errorf("chunk index %d outside file length range", idx)
	}

	length := s.chunkSize
	if remaining := s.size - offset; remaining < length {
		length = remaining
	}
	if length == 0 {
		return Chunk{}, fmt.Errorf("chunk index %d outside file length range", idx)
	}

	f, err := os.Open(s.path)
	if err != nil {
		return Chunk{}, fmt.Errorf("open source file %q: %w", s.path, err)
	}
	defer f.Close()

	data := make([]byte, length)
	if _, err := f.ReadAt(data, int64(offset)); err != nil {
		return Chunk{}, fmt.Errorf("read chunk %d: %w", idx, err)
	}

	return Chunk{Idx: idx, Data: data, Hash: protocol.HashChunk(data)}, nil
}
