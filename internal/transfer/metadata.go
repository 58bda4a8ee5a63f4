// Package transfer implements the on-disk resumption state (the metadata
// sidecar) and the local/remote file views built on top of it.
package transfer

import (
	"encoding/binary"
	"fmt"
	"math"
	"os"
	"path/filepath"

	"gosend-transfer/internal/protocol"
)

// HeaderSize is the fixed byte length of the sidecar header: two 8-byte
// native-endian integers plus the whole-file hash.
const HeaderSize = 8 + 8 + protocol.HashSize

// MissingChunk is the sentinel returned by NextMissingChunk when every
// chunk in range is already marked.
const MissingChunk = math.MaxUint64

// Metadata is the sidecar file tracking one remote file's resumption
// state: file size, chunk size, whole-file hash, and a received-chunk
// bitmap. Every operation reopens the file on disk so the in-memory
// belief about chunk_size/n_chunks never drifts from what is durable.
type Metadata struct {
	path       string
	fileSize   uint64
	chunkSize  uint64
	fileHash   [protocol.HashSize]byte
	nChunks    uint64
	bitmapSize uint64
}

// SidecarPath returns the metadata path for a destination file path, e.g.
// "/in/peer/report.pdf" -> "/in/peer/.report.pdf.meta".
func SidecarPath(destPath string) string {
	dir := filepath.Dir(destPath)
	base := filepath.Base(destPath)
	return filepath.Join(dir, "."+base+".meta")
}

// New constructs the in-memory view of a sidecar for the given destination
// path, file size, chunk size and whole-file hash. It does not touch disk;
// call CreateIfNotExist to materialize it.
func New(destPath string, fileSize, chunkSize uint64, fileHash [protocol.HashSize]byte) *Metadata {
	nChunks := fileSize / chunkSize
	if fileSize%chunkSize > 0 {
		nChunks++
	}
	bitmapSize := nChunks / 8
	if nChunks%8 > 0 {
		bitmapSize++
	}

	return &Metadata{
		path:       SidecarPath(destPath),
		fileSize:   fileSize,
		chunkSize:  chunkSize,
		fileHash:   fileHash,
		nChunks:    nChunks,
		bitmapSize: bitmapSize,
	}
}

// FileSize returns the file size recorded in the header.
func (m *Metadata) FileSize() uint64 { return m.fileSize }

// FileHash returns the whole-file hash recorded in the header.
func (m *Metadata) FileHash() [protocol.HashSize]byte { return m.fileHash }

// NChunks returns the number of chunks implied by the header.
func (m *Metadata) NChunks() uint64 { return m.nChunks }

// CreateIfNotExist ensures the destination's parent directory exists and,
// if the sidecar is absent, writes the header and a zero-filled bitmap.
// It never truncates an existing sidecar.
func (m *Metadata) CreateIfNotExist() error {
	if err := os.MkdirAll(filepath.Dir(m.path), 0o755); err != nil {
		return fmt.Errorf("create destination directory: %w", err)
	}

	if _, err := os.Stat(m.path); err == nil {
		return nil
	} else if !os.IsNotExist(err) {
		return fmt.Errorf("stat sidecar %q: %w", m.path, err)
	}

	f, err := os.OpenFile(m.path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		if os.IsExist(err) {
			return nil
		}
		return fmt.Errorf("create sidecar %q: %w", m.path, err)
	}
	defer f.Close()

	header := make([]byte, HeaderSize)
	binary.NativeEndian.PutUint64(header[0:8], m.fileSize)
	binary.NativeEndian.PutUint64(header[8:16], m.chunkSize)
	copy(header[16:16+protocol.HashSize], m.fileHash[:])

	if _, err := f.Write(header); err != nil {
		return fmt.Errorf("write sidecar header: %w", err)
	}
	if _, err := f.Write(make([]byte, m.bitmapSize)); err != nil {
		return fmt.Errorf("write sidecar bitmap: %w", err)
	}
	return nil
}

// MarkChunk sets or clears the bit for chunk idx via a single read-modify-
// write, so a crash between the read and the write leaves the prior state.
func (m *Metadata) MarkChunk(idx uint64, valid bool) error {
	f, err := os.OpenFile(m.path, os.O_RDWR, 0o644)
	if err != nil {
		return fmt.Errorf("open sidecar %q: %w", m.path, err)
	}
	defer f.Close()

	offset := int64(HeaderSize + idx/8)
	var b [1]byte
	if _, err := f.ReadAt(b[:], offset); err != nil {
		return fmt.Errorf("read bitmap byte: %w", err)
	}

	bit := byte(1) << (7 - idx%8)
	if valid {
		b[0] |= bit
	} else {
		b[0] &^= bit
	}

	if _, err := f.WriteAt(b[:], offset); err != nil {
		return fmt.Errorf("write bitmap byte: %w", err)
	}
	return nil
}

// NextMissingChunk scans the bitmap starting at chunk from, skipping whole
// 0xFF bytes, then returns the first zero bit found MSB-first. It returns
// MissingChunk if every chunk in [0, n_chunks) is marked.
func (m *Metadata) NextMissingChunk(from uint64) (uint64, error) {
	f, err := os.Open(m.path)
	if err != nil {
		return MissingChunk, fmt.Errorf("open sidecar %q: %w", m.path, err)
	}
	defer f.Close()

	byteIdx := from / 8
	buf := make([]byte, 1)
	for {
		n, _ := f.ReadAt(buf, int64(HeaderSize+byteIdx))
		if n == 0 {
			return MissingChunk, nil
		}
		if buf[0] != 0xFF {
			break
		}
		byteIdx++
	}

	b := buf[0]
	base := byteIdx * 8
	for bit := 0; bit < 8; bit++ {
		if (b>>(7-bit))&0x01 == 0 {
			idx := base + uint64(bit)
			if idx < m.nChunks {
				return idx, nil
			}
			return MissingChunk, nil
		}
	}
	return MissingChunk, nil
}

// ReadHeader loads (file_size, chunk_size, file_hash) from an existing
// sidecar without instantiating a full Metadata, letting the receiver role
// rediscover an in-progress transfer from just a destination path.
func ReadHeader(destPath string) (fileSize, chunkSize uint64, fileHash [protocol.HashSize]byte, err error) {
	path := SidecarPath(destPath)
	f, openErr := os.Open(path)
	if openErr != nil {
		err = fmt.Errorf("open sidecar %q: %w", path, openErr)
		return
	}
	defer f.Close()

	header := make([]byte, HeaderSize)
	if _, readErr := f.ReadAt(header, 0); readErr != nil {
		err = fmt.Errorf("read sidecar header: %w", readErr)
		return
	}

	fileSize = binary.NativeEndian.Uint64(header[0:8])
	chunkSize = binary.NativeEndian.Uint64(header[8:16])
	copy(fileHash[:], header[16:16+protocol.HashSize])
	return
}
