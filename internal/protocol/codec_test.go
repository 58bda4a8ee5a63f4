package protocol

import (
	"bytes"
	"testing"
)

func samplePeerID() [PeerIDSize]byte {
	var id [PeerIDSize]byte
	for i := range id {
		id[i] = byte(i + 1)
	}
	return id
}

func TestCodecRoundTripOffer(t *testing.T) {
	msg := Message{
		Type:      TypeOffer,
		SeqNumber: 1,
		PeerID:    samplePeerID(),
		FileName:  "report.pdf",
		FileSize:  10000,
		NChunks:   3,
		FileHash:  [HashSize]byte{1, 2, 3},
	}

	frame, err := Encode(msg)
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}

	got, err := Decode(frame)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if got.Type != msg.Type || got.SeqNumber != msg.SeqNumber || got.PeerID != msg.PeerID ||
		got.FileName != msg.FileName || got.FileSize != msg.FileSize ||
		got.NChunks != msg.NChunks || got.FileHash != msg.FileHash {
		t.Fatalf("round trip mismatch: got %+v want %+v", got, msg)
	}
}

func TestCodecRoundTripChunkData(t *testing.T) {
	data := bytes.Repeat([]byte{0xAB}, 100)
	msg := Message{
		Type:      TypeChunkData,
		SeqNumber: 7,
		PeerID:    samplePeerID(),
		FileName:  "x.bin",
		ChunkIdx:  2,
		ChunkData: data,
		ChunkHash: HashChunk(data),
	}

	frame, err := Encode(msg)
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	got, err := Decode(frame)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if got.ChunkIdx != msg.ChunkIdx || !bytes.Equal(got.ChunkData, msg.ChunkData) || got.ChunkHash != msg.ChunkHash {
		t.Fatalf("round trip mismatch: got %+v", got)
	}
}

func TestCodecRoundTripChunkReqAndComplete(t *testing.T) {
	reqMsg := NewChunkReq(3, samplePeerID(), "a.bin", 5)
	frame, err := Encode(reqMsg)
	if err != nil {
		t.Fatalf("Encode CHUNK_REQ failed: %v", err)
	}
	got, err := Decode(frame)
	if err != nil {
		t.Fatalf("Decode CHUNK_REQ failed: %v", err)
	}
	if got.ChunkFirst != 5 || got.ChunkLast != unspecifiedChunkReqLast {
		t.Fatalf("unexpected CHUNK_REQ fields: %+v", got)
	}

	completeMsg := Message{Type: TypeComplete, SeqNumber: 9, PeerID: samplePeerID(), FileName: "a.bin"}
	frame, err = Encode(completeMsg)
	if err != nil {
		t.Fatalf("Encode COMPLETE failed: %v", err)
	}
	got, err = Decode(frame)
	if err != nil {
		t.Fatalf("Decode COMPLETE failed: %v", err)
	}
	if got.Type != TypeComplete || got.FileName != "a.bin" {
		t.Fatalf("unexpected COMPLETE fields: %+v", got)
	}
}

func TestEncodeRejectsOversizedFileName(t *testing.T) {
	msg := Message{Type: TypeComplete, FileName: string(bytes.Repeat([]byte{'a'}, 256))}
	if _, err := Encode(msg); err != ErrFileNameTooLong {
		t.Fatalf("expected ErrFileNameTooLong, got %v", err)
	}
}

func TestEncodeRejectsInvalidChunkLength(t *testing.T) {
	if _, err := Encode(Message{Type: TypeChunkData, ChunkData: nil}); err != ErrInvalidChunkLen {
		t.Fatalf("expected ErrInvalidChunkLen for empty chunk, got %v", err)
	}
	oversized := bytes.Repeat([]byte{1}, ChunkSize+1)
	if _, err := Encode(Message{Type: TypeChunkData, ChunkData: oversized}); err != ErrInvalidChunkLen {
		t.Fatalf("expected ErrInvalidChunkLen for oversized chunk, got %v", err)
	}
}

func TestDecodeRejectsBadMagic(t *testing.T) {
	frame := []byte{0x00, 0x00, 0x00, TypeComplete, 0x00, 0x00}
	if _, err := Decode(frame); err != ErrUnknownType {
		t.Fatalf("expected ErrUnknownType, got %v", err)
	}
}

func TestDecodeRejectsUnknownTypeTag(t *testing.T) {
	frame := append(append([]byte{}, Magic[:]...), 0x09, 0x00, 0x00)
	if _, err := Decode(frame); err == nil {
		t.Fatalf("expected error for unknown type tag")
	}
}

func TestDecodeRejectsTruncatedPayload(t *testing.T) {
	msg := Message{Type: TypeOffer, FileName: "a", FileSize: 1, NChunks: 1}
	frame, err := Encode(msg)
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	truncated := frame[:len(frame)-10]
	if _, err := Decode(truncated); err == nil {
		t.Fatalf("expected error for truncated payload")
	}
}

func TestHashReaderAndHashChunkSizes(t *testing.T) {
	digest, err := HashReader(bytes.NewReader([]byte("hello world")))
	if err != nil {
		t.Fatalf("HashReader failed: %v", err)
	}
	var zero [HashSize]byte
	if digest == zero {
		t.Fatalf("expected non-zero digest")
	}

	chunkDigest := HashChunk([]byte("hello world"))
	var zeroChunk [ChunkHashSize]byte
	if chunkDigest == zeroChunk {
		t.Fatalf("expected non-zero chunk digest")
	}
}
