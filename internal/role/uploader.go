// Package role implements the two request-handling strategies injected
// into the broker: Uploader offers a file and serves the chunks the
// receiver asks for, Receiver accepts offers and drives the resumable
// download to completion.
package role

import (
	"log"
	"path/filepath"
	"sync"

	"gosend-transfer/internal/loop"
	"gosend-transfer/internal/peerid"
	"gosend-transfer/internal/protocol"
	"gosend-transfer/internal/transfer"
	"gosend-transfer/storage"
)

// Uploader offers local files for upload and answers CHUNK_REQ/COMPLETE
// messages concerning them. A single Uploader may have several files in
// flight at once, each tracked by base file name.
type Uploader struct {
	peerID [protocol.PeerIDSize]byte
	ledger *storage.Ledger

	mu    sync.Mutex
	files map[string]*transfer.Source
}

// NewUploader returns an Uploader identifying itself as peerID. ledger may
// be nil; when set, it receives a best-effort record of each upload's
// lifecycle for operator visibility, never as a source of truth.
func NewUploader(peerID [protocol.PeerIDSize]byte, ledger *storage.Ledger) *Uploader {
	return &Uploader{peerID: peerID, ledger: ledger, files: make(map[string]*transfer.Source)}
}

// Offer computes path's whole-file hash, registers it as in-flight, and
// sends the OFFER message over conn. Hashing is done here, inline, on the
// caller's goroutine rather than on a broker worker; cmd/uploader calls
// Offer once, before it starts the readiness loop.
func (u *Uploader) Offer(conn *loop.Conn, path string) error {
	source, err := transfer.NewSource(path, protocol.ChunkSize)
	if err != nil {
		return err
	}

	name := filepath.Base(path)
	u.mu.Lock()
	u.files[name] = source
	u.mu.Unlock()

	msg := protocol.Message{
		Type:      protocol.TypeOffer,
		SeqNumber: 1,
		PeerID:    u.peerID,
		FileName:  name,
		FileSize:  uint32(source.Size()),
		NChunks:   uint32(source.NChunks()),
		FileHash:  source.Hash(),
	}
	frame, err := protocol.Encode(msg)
	if err != nil {
		return err
	}
	if err := conn.Send(frame); err != nil {
		return err
	}

	u.recordLedger(name, storage.StatusOffered, int64(source.Size()), 0)
	return nil
}

// UploadsCompleted reports whether every offered file has been acknowledged
// with a COMPLETE message.
func (u *Uploader) UploadsCompleted() bool {
	u.mu.Lock()
	defer u.mu.Unlock()
	return len(u.files) == 0
}

// HandleRequest implements broker.Handler.
func (u *Uploader) HandleRequest(req loop.Request) {
	msg := req.Msg
	if msg.PeerID != u.peerID {
		log.Printf("uploader: ignoring message addressed to a different peer id")
		return
	}

	u.mu.Lock()
	source, ok := u.files[msg.FileName]
	u.mu.Unlock()
	if !ok {
		log.Printf("uploader: ignoring message about unoffered file %q", msg.FileName)
		return
	}

	conn, ok := req.ConnRef.Get()
	if !ok {
		return
	}

	switch msg.Type {
	case protocol.TypeChunkReq:
		chunk, err := source.GetChunk(uint64(msg.ChunkFirst))
		if err != nil {
			log.Printf("uploader: cannot serve chunk %d of %q: %v", msg.ChunkFirst, msg.FileName, err)
			return
		}

		response := protocol.Message{
			Type:      protocol.TypeChunkData,
			SeqNumber: msg.SeqNumber,
			PeerID:    u.peerID,
			FileName:  msg.FileName,
			ChunkIdx:  uint32(chunk.Idx),
			ChunkData: chunk.Data,
			ChunkHash: chunk.Hash,
		}
		u.reply(conn, response)
		u.recordLedger(msg.FileName, storage.StatusInProgress, int64(source.Size()), int64(chunk.Idx+1)*int64(protocol.ChunkSize))

	case protocol.TypeComplete:
		u.mu.Lock()
		delete(u.files, msg.FileName)
		u.mu.Unlock()
		log.Printf("uploader: upload completed: %s", msg.FileName)
		u.recordLedger(msg.FileName, storage.StatusComplete, int64(source.Size()), int64(source.Size()))

	default:
		// Ignore unsupported messages.
	}
}

// recordLedger is a best-effort side channel: a failed write here never
// affects the transfer itself.
func (u *Uploader) recordLedger(fileName, status string, fileSize, bytesDone int64) {
	if u.ledger == nil {
		return
	}
	err := u.ledger.Upsert(storage.Transfer{
		PeerID:    peerid.Format(u.peerID),
		FileName:  fileName,
		Direction: storage.DirectionSend,
		Status:    status,
		FileSize:  fileSize,
		BytesDone: bytesDone,
	})
	if err != nil {
		log.Printf("uploader: ledger update for %s: %v", fileName, err)
	}
}

func (u *Uploader) reply(conn *loop.Conn, msg protocol.Message) {
	frame, err := protocol.Encode(msg)
	if err != nil {
		log.Printf("uploader: encode reply: %v", err)
		return
	}
	if err := conn.Send(frame); err != nil {
		log.Printf("uploader: send reply: %v", err)
	}
}
