package role

import (
	"log"
	"path/filepath"

	"gosend-transfer/internal/loop"
	"gosend-transfer/internal/peerid"
	"gosend-transfer/internal/protocol"
	"gosend-transfer/internal/transfer"
	"gosend-transfer/storage"
)

// progressLogThreshold and progressLogStride throttle the chunk-request log
// line once a transfer has enough chunks that logging every one of them
// would itself slow the transfer down.
const (
	progressLogThreshold = 100
	progressLogStride    = 10
)

// Receiver accepts OFFER and CHUNK_DATA messages from any peer and drives
// the resumable download to completion. It keeps no in-memory state beyond
// what is already durable in each file's metadata sidecar, so it survives a
// restart mid-transfer without special-casing resume.
type Receiver struct {
	root   string
	ledger *storage.Ledger
}

// NewReceiver returns a Receiver writing files under root, one
// subdirectory per peer id. ledger may be nil; when set, it receives a
// best-effort record of each download's lifecycle for operator visibility,
// never as a source of truth.
func NewReceiver(root string, ledger *storage.Ledger) *Receiver {
	return &Receiver{root: root, ledger: ledger}
}

func (r *Receiver) destPath(peerID [protocol.PeerIDSize]byte, fileName string) string {
	return filepath.Join(r.root, peerid.Format(peerID), fileName)
}

// HandleRequest implements broker.Handler.
func (r *Receiver) HandleRequest(req loop.Request) {
	msg := req.Msg
	conn, ok := req.ConnRef.Get()
	if !ok {
		return
	}

	destPath := r.destPath(msg.PeerID, msg.FileName)

	switch msg.Type {
	case protocol.TypeOffer:
		r.handleOffer(conn, msg, destPath)
	case protocol.TypeChunkData:
		r.handleChunkData(conn, msg, destPath)
	default:
		// Ignore unsupported messages.
	}
}

func (r *Receiver) handleOffer(conn *loop.Conn, msg protocol.Message, destPath string) {
	if msg.FileSize == 0 {
		log.Printf("receiver: rejecting zero-byte offer for %s", msg.FileName)
		return
	}

	sink, err := transfer.NewSink(destPath, uint64(msg.FileSize), msg.FileHash, protocol.ChunkSize)
	if err != nil {
		log.Printf("receiver: cannot accept offer for %s: %v", msg.FileName, err)
		return
	}

	r.recordLedger(msg.PeerID, msg.FileName, storage.StatusOffered, int64(msg.FileSize), 0)

	response, ok := r.nextStep(sink, msg, "file already transferred")
	if ok {
		r.reply(conn, response)
	}
}

func (r *Receiver) handleChunkData(conn *loop.Conn, msg protocol.Message, destPath string) {
	sink, err := transfer.ReopenSink(destPath, protocol.ChunkSize)
	if err != nil {
		log.Printf("receiver: no in-progress transfer for %s: %v", msg.FileName, err)
		return
	}

	chunk := transfer.Chunk{Idx: uint64(msg.ChunkIdx), Data: msg.ChunkData, Hash: msg.ChunkHash}
	if protocol.HashChunk(chunk.Data) != chunk.Hash {
		log.Printf("receiver: dropping chunk %d for %s: chunk hash mismatch", chunk.Idx, msg.FileName)
		return
	}
	if err := sink.SaveChunk(chunk); err != nil {
		log.Printf("receiver: saving chunk %d for %s: %v", chunk.Idx, msg.FileName, err)
		return
	}

	response, ok := r.nextStep(sink, msg, "file transferred")
	if ok {
		r.reply(conn, response)
	}
}

// nextStep decides, from the sink's current on-disk state, whether to
// reply COMPLETE or request the next missing chunk; completeLogPrefix
// distinguishes an offer that was already fully received from one that
// just finished on this chunk.
func (r *Receiver) nextStep(sink *transfer.Sink, msg protocol.Message, completeLogPrefix string) (protocol.Message, bool) {
	complete, err := sink.IsComplete()
	if err != nil {
		log.Printf("receiver: checking completion of %s: %v", msg.FileName, err)
		return protocol.Message{}, false
	}
	if complete {
		log.Printf("receiver: %s: %s", completeLogPrefix, msg.FileName)
		r.recordLedger(msg.PeerID, msg.FileName, storage.StatusComplete, int64(sink.Size()), int64(sink.Size()))
		return protocol.Message{
			Type:      protocol.TypeComplete,
			SeqNumber: msg.SeqNumber,
			PeerID:    msg.PeerID,
			FileName:  msg.FileName,
		}, true
	}

	next, err := sink.NextMissingChunk(0)
	if err != nil {
		log.Printf("receiver: locating next missing chunk of %s: %v", msg.FileName, err)
		return protocol.Message{}, false
	}
	if next == transfer.MissingChunk {
		// Every chunk is marked but the whole-file hash does not match:
		// there is no message to recover from this, so the transfer stops.
		log.Printf("receiver: integrity failure for %s: all chunks received but whole-file hash mismatch", msg.FileName)
		r.recordLedger(msg.PeerID, msg.FileName, storage.StatusFailed, int64(sink.Size()), int64(sink.Size()))
		return protocol.Message{}, false
	}

	if nChunks := sink.NChunks(); nChunks <= progressLogThreshold || next%progressLogStride == 0 {
		log.Printf("receiver: requesting chunk %d of %s", next, msg.FileName)
	}

	r.recordLedger(msg.PeerID, msg.FileName, storage.StatusInProgress, int64(sink.Size()), int64(next)*int64(protocol.ChunkSize))

	return protocol.NewChunkReq(msg.SeqNumber+1, msg.PeerID, msg.FileName, uint32(next)), true
}

// recordLedger is a best-effort side channel: a failed write here never
// affects the transfer itself.
func (r *Receiver) recordLedger(peerID [protocol.PeerIDSize]byte, fileName, status string, fileSize, bytesDone int64) {
	if r.ledger == nil {
		return
	}
	err := r.ledger.Upsert(storage.Transfer{
		PeerID:    peerid.Format(peerID),
		FileName:  fileName,
		Direction: storage.DirectionReceive,
		Status:    status,
		FileSize:  fileSize,
		BytesDone: bytesDone,
	})
	if err != nil {
		log.Printf("receiver: ledger update for %s: %v", fileName, err)
	}
}

func (r *Receiver) reply(conn *loop.Conn, msg protocol.Message) {
	frame, err := protocol.Encode(msg)
	if err != nil {
		log.Printf("receiver: encode reply: %v", err)
		return
	}
	if err := conn.Send(frame); err != nil {
		log.Printf("receiver: send reply: %v", err)
	}
}
