package loop

import "gosend-transfer/internal/protocol"

// maxMsgType is the highest valid type tag (inclusive).
const maxMsgType = protocol.TypeComplete

// Demux is a per-connection byte accumulator implementing the
// resynchronizing framing state machine: it consumes one byte at a time
// and emits a complete frame once exactly EnvelopeSize+L bytes have been
// collected. Any byte that violates the expected envelope shape discards
// the accumulated buffer and re-evaluates that same byte as a possible
// new frame start, guaranteeing resynchronization within at most
// EnvelopeSize-1+L wasted bytes after any corruption.
type Demux struct {
	buf    []byte
	msgLen int
}

// Feed consumes one byte and reports whether it completed a frame. The
// returned slice is only valid until the next call to Feed.
func (d *Demux) Feed(b byte) (frame []byte, complete bool) {
	n := len(d.buf)

	switch {
	case n == 0 && b == protocol.Magic[0]:
		d.buf = append(d.buf, b)
		return nil, false

	case n == 0:
		// Buffer empty and byte is not a possible frame start: ignore it.
		return nil, false

	case n == 1 && b == protocol.Magic[1]:
		d.buf = append(d.buf, b)
		return nil, false

	case n == 2 && b == protocol.Magic[2]:
		d.buf = append(d.buf, b)
		return nil, false

	case n == 3 && b > 0 && b <= maxMsgType:
		d.buf = append(d.buf, b)
		return nil, false

	case n == 4:
		d.buf = append(d.buf, b)
		d.msgLen = int(b) << 8
		return nil, false

	case n == 5:
		d.buf = append(d.buf, b)
		d.msgLen |= int(b)
		if d.msgLen == 0 {
			// A zero-length payload completes the frame the instant the
			// length field itself is complete: there is no payload byte
			// left to wait for.
			frame = d.buf
			d.reset()
			return frame, true
		}
		return nil, false

	case n >= protocol.EnvelopeSize && n < d.msgLen+protocol.EnvelopeSize-1:
		d.buf = append(d.buf, b)
		return nil, false

	case n == d.msgLen+protocol.EnvelopeSize-1:
		d.buf = append(d.buf, b)
		frame = d.buf
		d.reset()
		return frame, true

	default:
		d.reset()
		return d.Feed(b)
	}
}

func (d *Demux) reset() {
	d.buf = d.buf[:0]
	d.msgLen = 0
}
