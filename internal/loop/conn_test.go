package loop

import (
	"bytes"
	"testing"
	"time"

	"golang.org/x/sys/unix"

	"gosend-transfer/internal/protocol"
)

type recordingDispatcher struct {
	ch chan Request
}

func (d *recordingDispatcher) Dispatch(req Request) {
	d.ch <- req
}

func newSocketPair(t *testing.T) (a, b int) {
	t.Helper()
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM, 0)
	if err != nil {
		t.Fatalf("socketpair failed: %v", err)
	}
	t.Cleanup(func() {
		unix.Close(fds[0])
		unix.Close(fds[1])
	})
	return fds[0], fds[1]
}

func TestConnHandleEventDispatchesDecodedFrame(t *testing.T) {
	local, peer := newSocketPair(t)
	if err := unix.SetNonblock(local, true); err != nil {
		t.Fatalf("set non-blocking: %v", err)
	}

	dispatcher := &recordingDispatcher{ch: make(chan Request, 1)}
	table := NewConnTable()
	conn := NewConn(local, dispatcher, table, nil)

	frame, err := protocol.Encode(protocol.Message{Type: protocol.TypeComplete, SeqNumber: 9, FileName: "x"})
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	if _, err := unix.Write(peer, frame); err != nil {
		t.Fatalf("write to peer socket failed: %v", err)
	}

	if err := conn.HandleEvent(); err != nil {
		t.Fatalf("HandleEvent failed: %v", err)
	}

	select {
	case req := <-dispatcher.ch:
		if req.Msg.SeqNumber != 9 || req.Msg.FileName != "x" {
			t.Fatalf("unexpected dispatched message: %+v", req.Msg)
		}
	case <-time.After(time.Second):
		t.Fatal("expected a dispatched request")
	}
}

func TestConnSendWritesCompleteFrame(t *testing.T) {
	local, peer := newSocketPair(t)
	table := NewConnTable()
	conn := NewConn(local, nil, table, nil)

	frame, err := protocol.Encode(protocol.Message{Type: protocol.TypeComplete, SeqNumber: 3, FileName: "y"})
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	if err := conn.Send(frame); err != nil {
		t.Fatalf("Send failed: %v", err)
	}

	buf := make([]byte, len(frame))
	if _, err := unix.Read(peer, buf); err != nil {
		t.Fatalf("read from peer socket failed: %v", err)
	}

	msg, err := protocol.Decode(buf)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if msg.SeqNumber != 3 || msg.FileName != "y" {
		t.Fatalf("unexpected message received on peer socket: %+v", msg)
	}
}

func TestConnSendBuffersRemainderForPOLLOUT(t *testing.T) {
	local, peer := newSocketPair(t)
	if err := unix.SetNonblock(local, true); err != nil {
		t.Fatalf("set local non-blocking: %v", err)
	}
	if err := unix.SetNonblock(peer, true); err != nil {
		t.Fatalf("set peer non-blocking: %v", err)
	}
	if err := unix.SetsockoptInt(local, unix.SOL_SOCKET, unix.SO_SNDBUF, 1024); err != nil {
		t.Fatalf("set SO_SNDBUF: %v", err)
	}

	table := NewConnTable()
	conn := NewConn(local, nil, table, nil)

	payload := bytes.Repeat([]byte{0xAB}, 256*1024)
	if err := conn.Send(payload); err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	if !conn.WantWrite() {
		t.Fatalf("expected a write larger than the socket buffer to leave a remainder buffered")
	}

	received := make([]byte, 0, len(payload))
	buf := make([]byte, 4096)
	deadline := time.Now().Add(2 * time.Second)
	for len(received) < len(payload) {
		n, err := unix.Read(peer, buf)
		if n > 0 {
			received = append(received, buf[:n]...)
		}
		if err != nil && err != unix.EAGAIN && err != unix.EWOULDBLOCK {
			t.Fatalf("read from peer socket failed: %v", err)
		}
		if conn.WantWrite() {
			if err := conn.HandleWrite(); err != nil {
				t.Fatalf("HandleWrite failed: %v", err)
			}
		}
		if time.Now().After(deadline) {
			t.Fatalf("timed out draining buffered output, got %d/%d bytes", len(received), len(payload))
		}
	}

	if conn.WantWrite() {
		t.Fatalf("expected outbound buffer to be empty once everything has been drained")
	}
	if !bytes.Equal(received, payload) {
		t.Fatalf("received payload does not match what was sent")
	}
}

func TestConnCloseInvalidatesTableEntry(t *testing.T) {
	local, _ := newSocketPair(t)
	table := NewConnTable()
	group := NewGroup(4)
	conn := NewConn(local, nil, table, group)
	ref := conn.Ref()

	if err := group.Add(conn); err != nil {
		t.Fatalf("Add failed: %v", err)
	}

	if err := conn.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if _, ok := ref.Get(); ok {
		t.Fatalf("expected reference to be invalid after Close")
	}
	if conn.FD() >= 0 {
		t.Fatalf("expected FD to go negative after Close")
	}
	if group.Len() != 0 {
		t.Fatalf("expected Close to remove the connection from its group, group still has %d", group.Len())
	}
}
