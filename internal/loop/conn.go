package loop

import (
	"fmt"
	"log"
	"sync"

	"golang.org/x/sys/unix"

	"gosend-transfer/internal/protocol"
)

// readBufSize is the chunk of bytes pulled off the socket per readiness
// notification; it has no relation to the protocol's chunk size.
const readBufSize = 4096

// Request pairs a decoded Message with a weak reference back to the
// connection it arrived on, ready to be queued on a Dispatcher.
type Request struct {
	ConnRef ConnRef
	Msg     protocol.Message
}

// Dispatcher hands a Request off for processing away from the readiness
// loop. Implementations must not block.
type Dispatcher interface {
	Dispatch(req Request)
}

// Conn wraps one socket file descriptor: it demultiplexes the byte stream
// into frames, decodes each one, and forwards the result to a Dispatcher.
// Writes are serialized with a mutex since a broker worker goroutine and
// the readiness loop may both call Send; a write the socket can't accept
// in full is buffered on outbox and drained by the readiness loop once it
// polls POLLOUT ready, rather than retried inline.
type Conn struct {
	fd         int
	demux      Demux
	dispatcher Dispatcher
	table      *ConnTable
	group      *Group
	ref        ConnRef

	sendMu sync.Mutex
	outbox []byte
}

// NewConn wraps an already-configured, non-blocking fd, registering it with
// table and returning the Conn ready to be added to a Group. group is the
// Group the caller is about to add the Conn to (or nil); Close uses it to
// drop the Conn's entry immediately instead of waiting for the next poll to
// notice a dead descriptor.
func NewConn(fd int, dispatcher Dispatcher, table *ConnTable, group *Group) *Conn {
	c := &Conn{fd: fd, dispatcher: dispatcher, table: table, group: group}
	c.ref = table.Insert(c)
	return c
}

// FD implements Pollable.
func (c *Conn) FD() int { return c.fd }

// Ref returns the weak reference other components should hold instead of a
// *Conn, so a reply to a long-since-closed connection fails quietly.
func (c *Conn) Ref() ConnRef { return c.ref }

// HandleEvent implements Pollable: it drains everything currently
// available on the socket, feeding each byte through the demultiplexer and
// dispatching every frame it completes.
func (c *Conn) HandleEvent() error {
	var buf [readBufSize]byte

	for {
		n, err := unix.Read(c.fd, buf[:])
		if n > 0 {
			for _, b := range buf[:n] {
				frame, complete := c.demux.Feed(b)
				if !complete {
					continue
				}
				msg, err := protocol.Decode(frame)
				if err != nil {
					log.Printf("loop: dropping malformed frame on fd %d: %v", c.fd, err)
					continue
				}
				if c.dispatcher != nil {
					c.dispatcher.Dispatch(Request{ConnRef: c.ref, Msg: msg})
				}
			}
		}

		switch {
		case err == nil && n == 0:
			// Peer closed the connection; Close invalidates the fd and
			// drops this Conn from its table and group.
			c.Close()
			return fmt.Errorf("loop: %w", ErrClosed)
		case err == nil:
			continue
		case err == unix.EAGAIN || err == unix.EWOULDBLOCK || err == unix.EINTR:
			return nil
		default:
			c.Close()
			return fmt.Errorf("loop: read fd %d: %w", c.fd, err)
		}
	}
}

// Send queues buf for delivery on the connection. If the outbound buffer is
// currently empty, Send tries to write immediately; whatever the socket
// won't accept right now — including all of buf, if the socket is not
// write-ready at all — is appended to outbox and left for HandleWrite to
// drain once the readiness loop reports POLLOUT. Send never blocks and
// never busy-retries EAGAIN/EWOULDBLOCK inline.
func (c *Conn) Send(buf []byte) error {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()

	if len(c.outbox) > 0 {
		c.outbox = append(c.outbox, buf...)
		return nil
	}
	c.outbox = buf
	return c.drainLocked()
}

// WantWrite implements Writable: the Group polls POLLOUT on this Conn only
// while it has buffered output to drain.
func (c *Conn) WantWrite() bool {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	return len(c.outbox) > 0
}

// HandleWrite implements Writable: it is called once the readiness loop
// sees POLLOUT for this connection, meaning the kernel send buffer has
// drained enough to accept more.
func (c *Conn) HandleWrite() error {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	return c.drainLocked()
}

// drainLocked writes as much of outbox as the socket currently accepts,
// leaving any remainder buffered for the next write-ready notification.
// Caller must hold sendMu.
func (c *Conn) drainLocked() error {
	for len(c.outbox) > 0 {
		n, err := unix.Write(c.fd, c.outbox)
		if n > 0 {
			c.outbox = c.outbox[n:]
		}
		if err != nil {
			if err == unix.EAGAIN || err == unix.EWOULDBLOCK {
				return nil
			}
			if err == unix.EINTR {
				continue
			}
			c.outbox = nil
			return fmt.Errorf("loop: write fd %d: %w", c.fd, err)
		}
	}
	return nil
}

// Close releases the socket, invalidates this connection's entry in its
// ConnTable, and drops it from its Group so stale references and a
// lingering POLLOUT registration both fail/disappear cleanly.
func (c *Conn) Close() error {
	if c.fd < 0 {
		return nil
	}
	fd := c.fd
	c.fd = -1
	if c.table != nil {
		c.table.Remove(c.ref)
	}
	if c.group != nil {
		c.group.Remove(c)
	}
	return unix.Close(fd)
}
