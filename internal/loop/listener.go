package loop

import (
	"fmt"
	"log"

	"golang.org/x/sys/unix"
)

// Listener is a non-blocking server socket. Once added to a Group, each
// readiness notification drains every connection the kernel has queued by
// accepting until it would block, wrapping each one in a Conn and
// registering it with the same Group.
type Listener struct {
	fd         int
	group      *Group
	table      *ConnTable
	dispatcher Dispatcher
}

// Listen opens, binds and starts listening on port across all interfaces,
// with SO_REUSEADDR and SO_REUSEPORT set so a restarted receiver can rebind
// immediately. backlog bounds the kernel's pending-accept queue.
func Listen(port uint16, backlog int, group *Group, table *ConnTable, dispatcher Dispatcher) (*Listener, error) {
	fd, err := unix.Socket(unix.AF_INET, unix.SOCK_STREAM, 0)
	if err != nil {
		return nil, fmt.Errorf("loop: open listener socket: %w", err)
	}

	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("loop: set SO_REUSEADDR: %w", err)
	}
	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEPORT, 1); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("loop: set SO_REUSEPORT: %w", err)
	}
	if err := setSocketOptions(fd); err != nil {
		unix.Close(fd)
		return nil, err
	}

	addr := &unix.SockaddrInet4{Port: int(port)}
	if err := unix.Bind(fd, addr); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("loop: bind port %d: %w", port, err)
	}
	if err := unix.Listen(fd, backlog); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("loop: listen on port %d: %w", port, err)
	}

	return &Listener{fd: fd, group: group, table: table, dispatcher: dispatcher}, nil
}

// FD implements Pollable.
func (l *Listener) FD() int { return l.fd }

// HandleEvent accepts every connection the kernel has queued, registering
// each as a Conn in the Listener's Group.
func (l *Listener) HandleEvent() error {
	for {
		connFD, _, err := unix.Accept(l.fd)
		if err != nil {
			if err == unix.EAGAIN || err == unix.EWOULDBLOCK || err == unix.EINTR {
				return nil
			}
			return fmt.Errorf("loop: accept on fd %d: %w", l.fd, err)
		}

		if err := setSocketOptions(connFD); err != nil {
			log.Printf("loop: rejecting incoming connection: %v", err)
			unix.Close(connFD)
			continue
		}

		conn := NewConn(connFD, l.dispatcher, l.table, l.group)
		if err := l.group.Add(conn); err != nil {
			log.Printf("loop: %v", err)
			conn.Close()
			continue
		}
		log.Printf("loop: new connection fd=%d", connFD)
	}
}

// Close stops accepting and releases the listening socket.
func (l *Listener) Close() error {
	if l.fd < 0 {
		return nil
	}
	fd := l.fd
	l.fd = -1
	return unix.Close(fd)
}
