package loop

import (
	"fmt"
	"net"

	"golang.org/x/sys/unix"
)

// Dial resolves host and connects to host:port, returning a Conn already
// configured with the same non-blocking and keep-alive settings as an
// accepted connection and registered with group and table.
//
// Resolution and the initial connect use the standard library so hostname
// lookup and multi-address fallback behave the same way the rest of the
// ecosystem expects; the resulting file descriptor is then taken over
// directly so every later read and write goes through the readiness loop
// rather than through net.Conn's own buffering.
func Dial(host string, port uint16, group *Group, table *ConnTable, dispatcher Dispatcher) (*Conn, error) {
	tcpConn, err := net.Dial("tcp", fmt.Sprintf("%s:%d", host, port))
	if err != nil {
		return nil, fmt.Errorf("loop: connect to %s:%d: %w", host, port, err)
	}

	rc, err := tcpConn.(*net.TCPConn).SyscallConn()
	if err != nil {
		tcpConn.Close()
		return nil, fmt.Errorf("loop: access raw connection to %s:%d: %w", host, port, err)
	}

	var fd int
	var dupErr error
	controlErr := rc.Control(func(fdPtr uintptr) {
		fd, dupErr = unix.Dup(int(fdPtr))
	})
	tcpConn.Close()
	if controlErr != nil {
		return nil, fmt.Errorf("loop: inspect raw connection to %s:%d: %w", host, port, controlErr)
	}
	if dupErr != nil {
		return nil, fmt.Errorf("loop: duplicate socket fd for %s:%d: %w", host, port, dupErr)
	}

	if err := setSocketOptions(fd); err != nil {
		unix.Close(fd)
		return nil, err
	}

	conn := NewConn(fd, dispatcher, table, group)
	if err := group.Add(conn); err != nil {
		conn.Close()
		return nil, err
	}
	return conn, nil
}
