package loop

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// keepAliveIdle, keepAliveInterval and keepAliveProbes together mean a
// silent peer is dropped roughly ten seconds after it stops responding.
const (
	keepAliveIdle     = 1
	keepAliveInterval = 1
	keepAliveProbes   = 10
)

// setSocketOptions makes fd non-blocking and enables TCP keep-alive probing
// with the same timings on both the listening and the outbound side.
func setSocketOptions(fd int) error {
	if err := unix.SetNonblock(fd, true); err != nil {
		return fmt.Errorf("set socket non-blocking: %w", err)
	}
	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_KEEPALIVE, 1); err != nil {
		return fmt.Errorf("set keep-alive flag: %w", err)
	}
	if err := unix.SetsockoptInt(fd, unix.IPPROTO_TCP, unix.TCP_KEEPIDLE, keepAliveIdle); err != nil {
		return fmt.Errorf("set keep-alive idle time: %w", err)
	}
	if err := unix.SetsockoptInt(fd, unix.IPPROTO_TCP, unix.TCP_KEEPINTVL, keepAliveInterval); err != nil {
		return fmt.Errorf("set keep-alive interval: %w", err)
	}
	if err := unix.SetsockoptInt(fd, unix.IPPROTO_TCP, unix.TCP_KEEPCNT, keepAliveProbes); err != nil {
		return fmt.Errorf("set keep-alive probe count: %w", err)
	}
	return nil
}
