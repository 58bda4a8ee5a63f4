// Package loop implements the single-threaded readiness loop that drives
// the whole application: a bounded set of Pollables (connections, the
// listener, the signal source) polled together, with blocking work handed
// off to the request broker rather than done inline.
package loop

import (
	"errors"
	"fmt"
	"log"
	"time"

	"golang.org/x/sys/unix"
)

// pollTimeoutMillis bounds how long a single PollAndHandle call may block,
// so the loop keeps checking the termination flag even with no traffic.
const pollTimeoutMillis = 500

// ErrClosed is returned (wrapped) by a Pollable's HandleEvent to signal that
// its underlying descriptor is no longer usable and should be dropped.
var ErrClosed = errors.New("loop: pollable closed")

// Group aggregates a set of Pollable instances on which a single poll(2)
// call can be performed. It is the core of the application's main loop:
// each call to PollAndHandle blocks until one or more descriptors are ready
// or the 500ms poll timeout passes, then invokes HandleEvent on each ready
// one in turn.
type Group struct {
	max       int
	pollables []Pollable
}

// NewGroup returns an empty Group accepting at most max Pollables.
func NewGroup(max int) *Group {
	return &Group{max: max}
}

// Add registers a Pollable with the group. It fails once the group already
// holds max Pollables.
func (g *Group) Add(p Pollable) error {
	if len(g.pollables) >= g.max {
		return fmt.Errorf("loop: maximum pollable limit of %d exceeded", g.max)
	}
	g.pollables = append(g.pollables, p)
	return nil
}

// Remove drops p from the group, if present. Conn.Close calls this so a
// closed connection stops being polled immediately rather than waiting for
// the next PollAndHandle to notice POLLERR/POLLHUP on a dead fd.
func (g *Group) Remove(p Pollable) {
	for i, existing := range g.pollables {
		if existing == p {
			g.pollables = append(g.pollables[:i], g.pollables[i+1:]...)
			return
		}
	}
}

// Len reports how many Pollables are currently registered.
func (g *Group) Len() int { return len(g.pollables) }

// PollAndHandle blocks for up to 500ms waiting for read- or write-readiness
// on any registered Pollable, then dispatches HandleEvent/HandleWrite to
// each one with pending events. A Pollable is polled for POLLOUT only while
// it implements Writable and its WantWrite reports true, so an idle
// connection never busy-polls writable. A Pollable that reports
// POLLERR/POLLHUP, whose FD() has gone negative, or whose HandleEvent
// returns an error wrapping ErrClosed, is removed from the group; removal
// decrements the loop cursor so no neighboring Pollable is skipped in the
// same pass.
func (g *Group) PollAndHandle() error {
	if len(g.pollables) == 0 {
		time.Sleep(pollTimeoutMillis * time.Millisecond)
		return nil
	}

	fds := make([]unix.PollFd, len(g.pollables))
	for i, p := range g.pollables {
		events := int16(unix.POLLIN)
		if w, ok := p.(Writable); ok && w.WantWrite() {
			events |= unix.POLLOUT
		}
		fds[i] = unix.PollFd{Fd: int32(p.FD()), Events: events}
	}

	n, err := unix.Poll(fds, pollTimeoutMillis)
	if err != nil {
		if err == unix.EINTR {
			return nil
		}
		return fmt.Errorf("loop: poll failed: %w", err)
	}
	if n == 0 {
		return nil
	}

	// Pollables a handler adds during this pass (e.g. the Listener's newly
	// accepted Conns) sit past the end of fds and are first polled next call.
	for i := 0; i < len(fds); i++ {
		revents := fds[i].Revents
		if revents == 0 {
			continue
		}

		p := g.pollables[i]
		if revents&unix.POLLOUT != 0 {
			if w, ok := p.(Writable); ok {
				if err := w.HandleWrite(); err != nil {
					log.Printf("loop: pollable write handler error: %v", err)
				}
			}
		}

		closed := false
		if revents&unix.POLLIN != 0 {
			if err := p.HandleEvent(); err != nil {
				log.Printf("loop: pollable handler error: %v", err)
				closed = errors.Is(err, ErrClosed)
			}
		}

		if closed || revents&(unix.POLLERR|unix.POLLHUP) != 0 || p.FD() < 0 {
			// Conn.Close may already have dropped p from the group.
			if i < len(g.pollables) && g.pollables[i] == p {
				g.pollables = append(g.pollables[:i], g.pollables[i+1:]...)
			}
			fds = append(fds[:i], fds[i+1:]...)
			i--
		}
	}

	return nil
}
