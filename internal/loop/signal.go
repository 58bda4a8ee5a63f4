package loop

import (
	"fmt"
	"log"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"

	"golang.org/x/sys/unix"
)

// SignalSource is a Pollable translation of the original's signalfd: since
// Go has no portable signalfd, os/signal delivers SIGINT/SIGQUIT/SIGTERM/
// SIGTSTP/SIGHUP to a goroutine, which writes a byte to one end of a pipe
// whose other end is the fd a Group polls. HandleEvent just drains the
// pipe and sets the termination flag.
type SignalSource struct {
	readFD  int
	writeFD int
	done    atomic.Bool
}

// NewSignalSource installs the signal handler and returns the Pollable
// monitoring it.
func NewSignalSource() (*SignalSource, error) {
	r, w, err := os.Pipe()
	if err != nil {
		return nil, fmt.Errorf("loop: create signal pipe: %w", err)
	}

	rawR, err := r.SyscallConn()
	if err != nil {
		r.Close()
		w.Close()
		return nil, fmt.Errorf("loop: inspect signal pipe: %w", err)
	}
	var readFD int
	var dupErr error
	if err := rawR.Control(func(fd uintptr) { readFD, dupErr = unix.Dup(int(fd)) }); err != nil {
		r.Close()
		w.Close()
		return nil, fmt.Errorf("loop: inspect signal pipe: %w", err)
	}
	if dupErr != nil {
		r.Close()
		w.Close()
		return nil, fmt.Errorf("loop: duplicate signal pipe fd: %w", dupErr)
	}
	if err := unix.SetNonblock(readFD, true); err != nil {
		unix.Close(readFD)
		r.Close()
		w.Close()
		return nil, fmt.Errorf("loop: set signal pipe non-blocking: %w", err)
	}

	s := &SignalSource{readFD: readFD}

	sigCh := make(chan os.Signal, 8)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGQUIT, syscall.SIGTERM, syscall.SIGTSTP, syscall.SIGHUP)

	go func() {
		for sig := range sigCh {
			log.Printf("loop: signal received: %v", sig)
			w.Write([]byte{1})
		}
	}()

	return s, nil
}

// FD implements Pollable.
func (s *SignalSource) FD() int { return s.readFD }

// HandleEvent drains the pipe and marks the termination flag. It never
// returns an error: a pending shutdown is reported through
// ReceivedTermSignal, not by removal from the Group.
func (s *SignalSource) HandleEvent() error {
	var buf [64]byte
	for {
		n, err := unix.Read(s.readFD, buf[:])
		if n > 0 {
			s.done.Store(true)
		}
		if err != nil {
			break
		}
		if n == 0 {
			break
		}
	}
	return nil
}

// ReceivedTermSignal reports whether any monitored signal has arrived.
func (s *SignalSource) ReceivedTermSignal() bool { return s.done.Load() }
