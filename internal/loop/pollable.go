package loop

// Pollable is implemented by anything exposing a file descriptor that can be
// monitored by a Group for read-readiness. HandleEvent is invoked once for
// each readiness notification; a Pollable reporting a negative FD, or an
// error from HandleEvent that wraps ErrClosed, is removed from its Group.
type Pollable interface {
	FD() int
	HandleEvent() error
}

// Writable is implemented by a Pollable that may have outbound data
// buffered. A Group checks WantWrite before each poll(2) call and, only
// while it reports true, also watches the descriptor for POLLOUT,
// invoking HandleWrite when the kernel reports it writable again.
type Writable interface {
	WantWrite() bool
	HandleWrite() error
}
