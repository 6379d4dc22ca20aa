//go:build linux

package netpoll

import (
	"fmt"
	"syscall"
)

// Event is a readiness notification for one registered fd.
type Event struct {
	Fd       int
	Readable bool
	Writable bool
	HupOrErr bool
}

// Poller wraps Linux epoll in edge-triggered mode. One Poller belongs to
// exactly one event-loop goroutine; it is not safe for concurrent Wait
// calls.
type Poller struct {
	epfd   int
	events []syscall.EpollEvent
}

// New creates a poller sized to report up to maxEvents per Wait call.
func New(maxEvents int) (*Poller, error) {
	epfd, err := syscall.EpollCreate1(syscall.EPOLL_CLOEXEC)
	if err != nil {
		return nil, fmt.Errorf("netpoll: epoll_create1: %w", err)
	}
	if maxEvents <= 0 {
		maxEvents = 1024
	}
	return &Poller{epfd: epfd, events: make([]syscall.EpollEvent, maxEvents)}, nil
}

// Add registers fd for read and write readiness, edge-triggered.
func (p *Poller) Add(fd int) error {
	ev := syscall.EpollEvent{
		Events: syscall.EPOLLIN | syscall.EPOLLOUT | syscall.EPOLLET,
		Fd:     int32(fd),
	}
	return syscall.EpollCtl(p.epfd, syscall.EPOLL_CTL_ADD, fd, &ev)
}

// AddListener registers a listening socket for read readiness only —
// ev.data.fd doubles as the listener sentinel since there's no separate
// connection object to carry (unlike the teacher's data.ptr convention,
// Go's epoll binding only carries an fd, which is all this router needs).
func (p *Poller) AddListener(fd int) error {
	ev := syscall.EpollEvent{
		Events: syscall.EPOLLIN | syscall.EPOLLET,
		Fd:     int32(fd),
	}
	return syscall.EpollCtl(p.epfd, syscall.EPOLL_CTL_ADD, fd, &ev)
}

// Modify changes the interest set for fd.
func (p *Poller) Modify(fd int, read, write bool) error {
	var events uint32 = syscall.EPOLLET
	if read {
		events |= syscall.EPOLLIN
	}
	if write {
		events |= syscall.EPOLLOUT
	}
	ev := syscall.EpollEvent{Events: events, Fd: int32(fd)}
	return syscall.EpollCtl(p.epfd, syscall.EPOLL_CTL_MOD, fd, &ev)
}

// Remove unregisters fd. The caller is still responsible for closing it.
func (p *Poller) Remove(fd int) error {
	return syscall.EpollCtl(p.epfd, syscall.EPOLL_CTL_DEL, fd, nil)
}

// Wait blocks for up to 1s (matching the periodic-sweep cadence the
// engine drives off the same loop) and returns the ready events.
func (p *Poller) Wait() ([]Event, error) {
	n, err := syscall.EpollWait(p.epfd, p.events, 1000)
	if err != nil {
		if err == syscall.EINTR {
			return nil, nil
		}
		return nil, fmt.Errorf("netpoll: epoll_wait: %w", err)
	}
	out := make([]Event, 0, n)
	for i := 0; i < n; i++ {
		e := p.events[i]
		out = append(out, Event{
			Fd:       int(e.Fd),
			Readable: e.Events&syscall.EPOLLIN != 0,
			Writable: e.Events&syscall.EPOLLOUT != 0,
			HupOrErr: e.Events&(syscall.EPOLLHUP|syscall.EPOLLERR) != 0,
		})
	}
	return out, nil
}

// Close releases the epoll fd.
func (p *Poller) Close() error {
	return syscall.Close(p.epfd)
}
