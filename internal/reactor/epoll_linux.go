//go:build linux

package reactor

import (
	"errors"
	"fmt"

	"golang.org/x/sys/unix"
)

// Epoll is a Reactor backed by Linux epoll, level triggered.
type Epoll struct {
	epfd   int
	events []unix.EpollEvent
}

func New() (*Epoll, error) {
	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, fmt.Errorf("epoll_create1: %w", err)
	}
	return &Epoll{epfd: epfd}, nil
}

func toEpollMask(dirs Direction) uint32 {
	var mask uint32
	if dirs&Readable != 0 {
		mask |= unix.EPOLLIN
	}
	if dirs&Writable != 0 {
		mask |= unix.EPOLLOUT
	}
	return mask
}

func (e *Epoll) ctl(op, fd int, dirs Direction) error {
	ev := unix.EpollEvent{Events: toEpollMask(dirs), Fd: int32(fd)}
	return unix.EpollCtl(e.epfd, op, fd, &ev)
}

func (e *Epoll) Register(fd int, dirs Direction) error {
	if err := e.ctl(unix.EPOLL_CTL_ADD, fd, dirs); err != nil {
		return fmt.Errorf("epoll add fd %d (%s): %w", fd, dirs, err)
	}
	return nil
}

func (e *Epoll) Modify(fd int, dirs Direction) error {
	if err := e.ctl(unix.EPOLL_CTL_MOD, fd, dirs); err != nil {
		return fmt.Errorf("epoll mod fd %d (%s): %w", fd, dirs, err)
	}
	return nil
}

func (e *Epoll) Unregister(fd int) error {
	err := unix.EpollCtl(e.epfd, unix.EPOLL_CTL_DEL, fd, nil)
	if err != nil && !errors.Is(err, unix.ENOENT) {
		return fmt.Errorf("epoll del fd %d: %w", fd, err)
	}
	return nil
}

func (e *Epoll) Wait(maxEvents, timeoutMillis int) ([]Event, error) {
	if maxEvents <= 0 {
		maxEvents = 1
	}
	if cap(e.events) < maxEvents {
		e.events = make([]unix.EpollEvent, maxEvents)
	}
	buf := e.events[:maxEvents]
	n, err := unix.EpollWait(e.epfd, buf, timeoutMillis)
	if err != nil {
		if errors.Is(err, unix.EINTR) {
			return nil, nil
		}
		return nil, fmt.Errorf("epoll_wait: %w", err)
	}
	out := make([]Event, 0, n)
	for _, ev := range buf[:n] {
		ready := Event{FD: int(ev.Fd)}
		// Errors and hangups are surfaced as both directions so the owner of
		// the socket observes the failure on its next read or write.
		if ev.Events&(unix.EPOLLERR|unix.EPOLLHUP) != 0 {
			ready.Readable, ready.Writable = true, true
		}
		if ev.Events&unix.EPOLLIN != 0 {
			ready.Readable = true
		}
		if ev.Events&unix.EPOLLOUT != 0 {
			ready.Writable = true
		}
		out = append(out, ready)
	}
	return out, nil
}

func (e *Epoll) Close() error {
	return unix.Close(e.epfd)
}
