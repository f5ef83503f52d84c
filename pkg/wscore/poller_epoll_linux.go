//go:build linux

package wscore

import (
	"net"
	"sync"
	"syscall"

	"golang.org/x/sys/unix"
)

// pollerEpoll wraps Linux epoll_create1/epoll_ctl/epoll_wait. It is facility
// (i) from §4.B: epoll's level-triggered model tolerates epoll_ctl calls
// from other goroutines while epoll_wait is in progress in another thread,
// so wscore runs a single pollerEpoll instance and lets Subscribe/Unsubscribe
// call straight through instead of queuing through the multiplexer's
// deferred-modification path (grounded on
// whisper-chat/internal/ws/epoll.go's NewEpoll/Add/Remove/Wait shape,
// generalized here from a net.Conn map to an opaque uint64 tag so the
// poller has no notion of "connection" at all, per §4.B's tag-opacity rule).
type pollerEpoll struct {
	fd       int
	wakeFd   int // eventfd used to unblock Wait on Terminate
	mu       sync.RWMutex
	tags     map[int]uint64 // fd -> tag
	terminated bool
}

func newPlatformPoller() (Poller, error) {
	fd, err := unix.EpollCreate1(0)
	if err != nil {
		return nil, err
	}
	wakeFd, err := unix.Eventfd(0, unix.EFD_NONBLOCK)
	if err != nil {
		_ = unix.Close(fd)
		return nil, err
	}
	if err := unix.EpollCtl(fd, syscall.EPOLL_CTL_ADD, wakeFd, &unix.EpollEvent{
		Events: unix.EPOLLIN,
		Fd:     int32(wakeFd),
	}); err != nil {
		_ = unix.Close(wakeFd)
		_ = unix.Close(fd)
		return nil, err
	}
	return &pollerEpoll{
		fd:     fd,
		wakeFd: wakeFd,
		tags:   make(map[int]uint64),
	}, nil
}

func (p *pollerEpoll) Subscribe(conn net.Conn, events EventSet, tag uint64) bool {
	fd := socketFD(conn)
	if fd < 0 {
		return false
	}
	ev := &unix.EpollEvent{Events: toEpollEvents(events), Fd: int32(fd)}

	p.mu.Lock()
	_, existed := p.tags[fd]
	p.tags[fd] = tag
	p.mu.Unlock()

	op := syscall.EPOLL_CTL_ADD
	if existed {
		op = syscall.EPOLL_CTL_MOD
	}
	if err := unix.EpollCtl(p.fd, op, fd, ev); err != nil {
		p.mu.Lock()
		delete(p.tags, fd)
		p.mu.Unlock()
		return false
	}
	return true
}

func (p *pollerEpoll) Unsubscribe(conn net.Conn) bool {
	fd := socketFD(conn)
	if fd < 0 {
		return false
	}
	p.mu.Lock()
	_, ok := p.tags[fd]
	delete(p.tags, fd)
	p.mu.Unlock()
	if !ok {
		return false
	}
	_ = unix.EpollCtl(p.fd, syscall.EPOLL_CTL_DEL, fd, nil)
	return true
}

func (p *pollerEpoll) WaitForModified(out []PollEvent, timeoutMs int) ([]PollEvent, bool) {
	events := make([]unix.EpollEvent, 128)
	n, err := unix.EpollWait(p.fd, events, timeoutMs)
	if err != nil {
		return out, false
	}

	p.mu.RLock()
	any := false
	for i := 0; i < n; i++ {
		fd := int(events[i].Fd)
		if fd == p.wakeFd {
			continue
		}
		tag, ok := p.tags[fd]
		if !ok {
			continue
		}
		out = append(out, PollEvent{Tag: tag, Events: fromEpollEvents(events[i].Events)})
		any = true
	}
	p.mu.RUnlock()
	return out, any
}

func (p *pollerEpoll) MaxSockets() int   { return 0 }
func (p *pollerEpoll) FollowEpoll() bool { return true }

func (p *pollerEpoll) Terminate() {
	p.mu.Lock()
	if p.terminated {
		p.mu.Unlock()
		return
	}
	p.terminated = true
	p.mu.Unlock()
	var one [8]byte
	one[0] = 1
	_, _ = unix.Write(p.wakeFd, one[:])
}

func (p *pollerEpoll) Close() error {
	_ = unix.Close(p.wakeFd)
	return unix.Close(p.fd)
}

func toEpollEvents(events EventSet) uint32 {
	var e uint32
	if events.Has(EventRead) {
		e |= unix.EPOLLIN
	}
	if events.Has(EventWrite) {
		e |= unix.EPOLLOUT
	}
	e |= unix.EPOLLHUP | unix.EPOLLERR
	return e
}

func fromEpollEvents(raw uint32) EventSet {
	var e EventSet
	if raw&unix.EPOLLIN != 0 {
		e |= EventRead
	}
	if raw&unix.EPOLLOUT != 0 {
		e |= EventWrite
	}
	if raw&unix.EPOLLERR != 0 {
		e |= EventError
	}
	if raw&unix.EPOLLHUP != 0 || raw&unix.EPOLLRDHUP != 0 {
		e |= EventClosed
	}
	return e
}
