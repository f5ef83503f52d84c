package wscore

import "net"

// EventSet is a bitset over the four readiness conditions the poller can
// report (§3: "Upper 8 bits: a set over {Read, Write, Error, Closed}").
type EventSet uint8

const (
	EventRead EventSet = 1 << iota
	EventWrite
	EventError
	EventClosed
)

func (e EventSet) Has(bit EventSet) bool { return e&bit != 0 }

// PollEvent is the opaque 64-bit event record handed back by a poller wait.
// The tag is whatever the caller passed to subscribe — in wscore this is
// always a connection Handle — and is treated as opaque by the poller layer
// itself (§3).
type PollEvent struct {
	Tag    uint64
	Events EventSet
}

// Poller is the facility-level abstraction from §4.B. Two concrete
// implementations exist: pollerEpoll (Linux, facility (i): readiness-
// triggered, safe for concurrent modification during a wait) and
// pollerFallback (other platforms, facility (ii): requires the multiplexer
// to defer modifications, §4.C).
type Poller interface {
	// Subscribe registers conn for the given event set under tag. The
	// poller derives whatever OS-level handle it needs (a file descriptor
	// for epoll; the net.Conn itself for the goroutine-based fallback).
	Subscribe(conn net.Conn, events EventSet, tag uint64) bool
	// Unsubscribe removes conn from the interest set.
	Unsubscribe(conn net.Conn) bool
	// WaitForModified blocks up to timeoutMs (negative = forever) and
	// appends ready events to out, returning the new slice and whether any
	// event was observed.
	WaitForModified(out []PollEvent, timeoutMs int) ([]PollEvent, bool)
	// MaxSockets reports the facility's capacity, 0 if unbounded.
	MaxSockets() int
	// FollowEpoll reports whether this facility is safe for concurrent
	// modification during Wait (facility (i)).
	FollowEpoll() bool
	// Terminate unblocks any in-progress or future Wait call.
	Terminate()
	// Close releases the underlying OS resource.
	Close() error
}
