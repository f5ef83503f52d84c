package wscore

import (
	"net"
	"sync"
	"sync/atomic"
)

// subKind distinguishes a queued subscribe from a queued unsubscribe in the
// deferred-modification list used on facility (ii) (§4.C).
type subKind uint8

const (
	subAdd subKind = iota
	subRemove
)

type pendingSub struct {
	kind   subKind
	conn   net.Conn
	events EventSet
	tag    uint64
}

// Multiplexer owns one or more Pollers and presents a single thread-safe
// queue of pending events to callers (§4.C). On facility (i) (Linux epoll)
// it holds exactly one poller and subscribe/unsubscribe call straight
// through. On facility (ii) it queues modifications behind a light lock and
// only applies them at the head of the next poll cycle, matching the
// source's "deferred subscribe/unsubscribe for non-concurrent-safe poller"
// re-architecture note (§9): here that is a plain mutex-guarded slice
// instead of a message-passing queue, since the multiplexer already
// serializes all callers through subMu.
type Multiplexer struct {
	pollers []Poller
	single  bool // true when the sole poller is safe for concurrent modification (facility i)

	subMu               sync.Mutex
	pendingSubs         []pendingSub
	unsubscribeCloses   bool

	pendingMu sync.Mutex
	pending   []PollEvent
	cursor    int

	outgoingMu sync.Mutex
	outgoing   []Handle // de-duplicating list of handles with queued outbound frames

	terminated atomic.Bool
}

// NewMultiplexer creates a multiplexer with one platform poller. On facility
// (ii), additional pollers are grown lazily as the first fills up to its
// MaxSockets() capacity.
func NewMultiplexer(unsubscribeClosesSocket bool) (*Multiplexer, error) {
	p, err := newPlatformPoller()
	if err != nil {
		return nil, err
	}
	m := &Multiplexer{
		pollers:           []Poller{p},
		single:            p.FollowEpoll(),
		unsubscribeCloses: unsubscribeClosesSocket,
	}
	return m, nil
}

// Subscribe registers conn for events under tag. On facility (i) this calls
// straight through to the poller; on facility (ii) it is queued and applied
// at the next PollForPendingEvents.
func (m *Multiplexer) Subscribe(conn net.Conn, events EventSet, tag uint64) {
	if m.single {
		m.pollers[0].Subscribe(conn, events, tag)
		return
	}
	m.subMu.Lock()
	m.pendingSubs = append(m.pendingSubs, pendingSub{kind: subAdd, conn: conn, events: events, tag: tag})
	m.subMu.Unlock()
}

// Unsubscribe removes conn from the interest set, deferred identically to
// Subscribe on facility (ii).
func (m *Multiplexer) Unsubscribe(conn net.Conn, tag uint64) {
	if m.single {
		m.pollers[0].Unsubscribe(conn)
		return
	}
	m.subMu.Lock()
	m.pendingSubs = append(m.pendingSubs, pendingSub{kind: subRemove, conn: conn, tag: tag})
	m.subMu.Unlock()
}

// PollForPendingEvents drains the deferred subscription queue (cancelling
// same-batch subscribe/unsubscribe pairs for the same tag per §4.C, unless
// unsubscribe_closes_socket is true — §9 OQ3/SPEC_FULL §13.3), applies the
// net changes across the poller set (growing a new poller when all existing
// ones are full), waits on each poller in turn, and merges newly observed
// events into the central pending list.
func (m *Multiplexer) PollForPendingEvents(timeoutMs int) {
	if !m.single {
		m.applyDeferredSubs()
	}

	for _, p := range m.pollers {
		waitMs := timeoutMs
		if !m.single {
			// Subscription churn must be applied promptly on facility (ii).
			if waitMs < 0 || waitMs > 10 {
				waitMs = 10
			}
		}
		events, any := p.WaitForModified(nil, waitMs)
		if any {
			m.mergeEvents(events)
		}
	}
}

func (m *Multiplexer) applyDeferredSubs() {
	m.subMu.Lock()
	batch := m.pendingSubs
	m.pendingSubs = nil
	m.subMu.Unlock()

	if len(batch) == 0 {
		return
	}

	// Cancel same-batch subscribe/unsubscribe pairs for the same tag,
	// unless unsubscribe_closes_socket demands the unsubscribe win (§13.3).
	byTag := make(map[uint64][]int)
	for i, s := range batch {
		byTag[s.tag] = append(byTag[s.tag], i)
	}
	skip := make(map[int]bool)
	for _, idxs := range byTag {
		if len(idxs) < 2 {
			continue
		}
		hasAdd, hasRemove := false, false
		for _, i := range idxs {
			if batch[i].kind == subAdd {
				hasAdd = true
			} else {
				hasRemove = true
			}
		}
		if hasAdd && hasRemove && !m.unsubscribeCloses {
			for _, i := range idxs {
				skip[i] = true
			}
		} else if hasAdd && hasRemove && m.unsubscribeCloses {
			for _, i := range idxs {
				if batch[i].kind == subAdd {
					skip[i] = true
				}
			}
		}
	}

	// Drain unsubscribes first (so a closing socket never re-appears as a
	// fresh subscription target), then apply subscribes.
	for i, s := range batch {
		if skip[i] || s.kind != subRemove {
			continue
		}
		for _, p := range m.pollers {
			p.Unsubscribe(s.conn)
		}
		m.deleteOnePending(s.tag)
	}
	for i, s := range batch {
		if skip[i] || s.kind != subAdd {
			continue
		}
		m.subscribeAcrossPollers(s.conn, s.events, s.tag)
	}
}

func (m *Multiplexer) subscribeAcrossPollers(conn net.Conn, events EventSet, tag uint64) {
	for _, p := range m.pollers {
		if max := p.MaxSockets(); max == 0 {
			if p.Subscribe(conn, events, tag) {
				return
			}
		}
	}
	// All existing pollers are full or refused; grow a new one.
	p, err := newPlatformPoller()
	if err != nil {
		return
	}
	m.pollers = append(m.pollers, p)
	p.Subscribe(conn, events, tag)
}

// mergeEvents merges a poller's just-returned events into the central
// pending list: if the central list is empty the new slice is adopted by
// reference; otherwise already-consumed entries are vacuumed and only
// events for tags not already pending are appended (§4.C).
func (m *Multiplexer) mergeEvents(events []PollEvent) {
	m.pendingMu.Lock()
	defer m.pendingMu.Unlock()

	if len(m.pending) == m.cursor {
		m.pending = events
		m.cursor = 0
		return
	}

	m.vacuumLocked()

	existing := make(map[uint64]bool, len(m.pending))
	for _, e := range m.pending {
		existing[e.Tag] = true
	}
	for _, e := range events {
		if !existing[e.Tag] {
			m.pending = append(m.pending, e)
			existing[e.Tag] = true
		}
	}
}

func (m *Multiplexer) vacuumLocked() {
	if m.cursor == 0 {
		return
	}
	remaining := m.pending[m.cursor:]
	m.pending = append(m.pending[:0], remaining...)
	m.cursor = 0
}

// GetOnePending advances the internal index and returns the next pending
// event, skipping any whose event set has been cleared by DeleteOnePending
// (used to cancel a notification for a connection that was deleted after
// the event was queued but before it was consumed).
func (m *Multiplexer) GetOnePending() (PollEvent, bool) {
	m.pendingMu.Lock()
	defer m.pendingMu.Unlock()

	for m.cursor < len(m.pending) {
		e := m.pending[m.cursor]
		m.cursor++
		if e.Events == 0 {
			continue
		}
		return e, true
	}
	return PollEvent{}, false
}

// GetOne attempts GetOnePending first; on a miss it polls for fresh events
// (10ms timeout on facility (ii), blocking on facility (i)) and retries
// once (§4.C).
func (m *Multiplexer) GetOne(timeoutMs int) (PollEvent, bool) {
	if e, ok := m.GetOnePending(); ok {
		return e, true
	}
	if m.terminated.Load() {
		return PollEvent{}, false
	}
	m.PollForPendingEvents(timeoutMs)
	return m.GetOnePending()
}

// deleteOnePending clears (but does not remove) any already-queued pending
// event for tag, so a later GetOnePending skips it (§4.C).
func (m *Multiplexer) deleteOnePending(tag uint64) {
	m.pendingMu.Lock()
	defer m.pendingMu.Unlock()
	for i := m.cursor; i < len(m.pending); i++ {
		if m.pending[i].Tag == tag {
			m.pending[i].Events = 0
		}
	}
}

// DeleteOnePending is the exported form, used when a connection is deleted
// from the registry out from under a still-queued event.
func (m *Multiplexer) DeleteOnePending(tag uint64) {
	m.deleteOnePending(tag)
}

// DeleteSeveralPending clears queued events for multiple tags at once.
func (m *Multiplexer) DeleteSeveralPending(tags []uint64) {
	m.pendingMu.Lock()
	defer m.pendingMu.Unlock()
	set := make(map[uint64]bool, len(tags))
	for _, t := range tags {
		set[t] = true
	}
	for i := m.cursor; i < len(m.pending); i++ {
		if set[m.pending[i].Tag] {
			m.pending[i].Events = 0
		}
	}
}

// AddOnePending synthesizes a pending event directly (used by the jumbo
// writer-thread drain and by tests), optionally searching for an existing
// entry for the same tag and merging the event set into it instead of
// appending a duplicate.
func (m *Multiplexer) AddOnePending(tag uint64, events EventSet, searchExisting bool) {
	m.pendingMu.Lock()
	defer m.pendingMu.Unlock()
	if searchExisting {
		for i := m.cursor; i < len(m.pending); i++ {
			if m.pending[i].Tag == tag {
				m.pending[i].Events |= events
				return
			}
		}
	}
	m.pending = append(m.pending, PollEvent{Tag: tag, Events: events})
}

// Terminate flips a flag observed by all wait loops; subsequent Wait calls
// return immediately without blocking (§4.C).
func (m *Multiplexer) Terminate() {
	m.terminated.Store(true)
	for _, p := range m.pollers {
		p.Terminate()
	}
}

// Close releases every underlying poller.
func (m *Multiplexer) Close() {
	for _, p := range m.pollers {
		_ = p.Close()
	}
}

// pendingByteSource is implemented by pollers whose readiness-detection
// trick consumes application bytes that must be replayed to the caller
// (currently only pollerFallback's peek-a-byte monitor, §4.B facility (ii)).
// Not part of the Poller interface proper since it is specific to one
// concrete implementation.
type pendingByteSource interface {
	TakePending(conn net.Conn) []byte
}

// TakePending returns and clears any bytes a poller already consumed from
// conn while detecting its readiness, so the engine can prepend them ahead
// of its own Recv and preserve ordered, lossless delivery (§8 invariant 4).
// A no-op on facility (i) (epoll), which never peeks application bytes.
func (m *Multiplexer) TakePending(conn net.Conn) []byte {
	for _, p := range m.pollers {
		if src, ok := p.(pendingByteSource); ok {
			if b := src.TakePending(conn); len(b) > 0 {
				return b
			}
		}
	}
	return nil
}

// PostOutgoing appends handle to the de-duplicating outgoing-broadcast list
// under a light lock (§3 "Outgoing broadcast list"); the writer thread's
// idle step copies this out under the same lock and processes it unlocked.
func (m *Multiplexer) PostOutgoing(h Handle) {
	m.outgoingMu.Lock()
	for _, existing := range m.outgoing {
		if existing == h {
			m.outgoingMu.Unlock()
			return
		}
	}
	m.outgoing = append(m.outgoing, h)
	m.outgoingMu.Unlock()
}

// DrainOutgoing copies out and clears the outgoing-broadcast list.
func (m *Multiplexer) DrainOutgoing() []Handle {
	m.outgoingMu.Lock()
	out := m.outgoing
	m.outgoing = nil
	m.outgoingMu.Unlock()
	return out
}
