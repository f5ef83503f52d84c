package wscore

import (
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// Handle is a 31-bit positive integer assigned monotonically by the
// registry (§3). Zero is reserved to mean "not a connection"; a handle never
// wraps in practice, and an attempted wrap is a fatal invariant violation
// (§7, §8 invariant 1).
type Handle uint32

const maxHandle Handle = 1<<31 - 1

// magicTag is the sentinel word every live Conn carries so a dangling tag
// reaching the registry after deletion is detected in O(1) instead of
// dereferencing freed state (§3 "Magic tag"; §9's "pointer-with-magic-tag"
// note maps this onto generation-tagged handles — see Registry.findLocked).
const magicTag uint32 = 0x57534f43 // "WSOC"

// HTTPParseState is the per-connection HTTP parse state machine (§3).
// Transitions are monotone forward; only a full recycle resets to
// HTTPWaitingRequestLine.
type HTTPParseState uint8

const (
	HTTPWaitingRequestLine HTTPParseState = iota
	HTTPInHeaders
	HTTPUpgraded
	HTTPDone
)

// WSProcessState is the per-connection WebSocket lifecycle state (§3).
// Create -> Run -> Close only; no backward transitions.
type WSProcessState uint8

const (
	WSCreate WSProcessState = iota
	WSRun
	WSClose
)

// Conn is one live connection slot (§3): socket handle, read/write buffers,
// the two independent R/W locks, idle bookkeeping, and protocol state. The
// zero value is not usable; construct with newConn.
type Conn struct {
	magic uint32

	handle   Handle
	connID   string // google/uuid correlation id for log lines (§10.1)
	socket   atomic.Pointer[Socket]
	remoteIP string

	readLock  sideLock
	writeLock sideLock

	readBuf  *growBuffer
	writeBuf *growBuffer

	lastError        Result
	wasActive        atomic.Bool
	lastOperationSec atomic.Int64

	httpState HTTPParseState
	wsState   WSProcessState

	httpParser  *HTTPRequestParser
	frameReader *frameReader
	proto       string // negotiated subprotocol name, "" until upgraded
	deflate     bool   // permessage-deflate negotiated for this connection (§6/§11)
	closeSent   atomic.Bool
	closeRecvd  atomic.Bool

	missedHeartbeats atomic.Int32

	outboxMu  sync.Mutex
	outbox    [][]byte // queued outgoing frames awaiting jumbo drain
	outboxCap int      // 0 = unbounded (MaxOutgoingQueuePerConnection)

	locals map[string]any

	callbacks ConnCallbacks
	engine    *Engine
	onFrame   func(Frame)
}

func newConn(handle Handle, sock *Socket, remoteIP string) *Conn {
	c := &Conn{
		magic:      magicTag,
		handle:     handle,
		connID:     uuid.NewString(),
		remoteIP:   remoteIP,
		readBuf:    newGrowBuffer(),
		writeBuf:   newGrowBuffer(),
		locals:     make(map[string]any),
		httpParser: NewHTTPRequestParser(),
	}
	c.socket.Store(sock)
	c.wasActive.Store(true)
	c.lastOperationSec.Store(time.Now().Unix())
	return c
}

// Handle returns the connection's registry handle.
func (c *Conn) Handle() Handle { return c.handle }

// ID returns the stable UUID correlation id for this connection's lifetime.
func (c *Conn) ID() string { return c.connID }

// RemoteAddr returns the textual peer address captured at accept time.
func (c *Conn) RemoteAddr() string { return c.remoteIP }

// IsValid checks the magic tag, detecting a dangling reference to a deleted
// connection object (§3, §9).
func (c *Conn) IsValid() bool {
	return c != nil && c.magic == magicTag
}

// socketOrNil returns the current socket, or nil if the connection has been
// closed (socket-nil liveness invariant, §3).
func (c *Conn) socketOrNil() *Socket {
	return c.socket.Load()
}

// clearSocket atomically clears the socket field; subsequent socketOrNil
// calls observe nil and refuse further I/O.
func (c *Conn) clearSocket() *Socket {
	return c.socket.Swap(nil)
}

func (c *Conn) markActive() {
	c.wasActive.Store(true)
}

// SetLocal stores a connection-scoped value (e.g. authenticated user id).
func (c *Conn) SetLocal(key string, value any) {
	c.locals[key] = value
}

// GetLocal retrieves a connection-scoped value, or nil if unset.
func (c *Conn) GetLocal(key string) any {
	return c.locals[key]
}

// Protocol returns the negotiated WebSocket subprotocol, empty if the
// connection never upgraded or none was selected.
func (c *Conn) Protocol() string { return c.proto }

// OnFrame registers the callback invoked for each received Text/Binary
// message (post fragmentation reassembly). Ping/Pong/Close are handled
// internally and never reach this callback.
func (c *Conn) OnFrame(fn func(Frame)) { c.onFrame = fn }

// SendFrame encodes and sends a Text/Binary/Close frame to this connection,
// routing through the async engine's Write (direct send or queue-plus-
// subscribe per §4.E). timeoutMs of 0 means "fail rather than block if the
// W lock is currently held", matching broadcast's timeout semantics (§4.I).
// Once a Close frame has been sent, SendFrame refuses any further frame
// rather than interleaving one after the Close (SPEC_FULL §13 OQ2): a second
// OpClose is refused outright, and any other opcode is refused once closeSent
// is latched. closeSent itself is latched here (not by callers) so every
// caller — the driver's own close/protocol-error paths and application code
// alike — goes through the same one-way gate.
func (c *Conn) SendFrame(op Opcode, payload []byte, timeoutMs int) bool {
	if c.engine == nil {
		return false
	}
	if op == OpClose {
		if c.closeSent.Swap(true) {
			return false // a Close frame was already sent
		}
	} else if c.closeSent.Load() {
		return false
	}
	encoded, err := c.encodeOutgoingFrame(op, payload)
	if err != nil {
		return false
	}
	return c.engine.Write(c, encoded, timeoutMs, c.callbacks)
}

// encodeOutgoingFrame deflates Text/Binary payloads and sets RSV1 when
// permessage-deflate was negotiated for this connection (§6, §11); control
// frames are never compressed.
func (c *Conn) encodeOutgoingFrame(op Opcode, payload []byte) ([]byte, error) {
	if !c.deflate || op == OpClose || op == OpPing || op == OpPong {
		return EncodeFrame(op, payload, false), nil
	}
	var pd permessageDeflate
	compressed, err := pd.CompressPayload(payload)
	if err != nil {
		return nil, err
	}
	return EncodeFrameRSV1(op, compressed, false, true), nil
}

// rawConnForPoller returns the net.Conn the poller needs to (un)subscribe,
// or nil if the socket has already been cleared.
func (c *Conn) rawConnForPoller() net.Conn {
	s := c.socketOrNil()
	if s == nil {
		return nil
	}
	return s.Raw()
}

// QueueFrame appends an already-encoded frame to the outgoing queue and
// posts this connection's handle to the multiplexer's outgoing-notify list,
// for a sender running on a thread other than the one draining this
// connection (§4.H "Outgoing frames"). The writer thread's idle step drains
// it via drainOutbox.
func (c *Conn) QueueFrame(mux *Multiplexer, encoded []byte, maxQueue int) bool {
	if c.closeSent.Load() {
		return false
	}
	c.outboxMu.Lock()
	if maxQueue > 0 && len(c.outbox) >= maxQueue {
		c.outboxMu.Unlock()
		return false
	}
	c.outbox = append(c.outbox, encoded)
	c.outboxMu.Unlock()
	mux.PostOutgoing(c.handle)
	return true
}

// drainOutbox implements the writer thread's "JumboFrame gathering": every
// queued frame is concatenated and transmitted with a single engine Write
// call (§4.H).
func (c *Conn) drainOutbox(eng *Engine) {
	c.outboxMu.Lock()
	frames := c.outbox
	c.outbox = nil
	c.outboxMu.Unlock()
	if len(frames) == 0 {
		return
	}

	total := 0
	for _, f := range frames {
		total += len(f)
	}
	gathered := make([]byte, 0, total)
	for _, f := range frames {
		gathered = append(gathered, f...)
	}
	eng.Write(c, gathered, 0, c.callbacks)
}
