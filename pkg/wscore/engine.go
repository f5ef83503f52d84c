package wscore

import (
	"log/slog"
	"time"
)

// Engine is the async sockets engine (§4.E): the only component that
// actually touches a Conn's socket for I/O. Reader and writer worker
// goroutines call ProcessRead/ProcessWrite in a loop; application code
// calls Start/Write/Stop.
type Engine struct {
	mux      *Multiplexer
	reg      *Registry
	log      *slog.Logger
	metrics  *Metrics
	writeOnly bool // "write-poll-only": never attempt a direct send before queuing
}

// NewEngine wires an engine to its multiplexer and registry. log and m may
// be nil in tests.
func NewEngine(mux *Multiplexer, reg *Registry, log *slog.Logger, m *Metrics) *Engine {
	if log == nil {
		log = slog.Default()
	}
	return &Engine{mux: mux, reg: reg, log: log, metrics: m}
}

// Start moves conn's socket to non-blocking mode and subscribes for read
// readiness (§4.E). Fails if the socket is already gone.
func (e *Engine) Start(conn *Conn) bool {
	sock := conn.socketOrNil()
	if sock == nil {
		return false
	}
	if res := sock.MakeAsync(); res != ResultOk {
		return false
	}
	return e.subscribe(conn, EventRead)
}

func (e *Engine) subscribe(conn *Conn, events EventSet) bool {
	raw := conn.rawConnForPoller()
	if raw == nil {
		return false
	}
	e.mux.Subscribe(raw, events, uint64(conn.handle))
	return true
}

// Stop implements §4.E's stop sequence: clear the socket, unsubscribe, a
// best-effort drain recv, shutdown+close, then acquire both locks (bounded)
// before returning so no callback can still be mid-flight.
func (e *Engine) Stop(conn *Conn, lockTimeout time.Duration) {
	sock := conn.clearSocket()
	if sock == nil {
		return // already stopped
	}

	raw := sock.Raw()
	e.mux.Unsubscribe(raw, uint64(conn.handle))
	e.mux.DeleteOnePending(uint64(conn.handle))

	sock.RecvPending()
	sock.ShutdownAndClose()

	conn.readLock.tryLock(lockTimeout, func() bool { return conn.socketOrNil() == nil })
	conn.writeLock.tryLock(lockTimeout, func() bool { return conn.socketOrNil() == nil })
}

// unlockAndClose implements §4.E: release whichever lock is held, stop the
// connection, drop it from the registry, then invoke OnClose (which may
// release conn itself). Only the caller whose Delete actually removed the
// connection invokes OnClose, so concurrent close paths fire it once.
func (e *Engine) unlockAndClose(conn *Conn, heldRead, heldWrite bool, cb ConnCallbacks) {
	if heldRead {
		conn.readLock.unlock()
	}
	if heldWrite {
		conn.writeLock.unlock()
	}
	e.Stop(conn, 5*time.Second)
	if e.reg.Delete(conn.handle) == nil {
		return // already closed by another path
	}
	if cb != nil {
		safeCall(func() { cb.OnClose(conn) })
	}
	if e.metrics != nil {
		e.metrics.connClosed()
	}
}

// Write implements §4.E: acquire the W lock, attempt a direct non-blocking
// send when the write buffer is currently empty and write-poll-only is not
// set, append whatever remains to the write buffer, and ensure the socket
// is subscribed for write readiness if anything is still queued.
func (e *Engine) Write(conn *Conn, data []byte, timeoutMs int, cb ConnCallbacks) bool {
	if !conn.writeLock.tryLock(time.Duration(timeoutMs)*time.Millisecond, func() bool { return conn.socketOrNil() == nil }) {
		return false
	}
	defer conn.writeLock.unlock()

	sock := conn.socketOrNil()
	if sock == nil {
		return false
	}

	remaining := data
	if conn.writeBuf.Len() == 0 && !e.writeOnly {
		for len(remaining) > 0 {
			n, res := sock.Send(remaining)
			if n > 0 {
				remaining = remaining[n:]
			}
			if res == ResultRetry {
				break
			}
			if res != ResultOk {
				return false
			}
		}
	}

	if len(remaining) == 0 {
		return true
	}

	conn.writeBuf.Append(remaining)
	e.subscribe(conn, EventRead|EventWrite)
	return true
}

const readChunkSize = 32 * 1024

// ProcessRead implements §4.E's process_read: one poll-and-dispatch cycle.
func (e *Engine) ProcessRead(timeoutMs int) {
	ev, ok := e.mux.GetOne(timeoutMs)
	if !ok {
		return
	}
	conn := e.reg.Find(Handle(ev.Tag))
	if conn == nil || !conn.IsValid() {
		return
	}
	cb := conn.callbacks

	if ev.Events.Has(EventError) {
		if cb == nil || !safeCallBool(func() bool { return cb.OnError(conn, ev.Events) }) {
			e.unlockAndClose(conn, false, false, cb)
			return
		}
	}

	if ev.Events.Has(EventRead) {
		if !conn.readLock.lock() {
			return // already in flight elsewhere; event will be re-raised
		}
		sock := conn.socketOrNil()
		if sock == nil {
			conn.readLock.unlock()
			return
		}

		// A byte the fallback poller's readiness-peek already consumed off
		// the wire must be replayed first, or it is silently lost (§8
		// invariant 4). No-op on the epoll poller.
		if pre := e.mux.TakePending(conn.rawConnForPoller()); len(pre) > 0 {
			conn.readBuf.Append(pre)
			conn.markActive()
		}

		var buf [readChunkSize]byte
		closed := false
		for {
			n, res := sock.Recv(buf[:])
			if n > 0 {
				conn.readBuf.Append(buf[:n])
				conn.markActive()
			}
			if res == ResultRetry {
				break
			}
			if res != ResultOk {
				closed = true
				break
			}
		}

		if !closed && cb != nil {
			if safeCallResult(func() Result { return cb.OnRead(conn) }) == ResultClosed {
				closed = true
			}
		}

		if closed {
			e.unlockAndClose(conn, true, false, cb)
			return
		}
		conn.readLock.unlock()
	}

	if ev.Events.Has(EventClosed) {
		e.unlockAndClose(conn, false, false, cb)
	}
}

// ProcessWrite implements §4.E's process_write: only fires on an event set
// that is exactly {Write}.
func (e *Engine) ProcessWrite(timeoutMs int) {
	ev, ok := e.mux.GetOne(timeoutMs)
	if !ok {
		return
	}
	if ev.Events != EventWrite {
		return
	}
	conn := e.reg.Find(Handle(ev.Tag))
	if conn == nil || !conn.IsValid() {
		return
	}
	cb := conn.callbacks

	if !conn.writeLock.lock() {
		return
	}
	sock := conn.socketOrNil()
	if sock == nil {
		conn.writeLock.unlock()
		return
	}

	closed := false
	for conn.writeBuf.Len() > 0 {
		n, res := sock.Send(conn.writeBuf.Bytes())
		if n > 0 {
			conn.writeBuf.Advance(n)
			conn.markActive()
		}
		if res == ResultRetry {
			break
		}
		if res != ResultOk {
			closed = true
			break
		}
	}

	if closed {
		e.unlockAndClose(conn, false, true, cb)
		return
	}

	if conn.writeBuf.Len() == 0 {
		e.mux.Unsubscribe(conn.rawConnForPoller(), uint64(conn.handle))
		if raw := conn.rawConnForPoller(); raw != nil {
			e.mux.Subscribe(raw, EventRead, uint64(conn.handle))
		}
		if cb != nil {
			safeCall(func() { cb.AfterWrite(conn) })
		}
	}
	conn.writeLock.unlock()
}

// Terminate sets the terminated flag on the multiplexer; in-flight
// ProcessRead/ProcessWrite calls observe it on their next GetOne and return
// without blocking further (§4.E).
func (e *Engine) Terminate() {
	e.mux.Terminate()
}

// safeCall recovers and logs a panicking application callback so the worker
// goroutine survives. It does not close the connection: a panic in
// AfterWrite, OnClose, or the driver's upgrade, frame and disconnect
// handlers is logged and the connection stays open. Panics in OnRead and
// OnError are turned into a close by safeCallResult and safeCallBool.
func safeCall(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			slog.Default().Warn("wscore: callback panicked", "recover", r)
		}
	}()
	fn()
}

func safeCallResult(fn func() Result) (result Result) {
	defer func() {
		if r := recover(); r != nil {
			slog.Default().Warn("wscore: callback panicked", "recover", r)
			result = ResultClosed // ProcessRead tears the connection down
		}
	}()
	return fn()
}

// safeCallBool recovers a panicking OnError callback the same way
// safeCallResult guards OnRead: a panic is treated as "handle it yourself"
// returning false, which routes into unlockAndClose instead of crashing the
// reader goroutine (§7: "Application callback raising ... caught inside the
// engine; connection is closed; server continues").
func safeCallBool(fn func() bool) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			slog.Default().Warn("wscore: callback panicked", "recover", r)
			ok = false
		}
	}()
	return fn()
}
