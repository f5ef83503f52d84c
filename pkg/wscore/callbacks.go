package wscore

// ConnCallbacks is the capability set the async engine invokes against a
// connection (§4.E, §9). The source expressed this as virtual methods on a
// connection base class; §9 re-architects that as an explicit interface
// handed to the engine per connection, so distinct concrete implementations
// (plain HTTP, upgraded WebSocket, test stubs) can be swapped without
// subclassing. The protocol-list/factory owns the templates; each Conn
// exclusively owns the instance handed back on upgrade (§9 "mixed ownership
// of protocol instances").
type ConnCallbacks interface {
	// OnRead is called after new bytes have been appended to the read
	// buffer, while the reader (R) lock is held. Returning ResultClosed
	// tears the connection down.
	OnRead(conn *Conn) Result
	// AfterWrite is called once the write buffer has fully drained, while
	// the writer (W) lock is held.
	AfterWrite(conn *Conn)
	// OnClose is called exactly once, after both locks have been acquired
	// (so no OnRead/AfterWrite is concurrently in flight). It may release
	// the connection object; the engine makes no further calls against it.
	OnClose(conn *Conn)
	// OnError is called when the poller reports an error condition. If it
	// returns false, the engine closes the connection immediately.
	OnError(conn *Conn, events EventSet) bool
}

// NopCallbacks is a callback set that does nothing; useful for tests and as
// an embeddable base for partial implementations.
type NopCallbacks struct{}

func (NopCallbacks) OnRead(*Conn) Result             { return ResultOk }
func (NopCallbacks) AfterWrite(*Conn)                {}
func (NopCallbacks) OnClose(*Conn)                   {}
func (NopCallbacks) OnError(*Conn, EventSet) bool    { return false }
