package wscore

import (
	"errors"
	"io"
	"net"
	"syscall"
	"time"
)

// Socket is a uniform, non-blocking-aware wrapper over an OS TCP connection.
// It exists so the rest of the engine never has to special-case net.Conn
// error values directly — every transport outcome is classified into a
// Result (§4.A) before it crosses into connection/engine logic.
//
// Socket wraps whatever concrete net.Conn the listener handed us (TCP or
// Unix domain); TLS connections are wrapped the same way once the TLS
// handshake has completed, since net.Conn is all this layer depends on.
type Socket struct {
	conn     net.Conn
	deadline time.Duration
}

// NewSocket wraps an already-accepted net.Conn.
func NewSocket(conn net.Conn) *Socket {
	return &Socket{conn: conn}
}

// nonBlockingDrainTimeout bounds every Recv/Send call made against an async
// socket. Go's net.Conn has no EWOULDBLOCK-on-empty-buffer equivalent — an
// unbounded-deadline read simply blocks the calling goroutine until more
// bytes arrive — so MakeAsync arms this short per-call deadline instead: once
// the poller-reported readable bytes are drained, the next Recv/Send times
// out quickly and is classified as ResultRetry (§4.A), handing the reader or
// writer goroutine back to the pool within one poll cycle instead of parking
// it on one connection (§5 "reader threads block only inside the poller's
// wait").
const nonBlockingDrainTimeout = 2 * time.Millisecond

// MakeAsync puts the socket into non-blocking mode for this process's
// purposes: it arms nonBlockingDrainTimeout so subsequent Recv/Send calls
// yield ResultRetry instead of blocking once no more data is immediately
// available, emulating EWOULDBLOCK semantics on top of Go's blocking net.Conn.
func (s *Socket) MakeAsync() Result {
	if s.conn == nil {
		return ResultNoSocket
	}
	s.deadline = nonBlockingDrainTimeout
	return ResultOk
}

// MakeBlocking is the converse of MakeAsync; present for symmetry with the
// source interface and used by tests that want a bounded deadline socket.
func (s *Socket) MakeBlocking(d time.Duration) Result {
	if s.conn == nil {
		return ResultNoSocket
	}
	s.deadline = d
	return ResultOk
}

// Send writes data and reports how many bytes were actually transferred.
// A short write is not an error: the caller appends the remainder to the
// connection's write buffer (§4.D) and resubscribes for writability.
func (s *Socket) Send(data []byte) (n int, res Result) {
	if s.conn == nil {
		return 0, ResultNoSocket
	}
	if s.deadline > 0 {
		_ = s.conn.SetWriteDeadline(time.Now().Add(s.deadline))
	}
	n, err := s.conn.Write(data)
	if err == nil {
		return n, ResultOk
	}
	if isTimeoutErr(err) {
		return n, ResultRetry
	}
	return n, classifyNetErr(err)
}

// Recv reads into buf and reports bytes actually read. Per §4.A, Recv
// returns ResultClosed (not an error code) when the peer has closed the
// connection gracefully (io.EOF / 0-byte read).
func (s *Socket) Recv(buf []byte) (n int, res Result) {
	if s.conn == nil {
		return 0, ResultNoSocket
	}
	if s.deadline > 0 {
		_ = s.conn.SetReadDeadline(time.Now().Add(s.deadline))
	}
	n, err := s.conn.Read(buf)
	if err == nil {
		return n, ResultOk
	}
	if errors.Is(err, io.EOF) {
		return n, ResultClosed
	}
	if isTimeoutErr(err) {
		return n, ResultRetry
	}
	return n, classifyNetErr(err)
}

// ShutdownAndClose half-closes the write side where the connection supports
// CloseWrite and then closes the underlying file descriptor. Errors are swallowed: by the
// time this is called the connection is being torn down unconditionally.
func (s *Socket) ShutdownAndClose() {
	if s.conn == nil {
		return
	}
	if tc, ok := s.conn.(interface{ CloseWrite() error }); ok {
		_ = tc.CloseWrite()
	}
	_ = s.conn.Close()
	s.conn = nil
}

// RecvPending drains and discards a single pending errno-producing read,
// used by Stop (§4.E) to flush any in-flight error state before close.
func (s *Socket) RecvPending() {
	if s.conn == nil {
		return
	}
	_ = s.conn.SetReadDeadline(time.Now().Add(time.Millisecond))
	var b [1]byte
	_, _ = s.conn.Read(b[:])
	_ = s.conn.SetReadDeadline(time.Time{})
}

// SetKeepalive enables or disables TCP keepalive when the underlying
// connection supports it.
func (s *Socket) SetKeepalive(enable bool) Result {
	tc, ok := s.conn.(*net.TCPConn)
	if !ok {
		return ResultNotImplemented
	}
	if err := tc.SetKeepAlive(enable); err != nil {
		return classifyNetErr(err)
	}
	return ResultOk
}

// SetNoDelay toggles Nagle's algorithm.
func (s *Socket) SetNoDelay(noDelay bool) Result {
	tc, ok := s.conn.(*net.TCPConn)
	if !ok {
		return ResultNotImplemented
	}
	if err := tc.SetNoDelay(noDelay); err != nil {
		return classifyNetErr(err)
	}
	return ResultOk
}

// SetLinger configures SO_LINGER; negative seconds disables linger.
func (s *Socket) SetLinger(seconds int) Result {
	tc, ok := s.conn.(*net.TCPConn)
	if !ok {
		return ResultNotImplemented
	}
	if err := tc.SetLinger(seconds); err != nil {
		return classifyNetErr(err)
	}
	return ResultOk
}

// RemoteAddrString returns the textual peer address, or "" if the socket has
// already been cleared.
func (s *Socket) RemoteAddrString() string {
	if s.conn == nil {
		return ""
	}
	return s.conn.RemoteAddr().String()
}

// Raw exposes the underlying net.Conn for the poller to register by file
// descriptor. Returns nil once the socket has been cleared (socket-nil
// liveness invariant, §3).
func (s *Socket) Raw() net.Conn {
	return s.conn
}

// IsNil reports whether the socket field has been cleared.
func (s *Socket) IsNil() bool {
	return s.conn == nil
}

func isTimeoutErr(err error) bool {
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

func classifyNetErr(err error) Result {
	var errno syscall.Errno
	if errors.As(err, &errno) {
		return ClassifyErrno(errno)
	}
	if errors.Is(err, net.ErrClosed) || errors.Is(err, io.ErrClosedPipe) {
		return ResultClosed
	}
	return ResultFatal
}
