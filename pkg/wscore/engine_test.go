package wscore

import (
	"net"
	"testing"
	"time"
)

type stubCallbacks struct {
	onRead    func(c *Conn) Result
	onClose   func(c *Conn)
	afterRead []byte
	closed    bool
}

func (s *stubCallbacks) OnRead(c *Conn) Result {
	if s.onRead != nil {
		return s.onRead(c)
	}
	s.afterRead = append(s.afterRead, c.readBuf.Bytes()...)
	c.readBuf.Advance(c.readBuf.Len())
	return ResultOk
}
func (s *stubCallbacks) AfterWrite(c *Conn) {}
func (s *stubCallbacks) OnClose(c *Conn) {
	s.closed = true
	if s.onClose != nil {
		s.onClose(c)
	}
}
func (s *stubCallbacks) OnError(c *Conn, events EventSet) bool { return false }

// loopbackPair returns two connected net.Conns over real TCP loopback, since
// the epoll-backed poller needs a real file descriptor (net.Pipe's in-memory
// conn does not implement syscall.Conn).
func loopbackPair(t *testing.T) (server, client net.Conn) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	defer ln.Close()

	ch := make(chan net.Conn, 1)
	go func() {
		c, err := ln.Accept()
		if err == nil {
			ch <- c
		}
	}()
	client, err = net.Dial("tcp", ln.Addr().String())
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	server = <-ch
	return server, client
}

func newTestEngine(t *testing.T) (*Engine, *Registry, *Multiplexer) {
	t.Helper()
	mux, err := NewMultiplexer(false)
	if err != nil {
		t.Fatalf("NewMultiplexer: %v", err)
	}
	reg := NewRegistry(0)
	return NewEngine(mux, reg, nil, nil), reg, mux
}

func TestEngineStartSubscribesAndProcessReadDispatches(t *testing.T) {
	server, client := loopbackPair(t)
	defer client.Close()

	eng, reg, mux := newTestEngine(t)
	defer mux.Close()

	c := newConn(1, NewSocket(server), server.RemoteAddr().String())
	c.engine = eng
	cb := &stubCallbacks{}
	c.callbacks = cb
	reg.Insert(c)

	if !eng.Start(c) {
		t.Fatal("Start failed")
	}

	if _, err := client.Write([]byte("payload")); err != nil {
		t.Fatalf("client write: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) && len(cb.afterRead) == 0 {
		eng.ProcessRead(100)
	}
	if string(cb.afterRead) != "payload" {
		t.Fatalf("OnRead saw %q, want %q", cb.afterRead, "payload")
	}
}

func TestEngineWriteDirectSend(t *testing.T) {
	server, client := loopbackPair(t)
	defer client.Close()
	defer server.Close()

	eng, _, mux := newTestEngine(t)
	defer mux.Close()

	c := newConn(2, NewSocket(server), server.RemoteAddr().String())
	c.engine = eng

	if !eng.Write(c, []byte("hello"), 0, nil) {
		t.Fatal("Write reported failure")
	}

	buf := make([]byte, 5)
	client.SetReadDeadline(time.Now().Add(2 * time.Second))
	n, err := client.Read(buf)
	if err != nil {
		t.Fatalf("client read: %v", err)
	}
	if string(buf[:n]) != "hello" {
		t.Fatalf("client read %q, want %q", buf[:n], "hello")
	}
}

func TestEngineUnlockAndCloseInvokesOnCloseAndRemovesFromRegistry(t *testing.T) {
	server, client := loopbackPair(t)
	defer client.Close()

	eng, reg, mux := newTestEngine(t)
	defer mux.Close()

	c := newConn(3, NewSocket(server), server.RemoteAddr().String())
	c.engine = eng
	cb := &stubCallbacks{}
	c.callbacks = cb
	reg.Insert(c)

	eng.unlockAndClose(c, false, false, cb)

	if !cb.closed {
		t.Fatal("OnClose was not invoked")
	}
	if reg.Find(c.Handle()) != nil {
		t.Fatal("connection should have been removed from the registry")
	}
	if c.IsValid() {
		t.Fatal("connection's magic tag should be cleared after close")
	}
}

func TestEngineStopIsIdempotent(t *testing.T) {
	server, client := loopbackPair(t)
	defer client.Close()

	eng, _, mux := newTestEngine(t)
	defer mux.Close()

	c := newConn(4, NewSocket(server), server.RemoteAddr().String())
	eng.Stop(c, 100*time.Millisecond)
	eng.Stop(c, 100*time.Millisecond) // should be a no-op, not panic
}
