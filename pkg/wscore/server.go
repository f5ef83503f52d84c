package wscore

import (
	"errors"
	"log/slog"
	"net"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Server owns the listener, registry, multiplexer, and engine, and wires
// application-level upgrade/frame callbacks onto the connection lifecycle
// (§4.J). Unlike the teacher's Server (a thin wrapper around *fasthttp.Server
// delegating the whole request lifecycle to fasthttp), wscore's Server drives
// its own accept loop and socket state machine end to end, per §4's core
// scope.
type Server struct {
	cfg      *Config
	reg      *Registry
	mux      *Multiplexer
	eng      *Engine
	upgrader *Upgrader
	metrics  *Metrics
	log      *slog.Logger

	upgradeMu       sync.RWMutex
	upgradeHandlers map[string]func(*Conn)
	onConnect       func(*Conn)
	onDisconnect    func(*Conn)

	listener  net.Listener
	terminate atomic.Bool
	acceptWg  sync.WaitGroup
	workerWg  sync.WaitGroup
}

// NewServer constructs a Server from cfg (DefaultConfig() if nil).
func NewServer(cfg *Config) (*Server, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	mux, err := NewMultiplexer(cfg.UnsubscribeClosesSocket)
	if err != nil {
		return nil, err
	}
	reg := NewRegistry(time.Second)

	var metrics *Metrics
	if cfg.EnableMetrics {
		metrics = NewMetrics(prometheus.DefaultRegisterer)
	}

	log := NewLogger(cfg.LogLevel, cfg.LogFormat, nil)

	s := &Server{
		cfg:             cfg,
		reg:             reg,
		mux:             mux,
		upgrader:        NewUpgrader(),
		metrics:         metrics,
		log:             log,
		upgradeHandlers: make(map[string]func(*Conn)),
	}
	s.eng = NewEngine(mux, reg, log, metrics)
	s.eng.writeOnly = cfg.WritePollOnly
	s.upgrader.AllowDeflate(cfg.EnablePermessageDeflate)

	reg.OnIdleScan(s.idleScanOne)
	return s, nil
}

// OnUpgrade registers handler to run once a connection negotiates protocol
// (the empty string matches the default "unnamed" protocol). handler is
// invoked after the 101 response has been queued and the connection has
// transitioned into WebSocket state.
func (s *Server) OnUpgrade(protocol string, handler func(*Conn)) {
	s.upgradeMu.Lock()
	defer s.upgradeMu.Unlock()
	if protocol != "" {
		s.upgrader.RegisterProtocol(protocol)
	} else {
		s.upgrader.RegisterDefaultProtocol(protocol)
	}
	s.upgradeHandlers[protocol] = handler
}

// OnConnect registers a callback invoked once per connection, immediately
// after any protocol-specific OnUpgrade handler (§4.I.5 "fires on_upgraded
// then on_connect").
func (s *Server) OnConnect(fn func(*Conn)) {
	s.upgradeMu.Lock()
	s.onConnect = fn
	s.upgradeMu.Unlock()
}

// OnDisconnect registers a callback invoked after a WebSocket connection is
// torn down, mirroring the source's on_ws_disconnect hook (§7: "on_ws_
// disconnect callback errors during shutdown are swallowed").
func (s *Server) OnDisconnect(fn func(*Conn)) {
	s.upgradeMu.Lock()
	s.onDisconnect = fn
	s.upgradeMu.Unlock()
}

// Broadcast implements §4.I's broadcast: encodes once, fans out to targets
// (or all connections when targets is empty), returns the number sent.
func (s *Server) Broadcast(op Opcode, payload []byte, targets []Handle) int {
	sent := Broadcast(s.reg, op, payload, targets, 0, func(c *Conn, encoded []byte, timeoutMs int) bool {
		return s.eng.Write(c, encoded, timeoutMs, c.callbacks)
	})
	if s.metrics != nil && sent > 0 {
		for i := 0; i < sent; i++ {
			s.metrics.frameSent(op)
		}
	}
	return sent
}

// ConnectionCount reports the number of currently live connections.
func (s *Server) ConnectionCount() int { return s.reg.Len() }

// ListenAndServe binds addr (per §6's host:port / unix:/path / bare-port
// forms) and runs the accept loop until Shutdown is called.
func (s *Server) ListenAndServe(addr string) error {
	if addr != "" {
		s.cfg.Addr = addr
	}
	network, address := parseAddr(s.cfg.Addr)
	ln, err := net.Listen(network, address)
	if err != nil {
		return err
	}
	return s.Serve(ln)
}

// Serve runs the accept loop against an already-bound listener.
func (s *Server) Serve(ln net.Listener) error {
	s.listener = ln
	poolSize := s.cfg.ThreadPoolCount
	if poolSize <= 0 {
		poolSize = runtime.GOMAXPROCS(0)
	}

	for i := 0; i < poolSize; i++ {
		s.workerWg.Add(1)
		go s.readerLoop()
	}
	if !s.cfg.NoWriterThread {
		s.workerWg.Add(1)
		go s.writerLoop()
	}
	s.reg.StartIdleScan()

	s.acceptWg.Add(1)
	defer s.acceptWg.Done()
	return s.acceptLoop(ln)
}

// acceptLoop is §4.J's main accept thread: accept -> Retry re-loops, fatal
// errors log and sleep briefly, success hands the connection to the engine.
func (s *Server) acceptLoop(ln net.Listener) error {
	for {
		if s.terminate.Load() {
			return nil
		}
		conn, err := ln.Accept()
		if err != nil {
			if s.terminate.Load() || errors.Is(err, net.ErrClosed) {
				return nil
			}
			s.log.Warn("wscore: accept failed", "error", err)
			time.Sleep(50 * time.Millisecond)
			continue
		}
		s.acceptOne(conn)
	}
}

func (s *Server) acceptOne(raw net.Conn) {
	handle, err := s.reg.NextHandle()
	if err != nil {
		s.log.Error("wscore: handle space exhausted", "error", err)
		_ = raw.Close()
		return
	}

	sock := NewSocket(raw)
	c := newConn(handle, sock, raw.RemoteAddr().String())
	c.engine = s.eng
	c.callbacks = &driver{srv: s, conn: c}
	c.frameReader = newFrameReader(s.cfg.MaxFrameSize)

	s.reg.Insert(c)
	if !s.eng.Start(c) {
		s.reg.Delete(c.handle)
		_ = raw.Close()
		return
	}
	if s.metrics != nil {
		s.metrics.connAccepted()
	}
}

func (s *Server) readerLoop() {
	defer s.workerWg.Done()
	for !s.terminate.Load() {
		s.eng.ProcessRead(30000)
	}
}

func (s *Server) writerLoop() {
	defer s.workerWg.Done()
	for !s.terminate.Load() {
		s.eng.ProcessWrite(30000)
		s.drainOutgoing()
	}
}

// drainOutgoing implements the writer thread's "JumboFrame gathering" idle
// step (§4.H): copy out the multiplexer's outgoing-notify list, then per
// connection serialize and transmit every queued frame with a single write.
func (s *Server) drainOutgoing() {
	handles := s.mux.DrainOutgoing()
	if len(handles) == 0 {
		return
	}
	start := time.Now()
	for _, h := range handles {
		c := s.reg.Find(h)
		if c == nil {
			continue
		}
		c.drainOutbox(s.eng)
	}
	d := time.Since(start)
	if s.metrics != nil {
		s.metrics.observeJumboDrain(d)
	}
	if d > 500*time.Microsecond {
		s.log.Warn("wscore: jumbo drain exceeded budget", "duration", d, "connections", len(handles))
	}
}

// idleScanOne implements §4.F's idle_every_second invariant for a single
// connection: GC threshold shrinks buffers, heartbeat threshold sends a
// ping, and the missed-heartbeat counter evicts a non-responsive peer.
func (s *Server) idleScanOne(c *Conn) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Warn("wscore: idle scan callback panicked", "recover", r)
		}
	}()

	now := time.Now().Unix()
	if c.wasActive.Swap(false) {
		c.lastOperationSec.Store(now)
		return
	}
	idle := now - c.lastOperationSec.Load()

	if s.cfg.LastOperationReleaseMemorySeconds > 0 && idle > s.cfg.LastOperationReleaseMemorySeconds {
		if conn := c.socketOrNil(); conn != nil {
			if c.readLock.tryLock(100*time.Millisecond, func() bool { return c.socketOrNil() == nil }) {
				if c.writeLock.tryLock(100*time.Millisecond, func() bool { return c.socketOrNil() == nil }) {
					c.readBuf.ShrinkToFit()
					c.writeBuf.ShrinkToFit()
					c.writeLock.unlock()
				}
				c.readLock.unlock()
			}
		}
		return
	}

	if c.wsState != WSRun {
		return
	}
	heartbeatSecs := int64(s.cfg.HeartbeatDelay / time.Second)
	if heartbeatSecs <= 0 || idle < heartbeatSecs {
		return
	}

	if c.missedHeartbeats.Load() >= int32(s.cfg.DisconnectAfterInvalidHeartbeatCount) {
		if s.metrics != nil {
			s.metrics.heartbeatTimeout()
		}
		s.eng.unlockAndClose(c, false, false, c.callbacks)
		return
	}

	c.missedHeartbeats.Add(1)
	c.SendFrame(OpPing, nil, 0)
	if s.metrics != nil {
		s.metrics.heartbeatSent()
	}
}

// Shutdown terminates the engine, closes the listener, then waits up to
// timeout for the accept and worker goroutines to exit before force-closing
// every remaining connection and the multiplexer (§5 "Destructor waits
// bounded time ... after the grace window it proceeds regardless").
func (s *Server) Shutdown(timeout time.Duration) error {
	s.terminate.Store(true)
	s.eng.Terminate()
	s.reg.StopIdleScan()

	if s.listener != nil {
		_ = s.listener.Close()
		// Unblock a pending accept on platforms where closing the listener
		// doesn't itself wake the accept goroutine (§4.J sentinel connect).
		if addr := s.listener.Addr(); addr != nil {
			if c, err := net.DialTimeout(addr.Network(), addr.String(), 200*time.Millisecond); err == nil {
				_ = c.Close()
			}
		}
	}

	done := make(chan struct{})
	go func() {
		s.acceptWg.Wait()
		s.workerWg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(timeout):
		s.log.Warn("wscore: shutdown grace period exceeded, proceeding regardless")
	}

	for _, c := range s.reg.Snapshot() {
		s.eng.unlockAndClose(c, false, false, c.callbacks)
	}
	s.mux.Close()
	return nil
}

// parseAddr implements §6's address grammar: "host:port", "unix:/path", or
// a bare port number (binds 0.0.0.0:port).
func parseAddr(addr string) (network, address string) {
	if strings.HasPrefix(addr, "unix:") {
		return "unix", strings.TrimPrefix(addr, "unix:")
	}
	if _, err := strconv.Atoi(addr); err == nil {
		return "tcp", "0.0.0.0:" + addr
	}
	return "tcp", addr
}
