// Package wscore is an event-driven HTTP/1.1 and WebSocket server core built
// on a cross-platform non-blocking socket polling engine.
//
// wscore multiplexes thousands of long-lived TCP connections on a small
// thread pool, parses HTTP requests incrementally, upgrades qualifying
// connections to RFC 6455 WebSockets, and carries bidirectional framed
// traffic between application callbacks and remote peers.
//
// The package covers the concurrency and protocol machinery only:
//   - the OS-polling abstraction with per-connection read/write buffers
//   - the connection registry and lifecycle
//   - the HTTP to WebSocket upgrade handshake
//   - the WebSocket framing state machine and its outbound batching
//   - the broadcast and callback-invocation fan-out
//
// It deliberately does not prescribe how request bodies are decoded or
// dispatched beyond what is needed to drive the socket state machine: body
// decoding, routing, and content negotiation belong to the application layer
// built on top.
//
// Example usage:
//
//	cfg := wscore.DefaultConfig()
//	srv, err := wscore.NewServer(cfg)
//	srv.OnUpgrade("chat", func(conn *wscore.Conn) {
//	    conn.OnFrame(func(f wscore.Frame) {
//	        srv.Broadcast(f.Opcode, f.Payload, nil)
//	    })
//	})
//	log.Fatal(srv.ListenAndServe(":8080"))
package wscore
