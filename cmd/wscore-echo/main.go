// Command wscore-echo runs a minimal WebSocket echo server on top of
// pkg/wscore: every text or binary frame a client sends is broadcast back to
// all currently connected clients. It exists to exercise the upgrade,
// frame-dispatch, broadcast, and graceful-shutdown paths end to end.
package main

import (
	"log"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/fluxwire/wscore/pkg/wscore"
)

func main() {
	cfg := wscore.DefaultConfig()

	if addr := os.Getenv("LISTEN_ADDR"); addr != "" {
		cfg.Addr = addr
	}
	if v := os.Getenv("THREAD_POOL_COUNT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.ThreadPoolCount = n
		}
	}
	if v := os.Getenv("ENABLE_METRICS"); v != "" {
		cfg.EnableMetrics = v == "1" || v == "true"
	}

	srv, err := wscore.NewServer(cfg)
	if err != nil {
		log.Fatalf("wscore-echo: bad config: %v", err)
	}

	srv.OnUpgrade("", func(c *wscore.Conn) {
		log.Printf("wscore-echo: connection %s (%s) upgraded", c.ID(), c.RemoteAddr())
		c.OnFrame(func(f wscore.Frame) {
			switch f.Opcode {
			case wscore.OpText, wscore.OpBinary:
				n := srv.Broadcast(f.Opcode, f.Payload, nil)
				log.Printf("wscore-echo: echoed %d bytes from %s to %d connections", len(f.Payload), c.ID(), n)
			}
		})
	})

	srv.OnDisconnect(func(c *wscore.Conn) {
		log.Printf("wscore-echo: connection %s closed", c.ID())
	})

	log.Printf("wscore-echo starting")
	log.Printf("  addr:             %s", cfg.Addr)
	log.Printf("  thread_pool:      %d", cfg.ThreadPoolCount)
	log.Printf("  enable_metrics:   %v", cfg.EnableMetrics)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe("")
	}()

	select {
	case sig := <-sigCh:
		log.Printf("wscore-echo: received signal %v, shutting down", sig)
		if err := srv.Shutdown(5 * time.Second); err != nil {
			log.Printf("wscore-echo: shutdown error: %v", err)
		}
	case err := <-errCh:
		if err != nil {
			log.Fatalf("wscore-echo: server error: %v", err)
		}
	}
}
