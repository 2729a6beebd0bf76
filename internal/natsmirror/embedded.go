package natsmirror

import (
	"fmt"
	"sync"
	"time"

	"github.com/nats-io/nats-server/v2/server"
)

// EmbeddedServer runs a local NATS server for development so hiveboardd can
// demonstrate mirroring without a standalone broker. Adapted from the
// teacher's internal/nats.EmbeddedServer, trimmed to the single concern
// cmd/hiveboardd needs: start, report a connect URL, shut down cleanly.
type EmbeddedServer struct {
	mu      sync.Mutex
	srv     *server.Server
	port    int
	running bool
}

// NewEmbeddedServer builds an embedded server bound to 127.0.0.1:port.
// port<=0 picks the NATS default.
func NewEmbeddedServer(port int) *EmbeddedServer {
	if port <= 0 {
		port = 4222
	}
	return &EmbeddedServer{port: port}
}

// Start launches the embedded server in the background and blocks until it
// is ready for connections or the timeout elapses.
func (e *EmbeddedServer) Start() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.running {
		return fmt.Errorf("embedded nats server already running")
	}

	opts := &server.Options{
		Host:       "127.0.0.1",
		Port:       e.port,
		NoSigs:     true,
		MaxPayload: 1024 * 1024,
	}
	ns, err := server.NewServer(opts)
	if err != nil {
		return fmt.Errorf("create embedded nats server: %w", err)
	}

	go ns.Start()
	if !ns.ReadyForConnections(10 * time.Second) {
		return fmt.Errorf("embedded nats server not ready for connections")
	}

	e.srv = ns
	e.running = true
	return nil
}

// URL returns the connect string for Connect.
func (e *EmbeddedServer) URL() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return fmt.Sprintf("nats://127.0.0.1:%d", e.port)
}

// Shutdown stops the embedded server and waits for it to drain.
func (e *EmbeddedServer) Shutdown() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.running || e.srv == nil {
		return
	}
	e.srv.Shutdown()
	e.srv.WaitForShutdown()
	e.running = false
	e.srv = nil
}
