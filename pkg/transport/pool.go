package transport

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	comms "github.com/nats-io/nats.go"

	"github.com/morezero/agent-router/pkg/commsutil"
)

const poolLogPrefix = "transport:pool"

// Pool keeps one COMMS connection per server URL for outbound delivery.
// Connections are persistent.
type Pool struct {
	mu          sync.RWMutex
	connections map[string]*pooledConnection
	name        string
}

type pooledConnection struct {
	nc          *comms.Conn
	serverURL   string
	owned       bool
	connectedAt time.Time
}

// NewPool creates an empty pool. name prefixes the connection names.
func NewPool(name string) *Pool {
	return &Pool{connections: make(map[string]*pooledConnection), name: name}
}

// Add registers an existing connection for serverURL. The pool does not close it.
func (p *Pool) Add(serverURL string, nc *comms.Conn) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.connections[serverURL] = &pooledConnection{nc: nc, serverURL: serverURL, connectedAt: time.Now()}
}

// getOrConnect gets an existing connection or creates a new one.
func (p *Pool) getOrConnect(serverURL string) (*comms.Conn, error) {
	p.mu.RLock()
	if pc, ok := p.connections[serverURL]; ok && pc.nc.IsConnected() {
		p.mu.RUnlock()
		return pc.nc, nil
	}
	p.mu.RUnlock()

	p.mu.Lock()
	defer p.mu.Unlock()

	// Double-check after acquiring write lock
	if pc, ok := p.connections[serverURL]; ok && pc.nc.IsConnected() {
		return pc.nc, nil
	}

	// Remove stale entry if exists
	if pc, ok := p.connections[serverURL]; ok {
		if pc.owned {
			pc.nc.Close()
		}
		delete(p.connections, serverURL)
	}

	slog.Info(fmt.Sprintf("%s - Connecting to remote COMMS url=%s", poolLogPrefix, serverURL))
	nc, err := commsutil.Connect(serverURL, fmt.Sprintf("%s-outbound", p.name),
		comms.MaxReconnects(5),
		comms.ReconnectWait(2*time.Second),
	)
	if err != nil {
		return nil, err
	}

	p.connections[serverURL] = &pooledConnection{
		nc:          nc,
		serverURL:   serverURL,
		owned:       true,
		connectedAt: time.Now(),
	}
	return nc, nil
}

// Len returns the number of pooled connections.
func (p *Pool) Len() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.connections)
}

// Close closes every connection the pool opened.
func (p *Pool) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for url, pc := range p.connections {
		if pc.owned {
			pc.nc.Close()
		}
		delete(p.connections, url)
	}
}
