// Package conn manages the per-session event-stream connections to the
// enhancer backend: transport negotiation, bounded reconnection, and
// forwarding of node-completion events.
package conn

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/prompt-enhancer/bridge/internal/buffer"
	"github.com/prompt-enhancer/bridge/internal/fanout"
	"github.com/prompt-enhancer/bridge/internal/model"
	"github.com/prompt-enhancer/bridge/internal/registry"
)

// ResultStore persists node results as they arrive. The sqlite repository
// implements it; a nil store disables persistence.
type ResultStore interface {
	SaveNodeResult(ctx context.Context, sessionID, nodeName string, payload []byte) error
}

// Config holds configuration for the connection manager.
type Config struct {
	// BaseURL is the enhancer backend root, e.g. "http://localhost:5000".
	BaseURL string
	// MaxRetries bounds reconnection attempts after an unexpected disconnect.
	MaxRetries int
	// RetryDelay is the base delay between reconnection attempts; each
	// attempt doubles it.
	RetryDelay time.Duration
	// DialTimeout bounds each individual dial.
	DialTimeout time.Duration
}

// DefaultConfig returns the reference behavior: 5 reconnection attempts with
// a one-second base delay.
func DefaultConfig(baseURL string) Config {
	return Config{
		BaseURL:     baseURL,
		MaxRetries:  5,
		RetryDelay:  time.Second,
		DialTimeout: 10 * time.Second,
	}
}

// Manager owns at most one live event-stream connection per session.
// Establishing a new connection for a session that already has one closes the
// old connection first, so the single-connection invariant holds at every
// instant.
type Manager struct {
	config     Config
	registry   *registry.Registry
	events     *fanout.Broadcaster
	replay     *buffer.EventBuffer
	store      ResultStore
	transports []Transport

	ctx    context.Context
	cancel context.CancelFunc

	mu    sync.Mutex
	conns map[string]*sessionConn
}

// NewManager creates a connection manager. replay and store may be nil.
// transports are tried in order; passing none installs the default
// websocket-then-polling pair.
func NewManager(config Config, reg *registry.Registry, events *fanout.Broadcaster, replay *buffer.EventBuffer, store ResultStore, transports ...Transport) *Manager {
	if config.MaxRetries == 0 {
		config.MaxRetries = 5
	}
	if config.RetryDelay == 0 {
		config.RetryDelay = time.Second
	}
	if config.DialTimeout == 0 {
		config.DialTimeout = 10 * time.Second
	}
	if len(transports) == 0 {
		transports = []Transport{NewWebSocketTransport(), NewPollingTransport(0)}
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		config:     config,
		registry:   reg,
		events:     events,
		replay:     replay,
		store:      store,
		transports: transports,
		ctx:        ctx,
		cancel:     cancel,
		conns:      make(map[string]*sessionConn),
	}
}

type sessionConn struct {
	sessionID string
	transport Transport

	mu     sync.Mutex
	ec     EventConn
	closed bool
}

func (c *sessionConn) current() EventConn {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ec
}

func (c *sessionConn) replace(ec EventConn) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ec = ec
}

// close marks the connection as deliberately closed and closes the underlying
// stream. Returns false if it was already closed.
func (c *sessionConn) close() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	c.closed = true
	if c.ec != nil {
		c.ec.Close()
	}
	return true
}

func (c *sessionConn) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// Connect idempotently ensures a live connection for the session. Any
// existing connection for the same session is closed first. Transports are
// tried in preference order; the first that dials wins and stays sticky for
// this connection's lifetime. Connection errors are logged, never raised to
// the caller beyond the returned flag.
func (m *Manager) Connect(ctx context.Context, sessionID string) bool {
	m.registry.Upsert(sessionID)
	m.registry.Touch(sessionID)

	// Close before opening: at most one live connection per session.
	m.mu.Lock()
	if old, ok := m.conns[sessionID]; ok {
		delete(m.conns, sessionID)
		old.close()
	}
	m.mu.Unlock()

	for _, t := range m.transports {
		dialCtx, cancel := context.WithTimeout(ctx, m.config.DialTimeout)
		ec, err := t.Dial(dialCtx, m.config.BaseURL, sessionID)
		cancel()
		if err != nil {
			log.Printf("Transport %s failed for session %s: %v", t.Name(), sessionID, err)
			continue
		}

		// Re-check at insert: a concurrent Connect for the same session may
		// have dialed in the window since the close above. Close whichever
		// connection landed first so exactly one stays live.
		sc := &sessionConn{sessionID: sessionID, transport: t, ec: ec}
		m.mu.Lock()
		if raced, ok := m.conns[sessionID]; ok {
			raced.close()
		}
		m.conns[sessionID] = sc
		m.mu.Unlock()

		m.registry.SetConnected(sessionID, true)
		m.events.Publish(model.ConnectivityEnvelope(sessionID, true))
		log.Printf("Session %s connected via %s", sessionID, t.Name())

		go m.readLoop(sc)
		return true
	}

	log.Printf("All transports failed for session %s", sessionID)
	m.registry.SetConnected(sessionID, false)
	return false
}

// readLoop pumps events from the connection into the registry and fan-out,
// reconnecting with the same transport on unexpected failure. After
// exhausting the retry budget it marks the session disconnected and stops;
// the caller must Connect again explicitly.
func (m *Manager) readLoop(sc *sessionConn) {
	for {
		ev, err := sc.current().ReadEvent()
		if err != nil {
			if sc.isClosed() || m.ctx.Err() != nil {
				return
			}
			if !m.reconnect(sc) {
				m.dropConn(sc)
				m.registry.SetConnected(sc.sessionID, false)
				m.events.Publish(model.ConnectivityEnvelope(sc.sessionID, false))
				return
			}
			continue
		}
		m.handleEvent(sc.sessionID, ev)
	}
}

// reconnect retries the connection's own transport up to MaxRetries with a
// doubling delay. The transport choice is sticky: a websocket connection that
// drops is retried as websocket, never downgraded mid-flight.
func (m *Manager) reconnect(sc *sessionConn) bool {
	delay := m.config.RetryDelay
	for attempt := 1; attempt <= m.config.MaxRetries; attempt++ {
		select {
		case <-m.ctx.Done():
			return false
		case <-time.After(delay):
		}
		delay *= 2

		if sc.isClosed() {
			return false
		}

		dialCtx, cancel := context.WithTimeout(m.ctx, m.config.DialTimeout)
		ec, err := sc.transport.Dial(dialCtx, m.config.BaseURL, sc.sessionID)
		cancel()
		if err != nil {
			log.Printf("Reconnect attempt %d/%d failed for session %s: %v",
				attempt, m.config.MaxRetries, sc.sessionID, err)
			continue
		}

		sc.replace(ec)
		m.registry.SetConnected(sc.sessionID, true)
		m.registry.Touch(sc.sessionID)
		log.Printf("Session %s reconnected via %s", sc.sessionID, sc.transport.Name())
		return true
	}
	return false
}

// handleEvent records a node completion and forwards it to all listeners.
func (m *Manager) handleEvent(sessionID string, ev model.NodeEvent) {
	m.registry.RecordNodeResult(sessionID, ev.NodeName, ev.NodeData)

	if m.store != nil {
		if err := m.store.SaveNodeResult(m.ctx, sessionID, ev.NodeName, ev.NodeData); err != nil {
			log.Printf("Failed to persist node result %s/%s: %v", sessionID, ev.NodeName, err)
		}
	}

	env := model.NodeCompletedEnvelope(sessionID, ev)
	if m.replay != nil {
		m.replay.Append(env)
	}
	m.events.Publish(env)
}

// dropConn removes the connection from the map if it is still the session's
// current one. A Connect that raced in and replaced it is left untouched.
func (m *Manager) dropConn(sc *sessionConn) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if cur, ok := m.conns[sc.sessionID]; ok && cur == sc {
		delete(m.conns, sc.sessionID)
	}
}

// Connected reports whether the session currently has a live connection.
func (m *Manager) Connected(sessionID string) bool {
	s, ok := m.registry.Get(sessionID)
	return ok && s.Connected
}

// Disconnect closes the session's live connection if present and removes the
// session from the registry. This is the only path besides the idle sweeper
// that removes a session.
func (m *Manager) Disconnect(sessionID string) {
	m.mu.Lock()
	sc, ok := m.conns[sessionID]
	if ok {
		delete(m.conns, sessionID)
	}
	m.mu.Unlock()

	if ok && sc.close() {
		m.events.Publish(model.ConnectivityEnvelope(sessionID, false))
	}
	if m.replay != nil {
		m.replay.DropSession(sessionID)
	}
	m.registry.Remove(sessionID)
}

// LiveCount returns the number of live connections held by the manager.
func (m *Manager) LiveCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.conns)
}

// Close tears down all connections and stops any in-flight reconnect loops.
// Sessions stay in the registry; this is a shutdown path, not an eviction.
func (m *Manager) Close() {
	m.cancel()

	m.mu.Lock()
	conns := make([]*sessionConn, 0, len(m.conns))
	for _, sc := range m.conns {
		conns = append(conns, sc)
	}
	m.conns = make(map[string]*sessionConn)
	m.mu.Unlock()

	for _, sc := range conns {
		sc.close()
	}
}
