package registry

import (
	"context"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"
)

// SweeperConfig configures the idle eviction sweeper.
type SweeperConfig struct {
	// Interval is how often the sweeper scans the registry.
	Interval time.Duration
	// IdleThreshold is the inactivity duration after which a session is evicted.
	IdleThreshold time.Duration
}

// DefaultSweeperConfig returns the reference behavior: scan every 5 minutes,
// evict after 30 minutes of inactivity.
func DefaultSweeperConfig() SweeperConfig {
	return SweeperConfig{
		Interval:      5 * time.Minute,
		IdleThreshold: 30 * time.Minute,
	}
}

// Sweeper periodically closes and removes sessions that have been inactive
// beyond the threshold. Touching a session on every inbound event resets its
// clock, so a session with ongoing traffic is never evicted mid-flight.
type Sweeper struct {
	config   SweeperConfig
	registry *Registry
	evict    func(sessionID string)

	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	mu      sync.Mutex
	started bool

	totalEvicted atomic.Int64
}

// NewSweeper creates a sweeper. evict is called for every expired session and
// must close the session's live connection and remove it from the registry;
// the connection manager's Disconnect satisfies this.
func NewSweeper(config SweeperConfig, registry *Registry, evict func(sessionID string)) *Sweeper {
	if config.Interval == 0 {
		config = DefaultSweeperConfig()
	}
	return &Sweeper{
		config:   config,
		registry: registry,
		evict:    evict,
	}
}

// Start begins the sweep loop.
func (s *Sweeper) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return fmt.Errorf("sweeper already started")
	}

	s.ctx, s.cancel = context.WithCancel(ctx)
	s.started = true

	s.wg.Add(1)
	go s.run()

	return nil
}

// Stop stops the sweep loop and waits for it to exit.
func (s *Sweeper) Stop() {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return
	}
	s.cancel()
	s.mu.Unlock()

	s.wg.Wait()

	s.mu.Lock()
	s.started = false
	s.mu.Unlock()
}

func (s *Sweeper) run() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			s.Sweep()
		}
	}
}

// Sweep evicts every session idle beyond the threshold. It is exported so
// callers can trigger a scan outside the periodic schedule.
func (s *Sweeper) Sweep() {
	for _, id := range s.registry.IdleSessions(s.config.IdleThreshold) {
		log.Printf("Evicting idle session %s", id)
		s.evict(id)
		s.totalEvicted.Add(1)
	}
}

// TotalEvicted returns the number of sessions evicted since startup.
func (s *Sweeper) TotalEvicted() int64 {
	return s.totalEvicted.Load()
}
