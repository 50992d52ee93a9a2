// Package netmon exposes the host connectivity signal as an explicit
// component: a readable online flag plus transition subscriptions.
package netmon

import (
	"context"
	"sync"
	"time"

	"github.com/obradiario/backend/internal/logging"
)

// Source supplies the online/offline signal the sync queue gates on.
type Source interface {
	// Online reports the current connectivity state.
	Online() bool

	// Subscribe registers a callback invoked on every state transition.
	// The returned function removes the subscription.
	Subscribe(fn func(online bool)) (unsubscribe func())
}

// state is the shared flag + subscriber bookkeeping used by both sources.
type state struct {
	mu          sync.Mutex
	online      bool
	subscribers map[int]func(bool)
	nextID      int
}

func newState(online bool) *state {
	return &state{
		online:      online,
		subscribers: make(map[int]func(bool)),
	}
}

func (s *state) Online() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.online
}

func (s *state) Subscribe(fn func(online bool)) func() {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := s.nextID
	s.nextID++
	s.subscribers[id] = fn

	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.subscribers, id)
	}
}

// set updates the flag and notifies subscribers when the value changed.
// Callbacks run outside the lock.
func (s *state) set(online bool) {
	s.mu.Lock()
	if s.online == online {
		s.mu.Unlock()
		return
	}
	s.online = online
	callbacks := make([]func(bool), 0, len(s.subscribers))
	for _, fn := range s.subscribers {
		callbacks = append(callbacks, fn)
	}
	s.mu.Unlock()

	logging.Info("Connectivity changed", map[string]interface{}{"online": online})
	for _, fn := range callbacks {
		fn(online)
	}
}

// Static is a Source whose state is set by the host. It is used in tests
// and on hosts that feed OS-level network events in directly.
type Static struct {
	*state
}

// NewStatic creates a Static source with an initial state.
func NewStatic(online bool) *Static {
	return &Static{state: newState(online)}
}

// SetOnline updates the connectivity state, notifying subscribers on change.
func (s *Static) SetOnline(online bool) {
	s.set(online)
}

// Pinger probes backend reachability. Implemented by the remote client.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Prober is a Source that derives connectivity by polling a health probe on
// an interval.
type Prober struct {
	*state
	pinger   Pinger
	interval time.Duration

	mu      sync.Mutex
	stopCh  chan struct{}
	wg      sync.WaitGroup
	running bool
}

// NewProber creates a Prober. The source reports offline until the first
// successful probe.
func NewProber(pinger Pinger, interval time.Duration) *Prober {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &Prober{
		state:    newState(false),
		pinger:   pinger,
		interval: interval,
	}
}

// Start begins probing. Safe to call once per Prober.
func (p *Prober) Start(ctx context.Context) {
	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		return
	}
	p.running = true
	p.stopCh = make(chan struct{})
	p.mu.Unlock()

	p.wg.Add(1)
	go p.loop(ctx)
}

// Stop halts probing and waits for the probe loop to exit.
func (p *Prober) Stop() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	p.running = false
	close(p.stopCh)
	p.mu.Unlock()

	p.wg.Wait()
}

func (p *Prober) loop(ctx context.Context) {
	defer p.wg.Done()

	p.probe(ctx)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-p.stopCh:
			return
		case <-ticker.C:
			p.probe(ctx)
		}
	}
}

func (p *Prober) probe(ctx context.Context) {
	probeCtx, cancel := context.WithTimeout(ctx, p.interval)
	defer cancel()

	err := p.pinger.Ping(probeCtx)
	p.set(err == nil)
}
