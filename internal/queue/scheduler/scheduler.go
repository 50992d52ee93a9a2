// Package scheduler provides the lifecycle hooks that drive the sync queue:
// a startup pass with crash recovery, a reconnect trigger, a periodic pass
// while online and a daily retention sweep.
package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/obradiario/backend/internal/errors"
	"github.com/obradiario/backend/internal/logging"
	"github.com/obradiario/backend/internal/netmon"
	"github.com/obradiario/backend/internal/queue"
)

// Config holds scheduler configuration.
type Config struct {
	SyncInterval    time.Duration // periodic dispatch pass while online (default: 2 minutes)
	CleanupInterval time.Duration // retention sweep cadence (default: 24 hours)
	Retention       time.Duration // age threshold for purging resolved items (default: 7 days)
}

// DefaultConfig returns the default scheduler configuration.
func DefaultConfig() *Config {
	return &Config{
		SyncInterval:    2 * time.Minute,
		CleanupInterval: 24 * time.Hour,
		Retention:       queue.DefaultRetention,
	}
}

// Scheduler invokes dispatch passes and cleanup at the right moments. It is
// a set of timers and subscriptions, not independently stateful.
type Scheduler struct {
	dispatcher *queue.Dispatcher
	mgr        *queue.Manager
	net        netmon.Source
	cfg        *Config

	mu          sync.Mutex
	isRunning   bool
	stopCh      chan struct{}
	unsubscribe func()
	wg          sync.WaitGroup
}

// New creates a Scheduler. A nil config uses defaults.
func New(dispatcher *queue.Dispatcher, mgr *queue.Manager, net netmon.Source, cfg *Config) *Scheduler {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if cfg.SyncInterval <= 0 {
		cfg.SyncInterval = 2 * time.Minute
	}
	if cfg.CleanupInterval <= 0 {
		cfg.CleanupInterval = 24 * time.Hour
	}
	if cfg.Retention <= 0 {
		cfg.Retention = queue.DefaultRetention
	}

	return &Scheduler{
		dispatcher: dispatcher,
		mgr:        mgr,
		net:        net,
		cfg:        cfg,
	}
}

// Start recovers crash-stranded items, runs the startup pass and begins the
// periodic loops. Safe to call once per Scheduler.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	if s.isRunning {
		s.mu.Unlock()
		return
	}
	s.isRunning = true
	s.stopCh = make(chan struct{})
	s.mu.Unlock()

	// Items left in processing by a crash would deadlock the queue.
	if _, err := s.mgr.RecoverStale(); err != nil {
		logging.ErrorWithCode("Crash recovery failed", string(errors.ErrSyncFailed), err)
	}

	// Reconnect trigger: a transition to online drains whatever accumulated
	// while offline.
	s.unsubscribe = s.net.Subscribe(func(online bool) {
		if online {
			go s.dispatcher.ProcessQueue(ctx)
		}
	})

	// Startup pass.
	go s.dispatcher.ProcessQueue(ctx)

	s.wg.Add(2)
	go s.dispatchLoop(ctx)
	go s.cleanupLoop(ctx)

	logging.Info("Sync scheduler started", map[string]interface{}{
		"sync_interval":    s.cfg.SyncInterval.String(),
		"cleanup_interval": s.cfg.CleanupInterval.String(),
	})
}

// Stop halts the loops and detaches the reconnect subscription.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.isRunning {
		s.mu.Unlock()
		return
	}
	s.isRunning = false
	close(s.stopCh)
	unsubscribe := s.unsubscribe
	s.unsubscribe = nil
	s.mu.Unlock()

	if unsubscribe != nil {
		unsubscribe()
	}
	s.wg.Wait()

	logging.Info("Sync scheduler stopped")
}

// IsRunning reports whether the scheduler loops are active.
func (s *Scheduler) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.isRunning
}

// dispatchLoop runs a dispatch pass on a fixed interval while online.
func (s *Scheduler) dispatchLoop(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.cfg.SyncInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		case <-ticker.C:
			if !s.net.Online() {
				continue
			}
			// ProcessQueue has its own single-flight guard, so an overdue
			// pass cannot stack on a running one.
			s.dispatcher.ProcessQueue(ctx)
		}
	}
}

// cleanupLoop purges resolved items past the retention window once per
// cleanup interval.
func (s *Scheduler) cleanupLoop(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.cfg.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		case <-ticker.C:
			if _, err := s.mgr.CleanupOldItems(s.cfg.Retention); err != nil {
				logging.Error("Retention sweep failed", err)
			}
		}
	}
}
