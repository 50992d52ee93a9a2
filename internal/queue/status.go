package queue

import (
	"sync"

	"github.com/obradiario/backend/internal/logging"
	"github.com/obradiario/backend/internal/netmon"
)

// Snapshot is the derived queue state exposed to presentation layers.
type Snapshot struct {
	PendingCount         int  `json:"pending_count"`
	FailedCount          int  `json:"failed_count"`
	IsOnline             bool `json:"is_online"`
	HasPendingOperations bool `json:"has_pending_operations"`
	SessionExpired       bool `json:"session_expired"`
}

// Observer derives aggregate queue state for UI consumption. It holds no
// state of its own beyond a cache of the last computed snapshot, recomputed
// whenever the manager notifies or connectivity changes.
type Observer struct {
	mgr *Manager
	net netmon.Source

	mu             sync.Mutex
	last           Snapshot
	subscribers    map[int]func(Snapshot)
	nextID         int
	unsubscribeFns []func()
}

// NewObserver creates an Observer wired to the manager's listener mechanism
// and the connectivity source.
func NewObserver(mgr *Manager, net netmon.Source) *Observer {
	o := &Observer{
		mgr:         mgr,
		net:         net,
		subscribers: make(map[int]func(Snapshot)),
	}

	o.unsubscribeFns = append(o.unsubscribeFns,
		mgr.AddListener(o.recompute),
		net.Subscribe(func(bool) { o.recompute() }),
	)

	o.recompute()
	return o
}

// Snapshot returns the last computed snapshot.
func (o *Observer) Snapshot() Snapshot {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.last
}

// Subscribe registers a callback invoked whenever the snapshot changes.
// The returned function removes the subscription.
func (o *Observer) Subscribe(fn func(Snapshot)) (unsubscribe func()) {
	o.mu.Lock()
	defer o.mu.Unlock()

	id := o.nextID
	o.nextID++
	o.subscribers[id] = fn

	return func() {
		o.mu.Lock()
		defer o.mu.Unlock()
		delete(o.subscribers, id)
	}
}

// Close detaches the observer from its sources.
func (o *Observer) Close() {
	for _, unsubscribe := range o.unsubscribeFns {
		unsubscribe()
	}
}

// recompute rebuilds the snapshot and notifies subscribers on change.
func (o *Observer) recompute() {
	pending, err := o.mgr.PendingCount()
	if err != nil {
		logging.Error("Failed to count pending items", err)
		return
	}
	failed, err := o.mgr.FailedCount()
	if err != nil {
		logging.Error("Failed to count failed items", err)
		return
	}

	snapshot := Snapshot{
		PendingCount:         pending,
		FailedCount:          failed,
		IsOnline:             o.net.Online(),
		HasPendingOperations: pending > 0,
		SessionExpired:       o.mgr.SessionExpired(),
	}

	o.mu.Lock()
	if snapshot == o.last {
		o.mu.Unlock()
		return
	}
	o.last = snapshot
	callbacks := make([]func(Snapshot), 0, len(o.subscribers))
	for _, fn := range o.subscribers {
		callbacks = append(callbacks, fn)
	}
	o.mu.Unlock()

	for _, fn := range callbacks {
		fn(snapshot)
	}
}
