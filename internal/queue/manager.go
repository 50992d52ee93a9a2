// Package queue implements the durable offline sync queue: every create,
// update and delete made in the field is persisted locally and replayed
// against the remote API once connectivity allows.
package queue

import (
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/obradiario/backend/internal/db"
	"github.com/obradiario/backend/internal/errors"
	"github.com/obradiario/backend/internal/logging"
	"github.com/obradiario/backend/internal/models"
	"github.com/obradiario/backend/internal/netmon"
	"github.com/obradiario/backend/internal/uuid"
)

const (
	// DefaultMaxRetries is the retry budget for non-auth failures.
	DefaultMaxRetries = 3

	// DefaultRetention is how long resolved items are kept before cleanup.
	DefaultRetention = 7 * 24 * time.Hour
)

// Manager owns the durable queue: it is the only writer of status,
// retryCount and lastError, mediates between callers and the store, and
// notifies listeners after every mutation.
type Manager struct {
	store      *db.Store
	net        netmon.Source
	now        func() time.Time
	maxRetries int

	mu             sync.Mutex
	listeners      map[int]func()
	nextListenerID int
	sessionExpired bool
	dispatch       func()
}

// Option configures a Manager.
type Option func(*Manager)

// WithClock injects the time source. Tests use this to control ordering.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// WithMaxRetries overrides the retry budget.
func WithMaxRetries(n int) Option {
	return func(m *Manager) { m.maxRetries = n }
}

// NewManager creates a Manager over the given store and connectivity source.
func NewManager(store *db.Store, net netmon.Source, opts ...Option) *Manager {
	m := &Manager{
		store:      store,
		net:        net,
		now:        time.Now,
		maxRetries: DefaultMaxRetries,
		listeners:  make(map[int]func()),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// SetDispatchTrigger wires the fire-and-forget dispatch kick used after
// enqueue and retry-all. Called once during startup wiring.
func (m *Manager) SetDispatchTrigger(fn func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.dispatch = fn
}

// MaxRetries returns the retry budget.
func (m *Manager) MaxRetries() int {
	return m.maxRetries
}

// Enqueue persists a new pending operation and, when online, kicks a
// dispatch pass without blocking the caller. Returns the new item's id.
func (m *Manager) Enqueue(op models.Operation, entityID string, payload json.RawMessage) (models.UUID, error) {
	if !op.Valid() {
		return "", errors.New(errors.ErrUnknownOperation, fmt.Sprintf("unknown operation kind %q", op))
	}

	now := m.now().UnixMilli()
	item := &models.QueueItem{
		ID:         models.UUID(uuid.New()),
		Operation:  op,
		EntityID:   entityID,
		Payload:    payload,
		EnqueuedAt: now,
		RetryCount: 0,
		Status:     models.StatusPending,
		UpdatedAt:  now,
	}

	if err := m.store.Add(item); err != nil {
		return "", err
	}

	logging.Info("Enqueued operation", map[string]interface{}{
		"id":        string(item.ID),
		"operation": string(op),
		"entity_id": entityID,
	})

	m.notify()
	m.kickDispatch()

	return item.ID, nil
}

// kickDispatch starts a dispatch pass in the background when online.
func (m *Manager) kickDispatch() {
	m.mu.Lock()
	dispatch := m.dispatch
	m.mu.Unlock()

	if dispatch != nil && m.net.Online() {
		go dispatch()
	}
}

// Get returns a copy of the stored item.
func (m *Manager) Get(id models.UUID) (*models.QueueItem, error) {
	return m.store.Get(id)
}

// List returns every item sorted ascending by enqueue time.
func (m *Manager) List() ([]*models.QueueItem, error) {
	items, err := m.store.All()
	if err != nil {
		return nil, err
	}
	sortByEnqueuedAt(items)
	return items, nil
}

// ItemUpdate carries the fields the dispatcher may merge into an item. Nil
// fields are left unchanged.
type ItemUpdate struct {
	Status     *models.QueueStatus
	RetryCount *int
	LastError  *string
}

// UpdateItem merges fields into the stored record. Used exclusively by the
// dispatcher for status transitions and retry bookkeeping.
func (m *Manager) UpdateItem(id models.UUID, update ItemUpdate) error {
	item, err := m.store.Get(id)
	if err != nil {
		return err
	}

	if update.Status != nil {
		item.Status = *update.Status
	}
	if update.RetryCount != nil {
		item.RetryCount = *update.RetryCount
	}
	if update.LastError != nil {
		item.LastError = *update.LastError
	}
	item.UpdatedAt = m.now().UnixMilli()

	if err := m.store.Put(item); err != nil {
		return err
	}

	m.notify()
	return nil
}

// RemoveItem deletes an item after its remote call was confirmed.
func (m *Manager) RemoveItem(id models.UUID) error {
	if err := m.store.Delete(id); err != nil {
		return err
	}
	m.notify()
	return nil
}

// PendingCount returns the number of pending items.
func (m *Manager) PendingCount() (int, error) {
	return m.store.CountByStatus(models.StatusPending)
}

// FailedCount returns the number of permanently failed items.
func (m *Manager) FailedCount() (int, error) {
	return m.store.CountByStatus(models.StatusFailed)
}

// AddListener registers a callback invoked after every mutating operation.
// Delivery is best-effort and synchronous, at least once per change batch.
// The returned function removes the listener.
func (m *Manager) AddListener(fn func()) (unsubscribe func()) {
	m.mu.Lock()
	defer m.mu.Unlock()

	id := m.nextListenerID
	m.nextListenerID++
	m.listeners[id] = fn

	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		delete(m.listeners, id)
	}
}

// notify invokes every listener. Callbacks run outside the manager lock so
// they may call back into the manager.
func (m *Manager) notify() {
	m.mu.Lock()
	callbacks := make([]func(), 0, len(m.listeners))
	for _, fn := range m.listeners {
		callbacks = append(callbacks, fn)
	}
	m.mu.Unlock()

	for _, fn := range callbacks {
		fn()
	}
}

// RetryFailedItems transitions every failed item back to pending with a
// fresh retry budget, then kicks exactly one dispatch pass.
func (m *Manager) RetryFailedItems() (int, error) {
	failed, err := m.store.QueryByStatus(models.StatusFailed)
	if err != nil {
		return 0, err
	}

	now := m.now().UnixMilli()
	for _, item := range failed {
		item.Status = models.StatusPending
		item.RetryCount = 0
		item.LastError = ""
		item.UpdatedAt = now
		if err := m.store.Put(item); err != nil {
			return 0, err
		}
	}

	if len(failed) > 0 {
		logging.Info("Reset failed items for retry", map[string]interface{}{"count": len(failed)})
		m.notify()
		m.kickDispatch()
	}

	return len(failed), nil
}

// CleanupOldItems purges resolved items (success and failed) older than the
// retention window. Pending items are never purged: an auth-paused item must
// survive until the user logs in again, however old it gets.
//
// Success rows are normally deleted the moment the remote call confirms;
// this sweep catches rows left behind by a crash between the call and the
// delete, and bounds growth of the failed backlog.
func (m *Manager) CleanupOldItems(retention time.Duration) (int, error) {
	if retention <= 0 {
		retention = DefaultRetention
	}

	cutoff := m.now().Add(-retention).UnixMilli()
	deleted, err := m.store.DeleteOlderThan(cutoff, models.StatusSuccess, models.StatusFailed)
	if err != nil {
		return 0, err
	}

	if deleted > 0 {
		logging.Info("Purged old queue items", map[string]interface{}{"count": deleted})
		m.notify()
	}
	return deleted, nil
}

// RecoverStale returns items stuck in processing to pending. A crash during
// a dispatch pass leaves the in-flight item marked processing; without this
// startup sweep it would never be retried.
func (m *Manager) RecoverStale() (int, error) {
	stale, err := m.store.QueryByStatus(models.StatusProcessing)
	if err != nil {
		return 0, err
	}

	now := m.now().UnixMilli()
	for _, item := range stale {
		item.Status = models.StatusPending
		item.UpdatedAt = now
		if err := m.store.Put(item); err != nil {
			return 0, err
		}
	}

	if len(stale) > 0 {
		logging.Warn("Recovered items stuck in processing", map[string]interface{}{"count": len(stale)})
		m.notify()
	}
	return len(stale), nil
}

// SessionExpired reports whether the most recent remote failure was an auth
// failure. Cleared on the next successful remote call.
func (m *Manager) SessionExpired() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sessionExpired
}

// setSessionExpired updates the session flag, notifying listeners on change.
func (m *Manager) setSessionExpired(expired bool) {
	m.mu.Lock()
	changed := m.sessionExpired != expired
	m.sessionExpired = expired
	m.mu.Unlock()

	if changed {
		m.notify()
	}
}

// pendingSorted returns pending items in dispatch order.
func (m *Manager) pendingSorted() ([]*models.QueueItem, error) {
	items, err := m.store.QueryByStatus(models.StatusPending)
	if err != nil {
		return nil, err
	}
	sortByEnqueuedAt(items)
	return items, nil
}

// sortByEnqueuedAt orders items ascending by enqueue time, falling back to
// id so equal timestamps still order deterministically.
func sortByEnqueuedAt(items []*models.QueueItem) {
	sort.Slice(items, func(i, j int) bool {
		if items[i].EnqueuedAt != items[j].EnqueuedAt {
			return items[i].EnqueuedAt < items[j].EnqueuedAt
		}
		return items[i].ID < items[j].ID
	})
}
