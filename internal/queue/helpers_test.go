package queue

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/obradiario/backend/internal/db"
	"github.com/obradiario/backend/internal/models"
	"github.com/obradiario/backend/internal/netmon"
)

// fakeClock is a manually advanced time source.
type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2024, 6, 1, 8, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

// apiCall records one remote invocation.
type apiCall struct {
	Op       models.Operation
	EntityID string
	Payload  json.RawMessage
}

// fakeAPI implements remote.API with a programmable respond hook.
type fakeAPI struct {
	mu      sync.Mutex
	calls   []apiCall
	respond func(call apiCall) error
	started chan struct{} // closed on first invocation, if set
	once    sync.Once
	block   chan struct{} // invocations wait for close, if set
}

func (f *fakeAPI) invoke(op models.Operation, entityID string, payload json.RawMessage) error {
	call := apiCall{Op: op, EntityID: entityID, Payload: payload}

	f.mu.Lock()
	f.calls = append(f.calls, call)
	respond := f.respond
	started := f.started
	block := f.block
	f.mu.Unlock()

	if started != nil {
		f.once.Do(func() { close(started) })
	}
	if block != nil {
		<-block
	}
	if respond != nil {
		return respond(call)
	}
	return nil
}

func (f *fakeAPI) Calls() []apiCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]apiCall(nil), f.calls...)
}

func (f *fakeAPI) CallCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func (f *fakeAPI) CreateObra(ctx context.Context, payload json.RawMessage) error {
	return f.invoke(models.OpCreateObra, "", payload)
}
func (f *fakeAPI) UpdateObra(ctx context.Context, entityID string, payload json.RawMessage) error {
	return f.invoke(models.OpUpdateObra, entityID, payload)
}
func (f *fakeAPI) DeleteObra(ctx context.Context, entityID string) error {
	return f.invoke(models.OpDeleteObra, entityID, nil)
}
func (f *fakeAPI) CreateUser(ctx context.Context, payload json.RawMessage) error {
	return f.invoke(models.OpCreateUser, "", payload)
}
func (f *fakeAPI) UpdateUser(ctx context.Context, entityID string, payload json.RawMessage) error {
	return f.invoke(models.OpUpdateUser, entityID, payload)
}
func (f *fakeAPI) DeleteUser(ctx context.Context, entityID string) error {
	return f.invoke(models.OpDeleteUser, entityID, nil)
}
func (f *fakeAPI) CreateForm(ctx context.Context, payload json.RawMessage) error {
	return f.invoke(models.OpCreateForm, "", payload)
}
func (f *fakeAPI) UpdateForm(ctx context.Context, entityID string, payload json.RawMessage) error {
	return f.invoke(models.OpUpdateForm, entityID, payload)
}
func (f *fakeAPI) SendEmail(ctx context.Context, payload json.RawMessage) error {
	return f.invoke(models.OpSendEmail, "", payload)
}
func (f *fakeAPI) ValidateSession(ctx context.Context) error {
	return nil
}

// testQueue bundles a fully wired queue over a temp SQLite database.
type testQueue struct {
	store      *db.Store
	mgr        *Manager
	dispatcher *Dispatcher
	api        *fakeAPI
	net        *netmon.Static
	clock      *fakeClock
}

func newTestQueue(t *testing.T) *testQueue {
	t.Helper()

	database, err := db.Open(t.TempDir())
	if err != nil {
		t.Fatalf("Failed to open database: %v", err)
	}
	t.Cleanup(func() { database.Close() })

	if err := db.Migrate(database.DB); err != nil {
		t.Fatalf("Failed to migrate: %v", err)
	}

	store := db.NewStore(database.DB)
	t.Cleanup(func() { store.Close() })

	clock := newFakeClock()
	net := netmon.NewStatic(true)
	api := &fakeAPI{}

	mgr := NewManager(store, net, WithClock(clock.Now))
	dispatcher := NewDispatcher(mgr, api, net)

	return &testQueue{
		store:      store,
		mgr:        mgr,
		dispatcher: dispatcher,
		api:        api,
		net:        net,
		clock:      clock,
	}
}

// enqueue adds an item advancing the clock first so timestamps strictly
// increase.
func (q *testQueue) enqueue(t *testing.T, op models.Operation, entityID, payload string) models.UUID {
	t.Helper()

	q.clock.Advance(time.Second)
	var raw json.RawMessage
	if payload != "" {
		raw = json.RawMessage(payload)
	}
	id, err := q.mgr.Enqueue(op, entityID, raw)
	if err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}
	return id
}
