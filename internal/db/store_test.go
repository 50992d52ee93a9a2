package db

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/obradiario/backend/internal/errors"
	"github.com/obradiario/backend/internal/models"
)

// setupStore opens a fresh migrated database in a temp directory.
func setupStore(t *testing.T) *Store {
	t.Helper()

	database, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("Failed to open database: %v", err)
	}
	t.Cleanup(func() { database.Close() })

	if err := Migrate(database.DB); err != nil {
		t.Fatalf("Failed to run migrations: %v", err)
	}

	store := NewStore(database.DB)
	t.Cleanup(func() { store.Close() })
	return store
}

func testItem(id string, status models.QueueStatus, enqueuedAt int64) *models.QueueItem {
	return &models.QueueItem{
		ID:         models.UUID(id),
		Operation:  models.OpCreateObra,
		EntityID:   "site-1",
		Payload:    json.RawMessage(`{"name":"Bar do Pedro"}`),
		EnqueuedAt: enqueuedAt,
		Status:     status,
		UpdatedAt:  enqueuedAt,
	}
}

func TestStoreAddAndGet(t *testing.T) {
	store := setupStore(t)

	item := testItem("item-1", models.StatusPending, 1000)
	if err := store.Add(item); err != nil {
		t.Fatalf("Add failed: %v", err)
	}

	got, err := store.Get("item-1")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}

	if got.Operation != models.OpCreateObra {
		t.Errorf("Operation = %s, want %s", got.Operation, models.OpCreateObra)
	}
	if got.EntityID != "site-1" {
		t.Errorf("EntityID = %s, want site-1", got.EntityID)
	}
	if string(got.Payload) != `{"name":"Bar do Pedro"}` {
		t.Errorf("Payload = %s", got.Payload)
	}
	if got.EnqueuedAt != 1000 {
		t.Errorf("EnqueuedAt = %d, want 1000", got.EnqueuedAt)
	}
	if got.RetryCount != 0 {
		t.Errorf("RetryCount = %d, want 0", got.RetryCount)
	}
}

func TestStoreAddDuplicate(t *testing.T) {
	store := setupStore(t)

	if err := store.Add(testItem("item-1", models.StatusPending, 1000)); err != nil {
		t.Fatalf("first Add failed: %v", err)
	}

	err := store.Add(testItem("item-1", models.StatusPending, 2000))
	if err == nil {
		t.Fatal("expected error for duplicate id")
	}
	if !errors.Is(err, errors.ErrDuplicate) {
		t.Errorf("expected DUPLICATE code, got %v", err)
	}
}

func TestStoreGetNotFound(t *testing.T) {
	store := setupStore(t)

	_, err := store.Get("missing")
	if err == nil {
		t.Fatal("expected error for missing id")
	}
	if !errors.Is(err, errors.ErrQueueItemNotFound) {
		t.Errorf("expected QUEUE_ITEM_NOT_FOUND code, got %v", err)
	}
}

func TestStorePut(t *testing.T) {
	store := setupStore(t)

	item := testItem("item-1", models.StatusPending, 1000)
	if err := store.Add(item); err != nil {
		t.Fatalf("Add failed: %v", err)
	}

	item.Status = models.StatusFailed
	item.RetryCount = 3
	item.LastError = "remote unavailable"
	if err := store.Put(item); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	got, err := store.Get("item-1")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.Status != models.StatusFailed {
		t.Errorf("Status = %s, want failed", got.Status)
	}
	if got.RetryCount != 3 {
		t.Errorf("RetryCount = %d, want 3", got.RetryCount)
	}
	if got.LastError != "remote unavailable" {
		t.Errorf("LastError = %q", got.LastError)
	}
}

func TestStorePutNotFound(t *testing.T) {
	store := setupStore(t)

	err := store.Put(testItem("missing", models.StatusPending, 1000))
	if err == nil {
		t.Fatal("expected error when updating a missing record")
	}
	if !errors.Is(err, errors.ErrQueueItemNotFound) {
		t.Errorf("expected QUEUE_ITEM_NOT_FOUND code, got %v", err)
	}
}

func TestStoreDeleteIdempotent(t *testing.T) {
	store := setupStore(t)

	if err := store.Add(testItem("item-1", models.StatusPending, 1000)); err != nil {
		t.Fatalf("Add failed: %v", err)
	}

	if err := store.Delete("item-1"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}

	// Deleting an absent record is a documented no-op.
	if err := store.Delete("item-1"); err != nil {
		t.Errorf("second Delete should be a no-op, got %v", err)
	}

	if _, err := store.Get("item-1"); !errors.Is(err, errors.ErrQueueItemNotFound) {
		t.Errorf("expected record to be gone, got %v", err)
	}
}

func TestStoreQueryByStatus(t *testing.T) {
	store := setupStore(t)

	store.Add(testItem("p1", models.StatusPending, 1000))
	store.Add(testItem("p2", models.StatusPending, 2000))
	store.Add(testItem("f1", models.StatusFailed, 3000))

	pending, err := store.QueryByStatus(models.StatusPending)
	if err != nil {
		t.Fatalf("QueryByStatus failed: %v", err)
	}
	if len(pending) != 2 {
		t.Errorf("expected 2 pending items, got %d", len(pending))
	}

	failed, err := store.QueryByStatus(models.StatusFailed)
	if err != nil {
		t.Fatalf("QueryByStatus failed: %v", err)
	}
	if len(failed) != 1 {
		t.Errorf("expected 1 failed item, got %d", len(failed))
	}

	count, err := store.CountByStatus(models.StatusPending)
	if err != nil {
		t.Fatalf("CountByStatus failed: %v", err)
	}
	if count != 2 {
		t.Errorf("CountByStatus = %d, want 2", count)
	}
}

func TestStoreAll(t *testing.T) {
	store := setupStore(t)

	store.Add(testItem("a", models.StatusPending, 1000))
	store.Add(testItem("b", models.StatusProcessing, 2000))
	store.Add(testItem("c", models.StatusFailed, 3000))

	all, err := store.All()
	if err != nil {
		t.Fatalf("All failed: %v", err)
	}
	if len(all) != 3 {
		t.Errorf("expected 3 items, got %d", len(all))
	}
}

func TestStoreDeleteOlderThan(t *testing.T) {
	store := setupStore(t)

	now := time.Now().UnixMilli()
	old := now - 8*24*time.Hour.Milliseconds()

	store.Add(testItem("old-failed", models.StatusFailed, old))
	store.Add(testItem("old-success", models.StatusSuccess, old))
	store.Add(testItem("old-pending", models.StatusPending, old))
	store.Add(testItem("fresh-failed", models.StatusFailed, now))

	cutoff := now - 7*24*time.Hour.Milliseconds()
	deleted, err := store.DeleteOlderThan(cutoff, models.StatusFailed, models.StatusSuccess)
	if err != nil {
		t.Fatalf("DeleteOlderThan failed: %v", err)
	}
	if deleted != 2 {
		t.Errorf("deleted = %d, want 2", deleted)
	}

	// Pending items survive the retention window regardless of age.
	if _, err := store.Get("old-pending"); err != nil {
		t.Errorf("expected old pending item to survive, got %v", err)
	}
	if _, err := store.Get("fresh-failed"); err != nil {
		t.Errorf("expected fresh failed item to survive, got %v", err)
	}
	if _, err := store.Get("old-failed"); !errors.Is(err, errors.ErrQueueItemNotFound) {
		t.Errorf("expected old failed item to be purged, got %v", err)
	}
}

func TestStorePersistsAcrossReopen(t *testing.T) {
	dir := t.TempDir()

	database, err := Open(dir)
	if err != nil {
		t.Fatalf("Failed to open database: %v", err)
	}
	if err := Migrate(database.DB); err != nil {
		t.Fatalf("Failed to migrate: %v", err)
	}
	store := NewStore(database.DB)
	if err := store.Add(testItem("durable", models.StatusPending, 1000)); err != nil {
		t.Fatalf("Add failed: %v", err)
	}
	store.Close()
	database.Close()

	reopened, err := Open(dir)
	if err != nil {
		t.Fatalf("Failed to reopen database: %v", err)
	}
	defer reopened.Close()
	if err := Migrate(reopened.DB); err != nil {
		t.Fatalf("Failed to re-migrate: %v", err)
	}

	store2 := NewStore(reopened.DB)
	defer store2.Close()

	got, err := store2.Get("durable")
	if err != nil {
		t.Fatalf("Get after reopen failed: %v", err)
	}
	if got.Status != models.StatusPending {
		t.Errorf("Status = %s, want pending", got.Status)
	}
}
