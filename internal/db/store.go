package db

import (
	"database/sql"
	stderrors "errors"
	"fmt"
	"strings"
	"sync"

	"github.com/obradiario/backend/internal/errors"
	"github.com/obradiario/backend/internal/models"
)

// Store provides single-record transactional access to the sync_queue table.
//
// Delete is idempotent: deleting an absent record is not an error. Get and
// Put report NOT_FOUND for absent records; Add reports DUPLICATE when the id
// already exists.
type Store struct {
	db *sql.DB

	// Prepared statement cache for frequently used queries.
	// Statements are prepared on first use and cached for reuse.
	stmtCache sync.Map // map[string]*sql.Stmt
}

// NewStore creates a new Store instance.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// prepareStmt gets or creates a prepared statement from cache.
func (s *Store) prepareStmt(query string) (*sql.Stmt, error) {
	if stmt, ok := s.stmtCache.Load(query); ok {
		return stmt.(*sql.Stmt), nil
	}

	stmt, err := s.db.Prepare(query)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare statement: %w", err)
	}

	actual, loaded := s.stmtCache.LoadOrStore(query, stmt)
	if loaded {
		// Another goroutine already prepared this, close our duplicate
		stmt.Close()
		return actual.(*sql.Stmt), nil
	}

	return stmt, nil
}

// Close closes all cached prepared statements.
func (s *Store) Close() error {
	var firstErr error
	s.stmtCache.Range(func(key, value interface{}) bool {
		stmt := value.(*sql.Stmt)
		if err := stmt.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		return true
	})
	return firstErr
}

const itemColumns = "id, operation, entity_id, payload, enqueued_at, retry_count, last_error, status, updated_at"

// Add inserts a new record. Returns DUPLICATE if the id already exists.
func (s *Store) Add(item *models.QueueItem) error {
	query := `
	INSERT INTO sync_queue (` + itemColumns + `)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := s.db.Exec(query, item.ID, item.Operation, item.EntityID, []byte(item.Payload),
		item.EnqueuedAt, item.RetryCount, item.LastError, item.Status, item.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return errors.Wrap(errors.ErrDuplicate, fmt.Sprintf("queue item %s already exists", item.ID), err)
		}
		return errors.Wrap(errors.ErrDatabase, "failed to insert queue item", err)
	}
	return nil
}

// Get returns the record with the given id, or NOT_FOUND.
func (s *Store) Get(id models.UUID) (*models.QueueItem, error) {
	query := `SELECT ` + itemColumns + ` FROM sync_queue WHERE id = ?`

	stmt, err := s.prepareStmt(query)
	if err != nil {
		return nil, errors.Wrap(errors.ErrDatabase, "failed to prepare lookup", err)
	}

	item, err := scanItem(stmt.QueryRow(id))
	if err != nil {
		if stderrors.Is(err, sql.ErrNoRows) {
			return nil, errors.New(errors.ErrQueueItemNotFound, fmt.Sprintf("queue item %s not found", id))
		}
		return nil, errors.Wrap(errors.ErrDatabase, "failed to read queue item", err)
	}
	return item, nil
}

// Put fully replaces an existing record. Returns NOT_FOUND if absent.
func (s *Store) Put(item *models.QueueItem) error {
	query := `
	UPDATE sync_queue
	SET operation = ?, entity_id = ?, payload = ?, enqueued_at = ?,
		retry_count = ?, last_error = ?, status = ?, updated_at = ?
	WHERE id = ?
	`
	res, err := s.db.Exec(query, item.Operation, item.EntityID, []byte(item.Payload),
		item.EnqueuedAt, item.RetryCount, item.LastError, item.Status, item.UpdatedAt, item.ID)
	if err != nil {
		return errors.Wrap(errors.ErrDatabase, "failed to update queue item", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return errors.Wrap(errors.ErrDatabase, "failed to check update result", err)
	}
	if affected == 0 {
		return errors.New(errors.ErrQueueItemNotFound, fmt.Sprintf("queue item %s not found", item.ID))
	}
	return nil
}

// Delete removes the record with the given id. Deleting an absent record is
// a no-op.
func (s *Store) Delete(id models.UUID) error {
	_, err := s.db.Exec("DELETE FROM sync_queue WHERE id = ?", id)
	if err != nil {
		return errors.Wrap(errors.ErrDatabase, "failed to delete queue item", err)
	}
	return nil
}

// QueryByStatus returns all records with the given status, unordered.
// The status column is indexed, so this avoids a full scan.
func (s *Store) QueryByStatus(status models.QueueStatus) ([]*models.QueueItem, error) {
	query := `SELECT ` + itemColumns + ` FROM sync_queue WHERE status = ?`

	stmt, err := s.prepareStmt(query)
	if err != nil {
		return nil, errors.Wrap(errors.ErrDatabase, "failed to prepare status query", err)
	}

	rows, err := stmt.Query(status)
	if err != nil {
		return nil, errors.Wrap(errors.ErrDatabase, "failed to query by status", err)
	}
	defer rows.Close()

	return scanItems(rows)
}

// All returns every record in the store.
func (s *Store) All() ([]*models.QueueItem, error) {
	rows, err := s.db.Query(`SELECT ` + itemColumns + ` FROM sync_queue`)
	if err != nil {
		return nil, errors.Wrap(errors.ErrDatabase, "failed to scan queue table", err)
	}
	defer rows.Close()

	return scanItems(rows)
}

// CountByStatus returns the number of records with the given status.
func (s *Store) CountByStatus(status models.QueueStatus) (int, error) {
	stmt, err := s.prepareStmt("SELECT COUNT(*) FROM sync_queue WHERE status = ?")
	if err != nil {
		return 0, errors.Wrap(errors.ErrDatabase, "failed to prepare count query", err)
	}

	var count int
	if err := stmt.QueryRow(status).Scan(&count); err != nil {
		return 0, errors.Wrap(errors.ErrDatabase, "failed to count by status", err)
	}
	return count, nil
}

// DeleteOlderThan removes records with any of the given statuses whose
// enqueued_at is before the cutoff (unix milliseconds). Returns the number
// of deleted records.
func (s *Store) DeleteOlderThan(cutoff int64, statuses ...models.QueueStatus) (int, error) {
	if len(statuses) == 0 {
		return 0, nil
	}

	query := "DELETE FROM sync_queue WHERE enqueued_at < ? AND status IN (?" +
		repeatPlaceholder(len(statuses)-1) + ")"

	args := make([]interface{}, 0, len(statuses)+1)
	args = append(args, cutoff)
	for _, status := range statuses {
		args = append(args, status)
	}

	res, err := s.db.Exec(query, args...)
	if err != nil {
		return 0, errors.Wrap(errors.ErrDatabase, "failed to purge old queue items", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return 0, errors.Wrap(errors.ErrDatabase, "failed to check purge result", err)
	}
	return int(affected), nil
}

func repeatPlaceholder(n int) string {
	out := ""
	for i := 0; i < n; i++ {
		out += ", ?"
	}
	return out
}

// rowScanner is satisfied by both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanItem(row rowScanner) (*models.QueueItem, error) {
	var item models.QueueItem
	var payload []byte
	err := row.Scan(&item.ID, &item.Operation, &item.EntityID, &payload,
		&item.EnqueuedAt, &item.RetryCount, &item.LastError, &item.Status, &item.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if len(payload) > 0 {
		item.Payload = payload
	}
	return &item, nil
}

func scanItems(rows *sql.Rows) ([]*models.QueueItem, error) {
	var items []*models.QueueItem
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, errors.Wrap(errors.ErrDatabase, "failed to scan queue item", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(errors.ErrDatabase, "failed to iterate queue items", err)
	}
	return items, nil
}

// isUniqueViolation reports whether err is a SQLite unique constraint error.
// modernc.org/sqlite surfaces constraint failures in the error text.
func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "constraint failed")
}
