// Package models provides data model definitions for the Obra Diário sync backend.
package models

import "encoding/json"

// UUID is a string-typed UUID for database storage.
type UUID string

// Operation identifies the kind of mutation a queue item replays against the
// remote API.
type Operation string

const (
	OpCreateObra Operation = "create_obra"
	OpUpdateObra Operation = "update_obra"
	OpDeleteObra Operation = "delete_obra"
	OpCreateUser Operation = "create_user"
	OpUpdateUser Operation = "update_user"
	OpDeleteUser Operation = "delete_user"
	OpCreateForm Operation = "create_form"
	OpUpdateForm Operation = "update_form"
	OpSendEmail  Operation = "send_email"
)

// Operations lists every known operation kind.
var Operations = []Operation{
	OpCreateObra, OpUpdateObra, OpDeleteObra,
	OpCreateUser, OpUpdateUser, OpDeleteUser,
	OpCreateForm, OpUpdateForm,
	OpSendEmail,
}

// Valid reports whether op is a known operation kind.
func (op Operation) Valid() bool {
	for _, known := range Operations {
		if op == known {
			return true
		}
	}
	return false
}

// BestEffort reports whether failures of this operation never block the
// queue. Notification sends are fire-and-forget.
func (op Operation) BestEffort() bool {
	return op == OpSendEmail
}

// QueueStatus represents the status of a queued operation.
type QueueStatus string

const (
	StatusPending    QueueStatus = "pending"
	StatusProcessing QueueStatus = "processing"
	StatusFailed     QueueStatus = "failed"
	StatusSuccess    QueueStatus = "success"
)

// QueueItem represents one durable pending mutation.
//
// EnqueuedAt is the sole ordering key for dispatch: items are replayed in
// ascending EnqueuedAt order so that earlier mutations to the same entity are
// applied before later ones. Timestamps are unix milliseconds.
type QueueItem struct {
	ID         UUID            `db:"id" json:"id"`
	Operation  Operation       `db:"operation" json:"operation"`
	EntityID   string          `db:"entity_id" json:"entity_id"`
	Payload    json.RawMessage `db:"payload" json:"payload,omitempty"`
	EnqueuedAt int64           `db:"enqueued_at" json:"enqueued_at"`
	RetryCount int             `db:"retry_count" json:"retry_count"`
	LastError  string          `db:"last_error" json:"last_error,omitempty"`
	Status     QueueStatus     `db:"status" json:"status"`
	UpdatedAt  int64           `db:"updated_at" json:"updated_at"`
}

// TableName returns the table name for QueueItem.
func (QueueItem) TableName() string {
	return "sync_queue"
}
