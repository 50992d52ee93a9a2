// Package remote defines the remote API collaborator the sync queue replays
// operations against, and the structured errors it classifies failures with.
package remote

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
)

// ErrorKind classifies a remote failure. Classification happens at the
// client boundary; the queue only ever inspects the kind, never error text.
type ErrorKind string

const (
	// KindAuth marks expired or invalid credentials. Auth failures never
	// count against an item's retry budget.
	KindAuth ErrorKind = "auth"

	// KindTransient marks failures worth retrying: network errors,
	// timeouts, 5xx responses.
	KindTransient ErrorKind = "transient"

	// KindPermanent marks failures that retrying cannot fix, such as a
	// validation rejection.
	KindPermanent ErrorKind = "permanent"
)

// Error is a classified remote failure.
type Error struct {
	Kind       ErrorKind
	StatusCode int
	Message    string
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("remote %s error (HTTP %d): %s", e.Kind, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("remote %s error: %s", e.Kind, e.Message)
}

// KindOf extracts the classification from err. Errors that are not a
// *remote.Error (bare transport errors, context deadline) default to
// transient so they stay retryable.
func KindOf(err error) ErrorKind {
	var remoteErr *Error
	if stderrors.As(err, &remoteErr) {
		return remoteErr.Kind
	}
	return KindTransient
}

// API is the remote collaborator for the nine queue operation kinds, plus
// the session pre-flight check used by manual sync actions.
//
// Every method returns nil on a confirmed {success:true} response and a
// classified *Error otherwise.
type API interface {
	CreateObra(ctx context.Context, payload json.RawMessage) error
	UpdateObra(ctx context.Context, entityID string, payload json.RawMessage) error
	DeleteObra(ctx context.Context, entityID string) error

	CreateUser(ctx context.Context, payload json.RawMessage) error
	UpdateUser(ctx context.Context, entityID string, payload json.RawMessage) error
	DeleteUser(ctx context.Context, entityID string) error

	CreateForm(ctx context.Context, payload json.RawMessage) error
	UpdateForm(ctx context.Context, entityID string, payload json.RawMessage) error

	SendEmail(ctx context.Context, payload json.RawMessage) error

	// ValidateSession checks whether the stored credentials are still
	// accepted. Returns a KindAuth error when the session has expired.
	ValidateSession(ctx context.Context) error
}
