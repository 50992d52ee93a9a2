package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	apperrors "github.com/obradiario/backend/internal/errors"
	"github.com/obradiario/backend/internal/logging"
	"github.com/obradiario/backend/internal/models"
	"github.com/obradiario/backend/internal/queue"
	"github.com/obradiario/backend/internal/remote"
	"github.com/obradiario/backend/internal/ws"
)

// sessionValidator is the slice of the remote API the sync pre-flight needs.
type sessionValidator interface {
	ValidateSession(ctx context.Context) error
}

type serverDeps struct {
	mgr        *queue.Manager
	dispatcher *queue.Dispatcher
	observer   *queue.Observer
	session    sessionValidator
	hub        *ws.Hub
	retention  time.Duration
}

// server exposes the queue to the PWA over localhost HTTP.
type server struct {
	serverDeps
}

func newServer(deps serverDeps) *server {
	return &server{serverDeps: deps}
}

func (s *server) router() *mux.Router {
	r := mux.NewRouter()

	r.HandleFunc("/api/health", s.handleHealth).Methods(http.MethodGet)
	r.HandleFunc("/api/status", s.handleStatus).Methods(http.MethodGet)
	r.HandleFunc("/api/sync", s.handleSync).Methods(http.MethodPost)
	r.HandleFunc("/api/queue", s.handleListQueue).Methods(http.MethodGet)
	r.HandleFunc("/api/queue", s.handleEnqueue).Methods(http.MethodPost)
	r.HandleFunc("/api/queue/retry-failed", s.handleRetryFailed).Methods(http.MethodPost)
	r.HandleFunc("/api/queue/cleanup", s.handleCleanup).Methods(http.MethodPost)
	r.HandleFunc("/ws", s.hub.ServeWS).Methods(http.MethodGet)

	return r
}

func (s *server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":  "ok",
		"service": "obrasyncd",
	})
}

// handleStatus returns the observer snapshot the PWA renders its sync
// indicator from.
func (s *server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.observer.Snapshot())
}

// handleSync runs a manual dispatch pass. The session is validated first so
// an expired login surfaces as a clear error instead of a pass that pauses
// every item.
func (s *server) handleSync(w http.ResponseWriter, r *http.Request) {
	if err := s.session.ValidateSession(r.Context()); err != nil {
		if remote.KindOf(err) == remote.KindAuth {
			writeError(w, http.StatusUnauthorized, apperrors.ErrSessionExpired,
				"Session expired. Sign in again; queued items are kept.")
			return
		}
		// Transient validation failures do not block the pass; the
		// dispatcher classifies per item.
		logging.Warn("Session pre-flight failed, running pass anyway", map[string]interface{}{
			"error": err.Error(),
		})
	}

	result := s.dispatcher.ProcessQueue(r.Context())
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"skipped":   result.Skipped,
		"attempted": result.Attempted,
		"succeeded": result.Succeeded,
		"retried":   result.Retried,
		"failed":    result.Failed,
		"paused":    result.Paused,
	})
}

func (s *server) handleListQueue(w http.ResponseWriter, r *http.Request) {
	items, err := s.mgr.List()
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"items": items,
		"count": len(items),
	})
}

type enqueueRequest struct {
	Operation string          `json:"operation"`
	EntityID  string          `json:"entity_id"`
	Payload   json.RawMessage `json:"payload"`
}

func (s *server) handleEnqueue(w http.ResponseWriter, r *http.Request) {
	var req enqueueRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, apperrors.ErrInvalid, "Invalid request body")
		return
	}

	id, err := s.mgr.Enqueue(models.Operation(req.Operation), req.EntityID, req.Payload)
	if err != nil {
		writeAppError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, map[string]interface{}{
		"id":     id,
		"status": models.StatusPending,
	})
}

func (s *server) handleRetryFailed(w http.ResponseWriter, r *http.Request) {
	retried, err := s.mgr.RetryFailedItems()
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"retried": retried})
}

func (s *server) handleCleanup(w http.ResponseWriter, r *http.Request) {
	purged, err := s.mgr.CleanupOldItems(s.retention)
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"purged": purged})
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		logging.Error("Failed to encode response", err)
	}
}

func writeError(w http.ResponseWriter, status int, code apperrors.ErrorCode, message string) {
	writeJSON(w, status, map[string]interface{}{
		"error": map[string]interface{}{
			"code":    code,
			"message": message,
		},
	})
}

// writeAppError maps application error codes to HTTP statuses.
func writeAppError(w http.ResponseWriter, err error) {
	var appErr *apperrors.AppError
	if !errors.As(err, &appErr) {
		writeError(w, http.StatusInternalServerError, apperrors.ErrDatabase, err.Error())
		return
	}

	status := http.StatusInternalServerError
	switch appErr.Code {
	case apperrors.ErrQueueItemNotFound:
		status = http.StatusNotFound
	case apperrors.ErrUnknownOperation, apperrors.ErrInvalid:
		status = http.StatusBadRequest
	case apperrors.ErrDuplicate:
		status = http.StatusConflict
	case apperrors.ErrSessionExpired:
		status = http.StatusUnauthorized
	}
	writeError(w, status, appErr.Code, appErr.Message)
}
