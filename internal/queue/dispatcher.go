package queue

import (
	"context"
	"sync/atomic"

	"github.com/obradiario/backend/internal/errors"
	"github.com/obradiario/backend/internal/logging"
	"github.com/obradiario/backend/internal/models"
	"github.com/obradiario/backend/internal/netmon"
	"github.com/obradiario/backend/internal/remote"
)

// Dispatcher drains pending items against the remote API, one at a time, in
// enqueue order. A single-flight guard ensures at most one pass runs at a
// time no matter how many triggers fire.
type Dispatcher struct {
	mgr      *Manager
	api      remote.API
	net      netmon.Source
	inFlight atomic.Bool
}

// NewDispatcher creates a Dispatcher over the given manager, remote API and
// connectivity source.
func NewDispatcher(mgr *Manager, api remote.API, net netmon.Source) *Dispatcher {
	return &Dispatcher{
		mgr: mgr,
		api: api,
		net: net,
	}
}

// Result summarizes one dispatch pass.
type Result struct {
	// Skipped is true when the pass did nothing: another pass was already
	// in flight, or the host is offline.
	Skipped bool

	Attempted int // items a remote call was attempted for
	Succeeded int // items confirmed and removed
	Retried   int // items returned to pending with a spent retry
	Failed    int // items that exhausted their budget or hit a permanent rejection
	Paused    int // items soft-paused by an auth failure
}

// ProcessQueue runs one dispatch pass. It never returns an error: per-item
// failures are classified and recorded on the item, and a pass that cannot
// run at all reports Skipped.
func (d *Dispatcher) ProcessQueue(ctx context.Context) Result {
	if !d.inFlight.CompareAndSwap(false, true) {
		return Result{Skipped: true}
	}
	defer d.inFlight.Store(false)

	if !d.net.Online() {
		return Result{Skipped: true}
	}

	items, err := d.mgr.pendingSorted()
	if err != nil {
		logging.ErrorWithCode("Failed to load pending items", string(errors.ErrSyncFailed), err)
		return Result{Skipped: true}
	}
	if len(items) == 0 {
		return Result{}
	}

	logging.Info("Dispatch pass started", map[string]interface{}{"pending": len(items)})

	var result Result
	for _, item := range items {
		if ctx.Err() != nil {
			break
		}
		d.processItem(ctx, item, &result)
	}

	logging.Info("Dispatch pass finished", map[string]interface{}{
		"attempted": result.Attempted,
		"succeeded": result.Succeeded,
		"retried":   result.Retried,
		"failed":    result.Failed,
		"paused":    result.Paused,
	})

	// Listeners already saw each per-item change; one final notification
	// closes out the pass as a batch.
	d.mgr.notify()

	return result
}

// processItem attempts one item's remote call and applies the resulting
// state transition.
func (d *Dispatcher) processItem(ctx context.Context, item *models.QueueItem, result *Result) {
	processing := models.StatusProcessing
	if err := d.mgr.UpdateItem(item.ID, ItemUpdate{Status: &processing}); err != nil {
		logging.Error("Failed to mark item processing", err, map[string]interface{}{"id": string(item.ID)})
		return
	}

	result.Attempted++
	err := d.call(ctx, item)

	// Notification sends never block the queue: any failure is logged and
	// the item is treated as done.
	if err != nil && item.Operation.BestEffort() {
		logging.Warn("Best-effort operation failed, dropping", map[string]interface{}{
			"id":        string(item.ID),
			"operation": string(item.Operation),
			"error":     err.Error(),
		})
		err = nil
	}

	if err == nil {
		if removeErr := d.mgr.RemoveItem(item.ID); removeErr != nil {
			logging.Error("Failed to remove confirmed item", removeErr, map[string]interface{}{"id": string(item.ID)})
		}
		d.mgr.setSessionExpired(false)
		result.Succeeded++
		return
	}

	d.applyFailure(item, err, result)
}

// applyFailure classifies a failed remote call and records the transition.
func (d *Dispatcher) applyFailure(item *models.QueueItem, err error, result *Result) {
	lastError := err.Error()

	switch remote.KindOf(err) {
	case remote.KindAuth:
		// Soft pause: back to pending with the retry budget untouched. The
		// item waits for the user to log in again; the pass moves on.
		pending := models.StatusPending
		d.updateOrLog(item.ID, ItemUpdate{Status: &pending, LastError: &lastError})
		d.mgr.setSessionExpired(true)
		result.Paused++

	case remote.KindPermanent:
		// Retrying cannot fix a permanent rejection; fail immediately.
		failed := models.StatusFailed
		retries := item.RetryCount + 1
		d.updateOrLog(item.ID, ItemUpdate{Status: &failed, RetryCount: &retries, LastError: &lastError})
		result.Failed++

	default: // transient
		retries := item.RetryCount + 1
		if retries >= d.mgr.MaxRetries() {
			failed := models.StatusFailed
			d.updateOrLog(item.ID, ItemUpdate{Status: &failed, RetryCount: &retries, LastError: &lastError})
			result.Failed++
			logging.ErrorWithCode("Item exhausted retry budget", string(errors.ErrRetryExhausted), err,
				map[string]interface{}{"id": string(item.ID), "retries": retries})
		} else {
			pending := models.StatusPending
			d.updateOrLog(item.ID, ItemUpdate{Status: &pending, RetryCount: &retries, LastError: &lastError})
			result.Retried++
		}
	}
}

func (d *Dispatcher) updateOrLog(id models.UUID, update ItemUpdate) {
	if err := d.mgr.UpdateItem(id, update); err != nil {
		logging.Error("Failed to record item transition", err, map[string]interface{}{"id": string(id)})
	}
}

// call maps an operation kind to its remote API call. The switch is
// exhaustive over every kind Enqueue accepts.
func (d *Dispatcher) call(ctx context.Context, item *models.QueueItem) error {
	switch item.Operation {
	case models.OpCreateObra:
		return d.api.CreateObra(ctx, item.Payload)
	case models.OpUpdateObra:
		return d.api.UpdateObra(ctx, item.EntityID, item.Payload)
	case models.OpDeleteObra:
		return d.api.DeleteObra(ctx, item.EntityID)
	case models.OpCreateUser:
		return d.api.CreateUser(ctx, item.Payload)
	case models.OpUpdateUser:
		return d.api.UpdateUser(ctx, item.EntityID, item.Payload)
	case models.OpDeleteUser:
		return d.api.DeleteUser(ctx, item.EntityID)
	case models.OpCreateForm:
		return d.api.CreateForm(ctx, item.Payload)
	case models.OpUpdateForm:
		return d.api.UpdateForm(ctx, item.EntityID, item.Payload)
	case models.OpSendEmail:
		return d.api.SendEmail(ctx, item.Payload)
	default:
		// Enqueue validates kinds, so this only fires on a corrupted row.
		return &remote.Error{Kind: remote.KindPermanent, Message: "unknown operation kind " + string(item.Operation)}
	}
}
