package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/tonimelisma/localsync/internal/queue"
)

// RetryAction moves a failed action back to pending, clearing any conflict
// recorded for it, and drains immediately.
func (e *Engine) RetryAction(ctx context.Context, actionID string) (DrainReport, error) {
	a, err := e.lookupFailed(ctx, actionID)
	if err != nil {
		return DrainReport{}, err
	}

	if err := e.queue.Requeue(ctx, a.ID, a.Payload); err != nil {
		return DrainReport{}, fmt.Errorf("engine: retrying %s: %w", actionID, err)
	}

	e.logger.Info("engine: action retried", slog.String("action_id", actionID))
	e.refreshQuietly(ctx)

	return e.Drain(ctx)
}

// RetryAllFailed requeues every failed action that is not awaiting a
// conflict decision, then drains. Conflicts need ResolveConflict.
func (e *Engine) RetryAllFailed(ctx context.Context) (int, DrainReport, error) {
	failed, err := e.failedActions(ctx, false)
	if err != nil {
		return 0, DrainReport{}, err
	}

	ids := actionIDs(failed)

	if err := e.queue.UpdateStatusBatch(ctx, ids, queue.StatusPending, ""); err != nil {
		return 0, DrainReport{}, fmt.Errorf("engine: retrying failed actions: %w", err)
	}

	e.logger.Info("engine: failed actions retried", slog.Int("count", len(ids)))
	e.refreshQuietly(ctx)

	report, err := e.Drain(ctx)

	return len(ids), report, err
}

// DismissAction drops a queued action of any status. Dismissing an
// unconfirmed creation also removes its placeholder record from the store.
func (e *Engine) DismissAction(ctx context.Context, actionID string) error {
	a, err := e.queue.Get(ctx, actionID)
	if err != nil {
		if errors.Is(err, queue.ErrNotFound) {
			return fmt.Errorf("%w: %s", ErrNotFound, actionID)
		}

		return fmt.Errorf("engine: dismissing %s: %w", actionID, err)
	}

	if err := e.queue.Discard(ctx, actionID); err != nil {
		return fmt.Errorf("engine: dismissing %s: %w", actionID, err)
	}

	e.dropPlaceholder(a)

	e.logger.Info("engine: action dismissed", slog.String("action_id", actionID))
	e.refreshQuietly(ctx)

	return nil
}

// DismissAllFailed drops every failed action, conflicts included, and
// returns how many were dropped.
func (e *Engine) DismissAllFailed(ctx context.Context) (int, error) {
	failed, err := e.failedActions(ctx, true)
	if err != nil {
		return 0, err
	}

	ids := actionIDs(failed)

	if err := e.queue.Discard(ctx, ids...); err != nil {
		return 0, fmt.Errorf("engine: dismissing failed actions: %w", err)
	}

	for i := range failed {
		e.dropPlaceholder(&failed[i])
	}

	e.logger.Info("engine: failed actions dismissed", slog.Int("count", len(ids)))
	e.refreshQuietly(ctx)

	return len(ids), nil
}

func (e *Engine) dropPlaceholder(a *queue.Action) {
	if a.TempID == 0 {
		return
	}

	reg, ok := e.registry.Lookup(ActionType(a.Type))
	if !ok || reg.Entity == "" {
		return
	}

	if err := e.store.Delete(reg.Entity, a.TempID); err != nil {
		e.logger.Warn("engine: removing placeholder record failed",
			slog.Int64("temp_id", a.TempID),
			slog.String("error", err.Error()),
		)
	}
}

func (e *Engine) lookupFailed(ctx context.Context, actionID string) (*queue.Action, error) {
	a, err := e.queue.Get(ctx, actionID)
	if err != nil {
		if errors.Is(err, queue.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, actionID)
		}

		return nil, fmt.Errorf("engine: loading %s: %w", actionID, err)
	}

	if a.Status != queue.StatusFailed {
		return nil, fmt.Errorf("%w: %s is %s", ErrNotFailed, actionID, a.Status)
	}

	return a, nil
}

func (e *Engine) failedActions(ctx context.Context, withConflicts bool) ([]queue.Action, error) {
	actions, err := e.queue.All(ctx)
	if err != nil {
		return nil, fmt.Errorf("engine: listing failed actions: %w", err)
	}

	var failed []queue.Action

	for i := range actions {
		if actions[i].Status != queue.StatusFailed {
			continue
		}

		if !withConflicts && actions[i].Error == ConflictReason {
			continue
		}

		failed = append(failed, actions[i])
	}

	return failed, nil
}

func actionIDs(actions []queue.Action) []string {
	ids := make([]string, len(actions))
	for i := range actions {
		ids[i] = actions[i].ID
	}

	return ids
}
