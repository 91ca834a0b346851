package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/tonimelisma/localsync/internal/queue"
)

// ResolveConflict settles a recorded conflict.
//
//   - ResolveServer discards the action and adopts the server's record.
//   - ResolveLocal drops the version token and replays the action, so the
//     local write overwrites the server.
//   - ResolveMerge replaces the action's field map with merged, drops the
//     token and replays it. merged is required.
//
// Local and merge resolutions trigger a drain when online.
func (e *Engine) ResolveConflict(ctx context.Context, actionID string, resolution Resolution, merged Record) error {
	info, ok := e.conflict(actionID)
	if !ok {
		return fmt.Errorf("%w: %s", ErrNoConflict, actionID)
	}

	reg, known := e.registry.Lookup(info.ActionType)

	switch resolution {
	case ResolveServer:
		if err := e.queue.Discard(ctx, actionID); err != nil {
			return fmt.Errorf("engine: resolving %s: %w", actionID, err)
		}

		if known && reg.Kind != KindCommand {
			if _, hasID := info.ServerData.ID(); hasID {
				e.upsert(reg.Entity, info.ServerData.Clone(), actionID)
			}
		}

	case ResolveLocal, ResolveMerge:
		if !known {
			return fmt.Errorf("%w: %s", ErrUnknownAction, info.ActionType)
		}

		if err := e.requeueResolved(ctx, &reg, actionID, resolution, merged); err != nil {
			return err
		}

	default:
		return fmt.Errorf("%w: %q", ErrInvalidResolution, resolution)
	}

	e.logger.Info("engine: conflict resolved",
		slog.String("action_id", actionID),
		slog.String("resolution", string(resolution)),
	)

	e.refreshQuietly(ctx)

	if resolution != ResolveServer && e.network.Online() {
		e.SyncNow()
	}

	return nil
}

func (e *Engine) requeueResolved(
	ctx context.Context, reg *Registration, actionID string, resolution Resolution, merged Record,
) error {
	a, err := e.queue.Get(ctx, actionID)
	if err != nil {
		if errors.Is(err, queue.ErrNotFound) {
			return fmt.Errorf("%w: %s", ErrNotFound, actionID)
		}

		return fmt.Errorf("engine: resolving %s: %w", actionID, err)
	}

	payload := a.Payload

	if resolution == ResolveMerge {
		if merged == nil {
			return fmt.Errorf("%w: merge requires merged data", ErrInvalidResolution)
		}

		if reg.DataArg < 0 {
			return fmt.Errorf("%w: %s carries no data to merge", ErrInvalidResolution, a.Type)
		}

		payload = withData(payload, reg.DataArg, merged.Clone())
	}

	payload, err = queue.NormalizePayload(stripExpectedVersion(payload, reg.DataArg))
	if err != nil {
		return fmt.Errorf("engine: resolving %s: %w", actionID, err)
	}

	if err := e.queue.Requeue(ctx, actionID, payload); err != nil {
		return fmt.Errorf("engine: resolving %s: %w", actionID, err)
	}

	if resolution == ResolveMerge && reg.Kind == KindUpdate {
		var current Record
		if id, ok := argID(payload, reg.TargetArg); ok {
			current, _ = e.store.Get(reg.Entity, id)
		}

		a.Payload = payload
		e.projectOptimistic(reg, a, current.Clone())
	}

	return nil
}

// DismissConflict drops the conflicting action without adopting the
// server's record.
func (e *Engine) DismissConflict(ctx context.Context, actionID string) error {
	if _, ok := e.conflict(actionID); !ok {
		return fmt.Errorf("%w: %s", ErrNoConflict, actionID)
	}

	if err := e.queue.Discard(ctx, actionID); err != nil {
		return fmt.Errorf("engine: dismissing conflict %s: %w", actionID, err)
	}

	e.logger.Info("engine: conflict dismissed", slog.String("action_id", actionID))

	e.refreshQuietly(ctx)

	return nil
}
