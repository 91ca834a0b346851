package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/tonimelisma/localsync/internal/queue"
)

// DrainReport summarizes one drain pass.
type DrainReport struct {
	// Skipped is set when the pass did nothing because the network was
	// offline or another drain was already running.
	Skipped bool

	Applied   int
	Dropped   int // unknown action types removed from the queue
	Conflicts int

	// HaltedBy is the id of the action that stopped the pass: a rejected
	// action, an unreachable remote, or a failed action left at the head.
	HaltedBy string
}

type outcome int

const (
	outcomeApplied outcome = iota
	outcomeDropped
	outcomeConflict
	outcomeGone
	outcomeHalt
)

// Drain replays queued actions against the remote in insertion order until
// the queue is exhausted or an action halts the pass. Only one drain runs
// at a time; a concurrent call returns immediately with Skipped set.
//
// Actions that failed with a conflict are passed over so they do not block
// unrelated work. Any other failed action blocks everything behind it until
// it is retried or dismissed.
func (e *Engine) Drain(ctx context.Context) (DrainReport, error) {
	if !e.network.Online() {
		return DrainReport{Skipped: true}, nil
	}

	if !e.drainState.CompareAndSwap(drainIdle, drainRunning) {
		e.logger.Debug("engine: drain already running")

		return DrainReport{Skipped: true}, nil
	}

	e.notify()

	defer func() {
		e.drainState.Store(drainIdle)
		e.notify()
	}()

	var report DrainReport

	// attempted holds every action replayed in this pass. The queue is
	// reloaded before each replay, which picks up actions appended while
	// draining and payloads rewritten by id remapping.
	attempted := make(map[string]bool)

	for {
		if ctx.Err() != nil || !e.network.Online() {
			e.logger.Info("engine: drain stopped early", slog.Bool("online", e.network.Online()))

			break
		}

		actions, err := e.queue.All(ctx)
		if err != nil {
			return report, fmt.Errorf("engine: drain: %w", err)
		}

		e.forgetTempIDs(actions)

		next, blocker := nextAction(actions, attempted)
		if blocker != nil {
			e.logger.Info("engine: drain blocked by failed action",
				slog.String("action_id", blocker.ID),
				slog.String("error", blocker.Error),
			)

			report.HaltedBy = blocker.ID

			break
		}

		if next == nil {
			break
		}

		attempted[next.ID] = true

		out, err := e.replay(ctx, next)
		if err != nil {
			return report, err
		}

		switch out {
		case outcomeApplied:
			report.Applied++
		case outcomeDropped:
			report.Dropped++
		case outcomeConflict:
			report.Conflicts++
		case outcomeGone:
		case outcomeHalt:
			report.HaltedBy = next.ID
		}

		if out == outcomeHalt {
			break
		}
	}

	e.logger.Info("engine: drain finished",
		slog.Int("applied", report.Applied),
		slog.Int("conflicts", report.Conflicts),
		slog.Int("dropped", report.Dropped),
		slog.String("halted_by", report.HaltedBy),
	)

	return report, nil
}

// nextAction picks the first pending action not yet attempted. A failed
// non-conflict action (or one another process holds in flight) ahead of it
// is returned as the blocker instead.
func nextAction(actions []queue.Action, attempted map[string]bool) (next, blocker *queue.Action) {
	for i := range actions {
		a := &actions[i]
		if attempted[a.ID] {
			continue
		}

		switch a.Status {
		case queue.StatusPending:
			return a, nil
		case queue.StatusFailed:
			if a.Error == ConflictReason {
				continue
			}

			return nil, a
		case queue.StatusProcessing:
			return nil, a
		}
	}

	return nil, nil
}

// replay performs one action and records its outcome. Only storage errors
// are returned; handler failures become outcomes.
func (e *Engine) replay(ctx context.Context, a *queue.Action) (outcome, error) {
	// Bookkeeping after the handler returns must land even when ctx was
	// canceled mid-call, or the action would be stuck in processing until
	// the next restart.
	bg := context.WithoutCancel(ctx)

	reg, ok := e.registry.Lookup(ActionType(a.Type))
	if !ok {
		e.logger.Warn("engine: dropping action of unknown type",
			slog.String("action_id", a.ID),
			slog.String("type", a.Type),
		)

		if err := e.queue.Remove(bg, a.ID); err != nil {
			return 0, fmt.Errorf("engine: dropping %s: %w", a.ID, err)
		}

		e.refreshQuietly(bg)

		return outcomeDropped, nil
	}

	if err := e.queue.UpdateStatus(bg, a.ID, queue.StatusProcessing, ""); err != nil {
		if errors.Is(err, queue.ErrNotFound) {
			return outcomeGone, nil
		}

		return 0, fmt.Errorf("engine: marking %s processing: %w", a.ID, err)
	}

	e.refreshQuietly(bg)

	// Placeholders left in the payload belong to creations that resolved
	// after the action was written, e.g. by another process's dispatch.
	e.remapMu.RLock()
	payload, changed := e.resolveTempIDs(a.Payload)
	e.remapMu.RUnlock()

	if changed {
		if err := e.queue.RewritePayloads(bg, map[string][]any{a.ID: payload}); err != nil {
			return 0, fmt.Errorf("engine: resolving placeholders of %s: %w", a.ID, err)
		}

		a.Payload = payload
	}

	e.logger.Debug("engine: replaying action",
		slog.String("action_id", a.ID),
		slog.String("type", a.Type),
		slog.Int("attempt", a.RetryCount+1),
	)

	args := a.Clone().Payload

	result, callErr := reg.Handler(ctx, args)

	var (
		out outcome
		err error
	)

	if callErr == nil {
		out, err = e.applySuccess(bg, &reg, a, result)
	} else {
		out, err = e.applyFailure(ctx, &reg, a, callErr)
	}

	e.refreshQuietly(bg)

	return out, err
}

func (e *Engine) applySuccess(ctx context.Context, reg *Registration, a *queue.Action, result Record) (outcome, error) {
	if r, ok := e.network.(reachabilityReporter); ok {
		r.ReportReachable()
	}

	if a.TempID != 0 {
		if realID, ok := result.ID(); ok {
			if err := e.remap(ctx, a.ID, a.TempID, realID); err != nil {
				return 0, err
			}

			placeholder, _ := e.store.Get(reg.Entity, a.TempID)

			if err := e.store.Delete(reg.Entity, a.TempID); err != nil {
				e.logger.Warn("engine: dropping placeholder record failed",
					slog.Int64("temp_id", a.TempID),
					slog.String("error", err.Error()),
				)
			}

			// Fields the remote did not echo keep their projected values.
			placeholder = placeholder.Clone()
			delete(placeholder, FieldID)
			result = mergeRecords(placeholder, result)
		} else {
			e.logger.Warn("engine: creation returned no id",
				slog.String("action_id", a.ID),
				slog.Int64("temp_id", a.TempID),
			)
		}
	}

	e.applyAuthoritative(reg, a, result)

	if err := e.queue.Remove(ctx, a.ID); err != nil {
		return 0, fmt.Errorf("engine: removing %s: %w", a.ID, err)
	}

	return outcomeApplied, nil
}

// remap replaces tempID with realID in every other queued payload. The pair
// is recorded before the queue is read so later dispatches resolve it
// themselves.
func (e *Engine) remap(ctx context.Context, selfID string, tempID, realID int64) error {
	e.remapMu.Lock()
	e.resolved[tempID] = resolvedID{id: realID, actionID: selfID}
	e.remapMu.Unlock()

	actions, err := e.queue.All(ctx)
	if err != nil {
		return fmt.Errorf("engine: remap %d: %w", tempID, err)
	}

	rewrites := make(map[string][]any)

	for i := range actions {
		if actions[i].ID == selfID {
			continue
		}

		if payload, changed := RemapID(actions[i].Payload, tempID, realID); changed {
			rewrites[actions[i].ID] = payload
		}
	}

	if err := e.queue.RewritePayloads(ctx, rewrites); err != nil {
		return fmt.Errorf("engine: remap %d: %w", tempID, err)
	}

	e.logger.Info("engine: remapped placeholder id",
		slog.Int64("temp_id", tempID),
		slog.Int64("id", realID),
		slog.Int("actions", len(rewrites)),
	)

	return nil
}

type resolvedID struct {
	id       int64
	actionID string // the creation that resolved it
}

// resolveTempIDs rewrites resolved placeholder ids in payload to their
// remote ids. The caller holds remapMu.
func (e *Engine) resolveTempIDs(payload []any) ([]any, bool) {
	if len(e.resolved) == 0 {
		return payload, false
	}

	lookup := func(v any) (int64, bool) {
		id, ok := AsID(v)
		if !ok || id >= 0 {
			return 0, false
		}

		r, ok := e.resolved[id]

		return r.id, ok
	}

	out, changed := Substitute(payload,
		func(v any) bool {
			_, ok := lookup(v)
			return ok
		},
		func(v any) any {
			id, _ := lookup(v)
			return json.Number(strconv.FormatInt(id, 10))
		},
	)

	return out.([]any), changed
}

// forgetTempIDs drops resolved pairs whose placeholder is owned again by a
// different queued creation. Another process sharing the database mints
// its own temp ids and may reuse one this engine already resolved.
func (e *Engine) forgetTempIDs(actions []queue.Action) {
	e.remapMu.Lock()
	defer e.remapMu.Unlock()

	if len(e.resolved) == 0 {
		return
	}

	for i := range actions {
		t := actions[i].TempID
		if r, ok := e.resolved[t]; ok && r.actionID != actions[i].ID {
			delete(e.resolved, t)
		}
	}
}

func (e *Engine) applyFailure(ctx context.Context, reg *Registration, a *queue.Action, callErr error) (outcome, error) {
	bg := context.WithoutCancel(ctx)

	var conflict *ConflictError

	switch {
	case errors.As(callErr, &conflict):
		rec := &queue.ConflictRecord{
			ActionID:   a.ID,
			ActionType: a.Type,
			ServerData: map[string]any(conflict.ServerData),
			LocalData:  localIntent(reg, a.Payload),
			DetectedAt: e.nowFunc().UnixNano(),
		}

		if err := e.queue.RecordConflict(bg, rec, ConflictReason); err != nil {
			if errors.Is(err, queue.ErrNotFound) {
				return outcomeGone, nil
			}

			return 0, fmt.Errorf("engine: recording conflict for %s: %w", a.ID, err)
		}

		e.logger.Warn("engine: conflict detected",
			slog.String("action_id", a.ID),
			slog.String("type", a.Type),
		)

		return outcomeConflict, nil

	case errors.Is(callErr, ErrUnreachable) || ctx.Err() != nil:
		if r, ok := e.network.(reachabilityReporter); ok {
			r.ReportUnreachable(callErr)
		}

		if err := e.queue.UpdateStatus(bg, a.ID, queue.StatusPending, ""); err != nil && !errors.Is(err, queue.ErrNotFound) {
			return 0, fmt.Errorf("engine: reverting %s: %w", a.ID, err)
		}

		e.logger.Info("engine: remote unreachable, action kept pending",
			slog.String("action_id", a.ID),
			slog.String("error", callErr.Error()),
		)

		return outcomeHalt, nil

	default:
		if err := e.queue.UpdateStatus(bg, a.ID, queue.StatusFailed, callErr.Error()); err != nil && !errors.Is(err, queue.ErrNotFound) {
			return 0, fmt.Errorf("engine: failing %s: %w", a.ID, err)
		}

		e.logger.Warn("engine: action rejected",
			slog.String("action_id", a.ID),
			slog.String("type", a.Type),
			slog.String("error", callErr.Error()),
		)

		return outcomeHalt, nil
	}
}

// localIntent is what the user tried to write: the action's field map,
// or the whole payload for actions without one.
func localIntent(reg *Registration, payload []any) any {
	if data := argData(payload, reg.DataArg); data != nil {
		delete(data, FieldExpectedVersion)

		return map[string]any(data)
	}

	return payload
}
