package engine

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/tonimelisma/localsync/internal/queue"
)

// Dispatch records an action durably, projects it into the store and, when
// online, schedules a drain. It returns the optimistic record (nil for
// commands without a projection). The action is persisted before the
// store is touched: a crash between the two loses only the projection.
func (e *Engine) Dispatch(ctx context.Context, t ActionType, args ...any) (Record, error) {
	reg, ok := e.registry.Lookup(t)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownAction, t)
	}

	payload, err := queue.NormalizePayload(args)
	if err != nil {
		return nil, fmt.Errorf("engine: dispatch %s: %w", t, err)
	}

	e.remapMu.RLock()
	payload, _ = e.resolveTempIDs(payload)
	e.remapMu.RUnlock()

	var current Record

	if reg.Kind == KindUpdate || reg.Kind == KindDelete {
		if id, found := argID(payload, reg.TargetArg); found {
			if rec, exists := e.store.Get(reg.Entity, id); exists {
				current = rec.Clone()
			}
		}
	}

	if reg.Kind == KindUpdate {
		if payload, err = injectExpectedVersion(payload, reg.DataArg, current); err != nil {
			return nil, fmt.Errorf("engine: dispatch %s: %w", t, err)
		}
	}

	a := queue.Action{
		ID:        e.newID(),
		Type:      string(t),
		Payload:   payload,
		Timestamp: e.nowFunc().UnixNano(),
		Status:    queue.StatusPending,
	}

	if reg.Kind == KindCreate {
		a.TempID = e.mintTempID()
	}

	// A creation may have resolved since the lookup above.
	e.remapMu.RLock()
	a.Payload, _ = e.resolveTempIDs(a.Payload)
	err = e.queue.Append(ctx, &a)
	e.remapMu.RUnlock()

	if err != nil {
		return nil, fmt.Errorf("engine: persisting %s: %w", t, err)
	}

	e.logger.Debug("engine: action queued",
		slog.String("action_id", a.ID),
		slog.String("type", a.Type),
		slog.Int64("temp_id", a.TempID),
	)

	optimistic := e.projectOptimistic(&reg, &a, current)

	e.refreshQuietly(ctx)

	if e.network.Online() {
		e.SyncNow()
	}

	return optimistic, nil
}

// projectOptimistic applies the action's expected outcome to the store. A
// projection failure is logged and otherwise ignored: the durable action
// still reaches the remote and the authoritative result replaces whatever
// the store shows.
func (e *Engine) projectOptimistic(reg *Registration, a *queue.Action, current Record) (rec Record) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("engine: optimistic projection panicked",
				slog.String("action_id", a.ID),
				slog.Any("panic", r),
			)

			rec = nil
		}
	}()

	switch reg.Kind {
	case KindCreate:
		if reg.Project != nil {
			rec = reg.Project(a.Payload, nil)
		} else {
			rec = argData(a.Payload, reg.DataArg)
		}

		if rec == nil {
			rec = Record{}
		}

		rec[FieldID] = a.TempID
		e.upsert(reg.Entity, rec, a.ID)

	case KindUpdate:
		id, ok := argID(a.Payload, reg.TargetArg)
		if !ok {
			return nil
		}

		if reg.Project != nil {
			rec = reg.Project(a.Payload, current)
		} else {
			rec = current.Clone()
			if rec == nil {
				rec = Record{}
			}

			for k, v := range argData(a.Payload, reg.DataArg) {
				if k != FieldExpectedVersion {
					rec[k] = v
				}
			}
		}

		if rec == nil {
			return nil
		}

		rec[FieldID] = id
		e.upsert(reg.Entity, rec, a.ID)

	case KindDelete:
		id, ok := argID(a.Payload, reg.TargetArg)
		if !ok {
			return nil
		}

		if err := e.store.Delete(reg.Entity, id); err != nil {
			e.logger.Warn("engine: optimistic delete failed",
				slog.String("action_id", a.ID),
				slog.String("error", err.Error()),
			)
		}

		rec = current

	case KindCommand:
		if reg.Project != nil {
			rec = reg.Project(a.Payload, nil)
		}
	}

	return rec
}

// applyAuthoritative writes a handler result into the store. Results are
// merged over the record already there, so a remote that answers with a
// partial record keeps the locally projected fields.
func (e *Engine) applyAuthoritative(reg *Registration, a *queue.Action, result Record) {
	switch reg.Kind {
	case KindDelete:
		if id, ok := argID(a.Payload, reg.TargetArg); ok {
			if err := e.store.Delete(reg.Entity, id); err != nil {
				e.logger.Warn("engine: applying delete failed",
					slog.String("action_id", a.ID),
					slog.String("error", err.Error()),
				)
			}
		}

	case KindCreate, KindUpdate:
		if id, ok := result.ID(); ok {
			current, _ := e.store.Get(reg.Entity, id)
			e.upsert(reg.Entity, mergeRecords(current, result), a.ID)
		}

	case KindCommand:
		if id, ok := result.ID(); ok && reg.Entity != "" {
			current, _ := e.store.Get(reg.Entity, id)
			e.upsert(reg.Entity, mergeRecords(current, result), a.ID)
		}
	}
}

// mergeRecords overlays over onto a copy of base.
func mergeRecords(base, over Record) Record {
	out := base.Clone()
	if out == nil {
		out = make(Record, len(over))
	}

	for k, v := range over {
		out[k] = v
	}

	delete(out, FieldExpectedVersion)

	return out
}

func (e *Engine) upsert(entity string, rec Record, actionID string) {
	if err := e.store.Upsert(entity, rec); err != nil {
		e.logger.Warn("engine: store upsert failed",
			slog.String("action_id", actionID),
			slog.String("entity", entity),
			slog.String("error", err.Error()),
		)
	}
}

// argID reads the target id at index i.
func argID(payload []any, i int) (int64, bool) {
	if i < 0 || i >= len(payload) {
		return 0, false
	}

	return AsID(payload[i])
}

// argData returns a copy of the field map at index i, or nil.
func argData(payload []any, i int) Record {
	if i < 0 || i >= len(payload) {
		return nil
	}

	m, ok := payload[i].(map[string]any)
	if !ok {
		return nil
	}

	return Record(m).Clone()
}

// withData returns a copy of payload whose field map at index i is data,
// padding with nulls when the caller omitted trailing arguments.
func withData(payload []any, i int, data Record) []any {
	n := len(payload)
	if i >= n {
		n = i + 1
	}

	out := make([]any, n)
	copy(out, payload)
	out[i] = map[string]any(data)

	return out
}

// injectExpectedVersion stamps the current record's version into the
// update's field map so the remote can detect a stale write. Updates to
// records with no known version are sent unconditionally.
func injectExpectedVersion(payload []any, dataArg int, current Record) ([]any, error) {
	if dataArg < 0 || current == nil {
		return payload, nil
	}

	version, ok := current[FieldVersion]
	if !ok || version == nil {
		return payload, nil
	}

	data := argData(payload, dataArg)
	if data == nil {
		data = Record{}
	}

	data[FieldExpectedVersion] = version

	return queue.NormalizePayload(withData(payload, dataArg, data))
}

// stripExpectedVersion removes the version token so the next replay writes
// unconditionally.
func stripExpectedVersion(payload []any, dataArg int) []any {
	data := argData(payload, dataArg)
	if data == nil {
		return payload
	}

	if _, ok := data[FieldExpectedVersion]; !ok {
		return payload
	}

	delete(data, FieldExpectedVersion)

	return withData(payload, dataArg, data)
}
