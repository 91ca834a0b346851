package queue

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/tonimelisma/localsync/internal/state"
)

// ConflictRecord is a persisted conflict awaiting a user decision. At most
// one record exists per action: a second conflict on the same action
// replaces the first.
type ConflictRecord struct {
	ActionID   string
	ActionType string
	ServerData map[string]any
	LocalData  any
	DetectedAt int64 // unix nanoseconds
}

// RecordConflict stores a conflict and marks the action failed with reason
// CONFLICT in one transaction, so the two never disagree after a crash.
func (q *Queue) RecordConflict(ctx context.Context, c *ConflictRecord, reason string) error {
	server, err := encodeValue(c.ServerData)
	if err != nil {
		return fmt.Errorf("queue: encoding server data for %s: %w", c.ActionID, err)
	}

	local, err := encodeValue(c.LocalData)
	if err != nil {
		return fmt.Errorf("queue: encoding local data for %s: %w", c.ActionID, err)
	}

	tx, err := q.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("queue: begin conflict: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO conflicts (action_id, action_type, server_data, local_data, detected_at)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(action_id) DO UPDATE SET
		  action_type = excluded.action_type,
		  server_data = excluded.server_data,
		  local_data = excluded.local_data,
		  detected_at = excluded.detected_at`,
		c.ActionID, c.ActionType, state.NullString(server), state.NullString(local), c.DetectedAt,
	); err != nil {
		return fmt.Errorf("queue: inserting conflict for %s: %w", c.ActionID, err)
	}

	n, err := q.updateStatus(ctx, tx, []string{c.ActionID}, StatusFailed, reason)
	if err != nil {
		return err
	}

	// The action was discarded while its handler ran; keep no orphan.
	if n == 0 {
		return fmt.Errorf("queue: conflict for %s: %w", c.ActionID, ErrNotFound)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("queue: commit conflict: %w", err)
	}

	return nil
}

// Conflicts returns every recorded conflict, oldest first.
func (q *Queue) Conflicts(ctx context.Context) ([]ConflictRecord, error) {
	rows, err := q.db.QueryContext(ctx,
		`SELECT action_id, action_type, server_data, local_data, detected_at
		 FROM conflicts ORDER BY detected_at, action_id`)
	if err != nil {
		return nil, fmt.Errorf("queue: listing conflicts: %w", err)
	}
	defer rows.Close()

	var result []ConflictRecord

	for rows.Next() {
		var (
			c      ConflictRecord
			server sql.NullString
			local  sql.NullString
		)

		if err := rows.Scan(&c.ActionID, &c.ActionType, &server, &local, &c.DetectedAt); err != nil {
			return nil, fmt.Errorf("queue: scanning conflict: %w", err)
		}

		if server.Valid {
			if err := decodeJSON(server.String, &c.ServerData); err != nil {
				return nil, fmt.Errorf("queue: decoding server data for %s: %w", c.ActionID, err)
			}
		}

		if local.Valid {
			if err := decodeJSON(local.String, &c.LocalData); err != nil {
				return nil, fmt.Errorf("queue: decoding local data for %s: %w", c.ActionID, err)
			}
		}

		result = append(result, c)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("queue: iterating conflicts: %w", err)
	}

	return result, nil
}

// DeleteConflict removes the conflict recorded for an action, if any.
func (q *Queue) DeleteConflict(ctx context.Context, actionID string) error {
	if _, err := q.db.ExecContext(ctx, `DELETE FROM conflicts WHERE action_id = ?`, actionID); err != nil {
		return fmt.Errorf("queue: deleting conflict for %s: %w", actionID, err)
	}

	return nil
}

// Discard removes actions together with their conflict records in one
// transaction. Ids that are not queued are ignored.
func (q *Queue) Discard(ctx context.Context, actionIDs ...string) error {
	if len(actionIDs) == 0 {
		return nil
	}

	tx, err := q.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("queue: begin discard: %w", err)
	}
	defer tx.Rollback()

	in := placeholders(len(actionIDs))
	args := stringArgs(actionIDs)

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM conflicts WHERE action_id IN (`+in+`)`, args...); err != nil { //nolint:gosec // placeholders only
		return fmt.Errorf("queue: discarding conflicts: %w", err)
	}

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM action_queue WHERE id IN (`+in+`)`, args...); err != nil { //nolint:gosec // placeholders only
		return fmt.Errorf("queue: discarding %d actions: %w", len(actionIDs), err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("queue: commit discard: %w", err)
	}

	return nil
}
