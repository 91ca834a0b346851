// Package queue provides the durable, order-preserving log of actions that
// have been dispatched locally but not yet confirmed by the remote
// authority. Rows live in the action_queue table of the state database and
// are always returned in insertion order.
//
// Status transitions:
//
//	Append → pending → processing → (removed | failed | pending)
//	failed → pending (retry or conflict resolution) | removed (dismiss)
//
// Success never produces a terminal row: a confirmed action is deleted.
package queue

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/tonimelisma/localsync/internal/state"
)

// Status is the lifecycle state of a queued action.
type Status string

// Action statuses stored in action_queue.status.
const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusFailed     Status = "failed"
)

// ErrNotFound is returned when an action id is not in the queue.
var ErrNotFound = errors.New("queue: action not found")

// Action is one persisted unit of deferred work.
type Action struct {
	ID         string
	Type       string
	Payload    []any
	Timestamp  int64 // unix nanoseconds, display only
	Status     Status
	RetryCount int
	TempID     int64 // 0 unless the action is a creation
	Error      string
}

// Clone returns a copy whose payload can be rewritten without touching the
// original. Nested maps and slices are copied as well.
func (a *Action) Clone() Action {
	c := *a
	c.Payload, _ = cloneValue(a.Payload).([]any)

	return c
}

// Queue is the SQLite-backed Durable Queue. Every method is a single
// statement or a single transaction, so each call is atomic.
type Queue struct {
	db     *sql.DB
	logger *slog.Logger
}

// New wraps an open state database.
func New(db *sql.DB, logger *slog.Logger) *Queue {
	if logger == nil {
		logger = slog.Default()
	}

	return &Queue{db: db, logger: logger}
}

const sqlInsertAction = `INSERT INTO action_queue
	(id, action_type, payload, created_at, status, retry_count, temp_id, error_msg)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?)`

const sqlSelectActions = `SELECT id, action_type, payload, created_at, status,
	retry_count, temp_id, error_msg
 FROM action_queue `

// Append persists a single action at the tail of the queue.
func (q *Queue) Append(ctx context.Context, a *Action) error {
	return q.AppendBatch(ctx, []Action{*a})
}

// AppendBatch persists actions at the tail of the queue, in slice order,
// inside one transaction.
func (q *Queue) AppendBatch(ctx context.Context, actions []Action) error {
	if len(actions) == 0 {
		return nil
	}

	tx, err := q.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("queue: begin append: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, sqlInsertAction)
	if err != nil {
		return fmt.Errorf("queue: prepare append: %w", err)
	}
	defer stmt.Close()

	for i := range actions {
		a := &actions[i]

		payload, encErr := EncodePayload(a.Payload)
		if encErr != nil {
			return fmt.Errorf("queue: action %s: %w", a.ID, encErr)
		}

		status := a.Status
		if status == "" {
			status = StatusPending
		}

		if _, execErr := stmt.ExecContext(ctx,
			a.ID, a.Type, payload, a.Timestamp, string(status), a.RetryCount,
			state.NullInt64(a.TempID), state.NullString(a.Error),
		); execErr != nil {
			return fmt.Errorf("queue: inserting action %s (%s): %w", a.ID, a.Type, execErr)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("queue: commit append: %w", err)
	}

	q.logger.Debug("queue: actions appended", slog.Int("count", len(actions)))

	return nil
}

// Remove deletes an action. Removing an unknown id is not an error, which
// keeps dismiss and success paths idempotent.
func (q *Queue) Remove(ctx context.Context, id string) error {
	return q.RemoveBatch(ctx, []string{id})
}

// RemoveBatch deletes several actions in one transaction.
func (q *Queue) RemoveBatch(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}

	query := `DELETE FROM action_queue WHERE id IN (` + placeholders(len(ids)) + `)` //nolint:gosec // only placeholders are interpolated

	if _, err := q.db.ExecContext(ctx, query, stringArgs(ids)...); err != nil {
		return fmt.Errorf("queue: removing %d actions: %w", len(ids), err)
	}

	return nil
}

// UpdateStatus sets an action's status. errMsg is kept only for failed
// actions. Moving to processing counts as a replay attempt and increments
// retry_count in the same statement.
func (q *Queue) UpdateStatus(ctx context.Context, id string, status Status, errMsg string) error {
	n, err := q.updateStatus(ctx, q.db, []string{id}, status, errMsg)
	if err != nil {
		return err
	}

	if n == 0 {
		return fmt.Errorf("queue: update status %s: %w", id, ErrNotFound)
	}

	return nil
}

// UpdateStatusBatch applies the same status to several actions at once.
// Unknown ids are skipped, matching repeated UpdateStatus calls whose
// not-found errors were ignored.
func (q *Queue) UpdateStatusBatch(ctx context.Context, ids []string, status Status, errMsg string) error {
	if len(ids) == 0 {
		return nil
	}

	_, err := q.updateStatus(ctx, q.db, ids, status, errMsg)

	return err
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (q *Queue) updateStatus(
	ctx context.Context, ex execer, ids []string, status Status, errMsg string,
) (int64, error) {
	if status != StatusFailed {
		errMsg = ""
	}

	bump := 0
	if status == StatusProcessing {
		bump = 1
	}

	query := `UPDATE action_queue SET status = ?, error_msg = ?, retry_count = retry_count + ?
		WHERE id IN (` + placeholders(len(ids)) + `)` //nolint:gosec // only placeholders are interpolated

	args := append([]any{string(status), state.NullString(errMsg), bump}, stringArgs(ids)...)

	result, err := ex.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("queue: update status to %s: %w", status, err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("queue: update status rows affected: %w", err)
	}

	return n, nil
}

// Requeue replaces an action's payload, moves it back to pending and drops
// any conflict recorded for it, all in one transaction. Used by retry and by
// conflict resolution in favor of the local write.
func (q *Queue) Requeue(ctx context.Context, id string, payload []any) error {
	enc, err := EncodePayload(payload)
	if err != nil {
		return err
	}

	tx, err := q.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("queue: begin requeue: %w", err)
	}
	defer tx.Rollback()

	result, err := tx.ExecContext(ctx,
		`UPDATE action_queue SET payload = ?, status = ?, error_msg = NULL WHERE id = ?`,
		enc, string(StatusPending), id)
	if err != nil {
		return fmt.Errorf("queue: requeue %s: %w", id, err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("queue: requeue %s rows affected: %w", id, err)
	}

	if n == 0 {
		return fmt.Errorf("queue: requeue %s: %w", id, ErrNotFound)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM conflicts WHERE action_id = ?`, id); err != nil {
		return fmt.Errorf("queue: clearing conflict for %s: %w", id, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("queue: commit requeue: %w", err)
	}

	return nil
}

// RewritePayloads stores new payloads for several actions in a single
// transaction. Ids that are no longer queued are ignored.
func (q *Queue) RewritePayloads(ctx context.Context, payloads map[string][]any) error {
	if len(payloads) == 0 {
		return nil
	}

	tx, err := q.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("queue: begin rewrite: %w", err)
	}
	defer tx.Rollback()

	for id, payload := range payloads {
		enc, encErr := EncodePayload(payload)
		if encErr != nil {
			return fmt.Errorf("queue: action %s: %w", id, encErr)
		}

		if _, execErr := tx.ExecContext(ctx,
			`UPDATE action_queue SET payload = ? WHERE id = ?`, enc, id); execErr != nil {
			return fmt.Errorf("queue: rewriting payload of %s: %w", id, execErr)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("queue: commit rewrite: %w", err)
	}

	return nil
}

// ResetProcessing moves every processing action back to pending. Called at
// startup: a row still marked processing was in flight when the previous
// process died and its outcome is unknown. Returns the number of rows reset.
func (q *Queue) ResetProcessing(ctx context.Context) (int, error) {
	result, err := q.db.ExecContext(ctx,
		`UPDATE action_queue SET status = ? WHERE status = ?`,
		string(StatusPending), string(StatusProcessing))
	if err != nil {
		return 0, fmt.Errorf("queue: resetting processing actions: %w", err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("queue: reset rows affected: %w", err)
	}

	if n > 0 {
		q.logger.Warn("queue: reclaimed interrupted actions", slog.Int64("count", n))
	}

	return int(n), nil
}

// All returns every queued action in insertion order.
func (q *Queue) All(ctx context.Context) ([]Action, error) {
	return q.query(ctx, `ORDER BY seq`, "load all")
}

// Get returns a single action by id.
func (q *Queue) Get(ctx context.Context, id string) (*Action, error) {
	rows, err := q.query(ctx, `WHERE id = ?`, "get", id)
	if err != nil {
		return nil, err
	}

	if len(rows) == 0 {
		return nil, fmt.Errorf("queue: %s: %w", id, ErrNotFound)
	}

	return &rows[0], nil
}

// Count returns the number of actions per status.
func (q *Queue) Count(ctx context.Context) (map[Status]int, error) {
	rows, err := q.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM action_queue GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("queue: counting actions: %w", err)
	}
	defer rows.Close()

	counts := make(map[Status]int)

	for rows.Next() {
		var (
			s string
			n int
		)

		if err := rows.Scan(&s, &n); err != nil {
			return nil, fmt.Errorf("queue: scanning count: %w", err)
		}

		counts[Status(s)] = n
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("queue: iterating counts: %w", err)
	}

	return counts, nil
}

func (q *Queue) query(ctx context.Context, clause, desc string, args ...any) ([]Action, error) {
	rows, err := q.db.QueryContext(ctx, sqlSelectActions+clause, args...) //nolint:gosec // clause is a compile-time constant
	if err != nil {
		return nil, fmt.Errorf("queue: %s: %w", desc, err)
	}
	defer rows.Close()

	var result []Action

	for rows.Next() {
		a, scanErr := scanAction(rows)
		if scanErr != nil {
			return nil, scanErr
		}

		result = append(result, *a)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("queue: iterating %s rows: %w", desc, err)
	}

	return result, nil
}

func scanAction(rows *sql.Rows) (*Action, error) {
	var (
		a       Action
		payload string
		status  string
		tempID  sql.NullInt64
		errMsg  sql.NullString
	)

	if err := rows.Scan(
		&a.ID, &a.Type, &payload, &a.Timestamp, &status, &a.RetryCount, &tempID, &errMsg,
	); err != nil {
		return nil, fmt.Errorf("queue: scanning action row: %w", err)
	}

	decoded, err := DecodePayload(payload)
	if err != nil {
		return nil, fmt.Errorf("queue: action %s: %w", a.ID, err)
	}

	a.Payload = decoded
	a.Status = Status(status)
	a.TempID = tempID.Int64
	a.Error = errMsg.String

	return &a, nil
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

func stringArgs(ss []string) []any {
	args := make([]any, len(ss))
	for i, s := range ss {
		args[i] = s
	}

	return args
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case []any:
		out := make([]any, len(t))
		for i := range t {
			out[i] = cloneValue(t[i])
		}

		return out
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[k] = cloneValue(val)
		}

		return out
	default:
		return v
	}
}
