package store

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/tonimelisma/localsync/internal/engine"
)

// Mirror persists entity records in the entities table of the state
// database (see state.Open).
type Mirror struct {
	db      *sql.DB
	nowFunc func() time.Time
}

// NewMirror wraps an open state database.
func NewMirror(db *sql.DB) *Mirror {
	return &Mirror{db: db, nowFunc: time.Now}
}

// Put writes one record.
func (m *Mirror) Put(ctx context.Context, entity string, id int64, rec engine.Record) error {
	b, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("store: encoding %s %d: %w", entity, id, err)
	}

	if _, err := m.db.ExecContext(ctx,
		`INSERT INTO entities (kind, id, record, updated_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT(kind, id) DO UPDATE SET record = excluded.record, updated_at = excluded.updated_at`,
		entity, id, string(b), m.nowFunc().UnixNano(),
	); err != nil {
		return fmt.Errorf("store: writing %s %d: %w", entity, id, err)
	}

	return nil
}

// Delete removes one record.
func (m *Mirror) Delete(ctx context.Context, entity string, id int64) error {
	if _, err := m.db.ExecContext(ctx,
		`DELETE FROM entities WHERE kind = ? AND id = ?`, entity, id); err != nil {
		return fmt.Errorf("store: deleting %s %d: %w", entity, id, err)
	}

	return nil
}

// All returns every stored record grouped by entity kind, ordered by id.
func (m *Mirror) All(ctx context.Context) (map[string][]engine.Record, error) {
	rows, err := m.db.QueryContext(ctx, `SELECT kind, id, record FROM entities ORDER BY kind, id`)
	if err != nil {
		return nil, fmt.Errorf("store: listing entities: %w", err)
	}
	defer rows.Close()

	out := make(map[string][]engine.Record)

	for rows.Next() {
		var (
			kind string
			id   int64
			raw  string
		)

		if err := rows.Scan(&kind, &id, &raw); err != nil {
			return nil, fmt.Errorf("store: scanning entity: %w", err)
		}

		var rec engine.Record

		dec := json.NewDecoder(bytes.NewReader([]byte(raw)))
		dec.UseNumber()

		if err := dec.Decode(&rec); err != nil {
			return nil, fmt.Errorf("store: decoding %s %d: %w", kind, id, err)
		}

		out[kind] = append(out[kind], rec)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: iterating entities: %w", err)
	}

	return out, nil
}
