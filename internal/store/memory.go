// Package store holds canonical entity state for the application: a
// reactive in-memory store that the sync engine writes through, with an
// optional SQLite mirror so state survives restarts and is visible to
// other processes sharing the state file.
package store

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/tonimelisma/localsync/internal/engine"
)

// Change describes one store mutation delivered to subscribers.
type Change struct {
	Entity  string
	ID      int64
	Record  engine.Record // nil when Deleted
	Deleted bool
}

type subscription struct {
	entity string // empty matches every entity
	fn     func(Change)
}

// Memory is a concurrency-safe reactive store. It satisfies engine.Store.
type Memory struct {
	logger *slog.Logger
	mirror *Mirror

	mu      sync.RWMutex
	records map[string]map[int64]engine.Record

	subMu   sync.Mutex
	subs    map[int]subscription
	nextSub int
}

// NewMemory creates an empty store. A non-nil mirror makes every write
// durable before it becomes visible.
func NewMemory(mirror *Mirror, logger *slog.Logger) *Memory {
	if logger == nil {
		logger = slog.Default()
	}

	return &Memory{
		logger:  logger,
		mirror:  mirror,
		records: make(map[string]map[int64]engine.Record),
		subs:    make(map[int]subscription),
	}
}

// Load replaces the in-memory contents with the mirror's. It is a no-op
// without a mirror.
func (m *Memory) Load(ctx context.Context) error {
	if m.mirror == nil {
		return nil
	}

	all, err := m.mirror.All(ctx)
	if err != nil {
		return err
	}

	records := make(map[string]map[int64]engine.Record, len(all))
	n := 0

	for entity, recs := range all {
		byID := make(map[int64]engine.Record, len(recs))
		for _, rec := range recs {
			id, _ := rec.ID()
			byID[id] = rec
			n++
		}

		records[entity] = byID
	}

	m.mu.Lock()
	m.records = records
	m.mu.Unlock()

	m.logger.Debug("store: loaded mirror", slog.Int("records", n))

	return nil
}

// Get returns a copy of the record.
func (m *Memory) Get(entity string, id int64) (engine.Record, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	rec, ok := m.records[entity][id]

	return rec.Clone(), ok
}

// List returns copies of every record of an entity kind, ordered by id.
func (m *Memory) List(entity string) []engine.Record {
	m.mu.RLock()
	out := make([]engine.Record, 0, len(m.records[entity]))
	for _, rec := range m.records[entity] {
		out = append(out, rec.Clone())
	}
	m.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		a, _ := out[i].ID()
		b, _ := out[j].ID()

		return a < b
	})

	return out
}

// Len counts the records across every entity kind.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	n := 0
	for _, byID := range m.records {
		n += len(byID)
	}

	return n
}

// Upsert inserts or replaces a record. The record must carry a numeric id.
func (m *Memory) Upsert(entity string, rec engine.Record) error {
	id, ok := rec.ID()
	if !ok {
		return fmt.Errorf("store: %s record has no numeric id", entity)
	}

	rec = rec.Clone()

	if m.mirror != nil {
		if err := m.mirror.Put(context.Background(), entity, id, rec); err != nil {
			return err
		}
	}

	m.mu.Lock()
	if m.records[entity] == nil {
		m.records[entity] = make(map[int64]engine.Record)
	}
	m.records[entity][id] = rec
	m.mu.Unlock()

	m.publish(Change{Entity: entity, ID: id, Record: rec.Clone()})

	return nil
}

// Delete removes a record. Deleting a missing record is not an error.
func (m *Memory) Delete(entity string, id int64) error {
	if m.mirror != nil {
		if err := m.mirror.Delete(context.Background(), entity, id); err != nil {
			return err
		}
	}

	m.mu.Lock()
	_, existed := m.records[entity][id]
	delete(m.records[entity], id)
	m.mu.Unlock()

	if existed {
		m.publish(Change{Entity: entity, ID: id, Deleted: true})
	}

	return nil
}

// Subscribe calls fn for every change to the entity kind, or to every
// kind when entity is empty. fn runs on the writer's goroutine.
func (m *Memory) Subscribe(entity string, fn func(Change)) (cancel func()) {
	m.subMu.Lock()
	defer m.subMu.Unlock()

	id := m.nextSub
	m.nextSub++
	m.subs[id] = subscription{entity: entity, fn: fn}

	return func() {
		m.subMu.Lock()
		delete(m.subs, id)
		m.subMu.Unlock()
	}
}

func (m *Memory) publish(c Change) {
	m.subMu.Lock()
	fns := make([]func(Change), 0, len(m.subs))
	for _, s := range m.subs {
		if s.entity == "" || s.entity == c.Entity {
			fns = append(fns, s.fn)
		}
	}
	m.subMu.Unlock()

	for _, fn := range fns {
		fn(c)
	}
}
