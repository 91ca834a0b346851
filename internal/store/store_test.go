package store

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tonimelisma/localsync/internal/engine"
	"github.com/tonimelisma/localsync/internal/state"
)

func openMirror(t *testing.T, path string) *Mirror {
	t.Helper()

	db, err := state.Open(path, nil)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	return NewMirror(db)
}

func TestMemory_UpsertGetDelete(t *testing.T) {
	t.Parallel()

	m := NewMemory(nil, nil)

	require.NoError(t, m.Upsert("task", engine.Record{"id": int64(2), "title": "b"}))
	require.NoError(t, m.Upsert("task", engine.Record{"id": json.Number("1"), "title": "a"}))
	require.NoError(t, m.Upsert("list", engine.Record{"id": 1, "name": "inbox"}))

	rec, ok := m.Get("task", 1)
	require.True(t, ok)
	assert.Equal(t, "a", rec["title"])

	// Returned records are copies.
	rec["title"] = "mutated"
	again, _ := m.Get("task", 1)
	assert.Equal(t, "a", again["title"])

	assert.Equal(t, 3, m.Len())

	list := m.List("task")
	require.Len(t, list, 2)
	assert.Equal(t, "a", list[0]["title"])
	assert.Equal(t, "b", list[1]["title"])

	require.NoError(t, m.Delete("task", 1))
	require.NoError(t, m.Delete("task", 1))

	_, ok = m.Get("task", 1)
	assert.False(t, ok)

	_, ok = m.Get("list", 1)
	assert.True(t, ok)
}

func TestMemory_RejectsRecordWithoutID(t *testing.T) {
	t.Parallel()

	m := NewMemory(nil, nil)
	require.Error(t, m.Upsert("task", engine.Record{"title": "no id"}))
	require.Error(t, m.Upsert("task", engine.Record{"id": "7"}))
}

func TestMemory_Subscribe(t *testing.T) {
	t.Parallel()

	m := NewMemory(nil, nil)

	var tasks, all []Change

	cancelTasks := m.Subscribe("task", func(c Change) { tasks = append(tasks, c) })
	m.Subscribe("", func(c Change) { all = append(all, c) })

	require.NoError(t, m.Upsert("task", engine.Record{"id": int64(1)}))
	require.NoError(t, m.Upsert("label", engine.Record{"id": int64(1)}))
	require.NoError(t, m.Delete("task", 1))
	require.NoError(t, m.Delete("task", 99)) // missing: no event

	require.Len(t, tasks, 2)
	assert.False(t, tasks[0].Deleted)
	assert.True(t, tasks[1].Deleted)
	assert.Nil(t, tasks[1].Record)
	assert.Len(t, all, 3)

	cancelTasks()
	require.NoError(t, m.Upsert("task", engine.Record{"id": int64(2)}))
	assert.Len(t, tasks, 2)
	assert.Len(t, all, 4)
}

func TestMemory_MirrorSurvivesRestart(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "state.db")
	ctx := context.Background()

	first := NewMemory(openMirror(t, path), nil)
	require.NoError(t, first.Upsert("task", engine.Record{"id": int64(57), "title": "Buy milk", "priority": "high"}))
	require.NoError(t, first.Upsert("task", engine.Record{"id": int64(-1000), "title": "draft"}))
	require.NoError(t, first.Delete("task", -1000))

	second := NewMemory(openMirror(t, path), nil)
	require.NoError(t, second.Load(ctx))

	rec, ok := second.Get("task", 57)
	require.True(t, ok)
	assert.Equal(t, engine.Record{"id": json.Number("57"), "title": "Buy milk", "priority": "high"}, rec)

	_, ok = second.Get("task", -1000)
	assert.False(t, ok)
}

func TestMemory_LoadWithoutMirror(t *testing.T) {
	t.Parallel()

	require.NoError(t, NewMemory(nil, nil).Load(context.Background()))
}
