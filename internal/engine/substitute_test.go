package engine

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRemapID(t *testing.T) {
	t.Parallel()

	payload := []any{
		json.Number("-1"),
		map[string]any{
			"parent": int64(-1),
			"tags":   []any{-1, json.Number("5"), "-1"},
			"other":  json.Number("-2"),
		},
	}

	out, changed := RemapID(payload, -1, 42)
	require.True(t, changed)

	assert.Equal(t, json.Number("42"), out[0])

	data := out[1].(map[string]any)
	assert.Equal(t, json.Number("42"), data["parent"])
	assert.Equal(t, []any{json.Number("42"), json.Number("5"), "-1"}, data["tags"], "strings are not ids")
	assert.Equal(t, json.Number("-2"), data["other"])

	// The input is untouched.
	assert.Equal(t, json.Number("-1"), payload[0])
	assert.Equal(t, int64(-1), payload[1].(map[string]any)["parent"])

	again, changed := RemapID(out, -1, 42)
	assert.False(t, changed)
	assert.Equal(t, out, again)
}

func TestSubstitute_ReplacesMatchedContainerWhole(t *testing.T) {
	t.Parallel()

	in := Record{"a": map[string]any{"x": 1}, "b": 2}

	out, changed := Substitute(in,
		func(v any) bool { _, ok := v.(map[string]any); return ok && len(v.(map[string]any)) == 1 },
		func(any) any { return "replaced" },
	)

	require.True(t, changed)
	assert.Equal(t, Record{"a": "replaced", "b": 2}, out)
}

func TestAsID(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		in   any
		want int64
		ok   bool
	}{
		{"int", 7, 7, true},
		{"int64", int64(-1000), -1000, true},
		{"integral float", float64(57), 57, true},
		{"fractional float", 1.5, 0, false},
		{"huge float", math.MaxFloat64, 0, false},
		{"json number", json.Number("42"), 42, true},
		{"json fraction", json.Number("4.2"), 0, false},
		{"string", "42", 0, false},
		{"nil", nil, 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			got, ok := AsID(tt.in)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestNewRegistry(t *testing.T) {
	t.Parallel()

	noop := func(context.Context, []any) (Record, error) { return nil, nil }

	reg, err := NewRegistry(
		Registration{Type: "b", Kind: KindCommand, Handler: noop, TargetArg: -1, DataArg: -1},
		Registration{Type: "a", Kind: KindCreate, Entity: "task", Handler: noop, TargetArg: -1, DataArg: 0},
	)
	require.NoError(t, err)
	assert.Equal(t, []ActionType{"a", "b"}, reg.Types())

	got, ok := reg.Lookup("a")
	require.True(t, ok)
	assert.Equal(t, KindCreate, got.Kind)

	_, ok = reg.Lookup("c")
	assert.False(t, ok)

	_, err = NewRegistry(
		Registration{Type: "a", Kind: KindCommand, Handler: noop},
		Registration{Type: "a", Kind: KindCommand, Handler: noop},
		Registration{Type: "u", Kind: KindUpdate, Entity: "task", Handler: noop, TargetArg: -1},
		Registration{Type: "d", Kind: KindDelete, Handler: noop, TargetArg: 0},
		Registration{Type: "n", Kind: KindCommand},
	)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "registered twice")
	assert.Contains(t, err.Error(), "requires a target argument")
	assert.Contains(t, err.Error(), "requires an entity kind")
	assert.Contains(t, err.Error(), "nil handler")
}

func TestConflictError(t *testing.T) {
	t.Parallel()

	detail := errors.New("412 precondition failed")
	var err error = &ConflictError{ServerData: Record{"id": 1}, Err: detail}

	assert.ErrorIs(t, err, ErrConflict)
	assert.ErrorIs(t, err, detail)
	assert.NotErrorIs(t, err, ErrUnreachable)

	var ce *ConflictError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, Record{"id": 1}, ce.ServerData)

	u := Unreachable(errors.New("dial tcp: i/o timeout"))
	assert.ErrorIs(t, u, ErrUnreachable)
	assert.NotErrorIs(t, u, ErrConflict)
}

func TestParseResolution(t *testing.T) {
	t.Parallel()

	r, err := ParseResolution("merge")
	require.NoError(t, err)
	assert.Equal(t, ResolveMerge, r)

	_, err = ParseResolution("theirs")
	require.ErrorIs(t, err, ErrInvalidResolution)
}
