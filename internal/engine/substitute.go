package engine

import (
	"encoding/json"
	"strconv"
)

// Substitute walks a JSON-like value (maps, slices and scalars) and
// replaces every node for which match returns true. Containers are copied,
// never mutated in place. The second result reports whether anything was
// replaced. A matched container is replaced whole and not descended into.
func Substitute(v any, match func(any) bool, replace func(any) any) (any, bool) {
	if match(v) {
		return replace(v), true
	}

	switch t := v.(type) {
	case []any:
		out := make([]any, len(t))
		changed := false

		for i := range t {
			var c bool
			out[i], c = Substitute(t[i], match, replace)
			changed = changed || c
		}

		return out, changed
	case map[string]any:
		out := make(map[string]any, len(t))
		changed := false

		for k, val := range t {
			var c bool
			out[k], c = Substitute(val, match, replace)
			changed = changed || c
		}

		return out, changed
	case Record:
		out, changed := Substitute(map[string]any(t), match, replace)
		return Record(out.(map[string]any)), changed
	default:
		return v, false
	}
}

// RemapID replaces every numeric occurrence of tempID in payload with
// realID. Running it again with the same pair is a no-op because tempID no
// longer appears.
func RemapID(payload []any, tempID, realID int64) ([]any, bool) {
	replacement := json.Number(strconv.FormatInt(realID, 10))

	out, changed := Substitute(payload,
		func(v any) bool {
			id, ok := AsID(v)
			return ok && id == tempID
		},
		func(any) any { return replacement },
	)

	return out.([]any), changed
}
