package tasks

import (
	"fmt"
	"maps"

	"golang.org/x/text/unicode/norm"

	"github.com/tonimelisma/localsync/internal/engine"
)

// Fields whose text is normalized before it reaches the remote.
var textFields = []string{"title", "name", "notes"}

func idArg(args []any, i int) (int64, error) {
	if i >= len(args) {
		return 0, fmt.Errorf("tasks: missing argument %d", i)
	}

	id, ok := engine.AsID(args[i])
	if !ok {
		return 0, fmt.Errorf("tasks: argument %d: %v is not an id", i, args[i])
	}

	return id, nil
}

func stringArg(args []any, i int) (string, error) {
	if i >= len(args) {
		return "", fmt.Errorf("tasks: missing argument %d", i)
	}

	s, ok := args[i].(string)
	if !ok {
		return "", fmt.Errorf("tasks: argument %d: %v is not a string", i, args[i])
	}

	return s, nil
}

// textArg is stringArg for user-visible text: NFC-normalized, non-empty.
func textArg(args []any, i int) (string, error) {
	s, err := stringArg(args, i)
	if err != nil {
		return "", err
	}

	if s == "" {
		return "", fmt.Errorf("tasks: argument %d must not be empty", i)
	}

	return norm.NFC.String(s), nil
}

func fieldsArg(args []any, i int) map[string]any {
	if i >= len(args) {
		return nil
	}

	m, _ := args[i].(map[string]any)

	return m
}

// normalizeFields returns a copy of fields with text fields in NFC.
func normalizeFields(fields map[string]any) map[string]any {
	if fields == nil {
		return nil
	}

	out := maps.Clone(fields)

	for _, k := range textFields {
		if s, ok := out[k].(string); ok {
			out[k] = norm.NFC.String(s)
		}
	}

	return out
}

func projectCreateTask(args []any, _ engine.Record) engine.Record {
	rec := engine.Record(normalizeFields(fieldsArg(args, 1))).Clone()
	if rec == nil {
		rec = engine.Record{}
	}

	if title, err := textArg(args, 0); err == nil {
		rec["title"] = title
	}

	rec["completed"] = false

	return rec
}

func projectComplete(_ []any, current engine.Record) engine.Record {
	rec := current.Clone()
	if rec == nil {
		rec = engine.Record{}
	}

	rec["completed"] = true

	return rec
}

func projectName(i int) engine.Projector {
	return func(args []any, _ engine.Record) engine.Record {
		rec := engine.Record{}
		if name, err := textArg(args, i); err == nil {
			rec["name"] = name
		}

		return rec
	}
}

func projectRename(args []any, current engine.Record) engine.Record {
	rec := current.Clone()
	if rec == nil {
		rec = engine.Record{}
	}

	if name, err := textArg(args, 1); err == nil {
		rec["name"] = name
	}

	return rec
}

func projectLabel(args []any, _ engine.Record) engine.Record {
	rec := projectName(0)(args, nil)

	if color, err := stringArg(args, 1); err == nil {
		rec["color"] = color
	}

	return rec
}
