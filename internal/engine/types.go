// Package engine is the local-first synchronization core. It records
// caller intent as durable actions, projects them optimistically into a
// reactive store, and replays them one at a time against the remote
// authority when the network allows, remapping placeholder ids and
// surfacing write conflicts for the user to resolve.
package engine

import (
	"encoding/json"
	"maps"
	"math"
	"strconv"
)

// ActionType tags an action. The set of valid tags is whatever the
// Registry was built with.
type ActionType string

// Kind says how an action's outcome is projected into the store.
type Kind int

// Action kinds.
const (
	KindCommand Kind = iota // no store projection
	KindCreate
	KindUpdate
	KindDelete
)

func (k Kind) String() string {
	switch k {
	case KindCommand:
		return "command"
	case KindCreate:
		return "create"
	case KindUpdate:
		return "update"
	case KindDelete:
		return "delete"
	default:
		return "kind(" + strconv.Itoa(int(k)) + ")"
	}
}

// Record is a JSON-like entity as held by the store adapter.
type Record map[string]any

// Well-known record fields.
const (
	FieldID              = "id"
	FieldVersion         = "updatedAt"
	FieldExpectedVersion = "expectedUpdatedAt"
)

// ID returns the record's identifier, if it has a numeric one.
func (r Record) ID() (int64, bool) {
	if r == nil {
		return 0, false
	}

	return AsID(r[FieldID])
}

// Clone returns a shallow copy.
func (r Record) Clone() Record {
	if r == nil {
		return nil
	}

	return maps.Clone(r)
}

// AsID converts a numeric payload value into an identifier. Payload values
// reloaded from the queue are json.Number; values produced in-process may be
// any Go integer or an integral float64.
func AsID(v any) (int64, bool) {
	switch n := v.(type) {
	case int:
		return int64(n), true
	case int32:
		return int64(n), true
	case int64:
		return n, true
	case float64:
		if n != math.Trunc(n) || n < math.MinInt64 || n >= math.MaxInt64 {
			return 0, false
		}

		return int64(n), true
	case json.Number:
		id, err := n.Int64()
		if err != nil {
			return 0, false
		}

		return id, true
	default:
		return 0, false
	}
}

// SyncStatus is the coarse state shown to the user.
type SyncStatus string

// Sync statuses.
const (
	StatusOnline  SyncStatus = "online"
	StatusOffline SyncStatus = "offline"
	StatusSyncing SyncStatus = "syncing"
)

// Resolution is the user's answer to a conflict.
type Resolution string

// Conflict resolutions.
const (
	ResolveServer Resolution = "server"
	ResolveLocal  Resolution = "local"
	ResolveMerge  Resolution = "merge"
)

// ParseResolution validates a resolution name.
func ParseResolution(s string) (Resolution, error) {
	switch Resolution(s) {
	case ResolveServer, ResolveLocal, ResolveMerge:
		return Resolution(s), nil
	default:
		return "", ErrInvalidResolution
	}
}

// ConflictInfo describes a conflict awaiting a user decision.
type ConflictInfo struct {
	ActionID   string
	ActionType ActionType
	ServerData Record
	LocalData  any
	Timestamp  int64 // unix nanoseconds
}

// Snapshot is the aggregate view behind a status indicator.
type Snapshot struct {
	Status     SyncStatus
	Online     bool
	Pending    int
	Processing int
	Failed     int
	Conflicts  int
}
