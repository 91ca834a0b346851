package engine

import (
	"context"
	"errors"
	"fmt"
	"sort"
)

// Handler performs the remote effect of one action. args is the persisted
// payload, exactly as dispatched plus any injected expected version. A nil
// Record with a nil error means the remote returned nothing of interest.
type Handler func(ctx context.Context, args []any) (Record, error)

// Projector synthesizes the optimistic record for an action from its
// payload and the current store record (nil when absent). It overrides the
// default projection for the action's Kind.
type Projector func(args []any, current Record) Record

// Registration binds an action type to its handler and describes how the
// action touches the store.
type Registration struct {
	Type    ActionType
	Kind    Kind
	Entity  string // store kind the action mutates; empty for commands
	Handler Handler

	// TargetArg is the payload index of the target id for updates and
	// deletes. DataArg is the index of the field map for creates and
	// updates, or -1 when the action carries none.
	TargetArg int
	DataArg   int

	Project Projector
}

func (r *Registration) validate() error {
	if r.Type == "" {
		return errors.New("empty action type")
	}

	if r.Handler == nil {
		return fmt.Errorf("%s: nil handler", r.Type)
	}

	switch r.Kind {
	case KindCommand:
		return nil
	case KindCreate:
	case KindUpdate, KindDelete:
		if r.TargetArg < 0 {
			return fmt.Errorf("%s: %s requires a target argument", r.Type, r.Kind)
		}
	default:
		return fmt.Errorf("%s: invalid kind %s", r.Type, r.Kind)
	}

	if r.Entity == "" {
		return fmt.Errorf("%s: %s requires an entity kind", r.Type, r.Kind)
	}

	return nil
}

// Registry maps action types to registrations. It is immutable after
// construction.
type Registry struct {
	entries map[ActionType]Registration
}

// NewRegistry validates and indexes registrations. Duplicate types and
// incomplete registrations are rejected together.
func NewRegistry(regs ...Registration) (*Registry, error) {
	r := &Registry{entries: make(map[ActionType]Registration, len(regs))}

	var errs []error

	for i := range regs {
		reg := regs[i]

		if err := reg.validate(); err != nil {
			errs = append(errs, err)
			continue
		}

		if _, dup := r.entries[reg.Type]; dup {
			errs = append(errs, fmt.Errorf("%s: registered twice", reg.Type))
			continue
		}

		r.entries[reg.Type] = reg
	}

	if len(errs) > 0 {
		return nil, fmt.Errorf("engine: invalid registry: %w", errors.Join(errs...))
	}

	return r, nil
}

// Lookup returns the registration for t.
func (r *Registry) Lookup(t ActionType) (Registration, bool) {
	reg, ok := r.entries[t]
	return reg, ok
}

// Types lists the registered action types, sorted.
func (r *Registry) Types() []ActionType {
	types := make([]ActionType, 0, len(r.entries))
	for t := range r.entries {
		types = append(types, t)
	}

	sort.Slice(types, func(i, j int) bool { return types[i] < types[j] })

	return types
}
