package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/tonimelisma/localsync/internal/queue"
)

// defaultFirstTempID is the first placeholder id handed out. Remote ids are
// positive, so every placeholder is disjoint from them.
const defaultFirstTempID = -1000

// Store is the reactive store adapter. The engine never holds entity state
// itself; it only asks the store to upsert or delete records.
type Store interface {
	Get(entity string, id int64) (Record, bool)
	Upsert(entity string, rec Record) error
	Delete(entity string, id int64) error
}

// Connectivity is the network monitor as seen by the engine.
type Connectivity interface {
	Online() bool
	Subscribe(fn func(online bool)) (cancel func())
}

// reachabilityReporter is implemented by monitors that learn from handler
// outcomes (see netmon.Monitor).
type reachabilityReporter interface {
	ReportUnreachable(err error)
	ReportReachable()
}

// Config holds the collaborators injected into an Engine.
type Config struct {
	Queue    *queue.Queue
	Registry *Registry
	Store    Store
	Network  Connectivity
	Logger   *slog.Logger

	// FirstTempID is the first placeholder id minted for creations; later
	// ones count down from it. Zero selects -1000. Must be negative.
	FirstTempID int64
}

// drain loop states.
const (
	drainIdle int32 = iota
	drainRunning
)

// Engine is the sync engine service object. One Engine owns one queue; all
// writes from the application go through Dispatch.
type Engine struct {
	queue    *queue.Queue
	registry *Registry
	store    Store
	network  Connectivity
	logger   *slog.Logger

	drainState atomic.Int32

	// Mirrors of the queue and conflict log, refreshed after every queue
	// mutation. refreshMu serializes reload-and-swap so an older read never
	// overwrites a newer one.
	refreshMu sync.Mutex
	mu        sync.RWMutex
	pending   []queue.Action
	conflicts []ConflictInfo

	tempMu     sync.Mutex
	nextTempID int64

	// resolved maps placeholder ids to the remote ids their creations
	// returned. Dispatch holds remapMu for reading from the lookup through
	// the append, so an append lands either before remap scans the queue or
	// after the pair is visible.
	remapMu  sync.RWMutex
	resolved map[int64]resolvedID

	subMu   sync.Mutex
	subs    map[int]func(Snapshot)
	nextSub int

	// runMu orders SyncNow's wg.Add against Close.
	runMu   sync.Mutex
	closed  bool
	runCtx  context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	stopNet func()

	nowFunc func() time.Time
	newID   func() string
}

// New builds an Engine. Call Start before relying on automatic draining.
func New(cfg Config) (*Engine, error) {
	if cfg.Queue == nil || cfg.Registry == nil || cfg.Store == nil || cfg.Network == nil {
		return nil, errors.New("engine: queue, registry, store and network are required")
	}

	first := cfg.FirstTempID
	if first == 0 {
		first = defaultFirstTempID
	}

	if first > 0 {
		return nil, fmt.Errorf("engine: first temp id %d must be negative", first)
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Engine{
		queue:      cfg.Queue,
		registry:   cfg.Registry,
		store:      cfg.Store,
		network:    cfg.Network,
		logger:     logger,
		nextTempID: first,
		resolved:   make(map[int64]resolvedID),
		subs:       make(map[int]func(Snapshot)),
		runCtx:     ctx,
		cancel:     cancel,
		nowFunc:    time.Now,
		newID:      uuid.NewString,
	}, nil
}

// Start recovers interrupted actions, loads the mirrors, subscribes to
// connectivity changes and kicks off a first drain when online.
func (e *Engine) Start(ctx context.Context) error {
	if _, err := e.queue.ResetProcessing(ctx); err != nil {
		return fmt.Errorf("engine: recovering queue: %w", err)
	}

	if err := e.Load(ctx); err != nil {
		return err
	}

	e.stopNet = e.network.Subscribe(func(online bool) {
		e.logger.Info("engine: connectivity changed", slog.Bool("online", online))
		e.notify()

		if online {
			e.SyncNow()
		}
	})

	if e.network.Online() {
		e.SyncNow()
	}

	return nil
}

// Load reads the queue and conflict log into memory without touching
// action statuses or subscribing to connectivity. It suits a process that
// inspects or appends to a queue another process is draining.
func (e *Engine) Load(ctx context.Context) error {
	if err := e.refresh(ctx); err != nil {
		return err
	}

	e.seedTempIDs()

	return nil
}

// Wait blocks until every background drain started so far has finished.
func (e *Engine) Wait() {
	e.wg.Wait()
}

// Close stops background drains and waits for the one in flight, if any,
// to finish its current action.
func (e *Engine) Close() {
	if e.stopNet != nil {
		e.stopNet()
	}

	e.runMu.Lock()
	e.closed = true
	e.cancel()
	e.runMu.Unlock()

	e.wg.Wait()
}

// SyncNow triggers a drain in the background and returns immediately. It
// does nothing once Close has been called.
func (e *Engine) SyncNow() {
	e.runMu.Lock()
	if e.closed {
		e.runMu.Unlock()
		return
	}

	e.wg.Add(1)
	e.runMu.Unlock()

	go func() {
		defer e.wg.Done()

		if _, err := e.Drain(e.runCtx); err != nil {
			e.logger.Error("engine: background drain failed", slog.String("error", err.Error()))
		}
	}()
}

// PendingActions returns a copy of every queued action in order.
func (e *Engine) PendingActions() []queue.Action {
	e.mu.RLock()
	defer e.mu.RUnlock()

	out := make([]queue.Action, len(e.pending))
	for i := range e.pending {
		out[i] = e.pending[i].Clone()
	}

	return out
}

// Conflicts returns the conflicts awaiting a decision.
func (e *Engine) Conflicts() []ConflictInfo {
	e.mu.RLock()
	defer e.mu.RUnlock()

	out := make([]ConflictInfo, len(e.conflicts))
	copy(out, e.conflicts)

	return out
}

// IsOnline reports the network monitor's view.
func (e *Engine) IsOnline() bool {
	return e.network.Online()
}

// Status is offline, syncing while a drain runs, online otherwise.
func (e *Engine) Status() SyncStatus {
	switch {
	case !e.network.Online():
		return StatusOffline
	case e.drainState.Load() == drainRunning:
		return StatusSyncing
	default:
		return StatusOnline
	}
}

// Snapshot returns the aggregate state for a status indicator.
func (e *Engine) Snapshot() Snapshot {
	s := Snapshot{Status: e.Status(), Online: e.network.Online()}

	e.mu.RLock()
	defer e.mu.RUnlock()

	for i := range e.pending {
		switch e.pending[i].Status {
		case queue.StatusPending:
			s.Pending++
		case queue.StatusProcessing:
			s.Processing++
		case queue.StatusFailed:
			s.Failed++
		}
	}

	s.Conflicts = len(e.conflicts)

	return s
}

// Subscribe registers fn to receive a Snapshot after every state change.
// fn runs on the goroutine that made the change and must not block.
func (e *Engine) Subscribe(fn func(Snapshot)) (cancel func()) {
	e.subMu.Lock()
	id := e.nextSub
	e.nextSub++
	e.subs[id] = fn
	e.subMu.Unlock()

	return func() {
		e.subMu.Lock()
		delete(e.subs, id)
		e.subMu.Unlock()
	}
}

func (e *Engine) notify() {
	e.subMu.Lock()
	fns := make([]func(Snapshot), 0, len(e.subs))
	for _, fn := range e.subs {
		fns = append(fns, fn)
	}
	e.subMu.Unlock()

	if len(fns) == 0 {
		return
	}

	snap := e.Snapshot()
	for _, fn := range fns {
		fn(snap)
	}
}

// refresh reloads the queue and conflict mirrors from durable storage.
func (e *Engine) refresh(ctx context.Context) error {
	if err := e.reload(ctx); err != nil {
		return err
	}

	e.notify()

	return nil
}

func (e *Engine) reload(ctx context.Context) error {
	e.refreshMu.Lock()
	defer e.refreshMu.Unlock()

	actions, err := e.queue.All(ctx)
	if err != nil {
		return fmt.Errorf("engine: loading queue: %w", err)
	}

	records, err := e.queue.Conflicts(ctx)
	if err != nil {
		return fmt.Errorf("engine: loading conflicts: %w", err)
	}

	conflicts := make([]ConflictInfo, len(records))
	for i := range records {
		r := &records[i]
		conflicts[i] = ConflictInfo{
			ActionID:   r.ActionID,
			ActionType: ActionType(r.ActionType),
			ServerData: Record(r.ServerData),
			LocalData:  r.LocalData,
			Timestamp:  r.DetectedAt,
		}
	}

	e.mu.Lock()
	e.pending = actions
	e.conflicts = conflicts
	e.mu.Unlock()

	return nil
}

// refreshQuietly is refresh for paths where the durable write already
// succeeded: a failed reload only leaves the mirror stale until the next
// mutation.
func (e *Engine) refreshQuietly(ctx context.Context) {
	if err := e.refresh(ctx); err != nil {
		e.logger.Warn("engine: refreshing mirror", slog.String("error", err.Error()))
	}
}

func (e *Engine) conflict(actionID string) (ConflictInfo, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	for i := range e.conflicts {
		if e.conflicts[i].ActionID == actionID {
			return e.conflicts[i], true
		}
	}

	return ConflictInfo{}, false
}

func (e *Engine) mintTempID() int64 {
	e.tempMu.Lock()
	defer e.tempMu.Unlock()

	id := e.nextTempID
	e.nextTempID--

	return id
}

// seedTempIDs moves the temp id counter below every placeholder still
// referenced by the queue, so ids stay unique across restarts.
func (e *Engine) seedTempIDs() {
	e.mu.RLock()
	lowest := int64(0)
	for i := range e.pending {
		if t := e.pending[i].TempID; t < lowest {
			lowest = t
		}
	}
	e.forgetTempIDs(e.pending)
	e.mu.RUnlock()

	e.tempMu.Lock()
	defer e.tempMu.Unlock()

	if lowest != 0 && lowest <= e.nextTempID {
		e.nextTempID = lowest - 1
	}
}
