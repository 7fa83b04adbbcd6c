package session

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/roach88/objgraph/internal/graph"
	"github.com/roach88/objgraph/internal/schema"
)

// State is the lifecycle state of a session.
type State int

const (
	// StateActive accepts reads, edits and saves.
	StateActive State = iota
	// StateSaving is held while a save validates and commits.
	StateSaving
	// StateActiveWithError follows a failed save. The session stays usable
	// and LastError reports the failure until the next successful save.
	StateActiveWithError
)

func (s State) String() string {
	switch s {
	case StateActive:
		return "active"
	case StateSaving:
		return "saving"
	case StateActiveWithError:
		return "active with error"
	default:
		return "unknown"
	}
}

// Session is an isolated working set of instances.
type Session struct {
	coord  *Coordinator
	parent *Session
	src    source
	reg    *schema.Registry
	log    *zap.Logger
	name   string
	queue  *taskQueue

	mu        sync.Mutex
	instances map[graph.ObjectID]*Instance
	snapshots map[graph.ObjectID]graph.Row
	pending   []graph.ObjectID
	inLog     map[graph.ObjectID]struct{}
	state     State
	lastErr   error
}

func newSession(c *Coordinator, parent *Session, src source, o options) *Session {
	s := &Session{
		coord:     c,
		parent:    parent,
		src:       src,
		reg:       c.reg,
		log:       o.log.With(zap.String("session", o.name)),
		name:      o.name,
		instances: make(map[graph.ObjectID]*Instance),
		snapshots: make(map[graph.ObjectID]graph.Row),
		inLog:     make(map[graph.ObjectID]struct{}),
	}
	s.queue = newTaskQueue(func(err error) {
		s.log.Warn("queued task failed", zap.Error(err))
	})
	return s
}

// NewChild returns a session whose source is s. The child sees s's
// unsaved state and its Save applies into s instead of the store.
func (s *Session) NewChild(opts ...Option) *Session {
	o := buildOptions(s.coord.log, opts)
	if o.name == "" {
		o.name = s.name + "/child"
	}
	return newSession(s.coord, s, parentSource{parent: s}, o)
}

// Parent returns the parent session, or nil for a root session.
func (s *Session) Parent() *Session {
	return s.parent
}

// Name returns the session's log label.
func (s *Session) Name() string {
	return s.name
}

// Registry returns the schema the session operates on.
func (s *Session) Registry() *schema.Registry {
	return s.reg
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// LastError returns the error of the most recent failed save, or nil once
// a save succeeds.
func (s *Session) LastError() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastErr
}

// HasChanges reports whether the session has unsaved changes.
func (s *Session) HasChanges() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hasPendingLocked()
}

// Len returns the number of resident instances, faults included.
func (s *Session) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.instances)
}

// Perform enqueues fn on the session's serial queue and returns without
// waiting. Errors returned by fn are logged.
func (s *Session) Perform(ctx context.Context, fn func(context.Context) error) error {
	if !s.queue.Enqueue(task{ctx: ctx, fn: fn}) {
		return ErrSessionClosed
	}
	return nil
}

// PerformAndWait runs fn on the session's serial queue and returns its
// error. Called from a task already running on this queue, fn runs inline.
func (s *Session) PerformAndWait(ctx context.Context, fn func(context.Context) error) error {
	if onQueue(ctx, s.queue) {
		return fn(ctx)
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	done := make(chan error, 1)
	if !s.queue.Enqueue(task{ctx: ctx, fn: fn, done: done}) {
		return ErrSessionClosed
	}
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops the task queue. Tasks already queued still run; later calls
// to Perform fail with ErrSessionClosed. Direct method calls keep working.
func (s *Session) Close() {
	s.queue.Close()
}

// Rollback discards every unsaved change. Inserted instances leave the
// identity map; updated and deleted ones turn back into faults.
func (s *Session) Rollback() {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, id := range s.pending {
		inst := s.instances[id]
		if inst == nil {
			continue
		}
		if inst.inserted {
			delete(s.instances, id)
			continue
		}
		inst.dirty = false
		inst.deleted = false
		s.refaultLocked(inst)
	}
	s.clearPendingLocked()
	s.state = StateActive
	s.lastErr = nil
}

func (s *Session) touchLocked(id graph.ObjectID) {
	if _, ok := s.inLog[id]; ok {
		return
	}
	s.inLog[id] = struct{}{}
	s.pending = append(s.pending, id)
}

func (s *Session) clearPendingLocked() {
	s.pending = s.pending[:0]
	clear(s.inLog)
}

func (s *Session) markDirtyLocked(inst *Instance) {
	if !inst.inserted {
		inst.dirty = true
	}
	s.touchLocked(inst.id)
}

func (s *Session) hasPendingLocked() bool {
	for _, id := range s.pending {
		if inst := s.instances[id]; inst != nil && inst.pending() {
			return true
		}
	}
	return false
}

// pendingIDsLocked returns the ids with unsaved changes in s.
func (s *Session) pendingIDsLocked() []graph.ObjectID {
	var ids []graph.ObjectID
	for _, id := range s.pending {
		if inst := s.instances[id]; inst != nil && inst.pending() {
			ids = append(ids, id)
		}
	}
	return ids
}

// pendingRow is the visible row of an instance with unsaved changes.
func pendingRow(inst *Instance) graph.Row {
	r := inst.row()
	r.Version = 0
	return r
}

// viewRowsLocked returns the rows of ids as this session sees them:
// its own unsaved state first, the source for everything else. Objects
// deleted in the session are absent.
func (s *Session) viewRowsLocked(ctx context.Context, ids []graph.ObjectID) (map[graph.ObjectID]graph.Row, error) {
	out := make(map[graph.ObjectID]graph.Row, len(ids))
	var miss []graph.ObjectID
	for _, id := range ids {
		if inst := s.instances[id]; inst != nil {
			if inst.deleted {
				continue
			}
			if inst.inserted || inst.dirty {
				out[id] = pendingRow(inst)
				continue
			}
		}
		miss = append(miss, id)
	}
	if len(miss) == 0 {
		return out, nil
	}
	rows, err := s.src.rows(ctx, miss)
	if err != nil {
		return nil, err
	}
	for id, r := range rows {
		out[id] = r
	}
	return out, nil
}
