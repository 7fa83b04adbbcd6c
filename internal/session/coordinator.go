package session

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/roach88/objgraph/internal/graph"
	"github.com/roach88/objgraph/internal/query"
	"github.com/roach88/objgraph/internal/schema"
	"github.com/roach88/objgraph/internal/store"
	"github.com/roach88/objgraph/internal/value"
)

// Coordinator owns the backing store and creates root sessions.
type Coordinator struct {
	store *store.Store
	reg   *schema.Registry
	log   *zap.Logger
}

// Option configures a Coordinator or a Session.
type Option func(*options)

type options struct {
	log  *zap.Logger
	name string
}

// WithLogger sets the logger. The default discards everything.
func WithLogger(log *zap.Logger) Option {
	return func(o *options) {
		if log != nil {
			o.log = log
		}
	}
}

// WithName labels a session in log output.
func WithName(name string) Option {
	return func(o *options) {
		o.name = name
	}
}

func buildOptions(base *zap.Logger, opts []Option) options {
	o := options{log: base}
	if o.log == nil {
		o.log = zap.NewNop()
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// NewCoordinator wraps an open store.
func NewCoordinator(st *store.Store, opts ...Option) *Coordinator {
	o := buildOptions(nil, opts)
	return &Coordinator{
		store: st,
		reg:   st.Registry(),
		log:   o.log,
	}
}

// Registry returns the sealed registry of the backing store.
func (c *Coordinator) Registry() *schema.Registry {
	return c.reg
}

// Store returns the backing store.
func (c *Coordinator) Store() *store.Store {
	return c.store
}

// NewSession returns a root session reading from and saving to the
// backing store.
func (c *Coordinator) NewSession(opts ...Option) *Session {
	o := buildOptions(c.log, opts)
	if o.name == "" {
		o.name = "root"
	}
	return newSession(c, nil, storeSource{st: c.store}, o)
}

// source is what a session reads from and saves into.
//
// Rows returned by a source reflect its visible state: for the backing
// store the committed rows, for a parent session its rows including the
// parent's own unsaved changes. Pending rows carry version 0.
type source interface {
	fetch(ctx context.Context, r query.FetchRequest) ([]graph.Row, error)
	fetchKeys(ctx context.Context, r query.FetchRequest) ([]store.Key, error)
	rows(ctx context.Context, ids []graph.ObjectID) (map[graph.ObjectID]graph.Row, error)
	count(ctx context.Context, entity string, pred query.Predicate) (int, error)
	aggregate(ctx context.Context, r query.AggregateRequest) (map[string]value.Value, error)

	// commit applies a change set and returns the version the backing
	// store stamped, or 0 when the changes stay pending in a parent.
	commit(ctx context.Context, cs graph.ChangeSet) (int64, error)
}

type storeSource struct {
	st *store.Store
}

func (s storeSource) fetch(ctx context.Context, r query.FetchRequest) ([]graph.Row, error) {
	return s.st.Fetch(ctx, r)
}

func (s storeSource) fetchKeys(ctx context.Context, r query.FetchRequest) ([]store.Key, error) {
	return s.st.FetchKeys(ctx, r)
}

func (s storeSource) rows(ctx context.Context, ids []graph.ObjectID) (map[graph.ObjectID]graph.Row, error) {
	return s.st.Rows(ctx, ids)
}

func (s storeSource) count(ctx context.Context, entity string, pred query.Predicate) (int, error) {
	return s.st.Count(ctx, entity, pred)
}

func (s storeSource) aggregate(ctx context.Context, r query.AggregateRequest) (map[string]value.Value, error) {
	return s.st.Aggregate(ctx, r)
}

func (s storeSource) commit(ctx context.Context, cs graph.ChangeSet) (int64, error) {
	return s.st.Apply(ctx, cs)
}

// parentSource reads a parent session's visible state and saves into its
// pending log through the parent's queue.
type parentSource struct {
	parent *Session
}

func (p parentSource) fetch(ctx context.Context, r query.FetchRequest) ([]graph.Row, error) {
	s := p.parent
	s.mu.Lock()
	defer s.mu.Unlock()
	r.IncludesPendingChanges = true
	return s.fetchRowsLocked(ctx, r)
}

func (p parentSource) fetchKeys(ctx context.Context, r query.FetchRequest) ([]store.Key, error) {
	s := p.parent
	s.mu.Lock()
	defer s.mu.Unlock()
	r.IncludesPendingChanges = true
	return s.fetchKeysLocked(ctx, r)
}

func (p parentSource) rows(ctx context.Context, ids []graph.ObjectID) (map[graph.ObjectID]graph.Row, error) {
	s := p.parent
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.viewRowsLocked(ctx, ids)
}

func (p parentSource) count(ctx context.Context, entity string, pred query.Predicate) (int, error) {
	s := p.parent
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.countLocked(ctx, entity, pred, true)
}

func (p parentSource) aggregate(ctx context.Context, r query.AggregateRequest) (map[string]value.Value, error) {
	s := p.parent
	s.mu.Lock()
	defer s.mu.Unlock()
	r.IncludesPendingChanges = true
	return s.aggregateLocked(ctx, r)
}

func (p parentSource) commit(ctx context.Context, cs graph.ChangeSet) (int64, error) {
	err := p.parent.PerformAndWait(ctx, func(ctx context.Context) error {
		return p.parent.absorb(cs)
	})
	if err != nil {
		return 0, fmt.Errorf("save into parent %s: %w", p.parent.name, err)
	}
	return 0, nil
}
