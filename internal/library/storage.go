package library

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/roach88/objgraph/internal/graph"
	"github.com/roach88/objgraph/internal/query"
	"github.com/roach88/objgraph/internal/schema"
	"github.com/roach88/objgraph/internal/session"
)

// Storage is the collaborator contract of a list/detail front end.
type Storage interface {
	// GetAll returns every object of entity visible to the storage,
	// including unsaved ones.
	GetAll(ctx context.Context, entity string) ([]*session.Instance, error)

	// Create inserts a new object of entity with its default values.
	Create(ctx context.Context, entity string) (*session.Instance, error)

	// Delete deletes the object with id, applying its delete rules.
	Delete(ctx context.Context, id graph.ObjectID) error

	// Save persists pending changes. It does nothing when there are none.
	Save(ctx context.Context) error
}

// Option configures a SessionStorage.
type Option func(*SessionStorage)

// WithLogger sets the logger. The default discards everything.
func WithLogger(log *zap.Logger) Option {
	return func(s *SessionStorage) {
		if log != nil {
			s.log = log
		}
	}
}

// SessionStorage is a Storage backed by one session.
type SessionStorage struct {
	s   *session.Session
	log *zap.Logger
}

var _ Storage = (*SessionStorage)(nil)

// New returns a Storage over s.
func New(s *session.Session, opts ...Option) *SessionStorage {
	st := &SessionStorage{s: s, log: zap.NewNop()}
	for _, opt := range opts {
		opt(st)
	}
	return st
}

// Session returns the underlying session.
func (st *SessionStorage) Session() *session.Session {
	return st.s
}

// GetAll fetches every object of entity, materialised. Results are sorted
// by name when the entity has a name attribute, otherwise by id.
func (st *SessionStorage) GetAll(ctx context.Context, entity string) ([]*session.Instance, error) {
	e, ok := st.s.Registry().Entity(entity)
	if !ok {
		return nil, fmt.Errorf("get all: %w", &schema.SchemaError{Entity: entity, Message: "unknown entity"})
	}
	opts := []query.FetchOption{query.AsFaults(false)}
	if _, ok := e.Attribute("name"); ok {
		opts = append(opts, query.SortBy(query.Asc("name")))
	}
	r, err := query.NewFetchRequest(st.s.Registry(), entity, opts...)
	if err != nil {
		return nil, fmt.Errorf("get all %s: %w", entity, err)
	}
	out, err := st.s.Fetch(ctx, r)
	if err != nil {
		return nil, err
	}
	st.log.Debug("get all", zap.String("entity", entity), zap.Int("count", len(out)))
	return out, nil
}

// Create inserts a new object on the session's queue.
func (st *SessionStorage) Create(ctx context.Context, entity string) (*session.Instance, error) {
	var created *session.Instance
	err := st.s.PerformAndWait(ctx, func(context.Context) error {
		inst, err := st.s.Create(entity)
		if err != nil {
			return err
		}
		created = inst
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", entity, err)
	}
	st.log.Debug("create", zap.Stringer("id", created.ID()))
	return created, nil
}

// Delete looks id up and deletes it on the session's queue. Returns
// session.ErrObjectNotFound when no such object is visible.
func (st *SessionStorage) Delete(ctx context.Context, id graph.ObjectID) error {
	err := st.s.PerformAndWait(ctx, func(ctx context.Context) error {
		inst, err := st.s.ExistingObject(ctx, id)
		if err != nil {
			return err
		}
		return st.s.Delete(ctx, inst)
	})
	if err != nil {
		return fmt.Errorf("delete %s: %w", id, err)
	}
	st.log.Debug("delete", zap.Stringer("id", id))
	return nil
}

// Save saves the session if it has changes.
func (st *SessionStorage) Save(ctx context.Context) error {
	if !st.s.HasChanges() {
		return nil
	}
	return st.s.PerformAndWait(ctx, st.s.Save)
}
