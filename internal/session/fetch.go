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

// Fetch returns the instances matching r, uniqued against the identity
// map. Resident instances without unsaved changes are refreshed when the
// source holds a newer version.
func (s *Session) Fetch(ctx context.Context, r query.FetchRequest) ([]*Instance, error) {
	if err := r.Validate(s.reg); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if r.ReturnsObjectsAsFaults && len(r.Prefetch) == 0 {
		keys, rows, err := s.fetchFaultsLocked(ctx, r)
		if err != nil {
			return nil, fmt.Errorf("fetch %s: %w", r.Entity, err)
		}
		group := &faultGroup{size: r.FetchBatchSize}
		out := make([]*Instance, len(keys))
		for i, k := range keys {
			out[i] = s.registerKeyLocked(k, group)
			if out[i].fault && rows != nil {
				s.snapshots[k.ID] = rows[i]
			}
		}
		s.log.Debug("fetch", zap.String("entity", r.Entity), zap.Int("count", len(out)), zap.Bool("faults", true))
		return out, nil
	}

	rows, err := s.fetchRowsLocked(ctx, r)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", r.Entity, err)
	}
	related, err := s.prefetchRowsLocked(ctx, rows, r.Prefetch)
	if err != nil {
		return nil, fmt.Errorf("prefetch %s: %w", r.Entity, err)
	}
	out := make([]*Instance, len(rows))
	for i, row := range rows {
		out[i] = s.registerRowLocked(row)
	}
	for _, row := range related {
		s.registerRowLocked(row)
	}
	s.log.Debug("fetch",
		zap.String("entity", r.Entity),
		zap.Int("count", len(out)),
		zap.Int("prefetched", len(related)),
	)
	return out, nil
}

// FetchIDs returns the ids matching r without registering instances.
func (s *Session) FetchIDs(ctx context.Context, r query.FetchRequest) ([]graph.ObjectID, error) {
	if err := r.Validate(s.reg); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	keys, err := s.fetchKeysLocked(ctx, r)
	if err != nil {
		return nil, fmt.Errorf("fetch ids %s: %w", r.Entity, err)
	}
	ids := make([]graph.ObjectID, len(keys))
	for i, k := range keys {
		ids[i] = k.ID
	}
	return ids, nil
}

// FetchProperties returns the selected attributes of every match as plain
// maps, in r's order. No instances are registered. With no attrs every
// attribute is returned.
func (s *Session) FetchProperties(ctx context.Context, r query.FetchRequest, attrs ...string) ([]map[string]value.Value, error) {
	if err := r.Validate(s.reg); err != nil {
		return nil, err
	}
	e := s.reg.MustEntity(r.Entity)
	if len(attrs) == 0 {
		for _, a := range e.Attributes() {
			attrs = append(attrs, a.Name)
		}
	}
	for _, name := range attrs {
		if _, ok := e.Attribute(name); !ok {
			return nil, &schema.SchemaError{Entity: r.Entity, Field: name, Message: "no such attribute"}
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.fetchRowsLocked(ctx, r)
	if err != nil {
		return nil, fmt.Errorf("fetch properties %s: %w", r.Entity, err)
	}
	out := make([]map[string]value.Value, len(rows))
	for i, row := range rows {
		m := make(map[string]value.Value, len(attrs))
		for _, name := range attrs {
			m[name] = row.Attr(name)
		}
		out[i] = m
	}
	return out, nil
}

// Count returns the number of objects matching r.Where. Sort, Limit and
// Offset are ignored.
func (s *Session) Count(ctx context.Context, r query.FetchRequest) (int, error) {
	if err := r.Validate(s.reg); err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	n, err := s.countLocked(ctx, r.Entity, r.Where, r.IncludesPendingChanges)
	if err != nil {
		return 0, fmt.Errorf("count %s: %w", r.Entity, err)
	}
	return n, nil
}

// Aggregate evaluates r's expressions over the matching objects.
func (s *Session) Aggregate(ctx context.Context, r query.AggregateRequest) (map[string]value.Value, error) {
	if err := r.Validate(s.reg); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	out, err := s.aggregateLocked(ctx, r)
	if err != nil {
		return nil, fmt.Errorf("aggregate %s: %w", r.Entity, err)
	}
	return out, nil
}

// Object returns the instance for id, registering a fault if it is not
// resident. Existence is not checked.
func (s *Session) Object(id graph.ObjectID) (*Instance, error) {
	if _, ok := s.reg.Entity(id.Entity); !ok || id.IsZero() {
		return nil, fmt.Errorf("%w: %s", ErrObjectNotFound, id)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.objectLocked(id), nil
}

// ExistingObject returns the materialised instance for id, or
// ErrObjectNotFound when the object is not visible to the session.
func (s *Session) ExistingObject(ctx context.Context, id graph.ObjectID) (*Instance, error) {
	if _, ok := s.reg.Entity(id.Entity); !ok || id.IsZero() {
		return nil, fmt.Errorf("%w: %s", ErrObjectNotFound, id)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	inst, resident := s.instances[id]
	if !resident {
		inst = s.newInstanceLocked(id)
	}
	if inst.deleted {
		return nil, fmt.Errorf("%w: %s", ErrObjectNotFound, id)
	}
	if err := s.fireLocked(ctx, inst); err != nil {
		if !resident {
			delete(s.instances, id)
		}
		return nil, err
	}
	return inst, nil
}

func (s *Session) registerKeyLocked(k store.Key, g *faultGroup) *Instance {
	inst := s.instances[k.ID]
	switch {
	case inst == nil:
		inst = s.newInstanceLocked(k.ID)
	case inst.stale(k.Version):
		s.refaultLocked(inst)
	}
	if inst.fault {
		if inst.group == nil {
			inst.group = g
		}
		g.ids = append(g.ids, k.ID)
	}
	return inst
}

func (s *Session) registerRowLocked(r graph.Row) *Instance {
	inst := s.instances[r.ID]
	if inst == nil {
		inst = s.newInstanceLocked(r.ID)
	}
	if inst.fault || inst.stale(r.Version) {
		s.materializeLocked(inst, r)
	}
	return inst
}

// usesSourceLocked reports whether a read can go straight to the source:
// either the caller asked to skip unsaved changes or there are none.
func (s *Session) usesSourceLocked(includePending bool) bool {
	return !includePending || !s.hasPendingLocked()
}

func (s *Session) fetchRowsLocked(ctx context.Context, r query.FetchRequest) ([]graph.Row, error) {
	if s.usesSourceLocked(r.IncludesPendingChanges) {
		return s.src.fetch(ctx, r)
	}
	rows, err := s.matchPendingLocked(ctx, r.Entity, r.Where)
	if err != nil {
		return nil, err
	}
	query.SortRecords(rows, r.Sort)
	return query.Page(rows, r.Offset, r.Limit), nil
}

func (s *Session) fetchKeysLocked(ctx context.Context, r query.FetchRequest) ([]store.Key, error) {
	keys, _, err := s.fetchFaultsLocked(ctx, r)
	return keys, err
}

// fetchFaultsLocked returns the keys matching r. When the match had to be
// evaluated in memory the rows come back too, index-aligned with the keys.
func (s *Session) fetchFaultsLocked(ctx context.Context, r query.FetchRequest) ([]store.Key, []graph.Row, error) {
	if s.usesSourceLocked(r.IncludesPendingChanges) {
		keys, err := s.src.fetchKeys(ctx, r)
		return keys, nil, err
	}
	rows, err := s.fetchRowsLocked(ctx, r)
	if err != nil {
		return nil, nil, err
	}
	keys := make([]store.Key, len(rows))
	for i, row := range rows {
		keys[i] = store.Key{ID: row.ID, Version: row.Version}
	}
	return keys, rows, nil
}

func (s *Session) countLocked(ctx context.Context, entity string, pred query.Predicate, includePending bool) (int, error) {
	if s.usesSourceLocked(includePending) {
		return s.src.count(ctx, entity, pred)
	}
	rows, err := s.matchPendingLocked(ctx, entity, pred)
	if err != nil {
		return 0, err
	}
	return len(rows), nil
}

func (s *Session) aggregateLocked(ctx context.Context, r query.AggregateRequest) (map[string]value.Value, error) {
	if s.usesSourceLocked(r.IncludesPendingChanges) {
		return s.src.aggregate(ctx, r)
	}
	rows, err := s.matchPendingLocked(ctx, r.Entity, r.Where)
	if err != nil {
		return nil, err
	}
	records := make([]query.Record, len(rows))
	for i := range rows {
		records[i] = rows[i]
	}
	return query.Aggregate(s.reg.MustEntity(r.Entity), r.Expressions, records)
}

// matchPendingLocked evaluates pred in memory over the source's rows of
// entity with the session's unsaved changes laid over them. The result is
// unordered.
func (s *Session) matchPendingLocked(ctx context.Context, entity string, pred query.Predicate) ([]graph.Row, error) {
	base, err := s.src.fetch(ctx, query.FetchRequest{Entity: entity, IncludesPendingChanges: true})
	if err != nil {
		return nil, err
	}

	view := make([]graph.Row, 0, len(base))
	for _, row := range base {
		if inst := s.instances[row.ID]; inst != nil {
			if inst.deleted {
				continue
			}
			if inst.dirty {
				view = append(view, pendingRow(inst))
				continue
			}
		}
		view = append(view, row)
	}
	for _, id := range s.pending {
		inst := s.instances[id]
		if inst != nil && inst.inserted && !inst.deleted && id.Entity == entity {
			view = append(view, pendingRow(inst))
		}
	}
	if pred == nil {
		return view, nil
	}

	resolve, failed := s.resolverLocked(ctx)
	out := view[:0]
	for _, row := range view {
		if query.Eval(pred, row, resolve) {
			out = append(out, row)
		}
	}
	if *failed != nil {
		return nil, *failed
	}
	return out, nil
}

// resolverLocked resolves related objects for in-memory evaluation. Source
// errors make the object invisible and are reported through the returned
// pointer.
func (s *Session) resolverLocked(ctx context.Context) (query.Resolver, *error) {
	seen := make(map[graph.ObjectID]graph.Row)
	missing := make(map[graph.ObjectID]bool)
	var failed error
	resolve := func(id graph.ObjectID) (query.Record, bool) {
		if r, ok := seen[id]; ok {
			return r, true
		}
		if missing[id] {
			return nil, false
		}
		rows, err := s.viewRowsLocked(ctx, []graph.ObjectID{id})
		if err != nil {
			if failed == nil {
				failed = err
			}
			return nil, false
		}
		r, ok := rows[id]
		if !ok {
			missing[id] = true
			return nil, false
		}
		seen[id] = r
		return r, true
	}
	return resolve, &failed
}

// prefetchRowsLocked loads the targets of rels for rows that are not
// already materialised in the session.
func (s *Session) prefetchRowsLocked(ctx context.Context, rows []graph.Row, rels []string) ([]graph.Row, error) {
	if len(rels) == 0 {
		return nil, nil
	}
	var ids []graph.ObjectID
	want := make(map[graph.ObjectID]bool)
	for _, row := range rows {
		for _, rel := range rels {
			for _, id := range row.Targets(rel) {
				if want[id] {
					continue
				}
				if inst := s.instances[id]; inst != nil && !inst.fault {
					continue
				}
				want[id] = true
				ids = append(ids, id)
			}
		}
	}
	if len(ids) == 0 {
		return nil, nil
	}
	found, err := s.viewRowsLocked(ctx, ids)
	if err != nil {
		return nil, err
	}
	out := make([]graph.Row, 0, len(found))
	for _, id := range ids {
		if r, ok := found[id]; ok {
			out = append(out, r)
		}
	}
	return out, nil
}
