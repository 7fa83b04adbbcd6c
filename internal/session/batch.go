package session

import (
	"context"
	"errors"
	"fmt"

	"github.com/roach88/objgraph/internal/graph"
	"github.com/roach88/objgraph/internal/query"
	"github.com/roach88/objgraph/internal/store"
)

// BatchUpdate assigns r.Set to every stored object matching r.Where in one
// backing-store transaction, bypassing the session's pending state.
//
// It fails with *BatchOperationError, writing nothing, when a matched
// object has unsaved changes in this session or any ancestor. Resident
// instances of the matched objects become faults in this session and its
// ancestors; other sessions pick the change up on their next fetch.
func (s *Session) BatchUpdate(ctx context.Context, r query.BatchUpdateRequest) (query.BatchResult, error) {
	if err := r.Validate(s.reg); err != nil {
		return query.BatchResult{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.coord.store.BatchUpdate(ctx, r, s.guardLocked(r.Entity))
	if err != nil {
		return query.BatchResult{}, batchError(r.Entity, err)
	}
	s.afterBatchLocked(res.IDs, false)
	return res, nil
}

// BatchDelete deletes every stored object matching r.Where in one
// backing-store transaction. Besides the conflicts BatchUpdate reports it
// fails when a surviving object still requires a deleted one.
func (s *Session) BatchDelete(ctx context.Context, r query.BatchDeleteRequest) (query.BatchResult, error) {
	if err := r.Validate(s.reg); err != nil {
		return query.BatchResult{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.coord.store.BatchDelete(ctx, r, s.guardLocked(r.Entity))
	if err != nil {
		return query.BatchResult{}, batchError(r.Entity, err)
	}
	s.afterBatchLocked(res.IDs, true)
	return res, nil
}

// guardLocked collects the unsaved ids of s and its ancestors up front so
// the guard never takes a session lock inside the store transaction.
func (s *Session) guardLocked(entity string) store.Guard {
	dirty := make(map[graph.ObjectID]bool)
	for _, id := range s.pendingIDsLocked() {
		dirty[id] = true
	}
	for p := s.parent; p != nil; p = p.parent {
		p.mu.Lock()
		for _, id := range p.pendingIDsLocked() {
			dirty[id] = true
		}
		p.mu.Unlock()
	}

	return func(ids []graph.ObjectID) error {
		var conflicts []graph.ObjectID
		for _, id := range ids {
			if dirty[id] {
				conflicts = append(conflicts, id)
			}
		}
		if len(conflicts) == 0 {
			return nil
		}
		return &BatchOperationError{
			Entity:    entity,
			Conflicts: conflicts,
			Message:   "matched objects have unsaved changes",
		}
	}
}

func batchError(entity string, err error) error {
	var be *BatchOperationError
	if errors.As(err, &be) {
		return be
	}
	var ie *store.IntegrityError
	if errors.As(err, &ie) {
		return &BatchOperationError{
			Entity:    entity,
			Conflicts: []graph.ObjectID{ie.ID},
			Message:   "surviving objects require deleted ones",
			Err:       err,
		}
	}
	return fmt.Errorf("batch %s: %w", entity, err)
}

// afterBatchLocked turns resident copies of the affected objects back into
// faults in s and its ancestors. After a delete the removed objects leave
// the identity maps and every other clean instance is refaulted, since its
// links may have changed.
func (s *Session) afterBatchLocked(ids []graph.ObjectID, deleted bool) {
	s.forgetLocked(ids, deleted)
	for p := s.parent; p != nil; p = p.parent {
		p.mu.Lock()
		p.forgetLocked(ids, deleted)
		p.mu.Unlock()
	}
}

func (s *Session) forgetLocked(ids []graph.ObjectID, deleted bool) {
	for _, id := range ids {
		inst := s.instances[id]
		if inst == nil || inst.pending() {
			continue
		}
		if deleted {
			inst.deleted = true
			delete(s.instances, id)
			delete(s.snapshots, id)
			continue
		}
		s.refaultLocked(inst)
	}
	if !deleted {
		return
	}
	for _, inst := range s.instances {
		if !inst.fault && !inst.pending() {
			s.refaultLocked(inst)
		}
	}
}
