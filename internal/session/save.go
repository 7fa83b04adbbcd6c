package session

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/roach88/objgraph/internal/graph"
	"github.com/roach88/objgraph/internal/value"
)

// Save validates the pending changes and applies them atomically to the
// session's parent: the backing store for a root session, the parent
// session otherwise. A save without pending changes does nothing.
//
// On failure the pending changes are kept, the state becomes
// StateActiveWithError and LastError returns the error.
func (s *Session) Save(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cs, changed := s.changeSetLocked()
	if cs.IsEmpty() {
		s.finishSaveLocked(changed, 0)
		return nil
	}

	s.state = StateSaving
	if err := s.validateLocked(changed); err != nil {
		return s.failSaveLocked(err)
	}
	version, err := s.src.commit(ctx, cs)
	if err != nil {
		return s.failSaveLocked(err)
	}
	s.finishSaveLocked(changed, version)

	inserts, updates, deletes := cs.Counts()
	s.log.Info("saved",
		zap.Int("inserts", inserts),
		zap.Int("updates", updates),
		zap.Int("deletes", deletes),
		zap.Int64("version", version),
		zap.Bool("into_parent", s.parent != nil),
	)
	return nil
}

func (s *Session) failSaveLocked(err error) error {
	s.state = StateActiveWithError
	s.lastErr = err
	s.log.Warn("save failed", zap.Error(err))
	return err
}

// changeSetLocked builds the net change of every instance in the pending
// log, in first-touch order. changed also holds instances inserted and
// deleted again, which produce no change.
func (s *Session) changeSetLocked() (graph.ChangeSet, []*Instance) {
	var (
		cs      graph.ChangeSet
		changed []*Instance
	)
	for _, id := range s.pending {
		inst := s.instances[id]
		if inst == nil {
			continue
		}
		switch {
		case inst.inserted && inst.deleted:
		case inst.deleted:
			cs.Changes = append(cs.Changes, graph.Change{Kind: graph.ChangeDelete, ID: id})
		case inst.inserted:
			cs.Changes = append(cs.Changes, graph.Change{Kind: graph.ChangeInsert, ID: id, Row: inst.row()})
		case inst.dirty:
			cs.Changes = append(cs.Changes, graph.Change{Kind: graph.ChangeUpdate, ID: id, Row: inst.row()})
		default:
			continue
		}
		changed = append(changed, inst)
	}
	return cs, changed
}

func (s *Session) validateLocked(changed []*Instance) error {
	var violations []Violation
	add := func(id graph.ObjectID, field, format string, args ...any) {
		violations = append(violations, Violation{ID: id, Field: field, Reason: fmt.Sprintf(format, args...)})
	}

	for _, inst := range changed {
		if inst.deleted {
			continue
		}
		for _, a := range inst.entity.Attributes() {
			v, ok := inst.attrs[a.Name]
			if a.Required() && (!ok || value.IsNull(v)) {
				add(inst.id, a.Name, "required attribute is missing")
			}
		}
		for _, rel := range inst.entity.Relationships() {
			ids := inst.links[rel.Name]
			n := len(ids)
			switch {
			case rel.Required() && n == 0:
				add(inst.id, rel.Name, "required relationship is missing")
			case n > 0 && n < rel.MinCount:
				add(inst.id, rel.Name, "needs at least %d targets, has %d", rel.MinCount, n)
			case rel.MaxCount > 0 && n > rel.MaxCount:
				add(inst.id, rel.Name, "allows at most %d targets, has %d", rel.MaxCount, n)
			}
			for _, id := range ids {
				if t := s.instances[id]; t != nil && t.deleted {
					add(inst.id, rel.Name, "references deleted object %s", id)
				}
			}
		}
	}
	if len(violations) > 0 {
		return &ValidationError{Violations: violations}
	}
	return nil
}

// finishSaveLocked clears the pending state of a successful save. version
// is the store version stamped on the rows, or 0 for a save into a parent.
func (s *Session) finishSaveLocked(changed []*Instance, version int64) {
	for _, inst := range changed {
		if inst.deleted {
			inst.inserted = false
			inst.dirty = false
			delete(s.instances, inst.id)
			delete(s.snapshots, inst.id)
			continue
		}
		inst.inserted = false
		inst.dirty = false
		if version > 0 {
			inst.version = version
		}
	}
	s.clearPendingLocked()
	s.state = StateActive
	s.lastErr = nil
}

// absorb applies a child's saved change set to s as pending changes of s.
// It runs on s's queue.
func (s *Session) absorb(cs graph.ChangeSet) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, c := range cs.Changes {
		if c.Kind == graph.ChangeInsert {
			continue
		}
		if inst := s.instances[c.ID]; inst != nil && inst.deleted {
			return fmt.Errorf("%s %s: %w", c.Kind, c.ID, ErrObjectNotFound)
		}
	}

	for _, c := range cs.Changes {
		switch c.Kind {
		case graph.ChangeInsert:
			inst := s.objectLocked(c.ID)
			s.materializeLocked(inst, c.Row)
			inst.inserted = true
			s.touchLocked(inst.id)
		case graph.ChangeUpdate:
			inst := s.objectLocked(c.ID)
			version := inst.version
			wasFault := inst.fault
			s.materializeLocked(inst, c.Row)
			if !wasFault {
				inst.version = version
			}
			s.markDirtyLocked(inst)
		case graph.ChangeDelete:
			inst := s.objectLocked(c.ID)
			inst.deleted = true
			s.touchLocked(inst.id)
		}
	}
	s.log.Debug("absorbed child changes", zap.Int("changes", len(cs.Changes)))
	return nil
}
