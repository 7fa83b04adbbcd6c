package session

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/roach88/objgraph/internal/graph"
	"github.com/roach88/objgraph/internal/query"
	"github.com/roach88/objgraph/internal/schema"
	"github.com/roach88/objgraph/internal/value"
)

// Create inserts a new instance of entity with its attribute defaults.
// The instance is pending until the session is saved.
func (s *Session) Create(entity string) (*Instance, error) {
	e, ok := s.reg.Entity(entity)
	if !ok {
		return nil, &schema.SchemaError{Entity: entity, Message: "no such entity"}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	inst := s.newInstanceLocked(graph.NewObjectID(e.Name()))
	s.materializeLocked(inst, graph.Row{ID: inst.id, Attrs: e.Defaults()})
	inst.inserted = true
	s.touchLocked(inst.id)
	return inst, nil
}

// unlink is one link removal a delete applies to a surviving instance.
type unlink struct {
	from   *Instance
	rel    string
	target graph.ObjectID
}

// Delete marks inst deleted and applies the delete rules of its
// relationships: nullify removes inst from the targets' inverse, cascade
// deletes the targets too, deny refuses while targets exist. References
// from relationships without an inverse are removed as well.
//
// If a surviving instance would be left without a required relationship
// the delete fails with *ReferentialIntegrityError and nothing changes.
func (s *Session) Delete(ctx context.Context, inst *Instance) error {
	if inst == nil {
		return fmt.Errorf("delete: nil instance")
	}
	if inst.s != s {
		return ErrForeignInstance
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if inst.deleted {
		return nil
	}
	doomed, unlinks, err := s.planDeleteLocked(ctx, inst)
	if err != nil {
		return err
	}

	for _, u := range unlinks {
		if removeLink(u.from, u.rel, u.target) {
			s.markDirtyLocked(u.from)
		}
	}
	for _, d := range doomed {
		d.deleted = true
		s.touchLocked(d.id)
	}
	s.log.Debug("delete",
		zap.Stringer("id", inst.id),
		zap.Int("cascaded", len(doomed)-1),
		zap.Int("nullified", len(unlinks)),
	)
	return nil
}

// planDeleteLocked computes the closure of a delete without changing any
// instance state.
func (s *Session) planDeleteLocked(ctx context.Context, root *Instance) ([]*Instance, []unlink, error) {
	doomed := []*Instance{root}
	inSet := map[graph.ObjectID]bool{root.id: true}
	for i := 0; i < len(doomed); i++ {
		x := doomed[i]
		if err := s.fireLocked(ctx, x); err != nil {
			return nil, nil, err
		}
		for _, rel := range x.entity.Relationships() {
			if rel.DeleteRule != schema.Cascade {
				continue
			}
			for _, id := range x.links[rel.Name] {
				if inSet[id] {
					continue
				}
				t := s.objectLocked(id)
				if t.deleted {
					continue
				}
				inSet[id] = true
				doomed = append(doomed, t)
			}
		}
	}

	var unlinks []unlink
	for _, x := range doomed {
		for _, rel := range x.entity.Relationships() {
			var survivors []graph.ObjectID
			for _, id := range x.links[rel.Name] {
				if !inSet[id] {
					if t := s.instances[id]; t == nil || !t.deleted {
						survivors = append(survivors, id)
					}
				}
			}
			if len(survivors) == 0 {
				continue
			}
			if rel.DeleteRule == schema.Deny {
				return nil, nil, &ReferentialIntegrityError{
					ID:           x.id,
					Referrer:     survivors[0],
					Relationship: rel.Name,
					Message:      "delete rule is deny and targets exist",
				}
			}
			inv, ok := s.reg.InverseOf(rel)
			if !ok {
				continue
			}
			for _, id := range survivors {
				t := s.objectLocked(id)
				if err := s.fireLocked(ctx, t); err != nil {
					return nil, nil, err
				}
				if err := checkRemaining(t, inv, inSet, x.id); err != nil {
					return nil, nil, err
				}
				unlinks = append(unlinks, unlink{from: t, rel: inv.Name, target: x.id})
			}
		}

		refs, err := s.referrersLocked(ctx, x, inSet)
		if err != nil {
			return nil, nil, err
		}
		unlinks = append(unlinks, refs...)
	}
	return doomed, unlinks, nil
}

// referrersLocked finds survivors that reference x through relationships
// declared without an inverse.
func (s *Session) referrersLocked(ctx context.Context, x *Instance, inSet map[graph.ObjectID]bool) ([]unlink, error) {
	var out []unlink
	refs := s.reg.Referencing(x.id.Entity)
	for _, owner := range value.SortedKeys(refs) {
		for _, rel := range refs[owner] {
			if rel.Inverse != "" {
				continue
			}
			rows, err := s.fetchRowsLocked(ctx, query.FetchRequest{
				Entity:                 owner,
				Where:                  query.RelatedTo{Relationship: rel.Name, ID: x.id},
				IncludesPendingChanges: true,
			})
			if err != nil {
				return nil, err
			}
			for _, row := range rows {
				if inSet[row.ID] {
					continue
				}
				t := s.objectLocked(row.ID)
				if err := s.fireLocked(ctx, t); err != nil {
					return nil, err
				}
				if err := checkRemaining(t, rel, inSet, x.id); err != nil {
					return nil, err
				}
				out = append(out, unlink{from: t, rel: rel.Name, target: x.id})
			}
		}
	}
	return out, nil
}

// checkRemaining fails when removing the doomed targets from t.rel leaves
// a required relationship short.
func checkRemaining(t *Instance, rel schema.Relationship, inSet map[graph.ObjectID]bool, deleted graph.ObjectID) error {
	if !rel.Required() {
		return nil
	}
	remaining := 0
	for _, id := range t.links[rel.Name] {
		if !inSet[id] {
			remaining++
		}
	}
	if remaining >= max(rel.MinCount, 1) {
		return nil
	}
	return &ReferentialIntegrityError{
		ID:           deleted,
		Referrer:     t.id,
		Relationship: rel.Name,
		Message:      "required relationship would be left unsatisfied",
	}
}
