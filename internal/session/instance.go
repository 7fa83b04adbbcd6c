package session

import (
	"context"
	"fmt"
	"slices"

	"go.uber.org/zap"

	"github.com/roach88/objgraph/internal/graph"
	"github.com/roach88/objgraph/internal/schema"
	"github.com/roach88/objgraph/internal/value"
)

// Instance is the in-memory object for one id within one session.
//
// Every accessor locks the owning session. Reading a fault loads its row
// first; a fault that cannot be loaded reads as empty and Err reports why.
type Instance struct {
	s      *Session
	id     graph.ObjectID
	entity *schema.EntityType

	// Guarded by s.mu.
	attrs    map[string]value.Value
	links    map[string][]graph.ObjectID
	version  int64
	fault    bool
	group    *faultGroup
	inserted bool
	dirty    bool
	deleted  bool
	err      error
}

// faultGroup links the faults produced by one fetch so they can be
// materialised together.
type faultGroup struct {
	size int
	ids  []graph.ObjectID
}

func (s *Session) newInstanceLocked(id graph.ObjectID) *Instance {
	inst := &Instance{
		s:      s,
		id:     id,
		entity: s.reg.MustEntity(id.Entity),
		fault:  true,
	}
	s.instances[id] = inst
	return inst
}

// objectLocked returns the resident instance for id or registers a fault.
func (s *Session) objectLocked(id graph.ObjectID) *Instance {
	if inst := s.instances[id]; inst != nil {
		return inst
	}
	return s.newInstanceLocked(id)
}

func (s *Session) materializeLocked(inst *Instance, r graph.Row) {
	inst.attrs = value.CloneMap(r.Attrs)
	if inst.attrs == nil {
		inst.attrs = make(map[string]value.Value)
	}
	inst.links = make(map[string][]graph.ObjectID, len(r.Links))
	for name, ids := range r.Links {
		if len(ids) > 0 {
			inst.links[name] = slices.Clone(ids)
		}
	}
	inst.version = r.Version
	inst.fault = false
	inst.group = nil
	inst.err = nil
	delete(s.snapshots, inst.id)
}

func (s *Session) refaultLocked(inst *Instance) {
	inst.attrs = nil
	inst.links = nil
	inst.fault = true
	inst.group = nil
	delete(s.snapshots, inst.id)
}

// fireLocked materialises inst if it is a fault. Other faults of the same
// fetch are loaded in the same round trip, up to the fetch's batch size.
func (s *Session) fireLocked(ctx context.Context, inst *Instance) error {
	if !inst.fault {
		return nil
	}
	if r, ok := s.snapshots[inst.id]; ok {
		s.materializeLocked(inst, r)
		return nil
	}

	ids := s.batchForLocked(inst)
	rows, err := s.src.rows(ctx, ids)
	if err != nil {
		inst.err = err
		return fmt.Errorf("fire fault %s: %w", inst.id, err)
	}
	for _, id := range ids {
		r, ok := rows[id]
		if !ok {
			continue
		}
		if other := s.instances[id]; other != nil && other.fault {
			s.materializeLocked(other, r)
		}
	}
	if inst.fault {
		inst.err = fmt.Errorf("%w: %s", ErrObjectNotFound, inst.id)
		return inst.err
	}
	s.log.Debug("fault fired", zap.Stringer("id", inst.id), zap.Int("batch", len(ids)))
	return nil
}

func (s *Session) batchForLocked(inst *Instance) []graph.ObjectID {
	ids := []graph.ObjectID{inst.id}
	g := inst.group
	if g == nil || g.size <= 1 {
		return ids
	}
	start := slices.Index(g.ids, inst.id)
	for i := 1; i < len(g.ids) && len(ids) < g.size; i++ {
		id := g.ids[(start+i)%len(g.ids)]
		if other := s.instances[id]; other != nil && other.fault && id != inst.id {
			ids = append(ids, id)
		}
	}
	return ids
}

func (i *Instance) row() graph.Row {
	r := graph.NewRow(i.id)
	r.Version = i.version
	for k, v := range i.attrs {
		r.Attrs[k] = v
	}
	for k, ids := range i.links {
		if len(ids) > 0 {
			r.Links[k] = slices.Clone(ids)
		}
	}
	return r
}

// pending reports whether the instance contributes to the next save.
func (i *Instance) pending() bool {
	if i.inserted {
		return !i.deleted
	}
	return i.dirty || i.deleted
}

// stale reports whether a saved copy at version should replace the
// instance's state. Version 0 marks rows pending in a parent session.
func (i *Instance) stale(version int64) bool {
	if i.fault || i.inserted || i.dirty || i.deleted {
		return false
	}
	return version == 0 || version != i.version
}

// ID returns the object id.
func (i *Instance) ID() graph.ObjectID {
	return i.id
}

// Entity returns the entity name.
func (i *Instance) Entity() string {
	return i.entity.Name()
}

// Session returns the owning session.
func (i *Instance) Session() *Session {
	return i.s
}

// IsFault reports whether the instance's data has not been loaded.
func (i *Instance) IsFault() bool {
	i.s.mu.Lock()
	defer i.s.mu.Unlock()
	return i.fault
}

// IsInserted reports whether the instance was created and not yet saved.
func (i *Instance) IsInserted() bool {
	i.s.mu.Lock()
	defer i.s.mu.Unlock()
	return i.inserted && !i.deleted
}

// IsDirty reports whether the instance has unsaved changes.
func (i *Instance) IsDirty() bool {
	i.s.mu.Lock()
	defer i.s.mu.Unlock()
	return i.pending()
}

// IsDeleted reports whether the instance was deleted, either pending in
// this session or already saved.
func (i *Instance) IsDeleted() bool {
	i.s.mu.Lock()
	defer i.s.mu.Unlock()
	return i.deleted
}

// Version returns the store version the instance was loaded at.
func (i *Instance) Version() int64 {
	i.s.mu.Lock()
	defer i.s.mu.Unlock()
	return i.version
}

// Err returns the error of the last failed fault, if any.
func (i *Instance) Err() error {
	i.s.mu.Lock()
	defer i.s.mu.Unlock()
	return i.err
}

// Fire materialises the instance if it is a fault.
func (i *Instance) Fire(ctx context.Context) error {
	i.s.mu.Lock()
	defer i.s.mu.Unlock()
	return i.s.fireLocked(ctx, i)
}

func (i *Instance) load() bool {
	if err := i.s.fireLocked(context.Background(), i); err != nil {
		i.s.log.Debug("fault failed", zap.Stringer("id", i.id), zap.Error(err))
		return false
	}
	return true
}

// Get returns the attribute value, or Null for unset or unknown
// attributes.
func (i *Instance) Get(name string) value.Value {
	i.s.mu.Lock()
	defer i.s.mu.Unlock()
	if !i.load() {
		return value.Null{}
	}
	if v, ok := i.attrs[name]; ok && v != nil {
		return v
	}
	return value.Null{}
}

// Values returns a copy of every attribute value.
func (i *Instance) Values() map[string]value.Value {
	i.s.mu.Lock()
	defer i.s.mu.Unlock()
	if !i.load() {
		return map[string]value.Value{}
	}
	return value.CloneMap(i.attrs)
}

// Set assigns an attribute. v must conform to the attribute's type; ints
// widen to floats. A nil v is treated as Null.
func (i *Instance) Set(name string, v value.Value) error {
	attr, ok := i.entity.Attribute(name)
	if !ok {
		return &schema.SchemaError{Entity: i.entity.Name(), Field: name, Message: "no such attribute"}
	}
	if v == nil {
		v = value.Null{}
	}
	cv, err := value.Coerce(attr.Type, v)
	if err != nil {
		return &schema.SchemaError{Entity: i.entity.Name(), Field: name, Message: err.Error()}
	}

	i.s.mu.Lock()
	defer i.s.mu.Unlock()
	if i.deleted {
		return fmt.Errorf("set %s on %s: %w", name, i.id, ErrInstanceDeleted)
	}
	if err := i.s.fireLocked(context.Background(), i); err != nil {
		return err
	}
	if old, ok := i.attrs[name]; ok && value.Equal(old, cv) {
		return nil
	}
	i.attrs[name] = cv
	i.s.markDirtyLocked(i)
	return nil
}

func (i *Instance) relationship(name string) (schema.Relationship, error) {
	rel, ok := i.entity.Relationship(name)
	if !ok {
		return schema.Relationship{}, &schema.SchemaError{Entity: i.entity.Name(), Field: name, Message: "no such relationship"}
	}
	return rel, nil
}

// RelatedIDs returns the ids linked through relationship rel.
func (i *Instance) RelatedIDs(rel string) []graph.ObjectID {
	i.s.mu.Lock()
	defer i.s.mu.Unlock()
	if !i.load() {
		return nil
	}
	return slices.Clone(i.links[rel])
}

// Related returns the target of a to-one relationship, or nil.
func (i *Instance) Related(rel string) *Instance {
	i.s.mu.Lock()
	defer i.s.mu.Unlock()
	if !i.load() {
		return nil
	}
	ids := i.links[rel]
	if len(ids) == 0 {
		return nil
	}
	return i.s.objectLocked(ids[0])
}

// RelatedSet returns the targets of a relationship. Targets that are not
// resident are returned as faults.
func (i *Instance) RelatedSet(rel string) []*Instance {
	i.s.mu.Lock()
	defer i.s.mu.Unlock()
	if !i.load() {
		return nil
	}
	ids := i.links[rel]
	out := make([]*Instance, len(ids))
	for n, id := range ids {
		out[n] = i.s.objectLocked(id)
	}
	return out
}

// SetRelated replaces the targets of rel with target, or clears them when
// target is nil. The inverse relationship is kept in step.
func (i *Instance) SetRelated(rel string, target *Instance) error {
	r, err := i.relationship(rel)
	if err != nil {
		return err
	}
	if target != nil {
		if err := i.checkTarget(r, target); err != nil {
			return err
		}
	}

	s := i.s
	s.mu.Lock()
	defer s.mu.Unlock()
	if i.deleted {
		return fmt.Errorf("set %s on %s: %w", rel, i.id, ErrInstanceDeleted)
	}
	ctx := context.Background()
	if err := s.fireLocked(ctx, i); err != nil {
		return err
	}
	for _, old := range slices.Clone(i.links[rel]) {
		if target != nil && old == target.id {
			continue
		}
		if err := s.unlinkLocked(ctx, i, r, s.objectLocked(old)); err != nil {
			return err
		}
	}
	if target == nil {
		return nil
	}
	return s.linkLocked(ctx, i, r, target)
}

// AddRelated adds target to rel. On a to-one relationship it replaces the
// current target.
func (i *Instance) AddRelated(rel string, target *Instance) error {
	r, err := i.relationship(rel)
	if err != nil {
		return err
	}
	if err := i.checkTarget(r, target); err != nil {
		return err
	}

	s := i.s
	s.mu.Lock()
	defer s.mu.Unlock()
	if i.deleted {
		return fmt.Errorf("add %s on %s: %w", rel, i.id, ErrInstanceDeleted)
	}
	return s.linkLocked(context.Background(), i, r, target)
}

// RemoveRelated removes target from rel. Removing a target that is not
// linked is a no-op.
func (i *Instance) RemoveRelated(rel string, target *Instance) error {
	r, err := i.relationship(rel)
	if err != nil {
		return err
	}
	if err := i.checkTarget(r, target); err != nil {
		return err
	}

	s := i.s
	s.mu.Lock()
	defer s.mu.Unlock()
	if i.deleted {
		return fmt.Errorf("remove %s on %s: %w", rel, i.id, ErrInstanceDeleted)
	}
	ctx := context.Background()
	if err := s.fireLocked(ctx, i); err != nil {
		return err
	}
	if !slices.Contains(i.links[rel], target.id) {
		return nil
	}
	return s.unlinkLocked(ctx, i, r, target)
}

func (i *Instance) checkTarget(rel schema.Relationship, target *Instance) error {
	if target == nil {
		return fmt.Errorf("%s.%s: nil target", i.entity.Name(), rel.Name)
	}
	if target.s != i.s {
		return ErrForeignInstance
	}
	if target.id.Entity != rel.Target {
		return &schema.SchemaError{
			Entity:  i.entity.Name(),
			Field:   rel.Name,
			Message: fmt.Sprintf("target must be %s, got %s", rel.Target, target.id.Entity),
		}
	}
	return nil
}

// linkLocked adds b to a.rel and a to b's inverse. To-one sides drop their
// previous target first, on both ends.
func (s *Session) linkLocked(ctx context.Context, a *Instance, rel schema.Relationship, b *Instance) error {
	if b.deleted {
		return fmt.Errorf("link %s.%s: %w", a.id, rel.Name, ErrInstanceDeleted)
	}
	if err := s.fireLocked(ctx, a); err != nil {
		return err
	}
	if err := s.fireLocked(ctx, b); err != nil {
		return err
	}
	if slices.Contains(a.links[rel.Name], b.id) {
		return nil
	}
	if !rel.ToMany() {
		for _, old := range slices.Clone(a.links[rel.Name]) {
			if err := s.unlinkLocked(ctx, a, rel, s.objectLocked(old)); err != nil {
				return err
			}
		}
	}

	inv, hasInverse := s.reg.InverseOf(rel)
	if hasInverse && !inv.ToMany() {
		for _, prev := range slices.Clone(b.links[inv.Name]) {
			if prev == a.id {
				continue
			}
			if err := s.unlinkLocked(ctx, s.objectLocked(prev), rel, b); err != nil {
				return err
			}
		}
	}

	a.links[rel.Name] = append(a.links[rel.Name], b.id)
	s.markDirtyLocked(a)
	if hasInverse && !slices.Contains(b.links[inv.Name], a.id) {
		b.links[inv.Name] = append(b.links[inv.Name], a.id)
		s.markDirtyLocked(b)
	}
	return nil
}

// unlinkLocked removes b from a.rel and a from b's inverse.
func (s *Session) unlinkLocked(ctx context.Context, a *Instance, rel schema.Relationship, b *Instance) error {
	if err := s.fireLocked(ctx, a); err != nil {
		return err
	}
	removeLink(a, rel.Name, b.id)
	s.markDirtyLocked(a)

	inv, ok := s.reg.InverseOf(rel)
	if !ok || b.deleted {
		return nil
	}
	if err := s.fireLocked(ctx, b); err != nil {
		return err
	}
	if removeLink(b, inv.Name, a.id) {
		s.markDirtyLocked(b)
	}
	return nil
}

func removeLink(inst *Instance, rel string, id graph.ObjectID) bool {
	ids := inst.links[rel]
	n := slices.Index(ids, id)
	if n < 0 {
		return false
	}
	ids = slices.Delete(slices.Clone(ids), n, n+1)
	if len(ids) == 0 {
		delete(inst.links, rel)
	} else {
		inst.links[rel] = ids
	}
	return true
}
