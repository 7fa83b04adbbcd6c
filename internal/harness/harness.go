package harness

import (
	"context"
	"errors"
	"fmt"
	"math"
	"slices"
	"strings"

	"github.com/mandelsoft/vfs/pkg/osfs"
	"github.com/mandelsoft/vfs/pkg/vfs"
	"go.uber.org/zap"

	"github.com/roach88/objgraph/internal/graph"
	"github.com/roach88/objgraph/internal/query"
	"github.com/roach88/objgraph/internal/schema"
	"github.com/roach88/objgraph/internal/session"
	"github.com/roach88/objgraph/internal/store"
	"github.com/roach88/objgraph/internal/value"
)

// Option configures Run.
type Option func(*options)

type options struct {
	fs  vfs.FileSystem
	log *zap.Logger
}

// WithFileSystem sets the filesystem the scenario schema is read from.
func WithFileSystem(fs vfs.FileSystem) Option {
	return func(o *options) { o.fs = fs }
}

// WithLogger sets the logger handed to the store and sessions.
func WithLogger(log *zap.Logger) Option {
	return func(o *options) { o.log = log }
}

// Harness executes the steps of one scenario.
type Harness struct {
	reg      *schema.Registry
	store    *store.Store
	coord    *session.Coordinator
	sessions map[string]*session.Session
	order    []string
	ids      map[string]graph.ObjectID
	aliases  map[graph.ObjectID]string
	log      *zap.Logger
}

// Run executes a scenario and returns the result.
//
// Each scenario runs in a fresh in-memory store. Step failures and failed
// assertions are reported in the result; the error return is reserved for
// scenarios that cannot run at all.
func Run(ctx context.Context, scenario *Scenario, opts ...Option) (*Result, error) {
	o := options{log: zap.NewNop()}
	for _, opt := range opts {
		opt(&o)
	}
	if o.fs == nil {
		o.fs = osfs.New()
	}

	reg, err := loadRegistry(o.fs, scenario.Schema)
	if err != nil {
		return nil, fmt.Errorf("failed to load schema: %w", err)
	}

	st, err := store.Open(":memory:", reg, store.WithLogger(o.log.Named("store")))
	if err != nil {
		return nil, fmt.Errorf("failed to create in-memory store: %w", err)
	}
	defer st.Close()

	h := &Harness{
		reg:      reg,
		store:    st,
		coord:    session.NewCoordinator(st, session.WithLogger(o.log)),
		sessions: make(map[string]*session.Session),
		ids:      make(map[string]graph.ObjectID),
		aliases:  make(map[graph.ObjectID]string),
		log:      o.log.With(zap.String("scenario", scenario.Name)),
	}
	defer h.close()

	h.sessions[MainSession] = h.coord.NewSession(session.WithName(MainSession))
	h.order = append(h.order, MainSession)
	for _, decl := range scenario.Sessions {
		parent, ok := h.sessions[decl.Parent]
		if !ok {
			return nil, fmt.Errorf("session %q: unknown parent %q", decl.Name, decl.Parent)
		}
		h.sessions[decl.Name] = parent.NewChild(session.WithName(decl.Name))
		h.order = append(h.order, decl.Name)
	}

	result := NewResult()
	for i, step := range scenario.Steps {
		out, failures, err := h.execute(ctx, i+1, step)
		if err != nil {
			out.Error = ErrorCode(err)
		}
		result.Steps = append(result.Steps, out)

		switch {
		case err != nil && step.ExpectError == "":
			result.AddError(fmt.Sprintf("step %d (%s): %v", out.Step, out.Op, err))
		case err != nil && step.ExpectError != out.Error:
			result.AddError(fmt.Sprintf("step %d (%s): expected error %s, got %s: %v", out.Step, out.Op, step.ExpectError, out.Error, err))
		case err == nil && step.ExpectError != "":
			result.AddError(fmt.Sprintf("step %d (%s): expected error %s, step succeeded", out.Step, out.Op, step.ExpectError))
		}
		for _, f := range failures {
			result.AddError(fmt.Sprintf("step %d (%s): %s", out.Step, out.Op, f))
		}
		h.log.Debug("step",
			zap.Int("step", out.Step),
			zap.String("session", out.Session),
			zap.String("op", out.Op),
			zap.String("error", out.Error),
		)
	}

	for _, msg := range EvaluateAssertions(ctx, h, scenario.Assertions) {
		result.AddError(msg)
	}

	state, err := h.snapshot(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to capture final state: %w", err)
	}
	result.State = state
	return result, nil
}

func loadRegistry(fs vfs.FileSystem, path string) (*schema.Registry, error) {
	if path == "" {
		return schema.Workshop(), nil
	}
	src, err := vfs.ReadFile(fs, path)
	if err != nil {
		return nil, err
	}
	return schema.CompileCUEBytes(path, src)
}

// close closes child sessions before their parents.
func (h *Harness) close() {
	for i := len(h.order) - 1; i >= 0; i-- {
		h.sessions[h.order[i]].Close()
	}
}

// ErrorCode names the category of err the way scenarios refer to it.
func ErrorCode(err error) string {
	var coded interface{ Code() session.ErrorCode }
	switch {
	case err == nil:
		return ""
	case errors.As(err, &coded):
		return string(coded.Code())
	case schema.IsSchemaError(err), schema.IsDuplicateEntity(err):
		return "SCHEMA"
	case query.IsSyntaxError(err):
		return "SYNTAX"
	case errors.Is(err, session.ErrObjectNotFound):
		return "NOT_FOUND"
	case errors.Is(err, session.ErrInstanceDeleted):
		return "DELETED"
	case errors.Is(err, session.ErrForeignInstance):
		return "FOREIGN_INSTANCE"
	case store.IsStorageError(err):
		return "STORAGE"
	default:
		return "ERROR"
	}
}

// execute runs one step. failures lists expectations the step's result
// did not meet; they are only checked when the step succeeded.
func (h *Harness) execute(ctx context.Context, n int, step Step) (StepOutcome, []string, error) {
	name := step.Session
	if name == "" {
		name = MainSession
	}
	out := StepOutcome{Step: n, Session: name}
	s := h.sessions[name]
	if s == nil {
		out.Op = "unknown"
		return out, nil, fmt.Errorf("unknown session %q", name)
	}

	switch {
	case step.Create != nil:
		out.Op, out.Object = "create", step.Create.As
		return out, nil, h.create(ctx, s, step.Create)
	case step.Set != nil:
		out.Op, out.Object = "set", step.Set.Object
		return out, nil, h.set(ctx, s, step.Set)
	case step.Link != nil:
		out.Op, out.Object = "link", step.Link.Object
		return out, nil, h.link(ctx, s, step.Link, true)
	case step.Unlink != nil:
		out.Op, out.Object = "unlink", step.Unlink.Object
		return out, nil, h.link(ctx, s, step.Unlink, false)
	case step.Delete != "":
		out.Op, out.Object = "delete", step.Delete
		inst, err := h.object(ctx, s, step.Delete)
		if err != nil {
			return out, nil, err
		}
		return out, nil, s.Delete(ctx, inst)
	case step.Save:
		out.Op = "save"
		return out, nil, s.Save(ctx)
	case step.Rollback:
		out.Op = "rollback"
		s.Rollback()
		return out, nil, nil
	case step.Fetch != nil:
		out.Op = "fetch"
		failures, err := h.fetch(ctx, s, step.Fetch, &out)
		return out, failures, err
	case step.Aggregate != nil:
		out.Op = "aggregate"
		failures, err := h.aggregate(ctx, s, step.Aggregate, &out)
		return out, failures, err
	case step.BatchUpdate != nil:
		out.Op = "batch_update"
		failures, err := h.batch(ctx, s, step.BatchUpdate, false, &out)
		return out, failures, err
	case step.BatchDelete != nil:
		out.Op = "batch_delete"
		failures, err := h.batch(ctx, s, step.BatchDelete, true, &out)
		return out, failures, err
	}
	out.Op = "unknown"
	return out, nil, fmt.Errorf("step has no operation")
}

// object resolves an alias in s.
func (h *Harness) object(ctx context.Context, s *session.Session, alias string) (*session.Instance, error) {
	id, ok := h.ids[alias]
	if !ok {
		return nil, fmt.Errorf("object %q: %w", alias, session.ErrObjectNotFound)
	}
	return s.ExistingObject(ctx, id)
}

func (h *Harness) create(ctx context.Context, s *session.Session, c *CreateStep) error {
	e, ok := h.reg.Entity(c.Entity)
	if !ok {
		return &schema.SchemaError{Entity: c.Entity, Message: "unknown entity"}
	}
	vals, err := h.values(e, c.Values)
	if err != nil {
		return err
	}

	inst, err := s.Create(c.Entity)
	if err != nil {
		return err
	}
	h.ids[c.As] = inst.ID()
	h.aliases[inst.ID()] = c.As

	for _, name := range value.SortedKeys(vals) {
		if err := inst.Set(name, vals[name]); err != nil {
			return err
		}
	}
	for _, rel := range value.SortedKeys(c.Link) {
		target, err := h.object(ctx, s, c.Link[rel])
		if err != nil {
			return err
		}
		if err := inst.AddRelated(rel, target); err != nil {
			return err
		}
	}
	return nil
}

func (h *Harness) set(ctx context.Context, s *session.Session, st *SetStep) error {
	inst, err := h.object(ctx, s, st.Object)
	if err != nil {
		return err
	}
	vals, err := h.values(h.reg.MustEntity(inst.Entity()), st.Values)
	if err != nil {
		return err
	}
	for _, name := range value.SortedKeys(vals) {
		if err := inst.Set(name, vals[name]); err != nil {
			return err
		}
	}
	return nil
}

func (h *Harness) link(ctx context.Context, s *session.Session, l *LinkStep, add bool) error {
	inst, err := h.object(ctx, s, l.Object)
	if err != nil {
		return err
	}
	target, err := h.object(ctx, s, l.Target)
	if err != nil {
		return err
	}
	if add {
		return inst.AddRelated(l.Relationship, target)
	}
	return inst.RemoveRelated(l.Relationship, target)
}

// fetch runs the request. Without sort descriptors the result order is
// unspecified, so matches are reported in alias order.
func (h *Harness) fetch(ctx context.Context, s *session.Session, f *FetchStep, out *StepOutcome) ([]string, error) {
	pred, err := query.ParseConditions(h.reg, f.Entity, f.Where, f.Any)
	if err != nil {
		return nil, err
	}
	pending := f.Pending == nil || *f.Pending
	opts := []query.FetchOption{
		query.Where(pred),
		query.Limit(f.Limit),
		query.Offset(f.Offset),
		query.IncludePendingChanges(pending),
	}
	if len(f.Sort) > 0 {
		opts = append(opts, query.SortBy(query.ParseSort(f.Sort)...))
	}
	req, err := query.NewFetchRequest(h.reg, f.Entity, opts...)
	if err != nil {
		return nil, err
	}

	ids, err := s.FetchIDs(ctx, req)
	if err != nil {
		return nil, err
	}
	out.Matched = h.names(ids)
	if len(f.Sort) == 0 {
		slices.Sort(out.Matched)
	}

	var failures []string
	if f.Expect != nil && !slices.Equal(out.Matched, f.Expect) {
		failures = append(failures, fmt.Sprintf("expected %v, matched %v", f.Expect, out.Matched))
	}
	if f.Count != nil {
		n, err := s.Count(ctx, req)
		if err != nil {
			return nil, err
		}
		out.Values = map[string]any{"count": n}
		if n != *f.Count {
			failures = append(failures, fmt.Sprintf("expected count %d, got %d", *f.Count, n))
		}
	}
	return failures, nil
}

func (h *Harness) aggregate(ctx context.Context, s *session.Session, a *AggregateStep, out *StepOutcome) ([]string, error) {
	pred, err := query.ParseConditions(h.reg, a.Entity, a.Where, false)
	if err != nil {
		return nil, err
	}
	req := query.AggregateRequest{
		Entity:                 a.Entity,
		Where:                  pred,
		IncludesPendingChanges: true,
	}
	for _, text := range a.Expressions {
		x, err := query.ParseExpression(text)
		if err != nil {
			return nil, err
		}
		req.Expressions = append(req.Expressions, x)
	}
	if err := req.Validate(h.reg); err != nil {
		return nil, err
	}

	vals, err := s.Aggregate(ctx, req)
	if err != nil {
		return nil, err
	}
	out.Values = make(map[string]any, len(vals))
	for name, v := range vals {
		out.Values[name] = value.ToGo(v)
	}

	var failures []string
	for _, name := range value.SortedKeys(a.Expect) {
		want, err := value.FromGo(a.Expect[name])
		if err != nil {
			return nil, fmt.Errorf("expect %s: %w", name, err)
		}
		got, ok := vals[name]
		if !ok {
			failures = append(failures, fmt.Sprintf("no aggregate named %s", name))
			continue
		}
		if !sameValue(want, got) {
			failures = append(failures, fmt.Sprintf("%s: expected %s, got %s", name, value.Describe(want), value.Describe(got)))
		}
	}
	return failures, nil
}

func (h *Harness) batch(ctx context.Context, s *session.Session, b *BatchStep, del bool, out *StepOutcome) ([]string, error) {
	e, ok := h.reg.Entity(b.Entity)
	if !ok {
		return nil, &schema.SchemaError{Entity: b.Entity, Message: "unknown entity"}
	}
	pred, err := query.ParseConditions(h.reg, b.Entity, b.Where, false)
	if err != nil {
		return nil, err
	}

	var res query.BatchResult
	if del {
		res, err = s.BatchDelete(ctx, query.BatchDeleteRequest{Entity: b.Entity, Where: pred})
	} else {
		vals, verr := h.values(e, b.Set)
		if verr != nil {
			return nil, verr
		}
		res, err = s.BatchUpdate(ctx, query.BatchUpdateRequest{Entity: b.Entity, Where: pred, Set: vals})
	}
	if err != nil {
		return nil, err
	}

	out.Matched = h.names(res.IDs)
	slices.Sort(out.Matched)
	if b.Expect != nil {
		want := slices.Sorted(slices.Values(b.Expect))
		if !slices.Equal(out.Matched, want) {
			return []string{fmt.Sprintf("expected %v, matched %v", want, out.Matched)}, nil
		}
	}
	return nil, nil
}

// values converts YAML scalars to attribute values of e.
func (h *Harness) values(e *schema.EntityType, raw map[string]any) (map[string]value.Value, error) {
	out := make(map[string]value.Value, len(raw))
	for _, name := range value.SortedKeys(raw) {
		attr, ok := e.Attribute(name)
		if !ok {
			return nil, &schema.SchemaError{Entity: e.Name(), Field: name, Message: "unknown attribute"}
		}
		v, err := value.FromGo(raw[name])
		if err != nil {
			return nil, &schema.SchemaError{Entity: e.Name(), Field: name, Message: err.Error()}
		}
		cv, err := value.Coerce(attr.Type, v)
		if err != nil {
			return nil, &schema.SchemaError{Entity: e.Name(), Field: name, Message: err.Error()}
		}
		out[name] = cv
	}
	return out, nil
}

// names maps ids to aliases.
func (h *Harness) names(ids []graph.ObjectID) []string {
	out := make([]string, len(ids))
	for i, id := range ids {
		if alias, ok := h.aliases[id]; ok {
			out[i] = alias
		} else {
			out[i] = id.String()
		}
	}
	return out
}

// sameValue compares numbers with a relative tolerance and everything
// else exactly.
func sameValue(want, got value.Value) bool {
	wf, wok := number(want)
	gf, gok := number(got)
	if wok && gok {
		return math.Abs(wf-gf) <= 1e-9*math.Max(1, math.Abs(wf))
	}
	return value.Equal(want, got)
}

func number(v value.Value) (float64, bool) {
	switch n := v.(type) {
	case value.Int:
		return float64(n), true
	case value.Float:
		return float64(n), true
	}
	return 0, false
}

// snapshot reads every saved object through a fresh session.
func (h *Harness) snapshot(ctx context.Context) (map[string][]ObjectState, error) {
	s := h.coord.NewSession(session.WithName("snapshot"))
	defer s.Close()

	state := make(map[string][]ObjectState)
	for _, e := range h.reg.Entities() {
		insts, err := s.Fetch(ctx, query.MustFetchRequest(h.reg, e.Name(), query.AsFaults(false)))
		if err != nil {
			return nil, err
		}
		if len(insts) == 0 {
			continue
		}
		objects := make([]ObjectState, 0, len(insts))
		for _, inst := range insts {
			objects = append(objects, h.objectState(e, inst))
		}
		slices.SortFunc(objects, func(a, b ObjectState) int {
			return strings.Compare(a.Object, b.Object)
		})
		state[e.Name()] = objects
	}
	return state, nil
}

func (h *Harness) objectState(e *schema.EntityType, inst *session.Instance) ObjectState {
	obj := ObjectState{
		Object: h.names([]graph.ObjectID{inst.ID()})[0],
		Values: make(map[string]any),
	}
	for _, a := range e.Attributes() {
		obj.Values[a.Name] = value.ToGo(inst.Get(a.Name))
	}
	for _, rel := range e.Relationships() {
		targets := h.names(inst.RelatedIDs(rel.Name))
		if len(targets) == 0 {
			continue
		}
		slices.Sort(targets)
		if obj.Links == nil {
			obj.Links = make(map[string][]string)
		}
		obj.Links[rel.Name] = targets
	}
	return obj
}
