package query

import (
	"fmt"

	"github.com/roach88/objgraph/internal/graph"
	"github.com/roach88/objgraph/internal/schema"
	"github.com/roach88/objgraph/internal/value"
)

// SortDescriptor orders results by one attribute.
type SortDescriptor struct {
	Key       string
	Ascending bool
	Options   Options
}

// Asc sorts ascending by key.
func Asc(key string) SortDescriptor {
	return SortDescriptor{Key: key, Ascending: true}
}

// Desc sorts descending by key.
func Desc(key string) SortDescriptor {
	return SortDescriptor{Key: key}
}

// FetchRequest describes a fetch of one entity.
//
// Results are ordered by Sort and then by object id, so equal sort keys
// still produce a stable order. Limit 0 means unlimited.
type FetchRequest struct {
	Entity string
	Where  Predicate
	Sort   []SortDescriptor
	Limit  int
	Offset int

	// IncludesPendingChanges makes the fetch see the session's own unsaved
	// inserts, updates and deletes. When false only the last saved state
	// is considered.
	IncludesPendingChanges bool

	// ReturnsObjectsAsFaults returns instances that are not resident yet
	// as faults whose attributes load on first access.
	ReturnsObjectsAsFaults bool

	// FetchBatchSize, when positive, materialises up to this many faults
	// of the same result together when any one of them fires.
	FetchBatchSize int

	// Prefetch lists relationships whose targets are loaded together with
	// the results.
	Prefetch []string
}

// FetchOption configures a FetchRequest built by NewFetchRequest.
type FetchOption func(*FetchRequest)

// Where sets the predicate.
func Where(p Predicate) FetchOption {
	return func(r *FetchRequest) { r.Where = p }
}

// SortBy appends sort descriptors.
func SortBy(sort ...SortDescriptor) FetchOption {
	return func(r *FetchRequest) { r.Sort = append(r.Sort, sort...) }
}

// Limit caps the number of results.
func Limit(n int) FetchOption {
	return func(r *FetchRequest) { r.Limit = n }
}

// Offset skips the first n results.
func Offset(n int) FetchOption {
	return func(r *FetchRequest) { r.Offset = n }
}

// IncludePendingChanges sets IncludesPendingChanges.
func IncludePendingChanges(include bool) FetchOption {
	return func(r *FetchRequest) { r.IncludesPendingChanges = include }
}

// AsFaults sets ReturnsObjectsAsFaults.
func AsFaults(faults bool) FetchOption {
	return func(r *FetchRequest) { r.ReturnsObjectsAsFaults = faults }
}

// BatchSize sets FetchBatchSize.
func BatchSize(n int) FetchOption {
	return func(r *FetchRequest) { r.FetchBatchSize = n }
}

// Prefetch adds relationships to load eagerly.
func Prefetch(relationships ...string) FetchOption {
	return func(r *FetchRequest) { r.Prefetch = append(r.Prefetch, relationships...) }
}

// NewFetchRequest builds and validates a fetch request.
// IncludesPendingChanges and ReturnsObjectsAsFaults default to true.
func NewFetchRequest(reg *schema.Registry, entity string, opts ...FetchOption) (FetchRequest, error) {
	r := FetchRequest{
		Entity:                 entity,
		IncludesPendingChanges: true,
		ReturnsObjectsAsFaults: true,
	}
	for _, opt := range opts {
		opt(&r)
	}
	if err := r.Validate(reg); err != nil {
		return FetchRequest{}, err
	}
	return r, nil
}

// MustFetchRequest is like NewFetchRequest but panics on error.
func MustFetchRequest(reg *schema.Registry, entity string, opts ...FetchOption) FetchRequest {
	r, err := NewFetchRequest(reg, entity, opts...)
	if err != nil {
		panic(err)
	}
	return r
}

// Validate checks the request against the schema.
func (r FetchRequest) Validate(reg *schema.Registry) error {
	if err := Validate(reg, r.Entity, r.Where); err != nil {
		return err
	}
	if err := ValidateSort(reg, r.Entity, r.Sort); err != nil {
		return err
	}
	if r.Limit < 0 || r.Offset < 0 || r.FetchBatchSize < 0 {
		return &schema.SchemaError{Entity: r.Entity, Message: "limit, offset and batch size must not be negative"}
	}
	e := reg.MustEntity(r.Entity)
	for _, rel := range r.Prefetch {
		if _, ok := e.Relationship(rel); !ok {
			return &schema.SchemaError{Entity: r.Entity, Field: rel, Message: "unknown prefetch relationship"}
		}
	}
	return nil
}

// AggregateFunc names an aggregate function.
type AggregateFunc string

const (
	Count AggregateFunc = "count"
	Sum   AggregateFunc = "sum"
	Avg   AggregateFunc = "avg"
	Min   AggregateFunc = "min"
	Max   AggregateFunc = "max"
)

// Expression is one aggregate column of an aggregate projection.
// Attribute may be empty for Count, which then counts objects.
type Expression struct {
	Name      string
	Func      AggregateFunc
	Attribute string
}

// AggregateRequest computes group-free aggregates over the objects of
// Entity matching Where.
type AggregateRequest struct {
	Entity                 string
	Where                  Predicate
	Expressions            []Expression
	IncludesPendingChanges bool
}

// Validate checks the request against the schema.
func (r AggregateRequest) Validate(reg *schema.Registry) error {
	if err := Validate(reg, r.Entity, r.Where); err != nil {
		return err
	}
	e := reg.MustEntity(r.Entity)
	if len(r.Expressions) == 0 {
		return &schema.SchemaError{Entity: r.Entity, Message: "aggregate needs at least one expression"}
	}
	seen := make(map[string]bool, len(r.Expressions))
	for _, x := range r.Expressions {
		if x.Name == "" {
			return &schema.SchemaError{Entity: r.Entity, Message: "aggregate expression needs a name"}
		}
		if seen[x.Name] {
			return &schema.SchemaError{Entity: r.Entity, Field: x.Name, Message: "duplicate aggregate name"}
		}
		seen[x.Name] = true

		switch x.Func {
		case Count:
			if x.Attribute == "" {
				continue
			}
		case Sum, Avg, Min, Max:
			if x.Attribute == "" {
				return &schema.SchemaError{Entity: r.Entity, Field: x.Name, Message: fmt.Sprintf("%s requires an attribute", x.Func)}
			}
		default:
			return &schema.SchemaError{Entity: r.Entity, Field: x.Name, Message: fmt.Sprintf("unknown aggregate function %q", x.Func)}
		}

		a, ok := e.Attribute(x.Attribute)
		if !ok {
			return &schema.SchemaError{Entity: r.Entity, Field: x.Attribute, Message: "unknown attribute"}
		}
		if (x.Func == Sum || x.Func == Avg) && !a.Type.IsNumeric() {
			return &schema.SchemaError{Entity: r.Entity, Field: x.Attribute, Message: fmt.Sprintf("%s requires a numeric attribute", x.Func)}
		}
	}
	return nil
}

// BatchUpdateRequest assigns Set to every object of Entity matching Where
// directly in the backing store.
type BatchUpdateRequest struct {
	Entity string
	Where  Predicate
	Set    map[string]value.Value
}

// Validate checks the request against the schema.
func (r BatchUpdateRequest) Validate(reg *schema.Registry) error {
	if err := Validate(reg, r.Entity, r.Where); err != nil {
		return err
	}
	if len(r.Set) == 0 {
		return &schema.SchemaError{Entity: r.Entity, Message: "batch update assigns nothing"}
	}
	e := reg.MustEntity(r.Entity)
	for _, name := range value.SortedKeys(r.Set) {
		a, ok := e.Attribute(name)
		if !ok {
			return &schema.SchemaError{Entity: r.Entity, Field: name, Message: "unknown attribute"}
		}
		v := r.Set[name]
		if !value.Conforms(a.Type, v) {
			return &schema.SchemaError{Entity: r.Entity, Field: name, Message: fmt.Sprintf("%s does not match attribute type %s", value.Describe(v), a.Type)}
		}
		if value.IsNull(v) && a.Required() {
			return &schema.SchemaError{Entity: r.Entity, Field: name, Message: "required attribute cannot be set to null"}
		}
	}
	return nil
}

// BatchDeleteRequest deletes every object of Entity matching Where
// directly in the backing store.
type BatchDeleteRequest struct {
	Entity string
	Where  Predicate
}

// Validate checks the request against the schema.
func (r BatchDeleteRequest) Validate(reg *schema.Registry) error {
	return Validate(reg, r.Entity, r.Where)
}

// BatchResult reports the objects a batch operation touched, in id order.
type BatchResult struct {
	Count int
	IDs   []graph.ObjectID
}
