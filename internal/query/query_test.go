package query

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/objgraph/internal/graph"
	"github.com/roach88/objgraph/internal/schema"
	"github.com/roach88/objgraph/internal/value"
)

type fixture struct {
	rows  map[graph.ObjectID]graph.Row
	songs []graph.Row
	bands []graph.Row
}

func (f *fixture) resolve(id graph.ObjectID) (Record, bool) {
	r, ok := f.rows[id]
	return r, ok
}

func newFixture() *fixture {
	f := &fixture{rows: map[graph.ObjectID]graph.Row{}}

	band := func(name string) graph.Row {
		r := graph.NewRow(graph.NewObjectID("Band"))
		r.Attrs["name"] = value.String(name)
		f.rows[r.ID] = r
		f.bands = append(f.bands, r)
		return r
	}
	song := func(name string, duration float64, b graph.Row) {
		r := graph.NewRow(graph.NewObjectID("Song"))
		r.Attrs["name"] = value.String(name)
		r.Attrs["duration"] = value.Float(duration)
		r.Links["band"] = []graph.ObjectID{b.ID}
		f.rows[r.ID] = r
		f.songs = append(f.songs, r)
		b.Links["songs"] = append(b.Links["songs"], r.ID)
		f.rows[b.ID] = b
	}

	beatles := band("The Beatles")
	bjork := band("Björk")
	song("Abbey Road", 100, beatles)
	song("blackbird", 200, beatles)
	song("Élan", 300, bjork)
	song("Hunter", 250, bjork)
	for i, b := range f.bands {
		f.bands[i] = f.rows[b.ID]
	}
	return f
}

func (f *fixture) match(t *testing.T, pred Predicate) []string {
	t.Helper()
	require.NoError(t, Validate(schema.Workshop(), "Song", pred))
	var names []string
	for _, r := range f.songs {
		if Eval(pred, r, f.resolve) {
			names = append(names, string(r.Attr("name").(value.String)))
		}
	}
	return names
}

func TestEvalComparisons(t *testing.T) {
	f := newFixture()

	tests := []struct {
		name string
		pred Predicate
		want []string
	}{
		{"eq", Eq("name", value.String("Hunter")), []string{"Hunter"}},
		{"eq is case sensitive", Eq("name", value.String("hunter")), nil},
		{"eq case insensitive", Compare{Path: "name", Op: OpEq, Value: value.String("hunter"), Options: Options{CaseInsensitive: true}}, []string{"Hunter"}},
		{"gt with int literal on float attribute", Compare{Path: "duration", Op: OpGt, Value: value.Int(200)}, []string{"Élan", "Hunter"}},
		{"le", Compare{Path: "duration", Op: OpLe, Value: value.Float(200)}, []string{"Abbey Road", "blackbird"}},
		{"ne", Compare{Path: "name", Op: OpNe, Value: value.String("Hunter")}, []string{"Abbey Road", "blackbird", "Élan"}},
		{"beginswith", BeginsWith("name", "b", Options{}), []string{"blackbird"}},
		{"beginswith folded", BeginsWith("name", "E", Folded), []string{"Élan"}},
		{"beginswith case only keeps accents", BeginsWith("name", "e", Options{CaseInsensitive: true}), nil},
		{"contains", Contains("name", "bird", Options{}), []string{"blackbird"}},
		{"endswith", Compare{Path: "name", Op: OpEndsWith, Value: value.String("ER"), Options: Folded}, []string{"Hunter"}},
		{"relationship path", Eq("band.name", value.String("The Beatles")), []string{"Abbey Road", "blackbird"}},
		{"relationship path folded", Compare{Path: "band.name", Op: OpEq, Value: value.String("bjork"), Options: Folded}, []string{"Élan", "Hunter"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, f.match(t, tt.pred))
		})
	}
}

func TestEvalAOrBPlaylistPredicate(t *testing.T) {
	f := newFixture()
	pred := AnyOf(BeginsWith("name", "A", Folded), BeginsWith("name", "B", Folded))
	assert.Equal(t, []string{"Abbey Road", "blackbird"}, f.match(t, pred))
}

func TestEvalLogic(t *testing.T) {
	f := newFixture()

	assert.Len(t, f.match(t, AllOf()), 4, "empty AND matches all")
	assert.Empty(t, f.match(t, AnyOf()), "empty OR matches nothing")
	assert.Equal(t, []string{"Élan", "Hunter"}, f.match(t, Not{Predicate: Eq("band.name", value.String("The Beatles"))}))
	assert.Equal(t, []string{"blackbird"}, f.match(t, AllOf(
		Eq("band.name", value.String("The Beatles")),
		Compare{Path: "duration", Op: OpGe, Value: value.Int(150)},
	)))
}

func TestEvalNullSemantics(t *testing.T) {
	rec := graph.NewRow(graph.NewObjectID("Song"))

	assert.False(t, Eval(Eq("name", value.String("x")), rec, nil))
	assert.True(t, Eval(Compare{Path: "name", Op: OpNe, Value: value.String("x")}, rec, nil))
	assert.False(t, Eval(BeginsWith("name", "", Options{}), rec, nil))
	assert.True(t, Eval(IsNull{Path: "name"}, rec, nil))
	assert.True(t, Eval(IsNull{Path: "band"}, rec, nil))

	rec.Links["band"] = []graph.ObjectID{graph.NewObjectID("Band")}
	assert.False(t, Eval(IsNull{Path: "band"}, rec, nil))
}

func TestEvalRelatedTo(t *testing.T) {
	f := newFixture()
	beatles := f.bands[0].ID
	assert.Equal(t, []string{"Abbey Road", "blackbird"}, f.match(t, RelatedTo{Relationship: "band", ID: beatles}))
}

func TestEvalSubquery(t *testing.T) {
	f := newFixture()
	reg := schema.Workshop()

	long := Subquery{
		Relationship: "songs",
		Where:        Compare{Path: "duration", Op: OpGe, Value: value.Int(250)},
		Op:           OpGe,
		Count:        2,
	}
	require.NoError(t, Validate(reg, "Band", long))

	var names []string
	for _, b := range f.bands {
		if Eval(long, b, f.resolve) {
			names = append(names, string(b.Attr("name").(value.String)))
		}
	}
	assert.Equal(t, []string{"Björk"}, names)

	nonEmpty := Subquery{Relationship: "songs", Op: OpGt, Count: 0}
	for _, b := range f.bands {
		assert.True(t, Eval(nonEmpty, b, f.resolve))
	}
}

func TestValidateRejects(t *testing.T) {
	reg := schema.Workshop()

	tests := []struct {
		name string
		pred Predicate
		want string
	}{
		{"unknown attribute", Eq("title", value.String("x")), "unknown attribute"},
		{"unknown hop", Eq("artist.name", value.String("x")), "unknown relationship"},
		{"unknown attribute after hop", Eq("band.title", value.String("x")), "unknown attribute"},
		{"type mismatch", Eq("duration", value.String("long")), "does not match"},
		{"null literal", Eq("name", value.Null{}), "use IsNull"},
		{"string op on number", Compare{Path: "duration", Op: OpContains, Value: value.Float(1)}, "requires a string"},
		{"folding on number", Compare{Path: "duration", Op: OpEq, Value: value.Float(1), Options: Folded}, "folding"},
		{"bad operator", Compare{Path: "name", Op: "LIKE", Value: value.String("x")}, "unknown operator"},
		{"related to wrong entity", RelatedTo{Relationship: "band", ID: graph.NewObjectID("Playlist")}, "is not a Band"},
		{"subquery string op", Subquery{Relationship: "playlist", Op: OpContains, Count: 1}, "comparison operator"},
		{"nested", AllOf(Eq("name", value.String("x")), Not{Predicate: IsNull{Path: "nope"}}), "unknown attribute or relationship"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Validate(reg, "Song", tt.pred)
			require.Error(t, err)
			assert.True(t, schema.IsSchemaError(err))
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestNewFetchRequestDefaults(t *testing.T) {
	reg := schema.Workshop()

	r, err := NewFetchRequest(reg, "Song")
	require.NoError(t, err)
	assert.True(t, r.IncludesPendingChanges)
	assert.True(t, r.ReturnsObjectsAsFaults)

	r, err = NewFetchRequest(reg, "Song",
		Where(Eq("name", value.String("b"))),
		SortBy(Asc("name")),
		Limit(1),
		IncludePendingChanges(false),
		AsFaults(false),
		BatchSize(20),
		Prefetch("band"),
	)
	require.NoError(t, err)
	assert.False(t, r.IncludesPendingChanges)
	assert.Equal(t, 20, r.FetchBatchSize)
	assert.Equal(t, []string{"band"}, r.Prefetch)

	_, err = NewFetchRequest(reg, "Song", SortBy(Asc("band")))
	assert.ErrorContains(t, err, "unknown sort attribute")

	_, err = NewFetchRequest(reg, "Song", Prefetch("name"))
	assert.ErrorContains(t, err, "unknown prefetch relationship")

	_, err = NewFetchRequest(reg, "Album")
	assert.ErrorContains(t, err, "unknown entity")
}

func TestAggregate(t *testing.T) {
	reg := schema.Workshop()
	song := reg.MustEntity("Song")

	var records []Record
	for _, d := range []float64{100, 200, 300} {
		r := graph.NewRow(graph.NewObjectID("Song"))
		r.Attrs["duration"] = value.Float(d)
		records = append(records, r)
	}

	exprs := []Expression{
		{Name: "avg", Func: Avg, Attribute: "duration"},
		{Name: "sum", Func: Sum, Attribute: "duration"},
		{Name: "count", Func: Count},
		{Name: "min", Func: Min, Attribute: "duration"},
		{Name: "max", Func: Max, Attribute: "duration"},
	}
	require.NoError(t, AggregateRequest{Entity: "Song", Expressions: exprs}.Validate(reg))

	got, err := Aggregate(song, exprs, records)
	require.NoError(t, err)
	assert.Equal(t, value.Float(200), got["avg"])
	assert.Equal(t, value.Float(600), got["sum"])
	assert.Equal(t, value.Int(3), got["count"])
	assert.Equal(t, value.Float(100), got["min"])
	assert.Equal(t, value.Float(300), got["max"])

	empty, err := Aggregate(song, exprs, nil)
	require.NoError(t, err)
	assert.Equal(t, value.Int(0), empty["count"])
	assert.Equal(t, value.Null{}, empty["avg"])
	assert.Equal(t, value.Null{}, empty["sum"])
}

func TestAggregateRequestValidate(t *testing.T) {
	reg := schema.Workshop()

	err := AggregateRequest{Entity: "Song", Expressions: []Expression{{Name: "s", Func: Sum, Attribute: "name"}}}.Validate(reg)
	assert.ErrorContains(t, err, "numeric")

	err = AggregateRequest{Entity: "Song", Expressions: []Expression{{Name: "m", Func: "median", Attribute: "duration"}}}.Validate(reg)
	assert.ErrorContains(t, err, "unknown aggregate function")

	err = AggregateRequest{Entity: "Song", Expressions: []Expression{{Name: "a", Func: Count}, {Name: "a", Func: Count}}}.Validate(reg)
	assert.ErrorContains(t, err, "duplicate")
}

func TestBatchUpdateRequestValidate(t *testing.T) {
	reg := schema.Workshop()

	ok := BatchUpdateRequest{Entity: "Song", Where: Eq("name", value.String("b")), Set: map[string]value.Value{"name": value.String("Name is invalid")}}
	assert.NoError(t, ok.Validate(reg))

	null := BatchUpdateRequest{Entity: "Song", Set: map[string]value.Value{"name": value.Null{}}}
	assert.ErrorContains(t, null.Validate(reg), "cannot be set to null")

	empty := BatchUpdateRequest{Entity: "Song"}
	assert.ErrorContains(t, empty.Validate(reg), "assigns nothing")
}

func TestSortRecordsTiebreaksByID(t *testing.T) {
	a := graph.NewRow(graph.ObjectID{Entity: "Song", Key: "a"})
	b := graph.NewRow(graph.ObjectID{Entity: "Song", Key: "b"})
	c := graph.NewRow(graph.ObjectID{Entity: "Song", Key: "c"})
	a.Attrs["name"] = value.String("zed")
	b.Attrs["name"] = value.String("Alpha")
	c.Attrs["name"] = value.String("alpha")

	rows := []graph.Row{a, c, b}
	SortRecords(rows, []SortDescriptor{{Key: "name", Ascending: true, Options: Options{CaseInsensitive: true}}})
	assert.Equal(t, []string{"b", "c", "a"}, []string{rows[0].ID.Key, rows[1].ID.Key, rows[2].ID.Key})

	SortRecords(rows, []SortDescriptor{Desc("name")})
	assert.Equal(t, []string{"a", "c", "b"}, []string{rows[0].ID.Key, rows[1].ID.Key, rows[2].ID.Key})
}

func TestPage(t *testing.T) {
	items := []int{1, 2, 3, 4}
	assert.Equal(t, []int{2, 3}, Page(items, 1, 2))
	assert.Equal(t, []int{3, 4}, Page(items, 2, 0))
	assert.Nil(t, Page(items, 4, 1))
}

func TestStringRendering(t *testing.T) {
	pred := AnyOf(BeginsWith("name", "A", Folded), Not{Predicate: IsNull{Path: "band"}})
	assert.Equal(t, `(name BEGINSWITH[cd] "A" OR NOT (band == nil))`, String(pred))
}
