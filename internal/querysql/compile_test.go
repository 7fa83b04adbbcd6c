package querysql

import (
	"fmt"
	"strings"
	"testing"

	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/objgraph/internal/query"
	"github.com/roach88/objgraph/internal/schema"
	"github.com/roach88/objgraph/internal/value"
)

// render prints a statement followed by one line per bound argument.
func render(st Statement) []byte {
	var sb strings.Builder
	sb.WriteString(st.SQL)
	sb.WriteByte('\n')
	for i, a := range st.Args {
		fmt.Fprintf(&sb, "-- $%d = %#v\n", i+1, a)
	}
	return []byte(sb.String())
}

func assertGolden(t *testing.T, name string, st Statement) {
	t.Helper()
	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, name, render(st))
}

func TestCompileGolden(t *testing.T) {
	reg := schema.Workshop()
	c := New(reg)

	t.Run("fetch_all", func(t *testing.T) {
		st, err := c.Fetch(query.MustFetchRequest(reg, "Song"))
		require.NoError(t, err)
		assertGolden(t, "fetch_all", st)
	})

	t.Run("fetch_sorted_limit", func(t *testing.T) {
		st, err := c.Fetch(query.MustFetchRequest(reg, "Song",
			query.Where(query.Eq("name", value.String("b"))),
			query.SortBy(
				query.SortDescriptor{Key: "name", Ascending: true, Options: query.Options{CaseInsensitive: true}},
				query.Desc("duration"),
			),
			query.Limit(10),
			query.Offset(5),
		))
		require.NoError(t, err)
		assertGolden(t, "fetch_sorted_limit", st)
	})

	t.Run("playlist_ids", func(t *testing.T) {
		st, err := c.IDs("Song", query.AnyOf(
			query.BeginsWith("name", "A", query.Folded),
			query.BeginsWith("name", "B", query.Folded),
		))
		require.NoError(t, err)
		assertGolden(t, "playlist_ids", st)
	})

	t.Run("relationship_count", func(t *testing.T) {
		st, err := c.Count("Song", query.AllOf(
			query.Eq("band.name", value.String("Beatles")),
			query.Not{Predicate: query.IsNull{Path: "playlist"}},
		))
		require.NoError(t, err)
		assertGolden(t, "relationship_count", st)
	})

	t.Run("subquery_ids", func(t *testing.T) {
		st, err := c.IDs("Band", query.Subquery{
			Relationship: "songs",
			Where:        query.Compare{Path: "duration", Op: query.OpGe, Value: value.Int(250)},
			Op:           query.OpGe,
			Count:        2,
		})
		require.NoError(t, err)
		assertGolden(t, "subquery_ids", st)
	})

	t.Run("aggregate", func(t *testing.T) {
		st, err := c.Aggregate(query.AggregateRequest{
			Entity: "Song",
			Expressions: []query.Expression{
				{Name: "avg", Func: query.Avg, Attribute: "duration"},
				{Name: "sum", Func: query.Sum, Attribute: "duration"},
				{Name: "count", Func: query.Count},
			},
		})
		require.NoError(t, err)
		assertGolden(t, "aggregate", st)
	})

	t.Run("batch_update", func(t *testing.T) {
		st, err := c.BatchUpdate(query.BatchUpdateRequest{
			Entity: "Song",
			Where:  query.Eq("name", value.String("b")),
			Set:    map[string]value.Value{"name": value.String("Name is invalid")},
		}, 7)
		require.NoError(t, err)
		assertGolden(t, "batch_update", st)
	})

	t.Run("ne_endswith", func(t *testing.T) {
		st, err := c.IDs("Song", query.AllOf(
			query.Compare{Path: "name", Op: query.OpNe, Value: value.String("x")},
			query.Compare{Path: "name", Op: query.OpEndsWith, Value: value.String("er"), Options: query.Options{CaseInsensitive: true}},
		))
		require.NoError(t, err)
		assertGolden(t, "ne_endswith", st)
	})
}

func TestCompileAlwaysOrders(t *testing.T) {
	reg := schema.Workshop()
	c := New(reg)

	st, err := c.Fetch(query.MustFetchRequest(reg, "Band", query.SortBy(query.Asc("name"))))
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(st.SQL, "ORDER BY json_extract(o.attrs, '$.name') ASC, o.id COLLATE BINARY ASC"))
}

func TestCompileNeverInterpolatesLiterals(t *testing.T) {
	reg := schema.Workshop()
	c := New(reg)

	evil := "'; DROP TABLE objects; --"
	st, err := c.IDs("Song", query.Eq("name", value.String(evil)))
	require.NoError(t, err)
	assert.NotContains(t, st.SQL, "DROP")
	assert.Contains(t, st.Args, evil)
}

func TestCompileRejectsInvalidPredicates(t *testing.T) {
	c := New(schema.Workshop())

	_, err := c.IDs("Song", query.Eq("artist", value.String("x")))
	require.Error(t, err)
	assert.True(t, schema.IsSchemaError(err))

	_, err = c.Count("Nope", nil)
	assert.Error(t, err)
}

func TestFetchKeysSelectsIDAndVersion(t *testing.T) {
	reg := schema.Workshop()
	st, err := New(reg).FetchKeys(query.MustFetchRequest(reg, "Song", query.SortBy(query.Asc("name"))))
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(st.SQL, "SELECT o.id, o.version FROM objects o WHERE o.entity = ?"))
	assert.True(t, strings.HasSuffix(st.SQL, "o.id COLLATE BINARY ASC"))
}

func TestOffsetWithoutLimit(t *testing.T) {
	reg := schema.Workshop()
	st, err := New(reg).Fetch(query.MustFetchRequest(reg, "Song", query.Offset(3)))
	require.NoError(t, err)
	assert.Contains(t, st.SQL, "LIMIT -1 OFFSET ?")
	assert.Equal(t, []any{"Song", int64(3)}, st.Args)
}

func TestLinksFor(t *testing.T) {
	assert.Equal(t,
		"SELECT source_id, name, target_id FROM links WHERE source_id IN (?, ?) ORDER BY source_id COLLATE BINARY ASC, name ASC, position ASC",
		LinksFor(2))
	assert.Equal(t,
		"SELECT source_id, name, target_id FROM links WHERE target_id IN (?) ORDER BY source_id COLLATE BINARY ASC, name ASC, target_id ASC",
		InverseLinksFor(1))
	assert.Contains(t, RowsFor(0), "IN (NULL)")
}
