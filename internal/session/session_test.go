package session

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/objgraph/internal/graph"
	"github.com/roach88/objgraph/internal/query"
	"github.com/roach88/objgraph/internal/schema"
	"github.com/roach88/objgraph/internal/store"
	"github.com/roach88/objgraph/internal/value"
)

func createTestCoordinator(t *testing.T) *Coordinator {
	t.Helper()
	return createTestCoordinatorWith(t, schema.Workshop())
}

func createTestCoordinatorWith(t *testing.T, reg *schema.Registry) *Coordinator {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "objgraph.db"), reg)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return NewCoordinator(st)
}

func newBand(t *testing.T, s *Session, name string) *Instance {
	t.Helper()
	b, err := s.Create("Band")
	require.NoError(t, err)
	require.NoError(t, b.Set("name", value.String(name)))
	return b
}

func newSong(t *testing.T, s *Session, name string, duration float64, band *Instance) *Instance {
	t.Helper()
	song, err := s.Create("Song")
	require.NoError(t, err)
	require.NoError(t, song.Set("name", value.String(name)))
	require.NoError(t, song.Set("duration", value.Float(duration)))
	if band != nil {
		require.NoError(t, song.SetRelated("band", band))
	}
	return song
}

func fetch(t *testing.T, s *Session, entity string, opts ...query.FetchOption) []*Instance {
	t.Helper()
	out, err := s.Fetch(context.Background(), query.MustFetchRequest(s.Registry(), entity, opts...))
	require.NoError(t, err)
	return out
}

func names(insts []*Instance) []string {
	out := make([]string, len(insts))
	for i, inst := range insts {
		out[i] = string(inst.Get("name").(value.String))
	}
	return out
}

func ids(insts []*Instance) []graph.ObjectID {
	out := make([]graph.ObjectID, len(insts))
	for i, inst := range insts {
		out[i] = inst.ID()
	}
	return out
}

// workshop is a saved library: Beatles with three songs, Björk with one.
type workshop struct {
	beatles, bjork         *Instance
	yesterday, help, abbey *Instance
	joga                   *Instance
}

func seedWorkshop(t *testing.T, s *Session) workshop {
	t.Helper()
	var w workshop
	w.beatles = newBand(t, s, "Beatles")
	w.bjork = newBand(t, s, "Björk")
	w.yesterday = newSong(t, s, "Yesterday", 100, w.beatles)
	w.help = newSong(t, s, "Help!", 200, w.beatles)
	w.abbey = newSong(t, s, "Abbey Road", 300, w.beatles)
	w.joga = newSong(t, s, "Jóga", 400, w.bjork)
	require.NoError(t, s.Save(context.Background()))
	return w
}

func TestCreateAppliesDefaults(t *testing.T) {
	c := createTestCoordinator(t)
	s := c.NewSession()

	b, err := s.Create("Band")
	require.NoError(t, err)
	assert.Equal(t, value.String("Unknown"), b.Get("name"))
	assert.True(t, b.IsInserted())
	assert.True(t, b.IsDirty())
	assert.False(t, b.IsFault())

	song, err := s.Create("Song")
	require.NoError(t, err)
	assert.Equal(t, value.Float(0), song.Get("duration"))
	assert.Equal(t, value.Null{}, song.Get("name"))

	_, err = s.Create("Album")
	assert.True(t, schema.IsSchemaError(err))
}

func TestSetChecksTypes(t *testing.T) {
	c := createTestCoordinator(t)
	s := c.NewSession()
	song, err := s.Create("Song")
	require.NoError(t, err)

	require.NoError(t, song.Set("duration", value.Int(3)))
	assert.Equal(t, value.Float(3), song.Get("duration"))

	assert.True(t, schema.IsSchemaError(song.Set("duration", value.String("long"))))
	assert.True(t, schema.IsSchemaError(song.Set("tempo", value.Int(120))))
}

func TestSaveAndFetchFromNewSession(t *testing.T) {
	c := createTestCoordinator(t)
	ctx := context.Background()
	s := c.NewSession()
	w := seedWorkshop(t, s)

	assert.False(t, s.HasChanges())
	assert.False(t, w.help.IsDirty())
	assert.Equal(t, c.Store().Version(), w.help.Version())

	other := c.NewSession()
	songs := fetch(t, other, "Song", query.SortBy(query.Asc("name")))
	assert.Equal(t, []string{"Abbey Road", "Help!", "Jóga", "Yesterday"}, names(songs))

	band := songs[0].Related("band")
	require.NotNil(t, band)
	assert.Equal(t, w.beatles.ID(), band.ID())
	assert.Equal(t, value.String("Beatles"), band.Get("name"))
	assert.Len(t, band.RelatedSet("songs"), 3)

	n, err := other.Count(ctx, query.MustFetchRequest(c.Registry(), "Song"))
	require.NoError(t, err)
	assert.Equal(t, 4, n)
}

func TestUniquing(t *testing.T) {
	c := createTestCoordinator(t)
	w := seedWorkshop(t, c.NewSession())
	s := c.NewSession()

	first := fetch(t, s, "Song", query.SortBy(query.Asc("name")))
	second := fetch(t, s, "Song", query.SortBy(query.Asc("name")), query.AsFaults(false))
	require.Len(t, second, len(first))
	for i := range first {
		assert.Same(t, first[i], second[i])
	}

	obj, err := s.Object(w.help.ID())
	require.NoError(t, err)
	assert.Same(t, first[1], obj)

	band := first[1].Related("band")
	assert.Same(t, band, first[0].Related("band"))
}

func TestSaveValidation(t *testing.T) {
	c := createTestCoordinator(t)
	ctx := context.Background()
	s := c.NewSession()

	orphan, err := s.Create("Song")
	require.NoError(t, err)
	err = s.Save(ctx)
	require.Error(t, err)
	require.True(t, IsValidationError(err))

	var ve *ValidationError
	require.ErrorAs(t, err, &ve)
	fields := map[string]bool{}
	for _, v := range ve.Violations {
		assert.Equal(t, orphan.ID(), v.ID)
		fields[v.Field] = true
	}
	assert.Equal(t, map[string]bool{"name": true, "band": true}, fields)

	assert.Equal(t, StateActiveWithError, s.State())
	assert.Same(t, err, s.LastError())
	assert.True(t, s.HasChanges())
	assert.Equal(t, int64(0), c.Store().Version())

	require.NoError(t, orphan.Set("name", value.String("Untitled")))
	require.NoError(t, orphan.SetRelated("band", newBand(t, s, "Nobody")))
	require.NoError(t, s.Save(ctx))
	assert.Equal(t, StateActive, s.State())
	assert.NoError(t, s.LastError())
}

func TestSaveWithoutChangesIsNoop(t *testing.T) {
	c := createTestCoordinator(t)
	ctx := context.Background()
	s := c.NewSession()
	seedWorkshop(t, s)

	version := c.Store().Version()
	require.NoError(t, s.Save(ctx))
	require.NoError(t, s.Save(ctx))
	assert.Equal(t, version, c.Store().Version())
}

func TestUpdatePersists(t *testing.T) {
	c := createTestCoordinator(t)
	ctx := context.Background()
	s := c.NewSession()
	w := seedWorkshop(t, s)

	require.NoError(t, w.help.Set("duration", value.Float(222)))
	assert.True(t, w.help.IsDirty())
	require.NoError(t, w.help.Set("duration", value.Float(222)))
	require.NoError(t, s.Save(ctx))

	other := c.NewSession()
	got, err := other.ExistingObject(ctx, w.help.ID())
	require.NoError(t, err)
	assert.Equal(t, value.Float(222), got.Get("duration"))
}

func TestInverseMaintenance(t *testing.T) {
	c := createTestCoordinator(t)
	ctx := context.Background()
	s := c.NewSession()
	w := seedWorkshop(t, s)

	require.NoError(t, w.help.SetRelated("band", w.bjork))
	assert.Equal(t, []graph.ObjectID{w.bjork.ID()}, w.help.RelatedIDs("band"))
	assert.NotContains(t, w.beatles.RelatedIDs("songs"), w.help.ID())
	assert.Contains(t, w.bjork.RelatedIDs("songs"), w.help.ID())
	assert.True(t, w.beatles.IsDirty())
	assert.True(t, w.bjork.IsDirty())

	list, err := s.Create("Playlist")
	require.NoError(t, err)
	require.NoError(t, list.Set("name", value.String("Mix")))
	require.NoError(t, list.AddRelated("songs", w.help))
	require.NoError(t, list.AddRelated("songs", w.joga))
	require.NoError(t, list.AddRelated("songs", w.joga))
	assert.Same(t, list, w.help.Related("playlist"))
	assert.Len(t, list.RelatedSet("songs"), 2)

	require.NoError(t, w.joga.SetRelated("playlist", nil))
	assert.Equal(t, []graph.ObjectID{w.help.ID()}, list.RelatedIDs("songs"))

	require.NoError(t, list.RemoveRelated("songs", w.help))
	assert.Empty(t, list.RelatedIDs("songs"))
	assert.Nil(t, w.help.Related("playlist"))

	require.NoError(t, s.Save(ctx))
	other := c.NewSession()
	bjork, err := other.ExistingObject(ctx, w.bjork.ID())
	require.NoError(t, err)
	assert.ElementsMatch(t, []graph.ObjectID{w.joga.ID(), w.help.ID()}, bjork.RelatedIDs("songs"))
}

func TestForeignInstance(t *testing.T) {
	c := createTestCoordinator(t)
	ctx := context.Background()
	a := c.NewSession()
	b := c.NewSession()

	band := newBand(t, a, "A")
	song, err := b.Create("Song")
	require.NoError(t, err)

	assert.ErrorIs(t, song.SetRelated("band", band), ErrForeignInstance)
	assert.ErrorIs(t, b.Delete(ctx, band), ErrForeignInstance)
}

func TestRelationshipTargetMustMatch(t *testing.T) {
	c := createTestCoordinator(t)
	s := c.NewSession()
	song, err := s.Create("Song")
	require.NoError(t, err)
	other, err := s.Create("Song")
	require.NoError(t, err)

	assert.True(t, schema.IsSchemaError(song.SetRelated("band", other)))
	assert.True(t, schema.IsSchemaError(song.SetRelated("album", other)))
}

func TestDeleteBandWithSongsFails(t *testing.T) {
	c := createTestCoordinator(t)
	ctx := context.Background()
	s := c.NewSession()
	w := seedWorkshop(t, s)

	err := s.Delete(ctx, w.beatles)
	require.Error(t, err)
	assert.True(t, IsReferentialIntegrityError(err))

	var re *ReferentialIntegrityError
	require.ErrorAs(t, err, &re)
	assert.Equal(t, w.beatles.ID(), re.ID)
	assert.Equal(t, "band", re.Relationship)

	assert.False(t, w.beatles.IsDeleted())
	assert.False(t, s.HasChanges())
	assert.Len(t, w.beatles.RelatedIDs("songs"), 3)
	assert.Equal(t, w.beatles, w.help.Related("band"))
}

func TestDeleteBandAfterMovingSongs(t *testing.T) {
	c := createTestCoordinator(t)
	ctx := context.Background()
	s := c.NewSession()
	w := seedWorkshop(t, s)

	require.NoError(t, s.Delete(ctx, w.joga))
	require.NoError(t, s.Delete(ctx, w.bjork))
	assert.True(t, w.bjork.IsDeleted())
	require.NoError(t, s.Save(ctx))

	other := c.NewSession()
	n, err := other.Count(ctx, query.MustFetchRequest(c.Registry(), "Band"))
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	_, err = other.ExistingObject(ctx, w.joga.ID())
	assert.ErrorIs(t, err, ErrObjectNotFound)
}

func TestDeletePlaylistNullifiesSongs(t *testing.T) {
	c := createTestCoordinator(t)
	ctx := context.Background()
	s := c.NewSession()
	w := seedWorkshop(t, s)

	list, err := s.Create("Playlist")
	require.NoError(t, err)
	require.NoError(t, list.Set("name", value.String("Mix")))
	require.NoError(t, list.AddRelated("songs", w.help))
	require.NoError(t, list.AddRelated("songs", w.yesterday))
	require.NoError(t, s.Save(ctx))

	require.NoError(t, s.Delete(ctx, list))
	assert.Nil(t, w.help.Related("playlist"))
	assert.Nil(t, w.yesterday.Related("playlist"))
	require.NoError(t, s.Save(ctx))

	other := c.NewSession()
	help, err := other.ExistingObject(ctx, w.help.ID())
	require.NoError(t, err)
	assert.Empty(t, help.RelatedIDs("playlist"))
	assert.Equal(t, value.String("Help!"), help.Get("name"))
}

func TestDeleteSongLeavesBand(t *testing.T) {
	c := createTestCoordinator(t)
	ctx := context.Background()
	s := c.NewSession()
	w := seedWorkshop(t, s)

	require.NoError(t, s.Delete(ctx, w.help))
	assert.NotContains(t, w.beatles.RelatedIDs("songs"), w.help.ID())
	require.NoError(t, s.Save(ctx))

	songs := fetch(t, c.NewSession(), "Song", query.SortBy(query.Asc("name")))
	assert.Equal(t, []string{"Abbey Road", "Jóga", "Yesterday"}, names(songs))
}

func TestInsertThenDeleteLeavesNothing(t *testing.T) {
	c := createTestCoordinator(t)
	ctx := context.Background()
	s := c.NewSession()

	b := newBand(t, s, "Ephemeral")
	require.NoError(t, s.Delete(ctx, b))
	assert.False(t, s.HasChanges())
	require.NoError(t, s.Save(ctx))
	assert.Equal(t, int64(0), c.Store().Version())
	assert.Equal(t, 0, s.Len())
}

func libraryRegistry(t *testing.T) *schema.Registry {
	t.Helper()
	reg := schema.NewRegistry()
	_, err := reg.Declare("Shelf", schema.Attribute{Name: "name", Type: value.TypeString})
	require.NoError(t, err)
	_, err = reg.Declare("Book", schema.Attribute{Name: "title", Type: value.TypeString})
	require.NoError(t, err)
	_, err = reg.Declare("Loan", schema.Attribute{Name: "who", Type: value.TypeString})
	require.NoError(t, err)
	_, err = reg.Declare("Note", schema.Attribute{Name: "text", Type: value.TypeString})
	require.NoError(t, err)

	require.NoError(t, reg.Bind("Shelf",
		schema.Relationship{Name: "books", Target: "Book", Optional: true, DeleteRule: schema.Cascade, Inverse: "shelf"},
	))
	require.NoError(t, reg.Bind("Book",
		schema.Relationship{Name: "shelf", Target: "Shelf", MinCount: 1, MaxCount: 1, Inverse: "books"},
		schema.Relationship{Name: "loans", Target: "Loan", Optional: true, DeleteRule: schema.Deny, Inverse: "book"},
	))
	require.NoError(t, reg.Bind("Loan",
		schema.Relationship{Name: "book", Target: "Book", MaxCount: 1, Optional: true, Inverse: "loans"},
	))
	require.NoError(t, reg.Bind("Note",
		schema.Relationship{Name: "about", Target: "Book", MaxCount: 1, Optional: true},
	))
	require.NoError(t, reg.Seal())
	return reg
}

func TestCascadeAndDenyRules(t *testing.T) {
	c := createTestCoordinatorWith(t, libraryRegistry(t))
	ctx := context.Background()
	s := c.NewSession()

	create := func(entity, attr, text string) *Instance {
		inst, err := s.Create(entity)
		require.NoError(t, err)
		require.NoError(t, inst.Set(attr, value.String(text)))
		return inst
	}
	shelf := create("Shelf", "name", "fiction")
	dune := create("Book", "title", "Dune")
	emma := create("Book", "title", "Emma")
	require.NoError(t, dune.SetRelated("shelf", shelf))
	require.NoError(t, emma.SetRelated("shelf", shelf))
	loan := create("Loan", "who", "ada")
	require.NoError(t, loan.SetRelated("book", emma))
	note := create("Note", "text", "read twice")
	require.NoError(t, note.SetRelated("about", dune))
	require.NoError(t, s.Save(ctx))

	t.Run("deny blocks the cascade", func(t *testing.T) {
		err := s.Delete(ctx, shelf)
		require.True(t, IsReferentialIntegrityError(err))
		var re *ReferentialIntegrityError
		require.ErrorAs(t, err, &re)
		assert.Equal(t, emma.ID(), re.ID)
		assert.Equal(t, "loans", re.Relationship)
		assert.False(t, shelf.IsDeleted())
		assert.False(t, dune.IsDeleted())
		assert.False(t, s.HasChanges())
	})

	t.Run("cascade deletes books and nullifies references without inverse", func(t *testing.T) {
		require.NoError(t, s.Delete(ctx, loan))
		require.NoError(t, s.Delete(ctx, shelf))
		assert.True(t, dune.IsDeleted())
		assert.True(t, emma.IsDeleted())
		assert.Empty(t, note.RelatedIDs("about"))
		require.NoError(t, s.Save(ctx))

		other := c.NewSession()
		n, err := other.Count(ctx, query.MustFetchRequest(c.Registry(), "Book"))
		require.NoError(t, err)
		assert.Equal(t, 0, n)
		kept, err := other.ExistingObject(ctx, note.ID())
		require.NoError(t, err)
		assert.Empty(t, kept.RelatedIDs("about"))
	})
}

func TestIncludesPendingChanges(t *testing.T) {
	c := createTestCoordinator(t)
	ctx := context.Background()
	s := c.NewSession()
	w := seedWorkshop(t, s)

	newSong(t, s, "Blackbird", 150, w.beatles)
	require.NoError(t, w.yesterday.Set("name", value.String("Tomorrow")))
	require.NoError(t, s.Delete(ctx, w.help))

	pending := fetch(t, s, "Song", query.SortBy(query.Asc("name")))
	assert.Equal(t, []string{"Abbey Road", "Blackbird", "Jóga", "Tomorrow"}, names(pending))

	saved, err := s.FetchIDs(ctx, query.MustFetchRequest(c.Registry(), "Song",
		query.SortBy(query.Asc("name")),
		query.IncludePendingChanges(false),
	))
	require.NoError(t, err)
	assert.Equal(t, []graph.ObjectID{w.abbey.ID(), w.help.ID(), w.joga.ID(), w.yesterday.ID()}, saved)

	beatles := query.Eq("band.name", value.String("Beatles"))
	n, err := s.Count(ctx, query.MustFetchRequest(c.Registry(), "Song", query.Where(beatles)))
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	n, err = s.Count(ctx, query.MustFetchRequest(c.Registry(), "Song", query.Where(beatles), query.IncludePendingChanges(false)))
	require.NoError(t, err)
	assert.Equal(t, 3, n)
}

func TestPendingAndStoreEvaluationAgree(t *testing.T) {
	c := createTestCoordinator(t)
	ctx := context.Background()
	s := c.NewSession()
	seedWorkshop(t, s)

	preds := []query.Predicate{
		query.AnyOf(
			query.BeginsWith("name", "a", query.Folded),
			query.BeginsWith("name", "j", query.Folded),
		),
		query.Not{Predicate: query.Eq("band.name", value.String("Björk"))},
		query.Compare{Path: "duration", Op: query.OpGe, Value: value.Int(200)},
		query.Subquery{Relationship: "songs", Op: query.OpGe, Count: 2},
	}
	for _, pred := range preds {
		t.Run(query.String(pred), func(t *testing.T) {
			entity := "Song"
			if _, ok := pred.(query.Subquery); ok {
				entity = "Band"
			}
			r := query.MustFetchRequest(c.Registry(), entity, query.Where(pred), query.SortBy(query.Asc("name")))

			fromStore, err := s.FetchIDs(ctx, r)
			require.NoError(t, err)

			// An unrelated unsaved playlist forces in-memory evaluation.
			list, err := s.Create("Playlist")
			require.NoError(t, err)
			require.NoError(t, list.Set("name", value.String("scratch")))
			fromMemory, err := s.FetchIDs(ctx, r)
			require.NoError(t, err)
			require.NoError(t, s.Delete(ctx, list))

			assert.Equal(t, fromStore, fromMemory)
		})
	}
}

func TestAggregates(t *testing.T) {
	c := createTestCoordinator(t)
	ctx := context.Background()
	s := c.NewSession()
	w := seedWorkshop(t, s)

	req := query.AggregateRequest{
		Entity: "Song",
		Where:  query.RelatedTo{Relationship: "band", ID: w.beatles.ID()},
		Expressions: []query.Expression{
			{Name: "n", Func: query.Count},
			{Name: "total", Func: query.Sum, Attribute: "duration"},
			{Name: "mean", Func: query.Avg, Attribute: "duration"},
			{Name: "shortest", Func: query.Min, Attribute: "duration"},
			{Name: "longest", Func: query.Max, Attribute: "duration"},
		},
		IncludesPendingChanges: true,
	}
	got, err := s.Aggregate(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, map[string]value.Value{
		"n":        value.Int(3),
		"total":    value.Float(600),
		"mean":     value.Float(200),
		"shortest": value.Float(100),
		"longest":  value.Float(300),
	}, got)

	newSong(t, s, "Blackbird", 400, w.beatles)
	got, err = s.Aggregate(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, value.Int(4), got["n"])
	assert.Equal(t, value.Float(1000), got["total"])

	req.IncludesPendingChanges = false
	got, err = s.Aggregate(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, value.Int(3), got["n"])

	req.Where = query.Eq("name", value.String("nothing"))
	got, err = s.Aggregate(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, value.Int(0), got["n"])
	assert.Equal(t, value.Null{}, got["total"])
}

func TestFetchProperties(t *testing.T) {
	c := createTestCoordinator(t)
	ctx := context.Background()
	s := c.NewSession()
	seedWorkshop(t, s)

	other := c.NewSession()
	rows, err := other.FetchProperties(ctx, query.MustFetchRequest(c.Registry(), "Song",
		query.SortBy(query.Desc("duration")),
		query.Limit(2),
	), "name")
	require.NoError(t, err)
	assert.Equal(t, []map[string]value.Value{
		{"name": value.String("Jóga")},
		{"name": value.String("Abbey Road")},
	}, rows)
	assert.Equal(t, 0, other.Len())

	_, err = other.FetchProperties(ctx, query.MustFetchRequest(c.Registry(), "Song"), "tempo")
	assert.True(t, schema.IsSchemaError(err))
}

func TestFaultsFireInBatches(t *testing.T) {
	c := createTestCoordinator(t)
	seedWorkshop(t, c.NewSession())
	s := c.NewSession()

	songs := fetch(t, s, "Song", query.SortBy(query.Asc("name")), query.BatchSize(2))
	require.Len(t, songs, 4)
	for _, song := range songs {
		assert.True(t, song.IsFault())
	}

	assert.Equal(t, value.String("Abbey Road"), songs[0].Get("name"))
	assert.False(t, songs[0].IsFault())
	assert.False(t, songs[1].IsFault())
	assert.True(t, songs[2].IsFault())
	assert.True(t, songs[3].IsFault())

	assert.Equal(t, value.String("Yesterday"), songs[3].Get("name"))
	assert.False(t, songs[2].IsFault())
}

func TestFaultWithoutBatchFiresAlone(t *testing.T) {
	c := createTestCoordinator(t)
	seedWorkshop(t, c.NewSession())
	s := c.NewSession()

	songs := fetch(t, s, "Song", query.SortBy(query.Asc("name")))
	require.NoError(t, songs[1].Fire(context.Background()))
	assert.True(t, songs[0].IsFault())
	assert.False(t, songs[1].IsFault())
}

func TestPrefetch(t *testing.T) {
	c := createTestCoordinator(t)
	w := seedWorkshop(t, c.NewSession())
	s := c.NewSession()

	songs := fetch(t, s, "Song", query.Prefetch("band"))
	require.Len(t, songs, 4)
	for _, song := range songs {
		assert.False(t, song.IsFault())
	}
	for _, id := range []graph.ObjectID{w.beatles.ID(), w.bjork.ID()} {
		band, err := s.Object(id)
		require.NoError(t, err)
		assert.False(t, band.IsFault(), "band %s", id)
	}
}

func TestObjectAndExistingObject(t *testing.T) {
	c := createTestCoordinator(t)
	ctx := context.Background()
	w := seedWorkshop(t, c.NewSession())
	s := c.NewSession()

	f, err := s.Object(w.help.ID())
	require.NoError(t, err)
	assert.True(t, f.IsFault())
	assert.Equal(t, value.String("Help!"), f.Get("name"))

	missing := graph.NewObjectID("Song")
	ghost, err := s.Object(missing)
	require.NoError(t, err)
	assert.Equal(t, value.Null{}, ghost.Get("name"))
	assert.ErrorIs(t, ghost.Err(), ErrObjectNotFound)

	_, err = s.ExistingObject(ctx, graph.NewObjectID("Band"))
	assert.ErrorIs(t, err, ErrObjectNotFound)

	_, err = s.Object(graph.ObjectID{Entity: "Album", Key: "x"})
	assert.ErrorIs(t, err, ErrObjectNotFound)
}

func TestRefreshOnNewerVersion(t *testing.T) {
	c := createTestCoordinator(t)
	ctx := context.Background()
	w := seedWorkshop(t, c.NewSession())

	a := c.NewSession()
	song, err := a.ExistingObject(ctx, w.help.ID())
	require.NoError(t, err)
	assert.Equal(t, value.Float(200), song.Get("duration"))

	b := c.NewSession()
	theirs, err := b.ExistingObject(ctx, w.help.ID())
	require.NoError(t, err)
	require.NoError(t, theirs.Set("duration", value.Float(210)))
	require.NoError(t, b.Save(ctx))

	assert.Equal(t, value.Float(200), song.Get("duration"))
	again := fetch(t, a, "Song", query.Where(query.Eq("name", value.String("Help!"))), query.AsFaults(false))
	require.Len(t, again, 1)
	assert.Same(t, song, again[0])
	assert.Equal(t, value.Float(210), song.Get("duration"))
}

func TestDirtyInstanceIsNotRefreshed(t *testing.T) {
	c := createTestCoordinator(t)
	ctx := context.Background()
	w := seedWorkshop(t, c.NewSession())

	a := c.NewSession()
	song, err := a.ExistingObject(ctx, w.help.ID())
	require.NoError(t, err)
	require.NoError(t, song.Set("duration", value.Float(1)))

	b := c.NewSession()
	theirs, err := b.ExistingObject(ctx, w.help.ID())
	require.NoError(t, err)
	require.NoError(t, theirs.Set("duration", value.Float(2)))
	require.NoError(t, b.Save(ctx))

	fetch(t, a, "Song", query.AsFaults(false))
	assert.Equal(t, value.Float(1), song.Get("duration"))
}

func TestRollback(t *testing.T) {
	c := createTestCoordinator(t)
	ctx := context.Background()
	s := c.NewSession()
	w := seedWorkshop(t, s)

	added := newSong(t, s, "Blackbird", 150, w.beatles)
	require.NoError(t, w.help.Set("name", value.String("Help")))
	require.NoError(t, s.Delete(ctx, w.joga))

	s.Rollback()
	assert.False(t, s.HasChanges())
	assert.Equal(t, value.String("Help!"), w.help.Get("name"))
	assert.False(t, w.joga.IsDeleted())
	assert.Len(t, w.beatles.RelatedIDs("songs"), 3)

	songs := fetch(t, s, "Song")
	assert.NotContains(t, ids(songs), added.ID())
	require.NoError(t, s.Save(ctx))
}
