package graph

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/objgraph/internal/value"
)

func TestNewObjectID_Unique(t *testing.T) {
	a := NewObjectID("Song")
	b := NewObjectID("Song")
	assert.NotEqual(t, a, b)
	assert.Equal(t, "Song", a.Entity)
	assert.True(t, strings.HasPrefix(a.String(), "Song/"))
}

func TestParseObjectID_RoundTrip(t *testing.T) {
	id := NewObjectID("Band")
	parsed, err := ParseObjectID(id.String())
	require.NoError(t, err)
	assert.Equal(t, id, parsed)

	for _, bad := range []string{"", "Band", "/x", "Band/"} {
		_, err := ParseObjectID(bad)
		assert.Error(t, err, bad)
	}
}

func TestRowClone_IsDeep(t *testing.T) {
	target := NewObjectID("Band")
	r := NewRow(NewObjectID("Song"))
	r.Attrs["name"] = value.String("Alive")
	r.Links["band"] = []ObjectID{target}

	c := r.Clone()
	c.Attrs["name"] = value.String("Changed")
	c.Links["band"][0] = ObjectID{}

	assert.Equal(t, value.String("Alive"), r.Attr("name"))
	assert.Equal(t, target, r.Targets("band")[0])
	assert.Equal(t, value.Null{}, r.Attr("missing"))
}

func TestChangeSet_Counts(t *testing.T) {
	cs := ChangeSet{Changes: []Change{
		{Kind: ChangeInsert, ID: NewObjectID("Song")},
		{Kind: ChangeInsert, ID: NewObjectID("Song")},
		{Kind: ChangeUpdate, ID: NewObjectID("Band")},
		{Kind: ChangeDelete, ID: NewObjectID("Playlist")},
	}}
	ins, upd, del := cs.Counts()
	assert.Equal(t, 2, ins)
	assert.Equal(t, 1, upd)
	assert.Equal(t, 1, del)
	assert.Len(t, cs.IDs(), 4)
	assert.True(t, ChangeSet{}.IsEmpty())
}
