package bootstrap

import (
	"context"
	"fmt"
	"slices"

	"go.uber.org/zap"

	"github.com/roach88/objgraph/internal/graph"
	"github.com/roach88/objgraph/internal/query"
	"github.com/roach88/objgraph/internal/session"
	"github.com/roach88/objgraph/internal/value"
)

// PlaylistName is the name of the playlist Import fills.
const PlaylistName = "A and B playlist"

// Result summarises an import.
type Result struct {
	Songs    int            `json:"songs"`
	Bands    int            `json:"bands"`
	Reused   int            `json:"reused_bands"`
	Skipped  int            `json:"skipped"`
	Playlist PlaylistResult `json:"playlist"`
}

// PlaylistResult describes the playlist after an import.
type PlaylistResult struct {
	ID      graph.ObjectID `json:"id"`
	Created bool           `json:"created"`
	Songs   int            `json:"songs"`
}

// Option configures Import.
type Option func(*importer)

// WithLogger sets the logger. The default discards everything.
func WithLogger(log *zap.Logger) Option {
	return func(im *importer) {
		if log != nil {
			im.log = log
		}
	}
}

type importer struct {
	s     *session.Session
	log   *zap.Logger
	bands map[string]*session.Instance
	res   Result
}

// Import creates the songs of records in s, saves, and then fills the
// playlist. Records without a title or artist id are skipped. Bands are
// looked up by artist id among the session's visible objects first.
func Import(ctx context.Context, s *session.Session, records []Record, opts ...Option) (Result, error) {
	im := &importer{
		s:     s,
		log:   zap.NewNop(),
		bands: make(map[string]*session.Instance),
	}
	for _, opt := range opts {
		opt(im)
	}

	for i, rec := range records {
		rec = rec.Normalize()
		if rec.Title == "" || rec.ArtistID == "" {
			im.log.Warn("skipping record", zap.Int("index", i), zap.String("song_id", rec.SongID))
			im.res.Skipped++
			continue
		}
		if err := im.add(ctx, rec); err != nil {
			return im.res, fmt.Errorf("record %d: %w", i, err)
		}
	}
	if err := s.Save(ctx); err != nil {
		return im.res, fmt.Errorf("save songs: %w", err)
	}

	pl, err := PopulatePlaylist(ctx, s)
	if err != nil {
		return im.res, err
	}
	im.res.Playlist = pl
	im.log.Info("bootstrap complete",
		zap.Int("songs", im.res.Songs),
		zap.Int("bands", im.res.Bands),
		zap.Int("skipped", im.res.Skipped),
		zap.Int("playlist_songs", pl.Songs),
	)
	return im.res, nil
}

func (im *importer) add(ctx context.Context, rec Record) error {
	band, err := im.band(ctx, rec)
	if err != nil {
		return err
	}
	song, err := im.s.Create("Song")
	if err != nil {
		return err
	}
	if rec.SongID != "" {
		if err := song.Set("id", value.String(rec.SongID)); err != nil {
			return err
		}
	}
	if err := song.Set("name", value.String(rec.Title)); err != nil {
		return err
	}
	if err := song.Set("duration", value.Float(rec.Duration)); err != nil {
		return err
	}
	if err := song.SetRelated("band", band); err != nil {
		return err
	}
	im.res.Songs++
	return nil
}

func (im *importer) band(ctx context.Context, rec Record) (*session.Instance, error) {
	if b, ok := im.bands[rec.ArtistID]; ok {
		return b, nil
	}

	req, err := query.NewFetchRequest(im.s.Registry(), "Band",
		query.Where(query.Eq("id", value.String(rec.ArtistID))),
		query.Limit(1),
	)
	if err != nil {
		return nil, err
	}
	found, err := im.s.Fetch(ctx, req)
	if err != nil {
		return nil, err
	}
	if len(found) > 0 {
		im.bands[rec.ArtistID] = found[0]
		im.res.Reused++
		return found[0], nil
	}

	b, err := im.s.Create("Band")
	if err != nil {
		return nil, err
	}
	if err := b.Set("id", value.String(rec.ArtistID)); err != nil {
		return nil, err
	}
	if rec.ArtistName != "" {
		if err := b.Set("name", value.String(rec.ArtistName)); err != nil {
			return nil, err
		}
	}
	im.bands[rec.ArtistID] = b
	im.res.Bands++
	return b, nil
}

// StartsWithAOrB matches names beginning with A or B, ignoring case and
// diacritics.
var StartsWithAOrB = query.AnyOf(
	query.BeginsWith("name", "A", query.Folded),
	query.BeginsWith("name", "B", query.Folded),
)

// PopulatePlaylist makes the first playlist (creating PlaylistName when
// there is none) hold exactly the songs matching StartsWithAOrB, then
// saves s.
func PopulatePlaylist(ctx context.Context, s *session.Session) (PlaylistResult, error) {
	var res PlaylistResult
	reg := s.Registry()

	lists, err := s.Fetch(ctx, query.MustFetchRequest(reg, "Playlist",
		query.SortBy(query.Asc("name")),
		query.Limit(1),
	))
	if err != nil {
		return res, fmt.Errorf("fetch playlist: %w", err)
	}
	var list *session.Instance
	if len(lists) > 0 {
		list = lists[0]
	} else {
		if list, err = s.Create("Playlist"); err != nil {
			return res, err
		}
		if err := list.Set("name", value.String(PlaylistName)); err != nil {
			return res, err
		}
		res.Created = true
	}

	songs, err := s.Fetch(ctx, query.MustFetchRequest(reg, "Song",
		query.Where(StartsWithAOrB),
		query.SortBy(query.Asc("name")),
		query.AsFaults(false),
	))
	if err != nil {
		return res, fmt.Errorf("fetch playlist songs: %w", err)
	}

	keep := make([]graph.ObjectID, len(songs))
	for i, song := range songs {
		keep[i] = song.ID()
	}
	for _, old := range list.RelatedSet("songs") {
		if !slices.Contains(keep, old.ID()) {
			if err := list.RemoveRelated("songs", old); err != nil {
				return res, err
			}
		}
	}
	for _, song := range songs {
		if err := song.SetRelated("playlist", list); err != nil {
			return res, err
		}
	}
	if err := s.Save(ctx); err != nil {
		return res, fmt.Errorf("save playlist: %w", err)
	}

	res.ID = list.ID()
	res.Songs = len(songs)
	return res, nil
}
