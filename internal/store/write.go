package store

import (
	"context"
	"database/sql"
	"fmt"

	"go.uber.org/zap"

	"github.com/roach88/objgraph/internal/graph"
	"github.com/roach88/objgraph/internal/value"
)

// Apply writes a change set in one transaction and returns the version
// stamped on every inserted and updated row. Either every change is
// written or none is.
//
// Inserted and updated rows carry their complete link lists, which
// replace the stored ones. Deleting an object drops every link from or to
// it.
func (s *Store) Apply(ctx context.Context, cs graph.ChangeSet) (int64, error) {
	if cs.IsEmpty() {
		return s.clock.Current(), nil
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, storageErr("begin", err)
	}
	defer tx.Rollback()

	version := s.clock.Next()
	for _, c := range cs.Changes {
		if err := s.applyChange(ctx, tx, c, version); err != nil {
			return 0, err
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, storageErr("commit", err)
	}

	inserts, updates, deletes := cs.Counts()
	s.log.Debug("change set applied",
		zap.Int64("version", version),
		zap.Int("inserts", inserts),
		zap.Int("updates", updates),
		zap.Int("deletes", deletes),
	)
	return version, nil
}

func (s *Store) applyChange(ctx context.Context, tx *sql.Tx, c graph.Change, version int64) error {
	id := c.ID.String()
	switch c.Kind {
	case graph.ChangeInsert:
		attrs, err := s.encodeAttrs(c.Row)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx,
			"INSERT INTO objects (id, entity, attrs, version) VALUES (?, ?, ?, ?)",
			id, c.ID.Entity, attrs, version,
		); err != nil {
			return storageErr("insert "+id, err)
		}
		return writeLinks(ctx, tx, c.Row)

	case graph.ChangeUpdate:
		attrs, err := s.encodeAttrs(c.Row)
		if err != nil {
			return err
		}
		res, err := tx.ExecContext(ctx,
			"UPDATE objects SET attrs = ?, version = ? WHERE id = ?",
			attrs, version, id,
		)
		if err != nil {
			return storageErr("update "+id, err)
		}
		if n, err := res.RowsAffected(); err != nil {
			return storageErr("update "+id, err)
		} else if n == 0 {
			return storageErr("update "+id, fmt.Errorf("object no longer exists"))
		}
		if _, err := tx.ExecContext(ctx, "DELETE FROM links WHERE source_id = ?", id); err != nil {
			return storageErr("update "+id, err)
		}
		return writeLinks(ctx, tx, c.Row)

	case graph.ChangeDelete:
		if _, err := tx.ExecContext(ctx, "DELETE FROM objects WHERE id = ?", id); err != nil {
			return storageErr("delete "+id, err)
		}
		return nil

	default:
		return storageErr("apply "+id, fmt.Errorf("unknown change kind %d", c.Kind))
	}
}

func (s *Store) encodeAttrs(r graph.Row) (string, error) {
	e, ok := s.reg.Entity(r.ID.Entity)
	if !ok {
		return "", fmt.Errorf("object %s has unknown entity", r.ID)
	}
	attrs := make(map[string]value.Value, len(r.Attrs))
	for _, a := range e.Attributes() {
		attrs[a.Name] = r.Attr(a.Name)
	}
	raw, err := value.MarshalMap(attrs)
	if err != nil {
		return "", fmt.Errorf("encode %s: %w", r.ID, err)
	}
	return string(raw), nil
}

func writeLinks(ctx context.Context, tx *sql.Tx, r graph.Row) error {
	id := r.ID.String()
	for _, name := range value.SortedKeys(r.Links) {
		for pos, target := range r.Links[name] {
			if _, err := tx.ExecContext(ctx,
				"INSERT INTO links (source_id, name, position, target_id) VALUES (?, ?, ?, ?)",
				id, name, pos, target.String(),
			); err != nil {
				return storageErr("link "+id+"."+name, err)
			}
		}
	}
	return nil
}
