package store

import (
	"context"
	"database/sql"
	"fmt"
	"slices"

	"go.uber.org/zap"

	"github.com/roach88/objgraph/internal/graph"
	"github.com/roach88/objgraph/internal/query"
	"github.com/roach88/objgraph/internal/querysql"
)

// Guard inspects the ids a batch operation is about to touch, inside the
// operation's transaction. A non-nil error aborts the operation with
// nothing written.
type Guard func(ids []graph.ObjectID) error

// IntegrityError reports that a batch delete would leave a surviving object
// with fewer targets than a required relationship demands.
type IntegrityError struct {
	ID           graph.ObjectID
	Relationship string
	Deleted      graph.ObjectID
}

func (e *IntegrityError) Error() string {
	return fmt.Sprintf("%s.%s requires %s", e.ID, e.Relationship, e.Deleted)
}

// BatchUpdate assigns r.Set to every matching row in one transaction,
// bypassing every session. guard may be nil.
func (s *Store) BatchUpdate(ctx context.Context, r query.BatchUpdateRequest, guard Guard) (query.BatchResult, error) {
	if err := r.Validate(s.reg); err != nil {
		return query.BatchResult{}, err
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return query.BatchResult{}, storageErr("begin", err)
	}
	defer tx.Rollback()

	ids, err := s.matchIDs(ctx, tx, r.Entity, r.Where)
	if err != nil {
		return query.BatchResult{}, err
	}
	if guard != nil {
		if err := guard(ids); err != nil {
			return query.BatchResult{}, err
		}
	}
	if len(ids) == 0 {
		return query.BatchResult{}, nil
	}

	version := s.clock.Next()
	st, err := s.sql.BatchUpdate(r, version)
	if err != nil {
		return query.BatchResult{}, err
	}
	res, err := tx.ExecContext(ctx, st.SQL, st.Args...)
	if err != nil {
		return query.BatchResult{}, storageErr("batch update "+r.Entity, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return query.BatchResult{}, storageErr("batch update "+r.Entity, err)
	}
	if int(n) != len(ids) {
		return query.BatchResult{}, storageErr("batch update "+r.Entity, fmt.Errorf("matched %d rows, updated %d", len(ids), n))
	}

	if err := tx.Commit(); err != nil {
		return query.BatchResult{}, storageErr("commit", err)
	}

	s.log.Info("batch update",
		zap.String("entity", r.Entity),
		zap.Int("count", len(ids)),
		zap.Int64("version", version),
	)
	return query.BatchResult{Count: len(ids), IDs: ids}, nil
}

// BatchDelete deletes every matching row in one transaction, bypassing
// every session. Links from and to the deleted rows are dropped and the
// rows that lose links get a new version. guard may be nil.
//
// Fails with *IntegrityError, writing nothing, when a surviving row would
// be left with fewer targets than one of its required relationships
// demands.
func (s *Store) BatchDelete(ctx context.Context, r query.BatchDeleteRequest, guard Guard) (query.BatchResult, error) {
	if err := r.Validate(s.reg); err != nil {
		return query.BatchResult{}, err
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return query.BatchResult{}, storageErr("begin", err)
	}
	defer tx.Rollback()

	ids, err := s.matchIDs(ctx, tx, r.Entity, r.Where)
	if err != nil {
		return query.BatchResult{}, err
	}
	if guard != nil {
		if err := guard(ids); err != nil {
			return query.BatchResult{}, err
		}
	}
	if len(ids) == 0 {
		return query.BatchResult{}, nil
	}

	affected, err := s.checkSurvivors(ctx, tx, ids)
	if err != nil {
		return query.BatchResult{}, err
	}

	version := s.clock.Next()
	for _, id := range affected {
		if _, err := tx.ExecContext(ctx, "UPDATE objects SET version = ? WHERE id = ?", version, id.String()); err != nil {
			return query.BatchResult{}, storageErr("batch delete "+r.Entity, err)
		}
	}
	for _, id := range ids {
		if _, err := tx.ExecContext(ctx, "DELETE FROM objects WHERE id = ?", id.String()); err != nil {
			return query.BatchResult{}, storageErr("batch delete "+r.Entity, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return query.BatchResult{}, storageErr("commit", err)
	}

	s.log.Info("batch delete",
		zap.String("entity", r.Entity),
		zap.Int("count", len(ids)),
		zap.Int("relinked", len(affected)),
		zap.Int64("version", version),
	)
	return query.BatchResult{Count: len(ids), IDs: ids}, nil
}

func (s *Store) matchIDs(ctx context.Context, tx *sql.Tx, entity string, pred query.Predicate) ([]graph.ObjectID, error) {
	st, err := s.sql.IDs(entity, pred)
	if err != nil {
		return nil, err
	}
	ids, err := scanIDs(ctx, tx, st)
	if err != nil {
		return nil, storageErr("match "+entity, err)
	}
	return ids, nil
}

// checkSurvivors returns the surviving objects that link to a deleted one,
// failing when one of them would violate a required relationship.
func (s *Store) checkSurvivors(ctx context.Context, tx *sql.Tx, deleted []graph.ObjectID) ([]graph.ObjectID, error) {
	gone := make(map[graph.ObjectID]bool, len(deleted))
	for _, id := range deleted {
		gone[id] = true
	}

	type link struct {
		source, target graph.ObjectID
		name           string
	}
	var links []link
	for start := 0; start < len(deleted); start += maxParams {
		chunk := deleted[start:min(start+maxParams, len(deleted))]
		args := make([]any, len(chunk))
		for i, id := range chunk {
			args[i] = id.String()
		}
		st := querysql.Statement{
			SQL:  querysql.InverseLinksFor(len(chunk)),
			Args: args,
		}
		if err := scanLinks(ctx, tx, st, func(source graph.ObjectID, name string, target graph.ObjectID) {
			if !gone[source] {
				links = append(links, link{source: source, target: target, name: name})
			}
		}); err != nil {
			return nil, storageErr("inverse links", err)
		}
	}

	// source -> relationship -> number of deleted targets
	lost := make(map[graph.ObjectID]map[string]int)
	for _, l := range links {
		if lost[l.source] == nil {
			lost[l.source] = make(map[string]int)
		}
		lost[l.source][l.name]++
		if err := s.checkRequired(ctx, tx, l.source, l.name, lost[l.source][l.name], l.target); err != nil {
			return nil, err
		}
	}

	affected := make([]graph.ObjectID, 0, len(lost))
	for id := range lost {
		affected = append(affected, id)
	}
	slices.SortFunc(affected, graph.Compare)
	return affected, nil
}

// checkRequired fails when source keeps fewer targets through rel than
// rel's minimum after losing n of them.
func (s *Store) checkRequired(ctx context.Context, tx *sql.Tx, source graph.ObjectID, rel string, n int, target graph.ObjectID) error {
	e, ok := s.reg.Entity(source.Entity)
	if !ok {
		return nil
	}
	r, ok := e.Relationship(rel)
	if !ok || !r.Required() {
		return nil
	}
	var have int
	if err := tx.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM links WHERE source_id = ? AND name = ?",
		source.String(), rel,
	).Scan(&have); err != nil {
		return storageErr("count links", err)
	}
	if have-n < r.MinCount {
		return &IntegrityError{ID: source, Relationship: rel, Deleted: target}
	}
	return nil
}
