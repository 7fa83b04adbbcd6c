package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/roach88/objgraph/internal/graph"
	"github.com/roach88/objgraph/internal/query"
	"github.com/roach88/objgraph/internal/querysql"
	"github.com/roach88/objgraph/internal/value"
)

// maxParams bounds the ids bound into one IN (...) list.
const maxParams = 500

// queryer is the read surface shared by *sql.DB and *sql.Tx.
type queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Fetch returns the rows matching r, links included, in r's order.
func (s *Store) Fetch(ctx context.Context, r query.FetchRequest) ([]graph.Row, error) {
	st, err := s.sql.Fetch(r)
	if err != nil {
		return nil, err
	}
	rows, err := s.scanRows(ctx, s.db, st)
	if err != nil {
		return nil, storageErr("fetch "+r.Entity, err)
	}
	if err := s.loadLinks(ctx, s.db, rows); err != nil {
		return nil, storageErr("fetch "+r.Entity, err)
	}
	return rows, nil
}

// Key identifies one stored object and the version it was last written at.
type Key struct {
	ID      graph.ObjectID
	Version int64
}

// FetchKeys returns the keys of the rows matching r, in r's order.
func (s *Store) FetchKeys(ctx context.Context, r query.FetchRequest) ([]Key, error) {
	st, err := s.sql.FetchKeys(r)
	if err != nil {
		return nil, err
	}
	rs, err := s.db.QueryContext(ctx, st.SQL, st.Args...)
	if err != nil {
		return nil, storageErr("fetch keys "+r.Entity, err)
	}
	defer rs.Close()

	var keys []Key
	for rs.Next() {
		var (
			text    string
			version int64
		)
		if err := rs.Scan(&text, &version); err != nil {
			return nil, storageErr("fetch keys "+r.Entity, err)
		}
		id, err := graph.ParseObjectID(text)
		if err != nil {
			return nil, storageErr("fetch keys "+r.Entity, err)
		}
		keys = append(keys, Key{ID: id, Version: version})
	}
	if err := rs.Err(); err != nil {
		return nil, storageErr("fetch keys "+r.Entity, err)
	}
	return keys, nil
}

// All returns every row of entity in id order.
func (s *Store) All(ctx context.Context, entity string) ([]graph.Row, error) {
	return s.Fetch(ctx, query.FetchRequest{Entity: entity})
}

// Rows loads the rows with the given ids. Missing ids are absent from the
// result.
func (s *Store) Rows(ctx context.Context, ids []graph.ObjectID) (map[graph.ObjectID]graph.Row, error) {
	out := make(map[graph.ObjectID]graph.Row, len(ids))
	for start := 0; start < len(ids); start += maxParams {
		chunk := ids[start:min(start+maxParams, len(ids))]
		args := make([]any, len(chunk))
		for i, id := range chunk {
			args[i] = id.String()
		}
		rows, err := s.scanRows(ctx, s.db, querysql.Statement{SQL: querysql.RowsFor(len(chunk)), Args: args})
		if err != nil {
			return nil, storageErr("load rows", err)
		}
		if err := s.loadLinks(ctx, s.db, rows); err != nil {
			return nil, storageErr("load rows", err)
		}
		for _, r := range rows {
			out[r.ID] = r
		}
	}
	return out, nil
}

// Row loads one row. The boolean is false when no such object exists.
func (s *Store) Row(ctx context.Context, id graph.ObjectID) (graph.Row, bool, error) {
	rows, err := s.Rows(ctx, []graph.ObjectID{id})
	if err != nil {
		return graph.Row{}, false, err
	}
	r, ok := rows[id]
	return r, ok, nil
}

// IDs returns the ids of the objects of entity matching pred, in id order.
func (s *Store) IDs(ctx context.Context, entity string, pred query.Predicate) ([]graph.ObjectID, error) {
	st, err := s.sql.IDs(entity, pred)
	if err != nil {
		return nil, err
	}
	ids, err := scanIDs(ctx, s.db, st)
	if err != nil {
		return nil, storageErr("ids "+entity, err)
	}
	return ids, nil
}

// Count returns the number of objects of entity matching pred.
func (s *Store) Count(ctx context.Context, entity string, pred query.Predicate) (int, error) {
	st, err := s.sql.Count(entity, pred)
	if err != nil {
		return 0, err
	}
	var n int
	if err := s.db.QueryRowContext(ctx, st.SQL, st.Args...).Scan(&n); err != nil {
		return 0, storageErr("count "+entity, err)
	}
	return n, nil
}

// Aggregate evaluates r in SQL. Result types follow query.Aggregate.
func (s *Store) Aggregate(ctx context.Context, r query.AggregateRequest) (map[string]value.Value, error) {
	st, err := s.sql.Aggregate(r)
	if err != nil {
		return nil, err
	}

	cols := make([]any, len(r.Expressions))
	ptrs := make([]any, len(cols))
	for i := range cols {
		ptrs[i] = &cols[i]
	}
	if err := s.db.QueryRowContext(ctx, st.SQL, st.Args...).Scan(ptrs...); err != nil {
		return nil, storageErr("aggregate "+r.Entity, err)
	}

	e := s.reg.MustEntity(r.Entity)
	out := make(map[string]value.Value, len(cols))
	for i, x := range r.Expressions {
		v, err := value.FromGo(cols[i])
		if err != nil {
			return nil, fmt.Errorf("aggregate %s: %w", x.Name, err)
		}
		switch x.Func {
		case query.Count:
			if value.IsNull(v) {
				v = value.Int(0)
			}
		case query.Avg:
			if !value.IsNull(v) {
				v, err = value.Coerce(value.TypeFloat, v)
			}
		default:
			a, _ := e.Attribute(x.Attribute)
			v, err = query.CoerceAggregate(a.Type, v)
		}
		if err != nil {
			return nil, fmt.Errorf("aggregate %s: %w", x.Name, err)
		}
		out[x.Name] = v
	}
	return out, nil
}

// scanRows runs a statement selecting (id, attrs, version).
func (s *Store) scanRows(ctx context.Context, q queryer, st querysql.Statement) ([]graph.Row, error) {
	rs, err := q.QueryContext(ctx, st.SQL, st.Args...)
	if err != nil {
		return nil, err
	}
	defer rs.Close()

	var out []graph.Row
	for rs.Next() {
		var (
			idText  string
			attrs   string
			version int64
		)
		if err := rs.Scan(&idText, &attrs, &version); err != nil {
			return nil, err
		}
		row, err := s.decodeRow(idText, attrs, version)
		if err != nil {
			return nil, err
		}
		out = append(out, row)
	}
	return out, rs.Err()
}

// decodeRow rebuilds a row, coercing every attribute to its declared type.
// Attributes missing from the JSON are Null.
func (s *Store) decodeRow(idText, attrs string, version int64) (graph.Row, error) {
	id, err := graph.ParseObjectID(idText)
	if err != nil {
		return graph.Row{}, err
	}
	e, ok := s.reg.Entity(id.Entity)
	if !ok {
		return graph.Row{}, fmt.Errorf("object %s has unknown entity", id)
	}
	raw, err := value.UnmarshalMap([]byte(attrs))
	if err != nil {
		return graph.Row{}, fmt.Errorf("object %s: %w", id, err)
	}

	row := graph.NewRow(id)
	row.Version = version
	for _, a := range e.Attributes() {
		v, err := value.Coerce(a.Type, raw[a.Name])
		if err != nil {
			return graph.Row{}, fmt.Errorf("object %s attribute %s: %w", id, a.Name, err)
		}
		row.Attrs[a.Name] = v
	}
	return row, nil
}

// loadLinks fills the Links of rows in place.
func (s *Store) loadLinks(ctx context.Context, q queryer, rows []graph.Row) error {
	if len(rows) == 0 {
		return nil
	}
	index := make(map[graph.ObjectID]int, len(rows))
	for i, r := range rows {
		index[r.ID] = i
	}

	for start := 0; start < len(rows); start += maxParams {
		chunk := rows[start:min(start+maxParams, len(rows))]
		args := make([]any, len(chunk))
		for i, r := range chunk {
			args[i] = r.ID.String()
		}

		st := querysql.Statement{SQL: querysql.LinksFor(len(chunk)), Args: args}
		if err := scanLinks(ctx, q, st, func(source graph.ObjectID, name string, target graph.ObjectID) {
			r := rows[index[source]]
			r.Links[name] = append(r.Links[name], target)
		}); err != nil {
			return err
		}
	}
	return nil
}

func scanIDs(ctx context.Context, q queryer, st querysql.Statement) ([]graph.ObjectID, error) {
	rs, err := q.QueryContext(ctx, st.SQL, st.Args...)
	if err != nil {
		return nil, err
	}
	defer rs.Close()

	var ids []graph.ObjectID
	for rs.Next() {
		var text string
		if err := rs.Scan(&text); err != nil {
			return nil, err
		}
		id, err := graph.ParseObjectID(text)
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rs.Err()
}

// scanLinks runs a statement selecting (source_id, name, target_id) and
// calls fn for every link.
func scanLinks(ctx context.Context, q queryer, st querysql.Statement, fn func(source graph.ObjectID, name string, target graph.ObjectID)) error {
	rs, err := q.QueryContext(ctx, st.SQL, st.Args...)
	if err != nil {
		return err
	}
	defer rs.Close()

	for rs.Next() {
		var source, name, target string
		if err := rs.Scan(&source, &name, &target); err != nil {
			return err
		}
		sid, err := graph.ParseObjectID(source)
		if err != nil {
			return err
		}
		tid, err := graph.ParseObjectID(target)
		if err != nil {
			return err
		}
		fn(sid, name, tid)
	}
	return rs.Err()
}
