package querysql

import (
	"fmt"
	"strings"

	"github.com/roach88/objgraph/internal/query"
	"github.com/roach88/objgraph/internal/schema"
	"github.com/roach88/objgraph/internal/value"
)

// Statement is a compiled SQL statement with its positional arguments.
type Statement struct {
	SQL  string
	Args []any
}

// Compiler compiles query model requests to parameterized SQLite SQL over
// the objects and links tables.
//
// Every row-returning query ends in ORDER BY ... o.id COLLATE BINARY ASC so
// results are deterministic. Literal values are always bound as
// parameters; only schema identifiers (validated by the registry) appear in
// the SQL text, inside json paths.
type Compiler struct {
	reg *schema.Registry
}

// New creates a Compiler for reg.
func New(reg *schema.Registry) *Compiler {
	return &Compiler{reg: reg}
}

// Fetch compiles a fetch to
//
//	SELECT o.id, o.attrs, o.version FROM objects o WHERE o.entity = ? AND ... ORDER BY ...
func (c *Compiler) Fetch(r query.FetchRequest) (Statement, error) {
	return c.fetch(r, "o.id, o.attrs, o.version")
}

// FetchKeys compiles a fetch returning only (id, version) per object, in
// the same order Fetch would return the rows.
func (c *Compiler) FetchKeys(r query.FetchRequest) (Statement, error) {
	return c.fetch(r, "o.id, o.version")
}

func (c *Compiler) fetch(r query.FetchRequest, cols string) (Statement, error) {
	if err := r.Validate(c.reg); err != nil {
		return Statement{}, err
	}

	where, args, err := c.where(r.Entity, r.Where)
	if err != nil {
		return Statement{}, err
	}

	var sb strings.Builder
	sb.WriteString("SELECT " + cols + " FROM objects o WHERE ")
	sb.WriteString(where)
	sb.WriteString(" ORDER BY ")
	for _, s := range r.Sort {
		key := attrExpr("o", s.Key)
		if mode := s.Options.FoldMode(); mode != 0 {
			key = "fold(" + key + ", ?)"
			args = append(args, int64(mode))
		}
		sb.WriteString(key)
		if s.Ascending {
			sb.WriteString(" ASC, ")
		} else {
			sb.WriteString(" DESC, ")
		}
	}
	sb.WriteString(stableOrderKey)

	switch {
	case r.Limit > 0:
		sb.WriteString(" LIMIT ?")
		args = append(args, int64(r.Limit))
	case r.Offset > 0:
		sb.WriteString(" LIMIT -1")
	}
	if r.Offset > 0 {
		sb.WriteString(" OFFSET ?")
		args = append(args, int64(r.Offset))
	}

	return Statement{SQL: sb.String(), Args: args}, nil
}

// IDs compiles a query returning the ids of matching objects in id order.
func (c *Compiler) IDs(entity string, pred query.Predicate) (Statement, error) {
	if err := query.Validate(c.reg, entity, pred); err != nil {
		return Statement{}, err
	}
	where, args, err := c.where(entity, pred)
	if err != nil {
		return Statement{}, err
	}
	return Statement{
		SQL:  "SELECT o.id FROM objects o WHERE " + where + " ORDER BY " + stableOrderKey,
		Args: args,
	}, nil
}

// Count compiles a query returning the number of matching objects.
func (c *Compiler) Count(entity string, pred query.Predicate) (Statement, error) {
	if err := query.Validate(c.reg, entity, pred); err != nil {
		return Statement{}, err
	}
	where, args, err := c.where(entity, pred)
	if err != nil {
		return Statement{}, err
	}
	return Statement{SQL: "SELECT COUNT(*) FROM objects o WHERE " + where, Args: args}, nil
}

// Aggregate compiles a group-free aggregate projection. The single result
// row holds one column per expression, in order.
func (c *Compiler) Aggregate(r query.AggregateRequest) (Statement, error) {
	if err := r.Validate(c.reg); err != nil {
		return Statement{}, err
	}

	cols := make([]string, len(r.Expressions))
	for i, x := range r.Expressions {
		arg := "*"
		if x.Attribute != "" {
			arg = attrExpr("o", x.Attribute)
		}
		switch x.Func {
		case query.Count:
			cols[i] = "COUNT(" + arg + ")"
		case query.Sum:
			// TOTAL would turn an empty input into 0.0 instead of NULL.
			cols[i] = "SUM(" + arg + ")"
		case query.Avg:
			cols[i] = "AVG(" + arg + ")"
		case query.Min:
			cols[i] = "MIN(" + arg + ")"
		case query.Max:
			cols[i] = "MAX(" + arg + ")"
		}
	}

	where, args, err := c.where(r.Entity, r.Where)
	if err != nil {
		return Statement{}, err
	}
	return Statement{
		SQL:  "SELECT " + strings.Join(cols, ", ") + " FROM objects o WHERE " + where,
		Args: args,
	}, nil
}

// BatchUpdate compiles an in-place update of every matching object's
// attributes, stamping version on each touched row.
func (c *Compiler) BatchUpdate(r query.BatchUpdateRequest, version int64) (Statement, error) {
	if err := r.Validate(c.reg); err != nil {
		return Statement{}, err
	}
	e := c.reg.MustEntity(r.Entity)

	var (
		sets []string
		args []any
	)
	for _, name := range value.SortedKeys(r.Set) {
		attr, _ := e.Attribute(name)
		v, err := value.Coerce(attr.Type, r.Set[name])
		if err != nil {
			return Statement{}, fmt.Errorf("set %s: %w", name, err)
		}
		raw, err := value.Marshal(v)
		if err != nil {
			return Statement{}, fmt.Errorf("set %s: %w", name, err)
		}
		sets = append(sets, fmt.Sprintf("'$.%s', json(?)", name))
		args = append(args, string(raw))
	}

	where, whereArgs, err := c.where(r.Entity, r.Where)
	if err != nil {
		return Statement{}, err
	}
	args = append(args, version)
	args = append(args, whereArgs...)

	return Statement{
		SQL:  "UPDATE objects AS o SET attrs = json_set(o.attrs, " + strings.Join(sets, ", ") + "), version = ? WHERE " + where,
		Args: args,
	}, nil
}

// Predicate compiles pred over entity rows aliased as alias. It returns a
// boolean SQL expression that never evaluates to NULL.
func (c *Compiler) Predicate(entity, alias string, pred query.Predicate) (string, []any, error) {
	e, ok := c.reg.Entity(entity)
	if !ok {
		return "", nil, &schema.SchemaError{Entity: entity, Message: "unknown entity"}
	}
	pc := &predicateCompiler{reg: c.reg}
	sql := pc.compile(e, alias, pred)
	if pc.err != nil {
		return "", nil, pc.err
	}
	return sql, pc.args, nil
}

func (c *Compiler) where(entity string, pred query.Predicate) (string, []any, error) {
	args := []any{entity}
	if pred == nil {
		return "o.entity = ?", args, nil
	}
	sql, predArgs, err := c.Predicate(entity, "o", pred)
	if err != nil {
		return "", nil, err
	}
	return "o.entity = ? AND " + sql, append(args, predArgs...), nil
}

// stableOrderKey is the mandatory tiebreaker of every row-returning query.
// COLLATE BINARY ensures deterministic text ordering across SQLite versions.
const stableOrderKey = "o.id COLLATE BINARY ASC"

func attrExpr(alias, name string) string {
	return fmt.Sprintf("json_extract(%s.attrs, '$.%s')", alias, name)
}

// LinksFor returns a query loading the links of n source objects, ordered
// by source, relationship and position.
func LinksFor(n int) string {
	return "SELECT source_id, name, target_id FROM links WHERE source_id IN (" +
		placeholders(n) + ") ORDER BY source_id COLLATE BINARY ASC, name ASC, position ASC"
}

// InverseLinksFor returns a query loading the links that point at n target
// objects, ordered by source, relationship and target.
func InverseLinksFor(n int) string {
	return "SELECT source_id, name, target_id FROM links WHERE target_id IN (" +
		placeholders(n) + ") ORDER BY source_id COLLATE BINARY ASC, name ASC, target_id ASC"
}

// RowsFor returns a query loading n objects by id.
func RowsFor(n int) string {
	return "SELECT o.id, o.attrs, o.version FROM objects o WHERE o.id IN (" +
		placeholders(n) + ") ORDER BY " + stableOrderKey
}

func placeholders(n int) string {
	if n <= 0 {
		return "NULL"
	}
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

// predicateCompiler walks a predicate tree, accumulating arguments in
// the order their placeholders appear.
type predicateCompiler struct {
	reg   *schema.Registry
	args  []any
	depth int
	err   error
}

func (pc *predicateCompiler) fail(err error) string {
	if pc.err == nil {
		pc.err = err
	}
	return "0"
}

func (pc *predicateCompiler) arg(v any) {
	pc.args = append(pc.args, v)
}

func (pc *predicateCompiler) compile(e *schema.EntityType, alias string, p query.Predicate) string {
	switch n := p.(type) {
	case nil:
		return "1"
	case query.Compare:
		hop, attr := query.SplitPath(n.Path)
		if hop == "" {
			return pc.compare(attrExpr(alias, attr), n)
		}
		return pc.related(alias, hop, func(target string) string {
			return pc.compare(attrExpr(target, attr), n)
		})
	case query.RelatedTo:
		pc.depth++
		l := fmt.Sprintf("l%d", pc.depth)
		pc.arg(n.Relationship)
		pc.arg(n.ID.String())
		return fmt.Sprintf("EXISTS (SELECT 1 FROM links %[1]s WHERE %[1]s.source_id = %[2]s.id AND %[1]s.name = ? AND %[1]s.target_id = ?)", l, alias)
	case query.IsNull:
		hop, attr := query.SplitPath(n.Path)
		if hop == "" {
			if _, ok := e.Relationship(attr); ok {
				pc.depth++
				l := fmt.Sprintf("l%d", pc.depth)
				pc.arg(attr)
				return fmt.Sprintf("NOT EXISTS (SELECT 1 FROM links %[1]s WHERE %[1]s.source_id = %[2]s.id AND %[1]s.name = ?)", l, alias)
			}
			return attrExpr(alias, attr) + " IS NULL"
		}
		return pc.related(alias, hop, func(target string) string {
			return attrExpr(target, attr) + " IS NULL"
		})
	case query.And:
		return pc.join(e, alias, n.Predicates, " AND ", "1")
	case query.Or:
		return pc.join(e, alias, n.Predicates, " OR ", "0")
	case query.Not:
		return "NOT (" + pc.compile(e, alias, n.Predicate) + ")"
	case query.Subquery:
		rel, ok := e.Relationship(n.Relationship)
		if !ok {
			return pc.fail(&schema.SchemaError{Entity: e.Name(), Field: n.Relationship, Message: "unknown relationship"})
		}
		target, ok := pc.reg.Entity(rel.Target)
		if !ok {
			return pc.fail(&schema.SchemaError{Entity: e.Name(), Field: n.Relationship, Message: "unknown target entity"})
		}
		pc.depth++
		l, t := fmt.Sprintf("l%d", pc.depth), fmt.Sprintf("t%d", pc.depth)
		pc.arg(n.Relationship)
		inner := pc.compile(target, t, n.Where)
		pc.arg(int64(n.Count))
		return fmt.Sprintf("(SELECT COUNT(*) FROM links %[1]s JOIN objects %[2]s ON %[2]s.id = %[1]s.target_id WHERE %[1]s.source_id = %[3]s.id AND %[1]s.name = ? AND %[4]s) %[5]s ?",
			l, t, alias, inner, sqlOp(n.Op))
	default:
		return pc.fail(fmt.Errorf("unsupported predicate type: %T", p))
	}
}

// related wraps body in an EXISTS over the targets of relationship rel.
func (pc *predicateCompiler) related(alias, rel string, body func(target string) string) string {
	pc.depth++
	l, t := fmt.Sprintf("l%d", pc.depth), fmt.Sprintf("t%d", pc.depth)
	pc.arg(rel)
	return fmt.Sprintf("EXISTS (SELECT 1 FROM links %[1]s JOIN objects %[2]s ON %[2]s.id = %[1]s.target_id WHERE %[1]s.source_id = %[3]s.id AND %[1]s.name = ? AND %[4]s)",
		l, t, alias, body(t))
}

func (pc *predicateCompiler) join(e *schema.EntityType, alias string, preds []query.Predicate, sep, empty string) string {
	if len(preds) == 0 {
		return empty
	}
	parts := make([]string, len(preds))
	for i, p := range preds {
		parts[i] = pc.compile(e, alias, p)
	}
	return "(" + strings.Join(parts, sep) + ")"
}

// compare compiles one comparison. Null attribute values make every
// operator false except !=, which is true.
func (pc *predicateCompiler) compare(expr string, c query.Compare) string {
	lit := c.Value
	if mode := c.Options.FoldMode(); mode != 0 {
		expr = "fold(" + expr + ", ?)"
		pc.arg(int64(mode))
		if s, ok := lit.(value.String); ok {
			lit = value.String(value.Fold(string(s), mode))
		}
	}
	param := value.ToGo(lit)

	switch c.Op {
	case query.OpNe:
		pc.arg(param)
		return expr + " IS NOT ?"
	case query.OpBeginsWith:
		pc.arg(param)
		return "COALESCE(instr(" + expr + ", ?) = 1, 0)"
	case query.OpContains:
		pc.arg(param)
		return "COALESCE(instr(" + expr + ", ?) > 0, 0)"
	case query.OpEndsWith:
		if s, ok := lit.(value.String); ok && s == "" {
			return expr + " IS NOT NULL"
		}
		pc.arg(param)
		pc.arg(param)
		return "COALESCE(substr(" + expr + ", -length(?)) = ?, 0)"
	default:
		pc.arg(param)
		return "COALESCE(" + expr + " " + sqlOp(c.Op) + " ?, 0)"
	}
}

func sqlOp(op query.Op) string {
	switch op {
	case query.OpEq:
		return "="
	case query.OpNe:
		return "!="
	default:
		return string(op)
	}
}
