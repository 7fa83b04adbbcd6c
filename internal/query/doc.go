// Package query defines the structured query model: predicates, fetch
// requests, aggregate expressions and batch requests.
//
// Predicate is a sealed interface. Backends switch exhaustively over the
// node types defined here:
//
//	switch p := pred.(type) {
//	case Compare:
//	case RelatedTo:
//	case IsNull:
//	case And, Or, Not:
//	case Subquery:
//	}
//
// Predicates are plain values built by callers and checked against a
// schema by Validate before they run. Paths are either an attribute name
// ("name") or a single relationship hop followed by an attribute of the
// target entity ("band.name"). A hop over a to-many relationship matches
// when ANY related object matches.
//
// Eval evaluates a predicate in memory. It implements exactly the
// semantics the SQL backend (package querysql) compiles to:
//
//   - a comparison whose attribute is null is false, except != which is
//     true;
//   - string operators never match non-string values;
//   - folding options apply value.Fold to both sides before comparing.
package query
