// Package value provides the scalar value types stored in entity attributes.
//
// Value is a sealed interface: only Null, String, Int, Float and Bool
// implement it. Every attribute of every entity holds exactly one of these.
// Ints and Floats belong to one numeric category and compare numerically
// with each other, so predicates over float attributes accept integer
// literals and vice versa.
//
// Ordering across categories is total and fixed:
//
//	Null < Bool < numbers < String
//
// which is the same order SQLite uses for NULL, INTEGER/REAL and TEXT, so
// in-memory sorting and ORDER BY agree.
//
// Fold implements the case and diacritic insensitive comparison used by
// string predicates. The SQL backend registers the same function with the
// driver so both evaluation paths share one definition.
package value
