// Package store is the backing storage of the object graph: one SQLite
// file holding the entity catalogue, object rows and relationship links.
//
// # Layout
//
//   - catalogue: the registry's definitions, compared on every Open
//   - objects: id, entity, attrs (JSON), version
//   - links: source_id, name, position, target_id
//
// Every write stamps the rows it touches with a new version taken from a
// monotonic clock, so sessions can tell a stale instance from a fresh row.
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - foreign_keys=ON: Links never outlive their objects
//
// The connection pool is limited to one connection. Queries inside a
// transaction therefore always go through the transaction.
//
// A Go implementation of value.Fold is registered as the SQL function
// fold(text, mode) so folded comparisons behave identically in SQL and in
// memory.
package store
