// Package session is the in-memory working set over the backing store.
//
// A Coordinator owns the store and the sealed registry and hands out root
// sessions. Each Session keeps an identity map so that one object id maps
// to exactly one Instance, tracks pending inserts, updates and deletes in
// the order they happened, and applies them atomically on Save: root
// sessions write to the store, child sessions write into their parent.
//
// Instances start either materialised or as faults. A fault loads its row
// from the session's source the first time it is read; faults produced by
// one fetch with a positive batch size fire together.
//
// Session methods are safe for concurrent use, but a session is meant to
// be owned by one goroutine at a time. Perform and PerformAndWait run work
// on the session's serial queue.
package session
