// Package library is the storage contract a list/detail front end talks to:
// list every object of an entity, create one, delete one by id and save.
//
// SessionStorage implements it over a session.Session. Creates and deletes
// run on the session's queue so a front end may call them from any
// goroutine.
package library
