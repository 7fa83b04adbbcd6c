// Package graph holds the data types shared by every layer of the object
// store: object identities, rows and change sets.
//
// An ObjectID is the only thing that may cross session boundaries. A Row is
// the persisted form of an instance as the backing store and parent
// sessions see it. A ChangeSet is the ordered pending log a session hands
// to its parent on save.
//
// This package imports nothing internal except value.
package graph
