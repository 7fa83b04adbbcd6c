package graph

// ChangeKind distinguishes entries of a pending log.
type ChangeKind int

const (
	// ChangeInsert creates a new object.
	ChangeInsert ChangeKind = iota + 1
	// ChangeUpdate replaces the state of an existing object.
	ChangeUpdate
	// ChangeDelete removes an object.
	ChangeDelete
)

func (k ChangeKind) String() string {
	switch k {
	case ChangeInsert:
		return "insert"
	case ChangeUpdate:
		return "update"
	case ChangeDelete:
		return "delete"
	default:
		return "unknown"
	}
}

// Change is one entry of a change set. Row is empty for deletes.
type Change struct {
	Kind ChangeKind
	ID   ObjectID
	Row  Row
}

// ChangeSet is the ordered log of changes a session commits to its parent.
// Each object appears at most once; the kind reflects the net effect
// (an object inserted and then updated is a single insert).
type ChangeSet struct {
	Changes []Change
}

// IsEmpty reports whether the change set carries no changes.
func (cs ChangeSet) IsEmpty() bool {
	return len(cs.Changes) == 0
}

// Counts returns the number of inserts, updates and deletes.
func (cs ChangeSet) Counts() (inserts, updates, deletes int) {
	for _, c := range cs.Changes {
		switch c.Kind {
		case ChangeInsert:
			inserts++
		case ChangeUpdate:
			updates++
		case ChangeDelete:
			deletes++
		}
	}
	return inserts, updates, deletes
}

// IDs returns the ids touched by the change set, in log order.
func (cs ChangeSet) IDs() []ObjectID {
	ids := make([]ObjectID, len(cs.Changes))
	for i, c := range cs.Changes {
		ids[i] = c.ID
	}
	return ids
}
