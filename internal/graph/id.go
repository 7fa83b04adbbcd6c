package graph

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// ObjectID identifies one object across sessions and across process runs.
// The zero value is the nil id.
type ObjectID struct {
	Entity string
	Key    string
}

// NewObjectID allocates a new identity for an entity.
// Keys are UUIDv7 so that ids sort roughly by creation time.
func NewObjectID(entity string) ObjectID {
	return ObjectID{Entity: entity, Key: uuid.Must(uuid.NewV7()).String()}
}

// ParseObjectID parses the textual form "Entity/key".
func ParseObjectID(s string) (ObjectID, error) {
	entity, key, ok := strings.Cut(s, "/")
	if !ok || entity == "" || key == "" {
		return ObjectID{}, fmt.Errorf("invalid object id %q: want Entity/key", s)
	}
	return ObjectID{Entity: entity, Key: key}, nil
}

// IsZero reports whether id is the nil id.
func (id ObjectID) IsZero() bool {
	return id.Entity == "" && id.Key == ""
}

// String returns the textual form "Entity/key".
func (id ObjectID) String() string {
	return id.Entity + "/" + id.Key
}

// MarshalText implements encoding.TextMarshaler.
func (id ObjectID) MarshalText() ([]byte, error) {
	return []byte(id.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (id *ObjectID) UnmarshalText(data []byte) error {
	parsed, err := ParseObjectID(string(data))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}

// Compare orders ids by entity, then key, bytewise.
func Compare(a, b ObjectID) int {
	if c := strings.Compare(a.Entity, b.Entity); c != 0 {
		return c
	}
	return strings.Compare(a.Key, b.Key)
}
