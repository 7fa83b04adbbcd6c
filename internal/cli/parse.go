package cli

import (
	"strings"

	"github.com/roach88/objgraph/internal/query"
	"github.com/roach88/objgraph/internal/schema"
	"github.com/roach88/objgraph/internal/value"
)

// parseAssignments parses name=value pairs against e's attributes.
func parseAssignments(e *schema.EntityType, pairs []string) (map[string]value.Value, error) {
	out := make(map[string]value.Value, len(pairs))
	for _, pair := range pairs {
		name, raw, ok := strings.Cut(pair, "=")
		if !ok {
			return nil, argErrorf("invalid assignment %q: want name=value", pair)
		}
		name = strings.TrimSpace(name)
		attr, ok := e.Attribute(name)
		if !ok {
			return nil, argErrorf("%s has no attribute %q", e.Name(), name)
		}
		v, err := query.ParseLiteral(attr.Type, raw)
		if err != nil {
			return nil, argErrorf("%s.%s: %v", e.Name(), name, err)
		}
		out[name] = v
	}
	return out, nil
}
