package cli

import (
	"fmt"
	"io"
	"strings"

	"github.com/roach88/objgraph/internal/session"
	"github.com/roach88/objgraph/internal/value"
)

// ObjectView is the output form of one object.
type ObjectView struct {
	ID            string                 `json:"id"`
	Attributes    map[string]interface{} `json:"attributes"`
	Relationships map[string][]string    `json:"relationships,omitempty"`

	values map[string]value.Value
}

func newObjectView(inst *session.Instance) ObjectView {
	values := inst.Values()
	v := ObjectView{
		ID:         inst.ID().String(),
		Attributes: make(map[string]interface{}, len(values)),
		values:     values,
	}
	for name, val := range values {
		v.Attributes[name] = value.ToGo(val)
	}
	e := inst.Session().Registry().MustEntity(inst.Entity())
	for _, rel := range e.Relationships() {
		ids := inst.RelatedIDs(rel.Name)
		if len(ids) == 0 {
			continue
		}
		if v.Relationships == nil {
			v.Relationships = make(map[string][]string)
		}
		strs := make([]string, len(ids))
		for i, id := range ids {
			strs[i] = id.String()
		}
		v.Relationships[rel.Name] = strs
	}
	return v
}

func newObjectViews(insts []*session.Instance) []ObjectView {
	out := make([]ObjectView, len(insts))
	for i, inst := range insts {
		out[i] = newObjectView(inst)
	}
	return out
}

// String renders the object on one line: id, attributes, relationships.
func (v ObjectView) String() string {
	var sb strings.Builder
	sb.WriteString(v.ID)
	for _, name := range value.SortedKeys(v.values) {
		fmt.Fprintf(&sb, " %s=%s", name, formatValue(v.values[name]))
	}
	for _, name := range value.SortedKeys(v.Relationships) {
		fmt.Fprintf(&sb, " %s=[%s]", name, strings.Join(v.Relationships[name], ","))
	}
	return sb.String()
}

func formatValue(v value.Value) string {
	switch val := v.(type) {
	case value.String:
		return fmt.Sprintf("%q", string(val))
	case nil, value.Null:
		return "null"
	default:
		return fmt.Sprint(value.ToGo(val))
	}
}

func writeObjects(w io.Writer, views []ObjectView) {
	for _, v := range views {
		fmt.Fprintln(w, v.String())
	}
	fmt.Fprintf(w, "%d object(s)\n", len(views))
}

func formatValues(m map[string]value.Value) string {
	parts := make([]string, 0, len(m))
	for _, name := range value.SortedKeys(m) {
		parts = append(parts, fmt.Sprintf("%s=%s", name, formatValue(m[name])))
	}
	return strings.Join(parts, " ")
}

func toGoMap(m map[string]value.Value) map[string]interface{} {
	out := make(map[string]interface{}, len(m))
	for k, v := range m {
		out[k] = value.ToGo(v)
	}
	return out
}
