package harness

import (
	"bytes"
	"fmt"
	"path/filepath"

	"github.com/mandelsoft/vfs/pkg/vfs"
	"gopkg.in/yaml.v3"
)

// MainSession is the root session every scenario starts with.
const MainSession = "main"

// Scenario defines one scenario: sessions, the steps run on them and the
// assertions checked against the saved state afterwards.
type Scenario struct {
	// Name uniquely identifies this scenario. It also names its golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Schema is a CUE schema file, relative to the scenario file.
	// Empty selects the workshop schema.
	Schema string `yaml:"schema,omitempty"`

	// Sessions declares child sessions in addition to "main".
	Sessions []SessionDecl `yaml:"sessions,omitempty"`

	Steps []Step `yaml:"steps"`

	Assertions []Assertion `yaml:"assertions,omitempty"`
}

// SessionDecl declares a child session of Parent.
type SessionDecl struct {
	Name   string `yaml:"name"`
	Parent string `yaml:"parent"`
}

// Step performs exactly one operation on a session.
type Step struct {
	// Session names the session to use; empty means "main".
	Session string `yaml:"session,omitempty"`

	Create      *CreateStep    `yaml:"create,omitempty"`
	Set         *SetStep       `yaml:"set,omitempty"`
	Link        *LinkStep      `yaml:"link,omitempty"`
	Unlink      *LinkStep      `yaml:"unlink,omitempty"`
	Delete      string         `yaml:"delete,omitempty"`
	Save        bool           `yaml:"save,omitempty"`
	Rollback    bool           `yaml:"rollback,omitempty"`
	Fetch       *FetchStep     `yaml:"fetch,omitempty"`
	Aggregate   *AggregateStep `yaml:"aggregate,omitempty"`
	BatchUpdate *BatchStep     `yaml:"batch_update,omitempty"`
	BatchDelete *BatchStep     `yaml:"batch_delete,omitempty"`

	// ExpectError is the error code the step must fail with, e.g.
	// VALIDATION or REFERENTIAL_INTEGRITY. Empty means it must succeed.
	ExpectError string `yaml:"expect_error,omitempty"`
}

// CreateStep inserts a new object and names it As.
type CreateStep struct {
	Entity string         `yaml:"entity"`
	As     string         `yaml:"as"`
	Values map[string]any `yaml:"values,omitempty"`

	// Link maps relationship names to target aliases.
	Link map[string]string `yaml:"link,omitempty"`
}

// SetStep assigns attribute values. A YAML null assigns Null.
type SetStep struct {
	Object string         `yaml:"object"`
	Values map[string]any `yaml:"values"`
}

// LinkStep adds or removes Target on Relationship.
type LinkStep struct {
	Object       string `yaml:"object"`
	Relationship string `yaml:"relationship"`
	Target       string `yaml:"target"`
}

// FetchStep runs a fetch request and optionally checks what it matched.
type FetchStep struct {
	Entity string   `yaml:"entity"`
	Where  []string `yaml:"where,omitempty"`
	Any    bool     `yaml:"any,omitempty"`
	Sort   []string `yaml:"sort,omitempty"`
	Limit  int      `yaml:"limit,omitempty"`
	Offset int      `yaml:"offset,omitempty"`

	// Pending includes unsaved changes; nil means true.
	Pending *bool `yaml:"pending,omitempty"`

	// Expect lists the aliases of the matched objects in order.
	Expect []string `yaml:"expect,omitempty"`

	// Count is the expected number of matches ignoring limit and offset.
	Count *int `yaml:"count,omitempty"`
}

// AggregateStep computes aggregates like "total=sum(duration)".
type AggregateStep struct {
	Entity      string         `yaml:"entity"`
	Where       []string       `yaml:"where,omitempty"`
	Expressions []string       `yaml:"expressions"`
	Expect      map[string]any `yaml:"expect,omitempty"`
}

// BatchStep updates or deletes matching objects directly in the store.
type BatchStep struct {
	Entity string         `yaml:"entity"`
	Where  []string       `yaml:"where,omitempty"`
	Set    map[string]any `yaml:"set,omitempty"`
	Expect []string       `yaml:"expect,omitempty"`
}

// Assertion validates the saved state after all steps ran.
type Assertion struct {
	// Type is one of count, exists, absent, values or related.
	Type string `yaml:"type"`

	Entity string   `yaml:"entity,omitempty"`
	Where  []string `yaml:"where,omitempty"`
	Count  int      `yaml:"count,omitempty"`

	Object       string         `yaml:"object,omitempty"`
	Values       map[string]any `yaml:"values,omitempty"`
	Relationship string         `yaml:"relationship,omitempty"`
	Targets      []string       `yaml:"targets,omitempty"`
}

// Assertion type constants.
const (
	AssertCount   = "count"
	AssertExists  = "exists"
	AssertAbsent  = "absent"
	AssertValues  = "values"
	AssertRelated = "related"
)

// LoadScenario reads and parses a scenario YAML file. The schema path is
// resolved relative to the scenario file. Unknown fields are rejected.
func LoadScenario(fs vfs.FileSystem, path string) (*Scenario, error) {
	data, err := vfs.ReadFile(fs, path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}

	scenario, err := ParseScenario(data)
	if err != nil {
		return nil, err
	}

	if scenario.Schema != "" && !filepath.IsAbs(scenario.Schema) {
		scenario.Schema = filepath.Join(filepath.Dir(path), scenario.Schema)
	}
	if scenario.Schema != "" {
		if _, err := fs.Stat(scenario.Schema); err != nil {
			return nil, fmt.Errorf("invalid scenario: schema file: %w", err)
		}
	}
	return scenario, nil
}

// ParseScenario parses and validates scenario YAML.
func ParseScenario(data []byte) (*Scenario, error) {
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

// validateScenario checks the structure of a scenario. Names are checked
// against the schema when the scenario runs.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if len(s.Steps) == 0 {
		return fmt.Errorf("steps list is required and must be non-empty")
	}

	sessions := map[string]bool{MainSession: true}
	for i, decl := range s.Sessions {
		if decl.Name == "" {
			return fmt.Errorf("sessions[%d]: name is required", i)
		}
		if sessions[decl.Name] {
			return fmt.Errorf("sessions[%d]: duplicate session %q", i, decl.Name)
		}
		if !sessions[decl.Parent] {
			return fmt.Errorf("sessions[%d]: parent %q must be declared first", i, decl.Parent)
		}
		sessions[decl.Name] = true
	}

	aliases := map[string]bool{}
	for i, step := range s.Steps {
		if step.Session != "" && !sessions[step.Session] {
			return fmt.Errorf("steps[%d]: unknown session %q", i, step.Session)
		}
		if err := validateStep(step, aliases); err != nil {
			return fmt.Errorf("steps[%d]: %w", i, err)
		}
	}

	for i, a := range s.Assertions {
		if err := validateAssertion(a, aliases); err != nil {
			return fmt.Errorf("assertions[%d]: %w", i, err)
		}
	}
	return nil
}

func validateStep(step Step, aliases map[string]bool) error {
	ops := 0
	count := func(set bool) {
		if set {
			ops++
		}
	}
	count(step.Create != nil)
	count(step.Set != nil)
	count(step.Link != nil)
	count(step.Unlink != nil)
	count(step.Delete != "")
	count(step.Save)
	count(step.Rollback)
	count(step.Fetch != nil)
	count(step.Aggregate != nil)
	count(step.BatchUpdate != nil)
	count(step.BatchDelete != nil)
	if ops != 1 {
		return fmt.Errorf("exactly one operation is required, found %d", ops)
	}

	known := func(alias string) error {
		if alias == "" {
			return fmt.Errorf("object is required")
		}
		if !aliases[alias] {
			return fmt.Errorf("unknown object %q", alias)
		}
		return nil
	}

	switch {
	case step.Create != nil:
		c := step.Create
		if c.Entity == "" || c.As == "" {
			return fmt.Errorf("create: entity and as are required")
		}
		if aliases[c.As] {
			return fmt.Errorf("create: alias %q is already in use", c.As)
		}
		for _, target := range c.Link {
			if err := known(target); err != nil {
				return fmt.Errorf("create: %w", err)
			}
		}
		aliases[c.As] = true
	case step.Set != nil:
		if len(step.Set.Values) == 0 {
			return fmt.Errorf("set: values are required")
		}
		return known(step.Set.Object)
	case step.Link != nil, step.Unlink != nil:
		l := step.Link
		if l == nil {
			l = step.Unlink
		}
		if l.Relationship == "" {
			return fmt.Errorf("relationship is required")
		}
		if err := known(l.Object); err != nil {
			return err
		}
		return known(l.Target)
	case step.Delete != "":
		return known(step.Delete)
	case step.Fetch != nil:
		if step.Fetch.Entity == "" {
			return fmt.Errorf("fetch: entity is required")
		}
		for _, alias := range step.Fetch.Expect {
			if err := known(alias); err != nil {
				return fmt.Errorf("fetch: %w", err)
			}
		}
	case step.Aggregate != nil:
		if step.Aggregate.Entity == "" || len(step.Aggregate.Expressions) == 0 {
			return fmt.Errorf("aggregate: entity and expressions are required")
		}
	case step.BatchUpdate != nil, step.BatchDelete != nil:
		b := step.BatchUpdate
		if b == nil {
			b = step.BatchDelete
		}
		if b.Entity == "" {
			return fmt.Errorf("batch: entity is required")
		}
		if step.BatchUpdate != nil && len(b.Set) == 0 {
			return fmt.Errorf("batch_update: set is required")
		}
		if step.BatchDelete != nil && len(b.Set) > 0 {
			return fmt.Errorf("batch_delete: set is not allowed")
		}
		for _, alias := range b.Expect {
			if err := known(alias); err != nil {
				return fmt.Errorf("batch: %w", err)
			}
		}
	}
	return nil
}

// validateAssertion validates a single assertion based on its type.
func validateAssertion(a Assertion, aliases map[string]bool) error {
	object := func() error {
		if a.Object == "" {
			return fmt.Errorf("object is required for %s", a.Type)
		}
		if !aliases[a.Object] {
			return fmt.Errorf("unknown object %q", a.Object)
		}
		return nil
	}

	switch a.Type {
	case "":
		return fmt.Errorf("type is required")
	case AssertCount:
		if a.Entity == "" {
			return fmt.Errorf("entity is required for count")
		}
		if a.Count < 0 {
			return fmt.Errorf("count must be non-negative")
		}
	case AssertExists, AssertAbsent:
		return object()
	case AssertValues:
		if len(a.Values) == 0 {
			return fmt.Errorf("values are required for values")
		}
		return object()
	case AssertRelated:
		if a.Relationship == "" {
			return fmt.Errorf("relationship is required for related")
		}
		for _, t := range a.Targets {
			if !aliases[t] {
				return fmt.Errorf("unknown object %q", t)
			}
		}
		return object()
	default:
		return fmt.Errorf("unknown assertion type %q", a.Type)
	}
	return nil
}
