package harness

// StepOutcome records what one step did. Objects are reported by alias,
// never by id, so outcomes are stable across runs.
type StepOutcome struct {
	Step    int    `json:"step"`
	Session string `json:"session"`
	Op      string `json:"op"`
	Object  string `json:"object,omitempty"`

	// Error is the error code the step failed with, empty on success.
	Error string `json:"error,omitempty"`

	Matched []string       `json:"matched,omitempty"`
	Values  map[string]any `json:"values,omitempty"`
}

// Result is the outcome of a scenario run.
type Result struct {
	// Pass is true when every step and assertion held.
	Pass bool `json:"pass"`

	Steps []StepOutcome `json:"steps"`

	// Errors contains failure messages. Empty if Pass is true.
	Errors []string `json:"errors,omitempty"`

	// State is the saved state after all steps, keyed by entity.
	State map[string][]ObjectState `json:"state"`
}

// ObjectState is one saved object.
type ObjectState struct {
	Object string              `json:"object"`
	Values map[string]any      `json:"values"`
	Links  map[string][]string `json:"links,omitempty"`
}

// NewResult creates a new passing result.
func NewResult() *Result {
	return &Result{
		Pass:   true,
		Steps:  []StepOutcome{},
		Errors: []string{},
		State:  make(map[string][]ObjectState),
	}
}

// AddError adds a failure message and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}
