package harness

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/mandelsoft/vfs/pkg/memoryfs"
	"github.com/mandelsoft/vfs/pkg/osfs"
	"github.com/mandelsoft/vfs/pkg/vfs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/roach88/objgraph/internal/graph"
	"github.com/roach88/objgraph/internal/query"
	"github.com/roach88/objgraph/internal/schema"
	"github.com/roach88/objgraph/internal/session"
)

func loadTestScenario(t *testing.T, name string) *Scenario {
	t.Helper()
	scenario, err := LoadScenario(osfs.New(), "testdata/scenarios/"+name+".yaml")
	require.NoError(t, err)
	return scenario
}

func parseTestScenario(t *testing.T, src string) *Scenario {
	t.Helper()
	scenario, err := ParseScenario([]byte(src))
	require.NoError(t, err)
	return scenario
}

func TestRun_Scenarios(t *testing.T) {
	for _, name := range []string{"library_basics", "nested_sessions", "batch_operations", "cascade_delete"} {
		t.Run(name, func(t *testing.T) {
			result, err := Run(context.Background(), loadTestScenario(t, name))
			require.NoError(t, err)
			assert.True(t, result.Pass, "errors: %v", result.Errors)
			assert.Empty(t, result.Errors)
		})
	}
}

func TestRun_NestedSessionsOutcomes(t *testing.T) {
	result, err := Run(context.Background(), loadTestScenario(t, "nested_sessions"))
	require.NoError(t, err)
	require.Len(t, result.Steps, 11)

	assert.Equal(t, StepOutcome{Step: 3, Session: "editor", Op: "fetch", Matched: []string{"hoppi"}}, result.Steps[2])
	assert.Equal(t, StepOutcome{Step: 7, Session: "editor", Op: "save"}, result.Steps[6])
	assert.Equal(t, map[string]any{"count": 0}, result.Steps[8].Values)
	assert.Empty(t, result.Steps[8].Matched)

	require.Len(t, result.State["Song"], 2)
	assert.Equal(t, "saeglopur", result.State["Song"][1].Object)
	assert.Equal(t, "Sæglópur", result.State["Song"][1].Values["name"])
	assert.Equal(t, []string{"sigur"}, result.State["Song"][1].Links["band"])
}

func TestRun_CascadeState(t *testing.T) {
	result, err := Run(context.Background(), loadTestScenario(t, "cascade_delete"))
	require.NoError(t, err)
	require.True(t, result.Pass, "errors: %v", result.Errors)

	assert.NotContains(t, result.State, "Shelf")
	assert.Equal(t, []ObjectState{{
		Object: "loose",
		Values: map[string]any{"title": "Loose Leaf", "pages": int64(0)},
	}}, result.State["Book"])
}

func TestRun_ReportsUnexpectedErrors(t *testing.T) {
	scenario := parseTestScenario(t, `
name: unexpected
description: A save that fails without expect_error fails the run.
steps:
  - create: {entity: Song, as: nameless}
  - save: true
`)
	result, err := Run(context.Background(), scenario)
	require.NoError(t, err)
	assert.False(t, result.Pass)
	require.Len(t, result.Errors, 1)
	assert.Contains(t, result.Errors[0], "step 2 (save)")
	assert.Equal(t, "VALIDATION", result.Steps[1].Error)
	assert.Empty(t, result.State)
}

func TestRun_ReportsWrongExpectations(t *testing.T) {
	scenario := parseTestScenario(t, `
name: wrong
description: Expectations that do not hold are reported per step.
steps:
  - create: {entity: Band, as: a, values: {name: A}}
  - save: true
    expect_error: VALIDATION
  - delete: a
    expect_error: REFERENTIAL_INTEGRITY
  - fetch: {entity: Band, expect: [a], count: 2}
  - aggregate: {entity: Band, expressions: ["n=count"], expect: {n: 5, missing: 1}}
  - create: {entity: Band, as: b, values: {name: 7}}
    expect_error: VALIDATION
`)
	result, err := Run(context.Background(), scenario)
	require.NoError(t, err)
	assert.False(t, result.Pass)
	assert.Equal(t, []string{
		"step 2 (save): expected error VALIDATION, step succeeded",
		"step 3 (delete): expected error REFERENTIAL_INTEGRITY, step succeeded",
		"step 4 (fetch): expected [a], matched []",
		"step 4 (fetch): expected count 2, got 0",
		"step 5 (aggregate): no aggregate named missing",
		"step 5 (aggregate): n: expected int 5, got int 0",
	}, result.Errors[:6])
	require.Len(t, result.Errors, 7)
	assert.Contains(t, result.Errors[6], "step 6 (create): expected error VALIDATION, got SCHEMA")
}

func TestRun_UnknownNamesAreSchemaErrors(t *testing.T) {
	scenario := parseTestScenario(t, `
name: unknown_names
description: Names the schema does not know fail with SCHEMA.
steps:
  - create: {entity: Drummer, as: ringo}
    expect_error: SCHEMA
  - create: {entity: Band, as: b, values: {genre: rock}}
    expect_error: SCHEMA
  - fetch: {entity: Band, where: ["genre == rock"]}
    expect_error: SCHEMA
  - fetch: {entity: Band, where: ["name"]}
    expect_error: SYNTAX
  - aggregate: {entity: Band, expressions: ["total=sum(name)"]}
    expect_error: SCHEMA
  - batch_update: {entity: Band, set: {name: null}}
    expect_error: SCHEMA
`)
	result, err := Run(context.Background(), scenario)
	require.NoError(t, err)
	assert.True(t, result.Pass, "errors: %v", result.Errors)
}

func TestRun_ObjectsCreatedInChildAreInvisibleToParent(t *testing.T) {
	scenario := parseTestScenario(t, `
name: child_only
description: A child's unsaved objects cannot be used from its parent.
sessions:
  - name: child
    parent: main
steps:
  - session: child
    create: {entity: Band, as: b}
  - delete: b
    expect_error: NOT_FOUND
  - session: child
    rollback: true
  - session: child
    delete: b
    expect_error: NOT_FOUND
`)
	result, err := Run(context.Background(), scenario)
	require.NoError(t, err)
	assert.True(t, result.Pass, "errors: %v", result.Errors)
}

func TestRun_CustomSchemaFromFileSystem(t *testing.T) {
	fs := memoryfs.New()
	require.NoError(t, vfs.WriteFile(fs, "/notes.cue", []byte(`
entity: {
	Note: {
		attributes: {
			text: {type: "string"}
			stars: {type: "int", default: 1}
		}
	}
}
`), 0o644))
	require.NoError(t, vfs.WriteFile(fs, "/notes.yaml", []byte(`
name: notes
description: Scenarios can bring their own schema.
schema: notes.cue
steps:
  - create: {entity: Note, as: n, values: {text: hello}}
  - save: true
assertions:
  - {type: values, object: n, values: {text: hello, stars: 1}}
`), 0o644))

	scenario, err := LoadScenario(fs, "/notes.yaml")
	require.NoError(t, err)

	result, err := Run(context.Background(), scenario, WithFileSystem(fs))
	require.NoError(t, err)
	assert.True(t, result.Pass, "errors: %v", result.Errors)
	assert.Equal(t, map[string]any{"text": "hello", "stars": int64(1)}, result.State["Note"][0].Values)
}

func TestRun_BrokenSchema(t *testing.T) {
	fs := memoryfs.New()
	require.NoError(t, vfs.WriteFile(fs, "/broken.cue", []byte(`entity: { Note: { attributes: { text: {type: "blob"} } } }`), 0o644))

	scenario := parseTestScenario(t, "name: s\ndescription: d\nsteps:\n  - save: true\n")
	scenario.Schema = "/broken.cue"

	_, err := Run(context.Background(), scenario, WithFileSystem(fs))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to load schema")
	assert.True(t, schema.IsSchemaError(err))
}

func TestRun_LogsSteps(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)

	_, err := Run(context.Background(), loadTestScenario(t, "batch_operations"), WithLogger(zap.New(core)))
	require.NoError(t, err)

	steps := logs.FilterMessage("step").FilterField(zap.String("scenario", "batch_operations"))
	assert.Equal(t, 13, steps.Len())
	assert.Equal(t, 2, logs.FilterMessage("step").FilterField(zap.String("error", "BATCH_CONFLICT")).Len())
}

func TestErrorCode(t *testing.T) {
	id := graph.NewObjectID("Band")
	tests := []struct {
		err  error
		want string
	}{
		{nil, ""},
		{&session.ValidationError{}, "VALIDATION"},
		{fmt.Errorf("wrapped: %w", &session.ReferentialIntegrityError{ID: id}), "REFERENTIAL_INTEGRITY"},
		{&session.BatchOperationError{Entity: "Band", Err: errors.New("conflict")}, "BATCH_CONFLICT"},
		{&schema.SchemaError{Entity: "Band", Message: "unknown entity"}, "SCHEMA"},
		{&schema.DuplicateEntityError{Name: "Band"}, "SCHEMA"},
		{func() error { _, err := query.ParseLiteral("int", "x"); return err }(), "SYNTAX"},
		{fmt.Errorf("fire: %w", session.ErrObjectNotFound), "NOT_FOUND"},
		{session.ErrInstanceDeleted, "DELETED"},
		{session.ErrForeignInstance, "FOREIGN_INSTANCE"},
		{errors.New("boom"), "ERROR"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ErrorCode(tt.err), "%v", tt.err)
	}
}
