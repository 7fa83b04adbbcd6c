package harness

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunWithGolden_LibraryBasics(t *testing.T) {
	// Regenerate with:
	//   go test ./internal/harness -run TestRunWithGolden_LibraryBasics -update
	result, err := RunWithGolden(t, loadTestScenario(t, "library_basics"))
	require.NoError(t, err)
	assert.True(t, result.Pass, "errors: %v", result.Errors)
}

func TestMarshalSnapshot_Deterministic(t *testing.T) {
	scenario := loadTestScenario(t, "batch_operations")

	first, err := Run(context.Background(), scenario)
	require.NoError(t, err)
	second, err := Run(context.Background(), scenario)
	require.NoError(t, err)

	a, err := MarshalSnapshot(scenario.Name, first)
	require.NoError(t, err)
	b, err := MarshalSnapshot(scenario.Name, second)
	require.NoError(t, err)
	assert.Equal(t, string(a), string(b))
	assert.Equal(t, byte('\n'), a[len(a)-1])

	var snap Snapshot
	require.NoError(t, json.Unmarshal(a, &snap))
	assert.Equal(t, "batch_operations", snap.Scenario)
	require.Len(t, snap.Steps, 13)
	assert.Equal(t, []string{"yesterday"}, snap.Steps[6].Matched)
	assert.Equal(t, "BATCH_CONFLICT", snap.Steps[9].Error)
	assert.NotContains(t, snap.State, "Playlist")
	assert.NotContains(t, string(a), "Song/")
}
