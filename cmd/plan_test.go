// File: cmd/plan_test.go
package cmd

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/karavolt/deskpilot-cli/api/schemas"
)

func TestReadActionInputs_ParsesRoutingFlags(t *testing.T) {
	path := filepath.Join(t.TempDir(), "actions.json")
	raw := `[
  {"type": "fs.write_file", "params": {"path": "draft.txt", "content": "x"}, "preview_only": true},
  {"type": "ui.automation", "params": {"objective": "export the sheet"}, "sandbox_only": true, "fallback_eligible": true}
]`
	require.NoError(t, os.WriteFile(path, []byte(raw), 0o644))

	inputs, err := readActionInputs(path)
	require.NoError(t, err)
	require.Len(t, inputs, 2)
	assert.True(t, inputs[0].PreviewOnly)
	assert.False(t, inputs[0].SandboxOnly)
	assert.True(t, inputs[1].SandboxOnly)
	assert.True(t, inputs[1].FallbackEligible)
}

func TestBuildActions_CarriesRoutingFlags(t *testing.T) {
	inputs := []actionInput{
		{Type: "fs.write_file", Params: map[string]string{"path": "draft.txt", "content": "x"}, PreviewOnly: true},
		{Type: "ui.automation", Params: map[string]string{"objective": "export the sheet"}, SandboxOnly: true, FallbackEligible: true},
	}

	actions := buildActions(inputs)
	require.Len(t, actions, 2)
	assert.Equal(t, schemas.ActionFSWriteFile, actions[0].Type)
	assert.True(t, actions[0].PreviewOnly, "preview_only survives into the drafted action")
	assert.False(t, actions[0].SandboxOnly)
	assert.True(t, actions[1].SandboxOnly)
	assert.True(t, actions[1].FallbackEligible)
	assert.NotEmpty(t, actions[0].ID)
	assert.NotEqual(t, actions[0].ID, actions[1].ID)
}
