package cli

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func runCLI(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	var out, errOut bytes.Buffer
	cmd := NewRootCommand()
	cmd.SetArgs(args)
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	err := cmd.Execute()
	return out.String(), errOut.String(), err
}

func TestValidate_ValidManifest(t *testing.T) {
	out, _, err := runCLI(t, "validate", "testdata/valid")
	require.NoError(t, err)

	assert.Contains(t, out, "ok: 2 goal(s) derivable")
	assert.Contains(t, out, "Int")
	assert.Contains(t, out, "String")
}

func TestValidate_ValidManifestJSON(t *testing.T) {
	out, _, err := runCLI(t, "--format", "json", "validate", "testdata/valid")
	require.NoError(t, err)

	var resp CLIResponse
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "ok", resp.Status)

	data, err := json.Marshal(resp.Data)
	require.NoError(t, err)
	var result ValidationResult
	require.NoError(t, json.Unmarshal(data, &result))
	assert.True(t, result.Valid)
	require.Len(t, result.Goals, 2)
	for _, g := range result.Goals {
		assert.Equal(t, "ok", g.Status)
	}
}

func TestValidate_MissingRule(t *testing.T) {
	out, _, err := runCLI(t, "validate", "testdata/missing")
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))

	assert.Contains(t, out, "validation failed")
	assert.Contains(t, out, "missing-rule")
}

func TestValidate_MissingRuleSatisfiedByGiven(t *testing.T) {
	out, _, err := runCLI(t, "validate", "testdata/missing", "--given", "Int")
	require.NoError(t, err)
	assert.Contains(t, out, "ok: 1 goal(s) derivable")
}

func TestValidate_AmbiguousRule(t *testing.T) {
	out, _, err := runCLI(t, "--format", "json", "validate", "testdata/ambiguous", "--given", "String,Bool")
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))

	var resp CLIResponse
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "error", resp.Status)
	require.NotNil(t, resp.Error)
	assert.Equal(t, ErrCodeAmbiguousRule, resp.Error.Code)
}

func TestValidate_UnknownGivenType(t *testing.T) {
	_, _, err := runCLI(t, "validate", "testdata/valid", "--given", "Nope")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestValidate_MissingDirectory(t *testing.T) {
	_, _, err := runCLI(t, "validate", "testdata/does-not-exist")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestGraph_Text(t *testing.T) {
	out, _, err := runCLI(t, "graph", "testdata/valid", "--goal", "String")
	require.NoError(t, err)

	assert.Contains(t, out, "render -> String")
	assert.Contains(t, out, "base-int -> Int")
}

func TestGraph_JSON(t *testing.T) {
	out, _, err := runCLI(t, "--format", "json", "graph", "testdata/valid", "--goal", "String")
	require.NoError(t, err)

	var resp CLIResponse
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "ok", resp.Status)

	data, err := json.Marshal(resp.Data)
	require.NoError(t, err)
	var result GraphResult
	require.NoError(t, json.Unmarshal(data, &result))

	assert.Equal(t, "String", result.Goal)
	assert.Equal(t, "render", result.Root)
	require.Len(t, result.Nodes, 2)
	assert.Equal(t, "base-int", result.Nodes[0].Rule)
	assert.Equal(t, "render", result.Nodes[1].Rule)
	require.Len(t, result.Nodes[1].Inputs, 1)
	assert.Equal(t, "n", result.Nodes[1].Inputs[0].Param)
	assert.Equal(t, "rule", result.Nodes[1].Inputs[0].Source)
	assert.Equal(t, "base-int", result.Nodes[1].Inputs[0].From)
}

func TestGraph_GivenBindsRoot(t *testing.T) {
	out, _, err := runCLI(t, "graph", "testdata/missing", "--goal", "String", "--given", "Int")
	require.NoError(t, err)
	assert.Contains(t, out, "render -> String")
	assert.Contains(t, out, "given")
}

func TestGraph_MissingRule(t *testing.T) {
	_, _, err := runCLI(t, "graph", "testdata/missing", "--goal", "String")
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
}

func TestGraph_UnknownGoal(t *testing.T) {
	_, _, err := runCLI(t, "graph", "testdata/valid", "--goal", "Nope")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestRoot_InvalidFormat(t *testing.T) {
	_, _, err := runCLI(t, "--format", "xml", "validate", "testdata/valid")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid format")
}
