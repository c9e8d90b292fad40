package cli

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.cue")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestValidateDefaults(t *testing.T) {
	out, _, err := execute(t, nil, "validate")
	require.NoError(t, err)
	assert.Contains(t, out, "Config valid")
	assert.Contains(t, out, "8 objects, alternating rule")
}

func TestValidateRejectsOddObjectCount(t *testing.T) {
	path := writeConfig(t, "num_objects: 7\n")

	out, _, err := execute(t, nil, "--config", path, "validate")
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, "E006")
}

func TestValidateRejectsOutOfRangeObjectCount(t *testing.T) {
	path := writeConfig(t, "num_objects: 100\n")

	_, _, err := execute(t, nil, "--config", path, "validate")
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
}

func TestValidateMissingConfigFile(t *testing.T) {
	out, _, err := execute(t, nil, "--config", filepath.Join(t.TempDir(), "nope.cue"), "validate")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, out, "E002")
}

func TestValidateJSON(t *testing.T) {
	out, _, err := execute(t, nil, "--format", "json", "validate")
	require.NoError(t, err)
	assert.Contains(t, out, `"num_objects": 8`)
}
