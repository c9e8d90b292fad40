package cli

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeScenario(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

const passingScenario = `
name: sim-smoke
description: A perfect participant finishes training.
participant: sim1
phases:
  - training
respond: always-correct
assertions:
  - type: criterion_met
    phase: training
    expect: true
  - type: accuracy
    phase: training
    value: 1.0
`

const failingScenario = `
name: sim-broken
description: Asserts an impossible trial count.
participant: sim2
phases:
  - training
respond: always-correct
assertions:
  - type: trials_total
    phase: training
    count: 999
`

func TestSimulatePassingScenario(t *testing.T) {
	path := writeScenario(t, "smoke.yaml", passingScenario)

	out, _, err := execute(t, nil, "simulate", path)
	require.NoError(t, err)
	assert.Contains(t, out, "ok   sim-smoke")
	assert.Contains(t, out, "1 passed, 0 failed, 1 total")
}

func TestSimulateFailingScenario(t *testing.T) {
	path := writeScenario(t, "broken.yaml", failingScenario)

	out, _, err := execute(t, nil, "simulate", path)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, "FAIL sim-broken")
	assert.Contains(t, out, "trials_total")
}

func TestSimulateMixedScenarios(t *testing.T) {
	pass := writeScenario(t, "smoke.yaml", passingScenario)
	fail := writeScenario(t, "broken.yaml", failingScenario)

	out, _, err := execute(t, nil, "simulate", pass, fail)
	require.Error(t, err)
	assert.Contains(t, out, "1 passed, 1 failed, 2 total")
}

func TestSimulateUnreadableScenarioCountsAsFailure(t *testing.T) {
	_, _, err := execute(t, nil, "simulate", filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
}

func TestSimulateJSON(t *testing.T) {
	path := writeScenario(t, "smoke.yaml", passingScenario)

	out, _, err := execute(t, nil, "--format", "json", "simulate", path)
	require.NoError(t, err)
	assert.Contains(t, out, `"status": "ok"`)
	assert.Contains(t, out, `"name": "sim-smoke"`)
}
