package harness

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/replaylab/unscramble/internal/phase"
	"github.com/replaylab/unscramble/internal/rule"
	"github.com/replaylab/unscramble/internal/sequence"
	"github.com/replaylab/unscramble/internal/session"
)

func loadTestScenario(t *testing.T, name string) *Scenario {
	t.Helper()
	scenario, err := LoadScenario(filepath.Join("testdata", "scenarios", name))
	require.NoError(t, err)
	return scenario
}

func runScenario(t *testing.T, name string) *Result {
	t.Helper()
	scenario := loadTestScenario(t, name)
	result, err := Run(scenario, t.TempDir())
	require.NoError(t, err)
	for _, assertErr := range Check(scenario, result) {
		t.Errorf("%s: %v", scenario.Name, assertErr)
	}
	return result
}

func TestLoadScenario(t *testing.T) {
	scenario := loadTestScenario(t, "full-session.yaml")

	assert.Equal(t, "full-session-always-correct", scenario.Name)
	assert.Equal(t, "p100", scenario.Participant)
	assert.Equal(t, []string{"all"}, scenario.Phases)
	assert.Equal(t, RespondAlwaysCorrect, scenario.Respond)
	assert.NotEmpty(t, scenario.Assertions)
}

func TestLoadScenarioRejectsInvalid(t *testing.T) {
	cases := map[string]string{
		"unknown field": `
name: x
description: d
participant: p
phases: [training]
respond: always-correct
bogus: true
`,
		"missing participant": `
name: x
description: d
phases: [training]
respond: always-correct
`,
		"empty phases": `
name: x
description: d
participant: p
phases: []
respond: always-correct
`,
		"unknown respond policy": `
name: x
description: d
participant: p
phases: [training]
respond: sometimes
`,
		"no policy and no responses": `
name: x
description: d
participant: p
phases: [training]
`,
		"response step with two actions": `
name: x
description: d
participant: p
phases: [training]
responses:
  - correct: true
    abort: true
`,
		"unknown assertion type": `
name: x
description: d
participant: p
phases: [training]
respond: always-correct
assertions:
  - type: vibe_check
`,
		"states assertion without states": `
name: x
description: d
participant: p
phases: [training]
respond: always-correct
assertions:
  - type: states
    phase: training
`,
	}
	for label, body := range cases {
		t.Run(label, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "scenario.yaml")
			require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
			_, err := LoadScenario(path)
			assert.Error(t, err)
		})
	}
}

func TestFullSessionScenario(t *testing.T) {
	result := runScenario(t, "full-session.yaml")

	require.NoError(t, result.RunErr)
	require.Len(t, result.Report.Phases, 3)
	assert.Equal(t, "run-1", result.Report.Phases[0].RunToken)
	assert.Equal(t, "run-3", result.Report.Phases[2].RunToken)
	assert.NotEmpty(t, result.Trace)
}

func TestSixObjectScenario(t *testing.T) {
	result := runScenario(t, "six-objects.yaml")

	require.NoError(t, result.RunErr)
	require.Len(t, result.Report.Phases, 3)
	assert.Equal(t, 6, result.Report.State.NumObjects())
}

func TestTimeoutScenario(t *testing.T) {
	result := runScenario(t, "timeout.yaml")

	require.NoError(t, result.RunErr, "a missed criterion is not an error")
	pr := result.PhaseResult(rule.PhaseTraining)
	require.NotNil(t, pr)
	assert.Equal(t, 2, pr.Attempts)
	for _, o := range pr.Outcomes {
		assert.True(t, o.TimedOut)
		assert.Nil(t, o.ReactionTime)
		assert.Empty(t, o.Response)
	}
}

func TestAbortScenario(t *testing.T) {
	result := runScenario(t, "abort.yaml")

	require.NoError(t, result.RunErr, "an abort is a normal stop")
	assert.Empty(t, result.CompletedPhases)
}

func TestPrerequisiteFailureSurfacesInRunErr(t *testing.T) {
	scenario := &Scenario{
		Name:        "prerequisite-failure",
		Participant: "p400",
		Phases:      []string{"applied-learning"},
		Respond:     RespondAlwaysCorrect,
	}

	result, err := Run(scenario, t.TempDir())
	require.NoError(t, err, "a failed session is still a harness success")

	var prereqErr *session.PrerequisiteNotCompletedError
	require.ErrorAs(t, result.RunErr, &prereqErr)
	assert.Equal(t, rule.PhaseTraining, prereqErr.Missing)
	assert.Empty(t, result.Report.Phases)
	assert.Empty(t, result.CompletedPhases)
	assert.Empty(t, result.Trace, "nothing is presented before the check")
}

func TestScenarioIsDeterministic(t *testing.T) {
	scenario := loadTestScenario(t, "full-session.yaml")

	first, err := Run(scenario, t.TempDir())
	require.NoError(t, err)
	second, err := Run(scenario, t.TempDir())
	require.NoError(t, err)

	assert.Equal(t, first.Trace, second.Trace)

	a, err := Snapshot(scenario, first).Marshal()
	require.NoError(t, err)
	b, err := Snapshot(scenario, second).Marshal()
	require.NoError(t, err)
	assert.Equal(t, string(a), string(b))
}

func TestCheckReportsFailures(t *testing.T) {
	rt := time.Second
	result := &Result{
		Report: &session.Report{
			ParticipantID: "p9",
			Phases: []session.PhaseReport{{
				RunToken: "run-1",
				Phase:    rule.PhaseTraining,
				Result: &phase.Result{
					Phase: rule.PhaseTraining,
					States: []phase.State{
						phase.StateInstructions, phase.StateRunningTrials,
						phase.StateCriterionCheck, phase.StateComplete,
					},
					Outcomes: []phase.Outcome{
						{TrialIndex: 0, Seq: 1, Kind: sequence.KindSequenceQuiz, Expected: "left", Response: "left", Correct: true, ReactionTime: &rt},
						{TrialIndex: 1, Seq: 2, Kind: sequence.KindOrderQuiz, Expected: "right", Response: "left", ReactionTime: &rt},
					},
					Attempts: 1,
				},
			}},
		},
	}

	scenario := &Scenario{
		Name: "check-failures",
		Assertions: []Assertion{
			{Type: AssertTrialsTotal, Phase: "training", Count: 5},
			{Type: AssertAccuracy, Phase: "training", Value: 1.0},
			{Type: AssertCriterionMet, Phase: "training", Expect: true},
			{Type: AssertTrialsTotal, Phase: "structure-learning", Count: 1},
			{Type: AssertCompletedPhases, Phases: []string{"training"}},
		},
	}
	errs := Check(scenario, result)
	assert.Len(t, errs, 5)

	passing := &Scenario{
		Name: "check-passes",
		Assertions: []Assertion{
			{Type: AssertTrialsTotal, Phase: "training", Count: 2},
			{Type: AssertAccuracy, Phase: "training", Value: 0.5},
			{Type: AssertStates, Phase: "training", States: []string{
				"INSTRUCTIONS", "RUNNING_TRIALS", "CRITERION_CHECK", "COMPLETE",
			}},
		},
	}
	assert.Empty(t, Check(passing, result))
}

func TestSnapshotGolden(t *testing.T) {
	rt := 800 * time.Millisecond
	result := &Result{
		Report: &session.Report{
			ParticipantID: "p9",
			Phases: []session.PhaseReport{{
				RunToken: "run-1",
				Phase:    rule.PhaseTraining,
				Result: &phase.Result{
					Phase: rule.PhaseTraining,
					States: []phase.State{
						phase.StateInstructions, phase.StateRunningTrials,
						phase.StateCriterionCheck, phase.StateComplete,
					},
					Outcomes: []phase.Outcome{
						{TrialIndex: 0, Seq: 1, Kind: sequence.KindSequenceQuiz, Expected: "left", Response: "left", Correct: true, ReactionTime: &rt},
						{TrialIndex: 1, Seq: 2, Kind: sequence.KindOrderQuiz, Expected: "right", Response: "left", Correct: false, ReactionTime: &rt},
					},
					Attempts: 1,
				},
			}},
		},
		Trace: []string{
			`instructions phase=training lines=4`,
			`ask kind=sequence-quiz probe=fig stimuli=banana,papaya -> key="left" timeout=false`,
			`ask kind=order-quiz probe=banana stimuli=papaya,fig -> key="left" timeout=false`,
		},
	}
	scenario := &Scenario{Name: "snapshot-demo", Participant: "p9"}

	data, err := Snapshot(scenario, result).Marshal()
	require.NoError(t, err)

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, scenario.Name, data)
}
