package harness

import (
	"strings"
	"testing"

	"github.com/sebdah/goldie/v2"
	"gopkg.in/yaml.v3"
)

// TraceSnapshot is the serialized form of a scenario execution, stable
// across runs for the same scenario.
type TraceSnapshot struct {
	ScenarioName string          `yaml:"scenario_name"`
	Participant  string          `yaml:"participant"`
	Phases       []PhaseSnapshot `yaml:"phases"`
	Trace        []string        `yaml:"trace"`
}

// PhaseSnapshot summarizes one phase run inside a snapshot. States is
// the traversal order joined with spaces, one line per phase.
type PhaseSnapshot struct {
	Phase         string `yaml:"phase"`
	RunToken      string `yaml:"run_token"`
	TrialsTotal   int    `yaml:"trials_total"`
	TrialsCorrect int    `yaml:"trials_correct"`
	CriterionMet  bool   `yaml:"criterion_met"`
	Aborted       bool   `yaml:"aborted"`
	States        string `yaml:"states"`
}

// Snapshot converts a result into its serializable form.
func Snapshot(scenario *Scenario, result *Result) *TraceSnapshot {
	snap := &TraceSnapshot{
		ScenarioName: scenario.Name,
		Participant:  scenario.Participant,
		Trace:        result.Trace,
	}
	if result.Report == nil {
		return snap
	}
	for _, pr := range result.Report.Phases {
		states := make([]string, len(pr.Result.States))
		for i, s := range pr.Result.States {
			states[i] = string(s)
		}
		snap.Phases = append(snap.Phases, PhaseSnapshot{
			Phase:         string(pr.Phase),
			RunToken:      pr.RunToken,
			TrialsTotal:   pr.Result.TrialsTotal(),
			TrialsCorrect: pr.Result.TrialsCorrect(),
			CriterionMet:  pr.Result.CriterionMet,
			Aborted:       pr.Result.UserAborted,
			States:        strings.Join(states, " "),
		})
	}
	return snap
}

// Marshal renders the snapshot as YAML.
func (s *TraceSnapshot) Marshal() ([]byte, error) {
	return yaml.Marshal(s)
}

// RunWithGolden executes a scenario, requires its assertions to pass,
// and compares the trace snapshot against
// testdata/golden/{scenario.Name}.golden.
//
// To regenerate golden files, run:
//
//	go test ./internal/harness -update
func RunWithGolden(t *testing.T, scenario *Scenario, workDir string) *Result {
	t.Helper()

	result, err := Run(scenario, workDir)
	if err != nil {
		t.Fatalf("scenario %s: %v", scenario.Name, err)
	}
	for _, assertErr := range Check(scenario, result) {
		t.Errorf("scenario %s: %v", scenario.Name, assertErr)
	}

	data, err := Snapshot(scenario, result).Marshal()
	if err != nil {
		t.Fatalf("scenario %s: marshal snapshot: %v", scenario.Name, err)
	}

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, scenario.Name, data)
	return result
}
