package harness

import (
	"context"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"time"

	"github.com/replaylab/unscramble/internal/config"
	"github.com/replaylab/unscramble/internal/phase"
	"github.com/replaylab/unscramble/internal/present"
	"github.com/replaylab/unscramble/internal/rule"
	"github.com/replaylab/unscramble/internal/sequence"
	"github.com/replaylab/unscramble/internal/session"
	"github.com/replaylab/unscramble/internal/store"
)

// Result is a finished scenario execution.
type Result struct {
	Report          *session.Report
	Trace           []string
	CompletedPhases []rule.Phase
	RunErr          error // the orchestrator error, if the session ended early
}

// PhaseResult returns the result for a phase, or nil if it never ran.
func (r *Result) PhaseResult(ph rule.Phase) *phase.Result {
	if r.Report == nil {
		return nil
	}
	for _, pr := range r.Report.Phases {
		if pr.Phase == ph {
			return pr.Result
		}
	}
	return nil
}

// Run executes a scenario in workDir (stores live under it and are the
// caller's to clean up). The returned error covers harness failures;
// session-level errors land in Result.RunErr so assertions can inspect
// sessions that were supposed to end early.
func Run(scenario *Scenario, workDir string) (*Result, error) {
	cfg, err := loadScenarioConfig(scenario, workDir)
	if err != nil {
		return nil, err
	}

	var phases []rule.Phase
	for _, selector := range scenario.Phases {
		sel, err := session.PhasesFor(selector)
		if err != nil {
			return nil, fmt.Errorf("scenario %s: %w", scenario.Name, err)
		}
		phases = append(phases, sel...)
	}

	records, err := store.NewRuleRecords(filepath.Join(workDir, "state"))
	if err != nil {
		return nil, err
	}
	results, err := store.Open(filepath.Join(workDir, "results.db"))
	if err != nil {
		return nil, err
	}
	defer results.Close()

	presenter := present.NewScripted(scenarioResponder(scenario))

	// Deterministic collaborators: fixed tokens and a stepping clock.
	tokens := make([]string, 0, len(phases))
	for i := range phases {
		tokens = append(tokens, fmt.Sprintf("run-%d", i+1))
	}
	base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	tick := 0
	now := func() time.Time {
		tick++
		return base.Add(time.Duration(tick) * time.Second)
	}

	orch := session.New(cfg, records, results, presenter, session.Options{
		Tokens: session.NewFixedGenerator(tokens...),
		Now:    now,
	})

	report, runErr := orch.Run(context.Background(), scenario.Participant, phases)

	result := &Result{Report: report, Trace: presenter.Trace(), RunErr: runErr}
	if report != nil {
		completed, err := results.CompletedPhases(context.Background(), scenario.Participant)
		if err != nil {
			return nil, err
		}
		result.CompletedPhases = completed
	}
	return result, nil
}

func loadScenarioConfig(scenario *Scenario, workDir string) (*config.Config, error) {
	if scenario.Config == "" {
		return config.Load("")
	}
	path := filepath.Join(workDir, "scenario-config.cue")
	if err := os.WriteFile(path, []byte(scenario.Config), 0o644); err != nil {
		return nil, fmt.Errorf("write scenario config: %w", err)
	}
	return config.Load(path)
}

// scenarioResponder builds the presenter's response function: explicit
// steps first, then the policy.
func scenarioResponder(scenario *Scenario) present.RespondFunc {
	steps := append([]ResponseStep(nil), scenario.Responses...)

	policy := present.AlwaysCorrect(time.Second)
	switch scenario.Respond {
	case RespondAlwaysWrong:
		policy = present.AlwaysWrong(time.Second)
	case RespondAlwaysTimeout:
		policy = present.AlwaysTimeout()
	}

	return func(trial sequence.Trial) present.Response {
		if len(steps) == 0 {
			return policy(trial)
		}
		step := steps[0]
		steps = steps[1:]

		switch {
		case step.Abort:
			return present.Response{Abort: true}
		case step.Timeout:
			return present.Response{TimedOut: true}
		case step.Correct:
			return present.Response{Key: trial.Expected, ReactionTime: time.Second}
		default:
			return present.Response{Key: step.Key, ReactionTime: time.Second}
		}
	}
}

// Check evaluates the scenario's assertions against a result. All
// failures are returned, not just the first.
func Check(scenario *Scenario, result *Result) []error {
	var errs []error
	fail := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf(format, args...))
	}

	phaseResult := func(name string) *phase.Result {
		ph, err := rule.ParsePhase(name)
		if err != nil {
			fail("assertion references %s", err)
			return nil
		}
		pr := result.PhaseResult(ph)
		if pr == nil {
			fail("phase %s never ran", name)
		}
		return pr
	}

	for _, a := range scenario.Assertions {
		switch a.Type {
		case AssertTrialsTotal:
			if pr := phaseResult(a.Phase); pr != nil && pr.TrialsTotal() != a.Count {
				fail("%s: trials_total = %d, want %d", a.Phase, pr.TrialsTotal(), a.Count)
			}
		case AssertAccuracy:
			if pr := phaseResult(a.Phase); pr != nil && math.Abs(pr.Accuracy()-a.Value) > 1e-9 {
				fail("%s: accuracy = %g, want %g", a.Phase, pr.Accuracy(), a.Value)
			}
		case AssertCriterionMet:
			if pr := phaseResult(a.Phase); pr != nil && pr.CriterionMet != a.Expect {
				fail("%s: criterion_met = %t, want %t", a.Phase, pr.CriterionMet, a.Expect)
			}
		case AssertAborted:
			if pr := phaseResult(a.Phase); pr != nil && pr.UserAborted != a.Expect {
				fail("%s: aborted = %t, want %t", a.Phase, pr.UserAborted, a.Expect)
			}
		case AssertStates:
			pr := phaseResult(a.Phase)
			if pr == nil {
				continue
			}
			got := make([]string, len(pr.States))
			for i, s := range pr.States {
				got[i] = string(s)
			}
			if !equalStrings(got, a.States) {
				fail("%s: states = %v, want %v", a.Phase, got, a.States)
			}
		case AssertCompletedPhases:
			got := make([]string, len(result.CompletedPhases))
			for i, ph := range result.CompletedPhases {
				got[i] = string(ph)
			}
			if !equalStrings(got, a.Phases) {
				fail("completed_phases = %v, want %v", got, a.Phases)
			}
		}
	}
	return errs
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
