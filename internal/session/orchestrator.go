// Package session runs phases end to end for one participant: it loads
// or creates the rule record, enforces the phase order across
// calendar-day sessions, and persists every run to the results log.
package session

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/replaylab/unscramble/internal/config"
	"github.com/replaylab/unscramble/internal/phase"
	"github.com/replaylab/unscramble/internal/present"
	"github.com/replaylab/unscramble/internal/rule"
	"github.com/replaylab/unscramble/internal/sequence"
	"github.com/replaylab/unscramble/internal/store"
)

// PrerequisiteNotCompletedError reports an attempt to run a phase
// before an earlier phase has a completion record.
type PrerequisiteNotCompletedError struct {
	ParticipantID string
	Phase         rule.Phase
	Missing       rule.Phase
}

func (e *PrerequisiteNotCompletedError) Error() string {
	return fmt.Sprintf("participant %s cannot run %s: phase %s has not been completed",
		e.ParticipantID, e.Phase, e.Missing)
}

// PhaseReport pairs a run token with what the phase produced.
type PhaseReport struct {
	RunToken string
	Phase    rule.Phase
	Result   *phase.Result
}

// Report summarizes one orchestrator invocation.
type Report struct {
	ParticipantID string
	State         *rule.State
	Phases        []PhaseReport
}

// Options are the orchestrator's injectable collaborators.
type Options struct {
	Tokens TokenGenerator // defaults to UUIDv7Generator
	Logger *slog.Logger   // defaults to slog.Default
	Now    func() time.Time
}

// Orchestrator wires the store, sequencer, controller, and presenter
// together for one participant at a time.
type Orchestrator struct {
	cfg       *config.Config
	records   *store.RuleRecords
	results   *store.Store
	presenter present.Presenter
	tokens    TokenGenerator
	log       *slog.Logger
	now       func() time.Time
}

// New returns an Orchestrator. Zero-value Options get defaults.
func New(cfg *config.Config, records *store.RuleRecords, results *store.Store, presenter present.Presenter, opts Options) *Orchestrator {
	if opts.Tokens == nil {
		opts.Tokens = UUIDv7Generator{}
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Orchestrator{
		cfg:       cfg,
		records:   records,
		results:   results,
		presenter: presenter,
		tokens:    opts.Tokens,
		log:       opts.Logger,
		now:       opts.Now,
	}
}

// RuleState loads or creates the participant's rule record. The first
// call for a participant generates and persists it atomically; every
// later call, in any session, returns the identical record.
func (o *Orchestrator) RuleState(participantID string) (*rule.State, error) {
	return o.records.LoadOrCreate(participantID, func() (*rule.State, error) {
		o.log.Info("generating rule record", "participant", participantID, "mode", o.cfg.RuleMode)
		return rule.Generate(rule.GenerateParams{
			ParticipantID: participantID,
			NumObjects:    o.cfg.NumObjects,
			Mode:          o.cfg.Mode(),
			Pools:         o.cfg.PhasePools(),
			Now:           o.now(),
		})
	})
}

// Run executes the given phases in order for the participant. Each
// phase gets its own run token and rows in the results log. A user
// abort stops the remaining phases without error; a missing
// prerequisite fails with PrerequisiteNotCompletedError before
// anything is presented.
func (o *Orchestrator) Run(ctx context.Context, participantID string, phases []rule.Phase) (*Report, error) {
	state, err := o.RuleState(participantID)
	if err != nil {
		return nil, err
	}
	report := &Report{ParticipantID: participantID, State: state}

	sequencer := sequence.New(o.cfg, state)
	controller := phase.New(o.cfg, sequencer, o.presenter, o.log)

	completedNow := make(map[rule.Phase]bool)
	for _, ph := range phases {
		if err := o.checkPrerequisites(ctx, participantID, ph, completedNow); err != nil {
			return report, err
		}

		token := o.tokens.Generate()
		o.log.Info("phase starting",
			"participant", participantID, "phase", ph, "run_token", token,
			"rule_fingerprint", state.Fingerprint())

		if err := o.results.BeginPhaseRun(ctx, store.PhaseRun{
			RunToken:      token,
			ParticipantID: participantID,
			Phase:         ph,
			StartedAt:     o.now(),
		}); err != nil {
			return report, err
		}

		result, runErr := controller.Run(ctx, ph)
		if result != nil {
			clean := runErr == nil && !result.UserAborted
			if err := o.persistResult(ctx, participantID, token, result, clean); err != nil {
				return report, err
			}
			report.Phases = append(report.Phases, PhaseReport{RunToken: token, Phase: ph, Result: result})

			if runErr == nil && !result.UserAborted {
				completedNow[ph] = true
			}
			o.log.Info("phase finished",
				"participant", participantID, "phase", ph,
				"trials", result.TrialsTotal(), "correct", result.TrialsCorrect(),
				"criterion_met", result.CriterionMet, "aborted", result.UserAborted)
		}
		if runErr != nil {
			return report, runErr
		}
		if result.UserAborted {
			// Remaining phases are skipped; an abort is not an error.
			return report, nil
		}
	}
	return report, nil
}

func (o *Orchestrator) checkPrerequisites(ctx context.Context, participantID string, ph rule.Phase, completedNow map[rule.Phase]bool) error {
	if o.cfg.AllowSkipPrerequisites {
		return nil
	}
	for _, earlier := range rule.Phases {
		if !earlier.Before(ph) || completedNow[earlier] {
			continue
		}
		done, err := o.results.IsPhaseCompleted(ctx, participantID, earlier)
		if err != nil {
			return err
		}
		if !done {
			return &PrerequisiteNotCompletedError{
				ParticipantID: participantID,
				Phase:         ph,
				Missing:       earlier,
			}
		}
	}
	return nil
}

// persistResult writes the run's outcomes, summary, and, when the run
// finished cleanly, the completion record. Aborted runs and runs cut
// short by a presentation failure keep their partial outcomes but do
// not count as completed.
func (o *Orchestrator) persistResult(ctx context.Context, participantID, token string, result *phase.Result, clean bool) error {
	for _, outcome := range result.Outcomes {
		if err := o.results.WriteTrialResult(ctx, store.TrialResult{
			RunToken:     token,
			TrialIndex:   outcome.TrialIndex,
			Seq:          outcome.Seq,
			Kind:         string(outcome.Kind),
			Expected:     outcome.Expected,
			Response:     outcome.Response,
			Correct:      outcome.Correct,
			ReactionTime: outcome.ReactionTime,
			RecordedAt:   o.now(),
		}); err != nil {
			return err
		}
	}

	if err := o.results.FinishPhaseRun(ctx, store.PhaseRun{
		RunToken:      token,
		EndedAt:       o.now(),
		TrialsTotal:   result.TrialsTotal(),
		TrialsCorrect: result.TrialsCorrect(),
		CriterionMet:  result.CriterionMet,
		UserAborted:   result.UserAborted,
	}); err != nil {
		return err
	}

	if clean {
		if err := o.results.WriteCompletion(ctx, store.PhaseCompletion{
			ParticipantID: participantID,
			Phase:         result.Phase,
			RunToken:      token,
			CompletedAt:   o.now(),
		}); err != nil {
			return err
		}
	}
	return nil
}

// PhasesFor resolves a CLI selector to phases in execution order.
// Selectors: a phase name, "session1" (day 1), "session2" (day 2), or
// "all".
func PhasesFor(selector string) ([]rule.Phase, error) {
	switch selector {
	case "session1":
		return []rule.Phase{rule.PhaseTraining, rule.PhaseStructureLearning}, nil
	case "session2":
		return []rule.Phase{rule.PhaseAppliedLearning}, nil
	case "all":
		return append([]rule.Phase(nil), rule.Phases...), nil
	}
	ph, err := rule.ParsePhase(selector)
	if err != nil {
		return nil, fmt.Errorf("unknown selector %q (valid: a phase name, session1, session2, all)", selector)
	}
	return []rule.Phase{ph}, nil
}
