// Package phase drives one phase of the experiment: it feeds trials to
// the presenter, scores responses, evaluates the training criterion,
// and reports a Result even when the run ends early.
package phase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/replaylab/unscramble/internal/config"
	"github.com/replaylab/unscramble/internal/present"
	"github.com/replaylab/unscramble/internal/rule"
	"github.com/replaylab/unscramble/internal/sequence"
)

// State names one position in the controller's lifecycle.
type State string

const (
	StateInstructions   State = "INSTRUCTIONS"
	StateRunningTrials  State = "RUNNING_TRIALS"
	StateCriterionCheck State = "CRITERION_CHECK"
	StateRest           State = "REST"
	StateQueryTrials    State = "QUERY_TRIALS"
	StateComplete       State = "COMPLETE"
)

// Outcome is one scored trial's result.
type Outcome struct {
	TrialIndex   int
	Seq          int64
	Kind         sequence.Kind
	Expected     string
	Response     string
	Correct      bool
	ReactionTime *time.Duration // nil on timeout
	TimedOut     bool
}

// Result is what a phase run produced, partial or complete.
type Result struct {
	Phase        rule.Phase
	States       []State // traversal order
	Outcomes     []Outcome
	Attempts     int // training blocks run
	CriterionMet bool
	UserAborted  bool
}

// TrialsTotal returns the number of scored trials.
func (r *Result) TrialsTotal() int {
	return len(r.Outcomes)
}

// TrialsCorrect returns the number answered correctly.
func (r *Result) TrialsCorrect() int {
	n := 0
	for _, o := range r.Outcomes {
		if o.Correct {
			n++
		}
	}
	return n
}

// Accuracy returns correct/total over scored trials, 0 when empty.
func (r *Result) Accuracy() float64 {
	if len(r.Outcomes) == 0 {
		return 0
	}
	return float64(r.TrialsCorrect()) / float64(len(r.Outcomes))
}

// Controller runs phases for one participant.
type Controller struct {
	cfg       *config.Config
	sequencer *sequence.Sequencer
	presenter present.Presenter
	clock     *Clock
	log       *slog.Logger
}

// New returns a Controller. A nil logger falls back to slog.Default.
func New(cfg *config.Config, sequencer *sequence.Sequencer, presenter present.Presenter, log *slog.Logger) *Controller {
	if log == nil {
		log = slog.Default()
	}
	return &Controller{
		cfg:       cfg,
		sequencer: sequencer,
		presenter: presenter,
		clock:     NewClock(),
		log:       log,
	}
}

// Clock exposes the controller's logical clock.
func (c *Controller) Clock() *Clock {
	return c.clock
}

// Run executes one phase to completion. The returned Result is always
// usable; err is non-nil only for presentation failures (graceful,
// partial Result retained) and context cancellation. A user abort or a
// missed training criterion is a normal completion, not an error.
func (c *Controller) Run(ctx context.Context, ph rule.Phase) (*Result, error) {
	result := &Result{Phase: ph}
	c.enter(result, StateInstructions)

	if err := c.presenter.Instructions(ctx, ph, InstructionsFor(ph)); err != nil {
		return c.finish(result, err)
	}

	var err error
	if ph == rule.PhaseTraining {
		err = c.runTraining(ctx, result)
	} else {
		err = c.runTrialList(ctx, result, ph)
	}
	return c.finish(result, err)
}

// runTraining is the criterion loop: blocks repeat until accuracy over
// the block reaches criterion or attempts run out. Running out is a
// normal completion with CriterionMet=false.
func (c *Controller) runTraining(ctx context.Context, result *Result) error {
	for attempt := 0; attempt < c.cfg.Training.MaxAttempts; attempt++ {
		result.Attempts++
		block := c.sequencer.TrainingBlock(attempt)

		c.enter(result, StateRunningTrials)
		before := len(result.Outcomes)
		if err := c.runTrials(ctx, result, block); err != nil || result.UserAborted {
			return err
		}

		c.enter(result, StateCriterionCheck)
		blockOutcomes := result.Outcomes[before:]
		correct := 0
		for _, o := range blockOutcomes {
			if o.Correct {
				correct++
			}
		}
		accuracy := float64(correct) / float64(len(blockOutcomes))
		c.log.Info("criterion check",
			"attempt", attempt+1,
			"accuracy", accuracy,
			"criterion", c.cfg.Training.Criterion)

		if accuracy >= c.cfg.Training.Criterion {
			result.CriterionMet = true
			return nil
		}
	}
	c.log.Info("training attempts exhausted without reaching criterion",
		"attempts", result.Attempts)
	return nil
}

func (c *Controller) runTrialList(ctx context.Context, result *Result, ph rule.Phase) error {
	trials, err := c.sequencer.Build(ph)
	if err != nil {
		return err
	}
	c.enter(result, StateRunningTrials)
	if err := c.runTrials(ctx, result, trials); err != nil || result.UserAborted {
		return err
	}
	// No criterion applies outside training; completion satisfies the phase.
	result.CriterionMet = true
	return nil
}

// runTrials drives one trial list, switching states as the list moves
// into its rest and query segments. Aborts take effect at trial
// boundaries only: the current trial's outcome is kept.
func (c *Controller) runTrials(ctx context.Context, result *Result, trials []sequence.Trial) error {
	for _, trial := range trials {
		if err := ctx.Err(); err != nil {
			return err
		}

		switch trial.Kind {
		case sequence.KindRest:
			c.enter(result, StateRest)
		case sequence.KindQuery:
			c.enter(result, StateQueryTrials)
		default:
			c.enter(result, StateRunningTrials)
		}

		if !trial.Kind.Scored() {
			if err := c.presenter.Display(ctx, trial); err != nil {
				return err
			}
			continue
		}

		resp, err := c.presenter.Ask(ctx, trial)
		if err != nil {
			return err
		}
		if resp.Abort {
			c.log.Info("user aborted", "phase", trial.Phase, "trials_done", len(result.Outcomes))
			result.UserAborted = true
			return nil
		}

		outcome := Outcome{
			TrialIndex: len(result.Outcomes),
			Seq:        c.clock.Next(),
			Kind:       trial.Kind,
			Expected:   trial.Expected,
			TimedOut:   resp.TimedOut,
		}
		if !resp.TimedOut {
			outcome.Response = resp.Key
			outcome.Correct = resp.Key == trial.Expected
			rt := resp.ReactionTime
			outcome.ReactionTime = &rt
		}
		result.Outcomes = append(result.Outcomes, outcome)

		if trial.Feedback {
			if err := c.presenter.Feedback(ctx, trial, resp, outcome.Correct); err != nil {
				return err
			}
		}
	}
	return nil
}

// enter appends a state transition, collapsing repeats.
func (c *Controller) enter(result *Result, s State) {
	if n := len(result.States); n > 0 && result.States[n-1] == s {
		return
	}
	result.States = append(result.States, s)
	c.log.Debug("state", "phase", result.Phase, "state", s)
}

// finish closes the run. Presentation failures complete gracefully:
// the partial Result stands and the error propagates for classification.
func (c *Controller) finish(result *Result, err error) (*Result, error) {
	c.enter(result, StateComplete)

	var perr *present.PresentationError
	if errors.As(err, &perr) {
		c.log.Warn("presentation failed, completing with partial results",
			"phase", result.Phase, "op", perr.Op, "trials_done", len(result.Outcomes))
		return result, fmt.Errorf("phase %s: %w", result.Phase, err)
	}
	if err != nil {
		return result, fmt.Errorf("phase %s: %w", result.Phase, err)
	}
	return result, nil
}

// InstructionsFor returns the intro text shown before a phase.
func InstructionsFor(ph rule.Phase) []string {
	switch ph {
	case rule.PhaseTraining:
		return []string{
			"You will see two scrambled sequences of pictures.",
			"Each scrambled sequence hides a true sequence; your job is to learn the unscrambling rule.",
			"Quizzes follow each demonstration, with feedback.",
			"Tomorrow you will apply the same rule to new pictures, so learn the rule today.",
		}
	case rule.PhaseStructureLearning:
		return []string{
			"You will watch the scrambled sequences again, then answer quizzes.",
			"Pick the picture that comes later in the same true sequence as the one on top.",
			"No feedback this time.",
		}
	case rule.PhaseAppliedLearning:
		return []string{
			"Today's pictures are new, but the rule is yesterday's.",
			"Watch the scrambled sequences, rest quietly when asked, then answer where each picture belongs in the true order.",
			"Answer each question before the time limit.",
		}
	default:
		return nil
	}
}
