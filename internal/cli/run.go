package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/replaylab/unscramble/internal/config"
	"github.com/replaylab/unscramble/internal/present"
	"github.com/replaylab/unscramble/internal/rule"
	"github.com/replaylab/unscramble/internal/session"
	"github.com/replaylab/unscramble/internal/store"
)

// RunOptions holds flags for the run command.
type RunOptions struct {
	*RootOptions

	// Tokens overrides the run token generator (for testing). Nil means
	// UUIDv7 tokens.
	Tokens session.TokenGenerator
}

// PhaseSummary is the per-phase portion of the run report.
type PhaseSummary struct {
	Phase         string  `json:"phase"`
	RunToken      string  `json:"run_token"`
	TrialsTotal   int     `json:"trials_total"`
	TrialsCorrect int     `json:"trials_correct"`
	Accuracy      float64 `json:"accuracy"`
	Attempts      int     `json:"attempts,omitempty"`
	CriterionMet  bool    `json:"criterion_met"`
	Aborted       bool    `json:"aborted"`
}

// RunSummary is what the run command reports.
type RunSummary struct {
	Participant     string         `json:"participant"`
	RuleFingerprint string         `json:"rule_fingerprint"`
	Phases          []PhaseSummary `json:"phases"`
}

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RunOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "run <participant> <phase>...",
		Short: "Run one or more phases for a participant",
		Long: `Run experiment phases for a participant at the terminal.

The first run for a participant generates and persists their rule
record; every later run replays the identical rule. Phases must be
completed in order across sessions: training, then structure-learning,
then applied-learning. Selectors: a phase name, "session1" (day 1),
"session2" (day 2), or "all".

Exit codes:
  0 - Session finished (including a participant quit or a missed criterion)
  1 - Session failed (missing prerequisite, presentation failure)
  2 - Command error (bad config, bad selector, unusable paths)

Examples:
  unscramble run p001 session1
  unscramble run p001 session2 --state-dir ./state --db ./results.db
  unscramble run p001 training --config lab.cue --verbose`,
		Args:          cobra.MinimumNArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSession(opts, args[0], args[1:], cmd)
		},
	}

	return cmd
}

func runSession(opts *RunOptions, participantID string, selectors []string, cmd *cobra.Command) error {
	cfg, err := config.Load(opts.Config)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to load config", err)
	}

	var phases []rule.Phase
	for _, selector := range selectors {
		sel, err := session.PhasesFor(selector)
		if err != nil {
			return WrapExitError(ExitCommandError, "bad phase selector", err)
		}
		phases = append(phases, sel...)
	}

	records, err := store.NewRuleRecords(opts.StateDir)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open state directory", err)
	}
	results, err := store.Open(opts.Database)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open results database", err)
	}
	defer results.Close()

	presenter := present.NewConsole(cmd.InOrStdin(), cmd.OutOrStdout())

	parentCtx := cmd.Context()
	if parentCtx == nil {
		parentCtx = context.Background()
	}
	ctx, cancel := context.WithCancel(parentCtx)
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)
	go func() {
		select {
		case <-sigChan:
			cancel()
		case <-ctx.Done():
		}
	}()

	orch := session.New(cfg, records, results, presenter, session.Options{Tokens: opts.Tokens})
	report, runErr := orch.Run(ctx, participantID, phases)

	if report != nil {
		if err := outputRunSummary(opts.RootOptions, cmd, report); err != nil {
			return err
		}
	}
	return classifyRunError(runErr)
}

func outputRunSummary(opts *RootOptions, cmd *cobra.Command, report *session.Report) error {
	summary := RunSummary{Participant: report.ParticipantID}
	if report.State != nil {
		summary.RuleFingerprint = report.State.Fingerprint()
	}
	for _, pr := range report.Phases {
		summary.Phases = append(summary.Phases, PhaseSummary{
			Phase:         string(pr.Phase),
			RunToken:      pr.RunToken,
			TrialsTotal:   pr.Result.TrialsTotal(),
			TrialsCorrect: pr.Result.TrialsCorrect(),
			Accuracy:      pr.Result.Accuracy(),
			Attempts:      pr.Result.Attempts,
			CriterionMet:  pr.Result.CriterionMet,
			Aborted:       pr.Result.UserAborted,
		})
	}

	if opts.Format == "json" {
		formatter := &OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout()}
		return formatter.Success(summary)
	}

	w := cmd.OutOrStdout()
	fmt.Fprintln(w)
	fmt.Fprintf(w, "Participant: %s (rule %s)\n", summary.Participant, summary.RuleFingerprint)
	for _, ph := range summary.Phases {
		status := "complete"
		switch {
		case ph.Aborted:
			status = "aborted"
		case !ph.CriterionMet:
			status = "criterion not met"
		}
		fmt.Fprintf(w, "  %-20s %d/%d correct (%.0f%%), %s\n",
			ph.Phase, ph.TrialsCorrect, ph.TrialsTotal, ph.Accuracy*100, status)
	}
	return nil
}

// classifyRunError maps orchestrator errors onto exit codes. A nil
// error, a participant quit, and a missed criterion are all successes.
func classifyRunError(runErr error) error {
	if runErr == nil {
		return nil
	}

	var prereqErr *session.PrerequisiteNotCompletedError
	if errors.As(runErr, &prereqErr) {
		return WrapExitError(ExitFailure, "prerequisite not completed", runErr)
	}
	var stimErr *rule.InsufficientStimuliError
	if errors.As(runErr, &stimErr) {
		return WrapExitError(ExitFailure, "not enough stimuli to assign", runErr)
	}
	var presErr *present.PresentationError
	if errors.As(runErr, &presErr) {
		return WrapExitError(ExitFailure, "presentation failed; partial results were kept", runErr)
	}
	if errors.Is(runErr, context.Canceled) {
		return WrapExitError(ExitFailure, "session interrupted", runErr)
	}
	return WrapExitError(ExitFailure, "session failed", runErr)
}
