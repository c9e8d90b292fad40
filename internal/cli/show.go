package cli

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/replaylab/unscramble/internal/store"
)

// RunRow is one phase run in the show report.
type RunRow struct {
	RunToken      string  `json:"run_token"`
	Phase         string  `json:"phase"`
	StartedAt     string  `json:"started_at"`
	EndedAt       string  `json:"ended_at,omitempty"`
	TrialsTotal   int     `json:"trials_total"`
	TrialsCorrect int     `json:"trials_correct"`
	Accuracy      float64 `json:"accuracy"`
	CriterionMet  bool    `json:"criterion_met"`
	Aborted       bool    `json:"aborted"`
}

// ShowResult is the participant status report.
type ShowResult struct {
	Participant     string   `json:"participant"`
	RuleMode        string   `json:"rule_mode"`
	NumObjects      int      `json:"num_objects"`
	RuleFingerprint string   `json:"rule_fingerprint"`
	CreatedAt       string   `json:"created_at"`
	CompletedPhases []string `json:"completed_phases"`
	Runs            []RunRow `json:"runs"`
}

// NewShowCommand creates the show command.
func NewShowCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <participant>",
		Short: "Show a participant's rule record and results",
		Long: `Show a participant's status: the rule record, which phases have
completion records, and every phase run with its accuracy.

Examples:
  unscramble show p001
  unscramble show p001 --format json`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runShow(rootOpts, args[0], cmd)
		},
	}

	return cmd
}

func runShow(opts *RootOptions, participantID string, cmd *cobra.Command) error {
	ctx := context.Background()

	records, err := store.NewRuleRecords(opts.StateDir)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open state directory", err)
	}
	state, err := records.Load(participantID)
	if errors.Is(err, store.ErrNotFound) {
		return WrapExitError(ExitCommandError, fmt.Sprintf("participant %s has no rule record", participantID), err)
	}
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to load rule record", err)
	}

	results, err := store.Open(opts.Database)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open results database", err)
	}
	defer results.Close()

	completed, err := results.CompletedPhases(ctx, participantID)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read completions", err)
	}
	runs, err := results.ListPhaseRuns(ctx, participantID)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to list phase runs", err)
	}

	result := ShowResult{
		Participant:     state.ParticipantID,
		RuleMode:        string(state.RuleMode),
		NumObjects:      state.NumObjects(),
		RuleFingerprint: state.Fingerprint(),
		CreatedAt:       state.CreatedAt.Format("2006-01-02 15:04:05 MST"),
		CompletedPhases: make([]string, 0, len(completed)),
		Runs:            make([]RunRow, 0, len(runs)),
	}
	for _, ph := range completed {
		result.CompletedPhases = append(result.CompletedPhases, string(ph))
	}
	for _, run := range runs {
		row := RunRow{
			RunToken:      run.RunToken,
			Phase:         string(run.Phase),
			StartedAt:     run.StartedAt.Format("2006-01-02 15:04:05"),
			TrialsTotal:   run.TrialsTotal,
			TrialsCorrect: run.TrialsCorrect,
			Accuracy:      run.Accuracy(),
			CriterionMet:  run.CriterionMet,
			Aborted:       run.UserAborted,
		}
		if !run.EndedAt.IsZero() {
			row.EndedAt = run.EndedAt.Format("2006-01-02 15:04:05")
		}
		result.Runs = append(result.Runs, row)
	}

	if opts.Format == "json" {
		formatter := &OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout()}
		return formatter.Success(result)
	}
	return outputShowText(cmd, result)
}

func outputShowText(cmd *cobra.Command, result ShowResult) error {
	w := cmd.OutOrStdout()

	fmt.Fprintf(w, "Participant: %s\n", result.Participant)
	fmt.Fprintf(w, "Rule: %s mode, %d objects, fingerprint %s\n",
		result.RuleMode, result.NumObjects, result.RuleFingerprint)
	fmt.Fprintf(w, "Created: %s\n", result.CreatedAt)
	fmt.Fprintln(w)

	fmt.Fprintln(w, "=== Completed Phases ===")
	if len(result.CompletedPhases) == 0 {
		fmt.Fprintln(w, "  (none)")
	}
	for _, ph := range result.CompletedPhases {
		fmt.Fprintf(w, "  %s\n", ph)
	}
	fmt.Fprintln(w)

	fmt.Fprintln(w, "=== Runs ===")
	if len(result.Runs) == 0 {
		fmt.Fprintln(w, "  (none)")
	}
	for _, run := range result.Runs {
		status := "complete"
		switch {
		case run.EndedAt == "":
			status = "unfinished"
		case run.Aborted:
			status = "aborted"
		case !run.CriterionMet:
			status = "criterion not met"
		}
		fmt.Fprintf(w, "  [%s] %-20s %d/%d correct (%.0f%%), %s\n",
			run.StartedAt, run.Phase, run.TrialsCorrect, run.TrialsTotal,
			run.Accuracy*100, status)
	}
	return nil
}
