package cli

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/replaylab/unscramble/internal/harness"
)

// SimulateOptions holds flags for the simulate command.
type SimulateOptions struct {
	*RootOptions
	WorkDir string // keep scenario stores here instead of a temp dir
}

// ScenarioOutcome holds the result of a single scenario execution.
type ScenarioOutcome struct {
	Name   string   `json:"name"`
	Pass   bool     `json:"pass"`
	Errors []string `json:"errors,omitempty"`
}

// SimulateResult holds the overall simulation result.
type SimulateResult struct {
	Scenarios []ScenarioOutcome `json:"scenarios"`
	Passed    int               `json:"passed"`
	Failed    int               `json:"failed"`
	Total     int               `json:"total"`
}

// NewSimulateCommand creates the simulate command.
func NewSimulateCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &SimulateOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "simulate <scenario.yaml>...",
		Short: "Run scripted session scenarios",
		Long: `Run scripted full-session scenarios against throwaway stores.

Each scenario describes a simulated participant, a response policy, and
assertions about the outcome. Scenarios never touch the real state
directory or results database.

Exit codes:
  0 - All scenarios passed
  1 - One or more scenarios failed
  2 - Command error (unreadable scenario files, etc.)

Examples:
  unscramble simulate scenarios/full-session.yaml
  unscramble simulate scenarios/*.yaml --format json`,
		Args:          cobra.MinimumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSimulate(opts, args, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.WorkDir, "work-dir", "", "keep scenario stores in this directory (default: a temp dir, removed afterwards)")

	return cmd
}

func runSimulate(opts *SimulateOptions, files []string, cmd *cobra.Command) error {
	result := SimulateResult{
		Scenarios: make([]ScenarioOutcome, 0, len(files)),
		Total:     len(files),
	}

	for _, file := range files {
		outcome := runOneScenario(opts, file, cmd)
		result.Scenarios = append(result.Scenarios, outcome)
		if outcome.Pass {
			result.Passed++
		} else {
			result.Failed++
		}
	}

	if opts.Format == "json" {
		return outputSimulateJSON(cmd, result)
	}
	return outputSimulateText(cmd, result)
}

func runOneScenario(opts *SimulateOptions, file string, cmd *cobra.Command) ScenarioOutcome {
	w := cmd.OutOrStdout()
	text := opts.Format != "json"

	scenario, err := harness.LoadScenario(file)
	if err != nil {
		if text {
			fmt.Fprintf(w, "FAIL %s\n  load error: %v\n", file, err)
		}
		return ScenarioOutcome{Name: file, Pass: false, Errors: []string{fmt.Sprintf("failed to load scenario: %v", err)}}
	}

	workDir := opts.WorkDir
	if workDir == "" {
		tmp, err := os.MkdirTemp("", "unscramble-sim-*")
		if err != nil {
			return ScenarioOutcome{Name: scenario.Name, Pass: false, Errors: []string{fmt.Sprintf("failed to create work dir: %v", err)}}
		}
		defer os.RemoveAll(tmp)
		workDir = tmp
	}

	run, err := harness.Run(scenario, workDir)
	if err != nil {
		if text {
			fmt.Fprintf(w, "FAIL %s\n  execution error: %v\n", scenario.Name, err)
		}
		return ScenarioOutcome{Name: scenario.Name, Pass: false, Errors: []string{fmt.Sprintf("execution failed: %v", err)}}
	}

	var failures []string
	if run.RunErr != nil {
		failures = append(failures, fmt.Sprintf("session ended with error: %v", run.RunErr))
	}
	for _, assertErr := range harness.Check(scenario, run) {
		failures = append(failures, assertErr.Error())
	}

	if len(failures) > 0 {
		if text {
			fmt.Fprintf(w, "FAIL %s\n", scenario.Name)
			for _, f := range failures {
				fmt.Fprintf(w, "  %s\n", f)
			}
		}
		return ScenarioOutcome{Name: scenario.Name, Pass: false, Errors: failures}
	}

	if text {
		fmt.Fprintf(w, "ok   %s\n", scenario.Name)
	}
	return ScenarioOutcome{Name: scenario.Name, Pass: true}
}

func outputSimulateJSON(cmd *cobra.Command, result SimulateResult) error {
	status := "ok"
	response := CLIResponse{Status: status, Data: result}
	if result.Failed > 0 {
		response.Status = "error"
		response.Error = &CLIError{
			Code:    "E_SCENARIO_FAILED",
			Message: fmt.Sprintf("%d scenario(s) failed", result.Failed),
		}
	}

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	if err := enc.Encode(response); err != nil {
		return err
	}

	if result.Failed > 0 {
		return NewExitError(ExitFailure, fmt.Sprintf("%d scenario(s) failed", result.Failed))
	}
	return nil
}

func outputSimulateText(cmd *cobra.Command, result SimulateResult) error {
	w := cmd.OutOrStdout()

	fmt.Fprintln(w)
	fmt.Fprintf(w, "Scenarios: %d passed, %d failed, %d total\n", result.Passed, result.Failed, result.Total)

	if result.Failed > 0 {
		return NewExitError(ExitFailure, fmt.Sprintf("%d scenario(s) failed", result.Failed))
	}
	return nil
}
