package cli

import (
	"errors"
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"github.com/replaylab/unscramble/internal/config"
)

// ConfigSummary is the resolved-config report for the validate command.
type ConfigSummary struct {
	NumObjects int            `json:"num_objects"`
	RuleMode   string         `json:"rule_mode"`
	PoolSizes  map[string]int `json:"pool_sizes"`
}

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate the experiment configuration",
		Long: `Validate the experiment configuration without running anything.

Unifies the --config override with the embedded defaults, checks the
schema, and enforces the semantic constraints (even object count, one
disjoint pool per phase, pools large enough for the object count).

Exit codes:
  0 - Configuration valid
  1 - Configuration invalid
  2 - Command error (config file unreadable)`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(rootOpts, cmd)
		},
	}

	return cmd
}

func runValidate(opts *RootOptions, cmd *cobra.Command) error {
	formatter := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}

	cfg, err := config.Load(opts.Config)
	if err != nil {
		var loadErr *config.LoadError
		if errors.As(err, &loadErr) {
			_ = formatter.Error(loadErr.Code, loadErr.Message, nil)
			if loadErr.Code == config.ErrCodeReadFailed {
				return WrapExitError(ExitCommandError, "config file unreadable", err)
			}
			return WrapExitError(ExitFailure, "config invalid", err)
		}
		_ = formatter.Error(config.ErrCodeGeneric, err.Error(), nil)
		return WrapExitError(ExitFailure, "config invalid", err)
	}

	summary := ConfigSummary{
		NumObjects: cfg.NumObjects,
		RuleMode:   cfg.RuleMode,
		PoolSizes:  make(map[string]int, len(cfg.Pools)),
	}
	for phase, pool := range cfg.Pools {
		summary.PoolSizes[phase] = len(pool)
	}

	if opts.Format == "json" {
		return formatter.Success(summary)
	}

	w := cmd.OutOrStdout()
	fmt.Fprintln(w, "Config valid")
	fmt.Fprintf(w, "  %d objects, %s rule\n", summary.NumObjects, summary.RuleMode)
	phases := make([]string, 0, len(summary.PoolSizes))
	for phase := range summary.PoolSizes {
		phases = append(phases, phase)
	}
	sort.Strings(phases)
	for _, phase := range phases {
		fmt.Fprintf(w, "  pool %-20s %d stimuli\n", phase, summary.PoolSizes[phase])
	}
	return nil
}
