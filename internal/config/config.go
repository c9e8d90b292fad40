// Package config loads and validates experiment configuration written
// in CUE. Defaults are embedded; an optional override file is unified
// with them, so overrides only state what they change and can never
// escape the schema's constraints.
package config

import (
	_ "embed"
	"fmt"
	"os"
	"time"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"

	"github.com/replaylab/unscramble/internal/rule"
)

//go:embed defaults.cue
var defaultsCUE []byte

// Error code constants - unified across all CLI commands.
const (
	ErrCodeGeneric     = "E001" // Generic/unknown error
	ErrCodeReadFailed  = "E002" // Config file read error
	ErrCodeBuildFailed = "E003" // CUE compile/unify failed
	ErrCodeInvalid     = "E004" // Schema validation failed
	ErrCodeDecodeError = "E005" // CUE -> Go decode failed
	ErrCodeBadValue    = "E006" // Value passed CUE but failed semantic checks
)

// LoadError is a configuration loading failure with a stable code.
type LoadError struct {
	Code    string
	Message string
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Timing holds the presentation pacing parameters, in seconds.
type Timing struct {
	MessageSeconds float64 `json:"message_seconds"`
	ObjectSeconds  float64 `json:"object_seconds"`
	ISISeconds     float64 `json:"isi_seconds"`
	ITISeconds     float64 `json:"iti_seconds"`
}

// Training configures the criterion loop.
type Training struct {
	MaxAttempts int     `json:"max_attempts"`
	Criterion   float64 `json:"criterion"`
}

// StructureLearning configures the probe-quiz runs.
type StructureLearning struct {
	Runs                     int `json:"runs"`
	PresentationsPerSequence int `json:"presentations_per_sequence"`
	ProbesPerRun             int `json:"probes_per_run"`
}

// AppliedLearning configures the novel-stimulus session, including the
// rest interval and the timed queries that follow it.
type AppliedLearning struct {
	Runs                     int     `json:"runs"`
	PresentationsPerSequence int     `json:"presentations_per_sequence"`
	ProbeAloneSeconds        float64 `json:"probe_alone_seconds"`
	ChoiceSeconds            float64 `json:"choice_seconds"`
	RestSeconds              float64 `json:"rest_seconds"`
}

// Config is the fully resolved experiment configuration.
type Config struct {
	NumObjects             int                 `json:"num_objects"`
	RuleMode               string              `json:"rule_mode"`
	AllowSkipPrerequisites bool                `json:"allow_skip_prerequisites"`
	Pools                  map[string][]string `json:"pools"`
	Timing                 Timing              `json:"timing"`
	Training               Training            `json:"training"`
	StructureLearning      StructureLearning   `json:"structure_learning"`
	AppliedLearning        AppliedLearning     `json:"applied_learning"`
}

// Mode returns the parsed rule mode. Valid after Load.
func (c *Config) Mode() rule.Mode {
	m, _ := rule.ParseMode(c.RuleMode)
	return m
}

// PhasePools returns the stimulus pools keyed by phase.
func (c *Config) PhasePools() map[rule.Phase][]string {
	out := make(map[rule.Phase][]string, len(c.Pools))
	for name, pool := range c.Pools {
		out[rule.Phase(name)] = pool
	}
	return out
}

// ChoiceTimeout returns the applied-learning query response limit.
func (c *Config) ChoiceTimeout() time.Duration {
	return seconds(c.AppliedLearning.ChoiceSeconds)
}

// RestDuration returns the length of the rest interval.
func (c *Config) RestDuration() time.Duration {
	return seconds(c.AppliedLearning.RestSeconds)
}

func seconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}

// Load resolves the configuration. With an empty path only the embedded
// defaults apply; otherwise the file at path is unified with them.
func Load(path string) (*Config, error) {
	ctx := cuecontext.New()

	value := ctx.CompileBytes(defaultsCUE, cue.Filename("defaults.cue"))
	if err := value.Err(); err != nil {
		return nil, &LoadError{Code: ErrCodeBuildFailed, Message: fmt.Sprintf("compiling embedded defaults: %v", err)}
	}

	if path != "" {
		src, err := os.ReadFile(path)
		if err != nil {
			return nil, &LoadError{Code: ErrCodeReadFailed, Message: fmt.Sprintf("reading config file: %v", err)}
		}
		override := ctx.CompileBytes(src, cue.Filename(path))
		if err := override.Err(); err != nil {
			return nil, &LoadError{Code: ErrCodeBuildFailed, Message: fmt.Sprintf("compiling %s: %v", path, err)}
		}
		value = value.Unify(override)
		if err := value.Err(); err != nil {
			return nil, &LoadError{Code: ErrCodeBuildFailed, Message: fmt.Sprintf("merging %s with defaults: %v", path, err)}
		}
	}

	if err := value.Validate(cue.Concrete(true), cue.Final()); err != nil {
		return nil, &LoadError{Code: ErrCodeInvalid, Message: fmt.Sprintf("config validation: %v", err)}
	}

	var cfg Config
	if err := value.Decode(&cfg); err != nil {
		return nil, &LoadError{Code: ErrCodeDecodeError, Message: fmt.Sprintf("decoding config: %v", err)}
	}

	if err := check(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// check enforces constraints CUE cannot express cleanly: evenness,
// phase coverage, pool sizes, and pool disjointness.
func check(cfg *Config) error {
	if cfg.NumObjects%2 != 0 {
		return &LoadError{Code: ErrCodeBadValue, Message: fmt.Sprintf("num_objects must be even, got %d", cfg.NumObjects)}
	}
	if _, err := rule.ParseMode(cfg.RuleMode); err != nil {
		return &LoadError{Code: ErrCodeBadValue, Message: err.Error()}
	}

	seen := make(map[string]string) // canonical name -> phase
	for _, phase := range rule.Phases {
		pool, ok := cfg.Pools[string(phase)]
		if !ok {
			return &LoadError{Code: ErrCodeBadValue, Message: fmt.Sprintf("pools is missing phase %s", phase)}
		}
		if len(pool) < cfg.NumObjects {
			return &LoadError{Code: ErrCodeBadValue, Message: fmt.Sprintf(
				"pool for phase %s has %d stimuli, need at least %d", phase, len(pool), cfg.NumObjects)}
		}
		for _, name := range pool {
			c := rule.CanonicalName(name)
			if c == "" {
				return &LoadError{Code: ErrCodeBadValue, Message: fmt.Sprintf("pool for phase %s contains an empty name", phase)}
			}
			if other, dup := seen[c]; dup {
				return &LoadError{Code: ErrCodeBadValue, Message: fmt.Sprintf(
					"stimulus %q appears in both the %s and %s pools; pools must be disjoint", c, other, phase)}
			}
			seen[c] = string(phase)
		}
	}
	return nil
}
