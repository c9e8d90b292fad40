// Package harness runs scripted full-session scenarios: a YAML file
// describes a simulated participant, the harness drives a complete
// session against throwaway stores, and assertions (plus optional
// golden traces) pin down the resulting behavior.
package harness

import (
	"bytes"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Scenario defines one simulated session.
type Scenario struct {
	// Name uniquely identifies this scenario; golden files use it.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Participant is the simulated participant ID. Determines the rule
	// record, so the same ID always replays the same trials.
	Participant string `yaml:"participant"`

	// Config is an optional inline CUE override, unified with the
	// embedded defaults.
	Config string `yaml:"config,omitempty"`

	// Phases lists selectors to run in order (phase names, session1,
	// session2, all).
	Phases []string `yaml:"phases"`

	// Respond is the response policy for scored trials:
	// always-correct, always-wrong, or always-timeout.
	Respond string `yaml:"respond"`

	// Responses optionally scripts the first scored trials explicitly,
	// in order; the Respond policy takes over when they run out.
	Responses []ResponseStep `yaml:"responses,omitempty"`

	// Assertions validate the session outcome.
	Assertions []Assertion `yaml:"assertions"`
}

// ResponseStep scripts one scored trial.
type ResponseStep struct {
	// Key is the literal answer ("left", "right", "2-3").
	Key string `yaml:"key,omitempty"`

	// Correct, when true, answers with the trial's scoring key.
	Correct bool `yaml:"correct,omitempty"`

	// Timeout lets the response window expire.
	Timeout bool `yaml:"timeout,omitempty"`

	// Abort quits the session at this trial boundary.
	Abort bool `yaml:"abort,omitempty"`
}

// Assertion validates one aspect of the finished session.
type Assertion struct {
	// Type selects the check:
	//   - "trials_total":     phase produced Count scored trials
	//   - "accuracy":         phase accuracy equals Value (±1e-9)
	//   - "criterion_met":    phase criterion flag equals Expect
	//   - "aborted":          phase abort flag equals Expect
	//   - "states":           phase traversed exactly States
	//   - "completed_phases": completion records exist for Phases only
	Type string `yaml:"type"`

	Phase  string   `yaml:"phase,omitempty"`
	Count  int      `yaml:"count,omitempty"`
	Value  float64  `yaml:"value,omitempty"`
	Expect bool     `yaml:"expect,omitempty"`
	States []string `yaml:"states,omitempty"`
	Phases []string `yaml:"phases,omitempty"`
}

// Assertion type constants.
const (
	AssertTrialsTotal     = "trials_total"
	AssertAccuracy        = "accuracy"
	AssertCriterionMet    = "criterion_met"
	AssertAborted         = "aborted"
	AssertStates          = "states"
	AssertCompletedPhases = "completed_phases"
)

// Response policy constants.
const (
	RespondAlwaysCorrect = "always-correct"
	RespondAlwaysWrong   = "always-wrong"
	RespondAlwaysTimeout = "always-timeout"
)

// LoadScenario reads and parses a scenario YAML file. Unknown fields
// are rejected so typos fail loudly.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}

	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if s.Participant == "" {
		return fmt.Errorf("participant is required")
	}
	if len(s.Phases) == 0 {
		return fmt.Errorf("phases list is required and must be non-empty")
	}

	switch s.Respond {
	case RespondAlwaysCorrect, RespondAlwaysWrong, RespondAlwaysTimeout:
	case "":
		if len(s.Responses) == 0 {
			return fmt.Errorf("respond policy or explicit responses required")
		}
	default:
		return fmt.Errorf("unknown respond policy %q", s.Respond)
	}

	for i, step := range s.Responses {
		set := 0
		if step.Key != "" {
			set++
		}
		if step.Correct {
			set++
		}
		if step.Timeout {
			set++
		}
		if step.Abort {
			set++
		}
		if set != 1 {
			return fmt.Errorf("responses[%d]: exactly one of key, correct, timeout, abort is required", i)
		}
	}

	for i, a := range s.Assertions {
		if err := validateAssertion(i, &a); err != nil {
			return err
		}
	}
	return nil
}

func validateAssertion(index int, a *Assertion) error {
	switch a.Type {
	case AssertTrialsTotal, AssertAccuracy, AssertCriterionMet, AssertAborted:
		if a.Phase == "" {
			return fmt.Errorf("assertions[%d]: phase is required for %s", index, a.Type)
		}
	case AssertStates:
		if a.Phase == "" || len(a.States) == 0 {
			return fmt.Errorf("assertions[%d]: phase and states are required for %s", index, a.Type)
		}
	case AssertCompletedPhases:
		// An empty Phases list is valid: it asserts nothing completed.
	case "":
		return fmt.Errorf("assertions[%d]: type is required", index)
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}
	return nil
}
