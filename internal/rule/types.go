package rule

import (
	"fmt"
	"time"
)

// Phase identifies one of the experiment's three phases, run in this
// fixed order across the two calendar-day sessions.
type Phase string

const (
	// PhaseTraining teaches the unscrambling rule (day 1).
	PhaseTraining Phase = "training"

	// PhaseStructureLearning presents scrambled sequences and probes the
	// true order without feedback (day 1).
	PhaseStructureLearning Phase = "structure-learning"

	// PhaseAppliedLearning applies the stored rule to novel stimuli,
	// followed by a rest interval and per-object queries (day 2).
	PhaseAppliedLearning Phase = "applied-learning"
)

// Phases lists all phases in execution order.
// The order is load-bearing: session prerequisites are enforced against it.
var Phases = []Phase{PhaseTraining, PhaseStructureLearning, PhaseAppliedLearning}

// ParsePhase converts a string to a Phase.
func ParsePhase(s string) (Phase, error) {
	for _, p := range Phases {
		if string(p) == s {
			return p, nil
		}
	}
	return "", fmt.Errorf("unknown phase %q (valid: training, structure-learning, applied-learning)", s)
}

// Before reports whether p comes before other in the fixed phase order.
func (p Phase) Before(other Phase) bool {
	return phaseIndex(p) < phaseIndex(other)
}

func phaseIndex(p Phase) int {
	for i, ph := range Phases {
		if ph == p {
			return i
		}
	}
	return len(Phases)
}

// Permutation maps true slot index -> scrambled presentation position.
// A valid Permutation is a bijection on {0..len-1}.
type Permutation []int

// Validate checks that p is a permutation of {0..len-1}.
func (p Permutation) Validate() error {
	seen := make([]bool, len(p))
	for slot, pos := range p {
		if pos < 0 || pos >= len(p) {
			return fmt.Errorf("slot %d maps to position %d, out of range [0,%d)", slot, pos, len(p))
		}
		if seen[pos] {
			return fmt.Errorf("position %d is assigned to more than one slot", pos)
		}
		seen[pos] = true
	}
	return nil
}

// SlotAt returns the true slot whose stimulus appears at the given
// scrambled position. Inverse lookup of the permutation.
func (p Permutation) SlotAt(scrambledPos int) (int, error) {
	for slot, pos := range p {
		if pos == scrambledPos {
			return slot, nil
		}
	}
	return 0, fmt.Errorf("no slot maps to scrambled position %d", scrambledPos)
}

// HasFixedPoint reports whether any slot maps to its own position.
func (p Permutation) HasFixedPoint() bool {
	for slot, pos := range p {
		if slot == pos {
			return true
		}
	}
	return false
}

// Clone returns a copy of the permutation.
func (p Permutation) Clone() Permutation {
	out := make(Permutation, len(p))
	copy(out, p)
	return out
}

// Equal reports element-wise equality.
func (p Permutation) Equal(other Permutation) bool {
	if len(p) != len(other) {
		return false
	}
	for i := range p {
		if p[i] != other[i] {
			return false
		}
	}
	return true
}

// Assignment maps true slot index -> stimulus identifier for one phase.
// Bijective: no two slots share a stimulus.
type Assignment map[int]string

// Validate checks that the assignment covers slots 0..n-1 with distinct,
// non-empty stimulus names.
func (a Assignment) Validate(n int) error {
	if len(a) != n {
		return fmt.Errorf("assignment covers %d slots, want %d", len(a), n)
	}
	used := make(map[string]int, n)
	for slot := 0; slot < n; slot++ {
		name, ok := a[slot]
		if !ok {
			return fmt.Errorf("slot %d has no assigned stimulus", slot)
		}
		if name == "" {
			return fmt.Errorf("slot %d has an empty stimulus name", slot)
		}
		if prev, dup := used[name]; dup {
			return fmt.Errorf("stimulus %q assigned to both slot %d and slot %d", name, prev, slot)
		}
		used[name] = slot
	}
	return nil
}

// Equal compares two assignments after canonicalizing stimulus names,
// so that records round-tripped through serialization still compare equal.
func (a Assignment) Equal(other Assignment) bool {
	if len(a) != len(other) {
		return false
	}
	for slot, name := range a {
		o, ok := other[slot]
		if !ok || CanonicalName(name) != CanonicalName(o) {
			return false
		}
	}
	return true
}

// State is the durable per-participant rule record: the permutation plus
// one stimulus assignment per phase. Created exactly once, immutable for
// the lifetime of the participant's sessions.
type State struct {
	ParticipantID string               `yaml:"participant_id"`
	RuleMode      Mode                 `yaml:"rule_mode"`
	Permutation   Permutation          `yaml:"permutation"`
	Assignments   map[Phase]Assignment `yaml:"object_assignment"`
	CreatedAt     time.Time            `yaml:"created_at"`
}

// NumObjects returns the number of object slots.
func (s *State) NumObjects() int {
	return len(s.Permutation)
}

// Half returns the length of each true sequence.
func (s *State) Half() int {
	return len(s.Permutation) / 2
}

// Validate checks the structural invariants of the full record.
func (s *State) Validate() error {
	if s.ParticipantID == "" {
		return fmt.Errorf("participant ID is empty")
	}
	n := len(s.Permutation)
	if n < 4 || n%2 != 0 {
		return fmt.Errorf("permutation length %d: must be even and at least 4", n)
	}
	if err := s.Permutation.Validate(); err != nil {
		return fmt.Errorf("permutation: %w", err)
	}
	for _, phase := range Phases {
		a, ok := s.Assignments[phase]
		if !ok {
			return fmt.Errorf("missing object assignment for phase %s", phase)
		}
		if err := a.Validate(n); err != nil {
			return fmt.Errorf("assignment for phase %s: %w", phase, err)
		}
	}
	return nil
}

// Equal reports whether two states describe the same rule record.
// Creation timestamps are ignored: the rule content is what must never
// change, not the wall-clock instant it was first written.
func (s *State) Equal(other *State) bool {
	if s == nil || other == nil {
		return s == other
	}
	if s.ParticipantID != other.ParticipantID || s.RuleMode != other.RuleMode {
		return false
	}
	if !s.Permutation.Equal(other.Permutation) {
		return false
	}
	if len(s.Assignments) != len(other.Assignments) {
		return false
	}
	for phase, a := range s.Assignments {
		if !a.Equal(other.Assignments[phase]) {
			return false
		}
	}
	return true
}

// SequenceOf returns the 1-based true sequence (1 or 2) a slot belongs to.
func SequenceOf(slot, numObjects int) int {
	if slot < numObjects/2 {
		return 1
	}
	return 2
}

// PositionOf returns the 1-based position of a slot within its true sequence.
func PositionOf(slot, numObjects int) int {
	return slot%(numObjects/2) + 1
}

// SlotOf is the inverse of SequenceOf/PositionOf.
func SlotOf(pos, seq, numObjects int) (int, error) {
	half := numObjects / 2
	if seq != 1 && seq != 2 {
		return 0, fmt.Errorf("sequence must be 1 or 2, got %d", seq)
	}
	if pos < 1 || pos > half {
		return 0, fmt.Errorf("position must be in [1,%d], got %d", half, pos)
	}
	return (seq-1)*half + pos - 1, nil
}

// ScrambledSequenceOf returns the 1-based scrambled sequence a scrambled
// position falls in: positions 0..half-1 form scrambled sequence 1.
func ScrambledSequenceOf(pos, numObjects int) int {
	if pos < numObjects/2 {
		return 1
	}
	return 2
}

// ScrambledPositionOf returns the 1-based position within a scrambled sequence.
func ScrambledPositionOf(pos, numObjects int) int {
	return pos%(numObjects/2) + 1
}
