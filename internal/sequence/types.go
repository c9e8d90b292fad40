// Package sequence builds the ordered trial lists for each phase from a
// participant's rule record and the experiment configuration. Building
// is pure and deterministic: the same record, config, and labels always
// produce the same trials, so an interrupted run can be rebuilt exactly.
package sequence

import (
	"fmt"
	"time"

	"github.com/replaylab/unscramble/internal/rule"
)

// Kind classifies a trial. Only quiz and query kinds are scored.
type Kind string

const (
	// KindDemonstration walks through one slot of the rule: where its
	// scrambled position sits and which true position it unscrambles to.
	KindDemonstration Kind = "demonstration"

	// KindPresentation shows one scrambled sequence, stimulus by stimulus.
	KindPresentation Kind = "presentation"

	// KindSequenceQuiz asks which true sequence a stimulus belongs to.
	// Left means sequence 1, right means sequence 2. Feedback follows.
	KindSequenceQuiz Kind = "sequence-quiz"

	// KindOrderQuiz shows two stimuli from one true sequence and asks
	// which comes later. Feedback follows.
	KindOrderQuiz Kind = "order-quiz"

	// KindProbeQuiz shows a probe stimulus and two choices; the correct
	// choice is later in the probe's true sequence. No feedback.
	KindProbeQuiz Kind = "probe-quiz"

	// KindQuery asks for a stimulus's true sequence and position under a
	// response deadline. Timeouts score as incorrect.
	KindQuery Kind = "query"

	// KindRest is a fixed quiet interval; input is ignored and unrecorded.
	KindRest Kind = "rest"
)

// Scored reports whether responses to this kind are recorded as outcomes.
func (k Kind) Scored() bool {
	switch k {
	case KindSequenceQuiz, KindOrderQuiz, KindProbeQuiz, KindQuery:
		return true
	}
	return false
}

// Stimulus pairs a true slot with its assigned identifier for the phase.
type Stimulus struct {
	Slot int
	Name string
}

// Trial is one unit of presenter work.
type Trial struct {
	Phase  rule.Phase
	Kind   Kind
	Prompt string

	// Stimuli is the presentation order for demonstration/presentation
	// trials, and the (left, right) choice pair for two-choice quizzes.
	Stimuli []Stimulus

	// Probe is the stimulus being asked about, where the kind has one.
	Probe *Stimulus

	// Expected is the scoring key: "left"/"right" for two-choice quizzes,
	// "seq-pos" (e.g. "2-3") for queries, empty for unscored kinds.
	Expected string

	// Feedback indicates the presenter reveals correctness after the
	// response.
	Feedback bool

	// Duration is how long unscored content stays up (per stimulus for
	// presentations, total for rests, probe-alone time for queries).
	Duration time.Duration

	// TimeLimit caps the response wait; zero means wait indefinitely.
	TimeLimit time.Duration
}

// QueryAnswer formats the scoring key for a query about a slot.
func QueryAnswer(slot, numObjects int) string {
	return fmt.Sprintf("%d-%d", rule.SequenceOf(slot, numObjects), rule.PositionOf(slot, numObjects))
}
