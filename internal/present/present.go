// Package present defines the boundary between the experiment engine
// and whatever faces the participant. The engine drives a Presenter;
// rendering, input devices, and timing hardware live behind it.
package present

import (
	"context"
	"fmt"
	"time"

	"github.com/replaylab/unscramble/internal/rule"
	"github.com/replaylab/unscramble/internal/sequence"
)

// Response is what came back from the participant for one scored trial.
type Response struct {
	// Key is the raw answer: "left"/"right" for two-choice trials, a
	// "seq-pos" string for queries. Empty when TimedOut or Abort is set.
	Key          string
	ReactionTime time.Duration
	TimedOut     bool
	Abort        bool
}

// PresentationError reports a failure in the presentation layer (lost
// display, closed input). The engine completes the phase gracefully
// with partial results when it sees one.
type PresentationError struct {
	Op  string
	Err error
}

func (e *PresentationError) Error() string {
	return fmt.Sprintf("presentation failure during %s: %v", e.Op, e.Err)
}

func (e *PresentationError) Unwrap() error {
	return e.Err
}

// Presenter shows trials and collects responses. Calls block until the
// trial's screen time or response arrives; implementations must honor
// ctx cancellation.
type Presenter interface {
	// Instructions shows the phase intro and returns when the
	// participant moves on.
	Instructions(ctx context.Context, phase rule.Phase, lines []string) error

	// Display runs an unscored trial (demonstration, presentation, rest)
	// for its configured duration.
	Display(ctx context.Context, trial sequence.Trial) error

	// Ask runs a scored trial and returns the response. A zero
	// trial.TimeLimit means wait indefinitely; otherwise the returned
	// Response has TimedOut set when the limit passes.
	Ask(ctx context.Context, trial sequence.Trial) (Response, error)

	// Feedback reveals correctness after a response, for trials that
	// carry feedback.
	Feedback(ctx context.Context, trial sequence.Trial, resp Response, correct bool) error
}
