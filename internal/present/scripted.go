package present

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/replaylab/unscramble/internal/rule"
	"github.com/replaylab/unscramble/internal/sequence"
)

// RespondFunc produces the scripted response for a scored trial.
type RespondFunc func(trial sequence.Trial) Response

// AlwaysCorrect answers every trial with its scoring key.
func AlwaysCorrect(rt time.Duration) RespondFunc {
	return func(trial sequence.Trial) Response {
		return Response{Key: trial.Expected, ReactionTime: rt}
	}
}

// AlwaysWrong answers every trial incorrectly (opposite side for
// two-choice trials, a mismatched key for queries).
func AlwaysWrong(rt time.Duration) RespondFunc {
	return func(trial sequence.Trial) Response {
		switch trial.Expected {
		case "left":
			return Response{Key: "right", ReactionTime: rt}
		case "right":
			return Response{Key: "left", ReactionTime: rt}
		default:
			return Response{Key: "0-0", ReactionTime: rt}
		}
	}
}

// AlwaysTimeout never answers within the limit.
func AlwaysTimeout() RespondFunc {
	return func(sequence.Trial) Response {
		return Response{TimedOut: true}
	}
}

// Scripted is a Presenter driven by a response function instead of a
// participant. It records everything it was asked to show, which is the
// raw material for simulated-session traces.
type Scripted struct {
	mu      sync.Mutex
	respond RespondFunc
	trace   []string

	// Fail, when set, makes the named operation return a
	// PresentationError. Used to exercise graceful degradation.
	Fail map[string]error
}

// NewScripted returns a scripted presenter using respond for every
// scored trial.
func NewScripted(respond RespondFunc) *Scripted {
	return &Scripted{respond: respond}
}

// SetRespond swaps the response function mid-session.
func (s *Scripted) SetRespond(respond RespondFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.respond = respond
}

// Trace returns the presentation log so far.
func (s *Scripted) Trace() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.trace...)
}

func (s *Scripted) record(line string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.trace = append(s.trace, line)
}

func (s *Scripted) failure(op string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err, ok := s.Fail[op]; ok {
		return &PresentationError{Op: op, Err: err}
	}
	return nil
}

func (s *Scripted) Instructions(ctx context.Context, phase rule.Phase, lines []string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := s.failure("instructions"); err != nil {
		return err
	}
	s.record(fmt.Sprintf("instructions phase=%s lines=%d", phase, len(lines)))
	return nil
}

func (s *Scripted) Display(ctx context.Context, trial sequence.Trial) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := s.failure("display"); err != nil {
		return err
	}
	s.record(fmt.Sprintf("display kind=%s %s", trial.Kind, describeTrial(trial)))
	return nil
}

func (s *Scripted) Ask(ctx context.Context, trial sequence.Trial) (Response, error) {
	if err := ctx.Err(); err != nil {
		return Response{}, err
	}
	if err := s.failure("ask"); err != nil {
		return Response{}, err
	}

	s.mu.Lock()
	respond := s.respond
	s.mu.Unlock()

	resp := respond(trial)
	s.record(fmt.Sprintf("ask kind=%s %s -> key=%q timeout=%t", trial.Kind, describeTrial(trial), resp.Key, resp.TimedOut))
	return resp, nil
}

func (s *Scripted) Feedback(ctx context.Context, trial sequence.Trial, resp Response, correct bool) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := s.failure("feedback"); err != nil {
		return err
	}
	s.record(fmt.Sprintf("feedback kind=%s correct=%t", trial.Kind, correct))
	return nil
}

func describeTrial(trial sequence.Trial) string {
	var parts []string
	if trial.Probe != nil {
		parts = append(parts, "probe="+trial.Probe.Name)
	}
	if len(trial.Stimuli) > 0 {
		names := make([]string, len(trial.Stimuli))
		for i, stim := range trial.Stimuli {
			names[i] = stim.Name
		}
		parts = append(parts, "stimuli="+strings.Join(names, ","))
	}
	return strings.Join(parts, " ")
}
