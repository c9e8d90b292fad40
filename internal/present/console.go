package present

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/replaylab/unscramble/internal/rule"
	"github.com/replaylab/unscramble/internal/sequence"
)

// Console is a text-terminal Presenter. Stimuli are printed by name,
// responses are read line by line. It exists for piloting and manual
// walkthroughs; real data collection sits behind a richer Presenter.
type Console struct {
	out   io.Writer
	lines chan string
	errs  chan error

	// Sleep pauses for stimulus and rest durations. Replaceable so
	// tests do not wait out real rest intervals.
	Sleep func(ctx context.Context, d time.Duration) error
}

// NewConsole returns a console presenter reading from in and writing to
// out. A reader goroutine owns in for the presenter's lifetime.
func NewConsole(in io.Reader, out io.Writer) *Console {
	c := &Console{
		out:   out,
		lines: make(chan string),
		errs:  make(chan error, 1),
		Sleep: sleepFor,
	}
	go func() {
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			c.lines <- strings.TrimSpace(scanner.Text())
		}
		if err := scanner.Err(); err != nil {
			c.errs <- err
		}
		close(c.lines)
	}()
	return c
}

func sleepFor(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Console) Instructions(ctx context.Context, phase rule.Phase, lines []string) error {
	fmt.Fprintf(c.out, "\n=== %s ===\n", phase)
	for _, line := range lines {
		fmt.Fprintln(c.out, line)
	}
	fmt.Fprintln(c.out, "(press enter to continue)")
	_, err := c.readLine(ctx, 0)
	return err
}

func (c *Console) Display(ctx context.Context, trial sequence.Trial) error {
	switch trial.Kind {
	case sequence.KindRest:
		fmt.Fprintf(c.out, "\n%s (%s)\n", trial.Prompt, trial.Duration)
		// Input during rest is deliberately not read: anything typed is
		// ignored and unrecorded.
		return c.Sleep(ctx, trial.Duration)
	case sequence.KindPresentation:
		fmt.Fprintf(c.out, "\n%s\n", trial.Prompt)
		for _, stim := range trial.Stimuli {
			fmt.Fprintf(c.out, "  [%s]\n", stim.Name)
			if err := c.Sleep(ctx, trial.Duration); err != nil {
				return err
			}
		}
		return nil
	default:
		fmt.Fprintf(c.out, "\n%s\n", trial.Prompt)
		if trial.Probe != nil {
			fmt.Fprintf(c.out, "  [%s]\n", trial.Probe.Name)
		}
		return c.Sleep(ctx, trial.Duration)
	}
}

func (c *Console) Ask(ctx context.Context, trial sequence.Trial) (Response, error) {
	fmt.Fprintf(c.out, "\n%s\n", trial.Prompt)
	if trial.Probe != nil {
		fmt.Fprintf(c.out, "  probe: [%s]\n", trial.Probe.Name)
	}
	if len(trial.Stimuli) == 2 {
		fmt.Fprintf(c.out, "  left: [%s]   right: [%s]\n", trial.Stimuli[0].Name, trial.Stimuli[1].Name)
	}
	if trial.Kind == sequence.KindQuery {
		fmt.Fprintln(c.out, "  answer as sequence-position, e.g. 2-3")
	}
	if trial.TimeLimit > 0 {
		fmt.Fprintf(c.out, "  (you have %s)\n", trial.TimeLimit)
	}

	started := time.Now()
	line, err := c.readLine(ctx, trial.TimeLimit)
	if err != nil {
		return Response{}, err
	}
	if line == nil {
		fmt.Fprintln(c.out, "  too slow")
		return Response{TimedOut: true}, nil
	}

	key := normalizeKey(*line)
	if key == "abort" {
		return Response{Abort: true}, nil
	}
	return Response{Key: key, ReactionTime: time.Since(started)}, nil
}

func (c *Console) Feedback(ctx context.Context, trial sequence.Trial, resp Response, correct bool) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if correct {
		fmt.Fprintln(c.out, "  Correct!")
	} else {
		fmt.Fprintf(c.out, "  Incorrect. The answer was %s.\n", trial.Expected)
	}
	return nil
}

// readLine waits for one input line. A nil string with nil error means
// the time limit expired.
func (c *Console) readLine(ctx context.Context, limit time.Duration) (*string, error) {
	var timeout <-chan time.Time
	if limit > 0 {
		timer := time.NewTimer(limit)
		defer timer.Stop()
		timeout = timer.C
	}

	select {
	case line, ok := <-c.lines:
		if !ok {
			select {
			case err := <-c.errs:
				return nil, &PresentationError{Op: "read", Err: err}
			default:
				return nil, &PresentationError{Op: "read", Err: io.EOF}
			}
		}
		return &line, nil
	case <-timeout:
		return nil, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func normalizeKey(line string) string {
	switch strings.ToLower(line) {
	case "l", "left":
		return "left"
	case "r", "right":
		return "right"
	case "q", "quit", "abort", "escape":
		return "abort"
	default:
		return strings.ToLower(line)
	}
}
