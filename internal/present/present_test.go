package present

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/replaylab/unscramble/internal/rule"
	"github.com/replaylab/unscramble/internal/sequence"
)

func quizTrial() sequence.Trial {
	probe := sequence.Stimulus{Slot: 0, Name: "papaya"}
	return sequence.Trial{
		Phase:    rule.PhaseTraining,
		Kind:     sequence.KindSequenceQuiz,
		Prompt:   "Which sequence does this picture belong to?",
		Probe:    &probe,
		Expected: "left",
		Feedback: true,
	}
}

func TestScriptedAlwaysCorrect(t *testing.T) {
	p := NewScripted(AlwaysCorrect(800 * time.Millisecond))

	resp, err := p.Ask(context.Background(), quizTrial())
	require.NoError(t, err)
	assert.Equal(t, "left", resp.Key)
	assert.Equal(t, 800*time.Millisecond, resp.ReactionTime)
	assert.False(t, resp.TimedOut)
}

func TestScriptedAlwaysWrongFlipsSides(t *testing.T) {
	p := NewScripted(AlwaysWrong(time.Second))

	trial := quizTrial()
	resp, err := p.Ask(context.Background(), trial)
	require.NoError(t, err)
	assert.Equal(t, "right", resp.Key)

	trial.Expected = "2-3"
	resp, err = p.Ask(context.Background(), trial)
	require.NoError(t, err)
	assert.NotEqual(t, trial.Expected, resp.Key)
}

func TestScriptedTrace(t *testing.T) {
	p := NewScripted(AlwaysTimeout())

	require.NoError(t, p.Instructions(context.Background(), rule.PhaseTraining, []string{"hello"}))
	_, err := p.Ask(context.Background(), quizTrial())
	require.NoError(t, err)

	trace := p.Trace()
	require.Len(t, trace, 2)
	assert.Contains(t, trace[0], "instructions phase=training")
	assert.Contains(t, trace[1], "timeout=true")
}

func TestScriptedInjectedFailure(t *testing.T) {
	p := NewScripted(AlwaysCorrect(0))
	p.Fail = map[string]error{"display": errors.New("display lost")}

	err := p.Display(context.Background(), sequence.Trial{Kind: sequence.KindPresentation})
	require.Error(t, err)

	var perr *PresentationError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, "display", perr.Op)
}

func TestConsoleAskReadsKey(t *testing.T) {
	out := &strings.Builder{}
	c := NewConsole(strings.NewReader("left\n"), out)

	resp, err := c.Ask(context.Background(), quizTrial())
	require.NoError(t, err)
	assert.Equal(t, "left", resp.Key)
	assert.False(t, resp.TimedOut)
	assert.Contains(t, out.String(), "papaya")
}

func TestConsoleAskTimesOut(t *testing.T) {
	c := NewConsole(blockedReader{}, io.Discard)

	trial := quizTrial()
	trial.TimeLimit = 10 * time.Millisecond

	resp, err := c.Ask(context.Background(), trial)
	require.NoError(t, err)
	assert.True(t, resp.TimedOut)
	assert.Empty(t, resp.Key)
}

func TestConsoleAbortKey(t *testing.T) {
	c := NewConsole(strings.NewReader("q\n"), io.Discard)

	resp, err := c.Ask(context.Background(), quizTrial())
	require.NoError(t, err)
	assert.True(t, resp.Abort)
}

func TestConsoleClosedInputIsPresentationError(t *testing.T) {
	c := NewConsole(strings.NewReader(""), io.Discard)

	_, err := c.Ask(context.Background(), quizTrial())
	require.Error(t, err)

	var perr *PresentationError
	require.ErrorAs(t, err, &perr)
}

func TestConsoleRestIgnoresInput(t *testing.T) {
	out := &strings.Builder{}
	c := NewConsole(strings.NewReader("left\nright\n"), out)
	c.Sleep = func(ctx context.Context, d time.Duration) error { return nil }

	rest := sequence.Trial{
		Kind:     sequence.KindRest,
		Prompt:   "Rest.",
		Duration: 5 * time.Minute,
	}
	require.NoError(t, c.Display(context.Background(), rest))

	// The typed keys are still pending: rest consumed nothing.
	resp, err := c.Ask(context.Background(), quizTrial())
	require.NoError(t, err)
	assert.Equal(t, "left", resp.Key)
}

// blockedReader never returns, standing in for a participant who does
// not press anything.
type blockedReader struct{}

func (blockedReader) Read([]byte) (int, error) {
	select {}
}
