package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/replaylab/unscramble/internal/rule"
)

func startRun(t *testing.T, s *Store, token string, phase rule.Phase) PhaseRun {
	t.Helper()
	run := PhaseRun{
		RunToken:      token,
		ParticipantID: "p001",
		Phase:         phase,
		StartedAt:     time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC),
	}
	require.NoError(t, s.BeginPhaseRun(context.Background(), run))
	return run
}

func TestPhaseRunLifecycle(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	run := startRun(t, s, "tok-1", rule.PhaseTraining)

	live, err := s.GetPhaseRun(ctx, "tok-1")
	require.NoError(t, err)
	assert.True(t, live.EndedAt.IsZero(), "live run has no end time")

	run.EndedAt = run.StartedAt.Add(12 * time.Minute)
	run.TrialsTotal = 16
	run.TrialsCorrect = 15
	run.CriterionMet = true
	require.NoError(t, s.FinishPhaseRun(ctx, run))

	done, err := s.GetPhaseRun(ctx, "tok-1")
	require.NoError(t, err)
	assert.False(t, done.EndedAt.IsZero())
	assert.Equal(t, 16, done.TrialsTotal)
	assert.True(t, done.CriterionMet)
	assert.False(t, done.UserAborted)
	assert.InDelta(t, 15.0/16.0, done.Accuracy(), 1e-9)

	// A second finish must not rewrite the summary.
	run.TrialsCorrect = 0
	require.NoError(t, s.FinishPhaseRun(ctx, run))
	again, err := s.GetPhaseRun(ctx, "tok-1")
	require.NoError(t, err)
	assert.Equal(t, 15, again.TrialsCorrect)
}

func TestGetPhaseRunNotFound(t *testing.T) {
	s := openTestStore(t)

	_, err := s.GetPhaseRun(context.Background(), "missing")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestTrialResultsRoundTrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	startRun(t, s, "tok-1", rule.PhaseStructureLearning)

	rt := 1200 * time.Millisecond
	answered := TrialResult{
		RunToken:     "tok-1",
		TrialIndex:   0,
		Seq:          7,
		Kind:         "probe-quiz",
		Expected:     "left",
		Response:     "left",
		Correct:      true,
		ReactionTime: &rt,
		RecordedAt:   time.Date(2026, 3, 1, 10, 5, 0, 0, time.UTC),
	}
	timedOut := TrialResult{
		RunToken:   "tok-1",
		TrialIndex: 1,
		Seq:        9,
		Kind:       "query",
		Expected:   "1-3",
		Response:   "",
		Correct:    false,
		RecordedAt: time.Date(2026, 3, 1, 10, 6, 0, 0, time.UTC),
	}
	require.NoError(t, s.WriteTrialResult(ctx, answered))
	require.NoError(t, s.WriteTrialResult(ctx, timedOut))

	// Idempotent replay: same primary key, nothing duplicated or changed.
	replay := answered
	replay.Response = "right"
	require.NoError(t, s.WriteTrialResult(ctx, replay))

	results, err := s.ListTrialResults(ctx, "tok-1")
	require.NoError(t, err)
	require.Len(t, results, 2)

	assert.Equal(t, "left", results[0].Response)
	require.NotNil(t, results[0].ReactionTime)
	assert.Equal(t, rt, *results[0].ReactionTime)

	assert.Equal(t, "", results[1].Response)
	assert.False(t, results[1].Correct)
	assert.Nil(t, results[1].ReactionTime, "timeout has no reaction time")
}

func TestCompletionsDrivePrerequisites(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	startRun(t, s, "tok-1", rule.PhaseTraining)

	done, err := s.IsPhaseCompleted(ctx, "p001", rule.PhaseTraining)
	require.NoError(t, err)
	assert.False(t, done)

	completion := PhaseCompletion{
		ParticipantID: "p001",
		Phase:         rule.PhaseTraining,
		RunToken:      "tok-1",
		CompletedAt:   time.Date(2026, 3, 1, 10, 30, 0, 0, time.UTC),
	}
	require.NoError(t, s.WriteCompletion(ctx, completion))

	done, err = s.IsPhaseCompleted(ctx, "p001", rule.PhaseTraining)
	require.NoError(t, err)
	assert.True(t, done)

	// Re-running the phase keeps the first completion.
	startRun(t, s, "tok-2", rule.PhaseTraining)
	second := completion
	second.RunToken = "tok-2"
	require.NoError(t, s.WriteCompletion(ctx, second))

	phases, err := s.CompletedPhases(ctx, "p001")
	require.NoError(t, err)
	assert.Equal(t, []rule.Phase{rule.PhaseTraining}, phases)
}

func TestCompletedPhasesOrdered(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	// Insert out of experiment order.
	startRun(t, s, "tok-sl", rule.PhaseStructureLearning)
	startRun(t, s, "tok-tr", rule.PhaseTraining)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, s.WriteCompletion(ctx, PhaseCompletion{
		ParticipantID: "p001", Phase: rule.PhaseStructureLearning, RunToken: "tok-sl", CompletedAt: now,
	}))
	require.NoError(t, s.WriteCompletion(ctx, PhaseCompletion{
		ParticipantID: "p001", Phase: rule.PhaseTraining, RunToken: "tok-tr", CompletedAt: now,
	}))

	phases, err := s.CompletedPhases(ctx, "p001")
	require.NoError(t, err)
	assert.Equal(t, []rule.Phase{rule.PhaseTraining, rule.PhaseStructureLearning}, phases)
}
