package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/replaylab/unscramble/internal/rule"
)

// ErrNotFound is returned by lookups when no matching row or record exists.
var ErrNotFound = errors.New("not found")

// PhaseRun summarizes one execution of a phase for one participant.
type PhaseRun struct {
	RunToken      string
	ParticipantID string
	Phase         rule.Phase
	StartedAt     time.Time
	EndedAt       time.Time // zero while the run is live
	TrialsTotal   int
	TrialsCorrect int
	CriterionMet  bool
	UserAborted   bool
}

// Accuracy returns the fraction of scored trials answered correctly.
func (r *PhaseRun) Accuracy() float64 {
	if r.TrialsTotal == 0 {
		return 0
	}
	return float64(r.TrialsCorrect) / float64(r.TrialsTotal)
}

// TrialResult is one scored trial. Presentations and rests are not scored.
type TrialResult struct {
	RunToken     string
	TrialIndex   int
	Seq          int64 // logical clock stamp
	Kind         string
	Expected     string
	Response     string // empty on timeout
	Correct      bool
	ReactionTime *time.Duration // nil on timeout
	RecordedAt   time.Time
}

// PhaseCompletion marks a phase as finished without a user abort.
type PhaseCompletion struct {
	ParticipantID string
	Phase         rule.Phase
	RunToken      string
	CompletedAt   time.Time
}

// BeginPhaseRun records the start of a phase run.
// Uses ON CONFLICT(run_token) DO NOTHING for idempotency.
func (s *Store) BeginPhaseRun(ctx context.Context, run PhaseRun) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO phase_runs
		(run_token, participant_id, phase, started_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(run_token) DO NOTHING
	`,
		run.RunToken,
		run.ParticipantID,
		string(run.Phase),
		run.StartedAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("begin phase run: %w", err)
	}
	return nil
}

// FinishPhaseRun fills in the run's summary columns. Only the first
// finish takes effect; replays against an already-ended run are no-ops.
func (s *Store) FinishPhaseRun(ctx context.Context, run PhaseRun) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE phase_runs
		SET ended_at = ?, trials_total = ?, trials_correct = ?, criterion_met = ?, user_aborted = ?
		WHERE run_token = ? AND ended_at IS NULL
	`,
		run.EndedAt.UTC().Format(time.RFC3339),
		run.TrialsTotal,
		run.TrialsCorrect,
		boolToInt(run.CriterionMet),
		boolToInt(run.UserAborted),
		run.RunToken,
	)
	if err != nil {
		return fmt.Errorf("finish phase run: %w", err)
	}
	return nil
}

// WriteTrialResult inserts one scored trial.
// Uses ON CONFLICT DO NOTHING so re-driving a run never duplicates rows.
func (s *Store) WriteTrialResult(ctx context.Context, tr TrialResult) error {
	var rt any
	if tr.ReactionTime != nil {
		rt = tr.ReactionTime.Milliseconds()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO trial_results
		(run_token, trial_index, seq, kind, expected, response, correct, reaction_time_ms, recorded_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(run_token, trial_index) DO NOTHING
	`,
		tr.RunToken,
		tr.TrialIndex,
		tr.Seq,
		tr.Kind,
		tr.Expected,
		tr.Response,
		boolToInt(tr.Correct),
		rt,
		tr.RecordedAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("write trial result: %w", err)
	}
	return nil
}

// WriteCompletion marks a phase complete for a participant.
// Uses ON CONFLICT DO NOTHING: the first completion wins, later runs of
// the same phase leave the original record intact.
func (s *Store) WriteCompletion(ctx context.Context, c PhaseCompletion) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO phase_completions
		(participant_id, phase, run_token, completed_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(participant_id, phase) DO NOTHING
	`,
		c.ParticipantID,
		string(c.Phase),
		c.RunToken,
		c.CompletedAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("write completion: %w", err)
	}
	return nil
}

// GetPhaseRun fetches one run by token. Returns ErrNotFound when absent.
func (s *Store) GetPhaseRun(ctx context.Context, runToken string) (*PhaseRun, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT run_token, participant_id, phase, started_at, ended_at,
		       trials_total, trials_correct, criterion_met, user_aborted
		FROM phase_runs
		WHERE run_token = ?
	`, runToken)

	run, err := scanPhaseRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("phase run %s: %w", runToken, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get phase run: %w", err)
	}
	return run, nil
}

// ListPhaseRuns returns all runs for a participant in start order.
func (s *Store) ListPhaseRuns(ctx context.Context, participantID string) ([]PhaseRun, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT run_token, participant_id, phase, started_at, ended_at,
		       trials_total, trials_correct, criterion_met, user_aborted
		FROM phase_runs
		WHERE participant_id = ?
		ORDER BY started_at, run_token
	`, participantID)
	if err != nil {
		return nil, fmt.Errorf("list phase runs: %w", err)
	}
	defer rows.Close()

	var runs []PhaseRun
	for rows.Next() {
		run, err := scanPhaseRun(rows)
		if err != nil {
			return nil, fmt.Errorf("list phase runs: %w", err)
		}
		runs = append(runs, *run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list phase runs: %w", err)
	}
	return runs, nil
}

// ListTrialResults returns a run's scored trials in trial order.
func (s *Store) ListTrialResults(ctx context.Context, runToken string) ([]TrialResult, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT run_token, trial_index, seq, kind, expected, response,
		       correct, reaction_time_ms, recorded_at
		FROM trial_results
		WHERE run_token = ?
		ORDER BY trial_index
	`, runToken)
	if err != nil {
		return nil, fmt.Errorf("list trial results: %w", err)
	}
	defer rows.Close()

	var results []TrialResult
	for rows.Next() {
		var (
			tr         TrialResult
			correct    int
			rtMillis   sql.NullInt64
			recordedAt string
		)
		if err := rows.Scan(
			&tr.RunToken, &tr.TrialIndex, &tr.Seq, &tr.Kind, &tr.Expected,
			&tr.Response, &correct, &rtMillis, &recordedAt,
		); err != nil {
			return nil, fmt.Errorf("list trial results: %w", err)
		}
		tr.Correct = correct != 0
		if rtMillis.Valid {
			d := time.Duration(rtMillis.Int64) * time.Millisecond
			tr.ReactionTime = &d
		}
		tr.RecordedAt, err = time.Parse(time.RFC3339, recordedAt)
		if err != nil {
			return nil, fmt.Errorf("list trial results: parse recorded_at: %w", err)
		}
		results = append(results, tr)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list trial results: %w", err)
	}
	return results, nil
}

// IsPhaseCompleted reports whether a completion record exists.
func (s *Store) IsPhaseCompleted(ctx context.Context, participantID string, phase rule.Phase) (bool, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM phase_completions
		WHERE participant_id = ? AND phase = ?
	`, participantID, string(phase)).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("check completion: %w", err)
	}
	return count > 0, nil
}

// CompletedPhases returns the participant's completed phases in
// experiment order.
func (s *Store) CompletedPhases(ctx context.Context, participantID string) ([]rule.Phase, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT phase FROM phase_completions WHERE participant_id = ?
	`, participantID)
	if err != nil {
		return nil, fmt.Errorf("completed phases: %w", err)
	}
	defer rows.Close()

	done := make(map[rule.Phase]bool)
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("completed phases: %w", err)
		}
		done[rule.Phase(name)] = true
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("completed phases: %w", err)
	}

	var phases []rule.Phase
	for _, p := range rule.Phases {
		if done[p] {
			phases = append(phases, p)
		}
	}
	return phases, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPhaseRun(row rowScanner) (*PhaseRun, error) {
	var (
		run          PhaseRun
		phase        string
		startedAt    string
		endedAt      sql.NullString
		criterionMet int
		userAborted  int
	)
	if err := row.Scan(
		&run.RunToken, &run.ParticipantID, &phase, &startedAt, &endedAt,
		&run.TrialsTotal, &run.TrialsCorrect, &criterionMet, &userAborted,
	); err != nil {
		return nil, err
	}

	run.Phase = rule.Phase(phase)
	run.CriterionMet = criterionMet != 0
	run.UserAborted = userAborted != 0

	var err error
	run.StartedAt, err = time.Parse(time.RFC3339, startedAt)
	if err != nil {
		return nil, fmt.Errorf("parse started_at: %w", err)
	}
	if endedAt.Valid {
		run.EndedAt, err = time.Parse(time.RFC3339, endedAt.String)
		if err != nil {
			return nil, fmt.Errorf("parse ended_at: %w", err)
		}
	}
	return &run, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
