package store

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/replaylab/unscramble/internal/rule"
)

func testState(t *testing.T, participantID string) *rule.State {
	t.Helper()
	pools := make(map[rule.Phase][]string, len(rule.Phases))
	for _, phase := range rule.Phases {
		pool := make([]string, 8)
		for i := range pool {
			pool[i] = fmt.Sprintf("%s-%02d", phase, i)
		}
		pools[phase] = pool
	}
	st, err := rule.Generate(rule.GenerateParams{
		ParticipantID: participantID,
		NumObjects:    8,
		Mode:          rule.ModeAlternating,
		Pools:         pools,
		Now:           time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)
	return st
}

func TestRuleRecordsRoundTrip(t *testing.T) {
	records, err := NewRuleRecords(t.TempDir())
	require.NoError(t, err)

	st := testState(t, "p001")
	require.NoError(t, records.Save(st))

	got, err := records.Load("p001")
	require.NoError(t, err)
	assert.True(t, st.Equal(got), "record must survive the YAML round trip")
	assert.Equal(t, st.Fingerprint(), got.Fingerprint())
}

func TestRuleRecordsLoadMissing(t *testing.T) {
	records, err := NewRuleRecords(t.TempDir())
	require.NoError(t, err)

	_, err = records.Load("ghost")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestRuleRecordsSaveIsWriteOnce(t *testing.T) {
	records, err := NewRuleRecords(t.TempDir())
	require.NoError(t, err)

	st := testState(t, "p001")
	require.NoError(t, records.Save(st))

	// Saving identical content again is an idempotent no-op.
	require.NoError(t, records.Save(st))

	// Saving different content for the same participant must fail.
	other := testState(t, "p002")
	other.ParticipantID = "p001"
	err = records.Save(other)
	require.Error(t, err)

	var existsErr *AlreadyExistsError
	require.ErrorAs(t, err, &existsErr)
	assert.Equal(t, "p001", existsErr.ParticipantID)

	// The stored record is untouched.
	got, err := records.Load("p001")
	require.NoError(t, err)
	assert.True(t, st.Equal(got))
}

func TestLoadOrCreateGeneratesOnce(t *testing.T) {
	records, err := NewRuleRecords(t.TempDir())
	require.NoError(t, err)

	calls := 0
	generate := func() (*rule.State, error) {
		calls++
		return testState(t, "p001"), nil
	}

	first, err := records.LoadOrCreate("p001", generate)
	require.NoError(t, err)
	second, err := records.LoadOrCreate("p001", generate)
	require.NoError(t, err)

	assert.Equal(t, 1, calls, "generator runs only for the first session")
	assert.True(t, first.Equal(second))
}

func TestLoadOrCreateRejectsWrongParticipant(t *testing.T) {
	records, err := NewRuleRecords(t.TempDir())
	require.NoError(t, err)

	_, err = records.LoadOrCreate("p001", func() (*rule.State, error) {
		return testState(t, "p999"), nil
	})
	require.Error(t, err)
}

func TestListRecords(t *testing.T) {
	records, err := NewRuleRecords(t.TempDir())
	require.NoError(t, err)

	require.NoError(t, records.Save(testState(t, "p002")))
	require.NoError(t, records.Save(testState(t, "p001")))

	ids, err := records.List()
	require.NoError(t, err)
	assert.Equal(t, []string{"p001", "p002"}, ids)
}
