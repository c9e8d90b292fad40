package rule

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testPools(n int) map[Phase][]string {
	pools := make(map[Phase][]string, len(Phases))
	for _, phase := range Phases {
		pool := make([]string, n)
		for i := range pool {
			pool[i] = fmt.Sprintf("%s-obj-%02d", phase, i)
		}
		pools[phase] = pool
	}
	return pools
}

func TestGenerateProducesValidState(t *testing.T) {
	st, err := Generate(GenerateParams{
		ParticipantID: "p001",
		NumObjects:    8,
		Mode:          ModeAlternating,
		Pools:         testPools(8),
	})
	require.NoError(t, err)
	require.NoError(t, st.Validate())

	assert.Equal(t, "p001", st.ParticipantID)
	assert.Len(t, st.Permutation, 8)
	assert.Len(t, st.Assignments, 3)
}

func TestGenerateIsDeterministic(t *testing.T) {
	params := GenerateParams{
		ParticipantID: "p042",
		NumObjects:    8,
		Mode:          ModeAlternating,
		Pools:         testPools(10),
	}

	a, err := Generate(params)
	require.NoError(t, err)
	b, err := Generate(params)
	require.NoError(t, err)

	assert.True(t, a.Equal(b), "same participant must yield identical state")
	assert.Equal(t, a.Fingerprint(), b.Fingerprint())
}

func TestGenerateDiffersAcrossParticipants(t *testing.T) {
	a, err := Generate(GenerateParams{
		ParticipantID: "p001", NumObjects: 8, Mode: ModeAlternating, Pools: testPools(8),
	})
	require.NoError(t, err)
	b, err := Generate(GenerateParams{
		ParticipantID: "p002", NumObjects: 8, Mode: ModeAlternating, Pools: testPools(8),
	})
	require.NoError(t, err)

	assert.False(t, a.Equal(b), "different participants should get different rules")
}

// Property check over many seeds: every generated permutation is a
// bijection satisfying the configured constraint.
func TestAlternatingConstraintProperty(t *testing.T) {
	for _, n := range []int{4, 6, 8, 12} {
		t.Run(fmt.Sprintf("n=%d", n), func(t *testing.T) {
			for i := 0; i < 1000; i++ {
				perm, err := generatePermutation(n, ModeAlternating, uint64(i+1))
				require.NoError(t, err)
				require.NoError(t, perm.Validate())

				// Sequence 1 slots must all land on even positions or all
				// on odd positions; sequence 2 on the complement.
				parity := perm[0] % 2
				for slot := 0; slot < n/2; slot++ {
					assert.Equal(t, parity, perm[slot]%2,
						"seed %d: sequence 1 positions must share parity", i)
				}
				for slot := n / 2; slot < n; slot++ {
					assert.Equal(t, 1-parity, perm[slot]%2,
						"seed %d: sequence 2 positions must have opposite parity", i)
				}
			}
		})
	}
}

func TestDerangementConstraintProperty(t *testing.T) {
	for i := 0; i < 1000; i++ {
		perm, err := generatePermutation(8, ModeDerangement, uint64(i+1))
		require.NoError(t, err)
		require.NoError(t, perm.Validate())
		assert.False(t, perm.HasFixedPoint(), "seed %d: derangement has a fixed point", i)
	}
}

func TestCanonicalModeSharedAcrossParticipants(t *testing.T) {
	for _, n := range []int{4, 6, 8, 10} {
		permA, err := generatePermutation(n, ModeCanonical, SeedFor("alice"))
		require.NoError(t, err)
		permB, err := generatePermutation(n, ModeCanonical, SeedFor("bob"))
		require.NoError(t, err)

		assert.True(t, permA.Equal(permB), "canonical rule must not vary by participant")
		require.NoError(t, permA.Validate())
		assert.False(t, permA.HasFixedPoint(), "n=%d: canonical rule has a fixed point", n)
	}

	// Assignments still vary by participant in canonical mode.
	a, err := Generate(GenerateParams{
		ParticipantID: "alice", NumObjects: 8, Mode: ModeCanonical, Pools: testPools(8),
	})
	require.NoError(t, err)
	b, err := Generate(GenerateParams{
		ParticipantID: "bob", NumObjects: 8, Mode: ModeCanonical, Pools: testPools(8),
	})
	require.NoError(t, err)

	assert.True(t, a.Permutation.Equal(b.Permutation))
	assert.False(t, a.Assignments[PhaseTraining].Equal(b.Assignments[PhaseTraining]))
}

func TestGenerateInsufficientPool(t *testing.T) {
	pools := testPools(8)
	pools[PhaseAppliedLearning] = pools[PhaseAppliedLearning][:5]

	_, err := Generate(GenerateParams{
		ParticipantID: "p001", NumObjects: 8, Mode: ModeAlternating, Pools: pools,
	})
	require.Error(t, err)

	var insufficientErr *InsufficientStimuliError
	require.ErrorAs(t, err, &insufficientErr)
	assert.Equal(t, PhaseAppliedLearning, insufficientErr.Phase)
	assert.Equal(t, 8, insufficientErr.Need)
	assert.Equal(t, 5, insufficientErr.Have)
}

func TestGenerateRejectsOddN(t *testing.T) {
	_, err := Generate(GenerateParams{
		ParticipantID: "p001", NumObjects: 7, Mode: ModeAlternating, Pools: testPools(8),
	})
	assert.Error(t, err)

	_, err = Generate(GenerateParams{
		ParticipantID: "p001", NumObjects: 2, Mode: ModeAlternating, Pools: testPools(8),
	})
	assert.Error(t, err)
}

func TestAssignmentsAreBijective(t *testing.T) {
	st, err := Generate(GenerateParams{
		ParticipantID: "p009", NumObjects: 6, Mode: ModeAlternating, Pools: testPools(9),
	})
	require.NoError(t, err)

	for _, phase := range Phases {
		a := st.Assignments[phase]
		seen := map[string]bool{}
		for slot := 0; slot < 6; slot++ {
			name := a[slot]
			require.NotEmpty(t, name)
			assert.False(t, seen[name], "phase %s: stimulus %q assigned twice", phase, name)
			seen[name] = true
		}
	}
}
