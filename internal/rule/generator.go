package rule

import (
	"fmt"
	"hash/fnv"
	"math/rand/v2"
	"time"
)

// Mode selects how the scrambling permutation is produced.
type Mode string

const (
	// ModeAlternating randomizes per participant under the task's
	// constraint: the scrambled order alternates between the two true
	// sequences, with sequence 1 occupying all even or all odd scrambled
	// positions (coin flip) and sequence 2 the complement.
	ModeAlternating Mode = "alternating"

	// ModeDerangement randomizes per participant with no fixed points.
	ModeDerangement Mode = "derangement"

	// ModeCanonical uses one fixed alternating rule shared by every
	// participant; only the stimulus assignments vary. Supports designs
	// where the rule itself is the experimental manipulation.
	ModeCanonical Mode = "canonical"
)

// ParseMode converts a string to a Mode.
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case ModeAlternating, ModeDerangement, ModeCanonical:
		return Mode(s), nil
	}
	return "", fmt.Errorf("unknown rule mode %q (valid: alternating, derangement, canonical)", s)
}

// InsufficientStimuliError reports that a phase's stimulus pool is too
// small to assign every object slot a distinct stimulus.
type InsufficientStimuliError struct {
	Phase Phase
	Need  int
	Have  int
}

func (e *InsufficientStimuliError) Error() string {
	return fmt.Sprintf("insufficient stimuli for phase %s: need %d, pool has %d", e.Phase, e.Need, e.Have)
}

// SeedFor derives the generation seed from a participant ID. The same ID
// always yields the same seed, so rule generation is reproducible for
// crash recovery and testing.
func SeedFor(participantID string) uint64 {
	h := fnv.New64a()
	h.Write([]byte("unscramble/rule/"))
	h.Write([]byte(participantID))
	return h.Sum64()
}

// DeriveSeed folds a label into a base seed, giving callers independent
// deterministic streams (per phase, per run, per attempt) from the one
// participant seed.
func DeriveSeed(seed uint64, label string) uint64 {
	return subSeed(seed, label)
}

func subSeed(seed uint64, label string) uint64 {
	h := fnv.New64a()
	var buf [8]byte
	for i := range buf {
		buf[i] = byte(seed >> (8 * i))
	}
	h.Write(buf[:])
	h.Write([]byte(label))
	return h.Sum64()
}

func newRand(seed uint64, label string) *rand.Rand {
	s := subSeed(seed, label)
	return rand.New(rand.NewPCG(s, s^0x9e3779b97f4a7c15))
}

// GenerateParams bundles the inputs to Generate.
type GenerateParams struct {
	ParticipantID string
	NumObjects    int
	Mode          Mode
	Pools         map[Phase][]string
	Seed          uint64    // 0 means derive from ParticipantID
	Now           time.Time // zero means time.Now
}

// Generate produces the complete rule record for a participant: the
// scrambling permutation plus one stimulus assignment per phase, all
// drawn from the deterministic seed. Returns InsufficientStimuliError
// when any phase pool is smaller than NumObjects.
func Generate(p GenerateParams) (*State, error) {
	n := p.NumObjects
	if n < 4 || n%2 != 0 {
		return nil, fmt.Errorf("num_objects must be even and at least 4, got %d", n)
	}
	seed := p.Seed
	if seed == 0 {
		seed = SeedFor(p.ParticipantID)
	}

	perm, err := generatePermutation(n, p.Mode, seed)
	if err != nil {
		return nil, err
	}

	assignments := make(map[Phase]Assignment, len(Phases))
	for _, phase := range Phases {
		pool := CanonicalizeNames(p.Pools[phase])
		if len(pool) < n {
			return nil, &InsufficientStimuliError{Phase: phase, Need: n, Have: len(pool)}
		}
		assignments[phase] = assignFromPool(pool, n, newRand(seed, "assign/"+string(phase)))
	}

	now := p.Now
	if now.IsZero() {
		now = time.Now()
	}

	st := &State{
		ParticipantID: p.ParticipantID,
		RuleMode:      p.Mode,
		Permutation:   perm,
		Assignments:   assignments,
		CreatedAt:     now.UTC().Truncate(time.Second),
	}
	if err := st.Validate(); err != nil {
		return nil, fmt.Errorf("generated state failed validation: %w", err)
	}
	return st, nil
}

func generatePermutation(n int, mode Mode, seed uint64) (Permutation, error) {
	switch mode {
	case ModeAlternating:
		return alternatingPermutation(n, newRand(seed, "perm")), nil
	case ModeDerangement:
		return derangement(n, newRand(seed, "perm")), nil
	case ModeCanonical:
		return canonicalPermutation(n), nil
	default:
		return nil, fmt.Errorf("unknown rule mode %q", mode)
	}
}

// alternatingPermutation scatters true sequence 1 over all even or all
// odd scrambled positions (coin flip) and true sequence 2 over the
// complement, each in random order.
func alternatingPermutation(n int, rng *rand.Rand) Permutation {
	half := n / 2
	evens := make([]int, 0, half)
	odds := make([]int, 0, half)
	for pos := 0; pos < n; pos++ {
		if pos%2 == 0 {
			evens = append(evens, pos)
		} else {
			odds = append(odds, pos)
		}
	}

	seq1, seq2 := evens, odds
	if rng.IntN(2) == 1 {
		seq1, seq2 = odds, evens
	}
	rng.Shuffle(half, func(i, j int) { seq1[i], seq1[j] = seq1[j], seq1[i] })
	rng.Shuffle(half, func(i, j int) { seq2[i], seq2[j] = seq2[j], seq2[i] })

	perm := make(Permutation, n)
	for i := 0; i < half; i++ {
		perm[i] = seq1[i]
		perm[half+i] = seq2[i]
	}
	return perm
}

// derangement draws uniform permutations until one has no fixed point.
// Rejection sampling converges quickly: the acceptance probability tends
// to 1/e as n grows.
func derangement(n int, rng *rand.Rand) Permutation {
	for {
		perm := make(Permutation, n)
		for i := range perm {
			perm[i] = i
		}
		rng.Shuffle(n, func(i, j int) { perm[i], perm[j] = perm[j], perm[i] })
		if !perm.HasFixedPoint() {
			return perm
		}
	}
}

// canonicalPermutation is the fixed shared rule: sequence 1 slot i goes
// to even position 2*((i+1) mod half), sequence 2 slot i to odd position
// 2*((i+half-1) mod half)+1. Alternating, and fixed-point free for every
// even n >= 4 (a fixed point in either branch would need i outside
// [0, half), which cannot happen).
func canonicalPermutation(n int) Permutation {
	half := n / 2
	perm := make(Permutation, n)
	for i := 0; i < half; i++ {
		perm[i] = 2 * ((i + 1) % half)
		perm[half+i] = 2*((i+half-1)%half) + 1
	}
	return perm
}

// assignFromPool draws n distinct stimuli from the pool uniformly at
// random and assigns them to slots 0..n-1.
func assignFromPool(pool []string, n int, rng *rand.Rand) Assignment {
	shuffled := make([]string, len(pool))
	copy(shuffled, pool)
	rng.Shuffle(len(shuffled), func(i, j int) { shuffled[i], shuffled[j] = shuffled[j], shuffled[i] })

	a := make(Assignment, n)
	for slot := 0; slot < n; slot++ {
		a[slot] = shuffled[slot]
	}
	return a
}
