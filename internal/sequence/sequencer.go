package sequence

import (
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/replaylab/unscramble/internal/config"
	"github.com/replaylab/unscramble/internal/rule"
)

// Sequencer builds trial lists from one participant's rule record.
type Sequencer struct {
	cfg   *config.Config
	state *rule.State
	seed  uint64
}

// New returns a Sequencer for the participant the record belongs to.
func New(cfg *config.Config, state *rule.State) *Sequencer {
	return &Sequencer{cfg: cfg, state: state, seed: rule.SeedFor(state.ParticipantID)}
}

func (s *Sequencer) rng(label string) *rand.Rand {
	d := rule.DeriveSeed(s.seed, "sequence/"+label)
	return rand.New(rand.NewPCG(d, d^0x9e3779b97f4a7c15))
}

// Build returns the full trial list for a phase. For training it returns
// the first block; the criterion loop requests further blocks through
// TrainingBlock.
func (s *Sequencer) Build(phase rule.Phase) ([]Trial, error) {
	switch phase {
	case rule.PhaseTraining:
		return s.TrainingBlock(0), nil
	case rule.PhaseStructureLearning:
		return s.buildStructureLearning(), nil
	case rule.PhaseAppliedLearning:
		return s.buildAppliedLearning(), nil
	default:
		return nil, fmt.Errorf("unknown phase %q", phase)
	}
}

// TrainingBlock builds one criterion-loop block. Every slot is covered
// once, in an order drawn from the attempt's own stream, so repeated
// attempts see fresh orderings but a rebuilt attempt sees its own again.
//
// Per slot: a rule demonstration, both scrambled sequences, a
// sequence-membership quiz, and, once another slot of the same true
// sequence has been covered, an order quiz against one of those.
func (s *Sequencer) TrainingBlock(attempt int) []Trial {
	n := s.state.NumObjects()
	assignment := s.state.Assignments[rule.PhaseTraining]
	rng := s.rng(fmt.Sprintf("training/block/%d", attempt))

	order := make([]int, n)
	for i := range order {
		order[i] = i
	}
	rng.Shuffle(n, func(i, j int) { order[i], order[j] = order[j], order[i] })

	var trials []Trial
	covered := map[int][]int{1: nil, 2: nil} // true sequence -> covered slots

	for _, slot := range order {
		stim := Stimulus{Slot: slot, Name: assignment[slot]}
		seq := rule.SequenceOf(slot, n)

		trials = append(trials, s.demonstrationTrial(stim))
		trials = append(trials,
			s.presentationTrial(rule.PhaseTraining, assignment, 1),
			s.presentationTrial(rule.PhaseTraining, assignment, 2),
		)
		trials = append(trials, s.sequenceQuizTrial(stim))

		if prior := covered[seq]; len(prior) > 0 {
			other := prior[rng.IntN(len(prior))]
			trials = append(trials, s.orderQuizTrial(
				stim,
				Stimulus{Slot: other, Name: assignment[other]},
				rng.IntN(2) == 0,
			))
		}
		covered[seq] = append(covered[seq], slot)
	}
	return trials
}

func (s *Sequencer) buildStructureLearning() []Trial {
	var trials []Trial
	for run := 0; run < s.cfg.StructureLearning.Runs; run++ {
		trials = append(trials, s.structureRun(run)...)
	}
	return trials
}

// structureRun is one run: each scrambled sequence presented k times,
// then the probe quizzes with counterbalanced probes and no feedback.
func (s *Sequencer) structureRun(run int) []Trial {
	assignment := s.state.Assignments[rule.PhaseStructureLearning]
	rng := s.rng(fmt.Sprintf("structure/run/%d", run))

	var trials []Trial
	for seq := 1; seq <= 2; seq++ {
		for rep := 0; rep < s.cfg.StructureLearning.PresentationsPerSequence; rep++ {
			trials = append(trials, s.presentationTrial(rule.PhaseStructureLearning, assignment, seq))
		}
	}

	for _, slot := range s.counterbalancedProbes(s.cfg.StructureLearning.ProbesPerRun, rng) {
		trials = append(trials, s.probeQuizTrial(rule.PhaseStructureLearning, assignment, slot, rng))
	}
	return trials
}

// buildAppliedLearning lays out the novel-stimulus session: the study
// runs, the rest interval, then one timed query per object in random
// order.
func (s *Sequencer) buildAppliedLearning() []Trial {
	n := s.state.NumObjects()
	assignment := s.state.Assignments[rule.PhaseAppliedLearning]
	rng := s.rng("applied/queries")

	var trials []Trial
	for run := 0; run < s.cfg.AppliedLearning.Runs; run++ {
		for seq := 1; seq <= 2; seq++ {
			for rep := 0; rep < s.cfg.AppliedLearning.PresentationsPerSequence; rep++ {
				trials = append(trials, s.presentationTrial(rule.PhaseAppliedLearning, assignment, seq))
			}
		}
	}

	trials = append(trials, Trial{
		Phase:    rule.PhaseAppliedLearning,
		Kind:     KindRest,
		Prompt:   "Rest. Please stay still; no responses are needed.",
		Duration: s.cfg.RestDuration(),
	})

	order := make([]int, n)
	for i := range order {
		order[i] = i
	}
	rng.Shuffle(n, func(i, j int) { order[i], order[j] = order[j], order[i] })

	for _, slot := range order {
		stim := Stimulus{Slot: slot, Name: assignment[slot]}
		trials = append(trials, Trial{
			Phase:     rule.PhaseAppliedLearning,
			Kind:      KindQuery,
			Prompt:    "Where does this picture belong in the true order? Answer sequence and position.",
			Probe:     &stim,
			Expected:  QueryAnswer(slot, n),
			Duration:  seconds(s.cfg.AppliedLearning.ProbeAloneSeconds),
			TimeLimit: s.cfg.ChoiceTimeout(),
		})
	}
	return trials
}

// counterbalancedProbes spreads count probes over the eligible slots
// (every slot except the last position of each true sequence) so that
// per-slot frequencies differ by at most one, then shuffles the order.
func (s *Sequencer) counterbalancedProbes(count int, rng *rand.Rand) []int {
	n := s.state.NumObjects()
	half := s.state.Half()

	var eligible []int
	for slot := 0; slot < n; slot++ {
		if rule.PositionOf(slot, n) < half {
			eligible = append(eligible, slot)
		}
	}

	base := count / len(eligible)
	rem := count % len(eligible)

	probes := make([]int, 0, count)
	for _, slot := range eligible {
		for i := 0; i < base; i++ {
			probes = append(probes, slot)
		}
	}
	// The remainder goes to a random subset, one extra probe each.
	extra := append([]int(nil), eligible...)
	rng.Shuffle(len(extra), func(i, j int) { extra[i], extra[j] = extra[j], extra[i] })
	probes = append(probes, extra[:rem]...)

	rng.Shuffle(len(probes), func(i, j int) { probes[i], probes[j] = probes[j], probes[i] })
	return probes
}

func (s *Sequencer) demonstrationTrial(stim Stimulus) Trial {
	n := s.state.NumObjects()
	pos := s.state.Permutation[stim.Slot]
	prompt := fmt.Sprintf(
		"The %s picture in the %s scrambled sequence is the %s picture of the %s true sequence.",
		ordinal(rule.ScrambledPositionOf(pos, n)),
		ordinal(rule.ScrambledSequenceOf(pos, n)),
		ordinal(rule.PositionOf(stim.Slot, n)),
		ordinal(rule.SequenceOf(stim.Slot, n)),
	)
	return Trial{
		Phase:  rule.PhaseTraining,
		Kind:   KindDemonstration,
		Prompt: prompt,
		Probe:  &stim,
	}
}

// presentationTrial shows one scrambled sequence in scrambled-position
// order.
func (s *Sequencer) presentationTrial(phase rule.Phase, assignment rule.Assignment, scrambledSeq int) Trial {
	half := s.state.Half()

	start := (scrambledSeq - 1) * half
	stimuli := make([]Stimulus, 0, half)
	for pos := start; pos < start+half; pos++ {
		slot, _ := s.state.Permutation.SlotAt(pos)
		stimuli = append(stimuli, Stimulus{Slot: slot, Name: assignment[slot]})
	}

	return Trial{
		Phase:    phase,
		Kind:     KindPresentation,
		Prompt:   fmt.Sprintf("Scrambled sequence %d", scrambledSeq),
		Stimuli:  stimuli,
		Duration: seconds(s.cfg.Timing.ObjectSeconds),
	}
}

func (s *Sequencer) sequenceQuizTrial(stim Stimulus) Trial {
	expected := "left"
	if rule.SequenceOf(stim.Slot, s.state.NumObjects()) == 2 {
		expected = "right"
	}
	return Trial{
		Phase:    rule.PhaseTraining,
		Kind:     KindSequenceQuiz,
		Prompt:   "Which sequence does this picture belong to? Left: sequence 1. Right: sequence 2.",
		Probe:    &stim,
		Expected: expected,
		Feedback: true,
	}
}

// orderQuizTrial asks which of two same-sequence stimuli comes later.
func (s *Sequencer) orderQuizTrial(a, b Stimulus, aOnLeft bool) Trial {
	n := s.state.NumObjects()
	left, right := a, b
	if !aOnLeft {
		left, right = b, a
	}

	expected := "left"
	if rule.PositionOf(right.Slot, n) > rule.PositionOf(left.Slot, n) {
		expected = "right"
	}
	return Trial{
		Phase: rule.PhaseTraining,
		Kind:  KindOrderQuiz,
		Prompt: fmt.Sprintf("Which comes later in the %s true sequence?",
			ordinal(rule.SequenceOf(a.Slot, n))),
		Stimuli:  []Stimulus{left, right},
		Expected: expected,
		Feedback: true,
	}
}

// probeQuizTrial builds one probe quiz. The correct choice is later in
// the probe's true sequence; the incorrect choice is earlier in the same
// sequence or from the other sequence, forced to the other sequence when
// the probe sits at position 1.
func (s *Sequencer) probeQuizTrial(phase rule.Phase, assignment rule.Assignment, probeSlot int, rng *rand.Rand) Trial {
	n := s.state.NumObjects()
	half := s.state.Half()
	probeSeq := rule.SequenceOf(probeSlot, n)
	probePos := rule.PositionOf(probeSlot, n)

	correctPos := probePos + 1 + rng.IntN(half-probePos)
	correctSlot, _ := rule.SlotOf(correctPos, probeSeq, n)

	incorrectSeq := probeSeq
	if probePos == 1 || rng.IntN(2) == 1 {
		incorrectSeq = 3 - probeSeq
	}
	var incorrectPos int
	if incorrectSeq == probeSeq {
		incorrectPos = 1 + rng.IntN(probePos-1)
	} else {
		incorrectPos = 1 + rng.IntN(half)
	}
	incorrectSlot, _ := rule.SlotOf(incorrectPos, incorrectSeq, n)

	probe := Stimulus{Slot: probeSlot, Name: assignment[probeSlot]}
	correct := Stimulus{Slot: correctSlot, Name: assignment[correctSlot]}
	incorrect := Stimulus{Slot: incorrectSlot, Name: assignment[incorrectSlot]}

	left, right, expected := correct, incorrect, "left"
	if rng.IntN(2) == 1 {
		left, right, expected = incorrect, correct, "right"
	}

	return Trial{
		Phase:    phase,
		Kind:     KindProbeQuiz,
		Prompt:   "Which comes later in the same true sequence?",
		Probe:    &probe,
		Stimuli:  []Stimulus{left, right},
		Expected: expected,
	}
}

func seconds(v float64) time.Duration {
	return time.Duration(v * float64(time.Second))
}
