// Package rule holds the experiment's domain model: the scrambling
// permutation, the per-phase object assignments, and the generator that
// produces both deterministically from a participant seed.
//
// The task presents two "true" sequences of numObjects/2 picture stimuli
// each. Slots 0..numObjects/2-1 belong to sequence 1 and the remaining
// slots to sequence 2. The Permutation maps each true slot to a scrambled
// presentation position; participants learn to invert it.
//
// Rule state is generated exactly once per participant and persisted by
// the store package. Re-generating with the same participant ID and
// configuration always yields an identical State.
package rule
