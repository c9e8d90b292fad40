package rule

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"

	"golang.org/x/text/unicode/norm"
)

// CanonicalName returns the canonical form of a stimulus identifier:
// trimmed and NFC normalized. All comparisons and hashes go through this
// so a record re-read from disk compares equal to the one that produced it,
// even when the serializer or filesystem re-encoded the string.
func CanonicalName(s string) string {
	return norm.NFC.String(strings.TrimSpace(s))
}

// CanonicalizeNames applies CanonicalName to every stimulus in a pool,
// preserving order.
func CanonicalizeNames(pool []string) []string {
	out := make([]string, len(pool))
	for i, s := range pool {
		out[i] = CanonicalName(s)
	}
	return out
}

// Fingerprint returns a stable hex digest of the rule content, used in
// logs and in already-exists diagnostics. Timestamps are excluded for the
// same reason State.Equal ignores them.
func (s *State) Fingerprint() string {
	h := sha256.New()
	fmt.Fprintf(h, "participant=%s\n", s.ParticipantID)
	fmt.Fprintf(h, "mode=%s\n", s.RuleMode)
	fmt.Fprintf(h, "perm=%v\n", []int(s.Permutation))

	phases := make([]string, 0, len(s.Assignments))
	for phase := range s.Assignments {
		phases = append(phases, string(phase))
	}
	sort.Strings(phases)
	for _, phase := range phases {
		a := s.Assignments[Phase(phase)]
		fmt.Fprintf(h, "phase=%s\n", phase)
		for slot := 0; slot < len(a); slot++ {
			fmt.Fprintf(h, "%d=%s\n", slot, CanonicalName(a[slot]))
		}
	}
	return hex.EncodeToString(h.Sum(nil))[:16]
}
