// Package matcher implements hierarchical fingerprint resolution: exact
// match first, then progressively relaxed fallback patterns (spec §4.3).
package matcher

import (
	"strings"

	"github.com/nodalink/scenariod/internal/model"
)

// Result describes the outcome of a Match call. Found is false when
// nothing matched — spec §4.3: "absence of a match is a value, not an
// error."
type Result struct {
	Rule     model.Rule
	Pattern  string // the fingerprint pattern that actually matched
	Fallback bool   // true if the match came from a relaxed pattern, not the exact fingerprint
	Found    bool
}

// Match resolves fp against rules. If fallbackEnabled is false, only the
// exact fingerprint is tried. Otherwise, on an exact miss, the fallback
// hierarchy in FallbackPatterns is tried in order and the first hit is
// returned.
func Match(fp string, rules map[string]model.Rule, fallbackEnabled bool) Result {
	if rule, ok := rules[fp]; ok {
		return Result{Rule: rule, Pattern: fp, Found: true}
	}
	if !fallbackEnabled {
		return Result{}
	}

	for _, pattern := range FallbackPatterns(fp) {
		if rule, ok := rules[pattern]; ok {
			return Result{Rule: rule, Pattern: pattern, Fallback: true, Found: true}
		}
	}
	return Result{}
}

// FallbackPatterns returns the ordered sequence of progressively relaxed
// patterns tried after an exact miss: drop interaction, then flags, then
// day, then down to room-only. Trailing empty components are trimmed
// before each candidate is emitted, and a step is skipped when its
// source component is already empty (spec §4.3).
func FallbackPatterns(fp string) []string {
	parts := strings.Split(fp, "|")
	for len(parts) < 5 {
		parts = append(parts, "")
	}
	// parts: [room, bucket, day, flags, interaction]

	var patterns []string
	seen := map[string]bool{fp: true}

	add := func(n int) {
		candidate := strings.Join(trimTrailingEmpty(parts[:n]), "|")
		if !seen[candidate] {
			seen[candidate] = true
			patterns = append(patterns, candidate)
		}
	}

	if parts[4] != "" { // 1: drop interaction -> room|bucket|day|flags
		add(4)
	}
	if parts[3] != "" { // 2: drop flags -> room|bucket|day
		add(3)
	}
	if parts[2] != "" { // 3: drop day -> room|bucket
		add(2)
	}
	add(1) // 4: room only

	return patterns
}

func trimTrailingEmpty(parts []string) []string {
	out := append([]string(nil), parts...)
	for len(out) > 1 && out[len(out)-1] == "" {
		out = out[:len(out)-1]
	}
	return out
}
