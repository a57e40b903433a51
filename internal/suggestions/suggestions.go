// Package suggestions derives top-N candidate rules from fingerprints
// that repeatedly failed to match (spec §4.8).
package suggestions

import (
	"sort"
	"time"

	"github.com/nodalink/scenariod/internal/model"
)

// DefaultTopN is the default truncation limit when callers don't specify
// one (spec §4.8: "top-N (default 10)").
const DefaultTopN = 10

// Suggestion summarizes every unmatched attempt seen for one fingerprint.
type Suggestion struct {
	Fingerprint           string         `json:"fingerprint"`
	Count                 int            `json:"count"`
	FirstSeen             time.Time      `json:"first_seen"`
	LastSeen              time.Time      `json:"last_seen"`
	RepresentativeContext map[string]any `json:"representative_context,omitempty"`
}

// Derive groups records by fingerprint into {count, first_seen, last_seen,
// representative_context}, sorts descending by (count, last_seen), and
// truncates to topN (DefaultTopN if topN <= 0).
func Derive(records []model.UnmatchedRecord, topN int) []Suggestion {
	if topN <= 0 {
		topN = DefaultTopN
	}

	byFingerprint := map[string]*Suggestion{}
	var order []string
	for _, rec := range records {
		s, ok := byFingerprint[rec.Fingerprint]
		if !ok {
			s = &Suggestion{Fingerprint: rec.Fingerprint, FirstSeen: rec.Timestamp, LastSeen: rec.Timestamp, RepresentativeContext: rec.Context}
			byFingerprint[rec.Fingerprint] = s
			order = append(order, rec.Fingerprint)
		}
		s.Count++
		if rec.Timestamp.Before(s.FirstSeen) {
			s.FirstSeen = rec.Timestamp
		}
		if rec.Timestamp.After(s.LastSeen) {
			s.LastSeen = rec.Timestamp
			s.RepresentativeContext = rec.Context // most recent context represents the group
		}
	}

	out := make([]Suggestion, 0, len(order))
	for _, fp := range order {
		out = append(out, *byFingerprint[fp])
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].LastSeen.After(out[j].LastSeen)
	})

	if len(out) > topN {
		out = out[:topN]
	}
	return out
}
