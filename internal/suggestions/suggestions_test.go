package suggestions

import (
	"testing"
	"time"

	"github.com/nodalink/scenariod/internal/model"
)

func ts(minute int) time.Time {
	return time.Date(2026, 7, 27, 10, minute, 0, 0, time.UTC)
}

func TestDeriveGroupsByFingerprintAndCounts(t *testing.T) {
	records := []model.UnmatchedRecord{
		{Fingerprint: "a|08-09", Timestamp: ts(0), Context: map[string]any{"n": 1}},
		{Fingerprint: "a|08-09", Timestamp: ts(5), Context: map[string]any{"n": 2}},
		{Fingerprint: "b|08-09", Timestamp: ts(1)},
	}
	got := Derive(records, 10)
	if len(got) != 2 {
		t.Fatalf("expected 2 groups, got %d", len(got))
	}
	if got[0].Fingerprint != "a|08-09" || got[0].Count != 2 {
		t.Errorf("expected a|08-09 first with count 2, got %+v", got[0])
	}
}

func TestDeriveSortsDescendingByCountThenLastSeen(t *testing.T) {
	records := []model.UnmatchedRecord{
		{Fingerprint: "rare", Timestamp: ts(20)},
		{Fingerprint: "common", Timestamp: ts(0)},
		{Fingerprint: "common", Timestamp: ts(1)},
		{Fingerprint: "also-rare", Timestamp: ts(10)},
	}
	got := Derive(records, 10)
	if got[0].Fingerprint != "common" {
		t.Fatalf("expected common (count 2) first, got %+v", got)
	}
	if got[1].Fingerprint != "rare" {
		t.Errorf("expected rare (later last_seen) before also-rare, got %+v", got)
	}
}

func TestDeriveUsesMostRecentContextAsRepresentative(t *testing.T) {
	records := []model.UnmatchedRecord{
		{Fingerprint: "a", Timestamp: ts(0), Context: map[string]any{"stage": "first"}},
		{Fingerprint: "a", Timestamp: ts(5), Context: map[string]any{"stage": "latest"}},
	}
	got := Derive(records, 10)
	if got[0].RepresentativeContext["stage"] != "latest" {
		t.Errorf("expected most recent context, got %+v", got[0].RepresentativeContext)
	}
}

func TestDeriveTruncatesToTopN(t *testing.T) {
	var records []model.UnmatchedRecord
	for i := 0; i < 25; i++ {
		records = append(records, model.UnmatchedRecord{Fingerprint: string(rune('a' + i)), Timestamp: ts(i)})
	}
	got := Derive(records, 10)
	if len(got) != 10 {
		t.Errorf("expected truncation to 10, got %d", len(got))
	}
}

func TestDeriveDefaultsTopNWhenNonPositive(t *testing.T) {
	var records []model.UnmatchedRecord
	for i := 0; i < 15; i++ {
		records = append(records, model.UnmatchedRecord{Fingerprint: string(rune('a' + i)), Timestamp: ts(i)})
	}
	got := Derive(records, 0)
	if len(got) != DefaultTopN {
		t.Errorf("expected default top-N %d, got %d", DefaultTopN, len(got))
	}
}

type fakeSource struct{ records []model.UnmatchedRecord }

func (f fakeSource) Unmatched() []model.UnmatchedRecord { return f.records }

func TestFromSourceDelegatesToDerive(t *testing.T) {
	src := fakeSource{records: []model.UnmatchedRecord{{Fingerprint: "a", Timestamp: ts(0)}}}
	got := FromSource(src, 5)
	if len(got) != 1 || got[0].Fingerprint != "a" {
		t.Errorf("FromSource = %+v", got)
	}
}
