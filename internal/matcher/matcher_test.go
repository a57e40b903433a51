package matcher

import (
	"testing"

	"github.com/nodalink/scenariod/internal/model"
)

func TestMatchExact(t *testing.T) {
	rules := map[string]model.Rule{
		"living_room|18-19|weekday|presence_detected": {Room: "living_room"},
	}
	res := Match("living_room|18-19|weekday|presence_detected", rules, true)
	if !res.Found || res.Fallback {
		t.Fatalf("expected exact match, got %+v", res)
	}
}

func TestMatchHierarchicalFallback(t *testing.T) {
	rules := map[string]model.Rule{
		"kitchen|07-08": {Room: "kitchen"},
	}
	res := Match("kitchen|07-08|weekday||single_press", rules, true)
	if !res.Found {
		t.Fatal("expected fallback match")
	}
	if res.Pattern != "kitchen|07-08" {
		t.Errorf("Pattern = %q, want kitchen|07-08", res.Pattern)
	}
	if !res.Fallback {
		t.Error("expected Fallback = true")
	}
}

func TestMatchNoFallbackWhenDisabled(t *testing.T) {
	rules := map[string]model.Rule{
		"kitchen|07-08": {Room: "kitchen"},
	}
	res := Match("kitchen|07-08|weekday||single_press", rules, false)
	if res.Found {
		t.Error("expected no match with fallback disabled")
	}
}

func TestExactImpliesFallbackFinds(t *testing.T) {
	rules := map[string]model.Rule{
		"kitchen|07-08|weekday||single_press": {Room: "kitchen"},
	}
	fp := "kitchen|07-08|weekday||single_press"
	if !Match(fp, rules, false).Found {
		t.Fatal("exact lookup should hit")
	}
	if !Match(fp, rules, true).Found {
		t.Fatal("fallback-enabled lookup must also hit when exact matches")
	}
}

func TestFallbackPatternsOrderAndSkipEmpty(t *testing.T) {
	got := FallbackPatterns("room|08-09|weekday|flagA+flagB|single_press")
	want := []string{
		"room|08-09|weekday|flagA+flagB",
		"room|08-09|weekday",
		"room|08-09",
		"room",
	}
	if len(got) != len(want) {
		t.Fatalf("FallbackPatterns = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("pattern[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestFallbackPatternsSkipsAlreadyEmptySteps(t *testing.T) {
	// day is already empty; after dropping interaction and then flags
	// the pattern is "room|08-09", and the day-drop step must not
	// duplicate it.
	got := FallbackPatterns("room|08-09||flagA|single_press")
	want := []string{
		"room|08-09||flagA",
		"room|08-09",
		"room",
	}
	if len(got) != len(want) {
		t.Fatalf("FallbackPatterns = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("pattern[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestNoMatchIsNotAnError(t *testing.T) {
	res := Match("nowhere|99-00", map[string]model.Rule{}, true)
	if res.Found {
		t.Error("expected no match")
	}
}
