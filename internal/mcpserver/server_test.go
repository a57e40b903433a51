package mcpserver

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/nodalink/scenariod/internal/clock"
	"github.com/nodalink/scenariod/internal/model"
	"github.com/nodalink/scenariod/internal/sharedstore"
)

func newTestStore() *sharedstore.Store {
	dir := "/tmp/scenariod-mcp-test"
	clk := clock.Fixed{At: time.Date(2026, 7, 27, 10, 0, 0, 0, time.UTC)}
	return sharedstore.New(clk, filepath.Join(dir, "scenarios.json"), filepath.Join(dir, "config.json"), filepath.Join(dir, "unmatched.log"))
}

func TestListScenariosReturnsSummaries(t *testing.T) {
	st := newTestStore()
	st.SetRules(map[string]model.Rule{
		"kitchen|08-09": {Room: "kitchen", Actions: []model.Action{{Service: "light.turn_on", EntityID: "light.a"}}},
	})
	srv := NewServer(st)

	_, out, err := srv.handleListScenarios(context.Background(), nil, ListScenariosInput{})
	if err != nil {
		t.Fatalf("handleListScenarios: %v", err)
	}
	if len(out.Scenarios) != 1 || out.Scenarios[0].ActionCount != 1 {
		t.Errorf("unexpected summary: %+v", out.Scenarios)
	}
}

func TestGetSuggestionsDelegatesToStore(t *testing.T) {
	st := newTestStore()
	st.AppendUnmatched(model.UnmatchedRecord{Fingerprint: "a|08-09", Timestamp: time.Now()})
	st.AppendUnmatched(model.UnmatchedRecord{Fingerprint: "a|08-09", Timestamp: time.Now()})
	srv := NewServer(st)

	_, out, err := srv.handleGetSuggestions(context.Background(), nil, GetSuggestionsInput{Limit: 5})
	if err != nil {
		t.Fatalf("handleGetSuggestions: %v", err)
	}
	if len(out.Suggestions) != 1 || out.Suggestions[0].Count != 2 {
		t.Errorf("unexpected suggestions: %+v", out.Suggestions)
	}
}

func TestSimulateScenarioNeverDispatches(t *testing.T) {
	st := newTestStore()
	st.SetConfig(model.Config{SystemSettings: model.DefaultSystemSettings()})
	st.SetRules(map[string]model.Rule{
		"kitchen|10-11|weekday||single_press": {Room: "kitchen", Actions: []model.Action{{Service: "light.turn_on", EntityID: "light.a"}}},
	})
	srv := NewServer(st)

	_, out, err := srv.handleSimulateScenario(context.Background(), nil, SimulateScenarioInput{
		Room: "kitchen", InteractionType: "single_press",
	})
	if err != nil {
		t.Fatalf("handleSimulateScenario: %v", err)
	}
	if !out.ScenarioFound {
		t.Error("expected scenario_found = true")
	}
}

func TestGetStatsReflectsLoadedRules(t *testing.T) {
	st := newTestStore()
	st.SetRules(map[string]model.Rule{
		"a|08-09": {Room: "a", TimeBucket: "08-09"},
		"b|09-10": {Room: "b", TimeBucket: "09-10"},
	})
	srv := NewServer(st)

	_, out, err := srv.handleGetStats(context.Background(), nil, GetStatsInput{})
	if err != nil {
		t.Fatalf("handleGetStats: %v", err)
	}
	if out.TotalScenarios != 2 {
		t.Errorf("TotalScenarios = %d, want 2", out.TotalScenarios)
	}
}
