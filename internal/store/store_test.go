package store

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/nodalink/scenariod/internal/model"
)

func TestSaveThenLoadScenariosRoundTrips(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "scenarios.json")

	rules := map[string]model.Rule{
		"living_room|18-19|weekday||presence_detected": {
			Room: "living_room", TimeBucket: "18-19", DayType: "weekday",
			InteractionType: "presence_detected",
			Actions: []model.Action{
				{Service: "light.turn_on", EntityID: "light.lr", Data: map[string]any{"brightness": float64(180)}},
			},
			CreatedAt: time.Now().UTC().Truncate(time.Second),
			UpdatedAt: time.Now().UTC().Truncate(time.Second),
		},
	}

	if err := SaveScenarios(path, rules); err != nil {
		t.Fatalf("SaveScenarios: %v", err)
	}

	loaded, warnings, err := LoadScenarios(path)
	if err != nil {
		t.Fatalf("LoadScenarios: %v", err)
	}
	if len(warnings) != 0 {
		t.Errorf("unexpected warnings: %v", warnings)
	}
	if len(loaded) != 1 {
		t.Fatalf("expected 1 rule, got %d", len(loaded))
	}
	rule := loaded["living_room|18-19|weekday||presence_detected"]
	if rule.Room != "living_room" || rule.Actions[0].Service != "light.turn_on" {
		t.Errorf("round-tripped rule mismatch: %+v", rule)
	}
}

func TestLoadScenariosMissingFileIsEmptyWithWarning(t *testing.T) {
	rules, warnings, err := LoadScenarios(filepath.Join(t.TempDir(), "absent.json"))
	if err != nil {
		t.Fatalf("LoadScenarios: %v", err)
	}
	if len(rules) != 0 {
		t.Errorf("expected empty rule set, got %d", len(rules))
	}
	if len(warnings) != 1 {
		t.Errorf("expected one warning, got %v", warnings)
	}
}

func TestLoadScenariosRejectsInvalidRule(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "scenarios.json")
	bad := `{"1room|08-09": {"room": "1room", "time_bucket": "08-09", "actions": []}}`
	if err := atomicWrite(path, []byte(bad)); err != nil {
		t.Fatalf("atomicWrite: %v", err)
	}
	if _, _, err := LoadScenarios(path); err == nil {
		t.Error("expected validation error for malformed room identifier")
	}
}

func TestLoadConfigDefaultsWhenMissing(t *testing.T) {
	cfg, warnings, err := LoadConfig(filepath.Join(t.TempDir(), "absent.json"))
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if len(warnings) != 1 {
		t.Errorf("expected one warning, got %v", warnings)
	}
	if cfg.SystemSettings.TimeBucketMinutes != 60 {
		t.Errorf("expected default bucket minutes 60, got %d", cfg.SystemSettings.TimeBucketMinutes)
	}
	if len(cfg.SystemSettings.AllowedDomains) == 0 {
		t.Error("expected default allowed_domains to be populated")
	}
}

func TestSaveThenLoadConfigRoundTrips(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	cfg := model.Config{
		Metadata: model.Metadata{Version: "1", Description: "test"},
		RoomMappings: map[string]model.RoomMapping{
			"living_room": {Label: "Living Room", EntityID: "binary_sensor.lr", EntityType: "binary_sensor"},
		},
		ConditionalEntities: map[string]model.ConditionalEntity{},
		SystemSettings:      model.DefaultSystemSettings(),
	}
	if err := SaveConfig(path, cfg); err != nil {
		t.Fatalf("SaveConfig: %v", err)
	}
	loaded, _, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if loaded.RoomMappings["living_room"].EntityID != "binary_sensor.lr" {
		t.Errorf("round-tripped config mismatch: %+v", loaded)
	}
}

func TestAppendAndReadUnmatchedLog(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "unmatched.log")

	rec1 := model.UnmatchedRecord{Fingerprint: "a|08-09", Timestamp: time.Now().UTC().Truncate(time.Second)}
	rec2 := model.UnmatchedRecord{Fingerprint: "b|08-09", Timestamp: time.Now().UTC().Truncate(time.Second)}

	if err := AppendUnmatched(path, rec1); err != nil {
		t.Fatalf("AppendUnmatched: %v", err)
	}
	if err := AppendUnmatched(path, rec2); err != nil {
		t.Fatalf("AppendUnmatched: %v", err)
	}

	records, err := ReadUnmatchedLog(path)
	if err != nil {
		t.Fatalf("ReadUnmatchedLog: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("expected 2 records, got %d", len(records))
	}
	if records[0].Fingerprint != "a|08-09" || records[1].Fingerprint != "b|08-09" {
		t.Errorf("records out of order or wrong content: %+v", records)
	}
}
