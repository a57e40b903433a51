package model

import "testing"

func TestValidateRuleCanonicalMismatch(t *testing.T) {
	rule := Rule{Room: "kitchen", TimeBucket: "07-08", DayType: "weekday"}
	if err := ValidateRule("kitchen|07-08", rule); err == nil {
		t.Error("expected error: stored key omits day_type present on the rule")
	}
	if err := ValidateRule("kitchen|07-08|weekday", rule); err != nil {
		t.Errorf("expected canonical key to validate, got %v", err)
	}
}

func TestValidateActionRejectsBadService(t *testing.T) {
	if err := ValidateAction(Action{Service: "light.turn_on.extra", EntityID: "light.lr"}); err == nil {
		t.Error("expected error for service with more than one dot")
	}
	if err := ValidateAction(Action{Service: "Light.TurnOn", EntityID: "light.lr"}); err == nil {
		t.Error("expected error for uppercase service")
	}
	if err := ValidateAction(Action{Service: "light.turn_on", EntityID: "lr"}); err == nil {
		t.Error("expected error for entity_id missing a dot")
	}
	if err := ValidateAction(Action{Service: "light.turn_on", EntityID: "light.lr"}); err != nil {
		t.Errorf("expected valid action, got %v", err)
	}
}

func TestValidateWarnsOnEmptyActionsAndDuplicates(t *testing.T) {
	rules := map[string]Rule{
		"a|08-09": {Room: "a", TimeBucket: "08-09"},
		"b|08-09": {
			Room: "b", TimeBucket: "08-09",
			Actions: []Action{{Service: "light.turn_on", EntityID: "light.b"}},
		},
		"c|08-09": {
			Room: "c", TimeBucket: "08-09",
			Actions: []Action{{Service: "light.turn_on", EntityID: "light.b"}},
		},
	}
	res := Validate(rules)
	if !res.OK() {
		t.Fatalf("expected no fatal errors, got %v", res.Errors)
	}
	if len(res.Warnings) != 2 {
		t.Errorf("expected 2 warnings (empty actions + duplicate signature), got %d: %v", len(res.Warnings), res.Warnings)
	}
}

func TestComputeStatsSortsIdentifiers(t *testing.T) {
	rules := map[string]Rule{
		"zeta|08-09":  {Room: "zeta", TimeBucket: "08-09", InteractionType: "single_press"},
		"alpha|09-10": {Room: "alpha", TimeBucket: "09-10", InteractionType: "double_press"},
	}
	stats := ComputeStats(rules)
	if stats.Rooms[0] != "alpha" || stats.Rooms[1] != "zeta" {
		t.Errorf("Rooms not sorted: %v", stats.Rooms)
	}
	if stats.TotalScenarios != 2 {
		t.Errorf("TotalScenarios = %d, want 2", stats.TotalScenarios)
	}
}
