package model

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/nodalink/scenariod/internal/fingerprint"
)

var serviceHalfRe = regexp.MustCompile(`^[a-z_][a-z0-9_]*$`)

// ValidationResult collects the errors and warnings produced by Validate.
// Errors mean the rule set cannot be loaded; warnings are logged but do
// not block loading (spec §4.2).
type ValidationResult struct {
	Errors   []string
	Warnings []string
	Counts   struct {
		Rules   int
		Actions int
	}
}

// OK reports whether the rule set has no fatal errors.
func (r ValidationResult) OK() bool { return len(r.Errors) == 0 }

// ValidateRule checks a single rule against the grammar in spec §3/§4.2.
// It does not check for an empty Actions slice — that is a warning
// (handled by Validate at the set level), not a fatal error.
func ValidateRule(fp string, rule Rule) error {
	if !fingerprint.IsValidIdentifier(rule.Room) {
		return fmt.Errorf("room %q must match [A-Za-z_][A-Za-z0-9_]*", rule.Room)
	}
	if !fingerprint.IsValidBucket(rule.TimeBucket) {
		return fmt.Errorf("time_bucket %q must match ^\\d{2}[-:]\\d{2}(-\\d{2}[-:]\\d{2})?$", rule.TimeBucket)
	}
	if rule.DayType != "" && rule.DayType != "weekday" && rule.DayType != "weekend" {
		return fmt.Errorf("day_type %q must be weekday, weekend, or empty", rule.DayType)
	}
	for _, f := range rule.OptionalFlags {
		if !fingerprint.IsValidIdentifier(f) {
			return fmt.Errorf("optional_flags entry %q must match [A-Za-z_][A-Za-z0-9_]*", f)
		}
	}
	if rule.InteractionType != "" && !fingerprint.IsValidIdentifier(rule.InteractionType) {
		return fmt.Errorf("interaction_type %q must match [A-Za-z_][A-Za-z0-9_]*", rule.InteractionType)
	}
	for i, a := range rule.Actions {
		if err := ValidateAction(a); err != nil {
			return fmt.Errorf("actions[%d]: %w", i, err)
		}
	}

	built, err := fingerprint.Build(fingerprint.Components{
		Room: rule.Room, Bucket: rule.TimeBucket, Day: rule.DayType,
		Flags: rule.OptionalFlags, Interaction: rule.InteractionType,
	})
	if err != nil {
		return fmt.Errorf("deriving canonical fingerprint: %w", err)
	}
	if built != fp {
		return fmt.Errorf("fingerprint key %q does not match fields (canonical form is %q)", fp, built)
	}
	return nil
}

// ValidateService checks a service string against the domain.verb grammar.
func ValidateService(service string) error {
	parts := strings.Split(service, ".")
	if len(parts) != 2 || !serviceHalfRe.MatchString(parts[0]) || !serviceHalfRe.MatchString(parts[1]) {
		return fmt.Errorf("service %q must be domain.verb with both parts matching [a-z_][a-z0-9_]*", service)
	}
	return nil
}

// ValidateAction checks a single Action's service and entity_id grammar
// (spec §3).
func ValidateAction(a Action) error {
	if err := ValidateService(a.Service); err != nil {
		return err
	}
	if !isSanitizedEntityID(a.EntityID) {
		return fmt.Errorf("entity_id %q must be domain.name using only [A-Za-z0-9_.]", a.EntityID)
	}
	return nil
}

var entityIDRe = regexp.MustCompile(`^[A-Za-z0-9_]+\.[A-Za-z0-9_.]+$`)

func isSanitizedEntityID(id string) bool {
	return entityIDRe.MatchString(id)
}

// Validate checks an entire rule set, returning fatal errors and
// non-fatal warnings (spec §4.2: empty action lists, duplicate action
// sequences across distinct rules).
func Validate(rules map[string]Rule) ValidationResult {
	var res ValidationResult
	res.Counts.Rules = len(rules)

	actionSigs := map[string][]string{}

	for fp, rule := range rules {
		if err := ValidateRule(fp, rule); err != nil {
			res.Errors = append(res.Errors, fmt.Sprintf("rule %q: %v", fp, err))
			continue
		}
		res.Counts.Actions += len(rule.Actions)
		if len(rule.Actions) == 0 {
			res.Warnings = append(res.Warnings, fmt.Sprintf("rule %q has no actions", fp))
		}
		sig := actionSignature(rule.Actions)
		actionSigs[sig] = append(actionSigs[sig], fp)
	}

	for sig, fps := range actionSigs {
		if len(fps) > 1 && sig != "" {
			res.Warnings = append(res.Warnings, fmt.Sprintf("rules %v have byte-identical action sequences", fps))
		}
	}

	return res
}

// ValidateConfig checks room_mappings/conditional_entities for duplicate
// labels, a non-fatal warning per spec §4.2.
func ValidateConfig(cfg Config) []string {
	var warnings []string
	seen := map[string]string{}
	for id, rm := range cfg.RoomMappings {
		if other, dup := seen[rm.Label]; dup {
			warnings = append(warnings, fmt.Sprintf("room label %q used by both %q and %q", rm.Label, other, id))
		} else if rm.Label != "" {
			seen[rm.Label] = id
		}
	}
	seen = map[string]string{}
	for id, ce := range cfg.ConditionalEntities {
		if other, dup := seen[ce.Label]; dup {
			warnings = append(warnings, fmt.Sprintf("flag label %q used by both %q and %q", ce.Label, other, id))
		} else if ce.Label != "" {
			seen[ce.Label] = id
		}
	}
	return warnings
}

func actionSignature(actions []Action) string {
	if len(actions) == 0 {
		return ""
	}
	var b strings.Builder
	for _, a := range actions {
		fmt.Fprintf(&b, "%s\x00%s\x00%v;", a.Service, a.EntityID, a.Data)
	}
	return b.String()
}
