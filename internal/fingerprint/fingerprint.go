// Package fingerprint builds and parses the canonical scenario fingerprint
// string: the hierarchical match key described in spec §4.1 and §6.
package fingerprint

import (
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"
)

// ErrInvalid is returned (wrapped with detail) whenever a fingerprint or
// one of its components fails the grammar in spec §6.
var ErrInvalid = errors.New("invalid fingerprint")

var (
	identifierRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)
	bucketRe     = regexp.MustCompile(`^\d{2}[-:]\d{2}(-\d{2}[-:]\d{2})?$`)
)

// IsValidIdentifier reports whether s matches the room/flag/interaction
// grammar: ALPHA/"_" *(ALPHA/DIGIT/"_").
func IsValidIdentifier(s string) bool {
	return identifierRe.MatchString(s)
}

// IsValidBucket reports whether s matches the time_bucket grammar
// (`HH-HH`, `HH:MM-HH:MM`, or the mixed two-digit forms spec §3 allows).
func IsValidBucket(s string) bool {
	return bucketRe.MatchString(s)
}

// Components is the decomposed, pre-canonicalization form of a
// fingerprint: room | bucket | day | flags | interaction.
type Components struct {
	Room        string
	Bucket      string
	Day         string // "weekday", "weekend", or ""
	Flags       []string
	Interaction string
}

// Build composes the canonical fingerprint string for c. Room and Bucket
// are required; Day, Flags, and Interaction may be empty. Flags are
// sorted ascending by code point and joined with "+". Trailing empty
// components are dropped entirely (spec §4.1: "room|08-09||" normalizes
// to "room|08-09"); a non-trailing empty component is kept as an empty
// segment.
func Build(c Components) (string, error) {
	if c.Room == "" || !IsValidIdentifier(c.Room) {
		return "", fmt.Errorf("%w: room %q must match [A-Za-z_][A-Za-z0-9_]*", ErrInvalid, c.Room)
	}
	if c.Bucket == "" || !IsValidBucket(c.Bucket) {
		return "", fmt.Errorf("%w: time_bucket %q is empty or malformed", ErrInvalid, c.Bucket)
	}
	if c.Day != "" && c.Day != "weekday" && c.Day != "weekend" {
		return "", fmt.Errorf("%w: day_type %q must be weekday, weekend, or empty", ErrInvalid, c.Day)
	}
	flags := append([]string(nil), c.Flags...)
	for _, f := range flags {
		if !IsValidIdentifier(f) {
			return "", fmt.Errorf("%w: flag %q must match [A-Za-z_][A-Za-z0-9_]*", ErrInvalid, f)
		}
	}
	sort.Strings(flags)
	if c.Interaction != "" && !IsValidIdentifier(c.Interaction) {
		return "", fmt.Errorf("%w: interaction_type %q must match [A-Za-z_][A-Za-z0-9_]*", ErrInvalid, c.Interaction)
	}

	parts := []string{c.Room, c.Bucket, c.Day, strings.Join(flags, "+"), c.Interaction}
	for len(parts) > 2 && parts[len(parts)-1] == "" {
		parts = parts[:len(parts)-1]
	}
	return strings.Join(parts, "|"), nil
}

// Parse decomposes a canonical fingerprint string back into Components,
// validating each segment against the grammar in spec §6.
func Parse(fp string) (Components, error) {
	if fp == "" {
		return Components{}, fmt.Errorf("%w: empty fingerprint", ErrInvalid)
	}
	segs := strings.Split(fp, "|")
	if len(segs) < 2 || len(segs) > 5 {
		return Components{}, fmt.Errorf("%w: %q must have 2-5 |-separated components", ErrInvalid, fp)
	}
	for len(segs) < 5 {
		segs = append(segs, "")
	}

	c := Components{Room: segs[0], Bucket: segs[1], Day: segs[2], Interaction: segs[4]}
	if !IsValidIdentifier(c.Room) {
		return Components{}, fmt.Errorf("%w: room %q is malformed", ErrInvalid, c.Room)
	}
	if !IsValidBucket(c.Bucket) {
		return Components{}, fmt.Errorf("%w: time_bucket %q is malformed", ErrInvalid, c.Bucket)
	}
	if c.Day != "" && c.Day != "weekday" && c.Day != "weekend" {
		return Components{}, fmt.Errorf("%w: day_type %q must be weekday, weekend, or empty", ErrInvalid, c.Day)
	}
	if segs[3] != "" {
		c.Flags = strings.Split(segs[3], "+")
		for _, f := range c.Flags {
			if !IsValidIdentifier(f) {
				return Components{}, fmt.Errorf("%w: flag %q is malformed", ErrInvalid, f)
			}
		}
	}
	if c.Interaction != "" && !IsValidIdentifier(c.Interaction) {
		return Components{}, fmt.Errorf("%w: interaction_type %q is malformed", ErrInvalid, c.Interaction)
	}
	return c, nil
}

// BucketFor derives the time_bucket segment for instant t given the
// configured bucket size in minutes, per the rules in spec §4.1.
func BucketFor(t time.Time, bucketMinutes int) (string, error) {
	if bucketMinutes <= 0 {
		return "", fmt.Errorf("%w: time_bucket_minutes must be positive, got %d", ErrInvalid, bucketMinutes)
	}

	h, m := t.Hour(), t.Minute()

	switch bucketMinutes {
	case 60:
		return fmt.Sprintf("%02d-%02d", h, (h+1)%24), nil
	case 30, 15:
		startMin := (m / bucketMinutes) * bucketMinutes
		endMin := startMin + bucketMinutes
		endHour := h
		if endMin >= 60 {
			endMin -= 60
			endHour = (h + 1) % 24
		}
		return fmt.Sprintf("%02d:%02d-%02d:%02d", h, startMin, endHour, endMin), nil
	default:
		totalMin := h*60 + m
		index := totalMin / bucketMinutes
		start := index * bucketMinutes
		end := start + bucketMinutes
		return fmt.Sprintf("%s-%s", hhmm(start), hhmm(end)), nil
	}
}

func hhmm(totalMinutes int) string {
	totalMinutes = totalMinutes % (24 * 60)
	return fmt.Sprintf("%02d:%02d", totalMinutes/60, totalMinutes%60)
}
