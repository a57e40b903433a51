// Package ingress normalizes raw host events into the internal Trigger
// shape the engine feeds to the Fingerprint Builder (spec §4.5).
package ingress

import (
	"log/slog"
	"sort"
	"strings"

	"github.com/nodalink/scenariod/internal/clock"
	"github.com/nodalink/scenariod/internal/fingerprint"
	"github.com/nodalink/scenariod/internal/model"
)

// StateProvider reports the current state string of a host entity, the
// same kind of thin host collaborator as dispatcher.HostBridge (spec
// §4.5). ok is false when the entity is unknown to the host.
type StateProvider interface {
	GetState(entityID string) (state string, ok bool)
}

// Trigger is the normalized event the engine hands to the Fingerprint
// Builder: room and interaction are resolved, flags are not yet attached
// (FlagResolver.Resolve does that from current ConditionalEntity state).
type Trigger struct {
	Room            string
	InteractionType string
}

// ButtonEvent is the raw shape of a button-device trigger.
type ButtonEvent struct {
	DeviceID string
	Command  string
}

// PresenceEvent is a raw entity state transition.
type PresenceEvent struct {
	EntityID  string
	FromState string
	ToState   string
}

// CustomEvent is taken verbatim (spec §4.5: "unknown room allowed").
type CustomEvent struct {
	Room            string
	InteractionType string
	TriggerType     string
}

var commandToInteraction = map[string]string{
	"single":   "single_press",
	"1_single": "single_press",
	"double":   "double_press",
	"1_double": "double_press",
	"hold":     "long_press",
	"1_hold":   "long_press",
	"release":  "release",
}

// Normalizer maps device/entity ids to rooms via the reverse of a
// RoomMapping set, and logs unknown sources at info level (spec §4.5).
type Normalizer struct {
	Logger *slog.Logger

	deviceToRoom map[string]string
}

// NewNormalizer builds the reverse device/entity → room map from the
// forward RoomMapping configuration.
func NewNormalizer(logger *slog.Logger, rooms map[string]model.RoomMapping) *Normalizer {
	if logger == nil {
		logger = slog.Default()
	}
	reverse := make(map[string]string, len(rooms))
	for roomID, rm := range rooms {
		if rm.EntityID != "" {
			reverse[rm.EntityID] = roomID
		}
	}
	return &Normalizer{Logger: logger, deviceToRoom: reverse}
}

// Button normalizes a button-device event (spec §4.5 table, row 1). ok is
// false when device_id has no known room mapping; the caller discards
// the event.
func (n *Normalizer) Button(ev ButtonEvent) (Trigger, bool) {
	room, ok := n.deviceToRoom[ev.DeviceID]
	if !ok {
		n.Logger.Info("discarding button event: unknown device", "device_id", ev.DeviceID)
		return Trigger{}, false
	}
	interaction, known := commandToInteraction[ev.Command]
	if !known {
		interaction = ev.Command // pass through, per spec §4.5
	}
	return Trigger{Room: room, InteractionType: interaction}, true
}

// Presence normalizes a presence-sensor state transition (spec §4.5 row
// 2). Fires only on off→on; any other transition, or an unknown entity,
// yields ok=false.
func (n *Normalizer) Presence(ev PresenceEvent) (Trigger, bool) {
	if !isOffLike(ev.FromState) || !isOnLike(ev.ToState) {
		return Trigger{}, false
	}
	room, ok := n.deviceToRoom[ev.EntityID]
	if !ok {
		n.Logger.Info("discarding presence event: unknown entity", "entity_id", ev.EntityID)
		return Trigger{}, false
	}
	return Trigger{Room: room, InteractionType: "presence_detected"}, true
}

// Custom passes a custom event through verbatim (spec §4.5 row 3).
func (n *Normalizer) Custom(ev CustomEvent) Trigger {
	return Trigger{Room: ev.Room, InteractionType: ev.InteractionType}
}

var onLikeStates = map[string]bool{"on": true, "true": true, "open": true, "home": true}
var offLikeStates = map[string]bool{"off": true, "false": true, "closed": true, "away": true, "not_home": true}

func isOnLike(state string) bool  { return onLikeStates[strings.ToLower(state)] }
func isOffLike(state string) bool { return offLikeStates[strings.ToLower(state)] || !isOnLike(state) }

// FlagResolver derives optional_flags from the current state of a set of
// ConditionalEntity definitions (spec §4.5 new: "the engine asks a
// StateProvider ... for the current state of every configured
// ConditionalEntity, and includes the entity's flag id when the state is
// on-like"). This keeps fingerprint composition pure given a state
// snapshot: Resolve is the only place host state is read.
type FlagResolver struct {
	Provider   StateProvider
	Conditions map[string]model.ConditionalEntity
}

// Resolve returns the sorted set of flag ids whose backing entity is
// currently on-like. Unknown or unreadable entities are skipped silently
// — a flag that cannot be read is treated as absent, not an error.
func (f *FlagResolver) Resolve() []string {
	var flags []string
	for flagID, ce := range f.Conditions {
		state, ok := f.Provider.GetState(ce.EntityID)
		if !ok {
			continue
		}
		if isOnLike(state) {
			flags = append(flags, flagID)
		}
	}
	sort.Strings(flags)
	return flags
}

// BuildFingerprint composes the canonical fingerprint for a normalized
// Trigger, deriving time_bucket and day_type from clk and attaching
// flags from resolver (spec §4.1, §4.5).
func BuildFingerprint(clk clock.Clock, bucketMinutes int, trig Trigger, resolver *FlagResolver) (string, error) {
	var flags []string
	if resolver != nil {
		flags = resolver.Resolve()
	}
	now := clk.Now()
	bucket, err := fingerprint.BucketFor(now, bucketMinutes)
	if err != nil {
		return "", err
	}
	return fingerprint.Build(fingerprint.Components{
		Room:        trig.Room,
		Bucket:      bucket,
		Day:         clock.DayType(now),
		Flags:       flags,
		Interaction: trig.InteractionType,
	})
}
