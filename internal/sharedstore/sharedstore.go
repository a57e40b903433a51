// Package sharedstore is the Shared Coordination Store (spec §4.6): the
// single process-wide holder of rules, config, stats, engine status,
// bounded log/unmatched rings, and the live WebSocket subscriber set.
// All writes take an exclusive lock; SetRules and SetConfig are atomic
// publications — a reader never observes a half-mutated map. ReloadFromDisk
// commits both rules and config as one visible transition via applyReload.
package sharedstore

import (
	"fmt"
	"sync"
	"time"

	"github.com/nodalink/scenariod/internal/clock"
	"github.com/nodalink/scenariod/internal/fingerprint"
	"github.com/nodalink/scenariod/internal/matcher"
	"github.com/nodalink/scenariod/internal/model"
	"github.com/nodalink/scenariod/internal/store"
)

const (
	logRingCap       = 1000
	unmatchedRingCap = 500
)

// Event is a single typed notification pushed to every Subscriber on a
// state transition (spec §4.6, §6: "every event is {type, data,
// timestamp}").
type Event struct {
	Type      string    `json:"type"`
	Data      any       `json:"data,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Subscriber receives broadcast Events. The control-plane API's
// WebSocket handler is the only production implementation; Notify must
// not block the Store's lock for long — a full send buffer is the
// subscriber's problem, not the Store's (spec §7: "Transient — WebSocket
// send on a closed socket. Remove subscriber silently").
type Subscriber interface {
	ID() string
	Notify(Event)
}

// Store is the Shared Coordination Store.
type Store struct {
	mu sync.RWMutex

	rules  map[string]model.Rule
	config model.Config
	stats  model.Stats
	status model.EngineStatus

	logs      []model.LogEntry
	unmatched []model.UnmatchedRecord

	subscribers map[string]Subscriber

	clk           clock.Clock
	scenarioPath  string
	configPath    string
	unmatchedPath string
}

// New constructs an empty Store wired to the on-disk paths ReloadFromDisk
// reads from.
func New(clk clock.Clock, scenarioPath, configPath, unmatchedPath string) *Store {
	return &Store{
		rules:         map[string]model.Rule{},
		config:        model.Config{RoomMappings: map[string]model.RoomMapping{}, ConditionalEntities: map[string]model.ConditionalEntity{}, SystemSettings: model.DefaultSystemSettings()},
		subscribers:   map[string]Subscriber{},
		clk:           clk,
		scenarioPath:  scenarioPath,
		configPath:    configPath,
		unmatchedPath: unmatchedPath,
	}
}

// SetRules replaces the rule set, recomputes stats, and notifies
// rules_update (spec §4.6).
func (s *Store) SetRules(rules map[string]model.Rule) {
	own := make(map[string]model.Rule, len(rules))
	for fp, r := range rules {
		own[fp] = r
	}
	s.mu.Lock()
	s.rules = own
	s.stats = model.ComputeStats(own)
	s.mu.Unlock()
	s.broadcast(Event{Type: "rules_update", Data: own})
}

// SetConfig replaces the configuration, stamps last_config_update, and
// notifies config_update.
func (s *Store) SetConfig(cfg model.Config) {
	s.mu.Lock()
	s.config = cfg
	s.status.LastConfigUpdate = s.clk.Now()
	s.mu.Unlock()
	s.broadcast(Event{Type: "config_update", Data: cfg})
}

// StatusPatch carries the subset of EngineStatus fields SetEngineStatus
// should merge in; nil fields are left untouched.
type StatusPatch struct {
	Running         *bool
	ScenariosLoaded *int
	LastExecution   *time.Time
}

// SetEngineStatus merges patch into the current status and notifies
// status_update.
func (s *Store) SetEngineStatus(patch StatusPatch) {
	s.mu.Lock()
	if patch.Running != nil {
		s.status.Running = *patch.Running
	}
	if patch.ScenariosLoaded != nil {
		s.status.ScenariosLoaded = *patch.ScenariosLoaded
	}
	if patch.LastExecution != nil {
		s.status.LastExecution = *patch.LastExecution
	}
	status := s.status
	s.mu.Unlock()
	s.broadcast(Event{Type: "status_update", Data: status})
}

// AppendLog pushes a log entry onto the bounded ring (cap 1000, oldest
// evicted), and notifies log_update.
func (s *Store) AppendLog(level, msg string, data map[string]any) {
	entry := model.LogEntry{Level: level, Message: msg, Data: data, Timestamp: s.clk.Now()}
	s.mu.Lock()
	s.logs = appendRing(s.logs, entry, logRingCap)
	s.mu.Unlock()
	s.broadcast(Event{Type: "log_update", Data: entry})
}

// AppendUnmatched pushes an UnmatchedRecord onto the bounded ring (cap
// 500, oldest evicted), and notifies unmatched_scenario.
func (s *Store) AppendUnmatched(rec model.UnmatchedRecord) {
	s.mu.Lock()
	s.unmatched = appendRing(s.unmatched, rec, unmatchedRingCap)
	s.mu.Unlock()
	s.broadcast(Event{Type: "unmatched_scenario", Data: rec})
}

func appendRing[T any](ring []T, item T, capacity int) []T {
	ring = append(ring, item)
	if len(ring) > capacity {
		ring = ring[len(ring)-capacity:]
	}
	return ring
}

// Rules returns a snapshot copy of the current rule set.
func (s *Store) Rules() map[string]model.Rule {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]model.Rule, len(s.rules))
	for fp, r := range s.rules {
		out[fp] = r.Clone()
	}
	return out
}

// Clock returns the Store's injected clock, so callers building
// fingerprints outside Simulate (the live engine path) derive "now" from
// the same source as the Store itself.
func (s *Store) Clock() clock.Clock {
	return s.clk
}

// Config returns a copy of the current configuration.
func (s *Store) Config() model.Config {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.config
}

// Stats returns the last computed Stats.
func (s *Store) Stats() model.Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.stats
}

// EngineStatus returns a copy of the current engine status.
func (s *Store) EngineStatus() model.EngineStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.status
}

// Logs returns up to the last limit entries (most recent last). limit<=0
// returns the whole ring.
func (s *Store) Logs(limit int) []model.LogEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if limit <= 0 || limit >= len(s.logs) {
		return append([]model.LogEntry(nil), s.logs...)
	}
	return append([]model.LogEntry(nil), s.logs[len(s.logs)-limit:]...)
}

// ClearLogs empties the log ring.
func (s *Store) ClearLogs() {
	s.mu.Lock()
	s.logs = nil
	s.mu.Unlock()
}

// Unmatched returns a copy of the unmatched ring.
func (s *Store) Unmatched() []model.UnmatchedRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]model.UnmatchedRecord(nil), s.unmatched...)
}

// Subscribe registers sub in the subscriber set.
func (s *Store) Subscribe(sub Subscriber) {
	s.mu.Lock()
	s.subscribers[sub.ID()] = sub
	s.mu.Unlock()
}

// Unsubscribe removes a subscriber by id.
func (s *Store) Unsubscribe(id string) {
	s.mu.Lock()
	delete(s.subscribers, id)
	s.mu.Unlock()
}

// broadcast fans ev out to every current subscriber. Disconnected
// subscribers are reaped lazily here, on the next broadcast, by letting
// the subscriber's own Notify decide whether it is still alive — the
// control-plane WebSocket Subscriber implementation calls Unsubscribe
// itself once its connection is found dead (spec §4.7: "Disconnected
// subscribers are reaped from the set lazily on the next broadcast").
func (s *Store) broadcast(ev Event) {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = s.clk.Now()
	}
	s.mu.RLock()
	subs := make([]Subscriber, 0, len(s.subscribers))
	for _, sub := range s.subscribers {
		subs = append(subs, sub)
	}
	s.mu.RUnlock()
	for _, sub := range subs {
		sub.Notify(ev)
	}
}

// InitSnapshot is the payload sent to a newly accepted WebSocket
// connection (spec §4.7: one init message with scenarios/config/
// stats/engine_status/last 100 logs).
type InitSnapshot struct {
	Scenarios    map[string]model.Rule `json:"scenarios"`
	Config       model.Config          `json:"config"`
	Stats        model.Stats           `json:"stats"`
	EngineStatus model.EngineStatus    `json:"engine_status"`
	Logs         []model.LogEntry      `json:"logs"`
}

// Snapshot returns the full state needed for a WebSocket init message.
func (s *Store) Snapshot() InitSnapshot {
	return InitSnapshot{
		Scenarios:    s.Rules(),
		Config:       s.Config(),
		Stats:        s.Stats(),
		EngineStatus: s.EngineStatus(),
		Logs:         s.Logs(100),
	}
}

// ReloadFromDisk re-reads scenarios.json and config.json via the Rule
// Store and, on success, applies both atomically; on failure it leaves
// state unchanged and returns the error for the caller to log (spec
// §4.6).
func (s *Store) ReloadFromDisk() error {
	rules, _, err := store.LoadScenarios(s.scenarioPath)
	if err != nil {
		return fmt.Errorf("reloading scenarios: %w", err)
	}
	cfg, _, err := store.LoadConfig(s.configPath)
	if err != nil {
		return fmt.Errorf("reloading config: %w", err)
	}
	s.applyReload(rules, cfg)
	return nil
}

// applyReload commits rules, stats, and config under a single lock
// acquisition, so a concurrent Rules()/Config() reader (or a WebSocket
// subscriber reading Snapshot) never observes one half of the pair updated
// and the other stale (spec §4.6: "apply atomically — rules and config as
// one visible transition").
func (s *Store) applyReload(rules map[string]model.Rule, cfg model.Config) {
	s.mu.Lock()
	s.rules = rules
	s.stats = model.ComputeStats(rules)
	s.config = cfg
	s.status.LastConfigUpdate = s.clk.Now()
	s.mu.Unlock()

	s.broadcast(Event{Type: "rules_update", Data: rules})
	s.broadcast(Event{Type: "config_update", Data: cfg})
}

// SimulationResult is the response to Simulate (spec §4.6).
type SimulationResult struct {
	Fingerprint    string        `json:"fingerprint"`
	ScenarioFound  bool          `json:"scenario_found"`
	MatchedPattern string        `json:"matched_pattern,omitempty"`
	Fallback       bool          `json:"fallback"`
	Actions        []model.Action `json:"actions,omitempty"`
}

// Simulate builds a fingerprint for room/interaction using the current
// clock and configured bucket size, runs the Matcher, and returns a
// summary without invoking the Dispatcher (spec §4.6).
func (s *Store) Simulate(room, interaction string, flags []string) (SimulationResult, error) {
	cfg := s.Config()
	bucket, err := fingerprint.BucketFor(s.clk.Now(), cfg.SystemSettings.TimeBucketMinutes)
	if err != nil {
		return SimulationResult{}, err
	}
	fp, err := fingerprint.Build(fingerprint.Components{
		Room:        room,
		Bucket:      bucket,
		Day:         clock.DayType(s.clk.Now()),
		Flags:       flags,
		Interaction: interaction,
	})
	if err != nil {
		return SimulationResult{}, err
	}

	res := matcher.Match(fp, s.Rules(), cfg.SystemSettings.FallbackEnabled)
	out := SimulationResult{Fingerprint: fp, ScenarioFound: res.Found, Fallback: res.Fallback}
	if res.Found {
		out.MatchedPattern = res.Pattern
		out.Actions = res.Rule.Actions
	}
	return out, nil
}
