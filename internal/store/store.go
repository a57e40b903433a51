// Package store is the Rule Store (spec §4.2): it loads, validates, and
// persists scenarios.json and config.json, and appends to the
// unmatched-scenario JSON-Lines log. It owns no in-memory state of its
// own beyond what a single call needs — the Shared Store is what the
// rest of the process reads from; this package is the disk boundary.
package store

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"
	"github.com/nodalink/scenariod/internal/model"
)

// wireRule is the on-disk shape of a single entry in scenarios.json
// (spec §6): the fingerprint is the map key, not a field.
type wireRule struct {
	Room            string        `json:"room"`
	TimeBucket      string        `json:"time_bucket"`
	DayType         string        `json:"day_type"`
	OptionalFlags   []string      `json:"optional_flags"`
	InteractionType string        `json:"interaction_type"`
	Actions         []model.Action `json:"actions"`
	CreatedAt       time.Time     `json:"created_at"`
	UpdatedAt       time.Time     `json:"updated_at"`
}

// LoadScenarios reads and validates scenarios.json at path. Invalid rules
// are rejected (the whole load fails, matching spec §4.2's "rejects
// shape-drift at load"); non-fatal warnings are returned alongside the
// loaded rule set. A missing file is not an error — an empty store with
// a warning is returned, matching the §7 "load at startup: fall back to
// empty + warning" policy.
func LoadScenarios(path string) (map[string]model.Rule, []string, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return map[string]model.Rule{}, []string{fmt.Sprintf("scenario file %s does not exist, starting empty", path)}, nil
	}
	if err != nil {
		return nil, nil, fmt.Errorf("reading scenario file: %w", err)
	}

	var wire map[string]wireRule
	if err := json.Unmarshal(data, &wire); err != nil {
		return nil, nil, fmt.Errorf("parsing scenario file: %w", err)
	}

	rules := make(map[string]model.Rule, len(wire))
	for fp, w := range wire {
		rules[fp] = model.Rule{
			Fingerprint:     fp,
			Room:            w.Room,
			TimeBucket:      w.TimeBucket,
			DayType:         w.DayType,
			OptionalFlags:   w.OptionalFlags,
			InteractionType: w.InteractionType,
			Actions:         w.Actions,
			CreatedAt:       w.CreatedAt,
			UpdatedAt:       w.UpdatedAt,
		}
	}

	result := model.Validate(rules)
	if !result.OK() {
		return nil, nil, fmt.Errorf("validating scenario file: %v", result.Errors)
	}
	return rules, result.Warnings, nil
}

// SaveScenarios atomically writes rules to path: write to a temp file in
// the same directory, then rename over the destination (spec §4.2, §6).
// An advisory file lock on path+".lock" serializes concurrent writers
// (for example two scenariod processes sharing the same file).
func SaveScenarios(path string, rules map[string]model.Rule) error {
	wire := make(map[string]wireRule, len(rules))
	for fp, r := range rules {
		wire[fp] = wireRule{
			Room: r.Room, TimeBucket: r.TimeBucket, DayType: r.DayType,
			OptionalFlags: r.OptionalFlags, InteractionType: r.InteractionType,
			Actions: r.Actions, CreatedAt: r.CreatedAt, UpdatedAt: r.UpdatedAt,
		}
	}
	data, err := json.MarshalIndent(wire, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding scenario file: %w", err)
	}
	return atomicWrite(path, data)
}

// LoadConfig reads config.json at path. A missing file yields
// model.DefaultSystemSettings() and empty maps, plus a warning.
func LoadConfig(path string) (model.Config, []string, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		cfg := model.Config{
			RoomMappings:        map[string]model.RoomMapping{},
			ConditionalEntities: map[string]model.ConditionalEntity{},
			SystemSettings:      model.DefaultSystemSettings(),
		}
		return cfg, []string{fmt.Sprintf("config file %s does not exist, using defaults", path)}, nil
	}
	if err != nil {
		return model.Config{}, nil, fmt.Errorf("reading config file: %w", err)
	}

	var cfg model.Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return model.Config{}, nil, fmt.Errorf("parsing config file: %w", err)
	}
	applyConfigDefaults(&cfg)

	if !validBucketMinutes(cfg.SystemSettings.TimeBucketMinutes) {
		return model.Config{}, nil, fmt.Errorf("system_settings.time_bucket_minutes %d must be a positive divisor of 1440", cfg.SystemSettings.TimeBucketMinutes)
	}

	warnings := model.ValidateConfig(cfg)
	return cfg, warnings, nil
}

// SaveConfig atomically writes cfg to path.
func SaveConfig(path string, cfg model.Config) error {
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding config file: %w", err)
	}
	return atomicWrite(path, data)
}

// AppendUnmatched appends a single JSON-Lines record to the unmatched
// log file (spec §6). The file is append-only; no compaction.
func AppendUnmatched(path string, rec model.UnmatchedRecord) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return fmt.Errorf("creating log directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o640)
	if err != nil {
		return fmt.Errorf("opening unmatched log: %w", err)
	}
	defer f.Close()

	line, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encoding unmatched record: %w", err)
	}
	w := bufio.NewWriter(f)
	if _, err := w.Write(line); err != nil {
		return err
	}
	if err := w.WriteByte('\n'); err != nil {
		return err
	}
	return w.Flush()
}

// ReadUnmatchedLog reads every record from the unmatched log file. The
// suggestions endpoints do not call it; they derive suggestions from the
// Shared Store's in-memory ring only.
func ReadUnmatchedLog(path string) ([]model.UnmatchedRecord, error) {
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("opening unmatched log: %w", err)
	}
	defer f.Close()

	var records []model.UnmatchedRecord
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var rec model.UnmatchedRecord
		if err := json.Unmarshal(line, &rec); err != nil {
			continue // skip malformed lines rather than fail the whole read
		}
		records = append(records, rec)
	}
	return records, scanner.Err()
}

func atomicWrite(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("creating directory: %w", err)
	}

	lock := flock.New(path + ".lock")
	if err := lock.Lock(); err != nil {
		return fmt.Errorf("locking %s: %w", path, err)
	}
	defer lock.Unlock()

	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath) // no-op once the rename below succeeds

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("writing temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing temp file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("renaming temp file into place: %w", err)
	}
	return nil
}

func applyConfigDefaults(cfg *model.Config) {
	if cfg.RoomMappings == nil {
		cfg.RoomMappings = map[string]model.RoomMapping{}
	}
	if cfg.ConditionalEntities == nil {
		cfg.ConditionalEntities = map[string]model.ConditionalEntity{}
	}
	if cfg.SystemSettings.TimeBucketMinutes == 0 {
		cfg.SystemSettings.TimeBucketMinutes = 60
	}
	if len(cfg.SystemSettings.AllowedDomains) == 0 {
		cfg.SystemSettings.AllowedDomains = model.DefaultAllowedDomains()
	}
}

func validBucketMinutes(minutes int) bool {
	return minutes > 0 && (1440%minutes) == 0
}
