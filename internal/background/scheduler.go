// Package background runs the engine's standing housekeeping jobs: a
// robfig/cron scheduler for periodic sweeps (spec §4.9) and an fsnotify
// watcher for on-disk rule/config changes (spec §4.10).
package background

import (
	"context"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/nodalink/scenariod/internal/sharedstore"
)

// Scheduler owns the cron instance driving the engine's standing jobs:
// WebSocket keepalive sweep every 30s, ring-trim housekeeping every 5m,
// and (when enabled) a reload poll every 30s as a fallback to the file
// watcher on filesystems where fsnotify events are unreliable.
type Scheduler struct {
	cron   *cron.Cron
	logger *slog.Logger
}

// NewScheduler builds a seconds-resolution cron instance, matching this
// codebase's existing use of cron.WithSeconds().
func NewScheduler(logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{cron: cron.New(cron.WithSeconds()), logger: logger}
}

// RegisterKeepaliveSweep adds the 30s WebSocket keepalive job (spec
// §4.9). The caller supplies sweep; Scheduler only drives its cadence.
// cmd/scenariod's sweep publishes an empty status patch, and the
// resulting status_update broadcast drops every subscriber whose write
// fails.
func (s *Scheduler) RegisterKeepaliveSweep(sweep func()) error {
	_, err := s.cron.AddFunc("*/30 * * * * *", func() {
		s.logger.Debug("running websocket keepalive sweep")
		sweep()
	})
	return err
}

// RegisterRingTrim adds the 5m belt-and-suspenders ring-trim job (spec
// §4.9). Rings are already capped inline on append; this exists purely
// as a defensive second pass, logged at debug.
func (s *Scheduler) RegisterRingTrim(trim func()) error {
	_, err := s.cron.AddFunc("0 */5 * * * *", func() {
		s.logger.Debug("running ring trim pass")
		trim()
	})
	return err
}

// RegisterAutoReload adds the 30s fallback reload poll, only meaningful
// when system_settings.auto_reload_config is true (spec §4.9).
func (s *Scheduler) RegisterAutoReload(st *sharedstore.Store) error {
	_, err := s.cron.AddFunc("*/30 * * * * *", func() {
		if err := st.ReloadFromDisk(); err != nil {
			s.logger.Warn("auto-reload poll failed", "error", err)
		}
	})
	return err
}

// Run starts the cron scheduler and blocks until ctx is cancelled, then
// stops it and waits for any in-flight job to finish.
func (s *Scheduler) Run(ctx context.Context) {
	s.cron.Start()
	<-ctx.Done()
	stopCtx := s.cron.Stop()
	select {
	case <-stopCtx.Done():
	case <-time.After(10 * time.Second):
		s.logger.Warn("timed out waiting for cron jobs to finish")
	}
}
