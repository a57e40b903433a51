// Package engine is the main orchestrator: it owns the host-facing event
// loop, wiring Trigger Ingress through the Fingerprint Builder and
// Matcher to the Dispatcher, while the Shared Store stays the single
// source of truth observed by the control-plane API and background
// tasks (spec §5: "three concurrent worlds that must interleave
// safely").
package engine

import (
	"context"
	"log/slog"
	"sync"

	"github.com/nodalink/scenariod/internal/dispatcher"
	"github.com/nodalink/scenariod/internal/ingress"
	"github.com/nodalink/scenariod/internal/matcher"
	"github.com/nodalink/scenariod/internal/model"
	"github.com/nodalink/scenariod/internal/sharedstore"
)

// maxConcurrentEvents bounds the number of triggers being dispatched at
// once, mirroring the teacher's semaphore-guarded event loop.
const maxConcurrentEvents = 16

// RawEvent is the sum type accepted by Submit: exactly one of the three
// fields is non-nil, matching the Trigger Ingress table (spec §4.5).
type RawEvent struct {
	Button   *ingress.ButtonEvent
	Presence *ingress.PresenceEvent
	Custom   *ingress.CustomEvent
}

// Engine is the host-facing event loop (spec §5, world 1). It holds no
// mutable state of its own beyond in-flight bookkeeping: rules, config,
// stats, and status all live in the Shared Store.
type Engine struct {
	store      *sharedstore.Store
	normalizer *ingress.Normalizer
	dispatcher *dispatcher.Dispatcher
	provider   ingress.StateProvider
	logger     *slog.Logger

	events chan RawEvent
	sem    chan struct{}
	wg     sync.WaitGroup
}

// New constructs an Engine. provider supplies the live state of
// conditional entities for flag resolution (spec §4.5); it may be nil,
// in which case every trigger fingerprints with an empty flag set.
func New(store *sharedstore.Store, normalizer *ingress.Normalizer, disp *dispatcher.Dispatcher, provider ingress.StateProvider, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		store:      store,
		normalizer: normalizer,
		dispatcher: disp,
		provider:   provider,
		logger:     logger,
		events:     make(chan RawEvent, 256),
		sem:        make(chan struct{}, maxConcurrentEvents),
	}
}

// Submit enqueues a raw host event for processing. It may be called from
// arbitrary host threads (spec §5: "may be called back from the host
// runtime on arbitrary host threads"); a full queue drops the event with
// a warning rather than blocking the caller.
func (e *Engine) Submit(ev RawEvent) {
	select {
	case e.events <- ev:
	default:
		e.logger.Warn("event queue full, dropping trigger")
	}
}

// Run processes queued events until ctx is cancelled, waiting for
// in-flight dispatches to finish before returning (teacher's
// sem/wg-guarded event loop, adapted from a per-rule trigger model to a
// single inbound event channel).
func (e *Engine) Run(ctx context.Context) {
	running := true
	e.store.SetEngineStatus(sharedstore.StatusPatch{Running: &running})

	for {
		select {
		case ev := <-e.events:
			e.sem <- struct{}{}
			e.wg.Add(1)
			go func() {
				defer func() {
					<-e.sem
					e.wg.Done()
				}()
				e.handle(ctx, ev)
			}()
		case <-ctx.Done():
			e.wg.Wait()
			stopped := false
			e.store.SetEngineStatus(sharedstore.StatusPatch{Running: &stopped})
			return
		}
	}
}

func (e *Engine) handle(ctx context.Context, ev RawEvent) {
	trig, ok := e.normalize(ev)
	if !ok {
		return
	}

	cfg := e.store.Config()
	resolver := &ingress.FlagResolver{Provider: e.provider, Conditions: cfg.ConditionalEntities}
	if e.provider == nil {
		resolver = nil
	}

	fp, err := ingress.BuildFingerprint(e.store.Clock(), cfg.SystemSettings.TimeBucketMinutes, trig, resolver)
	if err != nil {
		e.logger.Warn("discarding trigger: invalid fingerprint components", "room", trig.Room, "interaction", trig.InteractionType, "error", err)
		return
	}

	result := matcher.Match(fp, e.store.Rules(), cfg.SystemSettings.FallbackEnabled)
	if !result.Found {
		e.recordUnmatched(fp, trig)
		return
	}

	e.dispatch(ctx, fp, result)
}

func (e *Engine) normalize(ev RawEvent) (ingress.Trigger, bool) {
	switch {
	case ev.Button != nil:
		return e.normalizer.Button(*ev.Button)
	case ev.Presence != nil:
		return e.normalizer.Presence(*ev.Presence)
	case ev.Custom != nil:
		return e.normalizer.Custom(*ev.Custom), true
	default:
		return ingress.Trigger{}, false
	}
}

func (e *Engine) recordUnmatched(fp string, trig ingress.Trigger) {
	e.logger.Info("no scenario matched", "fingerprint", fp, "room", trig.Room, "interaction", trig.InteractionType)
	e.store.AppendUnmatched(model.UnmatchedRecord{
		Fingerprint: fp,
		Context:     map[string]any{"room": trig.Room, "interaction_type": trig.InteractionType},
		Timestamp:   e.store.Clock().Now(),
	})
}

func (e *Engine) dispatch(ctx context.Context, fp string, result matcher.Result) {
	dispatchResult := e.dispatcher.Dispatch(ctx, fp, result.Rule.Actions)

	e.store.AppendLog("info", "scenario matched", map[string]any{
		"fingerprint": fp,
		"pattern":     result.Pattern,
		"fallback":    result.Fallback,
		"actions":     len(dispatchResult.Outcomes),
	})

	// AnyWouldSucceed covers test_mode runs too: last_execution reflects
	// that a matching rule's actions cleared validation and policy, not
	// just that the host was actually called (spec §9).
	if dispatchResult.AnyWouldSucceed {
		now := e.store.Clock().Now()
		e.store.SetEngineStatus(sharedstore.StatusPatch{LastExecution: &now})
	}
}
