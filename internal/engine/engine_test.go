package engine

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/nodalink/scenariod/internal/clock"
	"github.com/nodalink/scenariod/internal/dispatcher"
	"github.com/nodalink/scenariod/internal/ingress"
	"github.com/nodalink/scenariod/internal/model"
	"github.com/nodalink/scenariod/internal/sharedstore"
)

func silentLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeBridge struct {
	mu    sync.Mutex
	calls []string
}

func (b *fakeBridge) CallService(ctx context.Context, service, entityID string, data map[string]any) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.calls = append(b.calls, service+" "+entityID)
	return nil
}

func (b *fakeBridge) count() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.calls)
}

func newTestEngine(t *testing.T, at time.Time, rooms map[string]model.RoomMapping, rules map[string]model.Rule) (*Engine, *sharedstore.Store, *fakeBridge) {
	t.Helper()
	dir := t.TempDir()
	clk := clock.Fixed{At: at}
	st := sharedstore.New(clk, filepath.Join(dir, "scenarios.json"), filepath.Join(dir, "config.json"), filepath.Join(dir, "unmatched.log"))
	st.SetConfig(model.Config{
		RoomMappings:        rooms,
		ConditionalEntities: map[string]model.ConditionalEntity{},
		SystemSettings:      model.DefaultSystemSettings(),
	})
	st.SetRules(rules)

	bridge := &fakeBridge{}
	disp := dispatcher.New(bridge, silentLogger(), model.DefaultAllowedDomains(), false)
	norm := ingress.NewNormalizer(silentLogger(), rooms)
	eng := New(st, norm, disp, nil, silentLogger())
	return eng, st, bridge
}

func TestEngineDispatchesOnMatchedButtonEvent(t *testing.T) {
	at := time.Date(2026, 7, 27, 8, 30, 0, 0, time.UTC) // Monday, weekday
	rooms := map[string]model.RoomMapping{"kitchen": {Label: "Kitchen", EntityID: "device.kitchen_button"}}
	rules := map[string]model.Rule{
		"kitchen|08-09|weekday||single_press": {
			Room: "kitchen", TimeBucket: "08-09", DayType: "weekday", InteractionType: "single_press",
			Actions: []model.Action{{Service: "light.turn_on", EntityID: "light.kitchen"}},
		},
	}
	eng, st, bridge := newTestEngine(t, at, rooms, rules)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() { eng.Run(ctx); close(done) }()

	eng.Submit(RawEvent{Button: &ingress.ButtonEvent{DeviceID: "device.kitchen_button", Command: "single"}})

	deadline := time.Now().Add(2 * time.Second)
	for bridge.count() == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if bridge.count() != 1 {
		t.Fatalf("expected 1 dispatched call, got %d", bridge.count())
	}

	status := st.EngineStatus()
	if status.LastExecution.IsZero() {
		t.Error("expected LastExecution to be set after a successful dispatch")
	}

	cancel()
	<-done
}

func TestEngineUpdatesLastExecutionInTestMode(t *testing.T) {
	at := time.Date(2026, 7, 27, 8, 30, 0, 0, time.UTC)
	rooms := map[string]model.RoomMapping{"kitchen": {Label: "Kitchen", EntityID: "device.kitchen_button"}}
	rules := map[string]model.Rule{
		"kitchen|08-09|weekday||single_press": {
			Room: "kitchen", TimeBucket: "08-09", DayType: "weekday", InteractionType: "single_press",
			Actions: []model.Action{{Service: "light.turn_on", EntityID: "light.kitchen"}},
		},
	}

	dir := t.TempDir()
	clk := clock.Fixed{At: at}
	st := sharedstore.New(clk, filepath.Join(dir, "scenarios.json"), filepath.Join(dir, "config.json"), filepath.Join(dir, "unmatched.log"))
	st.SetConfig(model.Config{
		RoomMappings:        rooms,
		ConditionalEntities: map[string]model.ConditionalEntity{},
		SystemSettings:      model.DefaultSystemSettings(),
	})
	st.SetRules(rules)

	bridge := &fakeBridge{}
	disp := dispatcher.New(bridge, silentLogger(), model.DefaultAllowedDomains(), true) // test_mode
	norm := ingress.NewNormalizer(silentLogger(), rooms)
	eng := New(st, norm, disp, nil, silentLogger())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() { eng.Run(ctx); close(done) }()

	eng.Submit(RawEvent{Button: &ingress.ButtonEvent{DeviceID: "device.kitchen_button", Command: "single"}})

	deadline := time.Now().Add(2 * time.Second)
	for st.EngineStatus().LastExecution.IsZero() && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if bridge.count() != 0 {
		t.Fatalf("test_mode must never invoke the host bridge, got %d calls", bridge.count())
	}
	if st.EngineStatus().LastExecution.IsZero() {
		t.Fatal("expected LastExecution to be set for a test_mode dispatch of a matched rule")
	}

	cancel()
	<-done
}

func TestEngineRecordsUnmatchedWithoutDispatching(t *testing.T) {
	at := time.Date(2026, 7, 27, 8, 30, 0, 0, time.UTC)
	rooms := map[string]model.RoomMapping{"kitchen": {Label: "Kitchen", EntityID: "device.kitchen_button"}}
	eng, st, bridge := newTestEngine(t, at, rooms, map[string]model.Rule{})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() { eng.Run(ctx); close(done) }()

	eng.Submit(RawEvent{Button: &ingress.ButtonEvent{DeviceID: "device.kitchen_button", Command: "single"}})

	deadline := time.Now().Add(2 * time.Second)
	for len(st.Unmatched()) == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if len(st.Unmatched()) != 1 {
		t.Fatalf("expected 1 unmatched record, got %d", len(st.Unmatched()))
	}
	if bridge.count() != 0 {
		t.Errorf("expected no dispatch for an unmatched trigger, got %d calls", bridge.count())
	}

	cancel()
	<-done
}

func TestEngineDiscardsUnknownDeviceSilently(t *testing.T) {
	at := time.Date(2026, 7, 27, 8, 30, 0, 0, time.UTC)
	eng, st, bridge := newTestEngine(t, at, map[string]model.RoomMapping{}, map[string]model.Rule{})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() { eng.Run(ctx); close(done) }()

	eng.Submit(RawEvent{Button: &ingress.ButtonEvent{DeviceID: "unknown", Command: "single"}})
	time.Sleep(100 * time.Millisecond)

	if bridge.count() != 0 || len(st.Unmatched()) != 0 {
		t.Error("expected an unknown-device trigger to be discarded entirely")
	}

	cancel()
	<-done
}

func TestEngineRunStopsOnContextCancel(t *testing.T) {
	eng, _, _ := newTestEngine(t, time.Now(), map[string]model.RoomMapping{}, map[string]model.Rule{})
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() { eng.Run(ctx); close(done) }()
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return promptly after context cancellation")
	}
}

func TestEngineSubmitDropsWhenQueueFull(t *testing.T) {
	eng, _, _ := newTestEngine(t, time.Now(), map[string]model.RoomMapping{}, map[string]model.Rule{})
	// Fill the queue without a consumer running; Submit must not block.
	for i := 0; i < cap(eng.events)+10; i++ {
		eng.Submit(RawEvent{Custom: &ingress.CustomEvent{Room: "x", InteractionType: "y"}})
	}
}
