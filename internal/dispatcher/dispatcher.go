// Package dispatcher validates and invokes each action in a matched
// rule's action sequence against the host (spec §4.4).
package dispatcher

import (
	"context"
	"log/slog"
	"strings"

	"github.com/nodalink/scenariod/internal/model"
	"github.com/nodalink/scenariod/internal/security"
)

// HostBridge is the external collaborator that actually invokes a
// service call on the home-automation host. Production wiring is out of
// scope (spec §1); tests and simulation use a recording fake.
type HostBridge interface {
	CallService(ctx context.Context, service, entityID string, data map[string]any) error
}

// ActionOutcome records what happened to a single action.
type ActionOutcome struct {
	Action       model.Action
	Skipped      bool   // dropped before invocation (policy violation, invalid syntax, test mode)
	Reason       string // why, when Skipped or the host call failed
	Err          error  // non-nil if the host call itself failed
	WouldSucceed bool   // passed validation and policy; true even when Skipped because of test_mode
}

// DispatchResult is the outcome of dispatching a rule's full action
// sequence.
type DispatchResult struct {
	Fingerprint string
	Outcomes    []ActionOutcome
	// AnySucceeded is true once at least one action was actually invoked
	// on the host and returned no error.
	AnySucceeded bool
	// AnyWouldSucceed is true once at least one action cleared validation
	// and policy, whether or not test_mode held it back from the host
	// call. The engine uses this to update last_execution in test_mode
	// too (spec §9, test_mode/last_execution resolution).
	AnyWouldSucceed bool
}

// Dispatcher validates each action against the domain allow-list, then
// invokes the HostBridge. Action failures are logged and do not abort
// the remaining actions in the sequence (spec §4.4, §7).
type Dispatcher struct {
	Bridge         HostBridge
	Logger         *slog.Logger
	AllowedDomains map[string]bool
	TestMode       bool
}

// New constructs a Dispatcher from a domain allow-list slice.
func New(bridge HostBridge, logger *slog.Logger, allowedDomains []string, testMode bool) *Dispatcher {
	set := make(map[string]bool, len(allowedDomains))
	for _, d := range allowedDomains {
		set[d] = true
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{Bridge: bridge, Logger: logger, AllowedDomains: set, TestMode: testMode}
}

// Dispatch runs actions in author-declared order (spec §5: "a single
// trigger's actions dispatch in the author-declared order"). An empty
// action list is a no-op; a warning is logged once, per spec §9.
func (d *Dispatcher) Dispatch(ctx context.Context, fingerprint string, actions []model.Action) DispatchResult {
	result := DispatchResult{Fingerprint: fingerprint}

	if len(actions) == 0 {
		d.Logger.Warn("rule matched with no actions", "fingerprint", fingerprint)
		return result
	}

	for _, action := range actions {
		select {
		case <-ctx.Done():
			result.Outcomes = append(result.Outcomes, ActionOutcome{Action: action, Skipped: true, Reason: "cancelled"})
			continue
		default:
		}

		outcome := d.dispatchOne(ctx, fingerprint, action)
		result.Outcomes = append(result.Outcomes, outcome)
		if !outcome.Skipped && outcome.Err == nil {
			result.AnySucceeded = true
		}
		if outcome.WouldSucceed {
			result.AnyWouldSucceed = true
		}
	}
	return result
}

// dispatchOne validates and policy-checks action regardless of test_mode,
// so a test-mode run reports the same drops a live run would. Only once an
// action clears both checks does test_mode hold it back from the host call.
func (d *Dispatcher) dispatchOne(ctx context.Context, fingerprint string, action model.Action) ActionOutcome {
	logAttrs := []any{"fingerprint", fingerprint, "service", action.Service, "entity_id", action.EntityID}

	if err := model.ValidateService(action.Service); err != nil {
		d.Logger.Warn("dropping action: invalid syntax", append(logAttrs, "error", err)...)
		return ActionOutcome{Action: action, Skipped: true, Reason: "invalid_syntax: " + err.Error()}
	}

	domain := security.DomainOf(action.Service)
	if !d.AllowedDomains[domain] {
		d.Logger.Warn("dropping action: domain not allowed", append(logAttrs, "domain", domain)...)
		return ActionOutcome{Action: action, Skipped: true, Reason: "policy_violation: domain " + domain + " not allowed"}
	}

	sanitized := security.SanitizeEntityID(action.EntityID)
	if sanitized == "" || !strings.Contains(sanitized, ".") {
		d.Logger.Warn("dropping action: entity_id sanitizes to empty", logAttrs...)
		return ActionOutcome{Action: action, Skipped: true, Reason: "policy_violation: entity_id sanitizes to empty"}
	}

	if d.TestMode {
		d.Logger.Info("test_mode: skipping host call", logAttrs...)
		return ActionOutcome{Action: action, Skipped: true, Reason: "test_mode", WouldSucceed: true}
	}

	if err := d.Bridge.CallService(ctx, action.Service, sanitized, action.Data); err != nil {
		d.Logger.Error("host call failed", append(logAttrs, "error", err)...)
		return ActionOutcome{Action: action, Err: err, Reason: "host_call_failure: " + err.Error()}
	}

	d.Logger.Info("dispatched action", logAttrs...)
	return ActionOutcome{Action: action, WouldSucceed: true}
}
