package alert

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/pulsegrid/pulsegrid/internal/telemetry"
)

// RuleSource provides the candidate rules for a reading and persists firings.
type RuleSource interface {
	ListEnabledForDevice(ctx context.Context, deviceID string) ([]*Rule, error)
	InsertInstance(ctx context.Context, inst *Instance) (bool, error)
}

// Dispatcher runs the evaluation pass for incoming readings: load candidate
// rules, match conditions, check cooldown, persist an instance, notify.
type Dispatcher struct {
	rules    RuleSource
	cooldown *CooldownTracker
	notifier *Notifier
	logger   *slog.Logger
	timeout  time.Duration
}

func NewDispatcher(rules RuleSource, cooldown *CooldownTracker, notifier *Notifier, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{
		rules:    rules,
		cooldown: cooldown,
		notifier: notifier,
		logger:   logger,
		timeout:  30 * time.Second,
	}
}

// HandleReading runs the evaluation pass asynchronously. The caller's request
// never blocks on or fails because of evaluation; terminal failures are logged.
func (d *Dispatcher) HandleReading(event *telemetry.Event) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
		defer cancel()

		if err := d.Process(ctx, event); err != nil {
			d.logger.Error("alert evaluation pass failed",
				"event_id", event.ID,
				"device_id", event.DeviceID,
				"error", err,
			)
		}
	}()
}

// Process evaluates all candidate rules against the event. Only readings are
// considered; any other event type is ignored without error. A failure in one
// rule's persistence or notification never blocks the remaining rules; only a
// failure to load the candidate set surfaces to the caller.
func (d *Dispatcher) Process(ctx context.Context, event *telemetry.Event) error {
	if event.Type != telemetry.TypeReading {
		return nil
	}

	rules, err := d.rules.ListEnabledForDevice(ctx, event.DeviceID)
	if err != nil {
		return fmt.Errorf("load candidate rules: %w", err)
	}

	for _, rule := range rules {
		if err := d.evaluateRule(ctx, rule, event); err != nil {
			d.logger.Error("rule evaluation failed",
				"rule_id", rule.ID,
				"rule_name", rule.Name,
				"device_id", event.DeviceID,
				"error", err,
			)
		}
	}

	return nil
}

func (d *Dispatcher) evaluateRule(ctx context.Context, rule *Rule, event *telemetry.Event) error {
	if !Matches(rule.Conditions, event.Data) {
		return nil
	}

	suppressed, err := d.cooldown.IsInCooldown(ctx, rule.ID, event.DeviceID, rule.CooldownSeconds)
	if err != nil {
		return err
	}
	if suppressed {
		d.logger.Debug("alert suppressed by cooldown",
			"rule_id", rule.ID,
			"device_id", event.DeviceID,
		)
		return nil
	}

	inst := d.buildInstance(rule, event)

	inserted, err := d.rules.InsertInstance(ctx, inst)
	if err != nil {
		return err
	}
	if !inserted {
		// Duplicate id means another pass already handled this firing.
		return nil
	}

	d.logger.Info("alert fired",
		"alert_id", inst.ID,
		"rule_id", rule.ID,
		"rule_name", rule.Name,
		"device_id", event.DeviceID,
		"severity", rule.Severity,
	)

	d.notifier.Dispatch(ctx, inst, rule)

	return nil
}

func (d *Dispatcher) buildInstance(rule *Rule, event *telemetry.Event) *Instance {
	eventID := event.ID
	return &Instance{
		ID:       uuid.New(),
		RuleID:   rule.ID,
		RuleName: rule.Name,
		DeviceID: event.DeviceID,
		Severity: rule.Severity,
		Message:  fmt.Sprintf("Rule %q matched for device %s", rule.Name, event.DeviceID),
		Status:   StatusActive,
		FiredAt:  time.Now(),
		EventID:  &eventID,
		Metadata: map[string]any{
			"conditions": rule.Conditions,
			"payload":    event.Data,
		},
	}
}
