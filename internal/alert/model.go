package alert

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/pulsegrid/pulsegrid/internal/domain"
)

type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

type Operator string

const (
	OpGreaterThan    Operator = "gt"
	OpGreaterOrEqual Operator = "gte"
	OpLessThan       Operator = "lt"
	OpLessOrEqual    Operator = "lte"
	OpEqual          Operator = "eq"
	OpNotEqual       Operator = "neq"
	OpContains       Operator = "contains"
	OpNotContains    Operator = "not_contains"
)

type ChannelType string

const (
	ChannelUI      ChannelType = "ui"
	ChannelEmail   ChannelType = "email"
	ChannelWebhook ChannelType = "webhook"
)

type Status string

const (
	StatusActive       Status = "active"
	StatusAcknowledged Status = "acknowledged"
	StatusResolved     Status = "resolved"
)

// Rule is a persistent alert definition. A nil DeviceID makes the rule
// global: it applies to readings from every device.
type Rule struct {
	ID              uuid.UUID     `json:"id"`
	Name            string        `json:"name"`
	Description     string        `json:"description,omitempty"`
	DeviceID        *string       `json:"device_id,omitempty"`
	Conditions      []Condition   `json:"conditions"`
	Severity        Severity      `json:"severity"`
	Enabled         bool          `json:"enabled"`
	Channels        []ChannelType `json:"channels"`
	EmailRecipients []string      `json:"email_recipients,omitempty"`
	WebhookURL      string        `json:"webhook_url,omitempty"`
	WebhookSecret   string        `json:"-"`
	CooldownSeconds int           `json:"cooldown_seconds,omitempty"`
	CreatedBy       *string       `json:"created_by,omitempty"`
	CreatedAt       time.Time     `json:"created_at"`
	UpdatedAt       time.Time     `json:"updated_at"`
}

type Condition struct {
	Field    string   `json:"field"`
	Operator Operator `json:"operator"`
	Value    any      `json:"value"`
}

// Instance is one firing of a rule. Status only moves forward:
// active -> acknowledged -> resolved, or active -> resolved.
type Instance struct {
	ID             uuid.UUID      `json:"id"`
	RuleID         uuid.UUID      `json:"rule_id"`
	RuleName       string         `json:"rule_name"`
	DeviceID       string         `json:"device_id,omitempty"`
	Severity       Severity       `json:"severity"`
	Message        string         `json:"message"`
	Status         Status         `json:"status"`
	FiredAt        time.Time      `json:"fired_at"`
	AcknowledgedAt *time.Time     `json:"acknowledged_at,omitempty"`
	AcknowledgedBy *string        `json:"acknowledged_by,omitempty"`
	ResolvedAt     *time.Time     `json:"resolved_at,omitempty"`
	ResolvedBy     *string        `json:"resolved_by,omitempty"`
	EventID        *uuid.UUID     `json:"event_id,omitempty"`
	Metadata       map[string]any `json:"metadata,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
}

func validSeverity(s Severity) bool {
	switch s {
	case SeverityInfo, SeverityWarning, SeverityCritical:
		return true
	}
	return false
}

func validOperator(op Operator) bool {
	switch op {
	case OpGreaterThan, OpGreaterOrEqual, OpLessThan, OpLessOrEqual,
		OpEqual, OpNotEqual, OpContains, OpNotContains:
		return true
	}
	return false
}

func validChannel(c ChannelType) bool {
	switch c {
	case ChannelUI, ChannelEmail, ChannelWebhook:
		return true
	}
	return false
}

// Validate rejects malformed rules before they ever reach the dispatcher.
func (r *Rule) Validate() error {
	if r.Name == "" {
		return domain.ErrRuleInvalid.WithError(errors.New("name is required"))
	}
	if len(r.Conditions) == 0 {
		return domain.ErrRuleInvalid.WithError(errors.New("at least one condition is required"))
	}
	if len(r.Channels) == 0 {
		return domain.ErrRuleInvalid.WithError(errors.New("at least one notification channel is required"))
	}
	if !validSeverity(r.Severity) {
		return domain.ErrRuleInvalid.WithError(fmt.Errorf("unknown severity %q", r.Severity))
	}
	if r.CooldownSeconds < 0 {
		return domain.ErrRuleInvalid.WithError(errors.New("cooldown must be non-negative"))
	}

	for i, cond := range r.Conditions {
		if cond.Field == "" {
			return domain.ErrRuleInvalid.WithError(fmt.Errorf("condition %d: field is required", i))
		}
		if !validOperator(cond.Operator) {
			return domain.ErrRuleInvalid.WithError(fmt.Errorf("condition %d: unknown operator %q", i, cond.Operator))
		}
	}

	for _, ch := range r.Channels {
		if !validChannel(ch) {
			return domain.ErrRuleInvalid.WithError(fmt.Errorf("unknown channel %q", ch))
		}
		if ch == ChannelWebhook && r.WebhookURL == "" {
			return domain.ErrRuleInvalid.WithError(errors.New("webhook channel requires a webhook_url"))
		}
	}

	return nil
}
