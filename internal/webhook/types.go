package webhook

import (
	"time"

	"github.com/google/uuid"
)

// AlertPayload is the fixed JSON shape posted to a rule's webhook URL.
type AlertPayload struct {
	AlertID  uuid.UUID `json:"alert_id"`
	RuleID   uuid.UUID `json:"rule_id"`
	RuleName string    `json:"rule_name"`
	DeviceID string    `json:"device_id,omitempty"`
	Severity string    `json:"severity"`
	Message  string    `json:"message"`
	FiredAt  time.Time `json:"fired_at"`
}
