package alert

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// InstanceHistory looks up the most recent firing of a rule for a device.
// A nil instance with a nil error means the rule has never fired for it.
type InstanceHistory interface {
	LatestInstance(ctx context.Context, ruleID uuid.UUID, deviceID string) (*Instance, error)
}

// CooldownTracker suppresses repeat firings of the same rule for the same
// device inside the rule's cooldown window. Cooldown is tracked per
// (rule, device) pair even for global rules, so a global rule cools down
// independently on every device it fires for. Without a device id there is
// nothing to key the lookup on and the tracker never suppresses.
type CooldownTracker struct {
	history InstanceHistory
	now     func() time.Time
}

func NewCooldownTracker(history InstanceHistory) *CooldownTracker {
	return &CooldownTracker{
		history: history,
		now:     time.Now,
	}
}

// IsInCooldown reports whether a new firing should be suppressed. A zero or
// negative cooldown never suppresses.
func (t *CooldownTracker) IsInCooldown(ctx context.Context, ruleID uuid.UUID, deviceID string, cooldownSeconds int) (bool, error) {
	if cooldownSeconds <= 0 {
		return false, nil
	}
	if deviceID == "" {
		return false, nil
	}

	last, err := t.history.LatestInstance(ctx, ruleID, deviceID)
	if err != nil {
		return false, fmt.Errorf("lookup latest instance: %w", err)
	}
	if last == nil {
		return false, nil
	}

	elapsed := t.now().Sub(last.FiredAt)
	return elapsed < time.Duration(cooldownSeconds)*time.Second, nil
}
