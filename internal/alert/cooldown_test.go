package alert

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
)

type stubHistory struct {
	last *Instance
	err  error
}

func (s *stubHistory) LatestInstance(ctx context.Context, ruleID uuid.UUID, deviceID string) (*Instance, error) {
	return s.last, s.err
}

func TestCooldownTracker_IsInCooldown(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	ruleID := uuid.New()

	tests := []struct {
		name            string
		cooldownSeconds int
		deviceID        string
		lastFiredAt     *time.Time
		want            bool
	}{
		{
			name:            "zero cooldown never suppresses",
			cooldownSeconds: 0,
			deviceID:        "dev-1",
			lastFiredAt:     timePtr(now.Add(-1 * time.Second)),
			want:            false,
		},
		{
			name:            "negative cooldown never suppresses",
			cooldownSeconds: -30,
			deviceID:        "dev-1",
			lastFiredAt:     timePtr(now.Add(-1 * time.Second)),
			want:            false,
		},
		{
			name:            "empty device id never suppresses",
			cooldownSeconds: 300,
			deviceID:        "",
			lastFiredAt:     timePtr(now.Add(-1 * time.Second)),
			want:            false,
		},
		{
			name:            "never fired before",
			cooldownSeconds: 300,
			deviceID:        "dev-1",
			lastFiredAt:     nil,
			want:            false,
		},
		{
			name:            "within cooldown window",
			cooldownSeconds: 300,
			deviceID:        "dev-1",
			lastFiredAt:     timePtr(now.Add(-100 * time.Second)),
			want:            true,
		},
		{
			name:            "exactly at cooldown boundary",
			cooldownSeconds: 300,
			deviceID:        "dev-1",
			lastFiredAt:     timePtr(now.Add(-300 * time.Second)),
			want:            false,
		},
		{
			name:            "after cooldown window",
			cooldownSeconds: 300,
			deviceID:        "dev-1",
			lastFiredAt:     timePtr(now.Add(-301 * time.Second)),
			want:            false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			history := &stubHistory{}
			if tt.lastFiredAt != nil {
				history.last = &Instance{RuleID: ruleID, DeviceID: tt.deviceID, FiredAt: *tt.lastFiredAt}
			}

			tracker := NewCooldownTracker(history)
			tracker.now = func() time.Time { return now }

			got, err := tracker.IsInCooldown(context.Background(), ruleID, tt.deviceID, tt.cooldownSeconds)
			if err != nil {
				t.Fatalf("IsInCooldown() error = %v", err)
			}
			if got != tt.want {
				t.Errorf("IsInCooldown() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestCooldownTracker_HistoryError(t *testing.T) {
	history := &stubHistory{err: errors.New("connection refused")}
	tracker := NewCooldownTracker(history)

	_, err := tracker.IsInCooldown(context.Background(), uuid.New(), "dev-1", 300)
	if err == nil {
		t.Fatal("IsInCooldown() expected error, got nil")
	}
}

func timePtr(t time.Time) *time.Time {
	return &t
}
