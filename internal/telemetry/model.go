package telemetry

import (
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/pulsegrid/pulsegrid/internal/domain"
)

// TypeReading is the event type the alert dispatcher reacts to; every other
// type flows through storage and live delivery untouched.
const TypeReading = "reading"

type Event struct {
	ID        uuid.UUID      `json:"id"`
	DeviceID  string         `json:"device_id"`
	Source    string         `json:"source"`
	Type      string         `json:"type"`
	Data      map[string]any `json:"data"`
	Tags      []string       `json:"tags,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
	CreatedAt time.Time      `json:"created_at"`
}

func (e *Event) Validate() error {
	if e.DeviceID == "" {
		return domain.ErrEventInvalid.WithError(errors.New("device_id is required"))
	}
	if e.Source == "" {
		return domain.ErrEventInvalid.WithError(errors.New("source is required"))
	}
	if e.Type == "" {
		return domain.ErrEventInvalid.WithError(errors.New("type is required"))
	}
	return nil
}

type Filters struct {
	Sources   []string   `json:"sources,omitempty"`
	Types     []string   `json:"types,omitempty"`
	DeviceIDs []string   `json:"device_ids,omitempty"`
	Tags      []string   `json:"tags,omitempty"`
	Start     *time.Time `json:"start,omitempty"`
	End       *time.Time `json:"end,omitempty"`
	Limit     int        `json:"limit,omitempty"`
}

// Matches reports whether the event passes the filter. Empty filter fields
// match everything; tags match on any overlap.
func (f Filters) Matches(e *Event) bool {
	if len(f.Sources) > 0 && !contains(f.Sources, e.Source) {
		return false
	}
	if len(f.Types) > 0 && !contains(f.Types, e.Type) {
		return false
	}
	if len(f.DeviceIDs) > 0 && !contains(f.DeviceIDs, e.DeviceID) {
		return false
	}
	if len(f.Tags) > 0 {
		found := false
		for _, tag := range f.Tags {
			if contains(e.Tags, tag) {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if f.Start != nil && e.Timestamp.Before(*f.Start) {
		return false
	}
	if f.End != nil && e.Timestamp.After(*f.End) {
		return false
	}
	return true
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
