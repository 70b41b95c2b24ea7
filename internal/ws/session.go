package ws

import (
	"errors"
	"fmt"
	"time"

	"github.com/pulsegrid/pulsegrid/internal/domain"
	"github.com/pulsegrid/pulsegrid/internal/telemetry"
)

// sendBufferSize bounds the per-session delivery queue; a session that cannot
// drain it is treated as disconnected.
const sendBufferSize = 256

// maxReplaySpeed keeps the pacing interval at or above one millisecond; an
// unbounded speed would truncate the interval to zero and the ticker rejects
// non-positive intervals.
const maxReplaySpeed = 1000

// ReplayConfig describes a historical replay window. Speed is events per
// second (inter-event delay 1000/speed ms, evenly spaced regardless of the
// original gaps); it defaults to 1 and may not exceed maxReplaySpeed.
type ReplayConfig struct {
	Start   time.Time         `json:"start_time"`
	End     time.Time         `json:"end_time"`
	Speed   float64           `json:"speed,omitempty"`
	Filters telemetry.Filters `json:"filters,omitempty"`
}

func (c *ReplayConfig) Validate() error {
	if c.Start.IsZero() || c.End.IsZero() {
		return domain.ErrReplayInvalid.WithError(errors.New("start_time and end_time are required"))
	}
	if c.End.Before(c.Start) {
		return domain.ErrReplayInvalid.WithError(errors.New("end_time must not precede start_time"))
	}
	if c.Speed < 0 {
		return domain.ErrReplayInvalid.WithError(errors.New("speed must be positive"))
	}
	if c.Speed > maxReplaySpeed {
		return domain.ErrReplayInvalid.WithError(fmt.Errorf("speed must not exceed %d", maxReplaySpeed))
	}
	if c.Speed == 0 {
		c.Speed = 1
	}
	return nil
}

// Session is one live client connection and its subscription state. All
// fields are guarded by the owning registry's mutex; the send channel is the
// session's live delivery channel, drained by the transport write pump.
type Session struct {
	ID         string
	UserID     string
	send       chan []byte
	sources    map[string]struct{}
	types      map[string]struct{}
	devices    map[string]struct{}
	allAlerts  bool
	replay     *ReplayConfig
	replayGen  int
	lastActive time.Time
}

func newSession(id string) *Session {
	return &Session{
		ID:         id,
		send:       make(chan []byte, sendBufferSize),
		sources:    make(map[string]struct{}),
		types:      make(map[string]struct{}),
		devices:    make(map[string]struct{}),
		lastActive: time.Now(),
	}
}

// Send is the channel the transport write pump drains.
func (s *Session) Send() <-chan []byte {
	return s.send
}

// wantsEvent reports whether a live event should be delivered to this
// session: a match on any subscribed source, type, or device id.
func (s *Session) wantsEvent(e *telemetry.Event) bool {
	if _, ok := s.sources[e.Source]; ok {
		return true
	}
	if _, ok := s.types[e.Type]; ok {
		return true
	}
	if _, ok := s.devices[e.DeviceID]; ok {
		return true
	}
	return false
}
