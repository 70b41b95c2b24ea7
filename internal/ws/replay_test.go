package ws

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/pulsegrid/pulsegrid/internal/telemetry"
)

func historicalEvent(deviceID string, ts time.Time) *telemetry.Event {
	return &telemetry.Event{
		ID:        uuid.New(),
		DeviceID:  deviceID,
		Source:    "sensors",
		Type:      "reading",
		Data:      map[string]any{"value": 1.0},
		Timestamp: ts,
	}
}

func startReplay(t *testing.T, r *Registry, sessionID string, speed float64, start, end time.Time) {
	t.Helper()
	r.OnMessage(context.Background(), sessionID, clientMsg(t, ActionStartReplay, "req-replay",
		map[string]any{
			"start_time": start.Format(time.RFC3339),
			"end_time":   end.Format(time.RFC3339),
			"speed":      speed,
		}))
}

func TestReplay_DeliversInTimestampOrder(t *testing.T) {
	base := time.Date(2025, 5, 1, 0, 0, 0, 0, time.UTC)

	// Store order deliberately scrambled; replay must sort ascending.
	store := &stubStore{events: []*telemetry.Event{
		historicalEvent("dev-1", base.Add(3400*time.Millisecond)),
		historicalEvent("dev-1", base.Add(1200*time.Millisecond)),
		historicalEvent("dev-1", base.Add(4800*time.Millisecond)),
	}}
	r := newTestRegistry(store)
	s := r.OnConnect("s1")

	startReplay(t, r, "s1", 200, base, base.Add(10*time.Second))
	recv(t, s, time.Second) // start ack

	var timestamps []time.Time
	for i := 0; i < 3; i++ {
		msg := recv(t, s, 2*time.Second)
		if msg.Type != TypeReplayEvent {
			t.Fatalf("message %d type = %s, want %s", i, msg.Type, TypeReplayEvent)
		}
		data := msg.Data.(map[string]any)
		ts, err := time.Parse(time.RFC3339, data["timestamp"].(string))
		if err != nil {
			t.Fatalf("parse timestamp: %v", err)
		}
		timestamps = append(timestamps, ts)
	}

	for i := 1; i < len(timestamps); i++ {
		if timestamps[i].Before(timestamps[i-1]) {
			t.Errorf("replay out of order: %v before %v", timestamps[i], timestamps[i-1])
		}
	}

	done := recv(t, s, 2*time.Second)
	if done.Type != TypeReplayComplete {
		t.Fatalf("final message type = %s, want %s", done.Type, TypeReplayComplete)
	}
	data := done.Data.(map[string]any)
	if delivered, _ := data["delivered"].(float64); delivered != 3 {
		t.Errorf("delivered = %v, want 3", data["delivered"])
	}
}

func TestReplay_PacingFollowsSpeed(t *testing.T) {
	base := time.Date(2025, 5, 1, 0, 0, 0, 0, time.UTC)
	store := &stubStore{events: []*telemetry.Event{
		historicalEvent("dev-1", base.Add(1*time.Second)),
		historicalEvent("dev-1", base.Add(2*time.Second)),
		historicalEvent("dev-1", base.Add(3*time.Second)),
	}}
	r := newTestRegistry(store)
	s := r.OnConnect("s1")

	// speed 20 means one event every 50ms regardless of original spacing.
	started := time.Now()
	startReplay(t, r, "s1", 20, base, base.Add(10*time.Second))
	recv(t, s, time.Second) // start ack

	for i := 0; i < 3; i++ {
		msg := recv(t, s, 2*time.Second)
		if msg.Type != TypeReplayEvent {
			t.Fatalf("message %d type = %s, want %s", i, msg.Type, TypeReplayEvent)
		}
	}
	elapsed := time.Since(started)

	if elapsed < 140*time.Millisecond {
		t.Errorf("3 events at speed 20 took %v, want >= ~150ms", elapsed)
	}
	if elapsed > 2*time.Second {
		t.Errorf("replay too slow: %v", elapsed)
	}
}

func TestReplay_StopCancelsWithoutCompletion(t *testing.T) {
	base := time.Date(2025, 5, 1, 0, 0, 0, 0, time.UTC)
	events := make([]*telemetry.Event, 0, 20)
	for i := 0; i < 20; i++ {
		events = append(events, historicalEvent("dev-1", base.Add(time.Duration(i)*time.Second)))
	}
	store := &stubStore{events: events}
	r := newTestRegistry(store)
	s := r.OnConnect("s1")
	ctx := context.Background()

	startReplay(t, r, "s1", 10, base, base.Add(time.Hour))
	recv(t, s, time.Second) // start ack

	// Let a couple of events through, then stop.
	recv(t, s, 2*time.Second)
	recv(t, s, 2*time.Second)

	r.OnMessage(ctx, "s1", clientMsg(t, ActionStopReplay, "req-stop", nil))

	// Drain until the stop ack. A delivery that was already in flight when
	// the stop landed may still arrive; after that, silence. A completion
	// message must never arrive.
	deadline := time.After(2 * time.Second)
	acked := false
	trailing := 0
	for {
		select {
		case raw := <-s.Send():
			msg := decodeServer(t, raw)
			if msg.Type == TypeReplayComplete {
				t.Fatal("stopped replay must not send replay_complete")
			}
			if msg.RequestID == "req-stop" {
				acked = true
				continue
			}
			if acked {
				trailing++
				if trailing > 1 {
					t.Fatalf("replay kept running after stop: %s", raw)
				}
			}
		case <-time.After(400 * time.Millisecond):
			if !acked {
				t.Fatal("no stop ack received")
			}
			return
		case <-deadline:
			t.Fatal("timed out waiting for replay to stop")
		}
	}
}

func TestReplay_DisconnectCancels(t *testing.T) {
	base := time.Date(2025, 5, 1, 0, 0, 0, 0, time.UTC)
	events := make([]*telemetry.Event, 0, 10)
	for i := 0; i < 10; i++ {
		events = append(events, historicalEvent("dev-1", base.Add(time.Duration(i)*time.Second)))
	}
	store := &stubStore{events: events}
	r := newTestRegistry(store)
	s := r.OnConnect("s1")

	startReplay(t, r, "s1", 10, base, base.Add(time.Hour))
	recv(t, s, time.Second) // start ack
	recv(t, s, 2*time.Second)

	r.OnDisconnect("s1")

	// The pacing loop notices the missing session within one interval and
	// exits; nothing to assert beyond not panicking and not deadlocking.
	time.Sleep(300 * time.Millisecond)
	if r.SessionCount() != 0 {
		t.Errorf("SessionCount() = %d, want 0", r.SessionCount())
	}
}

func TestReplay_NewReplaySupersedesRunning(t *testing.T) {
	base := time.Date(2025, 5, 1, 0, 0, 0, 0, time.UTC)
	events := make([]*telemetry.Event, 0, 50)
	for i := 0; i < 50; i++ {
		events = append(events, historicalEvent("dev-1", base.Add(time.Duration(i)*time.Second)))
	}
	store := &stubStore{events: events}
	r := newTestRegistry(store)
	s := r.OnConnect("s1")

	// Slow first replay, then immediately supersede with a fast one over a
	// small window.
	startReplay(t, r, "s1", 5, base, base.Add(time.Hour))
	recv(t, s, time.Second) // first start ack

	store.setEvents(events[:3])
	startReplay(t, r, "s1", 200, base, base.Add(time.Hour))

	// Exactly one replay_complete arrives, and it reports the second
	// replay's event count.
	deadline := time.After(5 * time.Second)
	completions := 0
	for completions == 0 {
		select {
		case raw := <-s.Send():
			msg := decodeServer(t, raw)
			if msg.Type == TypeReplayComplete {
				completions++
				data := msg.Data.(map[string]any)
				if delivered, _ := data["delivered"].(float64); delivered != 3 {
					t.Errorf("delivered = %v, want 3", data["delivered"])
				}
			}
		case <-deadline:
			t.Fatal("timed out waiting for replay completion")
		}
	}

	// The superseded replay terminates silently.
	assertNoMessage(t, s, 400*time.Millisecond)
}

func TestReplay_InvalidConfigRejected(t *testing.T) {
	base := time.Date(2025, 5, 1, 0, 0, 0, 0, time.UTC)

	tests := []struct {
		name string
		data map[string]any
	}{
		{
			name: "start after end",
			data: map[string]any{
				"start_time": base.Add(time.Hour).Format(time.RFC3339),
				"end_time":   base.Format(time.RFC3339),
			},
		},
		{
			name: "negative speed",
			data: map[string]any{
				"start_time": base.Format(time.RFC3339),
				"end_time":   base.Add(time.Hour).Format(time.RFC3339),
				"speed":      -5,
			},
		},
		{
			// A huge speed would truncate the pacing interval to zero and
			// crash the ticker; it must be rejected before the loop starts.
			name: "excessive speed",
			data: map[string]any{
				"start_time": base.Format(time.RFC3339),
				"end_time":   base.Add(time.Hour).Format(time.RFC3339),
				"speed":      1e12,
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := newTestRegistry(nil)
			s := r.OnConnect("s1")

			r.OnMessage(context.Background(), "s1", clientMsg(t, ActionStartReplay, "req-bad", tt.data))

			msg := recv(t, s, time.Second)
			if msg.Type != TypeError {
				t.Fatalf("type = %s, want %s", msg.Type, TypeError)
			}
			if msg.Error == nil || msg.Error.Code != "REPLAY_INVALID" {
				t.Errorf("error = %+v, want REPLAY_INVALID", msg.Error)
			}
			if msg.RequestID != "req-bad" {
				t.Errorf("request_id = %q, want req-bad", msg.RequestID)
			}
		})
	}
}

func TestReplayConfig_ValidateCapsSpeed(t *testing.T) {
	cfg := ReplayConfig{
		Start: time.Date(2025, 5, 1, 0, 0, 0, 0, time.UTC),
		End:   time.Date(2025, 5, 1, 1, 0, 0, 0, time.UTC),
		Speed: 1e12,
	}
	if err := cfg.Validate(); err == nil {
		t.Fatal("Validate() = nil, want error for excessive speed")
	}

	cfg.Speed = maxReplaySpeed
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate() = %v, want nil at the speed cap", err)
	}
	if interval := time.Duration(float64(time.Second) / cfg.Speed); interval <= 0 {
		t.Fatalf("pacing interval = %v, want positive", interval)
	}
}

func decodeServer(t *testing.T, raw []byte) ServerMessage {
	t.Helper()
	var msg ServerMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		t.Fatalf("unmarshal server message: %v", err)
	}
	return msg
}
