package ws

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"time"

	"github.com/pulsegrid/pulsegrid/internal/domain"
	"github.com/pulsegrid/pulsegrid/internal/telemetry"
)

const replayFetchTimeout = 30 * time.Second

// handleStartReplay binds a replay to the session and starts the pacing loop.
// Starting a replay while one is running silently supersedes it: the config
// is overwritten and the generation counter bumped, which the old loop
// observes at its next pacing tick.
func (r *Registry) handleStartReplay(s *Session, msg ClientMessage) {
	var cfg ReplayConfig
	if err := json.Unmarshal(msg.Data, &cfg); err != nil {
		r.respondError(s.ID, msg.RequestID, "BAD_MESSAGE", "invalid start_replay payload")
		return
	}

	if err := cfg.Validate(); err != nil {
		var appErr *domain.AppError
		if errors.As(err, &appErr) {
			r.respondError(s.ID, msg.RequestID, appErr.Code, appErr.Error())
		} else {
			r.respondError(s.ID, msg.RequestID, "REPLAY_INVALID", err.Error())
		}
		return
	}

	r.mu.Lock()
	s.replay = &cfg
	s.replayGen++
	gen := s.replayGen
	r.mu.Unlock()

	go r.runReplay(s.ID, cfg, gen)

	r.respond(s.ID, ServerMessage{
		Type:      TypeResponse,
		RequestID: msg.RequestID,
		Data:      map[string]any{"replay": "started", "speed": cfg.Speed},
	})
}

// handleStopReplay clears the session's replay config, which is the sole
// cancellation mechanism; the pacing loop notices on its next tick.
func (r *Registry) handleStopReplay(s *Session, msg ClientMessage) {
	r.mu.Lock()
	s.replay = nil
	r.mu.Unlock()

	r.respond(s.ID, ServerMessage{
		Type:      TypeResponse,
		RequestID: msg.RequestID,
		Data:      map[string]string{"replay": "stopped"},
	})
}

// runReplay fetches the historical window and delivers it one event at a
// time, each delivery separated by 1000/speed milliseconds. Cancellation is
// polled: before every delivery the loop re-checks that the session still
// exists and still carries this replay generation, so stop, disconnect, and
// supersede all take effect within one pacing interval.
func (r *Registry) runReplay(sessionID string, cfg ReplayConfig, gen int) {
	ctx, cancel := context.WithTimeout(context.Background(), replayFetchTimeout)
	events, err := r.events.QueryWindow(ctx, cfg.Start, cfg.End, cfg.Filters)
	cancel()
	if err != nil {
		r.logger.Error("replay fetch failed", "session_id", sessionID, "error", err)
		r.clearReplay(sessionID, gen)
		r.respondError(sessionID, "", "REPLAY_FAILED", "failed to fetch historical events")
		return
	}

	// Storage order is not trusted; replay must be ascending by timestamp.
	sort.SliceStable(events, func(i, j int) bool {
		return events[i].Timestamp.Before(events[j].Timestamp)
	})

	// Tag filtering happens here rather than in SQL for replays, so the
	// filter semantics match live subscription matching exactly.
	if len(cfg.Filters.Tags) > 0 {
		filtered := events[:0]
		for _, e := range events {
			if cfg.Filters.Matches(e) {
				filtered = append(filtered, e)
			}
		}
		events = filtered
	}

	interval := time.Duration(float64(time.Second) / cfg.Speed)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	r.logger.Debug("replay started",
		"session_id", sessionID,
		"events", len(events),
		"interval", interval,
	)

	for _, event := range events {
		<-ticker.C

		if !r.replayAlive(sessionID, gen) {
			r.logger.Debug("replay cancelled", "session_id", sessionID)
			return
		}

		if !r.deliverReplay(sessionID, event) {
			return
		}
	}

	if r.clearReplay(sessionID, gen) {
		r.respond(sessionID, ServerMessage{
			Type: TypeReplayComplete,
			Data: map[string]int{"delivered": len(events)},
		})
		r.logger.Debug("replay completed", "session_id", sessionID, "events", len(events))
	}
}

// replayAlive reports whether the session still exists and still carries the
// given replay generation.
func (r *Registry) replayAlive(sessionID string, gen int) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s, ok := r.sessions[sessionID]
	return ok && s.replay != nil && s.replayGen == gen
}

func (r *Registry) deliverReplay(sessionID string, event *telemetry.Event) bool {
	message, err := json.Marshal(ServerMessage{
		Type:      TypeReplayEvent,
		Data:      event,
		Timestamp: r.now(),
	})
	if err != nil {
		return false
	}

	r.mu.RLock()
	s, ok := r.sessions[sessionID]
	delivered := false
	if ok {
		select {
		case s.send <- message:
			delivered = true
		default:
		}
	}
	r.mu.RUnlock()

	if ok && !delivered {
		r.evict([]string{sessionID})
	}
	return delivered
}

// clearReplay clears the session's replay config if it still carries the
// given generation. Returns true when this call performed the clear.
func (r *Registry) clearReplay(sessionID string, gen int) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[sessionID]
	if !ok || s.replayGen != gen {
		return false
	}
	s.replay = nil
	return true
}
