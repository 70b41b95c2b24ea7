package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/pulsegrid/pulsegrid/internal/alert"
	"github.com/pulsegrid/pulsegrid/internal/telemetry"
)

// EventStore serves historical event queries for query_events and replay.
type EventStore interface {
	Query(ctx context.Context, f telemetry.Filters) ([]*telemetry.Event, error)
	QueryWindow(ctx context.Context, start, end time.Time, f telemetry.Filters) ([]*telemetry.Event, error)
}

// Registry is the in-memory table of live client sessions. Every mutation
// (connect, disconnect, subscription change, replay config change) happens
// under one mutex, so connection handlers on separate goroutines see a
// consistent view. Delivery failures evict the failing session and never
// touch the others.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	events   EventStore
	logger   *slog.Logger
	now      func() time.Time
}

func NewRegistry(events EventStore, logger *slog.Logger) *Registry {
	return &Registry{
		sessions: make(map[string]*Session),
		events:   events,
		logger:   logger,
		now:      time.Now,
	}
}

// OnConnect creates an empty session for the connection id.
func (r *Registry) OnConnect(id string) *Session {
	r.mu.Lock()
	defer r.mu.Unlock()

	s := newSession(id)
	r.sessions[id] = s

	r.logger.Debug("session connected", "session_id", id)
	return s
}

// OnDisconnect removes the session. Clearing it from the table is also what
// cancels any replay bound to it: the replay loop polls for the session
// before each delivery.
func (r *Registry) OnDisconnect(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.removeLocked(id)
}

func (r *Registry) removeLocked(id string) {
	s, ok := r.sessions[id]
	if !ok {
		return
	}
	delete(r.sessions, id)
	close(s.send)
	r.logger.Debug("session removed", "session_id", id)
}

// SessionCount reports the number of live sessions.
func (r *Registry) SessionCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// OnMessage dispatches one client message by action name. Responses are
// delivered on the session's send channel and always echo the request id.
// For a message addressed to an unknown session there is no channel to
// respond on, so the error response is returned to the transport instead.
func (r *Registry) OnMessage(ctx context.Context, id string, raw []byte) []byte {
	var msg ClientMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		r.respondError(id, "", "BAD_MESSAGE", "message is not valid JSON")
		return nil
	}

	r.mu.Lock()
	s, ok := r.sessions[id]
	if ok {
		s.lastActive = r.now()
	}
	r.mu.Unlock()

	if !ok {
		reply, _ := json.Marshal(ServerMessage{
			Type:      TypeError,
			RequestID: msg.RequestID,
			Error:     &ErrorBody{Code: "SESSION_NOT_FOUND", Message: "session not found"},
			Timestamp: r.now(),
		})
		return reply
	}

	switch msg.Action {
	case ActionSubscribe:
		r.handleSubscribe(s, msg)
	case ActionUnsubscribe:
		r.handleUnsubscribe(s, msg)
	case ActionSubscribeDevices:
		r.handleSubscribeDevices(s, msg)
	case ActionUnsubscribeDevices:
		r.handleUnsubscribeDevices(s, msg)
	case ActionSubscribeAlerts:
		r.setAlertSubscription(s, msg, true)
	case ActionUnsubscribeAlerts:
		r.setAlertSubscription(s, msg, false)
	case ActionQueryEvents:
		r.handleQueryEvents(ctx, s, msg)
	case ActionStartReplay:
		r.handleStartReplay(s, msg)
	case ActionStopReplay:
		r.handleStopReplay(s, msg)
	case ActionPing:
		r.respond(id, ServerMessage{
			Type:      TypePong,
			RequestID: msg.RequestID,
			Data:      map[string]bool{"pong": true},
		})
	default:
		r.respondError(id, msg.RequestID, "UNKNOWN_ACTION", "unknown action: "+msg.Action)
	}

	return nil
}

func (r *Registry) handleSubscribe(s *Session, msg ClientMessage) {
	var p subscribePayload
	if len(msg.Data) > 0 {
		if err := json.Unmarshal(msg.Data, &p); err != nil {
			r.respondError(s.ID, msg.RequestID, "BAD_MESSAGE", "invalid subscribe payload")
			return
		}
	}

	r.mu.Lock()
	for _, src := range p.Sources {
		s.sources[src] = struct{}{}
	}
	for _, typ := range p.Types {
		s.types[typ] = struct{}{}
	}
	r.mu.Unlock()

	r.respond(s.ID, ServerMessage{
		Type:      TypeResponse,
		RequestID: msg.RequestID,
		Data:      map[string]string{"subscribed": "ok"},
	})
}

// handleUnsubscribe removes the listed sources and types; an empty payload
// clears both sets entirely.
func (r *Registry) handleUnsubscribe(s *Session, msg ClientMessage) {
	var p subscribePayload
	if len(msg.Data) > 0 {
		if err := json.Unmarshal(msg.Data, &p); err != nil {
			r.respondError(s.ID, msg.RequestID, "BAD_MESSAGE", "invalid unsubscribe payload")
			return
		}
	}

	r.mu.Lock()
	if len(p.Sources) == 0 && len(p.Types) == 0 {
		s.sources = make(map[string]struct{})
		s.types = make(map[string]struct{})
	} else {
		for _, src := range p.Sources {
			delete(s.sources, src)
		}
		for _, typ := range p.Types {
			delete(s.types, typ)
		}
	}
	r.mu.Unlock()

	r.respond(s.ID, ServerMessage{
		Type:      TypeResponse,
		RequestID: msg.RequestID,
		Data:      map[string]string{"unsubscribed": "ok"},
	})
}

func (r *Registry) handleSubscribeDevices(s *Session, msg ClientMessage) {
	var p devicesPayload
	if len(msg.Data) > 0 {
		if err := json.Unmarshal(msg.Data, &p); err != nil {
			r.respondError(s.ID, msg.RequestID, "BAD_MESSAGE", "invalid subscribe_devices payload")
			return
		}
	}

	r.mu.Lock()
	for _, d := range p.DeviceIDs {
		s.devices[d] = struct{}{}
	}
	r.mu.Unlock()

	r.respond(s.ID, ServerMessage{
		Type:      TypeResponse,
		RequestID: msg.RequestID,
		Data:      map[string]string{"subscribed": "ok"},
	})
}

func (r *Registry) handleUnsubscribeDevices(s *Session, msg ClientMessage) {
	var p devicesPayload
	if len(msg.Data) > 0 {
		if err := json.Unmarshal(msg.Data, &p); err != nil {
			r.respondError(s.ID, msg.RequestID, "BAD_MESSAGE", "invalid unsubscribe_devices payload")
			return
		}
	}

	r.mu.Lock()
	if len(p.DeviceIDs) == 0 {
		s.devices = make(map[string]struct{})
	} else {
		for _, d := range p.DeviceIDs {
			delete(s.devices, d)
		}
	}
	r.mu.Unlock()

	r.respond(s.ID, ServerMessage{
		Type:      TypeResponse,
		RequestID: msg.RequestID,
		Data:      map[string]string{"unsubscribed": "ok"},
	})
}

func (r *Registry) setAlertSubscription(s *Session, msg ClientMessage, subscribed bool) {
	r.mu.Lock()
	s.allAlerts = subscribed
	r.mu.Unlock()

	r.respond(s.ID, ServerMessage{
		Type:      TypeResponse,
		RequestID: msg.RequestID,
		Data:      map[string]bool{"alerts_subscribed": subscribed},
	})
}

func (r *Registry) handleQueryEvents(ctx context.Context, s *Session, msg ClientMessage) {
	var f telemetry.Filters
	if len(msg.Data) > 0 {
		if err := json.Unmarshal(msg.Data, &f); err != nil {
			r.respondError(s.ID, msg.RequestID, "BAD_MESSAGE", "invalid query_events payload")
			return
		}
	}

	events, err := r.events.Query(ctx, f)
	if err != nil {
		r.logger.Error("event query failed", "session_id", s.ID, "error", err)
		r.respondError(s.ID, msg.RequestID, "QUERY_FAILED", "event query failed")
		return
	}

	r.respond(s.ID, ServerMessage{
		Type:      TypeResponse,
		RequestID: msg.RequestID,
		Data:      map[string]any{"events": events, "count": len(events)},
	})
}

// BroadcastEvent fans a live event out to every session subscribed to its
// source, type, or device. Each delivery is independent; a session whose
// buffer is full is evicted without affecting the rest.
func (r *Registry) BroadcastEvent(e *telemetry.Event) {
	message, err := json.Marshal(ServerMessage{
		Type:      TypeEvent,
		Data:      e,
		Timestamp: r.now(),
	})
	if err != nil {
		return
	}

	r.mu.RLock()
	var failed []string
	for id, s := range r.sessions {
		if !s.wantsEvent(e) {
			continue
		}
		select {
		case s.send <- message:
		default:
			failed = append(failed, id)
		}
	}
	r.mu.RUnlock()

	r.evict(failed)
}

// PublishAlert delivers an alert instance to every session subscribed to all
// alerts. Implements the notifier's ui channel.
func (r *Registry) PublishAlert(inst *alert.Instance) {
	message, err := json.Marshal(ServerMessage{
		Type:      TypeAlert,
		Data:      inst,
		Timestamp: r.now(),
	})
	if err != nil {
		return
	}

	r.mu.RLock()
	var failed []string
	for id, s := range r.sessions {
		if !s.allAlerts {
			continue
		}
		select {
		case s.send <- message:
		default:
			failed = append(failed, id)
		}
	}
	r.mu.RUnlock()

	r.evict(failed)
}

func (r *Registry) evict(ids []string) {
	if len(ids) == 0 {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	for _, id := range ids {
		r.logger.Warn("evicting unresponsive session", "session_id", id)
		r.removeLocked(id)
	}
}

// respond marshals and delivers a server message to one session. A full send
// buffer evicts the session, same as any other failed delivery.
func (r *Registry) respond(id string, msg ServerMessage) {
	msg.Timestamp = r.now()
	message, err := json.Marshal(msg)
	if err != nil {
		return
	}

	r.mu.RLock()
	s, ok := r.sessions[id]
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
		r.evict([]string{id})
	}
}

func (r *Registry) respondError(id, requestID, code, message string) {
	r.respond(id, ServerMessage{
		Type:      TypeError,
		RequestID: requestID,
		Error:     &ErrorBody{Code: code, Message: message},
	})
}
