package ws

import (
	"encoding/json"
	"time"
)

// Client message actions.
const (
	ActionSubscribe          = "subscribe"
	ActionUnsubscribe        = "unsubscribe"
	ActionSubscribeDevices   = "subscribe_devices"
	ActionUnsubscribeDevices = "unsubscribe_devices"
	ActionSubscribeAlerts    = "subscribe_alerts"
	ActionUnsubscribeAlerts  = "unsubscribe_alerts"
	ActionQueryEvents        = "query_events"
	ActionStartReplay        = "start_replay"
	ActionStopReplay         = "stop_replay"
	ActionPing               = "ping"
)

// Server message types.
const (
	TypeResponse       = "response"
	TypeError          = "error"
	TypeEvent          = "event"
	TypeAlert          = "alert"
	TypeReplayEvent    = "replay_event"
	TypeReplayComplete = "replay_complete"
	TypePong           = "pong"
)

// ClientMessage is an inbound message from a connected client. Data is
// decoded per action; RequestID, when supplied, is echoed on every response
// so the client can correlate replies on a fan-out channel.
type ClientMessage struct {
	Action    string          `json:"action"`
	RequestID string          `json:"request_id,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// ServerMessage is any outbound message to a client.
type ServerMessage struct {
	Type      string      `json:"type"`
	RequestID string      `json:"request_id,omitempty"`
	Data      interface{} `json:"data,omitempty"`
	Error     *ErrorBody  `json:"error,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
}

type ErrorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type subscribePayload struct {
	Sources []string `json:"sources,omitempty"`
	Types   []string `json:"types,omitempty"`
}

type devicesPayload struct {
	DeviceIDs []string `json:"device_ids,omitempty"`
}
