package domain

import "time"

type MessageType string

const (
	MessageDataEvent   MessageType = "data-event"
	MessageTermination MessageType = "termination-signal"
)

// Termination reasons.
const (
	ReasonTimeout      = "timeout"
	ReasonUserGoodbye  = "user_goodbye"
	ReasonUserStop     = "user_stop"
	ReasonReplaced     = "replaced"
	ReasonShutdown     = "shutdown"
	ReasonAgentLeft    = "agent_left"
	ReasonTransportEnd = "transport_left"
)

// BroadcastMessage is the only shape pushed over the events channel.
type BroadcastMessage struct {
	Type      MessageType    `json:"type"`
	Timestamp int64          `json:"timestamp"`
	Payload   map[string]any `json:"payload"`
}

func NewDataEvent(at time.Time, payload map[string]any) BroadcastMessage {
	return BroadcastMessage{Type: MessageDataEvent, Timestamp: at.UnixMilli(), Payload: payload}
}

// NewTermination builds a termination signal. owner and sid may be empty
// when the termination applies to every client.
func NewTermination(at time.Time, reason string, owner OwnerID, sid ExternalSessionID) BroadcastMessage {
	payload := map[string]any{"reason": reason}
	if owner != "" {
		payload["owner_id"] = string(owner)
	}
	if sid != "" {
		payload["session_id"] = string(sid)
	}
	return BroadcastMessage{Type: MessageTermination, Timestamp: at.UnixMilli(), Payload: payload}
}

// Reason returns the termination reason, or "" for data events.
func (m BroadcastMessage) Reason() string {
	if m.Type != MessageTermination {
		return ""
	}
	r, _ := m.Payload["reason"].(string)
	return r
}

// Owner returns the owner a message is addressed to, "" when it is global.
func (m BroadcastMessage) Owner() OwnerID {
	o, _ := m.Payload["owner_id"].(string)
	return OwnerID(o)
}

func (m BroadcastMessage) SessionID() ExternalSessionID {
	s, _ := m.Payload["session_id"].(string)
	return ExternalSessionID(s)
}
