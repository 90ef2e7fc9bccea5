package domain

import "encoding/json"

// Frame type constants for the JSON wire protocol. Control frames are owned
// by this layer; event frames are routed to consumers opaquely.
const (
	// Outbound control
	FrameAuthenticate = "authenticate"
	FrameSubscribe    = "subscribe"
	FrameUnsubscribe  = "unsubscribe"
	FramePing         = "ping"
	FramePong         = "pong"

	// Inbound control
	FrameAuthSuccess = "authentication_success"
	FrameAuthFailed  = "authentication_failed"
	FrameAuthError   = "auth_error"
	FrameSubscribed  = "subscribed"

	// Inbound domain events (opaque payloads, consumer-owned)
	FrameConversationProgress  = "conversation_progress"
	FrameConversationCompleted = "conversation_completed"
	FrameConversationFailed    = "conversation_failed"
	FrameAudioProcessed        = "audio_processed"
	FrameAudioFailed           = "audio_failed"
)

// Frame is one JSON message on the duplex channel.
type Frame struct {
	Type    string          `json:"type"`
	Topic   string          `json:"topic,omitempty"`
	ID      string          `json:"id,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// IsControl reports whether the frame is ephemeral transport control traffic.
// Control frames are never persisted to the outbox.
func (f Frame) IsControl() bool {
	switch f.Type {
	case FrameAuthenticate, FramePing, FramePong:
		return true
	}
	return false
}

// AuthenticateFrame builds the post-connect authentication frame.
func AuthenticateFrame(token string) Frame {
	payload, _ := json.Marshal(map[string]string{"token": token})
	return Frame{Type: FrameAuthenticate, Payload: payload}
}

// SubscribeFrame builds a topic subscription frame.
func SubscribeFrame(topic string) Frame {
	return Frame{Type: FrameSubscribe, Topic: topic, Payload: json.RawMessage(`{}`)}
}

// UnsubscribeFrame builds a topic unsubscription frame.
func UnsubscribeFrame(topic string) Frame {
	return Frame{Type: FrameUnsubscribe, Topic: topic, Payload: json.RawMessage(`{}`)}
}

// PingFrame builds a keep-alive probe with a correlation id.
func PingFrame(id string) Frame {
	return Frame{Type: FramePing, ID: id, Payload: json.RawMessage(`{}`)}
}

// PongFrame answers a server ping, echoing its correlation id.
func PongFrame(id string) Frame {
	return Frame{Type: FramePong, ID: id, Payload: json.RawMessage(`{}`)}
}
