package wire

import (
	"encoding/json"
	"fmt"
	"time"
)

// Reserved control types. Any other type value is an application event.
const (
	TypePing         = "ping"
	TypePong         = "pong"
	TypeSubscribe    = "subscribe"
	TypeUnsubscribe  = "unsubscribe"
	TypeAuthenticate = "authenticate"
)

// Kind classifies a decoded message into one of the control variants or the
// open application-event variant.
type Kind int

const (
	KindEvent Kind = iota
	KindPing
	KindPong
	KindSubscribe
	KindUnsubscribe
	KindAuthenticate
)

// String returns a log-friendly name for the kind.
func (k Kind) String() string {
	switch k {
	case KindEvent:
		return "event"
	case KindPing:
		return "ping"
	case KindPong:
		return "pong"
	case KindSubscribe:
		return "subscribe"
	case KindUnsubscribe:
		return "unsubscribe"
	case KindAuthenticate:
		return "authenticate"
	default:
		return "unknown"
	}
}

// Message is the wire envelope. Payload is kept raw: the protocol layer never
// interprets application event payloads.
type Message struct {
	Type      string          `json:"type"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Channel   string          `json:"channel,omitempty"`
	Timestamp string          `json:"timestamp,omitempty"`
}

// Kind returns the control classification for the message type.
func (m Message) Kind() Kind {
	switch m.Type {
	case TypePing:
		return KindPing
	case TypePong:
		return KindPong
	case TypeSubscribe:
		return KindSubscribe
	case TypeUnsubscribe:
		return KindUnsubscribe
	case TypeAuthenticate:
		return KindAuthenticate
	default:
		return KindEvent
	}
}

// IsControl reports whether the message type is reserved for the protocol.
func (m Message) IsControl() bool {
	return m.Kind() != KindEvent
}

// SubscribePayload is the payload carried by subscribe and unsubscribe frames.
type SubscribePayload struct {
	Channel string `json:"channel"`
}

// AuthPayload is the payload carried by authenticate frames.
type AuthPayload struct {
	Token string `json:"token"`
}

// Now returns the current UTC time in the wire timestamp format.
func Now() string {
	return time.Now().UTC().Format(time.RFC3339Nano)
}

// NewPing builds a ping control frame.
func NewPing() Message {
	return Message{Type: TypePing, Timestamp: Now()}
}

// NewPong builds a pong control frame.
func NewPong() Message {
	return Message{Type: TypePong, Timestamp: Now()}
}

// NewSubscribe builds a subscribe control frame for a channel.
func NewSubscribe(channel string) Message {
	payload, _ := json.Marshal(SubscribePayload{Channel: channel})
	return Message{Type: TypeSubscribe, Payload: payload, Timestamp: Now()}
}

// NewUnsubscribe builds an unsubscribe control frame for a channel.
func NewUnsubscribe(channel string) Message {
	payload, _ := json.Marshal(SubscribePayload{Channel: channel})
	return Message{Type: TypeUnsubscribe, Payload: payload, Timestamp: Now()}
}

// NewAuthenticate builds an authenticate control frame carrying an identity
// token.
func NewAuthenticate(token string) Message {
	payload, _ := json.Marshal(AuthPayload{Token: token})
	return Message{Type: TypeAuthenticate, Payload: payload, Timestamp: Now()}
}

// NewEvent builds an application event frame. The payload is marshalled once
// here and carried as raw bytes from then on.
func NewEvent(eventType, channel string, payload any) (Message, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Message{}, fmt.Errorf("marshal payload: %w", err)
	}
	return Message{Type: eventType, Channel: channel, Payload: raw, Timestamp: Now()}, nil
}
