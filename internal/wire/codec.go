package wire

import (
	"encoding/json"
	"errors"
	"fmt"
)

var (
	// ErrMalformed reports a frame that does not match the envelope shape.
	ErrMalformed = errors.New("malformed frame")

	// ErrReserved reports an application send using a protocol control type.
	ErrReserved = errors.New("reserved control type")
)

// Decode parses and validates a raw frame.
//
// A frame is well-formed when it is a JSON object whose "type" is a non-empty
// string and, for subscribe/unsubscribe frames, whose payload carries a
// non-empty channel. Timestamps are not required on inbound frames. Anything
// else fails with an error wrapping ErrMalformed.
func Decode(data []byte) (Message, error) {
	var m Message
	if err := json.Unmarshal(data, &m); err != nil {
		return Message{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if m.Type == "" {
		return Message{}, fmt.Errorf("%w: missing type", ErrMalformed)
	}

	switch m.Kind() {
	case KindSubscribe, KindUnsubscribe:
		var p SubscribePayload
		if err := json.Unmarshal(m.Payload, &p); err != nil || p.Channel == "" {
			return Message{}, fmt.Errorf("%w: %s frame without channel payload", ErrMalformed, m.Type)
		}
	}

	return m, nil
}

// Encode serializes a message for transmission, stamping the timestamp if the
// caller left it unset. Anything the envelope cannot carry, a missing type or
// a payload that is not valid JSON, fails with an error wrapping ErrMalformed.
func Encode(m Message) ([]byte, error) {
	if m.Type == "" {
		return nil, fmt.Errorf("%w: missing type", ErrMalformed)
	}
	if m.Timestamp == "" {
		m.Timestamp = Now()
	}
	data, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return data, nil
}
