package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

var (
	ErrInvalidMessage = errors.New("invalid message")
	ErrUnknownType    = errors.New("unknown message type")
)

// Decode parses and validates an inbound message. Errors wrap
// ErrInvalidMessage or ErrUnknownType.
func Decode(v Variant, data []byte) (*OperationMessage, Event, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || data[0] != '{' {
		return nil, EventUnknown, fmt.Errorf("%w: message must be a JSON object", ErrInvalidMessage)
	}

	raw := map[string]json.RawMessage{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, EventUnknown, fmt.Errorf("%w: %s", ErrInvalidMessage, err)
	}

	msg := &OperationMessage{}

	typeField, ok := raw["type"]
	if !ok || isNull(typeField) {
		return nil, EventUnknown, fmt.Errorf("%w: message is missing the 'type' property", ErrInvalidMessage)
	}
	if err := json.Unmarshal(typeField, &msg.Type); err != nil || msg.Type == "" {
		return nil, EventUnknown, fmt.Errorf("%w: message expects the 'type' property to be a non-empty string", ErrInvalidMessage)
	}

	if idField, ok := raw["id"]; ok && !isNull(idField) {
		if err := json.Unmarshal(idField, &msg.ID); err != nil {
			return msg, EventUnknown, fmt.Errorf("%w: message expects the 'id' property to be a string", ErrInvalidMessage)
		}
	}

	if payload, ok := raw["payload"]; ok && !isNull(payload) {
		msg.Payload = payload
	}

	event := v.Event(msg.Type)
	if event == EventUnknown {
		return msg, EventUnknown, fmt.Errorf("%w %q", ErrUnknownType, msg.Type)
	}

	if event.OperationScoped() && msg.ID == "" {
		return msg, event, fmt.Errorf("%w: %q message requires a non-empty 'id' property", ErrInvalidMessage, msg.Type)
	}

	switch event {
	case EventConnectionInit, EventPing, EventPong:
		if msg.HasPayload() && msg.Payload[0] != '{' {
			return msg, event, fmt.Errorf("%w: %q message expects the 'payload' property to be an object or missing", ErrInvalidMessage, msg.Type)
		}
	}

	return msg, event, nil
}

// DecodeSubscribePayload parses a subscribe/start payload. The query must be
// a non-empty string.
func DecodeSubscribePayload(msg *OperationMessage) (*SubscribePayload, error) {
	if !msg.HasPayload() {
		return nil, fmt.Errorf("%q message is missing the 'payload' property", msg.Type)
	}

	payload := &SubscribePayload{}
	if err := json.Unmarshal(msg.Payload, payload); err != nil {
		return nil, fmt.Errorf("%q message has an invalid payload: %s", msg.Type, err)
	}

	if payload.Query == "" {
		return nil, fmt.Errorf("%q message payload requires a non-empty 'query' string", msg.Type)
	}

	return payload, nil
}

// NewMessage builds an outbound message for an event
func NewMessage(v Variant, e Event, id string, payload interface{}) (*OperationMessage, error) {
	t, ok := v.MessageType(e)
	if !ok {
		return nil, fmt.Errorf("%s has no %s message", v.Subprotocol(), e)
	}

	msg := &OperationMessage{
		Type: t,
	}

	if e.OperationScoped() {
		msg.ID = id
	}

	if payload != nil {
		switch p := payload.(type) {
		case json.RawMessage:
			if len(p) > 0 {
				msg.Payload = p
			}
		default:
			b, err := json.Marshal(payload)
			if err != nil {
				return nil, fmt.Errorf("failed to encode %s payload: %w", e, err)
			}
			if !isNull(b) {
				msg.Payload = b
			}
		}
	}

	return msg, nil
}

// Encode serializes a message
func Encode(msg *OperationMessage) ([]byte, error) {
	return json.Marshal(msg)
}

func isNull(b json.RawMessage) bool {
	return string(bytes.TrimSpace(b)) == "null"
}
