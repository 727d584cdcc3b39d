package realtime

import (
	"encoding/json"
	"errors"
	"fmt"
)

// The feed speaks a typed envelope protocol: every frame is
// {"type": ..., "payload": {...}} and the payload schema is fixed per type.
// Frames with an unknown type or a payload that does not decode are
// rejected, never half-applied.

// ErrUnknownEventType is returned by Decode for frame types the client
// does not understand.
var ErrUnknownEventType = errors.New("unknown event type")

// Envelope is the wire format for all feed frames.
type Envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// Frame types.
const (
	TypeMessageNew    = "message.new"
	TypeMessageStatus = "message.status"
)

// MessageEvent is the payload of "message.new": a full server message
// record pushed as it is created.
type MessageEvent struct {
	ID        int64  `json:"id"`
	ChatID    int64  `json:"chat_id"`
	SenderID  int64  `json:"sender_id"`
	Content   string `json:"content"`
	Type      string `json:"type"`
	Status    string `json:"status"`
	CreatedAt string `json:"created_at"`
}

// StatusEvent is the payload of "message.status": a delivery/read receipt
// for an already-known message.
type StatusEvent struct {
	ChatID int64  `json:"chat_id"`
	ID     int64  `json:"id"`
	Status string `json:"status"`
}

// Decode parses a raw frame into its typed event. Returns
// ErrUnknownEventType for types this client does not handle.
func Decode(data []byte) (any, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("decode envelope: %w", err)
	}

	switch env.Type {
	case TypeMessageNew:
		var evt MessageEvent
		if err := json.Unmarshal(env.Payload, &evt); err != nil {
			return nil, fmt.Errorf("decode %s payload: %w", env.Type, err)
		}
		if evt.ID == 0 || evt.ChatID == 0 {
			return nil, fmt.Errorf("%s payload missing id or chat_id", env.Type)
		}
		return &evt, nil
	case TypeMessageStatus:
		var evt StatusEvent
		if err := json.Unmarshal(env.Payload, &evt); err != nil {
			return nil, fmt.Errorf("decode %s payload: %w", env.Type, err)
		}
		if evt.ID == 0 || evt.ChatID == 0 {
			return nil, fmt.Errorf("%s payload missing id or chat_id", env.Type)
		}
		return &evt, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownEventType, env.Type)
	}
}
