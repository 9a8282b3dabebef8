package canon

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"
)

type StateFormat string

const (
	// the raw value at the path
	StateFormatValue StateFormat = "value"
	// the value wrapped with path, cursor, reducer version and update time
	StateFormatEnvelope StateFormat = "envelope"
)

// position in the change history of the state.
// Cursors seen by one subscriber are non-decreasing, which the server upholds.
// The size of a cursor step says nothing about the size of a change.
type Cursor struct {
	Slot int64 `json:"slot"`
}

func (self *Cursor) String() string {
	if self == nil {
		return "none"
	}
	return fmt.Sprintf("slot(%d)", self.Slot)
}

func CursorLessThan(a *Cursor, b *Cursor) bool {
	if a == nil {
		return b != nil
	}
	if b == nil {
		return false
	}
	return a.Slot < b.Slot
}

type StateEnvelope struct {
	Path           string  `json:"path"`
	Value          Value   `json:"value"`
	Cursor         *Cursor `json:"cursor,omitempty"`
	ReducerVersion *string `json:"reducer_version,omitempty"`
	UpdatedAt      string  `json:"updated_at,omitempty"`
}

func (self *StateEnvelope) UpdatedTime() (time.Time, error) {
	return parseUpdatedAt(self.UpdatedAt)
}

func parseUpdatedAt(updatedAt string) (time.Time, error) {
	if updatedAt == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.RFC3339Nano, updatedAt)
}

type MessageType string

const (
	MessageTypeSnapshot MessageType = "snapshot"
	MessageTypeUpdate   MessageType = "update"
)

// `*SnapshotMessage` or `*UpdateMessage`
type StateMessage interface {
	MessageType() MessageType
	MessageCursor() *Cursor
	isStateMessage()
}

// the full document at a path. Always safe to apply by replacement.
type SnapshotMessage struct {
	Path           string
	Value          Value
	Cursor         *Cursor
	ReducerVersion *string
	UpdatedAt      string
}

func (self *SnapshotMessage) MessageType() MessageType {
	return MessageTypeSnapshot
}

func (self *SnapshotMessage) MessageCursor() *Cursor {
	return self.Cursor
}

func (self *SnapshotMessage) isStateMessage() {}

func (self *SnapshotMessage) Envelope() *StateEnvelope {
	return &StateEnvelope{
		Path:           self.Path,
		Value:          self.Value,
		Cursor:         self.Cursor,
		ReducerVersion: self.ReducerVersion,
		UpdatedAt:      self.UpdatedAt,
	}
}

// an incremental change. At most one of `Patch` or `Snapshot` is expected.
// When the server sends both, `Snapshot` wins since full replacement is always safe.
// With neither the message is a heartbeat that only advances the cursor.
type UpdateMessage struct {
	Cursor    *Cursor
	UpdatedAt string
	Patch     []PatchOperation
	// nil when absent. A json `null` snapshot is a non-nil null value
	Snapshot *Value
}

func (self *UpdateMessage) MessageType() MessageType {
	return MessageTypeUpdate
}

func (self *UpdateMessage) MessageCursor() *Cursor {
	return self.Cursor
}

func (self *UpdateMessage) isStateMessage() {}

func (self *UpdateMessage) IsHeartbeat() bool {
	return self.Snapshot == nil && self.Patch == nil
}

// the wire form of both message types
type stateMessageJson struct {
	Type           MessageType     `json:"type"`
	Path           string          `json:"path,omitempty"`
	Value          json.RawMessage `json:"value,omitempty"`
	Cursor         *Cursor         `json:"cursor,omitempty"`
	ReducerVersion *string         `json:"reducer_version,omitempty"`
	UpdatedAt      string          `json:"updated_at,omitempty"`
	Patch          json.RawMessage `json:"patch,omitempty"`
	Snapshot       json.RawMessage `json:"snapshot,omitempty"`
}

// Decodes one subscription frame.
// Frames that are not a json object are a `*DecodeError`.
// Frames with a missing or unknown `type` return `nil, nil`
// and are treated as a no-op so that newer servers can add message types.
func DecodeMessage(data []byte) (StateMessage, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return nil, &DecodeError{Message: "Message is not a json object"}
	}

	var messageJson stateMessageJson
	if err := json.Unmarshal(trimmed, &messageJson); err != nil {
		return nil, &DecodeError{Message: "Failed to parse message", Err: err}
	}

	switch messageJson.Type {
	case MessageTypeSnapshot:
		message := &SnapshotMessage{
			Path:           messageJson.Path,
			Cursor:         messageJson.Cursor,
			ReducerVersion: messageJson.ReducerVersion,
			UpdatedAt:      messageJson.UpdatedAt,
		}
		if 0 < len(messageJson.Value) {
			value, err := ParseValue(messageJson.Value)
			if err != nil {
				return nil, &DecodeError{Message: "Bad snapshot value", Err: err}
			}
			message.Value = value
		}
		return message, nil
	case MessageTypeUpdate:
		message := &UpdateMessage{
			Cursor:    messageJson.Cursor,
			UpdatedAt: messageJson.UpdatedAt,
		}
		if 0 < len(messageJson.Patch) && !isJsonNull(messageJson.Patch) {
			patch := []PatchOperation{}
			if err := json.Unmarshal(messageJson.Patch, &patch); err != nil {
				return nil, &DecodeError{Message: "Bad update patch", Err: err}
			}
			message.Patch = patch
		}
		if 0 < len(messageJson.Snapshot) {
			snapshot, err := ParseValue(messageJson.Snapshot)
			if err != nil {
				return nil, &DecodeError{Message: "Bad update snapshot", Err: err}
			}
			message.Snapshot = &snapshot
		}
		return message, nil
	default:
		return nil, nil
	}
}

func EncodeMessage(message StateMessage) ([]byte, error) {
	switch v := message.(type) {
	case *SnapshotMessage:
		valueBytes, err := v.Value.MarshalJSON()
		if err != nil {
			return nil, err
		}
		return json.Marshal(&stateMessageJson{
			Type:           MessageTypeSnapshot,
			Path:           v.Path,
			Value:          valueBytes,
			Cursor:         v.Cursor,
			ReducerVersion: v.ReducerVersion,
			UpdatedAt:      v.UpdatedAt,
		})
	case *UpdateMessage:
		messageJson := &stateMessageJson{
			Type:      MessageTypeUpdate,
			Cursor:    v.Cursor,
			UpdatedAt: v.UpdatedAt,
		}
		if v.Patch != nil {
			patchBytes, err := json.Marshal(v.Patch)
			if err != nil {
				return nil, err
			}
			messageJson.Patch = patchBytes
		}
		if v.Snapshot != nil {
			snapshotBytes, err := v.Snapshot.MarshalJSON()
			if err != nil {
				return nil, err
			}
			messageJson.Snapshot = snapshotBytes
		}
		return json.Marshal(messageJson)
	default:
		return nil, fmt.Errorf("Unknown message %T", message)
	}
}

func isJsonNull(raw json.RawMessage) bool {
	return string(bytes.TrimSpace(raw)) == "null"
}
