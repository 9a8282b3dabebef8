package canon

import (
	"errors"
	"testing"
	"time"

	"github.com/go-playground/assert/v2"
)

func TestDecodeSnapshot(t *testing.T) {
	message, err := DecodeMessage([]byte(`{"type":"snapshot","path":"/","value":{"count":1},"cursor":{"slot":5},"reducer_version":"v2","updated_at":"2026-01-02T03:04:05Z"}`))
	assert.Equal(t, err, nil)
	snapshot, ok := message.(*SnapshotMessage)
	assert.Equal(t, ok, true)
	assert.Equal(t, snapshot.MessageType(), MessageTypeSnapshot)
	assert.Equal(t, snapshot.Path, "/")
	assert.Equal(t, snapshot.Value.String(), `{"count":1}`)
	assert.Equal(t, snapshot.Cursor.Slot, int64(5))
	assert.Equal(t, *snapshot.ReducerVersion, "v2")

	updatedAt, err := snapshot.Envelope().UpdatedTime()
	assert.Equal(t, err, nil)
	assert.Equal(t, updatedAt.Equal(time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)), true)

	// optional fields
	message, err = DecodeMessage([]byte(`{"type":"snapshot","path":"/a","value":null}`))
	assert.Equal(t, err, nil)
	snapshot = message.(*SnapshotMessage)
	assert.Equal(t, snapshot.Value.IsNull(), true)
	assert.Equal(t, snapshot.Cursor == nil, true)
	assert.Equal(t, snapshot.ReducerVersion == nil, true)
}

func TestDecodeUpdate(t *testing.T) {
	message, err := DecodeMessage([]byte(`{"type":"update","cursor":{"slot":6},"patch":[{"op":"replace","path":"/count","value":42}]}`))
	assert.Equal(t, err, nil)
	update, ok := message.(*UpdateMessage)
	assert.Equal(t, ok, true)
	assert.Equal(t, update.MessageCursor().Slot, int64(6))
	assert.Equal(t, len(update.Patch), 1)
	assert.Equal(t, update.Patch[0].Op, PatchOpReplace)
	assert.Equal(t, update.Snapshot == nil, true)
	assert.Equal(t, update.IsHeartbeat(), false)

	message, err = DecodeMessage([]byte(`{"type":"update","cursor":{"slot":7},"snapshot":{"count":0}}`))
	assert.Equal(t, err, nil)
	update = message.(*UpdateMessage)
	assert.Equal(t, update.Snapshot.String(), `{"count":0}`)
	assert.Equal(t, update.Patch == nil, true)

	// a null snapshot is a replacement, not an absent field
	message, err = DecodeMessage([]byte(`{"type":"update","snapshot":null}`))
	assert.Equal(t, err, nil)
	update = message.(*UpdateMessage)
	assert.NotEqual(t, update.Snapshot, nil)
	assert.Equal(t, update.Snapshot.IsNull(), true)
	assert.Equal(t, update.IsHeartbeat(), false)

	message, err = DecodeMessage([]byte(`{"type":"update","cursor":{"slot":8}}`))
	assert.Equal(t, err, nil)
	update = message.(*UpdateMessage)
	assert.Equal(t, update.IsHeartbeat(), true)

	message, err = DecodeMessage([]byte(`{"type":"update","patch":null}`))
	assert.Equal(t, err, nil)
	assert.Equal(t, message.(*UpdateMessage).IsHeartbeat(), true)
}

func TestDecodeUnknownType(t *testing.T) {
	for _, frame := range []string{
		`{"type":"presence","users":3}`,
		`{"value":1}`,
	} {
		message, err := DecodeMessage([]byte(frame))
		assert.Equal(t, err, nil)
		assert.Equal(t, message, nil)
	}
}

func TestDecodeError(t *testing.T) {
	for _, frame := range []string{
		``,
		`not json`,
		`{"type":"snapshot"`,
		`42`,
		`[{"type":"snapshot"}]`,
		`{"type":"update","patch":{"op":"add"}}`,
		`{"type":"snapshot","cursor":{"slot":"x"}}`,
	} {
		message, err := DecodeMessage([]byte(frame))
		assert.Equal(t, message, nil)
		var decodeErr *DecodeError
		assert.Equal(t, errors.As(err, &decodeErr), true)
	}
}

func TestEncodeMessage(t *testing.T) {
	frames := []string{
		`{"type":"snapshot","path":"/","value":{"count":1},"cursor":{"slot":5}}`,
		`{"type":"update","cursor":{"slot":6},"patch":[{"op":"replace","path":"/count","value":42}]}`,
		`{"type":"update","snapshot":null}`,
	}
	for _, frame := range frames {
		message, err := DecodeMessage([]byte(frame))
		assert.Equal(t, err, nil)
		messageBytes, err := EncodeMessage(message)
		assert.Equal(t, err, nil)
		assert.Equal(t, string(messageBytes), frame)
	}
}

func TestCursorOrder(t *testing.T) {
	assert.Equal(t, CursorLessThan(nil, &Cursor{Slot: 0}), true)
	assert.Equal(t, CursorLessThan(&Cursor{Slot: 0}, nil), false)
	assert.Equal(t, CursorLessThan(nil, nil), false)
	assert.Equal(t, CursorLessThan(&Cursor{Slot: 4}, &Cursor{Slot: 5}), true)
	assert.Equal(t, CursorLessThan(&Cursor{Slot: 5}, &Cursor{Slot: 5}), false)
}
