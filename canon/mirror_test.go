package canon

import (
	"errors"
	"testing"

	"github.com/go-playground/assert/v2"
)

func decodeTestMessage(t *testing.T, frame string) StateMessage {
	message, err := DecodeMessage([]byte(frame))
	assert.Equal(t, err, nil)
	assert.NotEqual(t, message, nil)
	return message
}

func TestMirror(t *testing.T) {
	changes := 0
	mirror := NewStateMirrorWithCallback(func(document Value, cursor *Cursor) {
		changes += 1
	})
	assert.Equal(t, mirror.Ready(), false)
	assert.Equal(t, mirror.Cursor() == nil, true)

	err := mirror.Apply(decodeTestMessage(t, `{"type":"snapshot","path":"/","value":{"count":0,"items":[]},"cursor":{"slot":5}}`))
	assert.Equal(t, err, nil)
	assert.Equal(t, mirror.Ready(), true)
	assert.Equal(t, mirror.Path(), "/")
	assert.Equal(t, mirror.Cursor().Slot, int64(5))
	assert.Equal(t, changes, 1)

	err = mirror.Apply(decodeTestMessage(t, `{"type":"update","cursor":{"slot":6},"patch":[{"op":"replace","path":"/count","value":42},{"op":"add","path":"/items/-","value":"a"}]}`))
	assert.Equal(t, err, nil)
	assert.Equal(t, mirror.Document().Equal(MustParseValue(`{"count":42,"items":["a"]}`)), true)
	assert.Equal(t, mirror.Cursor().Slot, int64(6))
	assert.Equal(t, changes, 2)

	count, found, err := mirror.Select("/count")
	assert.Equal(t, err, nil)
	assert.Equal(t, found, true)
	assert.Equal(t, count.String(), "42")

	// heartbeat
	err = mirror.Apply(decodeTestMessage(t, `{"type":"update","cursor":{"slot":7}}`))
	assert.Equal(t, err, nil)
	assert.Equal(t, mirror.Cursor().Slot, int64(7))
	assert.Equal(t, mirror.Document().Equal(MustParseValue(`{"count":42,"items":["a"]}`)), true)
	assert.Equal(t, changes, 2)

	// full replacement
	err = mirror.Apply(decodeTestMessage(t, `{"type":"update","cursor":{"slot":8},"snapshot":{"count":1}}`))
	assert.Equal(t, err, nil)
	assert.Equal(t, mirror.Document().Equal(MustParseValue(`{"count":1}`)), true)
	assert.Equal(t, changes, 3)
}

func TestMirrorPatchFailure(t *testing.T) {
	mirror := NewStateMirror()

	err := mirror.Apply(decodeTestMessage(t, `{"type":"snapshot","path":"/","value":{"count":0},"cursor":{"slot":1}}`))
	assert.Equal(t, err, nil)

	// the second operation fails so the first must not be applied either
	err = mirror.Apply(decodeTestMessage(t, `{"type":"update","cursor":{"slot":2},"patch":[{"op":"replace","path":"/count","value":5},{"op":"remove","path":"/missing"}]}`))
	var patchErr *PatchError
	assert.Equal(t, errors.As(err, &patchErr), true)
	assert.Equal(t, patchErr.Index, 1)
	assert.Equal(t, mirror.Document().Equal(MustParseValue(`{"count":0}`)), true)
	assert.Equal(t, mirror.Cursor().Slot, int64(1))
}

func TestMirrorSnapshotAndPatch(t *testing.T) {
	mirror := NewStateMirror()

	// when both are present the snapshot wins
	err := mirror.Apply(decodeTestMessage(t, `{"type":"update","cursor":{"slot":3},"snapshot":{"a":1},"patch":[{"op":"remove","path":"/a"}]}`))
	assert.Equal(t, err, nil)
	assert.Equal(t, mirror.Ready(), true)
	assert.Equal(t, mirror.Document().Equal(MustParseValue(`{"a":1}`)), true)
}

func TestMirrorDocumentsAreImmutable(t *testing.T) {
	documents := []Value{}
	mirror := NewStateMirrorWithCallback(func(document Value, cursor *Cursor) {
		documents = append(documents, document)
	})

	mirror.Apply(decodeTestMessage(t, `{"type":"snapshot","path":"/","value":{"n":[1]},"cursor":{"slot":1}}`))
	mirror.Apply(decodeTestMessage(t, `{"type":"update","cursor":{"slot":2},"patch":[{"op":"add","path":"/n/-","value":2}]}`))
	mirror.Apply(decodeTestMessage(t, `{"type":"update","cursor":{"slot":3},"patch":[{"op":"remove","path":"/n/0"}]}`))

	assert.Equal(t, len(documents), 3)
	// patches apply to a copy so earlier documents are unchanged
	assert.Equal(t, documents[0].Equal(MustParseValue(`{"n":[1]}`)), true)
	assert.Equal(t, documents[1].Equal(MustParseValue(`{"n":[1,2]}`)), true)
	assert.Equal(t, documents[2].Equal(MustParseValue(`{"n":[2]}`)), true)
}
