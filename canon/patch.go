package canon

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// json patch (rfc 6902) over `Value`
// patch paths are json pointers (rfc 6901) relative to the root of the subscribed document,
// i.e. the `value` of the most recent snapshot

type PatchOp string

const (
	PatchOpAdd     PatchOp = "add"
	PatchOpRemove  PatchOp = "remove"
	PatchOpReplace PatchOp = "replace"
	PatchOpMove    PatchOp = "move"
	PatchOpCopy    PatchOp = "copy"
	PatchOpTest    PatchOp = "test"
)

type PatchOperation struct {
	Op   PatchOp
	Path string
	From string
	// `HasValue` distinguishes an explicit json `null` value from an absent value
	Value    Value
	HasValue bool
}

func NewPatchOperation(op PatchOp, path string, value Value) PatchOperation {
	return PatchOperation{
		Op:       op,
		Path:     path,
		Value:    value,
		HasValue: true,
	}
}

type patchOperationJson struct {
	Op    PatchOp         `json:"op"`
	Path  string          `json:"path"`
	From  string          `json:"from,omitempty"`
	Value json.RawMessage `json:"value,omitempty"`
}

func (self PatchOperation) MarshalJSON() ([]byte, error) {
	opJson := patchOperationJson{
		Op:   self.Op,
		Path: self.Path,
		From: self.From,
	}
	if self.HasValue {
		valueBytes, err := self.Value.MarshalJSON()
		if err != nil {
			return nil, err
		}
		opJson.Value = valueBytes
	}
	return json.Marshal(opJson)
}

func (self *PatchOperation) UnmarshalJSON(data []byte) error {
	var opJson patchOperationJson
	if err := json.Unmarshal(data, &opJson); err != nil {
		return err
	}
	*self = PatchOperation{
		Op:   opJson.Op,
		Path: opJson.Path,
		From: opJson.From,
	}
	if 0 < len(opJson.Value) {
		value, err := ParseValue(opJson.Value)
		if err != nil {
			return err
		}
		self.Value = value
		self.HasValue = true
	}
	return nil
}

func (self PatchOperation) String() string {
	switch self.Op {
	case PatchOpMove, PatchOpCopy:
		return fmt.Sprintf("%s %s -> %s", self.Op, self.From, self.Path)
	default:
		return fmt.Sprintf("%s %s", self.Op, self.Path)
	}
}

type PatchError struct {
	// index of the failing operation
	Index     int
	Operation PatchOperation
	Err       error
}

func (self *PatchError) Error() string {
	return fmt.Sprintf("Patch operation %d (%s) failed: %s", self.Index, self.Operation, self.Err)
}

func (self *PatchError) Unwrap() error {
	return self.Err
}

func (self *PatchError) Is(target error) bool {
	return target == ErrCanon
}

// Applies all operations in order to a copy of `doc`.
// The patch is atomic: on error the returned value is `doc` itself and `doc` is not modified.
func ApplyPatch(doc Value, ops []PatchOperation) (Value, error) {
	result := doc.Clone()
	for i, op := range ops {
		var err error
		result, err = applyPatchOperation(result, op)
		if err != nil {
			return doc, &PatchError{
				Index:     i,
				Operation: op,
				Err:       err,
			}
		}
	}
	return result, nil
}

func applyPatchOperation(doc Value, op PatchOperation) (Value, error) {
	tokens, err := ParsePointer(op.Path)
	if err != nil {
		return doc, err
	}

	switch op.Op {
	case PatchOpAdd:
		if !op.HasValue {
			return doc, errors.New("Missing value")
		}
		return pointerAdd(doc, tokens, op.Value.Clone())
	case PatchOpRemove:
		doc, _, err = pointerRemove(doc, tokens)
		return doc, err
	case PatchOpReplace:
		if !op.HasValue {
			return doc, errors.New("Missing value")
		}
		return pointerReplace(doc, tokens, op.Value.Clone())
	case PatchOpMove:
		fromTokens, err := ParsePointer(op.From)
		if err != nil {
			return doc, err
		}
		if op.From == op.Path {
			// must still exist
			_, err := pointerGet(doc, fromTokens)
			return doc, err
		}
		if isPointerPrefix(fromTokens, tokens) {
			return doc, fmt.Errorf("Cannot move %s into its own child %s", op.From, op.Path)
		}
		var value Value
		doc, value, err = pointerRemove(doc, fromTokens)
		if err != nil {
			return doc, err
		}
		return pointerAdd(doc, tokens, value)
	case PatchOpCopy:
		fromTokens, err := ParsePointer(op.From)
		if err != nil {
			return doc, err
		}
		value, err := pointerGet(doc, fromTokens)
		if err != nil {
			return doc, err
		}
		return pointerAdd(doc, tokens, value.Clone())
	case PatchOpTest:
		if !op.HasValue {
			return doc, errors.New("Missing value")
		}
		value, err := pointerGet(doc, tokens)
		if err != nil {
			return doc, err
		}
		if !value.Equal(op.Value) {
			return doc, fmt.Errorf("Test failed at %s", op.Path)
		}
		return doc, nil
	default:
		return doc, fmt.Errorf("Unknown op %q", op.Op)
	}
}

// rfc 6901. The empty pointer is the whole document
func ParsePointer(pointer string) ([]string, error) {
	if pointer == "" {
		return []string{}, nil
	}
	if !strings.HasPrefix(pointer, "/") {
		return nil, fmt.Errorf("Pointer must start with /: %q", pointer)
	}
	parts := strings.Split(pointer[1:], "/")
	tokens := make([]string, 0, len(parts))
	for _, part := range parts {
		token, err := unescapePointerToken(part)
		if err != nil {
			return nil, fmt.Errorf("%s in %q", err, pointer)
		}
		tokens = append(tokens, token)
	}
	return tokens, nil
}

func JoinPointer(tokens []string) string {
	var b strings.Builder
	for _, token := range tokens {
		b.WriteString("/")
		b.WriteString(strings.ReplaceAll(strings.ReplaceAll(token, "~", "~0"), "/", "~1"))
	}
	return b.String()
}

func unescapePointerToken(part string) (string, error) {
	if !strings.Contains(part, "~") {
		return part, nil
	}
	var b strings.Builder
	for i := 0; i < len(part); i += 1 {
		c := part[i]
		if c != '~' {
			b.WriteByte(c)
			continue
		}
		if len(part) <= i+1 {
			return "", errors.New("Bad escape")
		}
		switch part[i+1] {
		case '0':
			b.WriteByte('~')
		case '1':
			b.WriteByte('/')
		default:
			return "", errors.New("Bad escape")
		}
		i += 1
	}
	return b.String(), nil
}

// true if `prefix` is a proper prefix of `tokens`
func isPointerPrefix(prefix []string, tokens []string) bool {
	if len(tokens) <= len(prefix) {
		return false
	}
	for i, token := range prefix {
		if tokens[i] != token {
			return false
		}
	}
	return true
}

func pointerGet(doc Value, tokens []string) (Value, error) {
	current := doc
	for i, token := range tokens {
		switch current.kind {
		case KindObject:
			next, ok := current.object[token]
			if !ok {
				return Value{}, fmt.Errorf("Missing key at %s", JoinPointer(tokens[:i+1]))
			}
			current = next
		case KindArray:
			index, ok := parseArrayIndex(token, true)
			if !ok || len(current.array) <= index {
				return Value{}, fmt.Errorf("Invalid index at %s", JoinPointer(tokens[:i+1]))
			}
			current = current.array[index]
		default:
			return Value{}, fmt.Errorf("Cannot traverse %s at %s", current.kind, JoinPointer(tokens[:i+1]))
		}
	}
	return current, nil
}

// Calls `leaf` with the parent container of the last token and rebuilds the path back to the root.
// Containers below the root are modified in place; callers work on a clone.
func pointerModify(
	doc Value,
	tokens []string,
	leaf func(container Value, token string) (Value, error),
) (Value, error) {
	if len(tokens) == 1 {
		return leaf(doc, tokens[0])
	}
	token := tokens[0]
	switch doc.kind {
	case KindObject:
		child, ok := doc.object[token]
		if !ok {
			return doc, fmt.Errorf("Missing key %q", token)
		}
		nextChild, err := pointerModify(child, tokens[1:], leaf)
		if err != nil {
			return doc, err
		}
		doc.object[token] = nextChild
		return doc, nil
	case KindArray:
		index, ok := parseArrayIndex(token, true)
		if !ok || len(doc.array) <= index {
			return doc, fmt.Errorf("Invalid index %q", token)
		}
		nextChild, err := pointerModify(doc.array[index], tokens[1:], leaf)
		if err != nil {
			return doc, err
		}
		doc.array[index] = nextChild
		return doc, nil
	default:
		return doc, fmt.Errorf("Cannot traverse %s at %q", doc.kind, token)
	}
}

func pointerAdd(doc Value, tokens []string, value Value) (Value, error) {
	if len(tokens) == 0 {
		return value, nil
	}
	return pointerModify(doc, tokens, func(container Value, token string) (Value, error) {
		switch container.kind {
		case KindObject:
			container.object[token] = value
			return container, nil
		case KindArray:
			if token == "-" {
				container.array = append(container.array, value)
				return container, nil
			}
			index, ok := parseArrayIndex(token, true)
			if !ok || len(container.array) < index {
				return container, fmt.Errorf("Invalid index %q", token)
			}
			array := make([]Value, 0, len(container.array)+1)
			array = append(array, container.array[:index]...)
			array = append(array, value)
			array = append(array, container.array[index:]...)
			container.array = array
			return container, nil
		default:
			return container, fmt.Errorf("Cannot add into %s", container.kind)
		}
	})
}

func pointerRemove(doc Value, tokens []string) (Value, Value, error) {
	if len(tokens) == 0 {
		return doc, Value{}, errors.New("Cannot remove the document root")
	}
	var removed Value
	nextDoc, err := pointerModify(doc, tokens, func(container Value, token string) (Value, error) {
		switch container.kind {
		case KindObject:
			value, ok := container.object[token]
			if !ok {
				return container, fmt.Errorf("Missing key %q", token)
			}
			removed = value
			delete(container.object, token)
			return container, nil
		case KindArray:
			index, ok := parseArrayIndex(token, true)
			if !ok || len(container.array) <= index {
				return container, fmt.Errorf("Invalid index %q", token)
			}
			removed = container.array[index]
			array := make([]Value, 0, len(container.array)-1)
			array = append(array, container.array[:index]...)
			array = append(array, container.array[index+1:]...)
			container.array = array
			return container, nil
		default:
			return container, fmt.Errorf("Cannot remove from %s", container.kind)
		}
	})
	return nextDoc, removed, err
}

func pointerReplace(doc Value, tokens []string, value Value) (Value, error) {
	if len(tokens) == 0 {
		return value, nil
	}
	return pointerModify(doc, tokens, func(container Value, token string) (Value, error) {
		switch container.kind {
		case KindObject:
			if _, ok := container.object[token]; !ok {
				return container, fmt.Errorf("Missing key %q", token)
			}
			container.object[token] = value
			return container, nil
		case KindArray:
			index, ok := parseArrayIndex(token, true)
			if !ok || len(container.array) <= index {
				return container, fmt.Errorf("Invalid index %q", token)
			}
			container.array[index] = value
			return container, nil
		default:
			return container, fmt.Errorf("Cannot replace in %s", container.kind)
		}
	})
}
