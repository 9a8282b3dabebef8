package canon

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"math/big"
	"strconv"

	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"
)

// the state document is schema-less. Values are decoded into a tree so that
// selection and patching never depend on `any` type switches at the call site

type Kind int

const (
	KindNull Kind = iota
	KindBool
	KindNumber
	KindString
	KindArray
	KindObject
)

func (self Kind) String() string {
	switch self {
	case KindNull:
		return "null"
	case KindBool:
		return "bool"
	case KindNumber:
		return "number"
	case KindString:
		return "string"
	case KindArray:
		return "array"
	case KindObject:
		return "object"
	default:
		return fmt.Sprintf("kind(%d)", int(self))
	}
}

// the zero value is json null
// numbers keep their decimal text so that large slot values and balances survive a round trip
type Value struct {
	kind   Kind
	b      bool
	n      json.Number
	s      string
	array  []Value
	object map[string]Value
}

func Null() Value {
	return Value{}
}

func Bool(b bool) Value {
	return Value{kind: KindBool, b: b}
}

func Number(n json.Number) Value {
	return Value{kind: KindNumber, n: n}
}

func Int(i int64) Value {
	return Number(json.Number(strconv.FormatInt(i, 10)))
}

func Float(f float64) Value {
	return Number(json.Number(strconv.FormatFloat(f, 'g', -1, 64)))
}

func String(s string) Value {
	return Value{kind: KindString, s: s}
}

// takes ownership of `values`
func Array(values ...Value) Value {
	if values == nil {
		values = []Value{}
	}
	return Value{kind: KindArray, array: values}
}

// takes ownership of `object`
func Object(object map[string]Value) Value {
	if object == nil {
		object = map[string]Value{}
	}
	return Value{kind: KindObject, object: object}
}

// converts plain go values, as produced by `encoding/json` into `any`, into a value
func NewValue(v any) (Value, error) {
	switch t := v.(type) {
	case nil:
		return Null(), nil
	case Value:
		return t.Clone(), nil
	case bool:
		return Bool(t), nil
	case json.Number:
		return Number(t), nil
	case string:
		return String(t), nil
	case int:
		return Int(int64(t)), nil
	case int32:
		return Int(int64(t)), nil
	case int64:
		return Int(t), nil
	case uint64:
		return Number(json.Number(strconv.FormatUint(t, 10))), nil
	case float32:
		return Float(float64(t)), nil
	case float64:
		if math.IsNaN(t) || math.IsInf(t, 0) {
			return Value{}, fmt.Errorf("Unsupported number %v", t)
		}
		return Float(t), nil
	case []any:
		array := make([]Value, 0, len(t))
		for _, e := range t {
			ev, err := NewValue(e)
			if err != nil {
				return Value{}, err
			}
			array = append(array, ev)
		}
		return Array(array...), nil
	case []Value:
		array := make([]Value, 0, len(t))
		for _, e := range t {
			array = append(array, e.Clone())
		}
		return Array(array...), nil
	case map[string]any:
		object := make(map[string]Value, len(t))
		for k, e := range t {
			ev, err := NewValue(e)
			if err != nil {
				return Value{}, err
			}
			object[k] = ev
		}
		return Object(object), nil
	case map[string]Value:
		object := make(map[string]Value, len(t))
		for k, e := range t {
			object[k] = e.Clone()
		}
		return Object(object), nil
	default:
		// fall back to a json round trip for structs and other encodable types
		b, err := json.Marshal(v)
		if err != nil {
			return Value{}, err
		}
		return ParseValue(b)
	}
}

func MustNewValue(v any) Value {
	value, err := NewValue(v)
	if err != nil {
		panic(err)
	}
	return value
}

func ParseValue(data []byte) (Value, error) {
	decoder := json.NewDecoder(bytes.NewReader(data))
	decoder.UseNumber()
	var v any
	if err := decoder.Decode(&v); err != nil {
		return Value{}, err
	}
	// trailing data after the first value is an error, as with `json.Unmarshal`
	if _, err := decoder.Token(); !errors.Is(err, io.EOF) {
		return Value{}, errors.New("Unexpected data after top-level value")
	}
	return NewValue(v)
}

func MustParseValue(data string) Value {
	value, err := ParseValue([]byte(data))
	if err != nil {
		panic(err)
	}
	return value
}

func (self Value) Kind() Kind {
	return self.kind
}

func (self Value) IsNull() bool {
	return self.kind == KindNull
}

func (self Value) IsContainer() bool {
	return self.kind == KindArray || self.kind == KindObject
}

func (self Value) Bool() (bool, bool) {
	return self.b, self.kind == KindBool
}

func (self Value) Number() (json.Number, bool) {
	return self.n, self.kind == KindNumber
}

func (self Value) Int64() (int64, bool) {
	if self.kind != KindNumber {
		return 0, false
	}
	i, err := self.n.Int64()
	if err != nil {
		return 0, false
	}
	return i, true
}

func (self Value) Float64() (float64, bool) {
	if self.kind != KindNumber {
		return 0, false
	}
	f, err := self.n.Float64()
	if err != nil {
		return 0, false
	}
	return f, true
}

// `String` is the string payload for string values.
// Use `MarshalJSON` for a json rendering of any value.
func (self Value) String() string {
	switch self.kind {
	case KindString:
		return self.s
	default:
		b, _ := self.MarshalJSON()
		return string(b)
	}
}

func (self Value) StringValue() (string, bool) {
	return self.s, self.kind == KindString
}

// number of elements for arrays, number of keys for objects, else 0
func (self Value) Len() int {
	switch self.kind {
	case KindArray:
		return len(self.array)
	case KindObject:
		return len(self.object)
	default:
		return 0
	}
}

func (self Value) Index(i int) (Value, bool) {
	if self.kind != KindArray || i < 0 || len(self.array) <= i {
		return Value{}, false
	}
	return self.array[i], true
}

func (self Value) Key(key string) (Value, bool) {
	if self.kind != KindObject {
		return Value{}, false
	}
	v, ok := self.object[key]
	return v, ok
}

// sorted keys
func (self Value) Keys() []string {
	if self.kind != KindObject {
		return nil
	}
	keys := make([]string, 0, len(self.object))
	for key := range self.object {
		keys = append(keys, key)
	}
	slices.Sort(keys)
	return keys
}

// the returned slice is a copy, elements are shared
func (self Value) Elements() []Value {
	if self.kind != KindArray {
		return nil
	}
	return slices.Clone(self.array)
}

func (self Value) Clone() Value {
	switch self.kind {
	case KindArray:
		array := make([]Value, len(self.array))
		for i, e := range self.array {
			array[i] = e.Clone()
		}
		return Value{kind: KindArray, array: array}
	case KindObject:
		object := maps.Clone(self.object)
		for k, e := range object {
			if e.IsContainer() {
				object[k] = e.Clone()
			}
		}
		return Value{kind: KindObject, object: object}
	default:
		return self
	}
}

// deep equality. Numbers compare by numeric value, so `1` equals `1.0`
func (self Value) Equal(other Value) bool {
	if self.kind != other.kind {
		return false
	}
	switch self.kind {
	case KindNull:
		return true
	case KindBool:
		return self.b == other.b
	case KindNumber:
		return numberEqual(self.n, other.n)
	case KindString:
		return self.s == other.s
	case KindArray:
		if len(self.array) != len(other.array) {
			return false
		}
		for i := range self.array {
			if !self.array[i].Equal(other.array[i]) {
				return false
			}
		}
		return true
	case KindObject:
		if len(self.object) != len(other.object) {
			return false
		}
		for k, e := range self.object {
			oe, ok := other.object[k]
			if !ok || !e.Equal(oe) {
				return false
			}
		}
		return true
	default:
		return false
	}
}

func numberEqual(a json.Number, b json.Number) bool {
	if a == b {
		return true
	}
	af, _, errA := big.ParseFloat(string(a), 10, 256, big.ToNearestEven)
	bf, _, errB := big.ParseFloat(string(b), 10, 256, big.ToNearestEven)
	if errA != nil || errB != nil {
		return false
	}
	return af.Cmp(bf) == 0
}

// plain go form, with `json.Number` numbers
func (self Value) Interface() any {
	switch self.kind {
	case KindNull:
		return nil
	case KindBool:
		return self.b
	case KindNumber:
		return self.n
	case KindString:
		return self.s
	case KindArray:
		array := make([]any, len(self.array))
		for i, e := range self.array {
			array[i] = e.Interface()
		}
		return array
	case KindObject:
		object := make(map[string]any, len(self.object))
		for k, e := range self.object {
			object[k] = e.Interface()
		}
		return object
	default:
		return nil
	}
}

// decodes into a typed go value using `encoding/json`
func (self Value) Decode(out any) error {
	b, err := self.MarshalJSON()
	if err != nil {
		return err
	}
	return json.Unmarshal(b, out)
}

// object keys are emitted in sorted order
func (self Value) MarshalJSON() ([]byte, error) {
	return json.Marshal(self.Interface())
}

func (self *Value) UnmarshalJSON(data []byte) error {
	value, err := ParseValue(data)
	if err != nil {
		return err
	}
	*self = value
	return nil
}
