package canon

import (
	"fmt"
	"strings"
)

// client-side traversal of a document that was already fetched or mirrored

// `path` is slash delimited. Empty segments, including leading and trailing, are ignored.
// Returns `found=false` without error when a null value or a missing object key is reached.
// Array index and scalar traversal problems are a `*PathError`.
func Select(value Value, path string) (Value, bool, error) {
	return selectSegments(value, SplitPath(path), path)
}

func SelectSegments(value Value, segments []string) (Value, bool, error) {
	return selectSegments(value, segments, strings.Join(segments, "/"))
}

func SplitPath(path string) []string {
	segments := []string{}
	for _, segment := range strings.Split(path, "/") {
		if segment != "" {
			segments = append(segments, segment)
		}
	}
	return segments
}

func selectSegments(value Value, segments []string, fullPath string) (Value, bool, error) {
	current := value
	for _, segment := range segments {
		switch current.Kind() {
		case KindNull:
			return Value{}, false, nil
		case KindArray:
			index, ok := parseArrayIndex(segment, false)
			if !ok || current.Len() <= index {
				return Value{}, false, &PathError{
					Message: fmt.Sprintf("Invalid array index: %s", segment),
					Segment: segment,
					Path:    fullPath,
				}
			}
			current, _ = current.Index(index)
		case KindObject:
			next, ok := current.Key(segment)
			if !ok {
				return Value{}, false, nil
			}
			current = next
		default:
			return Value{}, false, &PathError{
				Message: fmt.Sprintf("Cannot traverse non-object/array at segment: %s", segment),
				Segment: segment,
				Path:    fullPath,
			}
		}
	}
	return current, true, nil
}

// base-10 digits only, no sign.
// `strict` rejects leading zeros, as json pointers require. Otherwise they are ignored.
func parseArrayIndex(segment string, strict bool) (int, bool) {
	if segment == "" {
		return 0, false
	}
	if 1 < len(segment) && segment[0] == '0' {
		if strict {
			return 0, false
		}
		segment = strings.TrimLeft(segment, "0")
		if segment == "" {
			segment = "0"
		}
	}
	if 9 < len(segment) {
		return 0, false
	}
	index := 0
	for i := 0; i < len(segment); i += 1 {
		c := segment[i]
		if c < '0' || '9' < c {
			return 0, false
		}
		index = index*10 + int(c-'0')
	}
	return index, true
}
