package canon

import (
	"errors"
	"fmt"
)

// every error raised by this package matches `ErrCanon` with `errors.Is`
var ErrCanon = errors.New("canon")

// an http request for state failed.
// `StatusCode` is 0 when the request never produced a response
type ApiError struct {
	Message    string
	StatusCode int
	// raw response body
	Body string
	Err  error
}

func (self *ApiError) Error() string {
	return self.Message
}

func (self *ApiError) Unwrap() error {
	return self.Err
}

func (self *ApiError) Is(target error) bool {
	return target == ErrCanon
}

// the subscription socket could not be established or reported an in-band error
type WebSocketError struct {
	Message string
	Err     error
}

func (self *WebSocketError) Error() string {
	if self.Err != nil {
		return fmt.Sprintf("%s: %s", self.Message, self.Err)
	}
	return self.Message
}

func (self *WebSocketError) Unwrap() error {
	return self.Err
}

func (self *WebSocketError) Is(target error) bool {
	return target == ErrCanon
}

// traversal of a document hit an out of range index or a scalar
type PathError struct {
	Message string
	// the offending segment
	Segment string
	// the full path as given by the caller
	Path string
}

func (self *PathError) Error() string {
	return fmt.Sprintf("%s (path %q)", self.Message, self.Path)
}

func (self *PathError) Is(target error) bool {
	return target == ErrCanon
}

// an inbound subscription frame could not be decoded
type DecodeError struct {
	Message string
	Err     error
}

func (self *DecodeError) Error() string {
	if self.Err != nil {
		return fmt.Sprintf("%s: %s", self.Message, self.Err)
	}
	return self.Message
}

func (self *DecodeError) Unwrap() error {
	return self.Err
}

func (self *DecodeError) Is(target error) bool {
	return target == ErrCanon
}

type NotImplementedError struct {
	Message string
}

func NewNotImplementedError(message string) *NotImplementedError {
	if message == "" {
		message = "This feature is not yet implemented"
	}
	return &NotImplementedError{
		Message: message,
	}
}

func (self *NotImplementedError) Error() string {
	return self.Message
}

func (self *NotImplementedError) Is(target error) bool {
	return target == ErrCanon
}
