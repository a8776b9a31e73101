package transfer

import (
	"errors"
	"fmt"
)

var (
	ErrHandshakeFailure = errors.New("handshake failure")
	ErrSignalingError   = errors.New("signaling server error")
	ErrTimeout          = errors.New("timeout")
	ErrChannelClosed    = errors.New("channel closed")
	ErrChannelNotOpen   = errors.New("channel not open")
	ErrBufferTimeout    = errors.New("buffer drain timeout")
	ErrEmptyPayload     = errors.New("empty payload")
)

// Error records the operation that failed around a sentinel or lower error.
type Error struct {
	Op      string
	Err     error
	Details string
}

func (e *Error) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("%s: %v (%s)", e.Op, e.Err, e.Details)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func NewError(op string, err error) *Error {
	return &Error{Op: op, Err: err}
}

func WrapError(op string, err error, details string) *Error {
	return &Error{Op: op, Err: err, Details: details}
}
