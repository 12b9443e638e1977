package protocol

import (
	"errors"
	"fmt"
)

var (
	// ErrConnectionClosed is returned when the socket yields no bytes where
	// a raw packet was expected.
	ErrConnectionClosed = errors.New("connection closed")

	// ErrTruncatedPacket is returned when the socket closes before the
	// declared payload length has been received.
	ErrTruncatedPacket = errors.New("truncated packet")
)

// ParseError reports that the object decoder rejected the logical stream.
// The stream is desynchronized after a ParseError.
type ParseError struct {
	Err error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse failure: %v", e.Err)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// asParseError wraps decoder failures, leaving transport failures untouched.
func asParseError(err error) error {
	if errors.Is(err, ErrConnectionClosed) || errors.Is(err, ErrTruncatedPacket) {
		return err
	}
	var pe *ParseError
	if errors.As(err, &pe) {
		return err
	}
	return &ParseError{Err: err}
}

// ErrorKind classifies a read loop failure for logging and metrics.
func ErrorKind(err error) string {
	var pe *ParseError
	switch {
	case errors.Is(err, ErrTruncatedPacket):
		return "truncated_packet"
	case errors.Is(err, ErrConnectionClosed):
		return "connection_closed"
	case errors.As(err, &pe):
		return "parse_failure"
	default:
		return "unknown"
	}
}
