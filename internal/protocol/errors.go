package protocol

import (
	"errors"
	"fmt"
)

// ErrConnectionLost reports that the byte source closed or failed mid-read.
// It is never a protocol error; the pipeline reconnects on it.
var ErrConnectionLost = errors.New("connection lost")

// UnknownFrameError reports a frame header that did not match the expected shape.
// The demultiplexer stays in the header state; the raw header bytes are kept for logging.
type UnknownFrameError struct {
	Header []byte
	Reason string
}

func (e *UnknownFrameError) Error() string {
	return fmt.Sprintf("unknown frame: %s", e.Reason)
}

// IsUnknownFrame reports whether err is, or wraps, an UnknownFrameError
func IsUnknownFrame(err error) bool {
	var unknown *UnknownFrameError
	return errors.As(err, &unknown)
}

// connectionLost wraps the underlying read error, if any, with ErrConnectionLost
func connectionLost(stage string, err error) error {
	if err == nil {
		return fmt.Errorf("%w: zero-length read while reading %s", ErrConnectionLost, stage)
	}
	return fmt.Errorf("%w: reading %s: %w", ErrConnectionLost, stage, err)
}
