package message

import (
	"errors"
	"fmt"
)

// Decode failure kinds. Each failure affects only the message being decoded.
var (
	ErrMalformedMessage = errors.New("malformed message")
	ErrMissingField     = errors.New("missing field")
	ErrInvalidEncoding  = errors.New("invalid encoding")
	ErrShapeMismatch    = errors.New("shape mismatch")
)

// DecodeError describes why a message could not be decoded
type DecodeError struct {
	Kind  error  // One of the Err* sentinels above
	Field string // JSON key involved, empty for document-level failures
	Err   error  // Underlying cause, may be nil
}

func (e *DecodeError) Error() string {
	msg := e.Kind.Error()
	if e.Field != "" {
		msg = fmt.Sprintf("%s %q", msg, e.Field)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

// Unwrap exposes both the kind and the cause to errors.Is / errors.As
func (e *DecodeError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// ErrorKind returns a short label for a decode failure, used for logs and metrics
func ErrorKind(err error) string {
	switch {
	case errors.Is(err, ErrMalformedMessage):
		return "malformed_message"
	case errors.Is(err, ErrMissingField):
		return "missing_field"
	case errors.Is(err, ErrInvalidEncoding):
		return "invalid_encoding"
	case errors.Is(err, ErrShapeMismatch):
		return "shape_mismatch"
	default:
		return "other"
	}
}

func newDecodeError(kind error, field string, err error) *DecodeError {
	return &DecodeError{Kind: kind, Field: field, Err: err}
}
