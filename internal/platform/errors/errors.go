package errors

import (
	"errors"
	"fmt"
)

type Kind string

const (
	KindConfig          Kind = "config"
	KindBootstrap       Kind = "bootstrap"
	KindInvalidFormat   Kind = "invalid_format"
	KindPayloadTooLarge Kind = "payload_too_large"
	KindCorruptImage    Kind = "corrupt_image"
	KindInvalidBase64   Kind = "invalid_base64"
	KindUpstream        Kind = "upstream"
	KindInternal        Kind = "internal"
	KindUnknown         Kind = "unknown"
)

type Error struct {
	Kind    Kind
	Op      string
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s:%s] %s: %v", e.Kind, e.Op, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s:%s] %s", e.Kind, e.Op, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

func Wrap(kind Kind, op, message string, err error) *Error {
	if err == nil {
		return nil
	}

	var typed *Error
	if errors.As(err, &typed) {
		return typed
	}

	return &Error{
		Kind:    kind,
		Op:      op,
		Message: message,
		Cause:   err,
	}
}

func New(kind Kind, op, message string) *Error {
	return &Error{
		Kind:    kind,
		Op:      op,
		Message: message,
	}
}

// IsKind checks whether any error in the chain matches the provided kind.
func IsKind(err error, kind Kind) bool {
	var target *Error
	for err != nil {
		if errors.As(err, &target) {
			return target.Kind == kind
		}
		err = errors.Unwrap(err)
	}
	return false
}

// Detail returns the human-readable message carried by a typed error, suitable
// for API responses. Untyped errors fall back to their Error() text.
func Detail(err error) string {
	var typed *Error
	if errors.As(err, &typed) {
		return typed.Message
	}
	if err != nil {
		return err.Error()
	}
	return ""
}
