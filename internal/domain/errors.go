package domain

import (
	"errors"
	"fmt"
)

// InputError marks a caller-supplied value that violates a precondition.
// It is always raised before any state mutation.
type InputError struct {
	msg string
}

func (e *InputError) Error() string { return e.msg }

// Inputf builds an InputError from a format string.
func Inputf(format string, args ...any) error {
	return &InputError{msg: fmt.Sprintf(format, args...)}
}

// IsInput reports whether err is (or wraps) an InputError.
func IsInput(err error) bool {
	var e *InputError
	return errors.As(err, &e)
}

// NotFoundError marks a referenced room or membership that does not exist
// at the time of the operation.
type NotFoundError struct {
	msg string
}

func (e *NotFoundError) Error() string { return e.msg }

// NotFoundf builds a NotFoundError from a format string.
func NotFoundf(format string, args ...any) error {
	return &NotFoundError{msg: fmt.Sprintf(format, args...)}
}

// IsNotFound reports whether err is (or wraps) a NotFoundError.
func IsNotFound(err error) bool {
	var e *NotFoundError
	return errors.As(err, &e)
}
