package core

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrNotFound       = errors.New("not found")
	ErrFormatMismatch = errors.New("format mismatch")
	ErrCorrupt        = errors.New("corrupt data")
	ErrAlreadyExists  = errors.New("already exists")
	ErrTypeMismatch   = errors.New("type mismatch")
	ErrMissingField   = errors.New("missing field")
	ErrInvalidShape   = errors.New("invalid shape")
	ErrEmptySequence  = errors.New("empty sequence")
	ErrBounds         = errors.New("index out of bounds")
	// ErrConfiguration marks a broken setup (skeleton asset, joint names).
	// Batch drivers abort the whole run on it.
	ErrConfiguration = errors.New("configuration error")
)

// MissingFieldError reports a required bundle key together with the keys
// that were actually present.
type MissingFieldError struct {
	Key       string
	Available []string
}

func (e *MissingFieldError) Error() string {
	return fmt.Sprintf("missing required key %q (available keys: [%s])", e.Key, strings.Join(e.Available, ", "))
}

func (e *MissingFieldError) Is(target error) bool {
	return target == ErrMissingField
}

// BoundsError is returned when a fixed index table does not fit the data it
// is about to be applied to.
type BoundsError struct {
	Index int
	Width int
}

func (e *BoundsError) Error() string {
	return fmt.Sprintf("index %d out of bounds for width %d", e.Index, e.Width)
}

func (e *BoundsError) Is(target error) bool {
	return target == ErrBounds
}

// IsFatal reports whether err should stop a whole run rather than a single
// file conversion.
func IsFatal(err error) bool {
	return errors.Is(err, ErrConfiguration)
}
