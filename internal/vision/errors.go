package vision

import (
	"errors"
	"fmt"
)

// ErrNoFace is returned by an embedder that found no face in its input.
var ErrNoFace = errors.New("no face found in image")

// ErrEmptyFrame is returned for nil or zero-sized frames.
var ErrEmptyFrame = errors.New("empty frame")

// DecodeError is returned when image bytes cannot be decoded.
type DecodeError struct {
	Err error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("failed to decode image: %v", e.Err)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

// DetectionFailure wraps any error or panic raised by a detector backend.
type DetectionFailure struct {
	Err error
}

func (e *DetectionFailure) Error() string {
	return fmt.Sprintf("face detection failed: %v", e.Err)
}

func (e *DetectionFailure) Unwrap() error {
	return e.Err
}
