package gallery

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound matches any *NotFoundError.
	ErrNotFound = errors.New("identity not found")

	// ErrNoImages is returned when a registration carries no images.
	ErrNoImages = errors.New("no images provided")

	// ErrEmptyGallery is returned by Lookup when there are no usable references.
	ErrEmptyGallery = errors.New("gallery is empty")

	// ErrIndexUnstable is returned when the store kept changing during every rebuild attempt.
	ErrIndexUnstable = errors.New("gallery changed during every rebuild attempt")

	// ErrDimensionMismatch is returned when a query embedding does not fit the index.
	ErrDimensionMismatch = errors.New("embedding dimension does not match index")

	errGenerationMoved = errors.New("store generation moved during rebuild")
)

// NotFoundError is returned when an identity directory does not exist.
type NotFoundError struct {
	Name string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("identity '%s' not found", e.Name)
}

func (e *NotFoundError) Is(target error) bool {
	return target == ErrNotFound
}

// InvalidNameError is returned for names that are not a safe single path segment.
type InvalidNameError struct {
	Name   string
	Reason string
}

func (e *InvalidNameError) Error() string {
	return fmt.Sprintf("invalid identity name %q: %s", e.Name, e.Reason)
}

// MatchFailure wraps anything that prevented a lookup from producing a verdict.
type MatchFailure struct {
	Err error
}

func (e *MatchFailure) Error() string {
	return fmt.Sprintf("identity lookup failed: %v", e.Err)
}

func (e *MatchFailure) Unwrap() error {
	return e.Err
}
