package domain

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidEvent       = errors.New("invalid event")
	ErrOrderingViolation  = errors.New("events out of time order")
	ErrInvalidID          = errors.New("invalid id")
	ErrInvalidVariant     = errors.New("invalid variant")
	ErrInvalidRunStatus   = errors.New("invalid run status")
	ErrRunAlreadyFinished = errors.New("run already finished")
)

// OrderingViolationError identifies the event that arrived before its predecessor's time.
type OrderingViolationError struct {
	Previous Tick
	Event    Event
}

// Error implements error.
func (e *OrderingViolationError) Error() string {
	return fmt.Sprintf("%s: event %s precedes previous time %s", ErrOrderingViolation, e.Event, e.Previous)
}

// Unwrap lets errors.Is match ErrOrderingViolation.
func (e *OrderingViolationError) Unwrap() error {
	return ErrOrderingViolation
}
