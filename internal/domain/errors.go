package domain

import "errors"

var (
	// ErrNoActiveTrip: position report or staff action referenced a trip
	// with no active trip context.
	ErrNoActiveTrip = errors.New("no active trip")

	// ErrNoPlannedRoute: the trip exists but carries no planned route, so
	// deviation cannot be evaluated.
	ErrNoPlannedRoute = errors.New("trip has no planned route")

	// ErrRecordNotFound: no deviation record with the given id.
	ErrRecordNotFound = errors.New("deviation record not found")

	// ErrInvalidTransition: the requested staff action is not legal from
	// the record's current state. Wrapped with the specific reason.
	ErrInvalidTransition = errors.New("invalid state transition")

	// ErrExtensionLimit: the grace period has already been extended the
	// maximum number of times.
	ErrExtensionLimit = errors.New("grace period extension limit reached")
)
