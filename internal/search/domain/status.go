// Package domain defines the search job cache's core types: the job entry,
// its lifecycle state machine, and the error taxonomy shared by the store,
// the admission controller, and the ingestion path.
//
// Valid status graph:
//
//	queued ──► pending ──► completed
//	                 │
//	                 ├────► error
//	                 └────► timeout
//
// completed, error, and timeout are terminal states.
package domain

import "fmt"

// Status is the lifecycle state of a search job entry. The string values are
// the wire format returned to polling clients.
type Status string

const (
	// StatusPending holds an admission slot: the job has been (or is about
	// to be) submitted upstream and a completion webhook is awaited.
	StatusPending Status = "pending"
	// StatusQueued waits for a free admission slot; holds no slot.
	StatusQueued Status = "queued"
	StatusCompleted Status = "completed"
	StatusError     Status = "error"
	StatusTimeout   Status = "timeout"
)

// validTransitions lists every allowed (from → to) pair.
var validTransitions = map[Status][]Status{
	StatusQueued:  {StatusPending},
	StatusPending: {StatusCompleted, StatusError, StatusTimeout},
	// completed, error, and timeout are terminal: no outgoing transitions
}

// ParseStatus converts a raw string to a Status, returning an error for
// unknown values.
func ParseStatus(s string) (Status, error) {
	st := Status(s)
	switch st {
	case StatusPending, StatusQueued, StatusCompleted, StatusError, StatusTimeout:
		return st, nil
	}
	return "", fmt.Errorf("unknown search status %q", s)
}

// Terminal reports whether no further transitions may leave this status.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusError || s == StatusTimeout
}

// CanTransition returns true when moving from → to is permitted by the
// state machine.
func CanTransition(from, to Status) bool {
	for _, s := range validTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}
