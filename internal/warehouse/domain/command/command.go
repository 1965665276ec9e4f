// Package command defines the command envelope and the pure decision type
// returned by aggregate deciders.
package command

import "github.com/quillon/warehouse/internal/warehouse/domain/event"

// Type identifies the kind of a command.
type Type string

// Command is the envelope handed to aggregate deciders.
type Command struct {
	// ID is the caller-supplied idempotency key for the command.
	ID string
	// Type identifies the command kind.
	Type Type
	// StreamKey identifies the aggregate stream the command targets.
	StreamKey string
	// OperatorID identifies who issued the command.
	OperatorID string
	// OperatorRole carries the caller's role for approval gates.
	OperatorRole string
	// PayloadJSON holds command-specific data as JSON.
	PayloadJSON []byte
}

// Decision represents the pure outcome of handling a command.
type Decision struct {
	Events     []event.Event
	Rejections []Rejection
}

// Rejection captures a domain-level reason a command was declined.
type Rejection struct {
	Code    string
	Message string
}

// Accept returns a decision that emits the provided events.
func Accept(events ...event.Event) Decision {
	return Decision{Events: append([]event.Event(nil), events...)}
}

// Reject returns a decision that carries the provided rejections.
func Reject(rejections ...Rejection) Decision {
	return Decision{Rejections: append([]Rejection(nil), rejections...)}
}

// Rejected reports whether the decision declined the command.
func (d Decision) Rejected() bool {
	return len(d.Rejections) > 0
}
