// Package event defines the immutable journal envelope shared by all
// warehouse aggregates and the stock ledger.
package event

import (
	"strings"
	"time"
)

// Type identifies the kind of a journal event.
type Type string

// Event represents an immutable entry in the append-only journal.
//
// Events are ordered two ways: StreamSeq gives strict append order within
// one stream, GlobalSeq gives the total order across all streams. Consumers
// that need cross-stream consistency must sort by GlobalSeq, never by
// Timestamp — events can commit out of timestamp order under concurrency.
type Event struct {
	// StreamKey identifies the append-only stream this event belongs to.
	StreamKey string
	// StreamSeq is the event sequence within the stream (starts at 1).
	// Assigned by storage on append.
	StreamSeq uint64
	// GlobalSeq is the total order position across all streams.
	// Assigned by storage on append.
	GlobalSeq uint64
	// Type identifies the kind of event.
	Type Type
	// CommandID correlates the event with the command that produced it.
	CommandID string
	// OperatorID identifies who triggered the event.
	OperatorID string
	// Timestamp is when the event occurred. Informational only; never used
	// for ordering.
	Timestamp time.Time
	// PayloadJSON holds event-specific data as JSON.
	PayloadJSON []byte
}

// IsValid reports whether the event type is usable.
func (t Type) IsValid() bool {
	return strings.TrimSpace(string(t)) != ""
}

// Domain returns the domain prefix of the event type (e.g., "stock",
// "reservation").
func (t Type) Domain() string {
	for i, c := range t {
		if c == '.' {
			return string(t[:i])
		}
	}
	return string(t)
}
