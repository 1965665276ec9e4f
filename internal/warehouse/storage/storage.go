// Package storage defines the persistence surface of the warehouse service
// and its sentinel errors. The sqlite subpackage provides the single
// production implementation.
package storage

import (
	"errors"
	"time"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// ErrVersionConflict is returned when an append's expected stream version
// does not match the stored stream head.
var ErrVersionConflict = errors.New("stream version conflict")

// ErrLeaseHeld is returned when a lease resource is held by another holder.
var ErrLeaseHeld = errors.New("lease held")

// CommandStatus is the lifecycle state of a processed command.
type CommandStatus string

const (
	CommandInProgress CommandStatus = "in_progress"
	CommandCompleted  CommandStatus = "completed"
	CommandFailed     CommandStatus = "failed"
)

// Terminal reports whether the status will never change again.
func (s CommandStatus) Terminal() bool {
	return s == CommandCompleted || s == CommandFailed
}

// CommandRecord is one row of the idempotency store.
type CommandRecord struct {
	CommandID  string
	Status     CommandStatus
	ResultJSON []byte
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// SKU is one master-data SKU record.
type SKU struct {
	SKU         string
	Description string
	Active      bool
	CreatedAt   time.Time
}

// Location is one master-data location record.
type Location struct {
	WarehouseID string
	Location    string
	Kind        string
	Active      bool
	CreatedAt   time.Time
}

// Location kinds. Virtual locations hold stock that is not physically
// addressable, such as the in-transit buffer.
const (
	LocationKindBin     = "BIN"
	LocationKindDock    = "DOCK"
	LocationKindVirtual = "VIRTUAL"
)

// OutboxEntry is one row of the bus outbox, keyed by the global sequence
// of the event it publishes.
type OutboxEntry struct {
	GlobalSeq     int64
	EventType     string
	Status        string
	AttemptCount  int
	NextAttemptAt time.Time
	LastError     string
	UpdatedAt     time.Time
}

// OutboxSummary reports outbox depth by status and the oldest due row.
type OutboxSummary struct {
	PendingCount     int
	ProcessingCount  int
	FailedCount      int
	DeadCount        int
	OldestPendingAt  time.Time
	OldestPendingSeq int64
}
