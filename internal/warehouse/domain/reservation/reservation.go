// Package reservation implements the event-sourced reservation aggregate
// coordinating soft and hard stock locks.
package reservation

import (
	"fmt"

	"github.com/quillon/warehouse/internal/warehouse/domain/event"
)

// Status is the reservation lifecycle state. Transitions are strictly
// forward; the only allowed regression is an explicit cancellation from
// CREATED or ALLOCATED.
type Status string

const (
	StatusCreated   Status = "CREATED"
	StatusAllocated Status = "ALLOCATED"
	StatusPicking   Status = "PICKING"
	StatusConsumed  Status = "CONSUMED"
	StatusCancelled Status = "CANCELLED"
)

// LockType is the strength of the claim a reservation holds on stock.
type LockType string

const (
	LockNone LockType = "NONE"
	LockSoft LockType = "SOFT"
	LockHard LockType = "HARD"
)

// Reservation event types.
const (
	EventTypeCreated        event.Type = "reservation.created"
	EventTypeAllocated      event.Type = "reservation.allocated"
	EventTypePickingStarted event.Type = "reservation.picking_started"
	EventTypeLinePicked     event.Type = "reservation.line_picked"
	EventTypeConsumed       event.Type = "reservation.consumed"
	EventTypeCancelled      event.Type = "reservation.cancelled"
)

// StreamKey returns the journal stream key for a reservation id.
func StreamKey(id string) string {
	return "reservation/" + id
}

// Allocation is a per-location claim on stock for one line.
type Allocation struct {
	Location        string   `json:"location"`
	Qty             int64    `json:"qty"`
	HandlingUnitIDs []string `json:"handling_unit_ids,omitempty"`
}

// Line is one requested sku with its current allocations.
type Line struct {
	SKU          string
	RequestedQty int64
	Allocations  []Allocation
	PickedQty    int64
}

// AllocatedQty returns the total quantity claimed across locations.
func (l Line) AllocatedQty() int64 {
	var total int64
	for _, a := range l.Allocations {
		total += a.Qty
	}
	return total
}

// State is the folded reservation aggregate state.
type State struct {
	Created     bool
	ID          string
	WarehouseID string
	Purpose     string
	Priority    int
	Status      Status
	LockType    LockType
	Lines       []Line
}

// LineBySKU returns the line for sku, if present.
func (s State) LineBySKU(sku string) (Line, bool) {
	for _, line := range s.Lines {
		if line.SKU == sku {
			return line, true
		}
	}
	return Line{}, false
}

// CheckInvariant verifies hardLocked ≤ softAllocated ≤ requested per line.
// The lock type is aggregate-wide, so the allocated quantity bounds both.
func (s State) CheckInvariant() error {
	for _, line := range s.Lines {
		allocated := line.AllocatedQty()
		if allocated > line.RequestedQty {
			return fmt.Errorf("line %s: allocated %d exceeds requested %d", line.SKU, allocated, line.RequestedQty)
		}
		if line.PickedQty > allocated && s.LockType == LockHard {
			return fmt.Errorf("line %s: picked %d exceeds hard-locked %d", line.SKU, line.PickedQty, allocated)
		}
	}
	return nil
}

// FullyPicked reports whether every line has been picked in full.
func (s State) FullyPicked() bool {
	for _, line := range s.Lines {
		if line.PickedQty < line.RequestedQty {
			return false
		}
	}
	return len(s.Lines) > 0
}
