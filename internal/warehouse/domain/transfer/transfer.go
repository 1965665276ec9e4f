// Package transfer implements the event-sourced transfer order aggregate.
// Transfers move stock between two locations through a virtual in-transit
// location; execution of the physical movements lives in the application
// layer, the aggregate tracks intent and approval.
package transfer

import (
	"github.com/quillon/warehouse/internal/warehouse/domain/event"
)

// Status is the transfer order lifecycle state.
type Status string

const (
	StatusRequested       Status = "REQUESTED"
	StatusSubmitted       Status = "SUBMITTED"
	StatusPendingApproval Status = "PENDING_APPROVAL"
	StatusApproved        Status = "APPROVED"
	StatusExecuting       Status = "EXECUTING"
	StatusCompleted       Status = "COMPLETED"
	StatusRejected        Status = "REJECTED"
	StatusCancelled       Status = "CANCELLED"
)

// Category classifies the business reason for a transfer. Scrap transfers
// destroy stock and require elevated approval.
type Category string

const (
	CategoryStandard      Category = "STANDARD"
	CategoryReplenishment Category = "REPLENISHMENT"
	CategoryScrap         Category = "SCRAP"
)

// IsValid reports whether the category is known.
func (c Category) IsValid() bool {
	switch c {
	case CategoryStandard, CategoryReplenishment, CategoryScrap:
		return true
	}
	return false
}

// RequiresApproval reports whether transfers of this category must be
// approved by a manager before execution.
func (c Category) RequiresApproval() bool {
	return c == CategoryScrap
}

// Transfer event types.
const (
	EventTypeRequested        event.Type = "transfer.requested"
	EventTypeSubmitted        event.Type = "transfer.submitted"
	EventTypeApproved         event.Type = "transfer.approved"
	EventTypeRejected         event.Type = "transfer.rejected"
	EventTypeExecutionStarted event.Type = "transfer.execution_started"
	EventTypeLineExecuted     event.Type = "transfer.line_executed"
	EventTypeCompleted        event.Type = "transfer.completed"
	EventTypeCancelled        event.Type = "transfer.cancelled"
)

// TransitLocation is the virtual location stock passes through between the
// outbound and inbound legs of a transfer.
const TransitLocation = "TRANSIT"

// RoleAtLeastManager reports whether the operator role carries approval
// authority for scrap transfers.
func RoleAtLeastManager(role string) bool {
	switch role {
	case "manager", "admin":
		return true
	}
	return false
}

// StreamKey returns the journal stream key for a transfer id.
func StreamKey(id string) string {
	return "transfer/" + id
}

// Line is one sku moved by the transfer, with execution bookkeeping.
type Line struct {
	SKU           string
	Qty           int64
	Executed      bool
	OutMovementID string
	InMovementID  string
}

// State is the folded transfer aggregate state.
type State struct {
	Created      bool
	ID           string
	WarehouseID  string
	FromLocation string
	ToLocation   string
	Category     Category
	Status       Status
	Lines        []Line
	ApproverID   string
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

// AllLinesExecuted reports whether every line has both legs recorded.
func (s State) AllLinesExecuted() bool {
	for _, line := range s.Lines {
		if !line.Executed {
			return false
		}
	}
	return len(s.Lines) > 0
}

// Terminal reports whether the transfer can accept no further commands.
func (s State) Terminal() bool {
	switch s.Status {
	case StatusCompleted, StatusRejected, StatusCancelled:
		return true
	}
	return false
}
