package reservation

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/quillon/warehouse/internal/warehouse/domain/command"
	"github.com/quillon/warehouse/internal/warehouse/domain/event"
)

// Reservation command types.
const (
	CommandTypeCreate       command.Type = "reservation.create"
	CommandTypeAllocate     command.Type = "reservation.allocate"
	CommandTypeStartPicking command.Type = "reservation.start_picking"
	CommandTypePick         command.Type = "reservation.pick"
	CommandTypeConsume      command.Type = "reservation.consume"
	CommandTypeCancel       command.Type = "reservation.cancel"
)

// Rejection codes surfaced by the reservation decider.
const (
	RejectionCodeAlreadyExists    = "RESERVATION_ALREADY_EXISTS"
	RejectionCodeNotCreated       = "RESERVATION_NOT_CREATED"
	RejectionCodeLinesEmpty       = "RESERVATION_LINES_EMPTY"
	RejectionCodeLineInvalid      = "RESERVATION_LINE_INVALID"
	RejectionCodeStatusTransition = "RESERVATION_INVALID_STATUS_TRANSITION"
	RejectionCodeLineUnknown      = "RESERVATION_LINE_UNKNOWN"
	RejectionCodeQuantityExceeded = "RESERVATION_QUANTITY_EXCEEDED"
	RejectionCodeAllocationShort  = "RESERVATION_ALLOCATION_SHORT"
	RejectionCodePayloadInvalid   = "RESERVATION_PAYLOAD_INVALID"
)

// decodePayload reports whether the command payload unmarshals into dst.
// An absent payload leaves dst at its zero value.
func decodePayload(cmd command.Command, dst any) bool {
	return len(cmd.PayloadJSON) == 0 || json.Unmarshal(cmd.PayloadJSON, dst) == nil
}

func rejectPayload() command.Decision {
	return command.Reject(command.Rejection{
		Code:    RejectionCodePayloadInvalid,
		Message: "command payload is not valid JSON",
	})
}

// Decide returns the decision for a reservation command against current state.
func Decide(state State, cmd command.Command, now func() time.Time) command.Decision {
	if now == nil {
		now = time.Now
	}

	switch cmd.Type {
	case CommandTypeCreate:
		return decideCreate(state, cmd, now)
	case CommandTypeAllocate:
		return decideAllocate(state, cmd, now)
	case CommandTypeStartPicking:
		return decideStartPicking(state, cmd, now)
	case CommandTypePick:
		return decidePick(state, cmd, now)
	case CommandTypeConsume:
		return decideConsume(state, cmd, now)
	case CommandTypeCancel:
		return decideCancel(state, cmd, now)
	}
	return command.Decision{}
}

func decideCreate(state State, cmd command.Command, now func() time.Time) command.Decision {
	if state.Created {
		return command.Reject(command.Rejection{
			Code:    RejectionCodeAlreadyExists,
			Message: "reservation already exists",
		})
	}
	var payload CreatePayload
	if !decodePayload(cmd, &payload) {
		return rejectPayload()
	}
	payload.ID = strings.TrimSpace(payload.ID)
	payload.WarehouseID = strings.TrimSpace(payload.WarehouseID)
	if payload.ID == "" || payload.WarehouseID == "" {
		return command.Reject(command.Rejection{
			Code:    RejectionCodeLineInvalid,
			Message: "reservation id and warehouse id are required",
		})
	}
	if len(payload.Lines) == 0 {
		return command.Reject(command.Rejection{
			Code:    RejectionCodeLinesEmpty,
			Message: "reservation requires at least one line",
		})
	}
	seen := make(map[string]bool, len(payload.Lines))
	for _, line := range payload.Lines {
		if strings.TrimSpace(line.SKU) == "" || line.Qty <= 0 {
			return command.Reject(command.Rejection{
				Code:    RejectionCodeLineInvalid,
				Message: "reservation lines require a sku and a positive quantity",
			})
		}
		if seen[line.SKU] {
			return command.Reject(command.Rejection{
				Code:    RejectionCodeLineInvalid,
				Message: "reservation lines must name distinct skus",
			})
		}
		seen[line.SKU] = true
	}

	return command.Accept(newEvent(cmd, EventTypeCreated, payload, now))
}

func decideAllocate(state State, cmd command.Command, now func() time.Time) command.Decision {
	if !state.Created {
		return command.Reject(command.Rejection{
			Code:    RejectionCodeNotCreated,
			Message: "reservation does not exist",
		})
	}
	if state.Status != StatusCreated {
		return command.Reject(command.Rejection{
			Code:    RejectionCodeStatusTransition,
			Message: "reservation can only be allocated from CREATED",
		})
	}
	var payload AllocatePayload
	if !decodePayload(cmd, &payload) {
		return rejectPayload()
	}
	for _, allocated := range payload.Lines {
		line, ok := state.LineBySKU(allocated.SKU)
		if !ok {
			return command.Reject(command.Rejection{
				Code:    RejectionCodeLineUnknown,
				Message: "allocation names an unknown line",
			})
		}
		var total int64
		for _, alloc := range allocated.Allocations {
			if strings.TrimSpace(alloc.Location) == "" || alloc.Qty <= 0 {
				return command.Reject(command.Rejection{
					Code:    RejectionCodeLineInvalid,
					Message: "allocations require a location and a positive quantity",
				})
			}
			total += alloc.Qty
		}
		if total != line.RequestedQty {
			return command.Reject(command.Rejection{
				Code:    RejectionCodeAllocationShort,
				Message: "allocations must cover the requested line quantity exactly",
			})
		}
	}
	for _, line := range state.Lines {
		if _, ok := findAllocatedLine(payload.Lines, line.SKU); !ok {
			return command.Reject(command.Rejection{
				Code:    RejectionCodeAllocationShort,
				Message: "every requested line must be allocated",
			})
		}
	}

	return command.Accept(newEvent(cmd, EventTypeAllocated, payload, now))
}

func decideStartPicking(state State, cmd command.Command, now func() time.Time) command.Decision {
	if !state.Created {
		return command.Reject(command.Rejection{
			Code:    RejectionCodeNotCreated,
			Message: "reservation does not exist",
		})
	}
	if state.Status != StatusAllocated {
		return command.Reject(command.Rejection{
			Code:    RejectionCodeStatusTransition,
			Message: "picking can only start from ALLOCATED",
		})
	}

	payload := PickingStartedPayload{WarehouseID: state.WarehouseID}
	for _, line := range state.Lines {
		payload.Lines = append(payload.Lines, AllocatedLine{
			SKU:         line.SKU,
			Allocations: append([]Allocation(nil), line.Allocations...),
		})
	}

	return command.Accept(newEvent(cmd, EventTypePickingStarted, payload, now))
}

func decidePick(state State, cmd command.Command, now func() time.Time) command.Decision {
	if !state.Created {
		return command.Reject(command.Rejection{
			Code:    RejectionCodeNotCreated,
			Message: "reservation does not exist",
		})
	}
	var payload LinePickedPayload
	if !decodePayload(cmd, &payload) {
		return rejectPayload()
	}
	if payload.Qty <= 0 {
		return command.Reject(command.Rejection{
			Code:    RejectionCodeLineInvalid,
			Message: "pick quantity must be greater than zero",
		})
	}
	line, ok := state.LineBySKU(payload.SKU)
	if !ok {
		return command.Reject(command.Rejection{
			Code:    RejectionCodeLineUnknown,
			Message: "pick names an unknown line",
		})
	}

	// A duplicate pick against an already-consumed reservation is a no-op
	// success: the movement already stands, consumption already happened.
	if state.Status == StatusConsumed && line.PickedQty >= payload.Qty {
		return command.Accept()
	}
	if state.Status != StatusPicking {
		return command.Reject(command.Rejection{
			Code:    RejectionCodeStatusTransition,
			Message: "stock can only be picked while PICKING",
		})
	}
	if line.PickedQty+payload.Qty > line.RequestedQty {
		return command.Reject(command.Rejection{
			Code:    RejectionCodeQuantityExceeded,
			Message: "pick exceeds the requested line quantity",
		})
	}

	return command.Accept(newEvent(cmd, EventTypeLinePicked, payload, now))
}

func decideConsume(state State, cmd command.Command, now func() time.Time) command.Decision {
	if !state.Created {
		return command.Reject(command.Rejection{
			Code:    RejectionCodeNotCreated,
			Message: "reservation does not exist",
		})
	}
	// Consuming an already-consumed reservation is a no-op success.
	if state.Status == StatusConsumed {
		return command.Accept()
	}
	if state.Status != StatusPicking {
		return command.Reject(command.Rejection{
			Code:    RejectionCodeStatusTransition,
			Message: "reservation can only be consumed from PICKING",
		})
	}

	payload := ConsumedPayload{WarehouseID: state.WarehouseID}
	for _, line := range state.Lines {
		if len(line.Allocations) == 0 {
			continue
		}
		payload.Released = append(payload.Released, AllocatedLine{
			SKU:         line.SKU,
			Allocations: append([]Allocation(nil), line.Allocations...),
		})
	}

	return command.Accept(newEvent(cmd, EventTypeConsumed, payload, now))
}

func decideCancel(state State, cmd command.Command, now func() time.Time) command.Decision {
	if !state.Created {
		return command.Reject(command.Rejection{
			Code:    RejectionCodeNotCreated,
			Message: "reservation does not exist",
		})
	}
	if state.Status != StatusCreated && state.Status != StatusAllocated {
		return command.Reject(command.Rejection{
			Code:    RejectionCodeStatusTransition,
			Message: "reservation can only be cancelled from CREATED or ALLOCATED",
		})
	}
	var payload CancelledPayload
	if !decodePayload(cmd, &payload) {
		return rejectPayload()
	}

	return command.Accept(newEvent(cmd, EventTypeCancelled, payload, now))
}

func findAllocatedLine(lines []AllocatedLine, sku string) (AllocatedLine, bool) {
	for _, line := range lines {
		if line.SKU == sku {
			return line, true
		}
	}
	return AllocatedLine{}, false
}

func newEvent(cmd command.Command, typ event.Type, payload any, now func() time.Time) event.Event {
	payloadJSON, _ := json.Marshal(payload)
	return event.Event{
		StreamKey:   cmd.StreamKey,
		Type:        typ,
		CommandID:   cmd.ID,
		OperatorID:  cmd.OperatorID,
		Timestamp:   now().UTC(),
		PayloadJSON: payloadJSON,
	}
}
