package reservation

import (
	"encoding/json"

	"github.com/quillon/warehouse/internal/warehouse/domain/event"
)

// Fold applies one reservation event to the aggregate state. Unknown or
// malformed events leave the state untouched so that replay never halts on
// a single bad row.
func Fold(state State, evt event.Event) State {
	switch evt.Type {
	case EventTypeCreated:
		var payload CreatePayload
		if err := json.Unmarshal(evt.PayloadJSON, &payload); err != nil {
			return state
		}
		state.Created = true
		state.ID = payload.ID
		state.WarehouseID = payload.WarehouseID
		state.Purpose = payload.Purpose
		state.Priority = payload.Priority
		state.Status = StatusCreated
		state.LockType = LockNone
		state.Lines = make([]Line, 0, len(payload.Lines))
		for _, line := range payload.Lines {
			state.Lines = append(state.Lines, Line{
				SKU:          line.SKU,
				RequestedQty: line.Qty,
			})
		}
		return state

	case EventTypeAllocated:
		var payload AllocatePayload
		if err := json.Unmarshal(evt.PayloadJSON, &payload); err != nil {
			return state
		}
		state.Status = StatusAllocated
		state.LockType = LockSoft
		for i := range state.Lines {
			if allocated, ok := findAllocatedLine(payload.Lines, state.Lines[i].SKU); ok {
				state.Lines[i].Allocations = append([]Allocation(nil), allocated.Allocations...)
			}
		}
		return state

	case EventTypePickingStarted:
		state.Status = StatusPicking
		state.LockType = LockHard
		return state

	case EventTypeLinePicked:
		var payload LinePickedPayload
		if err := json.Unmarshal(evt.PayloadJSON, &payload); err != nil {
			return state
		}
		for i := range state.Lines {
			if state.Lines[i].SKU == payload.SKU {
				state.Lines[i].PickedQty += payload.Qty
			}
		}
		return state

	case EventTypeConsumed:
		state.Status = StatusConsumed
		state.LockType = LockNone
		return state

	case EventTypeCancelled:
		state.Status = StatusCancelled
		state.LockType = LockNone
		return state
	}
	return state
}

// Replay folds an ordered event slice into a fresh state.
func Replay(events []event.Event) State {
	var state State
	for _, evt := range events {
		state = Fold(state, evt)
	}
	return state
}
