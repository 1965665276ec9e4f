package transfer

import (
	"encoding/json"

	"github.com/quillon/warehouse/internal/warehouse/domain/event"
)

// Fold applies one transfer event to the aggregate state. Unknown or
// malformed events leave the state untouched.
func Fold(state State, evt event.Event) State {
	switch evt.Type {
	case EventTypeRequested:
		var payload RequestPayload
		if err := json.Unmarshal(evt.PayloadJSON, &payload); err != nil {
			return state
		}
		state.Created = true
		state.ID = payload.ID
		state.WarehouseID = payload.WarehouseID
		state.FromLocation = payload.FromLocation
		state.ToLocation = payload.ToLocation
		state.Category = payload.Category
		state.Status = StatusRequested
		state.Lines = make([]Line, 0, len(payload.Lines))
		for _, line := range payload.Lines {
			state.Lines = append(state.Lines, Line{SKU: line.SKU, Qty: line.Qty})
		}
		return state

	case EventTypeSubmitted:
		var payload SubmittedPayload
		if err := json.Unmarshal(evt.PayloadJSON, &payload); err != nil {
			return state
		}
		if payload.RequiresApproval {
			state.Status = StatusPendingApproval
		} else {
			state.Status = StatusSubmitted
		}
		return state

	case EventTypeApproved:
		var payload ApprovedPayload
		if err := json.Unmarshal(evt.PayloadJSON, &payload); err != nil {
			return state
		}
		state.Status = StatusApproved
		state.ApproverID = payload.ApproverID
		return state

	case EventTypeRejected:
		state.Status = StatusRejected
		return state

	case EventTypeExecutionStarted:
		state.Status = StatusExecuting
		return state

	case EventTypeLineExecuted:
		var payload LineExecutedPayload
		if err := json.Unmarshal(evt.PayloadJSON, &payload); err != nil {
			return state
		}
		for i := range state.Lines {
			if state.Lines[i].SKU == payload.SKU {
				state.Lines[i].Executed = true
				state.Lines[i].OutMovementID = payload.OutMovementID
				state.Lines[i].InMovementID = payload.InMovementID
			}
		}
		return state

	case EventTypeCompleted:
		state.Status = StatusCompleted
		return state

	case EventTypeCancelled:
		state.Status = StatusCancelled
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
