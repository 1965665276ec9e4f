package valuation

import (
	"encoding/json"

	"github.com/quillon/warehouse/internal/warehouse/domain/event"
)

// Fold applies one valuation event to the aggregate state. Unknown or
// malformed events leave the state untouched.
func Fold(state State, evt event.Event) State {
	switch evt.Type {
	case EventTypeInitialized:
		var payload InitializedPayload
		if err := json.Unmarshal(evt.PayloadJSON, &payload); err != nil {
			return state
		}
		state.Initialized = true
		state.WarehouseID = payload.WarehouseID
		state.SKU = payload.SKU
		state.UnitCostCents = payload.UnitCostCents
		state.BalanceCents = payload.BalanceCents
		return state

	case EventTypeCostAdjusted:
		var payload CostAdjustedPayload
		if err := json.Unmarshal(evt.PayloadJSON, &payload); err != nil {
			return state
		}
		state.UnitCostCents = payload.NewUnitCostCents
		return state

	case EventTypeLandedCostApplied:
		var payload LandedCostAppliedPayload
		if err := json.Unmarshal(evt.PayloadJSON, &payload); err != nil {
			return state
		}
		state.BalanceCents += payload.AmountCents
		return state

	case EventTypeWrittenDown:
		var payload WrittenDownPayload
		if err := json.Unmarshal(evt.PayloadJSON, &payload); err != nil {
			return state
		}
		state.BalanceCents -= payload.AmountCents
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
