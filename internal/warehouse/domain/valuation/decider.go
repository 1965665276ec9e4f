package valuation

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/quillon/warehouse/internal/warehouse/domain/command"
	"github.com/quillon/warehouse/internal/warehouse/domain/event"
)

// Valuation command types.
const (
	CommandTypeInitialize      command.Type = "valuation.initialize"
	CommandTypeAdjustCost      command.Type = "valuation.adjust_cost"
	CommandTypeApplyLandedCost command.Type = "valuation.apply_landed_cost"
	CommandTypeWriteDown       command.Type = "valuation.write_down"
)

// Rejection codes surfaced by the valuation decider.
const (
	RejectionCodeAlreadyInitialized  = "VALUATION_ALREADY_INITIALIZED"
	RejectionCodeNotInitialized      = "VALUATION_NOT_INITIALIZED"
	RejectionCodeAmountInvalid       = "VALUATION_AMOUNT_INVALID"
	RejectionCodeInsufficientBalance = "INSUFFICIENT_BALANCE"
	RejectionCodePayloadInvalid      = "VALUATION_PAYLOAD_INVALID"
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

// Decide returns the decision for a valuation command against current state.
func Decide(state State, cmd command.Command, now func() time.Time) command.Decision {
	if now == nil {
		now = time.Now
	}

	switch cmd.Type {
	case CommandTypeInitialize:
		return decideInitialize(state, cmd, now)
	case CommandTypeAdjustCost:
		return decideAdjustCost(state, cmd, now)
	case CommandTypeApplyLandedCost:
		return decideApplyLandedCost(state, cmd, now)
	case CommandTypeWriteDown:
		return decideWriteDown(state, cmd, now)
	}
	return command.Decision{}
}

func decideInitialize(state State, cmd command.Command, now func() time.Time) command.Decision {
	if state.Initialized {
		return command.Reject(command.Rejection{
			Code:    RejectionCodeAlreadyInitialized,
			Message: "valuation already initialized",
		})
	}
	var payload InitializedPayload
	if !decodePayload(cmd, &payload) {
		return rejectPayload()
	}
	payload.WarehouseID = strings.TrimSpace(payload.WarehouseID)
	payload.SKU = strings.TrimSpace(payload.SKU)
	if payload.WarehouseID == "" || payload.SKU == "" {
		return command.Reject(command.Rejection{
			Code:    RejectionCodeAmountInvalid,
			Message: "warehouse id and sku are required",
		})
	}
	if payload.UnitCostCents < 0 || payload.BalanceCents < 0 {
		return command.Reject(command.Rejection{
			Code:    RejectionCodeAmountInvalid,
			Message: "unit cost and opening balance must not be negative",
		})
	}

	return command.Accept(newEvent(cmd, EventTypeInitialized, payload, now))
}

func decideAdjustCost(state State, cmd command.Command, now func() time.Time) command.Decision {
	if !state.Initialized {
		return command.Reject(command.Rejection{
			Code:    RejectionCodeNotInitialized,
			Message: "valuation not initialized",
		})
	}
	var in CostAdjustedPayload
	if !decodePayload(cmd, &in) {
		return rejectPayload()
	}
	if in.NewUnitCostCents < 0 {
		return command.Reject(command.Rejection{
			Code:    RejectionCodeAmountInvalid,
			Message: "unit cost must not be negative",
		})
	}
	// An adjustment to the current cost is a no-op success.
	if in.NewUnitCostCents == state.UnitCostCents {
		return command.Accept()
	}

	payload := CostAdjustedPayload{
		OldUnitCostCents: state.UnitCostCents,
		NewUnitCostCents: in.NewUnitCostCents,
		Reason:           in.Reason,
	}
	return command.Accept(newEvent(cmd, EventTypeCostAdjusted, payload, now))
}

func decideApplyLandedCost(state State, cmd command.Command, now func() time.Time) command.Decision {
	if !state.Initialized {
		return command.Reject(command.Rejection{
			Code:    RejectionCodeNotInitialized,
			Message: "valuation not initialized",
		})
	}
	var payload LandedCostAppliedPayload
	if !decodePayload(cmd, &payload) {
		return rejectPayload()
	}
	if payload.AmountCents <= 0 {
		return command.Reject(command.Rejection{
			Code:    RejectionCodeAmountInvalid,
			Message: "landed cost amount must be greater than zero",
		})
	}

	return command.Accept(newEvent(cmd, EventTypeLandedCostApplied, payload, now))
}

func decideWriteDown(state State, cmd command.Command, now func() time.Time) command.Decision {
	if !state.Initialized {
		return command.Reject(command.Rejection{
			Code:    RejectionCodeNotInitialized,
			Message: "valuation not initialized",
		})
	}
	var payload WrittenDownPayload
	if !decodePayload(cmd, &payload) {
		return rejectPayload()
	}
	if payload.AmountCents <= 0 {
		return command.Reject(command.Rejection{
			Code:    RejectionCodeAmountInvalid,
			Message: "write-down amount must be greater than zero",
		})
	}
	if payload.AmountCents > state.BalanceCents {
		return command.Reject(command.Rejection{
			Code:    RejectionCodeInsufficientBalance,
			Message: "write-down exceeds the valuation balance",
		})
	}

	return command.Accept(newEvent(cmd, EventTypeWrittenDown, payload, now))
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
