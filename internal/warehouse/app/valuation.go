package app

import (
	"context"

	"github.com/quillon/warehouse/internal/platform/errors"
	"github.com/quillon/warehouse/internal/warehouse/domain/command"
	"github.com/quillon/warehouse/internal/warehouse/domain/event"
	"github.com/quillon/warehouse/internal/warehouse/domain/valuation"
)

// ValuationResult is the post-command snapshot of a valuation stream.
type ValuationResult struct {
	WarehouseID   string `json:"warehouse_id"`
	SKU           string `json:"sku"`
	UnitCostCents int64  `json:"unit_cost_cents"`
	BalanceCents  int64  `json:"balance_cents"`
}

// InitializeValuation opens the valuation stream for one (warehouse, sku).
func (s *Service) InitializeValuation(ctx context.Context, commandID, operatorID, warehouseID, sku string, unitCostCents, balanceCents int64) (ValuationResult, error) {
	return dispatch(ctx, s, commandID, func(ctx context.Context) (ValuationResult, error) {
		if err := s.requireSKU(ctx, sku); err != nil {
			return ValuationResult{}, err
		}
		payload := valuation.InitializedPayload{
			WarehouseID:   warehouseID,
			SKU:           sku,
			UnitCostCents: unitCostCents,
			BalanceCents:  balanceCents,
		}
		return s.runValuationCommand(ctx, warehouseID, sku, commandID, operatorID, valuation.CommandTypeInitialize, payload)
	})
}

// AdjustValuationCost records a standard cost change.
func (s *Service) AdjustValuationCost(ctx context.Context, commandID, operatorID, warehouseID, sku string, newUnitCostCents int64, reason string) (ValuationResult, error) {
	return dispatch(ctx, s, commandID, func(ctx context.Context) (ValuationResult, error) {
		payload := valuation.CostAdjustedPayload{
			NewUnitCostCents: newUnitCostCents,
			Reason:           reason,
		}
		return s.runValuationCommand(ctx, warehouseID, sku, commandID, operatorID, valuation.CommandTypeAdjustCost, payload)
	})
}

// ApplyLandedCost spreads an extra acquisition cost over the balance.
func (s *Service) ApplyLandedCost(ctx context.Context, commandID, operatorID, warehouseID, sku string, amountCents int64, reference string) (ValuationResult, error) {
	return dispatch(ctx, s, commandID, func(ctx context.Context) (ValuationResult, error) {
		payload := valuation.LandedCostAppliedPayload{
			AmountCents: amountCents,
			Reference:   reference,
		}
		return s.runValuationCommand(ctx, warehouseID, sku, commandID, operatorID, valuation.CommandTypeApplyLandedCost, payload)
	})
}

// WriteDownValuation reduces the carrying balance. The balance may reach
// exactly zero but never go negative.
func (s *Service) WriteDownValuation(ctx context.Context, commandID, operatorID, warehouseID, sku string, amountCents int64, reason string) (ValuationResult, error) {
	return dispatch(ctx, s, commandID, func(ctx context.Context) (ValuationResult, error) {
		payload := valuation.WrittenDownPayload{
			AmountCents: amountCents,
			Reason:      reason,
		}
		return s.runValuationCommand(ctx, warehouseID, sku, commandID, operatorID, valuation.CommandTypeWriteDown, payload)
	})
}

// GetValuation replays and returns the valuation state.
func (s *Service) GetValuation(ctx context.Context, warehouseID, sku string) (valuation.State, error) {
	state, err := s.loadValuation(ctx, warehouseID, sku)
	if err != nil {
		return valuation.State{}, err
	}
	if !state.Initialized {
		return valuation.State{}, errors.New(errors.CodeValuationNotInitialized, "valuation not initialized")
	}
	return state, nil
}

func (s *Service) loadValuation(ctx context.Context, warehouseID, sku string) (valuation.State, error) {
	events, err := s.store.ListStream(ctx, valuation.StreamKey(warehouseID, sku))
	if err != nil {
		return valuation.State{}, errors.Wrap(errors.CodeInternal, "replay valuation", err)
	}
	return valuation.Replay(events), nil
}

func (s *Service) runValuationCommand(ctx context.Context, warehouseID, sku, commandID, operatorID string, typ command.Type, payload any) (ValuationResult, error) {
	streamKey := valuation.StreamKey(warehouseID, sku)
	_, err := s.decideAndAppend(ctx, streamKey, func(events []event.Event) (command.Decision, error) {
		state := valuation.Replay(events)
		cmd := newDomainCommand(commandID, typ, streamKey, operatorID, "", payload)
		return valuation.Decide(state, cmd, s.now), nil
	})
	if err != nil {
		return ValuationResult{}, err
	}
	state, err := s.loadValuation(ctx, warehouseID, sku)
	if err != nil {
		return ValuationResult{}, err
	}
	return ValuationResult{
		WarehouseID:   state.WarehouseID,
		SKU:           state.SKU,
		UnitCostCents: state.UnitCostCents,
		BalanceCents:  state.BalanceCents,
	}, nil
}
