// Package valuation implements the event-sourced stock valuation ledger,
// one aggregate per (warehouse, sku). All monetary amounts are integer
// cents.
package valuation

import (
	"fmt"

	"github.com/quillon/warehouse/internal/warehouse/domain/event"
)

// Valuation event types.
const (
	EventTypeInitialized       event.Type = "valuation.initialized"
	EventTypeCostAdjusted      event.Type = "valuation.cost_adjusted"
	EventTypeLandedCostApplied event.Type = "valuation.landed_cost_applied"
	EventTypeWrittenDown       event.Type = "valuation.written_down"
)

// StreamKey returns the journal stream key for one (warehouse, sku) pair.
func StreamKey(warehouseID, sku string) string {
	return fmt.Sprintf("valuation/%s/%s", warehouseID, sku)
}

// State is the folded valuation aggregate state.
type State struct {
	Initialized   bool
	WarehouseID   string
	SKU           string
	UnitCostCents int64
	BalanceCents  int64
}
