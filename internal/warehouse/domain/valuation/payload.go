package valuation

// InitializedPayload is the payload of valuation.initialized.
type InitializedPayload struct {
	WarehouseID   string `json:"warehouse_id"`
	SKU           string `json:"sku"`
	UnitCostCents int64  `json:"unit_cost_cents"`
	BalanceCents  int64  `json:"balance_cents"`
}

// CostAdjustedPayload is the payload of valuation.cost_adjusted.
type CostAdjustedPayload struct {
	OldUnitCostCents int64  `json:"old_unit_cost_cents"`
	NewUnitCostCents int64  `json:"new_unit_cost_cents"`
	Reason           string `json:"reason,omitempty"`
}

// LandedCostAppliedPayload is the payload of valuation.landed_cost_applied.
type LandedCostAppliedPayload struct {
	AmountCents int64  `json:"amount_cents"`
	Reference   string `json:"reference,omitempty"`
}

// WrittenDownPayload is the payload of valuation.written_down.
type WrittenDownPayload struct {
	AmountCents int64  `json:"amount_cents"`
	Reason      string `json:"reason,omitempty"`
}
