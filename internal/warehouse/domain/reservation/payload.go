package reservation

// RequestedLine is one (sku, qty) pair in a create request.
type RequestedLine struct {
	SKU string `json:"sku"`
	Qty int64  `json:"qty"`
}

// CreatePayload is the payload of reservation.created.
type CreatePayload struct {
	ID          string          `json:"id"`
	WarehouseID string          `json:"warehouse_id"`
	Purpose     string          `json:"purpose"`
	Priority    int             `json:"priority"`
	Lines       []RequestedLine `json:"lines"`
}

// AllocatedLine carries the soft-lock assignments for one line.
type AllocatedLine struct {
	SKU         string       `json:"sku"`
	Allocations []Allocation `json:"allocations"`
}

// AllocatePayload is the payload of reservation.allocated.
type AllocatePayload struct {
	Lines []AllocatedLine `json:"lines"`
}

// PickingStartedPayload is the payload of reservation.picking_started. The
// lines mirror the soft allocations converted to hard locks; the projection
// folds them into hard-locked quantities.
type PickingStartedPayload struct {
	WarehouseID string          `json:"warehouse_id"`
	Lines       []AllocatedLine `json:"lines"`
}

// LinePickedPayload is the payload of reservation.line_picked.
type LinePickedPayload struct {
	SKU        string `json:"sku"`
	Location   string `json:"location"`
	Qty        int64  `json:"qty"`
	MovementID string `json:"movement_id"`
}

// ConsumedPayload is the payload of reservation.consumed. Released lines
// name the hard locks the projection must release.
type ConsumedPayload struct {
	WarehouseID string          `json:"warehouse_id"`
	Released    []AllocatedLine `json:"released"`
}

// CancelledPayload is the payload of reservation.cancelled.
type CancelledPayload struct {
	Reason string `json:"reason,omitempty"`
}
