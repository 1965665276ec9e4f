package transfer

// RequestedLine is one (sku, qty) pair in a transfer request.
type RequestedLine struct {
	SKU string `json:"sku"`
	Qty int64  `json:"qty"`
}

// RequestPayload is the payload of transfer.requested.
type RequestPayload struct {
	ID           string          `json:"id"`
	WarehouseID  string          `json:"warehouse_id"`
	FromLocation string          `json:"from_location"`
	ToLocation   string          `json:"to_location"`
	Category     Category        `json:"category"`
	Lines        []RequestedLine `json:"lines"`
	Note         string          `json:"note,omitempty"`
}

// SubmittedPayload is the payload of transfer.submitted.
type SubmittedPayload struct {
	RequiresApproval bool `json:"requires_approval"`
}

// ApprovedPayload is the payload of transfer.approved.
type ApprovedPayload struct {
	ApproverID string `json:"approver_id"`
}

// RejectedPayload is the payload of transfer.rejected.
type RejectedPayload struct {
	Reason string `json:"reason,omitempty"`
}

// LineExecutedPayload is the payload of transfer.line_executed. It records
// the two ledger movements that carried the stock through the in-transit
// location.
type LineExecutedPayload struct {
	SKU           string `json:"sku"`
	Qty           int64  `json:"qty"`
	OutMovementID string `json:"out_movement_id"`
	InMovementID  string `json:"in_movement_id"`
}

// CancelledPayload is the payload of transfer.cancelled.
type CancelledPayload struct {
	Reason string `json:"reason,omitempty"`
}
