// Package movement defines the stock movement event — the single source of
// truth for physical stock changes in the ledger.
package movement

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/quillon/warehouse/internal/warehouse/domain/event"
)

// EventTypeMoved records one physical stock movement.
const EventTypeMoved event.Type = "stock.moved"

// Type classifies the business reason for a movement.
type Type string

const (
	TypeReceipt    Type = "RECEIPT"
	TypePick       Type = "PICK"
	TypeTransfer   Type = "TRANSFER"
	TypeAdjustment Type = "ADJUSTMENT"
	TypeReturn     Type = "RETURN"
	TypeScrap      Type = "SCRAP"
)

// IsValid reports whether the movement type is known.
func (t Type) IsValid() bool {
	switch t {
	case TypeReceipt, TypePick, TypeTransfer, TypeAdjustment, TypeReturn, TypeScrap:
		return true
	}
	return false
}

// Movement is the immutable payload of a stock.moved event. A movement with
// an empty FromLocation is an inbound receipt; an empty ToLocation is an
// outright removal (scrap, adjustment out).
type Movement struct {
	ID             string    `json:"id"`
	WarehouseID    string    `json:"warehouse_id"`
	SKU            string    `json:"sku"`
	Quantity       int64     `json:"quantity"`
	FromLocation   string    `json:"from_location,omitempty"`
	ToLocation     string    `json:"to_location,omitempty"`
	Type           Type      `json:"type"`
	OperatorID     string    `json:"operator_id"`
	HandlingUnitID string    `json:"handling_unit_id,omitempty"`
	Timestamp      time.Time `json:"timestamp"`
}

// Validate checks the movement invariants shared by every caller.
func (m Movement) Validate() error {
	if strings.TrimSpace(m.WarehouseID) == "" {
		return fmt.Errorf("warehouse id is required")
	}
	if strings.TrimSpace(m.SKU) == "" {
		return fmt.Errorf("sku is required")
	}
	if m.Quantity <= 0 {
		return fmt.Errorf("quantity must be greater than zero")
	}
	if !m.Type.IsValid() {
		return fmt.Errorf("movement type %q is invalid", m.Type)
	}
	if m.FromLocation == "" && m.ToLocation == "" {
		return fmt.Errorf("movement requires a from or to location")
	}
	if m.FromLocation != "" && m.FromLocation == m.ToLocation {
		return fmt.Errorf("from and to locations must differ")
	}
	return nil
}

// StreamKey returns the ledger stream the movement is appended to. Outbound
// movements belong to the source location's stream; inbound movements to the
// destination's.
func (m Movement) StreamKey() string {
	location := m.FromLocation
	if location == "" {
		location = m.ToLocation
	}
	return StockStreamKey(m.WarehouseID, location, m.SKU)
}

// StockStreamKey builds the ledger stream key for one
// (warehouse, location, sku) tuple.
func StockStreamKey(warehouseID, location, sku string) string {
	return fmt.Sprintf("stock/%s/%s/%s", warehouseID, location, sku)
}

// ToEvent wraps the movement into a journal event envelope.
func (m Movement) ToEvent(commandID string) (event.Event, error) {
	if err := m.Validate(); err != nil {
		return event.Event{}, err
	}
	payload, err := json.Marshal(m)
	if err != nil {
		return event.Event{}, fmt.Errorf("marshal movement: %w", err)
	}
	return event.Event{
		StreamKey:   m.StreamKey(),
		Type:        EventTypeMoved,
		CommandID:   commandID,
		OperatorID:  m.OperatorID,
		Timestamp:   m.Timestamp,
		PayloadJSON: payload,
	}, nil
}

// FromEvent decodes the movement payload from a stock.moved event.
func FromEvent(evt event.Event) (Movement, error) {
	if evt.Type != EventTypeMoved {
		return Movement{}, fmt.Errorf("event type %s is not a movement", evt.Type)
	}
	var m Movement
	if err := json.Unmarshal(evt.PayloadJSON, &m); err != nil {
		return Movement{}, fmt.Errorf("unmarshal movement: %w", err)
	}
	return m, nil
}
