// Package projection derives the available-stock view from ledger events.
// The same pure fold feeds both the synchronous in-transaction apply and
// the full rebuild, so live and rebuilt views can never disagree on
// semantics.
package projection

import (
	"encoding/json"
	"fmt"

	"github.com/quillon/warehouse/internal/warehouse/domain/event"
	"github.com/quillon/warehouse/internal/warehouse/domain/movement"
	"github.com/quillon/warehouse/internal/warehouse/domain/reservation"
)

// ViewName is the registered name of the available-stock projection.
const ViewName = "available_stock"

// Delta is one signed adjustment to a (warehouse, location, sku) row of
// the available-stock view.
type Delta struct {
	WarehouseID     string
	Location        string
	SKU             string
	OnHandDelta     int64
	HardLockedDelta int64
}

// Key identifies one view row.
type Key struct {
	WarehouseID string
	Location    string
	SKU         string
}

// Row is one materialized view row. Available is derived, never stored.
type Row struct {
	WarehouseID string
	Location    string
	SKU         string
	OnHand      int64
	HardLocked  int64
}

// Available returns onHand minus hardLocked.
func (r Row) Available() int64 {
	return r.OnHand - r.HardLocked
}

// Deltas returns the view adjustments implied by one ledger event. Events
// that do not touch physical stock return nil.
func Deltas(evt event.Event) ([]Delta, error) {
	switch evt.Type {
	case movement.EventTypeMoved:
		return movementDeltas(evt)
	case reservation.EventTypePickingStarted:
		return lockDeltas(evt, 1)
	case reservation.EventTypeConsumed:
		return releasedDeltas(evt)
	}
	return nil, nil
}

func movementDeltas(evt event.Event) ([]Delta, error) {
	m, err := movement.FromEvent(evt)
	if err != nil {
		return nil, err
	}
	var deltas []Delta
	if m.FromLocation != "" {
		deltas = append(deltas, Delta{
			WarehouseID: m.WarehouseID,
			Location:    m.FromLocation,
			SKU:         m.SKU,
			OnHandDelta: -m.Quantity,
		})
	}
	if m.ToLocation != "" {
		deltas = append(deltas, Delta{
			WarehouseID: m.WarehouseID,
			Location:    m.ToLocation,
			SKU:         m.SKU,
			OnHandDelta: m.Quantity,
		})
	}
	return deltas, nil
}

func lockDeltas(evt event.Event, sign int64) ([]Delta, error) {
	var payload reservation.PickingStartedPayload
	if err := unmarshalPayload(evt, &payload); err != nil {
		return nil, err
	}
	return allocationDeltas(payload.WarehouseID, payload.Lines, sign), nil
}

func releasedDeltas(evt event.Event) ([]Delta, error) {
	var payload reservation.ConsumedPayload
	if err := unmarshalPayload(evt, &payload); err != nil {
		return nil, err
	}
	return allocationDeltas(payload.WarehouseID, payload.Released, -1), nil
}

func allocationDeltas(warehouseID string, lines []reservation.AllocatedLine, sign int64) []Delta {
	var deltas []Delta
	for _, line := range lines {
		for _, alloc := range line.Allocations {
			deltas = append(deltas, Delta{
				WarehouseID:     warehouseID,
				Location:        alloc.Location,
				SKU:             line.SKU,
				HardLockedDelta: sign * alloc.Qty,
			})
		}
	}
	return deltas
}

func unmarshalPayload(evt event.Event, v any) error {
	if err := json.Unmarshal(evt.PayloadJSON, v); err != nil {
		return fmt.Errorf("unmarshal %s payload: %w", evt.Type, err)
	}
	return nil
}

// FoldInto accumulates a stream of deltas into a row map keyed by
// (warehouse, location, sku). Used by the rebuild replay.
func FoldInto(rows map[Key]*Row, deltas []Delta) {
	for _, d := range deltas {
		key := Key{WarehouseID: d.WarehouseID, Location: d.Location, SKU: d.SKU}
		row, ok := rows[key]
		if !ok {
			row = &Row{WarehouseID: d.WarehouseID, Location: d.Location, SKU: d.SKU}
			rows[key] = row
		}
		row.OnHand += d.OnHandDelta
		row.HardLocked += d.HardLockedDelta
	}
}
