package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/quillon/warehouse/internal/warehouse/domain/event"
	"github.com/quillon/warehouse/internal/warehouse/domain/movement"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(filepath.Join(t.TempDir(), "warehouse.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() {
		if err := store.Close(); err != nil {
			t.Errorf("close store: %v", err)
		}
	})
	return store
}

func testMovement(id, from, to string, qty int64) movement.Movement {
	typ := movement.TypeTransfer
	if from == "" {
		typ = movement.TypeReceipt
	}
	if to == "" {
		typ = movement.TypeScrap
	}
	return movement.Movement{
		ID:           id,
		WarehouseID:  "WH1",
		SKU:          "SKU-100",
		Quantity:     qty,
		FromLocation: from,
		ToLocation:   to,
		Type:         typ,
		OperatorID:   "op-1",
		Timestamp:    time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC),
	}
}

func appendMovement(t *testing.T, store *Store, m movement.Movement, expectedVersion int64) event.Event {
	t.Helper()
	evt, err := m.ToEvent("cmd-" + m.ID)
	if err != nil {
		t.Fatalf("to event: %v", err)
	}
	appended, err := store.AppendEvent(context.Background(), evt, expectedVersion)
	if err != nil {
		t.Fatalf("append event: %v", err)
	}
	return appended
}
