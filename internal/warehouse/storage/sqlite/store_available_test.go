package sqlite

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/quillon/warehouse/internal/warehouse/projection"
	"github.com/quillon/warehouse/internal/warehouse/storage"
)

func TestGetViewRowNotFound(t *testing.T) {
	store := newTestStore(t)
	if _, err := store.GetViewRow(context.Background(), "WH1", "A-01", "SKU-100"); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestListAvailableBySKUOrdersByAvailableDesc(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	appendMovement(t, store, testMovement("mov-1", "", "A-01", 10), 0)
	appendMovement(t, store, testMovement("mov-2", "", "B-02", 50), 0)
	appendMovement(t, store, testMovement("mov-3", "", "C-03", 30), 0)

	rows, err := store.ListAvailableBySKU(ctx, "WH1", "SKU-100")
	if err != nil {
		t.Fatalf("list available: %v", err)
	}
	if len(rows) != 3 {
		t.Fatalf("expected 3 rows, got %d", len(rows))
	}
	if rows[0].Location != "B-02" || rows[1].Location != "C-03" || rows[2].Location != "A-01" {
		t.Fatalf("unexpected order: %+v", rows)
	}
}

func TestShadowLifecycle(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	exists, err := store.ShadowExists(ctx, projection.ViewName)
	if err != nil {
		t.Fatalf("shadow exists: %v", err)
	}
	if exists {
		t.Fatal("expected no shadow on a fresh store")
	}

	rows := []projection.Row{
		{WarehouseID: "WH1", Location: "A-01", SKU: "SKU-100", OnHand: 70},
		{WarehouseID: "WH1", Location: "B-02", SKU: "SKU-100", OnHand: 30, HardLocked: 10},
	}
	if err := store.WriteShadowRows(ctx, projection.ViewName, rows); err != nil {
		t.Fatalf("write shadow: %v", err)
	}
	exists, err = store.ShadowExists(ctx, projection.ViewName)
	if err != nil {
		t.Fatalf("shadow exists: %v", err)
	}
	if !exists {
		t.Fatal("expected a shadow table after write")
	}

	if err := store.SwapShadow(ctx, projection.ViewName); err != nil {
		t.Fatalf("swap shadow: %v", err)
	}
	exists, err = store.ShadowExists(ctx, projection.ViewName)
	if err != nil {
		t.Fatalf("shadow exists: %v", err)
	}
	if exists {
		t.Fatal("expected the shadow to be consumed by the swap")
	}

	live, err := store.ListViewRows(ctx, projection.ViewName)
	if err != nil {
		t.Fatalf("list view rows: %v", err)
	}
	if len(live) != 2 {
		t.Fatalf("expected 2 live rows after swap, got %d", len(live))
	}

	row, err := store.GetViewRow(ctx, "WH1", "B-02", "SKU-100")
	if err != nil {
		t.Fatalf("get view row: %v", err)
	}
	if row.OnHand != 30 || row.HardLocked != 10 || row.Available() != 20 {
		t.Fatalf("unexpected row after swap: %+v", row)
	}
}

func TestSwapPreservesAppendPath(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	appendMovement(t, store, testMovement("mov-1", "", "A-01", 100), 0)
	if err := store.WriteShadowRows(ctx, projection.ViewName, []projection.Row{
		{WarehouseID: "WH1", Location: "A-01", SKU: "SKU-100", OnHand: 100},
	}); err != nil {
		t.Fatalf("write shadow: %v", err)
	}
	if err := store.SwapShadow(ctx, projection.ViewName); err != nil {
		t.Fatalf("swap shadow: %v", err)
	}

	// Appends after a swap must keep updating the renamed table.
	appendMovement(t, store, testMovement("mov-2", "A-01", "B-02", 40), 1)
	row, err := store.GetViewRow(ctx, "WH1", "A-01", "SKU-100")
	if err != nil {
		t.Fatalf("get view row: %v", err)
	}
	if row.OnHand != 60 {
		t.Fatalf("expected 60 on hand after post-swap append, got %d", row.OnHand)
	}
}

func TestDropShadow(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	if err := store.WriteShadowRows(ctx, projection.ViewName, nil); err != nil {
		t.Fatalf("write shadow: %v", err)
	}
	if err := store.DropShadow(ctx, projection.ViewName); err != nil {
		t.Fatalf("drop shadow: %v", err)
	}
	exists, err := store.ShadowExists(ctx, projection.ViewName)
	if err != nil {
		t.Fatalf("shadow exists: %v", err)
	}
	if exists {
		t.Fatal("expected the shadow to be gone")
	}
}

func TestListTransitRows(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	appendMovement(t, store, testMovement("mov-1", "", "TRANSIT", 25), 0)
	appendMovement(t, store, testMovement("mov-2", "", "A-01", 10), 0)

	rows, err := store.ListTransitRows(ctx, "TRANSIT", time.Now().UTC().Add(time.Minute))
	if err != nil {
		t.Fatalf("list transit rows: %v", err)
	}
	if len(rows) != 1 || rows[0].Location != "TRANSIT" || rows[0].OnHand != 25 {
		t.Fatalf("unexpected transit rows: %+v", rows)
	}

	rows, err = store.ListTransitRows(ctx, "TRANSIT", time.Now().UTC().Add(-time.Hour))
	if err != nil {
		t.Fatalf("list transit rows: %v", err)
	}
	if len(rows) != 0 {
		t.Fatalf("expected the age threshold to filter fresh rows, got %+v", rows)
	}
}

func TestUnknownProjectionName(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	if _, err := store.ListViewRows(ctx, "nope"); err == nil {
		t.Fatal("expected an error for an unknown projection")
	}
	if err := store.WriteShadowRows(ctx, "nope", nil); err == nil {
		t.Fatal("expected an error for an unknown projection")
	}
}
