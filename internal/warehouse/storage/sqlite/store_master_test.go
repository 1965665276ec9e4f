package sqlite

import (
	"context"
	"errors"
	"testing"

	"github.com/quillon/warehouse/internal/warehouse/domain/transfer"
	"github.com/quillon/warehouse/internal/warehouse/storage"
)

func TestPutGetSKU(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	if err := store.PutSKU(ctx, storage.SKU{SKU: "SKU-100", Description: "widget", Active: true}); err != nil {
		t.Fatalf("put sku: %v", err)
	}

	record, err := store.GetSKU(ctx, "SKU-100")
	if err != nil {
		t.Fatalf("get sku: %v", err)
	}
	if record.Description != "widget" || !record.Active {
		t.Fatalf("unexpected sku: %+v", record)
	}

	if err := store.PutSKU(ctx, storage.SKU{SKU: "SKU-100", Description: "widget v2", Active: false}); err != nil {
		t.Fatalf("update sku: %v", err)
	}
	record, err = store.GetSKU(ctx, "SKU-100")
	if err != nil {
		t.Fatalf("get sku: %v", err)
	}
	if record.Description != "widget v2" || record.Active {
		t.Fatalf("expected the upsert to update, got %+v", record)
	}

	if _, err := store.GetSKU(ctx, "SKU-999"); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestPutGetLocation(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	if err := store.PutLocation(ctx, storage.Location{WarehouseID: "WH1", Location: "A-01", Active: true}); err != nil {
		t.Fatalf("put location: %v", err)
	}

	record, err := store.GetLocation(ctx, "WH1", "A-01")
	if err != nil {
		t.Fatalf("get location: %v", err)
	}
	if record.Kind != storage.LocationKindBin || !record.Active {
		t.Fatalf("unexpected location: %+v", record)
	}

	if _, err := store.GetLocation(ctx, "WH1", "Z-99"); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestEnsureTransitLocation(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	if err := store.EnsureTransitLocation(ctx, "WH1"); err != nil {
		t.Fatalf("ensure transit: %v", err)
	}
	record, err := store.GetLocation(ctx, "WH1", transfer.TransitLocation)
	if err != nil {
		t.Fatalf("get transit: %v", err)
	}
	if record.Kind != storage.LocationKindVirtual || !record.Active {
		t.Fatalf("unexpected transit location: %+v", record)
	}

	// Idempotent on repeat.
	if err := store.EnsureTransitLocation(ctx, "WH1"); err != nil {
		t.Fatalf("ensure transit again: %v", err)
	}
}
