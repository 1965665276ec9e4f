package app

import (
	"context"
	"strings"

	"github.com/quillon/warehouse/internal/platform/errors"
	"github.com/quillon/warehouse/internal/warehouse/domain/transfer"
	"github.com/quillon/warehouse/internal/warehouse/storage"
)

// RegisterSKU upserts a master-data SKU record.
func (s *Service) RegisterSKU(ctx context.Context, record storage.SKU) error {
	if strings.TrimSpace(record.SKU) == "" {
		return errors.New(errors.CodeValidation, "sku is required")
	}
	if err := s.store.PutSKU(ctx, record); err != nil {
		return errors.Wrap(errors.CodeInternal, "put sku", err)
	}
	s.skuCache.Invalidate(record.SKU)
	return nil
}

// RegisterLocation upserts a master-data location record. The transit
// location is managed by transfer execution and cannot be registered.
func (s *Service) RegisterLocation(ctx context.Context, record storage.Location) error {
	if strings.TrimSpace(record.WarehouseID) == "" || strings.TrimSpace(record.Location) == "" {
		return errors.New(errors.CodeValidation, "warehouse id and location are required")
	}
	if record.Location == transfer.TransitLocation {
		return errors.New(errors.CodeValidation, "the transit location is managed internally")
	}
	if err := s.store.PutLocation(ctx, record); err != nil {
		return errors.Wrap(errors.CodeInternal, "put location", err)
	}
	s.locCache.Invalidate(record.WarehouseID + "/" + record.Location)
	return nil
}
