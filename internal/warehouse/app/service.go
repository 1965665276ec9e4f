// Package app orchestrates warehouse commands across the ledger, the
// aggregates, the available-stock view, and the idempotency store. The
// ordering contract everywhere is ledger first: physical stock truth is
// committed before any bookkeeping that refers to it.
package app

import (
	"context"
	stderrors "errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/quillon/warehouse/internal/platform/errors"
	"github.com/quillon/warehouse/internal/platform/retry"
	"github.com/quillon/warehouse/internal/platform/ttlcache"
	"github.com/quillon/warehouse/internal/warehouse/domain/command"
	"github.com/quillon/warehouse/internal/warehouse/domain/event"
	"github.com/quillon/warehouse/internal/warehouse/projection"
	"github.com/quillon/warehouse/internal/warehouse/storage"
)

// masterDataTTL bounds how stale a cached SKU or location lookup may be.
const masterDataTTL = 30 * time.Second

// Store is the persistence surface the orchestrators need. *sqlite.Store
// implements it.
type Store interface {
	AppendEvent(ctx context.Context, evt event.Event, expectedVersion int64) (event.Event, error)
	StreamVersion(ctx context.Context, streamKey string) (int64, error)
	ListStream(ctx context.Context, streamKey string) ([]event.Event, error)
	ListIncompleteTransferStreams(ctx context.Context) ([]string, error)

	GetViewRow(ctx context.Context, warehouseID, location, sku string) (projection.Row, error)
	ListAvailableBySKU(ctx context.Context, warehouseID, sku string) ([]projection.Row, error)
	ListTransitRows(ctx context.Context, location string, updatedBefore time.Time) ([]projection.Row, error)

	ReserveCommand(ctx context.Context, commandID string, now time.Time) (bool, storage.CommandRecord, error)
	RecordCommandResult(ctx context.Context, commandID string, status storage.CommandStatus, resultJSON []byte, now time.Time) error
	ReleaseCommand(ctx context.Context, commandID string) error

	AcquireLease(ctx context.Context, resource, holder string, ttl time.Duration) error
	ReleaseLease(ctx context.Context, resource, holder string) error
	LeaseHolder(ctx context.Context, resource string) (string, bool, error)

	GetSKU(ctx context.Context, sku string) (storage.SKU, error)
	PutSKU(ctx context.Context, record storage.SKU) error
	GetLocation(ctx context.Context, warehouseID, location string) (storage.Location, error)
	PutLocation(ctx context.Context, record storage.Location) error
	EnsureTransitLocation(ctx context.Context, warehouseID string) error
}

// Service orchestrates warehouse commands.
type Service struct {
	store  Store
	logger *zap.Logger
	now    func() time.Time
	policy retry.Policy

	skuCache *ttlcache.Cache[string, bool]
	locCache *ttlcache.Cache[string, bool]
}

// Option configures a Service.
type Option func(*Service)

// WithClock overrides the time source. Intended for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// WithRetryPolicy overrides the append retry policy. Intended for tests.
func WithRetryPolicy(policy retry.Policy) Option {
	return func(s *Service) {
		s.policy = policy
	}
}

// NewService returns an orchestrator backed by store.
func NewService(store Store, logger *zap.Logger, opts ...Option) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Service{
		store:    store,
		logger:   logger,
		now:      time.Now,
		policy:   retry.DefaultPolicy,
		skuCache: ttlcache.New[string, bool](masterDataTTL),
		locCache: ttlcache.New[string, bool](masterDataTTL),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// GetAvailableStock returns the live view row for one
// (warehouse, location, sku). A missing row is a zero balance, not an
// error.
func (s *Service) GetAvailableStock(ctx context.Context, warehouseID, location, sku string) (projection.Row, error) {
	row, err := s.store.GetViewRow(ctx, warehouseID, location, sku)
	if err != nil {
		if stderrors.Is(err, storage.ErrNotFound) {
			return projection.Row{WarehouseID: warehouseID, Location: location, SKU: sku}, nil
		}
		return projection.Row{}, errors.Wrap(errors.CodeInternal, "read available stock", err)
	}
	return row, nil
}

// appendDecision folds a decision into the journal under optimistic
// concurrency: the state the decider saw is pinned by observedVersion, so
// a concurrent writer surfaces as CONCURRENCY_CONFLICT rather than a lost
// update. Rejections short-circuit without touching storage.
func (s *Service) appendDecision(ctx context.Context, decision command.Decision, observedVersion int64) ([]event.Event, error) {
	if decision.Rejected() {
		return nil, rejectionError(decision.Rejections[0])
	}

	appended := make([]event.Event, 0, len(decision.Events))
	version := observedVersion
	for _, evt := range decision.Events {
		stored, err := s.store.AppendEvent(ctx, evt, version)
		if err != nil {
			if stderrors.Is(err, storage.ErrVersionConflict) {
				return appended, errors.Wrap(errors.CodeConcurrencyConflict, "concurrent writer committed first", err)
			}
			return appended, errors.Wrap(errors.CodeInternal, "append event", err)
		}
		appended = append(appended, stored)
		version = int64(stored.StreamSeq)
	}
	return appended, nil
}

// decideAndAppend replays the stream, runs decide against the fresh state,
// and appends the outcome, retrying the whole read-decide-append loop on
// concurrency conflicts.
func (s *Service) decideAndAppend(
	ctx context.Context,
	streamKey string,
	decide func(events []event.Event) (command.Decision, error),
) ([]event.Event, error) {
	var appended []event.Event
	err := retry.Do(ctx, s.policy, retryableErr, func(ctx context.Context) error {
		events, err := s.store.ListStream(ctx, streamKey)
		if err != nil {
			return errors.Wrap(errors.CodeInternal, "replay stream", err)
		}
		decision, err := decide(events)
		if err != nil {
			return err
		}
		appended, err = s.appendDecision(ctx, decision, int64(len(events)))
		return err
	})
	if err != nil {
		return nil, err
	}
	return appended, nil
}

func retryableErr(err error) bool {
	return errors.CodeOf(err).Retryable()
}

// rejectionError lifts a decider rejection into the error taxonomy.
// Rejection codes and error codes share one namespace.
func rejectionError(rejection command.Rejection) error {
	return errors.New(errors.Code(rejection.Code), rejection.Message)
}

// requireSKU validates referential existence of a sku against master data
// through the scoped TTL cache.
func (s *Service) requireSKU(ctx context.Context, sku string) error {
	if ok, hit := s.skuCache.Get(sku); hit && ok {
		return nil
	}
	record, err := s.store.GetSKU(ctx, sku)
	if err != nil {
		if stderrors.Is(err, storage.ErrNotFound) {
			return errors.New(errors.CodeNotFound, fmt.Sprintf("unknown sku %s", sku))
		}
		return errors.Wrap(errors.CodeInternal, "look up sku", err)
	}
	if !record.Active {
		return errors.New(errors.CodeValidation, fmt.Sprintf("sku %s is inactive", sku))
	}
	s.skuCache.Put(sku, true)
	return nil
}

// requireLocation validates referential existence of a location.
func (s *Service) requireLocation(ctx context.Context, warehouseID, location string) error {
	key := warehouseID + "/" + location
	if ok, hit := s.locCache.Get(key); hit && ok {
		return nil
	}
	record, err := s.store.GetLocation(ctx, warehouseID, location)
	if err != nil {
		if stderrors.Is(err, storage.ErrNotFound) {
			return errors.New(errors.CodeNotFound, fmt.Sprintf("unknown location %s/%s", warehouseID, location))
		}
		return errors.Wrap(errors.CodeInternal, "look up location", err)
	}
	if !record.Active {
		return errors.New(errors.CodeValidation, fmt.Sprintf("location %s/%s is inactive", warehouseID, location))
	}
	s.locCache.Put(key, true)
	return nil
}
