package projection

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/quillon/warehouse/internal/platform/errors"
	"github.com/quillon/warehouse/internal/platform/id"
	"github.com/quillon/warehouse/internal/warehouse/domain/event"
)

// rebuildLeaseTTL bounds how long a crashed rebuild can block the next one.
const rebuildLeaseTTL = 5 * time.Minute

// replayBatchSize is the page size for the global-order event scan.
const replayBatchSize = 500

// Store is the storage surface the rebuilder needs.
type Store interface {
	AcquireLease(ctx context.Context, resource, holder string, ttl time.Duration) error
	ReleaseLease(ctx context.Context, resource, holder string) error
	LeaseHolder(ctx context.Context, resource string) (string, bool, error)
	ListEventsAfter(ctx context.Context, afterGlobalSeq uint64, limit int) ([]event.Event, error)
	ListViewRows(ctx context.Context, name string) ([]Row, error)
	WriteShadowRows(ctx context.Context, name string, rows []Row) error
	SwapShadow(ctx context.Context, name string) error
	DropShadow(ctx context.Context, name string) error
	ShadowExists(ctx context.Context, name string) (bool, error)
}

// Result summarizes one rebuild run.
type Result struct {
	EventsProcessed int64
	ChecksumMatch   bool
	Swapped         bool
}

// StatusResult reports whether a rebuild currently holds the projection.
type StatusResult struct {
	Locked bool
	Holder string
}

// Rebuilder replays the full journal into a shadow view and atomically
// swaps it in.
type Rebuilder struct {
	store  Store
	logger *zap.Logger
}

// NewRebuilder returns a rebuilder backed by store.
func NewRebuilder(store Store, logger *zap.Logger) *Rebuilder {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Rebuilder{store: store, logger: logger}
}

func leaseResource(name string) string {
	return "projection/" + name
}

// Rebuild replays every ledger event in global order into a fresh shadow
// table, optionally verifies a field checksum against the live view, and
// swaps the shadow in. A concurrent rebuild observes the lease and fails
// fast; it never blocks.
func (r *Rebuilder) Rebuild(ctx context.Context, name string, verify bool) (Result, error) {
	if name != ViewName {
		return Result{}, errors.New(errors.CodeProjectionUnknown, fmt.Sprintf("unknown projection %q", name))
	}

	holder := id.New()
	resource := leaseResource(name)
	if err := r.store.AcquireLease(ctx, resource, holder, rebuildLeaseTTL); err != nil {
		if current, held, statusErr := r.store.LeaseHolder(ctx, resource); statusErr == nil && held {
			return Result{}, errors.WithMetadata(errors.CodeIdempotencyInProgress,
				"rebuild already running", map[string]string{"holder": current})
		}
		return Result{}, fmt.Errorf("acquire rebuild lease: %w", err)
	}
	defer func() {
		releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
		defer cancel()
		if err := r.store.ReleaseLease(releaseCtx, resource, holder); err != nil {
			r.logger.Warn("release rebuild lease", zap.String("projection", name), zap.Error(err))
		}
	}()

	result := Result{}
	rows := make(map[Key]*Row)
	var afterSeq uint64
	for {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		batch, err := r.store.ListEventsAfter(ctx, afterSeq, replayBatchSize)
		if err != nil {
			return result, fmt.Errorf("list events after %d: %w", afterSeq, err)
		}
		if len(batch) == 0 {
			break
		}
		for _, evt := range batch {
			deltas, err := Deltas(evt)
			if err != nil {
				return result, fmt.Errorf("fold event %d: %w", evt.GlobalSeq, err)
			}
			FoldInto(rows, deltas)
			result.EventsProcessed++
			afterSeq = evt.GlobalSeq
		}
	}

	rebuilt := make([]Row, 0, len(rows))
	for _, row := range rows {
		if row.OnHand == 0 && row.HardLocked == 0 {
			continue
		}
		rebuilt = append(rebuilt, *row)
	}

	if err := r.store.WriteShadowRows(ctx, name, rebuilt); err != nil {
		return result, fmt.Errorf("write shadow rows: %w", err)
	}

	if verify {
		live, err := r.store.ListViewRows(ctx, name)
		if err != nil {
			return result, fmt.Errorf("list live rows: %w", err)
		}
		liveSum := Checksum(live)
		rebuiltSum := Checksum(rebuilt)
		result.ChecksumMatch = liveSum == rebuiltSum
		if !result.ChecksumMatch {
			if dropErr := r.store.DropShadow(ctx, name); dropErr != nil {
				r.logger.Warn("drop shadow after mismatch", zap.String("projection", name), zap.Error(dropErr))
			}
			r.logger.Error("rebuild checksum mismatch",
				zap.String("projection", name),
				zap.String("live", liveSum),
				zap.String("rebuilt", rebuiltSum),
				zap.Int64("events", result.EventsProcessed))
			return result, errors.WithMetadata(errors.CodeProjectionChecksumMismatch,
				"rebuilt view disagrees with live view",
				map[string]string{"live": liveSum, "rebuilt": rebuiltSum})
		}
	}

	if err := r.store.SwapShadow(ctx, name); err != nil {
		return result, fmt.Errorf("swap shadow: %w", err)
	}
	result.Swapped = true
	r.logger.Info("projection rebuilt",
		zap.String("projection", name),
		zap.Int64("events", result.EventsProcessed),
		zap.Int("rows", len(rebuilt)),
		zap.Bool("verified", verify))
	return result, nil
}

// Status reports whether a rebuild currently holds the projection lease.
func (r *Rebuilder) Status(ctx context.Context, name string) (StatusResult, error) {
	if name != ViewName {
		return StatusResult{}, errors.New(errors.CodeProjectionUnknown, fmt.Sprintf("unknown projection %q", name))
	}
	holder, held, err := r.store.LeaseHolder(ctx, leaseResource(name))
	if err != nil {
		return StatusResult{}, fmt.Errorf("lease holder: %w", err)
	}
	return StatusResult{Locked: held, Holder: holder}, nil
}

// CleanupShadow drops an orphaned shadow table left behind by a crashed
// rebuild. It refuses to touch the shadow while a rebuild lease is active.
func (r *Rebuilder) CleanupShadow(ctx context.Context, name string) (bool, error) {
	if name != ViewName {
		return false, errors.New(errors.CodeProjectionUnknown, fmt.Sprintf("unknown projection %q", name))
	}
	holder, held, err := r.store.LeaseHolder(ctx, leaseResource(name))
	if err != nil {
		return false, fmt.Errorf("lease holder: %w", err)
	}
	if held {
		return false, errors.WithMetadata(errors.CodeIdempotencyInProgress,
			"rebuild in progress", map[string]string{"holder": holder})
	}
	exists, err := r.store.ShadowExists(ctx, name)
	if err != nil {
		return false, fmt.Errorf("shadow exists: %w", err)
	}
	if !exists {
		return false, nil
	}
	if err := r.store.DropShadow(ctx, name); err != nil {
		return false, fmt.Errorf("drop shadow: %w", err)
	}
	r.logger.Info("orphaned shadow dropped", zap.String("projection", name))
	return true, nil
}
