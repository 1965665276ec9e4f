package bus

import (
	"context"
	stderrors "errors"
	"time"

	"go.uber.org/zap"

	"github.com/quillon/warehouse/internal/warehouse/domain/event"
	"github.com/quillon/warehouse/internal/warehouse/storage"
	"github.com/quillon/warehouse/internal/warehouse/storage/sqlite"
)

const (
	defaultPollInterval = 2 * time.Second
	defaultBatchSize    = 50
)

// Store is the outbox surface the worker drains. *sqlite.Store
// implements it.
type Store interface {
	ClaimOutboxDue(ctx context.Context, now time.Time, limit int) ([]storage.OutboxEntry, error)
	GetEventByGlobalSeq(ctx context.Context, globalSeq uint64) (event.Event, error)
	CompleteOutboxRow(ctx context.Context, globalSeq int64) error
	MarkOutboxRetry(ctx context.Context, globalSeq int64, attempt int, nextAttemptAt time.Time, lastError string, now time.Time) error
}

// Config controls the worker loop.
type Config struct {
	PollInterval time.Duration
	BatchSize    int
}

func (c Config) normalized() Config {
	if c.PollInterval <= 0 {
		c.PollInterval = defaultPollInterval
	}
	if c.BatchSize <= 0 {
		c.BatchSize = defaultBatchSize
	}
	return c
}

// Worker drains the outbox to a publisher. Rows that fail to publish are
// rescheduled with exponential backoff; the store dead-letters them after
// repeated failures.
type Worker struct {
	store     Store
	publisher Publisher
	logger    *zap.Logger
	cfg       Config
	now       func() time.Time
}

// NewWorker returns a worker over store and publisher.
func NewWorker(store Store, publisher Publisher, logger *zap.Logger, cfg Config) *Worker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Worker{
		store:     store,
		publisher: publisher,
		logger:    logger,
		cfg:       cfg.normalized(),
		now:       time.Now,
	}
}

// Run polls the outbox until the context is cancelled.
func (w *Worker) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.cfg.PollInterval)
	defer ticker.Stop()

	for {
		if _, err := w.Drain(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			w.logger.Error("drain outbox", zap.Error(err))
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Drain claims and publishes every due outbox row, batch by batch, until
// the outbox has nothing due. It returns how many rows were published.
func (w *Worker) Drain(ctx context.Context) (int, error) {
	published := 0
	for {
		if err := ctx.Err(); err != nil {
			return published, err
		}
		entries, err := w.store.ClaimOutboxDue(ctx, w.now().UTC(), w.cfg.BatchSize)
		if err != nil {
			return published, err
		}
		if len(entries) == 0 {
			return published, nil
		}
		for _, entry := range entries {
			if w.processEntry(ctx, entry) {
				published++
			}
		}
	}
}

func (w *Worker) processEntry(ctx context.Context, entry storage.OutboxEntry) bool {
	evt, err := w.store.GetEventByGlobalSeq(ctx, uint64(entry.GlobalSeq))
	if err != nil {
		if stderrors.Is(err, storage.ErrNotFound) {
			// The event is gone; the row can never publish.
			if err := w.store.CompleteOutboxRow(ctx, entry.GlobalSeq); err != nil {
				w.logger.Error("drop orphaned outbox row",
					zap.Int64("global_seq", entry.GlobalSeq),
					zap.Error(err))
			}
			return false
		}
		w.retryEntry(ctx, entry, err)
		return false
	}

	if err := w.publisher.Publish(ctx, evt); err != nil {
		w.retryEntry(ctx, entry, err)
		return false
	}
	if err := w.store.CompleteOutboxRow(ctx, entry.GlobalSeq); err != nil {
		w.logger.Error("complete outbox row",
			zap.Int64("global_seq", entry.GlobalSeq),
			zap.Error(err))
		return false
	}
	return true
}

func (w *Worker) retryEntry(ctx context.Context, entry storage.OutboxEntry, cause error) {
	now := w.now().UTC()
	attempt := entry.AttemptCount + 1
	next := now.Add(sqlite.OutboxRetryBackoff(attempt))
	if err := w.store.MarkOutboxRetry(ctx, entry.GlobalSeq, attempt, next, cause.Error(), now); err != nil {
		w.logger.Error("mark outbox retry",
			zap.Int64("global_seq", entry.GlobalSeq),
			zap.Error(err))
		return
	}
	w.logger.Warn("publish failed, rescheduled",
		zap.Int64("global_seq", entry.GlobalSeq),
		zap.String("event_type", entry.EventType),
		zap.Int("attempt", attempt),
		zap.Time("next_attempt_at", next),
		zap.Error(cause))
}
