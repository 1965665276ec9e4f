package bus

import (
	"context"
	stderrors "errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/quillon/warehouse/internal/warehouse/domain/event"
	"github.com/quillon/warehouse/internal/warehouse/domain/movement"
	"github.com/quillon/warehouse/internal/warehouse/storage/sqlite"
)

type fakePublisher struct {
	published []event.Event
	failures  int
}

func (p *fakePublisher) Publish(_ context.Context, evt event.Event) error {
	if p.failures > 0 {
		p.failures--
		return stderrors.New("broker unreachable")
	}
	p.published = append(p.published, evt)
	return nil
}

func (p *fakePublisher) Close() error { return nil }

func newTestStore(t *testing.T) *sqlite.Store {
	t.Helper()
	store, err := sqlite.Open(filepath.Join(t.TempDir(), "warehouse.db"))
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

func appendTestMovement(t *testing.T, store *sqlite.Store, id string, expectedVersion int64) event.Event {
	t.Helper()
	m := movement.Movement{
		ID:          id,
		WarehouseID: "WH1",
		SKU:         "SKU-100",
		Quantity:    10,
		ToLocation:  "A-01",
		Type:        movement.TypeReceipt,
		OperatorID:  "op-1",
		Timestamp:   time.Now().UTC(),
	}
	evt, err := m.ToEvent("cmd-" + id)
	if err != nil {
		t.Fatalf("build event: %v", err)
	}
	stored, err := store.AppendEvent(context.Background(), evt, expectedVersion)
	if err != nil {
		t.Fatalf("append event: %v", err)
	}
	return stored
}

func TestDrainPublishesPendingRows(t *testing.T) {
	store := newTestStore(t)
	publisher := &fakePublisher{}
	worker := NewWorker(store, publisher, nil, Config{})

	first := appendTestMovement(t, store, "mov-1", 0)
	second := appendTestMovement(t, store, "mov-2", 1)

	published, err := worker.Drain(context.Background())
	if err != nil {
		t.Fatalf("drain: %v", err)
	}
	if published != 2 {
		t.Fatalf("expected 2 published, got %d", published)
	}
	if len(publisher.published) != 2 ||
		publisher.published[0].GlobalSeq != first.GlobalSeq ||
		publisher.published[1].GlobalSeq != second.GlobalSeq {
		t.Fatalf("unexpected publish order: %+v", publisher.published)
	}

	summary, err := store.GetOutboxSummary(context.Background())
	if err != nil {
		t.Fatalf("summary: %v", err)
	}
	if summary.PendingCount+summary.ProcessingCount+summary.FailedCount+summary.DeadCount != 0 {
		t.Fatalf("expected an empty outbox, got %+v", summary)
	}
}

func TestDrainReschedulesFailedPublish(t *testing.T) {
	store := newTestStore(t)
	publisher := &fakePublisher{failures: 1}
	worker := NewWorker(store, publisher, nil, Config{})

	appendTestMovement(t, store, "mov-1", 0)

	published, err := worker.Drain(context.Background())
	if err != nil {
		t.Fatalf("drain: %v", err)
	}
	if published != 0 {
		t.Fatalf("expected nothing published, got %d", published)
	}
	summary, err := store.GetOutboxSummary(context.Background())
	if err != nil {
		t.Fatalf("summary: %v", err)
	}
	if summary.FailedCount != 1 {
		t.Fatalf("expected the row rescheduled as failed, got %+v", summary)
	}

	// Not due yet: an immediate second drain claims nothing.
	published, err = worker.Drain(context.Background())
	if err != nil {
		t.Fatalf("second drain: %v", err)
	}
	if published != 0 {
		t.Fatalf("expected the backoff to defer the row, got %d published", published)
	}

	// Once the backoff elapses the row publishes.
	worker.now = func() time.Time { return time.Now().Add(sqlite.OutboxRetryBackoff(1) + time.Second) }
	published, err = worker.Drain(context.Background())
	if err != nil {
		t.Fatalf("third drain: %v", err)
	}
	if published != 1 {
		t.Fatalf("expected the retried row to publish, got %d", published)
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	store := newTestStore(t)
	worker := NewWorker(store, &fakePublisher{}, nil, Config{PollInterval: 10 * time.Millisecond})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- worker.Run(ctx)
	}()
	cancel()

	select {
	case err := <-done:
		if !stderrors.Is(err, context.Canceled) {
			t.Fatalf("expected context.Canceled, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not stop")
	}
}
