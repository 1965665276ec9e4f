package sqlite

import (
	"context"
	"errors"
	"testing"

	"github.com/quillon/warehouse/internal/warehouse/storage"
)

func TestAppendEventAssignsSequences(t *testing.T) {
	store := newTestStore(t)

	first := appendMovement(t, store, testMovement("mov-1", "", "A-01", 100), 0)
	if first.StreamSeq != 1 || first.GlobalSeq == 0 {
		t.Fatalf("unexpected sequences: %+v", first)
	}

	second := appendMovement(t, store, testMovement("mov-2", "A-01", "B-02", 30), 1)
	if second.StreamSeq != 1 {
		t.Fatalf("expected a fresh stream for the outbound movement, got seq %d", second.StreamSeq)
	}
	if second.GlobalSeq <= first.GlobalSeq {
		t.Fatalf("expected monotonic global order, got %d after %d", second.GlobalSeq, first.GlobalSeq)
	}
}

func TestAppendEventVersionConflict(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	appendMovement(t, store, testMovement("mov-1", "", "A-01", 100), 0)

	evt, err := testMovement("mov-2", "", "A-01", 10).ToEvent("cmd-mov-2")
	if err != nil {
		t.Fatalf("to event: %v", err)
	}
	if _, err := store.AppendEvent(ctx, evt, 0); !errors.Is(err, storage.ErrVersionConflict) {
		t.Fatalf("expected version conflict, got %v", err)
	}

	version, err := store.StreamVersion(ctx, evt.StreamKey)
	if err != nil {
		t.Fatalf("stream version: %v", err)
	}
	if version != 1 {
		t.Fatalf("expected the conflicting append to commit nothing, head is %d", version)
	}
}

func TestAppendEventAnyVersion(t *testing.T) {
	store := newTestStore(t)

	appendMovement(t, store, testMovement("mov-1", "", "A-01", 100), 0)
	evt := appendMovement(t, store, testMovement("mov-2", "", "A-01", 10), ExpectedVersionAny)
	if evt.StreamSeq != 2 {
		t.Fatalf("expected seq 2, got %d", evt.StreamSeq)
	}
}

func TestAppendEventUpdatesViewInSameTransaction(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	appendMovement(t, store, testMovement("mov-1", "", "A-01", 100), 0)
	appendMovement(t, store, testMovement("mov-2", "A-01", "B-02", 30), 1)

	source, err := store.GetViewRow(ctx, "WH1", "A-01", "SKU-100")
	if err != nil {
		t.Fatalf("get view row: %v", err)
	}
	if source.OnHand != 70 {
		t.Fatalf("expected 70 on hand at source, got %d", source.OnHand)
	}
	dest, err := store.GetViewRow(ctx, "WH1", "B-02", "SKU-100")
	if err != nil {
		t.Fatalf("get view row: %v", err)
	}
	if dest.OnHand != 30 {
		t.Fatalf("expected 30 on hand at destination, got %d", dest.OnHand)
	}
}

func TestAppendEventEnqueuesOutboxRow(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	evt := appendMovement(t, store, testMovement("mov-1", "", "A-01", 100), 0)

	summary, err := store.GetOutboxSummary(ctx)
	if err != nil {
		t.Fatalf("outbox summary: %v", err)
	}
	if summary.PendingCount != 1 || summary.OldestPendingSeq != int64(evt.GlobalSeq) {
		t.Fatalf("unexpected outbox summary: %+v", summary)
	}
}

func TestListStreamOrder(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	appendMovement(t, store, testMovement("mov-1", "", "A-01", 100), 0)
	appendMovement(t, store, testMovement("mov-2", "", "A-01", 50), 1)

	events, err := store.ListStream(ctx, "stock/WH1/A-01/SKU-100")
	if err != nil {
		t.Fatalf("list stream: %v", err)
	}
	if len(events) != 2 || events[0].StreamSeq != 1 || events[1].StreamSeq != 2 {
		t.Fatalf("unexpected stream order: %+v", events)
	}
}

func TestListEventsAfterPaging(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	appendMovement(t, store, testMovement("mov-1", "", "A-01", 100), 0)
	appendMovement(t, store, testMovement("mov-2", "A-01", "B-02", 30), 1)
	appendMovement(t, store, testMovement("mov-3", "", "A-01", 10), 2)

	page, err := store.ListEventsAfter(ctx, 0, 2)
	if err != nil {
		t.Fatalf("list events: %v", err)
	}
	if len(page) != 2 {
		t.Fatalf("expected 2 events, got %d", len(page))
	}

	rest, err := store.ListEventsAfter(ctx, page[1].GlobalSeq, 10)
	if err != nil {
		t.Fatalf("list events: %v", err)
	}
	if len(rest) != 1 {
		t.Fatalf("expected 1 remaining event, got %d", len(rest))
	}
	if rest[0].GlobalSeq <= page[1].GlobalSeq {
		t.Fatalf("expected strictly increasing global order")
	}
}

func TestGetEventByGlobalSeq(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	evt := appendMovement(t, store, testMovement("mov-1", "", "A-01", 100), 0)

	loaded, err := store.GetEventByGlobalSeq(ctx, evt.GlobalSeq)
	if err != nil {
		t.Fatalf("get event: %v", err)
	}
	if loaded.CommandID != "cmd-mov-1" || loaded.StreamKey != evt.StreamKey {
		t.Fatalf("unexpected event: %+v", loaded)
	}

	if _, err := store.GetEventByGlobalSeq(ctx, 9999); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}
