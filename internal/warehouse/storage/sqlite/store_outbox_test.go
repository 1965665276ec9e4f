package sqlite

import (
	"context"
	"testing"
	"time"
)

func TestClaimOutboxDue(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	first := appendMovement(t, store, testMovement("mov-1", "", "A-01", 100), 0)
	second := appendMovement(t, store, testMovement("mov-2", "", "A-01", 50), 1)

	claimed, err := store.ClaimOutboxDue(ctx, now.Add(time.Second), 10)
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if len(claimed) != 2 {
		t.Fatalf("expected 2 claimed rows, got %d", len(claimed))
	}
	if claimed[0].GlobalSeq != int64(first.GlobalSeq) || claimed[1].GlobalSeq != int64(second.GlobalSeq) {
		t.Fatalf("unexpected claim order: %+v", claimed)
	}

	again, err := store.ClaimOutboxDue(ctx, now.Add(time.Second), 10)
	if err != nil {
		t.Fatalf("claim again: %v", err)
	}
	if len(again) != 0 {
		t.Fatalf("expected processing rows to stay claimed, got %+v", again)
	}
}

func TestClaimOutboxReclaimsStaleProcessing(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	appendMovement(t, store, testMovement("mov-1", "", "A-01", 100), 0)
	if _, err := store.ClaimOutboxDue(ctx, now, 10); err != nil {
		t.Fatalf("claim: %v", err)
	}

	// A worker that died mid-publish loses its claim after the lease.
	later := now.Add(outboxProcessingLease + time.Second)
	reclaimed, err := store.ClaimOutboxDue(ctx, later, 10)
	if err != nil {
		t.Fatalf("reclaim: %v", err)
	}
	if len(reclaimed) != 1 {
		t.Fatalf("expected the stale row to be reclaimed, got %+v", reclaimed)
	}
}

func TestCompleteOutboxRow(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	evt := appendMovement(t, store, testMovement("mov-1", "", "A-01", 100), 0)
	if _, err := store.ClaimOutboxDue(ctx, now, 10); err != nil {
		t.Fatalf("claim: %v", err)
	}
	if err := store.CompleteOutboxRow(ctx, int64(evt.GlobalSeq)); err != nil {
		t.Fatalf("complete: %v", err)
	}

	summary, err := store.GetOutboxSummary(ctx)
	if err != nil {
		t.Fatalf("summary: %v", err)
	}
	if summary.PendingCount+summary.ProcessingCount+summary.FailedCount+summary.DeadCount != 0 {
		t.Fatalf("expected an empty outbox, got %+v", summary)
	}

	if err := store.CompleteOutboxRow(ctx, int64(evt.GlobalSeq)); err == nil {
		t.Fatal("expected completing a missing row to fail")
	}
}

func TestMarkOutboxRetryAndDeadLetter(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	evt := appendMovement(t, store, testMovement("mov-1", "", "A-01", 100), 0)
	seq := int64(evt.GlobalSeq)

	for attempt := 1; attempt <= outboxDeadLetterThreshold; attempt++ {
		claimed, err := store.ClaimOutboxDue(ctx, now.Add(time.Hour), 10)
		if err != nil {
			t.Fatalf("claim attempt %d: %v", attempt, err)
		}
		if len(claimed) != 1 {
			t.Fatalf("attempt %d: expected 1 claimed row, got %d", attempt, len(claimed))
		}
		next := now.Add(OutboxRetryBackoff(attempt))
		if err := store.MarkOutboxRetry(ctx, seq, attempt, next, "broker unreachable", now); err != nil {
			t.Fatalf("mark retry attempt %d: %v", attempt, err)
		}
		now = next
	}

	summary, err := store.GetOutboxSummary(ctx)
	if err != nil {
		t.Fatalf("summary: %v", err)
	}
	if summary.DeadCount != 1 {
		t.Fatalf("expected a dead-lettered row, got %+v", summary)
	}

	requeued, err := store.RequeueOutboxDeadRows(ctx, 10, now)
	if err != nil {
		t.Fatalf("requeue: %v", err)
	}
	if requeued != 1 {
		t.Fatalf("expected 1 requeued row, got %d", requeued)
	}
	summary, err = store.GetOutboxSummary(ctx)
	if err != nil {
		t.Fatalf("summary: %v", err)
	}
	if summary.PendingCount != 1 || summary.DeadCount != 0 {
		t.Fatalf("expected the row back in pending, got %+v", summary)
	}
}

func TestOutboxRetryBackoff(t *testing.T) {
	if OutboxRetryBackoff(1) != time.Second {
		t.Fatalf("expected 1s for attempt 1, got %v", OutboxRetryBackoff(1))
	}
	if OutboxRetryBackoff(3) != 4*time.Second {
		t.Fatalf("expected 4s for attempt 3, got %v", OutboxRetryBackoff(3))
	}
	if OutboxRetryBackoff(20) != 5*time.Minute {
		t.Fatalf("expected the 5m cap, got %v", OutboxRetryBackoff(20))
	}
	if OutboxRetryBackoff(0) != time.Second {
		t.Fatalf("expected attempt 0 to clamp to 1s, got %v", OutboxRetryBackoff(0))
	}
}
