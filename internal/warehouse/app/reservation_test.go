package app

import (
	"context"
	stderrors "errors"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/quillon/warehouse/internal/platform/errors"
	"github.com/quillon/warehouse/internal/platform/retry"
	"github.com/quillon/warehouse/internal/warehouse/domain/event"
	"github.com/quillon/warehouse/internal/warehouse/domain/reservation"
)

func createTestReservation(t *testing.T, svc *Service, reservationID string, lines []reservation.RequestedLine) {
	t.Helper()
	_, err := svc.CreateReservation(context.Background(), CreateReservationRequest{
		CommandID:     "cmd-create-" + reservationID,
		OperatorID:    "op-1",
		ReservationID: reservationID,
		WarehouseID:   "WH1",
		Purpose:       "order",
		Lines:         lines,
	})
	if err != nil {
		t.Fatalf("create reservation %s: %v", reservationID, err)
	}
}

func TestReceiveReserveAndPickFlow(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	receiveStock(t, svc, "cmd-rcv-1", "A-01", "SKU-100", 100)
	createTestReservation(t, svc, "res-1", []reservation.RequestedLine{{SKU: "SKU-100", Qty: 50}})

	result, err := svc.AllocateReservation(ctx, "cmd-alloc-1", "op-1", "res-1")
	if err != nil {
		t.Fatalf("allocate: %v", err)
	}
	if result.Status != reservation.StatusAllocated {
		t.Fatalf("expected ALLOCATED, got %s", result.Status)
	}
	// Soft locks do not reduce availability.
	if got := availableAt(t, svc, "A-01", "SKU-100"); got != 100 {
		t.Fatalf("expected 100 available under soft lock, got %d", got)
	}

	result, err = svc.StartPicking(ctx, "cmd-pick-start-1", "op-1", "res-1")
	if err != nil {
		t.Fatalf("start picking: %v", err)
	}
	if result.Status != reservation.StatusPicking {
		t.Fatalf("expected PICKING, got %s", result.Status)
	}
	if got := availableAt(t, svc, "A-01", "SKU-100"); got != 50 {
		t.Fatalf("expected hard lock to cut availability to 50, got %d", got)
	}

	pick, err := svc.PickStock(ctx, PickStockRequest{
		CommandID:     "cmd-pick-1",
		OperatorID:    "op-1",
		ReservationID: "res-1",
		SKU:           "SKU-100",
		Location:      "A-01",
		ToLocation:    "DOCK-1",
		Qty:           50,
	})
	if err != nil {
		t.Fatalf("pick: %v", err)
	}
	if pick.PickedQty != 50 || pick.MovementID == "" {
		t.Fatalf("unexpected pick result: %+v", pick)
	}
	// Picked stock moved to the dock but its hard lock still stands.
	if got := availableAt(t, svc, "A-01", "SKU-100"); got != 0 {
		t.Fatalf("expected 0 available mid-pick, got %d", got)
	}
	if got := onHandAt(t, svc, "DOCK-1", "SKU-100"); got != 50 {
		t.Fatalf("expected 50 on hand at the dock, got %d", got)
	}

	result, err = svc.ConsumeReservation(ctx, "cmd-consume-1", "op-1", "res-1")
	if err != nil {
		t.Fatalf("consume: %v", err)
	}
	if result.Status != reservation.StatusConsumed {
		t.Fatalf("expected CONSUMED, got %s", result.Status)
	}
	if got := availableAt(t, svc, "A-01", "SKU-100"); got != 50 {
		t.Fatalf("expected 50 available after consumption, got %d", got)
	}
}

func TestAllocationSpreadsAcrossLocations(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	receiveStock(t, svc, "cmd-rcv-1", "A-01", "SKU-100", 60)
	receiveStock(t, svc, "cmd-rcv-2", "A-02", "SKU-100", 60)
	createTestReservation(t, svc, "res-1", []reservation.RequestedLine{{SKU: "SKU-100", Qty: 100}})

	if _, err := svc.AllocateReservation(ctx, "cmd-alloc-1", "op-1", "res-1"); err != nil {
		t.Fatalf("allocate: %v", err)
	}

	state, err := svc.GetReservation(ctx, "res-1")
	if err != nil {
		t.Fatalf("get reservation: %v", err)
	}
	line, ok := state.LineBySKU("SKU-100")
	if !ok {
		t.Fatal("missing line")
	}
	if line.AllocatedQty() != 100 {
		t.Fatalf("expected 100 allocated, got %d", line.AllocatedQty())
	}
	if len(line.Allocations) != 2 {
		t.Fatalf("expected allocations across two locations, got %+v", line.Allocations)
	}
}

func TestAllocationShortfall(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	receiveStock(t, svc, "cmd-rcv-1", "A-01", "SKU-100", 30)
	createTestReservation(t, svc, "res-1", []reservation.RequestedLine{{SKU: "SKU-100", Qty: 50}})

	_, err := svc.AllocateReservation(ctx, "cmd-alloc-1", "op-1", "res-1")
	if !errors.IsCode(err, errors.CodeInsufficientAvailableStock) {
		t.Fatalf("expected insufficient stock, got %v", err)
	}

	state, err := svc.GetReservation(ctx, "res-1")
	if err != nil {
		t.Fatalf("get reservation: %v", err)
	}
	if state.Status != reservation.StatusCreated {
		t.Fatalf("expected the reservation to stay CREATED, got %s", state.Status)
	}
}

func TestPickExceedingAllocationRejected(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	receiveStock(t, svc, "cmd-rcv-1", "A-01", "SKU-100", 100)
	createTestReservation(t, svc, "res-1", []reservation.RequestedLine{{SKU: "SKU-100", Qty: 50}})
	if _, err := svc.AllocateReservation(ctx, "cmd-alloc-1", "op-1", "res-1"); err != nil {
		t.Fatalf("allocate: %v", err)
	}
	if _, err := svc.StartPicking(ctx, "cmd-start-1", "op-1", "res-1"); err != nil {
		t.Fatalf("start picking: %v", err)
	}

	_, err := svc.PickStock(ctx, PickStockRequest{
		CommandID:     "cmd-pick-1",
		OperatorID:    "op-1",
		ReservationID: "res-1",
		SKU:           "SKU-100",
		Location:      "A-01",
		ToLocation:    "DOCK-1",
		Qty:           80,
	})
	if !errors.IsCode(err, errors.CodeReservationQuantityExceeded) {
		t.Fatalf("expected quantity exceeded, got %v", err)
	}
	if got := availableAt(t, svc, "A-01", "SKU-100"); got != 50 {
		t.Fatalf("expected the bin untouched at 50 available, got %d", got)
	}
}

func TestPickReplayReturnsCachedResult(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()

	receiveStock(t, svc, "cmd-rcv-1", "A-01", "SKU-100", 100)
	createTestReservation(t, svc, "res-1", []reservation.RequestedLine{{SKU: "SKU-100", Qty: 50}})
	if _, err := svc.AllocateReservation(ctx, "cmd-alloc-1", "op-1", "res-1"); err != nil {
		t.Fatalf("allocate: %v", err)
	}
	if _, err := svc.StartPicking(ctx, "cmd-start-1", "op-1", "res-1"); err != nil {
		t.Fatalf("start picking: %v", err)
	}

	req := PickStockRequest{
		CommandID:     "cmd-pick-1",
		OperatorID:    "op-1",
		ReservationID: "res-1",
		SKU:           "SKU-100",
		Location:      "A-01",
		ToLocation:    "DOCK-1",
		Qty:           50,
	}
	first, err := svc.PickStock(ctx, req)
	if err != nil {
		t.Fatalf("pick: %v", err)
	}
	second, err := svc.PickStock(ctx, req)
	if err != nil {
		t.Fatalf("replayed pick: %v", err)
	}
	if second.MovementID != first.MovementID || second.GlobalSeq != first.GlobalSeq {
		t.Fatalf("expected the cached pick, got %+v vs %+v", second, first)
	}

	state, err := svc.GetReservation(ctx, "res-1")
	if err != nil {
		t.Fatalf("get reservation: %v", err)
	}
	line, _ := state.LineBySKU("SKU-100")
	if line.PickedQty != 50 {
		t.Fatalf("expected 50 picked exactly once, got %d", line.PickedQty)
	}

	events, err := store.ListStream(ctx, "stock/WH1/A-01/SKU-100")
	if err != nil {
		t.Fatalf("list stream: %v", err)
	}
	// Receipt plus one pick.
	if len(events) != 2 {
		t.Fatalf("expected 2 stock events, got %d", len(events))
	}
}

// lossyBookkeepingStore fails reservation bookkeeping appends a fixed
// number of times while letting stock movements through.
type lossyBookkeepingStore struct {
	Store
	failures int
}

func (s *lossyBookkeepingStore) AppendEvent(ctx context.Context, evt event.Event, expectedVersion int64) (event.Event, error) {
	if evt.Type == reservation.EventTypeLinePicked && s.failures > 0 {
		s.failures--
		return event.Event{}, stderrors.New("storage briefly unavailable")
	}
	return s.Store.AppendEvent(ctx, evt, expectedVersion)
}

func TestPickRetryReusesCommittedMovement(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()

	receiveStock(t, svc, "cmd-rcv-1", "A-01", "SKU-100", 100)
	createTestReservation(t, svc, "res-1", []reservation.RequestedLine{{SKU: "SKU-100", Qty: 50}})
	if _, err := svc.AllocateReservation(ctx, "cmd-alloc-1", "op-1", "res-1"); err != nil {
		t.Fatalf("allocate: %v", err)
	}
	if _, err := svc.StartPicking(ctx, "cmd-start-1", "op-1", "res-1"); err != nil {
		t.Fatalf("start picking: %v", err)
	}

	flaky := &lossyBookkeepingStore{Store: store, failures: 1}
	flakySvc := NewService(flaky, zap.NewNop(),
		WithRetryPolicy(retry.Policy{Attempts: 3, BaseDelay: time.Millisecond}))

	req := PickStockRequest{
		CommandID:     "cmd-pick-1",
		OperatorID:    "op-1",
		ReservationID: "res-1",
		SKU:           "SKU-100",
		Location:      "A-01",
		ToLocation:    "DOCK-1",
		Qty:           50,
	}
	if _, err := flakySvc.PickStock(ctx, req); err == nil {
		t.Fatal("expected the first attempt to fail on bookkeeping")
	}
	events, err := store.ListStream(ctx, "stock/WH1/A-01/SKU-100")
	if err != nil {
		t.Fatalf("list stream: %v", err)
	}
	// Receipt plus the committed pick movement, despite the failure.
	if len(events) != 2 {
		t.Fatalf("expected 2 stock events after the failed attempt, got %d", len(events))
	}

	pick, err := flakySvc.PickStock(ctx, req)
	if err != nil {
		t.Fatalf("retried pick: %v", err)
	}
	if pick.PickedQty != 50 {
		t.Fatalf("unexpected retried pick result: %+v", pick)
	}

	events, err = store.ListStream(ctx, "stock/WH1/A-01/SKU-100")
	if err != nil {
		t.Fatalf("list stream: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("expected the retry to reuse the committed movement, got %d stock events", len(events))
	}
	if got := onHandAt(t, svc, "A-01", "SKU-100"); got != 50 {
		t.Fatalf("expected 50 on hand at the bin, got %d", got)
	}
	if got := onHandAt(t, svc, "DOCK-1", "SKU-100"); got != 50 {
		t.Fatalf("expected 50 on hand at the dock, got %d", got)
	}

	state, err := svc.GetReservation(ctx, "res-1")
	if err != nil {
		t.Fatalf("get reservation: %v", err)
	}
	line, _ := state.LineBySKU("SKU-100")
	if line.PickedQty != 50 {
		t.Fatalf("expected 50 picked exactly once, got %d", line.PickedQty)
	}
}

func TestPickRequiresDestination(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	receiveStock(t, svc, "cmd-rcv-1", "A-01", "SKU-100", 100)
	createTestReservation(t, svc, "res-1", []reservation.RequestedLine{{SKU: "SKU-100", Qty: 50}})
	if _, err := svc.AllocateReservation(ctx, "cmd-alloc-1", "op-1", "res-1"); err != nil {
		t.Fatalf("allocate: %v", err)
	}
	if _, err := svc.StartPicking(ctx, "cmd-start-1", "op-1", "res-1"); err != nil {
		t.Fatalf("start picking: %v", err)
	}

	tests := []struct {
		name     string
		to       string
		wantCode errors.Code
	}{
		{"missing destination", "", errors.CodeReservationLineInvalid},
		{"same as source", "A-01", errors.CodeMovementSameLocation},
		{"transit reserved", "TRANSIT", errors.CodeValidation},
		{"unknown destination", "Z-99", errors.CodeNotFound},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := svc.PickStock(ctx, PickStockRequest{
				CommandID:     "cmd-pick-" + tc.name,
				OperatorID:    "op-1",
				ReservationID: "res-1",
				SKU:           "SKU-100",
				Location:      "A-01",
				ToLocation:    tc.to,
				Qty:           50,
			})
			if !errors.IsCode(err, tc.wantCode) {
				t.Fatalf("expected %s, got %v", tc.wantCode, err)
			}
		})
	}
	if got := availableAt(t, svc, "A-01", "SKU-100"); got != 50 {
		t.Fatalf("expected the bin untouched at 50 available, got %d", got)
	}
}

func TestCancelReservationMatrix(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	receiveStock(t, svc, "cmd-rcv-1", "A-01", "SKU-100", 100)

	createTestReservation(t, svc, "res-1", []reservation.RequestedLine{{SKU: "SKU-100", Qty: 10}})
	result, err := svc.CancelReservation(ctx, "cmd-cancel-1", "op-1", "res-1", "customer cancelled")
	if err != nil {
		t.Fatalf("cancel from CREATED: %v", err)
	}
	if result.Status != reservation.StatusCancelled {
		t.Fatalf("expected CANCELLED, got %s", result.Status)
	}

	createTestReservation(t, svc, "res-2", []reservation.RequestedLine{{SKU: "SKU-100", Qty: 10}})
	if _, err := svc.AllocateReservation(ctx, "cmd-alloc-2", "op-1", "res-2"); err != nil {
		t.Fatalf("allocate: %v", err)
	}
	if _, err := svc.StartPicking(ctx, "cmd-start-2", "op-1", "res-2"); err != nil {
		t.Fatalf("start picking: %v", err)
	}
	_, err = svc.CancelReservation(ctx, "cmd-cancel-2", "op-1", "res-2", "too late")
	if !errors.IsCode(err, errors.CodeReservationStatusTransition) {
		t.Fatalf("expected status transition rejection, got %v", err)
	}
}

func TestGetReservationNotFound(t *testing.T) {
	svc, _ := newTestService(t)

	_, err := svc.GetReservation(context.Background(), "res-missing")
	if !errors.IsCode(err, errors.CodeReservationNotCreated) {
		t.Fatalf("expected not created, got %v", err)
	}
}
