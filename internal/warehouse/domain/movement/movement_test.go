package movement

import (
	"strings"
	"testing"
	"time"
)

func validMovement() Movement {
	return Movement{
		ID:           "mov-1",
		WarehouseID:  "WH1",
		SKU:          "SKU-100",
		Quantity:     10,
		FromLocation: "A-01",
		ToLocation:   "B-02",
		Type:         TypeTransfer,
		OperatorID:   "op-1",
		Timestamp:    time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC),
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Movement)
		wantErr string
	}{
		{"valid", func(m *Movement) {}, ""},
		{"receipt without from", func(m *Movement) { m.FromLocation = ""; m.Type = TypeReceipt }, ""},
		{"missing warehouse", func(m *Movement) { m.WarehouseID = " " }, "warehouse id"},
		{"missing sku", func(m *Movement) { m.SKU = "" }, "sku is required"},
		{"zero quantity", func(m *Movement) { m.Quantity = 0 }, "quantity"},
		{"negative quantity", func(m *Movement) { m.Quantity = -5 }, "quantity"},
		{"invalid type", func(m *Movement) { m.Type = "TELEPORT" }, "invalid"},
		{"no locations", func(m *Movement) { m.FromLocation = ""; m.ToLocation = "" }, "from or to location"},
		{"same locations", func(m *Movement) { m.ToLocation = m.FromLocation }, "must differ"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := validMovement()
			tt.mutate(&m)
			err := m.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("validate: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("expected error containing %q, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestStreamKeyPrefersSource(t *testing.T) {
	m := validMovement()
	if got := m.StreamKey(); got != "stock/WH1/A-01/SKU-100" {
		t.Fatalf("unexpected stream key %s", got)
	}

	m.FromLocation = ""
	m.Type = TypeReceipt
	if got := m.StreamKey(); got != "stock/WH1/B-02/SKU-100" {
		t.Fatalf("unexpected inbound stream key %s", got)
	}
}

func TestToEventRoundTrip(t *testing.T) {
	m := validMovement()
	evt, err := m.ToEvent("cmd-1")
	if err != nil {
		t.Fatalf("to event: %v", err)
	}
	if evt.Type != EventTypeMoved {
		t.Fatalf("expected %s, got %s", EventTypeMoved, evt.Type)
	}
	if evt.CommandID != "cmd-1" {
		t.Fatalf("expected command id to carry through")
	}

	decoded, err := FromEvent(evt)
	if err != nil {
		t.Fatalf("from event: %v", err)
	}
	if decoded != m {
		t.Fatalf("expected round-tripped movement to match, got %+v", decoded)
	}
}

func TestToEventRejectsInvalid(t *testing.T) {
	m := validMovement()
	m.Quantity = 0
	if _, err := m.ToEvent("cmd-1"); err == nil {
		t.Fatal("expected validation error")
	}
}
