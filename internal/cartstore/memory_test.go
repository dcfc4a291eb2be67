package cartstore

import (
	"context"
	"testing"

	"puntoventa/backend/internal/domain"
)

func TestMemoryStoreRoundTrip(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	items := []domain.LineItem{
		{ProductID: "prod-1", Name: "Mouse", UnitPrice: 25000, Quantity: 2, StockCeiling: 10},
	}
	if err := s.Save(ctx, "cart:u1", items); err != nil {
		t.Fatalf("save: %v", err)
	}

	loaded, err := s.Load(ctx, "cart:u1")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(loaded) != 1 || loaded[0].Quantity != 2 {
		t.Fatalf("unexpected items: %+v", loaded)
	}
}

func TestMemoryStoreSaveEmptyDeletes(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	_ = s.Save(ctx, "cart:u1", []domain.LineItem{{ProductID: "prod-1", Quantity: 1, StockCeiling: 5}})
	if err := s.Save(ctx, "cart:u1", nil); err != nil {
		t.Fatalf("save empty: %v", err)
	}

	loaded, err := s.Load(ctx, "cart:u1")
	if err != nil || loaded != nil {
		t.Fatalf("expected empty cart, got %+v (%v)", loaded, err)
	}
}

func TestMemoryStoreMalformedPayloadLoadsEmpty(t *testing.T) {
	s := NewMemoryStore()
	s.Corrupt("cart:u1")

	loaded, err := s.Load(context.Background(), "cart:u1")
	if err != nil {
		t.Fatalf("expected fail-open load, got %v", err)
	}
	if len(loaded) != 0 {
		t.Fatalf("expected empty items, got %+v", loaded)
	}
}

func TestMemoryStoreBroadcastNotifiesListeners(t *testing.T) {
	s := NewMemoryStore()

	var events []string
	s.Listen(func(event string) { events = append(events, event) })

	if err := s.Broadcast(context.Background(), "cart:updated"); err != nil {
		t.Fatalf("broadcast: %v", err)
	}
	if len(events) != 1 || events[0] != "cart:updated" {
		t.Fatalf("unexpected events: %v", events)
	}
}
