package cart

import (
	"context"
	"errors"
	"testing"

	"puntoventa/backend/internal/cartstore"
)

var mouse = ProductRef{ID: "prod-1", Name: "Mouse", UnitPrice: 25000, Stock: 10}
var teclado = ProductRef{ID: "prod-2", Name: "Teclado", UnitPrice: 18990, Stock: 5}

func TestAddComputesTotals(t *testing.T) {
	c := New()
	ctx := context.Background()

	if err := c.Add(ctx, mouse, 2); err != nil {
		t.Fatalf("add failed: %v", err)
	}

	if got := c.Subtotal(); got != 50000 {
		t.Fatalf("expected subtotal 50000, got %d", got)
	}
	if got := c.Tax(); got != 9500 {
		t.Fatalf("expected tax 9500, got %d", got)
	}
	if got := c.Total(); got != 59500 {
		t.Fatalf("expected total 59500, got %d", got)
	}
}

func TestAddMergesSameProduct(t *testing.T) {
	c := New()
	ctx := context.Background()

	if err := c.Add(ctx, mouse, 2); err != nil {
		t.Fatalf("first add failed: %v", err)
	}
	if err := c.Add(ctx, mouse, 3); err != nil {
		t.Fatalf("second add failed: %v", err)
	}

	items := c.Items()
	if len(items) != 1 {
		t.Fatalf("expected one line per product, got %d", len(items))
	}
	if items[0].Quantity != 5 {
		t.Fatalf("expected merged quantity 5, got %d", items[0].Quantity)
	}
}

func TestAddRejectsQuantityOverCeiling(t *testing.T) {
	c := New()
	ctx := context.Background()

	if err := c.Add(ctx, mouse, 2); err != nil {
		t.Fatalf("add failed: %v", err)
	}

	err := c.Add(ctx, mouse, 9)
	if !errors.Is(err, ErrInsufficientStock) {
		t.Fatalf("expected insufficient stock error, got %v", err)
	}

	var stockErr *StockError
	if !errors.As(err, &stockErr) {
		t.Fatalf("expected *StockError, got %T", err)
	}
	if stockErr.Available != 10 || stockErr.Requested != 11 {
		t.Fatalf("unexpected stock error detail: %+v", stockErr)
	}

	// Failed add leaves the existing line unchanged.
	if got := c.Items()[0].Quantity; got != 2 {
		t.Fatalf("expected quantity 2 after failed add, got %d", got)
	}
}

func TestAddNewLineOverStockFails(t *testing.T) {
	c := New()

	err := c.Add(context.Background(), teclado, 6)
	if !errors.Is(err, ErrInsufficientStock) {
		t.Fatalf("expected insufficient stock error, got %v", err)
	}
	if !c.IsEmpty() {
		t.Fatalf("expected cart to stay empty after failed add")
	}
}

func TestSetQuantity(t *testing.T) {
	c := New()
	ctx := context.Background()

	if err := c.Add(ctx, mouse, 1); err != nil {
		t.Fatalf("add failed: %v", err)
	}

	if err := c.SetQuantity(ctx, mouse.ID, 7); err != nil {
		t.Fatalf("set quantity failed: %v", err)
	}
	if got := c.Items()[0].Quantity; got != 7 {
		t.Fatalf("expected quantity 7, got %d", got)
	}

	if err := c.SetQuantity(ctx, mouse.ID, 11); !errors.Is(err, ErrInsufficientStock) {
		t.Fatalf("expected insufficient stock error, got %v", err)
	}
	if got := c.Items()[0].Quantity; got != 7 {
		t.Fatalf("expected quantity unchanged after failed set, got %d", got)
	}

	if err := c.SetQuantity(ctx, "prod-missing", 2); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected not found error, got %v", err)
	}
}

func TestSetQuantityZeroRemovesLine(t *testing.T) {
	c := New()
	ctx := context.Background()

	if err := c.Add(ctx, mouse, 3); err != nil {
		t.Fatalf("add failed: %v", err)
	}
	if err := c.SetQuantity(ctx, mouse.ID, 0); err != nil {
		t.Fatalf("set quantity to zero failed: %v", err)
	}
	if !c.IsEmpty() {
		t.Fatalf("expected empty cart after removing only line")
	}
}

func TestRemoveAbsentIsNoop(t *testing.T) {
	c := New()
	if err := c.Remove(context.Background(), "prod-missing"); err != nil {
		t.Fatalf("remove of absent product should be a no-op, got %v", err)
	}
}

func TestClearIsIdempotent(t *testing.T) {
	c := New()
	ctx := context.Background()

	if err := c.Add(ctx, mouse, 2); err != nil {
		t.Fatalf("add failed: %v", err)
	}
	if err := c.Clear(ctx); err != nil {
		t.Fatalf("clear failed: %v", err)
	}
	if err := c.Clear(ctx); err != nil {
		t.Fatalf("second clear failed: %v", err)
	}
	if !c.IsEmpty() || c.Total() != 0 {
		t.Fatalf("expected empty cart with zero total")
	}
}

func TestTotalsIdentityAcrossMutations(t *testing.T) {
	c := New()
	ctx := context.Background()

	if err := c.Add(ctx, mouse, 3); err != nil {
		t.Fatalf("add failed: %v", err)
	}
	if err := c.Add(ctx, teclado, 2); err != nil {
		t.Fatalf("add failed: %v", err)
	}
	if err := c.SetQuantity(ctx, mouse.ID, 1); err != nil {
		t.Fatalf("set quantity failed: %v", err)
	}

	if c.Total() != c.Subtotal()+c.Tax() {
		t.Fatalf("total %d != subtotal %d + tax %d", c.Total(), c.Subtotal(), c.Tax())
	}
	if c.Tax() != Tax(c.Subtotal()) {
		t.Fatalf("tax %d does not match 19%% of subtotal %d", c.Tax(), c.Subtotal())
	}
}

func TestTaxRoundsHalfUp(t *testing.T) {
	// 19% of 50 is 9.5, which rounds up to 10 pesos.
	if got := Tax(50); got != 10 {
		t.Fatalf("expected tax 10 for subtotal 50, got %d", got)
	}
	// 19% of 10 is 1.9 -> 2.
	if got := Tax(10); got != 2 {
		t.Fatalf("expected tax 2 for subtotal 10, got %d", got)
	}
	if got := Tax(0); got != 0 {
		t.Fatalf("expected zero tax for empty subtotal, got %d", got)
	}
}

func TestPersistentCartRoundTrip(t *testing.T) {
	storage := cartstore.NewMemoryStore()
	ctx := context.Background()

	events := 0
	storage.Listen(func(string) { events++ })

	c := NewPersistent(ctx, storage, "cart:user-1")
	if err := c.Add(ctx, mouse, 2); err != nil {
		t.Fatalf("add failed: %v", err)
	}
	if err := c.Add(ctx, teclado, 1); err != nil {
		t.Fatalf("add failed: %v", err)
	}
	if events != 2 {
		t.Fatalf("expected 2 broadcast events, got %d", events)
	}

	reloaded := NewPersistent(ctx, storage, "cart:user-1")
	if reloaded.Len() != 2 {
		t.Fatalf("expected 2 lines after reload, got %d", reloaded.Len())
	}
	if reloaded.Subtotal() != c.Subtotal() {
		t.Fatalf("subtotal mismatch after reload: %d vs %d", reloaded.Subtotal(), c.Subtotal())
	}
}

func TestPersistentCartFailsOpenOnMalformedData(t *testing.T) {
	storage := cartstore.NewMemoryStore()
	ctx := context.Background()

	c := NewPersistent(ctx, storage, "cart:user-2")
	if err := c.Add(ctx, mouse, 1); err != nil {
		t.Fatalf("add failed: %v", err)
	}

	storage.Corrupt("cart:user-2")

	reloaded := NewPersistent(ctx, storage, "cart:user-2")
	if !reloaded.IsEmpty() {
		t.Fatalf("expected malformed stored cart to read as empty")
	}
}

func TestSanitizeDropsInvalidStoredLines(t *testing.T) {
	storage := cartstore.NewMemoryStore()
	ctx := context.Background()

	c := NewPersistent(ctx, storage, "cart:user-3")
	if err := c.Add(ctx, mouse, 2); err != nil {
		t.Fatalf("add failed: %v", err)
	}

	// A second session that loaded a stale stock snapshot could have saved a
	// quantity above today's ceiling; reload clamps it.
	items := c.Items()
	items[0].Quantity = 25
	if err := storage.Save(ctx, "cart:user-3", items); err != nil {
		t.Fatalf("save failed: %v", err)
	}

	reloaded := NewPersistent(ctx, storage, "cart:user-3")
	if got := reloaded.Items()[0].Quantity; got != 10 {
		t.Fatalf("expected quantity clamped to ceiling 10, got %d", got)
	}
}
