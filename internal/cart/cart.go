// Package cart implements the cart aggregate shared by the cashier terminal
// and the storefront: an ordered set of line items, at most one per product,
// with quantities bounded by the stock snapshot taken when each item entered
// the cart. Totals are always derived, never stored.
package cart

import (
	"context"
	"log"
	"math"

	"puntoventa/backend/internal/domain"
)

// EventUpdated is broadcast through the Storage port after every persisted
// mutation so other surfaces (badge counters, other views) can refresh.
const EventUpdated = "cart:updated"

// ProductRef is the product snapshot handed to Add. Stock is captured as the
// line's ceiling; it is a local validation hint, not re-checked against the
// sales service until checkout.
type ProductRef struct {
	ID        string
	Name      string
	UnitPrice int64
	Stock     int
}

// Storage is the optional persistence port behind a storefront cart. Load must
// treat malformed stored data as an empty cart rather than failing.
type Storage interface {
	Load(ctx context.Context, key string) ([]domain.LineItem, error)
	Save(ctx context.Context, key string, items []domain.LineItem) error
	Broadcast(ctx context.Context, event string) error
}

// Cart is owned by a single session and is not safe for concurrent use. All
// mutations are synchronous; a failed operation leaves the items untouched.
type Cart struct {
	items   []domain.LineItem
	storage Storage
	key     string
}

// New returns an in-memory cart, the cashier terminal mode.
func New() *Cart {
	return &Cart{}
}

// NewPersistent returns a cart mirrored to storage under key. Previously saved
// items are loaded immediately; load errors fall open to an empty cart.
func NewPersistent(ctx context.Context, storage Storage, key string) *Cart {
	c := &Cart{storage: storage, key: key}
	items, err := storage.Load(ctx, key)
	if err != nil {
		log.Printf("[cart] WARN: load key=%s failed, starting empty: %v", key, err)
		return c
	}
	c.items = sanitize(items)
	return c
}

// sanitize drops stored lines that violate the aggregate invariants, keeping
// the first line per product. Stored data is untrusted (no schema versioning).
func sanitize(items []domain.LineItem) []domain.LineItem {
	seen := make(map[string]struct{}, len(items))
	kept := make([]domain.LineItem, 0, len(items))
	for _, item := range items {
		if item.ProductID == "" || item.Quantity < 1 || item.UnitPrice < 0 {
			continue
		}
		if _, dup := seen[item.ProductID]; dup {
			continue
		}
		if item.Quantity > item.StockCeiling {
			item.Quantity = item.StockCeiling
			if item.Quantity < 1 {
				continue
			}
		}
		seen[item.ProductID] = struct{}{}
		kept = append(kept, item)
	}
	return kept
}

// Add puts qty units of product into the cart, merging with an existing line
// for the same product. The merged quantity must not exceed the line's stock
// ceiling; on violation the cart is unchanged and a *StockError is returned.
func (c *Cart) Add(ctx context.Context, product ProductRef, qty int) error {
	if qty < 1 {
		qty = 1
	}

	for i, item := range c.items {
		if item.ProductID != product.ID {
			continue
		}
		newQty := item.Quantity + qty
		if newQty > item.StockCeiling {
			return &StockError{ProductID: product.ID, Requested: newQty, Available: item.StockCeiling}
		}
		c.items[i].Quantity = newQty
		return c.persist(ctx)
	}

	if qty > product.Stock {
		return &StockError{ProductID: product.ID, Requested: qty, Available: product.Stock}
	}
	c.items = append(c.items, domain.LineItem{
		ProductID:    product.ID,
		Name:         product.Name,
		UnitPrice:    product.UnitPrice,
		Quantity:     qty,
		StockCeiling: product.Stock,
	})
	return c.persist(ctx)
}

// SetQuantity sets a line's quantity exactly. Zero or negative quantity
// removes the line. Returns ErrNotFound when no line matches productID.
func (c *Cart) SetQuantity(ctx context.Context, productID string, qty int) error {
	if qty <= 0 {
		return c.Remove(ctx, productID)
	}
	for i, item := range c.items {
		if item.ProductID != productID {
			continue
		}
		if qty > item.StockCeiling {
			return &StockError{ProductID: productID, Requested: qty, Available: item.StockCeiling}
		}
		c.items[i].Quantity = qty
		return c.persist(ctx)
	}
	return ErrNotFound
}

// Remove deletes the line for productID. Removing an absent product is a no-op.
func (c *Cart) Remove(ctx context.Context, productID string) error {
	for i, item := range c.items {
		if item.ProductID == productID {
			c.items = append(c.items[:i], c.items[i+1:]...)
			return c.persist(ctx)
		}
	}
	return nil
}

// Clear empties the cart unconditionally.
func (c *Cart) Clear(ctx context.Context) error {
	c.items = nil
	return c.persist(ctx)
}

func (c *Cart) IsEmpty() bool {
	return len(c.items) == 0
}

func (c *Cart) Len() int {
	return len(c.items)
}

// Items returns a copy of the line items in insertion order.
func (c *Cart) Items() []domain.LineItem {
	items := make([]domain.LineItem, len(c.items))
	copy(items, c.items)
	return items
}

func (c *Cart) Subtotal() int64 {
	var subtotal int64
	for _, item := range c.items {
		subtotal += item.UnitPrice * int64(item.Quantity)
	}
	return subtotal
}

// Tax is the IVA on the current subtotal, rounded half-up to the nearest peso.
func (c *Cart) Tax() int64 {
	return Tax(c.Subtotal())
}

// Total is always Subtotal + Tax; the rounded tax is the single source of any
// rounding so the identity holds exactly.
func (c *Cart) Total() int64 {
	subtotal := c.Subtotal()
	return subtotal + Tax(subtotal)
}

// Tax computes IVA at the fixed 19% rate over an integer peso amount.
func Tax(subtotal int64) int64 {
	return int64(math.Round(float64(subtotal) * domain.IVARatePercent / 100))
}

// persist mirrors the current items to storage and broadcasts the change.
// Persistence failures are logged, not surfaced: the in-memory state is the
// session's working truth and must not be rolled back by a storage hiccup.
func (c *Cart) persist(ctx context.Context) error {
	if c.storage == nil {
		return nil
	}
	if err := c.storage.Save(ctx, c.key, c.Items()); err != nil {
		log.Printf("[cart] WARN: save key=%s failed: %v", c.key, err)
		return nil
	}
	if err := c.storage.Broadcast(ctx, EventUpdated); err != nil {
		log.Printf("[cart] WARN: broadcast key=%s failed: %v", c.key, err)
	}
	return nil
}
