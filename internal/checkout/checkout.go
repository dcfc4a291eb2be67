// Package checkout orchestrates the transition from a populated cart to a
// submitted order and an empty cart. The sales service behind the OrderService
// port is the authority on prices and stock; the submitter only guards the
// empty-cart case, the payment label and double submission.
package checkout

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"puntoventa/backend/internal/cart"
	"puntoventa/backend/internal/domain"
)

type State string

const (
	StateIdle       State = "idle"
	StateSubmitting State = "submitting"
	StateSucceeded  State = "succeeded"
	StateFailed     State = "failed"
)

func (s State) IsTerminal() bool {
	return s == StateSucceeded || s == StateFailed
}

func (s State) String() string {
	return string(s)
}

// OrderService creates an order from the submitted lines. Errors should carry
// the human-readable reason when the service provides one.
type OrderService interface {
	Submit(ctx context.Context, req domain.OrderRequest) (*domain.OrderReceipt, error)
}

// Meta is the payment and customer metadata attached to a submission.
type Meta struct {
	BuyerID       string
	PaymentMethod string
	CustomerName  string
	CustomerTaxID string
}

// Submitter drives one cart through checkout cycles. A new cycle starts from
// Idle on every Submit call; at most one submission is in flight at a time.
type Submitter struct {
	orders OrderService

	mu       sync.Mutex
	inFlight bool
	state    State
}

func NewSubmitter(orders OrderService) *Submitter {
	return &Submitter{orders: orders, state: StateIdle}
}

func (s *Submitter) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Submit sends the cart's lines to the order service. On success the receipt
// is built from the response plus the retained cart snapshot and the cart is
// cleared. On failure the cart is left untouched so the user can retry.
func (s *Submitter) Submit(ctx context.Context, c *cart.Cart, meta Meta) (domain.Receipt, error) {
	if c.IsEmpty() {
		return domain.Receipt{}, ErrEmptyCart
	}
	if !domain.IsSupportedPaymentMethod(meta.PaymentMethod) {
		return domain.Receipt{}, fmt.Errorf("%w: %q", ErrInvalidPayment, meta.PaymentMethod)
	}

	s.mu.Lock()
	if s.inFlight {
		s.mu.Unlock()
		return domain.Receipt{}, ErrSubmissionInFlight
	}
	s.inFlight = true
	s.state = StateSubmitting
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.inFlight = false
		s.mu.Unlock()
	}()

	// Snapshot before the call: the response may omit line detail, and the
	// cart must be restorable untouched on failure.
	snapshot := c.Items()
	clientSubtotal := c.Subtotal()
	clientTax := c.Tax()

	req := domain.OrderRequest{
		BuyerID:        meta.BuyerID,
		PaymentMethod:  meta.PaymentMethod,
		IdempotencyKey: uuid.NewString(),
		CustomerName:   meta.CustomerName,
		CustomerTaxID:  meta.CustomerTaxID,
		Lines:          make([]domain.OrderLine, 0, len(snapshot)),
	}
	for _, item := range snapshot {
		req.Lines = append(req.Lines, domain.OrderLine{ProductID: item.ProductID, Quantity: item.Quantity})
	}

	resp, err := s.orders.Submit(ctx, req)
	if err != nil {
		s.setState(StateFailed)
		return domain.Receipt{}, fmt.Errorf("%w: %v", ErrCheckoutFailed, err)
	}

	receipt := buildReceipt(resp, snapshot, meta, clientSubtotal, clientTax)

	// Clear cannot fail for in-memory carts and persistence failures are
	// absorbed by the cart; keep the receipt either way.
	_ = c.Clear(ctx)

	s.setState(StateSucceeded)
	return receipt, nil
}

func (s *Submitter) setState(state State) {
	s.mu.Lock()
	s.state = state
	s.mu.Unlock()
}

// buildReceipt merges the service response with the retained snapshot. Totals
// are authoritative from the response when present; zero values with a
// non-empty cart mean the field was omitted and the client-computed value is
// used instead.
func buildReceipt(resp *domain.OrderReceipt, snapshot []domain.LineItem, meta Meta, clientSubtotal, clientTax int64) domain.Receipt {
	receipt := domain.Receipt{
		Number:        resp.Number,
		Date:          resp.Date,
		PaymentMethod: meta.PaymentMethod,
		CustomerName:  meta.CustomerName,
		CustomerTaxID: meta.CustomerTaxID,
		Lines:         snapshot,
		Subtotal:      resp.Subtotal,
		Tax:           resp.Tax,
		Total:         resp.Total,
	}
	if receipt.Date.IsZero() {
		receipt.Date = time.Now().UTC()
	}
	if resp.CustomerName != "" {
		receipt.CustomerName = resp.CustomerName
	}
	if resp.CustomerTaxID != "" {
		receipt.CustomerTaxID = resp.CustomerTaxID
	}
	if receipt.Subtotal == 0 {
		receipt.Subtotal = clientSubtotal
	}
	if receipt.Tax == 0 {
		receipt.Tax = clientTax
	}
	if receipt.Total == 0 {
		receipt.Total = receipt.Subtotal + receipt.Tax
	}
	return receipt
}
