// Package orders adapts order backends to the checkout.OrderService port.
// Local wraps the in-process sales service; HTTPClient talks to a remote sales
// API that may wrap its response in different envelopes.
package orders

import (
	"context"

	"puntoventa/backend/internal/domain"
	"puntoventa/backend/internal/service"
)

type Local struct {
	svc *service.Service
}

func NewLocal(svc *service.Service) *Local {
	return &Local{svc: svc}
}

func (l *Local) Submit(ctx context.Context, req domain.OrderRequest) (*domain.OrderReceipt, error) {
	receipt, err := l.svc.CreateOrder(ctx, req)
	if err != nil {
		return nil, err
	}
	return &receipt, nil
}
