package httpapi

import (
	"context"
	"sync"

	"puntoventa/backend/internal/cart"
	"puntoventa/backend/internal/checkout"
)

// session is one terminal's cart plus its checkout submitter. The cart itself
// is not concurrency-safe, so every handler touching a session must hold its
// lock for the duration of the operation.
type session struct {
	mu        sync.Mutex
	cart      *cart.Cart
	submitter *checkout.Submitter
}

type sessionManager struct {
	mu       sync.Mutex
	storage  cart.Storage
	orders   checkout.OrderService
	sessions map[string]*session
}

func newSessionManager(storage cart.Storage, orders checkout.OrderService) *sessionManager {
	return &sessionManager{
		storage:  storage,
		orders:   orders,
		sessions: make(map[string]*session),
	}
}

// get returns the session for the given cart key, creating and loading it from
// storage on first use. Stored carts survive process restarts; a malformed
// stored cart loads as empty.
func (m *sessionManager) get(ctx context.Context, key string) *session {
	m.mu.Lock()
	defer m.mu.Unlock()

	if existing, ok := m.sessions[key]; ok {
		return existing
	}

	sess := &session{
		cart:      cart.NewPersistent(ctx, m.storage, key),
		submitter: checkout.NewSubmitter(m.orders),
	}
	m.sessions[key] = sess
	return sess
}
