// Package memory is the in-process Repository used for dev/demo mode and
// tests. It mirrors the postgres implementation's semantics, including the
// atomic stock check inside CreateBoleta.
package memory

import (
	"context"
	"fmt"
	"log"
	"os"
	"slices"
	"strings"
	"sync"
	"time"

	"golang.org/x/crypto/bcrypt"

	"puntoventa/backend/internal/domain"
	"puntoventa/backend/internal/store"
)

type Store struct {
	mu              sync.RWMutex
	products        map[string]domain.Product
	boletasByID     map[string]domain.Boleta
	boletasByNumber map[string]string
	boletasByIdem   map[string]string
	boletaOrder     []string
	boletaSeq       int64
	usersByUsername map[string]domain.UserAccount
}

// seedUsers builds the initial accounts for dev/demo mode. Credentials come
// from SEED_ADMIN_PASSWORD and SEED_CASHIER_PASSWORD; hardcoded dev defaults
// are used with a warning when unset.
func seedUsers() map[string]domain.UserAccount {
	adminPwd := envOr("SEED_ADMIN_PASSWORD", "admin123")
	cashierPwd := envOr("SEED_CASHIER_PASSWORD", "cajero123")
	if os.Getenv("SEED_ADMIN_PASSWORD") == "" || os.Getenv("SEED_CASHIER_PASSWORD") == "" {
		log.Println("[memory-store] WARNING: using default dev credentials. Set SEED_ADMIN_PASSWORD and SEED_CASHIER_PASSWORD to override.")
	}

	now := time.Now().UTC()
	users := map[string]domain.UserAccount{}
	for _, u := range []struct {
		username string
		password string
		role     string
	}{
		{"admin", adminPwd, domain.RoleAdmin},
		{"cajero", cashierPwd, domain.RoleCashier},
	} {
		hash, err := bcrypt.GenerateFromPassword([]byte(u.password), bcrypt.DefaultCost)
		if err != nil {
			log.Fatalf("[memory-store] failed to hash seed password for %s: %v", u.username, err)
		}
		users[u.username] = domain.UserAccount{
			Username:  u.username,
			Password:  string(hash),
			Role:      u.role,
			Active:    true,
			CreatedAt: now,
		}
	}
	return users
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func NewSeeded() *Store {
	now := time.Now().UTC()
	products := []domain.Product{
		{ID: "prod-mouse-01", Name: "Mouse Inalámbrico", Category: "accesorios", UnitPrice: 25000, Stock: 10, Active: true, CreatedAt: now},
		{ID: "prod-teclado-01", Name: "Teclado Mecánico", Category: "accesorios", UnitPrice: 45990, Stock: 8, Active: true, CreatedAt: now},
		{ID: "prod-monitor-01", Name: "Monitor 24\"", Category: "pantallas", UnitPrice: 129990, Stock: 5, Active: true, CreatedAt: now},
		{ID: "prod-audifono-01", Name: "Audífonos Bluetooth", Category: "audio", UnitPrice: 34990, Stock: 15, Active: true, CreatedAt: now},
		{ID: "prod-cable-01", Name: "Cable HDMI 2m", Category: "cables", UnitPrice: 5990, Stock: 40, Active: true, CreatedAt: now},
		{ID: "prod-notebook-01", Name: "Notebook 14\"", Category: "computadores", UnitPrice: 549990, Stock: 3, Active: true, CreatedAt: now},
		{ID: "prod-pendrive-01", Name: "Pendrive 64GB", Category: "almacenamiento", UnitPrice: 8990, Stock: 25, Active: true, CreatedAt: now},
		{ID: "prod-webcam-01", Name: "Webcam Full HD", Category: "accesorios", UnitPrice: 22990, Stock: 12, Active: true, CreatedAt: now},
	}

	productMap := make(map[string]domain.Product, len(products))
	for _, p := range products {
		productMap[p.ID] = p
	}

	return &Store{
		products:        productMap,
		boletasByID:     make(map[string]domain.Boleta),
		boletasByNumber: make(map[string]string),
		boletasByIdem:   make(map[string]string),
		usersByUsername: seedUsers(),
	}
}

// New returns an empty store, used by tests that seed their own data.
func New() *Store {
	return &Store{
		products:        make(map[string]domain.Product),
		boletasByID:     make(map[string]domain.Boleta),
		boletasByNumber: make(map[string]string),
		boletasByIdem:   make(map[string]string),
		usersByUsername: make(map[string]domain.UserAccount),
	}
}

func (s *Store) ListProducts(_ context.Context, includeInactive bool) ([]domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	products := make([]domain.Product, 0, len(s.products))
	for _, p := range s.products {
		if !p.Active && !includeInactive {
			continue
		}
		products = append(products, p)
	}

	slices.SortFunc(products, func(a, b domain.Product) int {
		if a.Category == b.Category {
			return strings.Compare(a.Name, b.Name)
		}
		return strings.Compare(a.Category, b.Category)
	})

	return products, nil
}

func (s *Store) GetProductByID(_ context.Context, id string) (*domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	product, exists := s.products[id]
	if !exists {
		return nil, store.ErrNotFound
	}
	copied := product
	return &copied, nil
}

func (s *Store) GetProductsByIDs(_ context.Context, ids []string) (map[string]domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make(map[string]domain.Product, len(ids))
	for _, id := range ids {
		if product, exists := s.products[id]; exists {
			result[id] = product
		}
	}
	return result, nil
}

func (s *Store) CreateProduct(_ context.Context, product domain.Product) (*domain.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if product.ID == "" || product.Name == "" || product.UnitPrice < 0 || product.Stock < 0 {
		return nil, store.ErrInvalidSale
	}
	if _, exists := s.products[product.ID]; exists {
		return nil, store.ErrDuplicate
	}

	product.Active = true
	if product.CreatedAt.IsZero() {
		product.CreatedAt = time.Now().UTC()
	}
	s.products[product.ID] = product
	created := product
	return &created, nil
}

func (s *Store) UpdateProduct(_ context.Context, product domain.Product) (*domain.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if product.ID == "" || product.Name == "" || product.UnitPrice < 0 || product.Stock < 0 {
		return nil, store.ErrInvalidSale
	}
	if _, exists := s.products[product.ID]; !exists {
		return nil, store.ErrNotFound
	}

	s.products[product.ID] = product
	updated := product
	return &updated, nil
}

func (s *Store) CreateBoleta(_ context.Context, boleta domain.Boleta) (*domain.Boleta, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if boleta.ID == "" || boleta.Number == "" || len(boleta.Lines) == 0 {
		return nil, store.ErrInvalidSale
	}
	if boleta.IdempotencyKey != "" {
		if _, exists := s.boletasByIdem[boleta.IdempotencyKey]; exists {
			return nil, store.ErrDuplicate
		}
	}

	// Check every line before touching any stock so a failure leaves the
	// inventory unchanged.
	for _, line := range boleta.Lines {
		product, exists := s.products[line.ProductID]
		if !exists || !product.Active {
			return nil, fmt.Errorf("%w: unknown product %s", store.ErrInvalidSale, line.ProductID)
		}
		if line.Quantity < 1 {
			return nil, store.ErrInvalidSale
		}
		if line.Quantity > product.Stock {
			return nil, fmt.Errorf("%w: product %s has %d units", store.ErrInsufficientStock, line.ProductID, product.Stock)
		}
	}
	for _, line := range boleta.Lines {
		product := s.products[line.ProductID]
		product.Stock -= line.Quantity
		s.products[line.ProductID] = product
	}

	if boleta.CreatedAt.IsZero() {
		boleta.CreatedAt = time.Now().UTC()
	}
	s.boletasByID[boleta.ID] = boleta
	s.boletasByNumber[boleta.Number] = boleta.ID
	if boleta.IdempotencyKey != "" {
		s.boletasByIdem[boleta.IdempotencyKey] = boleta.ID
	}
	s.boletaOrder = append(s.boletaOrder, boleta.ID)

	created := boleta
	return &created, nil
}

func (s *Store) FindBoletaByNumber(_ context.Context, number string) (*domain.Boleta, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, exists := s.boletasByNumber[number]
	if !exists {
		return nil, store.ErrNotFound
	}
	boleta := s.boletasByID[id]
	return &boleta, nil
}

func (s *Store) FindBoletaByIdempotency(_ context.Context, key string) (*domain.Boleta, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, exists := s.boletasByIdem[key]
	if !exists {
		return nil, store.ErrNotFound
	}
	boleta := s.boletasByID[id]
	return &boleta, nil
}

func (s *Store) ListBoletas(_ context.Context, from time.Time, to time.Time, limit int) ([]domain.Boleta, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	boletas := make([]domain.Boleta, 0, limit)
	for i := len(s.boletaOrder) - 1; i >= 0; i-- {
		boleta := s.boletasByID[s.boletaOrder[i]]
		if boleta.CreatedAt.Before(from) || !boleta.CreatedAt.Before(to) {
			continue
		}
		boletas = append(boletas, boleta)
		if limit > 0 && len(boletas) >= limit {
			break
		}
	}
	return boletas, nil
}

func (s *Store) NextBoletaNumber(_ context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.boletaSeq++
	return fmt.Sprintf("B-%06d", s.boletaSeq), nil
}

func (s *Store) CreateUser(_ context.Context, user domain.UserAccount) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if user.Username == "" {
		return store.ErrInvalidSale
	}
	if _, exists := s.usersByUsername[user.Username]; exists {
		return store.ErrDuplicate
	}
	s.usersByUsername[user.Username] = user
	return nil
}

func (s *Store) ListUsers(_ context.Context) ([]domain.UserAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	users := make([]domain.UserAccount, 0, len(s.usersByUsername))
	for _, user := range s.usersByUsername {
		users = append(users, user)
	}
	slices.SortFunc(users, func(a, b domain.UserAccount) int {
		return strings.Compare(a.Username, b.Username)
	})
	return users, nil
}

func (s *Store) UpdateUserPassword(_ context.Context, username string, password string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	user, exists := s.usersByUsername[username]
	if !exists {
		return store.ErrNotFound
	}
	user.Password = password
	s.usersByUsername[username] = user
	return nil
}
