package store

import (
	"context"
	"errors"
	"time"

	"puntoventa/backend/internal/domain"
)

var (
	ErrNotFound          = errors.New("not found")
	ErrInsufficientStock = errors.New("insufficient stock")
	ErrInvalidSale       = errors.New("invalid sale")
	ErrDuplicate         = errors.New("already exists")
)

type Repository interface {
	ListProducts(ctx context.Context, includeInactive bool) ([]domain.Product, error)
	GetProductByID(ctx context.Context, id string) (*domain.Product, error)
	GetProductsByIDs(ctx context.Context, ids []string) (map[string]domain.Product, error)
	CreateProduct(ctx context.Context, product domain.Product) (*domain.Product, error)
	UpdateProduct(ctx context.Context, product domain.Product) (*domain.Product, error)

	// CreateBoleta persists the sale and decrements stock for every line in
	// one atomic step. It fails with ErrInsufficientStock when any line
	// exceeds the available stock, leaving all stock untouched.
	CreateBoleta(ctx context.Context, boleta domain.Boleta) (*domain.Boleta, error)
	FindBoletaByNumber(ctx context.Context, number string) (*domain.Boleta, error)
	FindBoletaByIdempotency(ctx context.Context, key string) (*domain.Boleta, error)
	ListBoletas(ctx context.Context, from time.Time, to time.Time, limit int) ([]domain.Boleta, error)
	NextBoletaNumber(ctx context.Context) (string, error)

	CreateUser(ctx context.Context, user domain.UserAccount) error
	ListUsers(ctx context.Context) ([]domain.UserAccount, error)
	UpdateUserPassword(ctx context.Context, username string, password string) error
}
