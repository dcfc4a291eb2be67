// Package postgres implements the Repository on PostgreSQL through the pgx
// stdlib driver. Schema is managed externally; this package only assumes the
// products, boletas, boleta_lines and app_users tables plus the
// boleta_number_seq sequence exist.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"puntoventa/backend/internal/domain"
	"puntoventa/backend/internal/store"
)

type Store struct {
	db *sql.DB
}

func New(ctx context.Context, databaseURL string) (*Store, error) {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, err
	}

	db.SetMaxIdleConns(8)
	db.SetMaxOpenConns(30)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 6*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) ListProducts(ctx context.Context, includeInactive bool) ([]domain.Product, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, category, unit_price, stock, active, created_at
		FROM products
		WHERE active = true OR $1
		ORDER BY category, name
	`, includeInactive)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	products := make([]domain.Product, 0, 128)
	for rows.Next() {
		var p domain.Product
		if err := rows.Scan(&p.ID, &p.Name, &p.Category, &p.UnitPrice, &p.Stock, &p.Active, &p.CreatedAt); err != nil {
			return nil, err
		}
		p.CreatedAt = p.CreatedAt.UTC()
		products = append(products, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return products, nil
}

func (s *Store) GetProductByID(ctx context.Context, id string) (*domain.Product, error) {
	var p domain.Product
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, category, unit_price, stock, active, created_at
		FROM products
		WHERE id = $1
	`, id).Scan(&p.ID, &p.Name, &p.Category, &p.UnitPrice, &p.Stock, &p.Active, &p.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	p.CreatedAt = p.CreatedAt.UTC()
	return &p, nil
}

func (s *Store) GetProductsByIDs(ctx context.Context, ids []string) (map[string]domain.Product, error) {
	result := make(map[string]domain.Product, len(ids))
	if len(ids) == 0 {
		return result, nil
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, category, unit_price, stock, active, created_at
		FROM products
		WHERE id = ANY($1)
	`, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var p domain.Product
		if err := rows.Scan(&p.ID, &p.Name, &p.Category, &p.UnitPrice, &p.Stock, &p.Active, &p.CreatedAt); err != nil {
			return nil, err
		}
		result[p.ID] = p
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return result, nil
}

func (s *Store) CreateProduct(ctx context.Context, product domain.Product) (*domain.Product, error) {
	if product.ID == "" || product.Name == "" || product.UnitPrice < 0 || product.Stock < 0 {
		return nil, store.ErrInvalidSale
	}

	product.Active = true
	if product.CreatedAt.IsZero() {
		product.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO products (id, name, category, unit_price, stock, active, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,now())
	`, product.ID, product.Name, product.Category, product.UnitPrice, product.Stock, product.Active, product.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrDuplicate
		}
		return nil, err
	}

	created := product
	return &created, nil
}

func (s *Store) UpdateProduct(ctx context.Context, product domain.Product) (*domain.Product, error) {
	if product.ID == "" || product.Name == "" || product.UnitPrice < 0 || product.Stock < 0 {
		return nil, store.ErrInvalidSale
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE products
		SET name = $2, category = $3, unit_price = $4, stock = $5, active = $6, updated_at = now()
		WHERE id = $1
	`, product.ID, product.Name, product.Category, product.UnitPrice, product.Stock, product.Active)
	if err != nil {
		return nil, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if affected == 0 {
		return nil, store.ErrNotFound
	}

	updated := product
	return &updated, nil
}

func (s *Store) CreateBoleta(ctx context.Context, boleta domain.Boleta) (*domain.Boleta, error) {
	if boleta.ID == "" || boleta.Number == "" || len(boleta.Lines) == 0 {
		return nil, store.ErrInvalidSale
	}
	if boleta.CreatedAt.IsZero() {
		boleta.CreatedAt = time.Now().UTC()
	}

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	// Decrement stock line by line with a guard in the WHERE clause; zero
	// affected rows means the product is missing, inactive, or short on
	// stock, and the whole sale rolls back.
	for _, line := range boleta.Lines {
		if line.Quantity < 1 {
			return nil, store.ErrInvalidSale
		}
		res, err := tx.ExecContext(ctx, `
			UPDATE products
			SET stock = stock - $2, updated_at = now()
			WHERE id = $1 AND active = true AND stock >= $2
		`, line.ProductID, line.Quantity)
		if err != nil {
			return nil, err
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return nil, err
		}
		if affected == 0 {
			return nil, fmt.Errorf("%w: product %s", store.ErrInsufficientStock, line.ProductID)
		}
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO boletas (
			id, number, buyer_id, idempotency_key, payment_method,
			customer_name, customer_tax_id, subtotal, tax, total, created_at
		)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
	`, boleta.ID, boleta.Number, boleta.BuyerID, nullIfEmpty(boleta.IdempotencyKey), boleta.PaymentMethod,
		nullIfEmpty(boleta.CustomerName), nullIfEmpty(boleta.CustomerTaxID),
		boleta.Subtotal, boleta.Tax, boleta.Total, boleta.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrDuplicate
		}
		return nil, err
	}

	for _, line := range boleta.Lines {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO boleta_lines (boleta_id, product_id, name, unit_price, quantity)
			VALUES ($1,$2,$3,$4,$5)
		`, boleta.ID, line.ProductID, line.Name, line.UnitPrice, line.Quantity)
		if err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}

	created := boleta
	return &created, nil
}

func (s *Store) FindBoletaByNumber(ctx context.Context, number string) (*domain.Boleta, error) {
	return s.findBoleta(ctx, `number = $1`, number)
}

func (s *Store) FindBoletaByIdempotency(ctx context.Context, key string) (*domain.Boleta, error) {
	if key == "" {
		return nil, store.ErrNotFound
	}
	return s.findBoleta(ctx, `idempotency_key = $1`, key)
}

func (s *Store) findBoleta(ctx context.Context, where string, arg any) (*domain.Boleta, error) {
	var b domain.Boleta
	err := s.db.QueryRowContext(ctx, `
		SELECT id, number, buyer_id, COALESCE(idempotency_key,''), payment_method,
		       COALESCE(customer_name,''), COALESCE(customer_tax_id,''),
		       subtotal, tax, total, created_at
		FROM boletas
		WHERE `+where, arg).Scan(
		&b.ID, &b.Number, &b.BuyerID, &b.IdempotencyKey, &b.PaymentMethod,
		&b.CustomerName, &b.CustomerTaxID, &b.Subtotal, &b.Tax, &b.Total, &b.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	b.CreatedAt = b.CreatedAt.UTC()

	lines, err := s.boletaLines(ctx, b.ID)
	if err != nil {
		return nil, err
	}
	b.Lines = lines
	return &b, nil
}

func (s *Store) boletaLines(ctx context.Context, boletaID string) ([]domain.BoletaLine, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT product_id, name, unit_price, quantity
		FROM boleta_lines
		WHERE boleta_id = $1
		ORDER BY product_id
	`, boletaID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	lines := make([]domain.BoletaLine, 0, 8)
	for rows.Next() {
		var line domain.BoletaLine
		if err := rows.Scan(&line.ProductID, &line.Name, &line.UnitPrice, &line.Quantity); err != nil {
			return nil, err
		}
		lines = append(lines, line)
	}
	return lines, rows.Err()
}

func (s *Store) ListBoletas(ctx context.Context, from time.Time, to time.Time, limit int) ([]domain.Boleta, error) {
	if limit < 1 {
		limit = 100
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, number, buyer_id, COALESCE(idempotency_key,''), payment_method,
		       COALESCE(customer_name,''), COALESCE(customer_tax_id,''),
		       subtotal, tax, total, created_at
		FROM boletas
		WHERE created_at >= $1 AND created_at < $2
		ORDER BY created_at DESC
		LIMIT $3
	`, from, to, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	boletas := make([]domain.Boleta, 0, limit)
	for rows.Next() {
		var b domain.Boleta
		if err := rows.Scan(&b.ID, &b.Number, &b.BuyerID, &b.IdempotencyKey, &b.PaymentMethod,
			&b.CustomerName, &b.CustomerTaxID, &b.Subtotal, &b.Tax, &b.Total, &b.CreatedAt); err != nil {
			return nil, err
		}
		b.CreatedAt = b.CreatedAt.UTC()
		boletas = append(boletas, b)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range boletas {
		lines, err := s.boletaLines(ctx, boletas[i].ID)
		if err != nil {
			return nil, err
		}
		boletas[i].Lines = lines
	}
	return boletas, nil
}

func (s *Store) NextBoletaNumber(ctx context.Context) (string, error) {
	var seq int64
	if err := s.db.QueryRowContext(ctx, `SELECT nextval('boleta_number_seq')`).Scan(&seq); err != nil {
		return "", err
	}
	return fmt.Sprintf("B-%06d", seq), nil
}

func (s *Store) CreateUser(ctx context.Context, user domain.UserAccount) error {
	if user.Username == "" {
		return store.ErrInvalidSale
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO app_users (username, password, role, active, created_at)
		VALUES ($1,$2,$3,$4,$5)
	`, user.Username, user.Password, user.Role, user.Active, user.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return store.ErrDuplicate
		}
		return err
	}
	return nil
}

func (s *Store) ListUsers(ctx context.Context) ([]domain.UserAccount, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT username, password, role, active, created_at
		FROM app_users
		ORDER BY username ASC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	users := make([]domain.UserAccount, 0, 16)
	for rows.Next() {
		var user domain.UserAccount
		if err := rows.Scan(&user.Username, &user.Password, &user.Role, &user.Active, &user.CreatedAt); err != nil {
			return nil, err
		}
		user.CreatedAt = user.CreatedAt.UTC()
		users = append(users, user)
	}
	return users, rows.Err()
}

func (s *Store) UpdateUserPassword(ctx context.Context, username string, password string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE app_users SET password = $2 WHERE username = $1
	`, username, password)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}

func nullIfEmpty(val string) any {
	if val == "" {
		return nil
	}
	return val
}
