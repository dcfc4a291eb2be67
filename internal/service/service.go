// Package service holds the sales business rules: product catalogue
// management, boleta creation with server-side pricing, reporting and receipt
// rendering. It is the price and stock authority behind the checkout port.
package service

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"

	"puntoventa/backend/internal/cart"
	"puntoventa/backend/internal/domain"
	"puntoventa/backend/internal/store"
	"puntoventa/backend/internal/xid"
)

type actorContextKey struct{}

func WithActor(ctx context.Context, actor domain.Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

func ActorFromContext(ctx context.Context) (domain.Actor, bool) {
	actor, ok := ctx.Value(actorContextKey{}).(domain.Actor)
	return actor, ok
}

type Service struct {
	repo      store.Repository
	storeName string
}

func New(repo store.Repository, storeName string) *Service {
	if storeName == "" {
		storeName = "Punto Venta"
	}
	return &Service{repo: repo, storeName: storeName}
}

func (s *Service) ListProducts(ctx context.Context) ([]domain.Product, error) {
	actor, _ := ActorFromContext(ctx)
	includeInactive := actor.Role == domain.RoleAdmin
	return s.repo.ListProducts(ctx, includeInactive)
}

func (s *Service) GetProduct(ctx context.Context, id string) (domain.Product, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return domain.Product{}, store.ErrInvalidSale
	}
	product, err := s.repo.GetProductByID(ctx, id)
	if err != nil {
		return domain.Product{}, err
	}
	return *product, nil
}

func (s *Service) CreateProduct(ctx context.Context, req domain.ProductCreateRequest) (domain.Product, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok || actor.Role != domain.RoleAdmin {
		return domain.Product{}, fmt.Errorf("admin role required")
	}

	req.Name = strings.TrimSpace(req.Name)
	req.Category = strings.TrimSpace(req.Category)
	if req.Name == "" || req.Category == "" {
		return domain.Product{}, store.ErrInvalidSale
	}
	if req.UnitPrice < 1 || req.Stock < 0 {
		return domain.Product{}, store.ErrInvalidSale
	}

	product := domain.Product{
		ID:        xid.New("prod"),
		Name:      req.Name,
		Category:  req.Category,
		UnitPrice: req.UnitPrice,
		Stock:     req.Stock,
		Active:    true,
		CreatedAt: time.Now().UTC(),
	}

	created, err := s.repo.CreateProduct(ctx, product)
	if err != nil {
		return domain.Product{}, err
	}
	log.Printf("[service] product created id=%s name=%q by=%s", created.ID, created.Name, actor.Username)
	return *created, nil
}

func (s *Service) UpdateProduct(ctx context.Context, id string, req domain.ProductUpdateRequest) (domain.Product, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok || actor.Role != domain.RoleAdmin {
		return domain.Product{}, fmt.Errorf("admin role required")
	}

	id = strings.TrimSpace(id)
	if id == "" {
		return domain.Product{}, store.ErrInvalidSale
	}

	existing, err := s.repo.GetProductByID(ctx, id)
	if err != nil {
		return domain.Product{}, err
	}

	product := *existing
	if req.Name != nil {
		product.Name = strings.TrimSpace(*req.Name)
	}
	if req.Category != nil {
		product.Category = strings.TrimSpace(*req.Category)
	}
	if req.UnitPrice != nil {
		product.UnitPrice = *req.UnitPrice
	}
	if req.Stock != nil {
		product.Stock = *req.Stock
	}
	if req.Active != nil {
		product.Active = *req.Active
	}
	if product.Name == "" || product.UnitPrice < 1 || product.Stock < 0 {
		return domain.Product{}, store.ErrInvalidSale
	}

	updated, err := s.repo.UpdateProduct(ctx, product)
	if err != nil {
		return domain.Product{}, err
	}
	log.Printf("[service] product updated id=%s by=%s", updated.ID, actor.Username)
	return *updated, nil
}

// CreateOrder turns submitted lines into a persisted boleta. Prices are looked
// up server-side; client-supplied prices are never trusted. A repeated
// idempotency key returns the already-created boleta instead of selling twice.
func (s *Service) CreateOrder(ctx context.Context, req domain.OrderRequest) (domain.OrderReceipt, error) {
	if len(req.Lines) == 0 {
		return domain.OrderReceipt{}, fmt.Errorf("%w: no lines", store.ErrInvalidSale)
	}
	if !domain.IsSupportedPaymentMethod(req.PaymentMethod) {
		return domain.OrderReceipt{}, fmt.Errorf("%w: payment method %q", store.ErrInvalidSale, req.PaymentMethod)
	}

	req.IdempotencyKey = strings.TrimSpace(req.IdempotencyKey)
	if req.IdempotencyKey != "" {
		if existing, err := s.repo.FindBoletaByIdempotency(ctx, req.IdempotencyKey); err == nil {
			log.Printf("[service] duplicate order request key=%s boleta=%s", req.IdempotencyKey, existing.Number)
			return receiptFromBoleta(*existing), nil
		} else if !errors.Is(err, store.ErrNotFound) {
			return domain.OrderReceipt{}, err
		}
	}

	// Merge repeated product lines before pricing so the stock decrement sees
	// the combined quantity.
	merged := make([]domain.OrderLine, 0, len(req.Lines))
	index := make(map[string]int, len(req.Lines))
	for _, line := range req.Lines {
		if line.ProductID == "" || line.Quantity < 1 {
			return domain.OrderReceipt{}, fmt.Errorf("%w: bad line for product %q", store.ErrInvalidSale, line.ProductID)
		}
		if at, seen := index[line.ProductID]; seen {
			merged[at].Quantity += line.Quantity
			continue
		}
		index[line.ProductID] = len(merged)
		merged = append(merged, line)
	}

	ids := make([]string, 0, len(merged))
	for _, line := range merged {
		ids = append(ids, line.ProductID)
	}
	products, err := s.repo.GetProductsByIDs(ctx, ids)
	if err != nil {
		return domain.OrderReceipt{}, err
	}

	var subtotal int64
	boletaLines := make([]domain.BoletaLine, 0, len(merged))
	for _, line := range merged {
		product, exists := products[line.ProductID]
		if !exists || !product.Active {
			return domain.OrderReceipt{}, fmt.Errorf("%w: unknown product %s", store.ErrInvalidSale, line.ProductID)
		}
		if line.Quantity > product.Stock {
			return domain.OrderReceipt{}, fmt.Errorf("%w: product %s has %d units", store.ErrInsufficientStock, line.ProductID, product.Stock)
		}
		subtotal += product.UnitPrice * int64(line.Quantity)
		boletaLines = append(boletaLines, domain.BoletaLine{
			ProductID: product.ID,
			Name:      product.Name,
			UnitPrice: product.UnitPrice,
			Quantity:  line.Quantity,
		})
	}

	tax := cart.Tax(subtotal)

	number, err := s.repo.NextBoletaNumber(ctx)
	if err != nil {
		return domain.OrderReceipt{}, err
	}

	boleta := domain.Boleta{
		ID:             xid.New("bol"),
		Number:         number,
		BuyerID:        strings.TrimSpace(req.BuyerID),
		IdempotencyKey: req.IdempotencyKey,
		PaymentMethod:  req.PaymentMethod,
		CustomerName:   strings.TrimSpace(req.CustomerName),
		CustomerTaxID:  strings.TrimSpace(req.CustomerTaxID),
		Subtotal:       subtotal,
		Tax:            tax,
		Total:          subtotal + tax,
		CreatedAt:      time.Now().UTC(),
		Lines:          boletaLines,
	}

	created, err := s.repo.CreateBoleta(ctx, boleta)
	if err != nil {
		if errors.Is(err, store.ErrDuplicate) && req.IdempotencyKey != "" {
			// Lost the race against a concurrent request with the same key.
			if existing, findErr := s.repo.FindBoletaByIdempotency(ctx, req.IdempotencyKey); findErr == nil {
				return receiptFromBoleta(*existing), nil
			}
		}
		return domain.OrderReceipt{}, err
	}

	log.Printf("[service] boleta created number=%s total=%d method=%s", created.Number, created.Total, created.PaymentMethod)
	return receiptFromBoleta(*created), nil
}

func receiptFromBoleta(b domain.Boleta) domain.OrderReceipt {
	return domain.OrderReceipt{
		Number:        b.Number,
		Date:          b.CreatedAt,
		PaymentMethod: b.PaymentMethod,
		CustomerName:  b.CustomerName,
		CustomerTaxID: b.CustomerTaxID,
		Lines:         b.Lines,
		Subtotal:      b.Subtotal,
		Tax:           b.Tax,
		Total:         b.Total,
	}
}

func (s *Service) FindBoleta(ctx context.Context, number string) (domain.Boleta, error) {
	number = strings.TrimSpace(number)
	if number == "" {
		return domain.Boleta{}, store.ErrInvalidSale
	}
	boleta, err := s.repo.FindBoletaByNumber(ctx, number)
	if err != nil {
		return domain.Boleta{}, err
	}
	return *boleta, nil
}

func (s *Service) ListBoletas(ctx context.Context, from time.Time, to time.Time, limit int) ([]domain.Boleta, error) {
	if limit < 1 || limit > 500 {
		limit = 100
	}
	if to.IsZero() {
		to = time.Now().UTC()
	}
	if from.IsZero() {
		from = to.AddDate(0, 0, -7)
	}
	return s.repo.ListBoletas(ctx, from, to, limit)
}

// DailySummary aggregates one calendar day (UTC) of boletas, broken down by
// payment method.
func (s *Service) DailySummary(ctx context.Context, date string) (domain.DailySummary, error) {
	if date == "" {
		date = time.Now().UTC().Format("2006-01-02")
	}
	day, err := time.Parse("2006-01-02", date)
	if err != nil {
		return domain.DailySummary{}, fmt.Errorf("%w: bad date %q", store.ErrInvalidSale, date)
	}

	boletas, err := s.repo.ListBoletas(ctx, day, day.AddDate(0, 0, 1), 0)
	if err != nil {
		return domain.DailySummary{}, err
	}

	summary := domain.DailySummary{Date: date}
	byMethod := map[string]*domain.DailySummaryMethod{}
	for _, b := range boletas {
		summary.Boletas++
		summary.Subtotal += b.Subtotal
		summary.Tax += b.Tax
		summary.Total += b.Total

		entry, exists := byMethod[b.PaymentMethod]
		if !exists {
			entry = &domain.DailySummaryMethod{PaymentMethod: b.PaymentMethod}
			byMethod[b.PaymentMethod] = entry
		}
		entry.Boletas++
		entry.Total += b.Total
	}

	for _, method := range domain.PaymentMethods {
		if entry, exists := byMethod[method]; exists {
			summary.ByMethod = append(summary.ByMethod, *entry)
		}
	}
	return summary, nil
}

// BuildReceiptText renders a boleta as printable text plus the equivalent
// ESC/POS byte stream (base64) for thermal printer bridges.
func (s *Service) BuildReceiptText(ctx context.Context, number string) (domain.ReceiptTextResponse, error) {
	boleta, err := s.FindBoleta(ctx, number)
	if err != nil {
		return domain.ReceiptTextResponse{}, err
	}

	lines := []string{
		s.storeName,
		"========================",
		"Boleta: " + boleta.Number,
		"Fecha : " + boleta.CreatedAt.Format("2006-01-02 15:04:05"),
		"Pago  : " + boleta.PaymentMethod,
	}
	if boleta.CustomerName != "" {
		lines = append(lines, "Cliente: "+boleta.CustomerName)
	}
	if boleta.CustomerTaxID != "" {
		lines = append(lines, "RUT    : "+boleta.CustomerTaxID)
	}
	lines = append(lines, "------------------------")
	for _, item := range boleta.Lines {
		lines = append(lines, fmt.Sprintf("%s x%d", item.Name, item.Quantity))
		lines = append(lines, fmt.Sprintf("  $%d", item.UnitPrice*int64(item.Quantity)))
	}
	lines = append(lines,
		"------------------------",
		fmt.Sprintf("Neto  : $%d", boleta.Subtotal),
		fmt.Sprintf("IVA   : $%d", boleta.Tax),
		fmt.Sprintf("Total : $%d", boleta.Total),
		"========================",
		"Gracias por su compra",
		"",
	)

	escpos := []byte{0x1b, 0x40}
	for _, line := range lines {
		escpos = append(escpos, []byte(line)...)
		escpos = append(escpos, '\n')
	}
	escpos = append(escpos, []byte{0x1d, 0x56, 0x41, 0x10}...)

	return domain.ReceiptTextResponse{
		Number:       boleta.Number,
		PreviewText:  strings.Join(lines, "\n"),
		EscposBase64: base64.StdEncoding.EncodeToString(escpos),
		FileName:     fmt.Sprintf("boleta-%s.bin", boleta.Number),
	}, nil
}

func (s *Service) CreateUser(ctx context.Context, req domain.UserCreateRequest) (domain.UserView, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok || actor.Role != domain.RoleAdmin {
		return domain.UserView{}, fmt.Errorf("admin role required")
	}

	req.Username = strings.TrimSpace(req.Username)
	if req.Username == "" || len(req.Password) < 8 {
		return domain.UserView{}, fmt.Errorf("%w: username and a password of 8+ characters required", store.ErrInvalidSale)
	}
	if req.Role == "" {
		req.Role = domain.RoleCashier
	}
	if req.Role != domain.RoleAdmin && req.Role != domain.RoleCashier {
		return domain.UserView{}, fmt.Errorf("%w: unknown role %q", store.ErrInvalidSale, req.Role)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		return domain.UserView{}, err
	}

	user := domain.UserAccount{
		Username:  req.Username,
		Password:  string(hash),
		Role:      req.Role,
		Active:    true,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.repo.CreateUser(ctx, user); err != nil {
		return domain.UserView{}, err
	}

	log.Printf("[service] user created username=%s role=%s by=%s", user.Username, user.Role, actor.Username)
	return domain.UserView{Username: user.Username, Role: user.Role, Active: user.Active, CreatedAt: user.CreatedAt}, nil
}

func (s *Service) ListUsers(ctx context.Context) ([]domain.UserView, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok || actor.Role != domain.RoleAdmin {
		return nil, fmt.Errorf("admin role required")
	}

	accounts, err := s.repo.ListUsers(ctx)
	if err != nil {
		return nil, err
	}
	views := make([]domain.UserView, 0, len(accounts))
	for _, account := range accounts {
		views = append(views, domain.UserView{
			Username:  account.Username,
			Role:      account.Role,
			Active:    account.Active,
			CreatedAt: account.CreatedAt,
		})
	}
	return views, nil
}
