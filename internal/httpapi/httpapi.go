// Package httpapi exposes the sales service, per-session carts and checkout
// over a JSON HTTP API.
package httpapi

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"net/netip"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/cors"

	"puntoventa/backend/internal/cart"
	"puntoventa/backend/internal/checkout"
	"puntoventa/backend/internal/domain"
	"puntoventa/backend/internal/receipt"
	"puntoventa/backend/internal/service"
	"puntoventa/backend/internal/store"
)

type API struct {
	service       *service.Service
	auth          *AuthManager
	carts         *sessionManager
	pdf           *receipt.PDFRenderer
	allowedOrigin string
	loginLimiter  *attemptLimiter
}

func New(svc *service.Service, auth *AuthManager, storage cart.Storage, orders checkout.OrderService, pdf *receipt.PDFRenderer, allowedOrigin string) *API {
	return &API{
		service:       svc,
		auth:          auth,
		carts:         newSessionManager(storage, orders),
		pdf:           pdf,
		allowedOrigin: allowedOrigin,
		loginLimiter:  newAttemptLimiter(5, time.Minute),
	}
}

type attemptLimiter struct {
	mu      sync.Mutex
	max     int
	window  time.Duration
	entries map[string][]time.Time
}

func newAttemptLimiter(max int, window time.Duration) *attemptLimiter {
	if max < 1 {
		max = 1
	}
	if window <= 0 {
		window = time.Minute
	}
	return &attemptLimiter{max: max, window: window, entries: make(map[string][]time.Time)}
}

func (l *attemptLimiter) Allow(key string) bool {
	if l == nil {
		return true
	}
	now := time.Now()
	cutoff := now.Add(-l.window)

	l.mu.Lock()
	defer l.mu.Unlock()

	history := l.entries[key]
	kept := make([]time.Time, 0, len(history)+1)
	for _, ts := range history {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}
	if len(kept) >= l.max {
		l.entries[key] = kept
		return false
	}
	kept = append(kept, now)
	l.entries[key] = kept
	return true
}

func clientKey(r *http.Request) string {
	host := strings.TrimSpace(r.RemoteAddr)
	if host == "" {
		return "unknown"
	}
	if addr, err := netip.ParseAddrPort(host); err == nil {
		return addr.Addr().String()
	}
	if idx := strings.LastIndex(host, ":"); idx > 0 {
		return host[:idx]
	}
	return host
}

func (a *API) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/healthz", a.handleHealth)
	mux.HandleFunc("/api/v1/auth/login", a.handleLogin)

	mux.HandleFunc("/api/v1/products", a.requireAuth(a.handleProducts, domain.RoleCashier, domain.RoleAdmin))
	mux.HandleFunc("/api/v1/products/", a.requireAuth(a.handleProductActions, domain.RoleCashier, domain.RoleAdmin))

	mux.HandleFunc("/api/v1/cart", a.requireAuth(a.handleCart, domain.RoleCashier, domain.RoleAdmin))
	mux.HandleFunc("/api/v1/cart/items/", a.requireAuth(a.handleCartItem, domain.RoleCashier, domain.RoleAdmin))
	mux.HandleFunc("/api/v1/checkout", a.requireAuth(a.handleCheckout, domain.RoleCashier, domain.RoleAdmin))
	mux.HandleFunc("/api/v1/checkout/state", a.requireAuth(a.handleCheckoutState, domain.RoleCashier, domain.RoleAdmin))

	mux.HandleFunc("/api/v1/boletas", a.requireAuth(a.handleBoletas, domain.RoleCashier, domain.RoleAdmin))
	mux.HandleFunc("/api/v1/boletas/", a.requireAuth(a.handleBoletaActions, domain.RoleCashier, domain.RoleAdmin))

	mux.HandleFunc("/api/v1/reports/daily", a.requireAuth(a.handleDailyReport, domain.RoleAdmin))
	mux.HandleFunc("/api/v1/users", a.requireAuth(a.handleUsers, domain.RoleAdmin))

	return a.withMiddleware(mux)
}

func (a *API) requireAuth(next http.HandlerFunc, roles ...string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		authorization := strings.TrimSpace(r.Header.Get("Authorization"))
		if !strings.HasPrefix(strings.ToLower(authorization), "bearer ") {
			writeError(w, http.StatusUnauthorized, errors.New("missing bearer token"))
			return
		}

		token := strings.TrimSpace(authorization[len("Bearer "):])
		actor, err := a.auth.ParseToken(token)
		if err != nil {
			writeError(w, http.StatusUnauthorized, err)
			return
		}

		if len(roles) > 0 && !isRoleAllowed(actor.Role, roles) {
			writeError(w, http.StatusForbidden, errors.New("forbidden role"))
			return
		}

		next(w, r.WithContext(service.WithActor(r.Context(), actor)))
	}
}

func isRoleAllowed(role string, allowed []string) bool {
	for _, allow := range allowed {
		if role == allow {
			return true
		}
	}
	return false
}

func (a *API) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"ok": true,
		"at": time.Now().UTC().Format(time.RFC3339),
	})
}

func (a *API) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeMethodNotAllowed(w)
		return
	}
	if !a.loginLimiter.Allow(clientKey(r)) {
		writeError(w, http.StatusTooManyRequests, errors.New("too many login attempts"))
		return
	}

	var req domain.LoginRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	resp, err := a.auth.Login(r.Context(), req)
	if err != nil {
		writeError(w, http.StatusUnauthorized, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *API) handleProducts(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		products, err := a.service.ListProducts(r.Context())
		if err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"products": products})
	case http.MethodPost:
		var req domain.ProductCreateRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		product, err := a.service.CreateProduct(r.Context(), req)
		if err != nil {
			writeError(w, statusForServiceError(err), err)
			return
		}
		writeJSON(w, http.StatusCreated, map[string]any{"product": product})
	default:
		writeMethodNotAllowed(w)
	}
}

func (a *API) handleProductActions(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimPrefix(r.URL.Path, "/api/v1/products/")
	if id == "" || strings.Contains(id, "/") {
		writeError(w, http.StatusNotFound, errors.New("unknown product path"))
		return
	}

	switch r.Method {
	case http.MethodGet:
		product, err := a.service.GetProduct(r.Context(), id)
		if err != nil {
			writeError(w, statusForServiceError(err), err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"product": product})
	case http.MethodPatch:
		var req domain.ProductUpdateRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		product, err := a.service.UpdateProduct(r.Context(), id, req)
		if err != nil {
			writeError(w, statusForServiceError(err), err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"product": product})
	default:
		writeMethodNotAllowed(w)
	}
}

type cartAddRequest struct {
	ProductID string `json:"product_id"`
	Quantity  int    `json:"quantity"`
}

type cartItemPatch struct {
	Quantity int `json:"quantity"`
}

func (a *API) handleCart(w http.ResponseWriter, r *http.Request) {
	sess := a.sessionFor(r)
	sess.mu.Lock()
	defer sess.mu.Unlock()

	switch r.Method {
	case http.MethodGet:
		a.writeCart(w, sess.cart)
	case http.MethodPost:
		var req cartAddRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		product, err := a.service.GetProduct(r.Context(), req.ProductID)
		if err != nil {
			writeError(w, statusForServiceError(err), err)
			return
		}
		if !product.Active {
			writeError(w, http.StatusConflict, errors.New("product is not available"))
			return
		}
		err = sess.cart.Add(r.Context(), cart.ProductRef{
			ID:        product.ID,
			Name:      product.Name,
			UnitPrice: product.UnitPrice,
			Stock:     product.Stock,
		}, req.Quantity)
		if err != nil {
			writeError(w, statusForCartError(err), err)
			return
		}
		a.writeCart(w, sess.cart)
	case http.MethodDelete:
		if err := sess.cart.Clear(r.Context()); err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		a.writeCart(w, sess.cart)
	default:
		writeMethodNotAllowed(w)
	}
}

func (a *API) handleCartItem(w http.ResponseWriter, r *http.Request) {
	productID := strings.TrimPrefix(r.URL.Path, "/api/v1/cart/items/")
	if productID == "" || strings.Contains(productID, "/") {
		writeError(w, http.StatusNotFound, errors.New("unknown cart item path"))
		return
	}

	sess := a.sessionFor(r)
	sess.mu.Lock()
	defer sess.mu.Unlock()

	switch r.Method {
	case http.MethodPatch:
		var req cartItemPatch
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		if err := sess.cart.SetQuantity(r.Context(), productID, req.Quantity); err != nil {
			writeError(w, statusForCartError(err), err)
			return
		}
		a.writeCart(w, sess.cart)
	case http.MethodDelete:
		if err := sess.cart.Remove(r.Context(), productID); err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		a.writeCart(w, sess.cart)
	default:
		writeMethodNotAllowed(w)
	}
}

type checkoutRequest struct {
	PaymentMethod string `json:"payment_method"`
	CustomerName  string `json:"customer_name,omitempty"`
	CustomerTaxID string `json:"customer_tax_id,omitempty"`
}

func (a *API) handleCheckout(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeMethodNotAllowed(w)
		return
	}

	var req checkoutRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	actor, _ := service.ActorFromContext(r.Context())
	sess := a.sessionFor(r)
	sess.mu.Lock()
	defer sess.mu.Unlock()

	rcpt, err := sess.submitter.Submit(r.Context(), sess.cart, checkout.Meta{
		BuyerID:       actor.Username,
		PaymentMethod: req.PaymentMethod,
		CustomerName:  req.CustomerName,
		CustomerTaxID: req.CustomerTaxID,
	})
	if err != nil {
		writeError(w, statusForCheckoutError(err), err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"receipt": rcpt})
}

func (a *API) handleCheckoutState(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w)
		return
	}
	sess := a.sessionFor(r)
	writeJSON(w, http.StatusOK, map[string]any{"state": sess.submitter.State()})
}

func (a *API) handleBoletas(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w)
		return
	}

	query := r.URL.Query()
	limit := parsePositiveLimit(query.Get("limit"), 100, 500)
	from, _ := time.Parse("2006-01-02", query.Get("from"))
	var to time.Time
	if day, err := time.Parse("2006-01-02", query.Get("to")); err == nil {
		to = day.AddDate(0, 0, 1)
	}

	boletas, err := a.service.ListBoletas(r.Context(), from, to, limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"boletas": boletas})
}

func (a *API) handleBoletaActions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w)
		return
	}

	rest := strings.TrimPrefix(r.URL.Path, "/api/v1/boletas/")
	switch {
	case strings.HasSuffix(rest, "/receipt-text"):
		number := strings.TrimSuffix(rest, "/receipt-text")
		resp, err := a.service.BuildReceiptText(r.Context(), number)
		if err != nil {
			writeError(w, statusForServiceError(err), err)
			return
		}
		writeJSON(w, http.StatusOK, resp)
	case strings.HasSuffix(rest, ".pdf"):
		number := strings.TrimSuffix(rest, ".pdf")
		boleta, err := a.service.FindBoleta(r.Context(), number)
		if err != nil {
			writeError(w, statusForServiceError(err), err)
			return
		}
		data, err := a.pdf.Render(boleta)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		w.Header().Set("Content-Type", "application/pdf")
		w.Header().Set("Content-Disposition", "attachment; filename=boleta-"+boleta.Number+".pdf")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(data)
	case rest != "" && !strings.Contains(rest, "/"):
		boleta, err := a.service.FindBoleta(r.Context(), rest)
		if err != nil {
			writeError(w, statusForServiceError(err), err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"boleta": boleta})
	default:
		writeError(w, http.StatusNotFound, errors.New("unknown boleta path"))
	}
}

func (a *API) handleDailyReport(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w)
		return
	}
	summary, err := a.service.DailySummary(r.Context(), r.URL.Query().Get("date"))
	if err != nil {
		writeError(w, statusForServiceError(err), err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"report": summary})
}

func (a *API) handleUsers(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		users, err := a.service.ListUsers(r.Context())
		if err != nil {
			writeError(w, statusForServiceError(err), err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"users": users})
	case http.MethodPost:
		var req domain.UserCreateRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		user, err := a.service.CreateUser(r.Context(), req)
		if err != nil {
			writeError(w, statusForServiceError(err), err)
			return
		}
		writeJSON(w, http.StatusCreated, map[string]any{"user": user})
	default:
		writeMethodNotAllowed(w)
	}
}

// sessionFor resolves the caller's cart session. Carts are keyed per username
// so a cashier keeps the same cart across requests and restarts.
func (a *API) sessionFor(r *http.Request) *session {
	actor, _ := service.ActorFromContext(r.Context())
	username := actor.Username
	if username == "" {
		username = "anonymous"
	}
	return a.carts.get(r.Context(), "cart:"+username)
}

func (a *API) writeCart(w http.ResponseWriter, c *cart.Cart) {
	writeJSON(w, http.StatusOK, map[string]any{
		"items":    c.Items(),
		"subtotal": c.Subtotal(),
		"tax":      c.Tax(),
		"total":    c.Total(),
	})
}

func statusForServiceError(err error) int {
	switch {
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, store.ErrInvalidSale):
		return http.StatusBadRequest
	case errors.Is(err, store.ErrInsufficientStock), errors.Is(err, store.ErrDuplicate):
		return http.StatusConflict
	case strings.Contains(err.Error(), "admin role required"):
		return http.StatusForbidden
	default:
		return http.StatusInternalServerError
	}
}

func statusForCartError(err error) int {
	switch {
	case errors.Is(err, cart.ErrInsufficientStock):
		return http.StatusConflict
	case errors.Is(err, cart.ErrNotFound):
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

func statusForCheckoutError(err error) int {
	switch {
	case errors.Is(err, checkout.ErrEmptyCart), errors.Is(err, checkout.ErrInvalidPayment):
		return http.StatusBadRequest
	case errors.Is(err, checkout.ErrSubmissionInFlight):
		return http.StatusConflict
	case errors.Is(err, checkout.ErrCheckoutFailed):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

func (a *API) withMiddleware(next http.Handler) http.Handler {
	corsWrapper := cors.New(cors.Options{
		AllowedOrigins: []string{a.allowedOrigin},
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPatch, http.MethodDelete, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type", "Authorization"},
	})

	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")

		if (r.Method == http.MethodPost || r.Method == http.MethodPatch || r.Method == http.MethodPut) && strings.Contains(strings.ToLower(r.Header.Get("Content-Type")), "application/json") {
			r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
		}

		startedAt := time.Now()
		next.ServeHTTP(w, r)
		log.Printf("%s %s %s", r.Method, r.URL.Path, time.Since(startedAt))
	})

	return corsWrapper.Handler(handler)
}

func decodeJSON(r *http.Request, dest any) error {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	return decoder.Decode(dest)
}

func parsePositiveLimit(raw string, fallback int, max int) int {
	limit := fallback
	trimmed := strings.TrimSpace(raw)
	if trimmed != "" {
		if parsed, err := strconv.Atoi(trimmed); err == nil && parsed > 0 {
			limit = parsed
		}
	}
	if max > 0 && limit > max {
		return max
	}
	return limit
}

func writeMethodNotAllowed(w http.ResponseWriter) {
	writeError(w, http.StatusMethodNotAllowed, errors.New("method not allowed"))
}

func writeError(w http.ResponseWriter, status int, err error) {
	// 5xx responses get a generic message so internals are not leaked; 4xx
	// messages are user-facing.
	msg := err.Error()
	if status >= 500 {
		log.Printf("internal error (status %d): %v", status, err)
		msg = "internal server error"
	}
	writeJSON(w, status, map[string]any{
		"error": msg,
	})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
