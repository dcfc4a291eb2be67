package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"

	"puntoventa/backend/internal/cartstore"
	"puntoventa/backend/internal/domain"
	"puntoventa/backend/internal/orders"
	"puntoventa/backend/internal/receipt"
	"puntoventa/backend/internal/service"
	"puntoventa/backend/internal/store/memory"
)

type testEnv struct {
	server *httptest.Server
	tokens map[string]string
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	repo := memory.New()
	ctx := context.Background()

	seed := []domain.Product{
		{ID: "prod-1", Name: "Mouse", Category: "accesorios", UnitPrice: 25000, Stock: 10, Active: true},
		{ID: "prod-2", Name: "Teclado", Category: "accesorios", UnitPrice: 45990, Stock: 2, Active: true},
	}
	for _, p := range seed {
		if _, err := repo.CreateProduct(ctx, p); err != nil {
			t.Fatalf("seed product: %v", err)
		}
	}
	for _, u := range []struct{ name, role string }{
		{"admin", domain.RoleAdmin},
		{"cajero", domain.RoleCashier},
	} {
		hash, err := bcrypt.GenerateFromPassword([]byte(u.name+"-pass"), bcrypt.MinCost)
		if err != nil {
			t.Fatalf("hash password: %v", err)
		}
		err = repo.CreateUser(ctx, domain.UserAccount{
			Username: u.name, Password: string(hash), Role: u.role, Active: true, CreatedAt: time.Now().UTC(),
		})
		if err != nil {
			t.Fatalf("seed user: %v", err)
		}
	}

	svc := service.New(repo, "Tienda Test")
	auth := NewAuthManager("test-secret", time.Hour, repo)
	api := New(svc, auth, cartstore.NewMemoryStore(), orders.NewLocal(svc), receipt.NewPDFRenderer("Tienda Test"), "*")

	env := &testEnv{
		server: httptest.NewServer(api.Handler()),
		tokens: make(map[string]string),
	}
	t.Cleanup(env.server.Close)

	for _, username := range []string{"admin", "cajero"} {
		env.tokens[username] = env.login(t, username, username+"-pass")
	}
	return env
}

func (e *testEnv) login(t *testing.T, username, password string) string {
	t.Helper()
	body, _ := json.Marshal(domain.LoginRequest{Username: username, Password: password})
	resp, err := http.Post(e.server.URL+"/api/v1/auth/login", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("login request failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("login for %s returned %d", username, resp.StatusCode)
	}
	var login domain.LoginResponse
	if err := json.NewDecoder(resp.Body).Decode(&login); err != nil {
		t.Fatalf("decode login response: %v", err)
	}
	return login.AccessToken
}

func (e *testEnv) do(t *testing.T, method, path, token string, payload any) *http.Response {
	t.Helper()
	var body *bytes.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			t.Fatalf("marshal payload: %v", err)
		}
		body = bytes.NewReader(data)
	} else {
		body = bytes.NewReader(nil)
	}

	req, err := http.NewRequest(method, e.server.URL+path, body)
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s failed: %v", method, path, err)
	}
	return resp
}

func decodeBody(t *testing.T, resp *http.Response, dest any) {
	t.Helper()
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(dest); err != nil {
		t.Fatalf("decode response: %v", err)
	}
}

func TestHealthz(t *testing.T) {
	env := newTestEnv(t)
	resp, err := http.Get(env.server.URL + "/healthz")
	if err != nil {
		t.Fatalf("healthz failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
}

func TestProductsRequireToken(t *testing.T) {
	env := newTestEnv(t)
	resp := env.do(t, http.MethodGet, "/api/v1/products", "", nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", resp.StatusCode)
	}
}

func TestProductCreateForbiddenForCashier(t *testing.T) {
	env := newTestEnv(t)
	resp := env.do(t, http.MethodPost, "/api/v1/products", env.tokens["cajero"], domain.ProductCreateRequest{
		Name: "Webcam", Category: "accesorios", UnitPrice: 22990, Stock: 5,
	})
	resp.Body.Close()
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", resp.StatusCode)
	}
}

type cartViewResponse struct {
	Items    []domain.LineItem `json:"items"`
	Subtotal int64             `json:"subtotal"`
	Tax      int64             `json:"tax"`
	Total    int64             `json:"total"`
}

func TestCartFlowAndCheckout(t *testing.T) {
	env := newTestEnv(t)
	token := env.tokens["cajero"]

	resp := env.do(t, http.MethodPost, "/api/v1/cart", token, cartAddRequest{ProductID: "prod-1", Quantity: 2})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("add to cart returned %d", resp.StatusCode)
	}
	var view cartViewResponse
	decodeBody(t, resp, &view)
	if view.Subtotal != 50000 || view.Tax != 9500 || view.Total != 59500 {
		t.Fatalf("unexpected cart totals: %+v", view)
	}

	// Over the stock ceiling: 2 in cart + 9 more > 10.
	resp = env.do(t, http.MethodPost, "/api/v1/cart", token, cartAddRequest{ProductID: "prod-1", Quantity: 9})
	resp.Body.Close()
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("expected 409 for over-ceiling add, got %d", resp.StatusCode)
	}

	resp = env.do(t, http.MethodPost, "/api/v1/checkout", token, checkoutRequest{PaymentMethod: domain.PaymentCash})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("checkout returned %d", resp.StatusCode)
	}
	var checkoutResp struct {
		Receipt domain.Receipt `json:"receipt"`
	}
	decodeBody(t, resp, &checkoutResp)
	if checkoutResp.Receipt.Number == "" || checkoutResp.Receipt.Total != 59500 {
		t.Fatalf("unexpected receipt: %+v", checkoutResp.Receipt)
	}

	// Cart is empty after a successful checkout.
	resp = env.do(t, http.MethodGet, "/api/v1/cart", token, nil)
	decodeBody(t, resp, &view)
	if len(view.Items) != 0 {
		t.Fatalf("expected empty cart after checkout, got %+v", view.Items)
	}

	// Checking out the empty cart fails without touching the service.
	resp = env.do(t, http.MethodPost, "/api/v1/checkout", token, checkoutRequest{PaymentMethod: domain.PaymentCash})
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for empty cart, got %d", resp.StatusCode)
	}
}

func TestCartItemPatchAndDelete(t *testing.T) {
	env := newTestEnv(t)
	token := env.tokens["cajero"]

	resp := env.do(t, http.MethodPost, "/api/v1/cart", token, cartAddRequest{ProductID: "prod-1", Quantity: 1})
	resp.Body.Close()

	resp = env.do(t, http.MethodPatch, "/api/v1/cart/items/prod-1", token, cartItemPatch{Quantity: 5})
	var view cartViewResponse
	decodeBody(t, resp, &view)
	if len(view.Items) != 1 || view.Items[0].Quantity != 5 {
		t.Fatalf("expected quantity 5, got %+v", view.Items)
	}

	resp = env.do(t, http.MethodPatch, "/api/v1/cart/items/prod-9", token, cartItemPatch{Quantity: 1})
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404 for missing line, got %d", resp.StatusCode)
	}

	resp = env.do(t, http.MethodDelete, "/api/v1/cart/items/prod-1", token, nil)
	decodeBody(t, resp, &view)
	if len(view.Items) != 0 {
		t.Fatalf("expected empty cart after delete, got %+v", view.Items)
	}
}

func TestCheckoutInsufficientStockPreservesCart(t *testing.T) {
	env := newTestEnv(t)
	cashier := env.tokens["cajero"]
	admin := env.tokens["admin"]

	// Cashier holds both units of prod-2 in the cart; the admin then drops the
	// stock so the order fails server-side at submission.
	resp := env.do(t, http.MethodPost, "/api/v1/cart", cashier, cartAddRequest{ProductID: "prod-2", Quantity: 2})
	resp.Body.Close()

	zero := 0
	resp = env.do(t, http.MethodPatch, "/api/v1/products/prod-2", admin, domain.ProductUpdateRequest{Stock: &zero})
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("stock update returned %d", resp.StatusCode)
	}

	resp = env.do(t, http.MethodPost, "/api/v1/checkout", cashier, checkoutRequest{PaymentMethod: domain.PaymentCard})
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d", resp.StatusCode)
	}

	resp2 := env.do(t, http.MethodGet, "/api/v1/cart", cashier, nil)
	var view cartViewResponse
	decodeBody(t, resp2, &view)
	if len(view.Items) != 1 || view.Items[0].Quantity != 2 {
		t.Fatalf("expected cart preserved after failed checkout, got %+v", view.Items)
	}
}

func TestBoletaLookupAndPDF(t *testing.T) {
	env := newTestEnv(t)
	token := env.tokens["cajero"]

	resp := env.do(t, http.MethodPost, "/api/v1/cart", token, cartAddRequest{ProductID: "prod-1", Quantity: 1})
	resp.Body.Close()
	resp = env.do(t, http.MethodPost, "/api/v1/checkout", token, checkoutRequest{PaymentMethod: domain.PaymentCash})
	var checkoutResp struct {
		Receipt domain.Receipt `json:"receipt"`
	}
	decodeBody(t, resp, &checkoutResp)
	number := checkoutResp.Receipt.Number

	resp = env.do(t, http.MethodGet, "/api/v1/boletas/"+number, token, nil)
	var lookup struct {
		Boleta domain.Boleta `json:"boleta"`
	}
	decodeBody(t, resp, &lookup)
	if lookup.Boleta.Number != number || lookup.Boleta.Total != 29750 {
		t.Fatalf("unexpected boleta: %+v", lookup.Boleta)
	}

	resp = env.do(t, http.MethodGet, fmt.Sprintf("/api/v1/boletas/%s.pdf", number), token, nil)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("pdf returned %d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "application/pdf" {
		t.Fatalf("expected pdf content type, got %s", ct)
	}

	resp2 := env.do(t, http.MethodGet, "/api/v1/boletas/"+number+"/receipt-text", token, nil)
	var text domain.ReceiptTextResponse
	decodeBody(t, resp2, &text)
	if text.EscposBase64 == "" || text.Number != number {
		t.Fatalf("unexpected receipt text: %+v", text)
	}
}

func TestDailyReportAdminOnly(t *testing.T) {
	env := newTestEnv(t)

	resp := env.do(t, http.MethodGet, "/api/v1/reports/daily", env.tokens["cajero"], nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403 for cashier, got %d", resp.StatusCode)
	}

	resp = env.do(t, http.MethodGet, "/api/v1/reports/daily", env.tokens["admin"], nil)
	var report struct {
		Report domain.DailySummary `json:"report"`
	}
	decodeBody(t, resp, &report)
	if report.Report.Date == "" {
		t.Fatalf("expected a dated report, got %+v", report.Report)
	}
}
