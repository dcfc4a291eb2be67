package orders

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"puntoventa/backend/internal/domain"
)

func submitVia(t *testing.T, handler http.HandlerFunc) (*domain.OrderReceipt, error) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	client := NewHTTPClient(srv.URL, "test-token")
	return client.Submit(context.Background(), domain.OrderRequest{
		BuyerID:       "u1",
		PaymentMethod: domain.PaymentCash,
		Lines:         []domain.OrderLine{{ProductID: "prod-1", Quantity: 2}},
	})
}

func TestSubmitUnwrapsBoletaEnvelope(t *testing.T) {
	receipt, err := submitVia(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer test-token" {
			t.Errorf("missing bearer token")
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"boleta":{"number":"B-000042","subtotal":50000,"tax":9500,"total":59500}}`))
	})
	if err != nil {
		t.Fatalf("submit failed: %v", err)
	}
	if receipt.Number != "B-000042" || receipt.Total != 59500 {
		t.Fatalf("unexpected receipt: %+v", receipt)
	}
}

func TestSubmitUnwrapsVentaEnvelope(t *testing.T) {
	receipt, err := submitVia(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"venta":{"number":"B-000007","total":11900}}`))
	})
	if err != nil {
		t.Fatalf("submit failed: %v", err)
	}
	if receipt.Number != "B-000007" {
		t.Fatalf("unexpected receipt: %+v", receipt)
	}
}

func TestSubmitAcceptsBareReceipt(t *testing.T) {
	receipt, err := submitVia(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"number":"B-000001","subtotal":10000,"tax":1900,"total":11900}`))
	})
	if err != nil {
		t.Fatalf("submit failed: %v", err)
	}
	if receipt.Number != "B-000001" || receipt.Tax != 1900 {
		t.Fatalf("unexpected receipt: %+v", receipt)
	}
}

func TestSubmitSurfacesServerErrorMessage(t *testing.T) {
	_, err := submitVia(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
		w.Write([]byte(`{"error":"Stock insuficiente para Mouse"}`))
	})
	if err == nil {
		t.Fatalf("expected error")
	}
	if err.Error() != "Stock insuficiente para Mouse" {
		t.Fatalf("expected server message verbatim, got %q", err.Error())
	}
}

func TestSubmitFallsBackToStatusMessage(t *testing.T) {
	_, err := submitVia(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		w.Write([]byte(`upstream exploded`))
	})
	if err == nil {
		t.Fatalf("expected error")
	}
	if err.Error() != "order service returned status 502" {
		t.Fatalf("unexpected error message: %q", err.Error())
	}
}
