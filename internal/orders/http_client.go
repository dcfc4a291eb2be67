package orders

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"puntoventa/backend/internal/domain"
)

// HTTPClient submits orders to a remote sales API. Known deployments answer
// with the receipt wrapped under "boleta", older ones under "venta", and some
// return the receipt as the bare body; unwrapEnvelope handles all three in one
// place so no other code has to care.
type HTTPClient struct {
	baseURL string
	token   string
	client  *http.Client
}

func NewHTTPClient(baseURL string, token string) *HTTPClient {
	return &HTTPClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		client:  &http.Client{Timeout: 15 * time.Second},
	}
}

type orderEnvelope struct {
	Boleta *domain.OrderReceipt `json:"boleta"`
	Venta  *domain.OrderReceipt `json:"venta"`
}

type errorEnvelope struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func (c *HTTPClient) Submit(ctx context.Context, req domain.OrderRequest) (*domain.OrderReceipt, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/v1/orders", bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, err
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, errors.New(extractErrorMessage(resp.StatusCode, body))
	}

	receipt, err := unwrapEnvelope(body)
	if err != nil {
		return nil, err
	}
	return receipt, nil
}

func unwrapEnvelope(body []byte) (*domain.OrderReceipt, error) {
	var envelope orderEnvelope
	if err := json.Unmarshal(body, &envelope); err == nil {
		if envelope.Boleta != nil {
			return envelope.Boleta, nil
		}
		if envelope.Venta != nil {
			return envelope.Venta, nil
		}
	}

	var bare domain.OrderReceipt
	if err := json.Unmarshal(body, &bare); err != nil {
		return nil, fmt.Errorf("unreadable order response: %w", err)
	}
	return &bare, nil
}

// extractErrorMessage surfaces the server's human-readable reason when one is
// present, so checkout can show it verbatim.
func extractErrorMessage(status int, body []byte) string {
	var envelope errorEnvelope
	if err := json.Unmarshal(body, &envelope); err == nil {
		if envelope.Error != "" {
			return envelope.Error
		}
		if envelope.Message != "" {
			return envelope.Message
		}
	}
	return fmt.Sprintf("order service returned status %d", status)
}
