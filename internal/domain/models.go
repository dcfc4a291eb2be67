package domain

import "time"

// Amounts are integer Chilean pesos. CLP has no decimal subunit, so there is
// no cents scaling anywhere in the system.

const IVARatePercent = 19

type Product struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Category  string    `json:"category"`
	UnitPrice int64     `json:"unit_price"`
	Stock     int       `json:"stock"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
}

type ProductCreateRequest struct {
	Name      string `json:"name"`
	Category  string `json:"category"`
	UnitPrice int64  `json:"unit_price"`
	Stock     int    `json:"stock"`
}

type ProductUpdateRequest struct {
	Name      *string `json:"name,omitempty"`
	Category  *string `json:"category,omitempty"`
	UnitPrice *int64  `json:"unit_price,omitempty"`
	Stock     *int    `json:"stock,omitempty"`
	Active    *bool   `json:"active,omitempty"`
}

// LineItem is one product entry in a cart. StockCeiling is the stock snapshot
// taken when the item was added; it bounds quantity edits locally but the sales
// service re-validates stock at order time.
type LineItem struct {
	ProductID    string `json:"product_id"`
	Name         string `json:"name"`
	UnitPrice    int64  `json:"unit_price"`
	Quantity     int    `json:"quantity"`
	StockCeiling int    `json:"stock_ceiling"`
}

// OrderLine is the wire form of a cart line at submission time. Prices are not
// sent; the sales service is the price authority.
type OrderLine struct {
	ProductID string `json:"product_id"`
	Quantity  int    `json:"quantity"`
}

type OrderRequest struct {
	BuyerID        string      `json:"buyer_id"`
	PaymentMethod  string      `json:"payment_method"`
	IdempotencyKey string      `json:"idempotency_key,omitempty"`
	CustomerName   string      `json:"customer_name,omitempty"`
	CustomerTaxID  string      `json:"customer_tax_id,omitempty"`
	Lines          []OrderLine `json:"lines"`
}

// OrderReceipt is what the sales service returns for a created boleta. Line
// detail may be omitted by remote implementations; callers keep their own copy.
type OrderReceipt struct {
	Number        string       `json:"number"`
	Date          time.Time    `json:"date"`
	PaymentMethod string       `json:"payment_method"`
	CustomerName  string       `json:"customer_name,omitempty"`
	CustomerTaxID string       `json:"customer_tax_id,omitempty"`
	Lines         []BoletaLine `json:"lines,omitempty"`
	Subtotal      int64        `json:"subtotal"`
	Tax           int64        `json:"tax"`
	Total         int64        `json:"total"`
}

// Receipt is the display-only projection handed to the UI after checkout.
// Totals come from the service response when present, otherwise from the
// client-computed cart values.
type Receipt struct {
	Number        string     `json:"number"`
	Date          time.Time  `json:"date"`
	PaymentMethod string     `json:"payment_method"`
	CustomerName  string     `json:"customer_name,omitempty"`
	CustomerTaxID string     `json:"customer_tax_id,omitempty"`
	Lines         []LineItem `json:"lines"`
	Subtotal      int64      `json:"subtotal"`
	Tax           int64      `json:"tax"`
	Total         int64      `json:"total"`
}

type BoletaLine struct {
	ProductID string `json:"product_id"`
	Name      string `json:"name"`
	UnitPrice int64  `json:"unit_price"`
	Quantity  int    `json:"quantity"`
}

// Boleta is the persisted sale record.
type Boleta struct {
	ID             string       `json:"id"`
	Number         string       `json:"number"`
	BuyerID        string       `json:"buyer_id"`
	IdempotencyKey string       `json:"idempotency_key,omitempty"`
	PaymentMethod  string       `json:"payment_method"`
	CustomerName   string       `json:"customer_name,omitempty"`
	CustomerTaxID  string       `json:"customer_tax_id,omitempty"`
	Subtotal       int64        `json:"subtotal"`
	Tax            int64        `json:"tax"`
	Total          int64        `json:"total"`
	CreatedAt      time.Time    `json:"created_at"`
	Lines          []BoletaLine `json:"lines"`
}

type DailySummaryMethod struct {
	PaymentMethod string `json:"payment_method"`
	Boletas       int64  `json:"boletas"`
	Total         int64  `json:"total"`
}

type DailySummary struct {
	Date     string               `json:"date"`
	Boletas  int64                `json:"boletas"`
	Subtotal int64                `json:"subtotal"`
	Tax      int64                `json:"tax"`
	Total    int64                `json:"total"`
	ByMethod []DailySummaryMethod `json:"by_method"`
}

type ReceiptTextResponse struct {
	Number       string `json:"number"`
	PreviewText  string `json:"preview_text"`
	EscposBase64 string `json:"escpos_base64"`
	FileName     string `json:"file_name"`
}

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type LoginResponse struct {
	AccessToken string `json:"access_token"`
	Role        string `json:"role"`
	ExpiresAt   string `json:"expires_at"`
}

type Actor struct {
	Username string
	Role     string
}

type UserCreateRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
	Role     string `json:"role,omitempty"`
}

type UserView struct {
	Username  string    `json:"username"`
	Role      string    `json:"role"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
}

// UserAccount is an internal persistence model for auth credentials.
type UserAccount struct {
	Username  string
	Password  string
	Role      string
	Active    bool
	CreatedAt time.Time
}

const (
	PaymentCash     = "efectivo"
	PaymentCard     = "tarjeta"
	PaymentTransfer = "transferencia"
)

// PaymentMethods is the closed set of accepted payment labels. Payment is a
// label only; there is no gateway integration.
var PaymentMethods = []string{PaymentCash, PaymentCard, PaymentTransfer}

func IsSupportedPaymentMethod(method string) bool {
	for _, m := range PaymentMethods {
		if method == m {
			return true
		}
	}
	return false
}

const (
	RoleAdmin   = "admin"
	RoleCashier = "cajero"
)
