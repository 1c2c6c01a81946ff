package orders

import "time"

type Product struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Price     float64   `json:"price"`
	Stock     int       `json:"stock"`
	Category  string    `json:"category"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

type ShippingInfo struct {
	Name    string `json:"name"`
	Address string `json:"address"`
	City    string `json:"city"`
	Phone   string `json:"phone"`
	Email   string `json:"email"`
}

type OrderItem struct {
	ProductID string  `json:"product_id"`
	Name      string  `json:"name"` // snapshot at order time
	Qty       int     `json:"qty"`
	UnitPrice float64 `json:"unit_price"` // snapshot at order time
}

// TransactionRef is the gateway-side identity of an order's payment.
// Owned by the order; ID is immutable once set.
type TransactionRef struct {
	ID            string `json:"id"`
	Status        string `json:"status"` // last gateway-reported status
	PaymentMethod string `json:"payment_method"`
}

type StatusEntry struct {
	Status Status    `json:"status"`
	At     time.Time `json:"at"`
}

type Order struct {
	ID            string         `json:"id"`
	OrderNumber   string         `json:"order_number"`
	UserID        string         `json:"user_id"`
	Items         []OrderItem    `json:"items"`
	Subtotal      float64        `json:"subtotal"`
	Shipping      float64        `json:"shipping"`
	Total         float64        `json:"total"` // subtotal + shipping, fixed at creation
	ShippingInfo  ShippingInfo   `json:"shipping_info"`
	PaymentMethod string         `json:"payment_method"`
	Status        Status         `json:"status"`
	PaymentStatus PaymentStatus  `json:"payment_status"`
	Transaction   TransactionRef `json:"transaction"`
	History       []StatusEntry  `json:"history"`
	CreatedAt     time.Time      `json:"created_at"`
	UpdatedAt     time.Time      `json:"updated_at"`
}

// Paid reports whether the order's payment has already been settled.
func (o *Order) Paid() bool { return o.PaymentStatus == PaymentPaid }
