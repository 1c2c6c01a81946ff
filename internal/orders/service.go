package orders

import (
	"context"
	"fmt"
	"math/rand"
	"regexp"
	"time"

	"github.com/google/uuid"
)

type ItemInput struct {
	ProductID string `json:"product_id"`
	Qty       int    `json:"qty"`
}

type CartInput struct {
	Items         []ItemInput  `json:"items"`
	Shipping      ShippingInfo `json:"shipping"`
	PaymentMethod string       `json:"payment_method"`
}

// Store is the persistence boundary for orders and products.
type Store interface {
	// CreateOrder atomically prices o.Items from current product rows,
	// decrements stock and inserts the order with its items and initial
	// history entry. Either everything persists or nothing does. Client-side
	// prices already present on o are ignored.
	CreateOrder(ctx context.Context, o *Order) error

	GetOrder(ctx context.Context, orderID string) (*Order, error)

	// OrderByTransactionID resolves an order by its gateway transaction id.
	OrderByTransactionID(ctx context.Context, txnID string) (*Order, error)

	// AttachTransaction links a gateway transaction to the order. Fails if a
	// different transaction id is already attached.
	AttachTransaction(ctx context.Context, orderID string, ref TransactionRef) error

	// ApplyTransition moves the order to the given status, records the
	// gateway-reported status and appends a history entry, all in one unit.
	// The transition table is re-checked against the current row inside that
	// unit; a forbidden move fails with ErrInvalidTransition.
	ApplyTransition(ctx context.Context, orderID string, to Status, pay PaymentStatus, gatewayStatus string) error

	ListUserOrders(ctx context.Context, userID string) ([]Order, error)
	ListProducts(ctx context.Context) ([]Product, error)
}

var productIDRe = regexp.MustCompile(`^[A-Za-z0-9_-]{1,64}$`)

// Service builds orders from cart submissions. Pricing is always taken from
// stored product rows; the caller's identity is an explicit parameter.
type Service struct {
	Store        Store
	ShippingRate float64 // flat shipping fee added to every order
}

func (s *Service) Create(ctx context.Context, userID string, in CartInput) (*Order, error) {
	if len(in.Items) == 0 {
		return nil, &ValidationError{Msg: "cart is empty"}
	}
	for _, it := range in.Items {
		if !productIDRe.MatchString(it.ProductID) {
			return nil, &ValidationError{Msg: fmt.Sprintf("invalid product id: %q", it.ProductID)}
		}
		if it.Qty <= 0 {
			return nil, &ValidationError{Msg: fmt.Sprintf("invalid quantity for product %s", it.ProductID)}
		}
	}
	if missing := missingShippingFields(in.Shipping); len(missing) > 0 {
		return nil, &ValidationError{Msg: "missing required shipping fields", Fields: missing}
	}

	now := time.Now().UTC()
	o := &Order{
		ID:            uuid.NewString(),
		OrderNumber:   fmt.Sprintf("ORD-%d-%04d", now.UnixMilli(), rand.Intn(10000)),
		UserID:        userID,
		Shipping:      s.ShippingRate,
		ShippingInfo:  in.Shipping,
		PaymentMethod: in.PaymentMethod,
		Status:        StatusPending,
		PaymentStatus: PaymentPending,
		History:       []StatusEntry{{Status: StatusPending, At: now}},
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	o.Items = make([]OrderItem, 0, len(in.Items))
	for _, it := range in.Items {
		o.Items = append(o.Items, OrderItem{ProductID: it.ProductID, Qty: it.Qty})
	}

	if err := s.Store.CreateOrder(ctx, o); err != nil {
		return nil, err
	}
	return o, nil
}

// Get returns the order only if it belongs to userID; a foreign order looks
// the same as a missing one.
func (s *Service) Get(ctx context.Context, userID, orderID string) (*Order, error) {
	o, err := s.Store.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if o.UserID != userID {
		return nil, &NotFoundError{Kind: "order", ID: orderID}
	}
	return o, nil
}

func (s *Service) ListForUser(ctx context.Context, userID string) ([]Order, error) {
	return s.Store.ListUserOrders(ctx, userID)
}

func (s *Service) Products(ctx context.Context) ([]Product, error) {
	return s.Store.ListProducts(ctx)
}

func missingShippingFields(si ShippingInfo) []string {
	var missing []string
	for _, f := range []struct {
		name  string
		value string
	}{
		{"name", si.Name},
		{"address", si.Address},
		{"city", si.City},
		{"phone", si.Phone},
		{"email", si.Email},
	} {
		if f.value == "" {
			missing = append(missing, f.name)
		}
	}
	return missing
}
