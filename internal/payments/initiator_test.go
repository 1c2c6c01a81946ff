package payments

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/acgiraldo/storefront/internal/orders"
	"github.com/acgiraldo/storefront/internal/redisx"
	"github.com/acgiraldo/storefront/internal/wompi"
)

// ---- shared test doubles ----

type mockOrderStore struct {
	mu         sync.Mutex
	orders     map[string]*orders.Order
	attachErr  error
	applyErr   error
	transCalls []string // ApplyTransition targets, in order
}

func newMockOrderStore(os ...*orders.Order) *mockOrderStore {
	m := &mockOrderStore{orders: map[string]*orders.Order{}}
	for _, o := range os {
		m.orders[o.ID] = o
	}
	return m
}

func (m *mockOrderStore) GetOrder(ctx context.Context, orderID string) (*orders.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[orderID]
	if !ok {
		return nil, &orders.NotFoundError{Kind: "order", ID: orderID}
	}
	cp := *o
	return &cp, nil
}

func (m *mockOrderStore) OrderByTransactionID(ctx context.Context, txnID string) (*orders.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, o := range m.orders {
		if o.Transaction.ID == txnID {
			cp := *o
			return &cp, nil
		}
	}
	return nil, &orders.NotFoundError{Kind: "order", ID: txnID}
}

func (m *mockOrderStore) AttachTransaction(ctx context.Context, orderID string, ref orders.TransactionRef) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.attachErr != nil {
		return m.attachErr
	}
	o, ok := m.orders[orderID]
	if !ok {
		return &orders.NotFoundError{Kind: "order", ID: orderID}
	}
	if o.Transaction.ID != "" && o.Transaction.ID != ref.ID {
		return orders.ErrTxnAttached
	}
	o.Transaction = ref
	return nil
}

func (m *mockOrderStore) ApplyTransition(ctx context.Context, orderID string, to orders.Status, pay orders.PaymentStatus, gatewayStatus string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.applyErr != nil {
		return m.applyErr
	}
	o, ok := m.orders[orderID]
	if !ok {
		return &orders.NotFoundError{Kind: "order", ID: orderID}
	}
	// same check-under-lock discipline as the pgx store
	if !orders.CanTransition(o.Status, to) {
		return fmt.Errorf("%w: %s -> %s", orders.ErrInvalidTransition, o.Status, to)
	}
	o.Status = to
	o.PaymentStatus = pay
	o.Transaction.Status = gatewayStatus
	o.History = append(o.History, orders.StatusEntry{Status: to, At: time.Now()})
	m.transCalls = append(m.transCalls, string(to))
	return nil
}

type memCache struct {
	mu   sync.Mutex
	data map[string]string
}

func newMemCache() *memCache { return &memCache{data: map[string]string{}} }

func (c *memCache) Reserve(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.data[key]; ok {
		return false, nil
	}
	c.data[key] = value
	return true, nil
}

func (c *memCache) Release(ctx context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.data, key)
	return nil
}

func (c *memCache) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.data[key] = value
	return nil
}

func (c *memCache) Get(ctx context.Context, key string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.data[key], nil
}

type mockGateway struct {
	mu    sync.Mutex
	calls []wompi.TransactionRequest
	txn   *wompi.Transaction
	err   error
}

func (g *mockGateway) CreateTransaction(ctx context.Context, req wompi.TransactionRequest) (*wompi.Transaction, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls = append(g.calls, req)
	if g.err != nil {
		return nil, g.err
	}
	return g.txn, nil
}

func pendingOrder(id, userID string, total float64) *orders.Order {
	return &orders.Order{
		ID:            id,
		UserID:        userID,
		Total:         total,
		Status:        orders.StatusPending,
		PaymentStatus: orders.PaymentPending,
		ShippingInfo:  orders.ShippingInfo{Email: "ana@example.com"},
	}
}

func newInitiator(store *mockOrderStore, gw *mockGateway, cache Cache) *Initiator {
	return &Initiator{
		Orders:      store,
		Gateway:     gw,
		Cache:       cache,
		FrontendURL: "https://shop.example",
		Currency:    "COP",
	}
}

// ---- tests ----

func TestAmountInCents(t *testing.T) {
	cases := []struct {
		total float64
		want  int64
	}{
		{200, 20000},
		{0.1, 10},
		{19.99, 1999},
		{150.5, 15050},
	}
	for _, c := range cases {
		if got := AmountInCents(c.total); got != c.want {
			t.Errorf("AmountInCents(%v) = %d, want %d", c.total, got, c.want)
		}
	}
}

func TestCreateTransaction_BuildsGatewayRequest(t *testing.T) {
	store := newMockOrderStore(pendingOrder("o1", "u1", 200))
	gw := &mockGateway{txn: &wompi.Transaction{ID: "txn-1", Status: wompi.StatusPending, RedirectURL: "https://checkout.example/txn-1"}}
	ini := newInitiator(store, gw, newMemCache())

	res, err := ini.CreateTransaction(context.Background(), "u1", "o1", "card")
	if err != nil {
		t.Fatalf("CreateTransaction: %v", err)
	}

	if len(gw.calls) != 1 {
		t.Fatalf("expected 1 gateway call, got %d", len(gw.calls))
	}
	req := gw.calls[0]
	if req.AmountInCents != 20000 {
		t.Errorf("expected amount 20000 cents, got %d", req.AmountInCents)
	}
	if req.Currency != "COP" {
		t.Errorf("expected COP, got %s", req.Currency)
	}
	if req.Reference != "ORD-o1" {
		t.Errorf("expected reference ORD-o1, got %s", req.Reference)
	}
	if req.RedirectURL != "https://shop.example/order/o1/result" {
		t.Errorf("unexpected redirect url %s", req.RedirectURL)
	}
	if req.CustomerEmail != "ana@example.com" {
		t.Errorf("unexpected customer email %s", req.CustomerEmail)
	}
	if req.PaymentMethod.Type != "CARD" {
		t.Errorf("expected CARD, got %s", req.PaymentMethod.Type)
	}
	if req.IdempotencyKey == "" {
		t.Error("expected idempotency key on gateway call")
	}

	if res.TransactionID != "txn-1" || res.PaymentURL == "" || res.Reused {
		t.Errorf("unexpected result: %+v", res)
	}
	if got := store.orders["o1"].Transaction.ID; got != "txn-1" {
		t.Errorf("expected transaction linked to order, got %q", got)
	}
}

func TestCreateTransaction_MethodMapping(t *testing.T) {
	for method, want := range map[string]string{"card": "CARD", "nequi": "NEQUI", "pse": "PSE", "other": "PSE"} {
		store := newMockOrderStore(pendingOrder("o1", "u1", 100))
		gw := &mockGateway{txn: &wompi.Transaction{ID: "t", Status: wompi.StatusPending}}
		ini := newInitiator(store, gw, newMemCache())

		if _, err := ini.CreateTransaction(context.Background(), "u1", "o1", method); err != nil {
			t.Fatalf("%s: %v", method, err)
		}
		if got := gw.calls[0].PaymentMethod.Type; got != want {
			t.Errorf("method %q: expected %s, got %s", method, want, got)
		}
	}
}

func TestCreateTransaction_OrderNotFound(t *testing.T) {
	ini := newInitiator(newMockOrderStore(), &mockGateway{}, newMemCache())
	_, err := ini.CreateTransaction(context.Background(), "u1", "missing", "card")
	var nfe *orders.NotFoundError
	if !errors.As(err, &nfe) {
		t.Fatalf("expected NotFoundError, got %v", err)
	}
}

func TestCreateTransaction_ForeignOrder(t *testing.T) {
	ini := newInitiator(newMockOrderStore(pendingOrder("o1", "owner", 100)), &mockGateway{}, newMemCache())
	_, err := ini.CreateTransaction(context.Background(), "intruder", "o1", "card")
	var nfe *orders.NotFoundError
	if !errors.As(err, &nfe) {
		t.Fatalf("expected NotFoundError for foreign order, got %v", err)
	}
}

func TestCreateTransaction_AlreadyPaid(t *testing.T) {
	o := pendingOrder("o1", "u1", 100)
	o.PaymentStatus = orders.PaymentPaid
	gw := &mockGateway{}
	ini := newInitiator(newMockOrderStore(o), gw, newMemCache())

	_, err := ini.CreateTransaction(context.Background(), "u1", "o1", "card")
	if !errors.Is(err, ErrAlreadyPaid) {
		t.Fatalf("expected ErrAlreadyPaid, got %v", err)
	}
	if len(gw.calls) != 0 {
		t.Error("gateway must not be called for a paid order")
	}
}

func TestCreateTransaction_RelinksExistingTransaction(t *testing.T) {
	o := pendingOrder("o1", "u1", 100)
	o.Transaction = orders.TransactionRef{ID: "txn-old", Status: wompi.StatusPending}
	gw := &mockGateway{}
	cache := newMemCache()
	_ = cache.Set(context.Background(), fmt.Sprintf(redisx.KeyCheckoutURL, "txn-old"), "https://checkout.example/txn-old", time.Hour)
	ini := newInitiator(newMockOrderStore(o), gw, cache)

	res, err := ini.CreateTransaction(context.Background(), "u1", "o1", "card")
	if err != nil {
		t.Fatalf("CreateTransaction: %v", err)
	}
	if !res.Reused || res.TransactionID != "txn-old" {
		t.Errorf("expected reuse of txn-old, got %+v", res)
	}
	if res.PaymentURL != "https://checkout.example/txn-old" {
		t.Errorf("expected stashed checkout url, got %q", res.PaymentURL)
	}
	if len(gw.calls) != 0 {
		t.Error("relink must not create a second gateway transaction")
	}
}

func TestCreateTransaction_ConcurrentInitiationBlocked(t *testing.T) {
	store := newMockOrderStore(pendingOrder("o1", "u1", 100))
	gw := &mockGateway{txn: &wompi.Transaction{ID: "t", Status: wompi.StatusPending}}
	cache := newMemCache()
	ini := newInitiator(store, gw, cache)

	// simulate another request holding the key
	_, _ = cache.Reserve(context.Background(), fmt.Sprintf(redisx.KeyIdemPaymentInit, "o1"), "held", time.Hour)

	_, err := ini.CreateTransaction(context.Background(), "u1", "o1", "card")
	if !errors.Is(err, ErrInitiationInFlight) {
		t.Fatalf("expected ErrInitiationInFlight, got %v", err)
	}
	if len(gw.calls) != 0 {
		t.Error("gateway must not be called while another initiation holds the key")
	}
}

func TestCreateTransaction_GatewayFailureIsRetryable(t *testing.T) {
	store := newMockOrderStore(pendingOrder("o1", "u1", 100))
	gw := &mockGateway{err: &wompi.GatewayError{StatusCode: 503, Message: "down"}}
	cache := newMemCache()
	ini := newInitiator(store, gw, cache)

	_, err := ini.CreateTransaction(context.Background(), "u1", "o1", "card")
	var ge *wompi.GatewayError
	if !errors.As(err, &ge) {
		t.Fatalf("expected GatewayError, got %v", err)
	}
	if got := store.orders["o1"].Transaction.ID; got != "" {
		t.Errorf("no transaction must be linked after gateway failure, got %q", got)
	}
	// key released: a retry goes through
	gw.err = nil
	gw.txn = &wompi.Transaction{ID: "txn-2", Status: wompi.StatusPending}
	res, err := ini.CreateTransaction(context.Background(), "u1", "o1", "card")
	if err != nil {
		t.Fatalf("retry failed: %v", err)
	}
	if res.TransactionID != "txn-2" {
		t.Errorf("expected txn-2 on retry, got %s", res.TransactionID)
	}
	// the retry replays the same Idempotency-Key; if the failed attempt did
	// create a transaction remotely, the gateway must see a replay, not a
	// second transaction
	if len(gw.calls) != 2 {
		t.Fatalf("expected 2 gateway calls, got %d", len(gw.calls))
	}
	if k1, k2 := gw.calls[0].IdempotencyKey, gw.calls[1].IdempotencyKey; k1 == "" || k1 != k2 {
		t.Errorf("retry must reuse the idempotency key: %q vs %q", k1, k2)
	}
}

func TestCreateTransaction_ReconciliationGap(t *testing.T) {
	store := newMockOrderStore(pendingOrder("o1", "u1", 100))
	store.attachErr = errors.New("db write failed")
	gw := &mockGateway{txn: &wompi.Transaction{ID: "txn-1", Status: wompi.StatusPending, RedirectURL: "https://checkout.example/txn-1"}}
	ini := newInitiator(store, gw, newMemCache())

	_, err := ini.CreateTransaction(context.Background(), "u1", "o1", "card")
	var gap *ReconciliationGapError
	if !errors.As(err, &gap) {
		t.Fatalf("expected ReconciliationGapError, got %v", err)
	}
	if gap.OrderID != "o1" || gap.TransactionID != "txn-1" {
		t.Errorf("gap must name both sides: %+v", gap)
	}
	if gap.PaymentURL != "https://checkout.example/txn-1" {
		t.Errorf("gap must still carry the checkout url, got %q", gap.PaymentURL)
	}
}
