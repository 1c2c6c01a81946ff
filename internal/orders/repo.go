package orders

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type Repo struct{ DB *pgxpool.Pool }

var ErrTxnAttached = errors.New("order already linked to a different transaction")

// CreateOrder prices and reserves every item inside one transaction. Stock is
// decremented with a conditional UPDATE so a concurrent order can never push
// it negative; on any rejection the whole transaction rolls back.
func (r *Repo) CreateOrder(ctx context.Context, o *Order) error {
	tx, err := r.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var subtotal float64
	for i, it := range o.Items {
		var (
			name  string
			price float64
			stock int
		)
		err := tx.QueryRow(ctx,
			`SELECT name, price, stock FROM products WHERE id=$1 FOR UPDATE`,
			it.ProductID).Scan(&name, &price, &stock)
		if errors.Is(err, pgx.ErrNoRows) {
			return &NotFoundError{Kind: "product", ID: it.ProductID}
		}
		if err != nil {
			return err
		}
		if stock < it.Qty {
			return &ConflictError{ProductID: it.ProductID, Requested: it.Qty, Available: stock}
		}

		ct, err := tx.Exec(ctx,
			`UPDATE products SET stock = stock - $2, updated_at = now()
			 WHERE id=$1 AND stock >= $2`,
			it.ProductID, it.Qty)
		if err != nil {
			return err
		}
		if ct.RowsAffected() != 1 {
			return &ConflictError{ProductID: it.ProductID, Requested: it.Qty, Available: stock}
		}

		// price snapshot from the stored row, never from the client
		o.Items[i].Name = name
		o.Items[i].UnitPrice = price
		subtotal += price * float64(it.Qty)
	}
	o.Subtotal = subtotal
	o.Total = subtotal + o.Shipping

	_, err = tx.Exec(ctx, `
		INSERT INTO orders(id, order_number, user_id, subtotal, shipping, total,
			ship_name, ship_address, ship_city, ship_phone, ship_email,
			payment_method, status, payment_status, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16)`,
		o.ID, o.OrderNumber, o.UserID, o.Subtotal, o.Shipping, o.Total,
		o.ShippingInfo.Name, o.ShippingInfo.Address, o.ShippingInfo.City,
		o.ShippingInfo.Phone, o.ShippingInfo.Email,
		o.PaymentMethod, o.Status, o.PaymentStatus, o.CreatedAt, o.UpdatedAt)
	if err != nil {
		return err
	}

	for _, it := range o.Items {
		if _, err := tx.Exec(ctx, `
			INSERT INTO order_items(order_id, product_id, name, qty, unit_price)
			VALUES ($1,$2,$3,$4,$5)`,
			o.ID, it.ProductID, it.Name, it.Qty, it.UnitPrice); err != nil {
			return err
		}
	}

	for _, h := range o.History {
		if _, err := tx.Exec(ctx, `
			INSERT INTO order_status_history(order_id, status, at)
			VALUES ($1,$2,$3)`, o.ID, h.Status, h.At); err != nil {
			return err
		}
	}

	return tx.Commit(ctx)
}

func (r *Repo) GetOrder(ctx context.Context, orderID string) (*Order, error) {
	var (
		o     Order
		txnID *string
	)
	err := r.DB.QueryRow(ctx, `
		SELECT id, order_number, user_id, subtotal, shipping, total,
		       ship_name, ship_address, ship_city, ship_phone, ship_email,
		       payment_method, status, payment_status,
		       txn_id, txn_status, txn_payment_method, created_at, updated_at
		FROM orders WHERE id=$1`, orderID).Scan(
		&o.ID, &o.OrderNumber, &o.UserID, &o.Subtotal, &o.Shipping, &o.Total,
		&o.ShippingInfo.Name, &o.ShippingInfo.Address, &o.ShippingInfo.City,
		&o.ShippingInfo.Phone, &o.ShippingInfo.Email,
		&o.PaymentMethod, &o.Status, &o.PaymentStatus,
		&txnID, &o.Transaction.Status, &o.Transaction.PaymentMethod,
		&o.CreatedAt, &o.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, &NotFoundError{Kind: "order", ID: orderID}
	}
	if err != nil {
		return nil, err
	}
	if txnID != nil {
		o.Transaction.ID = *txnID
	}

	rows, err := r.DB.Query(ctx, `
		SELECT product_id, name, qty, unit_price FROM order_items WHERE order_id=$1`, o.ID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var it OrderItem
		if err := rows.Scan(&it.ProductID, &it.Name, &it.Qty, &it.UnitPrice); err != nil {
			return nil, err
		}
		o.Items = append(o.Items, it)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	hrows, err := r.DB.Query(ctx, `
		SELECT status, at FROM order_status_history WHERE order_id=$1 ORDER BY at, id`, o.ID)
	if err != nil {
		return nil, err
	}
	defer hrows.Close()
	for hrows.Next() {
		var h StatusEntry
		if err := hrows.Scan(&h.Status, &h.At); err != nil {
			return nil, err
		}
		o.History = append(o.History, h)
	}
	return &o, hrows.Err()
}

func (r *Repo) OrderByTransactionID(ctx context.Context, txnID string) (*Order, error) {
	var orderID string
	err := r.DB.QueryRow(ctx, `SELECT id FROM orders WHERE txn_id=$1`, txnID).Scan(&orderID)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, &NotFoundError{Kind: "order", ID: txnID}
	}
	if err != nil {
		return nil, err
	}
	return r.GetOrder(ctx, orderID)
}

// AttachTransaction is a no-op when the same transaction id is already linked
// and refuses to overwrite a different one.
func (r *Repo) AttachTransaction(ctx context.Context, orderID string, ref TransactionRef) error {
	ct, err := r.DB.Exec(ctx, `
		UPDATE orders
		SET txn_id=$2, txn_status=$3, txn_payment_method=$4, updated_at=now()
		WHERE id=$1 AND (txn_id IS NULL OR txn_id = $2)`,
		orderID, ref.ID, ref.Status, ref.PaymentMethod)
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 1 {
		return nil
	}

	var existing *string
	err = r.DB.QueryRow(ctx, `SELECT txn_id FROM orders WHERE id=$1`, orderID).Scan(&existing)
	if errors.Is(err, pgx.ErrNoRows) {
		return &NotFoundError{Kind: "order", ID: orderID}
	}
	if err != nil {
		return err
	}
	return ErrTxnAttached
}

// ApplyTransition re-checks the transition table against the current row
// under a FOR UPDATE lock, so concurrent deliveries that both read a stale
// status cannot resurrect a terminal order.
func (r *Repo) ApplyTransition(ctx context.Context, orderID string, to Status, pay PaymentStatus, gatewayStatus string) error {
	tx, err := r.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var cur Status
	err = tx.QueryRow(ctx, `SELECT status FROM orders WHERE id=$1 FOR UPDATE`, orderID).Scan(&cur)
	if errors.Is(err, pgx.ErrNoRows) {
		return &NotFoundError{Kind: "order", ID: orderID}
	}
	if err != nil {
		return err
	}
	if !CanTransition(cur, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, cur, to)
	}

	if _, err := tx.Exec(ctx, `
		UPDATE orders SET status=$2, payment_status=$3, txn_status=$4, updated_at=now()
		WHERE id=$1`, orderID, to, pay, gatewayStatus); err != nil {
		return err
	}

	if _, err := tx.Exec(ctx, `
		INSERT INTO order_status_history(order_id, status, at)
		VALUES ($1,$2,$3)`, orderID, to, time.Now().UTC()); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (r *Repo) ListUserOrders(ctx context.Context, userID string) ([]Order, error) {
	rows, err := r.DB.Query(ctx, `
		SELECT id, order_number, user_id, subtotal, shipping, total,
		       payment_method, status, payment_status, created_at, updated_at
		FROM orders WHERE user_id=$1 ORDER BY created_at DESC`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Order
	for rows.Next() {
		var o Order
		if err := rows.Scan(&o.ID, &o.OrderNumber, &o.UserID, &o.Subtotal, &o.Shipping,
			&o.Total, &o.PaymentMethod, &o.Status, &o.PaymentStatus,
			&o.CreatedAt, &o.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

func (r *Repo) ListProducts(ctx context.Context) ([]Product, error) {
	rows, err := r.DB.Query(ctx, `
		SELECT id, name, price, stock, category, created_at, updated_at
		FROM products ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Product
	for rows.Next() {
		var p Product
		if err := rows.Scan(&p.ID, &p.Name, &p.Price, &p.Stock, &p.Category, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}
