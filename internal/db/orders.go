package db

import (
	"context"
	"encoding/json"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

const orderColumns = `id, order_id, user_id, items, subtotal, discount, total, status, address, coupon_code,
    payment_method, transaction_id, scoop_points_used, scoop_points_earned, created_at`

func scanOrder(row pgx.Row) (Order, error) {
	var (
		o       Order
		items   []byte
		address []byte
	)
	err := row.Scan(&o.ID, &o.OrderID, &o.UserID, &items, &o.Subtotal, &o.Discount, &o.Total, &o.Status,
		&address, &o.CouponCode, &o.PaymentMethod, &o.TransactionID, &o.ScoopPointsUsed, &o.ScoopPointsEarned,
		&o.CreatedAt)
	if err != nil {
		return Order{}, err
	}
	if err := json.Unmarshal(items, &o.Items); err != nil {
		return Order{}, errors.Wrap(err, "decode order items")
	}
	if err := json.Unmarshal(address, &o.Address); err != nil {
		return Order{}, errors.Wrap(err, "decode order address")
	}
	return o, nil
}

const createOrder = `INSERT INTO orders (
    order_id, user_id, items, subtotal, discount, total, status, address, coupon_code, payment_method,
    transaction_id, scoop_points_used, scoop_points_earned
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
ON CONFLICT (order_id) DO NOTHING
RETURNING ` + orderColumns

// CreateOrder inserts the permanent order. ErrNotFound means an order with the
// same order_id already exists.
func (q *Queries) CreateOrder(ctx context.Context, arg CreateOrderParams) (Order, error) {
	items, err := json.Marshal(arg.Items)
	if err != nil {
		return Order{}, errors.Wrap(err, "encode order items")
	}
	address, err := json.Marshal(arg.Address)
	if err != nil {
		return Order{}, errors.Wrap(err, "encode order address")
	}
	return scanOrder(q.db.QueryRow(ctx, createOrder,
		arg.OrderID, arg.UserID, items, arg.Subtotal, arg.Discount, arg.Total, arg.Status, address,
		arg.CouponCode, arg.PaymentMethod, arg.TransactionID, arg.ScoopPointsUsed, arg.ScoopPointsEarned,
	))
}

const getOrderByOrderID = `SELECT ` + orderColumns + ` FROM orders WHERE order_id = $1`

func (q *Queries) GetOrderByOrderID(ctx context.Context, orderID string) (Order, error) {
	return scanOrder(q.db.QueryRow(ctx, getOrderByOrderID, orderID))
}

const getOrderForUser = `SELECT ` + orderColumns + ` FROM orders WHERE order_id = $1 AND user_id = $2`

func (q *Queries) GetOrderForUser(ctx context.Context, arg GetOrderForUserParams) (Order, error) {
	return scanOrder(q.db.QueryRow(ctx, getOrderForUser, arg.OrderID, arg.UserID))
}

const listOrdersForUser = `SELECT ` + orderColumns + ` FROM orders
WHERE user_id = $1
ORDER BY created_at DESC
LIMIT $2 OFFSET $3`

func (q *Queries) ListOrdersForUser(ctx context.Context, arg ListOrdersForUserParams) ([]Order, error) {
	rows, err := q.db.Query(ctx, listOrdersForUser, arg.UserID, arg.Limit, arg.Offset)
	if err != nil {
		return nil, errors.Wrap(err, "list orders")
	}
	defer rows.Close()
	var out []Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, errors.Wrap(err, "scan order")
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

const countOrdersForUser = `SELECT count(*) FROM orders WHERE user_id = $1`

func (q *Queries) CountOrdersForUser(ctx context.Context, userID uuid.UUID) (int64, error) {
	var n int64
	err := q.db.QueryRow(ctx, countOrdersForUser, userID).Scan(&n)
	return n, err
}
