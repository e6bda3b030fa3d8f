package db

import (
	"context"
	"encoding/json"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
)

const pendingOrderColumns = `temp_order_id, user_id, attempt_key, cart_items, subtotal, coupon_discount,
    scoop_discount, gateway_discount, discount, amount, coupon_code, address, payment_method, status,
    transaction_id, scoop_points_used, scoop_points_earned, created_at, expires_at`

func scanPendingOrder(row pgx.Row) (PendingOrder, error) {
	var (
		p       PendingOrder
		items   []byte
		address []byte
	)
	err := row.Scan(
		&p.TempOrderID, &p.UserID, &p.AttemptKey, &items, &p.Subtotal, &p.CouponDiscount,
		&p.ScoopDiscount, &p.GatewayDiscount, &p.Discount, &p.Amount, &p.CouponCode, &address,
		&p.PaymentMethod, &p.Status, &p.TransactionID, &p.ScoopPointsUsed, &p.ScoopPointsEarned,
		&p.CreatedAt, &p.ExpiresAt,
	)
	if err != nil {
		return PendingOrder{}, err
	}
	if err := json.Unmarshal(items, &p.CartItems); err != nil {
		return PendingOrder{}, errors.Wrap(err, "decode cart items")
	}
	if err := json.Unmarshal(address, &p.Address); err != nil {
		return PendingOrder{}, errors.Wrap(err, "decode address")
	}
	return p, nil
}

const createPendingOrder = `INSERT INTO pending_orders (
    temp_order_id, user_id, attempt_key, cart_items, subtotal, coupon_discount, scoop_discount,
    gateway_discount, discount, amount, coupon_code, address, payment_method, status, transaction_id,
    scoop_points_used, scoop_points_earned, created_at, expires_at
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, 'pending_payment', $14, $15, $16, $17, $18)
RETURNING ` + pendingOrderColumns

func (q *Queries) CreatePendingOrder(ctx context.Context, arg CreatePendingOrderParams) (PendingOrder, error) {
	items, err := json.Marshal(arg.CartItems)
	if err != nil {
		return PendingOrder{}, errors.Wrap(err, "encode cart items")
	}
	address, err := json.Marshal(arg.Address)
	if err != nil {
		return PendingOrder{}, errors.Wrap(err, "encode address")
	}
	return scanPendingOrder(q.db.QueryRow(ctx, createPendingOrder,
		arg.TempOrderID, arg.UserID, arg.AttemptKey, items, arg.Subtotal, arg.CouponDiscount,
		arg.ScoopDiscount, arg.GatewayDiscount, arg.Discount, arg.Amount, arg.CouponCode, address,
		arg.PaymentMethod, arg.TransactionID, arg.ScoopPointsUsed, arg.ScoopPointsEarned,
		arg.CreatedAt, arg.ExpiresAt,
	))
}

const getPendingOrder = `SELECT ` + pendingOrderColumns + ` FROM pending_orders WHERE temp_order_id = $1`

func (q *Queries) GetPendingOrder(ctx context.Context, tempOrderID string) (PendingOrder, error) {
	return scanPendingOrder(q.db.QueryRow(ctx, getPendingOrder, tempOrderID))
}

const getPendingOrderForUpdate = getPendingOrder + ` FOR UPDATE`

func (q *Queries) GetPendingOrderForUpdate(ctx context.Context, tempOrderID string) (PendingOrder, error) {
	return scanPendingOrder(q.db.QueryRow(ctx, getPendingOrderForUpdate, tempOrderID))
}

const getPendingOrderByAttempt = `SELECT ` + pendingOrderColumns + ` FROM pending_orders
WHERE user_id = $1 AND attempt_key = $2`

func (q *Queries) GetPendingOrderByAttempt(ctx context.Context, arg GetPendingOrderByAttemptParams) (PendingOrder, error) {
	return scanPendingOrder(q.db.QueryRow(ctx, getPendingOrderByAttempt, arg.UserID, arg.AttemptKey))
}

const deletePendingOrder = `DELETE FROM pending_orders WHERE temp_order_id = $1`

func (q *Queries) DeletePendingOrder(ctx context.Context, tempOrderID string) (int64, error) {
	tag, err := q.db.Exec(ctx, deletePendingOrder, tempOrderID)
	if err != nil {
		return 0, errors.Wrap(err, "delete pending order")
	}
	return tag.RowsAffected(), nil
}

const listStalePendingOrders = `SELECT ` + pendingOrderColumns + ` FROM pending_orders
WHERE expires_at <= $1
ORDER BY expires_at
LIMIT $2`

func (q *Queries) ListStalePendingOrders(ctx context.Context, arg ListStalePendingOrdersParams) ([]PendingOrder, error) {
	rows, err := q.db.Query(ctx, listStalePendingOrders, arg.Before, arg.Limit)
	if err != nil {
		return nil, errors.Wrap(err, "list stale pending orders")
	}
	defer rows.Close()
	var out []PendingOrder
	for rows.Next() {
		p, err := scanPendingOrder(rows)
		if err != nil {
			return nil, errors.Wrap(err, "scan pending order")
		}
		out = append(out, p)
	}
	return out, rows.Err()
}
