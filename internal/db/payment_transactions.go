package db

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
)

const paymentTransactionColumns = `transaction_id, order_id, user_id, provider, status, amount, gateway_ref, payload, created_at, updated_at`

func scanPaymentTransaction(row pgx.Row) (PaymentTransaction, error) {
	var t PaymentTransaction
	err := row.Scan(&t.TransactionID, &t.OrderID, &t.UserID, &t.Provider, &t.Status, &t.Amount,
		&t.GatewayRef, &t.Payload, &t.CreatedAt, &t.UpdatedAt)
	return t, err
}

const createPaymentTransaction = `INSERT INTO payment_transactions (transaction_id, order_id, user_id, provider, status, amount)
VALUES ($1, $2, $3, $4, 'pending', $5)
RETURNING ` + paymentTransactionColumns

func (q *Queries) CreatePaymentTransaction(ctx context.Context, arg CreatePaymentTransactionParams) (PaymentTransaction, error) {
	return scanPaymentTransaction(q.db.QueryRow(ctx, createPaymentTransaction,
		arg.TransactionID, arg.OrderID, arg.UserID, arg.Provider, arg.Amount))
}

const getPaymentTransaction = `SELECT ` + paymentTransactionColumns + ` FROM payment_transactions WHERE transaction_id = $1`

func (q *Queries) GetPaymentTransaction(ctx context.Context, transactionID string) (PaymentTransaction, error) {
	return scanPaymentTransaction(q.db.QueryRow(ctx, getPaymentTransaction, transactionID))
}

const getPaymentTransactionForUpdate = getPaymentTransaction + ` FOR UPDATE`

func (q *Queries) GetPaymentTransactionForUpdate(ctx context.Context, transactionID string) (PaymentTransaction, error) {
	return scanPaymentTransaction(q.db.QueryRow(ctx, getPaymentTransactionForUpdate, transactionID))
}

const getPaymentTransactionByOrder = `SELECT ` + paymentTransactionColumns + ` FROM payment_transactions
WHERE order_id = $1
ORDER BY created_at DESC
LIMIT 1`

func (q *Queries) GetPaymentTransactionByOrder(ctx context.Context, orderID string) (PaymentTransaction, error) {
	return scanPaymentTransaction(q.db.QueryRow(ctx, getPaymentTransactionByOrder, orderID))
}

const getPaymentTransactionByGatewayRef = `SELECT ` + paymentTransactionColumns + ` FROM payment_transactions
WHERE provider = $1 AND gateway_ref = $2
ORDER BY created_at DESC
LIMIT 1`

// GetPaymentTransactionByGatewayRef resolves callbacks that identify the
// attempt only by the provider's own order id.
func (q *Queries) GetPaymentTransactionByGatewayRef(ctx context.Context, provider, gatewayRef string) (PaymentTransaction, error) {
	return scanPaymentTransaction(q.db.QueryRow(ctx, getPaymentTransactionByGatewayRef, provider, gatewayRef))
}

const setPaymentTransactionGatewayRef = `UPDATE payment_transactions SET gateway_ref = $2, updated_at = now()
WHERE transaction_id = $1`

func (q *Queries) SetPaymentTransactionGatewayRef(ctx context.Context, arg SetPaymentTransactionGatewayRefParams) error {
	tag, err := q.db.Exec(ctx, setPaymentTransactionGatewayRef, arg.TransactionID, arg.GatewayRef)
	if err != nil {
		return errors.Wrap(err, "set gateway ref")
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

const settlePaymentTransaction = `UPDATE payment_transactions
SET status = $2, payload = COALESCE($3, payload), updated_at = now()
WHERE transaction_id = $1 AND status = 'pending'
RETURNING ` + paymentTransactionColumns

// SettlePaymentTransaction moves a pending transaction to a terminal status.
// ErrNotFound means it is unknown or already terminal.
func (q *Queries) SettlePaymentTransaction(ctx context.Context, arg SettlePaymentTransactionParams) (PaymentTransaction, error) {
	var payload any
	if len(arg.Payload) > 0 {
		payload = arg.Payload
	}
	return scanPaymentTransaction(q.db.QueryRow(ctx, settlePaymentTransaction, arg.TransactionID, arg.Status, payload))
}
