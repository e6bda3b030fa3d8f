package db

import (
	"context"
	"encoding/json"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

const userColumns = `id, email, name, phone, roles, cart, scoop_points, created_at, updated_at`

func scanUser(row pgx.Row) (User, error) {
	var (
		u    User
		cart []byte
	)
	if err := row.Scan(&u.ID, &u.Email, &u.Name, &u.Phone, &u.Roles, &cart, &u.ScoopPoints, &u.CreatedAt, &u.UpdatedAt); err != nil {
		return User{}, err
	}
	if len(cart) > 0 {
		if err := json.Unmarshal(cart, &u.Cart); err != nil {
			return User{}, errors.Wrap(err, "decode cart")
		}
	}
	return u, nil
}

const getUserByID = `SELECT ` + userColumns + ` FROM users WHERE id = $1`

func (q *Queries) GetUserByID(ctx context.Context, id uuid.UUID) (User, error) {
	return scanUser(q.db.QueryRow(ctx, getUserByID, id))
}

const getUserForUpdate = `SELECT ` + userColumns + ` FROM users WHERE id = $1 FOR UPDATE`

// GetUserForUpdate locks the user row until the surrounding tx ends.
func (q *Queries) GetUserForUpdate(ctx context.Context, id uuid.UUID) (User, error) {
	return scanUser(q.db.QueryRow(ctx, getUserForUpdate, id))
}

const updateUserCart = `UPDATE users SET cart = $2, updated_at = now() WHERE id = $1`

func (q *Queries) UpdateUserCart(ctx context.Context, arg UpdateUserCartParams) error {
	items := arg.Cart
	if items == nil {
		items = []CartItem{}
	}
	raw, err := json.Marshal(items)
	if err != nil {
		return errors.Wrap(err, "encode cart")
	}
	tag, err := q.db.Exec(ctx, updateUserCart, arg.ID, raw)
	if err != nil {
		return errors.Wrap(err, "update cart")
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

const adjustScoopPoints = `UPDATE users
SET scoop_points = scoop_points - $2 + $3, updated_at = now()
WHERE id = $1 AND scoop_points >= $2
RETURNING scoop_points`

// AdjustScoopPoints applies debit and credit in one conditional statement.
// ErrNotFound means the user is missing or holds fewer than Debit points.
func (q *Queries) AdjustScoopPoints(ctx context.Context, arg AdjustScoopPointsParams) (int64, error) {
	var balance int64
	err := q.db.QueryRow(ctx, adjustScoopPoints, arg.ID, arg.Debit, arg.Credit).Scan(&balance)
	return balance, err
}

const getAddressForUser = `SELECT id, user_id, full_name, phone, line1, line2, city, state, pincode, country, created_at
FROM addresses WHERE id = $1 AND user_id = $2`

func (q *Queries) GetAddressForUser(ctx context.Context, arg GetAddressForUserParams) (UserAddress, error) {
	var a UserAddress
	err := q.db.QueryRow(ctx, getAddressForUser, arg.ID, arg.UserID).Scan(
		&a.ID, &a.UserID, &a.Address.FullName, &a.Address.Phone, &a.Address.Line1, &a.Address.Line2,
		&a.Address.City, &a.Address.State, &a.Address.Pincode, &a.Address.Country, &a.CreatedAt,
	)
	return a, err
}
