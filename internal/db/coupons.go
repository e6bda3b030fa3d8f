package db

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
)

const couponColumns = `id, code, discount_percentage, is_active, expires_at, created_at, updated_at`

func scanCoupon(row pgx.Row) (Coupon, error) {
	var c Coupon
	err := row.Scan(&c.ID, &c.Code, &c.DiscountPercentage, &c.IsActive, &c.ExpiresAt, &c.CreatedAt, &c.UpdatedAt)
	return c, err
}

const getCouponByCode = `SELECT ` + couponColumns + ` FROM coupons WHERE code = $1`

func (q *Queries) GetCouponByCode(ctx context.Context, code string) (Coupon, error) {
	return scanCoupon(q.db.QueryRow(ctx, getCouponByCode, code))
}

const createCoupon = `INSERT INTO coupons (code, discount_percentage, is_active, expires_at)
VALUES ($1, $2, $3, $4)
RETURNING ` + couponColumns

func (q *Queries) CreateCoupon(ctx context.Context, arg CreateCouponParams) (Coupon, error) {
	return scanCoupon(q.db.QueryRow(ctx, createCoupon, arg.Code, arg.DiscountPercentage, arg.IsActive, arg.ExpiresAt))
}

const updateCoupon = `UPDATE coupons SET
    discount_percentage = COALESCE($2, discount_percentage),
    is_active = COALESCE($3, is_active),
    expires_at = CASE WHEN $5 THEN NULL ELSE COALESCE($4, expires_at) END,
    updated_at = now()
WHERE code = $1
RETURNING ` + couponColumns

func (q *Queries) UpdateCoupon(ctx context.Context, arg UpdateCouponParams) (Coupon, error) {
	return scanCoupon(q.db.QueryRow(ctx, updateCoupon, arg.Code, arg.DiscountPercentage, arg.IsActive, arg.ExpiresAt, arg.ClearExpiry))
}

const listCoupons = `SELECT ` + couponColumns + ` FROM coupons ORDER BY created_at DESC LIMIT $1 OFFSET $2`

func (q *Queries) ListCoupons(ctx context.Context, arg ListCouponsParams) ([]Coupon, error) {
	rows, err := q.db.Query(ctx, listCoupons, arg.Limit, arg.Offset)
	if err != nil {
		return nil, errors.Wrap(err, "list coupons")
	}
	defer rows.Close()
	var out []Coupon
	for rows.Next() {
		c, err := scanCoupon(rows)
		if err != nil {
			return nil, errors.Wrap(err, "scan coupon")
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

const listActiveCouponCodes = `SELECT code FROM coupons
WHERE is_active AND (expires_at IS NULL OR expires_at > $1)`

func (q *Queries) ListActiveCouponCodes(ctx context.Context, now time.Time) ([]string, error) {
	rows, err := q.db.Query(ctx, listActiveCouponCodes, now)
	if err != nil {
		return nil, errors.Wrap(err, "list coupon codes")
	}
	defer rows.Close()
	var codes []string
	for rows.Next() {
		var code string
		if err := rows.Scan(&code); err != nil {
			return nil, errors.Wrap(err, "scan coupon code")
		}
		codes = append(codes, code)
	}
	return codes, rows.Err()
}
