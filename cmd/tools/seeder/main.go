package main

import (
	"context"
	"encoding/json"
	"flag"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/aryavtiwari2005/supplement-hub-sub000/internal/auth"
	"github.com/aryavtiwari2005/supplement-hub-sub000/internal/config"
	"github.com/aryavtiwari2005/supplement-hub-sub000/internal/db"
	"github.com/aryavtiwari2005/supplement-hub-sub000/internal/obs"
)

type seedUser struct {
	Name   string
	Email  string
	Phone  string
	Roles  []string
	Points int64
	Cart   []db.CartItem
}

var users = []seedUser{
	{Name: "Store Admin", Email: "admin@supplementhub.test", Phone: "9000000001", Roles: []string{"admin", "customer"}},
	{Name: "Aarav Sharma", Email: "aarav@example.com", Phone: "9000000002", Roles: []string{"customer"}, Points: 120, Cart: []db.CartItem{
		{ID: "whey-gold-1kg", Name: "Gold Standard Whey 1kg", Price: decimal.NewFromInt(2899), Quantity: 1, SelectedVariant: "chocolate"},
		{ID: "creatine-250g", Name: "Creatine Monohydrate 250g", Price: decimal.NewFromInt(799), Quantity: 2},
	}},
	{Name: "Diya Patel", Email: "diya@example.com", Phone: "9000000003", Roles: []string{"customer"}, Points: 40},
}

var coupons = []struct {
	Code    string
	Percent string
	Expires time.Duration
}{
	{Code: "WELCOME10", Percent: "10"},
	{Code: "SCOOP20", Percent: "20", Expires: 30 * 24 * time.Hour},
	{Code: "FLASH50", Percent: "50", Expires: 48 * time.Hour},
}

func main() {
	tokenTTL := flag.Duration("token-ttl", 24*time.Hour, "lifetime of the printed development tokens")
	flag.Parse()

	cfg, err := config.Load()
	logger := obs.NewLogger("console", "info")
	if err != nil {
		logger.Fatal().Err(err).Msg("load config")
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	pool, err := db.NewPool(ctx, cfg.DatabaseURL, db.PoolOptions{MaxConns: 2})
	if err != nil {
		logger.Fatal().Err(err).Msg("connect database")
	}
	defer pool.Close()

	verifier, err := auth.NewVerifier(cfg.Auth.JWTSecret, auth.TokenValidator{Issuer: cfg.Auth.Issuer, Audience: cfg.Auth.Audience})
	if err != nil {
		logger.Fatal().Err(err).Msg("build verifier")
	}

	for _, u := range users {
		id, err := upsertUser(ctx, pool, u)
		if err != nil {
			logger.Fatal().Err(err).Str("email", u.Email).Msg("seed user")
		}
		if err := ensureAddress(ctx, pool, id, u); err != nil {
			logger.Fatal().Err(err).Str("email", u.Email).Msg("seed address")
		}
		token, err := verifier.Issue(id.String(), *tokenTTL)
		if err != nil {
			logger.Fatal().Err(err).Msg("issue token")
		}
		logger.Info().Str("email", u.Email).Str("user_id", id.String()).Str("token", token).Msg("user seeded")
	}
	seedCoupons(ctx, pool, logger)
	logger.Info().Msg("seeding completed")
}

func upsertUser(ctx context.Context, pool *pgxpool.Pool, u seedUser) (uuid.UUID, error) {
	cart := u.Cart
	if cart == nil {
		cart = []db.CartItem{}
	}
	raw, err := json.Marshal(cart)
	if err != nil {
		return uuid.Nil, err
	}
	var id uuid.UUID
	err = pool.QueryRow(ctx, `
		INSERT INTO users (email, name, phone, roles, cart, scoop_points)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (email) DO UPDATE
		SET name = EXCLUDED.name, phone = EXCLUDED.phone, roles = EXCLUDED.roles,
		    cart = EXCLUDED.cart, scoop_points = EXCLUDED.scoop_points, updated_at = now()
		RETURNING id`,
		u.Email, u.Name, u.Phone, u.Roles, raw, u.Points,
	).Scan(&id)
	return id, err
}

func ensureAddress(ctx context.Context, pool *pgxpool.Pool, userID uuid.UUID, u seedUser) error {
	_, err := pool.Exec(ctx, `
		INSERT INTO addresses (user_id, full_name, phone, line1, city, state, pincode)
		SELECT $1, $2, $3, '221B MG Road', 'Bengaluru', 'Karnataka', '560001'
		WHERE NOT EXISTS (SELECT 1 FROM addresses WHERE user_id = $1)`,
		userID, u.Name, u.Phone,
	)
	return err
}

func seedCoupons(ctx context.Context, pool *pgxpool.Pool, logger zerolog.Logger) {
	now := time.Now().UTC()
	for _, c := range coupons {
		var expires *time.Time
		if c.Expires > 0 {
			t := now.Add(c.Expires)
			expires = &t
		}
		_, err := pool.Exec(ctx, `
			INSERT INTO coupons (code, discount_percentage, is_active, expires_at)
			VALUES ($1, $2, TRUE, $3)
			ON CONFLICT (code) DO UPDATE
			SET discount_percentage = EXCLUDED.discount_percentage, is_active = TRUE,
			    expires_at = EXCLUDED.expires_at, updated_at = now()`,
			c.Code, decimal.RequireFromString(c.Percent), expires,
		)
		if err != nil {
			logger.Fatal().Err(err).Str("code", c.Code).Msg("seed coupon")
		}
		logger.Info().Str("code", c.Code).Str("percent", c.Percent).Msg("coupon seeded")
	}
}
