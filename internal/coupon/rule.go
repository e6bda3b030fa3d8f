package coupon

import (
	"errors"
	"strings"
	"time"

	"github.com/aryavtiwari2005/supplement-hub-sub000/internal/db"
)

var (
	// ErrInactive is returned for a coupon switched off by an admin.
	ErrInactive = errors.New("coupon inactive")
	// ErrExpired is returned once expires_at has passed.
	ErrExpired = errors.New("coupon expired")
)

// NormalizeCode is the canonical form used on write and on every lookup.
func NormalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// Usable reports why c cannot be applied at now, or nil when it can.
func Usable(c db.Coupon, now time.Time) error {
	if !c.IsActive {
		return ErrInactive
	}
	if c.ExpiresAt != nil && !now.Before(*c.ExpiresAt) {
		return ErrExpired
	}
	return nil
}
