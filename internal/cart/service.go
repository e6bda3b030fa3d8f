// Package cart keeps the shopper's cart on the user row. The server copy is
// authoritative; clients render what these operations return.
package cart

import (
	"context"
	"strings"

	"github.com/go-faster/errors"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/aryavtiwari2005/supplement-hub-sub000/internal/db"
)

// MaxLines bounds the number of distinct lines a cart may hold.
const MaxLines = 100

// MaxQuantity bounds a single line.
const MaxQuantity = 100

var (
	// ErrItemNotFound indicates the line key is not in the cart.
	ErrItemNotFound = errors.New("cart item not found")
	// ErrInvalidItem is returned for items failing validation.
	ErrInvalidItem = errors.New("invalid cart item")
	// ErrCartFull is returned when a new line would exceed MaxLines.
	ErrCartFull = errors.New("cart is full")
)

// Cart is the rendered cart.
type Cart struct {
	Items     []db.CartItem   `json:"items"`
	ItemCount int             `json:"itemCount"`
	Subtotal  decimal.Decimal `json:"subtotal"`
}

// Key identifies a cart line: the product id plus its selected variant.
func Key(item db.CartItem) string {
	if item.SelectedVariant == "" {
		return item.ID
	}
	return item.ID + ":" + item.SelectedVariant
}

// Service mutates carts. Every mutation reads the user row FOR UPDATE inside
// a transaction so concurrent edits from two tabs serialize.
type Service struct {
	Store    db.Store
	Validate *validator.Validate
}

// Get returns the stored cart.
func (s *Service) Get(ctx context.Context, userID uuid.UUID) (Cart, error) {
	u, err := s.Store.GetUserByID(ctx, userID)
	if err != nil {
		return Cart{}, err
	}
	return render(u.Cart), nil
}

// Replace overwrites the cart. Lines sharing a key are merged.
func (s *Service) Replace(ctx context.Context, userID uuid.UUID, items []db.CartItem) (Cart, error) {
	for _, it := range items {
		if err := s.check(it); err != nil {
			return Cart{}, err
		}
	}
	return s.mutate(ctx, userID, func([]db.CartItem) ([]db.CartItem, error) {
		merged := make([]db.CartItem, 0, len(items))
		for _, it := range items {
			merged = addLine(merged, it)
		}
		if len(merged) > MaxLines {
			return nil, ErrCartFull
		}
		return merged, nil
	})
}

// Add appends item or increases the quantity of the matching line. The stored
// price and name follow the latest add.
func (s *Service) Add(ctx context.Context, userID uuid.UUID, item db.CartItem) (Cart, error) {
	if err := s.check(item); err != nil {
		return Cart{}, err
	}
	return s.mutate(ctx, userID, func(items []db.CartItem) ([]db.CartItem, error) {
		out := addLine(items, item)
		if len(out) > MaxLines {
			return nil, ErrCartFull
		}
		return out, nil
	})
}

// SetQuantity changes one line. A quantity of zero removes it.
func (s *Service) SetQuantity(ctx context.Context, userID uuid.UUID, key string, qty int) (Cart, error) {
	if qty < 0 || qty > MaxQuantity {
		return Cart{}, errors.Wrapf(ErrInvalidItem, "quantity %d", qty)
	}
	return s.mutate(ctx, userID, func(items []db.CartItem) ([]db.CartItem, error) {
		idx := indexOf(items, key)
		if idx < 0 {
			return nil, ErrItemNotFound
		}
		if qty == 0 {
			return append(items[:idx:idx], items[idx+1:]...), nil
		}
		items[idx].Quantity = qty
		return items, nil
	})
}

// Remove deletes one line.
func (s *Service) Remove(ctx context.Context, userID uuid.UUID, key string) (Cart, error) {
	return s.SetQuantity(ctx, userID, key, 0)
}

// Clear empties the cart.
func (s *Service) Clear(ctx context.Context, userID uuid.UUID) (Cart, error) {
	return s.mutate(ctx, userID, func([]db.CartItem) ([]db.CartItem, error) {
		return []db.CartItem{}, nil
	})
}

func (s *Service) mutate(ctx context.Context, userID uuid.UUID, fn func([]db.CartItem) ([]db.CartItem, error)) (Cart, error) {
	if s == nil || s.Store == nil {
		return Cart{}, errors.New("cart service not configured")
	}
	var out []db.CartItem
	err := s.Store.ExecTx(ctx, func(q db.Querier) error {
		u, err := q.GetUserForUpdate(ctx, userID)
		if err != nil {
			return err
		}
		current := append([]db.CartItem(nil), u.Cart...)
		out, err = fn(current)
		if err != nil {
			return err
		}
		return q.UpdateUserCart(ctx, db.UpdateUserCartParams{ID: userID, Cart: out})
	})
	if err != nil {
		return Cart{}, err
	}
	return render(out), nil
}

func (s *Service) check(item db.CartItem) error {
	v := s.Validate
	if v == nil {
		v = validator.New()
	}
	if err := v.Struct(item); err != nil {
		return errors.Wrap(ErrInvalidItem, err.Error())
	}
	if item.Price.IsNegative() {
		return errors.Wrap(ErrInvalidItem, "negative price")
	}
	return nil
}

func addLine(items []db.CartItem, item db.CartItem) []db.CartItem {
	item.ID = strings.TrimSpace(item.ID)
	idx := indexOf(items, Key(item))
	if idx < 0 {
		return append(items, item)
	}
	qty := items[idx].Quantity + item.Quantity
	if qty > MaxQuantity {
		qty = MaxQuantity
	}
	item.Quantity = qty
	items[idx] = item
	return items
}

func indexOf(items []db.CartItem, key string) int {
	for i, it := range items {
		if Key(it) == key {
			return i
		}
	}
	return -1
}

func render(items []db.CartItem) Cart {
	if items == nil {
		items = []db.CartItem{}
	}
	c := Cart{Items: items, Subtotal: decimal.Zero}
	for _, it := range items {
		c.ItemCount += it.Quantity
		c.Subtotal = c.Subtotal.Add(it.Price.Mul(decimal.NewFromInt(int64(it.Quantity))))
	}
	c.Subtotal = c.Subtotal.Round(2)
	return c
}
