// Package pricing computes checkout totals. Every checkout entry point prices
// through Calculator so discount stacking cannot drift between payment
// methods.
//
// Discounts apply in a fixed order, each on the remaining balance:
//
//	subtotal       = Σ price × quantity
//	coupon         = subtotal × pct / 100
//	scoop          = min(points, floor((subtotal − coupon) × RedeemCap))
//	gateway        = min(requested, remainder × gateway rate)
//	total          = max(0, remainder − gateway)
package pricing

import (
	"errors"

	"github.com/shopspring/decimal"
)

var (
	ErrEmptyCart          = errors.New("cart is empty")
	ErrInvalidPrice       = errors.New("invalid item price")
	ErrInvalidQuantity    = errors.New("invalid item quantity")
	ErrInvalidCoupon      = errors.New("invalid coupon percentage")
	ErrNegativePoints     = errors.New("scoop points must not be negative")
	ErrInsufficientPoints = errors.New("insufficient points")
	ErrInvalidAmount      = errors.New("invalid order amount")
)

var (
	hundred           = decimal.NewFromInt(100)
	defaultRedeemCap  = decimal.RequireFromString("0.5")
	moneyPlaces int32 = 2
)

// Line is one priced cart row.
type Line struct {
	Price    decimal.Decimal
	Quantity int
}

// Input carries everything a quote depends on. Zero CouponPercent means no
// coupon. GatewayRate is the selected gateway's promotional rate; when it is
// positive and RequestedGateway is nil the whole cap is granted.
type Input struct {
	Lines            []Line
	CouponPercent    decimal.Decimal
	RedeemPoints     int64
	AvailablePoints  int64
	GatewayRate      decimal.Decimal
	RequestedGateway *decimal.Decimal
}

// Breakdown is the priced result.
type Breakdown struct {
	Subtotal        decimal.Decimal `json:"subtotal"`
	CouponDiscount  decimal.Decimal `json:"couponDiscount"`
	ScoopDiscount   decimal.Decimal `json:"scoopDiscount"`
	GatewayDiscount decimal.Decimal `json:"gatewayDiscount"`
	Discount        decimal.Decimal `json:"discount"`
	Total           decimal.Decimal `json:"total"`
	PointsUsed      int64           `json:"scoopPointsUsed"`
	PointsEarned    int64           `json:"scoopPointsEarned"`
}

// Calculator holds the tunable rules. The zero value uses a 50% redemption cap
// and the per-100 earn rule.
type Calculator struct {
	RedeemCap decimal.Decimal
	Earn      EarnRule
}

// Calculate prices in. It has no side effects.
func (c Calculator) Calculate(in Input) (Breakdown, error) {
	if len(in.Lines) == 0 {
		return Breakdown{}, ErrEmptyCart
	}
	subtotal := decimal.Zero
	for _, l := range in.Lines {
		if l.Price.IsNegative() {
			return Breakdown{}, ErrInvalidPrice
		}
		if l.Quantity <= 0 {
			return Breakdown{}, ErrInvalidQuantity
		}
		subtotal = subtotal.Add(l.Price.Mul(decimal.NewFromInt(int64(l.Quantity))))
	}
	subtotal = subtotal.Round(moneyPlaces)

	if in.CouponPercent.IsNegative() || in.CouponPercent.GreaterThan(hundred) {
		return Breakdown{}, ErrInvalidCoupon
	}
	if in.RedeemPoints < 0 {
		return Breakdown{}, ErrNegativePoints
	}
	if in.RedeemPoints > in.AvailablePoints {
		return Breakdown{}, ErrInsufficientPoints
	}

	coupon := subtotal.Mul(in.CouponPercent).Div(hundred).Round(moneyPlaces)
	afterCoupon := subtotal.Sub(coupon)

	capRatio := c.RedeemCap
	if !capRatio.IsPositive() {
		capRatio = defaultRedeemCap
	}
	scoopCap := afterCoupon.Mul(capRatio).Floor()
	scoop := decimal.NewFromInt(in.RedeemPoints)
	if scoop.GreaterThan(scoopCap) {
		scoop = scoopCap
	}
	remainder := afterCoupon.Sub(scoop)

	gateway := decimal.Zero
	if in.GatewayRate.IsPositive() {
		gatewayCap := remainder.Mul(in.GatewayRate).Round(moneyPlaces)
		gateway = gatewayCap
		if in.RequestedGateway != nil {
			gateway = decimal.Min(gatewayCap, decimal.Max(decimal.Zero, *in.RequestedGateway))
		}
	}

	total := decimal.Max(decimal.Zero, remainder.Sub(gateway))
	if !total.IsPositive() {
		return Breakdown{}, ErrInvalidAmount
	}

	return Breakdown{
		Subtotal:        subtotal,
		CouponDiscount:  coupon,
		ScoopDiscount:   scoop,
		GatewayDiscount: gateway,
		Discount:        coupon.Add(scoop).Add(gateway),
		Total:           total,
		PointsUsed:      scoop.IntPart(),
		PointsEarned:    c.Earn.Points(total),
	}, nil
}
