// Package checkout orchestrates one checkout attempt: price the cart, stage a
// pending order with its payment transaction and reserved points, then open a
// payment session with the chosen gateway.
package checkout

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/aryavtiwari2005/supplement-hub-sub000/internal/common"
	"github.com/aryavtiwari2005/supplement-hub-sub000/internal/coupon"
	"github.com/aryavtiwari2005/supplement-hub-sub000/internal/db"
	"github.com/aryavtiwari2005/supplement-hub-sub000/internal/lock"
	"github.com/aryavtiwari2005/supplement-hub-sub000/internal/loyalty"
	"github.com/aryavtiwari2005/supplement-hub-sub000/internal/obs"
	"github.com/aryavtiwari2005/supplement-hub-sub000/internal/order"
	"github.com/aryavtiwari2005/supplement-hub-sub000/internal/payment"
	"github.com/aryavtiwari2005/supplement-hub-sub000/internal/pending"
	"github.com/aryavtiwari2005/supplement-hub-sub000/internal/pricing"
)

// Request is the checkout payload. Items default to the stored cart.
type Request struct {
	Items           []db.CartItem    `json:"items" validate:"omitempty,max=100,dive"`
	AddressID       *uuid.UUID       `json:"addressId"`
	Address         *db.Address      `json:"address"`
	CouponCode      string           `json:"couponCode" validate:"max=32"`
	ScoopPoints     int64            `json:"scoopPointsToUse" validate:"gte=0"`
	PaymentMethod   string           `json:"paymentMethod" validate:"required,max=32"`
	GatewayDiscount *decimal.Decimal `json:"gatewayDiscount"`
	// AttemptKey deduplicates retries of one attempt; taken from Idempotency-Key.
	AttemptKey string `json:"-"`
}

// Result describes the staged attempt and how the client continues payment.
type Result struct {
	TempOrderID   string            `json:"tempOrderId"`
	TransactionID string            `json:"transactionId"`
	State         order.State       `json:"state"`
	Breakdown     pricing.Breakdown `json:"breakdown"`
	Payment       payment.Session   `json:"payment"`
	Order         *order.OrderView  `json:"order,omitempty"`
	Replayed      bool              `json:"replayed,omitempty"`
}

// CouponLookup resolves coupon codes. Implemented by coupon.Service.
type CouponLookup interface {
	Lookup(ctx context.Context, code string) (db.Coupon, bool, error)
}

// Settler finalizes or compensates staged attempts. Implemented by order.Finalizer.
type Settler interface {
	Complete(ctx context.Context, transactionID string, payload []byte) (db.Order, error)
	Fail(ctx context.Context, transactionID, reason string, payload []byte) error
}

// Service places checkout attempts.
type Service struct {
	Store    db.Store
	Coupons  CouponLookup
	Pricing  pricing.Calculator
	Gateways payment.Registry
	Settler  Settler
	Locker   lock.Locker
	Validate *validator.Validate

	LockTTL    time.Duration
	PendingTTL time.Duration
	// APIBaseURL receives gateway callbacks; StoreBaseURL receives the shopper.
	APIBaseURL   string
	StoreBaseURL string

	Logger *zerolog.Logger
	Now    func() time.Time
}

// Checkout validates, prices and stages the attempt, then opens the payment
// session. Cash on delivery is finalized before returning.
func (s *Service) Checkout(ctx context.Context, userID uuid.UUID, req Request) (Result, error) {
	if err := s.validate(req); err != nil {
		return Result{}, err
	}
	gateway, ok := s.Gateways.Get(req.PaymentMethod)
	if !ok {
		return Result{}, common.Validation("UNSUPPORTED_PAYMENT_METHOD", "unsupported payment method", nil)
	}
	method := gateway.Name()

	var res Result
	err := s.Locker.WithLock(ctx, s.Locker.UserKey("checkout", userID.String()), s.lockTTL(), func(ctx context.Context) error {
		var err error
		res, err = s.place(ctx, userID, gateway, req)
		return err
	})
	result := "ok"
	switch {
	case errors.Is(err, lock.ErrBusy):
		result = "busy"
		err = common.Conflict("CHECKOUT_IN_PROGRESS", "another checkout is in progress", err)
	case err != nil:
		result = "error"
		if appErr, ok := common.AsAppError(err); ok && appErr.Kind == common.KindValidation {
			result = "rejected"
		}
	case res.Replayed:
		result = "replayed"
	}
	obs.CheckoutTotal.WithLabelValues(method, result).Inc()
	return res, err
}

// Quote prices a would-be checkout without staging anything.
func (s *Service) Quote(ctx context.Context, userID uuid.UUID, req Request) (pricing.Breakdown, error) {
	if err := s.validate(req); err != nil {
		return pricing.Breakdown{}, err
	}
	gateway, ok := s.Gateways.Get(req.PaymentMethod)
	if !ok {
		return pricing.Breakdown{}, common.Validation("UNSUPPORTED_PAYMENT_METHOD", "unsupported payment method", nil)
	}
	user, err := s.loadUser(ctx, userID)
	if err != nil {
		return pricing.Breakdown{}, err
	}
	quote, _, _, err := s.price(ctx, user, gateway, req)
	return quote, err
}

func (s *Service) place(ctx context.Context, userID uuid.UUID, gateway payment.Gateway, req Request) (Result, error) {
	staged := pending.Store{Q: s.Store, TTL: s.PendingTTL, Now: s.Now}
	if req.AttemptKey != "" {
		existing, err := staged.GetByAttempt(ctx, userID, req.AttemptKey)
		if err == nil {
			return s.replay(ctx, existing)
		}
		if !errors.Is(err, pending.ErrNotFound) {
			return Result{}, common.Upstream("CHECKOUT_FAILED", err)
		}
	}

	user, err := s.loadUser(ctx, userID)
	if err != nil {
		return Result{}, err
	}
	quote, items, couponCode, err := s.price(ctx, user, gateway, req)
	if err != nil {
		return Result{}, err
	}
	addr, err := s.resolveAddress(ctx, userID, req)
	if err != nil {
		return Result{}, err
	}

	var p db.PendingOrder
	err = s.Store.ExecTx(ctx, func(q db.Querier) error {
		var err error
		p, err = pending.Store{Q: q, TTL: s.PendingTTL, Now: s.Now}.Create(ctx, pending.NewOrder{
			UserID:        userID,
			AttemptKey:    req.AttemptKey,
			Items:         items,
			Quote:         quote,
			CouponCode:    couponCode,
			Address:       addr,
			PaymentMethod: gateway.Name(),
		})
		if err != nil {
			return err
		}
		if _, err := q.CreatePaymentTransaction(ctx, db.CreatePaymentTransactionParams{
			TransactionID: p.TransactionID,
			OrderID:       p.TempOrderID,
			UserID:        userID,
			Provider:      gateway.Name(),
			Amount:        p.Amount,
		}); err != nil {
			return err
		}
		if quote.PointsUsed > 0 {
			if _, err := (loyalty.Ledger{Q: q}).DebitAndCredit(ctx, userID, quote.PointsUsed, 0); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		switch {
		case errors.Is(err, pending.ErrDuplicateAttempt):
			existing, getErr := staged.GetByAttempt(ctx, userID, req.AttemptKey)
			if getErr != nil {
				return Result{}, common.Conflict("CHECKOUT_IN_PROGRESS", "checkout attempt already submitted", err)
			}
			return s.replay(ctx, existing)
		case errors.Is(err, loyalty.ErrInsufficientPoints):
			return Result{}, common.Validation("INSUFFICIENT_POINTS", "insufficient points", err)
		}
		return Result{}, common.Upstream("CHECKOUT_FAILED", err)
	}

	log := s.logger(ctx).With().
		Str("user_id", userID.String()).
		Str("temp_order_id", p.TempOrderID).
		Str("transaction_id", p.TransactionID).
		Str("provider", gateway.Name()).
		Logger()
	log.Info().Str("amount", p.Amount.StringFixed(2)).Int64("points_used", p.ScoopPointsUsed).Msg("checkout staged")

	session, err := gateway.CreateSession(ctx, payment.SessionRequest{
		TransactionID: p.TransactionID,
		TempOrderID:   p.TempOrderID,
		Amount:        p.Amount,
		Customer:      payment.Customer{ID: userID.String(), Email: user.Email, Phone: firstNonEmpty(addr.Phone, user.Phone), Name: firstNonEmpty(addr.FullName, user.Name)},
		CallbackURL:   s.callbackURL(gateway.Name()),
		RedirectURL:   s.redirectURL(p.TempOrderID),
	})
	if err != nil {
		// compensation must run even if the client went away
		if failErr := s.Settler.Fail(context.WithoutCancel(ctx), p.TransactionID, "session_failed", nil); failErr != nil {
			log.Error().Err(failErr).Msg("compensation failed; left for reconciliation")
		}
		return Result{}, common.Upstream("GATEWAY_ERROR", err)
	}
	if session.GatewayRef != "" {
		if err := s.Store.SetPaymentTransactionGatewayRef(ctx, db.SetPaymentTransactionGatewayRefParams{
			TransactionID: p.TransactionID,
			GatewayRef:    session.GatewayRef,
		}); err != nil {
			log.Warn().Err(err).Msg("store gateway reference")
		}
	}

	res := Result{
		TempOrderID:   p.TempOrderID,
		TransactionID: p.TransactionID,
		State:         order.StatePendingPayment,
		Breakdown:     quote,
		Payment:       session,
	}
	if session.Immediate {
		placed, err := s.Settler.Complete(ctx, p.TransactionID, nil)
		if err != nil {
			return Result{}, common.Upstream("FINALIZE_FAILED", err)
		}
		view := order.View(placed)
		res.Order = &view
		res.State = order.StateFinalized
	}
	return res, nil
}

func (s *Service) replay(ctx context.Context, p db.PendingOrder) (Result, error) {
	res := Result{
		TempOrderID:   p.TempOrderID,
		TransactionID: p.TransactionID,
		State:         order.StatePendingPayment,
		Breakdown:     breakdownOf(p),
		Payment:       payment.Session{Provider: p.PaymentMethod},
		Replayed:      true,
	}
	txn, err := s.Store.GetPaymentTransaction(ctx, p.TransactionID)
	if err != nil {
		return res, nil
	}
	res.State = order.StateOf(txn)
	if txn.GatewayRef != nil {
		res.Payment.GatewayRef = *txn.GatewayRef
	}
	// COD has no callback; a staged attempt whose inline finalization failed
	// is finalized by the retry.
	if p.PaymentMethod == db.MethodCOD && txn.Status == db.TxnStatusPending {
		placed, err := s.Settler.Complete(ctx, p.TransactionID, nil)
		if err != nil {
			return Result{}, common.Upstream("FINALIZE_FAILED", err)
		}
		view := order.View(placed)
		res.Order = &view
		res.State = order.StateFinalized
		res.Payment.Immediate = true
	}
	return res, nil
}

func (s *Service) loadUser(ctx context.Context, userID uuid.UUID) (db.User, error) {
	user, err := s.Store.GetUserByID(ctx, userID)
	if err != nil {
		if db.IsNotFound(err) {
			return db.User{}, common.NotFound("USER_NOT_FOUND", "user not found")
		}
		return db.User{}, common.Upstream("USER_LOOKUP_FAILED", err)
	}
	return user, nil
}

// price resolves items and coupon and runs the calculator.
func (s *Service) price(ctx context.Context, user db.User, gateway payment.Gateway, req Request) (pricing.Breakdown, []db.CartItem, string, error) {
	items := req.Items
	if len(items) == 0 {
		items = user.Cart
	}
	if len(items) == 0 {
		return pricing.Breakdown{}, nil, "", common.Validation("EMPTY_CART", "cart is empty", pricing.ErrEmptyCart)
	}

	pct := decimal.Zero
	code := coupon.NormalizeCode(req.CouponCode)
	if code != "" {
		c, found, err := s.Coupons.Lookup(ctx, code)
		if err != nil {
			return pricing.Breakdown{}, nil, "", common.Upstream("COUPON_LOOKUP_FAILED", err)
		}
		if !found {
			return pricing.Breakdown{}, nil, "", common.Validation("INVALID_COUPON", "invalid or expired coupon", nil)
		}
		pct = c.DiscountPercentage
	}

	lines := make([]pricing.Line, 0, len(items))
	for _, it := range items {
		lines = append(lines, pricing.Line{Price: it.Price, Quantity: it.Quantity})
	}
	quote, err := s.Pricing.Calculate(pricing.Input{
		Lines:            lines,
		CouponPercent:    pct,
		RedeemPoints:     req.ScoopPoints,
		AvailablePoints:  user.ScoopPoints,
		GatewayRate:      gateway.DiscountRate(),
		RequestedGateway: req.GatewayDiscount,
	})
	if err != nil {
		return pricing.Breakdown{}, nil, "", pricingError(err)
	}
	return quote, items, code, nil
}

func (s *Service) resolveAddress(ctx context.Context, userID uuid.UUID, req Request) (db.Address, error) {
	if req.AddressID != nil {
		a, err := s.Store.GetAddressForUser(ctx, db.GetAddressForUserParams{ID: *req.AddressID, UserID: userID})
		if err != nil {
			if db.IsNotFound(err) {
				return db.Address{}, common.Validation("INVALID_ADDRESS", "address not found", nil)
			}
			return db.Address{}, common.Upstream("ADDRESS_LOOKUP_FAILED", err)
		}
		return a.Address, nil
	}
	if req.Address == nil {
		return db.Address{}, common.Validation("ADDRESS_REQUIRED", "a shipping address is required", nil)
	}
	return *req.Address, nil
}

func (s *Service) validate(req Request) error {
	v := s.Validate
	if v == nil {
		v = validator.New()
	}
	if err := v.Struct(req); err != nil {
		return common.Validation("INVALID_REQUEST", "invalid checkout request", err).WithDetails(validationDetails(err))
	}
	return nil
}

func validationDetails(err error) map[string]string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return nil
	}
	out := make(map[string]string, len(verrs))
	for _, fe := range verrs {
		out[fe.Namespace()] = fe.Tag()
	}
	return out
}

func pricingError(err error) error {
	switch {
	case errors.Is(err, pricing.ErrEmptyCart):
		return common.Validation("EMPTY_CART", "cart is empty", err)
	case errors.Is(err, pricing.ErrInvalidPrice), errors.Is(err, pricing.ErrInvalidQuantity):
		return common.Validation("INVALID_CART_ITEM", err.Error(), err)
	case errors.Is(err, pricing.ErrInvalidCoupon):
		return common.Validation("INVALID_COUPON", "invalid or expired coupon", err)
	case errors.Is(err, pricing.ErrNegativePoints):
		return common.Validation("INVALID_POINTS", err.Error(), err)
	case errors.Is(err, pricing.ErrInsufficientPoints):
		return common.Validation("INSUFFICIENT_POINTS", "insufficient points", err)
	case errors.Is(err, pricing.ErrInvalidAmount):
		return common.Validation("INVALID_AMOUNT", "invalid order amount", err)
	}
	return common.Upstream("PRICING_FAILED", err)
}

func breakdownOf(p db.PendingOrder) pricing.Breakdown {
	return pricing.Breakdown{
		Subtotal:        p.Subtotal,
		CouponDiscount:  p.CouponDiscount,
		ScoopDiscount:   p.ScoopDiscount,
		GatewayDiscount: p.GatewayDiscount,
		Discount:        p.Discount,
		Total:           p.Amount,
		PointsUsed:      p.ScoopPointsUsed,
		PointsEarned:    p.ScoopPointsEarned,
	}
}

func (s *Service) callbackURL(provider string) string {
	return strings.TrimRight(s.APIBaseURL, "/") + "/api/v1/payments/webhooks/" + provider
}

func (s *Service) redirectURL(tempOrderID string) string {
	return fmt.Sprintf("%s/checkout/status?orderId=%s", strings.TrimRight(s.StoreBaseURL, "/"), url.QueryEscape(tempOrderID))
}

func (s *Service) lockTTL() time.Duration {
	if s.LockTTL > 0 {
		return s.LockTTL
	}
	return 30 * time.Second
}

func (s *Service) logger(ctx context.Context) *zerolog.Logger {
	if l := zerolog.Ctx(ctx); l != nil && l.GetLevel() != zerolog.Disabled {
		return l
	}
	if s.Logger != nil {
		return s.Logger
	}
	nop := zerolog.Nop()
	return &nop
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
