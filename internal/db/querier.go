package db

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type UpdateUserCartParams struct {
	ID   uuid.UUID
	Cart []CartItem
}

type AdjustScoopPointsParams struct {
	ID     uuid.UUID
	Debit  int64
	Credit int64
}

type GetAddressForUserParams struct {
	ID     uuid.UUID
	UserID uuid.UUID
}

type CreateCouponParams struct {
	Code               string
	DiscountPercentage decimal.Decimal
	IsActive           bool
	ExpiresAt          *time.Time
}

type UpdateCouponParams struct {
	Code               string
	DiscountPercentage *decimal.Decimal
	IsActive           *bool
	ExpiresAt          *time.Time
	ClearExpiry        bool
}

type ListCouponsParams struct {
	Limit  int32
	Offset int32
}

type CreatePendingOrderParams struct {
	TempOrderID       string
	UserID            uuid.UUID
	AttemptKey        string
	CartItems         []CartItem
	Subtotal          decimal.Decimal
	CouponDiscount    decimal.Decimal
	ScoopDiscount     decimal.Decimal
	GatewayDiscount   decimal.Decimal
	Discount          decimal.Decimal
	Amount            decimal.Decimal
	CouponCode        *string
	Address           Address
	PaymentMethod     string
	TransactionID     string
	ScoopPointsUsed   int64
	ScoopPointsEarned int64
	CreatedAt         time.Time
	ExpiresAt         time.Time
}

type GetPendingOrderByAttemptParams struct {
	UserID     uuid.UUID
	AttemptKey string
}

type ListStalePendingOrdersParams struct {
	Before time.Time
	Limit  int32
}

type CreatePaymentTransactionParams struct {
	TransactionID string
	OrderID       string
	UserID        uuid.UUID
	Provider      string
	Amount        decimal.Decimal
}

type SetPaymentTransactionGatewayRefParams struct {
	TransactionID string
	GatewayRef    string
}

type SettlePaymentTransactionParams struct {
	TransactionID string
	Status        string
	Payload       []byte
}

type CreateOrderParams struct {
	OrderID           string
	UserID            uuid.UUID
	Items             []CartItem
	Subtotal          decimal.Decimal
	Discount          decimal.Decimal
	Total             decimal.Decimal
	Status            string
	Address           Address
	CouponCode        *string
	PaymentMethod     string
	TransactionID     string
	ScoopPointsUsed   int64
	ScoopPointsEarned int64
}

type GetOrderForUserParams struct {
	OrderID string
	UserID  uuid.UUID
}

type ListOrdersForUserParams struct {
	UserID uuid.UUID
	Limit  int32
	Offset int32
}

type InsertDomainEventParams struct {
	Topic       string
	AggregateID string
	Payload     []byte
}

// Querier lists every query the services use. Implemented by *Queries and by
// the in-memory fake in dbtest.
type Querier interface {
	GetUserByID(ctx context.Context, id uuid.UUID) (User, error)
	GetUserForUpdate(ctx context.Context, id uuid.UUID) (User, error)
	UpdateUserCart(ctx context.Context, arg UpdateUserCartParams) error
	AdjustScoopPoints(ctx context.Context, arg AdjustScoopPointsParams) (int64, error)
	GetAddressForUser(ctx context.Context, arg GetAddressForUserParams) (UserAddress, error)

	GetCouponByCode(ctx context.Context, code string) (Coupon, error)
	CreateCoupon(ctx context.Context, arg CreateCouponParams) (Coupon, error)
	UpdateCoupon(ctx context.Context, arg UpdateCouponParams) (Coupon, error)
	ListCoupons(ctx context.Context, arg ListCouponsParams) ([]Coupon, error)
	ListActiveCouponCodes(ctx context.Context, now time.Time) ([]string, error)

	CreatePendingOrder(ctx context.Context, arg CreatePendingOrderParams) (PendingOrder, error)
	GetPendingOrder(ctx context.Context, tempOrderID string) (PendingOrder, error)
	GetPendingOrderForUpdate(ctx context.Context, tempOrderID string) (PendingOrder, error)
	GetPendingOrderByAttempt(ctx context.Context, arg GetPendingOrderByAttemptParams) (PendingOrder, error)
	DeletePendingOrder(ctx context.Context, tempOrderID string) (int64, error)
	ListStalePendingOrders(ctx context.Context, arg ListStalePendingOrdersParams) ([]PendingOrder, error)

	CreatePaymentTransaction(ctx context.Context, arg CreatePaymentTransactionParams) (PaymentTransaction, error)
	GetPaymentTransaction(ctx context.Context, transactionID string) (PaymentTransaction, error)
	GetPaymentTransactionForUpdate(ctx context.Context, transactionID string) (PaymentTransaction, error)
	GetPaymentTransactionByOrder(ctx context.Context, orderID string) (PaymentTransaction, error)
	GetPaymentTransactionByGatewayRef(ctx context.Context, provider, gatewayRef string) (PaymentTransaction, error)
	SetPaymentTransactionGatewayRef(ctx context.Context, arg SetPaymentTransactionGatewayRefParams) error
	SettlePaymentTransaction(ctx context.Context, arg SettlePaymentTransactionParams) (PaymentTransaction, error)

	CreateOrder(ctx context.Context, arg CreateOrderParams) (Order, error)
	GetOrderByOrderID(ctx context.Context, orderID string) (Order, error)
	GetOrderForUser(ctx context.Context, arg GetOrderForUserParams) (Order, error)
	ListOrdersForUser(ctx context.Context, arg ListOrdersForUserParams) ([]Order, error)
	CountOrdersForUser(ctx context.Context, userID uuid.UUID) (int64, error)

	InsertDomainEvent(ctx context.Context, arg InsertDomainEventParams) (DomainEvent, error)
}

var _ Querier = (*Queries)(nil)
