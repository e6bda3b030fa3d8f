package db

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Payment transaction states.
const (
	TxnStatusPending = "pending"
	TxnStatusSuccess = "success"
	TxnStatusFailed  = "failed"
)

// PendingStatusAwaitingPayment is the only status a staged order carries.
const PendingStatusAwaitingPayment = "pending_payment"

// Payment methods accepted at checkout.
const (
	MethodCOD      = "cod"
	MethodPhonePe  = "phonepe"
	MethodCashfree = "cashfree"
	MethodRazorpay = "razorpay"
)

// Order statuses.
const (
	OrderStatusConfirmed = "confirmed"
	OrderStatusCODDue    = "cod_pending"
)

type CartItem struct {
	ID              string          `json:"id" validate:"required,max=128"`
	Name            string          `json:"name" validate:"required,max=256"`
	Price           decimal.Decimal `json:"price"`
	Quantity        int             `json:"quantity" validate:"gte=1,lte=100"`
	Image           string          `json:"image,omitempty"`
	SelectedVariant string          `json:"selectedVariant,omitempty"`
}

type Address struct {
	FullName string `json:"fullName" validate:"required,max=128"`
	Phone    string `json:"phone" validate:"required,min=10,max=15"`
	Line1    string `json:"line1" validate:"required,max=256"`
	Line2    string `json:"line2,omitempty" validate:"max=256"`
	City     string `json:"city" validate:"required,max=128"`
	State    string `json:"state" validate:"required,max=128"`
	Pincode  string `json:"pincode" validate:"required,numeric,len=6"`
	Country  string `json:"country,omitempty"`
}

type User struct {
	ID          uuid.UUID
	Email       string
	Name        string
	Phone       string
	Roles       []string
	Cart        []CartItem
	ScoopPoints int64
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

type UserAddress struct {
	ID        uuid.UUID
	UserID    uuid.UUID
	Address   Address
	CreatedAt time.Time
}

type Coupon struct {
	ID                 uuid.UUID
	Code               string
	DiscountPercentage decimal.Decimal
	IsActive           bool
	ExpiresAt          *time.Time
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

type PendingOrder struct {
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
	Status            string
	TransactionID     string
	ScoopPointsUsed   int64
	ScoopPointsEarned int64
	CreatedAt         time.Time
	ExpiresAt         time.Time
}

type PaymentTransaction struct {
	TransactionID string
	OrderID       string
	UserID        uuid.UUID
	Provider      string
	Status        string
	Amount        decimal.Decimal
	GatewayRef    *string
	Payload       []byte
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

type Order struct {
	ID                uuid.UUID
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
	CreatedAt         time.Time
}

type DomainEvent struct {
	ID          uuid.UUID
	Topic       string
	AggregateID string
	Payload     []byte
	OccurredAt  time.Time
}
