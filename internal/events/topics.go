package events

// Topic constants for domain events emitted by checkout.
const (
	TopicOrderPlaced     = "order.placed"
	TopicPaymentFailed   = "payment.failed"
	TopicPaymentLate     = "payment.late_success"
	TopicCheckoutStarted = "checkout.started"
)

// OrderPlaced is the payload of TopicOrderPlaced.
type OrderPlaced struct {
	OrderID           string `json:"orderId"`
	UserID            string `json:"userId"`
	Email             string `json:"email,omitempty"`
	Name              string `json:"name,omitempty"`
	Total             string `json:"total"`
	PaymentMethod     string `json:"paymentMethod"`
	TransactionID     string `json:"transactionId"`
	ScoopPointsEarned int64  `json:"scoopPointsEarned"`
	Items             int    `json:"items"`
}

// PaymentFailed is the payload of TopicPaymentFailed and TopicPaymentLate.
type PaymentFailed struct {
	OrderID       string `json:"orderId"`
	UserID        string `json:"userId"`
	TransactionID string `json:"transactionId"`
	Provider      string `json:"provider"`
	Reason        string `json:"reason"`
	PointsRefund  int64  `json:"pointsRefunded"`
}
