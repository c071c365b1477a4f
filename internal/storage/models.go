package storage

import "time"

// Subscription statuses. Transitions are owned by whoever writes the row;
// the scheduler only reads status and bumps the payment dates.
const (
	StatusActive    = "active"
	StatusCancelled = "cancelled"
	StatusExpired   = "expired"
)

// Activity types.
const (
	ActivityAuth         = "auth"
	ActivityPay          = "pay"
	ActivityTicketOK     = "ticket_approved"
	ActivityTicketDenied = "ticket_denied"
)

// Subscription is a recurring payment authorization.
type Subscription struct {
	ID              string
	ServiceKey      string
	AmountMsat      int64
	Currency        string
	Status          string
	Calendar        string
	Until           *time.Time
	MaxPayments     *int
	FirstPaymentDue time.Time
	LastPaymentDate *time.Time
	NextPaymentDate *time.Time
	CreatedAt       time.Time
}

// Activity is one immutable audit record. AmountSat is nil for records that
// carry no amount (logins); for ticket records it holds the raw ticket
// count instead of sats.
type Activity struct {
	ID             string
	Type           string
	ServiceKey     string
	ServiceName    string
	Detail         string
	Date           time.Time
	AmountSat      *int64
	Currency       string
	RequestID      string
	SubscriptionID string
}
