package protocol

import (
	"encoding/json"
	"time"
)

// RequestKind identifies the four request shapes a service can send.
type RequestKind string

const (
	KindLogin        RequestKind = "login"
	KindPayment      RequestKind = "payment"
	KindSubscription RequestKind = "subscription"
	KindTicket       RequestKind = "ticket"
)

// Content is the per-kind payload of a request. The concrete types below are
// the only implementations; dispatch is a type switch over them.
type Content interface {
	kind() RequestKind
}

// LoginContent is an identity challenge from a service.
type LoginContent struct {
	Challenge string `json:"challenge,omitempty"`
}

// PaymentContent is a single invoice payment request. Amounts are in
// millisats, as delivered on the wire. A non-empty SubscriptionID tags the
// request for autonomous settlement.
type PaymentContent struct {
	AmountMsat     int64           `json:"amount"`
	Currency       json.RawMessage `json:"currency,omitempty"`
	Invoice        string          `json:"invoice"`
	SubscriptionID string          `json:"subscription_id,omitempty"`
}

// Recurrence describes how a subscription repeats.
type Recurrence struct {
	Until           *time.Time `json:"until,omitempty"`
	Calendar        string     `json:"calendar"`
	MaxPayments     *int       `json:"max_payments,omitempty"`
	FirstPaymentDue time.Time  `json:"first_payment_due"`
}

// SubscriptionContent asks for a recurring payment authorization.
type SubscriptionContent struct {
	AmountMsat int64           `json:"amount"`
	Currency   json.RawMessage `json:"currency,omitempty"`
	Recurrence Recurrence      `json:"recurrence"`
}

// TicketContent asks for ecash tickets from a mint. Amount is a ticket
// count, never rescaled.
type TicketContent struct {
	MintURL string `json:"mint_url"`
	Unit    string `json:"unit"`
	Amount  int64  `json:"amount"`
}

func (*LoginContent) kind() RequestKind        { return KindLogin }
func (*PaymentContent) kind() RequestKind      { return KindPayment }
func (*SubscriptionContent) kind() RequestKind { return KindSubscription }
func (*TicketContent) kind() RequestKind       { return KindTicket }

// Request is a pending request delivered by the transport. Result fires at
// most once; settling a request consumes it.
type Request struct {
	ID         string
	ServiceKey string
	Content    Content
	Result     *Sink
}

// Kind returns the request kind derived from its content.
func (r *Request) Kind() RequestKind {
	if r.Content == nil {
		return ""
	}
	return r.Content.kind()
}

// Resolve delivers the settlement result through the single-use sink.
// Returns false if the sink already fired or none is attached.
func (r *Request) Resolve(res Result) bool {
	if r.Result == nil {
		return false
	}
	return r.Result.Resolve(res)
}

// CurrencyUnit extracts a display unit from a wire currency value. Services
// send either a plain string or a structured object; anything that is not a
// JSON string degrades to "sats".
func CurrencyUnit(raw json.RawMessage) string {
	if len(raw) == 0 {
		return "sats"
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return "sats"
	}
	return s
}

// MsatToSat converts a wire amount in millisats to sats.
func MsatToSat(msat int64) int64 {
	return msat / 1000
}
