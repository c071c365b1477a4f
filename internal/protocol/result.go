package protocol

import "sync"

// Result is a typed settlement outcome sent back through the transport.
type Result interface {
	result()
}

// Approved answers a login request; carries a freshly issued session token.
type Approved struct {
	SessionToken string
}

// Declined answers a login request negatively.
type Declined struct {
	Reason string
}

// Pending acknowledges a payment before settlement is attempted.
type Pending struct{}

// Rejected is the terminal negative outcome for payment, subscription and
// ticket requests.
type Rejected struct {
	Reason string
}

// Confirmed answers a subscription request with the new subscription id.
type Confirmed struct {
	SubscriptionID string
}

// TicketIssued answers a ticket request with the ecash token and the exact
// ticket count that was debited.
type TicketIssued struct {
	Token string
	Count int64
}

// InsufficientFunds rejects a ticket request without any debit.
type InsufficientFunds struct{}

func (Approved) result()          {}
func (Declined) result()          {}
func (Pending) result()           {}
func (Rejected) result()          {}
func (Confirmed) result()         {}
func (TicketIssued) result()      {}
func (InsufficientFunds) result() {}

// Sink delivers exactly one result to the transport. Resolve is safe to
// call concurrently and from repeated approve/deny paths; only the first
// call delivers.
type Sink struct {
	once sync.Once
	fn   func(Result)
}

// NewSink wraps a delivery function into a single-use sink.
func NewSink(fn func(Result)) *Sink {
	return &Sink{fn: fn}
}

// Resolve fires the sink. Returns true if this call consumed it.
func (s *Sink) Resolve(r Result) bool {
	fired := false
	s.once.Do(func() {
		fired = true
		if s.fn != nil {
			s.fn(r)
		}
	})
	return fired
}
