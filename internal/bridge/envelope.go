package bridge

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/rignes/walletgate/internal/protocol"
)

// Envelope types as sent by the transport process.
const (
	TypeAuthChallenge    = "auth_challenge"
	TypePaymentRequest   = "payment_request"
	TypeRecurringRequest = "recurring_payment_request"
	TypeTicketRequest    = "ticket_request"
)

// Envelope is one decrypted protocol message.
type Envelope struct {
	Type       string          `json:"type"`
	ServiceKey string          `json:"service_key"`
	Content    json.RawMessage `json:"content,omitempty"`
}

type authContent struct {
	Challenge string `json:"challenge,omitempty"`
}

type paymentContent struct {
	RequestID      string          `json:"request_id"`
	AmountMsat     int64           `json:"amount"`
	Currency       json.RawMessage `json:"currency,omitempty"`
	Invoice        string          `json:"invoice"`
	SubscriptionID string          `json:"subscription_id,omitempty"`
}

type recurringContent struct {
	RequestID  string              `json:"request_id"`
	AmountMsat int64               `json:"amount"`
	Currency   json.RawMessage     `json:"currency,omitempty"`
	Recurrence protocol.Recurrence `json:"recurrence"`
}

type ticketContent struct {
	MintURL string `json:"mint_url"`
	Unit    string `json:"unit"`
	Amount  int64  `json:"amount"`
}

// ParseEnvelope turns a wire envelope into a typed pending request. Auth
// and ticket envelopes carry no request id of their own and get a fresh
// one.
func ParseEnvelope(env *Envelope) (*protocol.Request, error) {
	if env.ServiceKey == "" {
		return nil, fmt.Errorf("missing service_key")
	}

	switch env.Type {
	case TypeAuthChallenge:
		var c authContent
		if len(env.Content) > 0 {
			if err := json.Unmarshal(env.Content, &c); err != nil {
				return nil, fmt.Errorf("unmarshal auth content: %w", err)
			}
		}
		return &protocol.Request{
			ID:         uuid.NewString(),
			ServiceKey: env.ServiceKey,
			Content:    &protocol.LoginContent{Challenge: c.Challenge},
		}, nil

	case TypePaymentRequest:
		var c paymentContent
		if err := json.Unmarshal(env.Content, &c); err != nil {
			return nil, fmt.Errorf("unmarshal payment content: %w", err)
		}
		if c.RequestID == "" || c.Invoice == "" {
			return nil, fmt.Errorf("payment request missing request_id or invoice")
		}
		return &protocol.Request{
			ID:         c.RequestID,
			ServiceKey: env.ServiceKey,
			Content: &protocol.PaymentContent{
				AmountMsat:     c.AmountMsat,
				Currency:       c.Currency,
				Invoice:        c.Invoice,
				SubscriptionID: c.SubscriptionID,
			},
		}, nil

	case TypeRecurringRequest:
		var c recurringContent
		if err := json.Unmarshal(env.Content, &c); err != nil {
			return nil, fmt.Errorf("unmarshal recurring content: %w", err)
		}
		if c.RequestID == "" {
			return nil, fmt.Errorf("recurring request missing request_id")
		}
		return &protocol.Request{
			ID:         c.RequestID,
			ServiceKey: env.ServiceKey,
			Content: &protocol.SubscriptionContent{
				AmountMsat: c.AmountMsat,
				Currency:   c.Currency,
				Recurrence: c.Recurrence,
			},
		}, nil

	case TypeTicketRequest:
		var c ticketContent
		if err := json.Unmarshal(env.Content, &c); err != nil {
			return nil, fmt.Errorf("unmarshal ticket content: %w", err)
		}
		if c.Amount <= 0 {
			return nil, fmt.Errorf("ticket request with non-positive amount")
		}
		return &protocol.Request{
			ID:         uuid.NewString(),
			ServiceKey: env.ServiceKey,
			Content: &protocol.TicketContent{
				MintURL: c.MintURL,
				Unit:    c.Unit,
				Amount:  c.Amount,
			},
		}, nil
	}

	return nil, fmt.Errorf("unknown envelope type %q", env.Type)
}
