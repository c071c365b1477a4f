package approval

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/rignes/walletgate/internal/ecash"
	"github.com/rignes/walletgate/internal/lnpay"
	"github.com/rignes/walletgate/internal/protocol"
	"github.com/rignes/walletgate/internal/recorder"
	"github.com/rignes/walletgate/internal/registry"
	"github.com/rignes/walletgate/internal/storage"
)

// Notifier is told about wallet-balance changes caused by settlements.
type Notifier interface {
	NotifyBalanceChanged(ctx context.Context)
}

// NameResolver turns a service key into a display name.
type NameResolver interface {
	DisplayName(ctx context.Context, serviceKey string) string
}

// Engine settles pending requests once a human decided. Approve and Deny
// both consume the registry entry before doing anything else, so a request
// settles at most once no matter how often a button is pressed.
type Engine struct {
	registry *registry.Registry
	recorder *recorder.Recorder
	executor lnpay.Executor
	wallets  *ecash.Registry
	names    NameResolver
	notifier Notifier
	log      *slog.Logger
}

// New creates an approval engine.
func New(
	reg *registry.Registry,
	rec *recorder.Recorder,
	executor lnpay.Executor,
	wallets *ecash.Registry,
	names NameResolver,
	notifier Notifier,
	log *slog.Logger,
) *Engine {
	return &Engine{
		registry: reg,
		recorder: rec,
		executor: executor,
		wallets:  wallets,
		names:    names,
		notifier: notifier,
		log:      log,
	}
}

// SetNotifier attaches the balance notifier after construction; the
// approval surface needs the engine first.
func (e *Engine) SetNotifier(n Notifier) {
	e.notifier = n
}

// Approve settles the request with the user's consent. Unknown ids are
// logged and ignored.
func (e *Engine) Approve(ctx context.Context, id string) {
	req, ok := e.registry.Take(id)
	if !ok {
		e.log.Info("approve: unknown request", "request_id", id)
		return
	}

	switch c := req.Content.(type) {
	case *protocol.LoginContent:
		e.approveLogin(ctx, req)
	case *protocol.PaymentContent:
		e.approvePayment(ctx, req, c)
	case *protocol.SubscriptionContent:
		e.approveSubscription(ctx, req, c)
	case *protocol.TicketContent:
		e.approveTicket(ctx, req, c)
	default:
		e.log.Error("approve: unhandled request kind", "request_id", id, "kind", req.Kind())
		req.Resolve(protocol.Rejected{Reason: "Unsupported request"})
	}
}

// Deny settles the request negatively. Never debits a wallet.
func (e *Engine) Deny(ctx context.Context, id string) {
	req, ok := e.registry.Take(id)
	if !ok {
		e.log.Info("deny: unknown request", "request_id", id)
		return
	}

	name := e.names.DisplayName(ctx, req.ServiceKey)

	switch c := req.Content.(type) {
	case *protocol.LoginContent:
		req.Resolve(protocol.Declined{Reason: "User denied login"})
		e.recorder.AddActivity(ctx, storage.Activity{
			Type:        storage.ActivityAuth,
			ServiceKey:  req.ServiceKey,
			ServiceName: name,
			Detail:      "User denied login",
			RequestID:   req.ID,
		})

	case *protocol.PaymentContent:
		req.Resolve(protocol.Rejected{Reason: "User denied payment"})
		amount := protocol.MsatToSat(c.AmountMsat)
		e.recorder.AddActivity(ctx, storage.Activity{
			Type:        storage.ActivityPay,
			ServiceKey:  req.ServiceKey,
			ServiceName: name,
			Detail:      "User denied payment",
			AmountSat:   &amount,
			Currency:    protocol.CurrencyUnit(c.Currency),
			RequestID:   req.ID,
		})

	case *protocol.SubscriptionContent:
		req.Resolve(protocol.Rejected{Reason: "User denied subscription"})
		amount := protocol.MsatToSat(c.AmountMsat)
		e.recorder.AddActivity(ctx, storage.Activity{
			Type:        storage.ActivityPay,
			ServiceKey:  req.ServiceKey,
			ServiceName: name,
			Detail:      "User denied subscription",
			AmountSat:   &amount,
			Currency:    protocol.CurrencyUnit(c.Currency),
			RequestID:   req.ID,
		})

	case *protocol.TicketContent:
		req.Resolve(protocol.Rejected{Reason: "User denied tickets"})
		count := c.Amount
		e.recorder.AddActivity(ctx, storage.Activity{
			Type:        storage.ActivityTicketDenied,
			ServiceKey:  req.ServiceKey,
			ServiceName: name,
			Detail:      "User denied tickets",
			AmountSat:   &count,
			Currency:    c.Unit,
			RequestID:   req.ID,
		})

	default:
		e.log.Error("deny: unhandled request kind", "request_id", id, "kind", req.Kind())
		req.Resolve(protocol.Rejected{Reason: "Unsupported request"})
	}
}

func (e *Engine) approveLogin(ctx context.Context, req *protocol.Request) {
	token := uuid.NewString()
	req.Resolve(protocol.Approved{SessionToken: token})

	e.recorder.AddActivity(ctx, storage.Activity{
		Type:        storage.ActivityAuth,
		ServiceKey:  req.ServiceKey,
		ServiceName: e.names.DisplayName(ctx, req.ServiceKey),
		Detail:      "User approved login",
		RequestID:   req.ID,
	})
	e.log.Info("login approved", "request_id", req.ID, "service_key", req.ServiceKey)
}

// approvePayment acknowledges first and settles in the background. The
// transport requires the ack before the invoice is paid; a failed payment
// is logged but no longer reported to the service.
func (e *Engine) approvePayment(ctx context.Context, req *protocol.Request, c *protocol.PaymentContent) {
	req.Resolve(protocol.Pending{})

	amount := protocol.MsatToSat(c.AmountMsat)
	e.recorder.AddActivity(ctx, storage.Activity{
		Type:        storage.ActivityPay,
		ServiceKey:  req.ServiceKey,
		ServiceName: e.names.DisplayName(ctx, req.ServiceKey),
		Detail:      "User approved payment",
		AmountSat:   &amount,
		Currency:    protocol.CurrencyUnit(c.Currency),
		RequestID:   req.ID,
	})

	go func() {
		preimage, err := e.executor.PayInvoice(context.Background(), c.Invoice)
		if err != nil {
			e.log.Error("pay invoice", "request_id", req.ID, "error", err)
			return
		}
		if preimage == "" {
			e.log.Error("pay invoice: no preimage returned", "request_id", req.ID)
			return
		}
		e.log.Info("payment settled", "request_id", req.ID, "amount_sat", amount)
	}()
}

func (e *Engine) approveSubscription(ctx context.Context, req *protocol.Request, c *protocol.SubscriptionContent) {
	now := time.Now()
	firstDue := c.Recurrence.FirstPaymentDue
	sub := storage.Subscription{
		ServiceKey:      req.ServiceKey,
		AmountMsat:      c.AmountMsat,
		Currency:        protocol.CurrencyUnit(c.Currency),
		Status:          storage.StatusActive,
		Calendar:        c.Recurrence.Calendar,
		Until:           c.Recurrence.Until,
		MaxPayments:     c.Recurrence.MaxPayments,
		FirstPaymentDue: firstDue,
		NextPaymentDate: &firstDue,
		CreatedAt:       now,
	}

	subID := e.recorder.AddSubscription(ctx, sub)
	req.Resolve(protocol.Confirmed{SubscriptionID: subID})

	amount := protocol.MsatToSat(c.AmountMsat)
	e.recorder.AddActivity(ctx, storage.Activity{
		Type:           storage.ActivityPay,
		ServiceKey:     req.ServiceKey,
		ServiceName:    e.names.DisplayName(ctx, req.ServiceKey),
		Detail:         "User approved subscription",
		AmountSat:      &amount,
		Currency:       sub.Currency,
		RequestID:      req.ID,
		SubscriptionID: subID,
	})
	e.log.Info("subscription approved", "request_id", req.ID, "subscription_id", subID)
}

func (e *Engine) approveTicket(ctx context.Context, req *protocol.Request, c *protocol.TicketContent) {
	wallet, ok := e.wallets.Resolve(c.MintURL, c.Unit)
	if !ok {
		e.log.Warn("no wallet for ticket request", "request_id", req.ID, "mint_url", c.MintURL, "unit", c.Unit)
		req.Resolve(protocol.Rejected{Reason: "No matching wallet"})
		return
	}

	if wallet.Balance() < c.Amount {
		e.log.Info("insufficient balance for tickets",
			"request_id", req.ID,
			"requested", c.Amount,
			"balance", wallet.Balance(),
		)
		req.Resolve(protocol.InsufficientFunds{})
		return
	}

	token, err := wallet.SendAmount(ctx, c.Amount)
	if err != nil {
		e.log.Error("send ticket amount", "request_id", req.ID, "error", err)
		req.Resolve(protocol.Rejected{Reason: "Failed to prepare tickets"})
		return
	}

	req.Resolve(protocol.TicketIssued{Token: token, Count: c.Amount})
	if e.notifier != nil {
		e.notifier.NotifyBalanceChanged(ctx)
	}

	count := c.Amount
	e.recorder.AddActivity(ctx, storage.Activity{
		Type:        storage.ActivityTicketOK,
		ServiceKey:  req.ServiceKey,
		ServiceName: e.names.DisplayName(ctx, req.ServiceKey),
		Detail:      fmt.Sprintf("User approved %d tickets", c.Amount),
		AmountSat:   &count,
		Currency:    c.Unit,
		RequestID:   req.ID,
	})
	e.log.Info("tickets issued", "request_id", req.ID, "count", c.Amount, "mint_url", wallet.MintURL())
}
