package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/rignes/walletgate/internal/lnpay"
	"github.com/rignes/walletgate/internal/protocol"
	"github.com/rignes/walletgate/internal/recorder"
	"github.com/rignes/walletgate/internal/storage"
)

// Store reads subscription state and records successful autonomous
// payments. The sqlite storage satisfies it.
type Store interface {
	GetSubscription(ctx context.Context, id string) (*storage.Subscription, error)
	UpdateLastPayment(ctx context.Context, id string, paidAt time.Time) error
}

// NameResolver turns a service key into a display name.
type NameResolver interface {
	DisplayName(ctx context.Context, serviceKey string) string
}

// Scheduler settles subscription-tagged payment requests without user
// interaction. Requests routed here are never surfaced.
type Scheduler struct {
	mu    sync.Mutex
	store Store // nil until the store is ready

	executor lnpay.Executor
	recorder *recorder.Recorder
	names    NameResolver
	log      *slog.Logger
}

// New creates a scheduler with no store attached yet.
func New(executor lnpay.Executor, rec *recorder.Recorder, names NameResolver, log *slog.Logger) *Scheduler {
	return &Scheduler{
		executor: executor,
		recorder: rec,
		names:    names,
		log:      log,
	}
}

// SetStore attaches the durable store once it is ready.
func (s *Scheduler) SetStore(st Store) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.store = st
}

func (s *Scheduler) currentStore() Store {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.store
}

// HandleAutoPayment validates the tagged subscription and settles the
// payment. The Pending ack always goes out before the invoice is paid; a
// payment that fails or yields no preimage aborts silently after the ack,
// leaving only a log line.
func (s *Scheduler) HandleAutoPayment(ctx context.Context, req *protocol.Request) {
	c, ok := req.Content.(*protocol.PaymentContent)
	if !ok || c.SubscriptionID == "" {
		s.log.Error("auto payment without subscription tag", "request_id", req.ID)
		req.Resolve(protocol.Rejected{Reason: "Subscription not found"})
		return
	}

	sub, err := s.loadSubscription(ctx, c.SubscriptionID)
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			s.log.Error("load subscription", "subscription_id", c.SubscriptionID, "error", err)
		}
		req.Resolve(protocol.Rejected{Reason: "Subscription not found"})
		return
	}

	switch sub.Status {
	case storage.StatusCancelled:
		s.log.Info("auto payment rejected: cancelled", "subscription_id", sub.ID)
		req.Resolve(protocol.Rejected{Reason: "Subscription cancelled"})
		return
	case storage.StatusExpired:
		s.log.Info("auto payment rejected: expired", "subscription_id", sub.ID)
		req.Resolve(protocol.Rejected{Reason: "Subscription expired"})
		return
	}

	// Ack first, settle after.
	req.Resolve(protocol.Pending{})

	preimage, err := s.executor.PayInvoice(ctx, c.Invoice)
	if err != nil {
		s.log.Error("auto payment failed", "subscription_id", sub.ID, "error", err)
		return
	}
	if preimage == "" {
		s.log.Error("auto payment returned no preimage", "subscription_id", sub.ID)
		return
	}

	if st := s.currentStore(); st != nil {
		if err := st.UpdateLastPayment(ctx, sub.ID, time.Now()); err != nil {
			s.log.Warn("update last payment", "subscription_id", sub.ID, "error", err)
		}
	}

	amount := protocol.MsatToSat(c.AmountMsat)
	s.recorder.AddActivity(ctx, storage.Activity{
		Type:           storage.ActivityPay,
		ServiceKey:     req.ServiceKey,
		ServiceName:    s.names.DisplayName(ctx, req.ServiceKey),
		Detail:         "Automatic subscription payment",
		AmountSat:      &amount,
		Currency:       protocol.CurrencyUnit(c.Currency),
		RequestID:      req.ID,
		SubscriptionID: sub.ID,
	})
	s.log.Info("auto payment settled",
		"subscription_id", sub.ID,
		"request_id", req.ID,
		"amount_sat", amount,
	)
}

func (s *Scheduler) loadSubscription(ctx context.Context, id string) (*storage.Subscription, error) {
	st := s.currentStore()
	if st == nil {
		return nil, storage.ErrNotFound
	}
	return st.GetSubscription(ctx, id)
}
