package recorder

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/rignes/walletgate/internal/storage"
)

// Store is the durable side of the recorder. The sqlite storage satisfies
// it; tests use fakes.
type Store interface {
	AppendActivity(ctx context.Context, a storage.Activity) error
	CreateSubscription(ctx context.Context, sub storage.Subscription) error
}

// Notifier is told when deferred records finally reach the store so views
// can refresh.
type Notifier interface {
	NotifyDataRefresh(ctx context.Context)
}

// entry is one deferred write. Exactly one of the two fields is set.
type entry struct {
	activity     *storage.Activity
	subscription *storage.Subscription
}

// Recorder records activities and subscriptions, buffering writes in an
// in-memory FIFO while the store is missing or failing. A write that fails
// moves to the back of the queue and waits for the next drain.
type Recorder struct {
	mu    sync.Mutex
	store Store // nil until the store is ready
	queue []entry

	notifier Notifier
	log      *slog.Logger
}

// New creates a Recorder with no store attached yet.
func New(notifier Notifier, log *slog.Logger) *Recorder {
	return &Recorder{
		notifier: notifier,
		log:      log,
	}
}

// SetNotifier attaches the refresh notifier after construction; the
// approval surface and the recorder reference each other, so one of the two
// is wired late.
func (r *Recorder) SetNotifier(n Notifier) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.notifier = n
}

// SetStore attaches the durable store. If deferred writes piled up while it
// was away, a drain starts in the background.
func (r *Recorder) SetStore(s Store) {
	r.mu.Lock()
	r.store = s
	pending := len(r.queue)
	r.mu.Unlock()

	if s != nil && pending > 0 {
		go r.Drain(context.Background())
	}
}

// AddActivity appends one audit record, deferring it if the store is
// unavailable or the write fails.
func (r *Recorder) AddActivity(ctx context.Context, a storage.Activity) {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	if a.Date.IsZero() {
		a.Date = time.Now()
	}

	r.mu.Lock()
	store := r.store
	if store == nil {
		r.queue = append(r.queue, entry{activity: &a})
		r.mu.Unlock()
		r.log.Info("store unavailable, activity queued", "activity_id", a.ID, "type", a.Type)
		return
	}
	r.mu.Unlock()

	if err := store.AppendActivity(ctx, a); err != nil {
		r.log.Warn("append activity failed, re-queueing", "activity_id", a.ID, "error", err)
		r.mu.Lock()
		r.queue = append(r.queue, entry{activity: &a})
		r.mu.Unlock()
	}
}

// AddSubscription persists a subscription row, deferring it like an
// activity when the store is away. The returned id is minted up front, so
// it stays valid once the queued write lands.
func (r *Recorder) AddSubscription(ctx context.Context, sub storage.Subscription) string {
	if sub.ID == "" {
		sub.ID = uuid.NewString()
	}
	if sub.CreatedAt.IsZero() {
		sub.CreatedAt = time.Now()
	}

	r.mu.Lock()
	store := r.store
	if store == nil {
		r.queue = append(r.queue, entry{subscription: &sub})
		r.mu.Unlock()
		r.log.Info("store unavailable, subscription queued", "subscription_id", sub.ID)
		return sub.ID
	}
	r.mu.Unlock()

	if err := store.CreateSubscription(ctx, sub); err != nil {
		r.log.Warn("create subscription failed, re-queueing", "subscription_id", sub.ID, "error", err)
		r.mu.Lock()
		r.queue = append(r.queue, entry{subscription: &sub})
		r.mu.Unlock()
	}
	return sub.ID
}

// Drain flushes the deferred queue in enqueue order. The queue is
// snapshotted and cleared first so records enqueued during the flush are
// not processed twice; individual failures go back to the end of the queue.
func (r *Recorder) Drain(ctx context.Context) {
	r.mu.Lock()
	store := r.store
	if store == nil || len(r.queue) == 0 {
		r.mu.Unlock()
		return
	}
	snapshot := r.queue
	r.queue = nil
	r.mu.Unlock()

	var failed []entry
	for _, e := range snapshot {
		var err error
		switch {
		case e.activity != nil:
			err = store.AppendActivity(ctx, *e.activity)
		case e.subscription != nil:
			err = store.CreateSubscription(ctx, *e.subscription)
		}
		if err != nil {
			r.log.Warn("drain write failed", "error", err)
			failed = append(failed, e)
		}
	}

	if len(failed) > 0 {
		r.mu.Lock()
		r.queue = append(r.queue, failed...)
		r.mu.Unlock()
	}

	r.log.Info("fallback queue drained",
		"written", len(snapshot)-len(failed),
		"failed", len(failed),
	)

	r.mu.Lock()
	notifier := r.notifier
	r.mu.Unlock()
	if notifier != nil {
		notifier.NotifyDataRefresh(ctx)
	}
}

// QueueLen reports how many writes are deferred.
func (r *Recorder) QueueLen() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.queue)
}
