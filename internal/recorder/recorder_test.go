package recorder

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rignes/walletgate/internal/storage"
)

type fakeStore struct {
	mu         sync.Mutex
	failWrites bool
	activities []storage.Activity
	subs       []storage.Subscription
}

type writeFailure struct{}

func (writeFailure) Error() string { return "write failed" }

func (f *fakeStore) AppendActivity(ctx context.Context, a storage.Activity) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failWrites {
		return writeFailure{}
	}
	f.activities = append(f.activities, a)
	return nil
}

func (f *fakeStore) CreateSubscription(ctx context.Context, sub storage.Subscription) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failWrites {
		return writeFailure{}
	}
	f.subs = append(f.subs, sub)
	return nil
}

func (f *fakeStore) setFail(v bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failWrites = v
}

func (f *fakeStore) activityDetails() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for _, a := range f.activities {
		out = append(out, a.Detail)
	}
	return out
}

type fakeNotifier struct {
	mu       sync.Mutex
	refreshn int
}

func (f *fakeNotifier) NotifyDataRefresh(ctx context.Context) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.refreshn++
}

func (f *fakeNotifier) refreshes() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.refreshn
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestQueueDrainsInOrder(t *testing.T) {
	notifier := &fakeNotifier{}
	rec := New(notifier, testLogger())
	ctx := context.Background()

	rec.AddActivity(ctx, storage.Activity{Detail: "R1"})
	rec.AddActivity(ctx, storage.Activity{Detail: "R2"})
	require.Equal(t, 2, rec.QueueLen())

	st := &fakeStore{}
	rec.SetStore(st)

	require.Eventually(t, func() bool {
		return rec.QueueLen() == 0 && len(st.activityDetails()) == 2
	}, time.Second, 10*time.Millisecond)

	assert.Equal(t, []string{"R1", "R2"}, st.activityDetails())
	assert.Equal(t, 1, notifier.refreshes())
}

func TestDirectWriteWhenStoreAvailable(t *testing.T) {
	rec := New(nil, testLogger())
	st := &fakeStore{}
	rec.SetStore(st)

	rec.AddActivity(context.Background(), storage.Activity{Detail: "direct"})
	assert.Equal(t, 0, rec.QueueLen())
	assert.Equal(t, []string{"direct"}, st.activityDetails())
}

func TestFailedWriteRequeues(t *testing.T) {
	rec := New(nil, testLogger())
	st := &fakeStore{failWrites: true}
	rec.SetStore(st)
	ctx := context.Background()

	rec.AddActivity(ctx, storage.Activity{Detail: "flaky"})
	require.Equal(t, 1, rec.QueueLen())

	st.setFail(false)
	rec.Drain(ctx)

	assert.Equal(t, 0, rec.QueueLen())
	assert.Equal(t, []string{"flaky"}, st.activityDetails())
}

func TestDrainKeepsFailuresQueued(t *testing.T) {
	rec := New(nil, testLogger())
	ctx := context.Background()

	rec.AddActivity(ctx, storage.Activity{Detail: "stuck"})

	st := &fakeStore{failWrites: true}
	rec.SetStore(st)

	require.Eventually(t, func() bool {
		return rec.QueueLen() == 1
	}, time.Second, 10*time.Millisecond)

	st.setFail(false)
	rec.Drain(ctx)
	assert.Equal(t, 0, rec.QueueLen())
}

func TestAddSubscriptionReturnsDurableID(t *testing.T) {
	rec := New(nil, testLogger())
	ctx := context.Background()

	// Deferred while the store is away; the id must survive the flush.
	id := rec.AddSubscription(ctx, storage.Subscription{ServiceKey: "npub_svc"})
	require.NotEmpty(t, id)
	require.Equal(t, 1, rec.QueueLen())

	st := &fakeStore{}
	rec.SetStore(st)

	require.Eventually(t, func() bool {
		st.mu.Lock()
		defer st.mu.Unlock()
		return len(st.subs) == 1
	}, time.Second, 10*time.Millisecond)

	st.mu.Lock()
	defer st.mu.Unlock()
	assert.Equal(t, id, st.subs[0].ID)
}
