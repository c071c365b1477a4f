package bridge

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rignes/walletgate/internal/protocol"
	"github.com/rignes/walletgate/internal/registry"
)

type fakeSurfacer struct {
	mu       sync.Mutex
	surfaced []*protocol.Request
	decide   func(*protocol.Request)
}

func (f *fakeSurfacer) SurfaceRequest(ctx context.Context, req *protocol.Request) {
	f.mu.Lock()
	f.surfaced = append(f.surfaced, req)
	f.mu.Unlock()
	if f.decide != nil {
		f.decide(req)
	}
}

func (f *fakeSurfacer) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.surfaced)
}

type fakeAutoSettler struct {
	mu    sync.Mutex
	calls int
	res   protocol.Result
}

func (f *fakeAutoSettler) HandleAutoPayment(ctx context.Context, req *protocol.Request) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	req.Resolve(f.res)
}

type fakeObserver struct {
	mu   sync.Mutex
	keys []string
}

func (f *fakeObserver) Observe(serviceKey string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.keys = append(f.keys, serviceKey)
	return true
}

type serverEnv struct {
	reg      *registry.Registry
	surfacer *fakeSurfacer
	autopay  *fakeAutoSettler
	logins   *fakeObserver
	handler  http.Handler
}

func newServerEnv(t *testing.T, resultTimeout time.Duration) *serverEnv {
	t.Helper()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))

	env := &serverEnv{
		reg:      registry.New(),
		surfacer: &fakeSurfacer{},
		autopay:  &fakeAutoSettler{res: protocol.Rejected{Reason: "Subscription cancelled"}},
		logins:   &fakeObserver{},
	}
	srv := NewServer(env.reg, env.autopay, env.surfacer, env.logins, resultTimeout, log)
	env.handler = srv.Handler()
	return env
}

func (env *serverEnv) post(body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/envelope", strings.NewReader(body))
	w := httptest.NewRecorder()
	env.handler.ServeHTTP(w, req)
	return w
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	return out
}

func TestHealth(t *testing.T) {
	env := newServerEnv(t, time.Second)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()
	env.handler.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
}

func TestEnvelopeRejectsGet(t *testing.T) {
	env := newServerEnv(t, time.Second)

	req := httptest.NewRequest(http.MethodGet, "/envelope", nil)
	w := httptest.NewRecorder()
	env.handler.ServeHTTP(w, req)

	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
}

func TestEnvelopeBadJSON(t *testing.T) {
	env := newServerEnv(t, time.Second)
	w := env.post(`{not json`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestEnvelopeInvalid(t *testing.T) {
	env := newServerEnv(t, time.Second)
	w := env.post(`{"type":"payment_request","service_key":"npub_svc","content":{"amount":1000}}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, 0, env.reg.Len())
}

func TestLoginSurfacedAndApproved(t *testing.T) {
	env := newServerEnv(t, 5*time.Second)
	env.surfacer.decide = func(req *protocol.Request) {
		// The approval path consumes the registry entry before settling.
		taken, ok := env.reg.Take(req.ID)
		if ok {
			taken.Resolve(protocol.Approved{SessionToken: "tok123"})
		}
	}

	w := env.post(`{"type":"auth_challenge","service_key":"npub_svc","content":{"challenge":"abc"}}`)

	require.Equal(t, http.StatusOK, w.Code)
	body := decodeBody(t, w)
	assert.Equal(t, "approved", body["status"])
	assert.Equal(t, "tok123", body["session_token"])

	assert.Equal(t, 1, env.surfacer.count())
	assert.Equal(t, []string{"npub_svc"}, env.logins.keys)
	assert.Equal(t, 0, env.reg.Len())
}

func TestPaymentSurfacedStaysPending(t *testing.T) {
	env := newServerEnv(t, 5*time.Second)
	env.surfacer.decide = func(req *protocol.Request) {
		taken, ok := env.reg.Take(req.ID)
		if ok {
			taken.Resolve(protocol.Pending{})
		}
	}

	w := env.post(`{"type":"payment_request","service_key":"npub_svc","content":{"request_id":"r1","amount":21000,"invoice":"lnbc21u..."}}`)

	require.Equal(t, http.StatusOK, w.Code)
	body := decodeBody(t, w)
	assert.Equal(t, "pending", body["status"])
	// Payments never trip the login observer.
	assert.Empty(t, env.logins.keys)
}

func TestTaggedPaymentRoutedToAutoSettler(t *testing.T) {
	env := newServerEnv(t, 5*time.Second)

	w := env.post(`{"type":"payment_request","service_key":"npub_svc","content":{"request_id":"r1","amount":21000,"invoice":"lnbc21u...","subscription_id":"sub1"}}`)

	require.Equal(t, http.StatusOK, w.Code)
	body := decodeBody(t, w)
	assert.Equal(t, "rejected", body["status"])
	assert.Equal(t, "Subscription cancelled", body["reason"])

	// Auto payments never become pending and are never surfaced.
	assert.Equal(t, 1, env.autopay.calls)
	assert.Equal(t, 0, env.surfacer.count())
	assert.Equal(t, 0, env.reg.Len())
}

func TestTicketResult(t *testing.T) {
	env := newServerEnv(t, 5*time.Second)
	env.surfacer.decide = func(req *protocol.Request) {
		taken, ok := env.reg.Take(req.ID)
		if ok {
			taken.Resolve(protocol.TicketIssued{Token: "cashu_tok", Count: 5})
		}
	}

	w := env.post(`{"type":"ticket_request","service_key":"npub_svc","content":{"mint_url":"https://mint.example","unit":"sat","amount":5}}`)

	require.Equal(t, http.StatusOK, w.Code)
	body := decodeBody(t, w)
	assert.Equal(t, "success", body["status"])
	assert.Equal(t, "cashu_tok", body["token"])
	assert.EqualValues(t, 5, body["count"])
}

func TestInsufficientFundsResult(t *testing.T) {
	env := newServerEnv(t, 5*time.Second)
	env.surfacer.decide = func(req *protocol.Request) {
		taken, ok := env.reg.Take(req.ID)
		if ok {
			taken.Resolve(protocol.InsufficientFunds{})
		}
	}

	w := env.post(`{"type":"ticket_request","service_key":"npub_svc","content":{"mint_url":"https://mint.example","unit":"sat","amount":500}}`)

	require.Equal(t, http.StatusOK, w.Code)
	body := decodeBody(t, w)
	assert.Equal(t, "insufficient_funds", body["status"])
}

func TestNoDecisionTimesOut(t *testing.T) {
	env := newServerEnv(t, 50*time.Millisecond)

	w := env.post(`{"type":"auth_challenge","service_key":"npub_svc"}`)

	assert.Equal(t, http.StatusGatewayTimeout, w.Code)
	// The request stays pending; a late decision still settles the sink,
	// it just has nowhere to deliver an HTTP response.
	assert.Equal(t, 1, env.reg.Len())
}
