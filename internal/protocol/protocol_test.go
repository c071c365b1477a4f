package protocol

import (
	"encoding/json"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSinkFiresExactlyOnce(t *testing.T) {
	var delivered int32
	sink := NewSink(func(Result) {
		atomic.AddInt32(&delivered, 1)
	})

	var consumed int32
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if sink.Resolve(Pending{}) {
				atomic.AddInt32(&consumed, 1)
			}
		}()
	}
	wg.Wait()

	assert.EqualValues(t, 1, delivered)
	assert.EqualValues(t, 1, consumed)
}

func TestResolveWithoutSink(t *testing.T) {
	req := &Request{ID: "r1"}
	assert.False(t, req.Resolve(Pending{}))
}

func TestCurrencyUnit(t *testing.T) {
	assert.Equal(t, "USD", CurrencyUnit(json.RawMessage(`"USD"`)))
	assert.Equal(t, "sats", CurrencyUnit(json.RawMessage(`{"code":"USD","symbol":"$"}`)))
	assert.Equal(t, "sats", CurrencyUnit(json.RawMessage(`21`)))
	assert.Equal(t, "sats", CurrencyUnit(json.RawMessage(`null`)))
	assert.Equal(t, "sats", CurrencyUnit(nil))
}

func TestMsatToSat(t *testing.T) {
	assert.EqualValues(t, 21, MsatToSat(21000))
	assert.EqualValues(t, 0, MsatToSat(999))
	assert.EqualValues(t, 1, MsatToSat(1999))
}

func TestRequestKind(t *testing.T) {
	require.Equal(t, KindLogin, (&Request{Content: &LoginContent{}}).Kind())
	require.Equal(t, KindPayment, (&Request{Content: &PaymentContent{}}).Kind())
	require.Equal(t, KindSubscription, (&Request{Content: &SubscriptionContent{}}).Kind())
	require.Equal(t, KindTicket, (&Request{Content: &TicketContent{}}).Kind())
}
