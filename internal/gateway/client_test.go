package gateway

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/sony/gobreaker/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRetrievePayment(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/payments/pi_123", r.URL.Path)
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"pi_123","status":"Succeeded","amount":"99.50","currency":"usd"}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "secret", time.Second)
	p, err := c.RetrievePayment(context.Background(), "pi_123")
	require.NoError(t, err)

	assert.Equal(t, "pi_123", p.ID)
	assert.Equal(t, StatusSucceeded, p.Status)
	assert.Equal(t, int64(9950), p.AmountCents)
	assert.Equal(t, "USD", p.Currency)
}

func TestRetrievePaymentNumericAmount(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"id":"pi_1","status":"succeeded","amount":99,"currency":"USD"}`))
	}))
	defer srv.Close()

	p, err := NewClient(srv.URL, "", time.Second).RetrievePayment(context.Background(), "pi_1")
	require.NoError(t, err)
	assert.Equal(t, int64(9900), p.AmountCents)
}

func TestRetrievePaymentNotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL, "", time.Second).RetrievePayment(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrPaymentNotFound)
}

func TestRetrievePaymentRejectsSubCentAmount(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"id":"pi_1","status":"succeeded","amount":"99.001","currency":"USD"}`))
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL, "", time.Second).RetrievePayment(context.Background(), "pi_1")
	assert.Error(t, err)
}

func TestBreakerOpensAfterConsecutiveFailures(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "", time.Second)
	for i := 0; i < 5; i++ {
		_, err := c.RetrievePayment(context.Background(), "pi_1")
		require.Error(t, err)
	}

	_, err := c.RetrievePayment(context.Background(), "pi_1")
	assert.ErrorIs(t, err, gobreaker.ErrOpenState)
	assert.Equal(t, 5, calls)
}

func TestBreakerIgnoresCancelledCallers(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		_, _ = w.Write([]byte(`{"id":"pi_1","status":"succeeded","amount":"10.00","currency":"USD"}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "", time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	for i := 0; i < 10; i++ {
		_, err := c.RetrievePayment(ctx, "pi_1")
		require.Error(t, err)
		assert.ErrorIs(t, err, context.Canceled)
	}

	p, err := c.RetrievePayment(context.Background(), "pi_1")
	require.NoError(t, err)
	assert.Equal(t, int64(1000), p.AmountCents)
	assert.Equal(t, 1, calls)
}
