package payment

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/xenking/learnhub/internal/domain/checkout"
	"github.com/xenking/learnhub/pkg/httpmiddleware"
)

func newClient(t *testing.T, h http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return New(Config{
		BaseURL:    srv.URL,
		APIKey:     "sk_test",
		SuccessURL: "https://learnhub.example.com/checkout/success",
		CancelURL:  "https://learnhub.example.com/checkout/cancel",
		Timeout:    2 * time.Second,
		Retries:    2,
	}, noop.NewTracerProvider())
}

var request = checkout.SessionRequest{
	PaymentID:  "pay_1",
	LearnerID:  "learner",
	CourseID:   "course",
	CouponCode: "SAVE20",
	Amount:     decimal.RequireFromString("80.00"),
	Currency:   "USD",
}

func TestClient_CreateSession(t *testing.T) {
	c := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/v1/checkout/sessions", r.URL.Path)
		assert.Equal(t, "Bearer sk_test", r.Header.Get("Authorization"))
		assert.Equal(t, "pay_1", r.Header.Get("Idempotency-Key"))

		var body createSessionRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, int64(8000), body.Amount)
		assert.Equal(t, "USD", body.Currency)
		assert.Equal(t, "course", body.Metadata["course_id"])
		assert.Equal(t, "SAVE20", body.Metadata["coupon_code"])

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"cs_123","url":"https://pay.example.com/cs_123"}`))
	})

	s, err := c.CreateSession(context.Background(), request)
	require.NoError(t, err)
	assert.Equal(t, "cs_123", s.ID)
	assert.Equal(t, "https://pay.example.com/cs_123", s.URL)
}

func TestClient_ForwardsRequestID(t *testing.T) {
	var forwarded atomic.Value
	c := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		forwarded.Store(r.Header.Get(httpmiddleware.RequestIDHeader))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"cs_1","url":"https://pay.example.com/cs_1"}`))
	})

	api := httpmiddleware.RequestID()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, err := c.CreateSession(r.Context(), request)
		assert.NoError(t, err)
	}))
	r := httptest.NewRequest(http.MethodPost, "/api/checkout", nil)
	r.Header.Set(httpmiddleware.RequestIDHeader, "req-42")
	api.ServeHTTP(httptest.NewRecorder(), r)

	assert.Equal(t, "req-42", forwarded.Load())
}

func TestClient_RetriesTransientFailures(t *testing.T) {
	var calls atomic.Int32
	c := newClient(t, func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"cs_ok","url":"https://pay.example.com/cs_ok"}`))
	})

	s, err := c.CreateSession(context.Background(), request)
	require.NoError(t, err)
	assert.Equal(t, "cs_ok", s.ID)
	assert.Equal(t, int32(3), calls.Load())
}

func TestClient_Errors(t *testing.T) {
	for _, tt := range []struct {
		name      string
		status    int
		body      string
		retryable bool
	}{
		{name: "Rejected", status: http.StatusBadRequest, body: `{"error":{"type":"invalid_request","message":"bad currency"}}`},
		{name: "Unavailable", status: http.StatusBadGateway, body: `{"error":{"message":"upstream down"}}`, retryable: true},
		{name: "Incomplete", status: http.StatusOK, body: `{"id":"cs_1"}`},
	} {
		t.Run(tt.name, func(t *testing.T) {
			c := newClient(t, func(w http.ResponseWriter, _ *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			})

			_, err := c.CreateSession(context.Background(), request)
			require.ErrorIs(t, err, checkout.ErrProcessor)

			var pe *checkout.ProcessorError
			require.True(t, errors.As(err, &pe))
			assert.Equal(t, tt.retryable, pe.Retryable)
		})
	}
}

func TestMinorUnits(t *testing.T) {
	for _, tt := range []struct {
		amount   string
		currency string
		want     int64
	}{
		{"0.00", "USD", 0},
		{"80.00", "USD", 8000},
		{"49.99", "usd", 4999},
		{"0.01", "EUR", 1},
		{"1500", "JPY", 1500},
		{"1500.00", "krw", 1500},
		{"12.50", "KWD", 12500},
		{"80.00", "", 8000},
	} {
		got := MinorUnits(checkout.SessionRequest{Amount: decimal.RequireFromString(tt.amount), Currency: tt.currency})
		assert.Equal(t, tt.want, got, "%s %s", tt.amount, tt.currency)
	}
}
