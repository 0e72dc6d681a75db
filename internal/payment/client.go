// Package payment is the REST client of the hosted payment processor.
package payment

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-resty/resty/v2"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel/trace"

	"github.com/xenking/learnhub/internal/domain/checkout"
	"github.com/xenking/learnhub/pkg/httpmiddleware"
)

// Config configures the processor client.
type Config struct {
	BaseURL    string
	APIKey     string
	SuccessURL string
	CancelURL  string
	Timeout    time.Duration
	// Retries is the number of extra attempts for transient failures.
	Retries int
}

var _ checkout.Processor = (*Client)(nil)

// Client creates hosted checkout sessions.
type Client struct {
	http *resty.Client
	cfg  Config
}

// New creates a Client. Requests are traced through tp.
func New(cfg Config, tp trace.TracerProvider) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	c := resty.New().
		SetTransport(otelhttp.NewTransport(http.DefaultTransport, otelhttp.WithTracerProvider(tp))).
		SetBaseURL(cfg.BaseURL).
		SetTimeout(cfg.Timeout).
		SetAuthToken(cfg.APIKey).
		SetHeader("Accept", "application/json").
		SetRetryCount(cfg.Retries).
		SetRetryWaitTime(200 * time.Millisecond).
		SetRetryMaxWaitTime(2 * time.Second).
		AddRetryCondition(func(r *resty.Response, err error) bool {
			return err != nil || retryableStatus(r.StatusCode())
		})
	return &Client{http: c, cfg: cfg}
}

type createSessionRequest struct {
	Amount     int64             `json:"amount"`
	Currency   string            `json:"currency"`
	SuccessURL string            `json:"success_url"`
	CancelURL  string            `json:"cancel_url"`
	Reference  string            `json:"client_reference_id"`
	Metadata   map[string]string `json:"metadata"`
}

type createSessionResponse struct {
	ID  string `json:"id"`
	URL string `json:"url"`
}

type errorResponse struct {
	Error struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

// CreateSession opens a hosted checkout for the amount in req. Amounts are
// sent in minor units. The payment id doubles as the idempotency key, so
// retried requests cannot open a second session.
func (c *Client) CreateSession(ctx context.Context, req checkout.SessionRequest) (*checkout.ProcessorSession, error) {
	var (
		out    createSessionResponse
		apiErr errorResponse
	)
	r := c.http.R().
		SetContext(ctx).
		SetHeader("Idempotency-Key", req.PaymentID)
	if id := httpmiddleware.RequestIDFromContext(ctx); id != "" {
		r.SetHeader(httpmiddleware.RequestIDHeader, id)
	}
	resp, err := r.
		SetBody(createSessionRequest{
			Amount:     MinorUnits(req),
			Currency:   req.Currency,
			SuccessURL: c.cfg.SuccessURL,
			CancelURL:  c.cfg.CancelURL,
			Reference:  req.PaymentID,
			Metadata: map[string]string{
				"course_id":   req.CourseID,
				"learner_id":  req.LearnerID,
				"coupon_code": req.CouponCode,
				"payment_id":  req.PaymentID,
			},
		}).
		SetResult(&out).
		SetError(&apiErr).
		Post("/v1/checkout/sessions")
	if err != nil {
		return nil, &checkout.ProcessorError{Op: "create session", Retryable: true, Err: err}
	}
	if resp.IsError() {
		msg := apiErr.Error.Message
		if msg == "" {
			msg = resp.Status()
		}
		return nil, &checkout.ProcessorError{
			Op:        "create session",
			Retryable: retryableStatus(resp.StatusCode()),
			Err:       errors.Errorf("status %d: %s", resp.StatusCode(), msg),
		}
	}
	if out.ID == "" || out.URL == "" {
		return nil, &checkout.ProcessorError{
			Op:  "create session",
			Err: fmt.Errorf("incomplete response: id=%q url=%q", out.ID, out.URL),
		}
	}
	return &checkout.ProcessorSession{ID: out.ID, URL: out.URL}, nil
}

// MinorUnits converts the request amount to the smallest unit of its
// currency: cents for USD, yen for JPY, fils for KWD.
func MinorUnits(req checkout.SessionRequest) int64 {
	return req.Amount.Shift(CurrencyDecimals(req.Currency)).Round(0).IntPart()
}

// CurrencyDecimals returns the ISO 4217 minor unit exponent of currency.
// Unlisted currencies use two decimals.
func CurrencyDecimals(currency string) int32 {
	switch strings.ToLower(currency) {
	case "bif", "clp", "djf", "gnf", "isk", "jpy", "kmf", "krw", "pyg",
		"rwf", "ugx", "vnd", "vuv", "xaf", "xof", "xpf":
		return 0
	case "bhd", "iqd", "jod", "kwd", "lyd", "omr", "tnd":
		return 3
	default:
		return 2
	}
}

func retryableStatus(code int) bool {
	return code == http.StatusTooManyRequests || code >= http.StatusInternalServerError
}
