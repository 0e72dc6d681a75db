// Package handler exposes the enrollment and monetization API over HTTP.
package handler

import (
	"context"
	"encoding/json"
	"io"
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/xenking/learnhub/internal/domain/auth"
	"github.com/xenking/learnhub/internal/domain/certificate"
	"github.com/xenking/learnhub/internal/domain/checkout"
	"github.com/xenking/learnhub/internal/domain/coupon"
	"github.com/xenking/learnhub/internal/domain/course"
	"github.com/xenking/learnhub/internal/domain/dashboard"
	"github.com/xenking/learnhub/internal/domain/enrollment"
	"github.com/xenking/learnhub/internal/domain/instructor"
	"github.com/xenking/learnhub/internal/domain/pricing"
)

type (
	Pricing interface {
		Quote(ctx context.Context, actor auth.Actor, courseID, couponCode string) (*pricing.Quote, error)
	}
	Checkout interface {
		Start(ctx context.Context, actor auth.Actor, courseID, couponCode string) (*checkout.RedirectHandle, error)
		Status(ctx context.Context, actor auth.Actor, sessionID string) (*checkout.Payment, error)
		HandleOutcome(ctx context.Context, out checkout.Outcome) error
	}
	Enrollments interface {
		List(ctx context.Context, actor auth.Actor, status enrollment.Status) ([]enrollment.Enrollment, error)
		ReportProgress(ctx context.Context, actor auth.Actor, id string, progress decimal.Decimal) (*enrollment.Enrollment, error)
		CompleteUnit(ctx context.Context, actor auth.Actor, id, unitID, eventID string) (*enrollment.Enrollment, error)
	}
	Instructors interface {
		Apply(ctx context.Context, actor auth.Actor, bio string) (*instructor.Profile, error)
		Decide(ctx context.Context, actor auth.Actor, profileID string, outcome instructor.Status) (*instructor.Profile, error)
		List(ctx context.Context, actor auth.Actor, status instructor.Status) ([]instructor.Profile, error)
	}
	Courses interface {
		Create(ctx context.Context, actor auth.Actor, in course.CreateInput) (*course.Course, error)
		Get(ctx context.Context, actor auth.Actor, id string) (*course.Course, error)
		SetStatus(ctx context.Context, actor auth.Actor, id string, status course.Status) (*course.Course, error)
	}
	Coupons interface {
		Create(ctx context.Context, actor auth.Actor, in coupon.CreateInput) (*coupon.Coupon, error)
		Update(ctx context.Context, actor auth.Actor, code string, in coupon.UpdateInput) (*coupon.Coupon, error)
		Deactivate(ctx context.Context, actor auth.Actor, code string) (*coupon.Coupon, error)
		List(ctx context.Context, actor auth.Actor) ([]coupon.Coupon, error)
	}
	Certificates interface {
		List(ctx context.Context, actor auth.Actor) ([]certificate.Certificate, error)
	}
	Dashboard interface {
		View(ctx context.Context, actor auth.Actor) (*dashboard.View, error)
	}
)

// Services are the domain operations behind the API.
type Services struct {
	Pricing      Pricing
	Checkout     Checkout
	Enrollments  Enrollments
	Instructors  Instructors
	Courses      Courses
	Coupons      Coupons
	Certificates Certificates
	Dashboard    Dashboard
}

// Config holds non-dependency configuration for the Handler.
type Config struct {
	// WebhookSecret verifies X-Signature on processor notifications.
	WebhookSecret []byte
	// MaxBodyBytes limits request bodies. Defaults to 64 KiB.
	MaxBodyBytes int64
}

// Handler serves the JSON API.
type Handler struct {
	Services

	tokens        *TokenVerifier
	validate      *validator.Validate
	webhookSecret []byte
	maxBody       int64
}

// New constructs a Handler.
func New(cfg Config, tokens *TokenVerifier, s Services) *Handler {
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = 64 << 10
	}
	return &Handler{
		Services:      s,
		tokens:        tokens,
		validate:      validator.New(validator.WithRequiredStructEnabled()),
		webhookSecret: cfg.WebhookSecret,
		maxBody:       cfg.MaxBodyBytes,
	}
}

// Register mounts the API routes on mux.
func (h *Handler) Register(mux *http.ServeMux) {
	route := func(pattern string, fn http.HandlerFunc) {
		mux.Handle(pattern, h.authenticate(fn))
	}

	route("GET /api/quote", h.getQuote)
	route("POST /api/checkout", h.startCheckout)
	route("GET /api/checkout/{session_id}", h.getCheckout)
	mux.HandleFunc("POST /api/payments/webhook", h.paymentWebhook)

	route("GET /api/enrollments", h.listEnrollments)
	route("POST /api/enrollment/progress", h.reportProgress)
	route("POST /api/enrollments/{id}/units/{unit_id}/complete", h.completeUnit)

	route("POST /api/instructor/apply", h.applyInstructor)
	route("POST /api/instructor/{id}/decision", h.decideInstructor)
	route("GET /api/instructors", h.listInstructors)

	route("POST /api/courses", h.createCourse)
	route("GET /api/courses/{id}", h.getCourse)
	route("POST /api/courses/{id}/status", h.setCourseStatus)

	route("POST /api/coupons", h.createCoupon)
	route("GET /api/coupons", h.listCoupons)
	route("PUT /api/coupons/{code}", h.updateCoupon)
	route("POST /api/coupons/{code}/deactivate", h.deactivateCoupon)

	route("GET /api/certificates", h.listCertificates)
	route("GET /api/dashboard", h.getDashboard)
}

// decode reads a JSON body into dst and validates it.
func (h *Handler) decode(r *http.Request, dst any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, h.maxBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return badRequest("decode body: %v", err)
	}
	if err := h.validate.Struct(dst); err != nil {
		return badRequest("%v", err)
	}
	return nil
}
