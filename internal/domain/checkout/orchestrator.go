package checkout

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/xenking/learnhub/internal/domain/auth"
	"github.com/xenking/learnhub/internal/domain/course"
	"github.com/xenking/learnhub/internal/domain/enrollment"
	"github.com/xenking/learnhub/internal/domain/pricing"
)

// DefaultRevenueShare is the instructor's share of a sale.
var DefaultRevenueShare = decimal.RequireFromString("0.90")

// Courses loads courses by id regardless of visibility.
type Courses interface {
	GetByID(ctx context.Context, id string) (*course.Course, error)
}

// Pricer re-derives the price of a course for a checkout.
type Pricer interface {
	Price(ctx context.Context, actor auth.Actor, c *course.Course, couponCode string) (*pricing.Quote, error)
}

// Enrollments answers whether a learner already owns a course.
type Enrollments interface {
	IsEnrolled(ctx context.Context, learnerID, courseID string) (bool, error)
}

// Config tunes the orchestrator.
type Config struct {
	// RevenueShare is the fraction of the paid amount credited to the
	// instructor. Unset means DefaultRevenueShare.
	RevenueShare decimal.NullDecimal
	// SessionTTL bounds how long a checkout waits for the processor.
	SessionTTL time.Duration
}

// RedirectHandle tells the client where to complete payment.
type RedirectHandle struct {
	URL       string
	SessionID string
}

// Orchestrator runs checkouts from quote to settled enrollment.
type Orchestrator struct {
	courses     Courses
	pricer      Pricer
	enrollments Enrollments
	processor   Processor
	sessions    SessionStore
	repo        Repository
	cfg         Config
	share       decimal.Decimal
	now         func() time.Time

	tracer    trace.Tracer
	started   metric.Int64Counter
	settled   metric.Int64Counter
	duplicate metric.Int64Counter
	failed    metric.Int64Counter
}

// Deps groups the collaborators of an Orchestrator.
type Deps struct {
	Courses     Courses
	Pricer      Pricer
	Enrollments Enrollments
	Processor   Processor
	Sessions    SessionStore
	Repo        Repository
}

// NewOrchestrator creates an Orchestrator with telemetry from the providers.
func NewOrchestrator(d Deps, cfg Config, tp trace.TracerProvider, mp metric.MeterProvider) (*Orchestrator, error) {
	share := DefaultRevenueShare
	if cfg.RevenueShare.Valid {
		share = cfg.RevenueShare.Decimal
	}
	if share.IsNegative() || share.GreaterThan(decimal.NewFromInt(1)) {
		return nil, errors.Errorf("revenue share %s out of range [0, 1]", share)
	}
	if cfg.SessionTTL <= 0 {
		cfg.SessionTTL = 30 * time.Minute
	}

	meter := mp.Meter("learnhub/checkout")
	o := &Orchestrator{
		courses:     d.Courses,
		pricer:      d.Pricer,
		enrollments: d.Enrollments,
		processor:   d.Processor,
		sessions:    d.Sessions,
		repo:        d.Repo,
		cfg:         cfg,
		share:       share,
		now:         time.Now,
		tracer:      tp.Tracer("learnhub/checkout"),
	}

	var err error
	if o.started, err = meter.Int64Counter("checkout.started",
		metric.WithDescription("Checkout sessions opened with the processor")); err != nil {
		return nil, errors.Wrap(err, "checkout.started counter")
	}
	if o.settled, err = meter.Int64Counter("checkout.settled",
		metric.WithDescription("Payments settled into enrollments")); err != nil {
		return nil, errors.Wrap(err, "checkout.settled counter")
	}
	if o.duplicate, err = meter.Int64Counter("checkout.duplicate",
		metric.WithDescription("Duplicate payment notifications ignored")); err != nil {
		return nil, errors.Wrap(err, "checkout.duplicate counter")
	}
	if o.failed, err = meter.Int64Counter("checkout.failed",
		metric.WithDescription("Payments reported failed by the processor")); err != nil {
		return nil, errors.Wrap(err, "checkout.failed counter")
	}
	return o, nil
}

// Start opens a checkout for the actor. The price is re-derived here; client
// supplied quotes are never trusted. A live session for the same learner,
// course and price is reused.
func (o *Orchestrator) Start(ctx context.Context, actor auth.Actor, courseID, couponCode string) (_ *RedirectHandle, rerr error) {
	ctx, span := o.tracer.Start(ctx, "checkout.Start",
		trace.WithAttributes(attribute.String("course.id", courseID)))
	defer func() {
		if rerr != nil {
			span.RecordError(rerr)
			span.SetStatus(codes.Error, rerr.Error())
		}
		span.End()
	}()

	if !actor.Authenticated() {
		return nil, auth.ErrUnauthenticated
	}

	c, err := o.courses.GetByID(ctx, courseID)
	if err != nil {
		if errors.Is(err, course.ErrNotFound) {
			return nil, course.ErrNotFound
		}
		return nil, errors.Wrap(err, "get course")
	}
	if !c.Published() {
		return nil, course.ErrNotFound
	}

	enrolled, err := o.enrollments.IsEnrolled(ctx, actor.UserID, courseID)
	if err != nil {
		return nil, err
	}
	if enrolled {
		return nil, enrollment.ErrAlreadyEnrolled
	}

	q, err := o.pricer.Price(ctx, actor, c, couponCode)
	if err != nil {
		return nil, err
	}
	span.SetAttributes(
		attribute.String("checkout.amount", q.FinalPrice.StringFixed(2)),
		attribute.String("checkout.coupon", q.CouponCode),
	)

	if h := o.reuse(ctx, actor.UserID, q); h != nil {
		return h, nil
	}

	paymentID := uuid.New().String()
	ps, err := o.processor.CreateSession(ctx, SessionRequest{
		PaymentID:   paymentID,
		LearnerID:   actor.UserID,
		CourseID:    c.ID,
		CourseTitle: c.Title,
		CouponCode:  q.CouponCode,
		Amount:      q.FinalPrice,
		Currency:    q.Currency,
	})
	if err != nil {
		if errors.Is(err, ErrProcessor) {
			return nil, err
		}
		return nil, &ProcessorError{Op: "create session", Retryable: true, Err: err}
	}

	now := o.now()
	p := &Payment{
		ID:             paymentID,
		SessionID:      ps.ID,
		LearnerID:      actor.UserID,
		CourseID:       c.ID,
		CouponCode:     q.CouponCode,
		OriginalAmount: q.OriginalPrice,
		DiscountAmount: q.DiscountAmount,
		Amount:         q.FinalPrice,
		Currency:       q.Currency,
		Status:         PaymentPending,
		CreatedAt:      now,
	}
	if err := o.repo.CreatePayment(ctx, p); err != nil {
		return nil, errors.Wrap(err, "create payment")
	}

	s := Session{
		ID:          ps.ID,
		PaymentID:   p.ID,
		LearnerID:   p.LearnerID,
		CourseID:    p.CourseID,
		CouponCode:  p.CouponCode,
		Amount:      p.Amount,
		Currency:    p.Currency,
		RedirectURL: ps.URL,
		ExpiresAt:   now.Add(o.cfg.SessionTTL),
	}
	if err := o.sessions.Put(ctx, s, o.cfg.SessionTTL); err != nil {
		// The payment row is the durable record; the session cache only
		// speeds up retries and status polling.
		zctx.From(ctx).Warn("Store checkout session", zap.String("session_id", s.ID), zap.Error(err))
	}

	o.started.Add(ctx, 1)
	zctx.From(ctx).Info("Checkout started",
		zap.String("session_id", s.ID),
		zap.String("course_id", c.ID),
		zap.String("amount", p.Amount.StringFixed(2)),
	)
	return &RedirectHandle{URL: ps.URL, SessionID: ps.ID}, nil
}

func (o *Orchestrator) reuse(ctx context.Context, learnerID string, q *pricing.Quote) *RedirectHandle {
	s, err := o.sessions.FindActive(ctx, learnerID, q.CourseID)
	if err != nil {
		if !errors.Is(err, ErrSessionNotFound) {
			zctx.From(ctx).Warn("Lookup checkout session", zap.Error(err))
		}
		return nil
	}
	if !s.Amount.Equal(q.FinalPrice) || s.CouponCode != q.CouponCode || !o.now().Before(s.ExpiresAt) {
		return nil
	}
	return &RedirectHandle{URL: s.RedirectURL, SessionID: s.ID}
}

// HandleOutcome applies a processor notification. Success settles the
// payment exactly once: repeated notifications and second purchases of an
// owned course are acknowledged without effect.
func (o *Orchestrator) HandleOutcome(ctx context.Context, out Outcome) (rerr error) {
	ctx, span := o.tracer.Start(ctx, "checkout.HandleOutcome",
		trace.WithAttributes(
			attribute.String("checkout.session_id", out.SessionID),
			attribute.String("checkout.outcome", string(out.Status)),
		))
	defer func() {
		if rerr != nil {
			span.RecordError(rerr)
			span.SetStatus(codes.Error, rerr.Error())
		}
		span.End()
	}()

	if out.SessionID == "" {
		return errors.Wrap(ErrInvalidOutcome, "missing session id")
	}

	p, err := o.repo.GetPaymentBySession(ctx, out.SessionID)
	if err != nil {
		return err
	}
	lg := zctx.From(ctx).With(
		zap.String("payment_id", p.ID),
		zap.String("session_id", p.SessionID),
	)

	switch out.Status {
	case OutcomeFailed:
		changed, err := o.repo.MarkFailed(ctx, p.ID)
		if err != nil {
			return errors.Wrap(err, "mark failed")
		}
		if changed {
			o.failed.Add(ctx, 1)
			lg.Info("Payment failed")
		}
		o.dropSession(ctx, p)
		return nil
	case OutcomeSucceeded:
	default:
		return errors.Wrapf(ErrInvalidOutcome, "status %q", out.Status)
	}

	if out.TransactionID == "" {
		return errors.Wrap(ErrInvalidOutcome, "missing transaction id")
	}

	c, err := o.courses.GetByID(ctx, p.CourseID)
	if err != nil {
		return errors.Wrap(err, "get course")
	}

	res, err := o.repo.Settle(ctx, Settlement{
		PaymentID:       p.ID,
		TransactionID:   out.TransactionID,
		EnrollmentID:    uuid.New().String(),
		LearnerID:       p.LearnerID,
		CourseID:        p.CourseID,
		InstructorID:    c.InstructorID,
		InstructorShare: o.InstructorShare(p.Amount),
		CouponCode:      p.CouponCode,
		At:              o.now(),
	})
	if err != nil {
		return errors.Wrap(err, "settle")
	}
	span.SetAttributes(attribute.String("checkout.settle_result", res.String()))

	switch res {
	case Settled:
		o.settled.Add(ctx, 1)
		lg.Info("Payment settled", zap.String("transaction_id", out.TransactionID))
	default:
		o.duplicate.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", res.String())))
		lg.Warn("Duplicate payment notification", zap.Stringer("result", res))
	}
	o.dropSession(ctx, p)
	return nil
}

// InstructorShare is the part of amount credited to the course instructor.
func (o *Orchestrator) InstructorShare(amount decimal.Decimal) decimal.Decimal {
	return amount.Mul(o.share).RoundBank(2)
}

// Status returns the payment behind a checkout session. Only the paying
// learner and admins may see it.
func (o *Orchestrator) Status(ctx context.Context, actor auth.Actor, sessionID string) (*Payment, error) {
	if !actor.Authenticated() {
		return nil, auth.ErrUnauthenticated
	}
	p, err := o.repo.GetPaymentBySession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if p.LearnerID != actor.UserID && !actor.IsAdmin() {
		return nil, ErrPaymentNotFound
	}
	if p.Status == PaymentPending && o.now().After(p.CreatedAt.Add(o.cfg.SessionTTL)) {
		p.Status = PaymentExpired
	}
	return p, nil
}

// ExpireStale expires pending payments older than the session TTL.
func (o *Orchestrator) ExpireStale(ctx context.Context) (int64, error) {
	n, err := o.repo.ExpirePending(ctx, o.now().Add(-o.cfg.SessionTTL))
	if err != nil {
		return 0, errors.Wrap(err, "expire pending")
	}
	return n, nil
}

func (o *Orchestrator) dropSession(ctx context.Context, p *Payment) {
	err := o.sessions.Delete(ctx, Session{ID: p.SessionID, LearnerID: p.LearnerID, CourseID: p.CourseID})
	if err != nil {
		zctx.From(ctx).Warn("Delete checkout session", zap.String("session_id", p.SessionID), zap.Error(err))
	}
}
