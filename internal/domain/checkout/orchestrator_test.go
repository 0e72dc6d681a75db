package checkout

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	tracenoop "go.opentelemetry.io/otel/trace/noop"

	"github.com/xenking/learnhub/internal/domain/auth"
	"github.com/xenking/learnhub/internal/domain/coupon"
	"github.com/xenking/learnhub/internal/domain/course"
	"github.com/xenking/learnhub/internal/domain/enrollment"
	"github.com/xenking/learnhub/internal/domain/pricing"
)

// --- Mock implementations ---

type mockCourses map[string]*course.Course

func (m mockCourses) GetByID(_ context.Context, id string) (*course.Course, error) {
	c, ok := m[id]
	if !ok {
		return nil, course.ErrNotFound
	}
	return c, nil
}

type mockValidator map[string]*coupon.Coupon

func (m mockValidator) Validate(_ context.Context, code, _ string, _ auth.Actor) (*coupon.Coupon, error) {
	c, ok := m[coupon.NormalizeCode(code)]
	if !ok {
		return nil, coupon.ErrInvalidCoupon
	}
	return c, nil
}

type mockProcessor struct {
	mu       sync.Mutex
	requests []SessionRequest
	err      error
}

func (m *mockProcessor) CreateSession(_ context.Context, req SessionRequest) (*ProcessorSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	m.requests = append(m.requests, req)
	id := "cs_" + req.PaymentID
	return &ProcessorSession{ID: id, URL: "https://pay.example.com/" + id}, nil
}

type memSessions struct {
	mu       sync.Mutex
	sessions map[string]Session
	deleted  []string
}

func newMemSessions() *memSessions {
	return &memSessions{sessions: make(map[string]Session)}
}

func (m *memSessions) Put(_ context.Context, s Session, _ time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[s.ID] = s
	return nil
}

func (m *memSessions) Get(_ context.Context, id string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return &s, nil
}

func (m *memSessions) FindActive(_ context.Context, learnerID, courseID string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.sessions {
		if s.LearnerID == learnerID && s.CourseID == courseID {
			return &s, nil
		}
	}
	return nil, ErrSessionNotFound
}

func (m *memSessions) Delete(_ context.Context, s Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, s.ID)
	m.deleted = append(m.deleted, s.ID)
	return nil
}

type enrollKey struct{ learner, course string }

// memRepo mirrors the settlement transaction of the Postgres repository.
type memRepo struct {
	mu           sync.Mutex
	payments     map[string]*Payment
	transactions map[string]bool
	enrollments  map[enrollKey]string
	earnings     map[string]decimal.Decimal
	redemptions  map[string]int
}

func newMemRepo() *memRepo {
	return &memRepo{
		payments:     make(map[string]*Payment),
		transactions: make(map[string]bool),
		enrollments:  make(map[enrollKey]string),
		earnings:     make(map[string]decimal.Decimal),
		redemptions:  make(map[string]int),
	}
}

func (m *memRepo) CreatePayment(_ context.Context, p *Payment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *p
	m.payments[p.SessionID] = &cp
	return nil
}

func (m *memRepo) GetPaymentBySession(_ context.Context, sessionID string) (*Payment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.payments[sessionID]
	if !ok {
		return nil, ErrPaymentNotFound
	}
	cp := *p
	return &cp, nil
}

func (m *memRepo) byID(id string) *Payment {
	for _, p := range m.payments {
		if p.ID == id {
			return p
		}
	}
	return nil
}

func (m *memRepo) MarkFailed(_ context.Context, paymentID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p := m.byID(paymentID)
	if p == nil || p.Status != PaymentPending {
		return false, nil
	}
	p.Status = PaymentFailed
	return true, nil
}

func (m *memRepo) Settle(_ context.Context, s Settlement) (SettleResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.transactions[s.TransactionID] {
		return DuplicateTransaction, nil
	}
	m.transactions[s.TransactionID] = true
	p := m.byID(s.PaymentID)
	if p.Status == PaymentPaid || p.Status == PaymentDuplicate {
		return DuplicateTransaction, nil
	}
	key := enrollKey{s.LearnerID, s.CourseID}
	if _, ok := m.enrollments[key]; ok {
		p.Status = PaymentDuplicate
		p.TransactionID = s.TransactionID
		return DuplicateEnrollment, nil
	}
	m.enrollments[key] = s.EnrollmentID
	m.earnings[s.InstructorID] = m.earnings[s.InstructorID].Add(s.InstructorShare)
	if s.CouponCode != "" {
		m.redemptions[s.CouponCode]++
	}
	p.Status = PaymentPaid
	p.TransactionID = s.TransactionID
	return Settled, nil
}

func (m *memRepo) ExpirePending(_ context.Context, before time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for _, p := range m.payments {
		if p.Status == PaymentPending && p.CreatedAt.Before(before) {
			p.Status = PaymentExpired
			n++
		}
	}
	return n, nil
}

type mockEnrollments struct{ repo *memRepo }

func (m mockEnrollments) IsEnrolled(_ context.Context, learnerID, courseID string) (bool, error) {
	m.repo.mu.Lock()
	defer m.repo.mu.Unlock()
	_, ok := m.repo.enrollments[enrollKey{learnerID, courseID}]
	return ok, nil
}

// --- Helpers ---

type fixture struct {
	o         *Orchestrator
	repo      *memRepo
	sessions  *memSessions
	processor *mockProcessor
	now       time.Time
}

var learner = auth.Actor{UserID: "learner", Role: auth.RoleStudent}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	repo := newMemRepo()
	sessions := newMemSessions()
	processor := &mockProcessor{}
	courses := mockCourses{
		"c100":  {ID: "c100", InstructorID: "inst-1", Title: "Go", Price: decimal.RequireFromString("100.00"), Status: course.StatusPublished},
		"c50":   {ID: "c50", InstructorID: "inst-1", Price: decimal.RequireFromString("50.00"), Status: course.StatusPublished},
		"draft": {ID: "draft", InstructorID: "inst-1", Price: decimal.RequireFromString("10.00"), Status: course.StatusDraft},
	}
	validator := mockValidator{
		"SAVE20": {Code: "SAVE20", DiscountType: coupon.DiscountPercentage, Value: decimal.NewFromInt(20)},
		"BIG75":  {Code: "BIG75", DiscountType: coupon.DiscountFixed, Value: decimal.NewFromInt(75)},
	}

	o, err := NewOrchestrator(Deps{
		Courses:     courses,
		Pricer:      pricing.NewEngine(nil, validator, "usd"),
		Enrollments: mockEnrollments{repo: repo},
		Processor:   processor,
		Sessions:    sessions,
		Repo:        repo,
	}, Config{SessionTTL: 30 * time.Minute}, tracenoop.NewTracerProvider(), metricnoop.NewMeterProvider())
	require.NoError(t, err)

	f := &fixture{o: o, repo: repo, sessions: sessions, processor: processor,
		now: time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)}
	o.now = func() time.Time { return f.now }
	return f
}

// --- Tests ---

func TestStart_WithCoupon(t *testing.T) {
	f := newFixture(t)

	h, err := f.o.Start(context.Background(), learner, "c100", "save20")
	require.NoError(t, err)
	assert.NotEmpty(t, h.URL)

	require.Len(t, f.processor.requests, 1)
	assert.True(t, decimal.RequireFromString("80.00").Equal(f.processor.requests[0].Amount))
	assert.Equal(t, "SAVE20", f.processor.requests[0].CouponCode)

	p, err := f.repo.GetPaymentBySession(context.Background(), h.SessionID)
	require.NoError(t, err)
	assert.Equal(t, PaymentPending, p.Status)
	assert.True(t, decimal.RequireFromString("100.00").Equal(p.OriginalAmount))
	assert.True(t, decimal.RequireFromString("20.00").Equal(p.DiscountAmount))

	s, err := f.sessions.Get(context.Background(), h.SessionID)
	require.NoError(t, err)
	assert.Equal(t, f.now.Add(30*time.Minute), s.ExpiresAt)
}

func TestStart_FreeAfterCoupon(t *testing.T) {
	f := newFixture(t)

	_, err := f.o.Start(context.Background(), learner, "c50", "BIG75")
	require.NoError(t, err)
	require.Len(t, f.processor.requests, 1)
	assert.True(t, f.processor.requests[0].Amount.IsZero())
}

func TestStart_Errors(t *testing.T) {
	tests := []struct {
		name     string
		actor    auth.Actor
		courseID string
		code     string
		enrolled bool
		procErr  error
		wantErr  error
	}{
		{name: "anonymous", actor: auth.Actor{}, courseID: "c100", wantErr: auth.ErrUnauthenticated},
		{name: "unknown course", actor: learner, courseID: "nope", wantErr: course.ErrNotFound},
		{name: "draft course", actor: learner, courseID: "draft", wantErr: course.ErrNotFound},
		{name: "invalid coupon", actor: learner, courseID: "c100", code: "BOGUS", wantErr: coupon.ErrInvalidCoupon},
		{name: "already enrolled beats coupon check", actor: learner, courseID: "c100", code: "BOGUS", enrolled: true, wantErr: enrollment.ErrAlreadyEnrolled},
		{name: "processor down", actor: learner, courseID: "c100", procErr: errors.New("connection refused"), wantErr: ErrProcessor},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			f.processor.err = tt.procErr
			if tt.enrolled {
				f.repo.enrollments[enrollKey{tt.actor.UserID, tt.courseID}] = "e0"
			}

			_, err := f.o.Start(context.Background(), tt.actor, tt.courseID, tt.code)
			require.ErrorIs(t, err, tt.wantErr)
			assert.Empty(t, f.repo.payments, "no payment may be recorded")
		})
	}
}

func TestStart_ProcessorErrorIsRetryable(t *testing.T) {
	f := newFixture(t)
	f.processor.err = errors.New("timeout")

	_, err := f.o.Start(context.Background(), learner, "c100", "")
	var pe *ProcessorError
	require.ErrorAs(t, err, &pe)
	assert.True(t, pe.Retryable)
}

func TestStart_ReusesLiveSession(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	h1, err := f.o.Start(ctx, learner, "c100", "")
	require.NoError(t, err)
	h2, err := f.o.Start(ctx, learner, "c100", "")
	require.NoError(t, err)
	assert.Equal(t, h1.SessionID, h2.SessionID)
	assert.Len(t, f.processor.requests, 1)

	// A different price opens a new session.
	h3, err := f.o.Start(ctx, learner, "c100", "SAVE20")
	require.NoError(t, err)
	assert.NotEqual(t, h1.SessionID, h3.SessionID)
}

func TestHandleOutcome_Success(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	h, err := f.o.Start(ctx, learner, "c100", "SAVE20")
	require.NoError(t, err)

	err = f.o.HandleOutcome(ctx, Outcome{SessionID: h.SessionID, TransactionID: "tx-1", Status: OutcomeSucceeded})
	require.NoError(t, err)

	p, _ := f.repo.GetPaymentBySession(ctx, h.SessionID)
	assert.Equal(t, PaymentPaid, p.Status)
	assert.Contains(t, f.repo.enrollments, enrollKey{"learner", "c100"})
	assert.True(t, decimal.RequireFromString("72.00").Equal(f.repo.earnings["inst-1"]), "got %s", f.repo.earnings["inst-1"])
	assert.Equal(t, 1, f.repo.redemptions["SAVE20"])
	assert.Contains(t, f.sessions.deleted, h.SessionID)
}

func TestHandleOutcome_DuplicateNotificationIsNoop(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	h, err := f.o.Start(ctx, learner, "c100", "")
	require.NoError(t, err)

	for range 3 {
		err := f.o.HandleOutcome(ctx, Outcome{SessionID: h.SessionID, TransactionID: "tx-1", Status: OutcomeSucceeded})
		require.NoError(t, err)
	}
	assert.Len(t, f.repo.enrollments, 1)
	assert.True(t, decimal.RequireFromString("90.00").Equal(f.repo.earnings["inst-1"]))
}

func TestHandleOutcome_ConcurrentPurchasesEnrollOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// Two sessions opened before either settled.
	h1, err := f.o.Start(ctx, learner, "c100", "")
	require.NoError(t, err)
	f.sessions.sessions = map[string]Session{}
	h2, err := f.o.Start(ctx, learner, "c100", "")
	require.NoError(t, err)
	require.NotEqual(t, h1.SessionID, h2.SessionID)

	var wg sync.WaitGroup
	for i, h := range []*RedirectHandle{h1, h2} {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := f.o.HandleOutcome(ctx, Outcome{
				SessionID:     h.SessionID,
				TransactionID: "tx-" + string(rune('a'+i)),
				Status:        OutcomeSucceeded,
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Len(t, f.repo.enrollments, 1)
	assert.True(t, decimal.RequireFromString("90.00").Equal(f.repo.earnings["inst-1"]))

	statuses := []PaymentStatus{}
	for _, p := range f.repo.payments {
		statuses = append(statuses, p.Status)
	}
	assert.ElementsMatch(t, []PaymentStatus{PaymentPaid, PaymentDuplicate}, statuses)
}

func TestHandleOutcome_Failure(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	h, err := f.o.Start(ctx, learner, "c100", "")
	require.NoError(t, err)

	require.NoError(t, f.o.HandleOutcome(ctx, Outcome{SessionID: h.SessionID, Status: OutcomeFailed}))

	p, _ := f.repo.GetPaymentBySession(ctx, h.SessionID)
	assert.Equal(t, PaymentFailed, p.Status)
	assert.Empty(t, f.repo.enrollments)
	assert.Empty(t, f.repo.earnings)
}

func TestHandleOutcome_Invalid(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	h, err := f.o.Start(ctx, learner, "c100", "")
	require.NoError(t, err)

	err = f.o.HandleOutcome(ctx, Outcome{SessionID: "", Status: OutcomeSucceeded})
	require.ErrorIs(t, err, ErrInvalidOutcome)

	err = f.o.HandleOutcome(ctx, Outcome{SessionID: h.SessionID, Status: OutcomeSucceeded})
	require.ErrorIs(t, err, ErrInvalidOutcome, "success needs a transaction id")

	err = f.o.HandleOutcome(ctx, Outcome{SessionID: h.SessionID, TransactionID: "t", Status: "refunded"})
	require.ErrorIs(t, err, ErrInvalidOutcome)

	err = f.o.HandleOutcome(ctx, Outcome{SessionID: "cs_unknown", TransactionID: "t", Status: OutcomeSucceeded})
	require.ErrorIs(t, err, ErrPaymentNotFound)
}

func TestStatusAndExpiry(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	h, err := f.o.Start(ctx, learner, "c100", "")
	require.NoError(t, err)

	p, err := f.o.Status(ctx, learner, h.SessionID)
	require.NoError(t, err)
	assert.Equal(t, PaymentPending, p.Status)

	_, err = f.o.Status(ctx, auth.Actor{UserID: "someone-else"}, h.SessionID)
	require.ErrorIs(t, err, ErrPaymentNotFound)

	f.now = f.now.Add(31 * time.Minute)
	p, err = f.o.Status(ctx, learner, h.SessionID)
	require.NoError(t, err)
	assert.Equal(t, PaymentExpired, p.Status)

	n, err := f.o.ExpireStale(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	// A late success still settles: the learner was charged.
	require.NoError(t, f.o.HandleOutcome(ctx, Outcome{SessionID: h.SessionID, TransactionID: "tx-late", Status: OutcomeSucceeded}))
	assert.Len(t, f.repo.enrollments, 1)
}

func TestNewOrchestrator_RevenueShare(t *testing.T) {
	_, err := NewOrchestrator(Deps{}, Config{RevenueShare: decimal.NewNullDecimal(decimal.RequireFromString("1.5"))},
		tracenoop.NewTracerProvider(), metricnoop.NewMeterProvider())
	require.Error(t, err)

	for _, tt := range []struct {
		share string
		want  string
	}{
		{share: "0", want: "0"},
		{share: "0.5", want: "50.00"},
		{share: "1", want: "100.00"},
	} {
		o, err := NewOrchestrator(Deps{}, Config{RevenueShare: decimal.NewNullDecimal(decimal.RequireFromString(tt.share))},
			tracenoop.NewTracerProvider(), metricnoop.NewMeterProvider())
		require.NoError(t, err)
		got := o.InstructorShare(decimal.NewFromInt(100))
		assert.True(t, decimal.RequireFromString(tt.want).Equal(got), "share %s: got %s", tt.share, got)
	}

	o, err := NewOrchestrator(Deps{}, Config{}, tracenoop.NewTracerProvider(), metricnoop.NewMeterProvider())
	require.NoError(t, err)
	assert.True(t, decimal.RequireFromString("9.00").Equal(o.InstructorShare(decimal.NewFromInt(10))))
	assert.True(t, decimal.RequireFromString("0.04").Equal(o.InstructorShare(decimal.RequireFromString("0.05"))))
}
