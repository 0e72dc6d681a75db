package pricing

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/learnhub/internal/domain/auth"
	"github.com/xenking/learnhub/internal/domain/coupon"
	"github.com/xenking/learnhub/internal/domain/course"
)

type mockCourses struct {
	courses map[string]*course.Course
}

func (m *mockCourses) Get(_ context.Context, actor auth.Actor, id string) (*course.Course, error) {
	c, ok := m.courses[id]
	if !ok || (!c.Published() && !actor.IsAdmin()) {
		return nil, course.ErrNotFound
	}
	return c, nil
}

type mockValidator struct {
	coupons map[string]*coupon.Coupon
	calls   int
}

func (m *mockValidator) Validate(_ context.Context, code, courseID string, actor auth.Actor) (*coupon.Coupon, error) {
	m.calls++
	c, ok := m.coupons[coupon.NormalizeCode(code)]
	if !ok || !c.AppliesTo(courseID) || !actor.Authenticated() {
		return nil, coupon.ErrInvalidCoupon
	}
	return c, nil
}

func newEngine() (*Engine, *mockValidator) {
	courses := &mockCourses{courses: map[string]*course.Course{
		"c100":  {ID: "c100", Price: decimal.RequireFromString("100.00"), Status: course.StatusPublished},
		"c50":   {ID: "c50", Price: decimal.RequireFromString("50.00"), Status: course.StatusPublished},
		"draft": {ID: "draft", Price: decimal.RequireFromString("10.00"), Status: course.StatusDraft},
	}}
	v := &mockValidator{coupons: map[string]*coupon.Coupon{
		"SAVE20": {Code: "SAVE20", DiscountType: coupon.DiscountPercentage, Value: decimal.NewFromInt(20), Active: true},
		"BIG75":  {Code: "BIG75", DiscountType: coupon.DiscountFixed, Value: decimal.NewFromInt(75), Active: true},
		"ONLY50": {Code: "ONLY50", DiscountType: coupon.DiscountFixed, Value: decimal.NewFromInt(5), Active: true, CourseIDs: []string{"c50"}},
	}}
	return NewEngine(courses, v, "usd"), v
}

func TestEngine_Quote(t *testing.T) {
	learner := auth.Actor{UserID: "u1", Role: auth.RoleStudent}

	tests := []struct {
		name         string
		actor        auth.Actor
		courseID     string
		code         string
		wantOriginal string
		wantDiscount string
		wantFinal    string
		wantErr      error
	}{
		{name: "no coupon", actor: learner, courseID: "c100", wantOriginal: "100", wantDiscount: "0", wantFinal: "100"},
		{name: "anonymous without coupon", actor: auth.Actor{}, courseID: "c100", wantOriginal: "100", wantDiscount: "0", wantFinal: "100"},
		{name: "percentage coupon", actor: learner, courseID: "c100", code: "save20", wantOriginal: "100", wantDiscount: "20", wantFinal: "80"},
		{name: "fixed coupon larger than price", actor: learner, courseID: "c50", code: "BIG75", wantOriginal: "50", wantDiscount: "50", wantFinal: "0"},
		{name: "scoped coupon on wrong course", actor: learner, courseID: "c100", code: "ONLY50", wantErr: coupon.ErrInvalidCoupon},
		{name: "coupon requires sign-in", actor: auth.Actor{}, courseID: "c100", code: "SAVE20", wantErr: coupon.ErrInvalidCoupon},
		{name: "unknown course", actor: learner, courseID: "nope", wantErr: course.ErrNotFound},
		{name: "draft hidden from learners", actor: learner, courseID: "draft", wantErr: course.ErrNotFound},
		{name: "draft visible to admin", actor: auth.Actor{UserID: "a", Role: auth.RoleAdmin}, courseID: "draft", wantOriginal: "10", wantDiscount: "0", wantFinal: "10"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e, _ := newEngine()
			q, err := e.Quote(context.Background(), tt.actor, tt.courseID, tt.code)
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.True(t, decimal.RequireFromString(tt.wantOriginal).Equal(q.OriginalPrice))
			assert.True(t, decimal.RequireFromString(tt.wantDiscount).Equal(q.DiscountAmount))
			assert.True(t, decimal.RequireFromString(tt.wantFinal).Equal(q.FinalPrice))
			assert.True(t, q.OriginalPrice.Sub(q.DiscountAmount).Equal(q.FinalPrice))
			assert.Equal(t, "usd", q.Currency)
		})
	}
}

func TestEngine_Quote_Idempotent(t *testing.T) {
	e, v := newEngine()
	learner := auth.Actor{UserID: "u1"}

	q1, err := e.Quote(context.Background(), learner, "c100", "SAVE20")
	require.NoError(t, err)
	q2, err := e.Quote(context.Background(), learner, "c100", "SAVE20")
	require.NoError(t, err)

	assert.True(t, q1.FinalPrice.Equal(q2.FinalPrice))
	assert.Equal(t, 2, v.calls)
}

func TestEngine_Quote_BlankCodeSkipsValidation(t *testing.T) {
	e, v := newEngine()
	_, err := e.Quote(context.Background(), auth.Actor{}, "c100", "   ")
	require.NoError(t, err)
	assert.Equal(t, 0, v.calls)
}
