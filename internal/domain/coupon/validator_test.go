package coupon

import (
	"context"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/learnhub/internal/domain/auth"
)

type mockCouponRepo struct {
	byCode  map[string]*Coupon
	findErr error
	lookups int
}

func newMockCouponRepo(coupons ...Coupon) *mockCouponRepo {
	m := &mockCouponRepo{byCode: make(map[string]*Coupon)}
	for i := range coupons {
		c := coupons[i]
		m.byCode[c.Code] = &c
	}
	return m
}

func (m *mockCouponRepo) FindByCode(_ context.Context, code string) (*Coupon, error) {
	m.lookups++
	if m.findErr != nil {
		return nil, m.findErr
	}
	c, ok := m.byCode[code]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *c
	return &cp, nil
}

func (m *mockCouponRepo) Create(_ context.Context, c *Coupon) error {
	if _, ok := m.byCode[c.Code]; ok {
		return ErrCodeTaken
	}
	cp := *c
	m.byCode[c.Code] = &cp
	return nil
}

func (m *mockCouponRepo) Update(_ context.Context, c *Coupon) error {
	if m.byCode[c.Code].Locked {
		return ErrLocked
	}
	cp := *c
	m.byCode[c.Code] = &cp
	return nil
}

func (m *mockCouponRepo) SetActive(_ context.Context, code string, active bool) (*Coupon, error) {
	c, ok := m.byCode[code]
	if !ok {
		return nil, ErrNotFound
	}
	c.Active = active
	cp := *c
	return &cp, nil
}

func (m *mockCouponRepo) List(_ context.Context) ([]Coupon, error) {
	out := make([]Coupon, 0, len(m.byCode))
	for _, c := range m.byCode {
		out = append(out, *c)
	}
	return out, nil
}

func (m *mockCouponRepo) Codes(_ context.Context, fn func(string)) error {
	for code := range m.byCode {
		fn(code)
	}
	return nil
}

func TestRepoValidator_Validate(t *testing.T) {
	fixedNow := time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)
	pastTime := fixedNow.Add(-24 * time.Hour)
	futureTime := fixedNow.Add(24 * time.Hour)
	learner := auth.Actor{UserID: "u1", Role: auth.RoleStudent}

	base := Coupon{
		Code:         "SAVE20",
		DiscountType: DiscountPercentage,
		Value:        decimal.NewFromInt(20),
		Active:       true,
	}
	with := func(mut func(*Coupon)) Coupon {
		c := base
		mut(&c)
		return c
	}

	tests := []struct {
		name     string
		coupon   Coupon
		code     string
		courseID string
		actor    auth.Actor
		wantErr  error
	}{
		{
			name:     "valid code",
			coupon:   base,
			code:     "SAVE20",
			courseID: "c1",
			actor:    learner,
		},
		{
			name:     "code is case-insensitive",
			coupon:   base,
			code:     " save20 ",
			courseID: "c1",
			actor:    learner,
		},
		{
			name:     "unknown code",
			coupon:   base,
			code:     "BOGUS",
			courseID: "c1",
			actor:    learner,
			wantErr:  ErrInvalidCoupon,
		},
		{
			name:     "empty code",
			coupon:   base,
			code:     "  ",
			courseID: "c1",
			actor:    learner,
			wantErr:  ErrInvalidCoupon,
		},
		{
			name:     "inactive",
			coupon:   with(func(c *Coupon) { c.Active = false }),
			code:     "SAVE20",
			courseID: "c1",
			actor:    learner,
			wantErr:  ErrInvalidCoupon,
		},
		{
			name:     "expired",
			coupon:   with(func(c *Coupon) { c.ValidUntil = &pastTime }),
			code:     "SAVE20",
			courseID: "c1",
			actor:    learner,
			wantErr:  ErrInvalidCoupon,
		},
		{
			name:     "not yet valid",
			coupon:   with(func(c *Coupon) { c.ValidFrom = &futureTime }),
			code:     "SAVE20",
			courseID: "c1",
			actor:    learner,
			wantErr:  ErrInvalidCoupon,
		},
		{
			name: "inside window",
			coupon: with(func(c *Coupon) {
				c.ValidFrom = &pastTime
				c.ValidUntil = &futureTime
			}),
			code:     "SAVE20",
			courseID: "c1",
			actor:    learner,
		},
		{
			name: "usage limit reached",
			coupon: with(func(c *Coupon) {
				c.MaxUses = 5
				c.Uses = 5
			}),
			code:     "SAVE20",
			courseID: "c1",
			actor:    learner,
			wantErr:  ErrInvalidCoupon,
		},
		{
			name: "unlimited uses",
			coupon: with(func(c *Coupon) {
				c.MaxUses = 0
				c.Uses = 9999
			}),
			code:     "SAVE20",
			courseID: "c1",
			actor:    learner,
		},
		{
			name:     "scoped to other course",
			coupon:   with(func(c *Coupon) { c.CourseIDs = []string{"c2"} }),
			code:     "SAVE20",
			courseID: "c1",
			actor:    learner,
			wantErr:  ErrInvalidCoupon,
		},
		{
			name:     "scoped to this course",
			coupon:   with(func(c *Coupon) { c.CourseIDs = []string{"c2", "c1"} }),
			code:     "SAVE20",
			courseID: "c1",
			actor:    learner,
		},
		{
			name:     "anonymous actor",
			coupon:   base,
			code:     "SAVE20",
			courseID: "c1",
			actor:    auth.Actor{},
			wantErr:  ErrInvalidCoupon,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := NewRepoValidator(newMockCouponRepo(tt.coupon))
			v.now = func() time.Time { return fixedNow }

			got, err := v.Validate(context.Background(), tt.code, tt.courseID, tt.actor)
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				assert.Nil(t, got)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, "SAVE20", got.Code)
		})
	}
}

func TestRepoValidator_RepositoryError(t *testing.T) {
	repo := newMockCouponRepo()
	repo.findErr = errors.New("connection reset")

	_, err := NewRepoValidator(repo).Validate(context.Background(), "X", "c1", auth.Actor{UserID: "u"})
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrInvalidCoupon)
	assert.Contains(t, err.Error(), "lookup coupon")
}
