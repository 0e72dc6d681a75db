// Package pricing computes what a learner pays for a course.
package pricing

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/xenking/learnhub/internal/domain/auth"
	"github.com/xenking/learnhub/internal/domain/coupon"
	"github.com/xenking/learnhub/internal/domain/course"
)

// Quote is the priced result for a course and optional coupon. It is derived
// on demand and never stored.
type Quote struct {
	CourseID       string
	OriginalPrice  decimal.Decimal
	DiscountAmount decimal.Decimal
	FinalPrice     decimal.Decimal
	Currency       string
	CouponCode     string
	// Coupon is the validated coupon, nil when no code was applied.
	Coupon *coupon.Coupon
}

// Courses returns a course visible to the actor.
type Courses interface {
	Get(ctx context.Context, actor auth.Actor, id string) (*course.Course, error)
}

// Engine prices course purchases.
type Engine struct {
	courses  Courses
	coupons  coupon.Validator
	currency string
}

// NewEngine creates a pricing Engine quoting in currency.
func NewEngine(courses Courses, coupons coupon.Validator, currency string) *Engine {
	return &Engine{courses: courses, coupons: coupons, currency: currency}
}

// Quote prices courseID for the actor, applying couponCode when non-empty.
// Draft courses are only quotable by their owner or an admin.
func (e *Engine) Quote(ctx context.Context, actor auth.Actor, courseID, couponCode string) (*Quote, error) {
	c, err := e.courses.Get(ctx, actor, courseID)
	if err != nil {
		if errors.Is(err, course.ErrNotFound) {
			return nil, course.ErrNotFound
		}
		return nil, errors.Wrap(err, "get course")
	}
	return e.Price(ctx, actor, c, couponCode)
}

// Price quotes an already loaded course.
func (e *Engine) Price(ctx context.Context, actor auth.Actor, c *course.Course, couponCode string) (*Quote, error) {
	q := &Quote{
		CourseID:       c.ID,
		OriginalPrice:  c.Price,
		DiscountAmount: decimal.Zero,
		FinalPrice:     c.Price,
		Currency:       e.currency,
	}
	if coupon.NormalizeCode(couponCode) == "" {
		return q, nil
	}

	cp, err := e.coupons.Validate(ctx, couponCode, c.ID, actor)
	if err != nil {
		return nil, err
	}
	q.Coupon = cp
	q.CouponCode = cp.Code
	q.DiscountAmount = cp.Discount(c.Price)
	q.FinalPrice = c.Price.Sub(q.DiscountAmount)
	return q, nil
}
