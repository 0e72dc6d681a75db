package coupon

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/learnhub/internal/domain/auth"
)

// Validator checks whether a coupon code may be applied to a course purchase.
type Validator interface {
	Validate(ctx context.Context, code, courseID string, actor auth.Actor) (*Coupon, error)
}

// RepoValidator implements Validator over a Repository. It has no side
// effects: redemptions are only counted when a payment settles.
type RepoValidator struct {
	repo Repository
	now  func() time.Time
}

// NewRepoValidator creates a RepoValidator backed by the given Repository.
func NewRepoValidator(repo Repository) *RepoValidator {
	return &RepoValidator{repo: repo, now: time.Now}
}

// Validate runs the checks in a fixed order: existence, lifetime and usage
// limit, course scope, then authentication. Every rejection is reported as
// ErrInvalidCoupon; the specific reason is only logged.
func (v *RepoValidator) Validate(ctx context.Context, code, courseID string, actor auth.Actor) (*Coupon, error) {
	code = NormalizeCode(code)
	if code == "" {
		return nil, ErrInvalidCoupon
	}

	c, err := v.repo.FindByCode(ctx, code)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, v.reject(ctx, code, "unknown")
		}
		return nil, errors.Wrap(err, "lookup coupon")
	}

	switch {
	case !c.Active:
		return nil, v.reject(ctx, code, "inactive")
	case !c.InWindow(v.now()):
		return nil, v.reject(ctx, code, "outside validity window")
	case c.Exhausted():
		return nil, v.reject(ctx, code, "usage limit reached")
	case !c.AppliesTo(courseID):
		return nil, v.reject(ctx, code, "not applicable to course")
	case !actor.Authenticated():
		return nil, v.reject(ctx, code, "anonymous actor")
	}
	return c, nil
}

func (v *RepoValidator) reject(ctx context.Context, code, reason string) error {
	zctx.From(ctx).Debug("Coupon rejected",
		zap.String("code", code),
		zap.String("reason", reason),
	)
	return ErrInvalidCoupon
}
