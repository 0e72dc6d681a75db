package coupon

import (
	"context"
	"slices"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// DiscountType enumerates the supported coupon discount strategies.
type DiscountType string

const (
	// DiscountPercentage takes a percentage in (0, 100] off the course price.
	DiscountPercentage DiscountType = "percentage"
	// DiscountFixed takes a fixed amount off, capped at the course price.
	DiscountFixed DiscountType = "fixed"
)

var (
	// ErrInvalidCoupon is the only validation failure callers observe: unknown,
	// inactive, expired, exhausted, out of scope, or used anonymously.
	ErrInvalidCoupon = errors.New("invalid coupon code")
	// ErrNotFound is returned by repositories for unknown codes.
	ErrNotFound = errors.New("coupon not found")
	// ErrCodeTaken is returned when creating a coupon with an existing code.
	ErrCodeTaken = errors.New("coupon code already exists")
	// ErrLocked is returned when changing the terms of a redeemed coupon.
	ErrLocked = errors.New("coupon has been redeemed and its terms are immutable")
	// ErrInvalidTerms is returned for malformed coupon definitions.
	ErrInvalidTerms = errors.New("invalid coupon terms")
)

// Coupon is a discount rule redeemable at checkout.
type Coupon struct {
	ID           string
	Code         string
	DiscountType DiscountType
	Value        decimal.Decimal
	// CourseIDs scopes the coupon to specific courses. Empty means any course.
	CourseIDs  []string
	ValidFrom  *time.Time
	ValidUntil *time.Time
	// MaxUses of zero means unlimited.
	MaxUses   int
	Uses      int
	Active    bool
	Locked    bool
	CreatedBy string
	CreatedAt time.Time
}

// AppliesTo reports whether the coupon may be used for the course.
func (c *Coupon) AppliesTo(courseID string) bool {
	return len(c.CourseIDs) == 0 || slices.Contains(c.CourseIDs, courseID)
}

// InWindow reports whether now falls inside the validity window.
func (c *Coupon) InWindow(now time.Time) bool {
	if c.ValidFrom != nil && now.Before(*c.ValidFrom) {
		return false
	}
	if c.ValidUntil != nil && now.After(*c.ValidUntil) {
		return false
	}
	return true
}

// Exhausted reports whether the usage limit has been reached.
func (c *Coupon) Exhausted() bool {
	return c.MaxUses > 0 && c.Uses >= c.MaxUses
}

// NormalizeCode canonicalizes a user-supplied coupon code.
func NormalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// Repository provides lookup and mutation of coupons.
type Repository interface {
	// FindByCode returns ErrNotFound for unknown codes.
	FindByCode(ctx context.Context, code string) (*Coupon, error)
	// Create returns ErrCodeTaken when the code exists.
	Create(ctx context.Context, c *Coupon) error
	// Update rewrites the terms of an unlocked coupon; ErrLocked otherwise.
	Update(ctx context.Context, c *Coupon) error
	SetActive(ctx context.Context, code string, active bool) (*Coupon, error)
	List(ctx context.Context) ([]Coupon, error)
	// Codes streams every known code to fn.
	Codes(ctx context.Context, fn func(code string)) error
}
