package coupon

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/xenking/learnhub/internal/domain/auth"
)

// CreateInput describes a new coupon.
type CreateInput struct {
	Code         string
	DiscountType DiscountType
	Value        decimal.Decimal
	CourseIDs    []string
	ValidFrom    *time.Time
	ValidUntil   *time.Time
	MaxUses      int
}

// UpdateInput carries the mutable terms of a coupon. Nil fields are left
// unchanged.
type UpdateInput struct {
	Value      *decimal.Decimal
	CourseIDs  []string
	ValidFrom  *time.Time
	ValidUntil *time.Time
	MaxUses    *int
}

// Service exposes coupon administration to admins.
type Service struct {
	repo Repository
	now  func() time.Time
}

// NewService creates a coupon administration Service.
func NewService(repo Repository) *Service {
	return &Service{repo: repo, now: time.Now}
}

// Create stores a new active coupon.
func (s *Service) Create(ctx context.Context, actor auth.Actor, in CreateInput) (*Coupon, error) {
	if !actor.IsAdmin() {
		return nil, auth.ErrForbidden
	}
	c := &Coupon{
		ID:           uuid.New().String(),
		Code:         NormalizeCode(in.Code),
		DiscountType: in.DiscountType,
		Value:        in.Value,
		CourseIDs:    in.CourseIDs,
		ValidFrom:    in.ValidFrom,
		ValidUntil:   in.ValidUntil,
		MaxUses:      in.MaxUses,
		Active:       true,
		CreatedBy:    actor.UserID,
		CreatedAt:    s.now(),
	}
	if c.Code == "" {
		return nil, errors.Wrap(ErrInvalidTerms, "empty code")
	}
	if err := c.ValidateTerms(); err != nil {
		return nil, err
	}
	if err := s.repo.Create(ctx, c); err != nil {
		if errors.Is(err, ErrCodeTaken) {
			return nil, ErrCodeTaken
		}
		return nil, errors.Wrap(err, "create coupon")
	}
	return c, nil
}

// Update changes the terms of a coupon that has never been redeemed.
func (s *Service) Update(ctx context.Context, actor auth.Actor, code string, in UpdateInput) (*Coupon, error) {
	if !actor.IsAdmin() {
		return nil, auth.ErrForbidden
	}
	c, err := s.repo.FindByCode(ctx, NormalizeCode(code))
	if err != nil {
		return nil, err
	}
	if c.Locked {
		return nil, ErrLocked
	}

	if in.Value != nil {
		c.Value = *in.Value
	}
	if in.CourseIDs != nil {
		c.CourseIDs = in.CourseIDs
	}
	if in.ValidFrom != nil {
		c.ValidFrom = in.ValidFrom
	}
	if in.ValidUntil != nil {
		c.ValidUntil = in.ValidUntil
	}
	if in.MaxUses != nil {
		c.MaxUses = *in.MaxUses
	}
	if err := c.ValidateTerms(); err != nil {
		return nil, err
	}
	if err := s.repo.Update(ctx, c); err != nil {
		if errors.Is(err, ErrLocked) {
			return nil, ErrLocked
		}
		return nil, errors.Wrap(err, "update coupon")
	}
	return c, nil
}

// Deactivate stops a coupon from being redeemed. Deactivation does not alter
// its terms, so it is allowed on locked coupons.
func (s *Service) Deactivate(ctx context.Context, actor auth.Actor, code string) (*Coupon, error) {
	if !actor.IsAdmin() {
		return nil, auth.ErrForbidden
	}
	return s.repo.SetActive(ctx, NormalizeCode(code), false)
}

// List returns all coupons.
func (s *Service) List(ctx context.Context, actor auth.Actor) ([]Coupon, error) {
	if !actor.IsAdmin() {
		return nil, auth.ErrForbidden
	}
	return s.repo.List(ctx)
}
