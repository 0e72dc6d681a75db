package instructor

import (
	"context"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/xenking/learnhub/internal/domain/auth"
)

// Gate decides which users may act as instructors.
type Gate struct {
	repo     Repository
	notifier Notifier
	now      func() time.Time
}

// NewGate creates a Gate. notifier may be nil.
func NewGate(repo Repository, notifier Notifier) *Gate {
	return &Gate{repo: repo, notifier: notifier, now: time.Now}
}

// Apply files a pending instructor application for the actor.
func (g *Gate) Apply(ctx context.Context, actor auth.Actor, bio string) (*Profile, error) {
	if !actor.Authenticated() {
		return nil, auth.ErrUnauthenticated
	}

	p := &Profile{
		ID:        uuid.New().String(),
		UserID:    actor.UserID,
		Email:     actor.Email,
		Bio:       strings.TrimSpace(bio),
		Status:    StatusPending,
		Earnings:  decimal.Zero,
		CreatedAt: g.now(),
	}
	if err := g.repo.Create(ctx, p); err != nil {
		if errors.Is(err, ErrAlreadyApplied) {
			return nil, ErrAlreadyApplied
		}
		return nil, errors.Wrap(err, "create profile")
	}
	return p, nil
}

// Decide approves or rejects a pending application. Only admins may decide,
// and only pending profiles can change state.
func (g *Gate) Decide(ctx context.Context, actor auth.Actor, profileID string, outcome Status) (*Profile, error) {
	if !actor.IsAdmin() {
		return nil, auth.ErrForbidden
	}
	if outcome != StatusApproved && outcome != StatusRejected {
		return nil, ErrInvalidOutcome
	}

	p, err := g.repo.Decide(ctx, Decision{
		ProfileID: profileID,
		Status:    outcome,
		DecidedBy: actor.UserID,
		DecidedAt: g.now(),
	})
	if err != nil {
		if errors.Is(err, ErrNotFound) || errors.Is(err, ErrInvalidTransition) {
			return nil, err
		}
		return nil, errors.Wrap(err, "decide profile")
	}

	if g.notifier != nil {
		if err := g.notifier.NotifyDecision(ctx, *p); err != nil {
			zctx.From(ctx).Warn("Decision notification failed",
				zap.String("profile_id", p.ID),
				zap.Error(err),
			)
		}
	}
	return p, nil
}

// Effective returns the instructor identity the actor operates under: the
// stored profile if one exists, otherwise a synthetic approved profile for
// admins. Synthetic profiles are never persisted. An admin's stored profile
// is reported as approved whatever its recorded status.
func (g *Gate) Effective(ctx context.Context, actor auth.Actor) (*Profile, error) {
	if !actor.Authenticated() {
		return nil, auth.ErrUnauthenticated
	}

	p, err := g.repo.GetByUserID(ctx, actor.UserID)
	switch {
	case err == nil:
		if actor.IsAdmin() && !p.Approved() {
			cp := *p
			cp.Status = StatusApproved
			return &cp, nil
		}
		return p, nil
	case !errors.Is(err, ErrNotFound):
		return nil, errors.Wrap(err, "get profile")
	case actor.IsAdmin():
		return Synthetic(actor.UserID), nil
	default:
		return nil, ErrNotFound
	}
}

// CanManageCourses reports whether the actor may create and publish courses.
// State is read on every call so an approval applies to existing sessions.
func (g *Gate) CanManageCourses(ctx context.Context, actor auth.Actor) (bool, error) {
	if !actor.Authenticated() {
		return false, nil
	}
	if actor.IsAdmin() {
		return true, nil
	}
	p, err := g.repo.GetByUserID(ctx, actor.UserID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return false, nil
		}
		return false, errors.Wrap(err, "get profile")
	}
	return p.Approved(), nil
}

// Application returns the actor's own profile, if any.
func (g *Gate) Application(ctx context.Context, actor auth.Actor) (*Profile, error) {
	if !actor.Authenticated() {
		return nil, auth.ErrUnauthenticated
	}
	return g.repo.GetByUserID(ctx, actor.UserID)
}

// List returns profiles filtered by status for admin review.
func (g *Gate) List(ctx context.Context, actor auth.Actor, status Status) ([]Profile, error) {
	if !actor.IsAdmin() {
		return nil, auth.ErrForbidden
	}
	return g.repo.List(ctx, status)
}

// Synthetic builds the derived instructor profile of an admin.
func Synthetic(userID string) *Profile {
	return &Profile{
		ID:        SyntheticIDPrefix + userID,
		UserID:    userID,
		Status:    StatusApproved,
		Earnings:  decimal.Zero,
		Synthetic: true,
	}
}

// IsSyntheticID reports whether id names a derived admin profile.
func IsSyntheticID(id string) bool {
	return strings.HasPrefix(id, SyntheticIDPrefix)
}
