package course

import (
	"context"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/xenking/learnhub/internal/domain/auth"
	"github.com/xenking/learnhub/internal/domain/instructor"
)

// Gate resolves instructor capabilities for an actor.
type Gate interface {
	CanManageCourses(ctx context.Context, actor auth.Actor) (bool, error)
	Effective(ctx context.Context, actor auth.Actor) (*instructor.Profile, error)
}

// CreateInput holds the fields of a new course.
type CreateInput struct {
	Title       string
	Description string
	Category    string
	Thumbnail   string
	Price       decimal.Decimal
}

// Service manages the course lifecycle.
type Service struct {
	repo Repository
	gate Gate
	now  func() time.Time
}

// NewService creates a course Service.
func NewService(repo Repository, gate Gate) *Service {
	return &Service{repo: repo, gate: gate, now: time.Now}
}

// Create stores a draft course owned by the actor's effective instructor
// profile.
func (s *Service) Create(ctx context.Context, actor auth.Actor, in CreateInput) (*Course, error) {
	if !actor.Authenticated() {
		return nil, auth.ErrUnauthenticated
	}
	ok, err := s.gate.CanManageCourses(ctx, actor)
	if err != nil {
		return nil, errors.Wrap(err, "check capability")
	}
	if !ok {
		return nil, auth.ErrForbidden
	}

	title := strings.TrimSpace(in.Title)
	if title == "" {
		return nil, ErrTitleRequired
	}
	if in.Price.IsNegative() || !in.Price.Equal(in.Price.Round(2)) {
		return nil, ErrInvalidPrice
	}

	owner, err := s.gate.Effective(ctx, actor)
	if err != nil {
		return nil, errors.Wrap(err, "resolve owner")
	}

	c := &Course{
		ID:           uuid.New().String(),
		InstructorID: owner.ID,
		Title:        title,
		Description:  in.Description,
		Category:     in.Category,
		Thumbnail:    in.Thumbnail,
		Price:        in.Price,
		Status:       StatusDraft,
		CreatedAt:    s.now(),
	}
	if err := s.repo.Create(ctx, c); err != nil {
		return nil, errors.Wrap(err, "create course")
	}
	return c, nil
}

// SetStatus moves a course between draft and published. Only the owner or an
// admin may do so, and publishing requires course-management capability.
func (s *Service) SetStatus(ctx context.Context, actor auth.Actor, id string, status Status) (*Course, error) {
	if status != StatusDraft && status != StatusPublished {
		return nil, ErrInvalidStatus
	}
	if !actor.Authenticated() {
		return nil, auth.ErrUnauthenticated
	}

	c, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !actor.IsAdmin() {
		owns, err := s.owns(ctx, actor, c)
		if err != nil {
			return nil, err
		}
		if !owns {
			return nil, auth.ErrForbidden
		}
	}
	if status == StatusPublished {
		ok, err := s.gate.CanManageCourses(ctx, actor)
		if err != nil {
			return nil, errors.Wrap(err, "check capability")
		}
		if !ok {
			return nil, auth.ErrForbidden
		}
	}
	if c.Status == status {
		return c, nil
	}

	if err := s.repo.UpdateStatus(ctx, id, status); err != nil {
		return nil, errors.Wrap(err, "update status")
	}
	c.Status = status
	return c, nil
}

// Get returns a course visible to the actor. Drafts are only visible to their
// owner and admins.
func (s *Service) Get(ctx context.Context, actor auth.Actor, id string) (*Course, error) {
	c, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if c.Published() || actor.IsAdmin() {
		return c, nil
	}
	owns, err := s.owns(ctx, actor, c)
	if err != nil {
		return nil, err
	}
	if !owns {
		return nil, ErrNotFound
	}
	return c, nil
}

func (s *Service) owns(ctx context.Context, actor auth.Actor, c *Course) (bool, error) {
	if !actor.Authenticated() {
		return false, nil
	}
	p, err := s.gate.Effective(ctx, actor)
	if err != nil {
		if errors.Is(err, instructor.ErrNotFound) {
			return false, nil
		}
		return false, errors.Wrap(err, "resolve instructor")
	}
	return p.ID == c.InstructorID, nil
}
