// Package certificate issues course completion certificates.
package certificate

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/xenking/learnhub/internal/domain/auth"
	"github.com/xenking/learnhub/internal/domain/enrollment"
)

// Certificate attests that a learner completed a course.
type Certificate struct {
	ID        string
	LearnerID string
	CourseID  string
	IssuedAt  time.Time
}

// Pending identifies a completed enrollment that has no certificate yet.
type Pending struct {
	LearnerID string
	CourseID  string
}

// Repository persists certificates.
type Repository interface {
	// Issue stores c unless the learner already holds a certificate for the
	// course, in which case the existing one is returned.
	Issue(ctx context.Context, c *Certificate) (*Certificate, error)
	ListByLearner(ctx context.Context, learnerID string) ([]Certificate, error)
	// Missing returns up to limit completed enrollments without a certificate.
	Missing(ctx context.Context, limit int) ([]Pending, error)
}

var _ enrollment.CompletionSink = (*Service)(nil)

// Service issues certificates and serves them to learners.
type Service struct {
	repo Repository
	now  func() time.Time
}

// NewService creates a certificate Service.
func NewService(repo Repository) *Service {
	return &Service{repo: repo, now: time.Now}
}

// Issue returns the learner's certificate for the course, creating it on
// first call.
func (s *Service) Issue(ctx context.Context, learnerID, courseID string) (*Certificate, error) {
	c, err := s.repo.Issue(ctx, &Certificate{
		ID:        uuid.New().String(),
		LearnerID: learnerID,
		CourseID:  courseID,
		IssuedAt:  s.now(),
	})
	if err != nil {
		return nil, errors.Wrap(err, "issue certificate")
	}
	return c, nil
}

// CourseCompleted issues a certificate for a completed enrollment.
func (s *Service) CourseCompleted(ctx context.Context, c enrollment.Completion) error {
	cert, err := s.Issue(ctx, c.LearnerID, c.CourseID)
	if err != nil {
		return err
	}
	zctx.From(ctx).Info("Certificate issued",
		zap.String("certificate_id", cert.ID),
		zap.String("learner_id", c.LearnerID),
		zap.String("course_id", c.CourseID),
	)
	return nil
}

// List returns the actor's certificates.
func (s *Service) List(ctx context.Context, actor auth.Actor) ([]Certificate, error) {
	if !actor.Authenticated() {
		return nil, auth.ErrUnauthenticated
	}
	return s.repo.ListByLearner(ctx, actor.UserID)
}

// ListForLearner returns a learner's certificates.
func (s *Service) ListForLearner(ctx context.Context, learnerID string) ([]Certificate, error) {
	return s.repo.ListByLearner(ctx, learnerID)
}

// Reconcile issues certificates for completed enrollments that missed one,
// processing at most batch entries. It returns how many were issued.
func (s *Service) Reconcile(ctx context.Context, batch int) (int, error) {
	missing, err := s.repo.Missing(ctx, batch)
	if err != nil {
		return 0, errors.Wrap(err, "list missing certificates")
	}
	var issued int
	for _, p := range missing {
		if _, err := s.Issue(ctx, p.LearnerID, p.CourseID); err != nil {
			return issued, err
		}
		issued++
	}
	return issued, nil
}
