package enrollment

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/xenking/learnhub/internal/domain/auth"
)

const maxCASAttempts = 8

// Machine drives enrollments through their lifecycle.
type Machine struct {
	repo  Repository
	units Units
	sink  CompletionSink
	now   func() time.Time
}

// NewMachine creates a Machine. sink may be nil.
func NewMachine(repo Repository, units Units, sink CompletionSink) *Machine {
	return &Machine{repo: repo, units: units, sink: sink, now: time.Now}
}

// ReportProgress records a new progress percentage for an enrollment.
// Negative values are rejected and values above 100 are clamped. A value
// below the stored progress is a regression and fails with
// ErrInvalidProgress, leaving the enrollment untouched.
func (m *Machine) ReportProgress(ctx context.Context, actor auth.Actor, id string, progress decimal.Decimal) (*Enrollment, error) {
	if progress.IsNegative() {
		return nil, errors.Wrap(ErrInvalidProgress, "progress must be between 0 and 100")
	}
	if progress.GreaterThan(MaxProgress) {
		progress = MaxProgress
	}
	progress = progress.Truncate(2)

	e, err := m.load(ctx, actor, id)
	if err != nil {
		return nil, err
	}
	return m.advance(ctx, e, progress, false)
}

// CompleteUnit folds a unit completion event into the enrollment's progress.
// Replayed events are harmless: progress never decreases.
func (m *Machine) CompleteUnit(ctx context.Context, actor auth.Actor, id, unitID, eventID string) (*Enrollment, error) {
	e, err := m.load(ctx, actor, id)
	if err != nil {
		return nil, err
	}
	if eventID == "" {
		eventID = e.ID + ":" + unitID
	}

	recorded, err := m.units.RecordCompletion(ctx, e.ID, unitID, eventID)
	if err != nil {
		if errors.Is(err, ErrUnknownUnit) {
			return nil, ErrUnknownUnit
		}
		return nil, errors.Wrap(err, "record unit")
	}
	if !recorded {
		zctx.From(ctx).Debug("Duplicate unit completion",
			zap.String("enrollment_id", e.ID),
			zap.String("event_id", eventID),
		)
	}

	done, total, err := m.units.Tally(ctx, e.ID)
	if err != nil {
		return nil, errors.Wrap(err, "tally units")
	}
	return m.advance(ctx, e, unitProgress(done, total), true)
}

// List returns the actor's enrollments, optionally filtered by status.
func (m *Machine) List(ctx context.Context, actor auth.Actor, status Status) ([]Enrollment, error) {
	if !actor.Authenticated() {
		return nil, auth.ErrUnauthenticated
	}
	return m.repo.ListByLearner(ctx, actor.UserID, status)
}

// ListActive returns the learner's active enrollments.
func (m *Machine) ListActive(ctx context.Context, learnerID string) ([]Enrollment, error) {
	return m.repo.ListByLearner(ctx, learnerID, StatusActive)
}

// ListCompleted returns the learner's completed enrollments.
func (m *Machine) ListCompleted(ctx context.Context, learnerID string) ([]Enrollment, error) {
	return m.repo.ListByLearner(ctx, learnerID, StatusCompleted)
}

// IsEnrolled reports whether the learner holds any enrollment in the course.
func (m *Machine) IsEnrolled(ctx context.Context, learnerID, courseID string) (bool, error) {
	_, err := m.repo.Find(ctx, learnerID, courseID)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, ErrNotFound):
		return false, nil
	default:
		return false, errors.Wrap(err, "find enrollment")
	}
}

func (m *Machine) load(ctx context.Context, actor auth.Actor, id string) (*Enrollment, error) {
	if !actor.Authenticated() {
		return nil, auth.ErrUnauthenticated
	}
	e, err := m.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if e.LearnerID != actor.UserID && !actor.IsAdmin() {
		return nil, auth.ErrForbidden
	}
	return e, nil
}

// advance moves e towards target with compare-and-swap, reloading and
// re-checking on conflict. When lenient, a target behind the stored progress
// is treated as the stored progress instead of a regression.
func (m *Machine) advance(ctx context.Context, e *Enrollment, target decimal.Decimal, lenient bool) (*Enrollment, error) {
	for range maxCASAttempts {
		if target.LessThan(e.Progress) {
			if !lenient {
				return nil, errors.Wrapf(ErrInvalidProgress,
					"progress %s is below current %s", target.StringFixed(2), e.Progress.StringFixed(2))
			}
			target = e.Progress
		}
		if e.Completed() {
			return e, nil
		}

		complete := false
		if target.Equal(MaxProgress) {
			ok, err := m.requirementsMet(ctx, e.ID)
			if err != nil {
				return nil, err
			}
			complete = ok
		}
		if target.Equal(e.Progress) && !complete {
			return e, nil
		}

		at := m.now()
		swapped, err := m.repo.CompareAndSetProgress(ctx, ProgressUpdate{
			ID:       e.ID,
			Expected: e.Progress,
			Progress: target,
			Complete: complete,
			At:       at,
		})
		if err != nil {
			return nil, errors.Wrap(err, "update progress")
		}
		if swapped {
			e.Progress = target
			if complete {
				e.Status = StatusCompleted
				e.CompletedAt = &at
				m.emit(ctx, e, at)
			}
			return e, nil
		}

		fresh, err := m.repo.GetByID(ctx, e.ID)
		if err != nil {
			return nil, errors.Wrap(err, "reload enrollment")
		}
		e = fresh
	}
	return nil, ErrContention
}

func (m *Machine) requirementsMet(ctx context.Context, id string) (bool, error) {
	done, total, err := m.units.Tally(ctx, id)
	if err != nil {
		return false, errors.Wrap(err, "tally units")
	}
	return done >= total, nil
}

func (m *Machine) emit(ctx context.Context, e *Enrollment, at time.Time) {
	if m.sink == nil {
		return
	}
	err := m.sink.CourseCompleted(ctx, Completion{
		EnrollmentID: e.ID,
		LearnerID:    e.LearnerID,
		CourseID:     e.CourseID,
		At:           at,
	})
	if err != nil {
		// Reconciliation picks up completions whose certificate is missing.
		zctx.From(ctx).Warn("Completion sink failed",
			zap.String("enrollment_id", e.ID),
			zap.Error(err),
		)
	}
}

func unitProgress(done, total int) decimal.Decimal {
	if total <= 0 || done >= total {
		return MaxProgress
	}
	return decimal.NewFromInt(int64(done)).
		Mul(MaxProgress).
		Div(decimal.NewFromInt(int64(total))).
		Truncate(2)
}
