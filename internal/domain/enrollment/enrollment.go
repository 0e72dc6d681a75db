package enrollment

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// Status is the lifecycle state of an enrollment. The only transition is
// active to completed.
type Status string

const (
	StatusActive    Status = "active"
	StatusCompleted Status = "completed"
)

var (
	ErrNotFound = errors.New("enrollment not found")
	// ErrAlreadyEnrolled is returned when a learner tries to buy a course they
	// already hold an enrollment for.
	ErrAlreadyEnrolled = errors.New("already enrolled in course")
	// ErrInvalidProgress is returned for progress reports that regress or are
	// out of range.
	ErrInvalidProgress = errors.New("invalid progress")
	// ErrUnknownUnit is returned when a unit does not belong to the course.
	ErrUnknownUnit = errors.New("unit does not belong to course")
	// ErrContention is returned when a progress update keeps losing the
	// compare-and-swap race.
	ErrContention = errors.New("progress update contention")
)

// MaxProgress is the progress value of a finished enrollment.
var MaxProgress = decimal.NewFromInt(100)

// Enrollment is a learner's right of access to a course.
type Enrollment struct {
	ID          string
	LearnerID   string
	CourseID    string
	PaymentID   string
	Status      Status
	Progress    decimal.Decimal
	CreatedAt   time.Time
	CompletedAt *time.Time
}

// Completed reports whether the enrollment reached its terminal state.
func (e *Enrollment) Completed() bool {
	return e.Status == StatusCompleted
}

// ProgressUpdate is a conditional write of an enrollment's progress.
type ProgressUpdate struct {
	ID       string
	Expected decimal.Decimal
	Progress decimal.Decimal
	Complete bool
	At       time.Time
}

// Repository persists enrollments.
type Repository interface {
	GetByID(ctx context.Context, id string) (*Enrollment, error)
	// Find returns the enrollment of learnerID in courseID or ErrNotFound.
	Find(ctx context.Context, learnerID, courseID string) (*Enrollment, error)
	// ListByLearner returns enrollments filtered by status, or all when status
	// is empty.
	ListByLearner(ctx context.Context, learnerID string, status Status) ([]Enrollment, error)
	// CompareAndSetProgress applies u only when the stored progress equals
	// u.Expected and the enrollment is still active. It reports whether the
	// write happened.
	CompareAndSetProgress(ctx context.Context, u ProgressUpdate) (bool, error)
}

// Units tracks completion of the units that make up a course.
type Units interface {
	// RecordCompletion stores that the enrollment finished unitID. It reports
	// false when the event or the unit was already recorded, and returns
	// ErrUnknownUnit for units outside the course.
	RecordCompletion(ctx context.Context, enrollmentID, unitID, eventID string) (bool, error)
	// Tally counts completed and total required units for the enrollment.
	Tally(ctx context.Context, enrollmentID string) (done, total int, err error)
}

// Completion is emitted once when an enrollment becomes completed.
type Completion struct {
	EnrollmentID string
	LearnerID    string
	CourseID     string
	At           time.Time
}

// CompletionSink receives completion events.
type CompletionSink interface {
	CourseCompleted(ctx context.Context, c Completion) error
}
