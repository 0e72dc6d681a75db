package course

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// Status is the publication state of a course.
type Status string

const (
	StatusDraft     Status = "draft"
	StatusPublished Status = "published"
)

var (
	// ErrNotFound is returned when a course does not exist or is not visible
	// to the caller.
	ErrNotFound = errors.New("course not found")
	// ErrInvalidPrice is returned for negative prices or more than two
	// decimal places.
	ErrInvalidPrice = errors.New("price must be a non-negative amount with at most 2 decimal places")
	// ErrInvalidStatus is returned for unknown status values.
	ErrInvalidStatus = errors.New("status must be draft or published")
	// ErrTitleRequired is returned when creating a course without a title.
	ErrTitleRequired = errors.New("title is required")
)

// Course is a purchasable unit of content owned by one instructor.
type Course struct {
	ID           string
	InstructorID string
	Title        string
	Description  string
	Category     string
	Thumbnail    string
	Price        decimal.Decimal
	Status       Status
	CreatedAt    time.Time
}

// Published reports whether learners can see and buy the course.
func (c *Course) Published() bool {
	return c.Status == StatusPublished
}

// Unit is a lesson of a course. Required units must all be finished before
// the course can be completed.
type Unit struct {
	ID       string
	Title    string
	Required bool
}

// Repository persists courses.
type Repository interface {
	Create(ctx context.Context, c *Course) error
	GetByID(ctx context.Context, id string) (*Course, error)
	ListByInstructor(ctx context.Context, instructorID string) ([]Course, error)
	UpdateStatus(ctx context.Context, id string, status Status) error
}
