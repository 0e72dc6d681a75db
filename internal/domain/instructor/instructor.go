package instructor

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// Status is the verification state of an instructor profile.
type Status string

const (
	StatusPending  Status = "pending"
	StatusApproved Status = "approved"
	StatusRejected Status = "rejected"
)

// SyntheticIDPrefix prefixes the derived profile id of an admin acting as an
// instructor without a stored profile.
const SyntheticIDPrefix = "admin-inst-"

var (
	// ErrNotFound is returned when no instructor profile matches.
	ErrNotFound = errors.New("instructor profile not found")
	// ErrAlreadyApplied is returned when the user already has a profile.
	ErrAlreadyApplied = errors.New("instructor application already exists")
	// ErrInvalidTransition is returned when deciding a profile that is no
	// longer pending.
	ErrInvalidTransition = errors.New("instructor profile is not pending")
	// ErrInvalidOutcome is returned for decisions other than approve or reject.
	ErrInvalidOutcome = errors.New("decision must be approved or rejected")
)

// Profile is an instructor application and, once approved, the owner of
// courses and recipient of earnings.
type Profile struct {
	ID        string
	UserID    string
	Email     string
	Bio       string
	Status    Status
	Earnings  decimal.Decimal
	DecidedBy string
	DecidedAt *time.Time
	CreatedAt time.Time
	// Synthetic marks the derived profile of an admin. It is never stored.
	Synthetic bool
}

// Approved reports whether the profile may manage courses.
func (p *Profile) Approved() bool {
	return p.Status == StatusApproved
}

// Decision records an admin's verdict on a pending profile.
type Decision struct {
	ProfileID string
	Status    Status
	DecidedBy string
	DecidedAt time.Time
}

// Repository persists instructor profiles.
type Repository interface {
	// Create stores a new profile. It returns ErrAlreadyApplied when the user
	// already has one.
	Create(ctx context.Context, p *Profile) error
	GetByID(ctx context.Context, id string) (*Profile, error)
	GetByUserID(ctx context.Context, userID string) (*Profile, error)
	// Decide applies d only if the profile is still pending. It returns
	// ErrNotFound or ErrInvalidTransition otherwise.
	Decide(ctx context.Context, d Decision) (*Profile, error)
	// List returns profiles with the given status, or all when status is empty.
	List(ctx context.Context, status Status) ([]Profile, error)
}

// Notifier delivers the outcome of a verification decision to the applicant.
type Notifier interface {
	NotifyDecision(ctx context.Context, p Profile) error
}
