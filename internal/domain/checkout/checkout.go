package checkout

import (
	"context"
	"fmt"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// PaymentStatus is the state of a payment attempt.
type PaymentStatus string

const (
	PaymentPending PaymentStatus = "pending"
	PaymentPaid    PaymentStatus = "paid"
	PaymentFailed  PaymentStatus = "failed"
	PaymentExpired PaymentStatus = "expired"
	// PaymentDuplicate marks a successful charge for a course the learner was
	// already enrolled in. It is kept for refund follow-up.
	PaymentDuplicate PaymentStatus = "duplicate"
)

// OutcomeStatus is the result reported by the payment processor.
type OutcomeStatus string

const (
	OutcomeSucceeded OutcomeStatus = "succeeded"
	OutcomeFailed    OutcomeStatus = "failed"
)

var (
	// ErrProcessor classifies failures talking to the payment processor.
	ErrProcessor = errors.New("payment processor error")
	// ErrPaymentNotFound is returned for unknown checkout sessions.
	ErrPaymentNotFound = errors.New("payment not found")
	// ErrSessionNotFound is returned by session stores for missing or expired
	// sessions.
	ErrSessionNotFound = errors.New("checkout session not found")
	// ErrInvalidOutcome is returned for malformed processor notifications.
	ErrInvalidOutcome = errors.New("invalid payment outcome")
)

// ProcessorError wraps a payment processor failure. Retryable errors are
// transient and the checkout may be attempted again.
type ProcessorError struct {
	Op        string
	Retryable bool
	Err       error
}

func (e *ProcessorError) Error() string {
	return fmt.Sprintf("payment processor %s: %v", e.Op, e.Err)
}

func (e *ProcessorError) Unwrap() error { return e.Err }

// Is reports ErrProcessor as the error class.
func (e *ProcessorError) Is(target error) bool { return target == ErrProcessor }

// Payment is the durable record of one checkout attempt.
type Payment struct {
	ID             string
	SessionID      string
	LearnerID      string
	CourseID       string
	CouponCode     string
	OriginalAmount decimal.Decimal
	DiscountAmount decimal.Decimal
	Amount         decimal.Decimal
	Currency       string
	Status         PaymentStatus
	TransactionID  string
	CreatedAt      time.Time
}

// Session is the short-lived state of a checkout awaiting the processor.
type Session struct {
	ID          string
	PaymentID   string
	LearnerID   string
	CourseID    string
	CouponCode  string
	Amount      decimal.Decimal
	Currency    string
	RedirectURL string
	ExpiresAt   time.Time
}

// SessionRequest asks the processor to open a hosted checkout.
type SessionRequest struct {
	PaymentID   string
	LearnerID   string
	CourseID    string
	CourseTitle string
	CouponCode  string
	Amount      decimal.Decimal
	Currency    string
}

// ProcessorSession is the processor's handle for a hosted checkout.
type ProcessorSession struct {
	ID  string
	URL string
}

// Processor is the external payment processor.
type Processor interface {
	CreateSession(ctx context.Context, req SessionRequest) (*ProcessorSession, error)
}

// SessionStore keeps checkout sessions until they settle or expire.
type SessionStore interface {
	Put(ctx context.Context, s Session, ttl time.Duration) error
	Get(ctx context.Context, sessionID string) (*Session, error)
	// FindActive returns the live session of learnerID for courseID.
	FindActive(ctx context.Context, learnerID, courseID string) (*Session, error)
	Delete(ctx context.Context, s Session) error
}

// Outcome is a processor notification about a session.
type Outcome struct {
	SessionID     string
	TransactionID string
	Status        OutcomeStatus
}

// Settlement is the atomic effect of a successful payment.
type Settlement struct {
	PaymentID       string
	TransactionID   string
	EnrollmentID    string
	LearnerID       string
	CourseID        string
	InstructorID    string
	InstructorShare decimal.Decimal
	CouponCode      string
	At              time.Time
}

// SettleResult describes what a settlement did.
type SettleResult int

const (
	// Settled created the enrollment and credited the instructor.
	Settled SettleResult = iota
	// DuplicateTransaction means the transaction was already processed.
	DuplicateTransaction
	// DuplicateEnrollment means the learner was already enrolled and the
	// payment was marked duplicate.
	DuplicateEnrollment
)

func (r SettleResult) String() string {
	switch r {
	case Settled:
		return "settled"
	case DuplicateTransaction:
		return "duplicate_transaction"
	case DuplicateEnrollment:
		return "duplicate_enrollment"
	}
	return "unknown"
}

// Repository persists payments and applies settlements.
type Repository interface {
	CreatePayment(ctx context.Context, p *Payment) error
	// GetPaymentBySession returns ErrPaymentNotFound for unknown sessions.
	GetPaymentBySession(ctx context.Context, sessionID string) (*Payment, error)
	// MarkFailed fails a pending payment and reports whether it changed.
	MarkFailed(ctx context.Context, paymentID string) (bool, error)
	// Settle applies s in a single transaction, deduplicated by transaction id
	// and by the learner/course enrollment pair.
	Settle(ctx context.Context, s Settlement) (SettleResult, error)
	// ExpirePending expires payments still pending that were created before
	// the cutoff.
	ExpirePending(ctx context.Context, before time.Time) (int64, error)
}
