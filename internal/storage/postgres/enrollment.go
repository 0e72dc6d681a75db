package postgres

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/learnhub/internal/domain/enrollment"
)

const (
	enrollmentColumns = `id, learner_id, course_id, payment_id, status, progress, created_at, completed_at`

	getEnrollmentByIDSQL = `SELECT ` + enrollmentColumns + ` FROM enrollments WHERE id = $1`

	findEnrollmentSQL = `SELECT ` + enrollmentColumns + ` FROM enrollments
		WHERE learner_id = $1 AND course_id = $2`

	listEnrollmentsSQL = `SELECT ` + enrollmentColumns + ` FROM enrollments
		WHERE learner_id = $1 AND ($2::text = '' OR status = $2::text)
		ORDER BY created_at, id`

	casProgressSQL = `UPDATE enrollments
		SET progress = $3,
		    status = CASE WHEN $4::boolean THEN 'completed' ELSE status END,
		    completed_at = CASE WHEN $4::boolean THEN $5::timestamptz ELSE completed_at END
		WHERE id = $1 AND progress = $2 AND status = 'active'`

	recordUnitSQL = `INSERT INTO unit_completions (enrollment_id, unit_id, event_id)
		SELECT e.id, u.unit_id, $3
		FROM enrollments e
		JOIN course_units u ON u.course_id = e.course_id AND u.unit_id = $2
		WHERE e.id = $1
		ON CONFLICT DO NOTHING`

	unitExistsSQL = `SELECT EXISTS (
		SELECT 1 FROM enrollments e
		JOIN course_units u ON u.course_id = e.course_id AND u.unit_id = $2
		WHERE e.id = $1)`

	tallyUnitsSQL = `SELECT count(c.unit_id), count(*)
		FROM enrollments e
		JOIN course_units u ON u.course_id = e.course_id AND u.required
		LEFT JOIN unit_completions c ON c.enrollment_id = e.id AND c.unit_id = u.unit_id
		WHERE e.id = $1`
)

var (
	_ enrollment.Repository = (*EnrollmentRepository)(nil)
	_ enrollment.Units      = (*EnrollmentRepository)(nil)
)

// EnrollmentRepository implements enrollment.Repository and enrollment.Units
// backed by PostgreSQL. Enrollments are only created by payment settlement.
type EnrollmentRepository struct {
	pool *pgxpool.Pool
}

// NewEnrollmentRepository returns an EnrollmentRepository that uses the given pool.
func NewEnrollmentRepository(pool *pgxpool.Pool) *EnrollmentRepository {
	return &EnrollmentRepository{pool: pool}
}

// GetByID returns an enrollment by id.
func (r *EnrollmentRepository) GetByID(ctx context.Context, id string) (*enrollment.Enrollment, error) {
	return r.getOne(ctx, getEnrollmentByIDSQL, id)
}

// Find returns the enrollment of a learner in a course.
func (r *EnrollmentRepository) Find(ctx context.Context, learnerID, courseID string) (*enrollment.Enrollment, error) {
	return r.getOne(ctx, findEnrollmentSQL, learnerID, courseID)
}

// ListByLearner returns a learner's enrollments, optionally filtered by status.
func (r *EnrollmentRepository) ListByLearner(ctx context.Context, learnerID string, status enrollment.Status) ([]enrollment.Enrollment, error) {
	rows, err := r.pool.Query(ctx, listEnrollmentsSQL, learnerID, string(status))
	if err != nil {
		return nil, fmt.Errorf("listing enrollments of %q: %w", learnerID, err)
	}
	return pgx.CollectRows(rows, scanEnrollment)
}

// CompareAndSetProgress writes the new progress only if nobody else changed
// it since it was read.
func (r *EnrollmentRepository) CompareAndSetProgress(ctx context.Context, u enrollment.ProgressUpdate) (bool, error) {
	tag, err := r.pool.Exec(ctx, casProgressSQL, u.ID, u.Expected, u.Progress, u.Complete, u.At)
	if err != nil {
		return false, fmt.Errorf("updating progress of %q: %w", u.ID, err)
	}
	return tag.RowsAffected() == 1, nil
}

// RecordCompletion stores a finished unit. Replayed events and units that
// were already recorded are ignored.
func (r *EnrollmentRepository) RecordCompletion(ctx context.Context, enrollmentID, unitID, eventID string) (bool, error) {
	tag, err := r.pool.Exec(ctx, recordUnitSQL, enrollmentID, unitID, eventID)
	if err != nil {
		return false, fmt.Errorf("recording unit %q of %q: %w", unitID, enrollmentID, err)
	}
	if tag.RowsAffected() > 0 {
		return true, nil
	}

	var exists bool
	if err := r.pool.QueryRow(ctx, unitExistsSQL, enrollmentID, unitID).Scan(&exists); err != nil {
		return false, fmt.Errorf("checking unit %q of %q: %w", unitID, enrollmentID, err)
	}
	if !exists {
		return false, enrollment.ErrUnknownUnit
	}
	return false, nil
}

// Tally counts the required units finished in an enrollment.
func (r *EnrollmentRepository) Tally(ctx context.Context, enrollmentID string) (done, total int, err error) {
	if err := r.pool.QueryRow(ctx, tallyUnitsSQL, enrollmentID).Scan(&done, &total); err != nil {
		return 0, 0, fmt.Errorf("tallying units of %q: %w", enrollmentID, err)
	}
	return done, total, nil
}

func (r *EnrollmentRepository) getOne(ctx context.Context, query string, args ...any) (*enrollment.Enrollment, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying enrollment: %w", err)
	}
	e, err := pgx.CollectExactlyOneRow(rows, scanEnrollment)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, enrollment.ErrNotFound
		}
		return nil, fmt.Errorf("scanning enrollment: %w", err)
	}
	return &e, nil
}

func scanEnrollment(row pgx.CollectableRow) (enrollment.Enrollment, error) {
	var (
		e         enrollment.Enrollment
		paymentID *string
		status    string
	)
	err := row.Scan(
		&e.ID, &e.LearnerID, &e.CourseID, &paymentID, &status, &e.Progress,
		&e.CreatedAt, &e.CompletedAt,
	)
	e.PaymentID = deref(paymentID)
	e.Status = enrollment.Status(status)
	return e, err
}
