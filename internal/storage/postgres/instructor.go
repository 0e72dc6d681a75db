package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/learnhub/internal/domain/instructor"
)

const (
	instructorColumns = `id, user_id, email, bio, status, earnings, decided_by, decided_at, created_at`

	createInstructorSQL = `INSERT INTO instructors (id, user_id, email, bio, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`

	getInstructorByIDSQL = `SELECT ` + instructorColumns + ` FROM instructors WHERE id = $1`

	getInstructorByUserIDSQL = `SELECT ` + instructorColumns + ` FROM instructors WHERE user_id = $1`

	decideInstructorSQL = `UPDATE instructors SET status = $2, decided_by = $3, decided_at = $4
		WHERE id = $1 AND status = 'pending'
		RETURNING ` + instructorColumns

	listInstructorsSQL = `SELECT ` + instructorColumns + ` FROM instructors
		WHERE $1::text = '' OR status = $1::text
		ORDER BY created_at, id`
)

var _ instructor.Repository = (*InstructorRepository)(nil)

// InstructorRepository implements instructor.Repository backed by PostgreSQL.
type InstructorRepository struct {
	pool *pgxpool.Pool
}

// NewInstructorRepository returns an InstructorRepository that uses the given pool.
func NewInstructorRepository(pool *pgxpool.Pool) *InstructorRepository {
	return &InstructorRepository{pool: pool}
}

// Create stores a new profile. The unique user_id column turns a second
// application into instructor.ErrAlreadyApplied.
func (r *InstructorRepository) Create(ctx context.Context, p *instructor.Profile) error {
	_, err := r.pool.Exec(ctx, createInstructorSQL,
		p.ID, p.UserID, p.Email, p.Bio, string(p.Status), p.CreatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return instructor.ErrAlreadyApplied
		}
		return fmt.Errorf("creating instructor %q: %w", p.ID, err)
	}
	return nil
}

// GetByID returns a profile by id.
func (r *InstructorRepository) GetByID(ctx context.Context, id string) (*instructor.Profile, error) {
	return r.getOne(ctx, getInstructorByIDSQL, id)
}

// GetByUserID returns the profile of a user.
func (r *InstructorRepository) GetByUserID(ctx context.Context, userID string) (*instructor.Profile, error) {
	return r.getOne(ctx, getInstructorByUserIDSQL, userID)
}

// Decide applies the decision only while the profile is pending. When no row
// is updated the profile is reloaded to tell a missing profile apart from one
// that was already decided.
func (r *InstructorRepository) Decide(ctx context.Context, d instructor.Decision) (*instructor.Profile, error) {
	p, err := r.getOne(ctx, decideInstructorSQL, d.ProfileID, string(d.Status), d.DecidedBy, d.DecidedAt)
	if err == nil {
		return p, nil
	}
	if !errors.Is(err, instructor.ErrNotFound) {
		return nil, err
	}

	if _, err := r.GetByID(ctx, d.ProfileID); err != nil {
		return nil, err
	}
	return nil, instructor.ErrInvalidTransition
}

// List returns profiles with the given status, or all of them.
func (r *InstructorRepository) List(ctx context.Context, status instructor.Status) ([]instructor.Profile, error) {
	rows, err := r.pool.Query(ctx, listInstructorsSQL, string(status))
	if err != nil {
		return nil, fmt.Errorf("listing instructors: %w", err)
	}
	return pgx.CollectRows(rows, scanInstructor)
}

func (r *InstructorRepository) getOne(ctx context.Context, query string, args ...any) (*instructor.Profile, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying instructor: %w", err)
	}
	p, err := pgx.CollectExactlyOneRow(rows, scanInstructor)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, instructor.ErrNotFound
		}
		return nil, fmt.Errorf("scanning instructor: %w", err)
	}
	return &p, nil
}

func scanInstructor(row pgx.CollectableRow) (instructor.Profile, error) {
	var (
		p         instructor.Profile
		status    string
		decidedBy *string
		decidedAt *time.Time
	)
	err := row.Scan(
		&p.ID, &p.UserID, &p.Email, &p.Bio, &status, &p.Earnings,
		&decidedBy, &decidedAt, &p.CreatedAt,
	)
	p.Status = instructor.Status(status)
	p.DecidedBy = deref(decidedBy)
	p.DecidedAt = decidedAt
	return p, err
}
