package postgres

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/learnhub/internal/domain/course"
)

const (
	courseColumns = `id, instructor_id, title, description, category, thumbnail, price, status, created_at`

	createCourseSQL = `INSERT INTO courses (` + courseColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`

	getCourseByIDSQL = `SELECT ` + courseColumns + ` FROM courses WHERE id = $1`

	listCoursesByInstructorSQL = `SELECT ` + courseColumns + ` FROM courses
		WHERE instructor_id = $1 ORDER BY created_at, id`

	updateCourseStatusSQL = `UPDATE courses SET status = $2 WHERE id = $1`

	countDistinctLearnersSQL = `SELECT count(DISTINCT e.learner_id)
		FROM enrollments e JOIN courses c ON c.id = e.course_id
		WHERE c.instructor_id = $1`

	deleteCourseUnitsSQL = `DELETE FROM course_units WHERE course_id = $1`

	insertCourseUnitSQL = `INSERT INTO course_units (course_id, unit_id, title, required)
		VALUES ($1, $2, $3, $4)`
)

var _ course.Repository = (*CourseRepository)(nil)

// CourseRepository implements course.Repository backed by PostgreSQL.
type CourseRepository struct {
	pool *pgxpool.Pool
}

// NewCourseRepository returns a CourseRepository that uses the given pool.
func NewCourseRepository(pool *pgxpool.Pool) *CourseRepository {
	return &CourseRepository{pool: pool}
}

// Create persists a new course.
func (r *CourseRepository) Create(ctx context.Context, c *course.Course) error {
	_, err := r.pool.Exec(ctx, createCourseSQL,
		c.ID, c.InstructorID, c.Title, c.Description, c.Category, c.Thumbnail,
		c.Price, string(c.Status), c.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("creating course %q: %w", c.ID, err)
	}
	return nil
}

// GetByID returns a course regardless of its status.
func (r *CourseRepository) GetByID(ctx context.Context, id string) (*course.Course, error) {
	rows, err := r.pool.Query(ctx, getCourseByIDSQL, id)
	if err != nil {
		return nil, fmt.Errorf("getting course %q: %w", id, err)
	}

	c, err := pgx.CollectExactlyOneRow(rows, scanCourse)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, course.ErrNotFound
		}
		return nil, fmt.Errorf("getting course %q: %w", id, err)
	}
	return &c, nil
}

// ListByInstructor returns every course owned by the instructor, drafts
// included.
func (r *CourseRepository) ListByInstructor(ctx context.Context, instructorID string) ([]course.Course, error) {
	rows, err := r.pool.Query(ctx, listCoursesByInstructorSQL, instructorID)
	if err != nil {
		return nil, fmt.Errorf("listing courses of %q: %w", instructorID, err)
	}
	return pgx.CollectRows(rows, scanCourse)
}

// UpdateStatus sets the publication status of a course.
func (r *CourseRepository) UpdateStatus(ctx context.Context, id string, status course.Status) error {
	tag, err := r.pool.Exec(ctx, updateCourseStatusSQL, id, string(status))
	if err != nil {
		return fmt.Errorf("updating course %q status: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return course.ErrNotFound
	}
	return nil
}

// CountDistinctLearners counts learners enrolled in at least one course of
// the instructor.
func (r *CourseRepository) CountDistinctLearners(ctx context.Context, instructorID string) (int, error) {
	var n int
	if err := r.pool.QueryRow(ctx, countDistinctLearnersSQL, instructorID).Scan(&n); err != nil {
		return 0, fmt.Errorf("counting learners of %q: %w", instructorID, err)
	}
	return n, nil
}

// SaveUnits replaces the units of a course.
func (r *CourseRepository) SaveUnits(ctx context.Context, courseID string, units []course.Unit) error {
	return pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, deleteCourseUnitsSQL, courseID); err != nil {
			return fmt.Errorf("clearing units of %q: %w", courseID, err)
		}
		batch := &pgx.Batch{}
		for _, u := range units {
			batch.Queue(insertCourseUnitSQL, courseID, u.ID, u.Title, u.Required)
		}
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return fmt.Errorf("inserting units of %q: %w", courseID, err)
		}
		return nil
	})
}

func scanCourse(row pgx.CollectableRow) (course.Course, error) {
	var (
		c      course.Course
		status string
	)
	err := row.Scan(
		&c.ID, &c.InstructorID, &c.Title, &c.Description, &c.Category, &c.Thumbnail,
		&c.Price, &status, &c.CreatedAt,
	)
	c.Status = course.Status(status)
	return c, err
}
