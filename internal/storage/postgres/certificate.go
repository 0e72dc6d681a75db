package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/learnhub/internal/domain/certificate"
)

const (
	issueCertificateSQL = `INSERT INTO certificates (id, learner_id, course_id, issued_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (learner_id, course_id) DO NOTHING`

	getCertificateSQL = `SELECT id, learner_id, course_id, issued_at FROM certificates
		WHERE learner_id = $1 AND course_id = $2`

	listCertificatesSQL = `SELECT id, learner_id, course_id, issued_at FROM certificates
		WHERE learner_id = $1 ORDER BY issued_at, id`

	missingCertificatesSQL = `SELECT e.learner_id, e.course_id
		FROM enrollments e
		LEFT JOIN certificates c ON c.learner_id = e.learner_id AND c.course_id = e.course_id
		WHERE e.status = 'completed' AND c.id IS NULL
		ORDER BY e.completed_at
		LIMIT $1`
)

var _ certificate.Repository = (*CertificateRepository)(nil)

// CertificateRepository implements certificate.Repository backed by PostgreSQL.
type CertificateRepository struct {
	pool *pgxpool.Pool
}

// NewCertificateRepository returns a CertificateRepository that uses the given pool.
func NewCertificateRepository(pool *pgxpool.Pool) *CertificateRepository {
	return &CertificateRepository{pool: pool}
}

// Issue inserts the certificate unless one exists for the same learner and
// course, and returns whichever is stored.
func (r *CertificateRepository) Issue(ctx context.Context, c *certificate.Certificate) (*certificate.Certificate, error) {
	if _, err := r.pool.Exec(ctx, issueCertificateSQL, c.ID, c.LearnerID, c.CourseID, c.IssuedAt); err != nil {
		return nil, fmt.Errorf("issuing certificate: %w", err)
	}
	rows, err := r.pool.Query(ctx, getCertificateSQL, c.LearnerID, c.CourseID)
	if err != nil {
		return nil, fmt.Errorf("getting certificate: %w", err)
	}
	stored, err := pgx.CollectExactlyOneRow(rows, scanCertificate)
	if err != nil {
		return nil, fmt.Errorf("getting certificate: %w", err)
	}
	return &stored, nil
}

// ListByLearner returns a learner's certificates.
func (r *CertificateRepository) ListByLearner(ctx context.Context, learnerID string) ([]certificate.Certificate, error) {
	rows, err := r.pool.Query(ctx, listCertificatesSQL, learnerID)
	if err != nil {
		return nil, fmt.Errorf("listing certificates of %q: %w", learnerID, err)
	}
	return pgx.CollectRows(rows, scanCertificate)
}

// Missing returns completed enrollments that have no certificate.
func (r *CertificateRepository) Missing(ctx context.Context, limit int) ([]certificate.Pending, error) {
	rows, err := r.pool.Query(ctx, missingCertificatesSQL, limit)
	if err != nil {
		return nil, fmt.Errorf("listing missing certificates: %w", err)
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (certificate.Pending, error) {
		var p certificate.Pending
		err := row.Scan(&p.LearnerID, &p.CourseID)
		return p, err
	})
}

func scanCertificate(row pgx.CollectableRow) (certificate.Certificate, error) {
	var c certificate.Certificate
	err := row.Scan(&c.ID, &c.LearnerID, &c.CourseID, &c.IssuedAt)
	return c, err
}
