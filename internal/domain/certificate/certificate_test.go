package certificate

import (
	"context"
	"testing"

	"github.com/go-faster/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/learnhub/internal/domain/auth"
	"github.com/xenking/learnhub/internal/domain/enrollment"
)

type memRepo struct {
	certs   map[Pending]*Certificate
	missing []Pending
	err     error
}

func newMemRepo() *memRepo {
	return &memRepo{certs: make(map[Pending]*Certificate)}
}

func (m *memRepo) Issue(_ context.Context, c *Certificate) (*Certificate, error) {
	if m.err != nil {
		return nil, m.err
	}
	key := Pending{LearnerID: c.LearnerID, CourseID: c.CourseID}
	if existing, ok := m.certs[key]; ok {
		return existing, nil
	}
	m.certs[key] = c
	return c, nil
}

func (m *memRepo) ListByLearner(_ context.Context, learnerID string) ([]Certificate, error) {
	var out []Certificate
	for k, c := range m.certs {
		if k.LearnerID == learnerID {
			out = append(out, *c)
		}
	}
	return out, nil
}

func (m *memRepo) Missing(_ context.Context, limit int) ([]Pending, error) {
	if len(m.missing) > limit {
		return m.missing[:limit], nil
	}
	return m.missing, nil
}

func TestService_IssueIsIdempotent(t *testing.T) {
	repo := newMemRepo()
	svc := NewService(repo)
	ctx := context.Background()

	first, err := svc.Issue(ctx, "l1", "c1")
	require.NoError(t, err)
	second, err := svc.Issue(ctx, "l1", "c1")
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	assert.Len(t, repo.certs, 1)
}

func TestService_CourseCompleted(t *testing.T) {
	repo := newMemRepo()
	svc := NewService(repo)

	err := svc.CourseCompleted(context.Background(), enrollment.Completion{LearnerID: "l1", CourseID: "c1"})
	require.NoError(t, err)

	certs, err := svc.List(context.Background(), auth.Actor{UserID: "l1"})
	require.NoError(t, err)
	require.Len(t, certs, 1)
	assert.Equal(t, "c1", certs[0].CourseID)

	_, err = svc.List(context.Background(), auth.Actor{})
	require.ErrorIs(t, err, auth.ErrUnauthenticated)
}

func TestService_CourseCompleted_Error(t *testing.T) {
	repo := newMemRepo()
	repo.err = errors.New("db down")

	err := NewService(repo).CourseCompleted(context.Background(), enrollment.Completion{LearnerID: "l1", CourseID: "c1"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "issue certificate")
}

func TestService_Reconcile(t *testing.T) {
	repo := newMemRepo()
	repo.missing = []Pending{{LearnerID: "l1", CourseID: "c1"}, {LearnerID: "l2", CourseID: "c1"}, {LearnerID: "l3", CourseID: "c2"}}
	svc := NewService(repo)

	n, err := svc.Reconcile(context.Background(), 2)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Len(t, repo.certs, 2)
}
