package dashboard

import (
	"context"
	"testing"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/learnhub/internal/domain/auth"
	"github.com/xenking/learnhub/internal/domain/certificate"
	"github.com/xenking/learnhub/internal/domain/course"
	"github.com/xenking/learnhub/internal/domain/enrollment"
	"github.com/xenking/learnhub/internal/domain/instructor"
)

type mockGate map[string]*instructor.Profile

func (m mockGate) Effective(_ context.Context, a auth.Actor) (*instructor.Profile, error) {
	if p, ok := m[a.UserID]; ok {
		return p, nil
	}
	if a.IsAdmin() {
		return instructor.Synthetic(a.UserID), nil
	}
	return nil, instructor.ErrNotFound
}

type mockCourses map[string][]course.Course

func (m mockCourses) ListByInstructor(_ context.Context, id string) ([]course.Course, error) {
	return m[id], nil
}

type mockEnrollments struct {
	rows []enrollment.Enrollment
	err  error
}

func (m *mockEnrollments) list(learnerID string, status enrollment.Status) ([]enrollment.Enrollment, error) {
	if m.err != nil {
		return nil, m.err
	}
	var out []enrollment.Enrollment
	for _, e := range m.rows {
		if e.LearnerID == learnerID && e.Status == status {
			out = append(out, e)
		}
	}
	return out, nil
}

func (m *mockEnrollments) ListActive(_ context.Context, learnerID string) ([]enrollment.Enrollment, error) {
	return m.list(learnerID, enrollment.StatusActive)
}

func (m *mockEnrollments) ListCompleted(_ context.Context, learnerID string) ([]enrollment.Enrollment, error) {
	return m.list(learnerID, enrollment.StatusCompleted)
}

type mockCertificates map[string][]certificate.Certificate

func (m mockCertificates) ListForLearner(_ context.Context, learnerID string) ([]certificate.Certificate, error) {
	return m[learnerID], nil
}

type mockStudents map[string]int

func (m mockStudents) CountDistinctLearners(_ context.Context, id string) (int, error) {
	return m[id], nil
}

func newResolver(enr *mockEnrollments) *Resolver {
	gate := mockGate{
		"inst":     {ID: "p-inst", UserID: "inst", Status: instructor.StatusApproved, Earnings: decimal.RequireFromString("162.00")},
		"pending":  {ID: "p-pending", UserID: "pending", Status: instructor.StatusPending},
		"rejected": {ID: "p-rejected", UserID: "rejected", Status: instructor.StatusRejected},
		"ops":      {ID: "p-ops", UserID: "ops", Status: instructor.StatusPending},
	}
	courses := mockCourses{
		"p-inst": {
			{ID: "c1", Status: course.StatusPublished},
			{ID: "c2", Status: course.StatusPublished},
			{ID: "c3", Status: course.StatusDraft},
		},
		"admin-inst-root": {{ID: "c9", Status: course.StatusDraft}},
		"p-ops":           {{ID: "c1", Status: course.StatusPublished}},
	}
	certs := mockCertificates{"learner": {{ID: "cert1", LearnerID: "learner", CourseID: "c2"}}}
	return NewResolver(gate, courses, enr, certs, mockStudents{"p-inst": 3})
}

func TestResolver_Student(t *testing.T) {
	r := newResolver(&mockEnrollments{rows: []enrollment.Enrollment{
		{ID: "e1", LearnerID: "learner", CourseID: "c1", Status: enrollment.StatusActive},
		{ID: "e2", LearnerID: "learner", CourseID: "c2", Status: enrollment.StatusCompleted},
		{ID: "e3", LearnerID: "other", CourseID: "c1", Status: enrollment.StatusActive},
	}})

	v, err := r.View(context.Background(), auth.Actor{UserID: "learner", Role: auth.RoleStudent})
	require.NoError(t, err)
	require.Equal(t, KindStudent, v.Kind)
	require.NotNil(t, v.Student)
	assert.Nil(t, v.Instructor)
	require.Len(t, v.Student.Active, 1)
	assert.Equal(t, "e1", v.Student.Active[0].ID)
	require.Len(t, v.Student.Completed, 1)
	assert.Equal(t, "e2", v.Student.Completed[0].ID)
	assert.Len(t, v.Student.Certificates, 1)
	assert.Nil(t, v.Student.Application)
}

func TestResolver_ApplicationBanner(t *testing.T) {
	r := newResolver(&mockEnrollments{})

	for _, tt := range []struct {
		user string
		want instructor.Status
	}{
		{user: "pending", want: instructor.StatusPending},
		{user: "rejected", want: instructor.StatusRejected},
	} {
		t.Run(tt.user, func(t *testing.T) {
			v, err := r.View(context.Background(), auth.Actor{UserID: tt.user, Role: auth.RoleInstructor})
			require.NoError(t, err)
			require.Equal(t, KindStudent, v.Kind)
			require.NotNil(t, v.Student.Application)
			assert.Equal(t, tt.want, v.Student.Application.Status)
		})
	}
}

func TestResolver_Instructor(t *testing.T) {
	r := newResolver(&mockEnrollments{})

	v, err := r.View(context.Background(), auth.Actor{UserID: "inst", Role: auth.RoleInstructor})
	require.NoError(t, err)
	require.Equal(t, KindInstructor, v.Kind)
	require.NotNil(t, v.Instructor)
	assert.Nil(t, v.Student)

	assert.Len(t, v.Instructor.Courses, 3, "drafts are listed too")
	assert.Equal(t, 3, v.Instructor.Stats.TotalCourses)
	assert.Equal(t, 2, v.Instructor.Stats.PublishedCourses)
	assert.Equal(t, 3, v.Instructor.Stats.TotalStudents)
	assert.True(t, decimal.RequireFromString("162.00").Equal(v.Instructor.Stats.Earnings))
}

func TestResolver_AdminUsesSyntheticProfile(t *testing.T) {
	r := newResolver(&mockEnrollments{})

	v, err := r.View(context.Background(), auth.Actor{UserID: "root", Role: auth.RoleAdmin})
	require.NoError(t, err)
	require.Equal(t, KindInstructor, v.Kind)
	assert.True(t, v.Instructor.Profile.Synthetic)
	assert.Equal(t, 1, v.Instructor.Stats.TotalCourses)
	assert.True(t, v.Instructor.Stats.Earnings.IsZero())
}

func TestResolver_AdminWithPendingProfile(t *testing.T) {
	r := newResolver(&mockEnrollments{})

	v, err := r.View(context.Background(), auth.Actor{UserID: "ops", Role: auth.RoleAdmin})
	require.NoError(t, err)
	require.Equal(t, KindInstructor, v.Kind)
	assert.Equal(t, "p-ops", v.Instructor.Profile.ID)
	require.Len(t, v.Instructor.Courses, 1)
	assert.Equal(t, "c1", v.Instructor.Courses[0].ID)
	assert.Equal(t, 1, v.Instructor.Stats.PublishedCourses)
}

func TestResolver_Errors(t *testing.T) {
	r := newResolver(&mockEnrollments{err: errors.New("db down")})

	_, err := r.View(context.Background(), auth.Actor{UserID: "learner"})
	require.Error(t, err)

	_, err = r.View(context.Background(), auth.Actor{})
	require.ErrorIs(t, err, auth.ErrUnauthenticated)
}
