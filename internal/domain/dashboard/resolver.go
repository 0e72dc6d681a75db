// Package dashboard resolves the role-specific landing view of a user.
package dashboard

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/xenking/learnhub/internal/domain/auth"
	"github.com/xenking/learnhub/internal/domain/certificate"
	"github.com/xenking/learnhub/internal/domain/course"
	"github.com/xenking/learnhub/internal/domain/enrollment"
	"github.com/xenking/learnhub/internal/domain/instructor"
)

// Kind names which view was resolved.
type Kind string

const (
	KindStudent    Kind = "student"
	KindInstructor Kind = "instructor"
)

// View is either a student or an instructor dashboard.
type View struct {
	Kind       Kind
	Student    *StudentView
	Instructor *InstructorView
}

// StudentView lists what a learner is taking and has finished.
type StudentView struct {
	Active       []enrollment.Enrollment
	Completed    []enrollment.Enrollment
	Certificates []certificate.Certificate
	// Application is set while an instructor application is pending or
	// after it was rejected.
	Application *Application
}

// Application summarizes a non-approved instructor application.
type Application struct {
	ProfileID string
	Status    instructor.Status
}

// InstructorView lists an instructor's catalogue and totals.
type InstructorView struct {
	Profile *instructor.Profile
	Courses []course.Course
	Stats   Stats
}

// Stats are the headline numbers on the instructor dashboard.
type Stats struct {
	TotalCourses     int
	PublishedCourses int
	// TotalStudents counts distinct learners enrolled in any owned course.
	TotalStudents int
	Earnings      decimal.Decimal
}

type (
	Gate interface {
		Effective(ctx context.Context, actor auth.Actor) (*instructor.Profile, error)
	}
	Courses interface {
		ListByInstructor(ctx context.Context, instructorID string) ([]course.Course, error)
	}
	Enrollments interface {
		ListActive(ctx context.Context, learnerID string) ([]enrollment.Enrollment, error)
		ListCompleted(ctx context.Context, learnerID string) ([]enrollment.Enrollment, error)
	}
	Certificates interface {
		ListForLearner(ctx context.Context, learnerID string) ([]certificate.Certificate, error)
	}
	Students interface {
		CountDistinctLearners(ctx context.Context, instructorID string) (int, error)
	}
)

// Resolver builds dashboards.
type Resolver struct {
	gate         Gate
	courses      Courses
	enrollments  Enrollments
	certificates Certificates
	students     Students
}

// NewResolver creates a Resolver.
func NewResolver(gate Gate, courses Courses, enrollments Enrollments, certificates Certificates, students Students) *Resolver {
	return &Resolver{
		gate:         gate,
		courses:      courses,
		enrollments:  enrollments,
		certificates: certificates,
		students:     students,
	}
}

// View returns the instructor dashboard for approved instructors and admins,
// and the student dashboard for everyone else.
func (r *Resolver) View(ctx context.Context, actor auth.Actor) (*View, error) {
	if !actor.Authenticated() {
		return nil, auth.ErrUnauthenticated
	}

	p, err := r.gate.Effective(ctx, actor)
	if err != nil && !errors.Is(err, instructor.ErrNotFound) {
		return nil, errors.Wrap(err, "resolve instructor")
	}
	if p != nil && (p.Approved() || actor.IsAdmin()) {
		iv, err := r.instructorView(ctx, p)
		if err != nil {
			return nil, err
		}
		return &View{Kind: KindInstructor, Instructor: iv}, nil
	}

	sv, err := r.studentView(ctx, actor.UserID)
	if err != nil {
		return nil, err
	}
	if p != nil {
		sv.Application = &Application{ProfileID: p.ID, Status: p.Status}
	}
	return &View{Kind: KindStudent, Student: sv}, nil
}

func (r *Resolver) studentView(ctx context.Context, learnerID string) (*StudentView, error) {
	var v StudentView
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		v.Active, err = r.enrollments.ListActive(ctx, learnerID)
		if err != nil {
			return errors.Wrap(err, "active enrollments")
		}
		return nil
	})
	g.Go(func() (err error) {
		v.Completed, err = r.enrollments.ListCompleted(ctx, learnerID)
		if err != nil {
			return errors.Wrap(err, "completed enrollments")
		}
		return nil
	})
	g.Go(func() (err error) {
		v.Certificates, err = r.certificates.ListForLearner(ctx, learnerID)
		if err != nil {
			return errors.Wrap(err, "certificates")
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return &v, nil
}

func (r *Resolver) instructorView(ctx context.Context, p *instructor.Profile) (*InstructorView, error) {
	v := InstructorView{Profile: p}
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		v.Courses, err = r.courses.ListByInstructor(ctx, p.ID)
		if err != nil {
			return errors.Wrap(err, "courses")
		}
		return nil
	})
	g.Go(func() (err error) {
		v.Stats.TotalStudents, err = r.students.CountDistinctLearners(ctx, p.ID)
		if err != nil {
			return errors.Wrap(err, "count students")
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	v.Stats.TotalCourses = len(v.Courses)
	for _, c := range v.Courses {
		if c.Published() {
			v.Stats.PublishedCourses++
		}
	}
	v.Stats.Earnings = p.Earnings
	return &v, nil
}
