package handler

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"

	"github.com/xenking/learnhub/internal/domain/certificate"
	"github.com/xenking/learnhub/internal/domain/checkout"
	"github.com/xenking/learnhub/internal/domain/coupon"
	"github.com/xenking/learnhub/internal/domain/course"
	"github.com/xenking/learnhub/internal/domain/dashboard"
	"github.com/xenking/learnhub/internal/domain/enrollment"
	"github.com/xenking/learnhub/internal/domain/instructor"
	"github.com/xenking/learnhub/internal/domain/pricing"
)

// money renders an amount with exactly two decimals, e.g. "80.00".
func money(d decimal.Decimal) string {
	return d.StringFixed(2)
}

type quoteResponse struct {
	CourseID       string `json:"course_id"`
	OriginalPrice  string `json:"original_price"`
	DiscountAmount string `json:"discount_amount"`
	FinalPrice     string `json:"final_price"`
	Currency       string `json:"currency"`
	CouponCode     string `json:"coupon_code,omitempty"`
}

func toQuote(q *pricing.Quote) quoteResponse {
	return quoteResponse{
		CourseID:       q.CourseID,
		OriginalPrice:  money(q.OriginalPrice),
		DiscountAmount: money(q.DiscountAmount),
		FinalPrice:     money(q.FinalPrice),
		Currency:       q.Currency,
		CouponCode:     q.CouponCode,
	}
}

type checkoutRequest struct {
	CourseID   string `json:"course_id" validate:"required"`
	CouponCode string `json:"coupon_code"`
}

type checkoutResponse struct {
	RedirectURL string `json:"redirect_url"`
	SessionID   string `json:"session_id"`
}

type paymentResponse struct {
	SessionID      string    `json:"session_id"`
	Status         string    `json:"status"`
	CourseID       string    `json:"course_id"`
	CouponCode     string    `json:"coupon_code,omitempty"`
	OriginalAmount string    `json:"original_amount"`
	DiscountAmount string    `json:"discount_amount"`
	Amount         string    `json:"amount"`
	Currency       string    `json:"currency"`
	TransactionID  string    `json:"transaction_id,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

func toPayment(p *checkout.Payment) paymentResponse {
	return paymentResponse{
		SessionID:      p.SessionID,
		Status:         string(p.Status),
		CourseID:       p.CourseID,
		CouponCode:     p.CouponCode,
		OriginalAmount: money(p.OriginalAmount),
		DiscountAmount: money(p.DiscountAmount),
		Amount:         money(p.Amount),
		Currency:       p.Currency,
		TransactionID:  p.TransactionID,
		CreatedAt:      p.CreatedAt,
	}
}

type progressRequest struct {
	EnrollmentID string          `json:"enrollment_id" validate:"required"`
	Progress     decimal.Decimal `json:"progress"`
}

type unitCompleteRequest struct {
	EventID string `json:"event_id"`
}

type enrollmentResponse struct {
	ID          string      `json:"id"`
	CourseID    string      `json:"course_id"`
	Status      string      `json:"status"`
	Progress    json.Number `json:"progress"`
	EnrolledAt  time.Time   `json:"enrolled_at"`
	CompletedAt *time.Time  `json:"completed_at,omitempty"`
}

func toEnrollment(e enrollment.Enrollment) enrollmentResponse {
	return enrollmentResponse{
		ID:          e.ID,
		CourseID:    e.CourseID,
		Status:      string(e.Status),
		Progress:    json.Number(e.Progress.StringFixed(2)),
		EnrolledAt:  e.CreatedAt,
		CompletedAt: e.CompletedAt,
	}
}

func toEnrollments(es []enrollment.Enrollment) []enrollmentResponse {
	out := make([]enrollmentResponse, 0, len(es))
	for _, e := range es {
		out = append(out, toEnrollment(e))
	}
	return out
}

type applyRequest struct {
	Bio string `json:"bio" validate:"max=4000"`
}

type decisionRequest struct {
	Outcome string `json:"outcome" validate:"required,oneof=approved rejected"`
}

type profileResponse struct {
	ID        string     `json:"id"`
	UserID    string     `json:"user_id"`
	Email     string     `json:"email,omitempty"`
	Bio       string     `json:"bio"`
	Status    string     `json:"status"`
	Earnings  string     `json:"earnings"`
	DecidedBy string     `json:"decided_by,omitempty"`
	DecidedAt *time.Time `json:"decided_at,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
	Synthetic bool       `json:"synthetic,omitempty"`
}

func toProfile(p *instructor.Profile) profileResponse {
	return profileResponse{
		ID:        p.ID,
		UserID:    p.UserID,
		Email:     p.Email,
		Bio:       p.Bio,
		Status:    string(p.Status),
		Earnings:  money(p.Earnings),
		DecidedBy: p.DecidedBy,
		DecidedAt: p.DecidedAt,
		CreatedAt: p.CreatedAt,
		Synthetic: p.Synthetic,
	}
}

type createCourseRequest struct {
	Title       string          `json:"title" validate:"required,max=200"`
	Description string          `json:"description"`
	Category    string          `json:"category"`
	Thumbnail   string          `json:"thumbnail" validate:"omitempty,url"`
	Price       decimal.Decimal `json:"price"`
}

type courseStatusRequest struct {
	Status string `json:"status" validate:"required,oneof=draft published"`
}

type courseResponse struct {
	ID           string    `json:"id"`
	InstructorID string    `json:"instructor_id"`
	Title        string    `json:"title"`
	Description  string    `json:"description,omitempty"`
	Category     string    `json:"category,omitempty"`
	Thumbnail    string    `json:"thumbnail,omitempty"`
	Price        string    `json:"price"`
	Status       string    `json:"status"`
	CreatedAt    time.Time `json:"created_at"`
}

func toCourse(c *course.Course) courseResponse {
	return courseResponse{
		ID:           c.ID,
		InstructorID: c.InstructorID,
		Title:        c.Title,
		Description:  c.Description,
		Category:     c.Category,
		Thumbnail:    c.Thumbnail,
		Price:        money(c.Price),
		Status:       string(c.Status),
		CreatedAt:    c.CreatedAt,
	}
}

type createCouponRequest struct {
	Code         string          `json:"code" validate:"required,max=64"`
	DiscountType string          `json:"discount_type" validate:"required,oneof=percentage fixed"`
	Value        decimal.Decimal `json:"value"`
	CourseIDs    []string        `json:"course_ids"`
	ValidFrom    *time.Time      `json:"valid_from"`
	ValidUntil   *time.Time      `json:"valid_until"`
	MaxUses      int             `json:"max_uses" validate:"min=0"`
}

type updateCouponRequest struct {
	Value      *decimal.Decimal `json:"value"`
	CourseIDs  []string         `json:"course_ids"`
	ValidFrom  *time.Time       `json:"valid_from"`
	ValidUntil *time.Time       `json:"valid_until"`
	MaxUses    *int             `json:"max_uses" validate:"omitempty,min=0"`
}

type couponResponse struct {
	Code         string     `json:"code"`
	DiscountType string     `json:"discount_type"`
	Value        string     `json:"value"`
	CourseIDs    []string   `json:"course_ids"`
	ValidFrom    *time.Time `json:"valid_from,omitempty"`
	ValidUntil   *time.Time `json:"valid_until,omitempty"`
	MaxUses      int        `json:"max_uses"`
	Uses         int        `json:"uses"`
	Active       bool       `json:"active"`
	Locked       bool       `json:"locked"`
}

func toCoupon(c *coupon.Coupon) couponResponse {
	ids := c.CourseIDs
	if ids == nil {
		ids = []string{}
	}
	return couponResponse{
		Code:         c.Code,
		DiscountType: string(c.DiscountType),
		Value:        money(c.Value),
		CourseIDs:    ids,
		ValidFrom:    c.ValidFrom,
		ValidUntil:   c.ValidUntil,
		MaxUses:      c.MaxUses,
		Uses:         c.Uses,
		Active:       c.Active,
		Locked:       c.Locked,
	}
}

type certificateResponse struct {
	ID       string    `json:"id"`
	CourseID string    `json:"course_id"`
	IssuedAt time.Time `json:"issued_at"`
}

func toCertificates(cs []certificate.Certificate) []certificateResponse {
	out := make([]certificateResponse, 0, len(cs))
	for _, c := range cs {
		out = append(out, certificateResponse{ID: c.ID, CourseID: c.CourseID, IssuedAt: c.IssuedAt})
	}
	return out
}

type dashboardResponse struct {
	Role       string               `json:"role"`
	Student    *studentDashboard    `json:"student,omitempty"`
	Instructor *instructorDashboard `json:"instructor,omitempty"`
}

type studentDashboard struct {
	Active       []enrollmentResponse  `json:"active"`
	Completed    []enrollmentResponse  `json:"completed"`
	Certificates []certificateResponse `json:"certificates"`
	Application  *applicationBanner    `json:"application,omitempty"`
}

type applicationBanner struct {
	ProfileID string `json:"profile_id"`
	Status    string `json:"status"`
}

type instructorDashboard struct {
	Profile profileResponse  `json:"profile"`
	Courses []courseResponse `json:"courses"`
	Stats   statsResponse    `json:"stats"`
}

type statsResponse struct {
	TotalCourses     int    `json:"total_courses"`
	PublishedCourses int    `json:"published_courses"`
	TotalStudents    int    `json:"total_students"`
	Earnings         string `json:"earnings"`
}

func toDashboard(v *dashboard.View) dashboardResponse {
	resp := dashboardResponse{Role: string(v.Kind)}
	if s := v.Student; s != nil {
		resp.Student = &studentDashboard{
			Active:       toEnrollments(s.Active),
			Completed:    toEnrollments(s.Completed),
			Certificates: toCertificates(s.Certificates),
		}
		if a := s.Application; a != nil {
			resp.Student.Application = &applicationBanner{ProfileID: a.ProfileID, Status: string(a.Status)}
		}
	}
	if i := v.Instructor; i != nil {
		courses := make([]courseResponse, 0, len(i.Courses))
		for _, c := range i.Courses {
			courses = append(courses, toCourse(&c))
		}
		resp.Instructor = &instructorDashboard{
			Profile: toProfile(i.Profile),
			Courses: courses,
			Stats: statsResponse{
				TotalCourses:     i.Stats.TotalCourses,
				PublishedCourses: i.Stats.PublishedCourses,
				TotalStudents:    i.Stats.TotalStudents,
				Earnings:         money(i.Stats.Earnings),
			},
		}
	}
	return resp
}
