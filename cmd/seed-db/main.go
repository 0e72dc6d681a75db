package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/xenking/learnhub/internal/domain/auth"
	"github.com/xenking/learnhub/internal/domain/coupon"
	"github.com/xenking/learnhub/internal/domain/course"
	"github.com/xenking/learnhub/internal/domain/instructor"
	"github.com/xenking/learnhub/internal/handler"
	"github.com/xenking/learnhub/internal/notify"
	"github.com/xenking/learnhub/internal/storage/postgres"
)

type userJSON struct {
	UserID string `json:"user_id"`
	Email  string `json:"email"`
}

type unitJSON struct {
	ID       string `json:"id"`
	Title    string `json:"title"`
	Required bool   `json:"required"`
}

type courseJSON struct {
	Key         string          `json:"key"`
	Title       string          `json:"title"`
	Description string          `json:"description"`
	Category    string          `json:"category"`
	Price       decimal.Decimal `json:"price"`
	Published   bool            `json:"published"`
	Units       []unitJSON      `json:"units"`
}

type instructorJSON struct {
	userJSON
	Bio     string       `json:"bio"`
	Courses []courseJSON `json:"courses"`
}

type couponJSON struct {
	Code         string          `json:"code"`
	DiscountType string          `json:"discount_type"`
	Value        decimal.Decimal `json:"value"`
	Courses      []string        `json:"courses"`
	MaxUses      int             `json:"max_uses"`
}

type catalogJSON struct {
	Admin       userJSON         `json:"admin"`
	Students    []userJSON       `json:"students"`
	Instructors []instructorJSON `json:"instructors"`
	Coupons     []couponJSON     `json:"coupons"`
}

type seeder struct {
	lg          *zap.Logger
	admin       auth.Actor
	gate        *instructor.Gate
	courses     *course.Service
	courseRepo  *postgres.CourseRepository
	coupons     *coupon.Service
	courseByKey map[string]string
}

func main() {
	var (
		databaseURL string
		catalogFile string
		jwtSecret   string
		issuer      string
		tokenTTL    time.Duration
	)

	flag.StringVar(&databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.StringVar(&catalogFile, "catalog-file", "db/seed/catalog.json", "path to catalog JSON file")
	flag.StringVar(&jwtSecret, "jwt-secret", "", "HS256 secret for demo tokens (or LEARNHUB_AUTH_JWTSECRET env)")
	flag.StringVar(&issuer, "issuer", "learnhub", "issuer of demo tokens")
	flag.DurationVar(&tokenTTL, "token-ttl", 24*time.Hour, "lifetime of demo tokens")
	flag.Parse()

	lg, err := zap.NewDevelopment()
	if err != nil {
		panic(err)
	}
	defer func() { _ = lg.Sync() }()

	if databaseURL == "" {
		databaseURL = os.Getenv("DATABASE_URL")
	}
	if databaseURL == "" {
		lg.Fatal("Database URL is required: set --database-url or DATABASE_URL")
	}
	if jwtSecret == "" {
		jwtSecret = os.Getenv("LEARNHUB_AUTH_JWTSECRET")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	catalog, err := run(ctx, lg, databaseURL, catalogFile)
	if err != nil {
		lg.Fatal("Seed failed", zap.Error(err))
	}
	lg.Info("Seed completed successfully")

	if jwtSecret == "" {
		lg.Info("No JWT secret given, skipping demo tokens")
		return
	}
	if err := printTokens(catalog, []byte(jwtSecret), issuer, tokenTTL); err != nil {
		lg.Fatal("Sign tokens", zap.Error(err))
	}
}

func run(ctx context.Context, lg *zap.Logger, databaseURL, catalogFile string) (*catalogJSON, error) {
	data, err := os.ReadFile(catalogFile)
	if err != nil {
		return nil, errors.Wrap(err, "read catalog file")
	}
	var catalog catalogJSON
	if err := json.Unmarshal(data, &catalog); err != nil {
		return nil, errors.Wrap(err, "parse catalog JSON")
	}

	lg.Info("Connecting to database")
	pool, err := postgres.NewPool(ctx, databaseURL)
	if err != nil {
		return nil, errors.Wrap(err, "connect to database")
	}
	defer pool.Close()

	if err := postgres.RunMigrations(ctx, pool); err != nil {
		return nil, errors.Wrap(err, "run migrations")
	}

	gate := instructor.NewGate(postgres.NewInstructorRepository(pool), notify.Log{})
	courseRepo := postgres.NewCourseRepository(pool)
	s := &seeder{
		lg:          lg,
		admin:       actorOf(catalog.Admin, auth.RoleAdmin),
		gate:        gate,
		courses:     course.NewService(courseRepo, gate),
		courseRepo:  courseRepo,
		coupons:     coupon.NewService(postgres.NewCouponRepository(pool)),
		courseByKey: make(map[string]string),
	}

	for _, in := range catalog.Instructors {
		if err := s.seedInstructor(ctx, in); err != nil {
			return nil, errors.Wrapf(err, "seed instructor %s", in.UserID)
		}
	}
	for _, c := range catalog.Coupons {
		if err := s.seedCoupon(ctx, c); err != nil {
			return nil, errors.Wrapf(err, "seed coupon %s", c.Code)
		}
	}
	return &catalog, nil
}

func actorOf(u userJSON, role auth.Role) auth.Actor {
	return auth.Actor{UserID: u.UserID, Email: u.Email, Role: role}
}

// seedInstructor applies, approves and creates the instructor's courses. It
// is safe to re-run: existing profiles and courses are reused.
func (s *seeder) seedInstructor(ctx context.Context, in instructorJSON) error {
	actor := actorOf(in.userJSON, auth.RoleInstructor)

	p, err := s.gate.Apply(ctx, actor, in.Bio)
	switch {
	case errors.Is(err, instructor.ErrAlreadyApplied):
		if p, err = s.gate.Application(ctx, actor); err != nil {
			return errors.Wrap(err, "load profile")
		}
	case err != nil:
		return errors.Wrap(err, "apply")
	}
	if p.Status == instructor.StatusPending {
		if p, err = s.gate.Decide(ctx, s.admin, p.ID, instructor.StatusApproved); err != nil {
			return errors.Wrap(err, "approve")
		}
	}
	s.lg.Info("Instructor ready", zap.String("user_id", in.UserID), zap.String("status", string(p.Status)))
	if !p.Approved() {
		return nil
	}

	existing, err := s.courseRepo.ListByInstructor(ctx, p.ID)
	if err != nil {
		return errors.Wrap(err, "list courses")
	}
	byTitle := make(map[string]string, len(existing))
	for _, c := range existing {
		byTitle[c.Title] = c.ID
	}

	for _, cj := range in.Courses {
		id, ok := byTitle[cj.Title]
		if !ok {
			c, err := s.courses.Create(ctx, actor, course.CreateInput{
				Title:       cj.Title,
				Description: cj.Description,
				Category:    cj.Category,
				Price:       cj.Price,
			})
			if err != nil {
				return errors.Wrapf(err, "create course %q", cj.Title)
			}
			id = c.ID
		}
		s.courseByKey[cj.Key] = id

		units := make([]course.Unit, 0, len(cj.Units))
		for _, u := range cj.Units {
			units = append(units, course.Unit{ID: u.ID, Title: u.Title, Required: u.Required})
		}
		if err := s.courseRepo.SaveUnits(ctx, id, units); err != nil {
			return errors.Wrapf(err, "save units of %q", cj.Title)
		}

		status := course.StatusDraft
		if cj.Published {
			status = course.StatusPublished
		}
		if _, err := s.courses.SetStatus(ctx, actor, id, status); err != nil {
			return errors.Wrapf(err, "set status of %q", cj.Title)
		}
		s.lg.Info("Course ready",
			zap.String("key", cj.Key),
			zap.String("id", id),
			zap.String("status", string(status)),
			zap.Int("units", len(units)),
		)
	}
	return nil
}

func (s *seeder) seedCoupon(ctx context.Context, cj couponJSON) error {
	ids := make([]string, 0, len(cj.Courses))
	for _, key := range cj.Courses {
		id, ok := s.courseByKey[key]
		if !ok {
			return errors.Errorf("unknown course key %q", key)
		}
		ids = append(ids, id)
	}
	_, err := s.coupons.Create(ctx, s.admin, coupon.CreateInput{
		Code:         cj.Code,
		DiscountType: coupon.DiscountType(cj.DiscountType),
		Value:        cj.Value,
		CourseIDs:    ids,
		MaxUses:      cj.MaxUses,
	})
	if errors.Is(err, coupon.ErrCodeTaken) {
		s.lg.Info("Coupon exists", zap.String("code", cj.Code))
		return nil
	}
	if err != nil {
		return err
	}
	s.lg.Info("Coupon created", zap.String("code", cj.Code))
	return nil
}

// printTokens writes one bearer token per demo user to stdout.
func printTokens(c *catalogJSON, secret []byte, issuer string, ttl time.Duration) error {
	actors := []auth.Actor{actorOf(c.Admin, auth.RoleAdmin)}
	for _, in := range c.Instructors {
		actors = append(actors, actorOf(in.userJSON, auth.RoleInstructor))
	}
	for _, st := range c.Students {
		actors = append(actors, actorOf(st, auth.RoleStudent))
	}
	for _, a := range actors {
		tok, err := handler.SignToken(secret, issuer, a, ttl)
		if err != nil {
			return errors.Wrapf(err, "sign token for %s", a.UserID)
		}
		fmt.Printf("%-12s %-16s %s\n", a.Role, a.UserID, tok)
	}
	return nil
}
