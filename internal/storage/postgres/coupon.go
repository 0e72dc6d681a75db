package postgres

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/learnhub/internal/domain/coupon"
)

const (
	couponColumns = `id, code, discount_type, value, course_ids, valid_from, valid_until,
		max_uses, uses, active, locked, created_by, created_at`

	getCouponByCodeSQL = `SELECT ` + couponColumns + ` FROM coupons WHERE code = UPPER($1)`

	createCouponSQL = `INSERT INTO coupons (` + couponColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`

	updateCouponSQL = `UPDATE coupons
		SET value = $2, course_ids = $3, valid_from = $4, valid_until = $5, max_uses = $6
		WHERE code = $1 AND NOT locked`

	setCouponActiveSQL = `UPDATE coupons SET active = $2 WHERE code = UPPER($1)
		RETURNING ` + couponColumns

	listCouponsSQL = `SELECT ` + couponColumns + ` FROM coupons ORDER BY created_at, code`

	listCouponCodesSQL = `SELECT code FROM coupons`

	importCouponSQL = createCouponSQL + ` ON CONFLICT (code) DO NOTHING`
)

var _ coupon.Repository = (*CouponRepository)(nil)

// CouponRepository implements coupon.Repository backed by PostgreSQL.
type CouponRepository struct {
	pool *pgxpool.Pool
}

// NewCouponRepository returns a CouponRepository that uses the given pool.
func NewCouponRepository(pool *pgxpool.Pool) *CouponRepository {
	return &CouponRepository{pool: pool}
}

// FindByCode looks up a coupon by its code (case-insensitive) regardless of
// whether it is active. Returns coupon.ErrNotFound for unknown codes.
func (r *CouponRepository) FindByCode(ctx context.Context, code string) (*coupon.Coupon, error) {
	rows, err := r.pool.Query(ctx, getCouponByCodeSQL, code)
	if err != nil {
		return nil, fmt.Errorf("finding coupon by code %q: %w", code, err)
	}

	c, err := pgx.CollectExactlyOneRow(rows, scanCoupon)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, coupon.ErrNotFound
		}
		return nil, fmt.Errorf("finding coupon by code %q: %w", code, err)
	}
	return &c, nil
}

// Create persists a new coupon.
func (r *CouponRepository) Create(ctx context.Context, c *coupon.Coupon) error {
	_, err := r.pool.Exec(ctx, createCouponSQL,
		c.ID, c.Code, string(c.DiscountType), c.Value, courseIDs(c.CourseIDs),
		c.ValidFrom, c.ValidUntil, c.MaxUses, c.Uses, c.Active, c.Locked,
		c.CreatedBy, c.CreatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return coupon.ErrCodeTaken
		}
		return fmt.Errorf("creating coupon %q: %w", c.Code, err)
	}
	return nil
}

// Update rewrites the terms of a coupon that has not been redeemed yet.
func (r *CouponRepository) Update(ctx context.Context, c *coupon.Coupon) error {
	tag, err := r.pool.Exec(ctx, updateCouponSQL,
		c.Code, c.Value, courseIDs(c.CourseIDs), c.ValidFrom, c.ValidUntil, c.MaxUses,
	)
	if err != nil {
		return fmt.Errorf("updating coupon %q: %w", c.Code, err)
	}
	if tag.RowsAffected() > 0 {
		return nil
	}

	stored, err := r.FindByCode(ctx, c.Code)
	if err != nil {
		return err
	}
	if stored.Locked {
		return coupon.ErrLocked
	}
	return fmt.Errorf("updating coupon %q: no rows affected", c.Code)
}

// SetActive toggles whether a coupon can be redeemed.
func (r *CouponRepository) SetActive(ctx context.Context, code string, active bool) (*coupon.Coupon, error) {
	rows, err := r.pool.Query(ctx, setCouponActiveSQL, code, active)
	if err != nil {
		return nil, fmt.Errorf("setting coupon %q active=%t: %w", code, active, err)
	}
	c, err := pgx.CollectExactlyOneRow(rows, scanCoupon)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, coupon.ErrNotFound
		}
		return nil, fmt.Errorf("setting coupon %q active=%t: %w", code, active, err)
	}
	return &c, nil
}

// List returns every coupon.
func (r *CouponRepository) List(ctx context.Context) ([]coupon.Coupon, error) {
	rows, err := r.pool.Query(ctx, listCouponsSQL)
	if err != nil {
		return nil, fmt.Errorf("listing coupons: %w", err)
	}
	return pgx.CollectRows(rows, scanCoupon)
}

// Import inserts coupons in one batch, skipping codes that already exist. It
// returns how many were inserted.
func (r *CouponRepository) Import(ctx context.Context, cs []*coupon.Coupon) (int64, error) {
	batch := &pgx.Batch{}
	for _, c := range cs {
		batch.Queue(importCouponSQL,
			c.ID, c.Code, string(c.DiscountType), c.Value, courseIDs(c.CourseIDs),
			c.ValidFrom, c.ValidUntil, c.MaxUses, c.Uses, c.Active, c.Locked,
			c.CreatedBy, c.CreatedAt,
		)
	}

	br := r.pool.SendBatch(ctx, batch)
	defer func() { _ = br.Close() }()

	var inserted int64
	for _, c := range cs {
		tag, err := br.Exec()
		if err != nil {
			return inserted, fmt.Errorf("importing coupon %q: %w", c.Code, err)
		}
		inserted += tag.RowsAffected()
	}
	return inserted, nil
}

// Codes streams every stored coupon code to fn.
func (r *CouponRepository) Codes(ctx context.Context, fn func(code string)) error {
	rows, err := r.pool.Query(ctx, listCouponCodesSQL)
	if err != nil {
		return fmt.Errorf("listing coupon codes: %w", err)
	}
	var code string
	_, err = pgx.ForEachRow(rows, []any{&code}, func() error {
		fn(code)
		return nil
	})
	if err != nil {
		return fmt.Errorf("reading coupon codes: %w", err)
	}
	return nil
}

// courseIDs keeps the NOT NULL course_ids column from receiving a nil slice.
func courseIDs(ids []string) []string {
	if ids == nil {
		return []string{}
	}
	return ids
}

func scanCoupon(row pgx.CollectableRow) (coupon.Coupon, error) {
	var (
		c            coupon.Coupon
		discountType string
		maxUses      int32
		uses         int32
	)
	err := row.Scan(
		&c.ID, &c.Code, &discountType, &c.Value, &c.CourseIDs, &c.ValidFrom, &c.ValidUntil,
		&maxUses, &uses, &c.Active, &c.Locked, &c.CreatedBy, &c.CreatedAt,
	)
	c.DiscountType = coupon.DiscountType(discountType)
	c.MaxUses = int(maxUses)
	c.Uses = int(uses)
	return c, err
}
