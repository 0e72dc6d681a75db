package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/learnhub/internal/domain/coupon"
)

// couponCreatedChannel is notified by the coupons_notify_created trigger
// with the inserted code as payload.
const couponCreatedChannel = "coupon_created"

var _ coupon.Feed = (*CouponFeed)(nil)

// CouponFeed implements coupon.Feed with LISTEN/NOTIFY on a dedicated pool
// connection.
type CouponFeed struct {
	pool *pgxpool.Pool
}

// NewCouponFeed returns a CouponFeed that uses the given pool.
func NewCouponFeed(pool *pgxpool.Pool) *CouponFeed {
	return &CouponFeed{pool: pool}
}

// Listen takes a connection out of the pool for as long as the subscription
// lives and closes it afterwards.
func (f *CouponFeed) Listen(ctx context.Context, subscribed func(ctx context.Context) error, fn func(code string)) error {
	pooled, err := f.pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquiring listener connection: %w", err)
	}
	conn := pooled.Hijack()
	defer func() { _ = conn.Close(context.WithoutCancel(ctx)) }()

	if _, err := conn.Exec(ctx, "LISTEN "+couponCreatedChannel); err != nil {
		return fmt.Errorf("listening on %s: %w", couponCreatedChannel, err)
	}
	if err := subscribed(ctx); err != nil {
		return fmt.Errorf("on subscribe: %w", err)
	}

	for {
		n, err := conn.WaitForNotification(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("waiting for notification: %w", err)
		}
		fn(n.Payload)
	}
}
