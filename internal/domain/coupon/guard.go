package coupon

import (
	"context"
	"sync"
	"time"

	"github.com/bits-and-blooms/bloom/v3"
	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"
)

var _ Repository = (*Guard)(nil)

// Guard fronts a Repository with a bloom filter of known codes so that
// lookups of codes that were never issued skip the database. False positives
// fall through to the repository.
type Guard struct {
	Repository

	mu     sync.RWMutex
	filter *bloom.BloomFilter
}

// NewGuard creates a Guard sized for capacity codes at the given false
// positive rate. Call Warm before serving lookups.
func NewGuard(repo Repository, capacity uint, fpRate float64) *Guard {
	return &Guard{
		Repository: repo,
		filter:     bloom.NewWithEstimates(capacity, fpRate),
	}
}

// Warm loads every stored code into the filter.
func (g *Guard) Warm(ctx context.Context) (int, error) {
	var n int
	err := g.Repository.Codes(ctx, func(code string) {
		g.Learn(code)
		n++
	})
	if err != nil {
		return n, errors.Wrap(err, "load coupon codes")
	}
	return n, nil
}

// FindByCode rejects codes the filter has never seen.
func (g *Guard) FindByCode(ctx context.Context, code string) (*Coupon, error) {
	g.mu.RLock()
	known := g.filter.TestString(code)
	g.mu.RUnlock()
	if !known {
		return nil, ErrNotFound
	}
	return g.Repository.FindByCode(ctx, code)
}

// Create stores the coupon and records its code in the filter.
func (g *Guard) Create(ctx context.Context, c *Coupon) error {
	if err := g.Repository.Create(ctx, c); err != nil {
		return err
	}
	g.Learn(c.Code)
	return nil
}

// Learn records a stored code in the filter.
func (g *Guard) Learn(code string) {
	g.mu.Lock()
	g.filter.AddString(code)
	g.mu.Unlock()
}

// Feed announces coupons inserted by any writer, including other replicas
// and bulk imports.
type Feed interface {
	// Listen calls subscribed once the subscription is live, then fn for
	// every inserted code, until ctx ends or the subscription breaks.
	Listen(ctx context.Context, subscribed func(ctx context.Context) error, fn func(code string)) error
}

// Follow keeps the filter in step with feed until ctx ends. The filter is
// rewarmed on every (re)subscription so that codes inserted while no
// subscription was live are not missed. A non-positive retry means one
// second.
func (g *Guard) Follow(ctx context.Context, feed Feed, retry time.Duration) {
	if retry <= 0 {
		retry = time.Second
	}
	lg := zctx.From(ctx)
	for {
		err := feed.Listen(ctx, func(ctx context.Context) error {
			n, err := g.Warm(ctx)
			if err != nil {
				return err
			}
			lg.Debug("Coupon feed subscribed", zap.Int("codes", n))
			return nil
		}, g.Learn)
		if ctx.Err() != nil {
			return
		}
		lg.Warn("Coupon feed interrupted", zap.Error(err), zap.Duration("retry", retry))

		timer := time.NewTimer(retry)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}
