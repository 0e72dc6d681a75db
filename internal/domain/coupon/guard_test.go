package coupon

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGuard(t *testing.T) {
	repo := newMockCouponRepo(Coupon{Code: "KNOWN", DiscountType: DiscountFixed, Value: decimal.NewFromInt(1), Active: true})
	g := NewGuard(repo, 1000, 0.001)
	ctx := context.Background()

	n, err := g.Warm(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	_, err = g.FindByCode(ctx, "NEVER-ISSUED")
	require.ErrorIs(t, err, ErrNotFound)
	assert.Equal(t, 0, repo.lookups, "unknown code must not reach the repository")

	got, err := g.FindByCode(ctx, "KNOWN")
	require.NoError(t, err)
	assert.Equal(t, "KNOWN", got.Code)
	assert.Equal(t, 1, repo.lookups)

	require.NoError(t, g.Create(ctx, &Coupon{Code: "FRESH", DiscountType: DiscountFixed, Value: decimal.NewFromInt(1)}))
	_, err = g.FindByCode(ctx, "FRESH")
	require.NoError(t, err)
}

// chanFeed delivers codes sent on codes. The first fail subscriptions break
// right after subscribing.
type chanFeed struct {
	codes chan string

	mu         sync.Mutex
	fail       int
	subscribes int
	live       chan struct{}
}

func newChanFeed(fail int) *chanFeed {
	return &chanFeed{codes: make(chan string), fail: fail, live: make(chan struct{})}
}

func (f *chanFeed) Listen(ctx context.Context, subscribed func(context.Context) error, fn func(string)) error {
	if err := subscribed(ctx); err != nil {
		return err
	}
	f.mu.Lock()
	f.subscribes++
	if f.subscribes <= f.fail {
		f.mu.Unlock()
		return errors.New("connection reset")
	}
	close(f.live)
	f.mu.Unlock()

	for {
		select {
		case <-ctx.Done():
			return nil
		case code := <-f.codes:
			fn(code)
		}
	}
}

func TestGuard_FollowLearnsForeignInserts(t *testing.T) {
	repo := newMockCouponRepo(Coupon{Code: "KNOWN", DiscountType: DiscountFixed, Value: decimal.NewFromInt(1), Active: true})
	g := NewGuard(repo, 1000, 0.001)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	_, err := g.Warm(ctx)
	require.NoError(t, err)

	feed := newChanFeed(0)
	done := make(chan struct{})
	go func() {
		defer close(done)
		g.Follow(ctx, feed, time.Millisecond)
	}()
	<-feed.live

	// Another writer inserts a coupon behind the guard.
	repo.byCode["IMPORTED"] = &Coupon{Code: "IMPORTED", DiscountType: DiscountFixed, Value: decimal.NewFromInt(5), Active: true}
	feed.codes <- "IMPORTED"

	v := NewRepoValidator(g)
	assert.Eventually(t, func() bool {
		c, err := v.Validate(ctx, "imported", "course-1", studentActor)
		return err == nil && c.Code == "IMPORTED"
	}, time.Second, 5*time.Millisecond)

	cancel()
	<-done
}

func TestGuard_FollowRewarmsAfterReconnect(t *testing.T) {
	repo := newMockCouponRepo()
	g := NewGuard(repo, 1000, 0.001)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	_, err := g.Warm(ctx)
	require.NoError(t, err)
	// Inserted while no subscription is live.
	repo.byCode["MISSED"] = &Coupon{Code: "MISSED", DiscountType: DiscountFixed, Value: decimal.NewFromInt(1), Active: true}

	feed := newChanFeed(2)
	done := make(chan struct{})
	go func() {
		defer close(done)
		g.Follow(ctx, feed, time.Millisecond)
	}()
	<-feed.live

	got, err := g.FindByCode(ctx, "MISSED")
	require.NoError(t, err)
	assert.Equal(t, "MISSED", got.Code)

	feed.mu.Lock()
	assert.Equal(t, 3, feed.subscribes)
	feed.mu.Unlock()

	cancel()
	<-done
}
