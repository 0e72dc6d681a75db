package redis

import (
	"context"
	"fmt"
	"strconv"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/xenking/learnhub/pkg/httpmiddleware"
)

// takeToken reads the weighted count of the previous and current windows and
// counts the request when it fits. It returns the count before the request.
//
// KEYS[1] current window, KEYS[2] previous window.
// ARGV[1] limit, ARGV[2] weight of the previous window, ARGV[3] ttl in ms.
var takeToken = goredis.NewScript(`
local curr = tonumber(redis.call("GET", KEYS[1]) or "0")
local prev = tonumber(redis.call("GET", KEYS[2]) or "0")
local count = prev * tonumber(ARGV[2]) + curr
if count < tonumber(ARGV[1]) then
	redis.call("INCR", KEYS[1])
	redis.call("PEXPIRE", KEYS[1], ARGV[3])
end
return tostring(count)
`)

var _ httpmiddleware.RateStore = (*RateStore)(nil)

// RateStore shares rate limit windows between API instances. Windows are
// aligned to multiples of their size, so every instance agrees on the keys.
type RateStore struct {
	rdb    *goredis.Client
	prefix string
}

// NewRateStore returns a RateStore namespaced with prefix.
func NewRateStore(rdb *goredis.Client, prefix string) *RateStore {
	if prefix == "" {
		prefix = "learnhub"
	}
	return &RateStore{rdb: rdb, prefix: prefix}
}

func (s *RateStore) windowKey(key string, start time.Time) string {
	return s.prefix + ":ratelimit:" + key + ":" + strconv.FormatInt(start.UnixMilli(), 10)
}

// Take implements httpmiddleware.RateStore.
func (s *RateStore) Take(ctx context.Context, key string, limit int, size time.Duration, now time.Time) (httpmiddleware.Decision, error) {
	start := now.Truncate(size)
	weight := 1 - now.Sub(start).Seconds()/size.Seconds()

	keys := []string{s.windowKey(key, start), s.windowKey(key, start.Add(-size))}
	raw, err := takeToken.Run(ctx, s.rdb, keys, limit, weight, (2 * size).Milliseconds()).Text()
	if err != nil {
		return httpmiddleware.Decision{}, fmt.Errorf("rate limit %q: %w", key, err)
	}
	count, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return httpmiddleware.Decision{}, fmt.Errorf("rate limit %q: parse count %q: %w", key, raw, err)
	}
	return httpmiddleware.Decide(count, limit, start.Add(size)), nil
}
