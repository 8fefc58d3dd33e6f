package redis

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/pscheid92/commhub/internal/domain"
	goredis "github.com/redis/go-redis/v9"
)

const rateLimitWindow = time.Hour

// takeSlot counts one call against the window unless the limit is already
// reached; denied calls leave the counter alone. The window starts on first
// use. Returns {allowed, count, remaining ttl in ms}.
var takeSlot = goredis.NewScript(`
local count = tonumber(redis.call("GET", KEYS[1]) or "0")
local allowed = 0
if count < tonumber(ARGV[2]) then
	count = redis.call("INCR", KEYS[1])
	allowed = 1
end
local ttl = redis.call("PTTL", KEYS[1])
if ttl < 0 then
	redis.call("PEXPIRE", KEYS[1], ARGV[1])
	ttl = tonumber(ARGV[1])
end
return {allowed, count, ttl}
`)

// APICallRecorder mirrors the hourly counter into durable storage.
type APICallRecorder interface {
	RecordAPICalls(ctx context.Context, id uuid.UUID, count int, resetAt time.Time) error
}

// RateLimiter enforces a fixed one-hour window of Graph API calls per
// Instagram integration.
type RateLimiter struct {
	rdb      *goredis.Client
	recorder APICallRecorder
	clock    clockwork.Clock
	limit    int
}

var _ domain.RateLimiter = (*RateLimiter)(nil)

func NewRateLimiter(rdb *goredis.Client, recorder APICallRecorder, clock clockwork.Clock) *RateLimiter {
	return &RateLimiter{rdb: rdb, recorder: recorder, clock: clock, limit: domain.InstagramHourlyCallLimit}
}

func (r *RateLimiter) Allow(ctx context.Context, integrationID uuid.UUID) (bool, time.Time, error) {
	key := "ratelimit:instagram:" + integrationID.String()

	res, err := takeSlot.Run(ctx, r.rdb, []string{key}, rateLimitWindow.Milliseconds(), r.limit).Int64Slice()
	if err != nil {
		return false, time.Time{}, fmt.Errorf("failed to check rate limit: %w", err)
	}
	if len(res) != 3 {
		return false, time.Time{}, fmt.Errorf("unexpected rate limit reply: %v", res)
	}

	allowed, count := res[0] == 1, int(res[1])
	resetAt := r.clock.Now().Add(time.Duration(res[2]) * time.Millisecond)
	if !allowed {
		return false, resetAt, nil
	}

	if r.recorder != nil {
		if err := r.recorder.RecordAPICalls(ctx, integrationID, count, resetAt); err != nil {
			slog.WarnContext(ctx, "Failed to mirror api call counter", "integration_id", integrationID, "error", err)
		}
	}
	return true, resetAt, nil
}
