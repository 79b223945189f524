package limiters

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/time/rate"
)

// sendBucketScript is a GCRA token bucket. The key holds the theoretical
// arrival time; a request is admitted while it is at most burst-1 intervals
// ahead of now.
//
// KEYS[1] bucket; ARGV[1] now (ms), ARGV[2] interval (ms), ARGV[3] burst.
const sendBucketScript = `
local now = tonumber(ARGV[1])
local interval = tonumber(ARGV[2])
local tolerance = interval * (tonumber(ARGV[3]) - 1)
local tat = tonumber(redis.call("GET", KEYS[1])) or now
if tat < now then
  tat = now
end
if tat - now > tolerance then
  return 0
end
local nextTat = tat + interval
redis.call("SET", KEYS[1], nextTat, "PX", nextTat - now)
return 1
`

var sendBucketLua = redis.NewScript(sendBucketScript)

// ErrSendLimiterUnavailable wraps every send limiter backend failure.
var ErrSendLimiterUnavailable = errors.New("send limiter unavailable")

// SendLimiter throttles outbound one-time codes per user. State lives in Redis
// so every engine instance draws from the same bucket.
type SendLimiter struct {
	redis  redis.UniversalClient
	prefix string
	limit  rate.Limit
	burst  int
}

// NewSendLimiter allows burst sends immediately and then one per every.
// A zero every disables throttling.
func NewSendLimiter(redisClient redis.UniversalClient, prefix string, every time.Duration, burst int) *SendLimiter {
	if prefix == "" {
		prefix = "otps"
	}
	limit := rate.Inf
	if every > 0 {
		limit = rate.Every(every)
	}
	return &SendLimiter{
		redis:  redisClient,
		prefix: prefix,
		limit:  limit,
		burst:  max(burst, 1),
	}
}

func (l *SendLimiter) key(userID string) string {
	return l.prefix + ":{" + userID + "}"
}

// Allow consumes one token for userID at now.
func (l *SendLimiter) Allow(ctx context.Context, userID string, now time.Time) (bool, error) {
	if l == nil || l.limit == rate.Inf {
		return true, nil
	}
	interval := int64(math.Ceil(float64(time.Second.Milliseconds()) / float64(l.limit)))
	res, err := sendBucketLua.Run(ctx, l.redis, []string{l.key(userID)},
		strconv.FormatInt(now.UnixMilli(), 10), interval, l.burst,
	).Int()
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrSendLimiterUnavailable, err)
	}
	return res == 1, nil
}
