package stores

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// consumeEmailOTPScript walks the user's codes newest first and checks only the
// most recent unexpired unused one. A match marks it used.
//
// KEYS[1] index zset; ARGV[1] record key prefix, ARGV[2] now (ms), ARGV[3] code.
// Record keys carry the same user hash tag as KEYS[1].
const consumeEmailOTPScript = `
local ids = redis.call("ZREVRANGE", KEYS[1], 0, -1)
local now = tonumber(ARGV[2])
for _, id in ipairs(ids) do
  local key = ARGV[1] .. id
  local rec = redis.call("HMGET", key, "code", "expires_at", "used")
  if rec[1] then
    if rec[3] == "0" and tonumber(rec[2]) > now then
      if rec[1] == ARGV[3] then
        redis.call("HSET", key, "used", "1")
        return 1
      end
      return 0
    end
  else
    redis.call("ZREM", KEYS[1], id)
  end
end
return 0
`

var consumeEmailOTPLua = redis.NewScript(consumeEmailOTPScript)

// SaveEmailOTP stores a new code for the user. Records expire from Redis some
// time after their logical expiry; the index is pruned lazily.
func (s *FactorStore) SaveEmailOTP(ctx context.Context, userID, code string, now, expiresAt time.Time) error {
	id := uuid.NewString()
	key := s.emailOTPPrefix(userID) + id
	index := s.emailOTPIndexKey(userID)
	retention := expiresAt.Sub(now) + time.Hour

	_, err := s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, key, map[string]interface{}{
			"code":       code,
			"expires_at": expiresAt.UnixMilli(),
			"used":       "0",
		})
		pipe.Expire(ctx, key, retention)
		pipe.ZAdd(ctx, index, redis.Z{Score: float64(now.UnixMicro()), Member: id})
		pipe.Expire(ctx, index, retention)
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrBackend, err)
	}
	return nil
}

// ConsumeEmailOTP compares code with the user's most recent unexpired unused code
// and marks it used on an exact match.
func (s *FactorStore) ConsumeEmailOTP(ctx context.Context, userID, code string, now time.Time) (bool, error) {
	res, err := consumeEmailOTPLua.Run(ctx, s.redis,
		[]string{s.emailOTPIndexKey(userID)},
		s.emailOTPPrefix(userID), now.UnixMilli(), code,
	).Int()
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrBackend, err)
	}
	return res == 1, nil
}
