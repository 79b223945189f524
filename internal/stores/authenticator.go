package stores

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// acceptCounterScript records a matched time step unless an equal or newer one
// was already accepted for the current secret.
//
// KEYS[1] authenticator hash; ARGV[1] counter.
const acceptCounterScript = `
if redis.call("EXISTS", KEYS[1]) == 0 then
  return -1
end
local last = tonumber(redis.call("HGET", KEYS[1], "last_counter"))
if last and last >= tonumber(ARGV[1]) then
  return 0
end
redis.call("HSET", KEYS[1], "last_counter", ARGV[1])
return 1
`

var acceptCounterLua = redis.NewScript(acceptCounterScript)

// AuthenticatorSecret is the user's single TOTP secret.
type AuthenticatorSecret struct {
	Secret    string
	Verified  bool
	CreatedAt time.Time
}

// SaveAuthenticator replaces any existing secret with a new unverified one.
func (s *FactorStore) SaveAuthenticator(ctx context.Context, userID, secret string, now time.Time) error {
	key := s.authenticatorKey(userID)
	_, err := s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, key)
		pipe.HSet(ctx, key, map[string]interface{}{
			"secret":     secret,
			"verified":   "0",
			"created_at": now.UnixMilli(),
		})
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrBackend, err)
	}
	return nil
}

// GetAuthenticator returns the stored secret or ErrNotFound.
func (s *FactorStore) GetAuthenticator(ctx context.Context, userID string) (*AuthenticatorSecret, error) {
	m, err := s.redis.HGetAll(ctx, s.authenticatorKey(userID)).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBackend, err)
	}
	secret, ok := m["secret"]
	if !ok || secret == "" {
		return nil, ErrNotFound
	}
	return &AuthenticatorSecret{
		Secret:    secret,
		Verified:  m["verified"] == "1",
		CreatedAt: parseMillis(m["created_at"]),
	}, nil
}

// MarkAuthenticatorVerified flips the verified flag. It fails with ErrNotFound
// if the secret was removed concurrently.
func (s *FactorStore) MarkAuthenticatorVerified(ctx context.Context, userID string) error {
	const maxRetries = 4
	key := s.authenticatorKey(userID)

	for i := 0; i < maxRetries; i++ {
		err := s.redis.Watch(ctx, func(tx *redis.Tx) error {
			exists, err := tx.Exists(ctx, key).Result()
			if err != nil {
				return err
			}
			if exists == 0 {
				return ErrNotFound
			}
			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.HSet(ctx, key, "verified", "1")
				return nil
			})
			return err
		}, key)
		if err == nil {
			return nil
		}
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if errors.Is(err, ErrNotFound) {
			return err
		}
		return fmt.Errorf("%w: %v", ErrBackend, err)
	}
	return fmt.Errorf("%w: authenticator update contention", ErrBackend)
}

// AcceptAuthenticatorCounter stores counter as the last used time step. It
// reports false when counter is not newer than the stored one and returns
// ErrNotFound when the user has no secret. Replacing the secret resets the
// stored step.
func (s *FactorStore) AcceptAuthenticatorCounter(ctx context.Context, userID string, counter int64) (bool, error) {
	res, err := acceptCounterLua.Run(ctx, s.redis, []string{s.authenticatorKey(userID)}, counter).Int()
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrBackend, err)
	}
	if res < 0 {
		return false, ErrNotFound
	}
	return res == 1, nil
}

// DeleteAuthenticator removes the secret.
func (s *FactorStore) DeleteAuthenticator(ctx context.Context, userID string) error {
	if err := s.redis.Del(ctx, s.authenticatorKey(userID)).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrBackend, err)
	}
	return nil
}
