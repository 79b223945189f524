package stores

import (
	"context"
	"fmt"
	"time"
)

func (s *FactorStore) challengeKey(tokenID string) string {
	return s.prefix + ":chl:" + tokenID
}

// ClaimChallenge marks the intermediate token tokenID as in use until ttl
// elapses. It reports false when the token was already claimed.
func (s *FactorStore) ClaimChallenge(ctx context.Context, tokenID string, ttl time.Duration) (bool, error) {
	if ttl < time.Second {
		ttl = time.Second
	}
	ok, err := s.redis.SetNX(ctx, s.challengeKey(tokenID), "1", ttl).Result()
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrBackend, err)
	}
	return ok, nil
}

// ReleaseChallenge undoes a claim so the token can be presented again.
func (s *FactorStore) ReleaseChallenge(ctx context.Context, tokenID string) error {
	if err := s.redis.Del(ctx, s.challengeKey(tokenID)).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrBackend, err)
	}
	return nil
}
