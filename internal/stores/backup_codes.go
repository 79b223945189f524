package stores

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/redis/go-redis/v9"
)

// redeemBackupCodeScript moves a code from the unused hash to the used hash.
// HDEL succeeds for exactly one caller.
const redeemBackupCodeScript = `
if redis.call("HDEL", KEYS[1], ARGV[1]) == 0 then
  return 0
end
redis.call("HSET", KEYS[2], ARGV[1], ARGV[2])
return 1
`

var redeemBackupCodeLua = redis.NewScript(redeemBackupCodeScript)

// BackupCode is an unused backup code hash.
type BackupCode struct {
	ID   string
	Hash string
}

// ReplaceBackupCodes discards every previous code, used or not, and stores codes.
func (s *FactorStore) ReplaceBackupCodes(ctx context.Context, userID string, codes []BackupCode) error {
	values := make(map[string]interface{}, len(codes))
	for _, c := range codes {
		values[c.ID] = c.Hash
	}
	unused := s.backupCodesKey(userID)
	used := s.usedBackupCodesKey(userID)

	_, err := s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, unused, used)
		if len(values) > 0 {
			pipe.HSet(ctx, unused, values)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrBackend, err)
	}
	return nil
}

// UnusedBackupCodes returns all unused code hashes, ordered by id.
func (s *FactorStore) UnusedBackupCodes(ctx context.Context, userID string) ([]BackupCode, error) {
	m, err := s.redis.HGetAll(ctx, s.backupCodesKey(userID)).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBackend, err)
	}
	out := make([]BackupCode, 0, len(m))
	for id, hash := range m {
		out = append(out, BackupCode{ID: id, Hash: hash})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// CountUnusedBackupCodes returns how many codes remain redeemable.
func (s *FactorStore) CountUnusedBackupCodes(ctx context.Context, userID string) (int, error) {
	n, err := s.redis.HLen(ctx, s.backupCodesKey(userID)).Result()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrBackend, err)
	}
	return int(n), nil
}

// RedeemBackupCode marks codeID used. It reports false when the code was already
// used or never existed.
func (s *FactorStore) RedeemBackupCode(ctx context.Context, userID, codeID string, now time.Time) (bool, error) {
	keys := []string{s.backupCodesKey(userID), s.usedBackupCodesKey(userID)}
	res, err := redeemBackupCodeLua.Run(ctx, s.redis, keys, codeID, now.UnixMilli()).Int()
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrBackend, err)
	}
	return res == 1, nil
}
