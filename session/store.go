package session

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

var (
	// ErrRedisUnavailable wraps every backend failure returned by Store.
	ErrRedisUnavailable = errors.New("redis unavailable")
	// ErrNotFound is returned when a session does not exist or belongs to another user.
	ErrNotFound = errors.New("device session not found")
	// ErrBlocked is returned by Delete for a blocked session. Blocked rows carry
	// the block itself, so they are only removed after an unblock.
	ErrBlocked = errors.New("device session blocked")
)

// deleteSessionScript removes the hash and its index entry only when the hash
// belongs to the given user and is not blocked.
const deleteSessionScript = `
local row = redis.call("HMGET", KEYS[1], "user", "blocked")
if row[1] ~= ARGV[1] then
  return 0
end
if row[2] == "1" then
  return -1
end
redis.call("DEL", KEYS[1])
redis.call("SREM", KEYS[2], ARGV[2])
return 1
`

// deleteUnblockedScript deletes each listed session that is still owned and
// unblocked at execution time.
//
// KEYS[1] user index, KEYS[2..] session hashes; ARGV[1] user, ARGV[2..] ids.
const deleteUnblockedScript = `
local removed = 0
for i = 2, #KEYS do
  local row = redis.call("HMGET", KEYS[i], "user", "blocked")
  if row[1] == ARGV[1] and row[2] ~= "1" then
    redis.call("DEL", KEYS[i])
    redis.call("SREM", KEYS[1], ARGV[i])
    removed = removed + 1
  end
end
return removed
`

var deleteUnblockedLua = redis.NewScript(deleteUnblockedScript)

var deleteSessionLua = redis.NewScript(deleteSessionScript)

// setBlockedScript flips the blocked flag only for an owned session.
const setBlockedScript = `
local owner = redis.call("HGET", KEYS[1], "user")
if owner ~= ARGV[1] then
  return 0
end
redis.call("HSET", KEYS[1], "blocked", ARGV[2])
return 1
`

var setBlockedLua = redis.NewScript(setBlockedScript)

// Store persists device sessions in Redis.
type Store struct {
	redis  redis.UniversalClient
	prefix string
	newID  func() string
}

// NewStore returns a Store that namespaces keys under prefix.
func NewStore(redisClient redis.UniversalClient, prefix string) *Store {
	if prefix == "" {
		prefix = "ds"
	}
	return &Store{
		redis:  redisClient,
		prefix: prefix,
		newID:  uuid.NewString,
	}
}

// Keys of one user share the {userID} hash tag so scripts and transactions
// touching a session and its index stay in one cluster slot.
func (s *Store) key(userID, sessionID string) string {
	return s.prefix + ":s:{" + userID + "}:" + sessionID
}

func (s *Store) userKey(userID string) string {
	return s.prefix + ":u:{" + userID + "}"
}

// Create stores a new unblocked session for fp.
func (s *Store) Create(ctx context.Context, userID string, fp Fingerprint, now time.Time) (*Session, error) {
	if userID == "" {
		return nil, errors.New("user id is required")
	}
	sess := &Session{
		ID:          s.newID(),
		UserID:      userID,
		Fingerprint: fp,
		LastActive:  now.UTC(),
		CreatedAt:   now.UTC(),
	}

	_, err := s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, s.key(userID, sess.ID), sess.fields())
		pipe.SAdd(ctx, s.userKey(userID), sess.ID)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return sess, nil
}

// List returns the user's sessions ordered by creation time. Index entries whose
// hash has disappeared are pruned.
func (s *Store) List(ctx context.Context, userID string) ([]*Session, error) {
	ids, err := s.redis.SMembers(ctx, s.userKey(userID)).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	if len(ids) == 0 {
		return nil, nil
	}

	pipe := s.redis.Pipeline()
	cmds := make([]*redis.MapStringStringCmd, len(ids))
	for i, id := range ids {
		cmds[i] = pipe.HGetAll(ctx, s.key(userID, id))
	}
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	out := make([]*Session, 0, len(ids))
	var stale []interface{}
	for i, cmd := range cmds {
		sess, ok := fromFields(ids[i], cmd.Val())
		if !ok || sess.UserID != userID {
			stale = append(stale, ids[i])
			continue
		}
		out = append(out, sess)
	}
	if len(stale) > 0 {
		// Best effort; a failed prune is retried on the next List.
		_ = s.redis.SRem(ctx, s.userKey(userID), stale...).Err()
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

// Get returns one session owned by userID.
func (s *Store) Get(ctx context.Context, userID, sessionID string) (*Session, error) {
	m, err := s.redis.HGetAll(ctx, s.key(userID, sessionID)).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	sess, ok := fromFields(sessionID, m)
	if !ok || sess.UserID != userID {
		return nil, ErrNotFound
	}
	return sess, nil
}

// SetBlocked sets the blocked flag on an owned session.
func (s *Store) SetBlocked(ctx context.Context, userID, sessionID string, blocked bool) error {
	res, err := setBlockedLua.Run(ctx, s.redis, []string{s.key(userID, sessionID)}, userID, boolFlag(blocked)).Int()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	if res == 0 {
		return ErrNotFound
	}
	return nil
}

// Delete removes an owned, unblocked session. It is idempotent only in the sense
// that a second call reports ErrNotFound without side effects.
func (s *Store) Delete(ctx context.Context, userID, sessionID string) error {
	res, err := deleteSessionLua.Run(ctx, s.redis, []string{s.key(userID, sessionID), s.userKey(userID)}, userID, sessionID).Int()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	switch res {
	case 0:
		return ErrNotFound
	case -1:
		return ErrBlocked
	}
	return nil
}

// DeleteAllExcept removes every unblocked session of userID whose fingerprint
// differs from keep and returns how many were removed.
func (s *Store) DeleteAllExcept(ctx context.Context, userID string, keep Fingerprint) (int, error) {
	sessions, err := s.List(ctx, userID)
	if err != nil {
		return 0, err
	}

	keys := []string{s.userKey(userID)}
	args := []interface{}{userID}
	for _, sess := range sessions {
		if sess.Blocked || sess.Fingerprint.Equal(keep) {
			continue
		}
		keys = append(keys, s.key(userID, sess.ID))
		args = append(args, sess.ID)
	}
	if len(keys) == 1 {
		return 0, nil
	}

	removed, err := deleteUnblockedLua.Run(ctx, s.redis, keys, args...).Int()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return removed, nil
}

// IsBlocked reports whether any session of userID matching fp is blocked.
func (s *Store) IsBlocked(ctx context.Context, userID string, fp Fingerprint) (bool, error) {
	sessions, err := s.List(ctx, userID)
	if err != nil {
		return false, err
	}
	for _, sess := range sessions {
		if sess.Blocked && sess.Fingerprint.Equal(fp) {
			return true, nil
		}
	}
	return false, nil
}

// Touch stamps last-active on every session of userID matching fp and returns
// how many were updated.
func (s *Store) Touch(ctx context.Context, userID string, fp Fingerprint, now time.Time) (int, error) {
	sessions, err := s.List(ctx, userID)
	if err != nil {
		return 0, err
	}
	touched := 0
	_, err = s.redis.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, sess := range sessions {
			if sess.Fingerprint.Equal(fp) {
				pipe.HSet(ctx, s.key(userID, sess.ID), fieldLastActive, now.UnixMilli())
				touched++
			}
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return touched, nil
}
