package stores

import (
	"errors"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

var (
	// ErrNotFound is returned when the requested record does not exist.
	ErrNotFound = errors.New("record not found")
	// ErrBackend wraps every Redis failure.
	ErrBackend = errors.New("factor store backend unavailable")
)

// FactorStore holds all second-factor state for every user.
type FactorStore struct {
	redis  redis.UniversalClient
	prefix string
}

// NewFactorStore returns a FactorStore that namespaces keys under prefix.
func NewFactorStore(redisClient redis.UniversalClient, prefix string) *FactorStore {
	if prefix == "" {
		prefix = "mfa"
	}
	return &FactorStore{
		redis:  redisClient,
		prefix: prefix,
	}
}

// tag wraps userID in a hash tag. Every key of one user lands in the same
// cluster slot, which the Lua scripts here rely on: some build record keys
// from ARGV or touch several of the user's keys at once.
func tag(userID string) string {
	return "{" + userID + "}"
}

func (s *FactorStore) settingsKey(userID string) string {
	return s.prefix + ":afs:" + tag(userID)
}

func (s *FactorStore) authenticatorKey(userID string) string {
	return s.prefix + ":ats:" + tag(userID)
}

func (s *FactorStore) questionsKey(userID string) string {
	return s.prefix + ":asq:" + tag(userID)
}

func (s *FactorStore) backupCodesKey(userID string) string {
	return s.prefix + ":abc:" + tag(userID)
}

func (s *FactorStore) usedBackupCodesKey(userID string) string {
	return s.prefix + ":abu:" + tag(userID)
}

func (s *FactorStore) emailOTPIndexKey(userID string) string {
	return s.prefix + ":aeo:" + tag(userID)
}

func (s *FactorStore) emailOTPPrefix(userID string) string {
	return s.prefix + ":aeo:" + tag(userID) + ":"
}

func parseMillis(raw string) time.Time {
	ms, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}
