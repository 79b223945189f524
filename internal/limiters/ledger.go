package limiters

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/segmentio/ksuid"
)

// ErrLedgerUnavailable wraps every ledger backend failure.
var ErrLedgerUnavailable = errors.New("attempt ledger unavailable")

// Attempt is one second-factor verification attempt.
type Attempt struct {
	ID      string    `json:"id"`
	UserID  string    `json:"-"`
	Method  string    `json:"m"`
	Success bool      `json:"ok"`
	IP      string    `json:"ip,omitempty"`
	At      time.Time `json:"-"`
}

// AttemptLedger keeps two sorted sets per user scored by attempt time in
// milliseconds: every attempt, and failures only.
type AttemptLedger struct {
	redis  redis.UniversalClient
	prefix string
}

// NewAttemptLedger returns a ledger namespaced under prefix.
func NewAttemptLedger(redisClient redis.UniversalClient, prefix string) *AttemptLedger {
	if prefix == "" {
		prefix = "val"
	}
	return &AttemptLedger{redis: redisClient, prefix: prefix}
}

func (l *AttemptLedger) allKey(userID string) string {
	return l.prefix + ":all:{" + userID + "}"
}

func (l *AttemptLedger) failKey(userID string) string {
	return l.prefix + ":fail:{" + userID + "}"
}

// Record appends a. Both index writes happen in one transaction.
func (l *AttemptLedger) Record(ctx context.Context, a Attempt) error {
	if a.UserID == "" {
		return errors.New("attempt user id is required")
	}
	id, err := ksuid.NewRandomWithTime(a.At)
	if err != nil {
		return err
	}
	a.ID = id.String()
	member, err := json.Marshal(a)
	if err != nil {
		return err
	}
	z := redis.Z{Score: float64(a.At.UnixMilli()), Member: string(member)}

	_, err = l.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.ZAdd(ctx, l.allKey(a.UserID), z)
		if !a.Success {
			pipe.ZAdd(ctx, l.failKey(a.UserID), z)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrLedgerUnavailable, err)
	}
	return nil
}

// CountFailuresSince counts failed attempts at or after since.
func (l *AttemptLedger) CountFailuresSince(ctx context.Context, userID string, since time.Time) (int, error) {
	n, err := l.redis.ZCount(ctx, l.failKey(userID), strconv.FormatInt(since.UnixMilli(), 10), "+inf").Result()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrLedgerUnavailable, err)
	}
	return int(n), nil
}

// Attempts returns every recorded attempt of userID, oldest first.
func (l *AttemptLedger) Attempts(ctx context.Context, userID string) ([]Attempt, error) {
	zs, err := l.redis.ZRangeWithScores(ctx, l.allKey(userID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrLedgerUnavailable, err)
	}
	out := make([]Attempt, 0, len(zs))
	for _, z := range zs {
		raw, ok := z.Member.(string)
		if !ok {
			continue
		}
		var a Attempt
		if err := json.Unmarshal([]byte(raw), &a); err != nil {
			continue
		}
		a.UserID = userID
		a.At = time.UnixMilli(int64(z.Score)).UTC()
		out = append(out, a)
	}
	return out, nil
}
