package stores

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/redis/go-redis/v9"
)

// SecurityQuestion is one stored question with its normalized answer hash.
type SecurityQuestion struct {
	ID         string `json:"-"`
	Position   int    `json:"pos"`
	Text       string `json:"text"`
	AnswerHash string `json:"hash"`
}

// ReplaceQuestions deletes every stored question of the user and inserts qs in
// one transaction.
func (s *FactorStore) ReplaceQuestions(ctx context.Context, userID string, qs []SecurityQuestion) error {
	values := make(map[string]interface{}, len(qs))
	for i, q := range qs {
		q.Position = i
		raw, err := json.Marshal(q)
		if err != nil {
			return err
		}
		values[q.ID] = raw
	}

	key := s.questionsKey(userID)
	_, err := s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, key)
		if len(values) > 0 {
			pipe.HSet(ctx, key, values)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrBackend, err)
	}
	return nil
}

// ListQuestions returns the user's questions in setup order.
func (s *FactorStore) ListQuestions(ctx context.Context, userID string) ([]SecurityQuestion, error) {
	m, err := s.redis.HGetAll(ctx, s.questionsKey(userID)).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBackend, err)
	}
	out := make([]SecurityQuestion, 0, len(m))
	for id, raw := range m {
		var q SecurityQuestion
		if err := json.Unmarshal([]byte(raw), &q); err != nil {
			continue
		}
		q.ID = id
		out = append(out, q)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Position < out[j].Position })
	return out, nil
}

// DeleteQuestions removes every question of the user.
func (s *FactorStore) DeleteQuestions(ctx context.Context, userID string) error {
	if err := s.redis.Del(ctx, s.questionsKey(userID)).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrBackend, err)
	}
	return nil
}
