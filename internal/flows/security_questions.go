package flows

import (
	"context"
	"strings"
)

// NormalizeAnswer lowercases and trims an answer before hashing or comparing.
func NormalizeAnswer(answer string) string {
	return strings.ToLower(strings.TrimSpace(answer))
}

// StoredQuestion is a question with its answer hash.
type StoredQuestion struct {
	ID         string
	AnswerHash string
}

// SecurityQuestionVerifier succeeds when at least one supplied answer matches its
// question. Answers for unknown question ids are skipped.
type SecurityQuestionVerifier struct {
	ListQuestions func(ctx context.Context, userID string) ([]StoredQuestion, error)
	Compare       func(plain, hash string) (bool, error)
}

func (v SecurityQuestionVerifier) Method() string { return MethodSecurityQuestion }

func (v SecurityQuestionVerifier) Verify(ctx context.Context, userID string, proof Proof) (bool, error) {
	if len(proof.Answers) == 0 {
		return false, nil
	}
	stored, err := v.ListQuestions(ctx, userID)
	if err != nil {
		return false, err
	}
	byID := make(map[string]string, len(stored))
	for _, q := range stored {
		byID[q.ID] = q.AnswerHash
	}

	for _, a := range proof.Answers {
		hash, ok := byID[a.QuestionID]
		if !ok {
			continue
		}
		normalized := NormalizeAnswer(a.Answer)
		if normalized == "" {
			continue
		}
		match, err := v.Compare(normalized, hash)
		if err != nil {
			return false, err
		}
		if match {
			return true, nil
		}
	}
	return false, nil
}
