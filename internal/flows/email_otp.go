package flows

import (
	"context"
	"fmt"
	"strings"
	"time"
)

const decimalDigits = "0123456789"

// NewNumericCode draws a decimal code with 6 to 10 digits from crypto/rand.
func NewNumericCode(digits int) (string, error) {
	if digits < 6 || digits > 10 {
		return "", fmt.Errorf("otp length %d outside 6..10", digits)
	}
	return drawCode(decimalDigits, digits, nil)
}

// EmailOTPVerifier matches the user's most recent unexpired, unused emailed code.
type EmailOTPVerifier struct {
	Consume func(ctx context.Context, userID, code string, now time.Time) (bool, error)
	Now     func() time.Time
}

func (v EmailOTPVerifier) Method() string { return MethodEmailOTP }

func (v EmailOTPVerifier) Verify(ctx context.Context, userID string, proof Proof) (bool, error) {
	if code := strings.TrimSpace(proof.Code); code != "" {
		return v.Consume(ctx, userID, code, v.Now())
	}
	return false, nil
}
