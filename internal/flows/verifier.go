package flows

import (
	"context"
	"errors"
	"fmt"
)

// Method names, also used as ledger tags.
const (
	MethodTOTP             = "totp"
	MethodEmailOTP         = "email_otp"
	MethodSecurityQuestion = "security_question"
	MethodBackupCode       = "backup_code"
)

// ErrAttemptNotRecorded is returned when the ledger write after a verification fails.
var ErrAttemptNotRecorded = errors.New("verification attempt not recorded")

// Answer is one security-question answer supplied at login.
type Answer struct {
	QuestionID string
	Answer     string
}

// Proof carries the material for any method. Code serves TOTP, email OTP and
// backup codes; Answers serves security questions.
type Proof struct {
	Code    string
	Answers []Answer
}

// Verifier checks one kind of proof for a user.
type Verifier interface {
	Method() string
	Verify(ctx context.Context, userID string, proof Proof) (bool, error)
}

// AttemptRecord is what Recorded hands to its Record dependency.
type AttemptRecord struct {
	UserID  string
	Method  string
	Success bool
	IP      string
}

// Recorded writes one attempt row per Verify call.
type Recorded struct {
	Verifier Verifier
	Record   func(context.Context, AttemptRecord) error
}

// Verify runs the wrapped verifier and records the outcome. A verifier error or
// panic is recorded as a failure and returned.
func (r Recorded) Verify(ctx context.Context, userID string, proof Proof, ip string) (ok bool, err error) {
	defer func() {
		if p := recover(); p != nil {
			ok = false
			err = fmt.Errorf("%s verifier panic: %v", r.Verifier.Method(), p)
		}
		rec := AttemptRecord{UserID: userID, Method: r.Verifier.Method(), Success: ok && err == nil, IP: ip}
		if recErr := r.Record(ctx, rec); recErr != nil && err == nil {
			err = fmt.Errorf("%w: %v", ErrAttemptNotRecorded, recErr)
		}
	}()

	return r.Verifier.Verify(ctx, userID, proof)
}
