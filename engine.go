package gatekeeper

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/MrEthical07/gatekeeper/internal/audit"
	"github.com/MrEthical07/gatekeeper/internal/flows"
	"github.com/MrEthical07/gatekeeper/internal/limiters"
	"github.com/MrEthical07/gatekeeper/internal/stores"
	"github.com/MrEthical07/gatekeeper/jwt"
	"github.com/MrEthical07/gatekeeper/password"
	"github.com/MrEthical07/gatekeeper/session"
)

type (
	// AuditEvent is one record delivered to an AuditSink.
	AuditEvent = audit.Event
	// AuditSink receives audit events from the engine's background dispatcher.
	AuditSink = audit.Sink
)

type factorStore interface {
	GetSettings(ctx context.Context, userID string) (stores.Settings, error)
	SetFactor(ctx context.Context, userID string, field stores.SettingField, on bool) (stores.Settings, stores.Settings, error)

	SaveAuthenticator(ctx context.Context, userID, secret string, now time.Time) error
	GetAuthenticator(ctx context.Context, userID string) (*stores.AuthenticatorSecret, error)
	MarkAuthenticatorVerified(ctx context.Context, userID string) error
	AcceptAuthenticatorCounter(ctx context.Context, userID string, counter int64) (bool, error)
	DeleteAuthenticator(ctx context.Context, userID string) error

	ReplaceQuestions(ctx context.Context, userID string, qs []stores.SecurityQuestion) error
	ListQuestions(ctx context.Context, userID string) ([]stores.SecurityQuestion, error)
	DeleteQuestions(ctx context.Context, userID string) error

	ReplaceBackupCodes(ctx context.Context, userID string, codes []stores.BackupCode) error
	UnusedBackupCodes(ctx context.Context, userID string) ([]stores.BackupCode, error)
	CountUnusedBackupCodes(ctx context.Context, userID string) (int, error)
	RedeemBackupCode(ctx context.Context, userID, codeID string, now time.Time) (bool, error)

	SaveEmailOTP(ctx context.Context, userID, code string, now, expiresAt time.Time) error
	ConsumeEmailOTP(ctx context.Context, userID, code string, now time.Time) (bool, error)

	ClaimChallenge(ctx context.Context, tokenID string, ttl time.Duration) (bool, error)
	ReleaseChallenge(ctx context.Context, tokenID string) error
}

type attemptLedger interface {
	Record(ctx context.Context, a limiters.Attempt) error
	CountFailuresSince(ctx context.Context, userID string, since time.Time) (int, error)
	Attempts(ctx context.Context, userID string) ([]limiters.Attempt, error)
}

type deviceRegistry interface {
	Create(ctx context.Context, userID string, fp session.Fingerprint, now time.Time) (*session.Session, error)
	List(ctx context.Context, userID string) ([]*session.Session, error)
	Get(ctx context.Context, userID, sessionID string) (*session.Session, error)
	SetBlocked(ctx context.Context, userID, sessionID string, blocked bool) error
	Delete(ctx context.Context, userID, sessionID string) error
	DeleteAllExcept(ctx context.Context, userID string, keep session.Fingerprint) (int, error)
	IsBlocked(ctx context.Context, userID string, fp session.Fingerprint) (bool, error)
	Touch(ctx context.Context, userID string, fp session.Fingerprint, now time.Time) (int, error)
}

// Engine runs the login state machine and factor management. Build it with
// New().…Build().
type Engine struct {
	config Config
	logger *zap.Logger
	clock  Clock

	jwt    *jwt.Manager
	users  CredentialStore
	roles  RoleRegistry
	mailer EmailSender
	hasher password.Hasher

	factors     factorStore
	ledger      attemptLedger
	devices     deviceRegistry
	sendLimiter *limiters.SendLimiter
	verifiers   map[FactorMethod]flows.Recorded

	audit   *audit.Dispatcher
	metrics *Metrics
}

func (e *Engine) buildVerifiers() map[FactorMethod]flows.Recorded {
	record := func(ctx context.Context, rec flows.AttemptRecord) error {
		return e.ledger.Record(ctx, limiters.Attempt{
			UserID:  rec.UserID,
			Method:  rec.Method,
			Success: rec.Success,
			IP:      rec.IP,
			At:      e.clock.Now(),
		})
	}
	compare := e.hasher.Verify

	totpVerifier := flows.TOTPVerifier{
		GetSecret: func(ctx context.Context, userID string) (*flows.AuthenticatorState, error) {
			secret, err := e.factors.GetAuthenticator(ctx, userID)
			if errors.Is(err, stores.ErrNotFound) {
				return nil, nil
			}
			if err != nil {
				return nil, err
			}
			return &flows.AuthenticatorState{Secret: secret.Secret, Verified: secret.Verified}, nil
		},
		Accept:  e.acceptTOTPStep,
		Now:     e.clock.Now,
		Options: e.totpOptions(),
	}
	emailVerifier := flows.EmailOTPVerifier{
		Consume: e.factors.ConsumeEmailOTP,
		Now:     e.clock.Now,
	}
	questionVerifier := flows.SecurityQuestionVerifier{
		ListQuestions: func(ctx context.Context, userID string) ([]flows.StoredQuestion, error) {
			qs, err := e.factors.ListQuestions(ctx, userID)
			if err != nil {
				return nil, err
			}
			out := make([]flows.StoredQuestion, len(qs))
			for i, q := range qs {
				out[i] = flows.StoredQuestion{ID: q.ID, AnswerHash: q.AnswerHash}
			}
			return out, nil
		},
		Compare: compare,
	}
	backupVerifier := flows.BackupCodeVerifier{
		Unused: func(ctx context.Context, userID string) ([]flows.StoredBackupCode, error) {
			codes, err := e.factors.UnusedBackupCodes(ctx, userID)
			if err != nil {
				return nil, err
			}
			out := make([]flows.StoredBackupCode, len(codes))
			for i, c := range codes {
				out[i] = flows.StoredBackupCode{ID: c.ID, Hash: c.Hash}
			}
			return out, nil
		},
		Compare: compare,
		Redeem:  e.factors.RedeemBackupCode,
		Now:     e.clock.Now,
	}

	return map[FactorMethod]flows.Recorded{
		MethodTOTP:             {Verifier: totpVerifier, Record: record},
		MethodEmailOTP:         {Verifier: emailVerifier, Record: record},
		MethodSecurityQuestion: {Verifier: questionVerifier, Record: record},
		MethodBackupCode:       {Verifier: backupVerifier, Record: record},
	}
}

// acceptTOTPStep records a matched time step. A step at or before the last
// accepted one is a replay.
func (e *Engine) acceptTOTPStep(ctx context.Context, userID string, counter int64) (bool, error) {
	ok, err := e.factors.AcceptAuthenticatorCounter(ctx, userID, counter)
	if errors.Is(err, stores.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if !ok {
		e.metrics.Inc(MetricTOTPReplayed)
	}
	return ok, nil
}

func (e *Engine) totpOptions() flows.TOTPOptions {
	return flows.TOTPOptions{
		Issuer: e.config.TOTP.Issuer,
		Period: e.config.TOTP.Period,
		Digits: e.config.TOTP.Digits,
		Skew:   e.config.TOTP.Skew,
	}
}

// MetricsSnapshot returns a copy of the in-process counters.
func (e *Engine) MetricsSnapshot() MetricsSnapshot {
	if e == nil {
		return MetricsSnapshot{}
	}
	return e.metrics.Snapshot()
}

// AuditDropped returns how many audit events were dropped under backpressure.
func (e *Engine) AuditDropped() uint64 {
	if e == nil {
		return 0
	}
	return e.audit.Dropped()
}

// Close flushes buffered audit events. The engine must not be used afterwards.
func (e *Engine) Close() {
	if e == nil {
		return
	}
	e.audit.Close()
}

func (e *Engine) ready() error {
	if e == nil || e.jwt == nil || e.users == nil || e.factors == nil {
		return ErrEngineNotReady
	}
	return nil
}

// unavailable logs an infrastructure failure with context and returns the
// caller-facing error.
func (e *Engine) unavailable(op string, err error, fields ...zap.Field) error {
	e.logger.Error(op+" failed", append(fields, zap.Error(err))...)
	return fmt.Errorf("%w: %v", ErrUnavailable, err)
}

func validationError(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

func (e *Engine) observeLatency(start time.Time) {
	e.metrics.Observe(MetricLoginLatency, time.Since(start))
}

func distinctRoles(roles []string) []string {
	seen := make(map[string]struct{}, len(roles))
	out := make([]string, 0, len(roles))
	for _, r := range roles {
		r = strings.TrimSpace(r)
		if r == "" {
			continue
		}
		if _, ok := seen[r]; ok {
			continue
		}
		seen[r] = struct{}{}
		out = append(out, r)
	}
	sort.Strings(out)
	return out
}

type logSender struct {
	logger *zap.Logger
}

func (s logSender) SendOTP(_ context.Context, email, _ string) error {
	s.logger.Warn("no email sender configured; one-time code not delivered", zap.String("email", email))
	return nil
}
