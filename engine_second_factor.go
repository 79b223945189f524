package gatekeeper

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/MrEthical07/gatekeeper/internal/flows"
	"github.com/MrEthical07/gatekeeper/internal/stores"
	"github.com/MrEthical07/gatekeeper/jwt"
)

// VerifySecondFactor redeems a second-factor-pending token with one proof.
//
// The lockout window is checked before the verifier runs; a locked-out call
// neither verifies nor writes an attempt. Every call that reaches a verifier
// writes exactly one attempt.
func (e *Engine) VerifySecondFactor(
	ctx context.Context,
	token string,
	method FactorMethod,
	proof Proof,
	fp Fingerprint,
) (*LoginResult, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	defer e.observeLatency(time.Now())

	claims, err := e.parseToken(token, jwt.PurposeSecondFactor)
	if err != nil {
		return nil, err
	}
	userID := claims.UID

	verifier, ok := e.verifiers[method]
	if !ok {
		return nil, validationError("unknown verification method %q", method)
	}

	if err := e.checkLockout(ctx, userID, method, fp); err != nil {
		return nil, err
	}

	settings, err := e.factors.GetSettings(ctx, userID)
	if err != nil {
		return nil, e.unavailable("load factor settings", err, zap.String("user_id", userID))
	}
	if !methodEnabled(settings, method) {
		return nil, ErrFactorNotConfigured
	}

	if err := e.claimChallenge(ctx, claims); err != nil {
		return nil, err
	}
	matched, err := verifier.Verify(ctx, userID, toFlowProof(proof), fp.IP)
	if err != nil {
		e.releaseChallenge(ctx, claims)
		return nil, e.unavailable("verify second factor", err,
			zap.String("user_id", userID),
			zap.String("method", string(method)),
		)
	}
	if !matched {
		e.releaseChallenge(ctx, claims)
		e.metrics.Inc(MetricSecondFactorFailure)
		e.emitAudit(ctx, auditSecondFactorFailure, false, userID, method, fp.IP, ErrInvalidVerification, nil)
		return nil, ErrInvalidVerification
	}

	e.metrics.Inc(MetricSecondFactorSuccess)
	if method == MethodBackupCode {
		e.metrics.Inc(MetricBackupCodeUsed)
	}
	e.emitAudit(ctx, auditSecondFactorSuccess, true, userID, method, fp.IP, nil, nil)

	user, err := e.loadTokenUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	if err := e.checkDevice(ctx, user.ID, fp); err != nil {
		return nil, err
	}
	return e.completeLogin(ctx, user, fp)
}

func (e *Engine) checkLockout(ctx context.Context, userID string, method FactorMethod, fp Fingerprint) error {
	since := e.clock.Now().Add(-e.config.Lockout.Window)
	failures, err := e.ledger.CountFailuresSince(ctx, userID, since)
	if err != nil {
		return e.unavailable("count failed attempts", err, zap.String("user_id", userID))
	}
	if failures >= e.config.Lockout.MaxFailures {
		e.metrics.Inc(MetricSecondFactorLockedOut)
		e.emitAudit(ctx, auditSecondFactorLockedOut, false, userID, method, fp.IP, ErrTooManyAttempts, nil)
		return ErrTooManyAttempts
	}
	return nil
}

// claimChallenge makes an intermediate token single-use. The claim lives as
// long as the token does.
func (e *Engine) claimChallenge(ctx context.Context, claims *jwt.Claims) error {
	if claims.ID == "" || claims.ExpiresAt == nil {
		return ErrInvalidOrExpiredToken
	}
	ok, err := e.factors.ClaimChallenge(ctx, claims.ID, claims.ExpiresAt.Time.Sub(e.clock.Now()))
	if err != nil {
		return e.unavailable("claim login challenge", err, zap.String("user_id", claims.UID))
	}
	if !ok {
		e.metrics.Inc(MetricTokenReplayed)
		return ErrInvalidOrExpiredToken
	}
	return nil
}

// releaseChallenge lets a token be retried after a failed proof. A failed
// release only costs the user a fresh login.
func (e *Engine) releaseChallenge(ctx context.Context, claims *jwt.Claims) {
	if err := e.factors.ReleaseChallenge(ctx, claims.ID); err != nil {
		e.logger.Warn("release login challenge failed", zap.String("user_id", claims.UID), zap.Error(err))
	}
}

// methodEnabled reports whether method may be used. Backup codes are usable
// whenever any factor is on.
func methodEnabled(s stores.Settings, method FactorMethod) bool {
	switch method {
	case MethodTOTP:
		return s.Authenticator
	case MethodEmailOTP:
		return s.OneTimeCode
	case MethodSecurityQuestion:
		return s.SecurityQuestion
	case MethodBackupCode:
		return s.Enabled()
	default:
		return false
	}
}

func toFlowProof(p Proof) flows.Proof {
	out := flows.Proof{Code: p.Code}
	if len(p.Answers) > 0 {
		out.Answers = make([]flows.Answer, len(p.Answers))
		for i, a := range p.Answers {
			out.Answers[i] = flows.Answer{QuestionID: a.QuestionID, Answer: a.Answer}
		}
	}
	return out
}

// SendSecondFactorCode emails a fresh one-time code to the owner of a
// second-factor-pending token. The code is stored before delivery is
// attempted; a delivery failure is logged and does not fail the call.
func (e *Engine) SendSecondFactorCode(ctx context.Context, token string) error {
	if err := e.ready(); err != nil {
		return err
	}
	claims, err := e.parseToken(token, jwt.PurposeSecondFactor)
	if err != nil {
		return err
	}
	userID := claims.UID

	settings, err := e.factors.GetSettings(ctx, userID)
	if err != nil {
		return e.unavailable("load factor settings", err, zap.String("user_id", userID))
	}
	if !settings.OneTimeCode {
		return ErrFactorNotConfigured
	}
	user, err := e.loadTokenUser(ctx, userID)
	if err != nil {
		return err
	}

	now := e.clock.Now()
	allowed, err := e.sendLimiter.Allow(ctx, userID, now)
	if err != nil {
		return e.unavailable("throttle one-time code", err, zap.String("user_id", userID))
	}
	if !allowed {
		e.metrics.Inc(MetricOTPSendThrottled)
		return ErrTooManyAttempts
	}

	code, err := flows.NewNumericCode(e.config.EmailOTP.Digits)
	if err != nil {
		return e.unavailable("generate one-time code", err)
	}
	if err := e.factors.SaveEmailOTP(ctx, userID, code, now, now.Add(e.config.EmailOTP.TTL)); err != nil {
		return e.unavailable("store one-time code", err, zap.String("user_id", userID))
	}
	if err := e.mailer.SendOTP(ctx, user.Email, code); err != nil {
		e.logger.Warn("one-time code delivery failed", zap.String("user_id", userID), zap.Error(err))
	}

	e.metrics.Inc(MetricOTPSent)
	e.emitAudit(ctx, auditOTPSent, true, userID, MethodEmailOTP, "", nil, nil)
	return nil
}

// RecentAttempts returns the user's recorded verification attempts, oldest first.
func (e *Engine) RecentAttempts(ctx context.Context, userID string) ([]Attempt, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	if userID == "" {
		return nil, validationError("user id is required")
	}
	rows, err := e.ledger.Attempts(ctx, userID)
	if err != nil {
		return nil, e.unavailable("list verification attempts", err, zap.String("user_id", userID))
	}
	out := make([]Attempt, len(rows))
	for i, r := range rows {
		out[i] = Attempt{
			ID:      r.ID,
			Method:  FactorMethod(r.Method),
			Success: r.Success,
			IP:      r.IP,
			At:      r.At,
		}
	}
	return out, nil
}
