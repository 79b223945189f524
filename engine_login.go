package gatekeeper

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/MrEthical07/gatekeeper/internal/stores"
	"github.com/MrEthical07/gatekeeper/jwt"
)

// Login checks credentials and the device, then either finishes the login or
// hands back an intermediate token for the next step.
//
// Unknown, deleted and inactive accounts fail exactly like a wrong password.
// A failing device lookup does not block the login.
func (e *Engine) Login(ctx context.Context, email, password string, fp Fingerprint) (*LoginResult, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	defer e.observeLatency(time.Now())

	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" || password == "" {
		return nil, validationError("email and password are required")
	}

	user, err := e.users.FindByEmail(ctx, email)
	if err != nil {
		return nil, e.unavailable("find user by email", err)
	}
	if user == nil || user.IsDeleted || !user.IsActive || !e.users.VerifyPassword(password, user.PasswordHash) {
		var userID string
		if user != nil {
			userID = user.ID
		}
		e.metrics.Inc(MetricLoginFailure)
		e.emitAudit(ctx, auditLoginFailure, false, userID, "", fp.IP, ErrInvalidCredentials, nil)
		return nil, ErrInvalidCredentials
	}

	if err := e.checkDevice(ctx, user.ID, fp); err != nil {
		return nil, err
	}

	settings, err := e.factors.GetSettings(ctx, user.ID)
	if err != nil {
		return nil, e.unavailable("load factor settings", err, zap.String("user_id", user.ID))
	}
	if settings.Enabled() {
		return e.secondFactorChallenge(ctx, user, settings, fp)
	}
	return e.completeLogin(ctx, user, fp)
}

// completeLogin is the tail shared by Login and VerifySecondFactor: an elevated
// user with several active roles must pick one, everyone else gets a session.
func (e *Engine) completeLogin(ctx context.Context, user *User, fp Fingerprint) (*LoginResult, error) {
	if user.Role == e.config.Roles.Elevated {
		active, err := e.roles.ActiveRoles(ctx, user.ID)
		if err != nil {
			return nil, e.unavailable("load active roles", err, zap.String("user_id", user.ID))
		}
		roles := distinctRoles(active)
		if len(roles) > 1 {
			token, exp, err := e.jwt.IssueIntermediate(user.ID, user.Role, jwt.PurposeRoleSelection)
			if err != nil {
				return nil, e.unavailable("issue role selection token", err, zap.String("user_id", user.ID))
			}
			e.metrics.Inc(MetricLoginRoleSelectionRequired)
			e.emitAudit(ctx, auditRoleSelectionRequired, true, user.ID, "", fp.IP, nil, nil)
			return &LoginResult{
				Step:              StepRoleSelection,
				IntermediateToken: token,
				ExpiresAt:         exp,
				Roles:             roles,
			}, nil
		}
	}
	return e.issueSession(ctx, user, user.Role, fp)
}

func (e *Engine) secondFactorChallenge(ctx context.Context, user *User, settings stores.Settings, fp Fingerprint) (*LoginResult, error) {
	result := &LoginResult{Step: StepSecondFactor}

	if settings.Authenticator {
		result.Methods = append(result.Methods, MethodTOTP)
	}
	if settings.OneTimeCode {
		result.Methods = append(result.Methods, MethodEmailOTP)
	}
	if settings.SecurityQuestion {
		qs, err := e.factors.ListQuestions(ctx, user.ID)
		if err != nil {
			return nil, e.unavailable("load security questions", err, zap.String("user_id", user.ID))
		}
		result.Methods = append(result.Methods, MethodSecurityQuestion)
		result.Questions = make([]Question, len(qs))
		for i, q := range qs {
			result.Questions[i] = Question{ID: q.ID, Text: q.Text}
		}
	}
	result.Methods = append(result.Methods, MethodBackupCode)

	token, exp, err := e.jwt.IssueIntermediate(user.ID, user.Role, jwt.PurposeSecondFactor)
	if err != nil {
		return nil, e.unavailable("issue second factor token", err, zap.String("user_id", user.ID))
	}
	result.IntermediateToken = token
	result.ExpiresAt = exp

	e.metrics.Inc(MetricLoginSecondFactorRequired)
	e.emitAudit(ctx, auditSecondFactorRequired, true, user.ID, "", fp.IP, nil, nil)
	return result, nil
}

// issueSession records the device, stamps last login and mints the session
// token. The first two are best effort.
func (e *Engine) issueSession(ctx context.Context, user *User, role string, fp Fingerprint) (*LoginResult, error) {
	result := &LoginResult{Step: StepAuthenticated}

	sess, err := e.devices.Create(ctx, user.ID, fp, e.clock.Now())
	if err != nil {
		e.logger.Warn("device session not recorded", zap.String("user_id", user.ID), zap.Error(err))
	} else {
		result.DeviceSessionID = sess.ID
		e.metrics.Inc(MetricDeviceSessionCreated)
	}
	if err := e.users.TouchLastLogin(ctx, user.ID); err != nil {
		e.logger.Warn("last login not stamped", zap.String("user_id", user.ID), zap.Error(err))
	}

	token, exp, err := e.jwt.IssueSession(user.ID, role)
	if err != nil {
		return nil, e.unavailable("issue session token", err, zap.String("user_id", user.ID))
	}
	result.SessionToken = token
	result.ExpiresAt = exp
	result.Profile = profileOf(user, role)

	e.metrics.Inc(MetricLoginSuccess)
	e.emitAudit(ctx, auditLoginSuccess, true, user.ID, "", fp.IP, nil, func() map[string]string {
		return map[string]string{"role": role}
	})
	return result, nil
}

// checkDevice fails with ErrDeviceBlocked when a blocked session matches fp.
// Lookup errors are logged and ignored.
func (e *Engine) checkDevice(ctx context.Context, userID string, fp Fingerprint) error {
	blocked, err := e.devices.IsBlocked(ctx, userID, fp)
	if err != nil {
		e.metrics.Inc(MetricDeviceCheckFailOpen)
		e.logger.Warn("device block check failed; allowing request",
			zap.String("user_id", userID),
			zap.Error(err),
		)
		return nil
	}
	if blocked {
		e.metrics.Inc(MetricDeviceBlockedRejected)
		e.emitAudit(ctx, auditDeviceBlockedRejected, false, userID, "", fp.IP, ErrDeviceBlocked, nil)
		return ErrDeviceBlocked
	}
	return nil
}

// parseToken maps every token failure to ErrInvalidOrExpiredToken.
func (e *Engine) parseToken(token string, purpose jwt.Purpose) (*jwt.Claims, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, ErrInvalidOrExpiredToken
	}
	claims, err := e.jwt.Parse(token, purpose)
	if err != nil {
		return nil, ErrInvalidOrExpiredToken
	}
	return claims, nil
}

// loadTokenUser re-fetches the user behind an intermediate token. A user that
// vanished or was deactivated invalidates the token.
func (e *Engine) loadTokenUser(ctx context.Context, userID string) (*User, error) {
	user, err := e.users.FindByID(ctx, userID)
	if err != nil {
		return nil, e.unavailable("find user by id", err, zap.String("user_id", userID))
	}
	if user == nil || user.IsDeleted || !user.IsActive {
		return nil, ErrInvalidOrExpiredToken
	}
	return user, nil
}
