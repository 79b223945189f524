package gatekeeper

import (
	"context"
	"errors"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/MrEthical07/gatekeeper/internal/flows"
	"github.com/MrEthical07/gatekeeper/internal/stores"
)

// SetupFactor configures one factor for userID.
//
// Authenticator setup stores a fresh unverified secret and returns it; the
// factor turns on only after ConfirmAuthenticator. Security-question setup
// replaces the whole question set. When a call turns second-factor
// authentication on for the first time, a backup code set is minted and
// returned in the result.
func (e *Engine) SetupFactor(ctx context.Context, userID string, kind FactorKind, payload SetupPayload) (*SetupResult, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	if userID == "" {
		return nil, validationError("user id is required")
	}

	switch kind {
	case FactorAuthenticator:
		return e.setupAuthenticator(ctx, userID)
	case FactorOneTimeCode:
		return e.enableFactor(ctx, userID, kind, stores.SettingOneTimeCode)
	case FactorSecurityQuestion:
		return e.setupSecurityQuestions(ctx, userID, payload.Questions)
	case FactorPasskey:
		return nil, validationError("passkey setup is not supported")
	default:
		return nil, validationError("unknown factor %q", kind)
	}
}

func (e *Engine) setupAuthenticator(ctx context.Context, userID string) (*SetupResult, error) {
	user, err := e.users.FindByID(ctx, userID)
	if err != nil {
		return nil, e.unavailable("find user by id", err, zap.String("user_id", userID))
	}
	if user == nil || user.IsDeleted {
		return nil, ErrInvalidCredentials
	}

	enrollment, err := flows.GenerateTOTPSecret(user.Email, e.totpOptions())
	if err != nil {
		return nil, e.unavailable("generate authenticator secret", err)
	}
	if err := e.factors.SaveAuthenticator(ctx, userID, enrollment.Secret, e.clock.Now()); err != nil {
		return nil, e.unavailable("store authenticator secret", err, zap.String("user_id", userID))
	}
	settings, err := e.factors.GetSettings(ctx, userID)
	if err != nil {
		return nil, e.unavailable("load factor settings", err, zap.String("user_id", userID))
	}

	e.emitAudit(ctx, auditAuthenticatorEnrolled, true, userID, MethodTOTP, "", nil, nil)
	return &SetupResult{
		Kind:                FactorAuthenticator,
		Enabled:             settings.Authenticator,
		AuthenticatorSecret: enrollment.Secret,
		AuthenticatorURL:    enrollment.URL,
	}, nil
}

// ConfirmAuthenticator checks a code against the pending secret and, on success,
// marks it verified and turns the authenticator factor on. It does not write
// the attempt ledger.
func (e *Engine) ConfirmAuthenticator(ctx context.Context, userID, code string) (*SetupResult, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	if userID == "" || strings.TrimSpace(code) == "" {
		return nil, validationError("user id and code are required")
	}

	secret, err := e.factors.GetAuthenticator(ctx, userID)
	if errors.Is(err, stores.ErrNotFound) {
		return nil, ErrFactorNotConfigured
	}
	if err != nil {
		return nil, e.unavailable("load authenticator secret", err, zap.String("user_id", userID))
	}
	counter, ok := flows.MatchTOTP(code, secret.Secret, e.clock.Now(), e.totpOptions())
	if !ok {
		return nil, ErrInvalidVerification
	}
	// The confirming code is spent; it cannot open a login afterwards.
	accepted, err := e.acceptTOTPStep(ctx, userID, counter)
	if err != nil {
		return nil, e.unavailable("record authenticator step", err, zap.String("user_id", userID))
	}
	if !accepted {
		return nil, ErrInvalidVerification
	}
	if err := e.factors.MarkAuthenticatorVerified(ctx, userID); err != nil {
		if errors.Is(err, stores.ErrNotFound) {
			return nil, ErrFactorNotConfigured
		}
		return nil, e.unavailable("verify authenticator secret", err, zap.String("user_id", userID))
	}
	return e.enableFactor(ctx, userID, FactorAuthenticator, stores.SettingAuthenticator)
}

func (e *Engine) setupSecurityQuestions(ctx context.Context, userID string, setup []QuestionSetup) (*SetupResult, error) {
	if err := e.validateQuestions(setup); err != nil {
		return nil, err
	}

	questions := make([]stores.SecurityQuestion, len(setup))
	for i, q := range setup {
		hash, err := e.hasher.Hash(flows.NormalizeAnswer(q.Answer))
		if err != nil {
			return nil, e.unavailable("hash security answer", err)
		}
		questions[i] = stores.SecurityQuestion{
			ID:         uuid.NewString(),
			Text:       strings.TrimSpace(q.Question),
			AnswerHash: hash,
		}
	}
	if err := e.factors.ReplaceQuestions(ctx, userID, questions); err != nil {
		return nil, e.unavailable("store security questions", err, zap.String("user_id", userID))
	}
	return e.enableFactor(ctx, userID, FactorSecurityQuestion, stores.SettingSecurityQuestion)
}

func (e *Engine) validateQuestions(setup []QuestionSetup) error {
	cfg := e.config.SecurityQuestions
	if len(setup) < cfg.MinQuestions || len(setup) > cfg.MaxQuestions {
		return validationError("between %d and %d security questions are required", cfg.MinQuestions, cfg.MaxQuestions)
	}
	seen := make(map[string]struct{}, len(setup))
	for i, q := range setup {
		text := strings.TrimSpace(q.Question)
		if n := utf8.RuneCountInString(text); n < cfg.MinQuestionLen || n > cfg.MaxQuestionLen {
			return validationError("question %d must be %d-%d characters", i+1, cfg.MinQuestionLen, cfg.MaxQuestionLen)
		}
		answer := flows.NormalizeAnswer(q.Answer)
		if n := utf8.RuneCountInString(answer); n < cfg.MinAnswerLen || n > cfg.MaxAnswerLen {
			return validationError("answer %d must be %d-%d characters", i+1, cfg.MinAnswerLen, cfg.MaxAnswerLen)
		}
		key := strings.ToLower(text)
		if _, dup := seen[key]; dup {
			return validationError("question %d is a duplicate", i+1)
		}
		seen[key] = struct{}{}
	}
	return nil
}

// enableFactor turns field on and mints backup codes if this write is the one
// that took the aggregate flag from off to on.
func (e *Engine) enableFactor(ctx context.Context, userID string, kind FactorKind, field stores.SettingField) (*SetupResult, error) {
	before, after, err := e.factors.SetFactor(ctx, userID, field, true)
	if err != nil {
		return nil, e.unavailable("save factor settings", err, zap.String("user_id", userID))
	}
	result := &SetupResult{Kind: kind, Enabled: true}
	if !before.Enabled() && after.Enabled() {
		codes, err := e.mintBackupCodes(ctx, userID)
		if err != nil {
			return nil, err
		}
		result.BackupCodes = codes
	}
	e.metrics.Inc(MetricFactorEnabled)
	e.emitAudit(ctx, auditFactorEnabled, true, userID, "", "", nil, func() map[string]string {
		return map[string]string{"factor": string(kind)}
	})
	return result, nil
}

// DisableFactor turns one factor off and deletes its material. When no factor
// remains on, the backup codes are discarded too.
func (e *Engine) DisableFactor(ctx context.Context, userID string, kind FactorKind) error {
	if err := e.ready(); err != nil {
		return err
	}
	if userID == "" {
		return validationError("user id is required")
	}

	current, err := e.factors.GetSettings(ctx, userID)
	if err != nil {
		return e.unavailable("load factor settings", err, zap.String("user_id", userID))
	}

	var (
		field   stores.SettingField
		cleanup func(context.Context, string) error
		enabled bool
	)
	switch kind {
	case FactorAuthenticator:
		enabled = current.Authenticator
		if !enabled {
			// A pending, never-confirmed secret may still be removed.
			if _, err := e.factors.GetAuthenticator(ctx, userID); err == nil {
				enabled = true
			}
		}
		field, cleanup = stores.SettingAuthenticator, e.factors.DeleteAuthenticator
	case FactorOneTimeCode:
		enabled = current.OneTimeCode
		field = stores.SettingOneTimeCode
	case FactorSecurityQuestion:
		enabled = current.SecurityQuestion
		field, cleanup = stores.SettingSecurityQuestion, e.factors.DeleteQuestions
	case FactorPasskey:
		enabled = current.Passkey
		field = stores.SettingPasskey
	default:
		return validationError("unknown factor %q", kind)
	}
	if !enabled {
		return ErrFactorNotConfigured
	}

	// Turning the last factor off discards the backup codes in the same write.
	if _, _, err := e.factors.SetFactor(ctx, userID, field, false); err != nil {
		return e.unavailable("save factor settings", err, zap.String("user_id", userID))
	}
	if cleanup != nil {
		if err := cleanup(ctx, userID); err != nil {
			return e.unavailable("delete factor material", err, zap.String("user_id", userID))
		}
	}

	e.metrics.Inc(MetricFactorDisabled)
	e.emitAudit(ctx, auditFactorDisabled, true, userID, "", "", nil, func() map[string]string {
		return map[string]string{"factor": string(kind)}
	})
	return nil
}

// GetStatus reports the user's factor configuration.
func (e *Engine) GetStatus(ctx context.Context, userID string) (*FactorStatus, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	if userID == "" {
		return nil, validationError("user id is required")
	}

	settings, err := e.factors.GetSettings(ctx, userID)
	if err != nil {
		return nil, e.unavailable("load factor settings", err, zap.String("user_id", userID))
	}
	status := &FactorStatus{
		Enabled:          settings.Enabled(),
		Authenticator:    settings.Authenticator,
		Passkey:          settings.Passkey,
		OneTimeCode:      settings.OneTimeCode,
		SecurityQuestion: settings.SecurityQuestion,
	}

	secret, err := e.factors.GetAuthenticator(ctx, userID)
	switch {
	case err == nil:
		status.AuthenticatorPending = !secret.Verified
	case !errors.Is(err, stores.ErrNotFound):
		return nil, e.unavailable("load authenticator secret", err, zap.String("user_id", userID))
	}

	if settings.SecurityQuestion {
		qs, err := e.factors.ListQuestions(ctx, userID)
		if err != nil {
			return nil, e.unavailable("load security questions", err, zap.String("user_id", userID))
		}
		status.QuestionCount = len(qs)
	}
	if status.BackupCodesRemaining, err = e.factors.CountUnusedBackupCodes(ctx, userID); err != nil {
		return nil, e.unavailable("count backup codes", err, zap.String("user_id", userID))
	}
	return status, nil
}

// RegenerateBackupCodes discards every existing backup code and returns a new set.
func (e *Engine) RegenerateBackupCodes(ctx context.Context, userID string) ([]string, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	if userID == "" {
		return nil, validationError("user id is required")
	}
	settings, err := e.factors.GetSettings(ctx, userID)
	if err != nil {
		return nil, e.unavailable("load factor settings", err, zap.String("user_id", userID))
	}
	if !settings.Enabled() {
		return nil, ErrFactorNotConfigured
	}
	return e.mintBackupCodes(ctx, userID)
}

func (e *Engine) mintBackupCodes(ctx context.Context, userID string) ([]string, error) {
	codes, minted, err := flows.MintBackupCodes(e.config.BackupCodes.Count, e.config.BackupCodes.Length, e.hasher.Hash, nil)
	if err != nil {
		return nil, e.unavailable("mint backup codes", err)
	}
	records := make([]stores.BackupCode, len(minted))
	for i, m := range minted {
		records[i] = stores.BackupCode{ID: m.ID, Hash: m.Hash}
	}
	if err := e.factors.ReplaceBackupCodes(ctx, userID, records); err != nil {
		return nil, e.unavailable("store backup codes", err, zap.String("user_id", userID))
	}
	e.metrics.Inc(MetricBackupCodeRegenerated)
	e.emitAudit(ctx, auditBackupCodesRegenerated, true, userID, MethodBackupCode, "", nil, nil)
	return codes, nil
}
