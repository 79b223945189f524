package gatekeeper

import (
	"context"
	"io"

	"go.uber.org/zap"

	"github.com/MrEthical07/gatekeeper/internal/audit"
)

// NewZapAuditSink logs audit events through logger.
func NewZapAuditSink(logger *zap.Logger) AuditSink { return audit.NewZapSink(logger) }

// NewJSONAuditSink writes audit events to w as JSON lines.
func NewJSONAuditSink(w io.Writer) AuditSink { return audit.NewJSONWriterSink(w) }

const (
	auditLoginSuccess           = "login_success"
	auditLoginFailure           = "login_failure"
	auditSecondFactorRequired   = "second_factor_required"
	auditSecondFactorSuccess    = "second_factor_success"
	auditSecondFactorFailure    = "second_factor_failure"
	auditSecondFactorLockedOut  = "second_factor_locked_out"
	auditRoleSelectionRequired  = "role_selection_required"
	auditRoleSelected           = "role_selected"
	auditRoleSelectionRejected  = "role_selection_rejected"
	auditDeviceBlockedRejected  = "device_blocked_rejected"
	auditOTPSent                = "one_time_code_sent"
	auditFactorEnabled          = "factor_enabled"
	auditFactorDisabled         = "factor_disabled"
	auditAuthenticatorEnrolled  = "authenticator_enrolled"
	auditBackupCodesRegenerated = "backup_codes_regenerated"
	auditDeviceBlocked          = "device_blocked"
	auditDeviceUnblocked        = "device_unblocked"
	auditDeviceRevoked          = "device_revoked"
	auditOtherDevicesRevoked    = "other_devices_revoked"
)

func (e *Engine) emitAudit(
	ctx context.Context,
	eventType string,
	success bool,
	userID string,
	method FactorMethod,
	ip string,
	err error,
	metadata func() map[string]string,
) {
	if e == nil || e.audit == nil {
		return
	}
	event := AuditEvent{
		Timestamp: e.clock.Now().UTC(),
		EventType: eventType,
		UserID:    userID,
		Method:    string(method),
		IP:        ip,
		Success:   success,
	}
	if err != nil {
		event.Error = ErrorCode(err)
	}
	if metadata != nil {
		event.Metadata = metadata()
	}
	e.audit.Emit(ctx, event)
}
