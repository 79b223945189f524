package gatekeeper

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/MrEthical07/gatekeeper/session"
)

// ListDevices returns the user's device sessions, flagging those that match current.
func (e *Engine) ListDevices(ctx context.Context, userID string, current Fingerprint) ([]DeviceView, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	if userID == "" {
		return nil, validationError("user id is required")
	}
	sessions, err := e.devices.List(ctx, userID)
	if err != nil {
		return nil, e.unavailable("list device sessions", err, zap.String("user_id", userID))
	}
	out := make([]DeviceView, len(sessions))
	for i, s := range sessions {
		out[i] = DeviceView{
			ID:          s.ID,
			Fingerprint: s.Fingerprint,
			Blocked:     s.Blocked,
			Current:     s.Fingerprint.Equal(current),
			LastActive:  s.LastActive,
			CreatedAt:   s.CreatedAt,
		}
	}
	return out, nil
}

// BlockDevice blocks another device of the user. The device the caller is using,
// judged by fingerprint, cannot be blocked.
func (e *Engine) BlockDevice(ctx context.Context, userID, sessionID string, current Fingerprint) error {
	sess, err := e.ownedOtherDevice(ctx, userID, sessionID, current)
	if err != nil {
		return err
	}
	if err := e.devices.SetBlocked(ctx, userID, sess.ID, true); err != nil {
		return e.mapDeviceError("block device session", userID, err)
	}
	e.metrics.Inc(MetricDeviceBlocked)
	e.emitAudit(ctx, auditDeviceBlocked, true, userID, "", current.IP, nil, deviceMeta(sess))
	return nil
}

// UnblockDevice clears the blocked flag. Unblocking the current device is allowed.
func (e *Engine) UnblockDevice(ctx context.Context, userID, sessionID string, current Fingerprint) error {
	if err := e.ready(); err != nil {
		return err
	}
	if userID == "" || sessionID == "" {
		return validationError("user id and session id are required")
	}
	if err := e.devices.SetBlocked(ctx, userID, sessionID, false); err != nil {
		return e.mapDeviceError("unblock device session", userID, err)
	}
	e.emitAudit(ctx, auditDeviceUnblocked, true, userID, "", current.IP, nil, func() map[string]string {
		return map[string]string{"session_id": sessionID}
	})
	return nil
}

// RevokeDevice deletes another device session of the user. The current device
// cannot be revoked, and a blocked device must be unblocked first so that
// revocation never lifts a block.
func (e *Engine) RevokeDevice(ctx context.Context, userID, sessionID string, current Fingerprint) error {
	sess, err := e.ownedOtherDevice(ctx, userID, sessionID, current)
	if err != nil {
		return err
	}
	if err := e.devices.Delete(ctx, userID, sess.ID); err != nil {
		return e.mapDeviceError("revoke device session", userID, err)
	}
	e.metrics.Inc(MetricDeviceRevoked)
	e.emitAudit(ctx, auditDeviceRevoked, true, userID, "", current.IP, nil, deviceMeta(sess))
	return nil
}

// RevokeOtherDevices deletes every unblocked session whose fingerprint differs
// from current. Blocked sessions are kept so their fingerprints stay rejected.
func (e *Engine) RevokeOtherDevices(ctx context.Context, userID string, current Fingerprint) (int, error) {
	if err := e.ready(); err != nil {
		return 0, err
	}
	if userID == "" {
		return 0, validationError("user id is required")
	}
	n, err := e.devices.DeleteAllExcept(ctx, userID, current)
	if err != nil {
		return 0, e.unavailable("revoke other device sessions", err, zap.String("user_id", userID))
	}
	for i := 0; i < n; i++ {
		e.metrics.Inc(MetricDeviceRevoked)
	}
	e.emitAudit(ctx, auditOtherDevicesRevoked, true, userID, "", current.IP, nil, nil)
	return n, nil
}

func (e *Engine) ownedOtherDevice(ctx context.Context, userID, sessionID string, current Fingerprint) (*session.Session, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	if userID == "" || sessionID == "" {
		return nil, validationError("user id and session id are required")
	}
	sess, err := e.devices.Get(ctx, userID, sessionID)
	if err != nil {
		return nil, e.mapDeviceError("load device session", userID, err)
	}
	if sess.Fingerprint.Equal(current) {
		return nil, ErrCannotActOnCurrentDevice
	}
	return sess, nil
}

func (e *Engine) mapDeviceError(op, userID string, err error) error {
	switch {
	case errors.Is(err, session.ErrNotFound):
		return ErrDeviceSessionNotFound
	case errors.Is(err, session.ErrBlocked):
		return ErrDeviceBlocked
	}
	return e.unavailable(op, err, zap.String("user_id", userID))
}

func deviceMeta(s *session.Session) func() map[string]string {
	return func() map[string]string {
		return map[string]string{
			"session_id": s.ID,
			"browser":    s.Fingerprint.Browser,
			"os":         s.Fingerprint.OS,
		}
	}
}
