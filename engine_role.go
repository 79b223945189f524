package gatekeeper

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/MrEthical07/gatekeeper/jwt"
)

// SelectRole redeems a role-selection token. Grants are re-read so a role
// revoked after the token was issued cannot be claimed.
func (e *Engine) SelectRole(ctx context.Context, token, role string, fp Fingerprint) (*LoginResult, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	defer e.observeLatency(time.Now())

	claims, err := e.parseToken(token, jwt.PurposeRoleSelection)
	if err != nil {
		return nil, err
	}
	role = strings.TrimSpace(role)
	if role == "" {
		return nil, validationError("role is required")
	}

	user, err := e.loadTokenUser(ctx, claims.UID)
	if err != nil {
		return nil, err
	}
	if user.Role != e.config.Roles.Elevated {
		return nil, e.rejectRole(ctx, user.ID, role, fp)
	}

	active, err := e.roles.ActiveRoles(ctx, user.ID)
	if err != nil {
		return nil, e.unavailable("load active roles", err, zap.String("user_id", user.ID))
	}
	granted := false
	for _, r := range distinctRoles(active) {
		if r == role {
			granted = true
			break
		}
	}
	if !granted {
		return nil, e.rejectRole(ctx, user.ID, role, fp)
	}

	if err := e.checkDevice(ctx, user.ID, fp); err != nil {
		return nil, err
	}
	if err := e.claimChallenge(ctx, claims); err != nil {
		return nil, err
	}

	e.metrics.Inc(MetricRoleSelected)
	e.emitAudit(ctx, auditRoleSelected, true, user.ID, "", fp.IP, nil, func() map[string]string {
		return map[string]string{"role": role}
	})
	return e.issueSession(ctx, user, role, fp)
}

func (e *Engine) rejectRole(ctx context.Context, userID, role string, fp Fingerprint) error {
	e.metrics.Inc(MetricRoleSelectionRejected)
	e.emitAudit(ctx, auditRoleSelectionRejected, false, userID, "", fp.IP, ErrRoleNotGranted, func() map[string]string {
		return map[string]string{"role": role}
	})
	return ErrRoleNotGranted
}
