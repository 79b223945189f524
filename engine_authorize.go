package gatekeeper

import (
	"context"

	"go.uber.org/zap"

	"github.com/MrEthical07/gatekeeper/jwt"
)

// Authorize gates an authenticated request: the token must be a valid session
// token and the caller's device must not be blocked. The returned role is the
// token's role claim.
func (e *Engine) Authorize(ctx context.Context, sessionToken string, fp Fingerprint) (*SessionClaims, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	claims, err := e.parseToken(sessionToken, jwt.PurposeSession)
	if err != nil {
		e.metrics.Inc(MetricAuthorizeFailure)
		return nil, err
	}
	if err := e.checkDevice(ctx, claims.UID, fp); err != nil {
		e.metrics.Inc(MetricAuthorizeFailure)
		return nil, err
	}
	if _, err := e.devices.Touch(ctx, claims.UID, fp, e.clock.Now()); err != nil {
		e.logger.Debug("device last-active not updated", zap.String("user_id", claims.UID), zap.Error(err))
	}

	e.metrics.Inc(MetricAuthorizeSuccess)
	out := &SessionClaims{UserID: claims.UID, Role: claims.Role}
	if claims.ExpiresAt != nil {
		out.ExpiresAt = claims.ExpiresAt.Time
	}
	return out, nil
}
