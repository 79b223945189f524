package gatekeeper

import "errors"

var (
	// ErrInvalidCredentials is returned for unknown, deleted, inactive or password-mismatched accounts.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrDeviceBlocked is returned when the presented fingerprint matches a blocked device session.
	ErrDeviceBlocked = errors.New("device blocked")
	// ErrTooManyAttempts is returned while the lockout window holds too many failed second-factor attempts.
	ErrTooManyAttempts = errors.New("too many attempts")
	// ErrInvalidOrExpiredToken is returned for malformed, expired or wrong-purpose tokens.
	ErrInvalidOrExpiredToken = errors.New("invalid or expired token")
	// ErrInvalidVerification is returned when a second-factor proof does not verify.
	ErrInvalidVerification = errors.New("invalid verification")
	// ErrRoleNotGranted is returned when the selected role is not an active grant of the user.
	ErrRoleNotGranted = errors.New("role not granted")
	// ErrFactorNotConfigured is returned when an operation needs a factor the user has not enabled.
	ErrFactorNotConfigured = errors.New("factor not configured")
	// ErrValidation is wrapped by every malformed-input error.
	ErrValidation = errors.New("validation error")
	// ErrUnavailable is wrapped by every infrastructure failure.
	ErrUnavailable = errors.New("service unavailable")
	// ErrCannotActOnCurrentDevice is returned when a self-service action targets the caller's own device.
	ErrCannotActOnCurrentDevice = errors.New("cannot act on current device")
	// ErrDeviceSessionNotFound is returned when a device session does not exist or belongs to another user.
	ErrDeviceSessionNotFound = errors.New("device session not found")
	// ErrEngineNotReady is returned when the engine was not built through Builder.
	ErrEngineNotReady = errors.New("engine not initialized")
)

// ErrorCode returns the stable machine-readable code for err. Unknown errors map to
// "internal_error" so callers never echo raw error text.
func ErrorCode(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrInvalidCredentials):
		return "invalid_credentials"
	case errors.Is(err, ErrDeviceBlocked):
		return "device_blocked"
	case errors.Is(err, ErrTooManyAttempts):
		return "too_many_attempts"
	case errors.Is(err, ErrInvalidOrExpiredToken):
		return "invalid_or_expired_token"
	case errors.Is(err, ErrInvalidVerification):
		return "invalid_verification"
	case errors.Is(err, ErrRoleNotGranted):
		return "role_not_granted"
	case errors.Is(err, ErrFactorNotConfigured):
		return "factor_not_configured"
	case errors.Is(err, ErrValidation):
		return "validation_error"
	case errors.Is(err, ErrCannotActOnCurrentDevice):
		return "cannot_act_on_current_device"
	case errors.Is(err, ErrDeviceSessionNotFound):
		return "device_session_not_found"
	case errors.Is(err, ErrUnavailable):
		return "unavailable"
	default:
		return "internal_error"
	}
}

// PublicMessage returns a user-safe message for err. Validation errors keep their
// field detail; every other kind maps to a fixed sentence.
func PublicMessage(err error) string {
	switch ErrorCode(err) {
	case "":
		return ""
	case "invalid_credentials":
		return "Invalid email or password."
	case "device_blocked":
		return "This device has been blocked for this account."
	case "too_many_attempts":
		return "Too many failed verification attempts. Try again later."
	case "invalid_or_expired_token":
		return "The login session is invalid or has expired. Please sign in again."
	case "invalid_verification":
		return "Verification failed."
	case "role_not_granted":
		return "The selected role is not available for this account."
	case "factor_not_configured":
		return "This verification method is not enabled."
	case "validation_error":
		return err.Error()
	case "cannot_act_on_current_device":
		return "You cannot block or revoke the device you are currently using."
	case "device_session_not_found":
		return "Device session not found."
	default:
		return "The service is temporarily unavailable."
	}
}
