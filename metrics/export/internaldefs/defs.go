package internaldefs

import (
	"github.com/MrEthical07/gatekeeper"
)

// CounterDef binds a counter to its exported name.
type CounterDef struct {
	ID   gatekeeper.MetricID
	Name string
	Help string
}

// HistogramDef binds a histogram to its exported name.
type HistogramDef struct {
	ID   gatekeeper.MetricID
	Name string
	Help string
}

// CounterDefs lists every exported counter in a stable order.
var CounterDefs = []CounterDef{
	{ID: gatekeeper.MetricLoginSuccess, Name: "gatekeeper_login_success_total", Help: "Logins that issued a session token."},
	{ID: gatekeeper.MetricLoginFailure, Name: "gatekeeper_login_failure_total", Help: "Logins rejected for invalid credentials."},
	{ID: gatekeeper.MetricLoginSecondFactorRequired, Name: "gatekeeper_login_second_factor_required_total", Help: "Logins that required a second factor."},
	{ID: gatekeeper.MetricLoginRoleSelectionRequired, Name: "gatekeeper_login_role_selection_required_total", Help: "Logins that required a role choice."},
	{ID: gatekeeper.MetricDeviceBlockedRejected, Name: "gatekeeper_device_blocked_rejected_total", Help: "Requests rejected from a blocked device."},
	{ID: gatekeeper.MetricDeviceCheckFailOpen, Name: "gatekeeper_device_check_fail_open_total", Help: "Device checks skipped because the registry failed."},
	{ID: gatekeeper.MetricSecondFactorSuccess, Name: "gatekeeper_second_factor_success_total", Help: "Successful second-factor verifications."},
	{ID: gatekeeper.MetricSecondFactorFailure, Name: "gatekeeper_second_factor_failure_total", Help: "Failed second-factor verifications."},
	{ID: gatekeeper.MetricSecondFactorLockedOut, Name: "gatekeeper_second_factor_locked_out_total", Help: "Second-factor attempts refused by lockout."},
	{ID: gatekeeper.MetricRoleSelected, Name: "gatekeeper_role_selected_total", Help: "Completed role selections."},
	{ID: gatekeeper.MetricRoleSelectionRejected, Name: "gatekeeper_role_selection_rejected_total", Help: "Role selections naming an ungranted role."},
	{ID: gatekeeper.MetricBackupCodeUsed, Name: "gatekeeper_backup_code_used_total", Help: "Backup codes redeemed."},
	{ID: gatekeeper.MetricBackupCodeRegenerated, Name: "gatekeeper_backup_code_regenerated_total", Help: "Backup-code sets minted."},
	{ID: gatekeeper.MetricOTPSent, Name: "gatekeeper_otp_sent_total", Help: "Email one-time codes issued."},
	{ID: gatekeeper.MetricOTPSendThrottled, Name: "gatekeeper_otp_send_throttled_total", Help: "Email one-time code sends refused by throttle."},
	{ID: gatekeeper.MetricFactorEnabled, Name: "gatekeeper_factor_enabled_total", Help: "Factors enabled."},
	{ID: gatekeeper.MetricFactorDisabled, Name: "gatekeeper_factor_disabled_total", Help: "Factors disabled."},
	{ID: gatekeeper.MetricDeviceSessionCreated, Name: "gatekeeper_device_session_created_total", Help: "Device sessions created."},
	{ID: gatekeeper.MetricDeviceBlocked, Name: "gatekeeper_device_blocked_total", Help: "Devices blocked by their owner."},
	{ID: gatekeeper.MetricDeviceRevoked, Name: "gatekeeper_device_revoked_total", Help: "Device sessions revoked."},
	{ID: gatekeeper.MetricAuthorizeSuccess, Name: "gatekeeper_authorize_success_total", Help: "Session tokens accepted."},
	{ID: gatekeeper.MetricAuthorizeFailure, Name: "gatekeeper_authorize_failure_total", Help: "Session tokens rejected."},
	{ID: gatekeeper.MetricTOTPReplayed, Name: "gatekeeper_totp_replayed_total", Help: "Authenticator codes refused because their time step was already used."},
	{ID: gatekeeper.MetricTokenReplayed, Name: "gatekeeper_token_replayed_total", Help: "Intermediate tokens presented again after being redeemed."},
}

// HistogramDefs lists every exported histogram.
var HistogramDefs = []HistogramDef{
	{ID: gatekeeper.MetricLoginLatency, Name: "gatekeeper_login_latency_seconds", Help: "Latency of login, second-factor and role-selection steps."},
}

// HistogramBounds are the bucket upper bounds in seconds, matching
// gatekeeper.LatencyBucketBounds.
var HistogramBounds = []string{
	"0.025",
	"0.05",
	"0.1",
	"0.25",
	"0.5",
	"1",
	"2.5",
	"+Inf",
}

// HistogramBoundSuffix is HistogramBounds made safe for instrument names.
var HistogramBoundSuffix = []string{
	"0_025",
	"0_05",
	"0_1",
	"0_25",
	"0_5",
	"1",
	"2_5",
	"inf",
}

// NormalizeBuckets pads or truncates raw to eight buckets.
func NormalizeBuckets(raw []uint64) [8]uint64 {
	var out [8]uint64
	for i := 0; i < len(out) && i < len(raw); i++ {
		out[i] = raw[i]
	}
	return out
}

// CumulativeBuckets turns per-bucket counts into running totals.
func CumulativeBuckets(raw [8]uint64) [8]uint64 {
	var out [8]uint64
	var running uint64
	for i := 0; i < len(raw); i++ {
		running += raw[i]
		out[i] = running
	}
	return out
}
