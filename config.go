package gatekeeper

import (
	"errors"
	"strings"
	"time"
)

// Config is the immutable engine configuration. Build it once at process start.
type Config struct {
	JWT               JWTConfig
	Lockout           LockoutConfig
	TOTP              TOTPConfig
	EmailOTP          EmailOTPConfig
	BackupCodes       BackupCodeConfig
	SecurityQuestions SecurityQuestionConfig
	Roles             RoleConfig
	Secrets           SecretsConfig
	Redis             RedisConfig
	Audit             AuditConfig
	Metrics           MetricsConfig
}

/*
====================================
JWT CONFIG
====================================
*/

// JWTConfig selects signing keys and token lifetimes.
type JWTConfig struct {
	SessionTTL      time.Duration
	IntermediateTTL time.Duration
	SigningMethod   string // "ed25519" (default) or "hs256"
	PrivateKey      []byte
	PublicKey       []byte
	Issuer          string
	Audience        string
	Leeway          time.Duration
}

/*
====================================
SECOND FACTOR CONFIG
====================================
*/

// LockoutConfig bounds failed second-factor attempts over a trailing window.
// The threshold applies to all methods together.
type LockoutConfig struct {
	MaxFailures int
	Window      time.Duration
}

// TOTPConfig shapes authenticator codes. Skew is counted in periods on each side.
type TOTPConfig struct {
	Issuer string
	Period uint
	Digits int
	Skew   uint
}

// EmailOTPConfig sets the emailed code format and the per-user send throttle.
// SendBurst codes may go out at once, then one per SendInterval.
type EmailOTPConfig struct {
	Digits       int
	TTL          time.Duration
	SendInterval time.Duration
	SendBurst    int
}

// BackupCodeConfig sizes the backup code set minted when the first factor is enabled.
type BackupCodeConfig struct {
	Count  int
	Length int
}

// SecurityQuestionConfig bounds question count and text lengths at setup.
type SecurityQuestionConfig struct {
	MinQuestions   int
	MaxQuestions   int
	MinQuestionLen int
	MaxQuestionLen int
	MinAnswerLen   int
	MaxAnswerLen   int
}

// RoleConfig names the primary role that may choose among several granted roles.
type RoleConfig struct {
	Elevated string
}

// SecretsConfig tunes the bcrypt cost used for answers and backup codes.
type SecretsConfig struct {
	BcryptCost int
}

// RedisConfig namespaces every key the engine writes.
type RedisConfig struct {
	Prefix string
}

// AuditConfig controls the background audit dispatcher.
type AuditConfig struct {
	Enabled    bool
	BufferSize int
	DropIfFull bool
}

// MetricsConfig toggles in-process counters and the login latency histogram.
type MetricsConfig struct {
	Enabled                 bool
	EnableLatencyHistograms bool
}

/*
====================================
DEFAULT CONFIG
====================================
*/

// DefaultConfig returns the documented defaults. Signing keys are left empty.
func DefaultConfig() Config {
	return Config{
		JWT: JWTConfig{
			SessionTTL:      7 * 24 * time.Hour,
			IntermediateTTL: 10 * time.Minute,
			SigningMethod:   "ed25519",
			Issuer:          "gatekeeper",
		},
		Lockout: LockoutConfig{
			MaxFailures: 5,
			Window:      30 * time.Minute,
		},
		TOTP: TOTPConfig{
			Issuer: "gatekeeper",
			Period: 30,
			Digits: 6,
			Skew:   3,
		},
		EmailOTP: EmailOTPConfig{
			Digits:       6,
			TTL:          10 * time.Minute,
			SendInterval: 30 * time.Second,
			SendBurst:    3,
		},
		BackupCodes: BackupCodeConfig{
			Count:  10,
			Length: 10,
		},
		SecurityQuestions: SecurityQuestionConfig{
			MinQuestions:   3,
			MaxQuestions:   5,
			MinQuestionLen: 5,
			MaxQuestionLen: 500,
			MinAnswerLen:   2,
			MaxAnswerLen:   200,
		},
		Roles: RoleConfig{
			Elevated: "admin",
		},
		Secrets: SecretsConfig{
			BcryptCost: 10,
		},
		Redis: RedisConfig{
			Prefix: "gk",
		},
		Audit: AuditConfig{
			Enabled:    false,
			BufferSize: 1024,
			DropIfFull: true,
		},
		Metrics: MetricsConfig{
			Enabled: true,
		},
	}
}

func cloneConfig(cfg Config) Config {
	out := cfg
	out.JWT.PrivateKey = cloneBytes(cfg.JWT.PrivateKey)
	out.JWT.PublicKey = cloneBytes(cfg.JWT.PublicKey)
	return out
}

func cloneBytes(b []byte) []byte {
	if len(b) == 0 {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}

/*
====================================
VALIDATION
====================================
*/

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	if c.JWT.SessionTTL <= 0 || c.JWT.IntermediateTTL <= 0 {
		return errors.New("JWT TTLs must be > 0")
	}
	if c.JWT.IntermediateTTL >= c.JWT.SessionTTL {
		return errors.New("JWT IntermediateTTL must be shorter than SessionTTL")
	}
	switch c.JWT.SigningMethod {
	case "ed25519":
		if len(c.JWT.PrivateKey) == 0 || len(c.JWT.PublicKey) == 0 {
			return errors.New("ed25519 requires PrivateKey and PublicKey")
		}
	case "hs256":
		if len(c.JWT.PrivateKey) == 0 {
			return errors.New("hs256 requires PrivateKey")
		}
	default:
		return errors.New("unsupported JWT signing method")
	}

	if c.Lockout.MaxFailures <= 0 {
		return errors.New("Lockout MaxFailures must be > 0")
	}
	if c.Lockout.Window <= 0 {
		return errors.New("Lockout Window must be > 0")
	}

	if c.TOTP.Period == 0 {
		return errors.New("TOTP Period must be > 0")
	}
	if c.TOTP.Digits != 6 && c.TOTP.Digits != 8 {
		return errors.New("TOTP Digits must be 6 or 8")
	}
	if c.TOTP.Skew > 10 {
		return errors.New("TOTP Skew must be <= 10")
	}

	if c.EmailOTP.Digits < 6 || c.EmailOTP.Digits > 10 {
		return errors.New("EmailOTP Digits must be between 6 and 10")
	}
	if c.EmailOTP.TTL <= 0 {
		return errors.New("EmailOTP TTL must be > 0")
	}
	if c.EmailOTP.SendInterval < 0 || c.EmailOTP.SendBurst < 0 {
		return errors.New("EmailOTP send throttle must be >= 0")
	}

	if c.BackupCodes.Count <= 0 || c.BackupCodes.Length < 8 {
		return errors.New("BackupCodes require Count > 0 and Length >= 8")
	}

	q := c.SecurityQuestions
	if q.MinQuestions <= 0 || q.MaxQuestions < q.MinQuestions {
		return errors.New("SecurityQuestions question count bounds are invalid")
	}
	if q.MinQuestionLen <= 0 || q.MaxQuestionLen < q.MinQuestionLen {
		return errors.New("SecurityQuestions question length bounds are invalid")
	}
	if q.MinAnswerLen <= 0 || q.MaxAnswerLen < q.MinAnswerLen {
		return errors.New("SecurityQuestions answer length bounds are invalid")
	}

	if strings.TrimSpace(c.Roles.Elevated) == "" {
		return errors.New("Roles Elevated must be set")
	}
	if strings.TrimSpace(c.Redis.Prefix) == "" {
		return errors.New("Redis Prefix must be set")
	}
	if c.Audit.Enabled && c.Audit.BufferSize <= 0 {
		return errors.New("Audit BufferSize must be > 0 when enabled")
	}
	return nil
}
