package gatekeeper

import (
	"context"
	"time"

	"github.com/MrEthical07/gatekeeper/session"
)

// Fingerprint is the (ip, browser, os) tuple the caller resolved for a request.
type Fingerprint = session.Fingerprint

// User is a credential-store record.
type User struct {
	ID           string
	Email        string
	Name         string
	PasswordHash string
	Role         string
	BusinessID   string
	BusinessName string
	IsActive     bool
	IsDeleted    bool
}

// Profile is the caller-facing view of a User. Password hash and business id are
// never included.
type Profile struct {
	ID           string `json:"id"`
	Email        string `json:"email"`
	Name         string `json:"name,omitempty"`
	Role         string `json:"role"`
	BusinessName string `json:"business_name,omitempty"`
}

func profileOf(u *User, role string) *Profile {
	return &Profile{
		ID:           u.ID,
		Email:        u.Email,
		Name:         u.Name,
		Role:         role,
		BusinessName: u.BusinessName,
	}
}

// FactorMethod names a second-factor verification method.
type FactorMethod string

const (
	// MethodTOTP verifies a code from an authenticator app.
	MethodTOTP FactorMethod = "totp"
	// MethodEmailOTP verifies a code sent by SendSecondFactorCode.
	MethodEmailOTP FactorMethod = "email_otp"
	// MethodSecurityQuestion verifies answers to the user's stored questions.
	MethodSecurityQuestion FactorMethod = "security_question"
	// MethodBackupCode consumes one of the user's backup codes.
	MethodBackupCode FactorMethod = "backup_code"
)

// FactorKind names a configurable factor toggle.
type FactorKind string

const (
	// FactorAuthenticator enables MethodTOTP once ConfirmAuthenticator succeeds.
	FactorAuthenticator FactorKind = "authenticator"
	// FactorOneTimeCode enables MethodEmailOTP.
	FactorOneTimeCode FactorKind = "one_time_code"
	// FactorSecurityQuestion enables MethodSecurityQuestion.
	FactorSecurityQuestion FactorKind = "security_question"
	// FactorPasskey is reported and can be disabled, but cannot be set up here.
	FactorPasskey FactorKind = "passkey"
)

// QuestionAnswer is one answer supplied during second-factor verification.
type QuestionAnswer struct {
	QuestionID string `json:"question_id"`
	Answer     string `json:"answer"`
}

// Proof carries the material for one verification call. Code is used by TOTP,
// email OTP and backup codes; Answers by security questions.
type Proof struct {
	Code    string           `json:"code,omitempty"`
	Answers []QuestionAnswer `json:"answers,omitempty"`
}

// Question is a security question as shown to the user. Answers never leave the engine.
type Question struct {
	ID   string `json:"id"`
	Text string `json:"text"`
}

// QuestionSetup is one question/answer pair submitted during setup.
type QuestionSetup struct {
	Question string `json:"question"`
	Answer   string `json:"answer"`
}

// SetupPayload is the input of SetupFactor. Only security questions take a payload.
type SetupPayload struct {
	Questions []QuestionSetup `json:"questions,omitempty"`
}

// SetupResult reports what a setup call produced. BackupCodes is set only when
// the call turned second-factor authentication on for the first time.
type SetupResult struct {
	Kind                FactorKind `json:"kind"`
	Enabled             bool       `json:"enabled"`
	AuthenticatorSecret string     `json:"authenticator_secret,omitempty"`
	AuthenticatorURL    string     `json:"authenticator_url,omitempty"`
	BackupCodes         []string   `json:"backup_codes,omitempty"`
}

// FactorStatus summarizes a user's second-factor configuration.
type FactorStatus struct {
	Enabled              bool `json:"enabled"`
	Authenticator        bool `json:"authenticator"`
	AuthenticatorPending bool `json:"authenticator_pending"`
	Passkey              bool `json:"passkey"`
	OneTimeCode          bool `json:"one_time_code"`
	SecurityQuestion     bool `json:"security_question"`
	QuestionCount        int  `json:"question_count"`
	BackupCodesRemaining int  `json:"backup_codes_remaining"`
}

// LoginStep is the state a login call ended in.
type LoginStep string

const (
	StepAuthenticated LoginStep = "authenticated"
	StepSecondFactor  LoginStep = "second_factor"
	StepRoleSelection LoginStep = "role_selection"
)

// LoginResult is the outcome of Login, VerifySecondFactor and SelectRole.
//
// StepAuthenticated sets SessionToken, ExpiresAt, Profile and DeviceSessionID.
// StepSecondFactor sets IntermediateToken, ExpiresAt, Methods and Questions.
// StepRoleSelection sets IntermediateToken, ExpiresAt and Roles.
type LoginResult struct {
	Step              LoginStep      `json:"step"`
	SessionToken      string         `json:"session_token,omitempty"`
	IntermediateToken string         `json:"intermediate_token,omitempty"`
	ExpiresAt         time.Time      `json:"expires_at"`
	Profile           *Profile       `json:"profile,omitempty"`
	DeviceSessionID   string         `json:"device_session_id,omitempty"`
	Methods           []FactorMethod `json:"methods,omitempty"`
	Questions         []Question     `json:"questions,omitempty"`
	Roles             []string       `json:"roles,omitempty"`
}

// DeviceView is a device session as listed to its owner.
type DeviceView struct {
	ID          string      `json:"id"`
	Fingerprint Fingerprint `json:"fingerprint"`
	Blocked     bool        `json:"blocked"`
	Current     bool        `json:"current"`
	LastActive  time.Time   `json:"last_active"`
	CreatedAt   time.Time   `json:"created_at"`
}

// Attempt is one second-factor verification row.
type Attempt struct {
	ID      string       `json:"id"`
	Method  FactorMethod `json:"method"`
	Success bool         `json:"success"`
	IP      string       `json:"ip"`
	At      time.Time    `json:"at"`
}

// SessionClaims is what Authorize returns for a valid session token.
type SessionClaims struct {
	UserID    string    `json:"user_id"`
	Role      string    `json:"role"`
	ExpiresAt time.Time `json:"expires_at"`
}

// CredentialStore owns user records and password verification. Find methods
// return nil, nil when no user matches.
type CredentialStore interface {
	FindByEmail(ctx context.Context, email string) (*User, error)
	FindByID(ctx context.Context, id string) (*User, error)
	VerifyPassword(plain, hash string) bool
	TouchLastLogin(ctx context.Context, userID string) error
}

// RoleRegistry lists the roles a user currently holds.
type RoleRegistry interface {
	ActiveRoles(ctx context.Context, userID string) ([]string, error)
}

// EmailSender delivers one-time codes. Delivery is fire-and-forget from the
// engine's point of view.
type EmailSender interface {
	SendOTP(ctx context.Context, email, code string) error
}

// Clock is the engine's time source.
type Clock interface {
	Now() time.Time
}

// SystemClock reads the wall clock.
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now() }
