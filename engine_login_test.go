package gatekeeper

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/MrEthical07/gatekeeper/jwt"
)

func TestLoginWithoutSecondFactorIssuesSession(t *testing.T) {
	env := newTestEnv(t)
	env.addUser("u1", "ada@example.com", "staff", "staff")

	res, err := env.engine.Login(context.Background(), "  Ada@Example.com ", "correct horse", laptop)
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if res.Step != StepAuthenticated || res.SessionToken == "" || res.IntermediateToken != "" {
		t.Fatalf("unexpected result: %+v", res)
	}
	if res.DeviceSessionID == "" {
		t.Fatal("expected a device session to be recorded")
	}
	if res.Profile == nil || res.Profile.Role != "staff" || res.Profile.BusinessName != "Acme" {
		t.Fatalf("unexpected profile: %+v", res.Profile)
	}
	if !res.ExpiresAt.Equal(env.clock.Now().Add(7 * 24 * time.Hour).Truncate(time.Second)) {
		t.Fatalf("unexpected expiry: %v", res.ExpiresAt)
	}
	if env.users.touchCount("u1") != 1 {
		t.Fatalf("expected last login to be stamped once, got %d", env.users.touchCount("u1"))
	}

	claims, err := env.engine.Authorize(context.Background(), res.SessionToken, laptop)
	if err != nil {
		t.Fatalf("authorize: %v", err)
	}
	if claims.UserID != "u1" || claims.Role != "staff" {
		t.Fatalf("unexpected claims: %+v", claims)
	}
}

func TestLoginRejectsWithoutEnumeration(t *testing.T) {
	env := newTestEnv(t)
	env.addUser("u1", "ada@example.com", "staff")
	env.addUser("u2", "gone@example.com", "staff")
	env.users.update("u2", func(u *User) { u.IsDeleted = true })
	env.addUser("u3", "idle@example.com", "staff")
	env.users.update("u3", func(u *User) { u.IsActive = false })

	cases := []struct {
		name     string
		email    string
		password string
	}{
		{"unknown", "nobody@example.com", "correct horse"},
		{"wrong password", "ada@example.com", "battery staple"},
		{"deleted", "gone@example.com", "correct horse"},
		{"inactive", "idle@example.com", "correct horse"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := env.engine.Login(context.Background(), tc.email, tc.password, laptop)
			expectErr(t, err, ErrInvalidCredentials)
			if PublicMessage(err) != "Invalid email or password." {
				t.Fatalf("unexpected public message %q", PublicMessage(err))
			}
		})
	}
	if got := env.engine.MetricsSnapshot().Counters[MetricLoginFailure]; got != uint64(len(cases)) {
		t.Fatalf("expected %d login failures, got %d", len(cases), got)
	}
}

func TestLoginValidatesInput(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.engine.Login(context.Background(), "   ", "x", laptop)
	expectErr(t, err, ErrValidation)
	_, err = env.engine.Login(context.Background(), "a@example.com", "", laptop)
	expectErr(t, err, ErrValidation)
}

func TestLoginCredentialStoreFailureIsUnavailable(t *testing.T) {
	env := newTestEnv(t)
	env.users.findErr = errors.New("connection refused")
	_, err := env.engine.Login(context.Background(), "ada@example.com", "correct horse", laptop)
	expectErr(t, err, ErrUnavailable)
	if ErrorCode(err) != "unavailable" {
		t.Fatalf("unexpected code %q", ErrorCode(err))
	}
}

func TestLoginNeverChallengesWhenNoFactorEnabled(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.addUser("u1", "ada@example.com", "staff")

	// Enable then disable every toggle: the user ends up with isEnabled=false.
	if _, err := env.engine.SetupFactor(ctx, "u1", FactorOneTimeCode, SetupPayload{}); err != nil {
		t.Fatalf("enable one-time code: %v", err)
	}
	if err := env.engine.DisableFactor(ctx, "u1", FactorOneTimeCode); err != nil {
		t.Fatalf("disable one-time code: %v", err)
	}

	for _, fp := range []Fingerprint{laptop, phone, {}} {
		res := env.login(t, "ada@example.com", fp)
		if res.Step == StepSecondFactor {
			t.Fatalf("second factor requested for a user without factors: %+v", res)
		}
	}
}

func TestLoginSecondFactorChallengeListsMethods(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.addUser("u1", "ada@example.com", "staff")

	env.enableAuthenticator(t, "u1")
	if _, err := env.engine.SetupFactor(ctx, "u1", FactorSecurityQuestion, SetupPayload{Questions: threeQuestions()}); err != nil {
		t.Fatalf("setup questions: %v", err)
	}

	res := env.login(t, "ada@example.com", laptop)
	if res.Step != StepSecondFactor || res.IntermediateToken == "" || res.SessionToken != "" {
		t.Fatalf("unexpected result: %+v", res)
	}
	want := []FactorMethod{MethodTOTP, MethodSecurityQuestion, MethodBackupCode}
	if len(res.Methods) != len(want) {
		t.Fatalf("unexpected methods: %v", res.Methods)
	}
	for i := range want {
		if res.Methods[i] != want[i] {
			t.Fatalf("unexpected methods: %v", res.Methods)
		}
	}
	if len(res.Questions) != 3 || res.Questions[0].Text != "Name of your first pet?" {
		t.Fatalf("unexpected questions: %+v", res.Questions)
	}
	if !res.ExpiresAt.Equal(env.clock.Now().Add(10 * time.Minute).Truncate(time.Second)) {
		t.Fatalf("unexpected intermediate expiry: %v", res.ExpiresAt)
	}
	if env.users.touchCount("u1") != 0 {
		t.Fatal("last login must not be stamped before the second factor")
	}
}

func TestLoginRoleSelection(t *testing.T) {
	env := newTestEnv(t)
	env.addUser("u1", "owner@example.com", "admin", "admin", "manager", "admin")
	env.addUser("u2", "solo@example.com", "admin", "admin")

	res := env.login(t, "owner@example.com", laptop)
	if res.Step != StepRoleSelection || res.IntermediateToken == "" {
		t.Fatalf("unexpected result: %+v", res)
	}
	if len(res.Roles) != 2 || res.Roles[0] != "admin" || res.Roles[1] != "manager" {
		t.Fatalf("unexpected roles: %v", res.Roles)
	}

	if solo := env.login(t, "solo@example.com", laptop); solo.Step != StepAuthenticated {
		t.Fatalf("single-role admin should be authenticated directly: %+v", solo)
	}
}

func TestLoginBlockedFingerprint(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.addUser("u1", "ada@example.com", "staff")

	env.login(t, "ada@example.com", laptop)
	phoneLogin := env.login(t, "ada@example.com", phone)
	if err := env.engine.BlockDevice(ctx, "u1", phoneLogin.DeviceSessionID, laptop); err != nil {
		t.Fatalf("block phone: %v", err)
	}

	_, err := env.engine.Login(ctx, "ada@example.com", "correct horse", phone)
	expectErr(t, err, ErrDeviceBlocked)

	if res := env.login(t, "ada@example.com", laptop); res.Step != StepAuthenticated {
		t.Fatalf("login from another fingerprint should succeed: %+v", res)
	}
	// Any component change is a different device.
	otherNetwork := phone
	otherNetwork.IP = "192.0.2.55"
	if res := env.login(t, "ada@example.com", otherNetwork); res.Step != StepAuthenticated {
		t.Fatalf("login from a new network should succeed: %+v", res)
	}
}

func TestTokenPurposeIsEnforced(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.addUser("u1", "owner@example.com", "admin", "admin", "manager")
	env.addUser("u2", "ada@example.com", "staff")
	env.enableAuthenticator(t, "u2")

	roleToken := env.login(t, "owner@example.com", laptop).IntermediateToken
	secondFactorToken := env.login(t, "ada@example.com", laptop).IntermediateToken

	_, err := env.engine.VerifySecondFactor(ctx, roleToken, MethodBackupCode, Proof{Code: "AAAAA-AAAAA"}, laptop)
	expectErr(t, err, ErrInvalidOrExpiredToken)

	_, err = env.engine.SelectRole(ctx, secondFactorToken, "manager", laptop)
	expectErr(t, err, ErrInvalidOrExpiredToken)

	err = env.engine.SendSecondFactorCode(ctx, roleToken)
	expectErr(t, err, ErrInvalidOrExpiredToken)

	_, err = env.engine.Authorize(ctx, roleToken, laptop)
	expectErr(t, err, ErrInvalidOrExpiredToken)
	_, err = env.engine.Authorize(ctx, secondFactorToken, laptop)
	expectErr(t, err, ErrInvalidOrExpiredToken)

	_, err = env.engine.SelectRole(ctx, "not-a-token", "manager", laptop)
	expectErr(t, err, ErrInvalidOrExpiredToken)

	attempts, err := env.engine.RecentAttempts(ctx, "u2")
	if err != nil {
		t.Fatalf("recent attempts: %v", err)
	}
	if len(attempts) != 0 {
		t.Fatalf("rejected tokens must not write attempts, got %d", len(attempts))
	}
}

func TestIntermediateTokenExpires(t *testing.T) {
	env := newTestEnv(t)
	env.addUser("u1", "owner@example.com", "admin", "admin", "manager")
	token := env.login(t, "owner@example.com", laptop).IntermediateToken

	env.clock.Advance(11 * time.Minute)
	_, err := env.engine.SelectRole(context.Background(), token, "manager", laptop)
	expectErr(t, err, ErrInvalidOrExpiredToken)
}

func TestForeignSignedTokenRejected(t *testing.T) {
	env := newTestEnv(t)
	env.addUser("u1", "ada@example.com", "staff")

	other, err := jwt.NewManager(jwt.Config{
		SessionTTL:      time.Hour,
		IntermediateTTL: time.Minute,
		SigningMethod:   jwt.MethodHS256,
		PrivateKey:      []byte("some-other-signing-key-0123456789"),
		Issuer:          "gatekeeper",
		Now:             env.clock.Now,
	})
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	forged, _, err := other.IssueSession("u1", "admin")
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	_, err = env.engine.Authorize(context.Background(), forged, laptop)
	expectErr(t, err, ErrInvalidOrExpiredToken)
}

func TestDeviceCheckFailsOpen(t *testing.T) {
	env := newTestEnv(t)
	env.addUser("u1", "ada@example.com", "staff")
	env.engine.devices = brokenDevices{}

	res := env.login(t, "ada@example.com", laptop)
	if res.Step != StepAuthenticated || res.SessionToken == "" {
		t.Fatalf("login should proceed when the device registry is down: %+v", res)
	}
	if res.DeviceSessionID != "" {
		t.Fatalf("no device session can be recorded while the registry is down")
	}
	if _, err := env.engine.Authorize(context.Background(), res.SessionToken, laptop); err != nil {
		t.Fatalf("authorize should fail open: %v", err)
	}
	if got := env.engine.MetricsSnapshot().Counters[MetricDeviceCheckFailOpen]; got != 2 {
		t.Fatalf("expected 2 fail-open events, got %d", got)
	}
}
