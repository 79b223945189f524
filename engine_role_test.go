package gatekeeper

import (
	"context"
	"testing"
)

func TestSelectRoleIssuesSessionWithSelectedRole(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.addUser("u1", "owner@example.com", "admin", "admin", "manager")

	token := env.login(t, "owner@example.com", laptop).IntermediateToken
	res, err := env.engine.SelectRole(ctx, token, " manager ", laptop)
	if err != nil {
		t.Fatalf("select role: %v", err)
	}
	if res.Step != StepAuthenticated || res.Profile.Role != "manager" || res.DeviceSessionID == "" {
		t.Fatalf("unexpected result: %+v", res)
	}
	if env.users.touchCount("u1") != 1 {
		t.Fatalf("expected last login stamped once, got %d", env.users.touchCount("u1"))
	}

	claims, err := env.engine.Authorize(ctx, res.SessionToken, laptop)
	if err != nil {
		t.Fatalf("authorize: %v", err)
	}
	if claims.Role != "manager" {
		t.Fatalf("session must carry the selected role, got %q", claims.Role)
	}
}

func TestSelectRoleRejections(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.addUser("u1", "owner@example.com", "admin", "admin", "manager")

	token := env.login(t, "owner@example.com", laptop).IntermediateToken

	_, err := env.engine.SelectRole(ctx, token, "", laptop)
	expectErr(t, err, ErrValidation)

	_, err = env.engine.SelectRole(ctx, token, "auditor", laptop)
	expectErr(t, err, ErrRoleNotGranted)

	// A grant removed after the token was issued cannot be claimed.
	env.users.setRoles("u1", "admin")
	_, err = env.engine.SelectRole(ctx, token, "manager", laptop)
	expectErr(t, err, ErrRoleNotGranted)

	// Losing the elevated primary role invalidates the choice entirely.
	env.users.setRoles("u1", "admin", "manager")
	env.users.update("u1", func(u *User) { u.Role = "manager" })
	_, err = env.engine.SelectRole(ctx, token, "manager", laptop)
	expectErr(t, err, ErrRoleNotGranted)

	env.users.update("u1", func(u *User) {
		u.Role = "admin"
		u.IsDeleted = true
	})
	_, err = env.engine.SelectRole(ctx, token, "manager", laptop)
	expectErr(t, err, ErrInvalidOrExpiredToken)

	if got := env.engine.MetricsSnapshot().Counters[MetricRoleSelectionRejected]; got != 3 {
		t.Fatalf("expected 3 rejections, got %d", got)
	}
}

func TestSelectRoleChecksDevice(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.addUser("u1", "owner@example.com", "admin", "admin", "manager")

	first, err := env.engine.SelectRole(ctx, env.login(t, "owner@example.com", phone).IntermediateToken, "admin", phone)
	if err != nil {
		t.Fatalf("select role: %v", err)
	}
	token := env.login(t, "owner@example.com", phone).IntermediateToken
	if err := env.engine.BlockDevice(ctx, "u1", first.DeviceSessionID, laptop); err != nil {
		t.Fatalf("block: %v", err)
	}
	_, err = env.engine.SelectRole(ctx, token, "admin", phone)
	expectErr(t, err, ErrDeviceBlocked)
}

func TestRoleSelectionTokenRedeemsOnce(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.addUser("u1", "owner@example.com", "admin", "admin", "manager")

	token := env.login(t, "owner@example.com", laptop).IntermediateToken
	if _, err := env.engine.SelectRole(ctx, token, "manager", laptop); err != nil {
		t.Fatalf("select role: %v", err)
	}
	_, err := env.engine.SelectRole(ctx, token, "admin", laptop)
	expectErr(t, err, ErrInvalidOrExpiredToken)
}
