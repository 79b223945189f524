package gatekeeper

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
)

func threeQuestions() []QuestionSetup {
	return []QuestionSetup{
		{Question: "Name of your first pet?", Answer: "Rex"},
		{Question: "City you were born in?", Answer: "  Lisbon "},
		{Question: "First school you attended?", Answer: "Hillcrest Primary"},
	}
}

func TestSetupSecurityQuestionsCountBounds(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.addUser("u1", "ada@example.com", "staff")

	two := threeQuestions()[:2]
	_, err := env.engine.SetupFactor(ctx, "u1", FactorSecurityQuestion, SetupPayload{Questions: two})
	expectErr(t, err, ErrValidation)

	six := append(threeQuestions(), threeQuestions()...)
	for i := range six {
		six[i].Question = strings.Repeat("q", 5+i)
	}
	_, err = env.engine.SetupFactor(ctx, "u1", FactorSecurityQuestion, SetupPayload{Questions: six})
	expectErr(t, err, ErrValidation)

	res, err := env.engine.SetupFactor(ctx, "u1", FactorSecurityQuestion, SetupPayload{Questions: threeQuestions()})
	if err != nil {
		t.Fatalf("setup with 3 questions: %v", err)
	}
	if !res.Enabled || len(res.BackupCodes) != 10 {
		t.Fatalf("unexpected setup result: %+v", res)
	}
	status, err := env.engine.GetStatus(ctx, "u1")
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if !status.Enabled || !status.SecurityQuestion || status.QuestionCount != 3 {
		t.Fatalf("unexpected status: %+v", status)
	}
}

func TestSetupSecurityQuestionsLengthBounds(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.addUser("u1", "ada@example.com", "staff")

	cases := []struct {
		name   string
		mutate func([]QuestionSetup)
		ok     bool
	}{
		{"question too short", func(q []QuestionSetup) { q[0].Question = "Why?" }, false},
		{"question at minimum", func(q []QuestionSetup) { q[0].Question = "Color" }, true},
		{"question at maximum", func(q []QuestionSetup) { q[0].Question = strings.Repeat("é", 500) }, true},
		{"question too long", func(q []QuestionSetup) { q[0].Question = strings.Repeat("a", 501) }, false},
		{"answer too short", func(q []QuestionSetup) { q[1].Answer = " x " }, false},
		{"answer at minimum", func(q []QuestionSetup) { q[1].Answer = "xy" }, true},
		{"answer at maximum", func(q []QuestionSetup) { q[1].Answer = strings.Repeat("b", 200) }, true},
		{"answer too long", func(q []QuestionSetup) { q[1].Answer = strings.Repeat("b", 201) }, false},
		{"duplicate question", func(q []QuestionSetup) { q[2].Question = strings.ToUpper(q[0].Question) }, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			qs := threeQuestions()
			tc.mutate(qs)
			_, err := env.engine.SetupFactor(ctx, "u1", FactorSecurityQuestion, SetupPayload{Questions: qs})
			if tc.ok && err != nil {
				t.Fatalf("expected success, got %v", err)
			}
			if !tc.ok {
				expectErr(t, err, ErrValidation)
			}
		})
	}
}

func TestSecurityQuestionAnyOneMatch(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.addUser("u1", "ada@example.com", "staff")
	if _, err := env.engine.SetupFactor(ctx, "u1", FactorSecurityQuestion, SetupPayload{Questions: threeQuestions()}); err != nil {
		t.Fatalf("setup: %v", err)
	}

	challenge := env.login(t, "ada@example.com", laptop)
	qs := challenge.Questions
	if len(qs) != 3 {
		t.Fatalf("unexpected questions: %+v", qs)
	}

	allWrong := Proof{Answers: []QuestionAnswer{
		{QuestionID: qs[0].ID, Answer: "Fido"},
		{QuestionID: qs[1].ID, Answer: "Porto"},
		{QuestionID: "missing", Answer: "Rex"},
	}}
	_, err := env.engine.VerifySecondFactor(ctx, challenge.IntermediateToken, MethodSecurityQuestion, allWrong, laptop)
	expectErr(t, err, ErrInvalidVerification)

	oneRight := Proof{Answers: []QuestionAnswer{
		{QuestionID: qs[0].ID, Answer: "Fido"},
		{QuestionID: qs[1].ID, Answer: " LISBON"},
		{QuestionID: qs[2].ID, Answer: "nobody"},
	}}
	res, err := env.engine.VerifySecondFactor(ctx, challenge.IntermediateToken, MethodSecurityQuestion, oneRight, laptop)
	if err != nil {
		t.Fatalf("verify with one correct answer: %v", err)
	}
	if res.Step != StepAuthenticated {
		t.Fatalf("unexpected result: %+v", res)
	}
}

func TestSecurityQuestionSetupReplacesSet(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.addUser("u1", "ada@example.com", "staff")
	first, err := env.engine.SetupFactor(ctx, "u1", FactorSecurityQuestion, SetupPayload{Questions: threeQuestions()})
	if err != nil {
		t.Fatalf("setup: %v", err)
	}

	four := append(threeQuestions(), QuestionSetup{Question: "First concert?", Answer: "Blur"})
	second, err := env.engine.SetupFactor(ctx, "u1", FactorSecurityQuestion, SetupPayload{Questions: four})
	if err != nil {
		t.Fatalf("replace: %v", err)
	}
	if len(first.BackupCodes) != 10 || len(second.BackupCodes) != 0 {
		t.Fatalf("backup codes should be minted only on first enable: %d then %d", len(first.BackupCodes), len(second.BackupCodes))
	}
	challenge := env.login(t, "ada@example.com", laptop)
	if len(challenge.Questions) != 4 || challenge.Questions[3].Text != "First concert?" {
		t.Fatalf("unexpected questions after replace: %+v", challenge.Questions)
	}
}

func TestConfirmAuthenticator(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.addUser("u1", "ada@example.com", "staff")

	_, err := env.engine.ConfirmAuthenticator(ctx, "u1", "123456")
	expectErr(t, err, ErrFactorNotConfigured)

	setup, err := env.engine.SetupFactor(ctx, "u1", FactorAuthenticator, SetupPayload{})
	if err != nil {
		t.Fatalf("setup: %v", err)
	}
	if setup.Enabled || setup.AuthenticatorSecret == "" || !strings.HasPrefix(setup.AuthenticatorURL, "otpauth://totp/") {
		t.Fatalf("unexpected setup result: %+v", setup)
	}
	status, err := env.engine.GetStatus(ctx, "u1")
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if status.Enabled || !status.AuthenticatorPending {
		t.Fatalf("unconfirmed authenticator must be pending only: %+v", status)
	}
	if res := env.login(t, "ada@example.com", laptop); res.Step != StepAuthenticated {
		t.Fatalf("pending authenticator must not trigger a challenge: %+v", res)
	}

	_, err = env.engine.ConfirmAuthenticator(ctx, "u1", "000000")
	if err != nil {
		expectErr(t, err, ErrInvalidVerification)
	}

	confirmed, err := env.engine.ConfirmAuthenticator(ctx, "u1", env.totpCode(t, setup.AuthenticatorSecret))
	if err != nil {
		t.Fatalf("confirm: %v", err)
	}
	if !confirmed.Enabled || confirmed.Kind != FactorAuthenticator {
		t.Fatalf("unexpected confirm result: %+v", confirmed)
	}
	attempts, err := env.engine.RecentAttempts(ctx, "u1")
	if err != nil {
		t.Fatalf("recent attempts: %v", err)
	}
	if len(attempts) != 0 {
		t.Fatalf("enable-flow checks must not write attempts, got %d", len(attempts))
	}
}

func TestDisableFactorDiscardsMaterial(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.addUser("u1", "ada@example.com", "staff")
	env.enableAuthenticator(t, "u1")
	if _, err := env.engine.SetupFactor(ctx, "u1", FactorOneTimeCode, SetupPayload{}); err != nil {
		t.Fatalf("enable one-time code: %v", err)
	}

	if err := env.engine.DisableFactor(ctx, "u1", FactorAuthenticator); err != nil {
		t.Fatalf("disable authenticator: %v", err)
	}
	status, err := env.engine.GetStatus(ctx, "u1")
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if status.Authenticator || status.AuthenticatorPending || !status.Enabled || status.BackupCodesRemaining != 10 {
		t.Fatalf("unexpected status after disabling one factor: %+v", status)
	}

	expectErr(t, env.engine.DisableFactor(ctx, "u1", FactorAuthenticator), ErrFactorNotConfigured)
	expectErr(t, env.engine.DisableFactor(ctx, "u1", FactorPasskey), ErrFactorNotConfigured)
	expectErr(t, env.engine.DisableFactor(ctx, "u1", FactorKind("sms")), ErrValidation)

	if err := env.engine.DisableFactor(ctx, "u1", FactorOneTimeCode); err != nil {
		t.Fatalf("disable one-time code: %v", err)
	}
	status, err = env.engine.GetStatus(ctx, "u1")
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if status.Enabled || status.BackupCodesRemaining != 0 {
		t.Fatalf("backup codes must be discarded once nothing is enabled: %+v", status)
	}
	_, err = env.engine.RegenerateBackupCodes(ctx, "u1")
	expectErr(t, err, ErrFactorNotConfigured)
}

func TestDisablePendingAuthenticator(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.addUser("u1", "ada@example.com", "staff")
	if _, err := env.engine.SetupFactor(ctx, "u1", FactorAuthenticator, SetupPayload{}); err != nil {
		t.Fatalf("setup: %v", err)
	}
	if err := env.engine.DisableFactor(ctx, "u1", FactorAuthenticator); err != nil {
		t.Fatalf("disable pending authenticator: %v", err)
	}
	_, err := env.engine.ConfirmAuthenticator(ctx, "u1", "123456")
	expectErr(t, err, ErrFactorNotConfigured)
}

func TestRegenerateBackupCodesDiscardsOldSet(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.addUser("u1", "ada@example.com", "staff")
	_, oldCodes := env.enableAuthenticator(t, "u1")

	newCodes, err := env.engine.RegenerateBackupCodes(ctx, "u1")
	if err != nil {
		t.Fatalf("regenerate: %v", err)
	}
	if len(newCodes) != 10 {
		t.Fatalf("expected 10 codes, got %d", len(newCodes))
	}
	seen := map[string]bool{}
	for _, c := range newCodes {
		if seen[c] {
			t.Fatalf("duplicate code %q", c)
		}
		seen[c] = true
	}

	token := env.login(t, "ada@example.com", laptop).IntermediateToken
	_, err = env.engine.VerifySecondFactor(ctx, token, MethodBackupCode, Proof{Code: oldCodes[0]}, laptop)
	expectErr(t, err, ErrInvalidVerification)
	if _, err := env.engine.VerifySecondFactor(ctx, token, MethodBackupCode, Proof{Code: newCodes[0]}, laptop); err != nil {
		t.Fatalf("new code should verify: %v", err)
	}
}

func TestSetupFactorRejectsUnsupportedKinds(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.addUser("u1", "ada@example.com", "staff")

	_, err := env.engine.SetupFactor(ctx, "u1", FactorPasskey, SetupPayload{})
	expectErr(t, err, ErrValidation)
	_, err = env.engine.SetupFactor(ctx, "u1", FactorKind("sms"), SetupPayload{})
	expectErr(t, err, ErrValidation)
	_, err = env.engine.SetupFactor(ctx, "", FactorOneTimeCode, SetupPayload{})
	expectErr(t, err, ErrValidation)
	_, err = env.engine.SetupFactor(ctx, "ghost", FactorAuthenticator, SetupPayload{})
	expectErr(t, err, ErrInvalidCredentials)
}

func TestConcurrentFactorSetupMintsOneCodeSet(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	for i := 0; i < 20; i++ {
		userID := fmt.Sprintf("u%d", i)
		env.addUser(userID, userID+"@example.com", "staff")

		results := make(chan *SetupResult, 2)
		var wg sync.WaitGroup
		setups := []func() (*SetupResult, error){
			func() (*SetupResult, error) {
				return env.engine.SetupFactor(ctx, userID, FactorOneTimeCode, SetupPayload{})
			},
			func() (*SetupResult, error) {
				return env.engine.SetupFactor(ctx, userID, FactorSecurityQuestion, SetupPayload{Questions: threeQuestions()})
			},
		}
		for _, setup := range setups {
			wg.Add(1)
			go func(setup func() (*SetupResult, error)) {
				defer wg.Done()
				res, err := setup()
				if err != nil {
					t.Errorf("%s: setup: %v", userID, err)
					return
				}
				results <- res
			}(setup)
		}
		wg.Wait()
		close(results)

		var minted []string
		for res := range results {
			if len(res.BackupCodes) > 0 {
				if minted != nil {
					t.Fatalf("%s: both setups minted backup codes", userID)
				}
				minted = res.BackupCodes
			}
		}
		if len(minted) != 10 {
			t.Fatalf("%s: expected one set of 10 codes, got %d", userID, len(minted))
		}

		status, err := env.engine.GetStatus(ctx, userID)
		if err != nil {
			t.Fatalf("status: %v", err)
		}
		if !status.OneTimeCode || !status.SecurityQuestion || status.BackupCodesRemaining != 10 {
			t.Fatalf("%s: unexpected status %+v", userID, status)
		}

		// The codes handed out are the live ones.
		token := env.login(t, userID+"@example.com", laptop).IntermediateToken
		if _, err := env.engine.VerifySecondFactor(ctx, token, MethodBackupCode, Proof{Code: minted[0]}, laptop); err != nil {
			t.Fatalf("%s: minted code must verify: %v", userID, err)
		}
	}
}
