package flows

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
)

type recorderFake struct {
	mu   sync.Mutex
	rows []AttemptRecord
	err  error
}

func (r *recorderFake) Record(_ context.Context, rec AttemptRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rows = append(r.rows, rec)
	return r.err
}

type stubVerifier struct {
	ok    bool
	err   error
	panic bool
}

func (s stubVerifier) Method() string { return "stub" }

func (s stubVerifier) Verify(context.Context, string, Proof) (bool, error) {
	if s.panic {
		panic("boom")
	}
	return s.ok, s.err
}

// plainCompare stands in for a password hasher: the "hash" is "h:" + plain.
func plainCompare(plain, hash string) (bool, error) {
	return hash == "h:"+plain, nil
}

func plainHash(plain string) (string, error) {
	return "h:" + plain, nil
}

func TestRecordedWritesOneRowPerOutcome(t *testing.T) {
	cases := []struct {
		name        string
		verifier    stubVerifier
		wantOK      bool
		wantErr     bool
		wantSuccess bool
	}{
		{"match", stubVerifier{ok: true}, true, false, true},
		{"mismatch", stubVerifier{}, false, false, false},
		{"error", stubVerifier{err: errors.New("backend down")}, false, true, false},
		{"panic", stubVerifier{panic: true}, false, true, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := &recorderFake{}
			r := Recorded{Verifier: tc.verifier, Record: rec.Record}
			ok, err := r.Verify(context.Background(), "u1", Proof{}, "10.0.0.1")
			if ok != tc.wantOK || (err != nil) != tc.wantErr {
				t.Fatalf("Verify = %v, %v", ok, err)
			}
			if len(rec.rows) != 1 {
				t.Fatalf("expected exactly one attempt row, got %d", len(rec.rows))
			}
			row := rec.rows[0]
			if row.Success != tc.wantSuccess || row.Method != "stub" || row.IP != "10.0.0.1" || row.UserID != "u1" {
				t.Fatalf("unexpected row: %+v", row)
			}
		})
	}
}

func TestRecordedSurfacesLedgerFailure(t *testing.T) {
	rec := &recorderFake{err: errors.New("redis down")}
	r := Recorded{Verifier: stubVerifier{}, Record: rec.Record}
	_, err := r.Verify(context.Background(), "u1", Proof{}, "")
	if !errors.Is(err, ErrAttemptNotRecorded) {
		t.Fatalf("expected ErrAttemptNotRecorded, got %v", err)
	}
}

func testTOTPOptions() TOTPOptions {
	return TOTPOptions{Issuer: "gatekeeper", Period: 30, Digits: 6, Skew: 3}
}

func totpCode(t *testing.T, secret string, at time.Time) string {
	t.Helper()
	code, err := totp.GenerateCodeCustom(secret, at, totp.ValidateOpts{
		Period: 30, Digits: otp.DigitsSix, Algorithm: otp.AlgorithmSHA1,
	})
	if err != nil {
		t.Fatalf("generate code: %v", err)
	}
	return code
}

func TestMatchTOTPSkewWindow(t *testing.T) {
	enr, err := GenerateTOTPSecret("alice@example.com", testTOTPOptions())
	if err != nil {
		t.Fatalf("generate secret: %v", err)
	}
	if !strings.Contains(enr.URL, "otpauth://totp/") {
		t.Fatalf("unexpected provisioning url %q", enr.URL)
	}
	now := time.Unix(1_700_000_010, 0)

	counter, ok := MatchTOTP(totpCode(t, enr.Secret, now.Add(-90*time.Second)), enr.Secret, now, testTOTPOptions())
	if !ok {
		t.Fatal("code three steps old must be accepted")
	}
	if want := now.Unix()/30 - 3; counter != want {
		t.Fatalf("matched counter = %d, want %d", counter, want)
	}
	if _, ok := MatchTOTP(totpCode(t, enr.Secret, now.Add(-5*time.Minute)), enr.Secret, now, testTOTPOptions()); ok {
		t.Fatal("code ten steps old must be rejected")
	}

	spaced := " " + enr.Secret[:4] + " " + enr.Secret[4:] + "\n"
	if _, ok := MatchTOTP(totpCode(t, enr.Secret, now), spaced, now, testTOTPOptions()); !ok {
		t.Fatal("whitespace in stored secret must be ignored")
	}
	if _, ok := MatchTOTP("12", enr.Secret, now, testTOTPOptions()); ok {
		t.Fatal("short code must not match")
	}
}

func TestTOTPVerifierRequiresVerifiedSecret(t *testing.T) {
	enr, err := GenerateTOTPSecret("alice@example.com", testTOTPOptions())
	if err != nil {
		t.Fatalf("generate secret: %v", err)
	}
	now := time.Unix(1_700_000_000, 0)
	state := &AuthenticatorState{Secret: enr.Secret}
	v := TOTPVerifier{
		GetSecret: func(context.Context, string) (*AuthenticatorState, error) { return state, nil },
		Now:       func() time.Time { return now },
		Options:   testTOTPOptions(),
	}
	code := totpCode(t, enr.Secret, now)

	if ok, _ := v.Verify(context.Background(), "u1", Proof{Code: code}); ok {
		t.Fatal("unverified secret must not verify at login")
	}
	state.Verified = true
	if ok, err := v.Verify(context.Background(), "u1", Proof{Code: code}); err != nil || !ok {
		t.Fatalf("verified secret should verify: %v %v", ok, err)
	}

	missing := TOTPVerifier{
		GetSecret: func(context.Context, string) (*AuthenticatorState, error) { return nil, nil },
		Now:       time.Now,
		Options:   testTOTPOptions(),
	}
	if ok, err := missing.Verify(context.Background(), "u1", Proof{Code: code}); err != nil || ok {
		t.Fatalf("missing secret: %v %v", ok, err)
	}
}

func TestTOTPVerifierAcceptsEachStepOnce(t *testing.T) {
	enr, err := GenerateTOTPSecret("alice@example.com", testTOTPOptions())
	if err != nil {
		t.Fatalf("generate secret: %v", err)
	}
	now := time.Unix(1_700_000_000, 0)
	var last int64 = -1
	v := TOTPVerifier{
		GetSecret: func(context.Context, string) (*AuthenticatorState, error) {
			return &AuthenticatorState{Secret: enr.Secret, Verified: true}, nil
		},
		Accept: func(_ context.Context, _ string, counter int64) (bool, error) {
			if counter <= last {
				return false, nil
			}
			last = counter
			return true, nil
		},
		Now:     func() time.Time { return now },
		Options: testTOTPOptions(),
	}
	ctx := context.Background()

	code := totpCode(t, enr.Secret, now)
	if ok, err := v.Verify(ctx, "u1", Proof{Code: code}); err != nil || !ok {
		t.Fatalf("first use should verify: %v %v", ok, err)
	}
	if ok, _ := v.Verify(ctx, "u1", Proof{Code: code}); ok {
		t.Fatal("replayed code must not verify")
	}
	older := totpCode(t, enr.Secret, now.Add(-30*time.Second))
	if ok, _ := v.Verify(ctx, "u1", Proof{Code: older}); ok {
		t.Fatal("code older than the last accepted step must not verify")
	}
	now = now.Add(30 * time.Second)
	if ok, err := v.Verify(ctx, "u1", Proof{Code: totpCode(t, enr.Secret, now)}); err != nil || !ok {
		t.Fatalf("next step should verify: %v %v", ok, err)
	}
}

func TestSecurityQuestionAnyOneMatches(t *testing.T) {
	v := SecurityQuestionVerifier{
		ListQuestions: func(context.Context, string) ([]StoredQuestion, error) {
			return []StoredQuestion{
				{ID: "q1", AnswerHash: "h:rex"},
				{ID: "q2", AnswerHash: "h:main street"},
				{ID: "q3", AnswerHash: "h:paris"},
			}, nil
		},
		Compare: plainCompare,
	}
	ctx := context.Background()

	oneRight := Proof{Answers: []Answer{
		{QuestionID: "q1", Answer: "wrong"},
		{QuestionID: "q2", Answer: "  Main STREET "},
		{QuestionID: "q3", Answer: "berlin"},
	}}
	if ok, err := v.Verify(ctx, "u1", oneRight); err != nil || !ok {
		t.Fatalf("one correct answer should pass: %v %v", ok, err)
	}

	allWrong := Proof{Answers: []Answer{
		{QuestionID: "q1", Answer: "fido"},
		{QuestionID: "q3", Answer: "rome"},
	}}
	if ok, _ := v.Verify(ctx, "u1", allWrong); ok {
		t.Fatal("zero correct answers must fail")
	}

	unknownOnly := Proof{Answers: []Answer{{QuestionID: "nope", Answer: "rex"}}}
	if ok, _ := v.Verify(ctx, "u1", unknownOnly); ok {
		t.Fatal("unknown question ids are skipped, not matched")
	}

	unknownPlusRight := Proof{Answers: []Answer{{QuestionID: "nope", Answer: "x"}, {QuestionID: "q1", Answer: "REX"}}}
	if ok, _ := v.Verify(ctx, "u1", unknownPlusRight); !ok {
		t.Fatal("unknown id must not prevent a later match")
	}

	if ok, _ := v.Verify(ctx, "u1", Proof{}); ok {
		t.Fatal("no answers must fail")
	}
}

func TestMintAndVerifyBackupCodes(t *testing.T) {
	codes, records, err := MintBackupCodes(10, 10, plainHash, nil)
	if err != nil {
		t.Fatalf("mint: %v", err)
	}
	if len(codes) != 10 || len(records) != 10 {
		t.Fatalf("expected 10 codes, got %d/%d", len(codes), len(records))
	}
	for _, c := range codes {
		if len(c) != 11 || c[5] != '-' {
			t.Fatalf("unexpected code format %q", c)
		}
	}

	unused := make(map[string]string, len(records))
	for _, r := range records {
		unused[r.ID] = r.Hash
	}
	var mu sync.Mutex
	v := BackupCodeVerifier{
		Unused: func(context.Context, string) ([]StoredBackupCode, error) {
			mu.Lock()
			defer mu.Unlock()
			out := make([]StoredBackupCode, 0, len(unused))
			for id, h := range unused {
				out = append(out, StoredBackupCode{ID: id, Hash: h})
			}
			return out, nil
		},
		Compare: plainCompare,
		Redeem: func(_ context.Context, _ string, id string, _ time.Time) (bool, error) {
			mu.Lock()
			defer mu.Unlock()
			if _, ok := unused[id]; !ok {
				return false, nil
			}
			delete(unused, id)
			return true, nil
		},
		Now: time.Now,
	}

	ctx := context.Background()
	lower := strings.ToLower(codes[3])
	if ok, err := v.Verify(ctx, "u1", Proof{Code: lower}); err != nil || !ok {
		t.Fatalf("formatted lowercase code should verify: %v %v", ok, err)
	}
	if ok, _ := v.Verify(ctx, "u1", Proof{Code: codes[3]}); ok {
		t.Fatal("used code must not verify again")
	}
	if ok, _ := v.Verify(ctx, "u1", Proof{Code: "   "}); ok {
		t.Fatal("blank code must not verify")
	}
}

func TestCanonicalizeBackupCode(t *testing.T) {
	if got := CanonicalizeBackupCode(" abcde-fgh23 "); got != "ABCDEFGH23" {
		t.Fatalf("canonical = %q", got)
	}
	if got := FormatBackupCode("ABCDEFGH23"); got != "ABCDE-FGH23" {
		t.Fatalf("formatted = %q", got)
	}
}

func TestEmailOTPVerifierTrimsCode(t *testing.T) {
	var got string
	v := EmailOTPVerifier{
		Consume: func(_ context.Context, _ string, code string, _ time.Time) (bool, error) {
			got = code
			return code == "123456", nil
		},
		Now: time.Now,
	}
	if ok, _ := v.Verify(context.Background(), "u1", Proof{Code: " 123456 "}); !ok || got != "123456" {
		t.Fatalf("expected trimmed code to verify, consumed %q", got)
	}
	if ok, _ := v.Verify(context.Background(), "u1", Proof{}); ok {
		t.Fatal("empty code must fail without consuming")
	}
}

func TestNewNumericCode(t *testing.T) {
	code, err := NewNumericCode(6)
	if err != nil || len(code) != 6 {
		t.Fatalf("code=%q err=%v", code, err)
	}
	if strings.Trim(code, "0123456789") != "" {
		t.Fatalf("non-numeric code %q", code)
	}
	if _, err := NewNumericCode(4); err == nil {
		t.Fatal("expected error for 4 digits")
	}
}
