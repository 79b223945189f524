package flows

import (
	"context"
	"crypto/subtle"
	"strings"
	"time"
	"unicode"

	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
)

// TOTPOptions fixes the authenticator parameters.
type TOTPOptions struct {
	Issuer string
	Period uint
	Digits int
	Skew   uint
}

func (o TOTPOptions) validateOpts() totp.ValidateOpts {
	return totp.ValidateOpts{
		Period:    o.Period,
		Skew:      o.Skew,
		Digits:    otp.Digits(o.Digits),
		Algorithm: otp.AlgorithmSHA1,
	}
}

// Enrollment is a freshly generated authenticator secret.
type Enrollment struct {
	Secret string
	URL    string
}

// GenerateTOTPSecret creates a new secret for accountName.
func GenerateTOTPSecret(accountName string, opts TOTPOptions) (*Enrollment, error) {
	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      opts.Issuer,
		AccountName: accountName,
		Period:      opts.Period,
		Digits:      otp.Digits(opts.Digits),
		Algorithm:   otp.AlgorithmSHA1,
	})
	if err != nil {
		return nil, err
	}
	return &Enrollment{Secret: key.Secret(), URL: key.URL()}, nil
}

// MatchTOTP validates code against secret at now within the skew window and
// returns the time-step counter that matched. Whitespace is stripped from
// both. Malformed input is a non-match.
func MatchTOTP(code, secret string, now time.Time, opts TOTPOptions) (int64, bool) {
	code = stripSpace(code)
	secret = strings.ToUpper(stripSpace(secret))
	if code == "" || secret == "" || (opts.Digits > 0 && len(code) != opts.Digits) {
		return 0, false
	}
	period := int64(opts.Period)
	if period <= 0 {
		period = 30
	}
	current := now.Unix() / period
	skew := int64(opts.Skew)
	for counter := current - skew; counter <= current+skew; counter++ {
		if counter < 0 {
			continue
		}
		want, err := totp.GenerateCodeCustom(secret, time.Unix(counter*period, 0).UTC(), opts.validateOpts())
		if err != nil {
			return 0, false
		}
		if subtle.ConstantTimeCompare([]byte(want), []byte(code)) == 1 {
			return counter, true
		}
	}
	return 0, false
}

func stripSpace(s string) string {
	return strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) {
			return -1
		}
		return r
	}, s)
}

// AuthenticatorState is the stored secret as the verifier needs it.
type AuthenticatorState struct {
	Secret   string
	Verified bool
}

// TOTPVerifier accepts a code from the user's verified authenticator. Accept,
// when set, must record the matched counter and refuse one that is not newer
// than the last accepted counter, so a code works once.
type TOTPVerifier struct {
	// GetSecret returns nil, nil when the user has no secret.
	GetSecret func(ctx context.Context, userID string) (*AuthenticatorState, error)
	Accept    func(ctx context.Context, userID string, counter int64) (bool, error)
	Now       func() time.Time
	Options   TOTPOptions
}

func (v TOTPVerifier) Method() string { return MethodTOTP }

func (v TOTPVerifier) Verify(ctx context.Context, userID string, proof Proof) (bool, error) {
	state, err := v.GetSecret(ctx, userID)
	if err != nil {
		return false, err
	}
	if state == nil || !state.Verified {
		return false, nil
	}
	counter, ok := MatchTOTP(proof.Code, state.Secret, v.Now(), v.Options)
	if !ok || v.Accept == nil {
		return ok, nil
	}
	return v.Accept(ctx, userID, counter)
}
