package jwt

import (
	"crypto/ed25519"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// SigningMethod selects the JWS algorithm.
type SigningMethod string

const (
	// MethodEd25519 signs with EdDSA over Ed25519.
	MethodEd25519 SigningMethod = "ed25519"
	// MethodHS256 signs with HMAC-SHA256.
	MethodHS256 SigningMethod = "hs256"
)

// Purpose discriminates token families.
type Purpose string

const (
	// PurposeSession marks a fully authorized session token.
	PurposeSession Purpose = "session"
	// PurposeRoleSelection marks an intermediate token awaiting a role choice.
	PurposeRoleSelection Purpose = "role_selection"
	// PurposeSecondFactor marks an intermediate token awaiting second-factor proof.
	PurposeSecondFactor Purpose = "second_factor"
)

// Intermediate reports whether p is one of the short-lived purposes.
func (p Purpose) Intermediate() bool {
	return p == PurposeRoleSelection || p == PurposeSecondFactor
}

var (
	// ErrPurposeMismatch is returned by Parse when the token is valid but minted for another purpose.
	ErrPurposeMismatch = errors.New("token purpose mismatch")
	// ErrMissingSubject is returned by Parse when the token carries no user id.
	ErrMissingSubject = errors.New("token subject missing")
)

// Config defines signing keys and lifetimes. For hs256 PrivateKey is the shared
// secret and PublicKey is ignored. Ed25519 keys may be raw bytes or PEM.
type Config struct {
	SessionTTL      time.Duration
	IntermediateTTL time.Duration
	SigningMethod   SigningMethod
	PrivateKey      []byte
	PublicKey       []byte
	Issuer          string
	Audience        string
	Leeway          time.Duration

	// Now overrides the time source for issuance and validation.
	Now func() time.Time
}

// Manager signs and parses tokens. It is safe for concurrent use.
type Manager struct {
	sessionTTL      time.Duration
	intermediateTTL time.Duration
	issuer          string
	audience        string
	now             func() time.Time

	method    jwt.SigningMethod
	signKey   any
	verifyKey any
	parser    *jwt.Parser
}

// Claims is the payload shared by both token families. Role is the effective
// role: for session tokens minted after role selection it differs from the
// user's stored primary role.
type Claims struct {
	UID     string  `json:"uid"`
	Role    string  `json:"role,omitempty"`
	Purpose Purpose `json:"pur"`
	Temp    bool    `json:"tmp,omitempty"`
	jwt.RegisteredClaims
}

// NewManager validates cfg, resolves its keys and returns a Manager.
func NewManager(cfg Config) (*Manager, error) {
	switch {
	case cfg.SessionTTL <= 0 || cfg.IntermediateTTL <= 0:
		return nil, errors.New("token lifetimes must be positive")
	case cfg.IntermediateTTL >= cfg.SessionTTL:
		return nil, errors.New("intermediate TTL must be shorter than session TTL")
	case cfg.Leeway < 0 || cfg.Leeway > 2*time.Minute:
		return nil, errors.New("leeway must be between 0 and 2m")
	}

	m := &Manager{
		sessionTTL:      cfg.SessionTTL,
		intermediateTTL: cfg.IntermediateTTL,
		issuer:          cfg.Issuer,
		audience:        cfg.Audience,
		now:             cfg.Now,
	}
	if m.now == nil {
		m.now = time.Now
	}

	switch cfg.SigningMethod {
	case MethodHS256:
		if len(cfg.PrivateKey) < 16 {
			return nil, errors.New("hs256 secret must be at least 16 bytes")
		}
		secret := append([]byte(nil), cfg.PrivateKey...)
		m.method, m.signKey, m.verifyKey = jwt.SigningMethodHS256, secret, secret
	case MethodEd25519:
		priv, err := parseEdPrivateKey(cfg.PrivateKey)
		if err != nil {
			return nil, err
		}
		if len(cfg.PublicKey) == 0 {
			return nil, errors.New("ed25519 requires a public key")
		}
		pub, err := parseEdPublicKey(cfg.PublicKey)
		if err != nil {
			return nil, err
		}
		m.method, m.signKey, m.verifyKey = jwt.SigningMethodEdDSA, priv, pub
	default:
		return nil, fmt.Errorf("unsupported signing method %q", cfg.SigningMethod)
	}

	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{m.method.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
		jwt.WithTimeFunc(m.now),
		jwt.WithLeeway(cfg.Leeway),
	}
	if m.issuer != "" {
		opts = append(opts, jwt.WithIssuer(m.issuer))
	}
	if m.audience != "" {
		opts = append(opts, jwt.WithAudience(m.audience))
	}
	m.parser = jwt.NewParser(opts...)
	return m, nil
}

// IssueSession mints a session token carrying the effective role.
func (m *Manager) IssueSession(uid, role string) (string, time.Time, error) {
	return m.sign(uid, role, PurposeSession, m.sessionTTL)
}

// IssueIntermediate mints a short-lived token for one of the intermediate purposes.
func (m *Manager) IssueIntermediate(uid, role string, purpose Purpose) (string, time.Time, error) {
	if !purpose.Intermediate() {
		return "", time.Time{}, fmt.Errorf("purpose %q is not an intermediate purpose", purpose)
	}
	return m.sign(uid, role, purpose, m.intermediateTTL)
}

func (m *Manager) sign(uid, role string, purpose Purpose, ttl time.Duration) (string, time.Time, error) {
	if uid == "" {
		return "", time.Time{}, ErrMissingSubject
	}
	issuedAt := m.now()
	expiry := issuedAt.Add(ttl)

	reg := jwt.RegisteredClaims{
		ID:        uuid.NewString(),
		Subject:   uid,
		Issuer:    m.issuer,
		IssuedAt:  jwt.NewNumericDate(issuedAt),
		ExpiresAt: jwt.NewNumericDate(expiry),
	}
	if m.audience != "" {
		reg.Audience = jwt.ClaimStrings{m.audience}
	}

	signed, err := jwt.NewWithClaims(m.method, Claims{
		UID:              uid,
		Role:             role,
		Purpose:          purpose,
		Temp:             purpose.Intermediate(),
		RegisteredClaims: reg,
	}).SignedString(m.signKey)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign %s token: %w", purpose, err)
	}
	return signed, expiry, nil
}

// Parse verifies signature, expiry and purpose. All three must pass.
func (m *Manager) Parse(raw string, expected Purpose) (*Claims, error) {
	claims := &Claims{}
	token, err := m.parser.ParseWithClaims(raw, claims, func(t *jwt.Token) (any, error) {
		if t.Method.Alg() != m.method.Alg() {
			return nil, fmt.Errorf("unexpected signing algorithm %s", t.Method.Alg())
		}
		return m.verifyKey, nil
	})
	if err != nil {
		return nil, err
	}
	if !token.Valid {
		return nil, jwt.ErrTokenInvalidClaims
	}
	if claims.UID == "" {
		return nil, ErrMissingSubject
	}
	if claims.Purpose != expected || claims.Temp != expected.Intermediate() {
		return nil, ErrPurposeMismatch
	}
	return claims, nil
}

func parseEdPrivateKey(key []byte) (ed25519.PrivateKey, error) {
	if len(key) == ed25519.PrivateKeySize {
		return ed25519.PrivateKey(key), nil
	}
	parsed, err := jwt.ParseEdPrivateKeyFromPEM(key)
	if err != nil {
		return nil, fmt.Errorf("ed25519 private key: %w", err)
	}
	priv, ok := parsed.(ed25519.PrivateKey)
	if !ok {
		return nil, errors.New("ed25519 private key: unexpected key type")
	}
	return priv, nil
}

func parseEdPublicKey(key []byte) (ed25519.PublicKey, error) {
	if len(key) == ed25519.PublicKeySize {
		return ed25519.PublicKey(key), nil
	}
	parsed, err := jwt.ParseEdPublicKeyFromPEM(key)
	if err != nil {
		return nil, fmt.Errorf("ed25519 public key: %w", err)
	}
	pub, ok := parsed.(ed25519.PublicKey)
	if !ok {
		return nil, errors.New("ed25519 public key: unexpected key type")
	}
	return pub, nil
}
