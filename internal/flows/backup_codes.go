package flows

import (
	"context"
	"crypto/rand"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/google/uuid"
)

// BackupCodeAlphabet omits characters that are easy to misread (0/O, 1/I).
const BackupCodeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

// MintedBackupCode is the stored half of a freshly minted code.
type MintedBackupCode struct {
	ID   string
	Hash string
}

// MintBackupCodes creates count codes of length characters. It returns the
// formatted plaintext codes for the user and the hashed records to store.
// A nil pick draws from crypto/rand.
func MintBackupCodes(count, length int, hash func(string) (string, error), pick func(int) (int, error)) ([]string, []MintedBackupCode, error) {
	if count <= 0 || length <= 0 {
		return nil, nil, fmt.Errorf("backup codes: count %d length %d", count, length)
	}
	plain := make([]string, count)
	stored := make([]MintedBackupCode, count)
	for i := range plain {
		raw, err := drawCode(BackupCodeAlphabet, length, pick)
		if err != nil {
			return nil, nil, err
		}
		digest, err := hash(raw)
		if err != nil {
			return nil, nil, fmt.Errorf("hash backup code: %w", err)
		}
		plain[i] = FormatBackupCode(raw)
		stored[i] = MintedBackupCode{ID: uuid.NewString(), Hash: digest}
	}
	return plain, stored, nil
}

// FormatBackupCode splits codes of eight or more characters with a dash in the middle.
func FormatBackupCode(code string) string {
	if len(code) < 8 {
		return code
	}
	half := len(code) / 2
	return code[:half] + "-" + code[half:]
}

// CanonicalizeBackupCode undoes FormatBackupCode and user typing noise.
func CanonicalizeBackupCode(code string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case '-', ' ', '\t':
			return -1
		}
		return r
	}, strings.ToUpper(strings.TrimSpace(code)))
}

func drawCode(alphabet string, n int, pick func(int) (int, error)) (string, error) {
	if pick == nil {
		pick = randIndex
	}
	buf := make([]byte, n)
	for i := range buf {
		idx, err := pick(len(alphabet))
		if err != nil {
			return "", fmt.Errorf("draw code: %w", err)
		}
		buf[i] = alphabet[idx]
	}
	return string(buf), nil
}

func randIndex(n int) (int, error) {
	v, err := rand.Int(rand.Reader, big.NewInt(int64(n)))
	if err != nil {
		return 0, err
	}
	return int(v.Int64()), nil
}

// StoredBackupCode is an unused code hash.
type StoredBackupCode struct {
	ID   string
	Hash string
}

// BackupCodeVerifier scans the user's unused codes, compares each hash and
// redeems the first match atomically.
type BackupCodeVerifier struct {
	Unused  func(ctx context.Context, userID string) ([]StoredBackupCode, error)
	Compare func(plain, hash string) (bool, error)
	Redeem  func(ctx context.Context, userID, codeID string, now time.Time) (bool, error)
	Now     func() time.Time
}

func (v BackupCodeVerifier) Method() string { return MethodBackupCode }

func (v BackupCodeVerifier) Verify(ctx context.Context, userID string, proof Proof) (bool, error) {
	code := CanonicalizeBackupCode(proof.Code)
	if code == "" {
		return false, nil
	}
	candidates, err := v.Unused(ctx, userID)
	if err != nil {
		return false, err
	}
	for _, c := range candidates {
		ok, err := v.Compare(code, c.Hash)
		if err != nil {
			return false, err
		}
		if ok {
			// Losing a redeem race to a concurrent login reads as no match.
			return v.Redeem(ctx, userID, c.ID, v.Now())
		}
	}
	return false, nil
}
