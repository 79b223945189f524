package password

import (
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

// Hasher hashes and verifies secrets. Verify reports a mismatch as (false, nil);
// an error means the stored hash itself is unusable.
type Hasher interface {
	Hash(plain string) (string, error)
	Verify(plain, encoded string) (bool, error)
}

// Bcrypt is a [Hasher] backed by golang.org/x/crypto/bcrypt.
//
// Bcrypt instances are immutable and safe for concurrent use.
type Bcrypt struct {
	cost int
}

// ErrEmptySecret is returned by Hash for empty input.
var ErrEmptySecret = errors.New("secret must not be empty")

// NewBcrypt returns a hasher with the given cost. A zero cost selects
// bcrypt.DefaultCost.
func NewBcrypt(cost int) (*Bcrypt, error) {
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		return nil, fmt.Errorf("bcrypt cost %d out of range [%d,%d]", cost, bcrypt.MinCost, bcrypt.MaxCost)
	}
	return &Bcrypt{cost: cost}, nil
}

// Cost returns the configured work factor.
func (b *Bcrypt) Cost() int {
	return b.cost
}

// maxInput is the longest input bcrypt accepts.
const maxInput = 72

// prepare maps inputs longer than bcrypt's limit to a fixed-length digest so
// long security answers remain fully significant.
func prepare(plain string) []byte {
	if len(plain) <= maxInput {
		return []byte(plain)
	}
	sum := sha256.Sum256([]byte(plain))
	return []byte(base64.RawStdEncoding.EncodeToString(sum[:]))
}

// Hash returns the bcrypt encoding of plain.
func (b *Bcrypt) Hash(plain string) (string, error) {
	if plain == "" {
		return "", ErrEmptySecret
	}
	out, err := bcrypt.GenerateFromPassword(prepare(plain), b.cost)
	if err != nil {
		return "", err
	}
	return string(out), nil
}

// Verify compares plain against encoded in constant time.
func (b *Bcrypt) Verify(plain, encoded string) (bool, error) {
	if plain == "" || encoded == "" {
		return false, nil
	}
	err := bcrypt.CompareHashAndPassword([]byte(encoded), prepare(plain))
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, bcrypt.ErrMismatchedHashAndPassword):
		return false, nil
	default:
		return false, err
	}
}

// NeedsRehash reports whether encoded was produced with a lower cost than b.
func (b *Bcrypt) NeedsRehash(encoded string) (bool, error) {
	cost, err := bcrypt.Cost([]byte(encoded))
	if err != nil {
		return false, err
	}
	return cost < b.cost, nil
}
