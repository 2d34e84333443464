package auth

import (
	"crypto/sha256"
	"crypto/subtle"
	"errors"
	"strings"

	"github.com/alexedwards/argon2id"
	"golang.org/x/crypto/bcrypt"
)

var ErrNoAdminSecret = errors.New("admin secret not configured")

// AdminSecret checks admin passwords against either a stored hash or a plain secret.
type AdminSecret struct {
	plain string
	hash  string
}

// NewAdminSecret prefers hash when both are set. Supported hashes are argon2id PHC
// strings and bcrypt ($2a$, $2b$, $2y$).
func NewAdminSecret(plain, hash string) (*AdminSecret, error) {
	plain = strings.TrimSpace(plain)
	hash = strings.TrimSpace(hash)
	if plain == "" && hash == "" {
		return nil, ErrNoAdminSecret
	}
	if hash != "" && !isArgon2id(hash) && !isBcrypt(hash) {
		return nil, errors.New("unsupported admin password hash format")
	}
	return &AdminSecret{plain: plain, hash: hash}, nil
}

func (s *AdminSecret) Verify(password string) bool {
	switch {
	case isArgon2id(s.hash):
		ok, err := argon2id.ComparePasswordAndHash(password, s.hash)
		return err == nil && ok
	case isBcrypt(s.hash):
		return bcrypt.CompareHashAndPassword([]byte(s.hash), []byte(password)) == nil
	default:
		// Hash both sides so the comparison length does not depend on the input.
		got := sha256.Sum256([]byte(password))
		want := sha256.Sum256([]byte(s.plain))
		return subtle.ConstantTimeCompare(got[:], want[:]) == 1
	}
}

func isArgon2id(h string) bool { return strings.HasPrefix(h, "$argon2id$") }

func isBcrypt(h string) bool {
	return strings.HasPrefix(h, "$2a$") || strings.HasPrefix(h, "$2b$") || strings.HasPrefix(h, "$2y$")
}
