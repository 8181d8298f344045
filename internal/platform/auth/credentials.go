package auth

import (
	"crypto/subtle"
	"errors"

	"golang.org/x/crypto/bcrypt"
)

// CredentialVerifier authenticates the single configured service account
// by bcrypt hash. It exists for appenders that cannot mint JWTs; the hash
// comes from config, generated offline with cmd/credhash.
type CredentialVerifier struct {
	username string
	hash     []byte
}

func NewCredentialVerifier(username, bcryptHash string) *CredentialVerifier {
	if username == "" || bcryptHash == "" {
		return nil
	}
	return &CredentialVerifier{username: username, hash: []byte(bcryptHash)}
}

// Verify checks the pair and returns a service actor on success.
func (c *CredentialVerifier) Verify(username, secret string) (Actor, error) {
	if c == nil {
		return Actor{}, errors.New("basic credentials not configured")
	}
	if subtle.ConstantTimeCompare([]byte(username), []byte(c.username)) != 1 {
		_ = bcrypt.CompareHashAndPassword(c.hash, []byte(secret))
		return Actor{}, errors.New("invalid credentials")
	}
	if err := bcrypt.CompareHashAndPassword(c.hash, []byte(secret)); err != nil {
		return Actor{}, errors.New("invalid credentials")
	}
	return Actor{ID: username, Role: RoleService}, nil
}
