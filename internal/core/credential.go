package core

import (
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

// Credential is an opaque password verifier.
type Credential struct {
	hash []byte
}

// NewCredential hashes password with the given bcrypt cost. Costs outside
// bcrypt's accepted range fall back to bcrypt.DefaultCost.
func NewCredential(password string, cost int) (Credential, error) {
	if password == "" {
		return Credential{}, ErrEmptyPassword
	}
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		cost = bcrypt.DefaultCost
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), cost)
	if err != nil {
		return Credential{}, fmt.Errorf("hash password: %w", err)
	}
	return Credential{hash: hash}, nil
}

// Matches reports whether password is the one the credential was built from.
func (c Credential) Matches(password string) bool {
	if len(c.hash) == 0 {
		return false
	}
	return bcrypt.CompareHashAndPassword(c.hash, []byte(password)) == nil
}
