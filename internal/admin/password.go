package admin

import (
	"crypto/rand"
	"fmt"
	"math/big"

	"toolgate.org/internal/auth"
)

const (
	passwordMinLength = 16
	passwordAlphabet  = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"

	generatedPasswordLength = 20
)

// ValidatePassword enforces the password policy: at least 16 characters,
// ASCII letters and digits only.
func ValidatePassword(password string) error {
	if len(password) < passwordMinLength {
		return auth.BadRequest(fmt.Sprintf(
			"Password must be at least %d characters long", passwordMinLength))
	}
	for _, r := range password {
		switch {
		case r >= 'a' && r <= 'z':
		case r >= 'A' && r <= 'Z':
		case r >= '0' && r <= '9':
		default:
			return auth.BadRequest("Password must contain ASCII letters and digits only")
		}
	}
	return nil
}

// GeneratePassword returns a random password satisfying the policy.
func GeneratePassword() (string, error) {
	max := big.NewInt(int64(len(passwordAlphabet)))
	out := make([]byte, generatedPasswordLength)
	for i := range out {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", fmt.Errorf("admin: generate password: %w", err)
		}
		out[i] = passwordAlphabet[n.Int64()]
	}
	return string(out), nil
}
