package auth

import (
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

// HashSecret hashes the LAN share secret code for storage. An empty code
// hashes to an empty string, meaning "no secret set".
func HashSecret(code string) (string, error) {
	if code == "" {
		return "", nil
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(code), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("hash secret: %w", err)
	}
	return string(hash), nil
}

// IsHash reports whether s is a bcrypt hash. Older releases stored the code
// itself.
func IsHash(s string) bool {
	_, err := bcrypt.Cost([]byte(s))
	return err == nil
}

// CheckSecret reports whether code matches the stored hash. Nothing on the
// transfer path calls this yet; peers are not authenticated.
func CheckSecret(hash, code string) bool {
	if hash == "" {
		return code == ""
	}
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(code)) == nil
}
