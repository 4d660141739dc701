package utils

import (
	"errors"

	"golang.org/x/crypto/bcrypt"
)

var ErrServiceKeyRequired = errors.New("service key is empty")

// HashServiceKey returns the bcrypt hash to put in SERVICE_KEY_HASH.
func HashServiceKey(key string) (string, error) {
	if key == "" {
		return "", ErrServiceKeyRequired
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(key), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// VerifyServiceKey reports whether key matches the configured hash.
// An empty hash never matches.
func VerifyServiceKey(hash, key string) bool {
	if hash == "" || key == "" {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(key)) == nil
}
