package auth

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

// APIKeyPrefix marks machine keys so they are recognisable in logs and
// secret scanners.
const APIKeyPrefix = "prk_"

// APIKeyVerifier checks machine API keys against a single bcrypt hash.
type APIKeyVerifier struct {
	hash []byte
}

// NewAPIKeyVerifier creates a verifier. An empty hash rejects every key.
func NewAPIKeyVerifier(hash string) *APIKeyVerifier {
	return &APIKeyVerifier{hash: []byte(hash)}
}

// Verify reports whether key matches the configured hash.
func (v *APIKeyVerifier) Verify(key string) bool {
	if len(v.hash) == 0 || key == "" {
		return false
	}
	return bcrypt.CompareHashAndPassword(v.hash, []byte(key)) == nil
}

// GenerateAPIKey returns a new random key and its bcrypt hash, the value to
// place in API_KEY_HASH.
func GenerateAPIKey() (key, hash string, err error) {
	b := make([]byte, 24)
	if _, err := rand.Read(b); err != nil {
		return "", "", fmt.Errorf("auth: generate key: %w", err)
	}
	key = APIKeyPrefix + hex.EncodeToString(b)
	h, err := bcrypt.GenerateFromPassword([]byte(key), bcrypt.DefaultCost)
	if err != nil {
		return "", "", fmt.Errorf("auth: hash key: %w", err)
	}
	return key, string(h), nil
}
