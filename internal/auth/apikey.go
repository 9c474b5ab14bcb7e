// Package auth protects the MCP endpoint with bcrypt-hashed API keys.
package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"sync"

	"golang.org/x/crypto/bcrypt"
)

const (
	// APIKeyPrefix marks social-sync API keys so they are easy to spot in
	// logs and secret scanners.
	APIKeyPrefix = "ss_"

	// apiKeyBytes is the number of random bytes in a generated key
	// (hex-encoded to twice this length).
	apiKeyBytes = 32

	// APIKeyMinLen rejects keys too short to have come from GenerateAPIKey.
	APIKeyMinLen = len(APIKeyPrefix) + 32
)

var ErrInvalidKey = errors.New("invalid API key")

// KeyEntry is one configured key: a label and the bcrypt hash of the key.
type KeyEntry struct {
	Name string
	Hash string
}

// GenerateAPIKey returns a new random API key.
func GenerateAPIKey() string {
	return APIKeyPrefix + RandomHex(apiKeyBytes)
}

// HashAPIKey returns the bcrypt hash to put in MCP_API_KEYS.
func HashAPIKey(key string) (string, error) {
	if err := checkFormat(key); err != nil {
		return "", err
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(key), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("hashing API key: %w", err)
	}

	return string(hash), nil
}

func checkFormat(key string) error {
	if !strings.HasPrefix(key, APIKeyPrefix) || len(key) < APIKeyMinLen {
		return fmt.Errorf("%w: expected %q prefix and at least %d characters", ErrInvalidKey, APIKeyPrefix, APIKeyMinLen)
	}

	return nil
}

// KeyStore validates presented keys against the configured hashes.
// bcrypt is slow on purpose, so keys that matched once are remembered by
// their SHA-256 digest.
type KeyStore struct {
	entries []KeyEntry

	mu       sync.RWMutex
	verified map[[sha256.Size]byte]string
}

// NewKeyStore creates a store over entries.
func NewKeyStore(entries []KeyEntry) *KeyStore {
	return &KeyStore{
		entries:  entries,
		verified: make(map[[sha256.Size]byte]string),
	}
}

// Len returns the number of configured keys.
func (k *KeyStore) Len() int {
	return len(k.entries)
}

// Validate returns the name of the entry key matches.
func (k *KeyStore) Validate(key string) (string, error) {
	if err := checkFormat(key); err != nil {
		return "", err
	}

	digest := sha256.Sum256([]byte(key))

	k.mu.RLock()
	name, ok := k.verified[digest]
	k.mu.RUnlock()

	if ok {
		return name, nil
	}

	for _, e := range k.entries {
		if bcrypt.CompareHashAndPassword([]byte(e.Hash), []byte(key)) == nil {
			k.mu.Lock()
			k.verified[digest] = e.Name
			k.mu.Unlock()

			return e.Name, nil
		}
	}

	return "", ErrInvalidKey
}

// RandomHex generates a cryptographically random hex string of the given byte length.
func RandomHex(byteLen int) string {
	b := make([]byte, byteLen)
	if _, err := rand.Read(b); err != nil {
		panic("crypto/rand failed: " + err.Error())
	}

	return hex.EncodeToString(b)
}
