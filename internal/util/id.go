// Package util holds identifier and secret generation shared by the stores.
package util

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"

	"github.com/google/uuid"
)

// NewID returns a row id such as "mcl_<32 hex>". An empty prefix yields bare hex.
func NewID(prefix string) string {
	raw := make([]byte, 16)
	_, _ = rand.Read(raw)
	id := hex.EncodeToString(raw)
	if prefix != "" {
		id = prefix + "_" + id
	}
	return id
}

// NewSecret returns size random bytes as unpadded base64url, safe to put in
// a reset link. Callers persist only its hash.
func NewSecret(size int) (string, error) {
	raw := make([]byte, size)
	if _, err := rand.Read(raw); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(raw), nil
}

// NewUUID ids tasks, subtasks and comments embedded in other records, so they
// survive reordering within their parent.
func NewUUID() string {
	return uuid.NewString()
}
