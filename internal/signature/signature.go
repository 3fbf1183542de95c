// Package signature signs download links embedded in update responses.
//
// The token is a fixed function of the shared secret: it carries no expiry and
// is not scoped to a URL, so anyone holding one signed link can reuse it.
package signature

import (
	"crypto/subtle"
	"encoding/base64"
	"fmt"
)

// MinSecretLength is the shortest secret accepted when signing is enabled
const MinSecretLength = 3

// DefaultQueryKey is the query parameter carrying the token
const DefaultQueryKey = "signature"

// Generate returns the token for secret
func Generate(secret string) string {
	return base64.StdEncoding.EncodeToString([]byte(secret))
}

// Validate reports whether token was generated from secret
func Validate(secret, token string) bool {
	expected := Generate(secret)
	return subtle.ConstantTimeCompare([]byte(expected), []byte(token)) == 1
}

// ValidateSecret rejects a configuration that enables signing without a usable secret
func ValidateSecret(enabled bool, secret string) error {
	if enabled && len(secret) < MinSecretLength {
		return fmt.Errorf("signed urls are enabled but the secret is shorter than %d characters", MinSecretLength)
	}
	return nil
}
