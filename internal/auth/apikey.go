// Package auth guards the operator endpoints.
package auth

import "crypto/subtle"

// APIKeyAuth provides a simple API key authentication
type APIKeyAuth struct {
	validKeys [][]byte
}

// NewAPIKeyAuth creates a new API key authentication middleware. Empty keys
// are ignored.
func NewAPIKeyAuth(keys []string) *APIKeyAuth {
	a := &APIKeyAuth{}
	for _, key := range keys {
		if key != "" {
			a.validKeys = append(a.validKeys, []byte(key))
		}
	}
	return a
}

// IsValidKey checks if a key is valid. Every configured key is compared so
// the time taken does not depend on which one matched.
func (a *APIKeyAuth) IsValidKey(key string) bool {
	valid := 0
	for _, k := range a.validKeys {
		valid |= subtle.ConstantTimeCompare(k, []byte(key))
	}
	return valid == 1
}
