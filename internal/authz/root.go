package authz

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
)

// ErrRootSignature is returned when an emergency override or administrative
// request carries an invalid root-key signature. Distinct from ordinary
// denials: misuse of the root path raises a security alert.
var ErrRootSignature = errors.New("invalid root signature")

// RootKey authenticates the higher-privilege administrative path. It is
// bootstrapped from configuration, not issued by the engine, so policy
// administration does not depend on the engine it administers.
type RootKey struct {
	secret []byte
}

// NewRootKey creates a RootKey from the configured root secret.
func NewRootKey(secret string) *RootKey {
	return &RootKey{secret: []byte(secret)}
}

// Sign returns the hex HMAC-SHA256 of the payload under the root secret.
func (k *RootKey) Sign(payload []byte) string {
	mac := hmac.New(sha256.New, k.secret)
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

// Verify checks a hex signature against the payload in constant time.
func (k *RootKey) Verify(payload []byte, signature string) bool {
	want, err := hex.DecodeString(signature)
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, k.secret)
	mac.Write(payload)
	return hmac.Equal(mac.Sum(nil), want)
}
