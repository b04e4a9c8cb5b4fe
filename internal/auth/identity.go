// Package auth authenticates callers at the host boundary.
//
// A caller is identified by its Ed25519 public key, written as
// "ed25519:<base64url key>". Writes carry a short-lived EdDSA JWT (an intent
// token) signed by that key. The token names the operation, the ledger and
// the digest of the request body, so it cannot be replayed against a
// different write. The verified identity is what the ledger facade receives
// as the caller.
package auth

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/roach88/attest/internal/ledger"
)

// IdentityPrefix marks an Ed25519 identity.
const IdentityPrefix = "ed25519:"

// IdentityFromPublicKey returns the identity string for pub.
func IdentityFromPublicKey(pub ed25519.PublicKey) ledger.Identity {
	return ledger.Identity(IdentityPrefix + base64.RawURLEncoding.EncodeToString(pub))
}

// PublicKeyFromIdentity decodes the public key named by id.
func PublicKeyFromIdentity(id ledger.Identity) (ed25519.PublicKey, error) {
	encoded, ok := strings.CutPrefix(string(id), IdentityPrefix)
	if !ok {
		return nil, fmt.Errorf("identity %q: missing %s prefix", id, IdentityPrefix)
	}
	raw, err := base64.RawURLEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("identity %q: %w", id, err)
	}
	if len(raw) != ed25519.PublicKeySize {
		return nil, fmt.Errorf("identity %q: key is %d bytes, want %d", id, len(raw), ed25519.PublicKeySize)
	}
	return ed25519.PublicKey(raw), nil
}

// IdentityOf returns the identity of key's public half.
func IdentityOf(key ed25519.PrivateKey) ledger.Identity {
	return IdentityFromPublicKey(key.Public().(ed25519.PublicKey))
}

// GenerateKey creates a new Ed25519 key pair.
func GenerateKey() (ed25519.PrivateKey, error) {
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generate key: %w", err)
	}
	return priv, nil
}
