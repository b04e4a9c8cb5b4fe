package testutil

import (
	"crypto/ed25519"
	"crypto/sha256"
)

// Fixture identities used across ledger, harness and API tests.
const (
	Admin      = "admin"
	Client     = "client-1"
	Freelancer = "freelancer-1"
	Mallory    = "mallory"
)

// PrivateKey derives a stable Ed25519 key from name. The same name always
// yields the same key, so golden files and signed fixtures are stable.
func PrivateKey(name string) ed25519.PrivateKey {
	seed := sha256.Sum256([]byte("attest/testutil/" + name))
	return ed25519.NewKeyFromSeed(seed[:])
}
