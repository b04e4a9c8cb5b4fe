package auth

import (
	"context"
	"crypto/ed25519"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/roach88/attest/internal/ir"
	"github.com/roach88/attest/internal/ledger"
)

// Operations an intent token can authorize.
const (
	OpInitialize = "initialize"
	OpRecord     = "record"
)

// DefaultTokenTTL is the lifetime of tokens issued by a Signer.
const DefaultTokenTTL = 2 * time.Minute

// ErrUnauthenticated is returned for any token that fails verification.
var ErrUnauthenticated = errors.New("unauthenticated")

// ErrTokenReplayed is wrapped in the error for a token presented twice.
var ErrTokenReplayed = errors.New("token already used")

// Claims are the intent token claims.
type Claims struct {
	Op         string `json:"op"`
	Ledger     string `json:"ledger"`
	BodyDigest string `json:"body_digest"`
	jwt.RegisteredClaims
}

// BodyDigest returns the digest an intent token binds for body. JSON bodies
// are canonicalized first, so formatting differences do not matter; any
// other body is digested byte for byte.
func BodyDigest(body []byte) (string, error) {
	if !json.Valid(body) {
		return ir.DigestBytes(ir.DomainRequest, body), nil
	}
	return ir.DigestJSON(ir.DomainRequest, body)
}

// Signer issues intent tokens for one key.
type Signer struct {
	key      ed25519.PrivateKey
	identity ledger.Identity
	audience string
	ttl      time.Duration
	now      func() time.Time
}

// SignerOption configures a Signer.
type SignerOption func(*Signer)

// WithTTL sets the token lifetime.
func WithTTL(ttl time.Duration) SignerOption {
	return func(s *Signer) { s.ttl = ttl }
}

// WithSignerClock sets the time source used for iat and exp.
func WithSignerClock(now func() time.Time) SignerOption {
	return func(s *Signer) { s.now = now }
}

// NewSigner creates a Signer for key that issues tokens for audience.
func NewSigner(key ed25519.PrivateKey, audience string, opts ...SignerOption) *Signer {
	s := &Signer{
		key:      key,
		identity: IdentityOf(key),
		audience: audience,
		ttl:      DefaultTokenTTL,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Identity returns the identity tokens are issued for.
func (s *Signer) Identity() ledger.Identity { return s.identity }

// Sign issues a token authorizing op on ledgerName with exactly body.
func (s *Signer) Sign(op, ledgerName string, body []byte) (string, error) {
	digest, err := BodyDigest(body)
	if err != nil {
		return "", fmt.Errorf("sign: %w", err)
	}
	now := s.now()
	claims := Claims{
		Op:         op,
		Ledger:     ledgerName,
		BodyDigest: digest,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   string(s.identity),
			Audience:  jwt.ClaimStrings{s.audience},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
			ID:        uuid.NewString(),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodEdDSA, claims)
	signed, err := token.SignedString(s.key)
	if err != nil {
		return "", fmt.Errorf("sign: %w", err)
	}
	return signed, nil
}

// Verifier checks intent tokens. The verification key is the one named by
// the token subject, so no key registry is needed; the ledger admin check
// decides whether that identity may write. Each token is accepted once.
type Verifier struct {
	audience string
	maxAge   time.Duration
	now      func() time.Time
	replay   ReplayCache
}

// VerifierOption configures a Verifier.
type VerifierOption func(*Verifier)

// WithVerifierClock sets the time source used for expiry checks.
func WithVerifierClock(now func() time.Time) VerifierOption {
	return func(v *Verifier) { v.now = now }
}

// WithReplayCache sets where used token ids are remembered. Defaults to a
// MemoryReplayCache.
func WithReplayCache(c ReplayCache) VerifierOption {
	return func(v *Verifier) { v.replay = c }
}

// NewVerifier creates a Verifier for audience. Tokens issued more than
// maxAge ago are rejected even if not yet expired; zero disables the check.
func NewVerifier(audience string, maxAge time.Duration, opts ...VerifierOption) *Verifier {
	v := &Verifier{
		audience: audience,
		maxAge:   maxAge,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(v)
	}
	if v.replay == nil {
		v.replay = NewMemoryReplayCache(v.now)
	}
	return v
}

// Verify checks that token authorizes op on ledgerName with exactly body
// and returns the signing identity. A token that verified once is rejected
// afterwards.
func (v *Verifier) Verify(ctx context.Context, token, op, ledgerName string, body []byte) (ledger.Identity, error) {
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(token, claims, keyFromSubject,
		jwt.WithValidMethods([]string{jwt.SigningMethodEdDSA.Alg()}),
		jwt.WithAudience(v.audience),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
		jwt.WithTimeFunc(v.now),
	)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUnauthenticated, err)
	}

	if claims.IssuedAt == nil {
		return "", fmt.Errorf("%w: missing iat", ErrUnauthenticated)
	}
	if v.maxAge > 0 && v.now().Sub(claims.IssuedAt.Time) > v.maxAge {
		return "", fmt.Errorf("%w: token older than %s", ErrUnauthenticated, v.maxAge)
	}
	if claims.Op != op {
		return "", fmt.Errorf("%w: token authorizes %q, not %q", ErrUnauthenticated, claims.Op, op)
	}
	if claims.Ledger != ledgerName {
		return "", fmt.Errorf("%w: token is for ledger %q", ErrUnauthenticated, claims.Ledger)
	}
	digest, err := BodyDigest(body)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUnauthenticated, err)
	}
	if claims.BodyDigest != digest {
		return "", fmt.Errorf("%w: body digest mismatch", ErrUnauthenticated)
	}

	if claims.ID == "" {
		return "", fmt.Errorf("%w: missing jti", ErrUnauthenticated)
	}
	fresh, err := v.replay.Claim(ctx, claims.Subject+"/"+claims.ID, claims.ExpiresAt.Time)
	if err != nil {
		return "", err
	}
	if !fresh {
		return "", fmt.Errorf("%w: %w", ErrUnauthenticated, ErrTokenReplayed)
	}
	return ledger.Identity(claims.Subject), nil
}

func keyFromSubject(token *jwt.Token) (any, error) {
	if _, ok := token.Method.(*jwt.SigningMethodEd25519); !ok {
		return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
	}
	claims, ok := token.Claims.(*Claims)
	if !ok {
		return nil, errors.New("unexpected claims type")
	}
	return PublicKeyFromIdentity(ledger.Identity(claims.Subject))
}
