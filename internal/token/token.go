// Package token issues and verifies short-lived signed approval tokens.
//
// An approval token is the transient proof that the authorization engine
// approved a specific action for a specific principal. Tokens are signed JWTs
// (HS256) and are consumed at most once by the action gate.
package token

import (
	"errors"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// DefaultTTL is the fixed approval window: tokens expire this long after
// issuance.
const DefaultTTL = 60 * time.Second

// MaxEmergencyTTL caps the lifetime of emergency-override tokens.
const MaxEmergencyTTL = 60 * time.Second

var (
	// ErrInvalidToken is returned when token verification fails.
	ErrInvalidToken = errors.New("invalid approval token")

	// ErrExpiredToken is returned when the token's expiry has passed.
	// The boundary is inclusive: a token whose expiry equals now is expired.
	ErrExpiredToken = errors.New("approval token has expired")

	// ErrEmptyPrincipal is returned when no principal id is supplied.
	ErrEmptyPrincipal = errors.New("principal id cannot be empty")

	// ErrEmptyActionKind is returned when no action kind is supplied.
	ErrEmptyActionKind = errors.New("action kind cannot be empty")
)

// Claims are the signed contents of an approval token.
type Claims struct {
	jwt.RegisteredClaims
	ActionKind  string `json:"act"`
	GrantedTier int    `json:"tier"`
	RuntimeID   string `json:"rt"`
	Emergency   bool   `json:"emergency,omitempty"`
}

// Approval is the engine-facing view of a freshly issued token.
type Approval struct {
	TokenID   string
	Signed    string
	ExpiresAt time.Time
}

// Issuer signs and verifies approval tokens.
// Supports dual-key rotation: tokens are signed with the current secret but
// verify against either the current or the previous secret.
type Issuer struct {
	currentSecret  []byte
	previousSecret []byte
	ttl            time.Duration
	now            func() time.Time
}

// NewIssuer creates an Issuer with the given signing secret and token TTL.
// A zero or negative TTL falls back to DefaultTTL.
func NewIssuer(secret string, ttl time.Duration) *Issuer {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Issuer{
		currentSecret: []byte(secret),
		ttl:           ttl,
		now:           time.Now,
	}
}

// NewIssuerWithRotation creates an Issuer with dual-key support for
// zero-downtime secret rotation. Pass an empty previousSecret when no
// rotation is in progress.
func NewIssuerWithRotation(currentSecret, previousSecret string, ttl time.Duration) *Issuer {
	iss := NewIssuer(currentSecret, ttl)
	if previousSecret != "" {
		iss.previousSecret = []byte(previousSecret)
	}
	return iss
}

// WithClock replaces the issuer's clock. For tests.
func (s *Issuer) WithClock(now func() time.Time) *Issuer {
	s.now = now
	return s
}

// TTL returns the issuer's approval window.
func (s *Issuer) TTL() time.Duration {
	return s.ttl
}

// Issue creates a fresh approval token for the given principal and action.
// The token id is a random UUID and the expiry is issue time + TTL.
func (s *Issuer) Issue(principalID, actionKind, runtimeID string, grantedTier int) (*Approval, error) {
	return s.issue(principalID, actionKind, runtimeID, grantedTier, s.ttl, false)
}

// IssueEmergency creates an emergency-override token. The lifetime is capped
// at MaxEmergencyTTL and the emergency flag is set in the claims so the
// grant is distinguishable in audit.
func (s *Issuer) IssueEmergency(principalID, actionKind, runtimeID string, grantedTier int) (*Approval, error) {
	ttl := s.ttl
	if ttl > MaxEmergencyTTL {
		ttl = MaxEmergencyTTL
	}
	return s.issue(principalID, actionKind, runtimeID, grantedTier, ttl, true)
}

func (s *Issuer) issue(principalID, actionKind, runtimeID string, grantedTier int, ttl time.Duration, emergency bool) (*Approval, error) {
	if principalID == "" {
		return nil, ErrEmptyPrincipal
	}
	if actionKind == "" {
		return nil, ErrEmptyActionKind
	}

	now := s.now()
	expiresAt := now.Add(ttl)
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.New().String(),
			Subject:   principalID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
		ActionKind:  actionKind,
		GrantedTier: grantedTier,
		RuntimeID:   runtimeID,
		Emergency:   emergency,
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.currentSecret)
	if err != nil {
		return nil, err
	}

	return &Approval{
		TokenID:   claims.ID,
		Signed:    signed,
		ExpiresAt: expiresAt,
	}, nil
}

// Verify parses and validates a signed token, returning the claims if valid.
// Tries the current secret first, then the previous secret if rotation is in
// progress. No expiry leeway is granted: the expiry boundary is inclusive.
func (s *Issuer) Verify(signed string) (*Claims, error) {
	claims, err := s.verifyWith(signed, s.currentSecret)
	if err == nil {
		return claims, nil
	}

	if s.previousSecret != nil {
		if claims, prevErr := s.verifyWith(signed, s.previousSecret); prevErr == nil {
			return claims, nil
		}
	}

	if errors.Is(err, jwt.ErrTokenExpired) {
		return nil, ErrExpiredToken
	}
	return nil, ErrInvalidToken
}

func (s *Issuer) verifyWith(signed string, secret []byte) (*Claims, error) {
	parsed, err := jwt.ParseWithClaims(signed, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		if t.Method.Alg() != jwt.SigningMethodHS256.Alg() {
			return nil, ErrInvalidToken
		}
		return secret, nil
	}, jwt.WithTimeFunc(s.now))
	if err != nil {
		return nil, err
	}

	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// SignaturePart returns the signature segment of a signed token. Signature
// stamps reference this rather than the full token so the stamped record
// cannot be replayed as a bearer credential.
func SignaturePart(signed string) string {
	parts := strings.Split(signed, ".")
	if len(parts) != 3 {
		return ""
	}
	return parts[2]
}
