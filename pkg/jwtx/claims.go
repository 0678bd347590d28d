package jwtx

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// DefaultGrantTTL is the lifetime of a grant assertion. The assertion only
// has to survive the hop back to the primary-auth layer, so it is short.
const DefaultGrantTTL = 2 * time.Minute

// AMR values carried in grant assertions.
//
//	"pwd": password-based primary authentication
//	"sms": SMS one-time code was verified
const (
	AMRPassword = "pwd"
	AMRSMS      = "sms"
)

var (
	ErrExpired      = errors.New("jwtx: token expired")
	ErrWrongIssuer  = errors.New("jwtx: issuer mismatch")
	ErrNotYetValid  = errors.New("jwtx: token not yet valid")
	ErrMissingAsser = errors.New("jwtx: empty assertion")
)

// Claims are grant-assertion claims: who authenticated and how.
type Claims struct {
	jwt.RegisteredClaims

	// Username for the authenticated user
	Username string `json:"username,omitempty"`

	// Authentication Methods Reference, e.g. ["pwd","sms"]
	AMR []string `json:"amr,omitempty"`
}

// NewGrantClaims builds minimally-correct claims for a grant assertion.
func NewGrantClaims(subject, username string, amr []string, issuer string, ttl time.Duration, now time.Time) Claims {
	if ttl <= 0 {
		ttl = DefaultGrantTTL
	}
	return Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			ID:        NewJTI(),
		},
		Username: username,
		AMR:      amr,
	}
}

// ValidateExpiry checks nbf/exp against the current time.
func (c *Claims) ValidateExpiry() error {
	now := time.Now()
	if c.ExpiresAt != nil && now.After(c.ExpiresAt.Time) {
		return ErrExpired
	}
	if c.NotBefore != nil && now.Before(c.NotBefore.Time) {
		return ErrNotYetValid
	}
	return nil
}

// ValidateIssuer checks the iss claim matches the expected issuer.
func (c *Claims) ValidateIssuer(issuer string) error {
	if c.Issuer != issuer {
		return ErrWrongIssuer
	}
	return nil
}

// NewJTI returns a URL-safe random identifier for the "jti" claim.
func NewJTI() string {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		// crypto/rand failing means the process is in no state to mint tokens
		panic("jwtx: failed to read random bytes: " + err.Error())
	}
	return base64.RawURLEncoding.EncodeToString(buf)
}
