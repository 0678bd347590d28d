package domain

import "time"

// ActionEnterSMSCode scopes challenge tokens to the SMS code-entry flow.
// Lookups must match on both the token value and the action so a token minted
// for one flow can never be replayed against another.
const ActionEnterSMSCode = "enter_sms_code"

// ChallengeToken models a pending second-factor challenge. The opaque value
// handed to the client is never stored; only its SHA-256 fingerprint is.
type ChallengeToken struct {
	ID         string // ULID
	UserID     string
	Action     string
	ValueHash  string // deterministic fingerprint (base64url SHA-256)
	Attempts   int    // failed code submissions so far
	ConsumedAt *time.Time
	CreatedAt  time.Time
	ExpiresAt  time.Time
}

// Consumed reports whether the token has already been spent.
func (t ChallengeToken) Consumed() bool { return t.ConsumedAt != nil }

// Expired reports whether the token envelope has lapsed at the given instant.
func (t ChallengeToken) Expired(now time.Time) bool { return now.After(t.ExpiresAt) }
