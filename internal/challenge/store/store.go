package store

import (
	"context"
	"errors"
	"time"

	"github.com/aussiebroadwan/smsgate/internal/challenge/domain"
)

var (
	ErrNotFound        = errors.New("store: not found")
	ErrAlreadyExists   = errors.New("store: already exists")
	ErrAlreadyConsumed = errors.New("store: token already consumed")
)

// Store is the root data access interface. Concrete drivers (sqlite for now)
// implement this. It exposes sub-repositories to keep concerns tidy and
// testable.
type Store interface {
	Users() Users
	ChallengeTokens() ChallengeTokens

	ApplyMigrations() error

	// Tx starts a read/write transaction and returns a Tx-scoped Store.
	// The caller MUST call Commit() or Rollback() on the returned Tx.
	Tx(ctx context.Context) (Tx, error)

	// WithTx executes fn within a transaction. If fn returns an error the
	// transaction is rolled back, otherwise it is committed.
	WithTx(ctx context.Context, fn func(tx Tx) error) error

	// Close releases any underlying resources.
	Close() error

	// Ping verifies the database connection is still alive.
	Ping(ctx context.Context) error
}

// Tx is a transactional store. It embeds the same repos but adds Commit/Rollback.
type Tx interface {
	Store
	Commit() error
	Rollback() error
}

type Users interface {
	// GetUserByID returns a user together with group memberships and phones.
	GetUserByID(ctx context.Context, id string) (domain.User, error)

	// GetUserByUsername is used by seeding and tests.
	GetUserByUsername(ctx context.Context, username string) (domain.User, error)

	// CreateUser inserts a new user with its groups and phones (id is a ULID).
	CreateUser(ctx context.Context, u domain.User) error

	// UpdateOTPSecret sets the per-user shared secret and bumps updated_at.
	UpdateOTPSecret(ctx context.Context, userID, secret string) error

	// SetPostChallengeFlags records a completed second-factor login: the
	// tfa_login marker and the auto-logout deadline.
	SetPostChallengeFlags(ctx context.Context, userID string, autoLogoutAt time.Time) error

	// SetActive flips the active flag.
	SetActive(ctx context.Context, userID string, active bool) error
}

type ChallengeTokens interface {
	// CreateChallengeToken stores a freshly minted token record.
	CreateChallengeToken(ctx context.Context, t domain.ChallengeToken) error

	// GetChallengeToken resolves a token by action AND value hash. Expired or
	// consumed rows resolve normally so callers can distinguish the cases;
	// a hash minted under a different action never resolves.
	GetChallengeToken(ctx context.Context, action, valueHash string) (domain.ChallengeToken, error)

	// ConsumeChallengeToken marks the token consumed, atomically. Exactly one
	// concurrent caller succeeds; the rest observe ErrAlreadyConsumed. A row
	// past its expiry or under another action returns ErrNotFound.
	ConsumeChallengeToken(ctx context.Context, action, valueHash string, now time.Time) error

	// IncrementChallengeTokenAttempts bumps the failed-submission counter and
	// returns the updated record.
	IncrementChallengeTokenAttempts(ctx context.Context, action, valueHash string) (domain.ChallengeToken, error)

	// DeleteChallengeToken removes a token outright (attempt cap reached).
	DeleteChallengeToken(ctx context.Context, id string) error

	// DeleteExpiredChallengeTokens removes rows past their expiry (housekeeping).
	DeleteExpiredChallengeTokens(ctx context.Context) error
}
