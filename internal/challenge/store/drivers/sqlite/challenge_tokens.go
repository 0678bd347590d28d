package sqlite

import (
	"context"
	"database/sql"
	"time"

	"github.com/aussiebroadwan/smsgate/internal/challenge/domain"
	"github.com/aussiebroadwan/smsgate/internal/challenge/store"
)

type challengeTokensRepo struct {
	db dbtx
}

const tokenColumns = `id, user_id, action, value_hash, attempts, consumed_at, created_at, expires_at`

func (r *challengeTokensRepo) CreateChallengeToken(ctx context.Context, t domain.ChallengeToken) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO challenge_tokens (id, user_id, action, value_hash, attempts, consumed_at, created_at, expires_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.UserID, t.Action, t.ValueHash, t.Attempts,
		mapOptionalTime(t.ConsumedAt), t.CreatedAt.UTC(), t.ExpiresAt.UTC())
	return err
}

func (r *challengeTokensRepo) GetChallengeToken(ctx context.Context, action, valueHash string) (domain.ChallengeToken, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+tokenColumns+` FROM challenge_tokens WHERE action = ? AND value_hash = ?`,
		action, valueHash)
	return scanToken(row)
}

// ConsumeChallengeToken is the single synchronization point of the package: a
// conditional UPDATE so that of any number of concurrent submissions exactly
// one flips consumed_at.
func (r *challengeTokensRepo) ConsumeChallengeToken(ctx context.Context, action, valueHash string, now time.Time) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE challenge_tokens
		 SET consumed_at = ?
		 WHERE action = ? AND value_hash = ? AND consumed_at IS NULL AND expires_at > ?`,
		now.UTC(), action, valueHash, now.UTC())
	if err != nil {
		return err
	}

	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 1 {
		return nil
	}

	// Lost the race or the row is unusable. Look again to say which.
	tok, err := r.GetChallengeToken(ctx, action, valueHash)
	if err != nil {
		return err
	}
	if tok.Consumed() {
		return store.ErrAlreadyConsumed
	}
	return store.ErrNotFound // expired
}

func (r *challengeTokensRepo) IncrementChallengeTokenAttempts(ctx context.Context, action, valueHash string) (domain.ChallengeToken, error) {
	res, err := r.db.ExecContext(ctx,
		`UPDATE challenge_tokens SET attempts = attempts + 1 WHERE action = ? AND value_hash = ?`,
		action, valueHash)
	if err != nil {
		return domain.ChallengeToken{}, err
	}
	if err := requireRow(res); err != nil {
		return domain.ChallengeToken{}, err
	}

	return r.GetChallengeToken(ctx, action, valueHash)
}

func (r *challengeTokensRepo) DeleteChallengeToken(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM challenge_tokens WHERE id = ?`, id)
	return err
}

func (r *challengeTokensRepo) DeleteExpiredChallengeTokens(ctx context.Context) error {
	_, err := r.db.ExecContext(ctx,
		`DELETE FROM challenge_tokens WHERE expires_at <= ?`, time.Now().UTC())
	return err
}

func scanToken(row *sql.Row) (domain.ChallengeToken, error) {
	var (
		t          domain.ChallengeToken
		consumedAt sql.NullTime
	)
	err := row.Scan(&t.ID, &t.UserID, &t.Action, &t.ValueHash, &t.Attempts,
		&consumedAt, &t.CreatedAt, &t.ExpiresAt)
	if err != nil {
		return domain.ChallengeToken{}, mapNotFound(err)
	}
	t.ConsumedAt = mapNullTimePtr(consumedAt)
	return t, nil
}
