package sqlite

import (
	"context"
	"database/sql"
	"time"

	"github.com/aussiebroadwan/smsgate/internal/challenge/domain"
)

type usersRepo struct {
	db dbtx
}

const userColumns = `id, username, otp_secret, active, tfa_login, auto_logout_at, created_at, updated_at`

func (r *usersRepo) GetUserByID(ctx context.Context, id string) (domain.User, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE id = ?`, id)
	return r.scanUser(ctx, row)
}

func (r *usersRepo) GetUserByUsername(ctx context.Context, username string) (domain.User, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE username = ?`, username)
	return r.scanUser(ctx, row)
}

func (r *usersRepo) CreateUser(ctx context.Context, u domain.User) error {
	now := time.Now().UTC()
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO users (id, username, otp_secret, active, tfa_login, auto_logout_at, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		u.ID, u.Username, u.OTPSecret, u.Active, u.TFALogin, mapOptionalTime(u.AutoLogoutAt), now, now)
	if err != nil {
		return err
	}

	for _, groupID := range u.GroupIDs {
		if _, err := r.db.ExecContext(ctx,
			`INSERT INTO user_groups (user_id, group_id) VALUES (?, ?)`, u.ID, groupID); err != nil {
			return err
		}
	}

	for _, p := range u.Phones {
		if _, err := r.db.ExecContext(ctx,
			`INSERT INTO phones (id, user_id, phone_type, number) VALUES (?, ?, ?, ?)`,
			p.ID, u.ID, p.Type, p.Number); err != nil {
			return err
		}
	}

	return nil
}

func (r *usersRepo) UpdateOTPSecret(ctx context.Context, userID, secret string) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE users SET otp_secret = ?, updated_at = ? WHERE id = ?`,
		secret, time.Now().UTC(), userID)
	if err != nil {
		return err
	}
	return requireRow(res)
}

func (r *usersRepo) SetPostChallengeFlags(ctx context.Context, userID string, autoLogoutAt time.Time) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE users SET tfa_login = 1, auto_logout_at = ?, updated_at = ? WHERE id = ?`,
		autoLogoutAt.UTC(), time.Now().UTC(), userID)
	if err != nil {
		return err
	}
	return requireRow(res)
}

func (r *usersRepo) SetActive(ctx context.Context, userID string, active bool) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE users SET active = ?, updated_at = ? WHERE id = ?`,
		active, time.Now().UTC(), userID)
	if err != nil {
		return err
	}
	return requireRow(res)
}

func (r *usersRepo) scanUser(ctx context.Context, row interface{ Scan(dest ...any) error }) (domain.User, error) {
	var (
		u            domain.User
		autoLogoutAt sql.NullTime
	)
	err := row.Scan(&u.ID, &u.Username, &u.OTPSecret, &u.Active, &u.TFALogin,
		&autoLogoutAt, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		return domain.User{}, mapNotFound(err)
	}
	u.AutoLogoutAt = mapNullTimePtr(autoLogoutAt)

	u.GroupIDs, err = r.loadGroups(ctx, u.ID)
	if err != nil {
		return domain.User{}, err
	}

	u.Phones, err = r.loadPhones(ctx, u.ID)
	if err != nil {
		return domain.User{}, err
	}

	return u, nil
}

func (r *usersRepo) loadGroups(ctx context.Context, userID string) ([]string, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT group_id FROM user_groups WHERE user_id = ? ORDER BY group_id`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var groups []string
	for rows.Next() {
		var g string
		if err := rows.Scan(&g); err != nil {
			return nil, err
		}
		groups = append(groups, g)
	}
	return groups, rows.Err()
}

func (r *usersRepo) loadPhones(ctx context.Context, userID string) ([]domain.Phone, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, user_id, phone_type, number FROM phones WHERE user_id = ? ORDER BY id`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var phones []domain.Phone
	for rows.Next() {
		var p domain.Phone
		if err := rows.Scan(&p.ID, &p.UserID, &p.Type, &p.Number); err != nil {
			return nil, err
		}
		phones = append(phones, p)
	}
	return phones, rows.Err()
}
