package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/hitoshi/hanumo-auth/internal/model"
)

const userColumns = `id, privy_id, wallet_address, email, display_name, avatar, bio, created_at, last_login_at`

// PostgresUserRepo はPostgreSQLを使用したユーザーリポジトリ。
type PostgresUserRepo struct {
	db *sql.DB
}

// NewPostgresUserRepo はPostgresUserRepoを生成する。
func NewPostgresUserRepo(db *sql.DB) *PostgresUserRepo {
	return &PostgresUserRepo{db: db}
}

// FindByID は内部IDでユーザーを取得する。見つからない場合はnilを返す。
func (r *PostgresUserRepo) FindByID(ctx context.Context, id string) (*model.User, error) {
	user, err := scanUser(r.db.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE id = $1`,
		id,
	))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find user by ID: %w", err)
	}
	return user, nil
}

// FindByPrivyID はPrivyのsubjectでユーザーを取得する。見つからない場合はnilを返す。
func (r *PostgresUserRepo) FindByPrivyID(ctx context.Context, privyID string) (*model.User, error) {
	user, err := scanUser(r.db.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE privy_id = $1`,
		privyID,
	))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find user by privy ID: %w", err)
	}
	return user, nil
}

// Create はユーザーを作成する。
// privy_idのUNIQUE制約でON CONFLICTし、既存レコードはlast_login_atのみ更新して返す。
func (r *PostgresUserRepo) Create(ctx context.Context, user *model.User) (*model.User, error) {
	created, err := scanUser(r.db.QueryRowContext(ctx,
		`INSERT INTO users (id, privy_id, wallet_address, email, display_name, avatar, bio, created_at, last_login_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		 ON CONFLICT (privy_id) DO UPDATE SET last_login_at = EXCLUDED.last_login_at
		 RETURNING `+userColumns,
		user.ID, user.PrivyID, user.WalletAddress, user.Email,
		user.Profile.DisplayName, nullString(user.Profile.Avatar), user.Profile.Bio,
		user.CreatedAt, user.LastLoginAt,
	))
	if err != nil {
		return nil, fmt.Errorf("failed to insert user: %w", err)
	}
	return created, nil
}

// UpdateLastLogin は最終ログイン日時のみを更新する。見つからない場合はnilを返す。
func (r *PostgresUserRepo) UpdateLastLogin(ctx context.Context, privyID string, at time.Time) (*model.User, error) {
	user, err := scanUser(r.db.QueryRowContext(ctx,
		`UPDATE users SET last_login_at = $2 WHERE privy_id = $1 RETURNING `+userColumns,
		privyID, at,
	))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to update last login: %w", err)
	}
	return user, nil
}

// UpdateProfile は表示名と自己紹介を更新する。アバターは変更しない。
func (r *PostgresUserRepo) UpdateProfile(ctx context.Context, id string, profile model.Profile) (*model.User, error) {
	user, err := scanUser(r.db.QueryRowContext(ctx,
		`UPDATE users SET display_name = $2, bio = $3 WHERE id = $1 RETURNING `+userColumns,
		id, profile.DisplayName, profile.Bio,
	))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to update profile: %w", err)
	}
	return user, nil
}

// scanUser は1行をmodel.Userに読み込む。
func scanUser(row *sql.Row) (*model.User, error) {
	user := &model.User{}
	var avatar sql.NullString
	err := row.Scan(
		&user.ID, &user.PrivyID, &user.WalletAddress, &user.Email,
		&user.Profile.DisplayName, &avatar, &user.Profile.Bio,
		&user.CreatedAt, &user.LastLoginAt,
	)
	if err != nil {
		return nil, err
	}
	if avatar.Valid {
		user.Profile.Avatar = &avatar.String
	}
	return user, nil
}

func nullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

// compile-time interface check
var _ UserRepository = (*PostgresUserRepo)(nil)
