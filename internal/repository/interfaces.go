// Package repository はデータ永続化のインターフェースを定義する。
package repository

import (
	"context"
	"time"

	"github.com/hitoshi/hanumo-auth/internal/model"
)

// UserRepository はユーザーデータの永続化インターフェース。
type UserRepository interface {
	// FindByID は内部IDでユーザーを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.User, error)

	// FindByPrivyID はPrivyのsubjectでユーザーを取得する。見つからない場合はnilを返す。
	FindByPrivyID(ctx context.Context, privyID string) (*model.User, error)

	// Create はユーザーを作成し、永続化されたレコードを返す。
	// 同じPrivyIDのユーザーが既に存在する場合は新規作成せず、
	// last_login_atのみ更新した既存レコードを返す（同時初回ログインでの重複防止）。
	Create(ctx context.Context, user *model.User) (*model.User, error)

	// UpdateLastLogin は最終ログイン日時のみを更新し、更新後のレコードを返す。
	// 見つからない場合はnilを返す。
	UpdateLastLogin(ctx context.Context, privyID string, at time.Time) (*model.User, error)

	// UpdateProfile はプロフィール（表示名・自己紹介）を更新し、更新後のレコードを返す。
	// 見つからない場合はnilを返す。
	UpdateProfile(ctx context.Context, id string, profile model.Profile) (*model.User, error)
}

// RefreshTokenStore は発行済みリフレッシュトークン（jti）の管理インターフェース。
type RefreshTokenStore interface {
	// Save はjtiを有効期限付きで登録する。
	Save(ctx context.Context, jti, privyID string, expiresAt time.Time) error

	// Consume はjtiを原子的に取り出して無効化する。
	// 未登録・失効済みの場合はokにfalseを返す。
	Consume(ctx context.Context, jti string) (privyID string, ok bool, err error)

	// Revoke はjtiを無効化する。未登録の場合もエラーにしない。
	Revoke(ctx context.Context, jti string) error
}
