package repository

import (
	"context"
	"sync"
	"time"

	"github.com/hitoshi/hanumo-auth/internal/model"
)

// MemoryUserRepo はプロセス内メモリを使用したユーザーリポジトリ。
// 開発モードとテストで使う。返すレコードは常にコピー。
type MemoryUserRepo struct {
	mu        sync.Mutex
	byID      map[string]*model.User
	byPrivyID map[string]string // privy_id -> id
}

// NewMemoryUserRepo はMemoryUserRepoを生成する。
func NewMemoryUserRepo() *MemoryUserRepo {
	return &MemoryUserRepo{
		byID:      make(map[string]*model.User),
		byPrivyID: make(map[string]string),
	}
}

// FindByID は内部IDでユーザーを取得する。
func (r *MemoryUserRepo) FindByID(_ context.Context, id string) (*model.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	u, ok := r.byID[id]
	if !ok {
		return nil, nil
	}
	return copyUser(u), nil
}

// FindByPrivyID はPrivyのsubjectでユーザーを取得する。
func (r *MemoryUserRepo) FindByPrivyID(_ context.Context, privyID string) (*model.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	id, ok := r.byPrivyID[privyID]
	if !ok {
		return nil, nil
	}
	return copyUser(r.byID[id]), nil
}

// Create はユーザーを作成する。既存のPrivyIDの場合はlast_login_atのみ更新する。
func (r *MemoryUserRepo) Create(_ context.Context, user *model.User) (*model.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if id, ok := r.byPrivyID[user.PrivyID]; ok {
		existing := r.byID[id]
		existing.LastLoginAt = user.LastLoginAt
		return copyUser(existing), nil
	}

	stored := copyUser(user)
	r.byID[stored.ID] = stored
	r.byPrivyID[stored.PrivyID] = stored.ID
	return copyUser(stored), nil
}

// UpdateLastLogin は最終ログイン日時のみを更新する。
func (r *MemoryUserRepo) UpdateLastLogin(_ context.Context, privyID string, at time.Time) (*model.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	id, ok := r.byPrivyID[privyID]
	if !ok {
		return nil, nil
	}
	u := r.byID[id]
	u.LastLoginAt = at
	return copyUser(u), nil
}

// UpdateProfile は表示名と自己紹介を更新する。
func (r *MemoryUserRepo) UpdateProfile(_ context.Context, id string, profile model.Profile) (*model.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	u, ok := r.byID[id]
	if !ok {
		return nil, nil
	}
	u.Profile.DisplayName = profile.DisplayName
	u.Profile.Bio = profile.Bio
	return copyUser(u), nil
}

// Count は保持しているユーザー数を返す。
func (r *MemoryUserRepo) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.byID)
}

func copyUser(u *model.User) *model.User {
	c := *u
	if u.Profile.Avatar != nil {
		avatar := *u.Profile.Avatar
		c.Profile.Avatar = &avatar
	}
	return &c
}

// compile-time interface check
var _ UserRepository = (*MemoryUserRepo)(nil)
