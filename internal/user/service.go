// Package user はユーザープロフィール管理のドメインロジックを提供する。
package user

import (
	"context"
	"fmt"
	"log/slog"
	"unicode/utf8"

	"github.com/hitoshi/hanumo-auth/internal/model"
	"github.com/hitoshi/hanumo-auth/internal/repository"
	"github.com/hitoshi/hanumo-auth/internal/security"
)

// プロフィール項目の長さ制限（文字数）。
const (
	MaxDisplayNameLength = 64
	MaxBioLength         = 500
)

// ProfileUpdate はプロフィール更新の入力。nilの項目は変更しない。
type ProfileUpdate struct {
	DisplayName *string
	Bio         *string
}

// Service はユーザー管理のサービス層。
// オンボーディング画面からのプロフィール更新を扱う。
type Service struct {
	userRepo  repository.UserRepository
	sanitizer security.TextSanitizer
}

// NewService はServiceの新しいインスタンスを生成する。
func NewService(userRepo repository.UserRepository, sanitizer security.TextSanitizer) *Service {
	return &Service{
		userRepo:  userRepo,
		sanitizer: sanitizer,
	}
}

// UpdateProfile は表示名と自己紹介を更新する。
// 入力はマークアップを除去してから長さを検証する。
func (s *Service) UpdateProfile(ctx context.Context, userID string, update ProfileUpdate) (*model.User, error) {
	user, err := s.userRepo.FindByID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("ユーザーの取得に失敗しました: %w", err)
	}
	if user == nil {
		return nil, model.NewUserNotFoundError()
	}

	profile := user.Profile

	if update.DisplayName != nil {
		name := s.sanitizer.Sanitize(*update.DisplayName)
		n := utf8.RuneCountInString(name)
		if n == 0 {
			return nil, model.NewInvalidProfileError("displayName must not be empty")
		}
		if n > MaxDisplayNameLength {
			return nil, model.NewInvalidProfileError(fmt.Sprintf("displayName must be at most %d characters", MaxDisplayNameLength))
		}
		profile.DisplayName = name
	}

	if update.Bio != nil {
		bio := s.sanitizer.Sanitize(*update.Bio)
		if utf8.RuneCountInString(bio) > MaxBioLength {
			return nil, model.NewInvalidProfileError(fmt.Sprintf("bio must be at most %d characters", MaxBioLength))
		}
		profile.Bio = bio
	}

	updated, err := s.userRepo.UpdateProfile(ctx, userID, profile)
	if err != nil {
		return nil, fmt.Errorf("プロフィールの更新に失敗しました: %w", err)
	}
	if updated == nil {
		return nil, model.NewUserNotFoundError()
	}

	slog.Info("プロフィールを更新しました", slog.String("user_id", userID))
	return updated, nil
}
