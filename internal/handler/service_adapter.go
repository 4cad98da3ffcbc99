package handler

import (
	"context"
	"errors"

	"github.com/hitoshi/hanumo-auth/internal/auth"
	"github.com/hitoshi/hanumo-auth/internal/model"
	"github.com/hitoshi/hanumo-auth/internal/user"
)

// AuthServiceAdapter は auth.Service を AuthServiceInterface に適合させるアダプタ。
// ドメインの番兵エラーをAPIErrorに変換する。
type AuthServiceAdapter struct {
	svc *auth.Service
}

// NewAuthServiceAdapter はAuthServiceAdapterを生成する。
func NewAuthServiceAdapter(svc *auth.Service) *AuthServiceAdapter {
	return &AuthServiceAdapter{svc: svc}
}

// Login はIDトークンを検証してセッションを発行し、handlerレスポンス型で返す。
func (a *AuthServiceAdapter) Login(ctx context.Context, req loginRequest) (*loginResponse, error) {
	result, err := a.svc.IssueSession(ctx, auth.LoginRequest{
		PrivyIDToken: req.PrivyIDToken,
		Timestamp:    req.Timestamp,
	})
	if err != nil {
		switch {
		case errors.Is(err, auth.ErrMissingToken):
			return nil, model.NewMissingTokenError()
		case errors.Is(err, auth.ErrVerificationRejected):
			return nil, model.NewInvalidIdentityTokenError()
		}
		return nil, err
	}
	resp := toLoginResponse(result)
	return &resp, nil
}

// Refresh はリフレッシュトークンをローテーションし、handlerレスポンス型で返す。
func (a *AuthServiceAdapter) Refresh(ctx context.Context, refreshToken string) (*loginResponse, error) {
	result, err := a.svc.Refresh(ctx, refreshToken)
	if err != nil {
		if errors.Is(err, auth.ErrInvalidRefreshToken) || errors.Is(err, auth.ErrUserNotFound) {
			return nil, model.NewInvalidRefreshTokenError()
		}
		return nil, err
	}
	resp := toLoginResponse(result)
	return &resp, nil
}

// Logout はリフレッシュトークンを失効させる。
func (a *AuthServiceAdapter) Logout(ctx context.Context, refreshToken string) error {
	return a.svc.Logout(ctx, refreshToken)
}

// Me は保存済みのユーザー情報をhandlerレスポンス型で返す。
func (a *AuthServiceAdapter) Me(ctx context.Context, privyID string, method model.LoginMethod) (*userResponse, error) {
	u, err := a.svc.CurrentUser(ctx, privyID)
	if err != nil {
		if errors.Is(err, auth.ErrUserNotFound) {
			return nil, model.NewUserNotFoundError()
		}
		return nil, err
	}
	resp := toUserResponse(u, method)
	return &resp, nil
}

// UserServiceAdapter は user.Service を UserServiceInterface に適合させるアダプタ。
type UserServiceAdapter struct {
	svc *user.Service
}

// NewUserServiceAdapter はUserServiceAdapterを生成する。
func NewUserServiceAdapter(svc *user.Service) *UserServiceAdapter {
	return &UserServiceAdapter{svc: svc}
}

// UpdateProfile はプロフィールを更新しhandlerレスポンス型で返す。
func (a *UserServiceAdapter) UpdateProfile(ctx context.Context, userID string, req profileUpdateRequest, method model.LoginMethod) (*userResponse, error) {
	u, err := a.svc.UpdateProfile(ctx, userID, user.ProfileUpdate{
		DisplayName: req.DisplayName,
		Bio:         req.Bio,
	})
	if err != nil {
		return nil, err
	}
	resp := toUserResponse(u, method)
	return &resp, nil
}

// toLoginResponse はセッション発行結果をhandlerのレスポンス型に変換する。
// トップレベルのdisplayName・avatar・email・walletAddressにはクレームから解決した値を使う。
func toLoginResponse(result *auth.LoginResult) loginResponse {
	u := toUserResponse(result.User, result.LoginMethod)
	u.DisplayName = result.DisplayName
	u.Avatar = result.Avatar
	u.Email = result.Email
	u.WalletAddress = result.WalletAddress

	return loginResponse{
		AccessToken: result.Tokens.AccessToken,
		User:        u,
		Session: sessionResponse{
			ExpiresAt:    formatExpiresAt(result.Tokens.AccessExpiresAt),
			RefreshToken: result.Tokens.RefreshToken,
		},
	}
}

// toUserResponse は保存済みのユーザーをhandlerのレスポンス型に変換する。
func toUserResponse(u *model.User, method model.LoginMethod) userResponse {
	return userResponse{
		PrivyID:       u.PrivyID,
		Email:         u.Email,
		WalletAddress: u.WalletAddress,
		DisplayName:   u.Profile.DisplayName,
		Avatar:        u.Profile.Avatar,
		LoginMethod:   string(method),
		ID:            u.ID,
		Profile: profileResponse{
			DisplayName: u.Profile.DisplayName,
			Avatar:      u.Profile.Avatar,
			Bio:         u.Profile.Bio,
		},
	}
}

// --- compile-time interface checks ---

var _ AuthServiceInterface = (*AuthServiceAdapter)(nil)
var _ UserServiceInterface = (*UserServiceAdapter)(nil)
