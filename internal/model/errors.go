// Package model はドメインモデルを定義する。
package model

import "fmt"

// APIError は統一エラーフォーマットを表す。
// Messageはレスポンスのerrorフィールドにそのまま出力される。
type APIError struct {
	Code     string // エラーコード
	Message  string // エラーメッセージ
	Category string // カテゴリ: auth, validation, system
	Action   string // クライアント向け対処方法
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// 定義済みエラーコード
const (
	ErrCodeMissingToken        = "MISSING_TOKEN"
	ErrCodeInvalidIdentity     = "INVALID_IDENTITY_TOKEN"
	ErrCodeAuthFailed          = "AUTH_FAILED"
	ErrCodeInvalidRequest      = "INVALID_REQUEST"
	ErrCodeUnauthorized        = "UNAUTHORIZED"
	ErrCodeInvalidRefreshToken = "INVALID_REFRESH_TOKEN"
	ErrCodeUserNotFound        = "USER_NOT_FOUND"
	ErrCodeInvalidProfile      = "INVALID_PROFILE"
)

// NewMissingTokenError はPrivy IDトークン未指定エラーを生成する。
func NewMissingTokenError() *APIError {
	return &APIError{
		Code:     ErrCodeMissingToken,
		Message:  "Missing Privy ID token",
		Category: "validation",
		Action:   "privyIdTokenを指定してください。",
	}
}

// NewInvalidIdentityTokenError はIDトークンの検証失敗エラーを生成する。
func NewInvalidIdentityTokenError() *APIError {
	return &APIError{
		Code:     ErrCodeInvalidIdentity,
		Message:  "Invalid Privy ID token",
		Category: "auth",
		Action:   "Privyから再度ログインしてください。",
	}
}

// NewAuthFailedError は認証処理全般の失敗エラーを生成する。
// 内部の詳細は含めない。
func NewAuthFailedError() *APIError {
	return &APIError{
		Code:     ErrCodeAuthFailed,
		Message:  "Authentication failed",
		Category: "system",
		Action:   "しばらく待ってから再度お試しください。",
	}
}

// NewInvalidRequestError はリクエストボディが不正な場合のエラーを生成する。
func NewInvalidRequestError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidRequest,
		Message:  fmt.Sprintf("Invalid request: %s", reason),
		Category: "validation",
		Action:   "リクエストボディを確認してください。",
	}
}

// NewUnauthorizedError はアクセストークンが無効な場合のエラーを生成する。
func NewUnauthorizedError() *APIError {
	return &APIError{
		Code:     ErrCodeUnauthorized,
		Message:  "Unauthorized",
		Category: "auth",
		Action:   "ログインし直してください。",
	}
}

// NewInvalidRefreshTokenError はリフレッシュトークンが無効・失効済みの場合のエラーを生成する。
func NewInvalidRefreshTokenError() *APIError {
	return &APIError{
		Code:     ErrCodeInvalidRefreshToken,
		Message:  "Invalid refresh token",
		Category: "auth",
		Action:   "ログインし直してください。",
	}
}

// NewUserNotFoundError はユーザーが見つからない場合のエラーを生成する。
func NewUserNotFoundError() *APIError {
	return &APIError{
		Code:     ErrCodeUserNotFound,
		Message:  "User not found",
		Category: "auth",
		Action:   "ログインし直してください。",
	}
}

// NewInvalidProfileError はプロフィール更新内容が不正な場合のエラーを生成する。
func NewInvalidProfileError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidProfile,
		Message:  fmt.Sprintf("Invalid profile: %s", reason),
		Category: "validation",
		Action:   "表示名は1〜64文字、自己紹介は500文字以内で入力してください。",
	}
}
