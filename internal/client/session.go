// Package client はIDプロバイダーのトークンをセッション発行APIで交換し、
// 得られたセッションをクライアント側に保持する。
package client

import "time"

// Profile は保存済みプロフィールのスナップショット。
type Profile struct {
	DisplayName string  `json:"displayName"`
	Avatar      *string `json:"avatar"`
	Bio         string  `json:"bio"`
}

// SessionUser はセッションに埋め込まれたユーザー情報。
type SessionUser struct {
	PrivyID       string  `json:"privyId"`
	Email         string  `json:"email,omitempty"`
	WalletAddress string  `json:"walletAddress,omitempty"`
	DisplayName   string  `json:"displayName"`
	Avatar        *string `json:"avatar"`
	LoginMethod   string  `json:"loginMethod"`
	ID            string  `json:"id"`
	Profile       Profile `json:"profile"`
}

// SessionInfo は有効期限とリフレッシュトークン。
type SessionInfo struct {
	ExpiresAt    time.Time `json:"expiresAt"`
	RefreshToken string    `json:"refreshToken"`
}

// Session はログインAPIの200レスポンスと同じ形をしたファーストパーティセッション。
type Session struct {
	AccessToken string      `json:"accessToken"`
	User        SessionUser `json:"user"`
	Session     SessionInfo `json:"session"`
}

// Expired はnowが有効期限と同時刻以降ならtrueを返す。
func (s *Session) Expired(now time.Time) bool {
	return !now.Before(s.Session.ExpiresAt)
}

func (s *Session) valid() bool {
	return s.AccessToken != "" && s.User.ID != "" && !s.Session.ExpiresAt.IsZero()
}
