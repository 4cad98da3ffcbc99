// Package model はドメインモデルを定義する。
package model

import "time"

// LoginMethod はIDトークンのクレームから導出されるログイン手段の分類。
type LoginMethod string

const (
	LoginMethodWallet  LoginMethod = "wallet"
	LoginMethodGoogle  LoginMethod = "google"
	LoginMethodTwitter LoginMethod = "twitter"
	LoginMethodDiscord LoginMethod = "discord"
	LoginMethodEmail   LoginMethod = "email"
	LoginMethodUnknown LoginMethod = "unknown"
)

// Profile はユーザーの表示用プロフィール。
type Profile struct {
	DisplayName string
	Avatar      *string // 未設定の場合はnil
	Bio         string
}

// User はPrivyで認証されたプリンシパルのローカル表現。
// PrivyIDはIdPが払い出すsubjectで、ユーザーごとに一意。
type User struct {
	ID            string
	PrivyID       string
	WalletAddress string
	Email         string
	Profile       Profile
	CreatedAt     time.Time
	LastLoginAt   time.Time
}
