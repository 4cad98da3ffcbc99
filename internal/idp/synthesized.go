package idp

import (
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/hitoshi/hanumo-auth/internal/claims"
)

// 縮退モードで使う固定クレームの値。
const (
	SynthesizedSubject  = "mock_privy_user_123"
	SynthesizedAudience = "cmfyc5hpa005el40cc5k9ilbj"
	SynthesizedIssuer   = "https://auth.privy.io"
	SynthesizedEmail    = "test@example.com"
	SynthesizedWallet   = "0x1543c4791234567890abcdef1234567890abcdef"
)

// SynthesizedClaims は検証鍵が無い環境向けの固定クレームを生成する。
// 有効期限は1時間。本番の検証経路と同じ後段処理を通すためのもので、認証の代わりにはならない。
func SynthesizedClaims(now time.Time) *claims.IdentityClaims {
	now = now.Truncate(time.Second)
	return &claims.IdentityClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   SynthesizedSubject,
			Audience:  jwt.ClaimStrings{SynthesizedAudience},
			Issuer:    SynthesizedIssuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(time.Hour)),
		},
		Email:         SynthesizedEmail,
		EmailVerified: true,
		WalletAddress: SynthesizedWallet,
		WalletChainID: 1,
		WalletClient:  "metamask",
	}
}
