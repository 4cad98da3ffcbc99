package handler

import (
	"testing"
	"time"

	"github.com/hitoshi/hanumo-auth/internal/auth"
	"github.com/hitoshi/hanumo-auth/internal/model"
	"github.com/hitoshi/hanumo-auth/internal/token"
)

// ログイン応答のemail・walletAddressは保存済みレコードではなく今回のクレーム値になることを検証
func TestToLoginResponse_UsesCurrentContactClaims(t *testing.T) {
	result := &auth.LoginResult{
		User: &model.User{
			ID:            "user-1",
			PrivyID:       "did:privy:alice",
			WalletAddress: "0xabc",
			Profile:       model.Profile{DisplayName: "stored"},
		},
		LoginMethod:   model.LoginMethodWallet,
		DisplayName:   "0xabc",
		Email:         "alice@example.com",
		WalletAddress: "0xdef",
		Tokens: &token.Pair{
			AccessToken:     "access",
			AccessExpiresAt: time.Date(2026, 3, 8, 0, 0, 0, 0, time.UTC),
			RefreshToken:    "refresh",
		},
	}

	resp := toLoginResponse(result)

	if resp.User.Email != "alice@example.com" {
		t.Errorf("email = %q, want alice@example.com", resp.User.Email)
	}
	if resp.User.WalletAddress != "0xdef" {
		t.Errorf("walletAddress = %q, want 0xdef", resp.User.WalletAddress)
	}
	if resp.User.Profile.DisplayName != "stored" {
		t.Errorf("profile.displayName = %q, want stored", resp.User.Profile.DisplayName)
	}
}
