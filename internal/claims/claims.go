// Package claims はPrivy IDトークンのクレーム表現と、
// そこからログイン手段・表示名・アバターを導出する純粋関数を提供する。
package claims

import (
	"fmt"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"github.com/hitoshi/hanumo-auth/internal/model"
)

const (
	// AnonymousDisplayName はどのクレームからも表示名を導出できない場合の表示名。
	AnonymousDisplayName = "Anonymous User"

	discordAvatarURLFormat = "https://cdn.discordapp.com/avatars/%s/%s.png"
)

// IdentityClaims はIdPが発行するIDトークンのクレーム。
// sub以外はすべて任意で、ウォレット・メール・ソーシャルの各グループは同時に存在しうる。
type IdentityClaims struct {
	jwt.RegisteredClaims

	// contact
	Email         string `json:"email,omitempty"`
	EmailVerified bool   `json:"email_verified,omitempty"`

	// wallet
	WalletAddress string `json:"wallet_address,omitempty"`
	WalletChainID int64  `json:"wallet_chain_id,omitempty"`
	WalletClient  string `json:"wallet_client,omitempty"`

	// google
	GoogleID      string `json:"google_id,omitempty"`
	GoogleEmail   string `json:"google_email,omitempty"`
	GoogleName    string `json:"google_name,omitempty"`
	GooglePicture string `json:"google_picture,omitempty"`

	// twitter
	TwitterID              string `json:"twitter_id,omitempty"`
	TwitterUsername        string `json:"twitter_username,omitempty"`
	TwitterName            string `json:"twitter_name,omitempty"`
	TwitterProfileImageURL string `json:"twitter_profile_image_url,omitempty"`

	// discord
	DiscordID            string `json:"discord_id,omitempty"`
	DiscordUsername      string `json:"discord_username,omitempty"`
	DiscordDiscriminator string `json:"discord_discriminator,omitempty"`
	DiscordAvatar        string `json:"discord_avatar,omitempty"`
}

// ResolveLoginMethod はクレームからログイン手段を判定する。
// 優先順位: wallet > google > twitter > discord > email > unknown
func ResolveLoginMethod(c *IdentityClaims) model.LoginMethod {
	if c == nil {
		return model.LoginMethodUnknown
	}
	switch {
	case c.WalletAddress != "":
		return model.LoginMethodWallet
	case c.GoogleID != "":
		return model.LoginMethodGoogle
	case c.TwitterID != "":
		return model.LoginMethodTwitter
	case c.DiscordID != "":
		return model.LoginMethodDiscord
	case c.Email != "":
		return model.LoginMethodEmail
	default:
		return model.LoginMethodUnknown
	}
}

// ResolveDisplayName はクレームから表示名を決定する。
// 優先順位: Google名 → Twitter名 → Discordユーザー名 → メールのローカル部 → 短縮ウォレットアドレス → "Anonymous User"
// ローカル部が空のメール（"@b.com"など）は採用せず、次の候補に進む。
func ResolveDisplayName(c *IdentityClaims) string {
	if c == nil {
		return AnonymousDisplayName
	}
	switch {
	case c.GoogleName != "":
		return c.GoogleName
	case c.TwitterName != "":
		return c.TwitterName
	case c.DiscordUsername != "":
		return c.DiscordUsername
	}
	if local := emailLocalPart(c.Email); local != "" {
		return local
	}
	if c.WalletAddress != "" {
		return AbbreviateAddress(c.WalletAddress)
	}
	return AnonymousDisplayName
}

// ResolveAvatar はクレームからアバターURLを決定する。該当なしの場合はnilを返す。
// 優先順位: Google画像 → Twitterプロフィール画像 → Discordアバター（CDN URLを組み立てる）
func ResolveAvatar(c *IdentityClaims) *string {
	if c == nil {
		return nil
	}
	var avatar string
	switch {
	case c.GooglePicture != "":
		avatar = c.GooglePicture
	case c.TwitterProfileImageURL != "":
		avatar = c.TwitterProfileImageURL
	case c.DiscordAvatar != "":
		avatar = fmt.Sprintf(discordAvatarURLFormat, c.DiscordID, c.DiscordAvatar)
	default:
		return nil
	}
	return &avatar
}

// AbbreviateAddress はウォレットアドレスを先頭6文字…末尾4文字に短縮する。
// 10文字以下のアドレスは短縮しない。
func AbbreviateAddress(address string) string {
	if len(address) <= 10 {
		return address
	}
	return address[:6] + "…" + address[len(address)-4:]
}

// PrimaryIdentifier はユーザーを代表する識別子を返す。
// ウォレットアドレス → メールアドレス → subject の順で採用する。
func PrimaryIdentifier(c *IdentityClaims) string {
	if c == nil {
		return ""
	}
	if c.WalletAddress != "" {
		return c.WalletAddress
	}
	if c.Email != "" {
		return c.Email
	}
	return c.Subject
}

// EmailVerified はメールアドレスが存在し、かつ検証済みかを返す。
func EmailVerified(c *IdentityClaims) bool {
	return c != nil && c.Email != "" && c.EmailVerified
}

// emailLocalPart はメールアドレスの@より前の部分を返す。
func emailLocalPart(email string) string {
	if email == "" {
		return ""
	}
	local, _, _ := strings.Cut(email, "@")
	return local
}
