// Package idp はPrivyが発行したIDトークンの検証を提供する。
package idp

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/hitoshi/hanumo-auth/internal/claims"
)

// placeholderSecret は未設定扱いとする既定値。
const placeholderSecret = "your-privy-app-secret"

var (
	// ErrNotConfigured は検証鍵が未設定（空または既定値）であることを示す。
	ErrNotConfigured = errors.New("privy verification key is not configured")
	// ErrTokenExpired はIDトークンの有効期限切れを示す。
	ErrTokenExpired = errors.New("privy id token expired")
	// ErrTokenInvalid は署名不正・形式不正などIDトークンが無効であることを示す。
	ErrTokenInvalid = errors.New("privy id token invalid")
)

// Config はVerifierの設定。
type Config struct {
	// Key はPEM形式のEC公開鍵（ES256）またはHMAC共有シークレット。
	Key string
	// AppID が指定された場合はaudクレームと照合する。
	AppID string
	// Issuer が指定された場合はissクレームと照合する。
	Issuer string
	// Now はテスト用に差し替え可能な現在時刻関数。
	Now func() time.Time
}

// Verifier はIDトークンの署名と有効期限を検証する。
type Verifier struct {
	key     any
	methods []string
	parser  *jwt.Parser
}

// IsPlaceholderSecret は検証鍵が未設定扱いかどうかを判定する。
func IsPlaceholderSecret(key string) bool {
	key = strings.TrimSpace(key)
	return key == "" || key == placeholderSecret
}

// NewVerifier はVerifierを生成する。
// 鍵が未設定の場合はErrNotConfiguredを返す。呼び出し側はこれを縮退モードの合図として扱う。
func NewVerifier(cfg Config) (*Verifier, error) {
	if IsPlaceholderSecret(cfg.Key) {
		return nil, ErrNotConfigured
	}

	v := &Verifier{}
	key := strings.ReplaceAll(strings.TrimSpace(cfg.Key), `\n`, "\n")
	if strings.Contains(key, "BEGIN PUBLIC KEY") {
		pub, err := jwt.ParseECPublicKeyFromPEM([]byte(key))
		if err != nil {
			return nil, fmt.Errorf("failed to parse privy verification key: %w", err)
		}
		v.key = pub
		v.methods = []string{jwt.SigningMethodES256.Alg()}
	} else {
		v.key = []byte(key)
		v.methods = []string{
			jwt.SigningMethodHS256.Alg(),
			jwt.SigningMethodHS384.Alg(),
			jwt.SigningMethodHS512.Alg(),
		}
	}

	opts := []jwt.ParserOption{
		jwt.WithValidMethods(v.methods),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
		jwt.WithLeeway(30 * time.Second),
	}
	if cfg.AppID != "" {
		opts = append(opts, jwt.WithAudience(cfg.AppID))
	}
	if cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(cfg.Issuer))
	}
	if cfg.Now != nil {
		opts = append(opts, jwt.WithTimeFunc(cfg.Now))
	}
	v.parser = jwt.NewParser(opts...)

	return v, nil
}

// Verify はIDトークンを検証し、クレームを返す。
func (v *Verifier) Verify(_ context.Context, token string) (*claims.IdentityClaims, error) {
	var c claims.IdentityClaims
	_, err := v.parser.ParseWithClaims(token, &c, func(t *jwt.Token) (any, error) {
		return v.key, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrTokenExpired
		}
		return nil, fmt.Errorf("%w: %v", ErrTokenInvalid, err)
	}

	if c.Subject == "" {
		return nil, fmt.Errorf("%w: missing sub claim", ErrTokenInvalid)
	}

	return &c, nil
}

// Algorithms は受け付ける署名アルゴリズムを返す。
func (v *Verifier) Algorithms() []string {
	return v.methods
}

