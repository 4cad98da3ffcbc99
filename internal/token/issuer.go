// Package token はファーストパーティのアクセストークン・リフレッシュトークンの発行と検証を提供する。
package token

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/hitoshi/hanumo-auth/internal/model"
)

const (
	// AccessTokenTTL はアクセストークンの有効期間。
	AccessTokenTTL = 7 * 24 * time.Hour
	// RefreshTokenTTL はリフレッシュトークンの有効期間。
	RefreshTokenTTL = 30 * 24 * time.Hour

	// DefaultIssuer はトークンのissクレーム。
	DefaultIssuer = "hanumo-auth"

	refreshTokenType = "refresh"
)

var (
	// ErrInvalidToken は署名不正・形式不正・種別違いのトークンを示す。
	ErrInvalidToken = errors.New("invalid token")
	// ErrExpiredToken は有効期限切れのトークンを示す。
	ErrExpiredToken = errors.New("token expired")
)

// AccessClaims はアクセストークンに埋め込むクレーム。
type AccessClaims struct {
	PrivyID       string            `json:"privyId"`
	UserID        string            `json:"userId"`
	WalletAddress string            `json:"walletAddress,omitempty"`
	Email         string            `json:"email,omitempty"`
	LoginMethod   model.LoginMethod `json:"loginMethod"`
	jwt.RegisteredClaims
}

// RefreshClaims はリフレッシュトークンに埋め込むクレーム。
// IDはjtiで、失効管理に使う。
// WalletAddressとEmailはログイン時のクレーム値で、ローテーション後のアクセストークンに引き継ぐ。
type RefreshClaims struct {
	PrivyID       string            `json:"privyId"`
	Type          string            `json:"type"`
	LoginMethod   model.LoginMethod `json:"loginMethod,omitempty"`
	WalletAddress string            `json:"walletAddress,omitempty"`
	Email         string            `json:"email,omitempty"`
	jwt.RegisteredClaims
}

// Subject はトークンの主体。WalletAddressとEmailは保存済みレコードではなく今回のログインの値を使う。
type Subject struct {
	PrivyID       string
	UserID        string
	WalletAddress string
	Email         string
}

// SubjectOf は保存済みユーザーからSubjectを作る。
func SubjectOf(user *model.User) Subject {
	return Subject{
		PrivyID:       user.PrivyID,
		UserID:        user.ID,
		WalletAddress: user.WalletAddress,
		Email:         user.Email,
	}
}

// Pair は発行したトークン一式。
type Pair struct {
	AccessToken      string
	AccessExpiresAt  time.Time
	RefreshToken     string
	RefreshID        string
	RefreshExpiresAt time.Time
}

// Issuer はHS256でファーストパーティトークンを署名・検証する。
// IdPの検証鍵とは別のシークレットを使う。
type Issuer struct {
	secret []byte
	issuer string
	now    func() time.Time
	parser *jwt.Parser
}

// NewIssuer はIssuerを生成する。
func NewIssuer(secret string) (*Issuer, error) {
	if secret == "" {
		return nil, fmt.Errorf("token signing secret is required")
	}
	i := &Issuer{
		secret: []byte(secret),
		issuer: DefaultIssuer,
		now:    time.Now,
	}
	i.parser = jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithIssuer(i.issuer),
		jwt.WithTimeFunc(func() time.Time { return i.now() }),
	)
	return i, nil
}

// Mint は主体に対してアクセストークン（7日）とリフレッシュトークン（30日）を発行する。
func (i *Issuer) Mint(sub Subject, method model.LoginMethod, now time.Time) (*Pair, error) {
	accessExp := now.Add(AccessTokenTTL)
	access := &AccessClaims{
		PrivyID:       sub.PrivyID,
		UserID:        sub.UserID,
		WalletAddress: sub.WalletAddress,
		Email:         sub.Email,
		LoginMethod:   method,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    i.issuer,
			Subject:   sub.UserID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(accessExp),
		},
	}
	accessToken, err := jwt.NewWithClaims(jwt.SigningMethodHS256, access).SignedString(i.secret)
	if err != nil {
		return nil, fmt.Errorf("failed to sign access token: %w", err)
	}

	refreshID := uuid.New().String()
	refreshExp := now.Add(RefreshTokenTTL)
	refresh := &RefreshClaims{
		PrivyID:       sub.PrivyID,
		Type:          refreshTokenType,
		LoginMethod:   method,
		WalletAddress: sub.WalletAddress,
		Email:         sub.Email,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        refreshID,
			Issuer:    i.issuer,
			Subject:   sub.UserID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(refreshExp),
		},
	}
	refreshToken, err := jwt.NewWithClaims(jwt.SigningMethodHS256, refresh).SignedString(i.secret)
	if err != nil {
		return nil, fmt.Errorf("failed to sign refresh token: %w", err)
	}

	return &Pair{
		AccessToken:      accessToken,
		AccessExpiresAt:  accessExp,
		RefreshToken:     refreshToken,
		RefreshID:        refreshID,
		RefreshExpiresAt: refreshExp,
	}, nil
}

// ParseAccess はアクセストークンを検証しクレームを返す。
// リフレッシュトークンは拒否する。
func (i *Issuer) ParseAccess(tokenString string) (*AccessClaims, error) {
	var c AccessClaims
	if err := i.parse(tokenString, &c); err != nil {
		return nil, err
	}
	if c.PrivyID == "" || c.UserID == "" {
		return nil, ErrInvalidToken
	}
	return &c, nil
}

// ParseRefresh はリフレッシュトークンを検証しクレームを返す。
// type=refresh と jti を必須とする。
func (i *Issuer) ParseRefresh(tokenString string) (*RefreshClaims, error) {
	var c RefreshClaims
	if err := i.parse(tokenString, &c); err != nil {
		return nil, err
	}
	if c.Type != refreshTokenType || c.ID == "" || c.PrivyID == "" {
		return nil, ErrInvalidToken
	}
	return &c, nil
}

func (i *Issuer) parse(tokenString string, c jwt.Claims) error {
	_, err := i.parser.ParseWithClaims(tokenString, c, func(t *jwt.Token) (any, error) {
		return i.secret, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return ErrExpiredToken
		}
		return ErrInvalidToken
	}
	return nil
}
