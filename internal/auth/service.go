// Package auth はPrivy IDトークンをファーストパーティセッションに交換する認証サービスを提供する。
package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/hanumo-auth/internal/claims"
	"github.com/hitoshi/hanumo-auth/internal/idp"
	"github.com/hitoshi/hanumo-auth/internal/metrics"
	"github.com/hitoshi/hanumo-auth/internal/model"
	"github.com/hitoshi/hanumo-auth/internal/repository"
	"github.com/hitoshi/hanumo-auth/internal/token"
)

var (
	// ErrMissingToken はPrivy IDトークンが空であることを示す。
	ErrMissingToken = errors.New("missing privy id token")
	// ErrVerificationRejected は検証失敗をreject方針で拒否したことを示す。
	ErrVerificationRejected = errors.New("privy id token rejected")
	// ErrInvalidRefreshToken はリフレッシュトークンが不正・失効・再利用済みであることを示す。
	ErrInvalidRefreshToken = errors.New("invalid refresh token")
	// ErrUserNotFound はトークンの主体に対応するユーザーが存在しないことを示す。
	ErrUserNotFound = errors.New("user not found")
)

// VerifyFailurePolicy は検証鍵が設定済みで検証に失敗した場合の扱い。
type VerifyFailurePolicy string

const (
	// PolicyReject は401で拒否する。
	PolicyReject VerifyFailurePolicy = "reject"
	// PolicyDegrade は合成クレームで処理を続行する。開発モード専用。
	PolicyDegrade VerifyFailurePolicy = "degrade"
)

// ParseVerifyFailurePolicy は文字列を方針に変換する。空文字はreject。
func ParseVerifyFailurePolicy(s string) (VerifyFailurePolicy, error) {
	switch VerifyFailurePolicy(s) {
	case "", PolicyReject:
		return PolicyReject, nil
	case PolicyDegrade:
		return PolicyDegrade, nil
	default:
		return "", fmt.Errorf("unknown verify failure policy: %q", s)
	}
}

// IdentityVerifier はIdPトークンの検証インターフェース。
type IdentityVerifier interface {
	Verify(ctx context.Context, token string) (*claims.IdentityClaims, error)
}

// TokenIssuer はファーストパーティトークンの発行・検証インターフェース。
type TokenIssuer interface {
	Mint(sub token.Subject, method model.LoginMethod, now time.Time) (*token.Pair, error)
	ParseRefresh(tokenString string) (*token.RefreshClaims, error)
}

// LoginRequest はセッション発行の入力。
type LoginRequest struct {
	PrivyIDToken string
	Timestamp    string // RFC3339。空・不正な場合はサーバー時刻を使う
}

// LoginResult はセッション発行の結果。
// DisplayName・Avatar・Email・WalletAddressは今回のクレームから解決した値で、保存済みレコードとは独立している。
type LoginResult struct {
	User          *model.User
	LoginMethod   model.LoginMethod
	DisplayName   string
	Avatar        *string
	Email         string
	WalletAddress string
	Tokens        *token.Pair
	Degraded      bool
}

// ServiceConfig は認証サービスの設定。
type ServiceConfig struct {
	FailurePolicy VerifyFailurePolicy
	Now           func() time.Time
}

// Service はセッション発行に関するビジネスロジックを提供する。
type Service struct {
	verifier     IdentityVerifier // nilの場合は縮退モード
	issuer       TokenIssuer
	userRepo     repository.UserRepository
	refreshStore repository.RefreshTokenStore
	metrics      metrics.MetricsCollector
	config       ServiceConfig
}

// NewService はServiceを生成する。
// verifierがnilの場合は検証を行わず合成クレームを使う。
func NewService(
	verifier IdentityVerifier,
	issuer TokenIssuer,
	userRepo repository.UserRepository,
	refreshStore repository.RefreshTokenStore,
	collector metrics.MetricsCollector,
	config ServiceConfig,
) *Service {
	if collector == nil {
		collector = metrics.Nop{}
	}
	if config.Now == nil {
		config.Now = time.Now
	}
	if config.FailurePolicy == "" {
		config.FailurePolicy = PolicyReject
	}
	return &Service{
		verifier:     verifier,
		issuer:       issuer,
		userRepo:     userRepo,
		refreshStore: refreshStore,
		metrics:      collector,
		config:       config,
	}
}

// Degraded は検証器が未設定で常に合成クレームを使う状態かを返す。
func (s *Service) Degraded() bool {
	return s.verifier == nil
}

// IssueSession はPrivy IDトークンを検証し、ユーザーを解決してセッションを発行する。
// トークンが空の場合はErrMissingTokenを返し、ユーザー解決・トークン発行は行わない。
func (s *Service) IssueSession(ctx context.Context, req LoginRequest) (*LoginResult, error) {
	if req.PrivyIDToken == "" {
		s.metrics.RecordLogin(string(model.LoginMethodUnknown), metrics.OutcomeInvalid)
		return nil, ErrMissingToken
	}

	now := s.config.Now()

	// 1. 検証（または合成）
	idClaims, degraded, err := s.verify(ctx, req.PrivyIDToken, now)
	if err != nil {
		s.metrics.RecordLogin(string(model.LoginMethodUnknown), metrics.OutcomeRejected)
		return nil, err
	}

	method := claims.ResolveLoginMethod(idClaims)
	loginAt := parseTimestamp(req.Timestamp, now)

	// 2. ユーザー解決
	user, err := s.resolveUser(ctx, idClaims, loginAt, now)
	if err != nil {
		s.metrics.RecordLogin(string(method), metrics.OutcomeError)
		return nil, err
	}

	// 3. トークン発行
	sub := token.Subject{
		PrivyID:       user.PrivyID,
		UserID:        user.ID,
		WalletAddress: idClaims.WalletAddress,
		Email:         idClaims.Email,
	}
	pair, err := s.mint(ctx, sub, method, now)
	if err != nil {
		s.metrics.RecordLogin(string(method), metrics.OutcomeError)
		return nil, err
	}

	s.metrics.RecordLogin(string(method), metrics.OutcomeSuccess)
	slog.Info("session issued",
		slog.String("user_id", user.ID),
		slog.String("privy_id", user.PrivyID),
		slog.String("login_method", string(method)),
		slog.Bool("degraded", degraded),
	)

	return &LoginResult{
		User:          user,
		LoginMethod:   method,
		DisplayName:   claims.ResolveDisplayName(idClaims),
		Avatar:        claims.ResolveAvatar(idClaims),
		Email:         sub.Email,
		WalletAddress: sub.WalletAddress,
		Tokens:        pair,
		Degraded:      degraded,
	}, nil
}

// Refresh はリフレッシュトークンをローテーションし、新しいセッションを発行する。
// 使用済みのjtiは再利用できない。
func (s *Service) Refresh(ctx context.Context, refreshToken string) (*LoginResult, error) {
	if refreshToken == "" {
		s.metrics.RecordRefresh(metrics.OutcomeInvalid)
		return nil, ErrInvalidRefreshToken
	}

	rc, err := s.issuer.ParseRefresh(refreshToken)
	if err != nil {
		s.metrics.RecordRefresh(metrics.OutcomeInvalid)
		return nil, fmt.Errorf("%w: %v", ErrInvalidRefreshToken, err)
	}

	privyID, ok, err := s.refreshStore.Consume(ctx, rc.ID)
	if err != nil {
		s.metrics.RecordRefresh(metrics.OutcomeError)
		return nil, fmt.Errorf("failed to consume refresh token: %w", err)
	}
	if !ok || privyID != rc.PrivyID {
		s.metrics.RecordRefresh(metrics.OutcomeInvalid)
		slog.Warn("refresh token reuse or unknown jti",
			slog.String("privy_id", rc.PrivyID),
			slog.String("jti", rc.ID),
		)
		return nil, ErrInvalidRefreshToken
	}

	user, err := s.userRepo.FindByPrivyID(ctx, privyID)
	if err != nil {
		s.metrics.RecordRefresh(metrics.OutcomeError)
		return nil, fmt.Errorf("failed to find user: %w", err)
	}
	if user == nil {
		s.metrics.RecordRefresh(metrics.OutcomeInvalid)
		return nil, ErrUserNotFound
	}

	method := rc.LoginMethod
	if method == "" {
		method = model.LoginMethodUnknown
	}

	// ログイン時のemail・walletをリフレッシュトークンから引き継ぐ
	sub := token.Subject{
		PrivyID:       user.PrivyID,
		UserID:        user.ID,
		WalletAddress: rc.WalletAddress,
		Email:         rc.Email,
	}
	pair, err := s.mint(ctx, sub, method, s.config.Now())
	if err != nil {
		s.metrics.RecordRefresh(metrics.OutcomeError)
		return nil, err
	}

	s.metrics.RecordRefresh(metrics.OutcomeSuccess)
	return &LoginResult{
		User:          user,
		LoginMethod:   method,
		DisplayName:   user.Profile.DisplayName,
		Avatar:        user.Profile.Avatar,
		Email:         sub.Email,
		WalletAddress: sub.WalletAddress,
		Tokens:        pair,
	}, nil
}

// Logout はリフレッシュトークンを失効させる。
// 署名不正・期限切れのトークンは何もせず成功扱いにする。
func (s *Service) Logout(ctx context.Context, refreshToken string) error {
	if refreshToken == "" {
		return nil
	}
	rc, err := s.issuer.ParseRefresh(refreshToken)
	if err != nil {
		return nil
	}
	if err := s.refreshStore.Revoke(ctx, rc.ID); err != nil {
		return fmt.Errorf("failed to revoke refresh token: %w", err)
	}
	slog.Info("user logged out", slog.String("privy_id", rc.PrivyID))
	return nil
}

// CurrentUser はPrivyIDでユーザーを取得する。
func (s *Service) CurrentUser(ctx context.Context, privyID string) (*model.User, error) {
	user, err := s.userRepo.FindByPrivyID(ctx, privyID)
	if err != nil {
		return nil, fmt.Errorf("failed to find user: %w", err)
	}
	if user == nil {
		return nil, ErrUserNotFound
	}
	return user, nil
}

// verify はトークンを検証する。検証器なし、またはdegrade方針での検証失敗時は合成クレームを返す。
func (s *Service) verify(ctx context.Context, idToken string, now time.Time) (*claims.IdentityClaims, bool, error) {
	if s.verifier == nil {
		s.metrics.RecordDegraded(metrics.DegradedNoVerifier)
		slog.Warn("privy verification key not configured, using synthesized claims")
		return idp.SynthesizedClaims(now), true, nil
	}

	c, err := s.verifier.Verify(ctx, idToken)
	if err == nil {
		return c, false, nil
	}

	if s.config.FailurePolicy == PolicyDegrade {
		s.metrics.RecordDegraded(metrics.DegradedVerificationFailed)
		slog.Warn("privy token verification failed, using synthesized claims",
			slog.String("error", err.Error()),
		)
		return idp.SynthesizedClaims(now), true, nil
	}

	slog.Warn("privy token verification failed",
		slog.String("error", err.Error()),
		slog.String("token_prefix", tokenPrefix(idToken)),
	)
	return nil, false, fmt.Errorf("%w: %v", ErrVerificationRejected, err)
}

// resolveUser は既存ユーザーのlast_login_atを更新するか、新規ユーザーを作成する。
func (s *Service) resolveUser(ctx context.Context, c *claims.IdentityClaims, loginAt, now time.Time) (*model.User, error) {
	privyID := c.Subject

	existing, err := s.userRepo.FindByPrivyID(ctx, privyID)
	if err != nil {
		return nil, fmt.Errorf("failed to find user: %w", err)
	}

	if existing != nil {
		updated, err := s.userRepo.UpdateLastLogin(ctx, privyID, loginAt)
		if err != nil {
			return nil, fmt.Errorf("failed to update last login: %w", err)
		}
		if updated == nil {
			return nil, fmt.Errorf("user disappeared during login: %s", privyID)
		}
		slog.Info("existing user logged in", slog.String("user_id", updated.ID))
		return updated, nil
	}

	createdAt := now
	if c.IssuedAt != nil {
		createdAt = c.IssuedAt.Time
	}

	newUser := &model.User{
		ID:            uuid.New().String(),
		PrivyID:       privyID,
		WalletAddress: c.WalletAddress,
		Email:         c.Email,
		Profile: model.Profile{
			DisplayName: claims.ResolveDisplayName(c),
			Avatar:      claims.ResolveAvatar(c),
		},
		CreatedAt:   createdAt,
		LastLoginAt: loginAt,
	}

	created, err := s.userRepo.Create(ctx, newUser)
	if err != nil {
		return nil, fmt.Errorf("failed to create user: %w", err)
	}
	if created.ID == newUser.ID {
		s.metrics.RecordUserCreated()
		slog.Info("new user created",
			slog.String("user_id", created.ID),
			slog.String("privy_id", privyID),
		)
	}
	return created, nil
}

// mint はトークンを発行し、リフレッシュトークンのjtiを登録する。
func (s *Service) mint(ctx context.Context, sub token.Subject, method model.LoginMethod, now time.Time) (*token.Pair, error) {
	pair, err := s.issuer.Mint(sub, method, now)
	if err != nil {
		return nil, fmt.Errorf("failed to mint tokens: %w", err)
	}
	if err := s.refreshStore.Save(ctx, pair.RefreshID, sub.PrivyID, pair.RefreshExpiresAt); err != nil {
		return nil, fmt.Errorf("failed to save refresh token: %w", err)
	}
	return pair, nil
}

// parseTimestamp はクライアント時刻をパースする。空・不正な場合はfallbackを返す。
func parseTimestamp(s string, fallback time.Time) time.Time {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		slog.Warn("invalid login timestamp, using server clock", slog.String("timestamp", s))
		return fallback
	}
	return t
}

// tokenPrefix はログ出力用にトークン先頭のみを返す。
func tokenPrefix(t string) string {
	if len(t) <= 12 {
		return t
	}
	return t[:12] + "..."
}
