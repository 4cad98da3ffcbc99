package auth

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/hitoshi/hanumo-auth/internal/claims"
	"github.com/hitoshi/hanumo-auth/internal/idp"
	"github.com/hitoshi/hanumo-auth/internal/model"
	"github.com/hitoshi/hanumo-auth/internal/repository"
	"github.com/hitoshi/hanumo-auth/internal/token"
)

// --- モック定義 ---

type mockUserRepo struct {
	findByIDFn        func(ctx context.Context, id string) (*model.User, error)
	findByPrivyIDFn   func(ctx context.Context, privyID string) (*model.User, error)
	createFn          func(ctx context.Context, user *model.User) (*model.User, error)
	updateLastLoginFn func(ctx context.Context, privyID string, at time.Time) (*model.User, error)
	updateProfileFn   func(ctx context.Context, id string, profile model.Profile) (*model.User, error)
	calls             int
}

func (m *mockUserRepo) FindByID(ctx context.Context, id string) (*model.User, error) {
	m.calls++
	if m.findByIDFn != nil {
		return m.findByIDFn(ctx, id)
	}
	return nil, nil
}

func (m *mockUserRepo) FindByPrivyID(ctx context.Context, privyID string) (*model.User, error) {
	m.calls++
	if m.findByPrivyIDFn != nil {
		return m.findByPrivyIDFn(ctx, privyID)
	}
	return nil, nil
}

func (m *mockUserRepo) Create(ctx context.Context, user *model.User) (*model.User, error) {
	m.calls++
	if m.createFn != nil {
		return m.createFn(ctx, user)
	}
	return user, nil
}

func (m *mockUserRepo) UpdateLastLogin(ctx context.Context, privyID string, at time.Time) (*model.User, error) {
	m.calls++
	if m.updateLastLoginFn != nil {
		return m.updateLastLoginFn(ctx, privyID, at)
	}
	return nil, nil
}

func (m *mockUserRepo) UpdateProfile(ctx context.Context, id string, profile model.Profile) (*model.User, error) {
	m.calls++
	if m.updateProfileFn != nil {
		return m.updateProfileFn(ctx, id, profile)
	}
	return nil, nil
}

type mockVerifier struct {
	verifyFn func(ctx context.Context, token string) (*claims.IdentityClaims, error)
}

func (m *mockVerifier) Verify(ctx context.Context, token string) (*claims.IdentityClaims, error) {
	return m.verifyFn(ctx, token)
}

type mockIssuer struct {
	mintCalls int
	inner     *token.Issuer
}

func (m *mockIssuer) Mint(sub token.Subject, method model.LoginMethod, now time.Time) (*token.Pair, error) {
	m.mintCalls++
	return m.inner.Mint(sub, method, now)
}

func (m *mockIssuer) ParseRefresh(tokenString string) (*token.RefreshClaims, error) {
	return m.inner.ParseRefresh(tokenString)
}

type mockMetrics struct {
	logins   map[string]int
	degraded map[string]int
}

func newMockMetrics() *mockMetrics {
	return &mockMetrics{logins: map[string]int{}, degraded: map[string]int{}}
}

func (m *mockMetrics) RecordLogin(method, outcome string)       { m.logins[method+"/"+outcome]++ }
func (m *mockMetrics) RecordDegraded(reason string)             { m.degraded[reason]++ }
func (m *mockMetrics) RecordRefresh(string)                     {}
func (m *mockMetrics) RecordUserCreated()                       {}
func (m *mockMetrics) RecordHTTPStatus(int)                     {}
func (m *mockMetrics) RecordRequestLatency(time.Duration)       {}

// --- compile-time interface checks ---
var (
	_ repository.UserRepository = (*mockUserRepo)(nil)
	_ IdentityVerifier          = (*mockVerifier)(nil)
	_ TokenIssuer               = (*mockIssuer)(nil)
	_ IdentityVerifier          = (*idp.Verifier)(nil)
	_ TokenIssuer               = (*token.Issuer)(nil)
)

// --- ヘルパー ---

var fixedNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newTestIssuer(t *testing.T) *mockIssuer {
	t.Helper()
	iss, err := token.NewIssuer("test-jwt-secret")
	if err != nil {
		t.Fatalf("NewIssuer: %v", err)
	}
	return &mockIssuer{inner: iss}
}

func newTestService(t *testing.T, verifier IdentityVerifier, repo repository.UserRepository, policy VerifyFailurePolicy) (*Service, *mockIssuer) {
	t.Helper()
	issuer := newTestIssuer(t)
	svc := NewService(verifier, issuer, repo, repository.NewMemoryRefreshTokenStore(), nil, ServiceConfig{
		FailurePolicy: policy,
		Now:           time.Now,
	})
	return svc, issuer
}

func verifiedClaims(sub string) *claims.IdentityClaims {
	return &claims.IdentityClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:  sub,
			IssuedAt: jwt.NewNumericDate(fixedNow.Add(-time.Minute)),
		},
		WalletAddress: "0xabc",
		GoogleID:      "g1",
		GoogleName:    "Alice",
	}
}

// --- テスト ---

// 空トークンはErrMissingTokenを返し、リポジトリ・トークン発行を呼ばないことを検証
func TestIssueSession_EmptyToken_NeverResolvesOrMints(t *testing.T) {
	repo := &mockUserRepo{}
	svc, issuer := newTestService(t, nil, repo, PolicyReject)

	_, err := svc.IssueSession(context.Background(), LoginRequest{PrivyIDToken: "", Timestamp: "2026-03-01T00:00:00Z"})
	if !errors.Is(err, ErrMissingToken) {
		t.Fatalf("err = %v, want ErrMissingToken", err)
	}
	if repo.calls != 0 {
		t.Errorf("repository called %d times, want 0", repo.calls)
	}
	if issuer.mintCalls != 0 {
		t.Errorf("Mint called %d times, want 0", issuer.mintCalls)
	}
}

// 検証器なしの場合に合成クレームで新規ユーザーを作成することを検証
func TestIssueSession_Degraded_CreatesSynthesizedUser(t *testing.T) {
	var created *model.User
	repo := &mockUserRepo{
		createFn: func(_ context.Context, u *model.User) (*model.User, error) {
			created = u
			return u, nil
		},
	}
	svc, _ := newTestService(t, nil, repo, PolicyReject)

	result, err := svc.IssueSession(context.Background(), LoginRequest{PrivyIDToken: "eyExample.Payload.Sig", Timestamp: "2026-03-01T10:00:00Z"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.Degraded {
		t.Error("expected degraded result")
	}
	if created == nil {
		t.Fatal("expected user to be created")
	}
	if created.PrivyID != idp.SynthesizedSubject {
		t.Errorf("PrivyID = %q, want %q", created.PrivyID, idp.SynthesizedSubject)
	}
	if result.LoginMethod != model.LoginMethodWallet {
		t.Errorf("LoginMethod = %q, want wallet", result.LoginMethod)
	}
	if created.Profile.DisplayName != "test" {
		t.Errorf("DisplayName = %q, want %q", created.Profile.DisplayName, "test")
	}
	wantLogin := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	if !created.LastLoginAt.Equal(wantLogin) {
		t.Errorf("LastLoginAt = %v, want %v", created.LastLoginAt, wantLogin)
	}
	if result.Tokens.AccessToken == "" || result.User.ID == "" {
		t.Error("expected access token and user id")
	}
	if !svc.Degraded() {
		t.Error("Degraded() should be true without verifier")
	}
}

// 新規ユーザーのcreated_atがiatから設定されることを検証
func TestIssueSession_NewUser_CreatedAtFromIssuedAt(t *testing.T) {
	var created *model.User
	repo := &mockUserRepo{
		createFn: func(_ context.Context, u *model.User) (*model.User, error) {
			created = u
			return u, nil
		},
	}
	verifier := &mockVerifier{verifyFn: func(context.Context, string) (*claims.IdentityClaims, error) {
		return verifiedClaims("did:privy:alice"), nil
	}}
	svc, _ := newTestService(t, verifier, repo, PolicyReject)

	result, err := svc.IssueSession(context.Background(), LoginRequest{PrivyIDToken: "real.token.sig"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !created.CreatedAt.Equal(fixedNow.Add(-time.Minute)) {
		t.Errorf("CreatedAt = %v, want iat", created.CreatedAt)
	}
	if created.WalletAddress != "0xabc" {
		t.Errorf("WalletAddress = %q", created.WalletAddress)
	}
	// walletがgoogleより優先される
	if result.LoginMethod != model.LoginMethodWallet {
		t.Errorf("LoginMethod = %q, want wallet", result.LoginMethod)
	}
	if result.DisplayName != "Alice" {
		t.Errorf("DisplayName = %q, want Alice", result.DisplayName)
	}
	if result.Degraded {
		t.Error("verified login should not be degraded")
	}
}

// 既存ユーザーはlast_login_atのみ更新されることを検証
func TestIssueSession_ExistingUser_UpdatesLastLoginOnly(t *testing.T) {
	existing := &model.User{ID: "user-1", PrivyID: "did:privy:alice", Profile: model.Profile{DisplayName: "kept"}}
	var updatedAt time.Time
	createCalled := false

	repo := &mockUserRepo{
		findByPrivyIDFn: func(context.Context, string) (*model.User, error) { return existing, nil },
		updateLastLoginFn: func(_ context.Context, privyID string, at time.Time) (*model.User, error) {
			updatedAt = at
			u := *existing
			u.LastLoginAt = at
			return &u, nil
		},
		createFn: func(_ context.Context, u *model.User) (*model.User, error) {
			createCalled = true
			return u, nil
		},
	}
	verifier := &mockVerifier{verifyFn: func(context.Context, string) (*claims.IdentityClaims, error) {
		return verifiedClaims("did:privy:alice"), nil
	}}
	svc, _ := newTestService(t, verifier, repo, PolicyReject)

	result, err := svc.IssueSession(context.Background(), LoginRequest{PrivyIDToken: "t", Timestamp: "2026-03-02T08:30:00.123Z"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if createCalled {
		t.Error("Create should not be called for existing user")
	}
	want := time.Date(2026, 3, 2, 8, 30, 0, 123000000, time.UTC)
	if !updatedAt.Equal(want) {
		t.Errorf("UpdateLastLogin at = %v, want %v", updatedAt, want)
	}
	if result.User.ID != "user-1" || result.User.Profile.DisplayName != "kept" {
		t.Errorf("unexpected user: %+v", result.User)
	}
}

// 同じsubjectで2回ログインすると同じユーザーIDになることを検証
func TestIssueSession_Idempotent_SameUserID(t *testing.T) {
	repo := repository.NewMemoryUserRepo()
	svc, _ := newTestService(t, nil, repo, PolicyReject)
	ctx := context.Background()

	first, err := svc.IssueSession(ctx, LoginRequest{PrivyIDToken: "a", Timestamp: "2026-03-01T00:00:00Z"})
	if err != nil {
		t.Fatalf("first login: %v", err)
	}
	second, err := svc.IssueSession(ctx, LoginRequest{PrivyIDToken: "b", Timestamp: "2026-03-01T01:00:00Z"})
	if err != nil {
		t.Fatalf("second login: %v", err)
	}
	if first.User.ID != second.User.ID {
		t.Errorf("user IDs differ: %q vs %q", first.User.ID, second.User.ID)
	}
	if !second.User.LastLoginAt.After(first.User.LastLoginAt) {
		t.Error("LastLoginAt should advance")
	}
	if repo.Count() != 1 {
		t.Errorf("Count = %d, want 1", repo.Count())
	}
}

// 再ログインで追加されたemailが応答とアクセストークンに反映され、保存済みレコードは変わらないことを検証
func TestIssueSession_ReturningUser_UsesCurrentContactClaims(t *testing.T) {
	repo := repository.NewMemoryUserRepo()
	logins := 0
	verifier := &mockVerifier{verifyFn: func(context.Context, string) (*claims.IdentityClaims, error) {
		logins++
		c := &claims.IdentityClaims{
			RegisteredClaims: jwt.RegisteredClaims{Subject: "did:privy:alice"},
			WalletAddress:    "0xabc",
		}
		if logins > 1 {
			c.Email = "alice@example.com"
		}
		return c, nil
	}}
	svc, issuer := newTestService(t, verifier, repo, PolicyReject)
	ctx := context.Background()

	if _, err := svc.IssueSession(ctx, LoginRequest{PrivyIDToken: "first"}); err != nil {
		t.Fatalf("first login: %v", err)
	}
	second, err := svc.IssueSession(ctx, LoginRequest{PrivyIDToken: "second"})
	if err != nil {
		t.Fatalf("second login: %v", err)
	}

	if second.Email != "alice@example.com" || second.WalletAddress != "0xabc" {
		t.Errorf("result contact = (%q, %q), want (alice@example.com, 0xabc)", second.Email, second.WalletAddress)
	}
	access, err := issuer.inner.ParseAccess(second.Tokens.AccessToken)
	if err != nil {
		t.Fatalf("ParseAccess: %v", err)
	}
	if access.Email != "alice@example.com" {
		t.Errorf("access token email = %q, want alice@example.com", access.Email)
	}

	stored, err := repo.FindByPrivyID(ctx, "did:privy:alice")
	if err != nil || stored == nil {
		t.Fatalf("FindByPrivyID: %v", err)
	}
	if stored.Email != "" {
		t.Errorf("stored email = %q, want unchanged empty value", stored.Email)
	}

	// リフレッシュ後もログイン時のemailを保持する
	refreshed, err := svc.Refresh(ctx, second.Tokens.RefreshToken)
	if err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if refreshed.Email != "alice@example.com" {
		t.Errorf("refreshed email = %q, want alice@example.com", refreshed.Email)
	}
	rotated, err := issuer.inner.ParseAccess(refreshed.Tokens.AccessToken)
	if err != nil {
		t.Fatalf("ParseAccess(refreshed): %v", err)
	}
	if rotated.Email != "alice@example.com" || rotated.WalletAddress != "0xabc" {
		t.Errorf("refreshed access contact = (%q, %q)", rotated.Email, rotated.WalletAddress)
	}
}

// IdP由来の長い表示名でも新規ユーザーが作成され、表示名が保持されることを検証
func TestIssueSession_NewUser_LongDisplayName(t *testing.T) {
	longName := strings.Repeat("a", 300)
	var created *model.User
	repo := &mockUserRepo{
		createFn: func(_ context.Context, u *model.User) (*model.User, error) {
			created = u
			return u, nil
		},
	}
	verifier := &mockVerifier{verifyFn: func(context.Context, string) (*claims.IdentityClaims, error) {
		return &claims.IdentityClaims{
			RegisteredClaims: jwt.RegisteredClaims{Subject: "did:privy:long"},
			GoogleID:         "g-long",
			GoogleName:       longName,
		}, nil
	}}
	svc, _ := newTestService(t, verifier, repo, PolicyReject)

	result, err := svc.IssueSession(context.Background(), LoginRequest{PrivyIDToken: "t"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if created == nil || created.Profile.DisplayName != longName {
		t.Fatalf("stored display name was not kept as-is")
	}
	if result.DisplayName != longName {
		t.Errorf("result display name length = %d, want 300", len(result.DisplayName))
	}
}

// reject方針では検証失敗がErrVerificationRejectedになることを検証
func TestIssueSession_VerificationFailure_Reject(t *testing.T) {
	repo := &mockUserRepo{}
	verifier := &mockVerifier{verifyFn: func(context.Context, string) (*claims.IdentityClaims, error) {
		return nil, idp.ErrTokenExpired
	}}
	svc, issuer := newTestService(t, verifier, repo, PolicyReject)

	_, err := svc.IssueSession(context.Background(), LoginRequest{PrivyIDToken: "expired.token.sig"})
	if !errors.Is(err, ErrVerificationRejected) {
		t.Fatalf("err = %v, want ErrVerificationRejected", err)
	}
	if repo.calls != 0 || issuer.mintCalls != 0 {
		t.Error("rejected login must not resolve users or mint tokens")
	}
}

// degrade方針では検証失敗時に合成クレームを使うことを検証
func TestIssueSession_VerificationFailure_Degrade(t *testing.T) {
	collector := newMockMetrics()
	verifier := &mockVerifier{verifyFn: func(context.Context, string) (*claims.IdentityClaims, error) {
		return nil, idp.ErrTokenInvalid
	}}
	svc := NewService(verifier, newTestIssuer(t), repository.NewMemoryUserRepo(), repository.NewMemoryRefreshTokenStore(), collector, ServiceConfig{FailurePolicy: PolicyDegrade})

	result, err := svc.IssueSession(context.Background(), LoginRequest{PrivyIDToken: "bad"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.Degraded || result.User.PrivyID != idp.SynthesizedSubject {
		t.Errorf("expected synthesized user, got %+v", result.User)
	}
	if collector.degraded["verification_failed"] != 1 {
		t.Errorf("degraded metrics = %v", collector.degraded)
	}
	if collector.logins["wallet/success"] != 1 {
		t.Errorf("login metrics = %v", collector.logins)
	}
}

// リポジトリ障害時にエラーが返り、トークンが発行されないことを検証
func TestIssueSession_RepositoryError(t *testing.T) {
	dbErr := errors.New("db down")
	repo := &mockUserRepo{
		findByPrivyIDFn: func(context.Context, string) (*model.User, error) { return nil, dbErr },
	}
	svc, issuer := newTestService(t, nil, repo, PolicyReject)

	_, err := svc.IssueSession(context.Background(), LoginRequest{PrivyIDToken: "t"})
	if !errors.Is(err, dbErr) {
		t.Fatalf("err = %v, want wrapped db error", err)
	}
	if issuer.mintCalls != 0 {
		t.Error("Mint should not be called after repository failure")
	}
}

// 不正なタイムスタンプはサーバー時刻になることを検証
func TestParseTimestamp(t *testing.T) {
	fallback := fixedNow
	tests := []struct {
		name  string
		input string
		want  time.Time
	}{
		{"RFC3339", "2026-01-02T03:04:05Z", time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)},
		{"ミリ秒付き", "2026-01-02T03:04:05.678Z", time.Date(2026, 1, 2, 3, 4, 5, 678000000, time.UTC)},
		{"空文字", "", fallback},
		{"不正な形式", "yesterday", fallback},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := parseTimestamp(tt.input, fallback); !got.Equal(tt.want) {
				t.Errorf("parseTimestamp(%q) = %v, want %v", tt.input, got, tt.want)
			}
		})
	}
}

// リフレッシュでトークンがローテーションされ、旧トークンが再利用できないことを検証
func TestRefresh_RotatesAndRejectsReuse(t *testing.T) {
	svc, _ := newTestService(t, nil, repository.NewMemoryUserRepo(), PolicyReject)
	ctx := context.Background()

	login, err := svc.IssueSession(ctx, LoginRequest{PrivyIDToken: "t"})
	if err != nil {
		t.Fatalf("login: %v", err)
	}

	refreshed, err := svc.Refresh(ctx, login.Tokens.RefreshToken)
	if err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if refreshed.Tokens.RefreshID == login.Tokens.RefreshID {
		t.Error("refresh token should rotate")
	}
	if refreshed.User.ID != login.User.ID {
		t.Error("refresh should keep the same user")
	}
	if refreshed.LoginMethod != login.LoginMethod {
		t.Errorf("LoginMethod = %q, want %q", refreshed.LoginMethod, login.LoginMethod)
	}

	if _, err := svc.Refresh(ctx, login.Tokens.RefreshToken); !errors.Is(err, ErrInvalidRefreshToken) {
		t.Errorf("reuse err = %v, want ErrInvalidRefreshToken", err)
	}
}

// アクセストークンや不正文字列はリフレッシュに使えないことを検証
func TestRefresh_InvalidTokens(t *testing.T) {
	svc, _ := newTestService(t, nil, repository.NewMemoryUserRepo(), PolicyReject)
	ctx := context.Background()

	login, err := svc.IssueSession(ctx, LoginRequest{PrivyIDToken: "t"})
	if err != nil {
		t.Fatalf("login: %v", err)
	}

	for _, tok := range []string{"", "garbage", login.Tokens.AccessToken} {
		if _, err := svc.Refresh(ctx, tok); !errors.Is(err, ErrInvalidRefreshToken) {
			t.Errorf("Refresh(%.10q) err = %v, want ErrInvalidRefreshToken", tok, err)
		}
	}
}

// ログアウト後はリフレッシュできないことを検証
func TestLogout_RevokesRefreshToken(t *testing.T) {
	svc, _ := newTestService(t, nil, repository.NewMemoryUserRepo(), PolicyReject)
	ctx := context.Background()

	login, err := svc.IssueSession(ctx, LoginRequest{PrivyIDToken: "t"})
	if err != nil {
		t.Fatalf("login: %v", err)
	}

	if err := svc.Logout(ctx, login.Tokens.RefreshToken); err != nil {
		t.Fatalf("Logout: %v", err)
	}
	if err := svc.Logout(ctx, login.Tokens.RefreshToken); err != nil {
		t.Fatalf("second Logout should be idempotent: %v", err)
	}
	if err := svc.Logout(ctx, "garbage"); err != nil {
		t.Fatalf("Logout with garbage should succeed: %v", err)
	}
	if _, err := svc.Refresh(ctx, login.Tokens.RefreshToken); !errors.Is(err, ErrInvalidRefreshToken) {
		t.Errorf("Refresh after logout err = %v, want ErrInvalidRefreshToken", err)
	}
}

// CurrentUserが存在しないユーザーでErrUserNotFoundを返すことを検証
func TestCurrentUser(t *testing.T) {
	repo := repository.NewMemoryUserRepo()
	svc, _ := newTestService(t, nil, repo, PolicyReject)
	ctx := context.Background()

	if _, err := svc.CurrentUser(ctx, "nobody"); !errors.Is(err, ErrUserNotFound) {
		t.Errorf("err = %v, want ErrUserNotFound", err)
	}

	login, _ := svc.IssueSession(ctx, LoginRequest{PrivyIDToken: "t"})
	user, err := svc.CurrentUser(ctx, login.User.PrivyID)
	if err != nil {
		t.Fatalf("CurrentUser: %v", err)
	}
	if user.ID != login.User.ID {
		t.Errorf("ID = %q, want %q", user.ID, login.User.ID)
	}
}

// 方針文字列のパースを検証
func TestParseVerifyFailurePolicy(t *testing.T) {
	tests := []struct {
		input   string
		want    VerifyFailurePolicy
		wantErr bool
	}{
		{"", PolicyReject, false},
		{"reject", PolicyReject, false},
		{"degrade", PolicyDegrade, false},
		{"allow", "", true},
	}
	for _, tt := range tests {
		got, err := ParseVerifyFailurePolicy(tt.input)
		if (err != nil) != tt.wantErr || got != tt.want {
			t.Errorf("ParseVerifyFailurePolicy(%q) = %q, %v", tt.input, got, err)
		}
	}
}
