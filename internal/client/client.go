package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/failsafe-go/failsafe-go"
)

const (
	// PlaceholderToken はIDトークンを取得できなかった場合に送る代替値。
	PlaceholderToken = "mock_token_for_testing"

	// DefaultTimeout は1リクエストあたりの既定タイムアウト。
	DefaultTimeout = 10 * time.Second

	loginPath   = "/api/auth/login"
	refreshPath = "/api/auth/refresh"
	logoutPath  = "/api/auth/logout"

	maxResponseBytes = 1 << 20
	timestampLayout  = "2006-01-02T15:04:05.000Z07:00"
)

// ErrNoSession は有効なセッションが保存されていない場合のエラー。
var ErrNoSession = errors.New("no stored session")

// ExchangeError はAPIが2xx以外を返した場合のエラー。
type ExchangeError struct {
	StatusCode int
	Body       string
}

func (e *ExchangeError) Error() string {
	return fmt.Sprintf("session exchange failed: status %d: %s", e.StatusCode, strings.TrimSpace(e.Body))
}

// Identity はIDプロバイダーSDKが返すユーザーのハンドル。
// 交換処理では中身を解釈せず、ログにのみ使う。
type Identity struct {
	ID string
}

// TokenFetcher は現在のIDトークンを取得する。
type TokenFetcher func(ctx context.Context) (string, error)

// FetchResult はIDトークン取得の結果。
// Degradedがtrueの場合、Tokenは代替値でErrに取得失敗の理由が入る。
type FetchResult struct {
	Token    string
	Degraded bool
	Err      error
}

// Client はセッション発行APIのクライアント。
type Client struct {
	baseURL    string
	httpClient *http.Client
	store      SessionStore
	executor   failsafe.Executor[*http.Response]
	logger     *slog.Logger
	now        func() time.Time // テスト用に差し替え可能
}

// NewClient はClientの新しいインスタンスを生成する。
// httpClientのTimeoutが未設定の場合はDefaultTimeoutを使う。
func NewClient(baseURL string, httpClient *http.Client, store SessionStore, retry RetryConfig, logger *slog.Logger) *Client {
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	if httpClient.Timeout <= 0 {
		c := *httpClient
		c.Timeout = DefaultTimeout
		httpClient = &c
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: httpClient,
		store:      store,
		executor:   newExecutor(retry),
		logger:     logger,
		now:        time.Now,
	}
}

// fetchIdentityToken はIDトークンを取得し、失敗時は代替値に切り替える。
func (c *Client) fetchIdentityToken(ctx context.Context, fetcher TokenFetcher) FetchResult {
	if fetcher == nil {
		return FetchResult{Token: PlaceholderToken, Degraded: true, Err: errors.New("token fetcher unavailable")}
	}
	token, err := fetcher(ctx)
	if err != nil {
		return FetchResult{Token: PlaceholderToken, Degraded: true, Err: err}
	}
	if token == "" {
		return FetchResult{Token: PlaceholderToken, Degraded: true, Err: errors.New("empty identity token")}
	}
	return FetchResult{Token: token}
}

// Authenticate はIDトークンをファーストパーティセッションに交換し、保存して返す。
// 保存は交換とパースがすべて成功した後にのみ行う。
func (c *Client) Authenticate(ctx context.Context, identity Identity, fetcher TokenFetcher) (*Session, error) {
	fetched := c.fetchIdentityToken(ctx, fetcher)
	if fetched.Degraded {
		c.logger.Warn("IDトークンを取得できないため代替トークンで続行します",
			slog.String("identity", identity.ID),
			slog.String("error", fetched.Err.Error()),
		)
	}

	session, err := c.postSession(ctx, loginPath, map[string]string{
		"privyIdToken": fetched.Token,
		"timestamp":    c.now().UTC().Format(timestampLayout),
	})
	if err != nil {
		return nil, err
	}

	if err := c.store.Set(ctx, session); err != nil {
		return nil, fmt.Errorf("persist session: %w", err)
	}
	c.logger.Info("セッションを取得しました",
		slog.String("user_id", session.User.ID),
		slog.String("login_method", session.User.LoginMethod),
	)
	return session, nil
}

// GetStoredSession は保存済みセッションを返す。
// 未保存、期限切れ、破損の場合はnilを返し、期限切れと破損の場合は保存内容を削除する。
func (c *Client) GetStoredSession(ctx context.Context) (*Session, error) {
	session, err := c.store.Get(ctx)
	if errors.Is(err, ErrCorruptSession) {
		c.logger.Warn("破損したセッションを削除します", slog.String("error", err.Error()))
		return nil, c.store.Clear(ctx)
	}
	if err != nil {
		return nil, err
	}
	if session == nil {
		return nil, nil
	}
	if session.Expired(c.now()) {
		return nil, c.store.Clear(ctx)
	}
	return session, nil
}

// ClearSession は保存済みセッションを無条件に削除する。
func (c *Client) ClearSession(ctx context.Context) error {
	return c.store.Clear(ctx)
}

// OnIdentityLogout はIDプロバイダー側のログアウト通知を受けてセッションを破棄する。
func (c *Client) OnIdentityLogout(ctx context.Context) error {
	c.logger.Info("IDプロバイダーのログアウトを検知したためセッションを破棄します")
	return c.ClearSession(ctx)
}

// Refresh は保存済みのリフレッシュトークンでセッションを更新する。
// 期限切れのアクセストークンでも、リフレッシュトークンが有効なら更新できる。
func (c *Client) Refresh(ctx context.Context) (*Session, error) {
	current, err := c.store.Get(ctx)
	if err != nil && !errors.Is(err, ErrCorruptSession) {
		return nil, err
	}
	if current == nil || current.Session.RefreshToken == "" {
		return nil, ErrNoSession
	}

	session, err := c.postSession(ctx, refreshPath, map[string]string{
		"refreshToken": current.Session.RefreshToken,
	})
	if err != nil {
		var exErr *ExchangeError
		if errors.As(err, &exErr) && exErr.StatusCode == http.StatusUnauthorized {
			if clearErr := c.store.Clear(ctx); clearErr != nil {
				return nil, errors.Join(err, clearErr)
			}
		}
		return nil, err
	}
	if err := c.store.Set(ctx, session); err != nil {
		return nil, fmt.Errorf("persist session: %w", err)
	}
	return session, nil
}

// Logout はサーバー側のリフレッシュトークンを失効させ、ローカルのセッションを削除する。
// サーバー呼び出しが失敗してもローカルのセッションは削除する。
func (c *Client) Logout(ctx context.Context) error {
	current, err := c.store.Get(ctx)
	if err != nil && !errors.Is(err, ErrCorruptSession) {
		return err
	}

	var remoteErr error
	if current != nil && current.Session.RefreshToken != "" {
		body, err := json.Marshal(map[string]string{"refreshToken": current.Session.RefreshToken})
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		resp, respBody, err := c.do(ctx, http.MethodPost, logoutPath, body, "")
		switch {
		case err != nil:
			remoteErr = err
		case resp.StatusCode/100 != 2:
			remoteErr = &ExchangeError{StatusCode: resp.StatusCode, Body: string(respBody)}
		}
		if remoteErr != nil {
			c.logger.Warn("サーバー側のログアウトに失敗しました", slog.String("error", remoteErr.Error()))
		}
	}

	if err := c.store.Clear(ctx); err != nil {
		return errors.Join(remoteErr, err)
	}
	return remoteErr
}

// NewAuthenticatedRequest は保存済みセッションのアクセストークンを付けたリクエストを生成する。
func (c *Client) NewAuthenticatedRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	session, err := c.GetStoredSession(ctx)
	if err != nil {
		return nil, err
	}
	if session == nil {
		return nil, ErrNoSession
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+session.AccessToken)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return req, nil
}

// Me は現在のセッションのユーザー情報をAPIから取得する。
func (c *Client) Me(ctx context.Context) (*SessionUser, error) {
	session, err := c.GetStoredSession(ctx)
	if err != nil {
		return nil, err
	}
	if session == nil {
		return nil, ErrNoSession
	}
	resp, body, err := c.do(ctx, http.MethodGet, "/api/auth/me", nil, session.AccessToken)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &ExchangeError{StatusCode: resp.StatusCode, Body: string(body)}
	}
	var u SessionUser
	if err := json.Unmarshal(body, &u); err != nil {
		return nil, fmt.Errorf("parse response: %w", err)
	}
	return &u, nil
}

// postSession はセッションを返すエンドポイントにJSONをPOSTし、レスポンスをパースする。
func (c *Client) postSession(ctx context.Context, path string, payload any) (*Session, error) {
	reqBody, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	resp, body, err := c.do(ctx, http.MethodPost, path, reqBody, "")
	if err != nil {
		c.logger.Error("セッションAPIの呼び出しに失敗しました",
			slog.String("path", path),
			slog.String("error", err.Error()),
		)
		return nil, err
	}
	if resp.StatusCode/100 != 2 {
		c.logger.Error("セッションAPIがエラーステータスを返しました",
			slog.String("path", path),
			slog.Int("http_status", resp.StatusCode),
		)
		return nil, &ExchangeError{StatusCode: resp.StatusCode, Body: string(body)}
	}

	var session Session
	if err := json.Unmarshal(body, &session); err != nil {
		return nil, fmt.Errorf("parse session response: %w", err)
	}
	if !session.valid() {
		return nil, fmt.Errorf("parse session response: %w", ErrCorruptSession)
	}
	return &session, nil
}

// do はリトライ付きでリクエストを送り、読み切ったボディとともにレスポンスを返す。
// 返却するレスポンスのボディは既に閉じている。
func (c *Client) do(ctx context.Context, method, path string, body []byte, bearer string) (*http.Response, []byte, error) {
	var respBody []byte
	resp, err := executeHTTP(ctx, c.executor, func() (*http.Response, error) {
		var r io.Reader
		if body != nil {
			r = bytes.NewReader(body)
		}
		req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, r)
		if err != nil {
			return nil, err
		}
		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		req.Header.Set("Accept", "application/json")
		if bearer != "" {
			req.Header.Set("Authorization", "Bearer "+bearer)
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()
		b, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
		if err != nil {
			return nil, fmt.Errorf("read response: %w", err)
		}
		respBody = b
		return resp, nil
	})
	if err != nil {
		return nil, nil, fmt.Errorf("request %s %s: %w", method, path, err)
	}
	return resp, respBody, nil
}
