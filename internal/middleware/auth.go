// Package middleware はHTTPミドルウェアを提供する。
package middleware

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/hitoshi/hanumo-auth/internal/model"
	"github.com/hitoshi/hanumo-auth/internal/token"
)

// contextKey はコンテキストに値を格納するための型安全なキー。
type contextKey string

var (
	userIDContextKey      = contextKey("user_id")
	privyIDContextKey     = contextKey("privy_id")
	loginMethodContextKey = contextKey("login_method")
)

// AccessTokenParser はアクセストークンの検証に必要なインターフェース。
type AccessTokenParser interface {
	ParseAccess(tokenString string) (*token.AccessClaims, error)
}

// NewBearerAuthMiddleware はAuthorizationヘッダーのBearerトークンを検証し、
// ユーザーIDとPrivyIDをリクエストコンテキストに注入するミドルウェアを返す。
// 未認証リクエストには401 Unauthorizedを返す。
func NewBearerAuthMiddleware(parser AccessTokenParser) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw, ok := bearerToken(r)
			if !ok {
				WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
				return
			}

			claims, err := parser.ParseAccess(raw)
			if err != nil {
				slog.Debug("access token rejected", slog.String("error", err.Error()))
				WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
				return
			}

			recordPrincipal(r.Context(), claims.UserID)
			ctx := ContextWithUserID(r.Context(), claims.UserID)
			ctx = context.WithValue(ctx, privyIDContextKey, claims.PrivyID)
			ctx = context.WithValue(ctx, loginMethodContextKey, claims.LoginMethod)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// bearerToken はAuthorizationヘッダーからトークン部分を取り出す。
func bearerToken(r *http.Request) (string, bool) {
	h := r.Header.Get("Authorization")
	scheme, value, found := strings.Cut(h, " ")
	if !found || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	value = strings.TrimSpace(value)
	return value, value != ""
}

// UserIDFromContext はリクエストコンテキストからユーザーIDを取得する。
// 認証ミドルウェアを通過したリクエストでのみ有効。
func UserIDFromContext(ctx context.Context) (string, error) {
	userID, ok := ctx.Value(userIDContextKey).(string)
	if !ok || userID == "" {
		return "", fmt.Errorf("user ID not found in context")
	}
	return userID, nil
}

// PrivyIDFromContext はリクエストコンテキストからPrivyIDを取得する。
func PrivyIDFromContext(ctx context.Context) (string, error) {
	privyID, ok := ctx.Value(privyIDContextKey).(string)
	if !ok || privyID == "" {
		return "", fmt.Errorf("privy ID not found in context")
	}
	return privyID, nil
}

// LoginMethodFromContext はアクセストークンに記録されたログイン手段を返す。
// 記録がない場合はunknown。
func LoginMethodFromContext(ctx context.Context) model.LoginMethod {
	if m, ok := ctx.Value(loginMethodContextKey).(model.LoginMethod); ok && m != "" {
		return m
	}
	return model.LoginMethodUnknown
}

// ContextWithUserID はコンテキストにユーザーIDを注入する。
// テストやミドルウェア以外のコンテキスト生成で使用する。
func ContextWithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, userIDContextKey, userID)
}

// ContextWithPrincipal はユーザーIDとPrivyIDをまとめて注入する。
func ContextWithPrincipal(ctx context.Context, userID, privyID string) context.Context {
	ctx = ContextWithUserID(ctx, userID)
	return context.WithValue(ctx, privyIDContextKey, privyID)
}
