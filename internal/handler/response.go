package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/hitoshi/hanumo-auth/internal/middleware"
	"github.com/hitoshi/hanumo-auth/internal/model"
)

// maxRequestBodyBytes はJSONリクエストボディの上限。
const maxRequestBodyBytes = 64 << 10

// expiresAtLayout はセッション有効期限の出力形式（UTC、ミリ秒精度）。
const expiresAtLayout = "2006-01-02T15:04:05.000Z07:00"

// profileResponse はプロフィールのJSONレスポンス。
type profileResponse struct {
	DisplayName string  `json:"displayName"`
	Avatar      *string `json:"avatar"`
	Bio         string  `json:"bio"`
}

// userResponse はユーザー情報のJSONレスポンス。
// displayNameとavatarはログイン時に解決した値、profileは保存済みの値。
type userResponse struct {
	PrivyID       string          `json:"privyId"`
	Email         string          `json:"email,omitempty"`
	WalletAddress string          `json:"walletAddress,omitempty"`
	DisplayName   string          `json:"displayName"`
	Avatar        *string         `json:"avatar"`
	LoginMethod   string          `json:"loginMethod"`
	ID            string          `json:"id"`
	Profile       profileResponse `json:"profile"`
}

// sessionResponse はセッション情報のJSONレスポンス。
type sessionResponse struct {
	ExpiresAt    string `json:"expiresAt"`
	RefreshToken string `json:"refreshToken"`
}

// loginResponse はログイン・リフレッシュ成功時のJSONレスポンス。
type loginResponse struct {
	AccessToken string          `json:"accessToken"`
	User        userResponse    `json:"user"`
	Session     sessionResponse `json:"session"`
}

// formatExpiresAt は有効期限をUTCのミリ秒精度で整形する。
func formatExpiresAt(t time.Time) string {
	return t.UTC().Format(expiresAtLayout)
}

// writeJSON はJSONレスポンスを書き込む。
func writeJSON(w http.ResponseWriter, statusCode int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("failed to encode response", slog.String("error", err.Error()))
	}
}

// decodeJSON はリクエストボディをデコードする。
// ボディが空の場合はdstをゼロ値のまま返す。
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return fmt.Errorf("invalid JSON body: %w", err)
	}
	return nil
}

// handleServiceError はサービス層から返されたエラーを適切なHTTPステータスコードに変換する。
// APIError以外のエラーはログに記録し、fallbackを500で返す。
func handleServiceError(w http.ResponseWriter, err error, fallback *model.APIError) {
	var apiErr *model.APIError
	if errors.As(err, &apiErr) {
		middleware.WriteErrorResponse(w, mapAPIErrorToHTTPStatus(apiErr), apiErr)
		return
	}

	slog.Error("internal server error", slog.String("error", err.Error()))
	if fallback == nil {
		middleware.WriteInternalServerError(w)
		return
	}
	middleware.WriteErrorResponse(w, http.StatusInternalServerError, fallback)
}

// mapAPIErrorToHTTPStatus はAPIErrorコードからHTTPステータスコードにマッピングする。
func mapAPIErrorToHTTPStatus(apiErr *model.APIError) int {
	switch apiErr.Code {
	case model.ErrCodeMissingToken, model.ErrCodeInvalidRequest, model.ErrCodeInvalidProfile:
		return http.StatusBadRequest
	case model.ErrCodeInvalidIdentity, model.ErrCodeUnauthorized, model.ErrCodeInvalidRefreshToken:
		return http.StatusUnauthorized
	case model.ErrCodeUserNotFound:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}
