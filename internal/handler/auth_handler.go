// Package handler はHTTPハンドラーを提供する。
package handler

import (
	"context"
	"net/http"

	"github.com/hitoshi/hanumo-auth/internal/middleware"
	"github.com/hitoshi/hanumo-auth/internal/model"
)

// AuthServiceInterface は認証ハンドラーが必要とするサービスインターフェース。
// エラーは*model.APIErrorまたは内部エラーで返す。
type AuthServiceInterface interface {
	Login(ctx context.Context, req loginRequest) (*loginResponse, error)
	Refresh(ctx context.Context, refreshToken string) (*loginResponse, error)
	Logout(ctx context.Context, refreshToken string) error
	Me(ctx context.Context, privyID string, method model.LoginMethod) (*userResponse, error)
}

// loginRequest はPOST /api/auth/loginのリクエストボディ。
type loginRequest struct {
	PrivyIDToken string `json:"privyIdToken"`
	Timestamp    string `json:"timestamp"`
}

// refreshRequest はリフレッシュ・ログアウトのリクエストボディ。
type refreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}

// AuthHandler はセッション交換関連のHTTPハンドラー。
type AuthHandler struct {
	service AuthServiceInterface
}

// NewAuthHandler はAuthHandlerを生成する。
func NewAuthHandler(service AuthServiceInterface) *AuthHandler {
	return &AuthHandler{service: service}
}

// Login はPrivy IDトークンをファーストパーティセッションに交換する。
// POST /api/auth/login
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		middleware.WriteErrorResponse(w, http.StatusBadRequest, model.NewInvalidRequestError("body must be JSON"))
		return
	}

	resp, err := h.service.Login(r.Context(), req)
	if err != nil {
		handleServiceError(w, err, model.NewAuthFailedError())
		return
	}

	writeJSON(w, http.StatusOK, resp)
}

// Refresh はリフレッシュトークンをローテーションする。
// POST /api/auth/refresh
func (h *AuthHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if err := decodeJSON(w, r, &req); err != nil {
		middleware.WriteErrorResponse(w, http.StatusBadRequest, model.NewInvalidRequestError("body must be JSON"))
		return
	}

	resp, err := h.service.Refresh(r.Context(), req.RefreshToken)
	if err != nil {
		handleServiceError(w, err, model.NewAuthFailedError())
		return
	}

	writeJSON(w, http.StatusOK, resp)
}

// Logout はリフレッシュトークンを失効させる。未知のトークンでも204を返す。
// POST /api/auth/logout
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if err := decodeJSON(w, r, &req); err != nil {
		middleware.WriteErrorResponse(w, http.StatusBadRequest, model.NewInvalidRequestError("body must be JSON"))
		return
	}

	if err := h.service.Logout(r.Context(), req.RefreshToken); err != nil {
		handleServiceError(w, err, nil)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// Me は現在のログインユーザー情報を返す。
// GET /api/auth/me
func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	privyID, err := middleware.PrivyIDFromContext(r.Context())
	if err != nil {
		middleware.WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
		return
	}

	user, err := h.service.Me(r.Context(), privyID, middleware.LoginMethodFromContext(r.Context()))
	if err != nil {
		handleServiceError(w, err, nil)
		return
	}

	writeJSON(w, http.StatusOK, user)
}
