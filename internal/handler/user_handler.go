package handler

import (
	"context"
	"net/http"

	"github.com/hitoshi/hanumo-auth/internal/middleware"
	"github.com/hitoshi/hanumo-auth/internal/model"
)

// UserServiceInterface はユーザーハンドラーが必要とするサービスインターフェース。
type UserServiceInterface interface {
	// UpdateProfile は表示名と自己紹介を更新する。nilの項目は変更しない。
	UpdateProfile(ctx context.Context, userID string, req profileUpdateRequest, method model.LoginMethod) (*userResponse, error)
}

// profileUpdateRequest はPUT /api/users/me/profileのリクエストボディ。
type profileUpdateRequest struct {
	DisplayName *string `json:"displayName"`
	Bio         *string `json:"bio"`
}

// UserHandler はユーザー管理のHTTPハンドラー。
type UserHandler struct {
	service UserServiceInterface
}

// NewUserHandler はUserHandlerを生成する。
func NewUserHandler(service UserServiceInterface) *UserHandler {
	return &UserHandler{
		service: service,
	}
}

// UpdateProfile はログインユーザーのプロフィールを更新する。
// PUT /api/users/me/profile
func (h *UserHandler) UpdateProfile(w http.ResponseWriter, r *http.Request) {
	userID, err := middleware.UserIDFromContext(r.Context())
	if err != nil {
		middleware.WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
		return
	}

	var req profileUpdateRequest
	if err := decodeJSON(w, r, &req); err != nil {
		middleware.WriteErrorResponse(w, http.StatusBadRequest, model.NewInvalidRequestError("body must be JSON"))
		return
	}

	user, err := h.service.UpdateProfile(r.Context(), userID, req, middleware.LoginMethodFromContext(r.Context()))
	if err != nil {
		handleServiceError(w, err, nil)
		return
	}

	writeJSON(w, http.StatusOK, user)
}
