package handler

import (
	"database/sql"
	"errors"
	"net/http"
	"strconv"

	"github.com/sysu-ecnc-dev/shift-editor/backend/internal/domain"
	"golang.org/x/crypto/bcrypt"
)

const (
	defaultMyEditLogLimit = 50
	maxMyEditLogLimit     = 200
)

func (h *Handler) GetMyInfo(w http.ResponseWriter, r *http.Request) {
	myInfo := r.Context().Value(MyInfoCtx).(*domain.User)
	h.successResponse(w, r, "获取个人信息成功", myInfo)
}

// GetMyEditLogs 返回当前用户在所有排班上的修改记录，最新的在前
func (h *Handler) GetMyEditLogs(w http.ResponseWriter, r *http.Request) {
	myInfo := r.Context().Value(MyInfoCtx).(*domain.User)

	limit := defaultMyEditLogLimit
	if s := r.URL.Query().Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n <= 0 || n > maxMyEditLogLimit {
			h.errorResponse(w, r, "limit 必须在 1 到 200 之间")
			return
		}
		limit = n
	}

	logs, err := h.repository.GetEditLogsByUsername(myInfo.Username, limit)
	if err != nil {
		h.internalServerError(w, r, err)
		return
	}

	h.successResponse(w, r, "获取修改记录成功", logs)
}

// UpdateMyPassword 修改密码后重新签发令牌，编辑器中的会话不会因此掉线
func (h *Handler) UpdateMyPassword(w http.ResponseWriter, r *http.Request) {
	myInfo := r.Context().Value(MyInfoCtx).(*domain.User)

	var req struct {
		OldPassword string `json:"oldPassword" validate:"required"`
		NewPassword string `json:"newPassword" validate:"required,min=8,nefield=OldPassword"`
	}

	if err := h.readJSON(r, &req); err != nil {
		h.badRequest(w, r, err)
		return
	}
	if err := h.validate.Struct(req); err != nil {
		h.badRequest(w, r, err)
		return
	}

	if err := bcrypt.CompareHashAndPassword([]byte(myInfo.PasswordHash), []byte(req.OldPassword)); err != nil {
		h.errorResponse(w, r, "旧密码错误")
		return
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.NewPassword), bcrypt.DefaultCost)
	if err != nil {
		h.internalServerError(w, r, err)
		return
	}

	updated := *myInfo
	updated.PasswordHash = string(hash)
	if err := h.repository.UpdateUser(&updated); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			h.errorResponse(w, r, "账号信息已变化，请重新登录后再试")
			return
		}
		h.internalServerError(w, r, err)
		return
	}

	if err := h.setTokenCookie(w, &updated); err != nil {
		h.internalServerError(w, r, err)
		return
	}

	h.successResponse(w, r, "密码已更新", nil)
}
