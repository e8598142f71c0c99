package handler

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/sysu-ecnc-dev/shift-editor/backend/internal/domain"
)

// GetAllUserInfo 支持按角色和在职状态筛选，例如 ?role=店员&active=true
func (h *Handler) GetAllUserInfo(w http.ResponseWriter, r *http.Request) {
	role := domain.Role(r.URL.Query().Get("role"))
	if role != "" && role != domain.RoleStaff && role != domain.RoleManager {
		h.errorResponse(w, r, "角色无效")
		return
	}

	var active *bool
	if s := r.URL.Query().Get("active"); s != "" {
		v, err := strconv.ParseBool(s)
		if err != nil {
			h.errorResponse(w, r, "active 参数无效")
			return
		}
		active = &v
	}

	users, err := h.repository.GetAllUsers()
	if err != nil {
		h.internalServerError(w, r, err)
		return
	}

	filtered := make([]*domain.User, 0, len(users))
	for _, u := range users {
		if role != "" && u.Role != role {
			continue
		}
		if active != nil && u.IsActive != *active {
			continue
		}
		filtered = append(filtered, u)
	}

	h.successResponse(w, r, "获取用户列表成功", filtered)
}

// GetUserInfo 同时返回该用户最近的修改记录，方便店长追查排班被谁改过
func (h *Handler) GetUserInfo(w http.ResponseWriter, r *http.Request) {
	user := r.Context().Value(UserInfoCtx).(*domain.User)

	logs, err := h.repository.GetEditLogsByUsername(user.Username, defaultMyEditLogLimit)
	if err != nil {
		h.internalServerError(w, r, err)
		return
	}

	h.successResponse(w, r, "获取用户信息成功", struct {
		*domain.User
		RecentEdits []*domain.EditLog `json:"recentEdits"`
	}{user, logs})
}

// UpdateUser 店长修改员工的姓名、邮箱、角色和在职状态
func (h *Handler) UpdateUser(w http.ResponseWriter, r *http.Request) {
	var req struct {
		FullName *string `json:"fullName" validate:"omitempty,min=1"`
		Email    *string `json:"email" validate:"omitempty,email"`
		Role     *string `json:"role" validate:"omitempty,oneof=店员 店长"`
		IsActive *bool   `json:"isActive"`
	}

	if err := h.readJSON(r, &req); err != nil {
		h.badRequest(w, r, err)
		return
	}
	if err := h.validate.Struct(req); err != nil {
		h.badRequest(w, r, err)
		return
	}

	user := r.Context().Value(UserInfoCtx).(*domain.User)
	myInfo := r.Context().Value(MyInfoCtx).(*domain.User)

	// 不允许店长停用自己或取消自己的店长身份，避免没有人能再修改排班
	if user.ID == myInfo.ID && ((req.IsActive != nil && !*req.IsActive) || (req.Role != nil && domain.Role(*req.Role) != domain.RoleManager)) {
		h.errorResponse(w, r, "不能停用自己或取消自己的店长身份")
		return
	}

	if req.FullName != nil {
		user.FullName = *req.FullName
	}
	if req.Email != nil {
		user.Email = *req.Email
	}
	if req.Role != nil {
		user.Role = domain.Role(*req.Role)
	}
	if req.IsActive != nil {
		user.IsActive = *req.IsActive
	}

	if err := h.repository.UpdateUser(user); err != nil {
		var pgErr *pgconn.PgError
		switch {
		case errors.As(err, &pgErr):
			switch {
			case pgErr.ConstraintName == "users_email_key":
				h.errorResponse(w, r, "邮箱已存在")
			default:
				h.internalServerError(w, r, err)
			}
		case errors.Is(err, sql.ErrNoRows):
			h.errorResponse(w, r, "更新用户信息失败，请重试")
		default:
			h.internalServerError(w, r, err)
		}
		return
	}

	h.successResponse(w, r, "更新用户信息成功", user)
}

func (h *Handler) userInfo(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
		if err != nil {
			h.errorResponse(w, r, "用户ID无效")
			return
		}

		user, err := h.repository.GetUserByID(userID)
		if err != nil {
			switch {
			case errors.Is(err, sql.ErrNoRows):
				h.errorResponse(w, r, "用户不存在")
			default:
				h.internalServerError(w, r, err)
			}
			return
		}

		ctx := context.WithValue(r.Context(), UserInfoCtx, user)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
