package domain

import (
	"time"
)

type Role string

const (
	RoleStaff   Role = "店员"
	RoleManager Role = "店长"
)

type User struct {
	ID           int64     `json:"id"`
	Username     string    `json:"username"`
	PasswordHash string    `json:"-"`
	FullName     string    `json:"fullName"`
	Email        string    `json:"email"`
	Role         Role      `json:"role"`
	IsActive     bool      `json:"isActive"`
	CreatedAt    time.Time `json:"createdAt"`
	Version      int32     `json:"-"`
}

// TokenCookieName 服务端下发 JWT 所用的 cookie，编辑器客户端也用它携带令牌
const TokenCookieName = "__shift_editor_token"
