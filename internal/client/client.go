// Package client 通过服务端的 HTTP 接口读写排班，供命令行编辑器使用
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/sysu-ecnc-dev/shift-editor/backend/internal/domain"
)

var ErrUnauthorized = errors.New("未登录或登录已过期")

// APIError 为服务端返回 success == false 时的错误
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("服务端返回错误 (%d): %s", e.Status, e.Message)
}

type envelope struct {
	Success bool            `json:"success"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

type Client struct {
	baseURL string
	token   string
	http    *http.Client
}

// New 创建客户端，token 为登录后得到的 JWT，可以为空再调用 Login
func New(baseURL, token string) *Client {
	return &Client{
		baseURL: baseURL,
		token:   token,
		http: &http.Client{
			Transport: &http.Transport{
				DialContext: (&net.Dialer{
					Timeout: 5 * time.Second,
				}).DialContext,
			},
		},
	}
}

func (c *Client) Token() string {
	return c.token
}

// Login 登录并保存服务端下发的令牌
func (c *Client) Login(ctx context.Context, username, password string) (*domain.User, error) {
	body := map[string]string{"username": username, "password": password}

	resp, env, err := c.do(ctx, http.MethodPost, "/auth/login", body)
	if err != nil {
		return nil, err
	}
	if !env.Success {
		return nil, &APIError{Status: resp.StatusCode, Message: env.Message}
	}

	for _, cookie := range resp.Cookies() {
		if cookie.Name == domain.TokenCookieName {
			c.token = cookie.Value
		}
	}
	if c.token == "" {
		return nil, errors.New("登录响应中没有令牌")
	}

	user := &domain.User{}
	if err := json.Unmarshal(env.Data, user); err != nil {
		return nil, fmt.Errorf("解析登录响应失败: %w", err)
	}
	return user, nil
}

func (c *Client) GetSchedule(ctx context.Context, scheduleID int64) (*domain.WeeklyScheduleResult, error) {
	result := &domain.WeeklyScheduleResult{}
	if err := c.call(ctx, http.MethodGet, schedulePath(scheduleID, ""), nil, result); err != nil {
		return nil, err
	}
	return result, nil
}

func (c *Client) ListSchedules(ctx context.Context) ([]*domain.WeeklyScheduleResult, error) {
	results := make([]*domain.WeeklyScheduleResult, 0)
	if err := c.call(ctx, http.MethodGet, "/schedules/", nil, &results); err != nil {
		return nil, err
	}
	return results, nil
}

func (c *Client) GetEditLogs(ctx context.Context, scheduleID int64) ([]*domain.EditLog, error) {
	logs := make([]*domain.EditLog, 0)
	if err := c.call(ctx, http.MethodGet, schedulePath(scheduleID, "/logs"), nil, &logs); err != nil {
		return nil, err
	}
	return logs, nil
}

// BatchUpdate 部分修改失败时服务端的 success 为 false，但 data 中仍然带着结果
func (c *Client) BatchUpdate(ctx context.Context, scheduleID int64, updates []domain.ShiftEditRequest) (*domain.BatchUpdateResult, error) {
	body := map[string]any{"updates": updates}

	resp, env, err := c.do(ctx, http.MethodPost, schedulePath(scheduleID, "/batch-update"), body)
	if err != nil {
		return nil, err
	}

	if len(env.Data) == 0 || string(env.Data) == "null" {
		return nil, &APIError{Status: resp.StatusCode, Message: env.Message}
	}

	result := &domain.BatchUpdateResult{}
	if err := json.Unmarshal(env.Data, result); err != nil {
		return nil, fmt.Errorf("解析批量修改响应失败: %w", err)
	}
	return result, nil
}

func (c *Client) ToggleLock(ctx context.Context, scheduleID int64, req domain.LockToggleRequest) (*domain.WeeklyScheduleResult, error) {
	result := &domain.WeeklyScheduleResult{}
	if err := c.call(ctx, http.MethodPost, schedulePath(scheduleID, "/lock"), req, result); err != nil {
		return nil, err
	}
	return result, nil
}

func (c *Client) DeleteShift(ctx context.Context, scheduleID int64, employeeName, day string) (*domain.WeeklyScheduleResult, error) {
	path := schedulePath(scheduleID, "/shifts/"+url.PathEscape(employeeName)+"/"+url.PathEscape(day))

	result := &domain.WeeklyScheduleResult{}
	if err := c.call(ctx, http.MethodDelete, path, nil, result); err != nil {
		return nil, err
	}
	return result, nil
}

func schedulePath(scheduleID int64, suffix string) string {
	return "/schedules/" + strconv.FormatInt(scheduleID, 10) + suffix
}

// call 要求 success == true 并把 data 解析到 out 中
func (c *Client) call(ctx context.Context, method, path string, body, out any) error {
	resp, env, err := c.do(ctx, method, path, body)
	if err != nil {
		return err
	}
	if !env.Success {
		return &APIError{Status: resp.StatusCode, Message: env.Message}
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return fmt.Errorf("解析响应失败: %w", err)
	}
	return nil
}

func (c *Client) do(ctx context.Context, method, path string, body any) (*http.Response, *envelope, error) {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, nil, fmt.Errorf("序列化请求失败: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, nil, fmt.Errorf("创建请求失败: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.AddCookie(&http.Cookie{Name: domain.TokenCookieName, Value: c.token})
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, nil, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, nil, fmt.Errorf("读取响应失败: %w", err)
	}

	if resp.StatusCode == http.StatusUnauthorized {
		return nil, nil, ErrUnauthorized
	}

	env := &envelope{}
	if err := json.Unmarshal(respBody, env); err != nil {
		return nil, nil, fmt.Errorf("服务端返回 %d，无法解析响应: %w", resp.StatusCode, err)
	}
	if !env.Success && (env.Message == "用户未登录" || env.Message == "无效的令牌") {
		return nil, nil, ErrUnauthorized
	}

	return resp, env, nil
}
