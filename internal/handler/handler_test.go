package handler

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/sysu-ecnc-dev/shift-editor/backend/internal/config"
	"github.com/sysu-ecnc-dev/shift-editor/backend/internal/domain"
	"github.com/sysu-ecnc-dev/shift-editor/backend/internal/mutation"
	"github.com/sysu-ecnc-dev/shift-editor/backend/internal/period"
	"github.com/sysu-ecnc-dev/shift-editor/backend/internal/repository"
	"golang.org/x/crypto/bcrypt"
)

type fakeStore struct {
	mu        sync.Mutex
	users     map[int64]*domain.User
	schedules map[int64]*domain.WeeklyScheduleResult
	logs      []*domain.EditLog
}

func (s *fakeStore) GetUserByID(id int64) (*domain.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	c := *u
	return &c, nil
}

func (s *fakeStore) GetUserByUsername(username string) (*domain.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range s.users {
		if u.Username == username {
			c := *u
			return &c, nil
		}
	}
	return nil, sql.ErrNoRows
}

func (s *fakeStore) GetManagers() ([]*domain.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	managers := make([]*domain.User, 0)
	for _, u := range s.users {
		if u.Role == domain.RoleManager && u.IsActive {
			managers = append(managers, u)
		}
	}
	return managers, nil
}

func (s *fakeStore) GetAllUsers() ([]*domain.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	users := make([]*domain.User, 0, len(s.users))
	for _, u := range s.users {
		c := *u
		users = append(users, &c)
	}
	return users, nil
}

func (s *fakeStore) UpdateUser(user *domain.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.users[user.ID]
	if !ok || current.Version != user.Version {
		return sql.ErrNoRows
	}
	user.Version++
	c := *user
	s.users[user.ID] = &c
	return nil
}

func (s *fakeStore) GetWeeklySchedule(id int64) (*domain.WeeklyScheduleResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.schedules[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return r.Clone(), nil
}

func (s *fakeStore) GetAllWeeklySchedules() ([]*domain.WeeklyScheduleResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	results := make([]*domain.WeeklyScheduleResult, 0, len(s.schedules))
	for _, r := range s.schedules {
		results = append(results, r.Clone())
	}
	return results, nil
}

func (s *fakeStore) UpdateWeeklySchedule(result *domain.WeeklyScheduleResult, log *domain.EditLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	current := s.schedules[result.ID]
	if current.Version != result.Version {
		return repository.ErrVersionConflict
	}
	result.Version++
	s.schedules[result.ID] = result.Clone()
	if log != nil {
		log.ScheduleID = result.ID
		s.logs = append(s.logs, log)
	}
	return nil
}

func (s *fakeStore) GetEditLogs(scheduleID int64) ([]*domain.EditLog, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.logs, nil
}

func (s *fakeStore) GetEditLogsByUsername(username string, limit int) ([]*domain.EditLog, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	logs := make([]*domain.EditLog, 0)
	for i := len(s.logs) - 1; i >= 0 && len(logs) < limit; i-- {
		if s.logs[i].Username == username {
			logs = append(logs, s.logs[i])
		}
	}
	return logs, nil
}

type fakePublisher struct {
	mu       sync.Mutex
	messages []domain.MailMessage
}

func (p *fakePublisher) PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	var m domain.MailMessage
	if err := json.Unmarshal(msg.Body, &m); err != nil {
		return err
	}
	p.messages = append(p.messages, m)
	return nil
}

type fakeLocker struct {
	mu   sync.Mutex
	held map[string]string
}

func (l *fakeLocker) Acquire(ctx context.Context, key string, ttl time.Duration) (string, bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.held[key]; ok {
		return "", false, nil
	}
	l.held[key] = "token"
	return "token", true, nil
}

func (l *fakeLocker) Release(ctx context.Context, key, token string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.held[key] == token {
		delete(l.held, key)
	}
	return nil
}

type testEnv struct {
	handler   *Handler
	store     *fakeStore
	publisher *fakePublisher
	locker    *fakeLocker
}

func newDay(t *testing.T, employee, day, start, end string) domain.EmployeeDaySchedule {
	t.Helper()
	periods, err := period.BuildPeriods("08:00", "22:00")
	require.NoError(t, err)

	s := domain.EmployeeDaySchedule{EmployeeName: employee, DayOfWeek: day, Periods: periods}
	if start != "" {
		return mutation.AddRange(s, start, end)
	}
	mutation.Recompute(&s)
	return s
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	cfg := &config.Config{}
	cfg.JWT.Secret = "test-secret"
	cfg.JWT.Expiration = 3600
	cfg.Redis.OperationExpiration = 1
	cfg.Redis.WriteLease = 15
	cfg.RabbitMQ.PublishTimeout = 1
	cfg.Metrics.Path = "/metrics"

	hash, err := bcrypt.GenerateFromPassword([]byte("secret"), bcrypt.MinCost)
	require.NoError(t, err)

	week := &domain.WeeklyScheduleResult{
		ID:        1,
		StoreName: "中山店",
		WeekStart: "2026-10-12",
		WeekEnd:   "2026-10-18",
		OpenTime:  "08:00",
		CloseTime: "22:00",
		Schedules: []domain.EmployeeDaySchedule{
			newDay(t, "Alice", "Monday", "09:00", "17:00"),
			newDay(t, "Bob", "Monday", "", ""),
		},
	}
	week.Schedules[0].IsLocked = true
	mutation.Summarize(week)

	store := &fakeStore{
		users: map[int64]*domain.User{
			1: {ID: 1, Username: "manager", PasswordHash: string(hash), FullName: "店长", Email: "manager@example.com", Role: domain.RoleManager, IsActive: true},
			2: {ID: 2, Username: "staff", PasswordHash: string(hash), FullName: "店员", Email: "staff@example.com", Role: domain.RoleStaff, IsActive: true},
		},
		schedules: map[int64]*domain.WeeklyScheduleResult{1: week},
	}
	publisher := &fakePublisher{}
	locker := &fakeLocker{held: make(map[string]string)}

	h, err := NewHandler(cfg, store, publisher, locker, nil)
	require.NoError(t, err)
	h.RegisterRoutes()

	return &testEnv{handler: h, store: store, publisher: publisher, locker: locker}
}

func (e *testEnv) do(t *testing.T, method, path string, userID int64, body any) (*httptest.ResponseRecorder, Response) {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if userID != 0 {
		user, err := e.store.GetUserByID(userID)
		require.NoError(t, err)
		token, _, err := e.handler.signToken(user)
		require.NoError(t, err)
		req.AddCookie(&http.Cookie{Name: domain.TokenCookieName, Value: token})
	}

	rec := httptest.NewRecorder()
	e.handler.Mux.ServeHTTP(rec, req)

	var resp Response
	if strings.HasPrefix(rec.Header().Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	}
	return rec, resp
}

func decodeData[T any](t *testing.T, resp Response) T {
	t.Helper()
	raw, err := json.Marshal(resp.Data)
	require.NoError(t, err)
	var out T
	require.NoError(t, json.Unmarshal(raw, &out))
	return out
}

func TestLogin(t *testing.T) {
	env := newTestEnv(t)

	rec, resp := env.do(t, http.MethodPost, "/auth/login", 0, map[string]string{"username": "manager", "password": "secret"})
	assert.True(t, resp.Success)
	cookies := rec.Result().Cookies()
	require.Len(t, cookies, 1)
	assert.Equal(t, domain.TokenCookieName, cookies[0].Name)
	assert.True(t, cookies[0].HttpOnly)

	_, resp = env.do(t, http.MethodPost, "/auth/login", 0, map[string]string{"username": "manager", "password": "wrong"})
	assert.False(t, resp.Success)
	assert.Equal(t, "用户名不存在或密码错误", resp.Message)
}

func TestGetWeeklySchedule_RequiresLogin(t *testing.T) {
	env := newTestEnv(t)

	_, resp := env.do(t, http.MethodGet, "/schedules/1", 0, nil)
	assert.False(t, resp.Success)
	assert.Equal(t, "用户未登录", resp.Message)

	_, resp = env.do(t, http.MethodGet, "/schedules/1", 2, nil)
	require.True(t, resp.Success)
	result := decodeData[domain.WeeklyScheduleResult](t, resp)
	assert.Equal(t, "中山店", result.StoreName)

	_, resp = env.do(t, http.MethodGet, "/schedules/99", 2, nil)
	assert.Equal(t, "排班不存在", resp.Message)
}

func TestBatchUpdate(t *testing.T) {
	env := newTestEnv(t)

	body := map[string]any{"updates": []domain.ShiftEditRequest{
		{EmployeeName: "Alice", DayOfWeek: "Monday", NewShiftStart: "10:00", NewShiftEnd: "14:00", NewEmployeeName: "Bob"},
	}}
	_, resp := env.do(t, http.MethodPost, "/schedules/1/batch-update", 1, body)
	require.True(t, resp.Success, resp.Message)

	result := decodeData[domain.BatchUpdateResult](t, resp)
	assert.True(t, result.Success)
	assert.Empty(t, result.FailedUpdates)

	stored, err := env.store.GetWeeklySchedule(1)
	require.NoError(t, err)
	assert.True(t, stored.IsEdited)
	assert.Equal(t, int32(1), stored.Version)
	bob := stored.Schedules[domain.FindSchedule(stored.Schedules, "Bob", "Monday")]
	assert.Equal(t, 4.0, bob.TotalHours)
	alice := stored.Schedules[domain.FindSchedule(stored.Schedules, "Alice", "Monday")]
	assert.Zero(t, alice.TotalHours)
	assert.False(t, alice.IsLocked)

	require.Len(t, env.store.logs, 1)
	assert.Equal(t, "manager", env.store.logs[0].Username)
	assert.Equal(t, actionBatchUpdate, env.store.logs[0].Action)

	require.Len(t, env.publisher.messages, 1)
	assert.Equal(t, domain.MailTypeScheduleUpdated, env.publisher.messages[0].Type)
	assert.Equal(t, "manager@example.com", env.publisher.messages[0].To)
	assert.Empty(t, env.locker.held)
}

func TestBatchUpdate_PartialFailure(t *testing.T) {
	env := newTestEnv(t)

	body := map[string]any{"updates": []domain.ShiftEditRequest{
		{EmployeeName: "Bob", DayOfWeek: "Monday", NewShiftStart: "18:00", NewShiftEnd: "20:00"},
		{EmployeeName: "Nobody", DayOfWeek: "Monday", NewShiftStart: "10:00", NewShiftEnd: "12:00"},
	}}
	_, resp := env.do(t, http.MethodPost, "/schedules/1/batch-update", 1, body)
	assert.False(t, resp.Success)

	result := decodeData[domain.BatchUpdateResult](t, resp)
	require.Len(t, result.FailedUpdates, 1)
	assert.Equal(t, "Nobody", result.FailedUpdates[0].EmployeeName)
	require.NotNil(t, result.UpdatedSchedule)
	bob := result.UpdatedSchedule.Schedules[domain.FindSchedule(result.UpdatedSchedule.Schedules, "Bob", "Monday")]
	assert.Equal(t, 2.0, bob.TotalHours)

	require.Len(t, env.store.logs, 1)
	assert.Equal(t, 1, env.store.logs[0].Applied)
	assert.Equal(t, 1, env.store.logs[0].Failed)
}

func TestBatchUpdate_Validation(t *testing.T) {
	env := newTestEnv(t)

	_, resp := env.do(t, http.MethodPost, "/schedules/1/batch-update", 1, map[string]any{"updates": []domain.ShiftEditRequest{}})
	assert.False(t, resp.Success)
	assert.Empty(t, env.store.logs)
}

func TestBatchUpdate_StaffForbidden(t *testing.T) {
	env := newTestEnv(t)

	body := map[string]any{"updates": []domain.ShiftEditRequest{
		{EmployeeName: "Bob", DayOfWeek: "Monday", NewShiftStart: "18:00", NewShiftEnd: "20:00"},
	}}
	_, resp := env.do(t, http.MethodPost, "/schedules/1/batch-update", 2, body)
	assert.False(t, resp.Success)
	assert.Equal(t, "权限不足", resp.Message)
}

func TestBatchUpdate_LeaseHeld(t *testing.T) {
	env := newTestEnv(t)
	env.locker.held[writeLeaseKey(1)] = "other"

	body := map[string]any{"updates": []domain.ShiftEditRequest{
		{EmployeeName: "Bob", DayOfWeek: "Monday", NewShiftStart: "18:00", NewShiftEnd: "20:00"},
	}}
	_, resp := env.do(t, http.MethodPost, "/schedules/1/batch-update", 1, body)
	assert.False(t, resp.Success)
	assert.Equal(t, "排班正在被其他人修改，请稍后重试", resp.Message)
	assert.Empty(t, env.store.logs)
}

func TestToggleLock(t *testing.T) {
	env := newTestEnv(t)

	_, resp := env.do(t, http.MethodPost, "/schedules/1/lock", 1, domain.LockToggleRequest{
		EmployeeName: "Alice", DayOfWeek: "Monday", DesiredLockState: false,
	})
	require.True(t, resp.Success, resp.Message)
	result := decodeData[domain.WeeklyScheduleResult](t, resp)
	assert.False(t, result.Schedules[domain.FindSchedule(result.Schedules, "Alice", "Monday")].IsLocked)

	// 空班次不能锁定
	_, resp = env.do(t, http.MethodPost, "/schedules/1/lock", 1, domain.LockToggleRequest{
		EmployeeName: "Bob", DayOfWeek: "Monday", DesiredLockState: true,
	})
	assert.False(t, resp.Success)

	require.Len(t, env.store.logs, 1)
	assert.Equal(t, actionUnlock, env.store.logs[0].Action)
}

func TestDeleteShift(t *testing.T) {
	env := newTestEnv(t)

	_, resp := env.do(t, http.MethodDelete, "/schedules/1/shifts/Alice/Monday", 1, nil)
	assert.False(t, resp.Success)
	assert.Equal(t, "班次已锁定，无法删除", resp.Message)

	_, resp = env.do(t, http.MethodPost, "/schedules/1/lock", 1, domain.LockToggleRequest{
		EmployeeName: "Alice", DayOfWeek: "Monday", DesiredLockState: false,
	})
	require.True(t, resp.Success)

	_, resp = env.do(t, http.MethodDelete, "/schedules/1/shifts/Alice/Monday", 1, nil)
	require.True(t, resp.Success, resp.Message)
	result := decodeData[domain.WeeklyScheduleResult](t, resp)
	assert.True(t, result.IsEdited)
	assert.Zero(t, result.TotalLaborHours)

	_, resp = env.do(t, http.MethodDelete, "/schedules/1/shifts/Alice/Someday", 1, nil)
	assert.Equal(t, "星期参数无效", resp.Message)
}

func TestGetEditLogs(t *testing.T) {
	env := newTestEnv(t)

	_, resp := env.do(t, http.MethodDelete, "/schedules/1/shifts/Bob/Monday", 1, nil)
	require.True(t, resp.Success, resp.Message)

	_, resp = env.do(t, http.MethodGet, "/schedules/1/logs", 2, nil)
	require.True(t, resp.Success)
	logs := decodeData[[]domain.EditLog](t, resp)
	require.Len(t, logs, 1)
	assert.Equal(t, actionDelete, logs[0].Action)
}

func TestMetricsEndpoint(t *testing.T) {
	env := newTestEnv(t)

	env.do(t, http.MethodGet, "/schedules/1", 2, nil)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	env.handler.Mux.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "http_requests_total")
	assert.Contains(t, rec.Body.String(), `route="/schedules/{id}`)
}

func TestUpdateMyPassword(t *testing.T) {
	env := newTestEnv(t)

	_, resp := env.do(t, http.MethodPatch, "/me/password", 2, map[string]string{"oldPassword": "wrong", "newPassword": "new-secret"})
	assert.Equal(t, "旧密码错误", resp.Message)

	_, resp = env.do(t, http.MethodPatch, "/me/password", 2, map[string]string{"oldPassword": "secret", "newPassword": "short"})
	assert.False(t, resp.Success)

	rec, resp := env.do(t, http.MethodPatch, "/me/password", 2, map[string]string{"oldPassword": "secret", "newPassword": "new-secret"})
	require.True(t, resp.Success, resp.Message)
	assert.Contains(t, rec.Header().Get("Set-Cookie"), domain.TokenCookieName)

	_, resp = env.do(t, http.MethodPost, "/auth/login", 0, map[string]string{"username": "staff", "password": "new-secret"})
	assert.True(t, resp.Success)
}

func TestGetMyEditLogs(t *testing.T) {
	env := newTestEnv(t)

	_, resp := env.do(t, http.MethodPost, "/schedules/1/batch-update", 1, map[string]any{
		"updates": []map[string]string{{"employeeName": "Bob", "dayOfWeek": "Monday", "newShiftStart": "12:00", "newShiftEnd": "16:00"}},
	})
	require.True(t, resp.Success, resp.Message)

	_, resp = env.do(t, http.MethodGet, "/me/edit-logs", 1, nil)
	require.True(t, resp.Success, resp.Message)
	logs := decodeData[[]domain.EditLog](t, resp)
	require.Len(t, logs, 1)
	assert.Equal(t, int64(1), logs[0].ScheduleID)

	_, resp = env.do(t, http.MethodGet, "/me/edit-logs", 2, nil)
	require.True(t, resp.Success, resp.Message)
	assert.Empty(t, decodeData[[]domain.EditLog](t, resp))

	_, resp = env.do(t, http.MethodGet, "/me/edit-logs?limit=0", 1, nil)
	assert.False(t, resp.Success)
}

func TestUpdateUser(t *testing.T) {
	env := newTestEnv(t)

	_, resp := env.do(t, http.MethodGet, "/users/", 2, nil)
	assert.Equal(t, "权限不足", resp.Message)

	_, resp = env.do(t, http.MethodGet, "/users/?role="+url.QueryEscape(string(domain.RoleStaff))+"&active=true", 1, nil)
	require.True(t, resp.Success, resp.Message)
	users := decodeData[[]domain.User](t, resp)
	require.Len(t, users, 1)
	assert.Equal(t, "staff", users[0].Username)

	_, resp = env.do(t, http.MethodGet, "/users/2", 1, nil)
	require.True(t, resp.Success, resp.Message)
	info := decodeData[map[string]any](t, resp)
	assert.Equal(t, "staff", info["username"])
	assert.Contains(t, info, "recentEdits")

	_, resp = env.do(t, http.MethodPatch, "/users/2", 1, map[string]any{"isActive": false})
	require.True(t, resp.Success, resp.Message)

	// 停用后无法再访问需要登录的接口
	_, resp = env.do(t, http.MethodGet, "/schedules/1", 2, nil)
	assert.Equal(t, "账号已停用", resp.Message)

	_, resp = env.do(t, http.MethodPatch, "/users/1", 1, map[string]any{"role": "店员"})
	assert.False(t, resp.Success)

	_, resp = env.do(t, http.MethodPatch, "/users/2", 1, map[string]any{"role": "老板"})
	assert.False(t, resp.Success)
}
