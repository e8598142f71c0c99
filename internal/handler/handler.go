package handler

import (
	"context"

	"github.com/go-chi/chi/v5"
	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	"github.com/prometheus/client_golang/prometheus"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/sysu-ecnc-dev/shift-editor/backend/internal/config"
	"github.com/sysu-ecnc-dev/shift-editor/backend/internal/domain"
	"github.com/sysu-ecnc-dev/shift-editor/backend/internal/metrics"
	"github.com/sysu-ecnc-dev/shift-editor/backend/internal/utils"
)

// Store 为 handler 用到的持久化操作，由 repository.Repository 实现
type Store interface {
	GetUserByID(id int64) (*domain.User, error)
	GetUserByUsername(username string) (*domain.User, error)
	GetManagers() ([]*domain.User, error)
	GetAllUsers() ([]*domain.User, error)
	UpdateUser(user *domain.User) error
	GetWeeklySchedule(id int64) (*domain.WeeklyScheduleResult, error)
	GetAllWeeklySchedules() ([]*domain.WeeklyScheduleResult, error)
	UpdateWeeklySchedule(result *domain.WeeklyScheduleResult, log *domain.EditLog) error
	GetEditLogs(scheduleID int64) ([]*domain.EditLog, error)
	GetEditLogsByUsername(username string, limit int) ([]*domain.EditLog, error)
}

// Publisher 由 *amqp.Channel 实现
type Publisher interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
}

type Handler struct {
	validate    *validator.Validate
	config      *config.Config
	repository  Store
	translator  ut.Translator
	mailChannel Publisher
	leases      Locker
	metrics     *metrics.ServerMetrics
	gatherer    prometheus.Gatherer

	Mux *chi.Mux
}

func NewHandler(cfg *config.Config, repo Store, mailCh Publisher, leases Locker, reg *prometheus.Registry) (*Handler, error) {
	validate, trans, err := utils.NewValidator()
	if err != nil {
		return nil, err
	}

	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	m, err := metrics.NewServerMetrics(reg)
	if err != nil {
		return nil, err
	}

	return &Handler{
		validate:    validate,
		config:      cfg,
		repository:  repo,
		translator:  trans,
		mailChannel: mailCh,
		leases:      leases,
		metrics:     m,
		gatherer:    reg,

		Mux: chi.NewRouter(),
	}, nil
}

func (h *Handler) RegisterRoutes() {
	h.Mux.Use(h.logger)
	h.Mux.Use(h.recoverer)

	h.Mux.Handle(h.config.Metrics.Path, metrics.Handler(h.gatherer))

	// 认证相关
	h.Mux.Route("/auth", func(r chi.Router) {
		r.Post("/login", h.Login)
		r.Post("/logout", h.Logout)
	})

	// 以下 API 必须要在登录后才允许调用
	h.Mux.Group(func(r chi.Router) {
		r.Use(h.auth)
		r.Use(h.myInfo)

		r.Route("/me", func(r chi.Router) {
			r.Get("/", h.GetMyInfo)
			r.Get("/edit-logs", h.GetMyEditLogs)
			r.Patch("/password", h.UpdateMyPassword)
		})

		// 员工管理只有店长可以操作
		r.Route("/users", func(r chi.Router) {
			r.Use(h.RequiredRole([]domain.Role{domain.RoleManager}))
			r.Get("/", h.GetAllUserInfo)
			r.Route("/{id}", func(r chi.Router) {
				r.Use(h.userInfo)
				r.Get("/", h.GetUserInfo)
				r.Patch("/", h.UpdateUser)
			})
		})

		r.Route("/schedules", func(r chi.Router) {
			r.Get("/", h.GetAllWeeklySchedules)
			r.Route("/{id}", func(r chi.Router) {
				r.Use(h.weeklySchedule)
				r.Get("/", h.GetWeeklySchedule)
				r.Get("/logs", h.GetEditLogs)

				// 修改排班只有店长可以操作
				r.Group(func(r chi.Router) {
					r.Use(h.RequiredRole([]domain.Role{domain.RoleManager}))
					r.Post("/batch-update", h.BatchUpdateSchedule)
					r.Post("/lock", h.ToggleLock)
					r.Delete("/shifts/{employee}/{day}", h.DeleteShift)
				})
			})
		})
	})
}
