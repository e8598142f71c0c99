package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"github.com/sysu-ecnc-dev/shift-editor/backend/internal/client"
	"github.com/sysu-ecnc-dev/shift-editor/backend/internal/config"
	"github.com/sysu-ecnc-dev/shift-editor/backend/internal/editor"
	"github.com/sysu-ecnc-dev/shift-editor/backend/internal/metrics"
)

type app struct {
	cfg    *config.EditorConfig
	logger *slog.Logger
	client *client.Client

	username string
	password string
	verbose  bool
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	a := &app{}

	root := &cobra.Command{
		Use:           "editor",
		Short:         "命令行排班编辑器",
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.init(cmd.Context())
		},
	}
	root.PersistentFlags().StringVarP(&a.username, "username", "u", "", "没有 EDITOR_TOKEN 时用于登录的用户名")
	root.PersistentFlags().StringVarP(&a.password, "password", "p", "", "登录密码")
	root.PersistentFlags().BoolVarP(&a.verbose, "verbose", "v", false, "输出调试日志")

	root.AddCommand(
		newListCmd(a),
		newShowCmd(a),
		newLogsCmd(a),
		newEditCmd(a),
	)

	return root
}

func (a *app) init(ctx context.Context) error {
	/**********************************************
	 * 创建 logger
	 **********************************************/
	level := slog.LevelWarn
	if a.verbose {
		level = slog.LevelDebug
	}
	a.logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(a.logger)

	/**********************************************
	 * 加载配置
	 **********************************************/
	cfg, err := config.LoadEditorConfig()
	if err != nil {
		a.logger.Error("无法加载配置", "error", err)
		return err
	}
	a.cfg = cfg

	/**********************************************
	 * 创建客户端，必要时先登录
	 **********************************************/
	a.client = client.New(cfg.APIBaseURL, cfg.Token)
	if cfg.Token == "" {
		if a.username == "" {
			return fmt.Errorf("请设置 EDITOR_TOKEN 或使用 --username 登录")
		}
		user, err := a.client.Login(ctx, a.username, a.password)
		if err != nil {
			a.logger.Error("登录失败", "username", a.username, "error", err)
			return err
		}
		a.logger.Info("登录成功", "username", user.Username, "role", user.Role)
	}

	return nil
}

func (a *app) requestContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if a.cfg.Timeout() > 0 {
		return context.WithTimeout(ctx, a.cfg.Timeout())
	}
	return context.WithCancel(ctx)
}

func parseScheduleID(arg string) (int64, error) {
	id, err := strconv.ParseInt(arg, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("排班 ID 无效: %q", arg)
	}
	return id, nil
}

func newListCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "列出所有排班",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := a.requestContext(cmd.Context())
			defer cancel()

			results, err := a.client.ListSchedules(ctx)
			if err != nil {
				return err
			}
			printScheduleList(cmd.OutOrStdout(), results)
			return nil
		},
	}
}

func newShowCmd(a *app) *cobra.Command {
	var day string

	cmd := &cobra.Command{
		Use:   "show <id>",
		Short: "显示一周的排班",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseScheduleID(args[0])
			if err != nil {
				return err
			}

			ctx, cancel := a.requestContext(cmd.Context())
			defer cancel()

			result, err := a.client.GetSchedule(ctx, id)
			if err != nil {
				return err
			}
			printSchedule(cmd.OutOrStdout(), result, day)
			return nil
		},
	}
	cmd.Flags().StringVarP(&day, "day", "d", "", "只显示某一天，例如 Monday")

	return cmd
}

func newLogsCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "logs <id>",
		Short: "显示排班的修改记录",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseScheduleID(args[0])
			if err != nil {
				return err
			}

			ctx, cancel := a.requestContext(cmd.Context())
			defer cancel()

			logs, err := a.client.GetEditLogs(ctx, id)
			if err != nil {
				return err
			}
			printEditLogs(cmd.OutOrStdout(), logs)
			return nil
		},
	}
}

func newEditCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "edit <id>",
		Short: "交互式编辑排班，修改会自动保存",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseScheduleID(args[0])
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			loadCtx, cancel := a.requestContext(ctx)
			result, err := a.client.GetSchedule(loadCtx, id)
			cancel()
			if err != nil {
				return err
			}

			/**********************************************
			 * 创建指标
			 **********************************************/
			reg := prometheus.NewRegistry()
			recorder, err := metrics.NewEditorRecorder(reg)
			if err != nil {
				return err
			}
			if a.cfg.MetricsAddr != "" {
				go func() {
					if err := metrics.Serve(ctx, a.cfg.MetricsAddr, reg, a.logger); err != nil {
						a.logger.Error("无法启动指标服务", "addr", a.cfg.MetricsAddr, "error", err)
					}
				}()
			}

			/**********************************************
			 * 创建编辑会话
			 **********************************************/
			opts := editor.DefaultOptions()
			opts.Debounce = a.cfg.Debounce()
			opts.RetryDelay = a.cfg.RetryDelay()
			opts.StatusResetDelay = a.cfg.StatusResetDelay()
			opts.UndoLimit = a.cfg.UndoLimit
			opts.MaxAttempts = a.cfg.MaxAttempts
			opts.RequestTimeout = a.cfg.Timeout()
			opts.SlotHeight = float64(a.cfg.SlotHeight)
			opts.Logger = a.logger
			opts.Metrics = recorder

			sess, err := editor.NewSession(a.client, result, opts)
			if err != nil {
				return err
			}

			r := newREPL(sess, cmd.InOrStdin(), cmd.OutOrStdout())
			go r.watchStatus(sess.Subscribe())

			err = r.run(ctx)
			r.flush(5 * time.Second)
			sess.Close()
			return err
		},
	}
}
