package main

import (
	"context"
	"database/sql"
	"flag"
	"log/slog"
	"os"
	"time"

	"github.com/sysu-ecnc-dev/shift-editor/backend/internal/config"
	"github.com/sysu-ecnc-dev/shift-editor/backend/internal/repository"
	"github.com/sysu-ecnc-dev/shift-editor/backend/internal/seed"
	"github.com/sysu-ecnc-dev/shift-editor/backend/internal/utils"

	_ "github.com/jackc/pgx/v5/stdlib"
)

func main() {
	var op int
	var n int
	var employees int
	var file string
	var storeName string
	var weekStart string
	var openTime string
	var closeTime string

	flag.IntVar(&op, "op", 0, "要执行的操作 (1: 插入随机用户, 2: 插入随机排班, 3: 导入求解器输出的 CSV)")
	flag.IntVar(&n, "n", 5, "要插入的记录数量")
	flag.IntVar(&employees, "employees", 8, "随机排班中的员工数量")
	flag.StringVar(&file, "file", "", "要导入的 CSV 文件路径")
	flag.StringVar(&storeName, "store", "中山店", "导入排班所属的门店")
	flag.StringVar(&weekStart, "week", "", "随机排班的起始周，格式为 2006-01-02，默认为本周")
	flag.StringVar(&openTime, "open", "08:00", "开门时间")
	flag.StringVar(&closeTime, "close", "22:00", "关门时间")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))

	// 读取配置文件
	cfg, err := config.LoadConfig()
	if err != nil {
		logger.Error("无法读取配置文件", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// 创建数据库连接池
	dbpool, err := sql.Open("pgx", cfg.Database.DSN)
	if err != nil {
		logger.Error("无法创建数据库连接池", "error", err)
		return
	}
	defer dbpool.Close()

	dbpool.SetMaxOpenConns(cfg.Database.MaxOpenConns)
	dbpool.SetMaxIdleConns(cfg.Database.MaxIdleConns)
	dbpool.SetConnMaxIdleTime(time.Duration(cfg.Database.MaxIdleTime) * time.Second)

	ctx, cancel := context.WithTimeout(context.Background(), time.Duration(cfg.Database.ConnectTimeout)*time.Second)
	defer cancel()

	// sql.Open 只是创建数据库连接池对象，并不会立即连接到数据库，因此需要显式地 ping 一下
	if err := dbpool.PingContext(ctx); err != nil {
		logger.Error("无法连接到数据库", "error", err)
		return
	}

	// 创建 repository
	repo := repository.NewRepository(cfg, dbpool)

	// 执行操作
	switch op {
	case 0:
		slog.Error("未指定操作")
	case 1:
		if n <= 0 {
			slog.Error("请输入合法的用户数量")
		} else {
			cnt := n
			for i := 0; i < n; i++ {
				user, err := utils.GenerateRandomUser(cfg.Seed.User.Password, cfg.Email.UserDomain)
				if err != nil {
					slog.Error("无法生成随机用户", slog.String("error", err.Error()))
					continue
				}

				if err := repo.CreateUser(user); err != nil {
					slog.Error("无法插入用户", slog.String("error", err.Error()))
					continue
				}

				cnt--
			}

			slog.Info("插入用户成功", slog.Int("count", n-cnt))
		}
	case 2:
		if n <= 0 || employees <= 0 {
			slog.Error("请输入合法的排班数量和员工数量")
			return
		}

		monday := seed.WeekStart(time.Now())
		if weekStart != "" {
			t, err := time.Parse(time.DateOnly, weekStart)
			if err != nil {
				slog.Error("起始周格式错误", slog.String("week", weekStart))
				return
			}
			monday = seed.WeekStart(t)
		}

		cnt := 0
		for i := 0; i < n; i++ {
			result, err := seed.GenerateRandomWeek(monday.AddDate(0, 0, 7*i), openTime, closeTime, employees)
			if err != nil {
				slog.Error("无法生成随机排班", slog.String("error", err.Error()))
				return
			}

			if err := repo.InsertWeeklySchedule(result); err != nil {
				slog.Error("无法插入排班", slog.String("error", err.Error()))
				continue
			}

			cnt++
		}

		slog.Info("插入排班成功", slog.Int("count", cnt))
	case 3:
		if file == "" {
			slog.Error("请指定要导入的文件")
			return
		}

		f, err := os.Open(file)
		if err != nil {
			slog.Error("打开文件失败", slog.String("error", err.Error()))
			return
		}
		defer f.Close()

		result, err := seed.ImportCSV(f, storeName, openTime, closeTime)
		if err != nil {
			slog.Error("无法解析排班文件", slog.String("error", err.Error()))
			return
		}

		if err := repo.InsertWeeklySchedule(result); err != nil {
			slog.Error("无法插入排班", slog.String("error", err.Error()))
			return
		}

		slog.Info("导入排班成功", slog.Int64("id", result.ID), slog.String("weekStart", result.WeekStart))
	default:
		slog.Error("指定的操作非法")
	}
}
