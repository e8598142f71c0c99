package config

import (
	"errors"
	"time"

	"github.com/caarlos0/env/v11"
)

type Config struct {
	Environment string `env:"ENVIRONMENT" envDefault:"development"`
	Server      struct {
		Port            string `env:"PORT" envDefault:"3000"`
		ReadTimeout     int    `env:"READ_TIMEOUT" envDefault:"10"`
		WriteTimeout    int    `env:"WRITE_TIMEOUT" envDefault:"15"`
		IdleTimeout     int    `env:"IDLE_TIMEOUT" envDefault:"60"`
		ShutdownTimeout int    `env:"SHUTDOWN_TIMEOUT" envDefault:"10"`
	} `envPrefix:"SERVER_"`
	Database struct {
		DSN                string `env:"DSN,required"`
		ConnectTimeout     int    `env:"CONNECT_TIMEOUT" envDefault:"10"`
		QueryTimeout       int    `env:"QUERY_TIMEOUT" envDefault:"10"`
		TransactionTimeout int    `env:"TRANSACTION_TIMEOUT" envDefault:"20"`
		MaxOpenConns       int    `env:"MAX_OPEN_CONNS" envDefault:"10"`
		MaxIdleConns       int    `env:"MAX_IDLE_CONNS" envDefault:"10"`
		MaxIdleTime        int    `env:"MAX_IDLE_TIME" envDefault:"60"`
	} `envPrefix:"DATABASE_"`
	InitialAdmin struct {
		Username string `env:"USERNAME" envDefault:"admin"`
		Password string `env:"PASSWORD,required"`
		FullName string `env:"FULL_NAME" envDefault:"店长"`
		Email    string `env:"EMAIL,required"`
	} `envPrefix:"INITIAL_ADMIN_"`
	JWT struct {
		Expiration int    `env:"EXPIRATION" envDefault:"1209600"` // 14 天
		Secret     string `env:"SECRET,required"`
	} `envPrefix:"JWT_"`
	Seed struct {
		User struct {
			Password string `env:"PASSWORD,required"`
		} `envPrefix:"USER_"`
	} `envPrefix:"SEED_"`
	Email struct {
		UserDomain string `env:"USER_DOMAIN,required"`
		SMTP       struct {
			Username    string `env:"USERNAME,required"`
			Password    string `env:"PASSWORD,required"`
			Host        string `env:"HOST,required"`
			Port        int    `env:"PORT" envDefault:"465"`
			DialTimeout int    `env:"DIAL_TIMEOUT" envDefault:"10"`
		} `envPrefix:"SMTP_"`
	} `envPrefix:"EMAIL_"`
	RabbitMQ struct {
		DSN            string `env:"DSN,required"`
		PublishTimeout int    `env:"PUBLISH_TIMEOUT" envDefault:"10"`
	} `envPrefix:"RABBITMQ_"`
	Redis struct {
		Host                string `env:"HOST" envDefault:"localhost"`
		Port                int    `env:"PORT" envDefault:"6379"`
		Password            string `env:"PASSWORD,required"`
		ConnectTimeout      int    `env:"CONNECT_TIMEOUT" envDefault:"10"`
		OperationExpiration int    `env:"OPERATION_EXPIRATION" envDefault:"10"`
		WriteLease          int    `env:"WRITE_LEASE" envDefault:"15"` // 同一份排班的写操作互斥
	} `envPrefix:"REDIS_"`
	Metrics struct {
		Path string `env:"PATH" envDefault:"/metrics"`
	} `envPrefix:"METRICS_"`
}

func LoadConfig() (*Config, error) {
	cfg := &Config{}
	if err := parse(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// EditorConfig 为命令行编辑器的配置，与服务端配置分开加载
type EditorConfig struct {
	APIBaseURL     string `env:"API_BASE_URL" envDefault:"http://localhost:3000"`
	Token          string `env:"TOKEN"`
	DebounceMS     int    `env:"DEBOUNCE_MS" envDefault:"500"`
	UndoLimit      int    `env:"UNDO_LIMIT" envDefault:"20"`
	RetryDelayMS   int    `env:"RETRY_DELAY_MS" envDefault:"3000"`
	MaxAttempts    int    `env:"MAX_ATTEMPTS" envDefault:"0"`
	StatusResetMS  int    `env:"STATUS_RESET_MS" envDefault:"2000"`
	RequestTimeout int    `env:"REQUEST_TIMEOUT" envDefault:"0"` // 秒，0 表示不设超时
	SlotHeight     int    `env:"SLOT_HEIGHT" envDefault:"24"`
	MetricsAddr    string `env:"METRICS_ADDR"`
}

func LoadEditorConfig() (*EditorConfig, error) {
	cfg := &EditorConfig{}
	if err := parse(cfg, env.Options{Prefix: "EDITOR_"}); err != nil {
		return nil, err
	}
	if cfg.DebounceMS <= 0 {
		return nil, errors.New("EDITOR_DEBOUNCE_MS 必须大于 0")
	}

	return cfg, nil
}

func (c *EditorConfig) Debounce() time.Duration {
	return time.Duration(c.DebounceMS) * time.Millisecond
}

func (c *EditorConfig) RetryDelay() time.Duration {
	return time.Duration(c.RetryDelayMS) * time.Millisecond
}

func (c *EditorConfig) StatusResetDelay() time.Duration {
	return time.Duration(c.StatusResetMS) * time.Millisecond
}

func (c *EditorConfig) Timeout() time.Duration {
	return time.Duration(c.RequestTimeout) * time.Second
}

func parse(v any, opts ...env.Options) error {
	var err error
	if len(opts) > 0 {
		err = env.ParseWithOptions(v, opts[0])
	} else {
		err = env.Parse(v)
	}
	if err == nil {
		return nil
	}

	aggErr := env.AggregateError{}
	if ok := errors.As(err, &aggErr); ok {
		// 只返回第一个错误使得日志更清晰
		return aggErr.Errors[0]
	}
	return err
}
