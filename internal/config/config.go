// internal/config/config.go
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	yaml "go.yaml.in/yaml/v3"
)

type Config struct {
	HTTPAddr string         `yaml:"http_addr"`
	Log      LogConfig      `yaml:"log"`
	Database DatabaseConfig `yaml:"database"`
	Telegram TelegramConfig `yaml:"telegram"`
	AMQP     AMQPConfig     `yaml:"amqp"`
	Auth     AuthConfig     `yaml:"auth"`
	Dispatch DispatchConfig `yaml:"dispatch"`
	API      APIConfig      `yaml:"api"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // console | json
}

type DatabaseConfig struct {
	URL          string `yaml:"url"`
	User         string `yaml:"user"`
	Password     string `yaml:"password"`
	Host         string `yaml:"host"`
	Port         string `yaml:"port"`
	Name         string `yaml:"name"`
	SSLMode      string `yaml:"sslmode"`
	MaxOpenConns int    `yaml:"max_open_conns"`
}

type TelegramConfig struct {
	Token       string        `yaml:"token"`
	APIURL      string        `yaml:"api_url"`
	SendTimeout time.Duration `yaml:"send_timeout"`
	RatePerSec  int           `yaml:"rate_per_sec"`
}

// AMQPConfig selects the requeue event queue. An empty URL means the
// in-process queue, which only reaches subscribers in the same binary.
type AMQPConfig struct {
	URL   string `yaml:"url"`
	Queue string `yaml:"queue"`
}

type AuthConfig struct {
	JWTSecret string `yaml:"jwt_secret"`
}

type DispatchConfig struct {
	Schedule  string `yaml:"schedule"`
	BatchSize int    `yaml:"batch_size"`
}

type APIConfig struct {
	RatePerMinute int `yaml:"rate_per_minute"`
}

func Default() Config {
	return Config{
		HTTPAddr: ":8080",
		Log:      LogConfig{Level: "info", Format: "console"},
		Database: DatabaseConfig{Port: "5432", SSLMode: "disable", MaxOpenConns: 10},
		Telegram: TelegramConfig{
			APIURL:      "https://api.telegram.org",
			SendTimeout: 10 * time.Second,
			RatePerSec:  25,
		},
		AMQP:     AMQPConfig{Queue: "broadcast_requeued"},
		Dispatch: DispatchConfig{Schedule: "@every 30s", BatchSize: 50},
		API:      APIConfig{RatePerMinute: 120},
	}
}

// Load reads .env (if any), then CONFIG_FILE (if set), then the environment.
// Later sources win.
func Load() (Config, error) {
	cfg := Default()

	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return cfg, fmt.Errorf("load .env: %w", err)
	}

	if path := strings.TrimSpace(os.Getenv("CONFIG_FILE")); path != "" {
		if err := loadFile(path, &cfg); err != nil {
			return cfg, err
		}
	}

	if err := applyEnv(&cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func loadFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	return nil
}

func applyEnv(cfg *Config) error {
	str := func(key string, dst *string) {
		if v, ok := os.LookupEnv(key); ok && strings.TrimSpace(v) != "" {
			*dst = strings.TrimSpace(v)
		}
	}
	num := func(key string, dst *int) error {
		v, ok := os.LookupEnv(key)
		if !ok || strings.TrimSpace(v) == "" {
			return nil
		}
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
		*dst = n
		return nil
	}
	dur := func(key string, dst *time.Duration) error {
		v, ok := os.LookupEnv(key)
		if !ok || strings.TrimSpace(v) == "" {
			return nil
		}
		d, err := time.ParseDuration(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
		*dst = d
		return nil
	}

	str("HTTP_ADDR", &cfg.HTTPAddr)
	str("LOG_LEVEL", &cfg.Log.Level)
	str("LOG_FORMAT", &cfg.Log.Format)

	str("DATABASE_URL", &cfg.Database.URL)
	str("DB_USER", &cfg.Database.User)
	str("DB_PASSWORD", &cfg.Database.Password)
	str("DB_HOST", &cfg.Database.Host)
	str("DB_PORT", &cfg.Database.Port)
	str("DB_NAME", &cfg.Database.Name)
	str("DB_SSLMODE", &cfg.Database.SSLMode)

	str("BOT_TOKEN", &cfg.Telegram.Token)
	str("TELEGRAM_API_URL", &cfg.Telegram.APIURL)
	str("AMQP_URL", &cfg.AMQP.URL)
	str("AMQP_QUEUE", &cfg.AMQP.Queue)
	str("JWT_SECRET", &cfg.Auth.JWTSecret)
	str("DISPATCH_SCHEDULE", &cfg.Dispatch.Schedule)

	for _, f := range []func() error{
		func() error { return num("DB_MAX_OPEN_CONNS", &cfg.Database.MaxOpenConns) },
		func() error { return dur("SEND_TIMEOUT", &cfg.Telegram.SendTimeout) },
		func() error { return num("SEND_RATE_PER_SEC", &cfg.Telegram.RatePerSec) },
		func() error { return num("DISPATCH_BATCH_SIZE", &cfg.Dispatch.BatchSize) },
		func() error { return num("API_RATE_PER_MIN", &cfg.API.RatePerMinute) },
	} {
		if err := f(); err != nil {
			return err
		}
	}
	return nil
}

// DSN builds the lib/pq connection string. DATABASE_URL wins over the parts.
func (c DatabaseConfig) DSN() string {
	if c.URL != "" {
		return c.URL
	}
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(c.User, c.Password),
		Host:     c.Host + ":" + c.Port,
		Path:     "/" + c.Name,
		RawQuery: "sslmode=" + c.SSLMode,
	}
	return u.String()
}

// ValidateServer checks what the admin API needs.
func (c Config) ValidateServer() error {
	if c.Auth.JWTSecret == "" {
		return errors.New("JWT_SECRET is required")
	}
	return c.validateCommon()
}

// ValidateWorker checks what the dispatcher needs.
func (c Config) ValidateWorker() error {
	if c.Telegram.Token == "" {
		return errors.New("BOT_TOKEN is required")
	}
	if c.Dispatch.Schedule == "" {
		return errors.New("DISPATCH_SCHEDULE is required")
	}
	return c.validateCommon()
}

func (c Config) validateCommon() error {
	if c.Database.URL == "" && (c.Database.Host == "" || c.Database.Name == "") {
		return errors.New("DATABASE_URL or DB_HOST/DB_NAME is required")
	}
	if c.Telegram.SendTimeout <= 0 {
		return errors.New("SEND_TIMEOUT must be positive")
	}
	return nil
}
