package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	Redis     RedisConfig
	Scheduler SchedulerConfig
	Delivery  DeliveryConfig
	Log       LogConfig
	LLM       LLMConfig
	Retention RetentionConfig
}

type ServerConfig struct {
	Address string
}

type DatabaseConfig struct {
	Driver      string
	SQLitePath  string
	PostgresURL string
}

// DSN is the connection string for the selected driver.
func (c DatabaseConfig) DSN() string {
	if c.Driver == "postgres" {
		return c.PostgresURL
	}
	return c.SQLitePath
}

type RedisConfig struct {
	Enabled  bool
	Address  string
	Password string
	DB       int
	TTL      time.Duration
}

type SchedulerConfig struct {
	Interval   time.Duration
	AutoStart  bool
	ContentMax int
}

type DeliveryConfig struct {
	WebhookURL        string
	WhatsAppEnabled   bool
	WhatsAppStorePath string
	CountryCode       string
	MinInterval       time.Duration
	Timeout           time.Duration
}

type LogConfig struct {
	Level  string
	Pretty bool
}

type LLMConfig struct {
	Enabled bool
	APIKey  string
	BaseURL string
	Model   string
}

type RetentionConfig struct {
	Enabled  bool
	Keep     time.Duration
	Schedule string
}

// LoadAll reads the configuration from the environment and reports every
// problem at once.
func LoadAll() (*Config, error) {
	var errs []error
	intVar := func(key string, def int) int {
		v, err := getEnvInt(key, def)
		if err != nil {
			errs = append(errs, err)
		}
		return v
	}
	boolVar := func(key string, def bool) bool {
		v, err := getEnvBool(key, def)
		if err != nil {
			errs = append(errs, err)
		}
		return v
	}

	cfg := &Config{
		Server: ServerConfig{
			Address: getEnv("SERVER_ADDRESS", ":8080"),
		},
		Database: DatabaseConfig{
			Driver:      strings.ToLower(getEnv("DB_DRIVER", "sqlite")),
			SQLitePath:  getEnv("SQLITE_PATH", "scheduler.db"),
			PostgresURL: os.Getenv("POSTGRES_URL"),
		},
		Scheduler: SchedulerConfig{
			Interval:   time.Duration(intVar("SCHED_INTERVAL_SECONDS", 60)) * time.Second,
			AutoStart:  boolVar("SCHED_AUTOSTART", true),
			ContentMax: intVar("CONTENT_MAX", 4096),
		},
		Delivery: DeliveryConfig{
			WebhookURL:        os.Getenv("WEBHOOK_URL"),
			WhatsAppEnabled:   boolVar("WHATSAPP_ENABLED", false),
			WhatsAppStorePath: getEnv("WHATSAPP_STORE_PATH", "whatsapp.db"),
			CountryCode:       os.Getenv("DEFAULT_COUNTRY_CODE"),
			MinInterval:       time.Duration(intVar("DELIVERY_MIN_INTERVAL_SECONDS", 0)) * time.Second,
			Timeout:           time.Duration(intVar("DELIVERY_TIMEOUT_SECONDS", 30)) * time.Second,
		},
		Log: LogConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Pretty: boolVar("LOG_PRETTY", false),
		},
		LLM: LLMConfig{
			APIKey:  os.Getenv("OPENAI_API_KEY"),
			BaseURL: os.Getenv("OPENAI_BASE_URL"),
			Model:   getEnv("OPENAI_MODEL", "gpt-4o-mini"),
		},
		Retention: RetentionConfig{
			Keep:     time.Duration(intVar("RETENTION_DAYS", 0)) * 24 * time.Hour,
			Schedule: getEnv("RETENTION_SCHEDULE", "@daily"),
		},
	}
	cfg.LLM.Enabled = cfg.LLM.APIKey != "" || cfg.LLM.BaseURL != ""
	cfg.Retention.Enabled = cfg.Retention.Keep > 0

	redis, redisErrs := loadRedisConfig()
	cfg.Redis = redis
	errs = append(errs, redisErrs...)

	if cfg.Database.Driver == "postgres" {
		if _, err := requireEnv("POSTGRES_URL"); err != nil {
			errs = append(errs, err)
		}
	}

	errs = append(errs, validate(cfg)...)
	if err := joinErrors(errs); err != nil {
		return nil, err
	}
	return cfg, nil
}

func loadRedisConfig() (RedisConfig, []error) {
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		return RedisConfig{Enabled: false}, nil
	}

	var errs []error
	db, err := getEnvInt("REDIS_DB", 0)
	if err != nil {
		errs = append(errs, err)
	}
	ttl, err := getEnvInt("REDIS_TTL_SECONDS", 86400)
	if err != nil {
		errs = append(errs, err)
	} else if ttl <= 0 {
		errs = append(errs, errors.New("REDIS_TTL_SECONDS must be > 0"))
	}

	return RedisConfig{
		Enabled:  true,
		Address:  addr,
		Password: os.Getenv("REDIS_PASSWORD"),
		DB:       db,
		TTL:      time.Duration(ttl) * time.Second,
	}, errs
}

func validate(cfg *Config) []error {
	var errs []error
	if cfg.Scheduler.Interval <= 0 {
		errs = append(errs, errors.New("SCHED_INTERVAL_SECONDS must be > 0"))
	}
	if cfg.Scheduler.ContentMax <= 0 {
		errs = append(errs, errors.New("CONTENT_MAX must be > 0"))
	}
	switch cfg.Database.Driver {
	case "sqlite", "postgres":
	default:
		errs = append(errs, fmt.Errorf("DB_DRIVER must be sqlite or postgres, got %q", cfg.Database.Driver))
	}
	if cfg.Delivery.WebhookURL == "" && !cfg.Delivery.WhatsAppEnabled {
		errs = append(errs, errors.New("a delivery channel is required: set WEBHOOK_URL or WHATSAPP_ENABLED"))
	}
	if cfg.Delivery.MinInterval < 0 {
		errs = append(errs, errors.New("DELIVERY_MIN_INTERVAL_SECONDS must be >= 0"))
	}
	if cfg.Delivery.Timeout <= 0 {
		errs = append(errs, errors.New("DELIVERY_TIMEOUT_SECONDS must be > 0"))
	}
	if cfg.Retention.Keep < 0 {
		errs = append(errs, errors.New("RETENTION_DAYS must be >= 0"))
	}
	return errs
}

func requireEnv(key string) (string, error) {
	val := os.Getenv(key)
	if val == "" {
		return "", fmt.Errorf("missing required env var: %s", key)
	}
	return val, nil
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getEnvInt(key string, def int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return def, fmt.Errorf("invalid int for env %s: %q", key, v)
	}
	return i, nil
}

func getEnvBool(key string, def bool) (bool, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def, fmt.Errorf("invalid bool for env %s: %q", key, v)
	}
	return b, nil
}

func joinErrors(errs []error) error {
	return errors.Join(errs...)
}
