package internal

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Server        ServerConfig        `mapstructure:"http_server"`
	Database      DatabaseConfig      `mapstructure:"database"`
	Hypay         HypayConfig         `mapstructure:"hypay"`
	Idempotency   IdempotencyConfig   `mapstructure:"idempotency"`
	Admin         AdminConfig         `mapstructure:"admin"`
	Observability ObservabilityConfig `mapstructure:"observability"`
}

type ServerConfig struct {
	Port              int           `mapstructure:"port"`
	BaseURL           string        `mapstructure:"base_url"`
	ReadHeaderTimeout time.Duration `mapstructure:"read_header_timeout"`
	ReadTimeout       time.Duration `mapstructure:"read_timeout"`
	IdleTimeout       time.Duration `mapstructure:"idle_timeout"`
	WriteTimeout      time.Duration `mapstructure:"write_timeout"`
}

type DatabaseConfig struct {
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `mapstructure:"conn_max_idle_time"`
	Source          string        `mapstructure:"source"`
}

// HypayConfig carries the gateway credentials and the redirect targets for
// callback handling. Passphrase signs parameter strings; APIKey authenticates
// API calls and the invoice-fetch signature.
type HypayConfig struct {
	TerminalID     string        `mapstructure:"terminal_id"`
	APIKey         string        `mapstructure:"api_key"`
	Passphrase     string        `mapstructure:"passphrase"`
	BaseURL        string        `mapstructure:"base_url"`
	SuccessPageURL string        `mapstructure:"success_page_url"`
	FailurePageURL string        `mapstructure:"failure_page_url"`
	VerifyTimeout  time.Duration `mapstructure:"verify_timeout"`
}

type IdempotencyConfig struct {
	Backend      string        `mapstructure:"backend"`
	RedisAddr    string        `mapstructure:"redis_addr"`
	TTL          time.Duration `mapstructure:"ttl"`
	PendingStall time.Duration `mapstructure:"pending_stall"`
	WaitInterval time.Duration `mapstructure:"wait_interval"`
	WaitTimeout  time.Duration `mapstructure:"wait_timeout"`
}

type AdminConfig struct {
	CleanupToken string `mapstructure:"cleanup_token"`
}

type ObservabilityConfig struct {
	Metrics MetricsConfig `mapstructure:"metrics"`
	Logging LoggingConfig `mapstructure:"logging"`
}

type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// ----------------- ENV FALLBACK -----------------

// LoadConfigFromEnv builds a Config purely from environment variables, used
// for containerized deployments where no config file is mounted.
func LoadConfigFromEnv() *Config {
	return &Config{
		Server: ServerConfig{
			Port:              getEnvAsInt("SERVER_PORT", 8080),
			BaseURL:           getEnv("SERVER_BASE_URL", "http://localhost:8080"),
			ReadHeaderTimeout: getEnvAsDuration("SERVER_READ_HEADER_TIMEOUT", 5*time.Second),
			ReadTimeout:       getEnvAsDuration("SERVER_READ_TIMEOUT", 15*time.Second),
			IdleTimeout:       getEnvAsDuration("SERVER_IDLE_TIMEOUT", 60*time.Second),
			WriteTimeout:      getEnvAsDuration("SERVER_WRITE_TIMEOUT", 15*time.Second),
		},
		Database: DatabaseConfig{
			MaxOpenConns:    getEnvAsInt("DB_MAX_OPEN_CONNS", 20),
			MaxIdleConns:    getEnvAsInt("DB_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: getEnvAsDuration("DB_CONN_MAX_LIFETIME", 30*time.Minute),
			ConnMaxIdleTime: getEnvAsDuration("DB_CONN_MAX_IDLE_TIME", 5*time.Minute),
			Source:          getEnv("DATABASE_URL", ""),
		},
		Hypay: HypayConfig{
			TerminalID:     getEnv("HYPAY_TERMINAL_ID", ""),
			APIKey:         getEnv("HYPAY_API_KEY", ""),
			Passphrase:     getEnv("HYPAY_PASSPHRASE", ""),
			BaseURL:        getEnv("HYPAY_BASE_URL", "https://pay.hyp.co.il/p/"),
			SuccessPageURL: getEnv("HYPAY_SUCCESS_PAGE_URL", "/payment/success"),
			FailurePageURL: getEnv("HYPAY_FAILURE_PAGE_URL", "/payment/failure"),
			VerifyTimeout:  getEnvAsDuration("HYPAY_VERIFY_TIMEOUT", 10*time.Second),
		},
		Idempotency: IdempotencyConfig{
			Backend:      getEnv("IDEMPOTENCY_BACKEND", "postgres"),
			RedisAddr:    getEnv("IDEMPOTENCY_REDIS_ADDR", ""),
			TTL:          getEnvAsDuration("IDEMPOTENCY_TTL", 24*time.Hour),
			PendingStall: getEnvAsDuration("IDEMPOTENCY_PENDING_STALL", time.Hour),
			WaitInterval: getEnvAsDuration("IDEMPOTENCY_WAIT_INTERVAL", 200*time.Millisecond),
			WaitTimeout:  getEnvAsDuration("IDEMPOTENCY_WAIT_TIMEOUT", 10*time.Second),
		},
		Admin: AdminConfig{
			CleanupToken: getEnv("ADMIN_CLEANUP_TOKEN", ""),
		},
		Observability: ObservabilityConfig{
			Metrics: MetricsConfig{
				Enabled: getEnv("METRICS_ENABLED", "true") == "true",
				Path:    getEnv("METRICS_PATH", "/metrics"),
			},
			Logging: LoggingConfig{
				Level:  getEnv("LOG_LEVEL", "info"),
				Format: getEnv("LOG_FORMAT", "json"),
			},
		},
	}
}

func getEnv(key, defaultVal string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultVal
}

func getEnvAsInt(key string, defaultVal int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultVal
}

func getEnvAsDuration(key string, defaultVal time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultVal
}

// ----------------- VALIDATION -----------------

func (c *Config) Validate() error {
	var errs []string

	if err := c.Server.Validate(); err != nil {
		errs = append(errs, fmt.Sprintf("server config: %v", err))
	}

	if err := c.Database.Validate(); err != nil {
		errs = append(errs, fmt.Sprintf("database config: %v", err))
	}

	if err := c.Hypay.Validate(); err != nil {
		errs = append(errs, fmt.Sprintf("hypay config: %v", err))
	}

	if err := c.Idempotency.Validate(); err != nil {
		errs = append(errs, fmt.Sprintf("idempotency config: %v", err))
	}

	if len(errs) > 0 {
		return errors.New(strings.Join(errs, "; "))
	}

	return nil
}

func (c *ServerConfig) Validate() error {
	if c.ReadTimeout < c.ReadHeaderTimeout {
		return errors.New("read_timeout must be >= read_header_timeout")
	}
	return nil
}

func (c *DatabaseConfig) Validate() error {
	if c.Source == "" {
		return errors.New("source is required")
	}
	if c.MaxIdleConns > c.MaxOpenConns {
		return errors.New("max_idle_conns cannot be greater than max_open_conns")
	}
	return nil
}

func (c *DatabaseConfig) GetDSN() string {
	return c.Source
}

func (c *HypayConfig) Validate() error {
	if c.TerminalID == "" {
		return errors.New("terminal_id is required")
	}
	if c.APIKey == "" {
		return errors.New("api_key is required")
	}
	if c.Passphrase == "" {
		return errors.New("passphrase is required")
	}
	if _, err := url.Parse(c.BaseURL); err != nil || c.BaseURL == "" {
		return fmt.Errorf("invalid base_url %q", c.BaseURL)
	}
	if c.VerifyTimeout <= 0 {
		return errors.New("verify_timeout must be positive")
	}
	return nil
}

func (c *IdempotencyConfig) Validate() error {
	switch c.Backend {
	case "", "postgres":
	case "redis":
		if c.RedisAddr == "" {
			return errors.New("redis_addr is required when backend is redis")
		}
	default:
		return fmt.Errorf("unknown backend %q", c.Backend)
	}
	if c.TTL <= 0 {
		return errors.New("ttl must be positive")
	}
	if c.PendingStall <= 0 {
		return errors.New("pending_stall must be positive")
	}
	if c.WaitTimeout <= c.WaitInterval {
		return errors.New("wait_timeout must be greater than wait_interval")
	}
	return nil
}
