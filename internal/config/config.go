package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"clinica/internal/models"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	App        AppConfig        `yaml:"app"`
	Database   DatabaseConfig   `yaml:"database"`
	Redis      RedisConfig      `yaml:"redis"`
	Backup     BackupConfig     `yaml:"backup"`
	Monitoring MonitoringConfig `yaml:"monitoring"`
	Logging    LoggingConfig    `yaml:"logging"`
	API        APIConfig        `yaml:"api"`
	Session    SessionConfig    `yaml:"session"`
	Admins     []string         `yaml:"admins"`
	Booking    BookingConfig    `yaml:"booking"`
	Kafka      KafkaConfig      `yaml:"kafka"`
	Telegram   TelegramConfig   `yaml:"telegram"`
	Google     GoogleConfig     `yaml:"google"`
	Exports    ExportConfig     `yaml:"exports"`
}

type AppConfig struct {
	Name        string `yaml:"name"`
	Environment string `yaml:"environment"`
	Version     string `yaml:"version"`
}

type APIConfig struct {
	HTTP      APIHTTPConfig      `yaml:"http"`
	GRPC      APIGRPCConfig      `yaml:"grpc"`
	Auth      APIAuthConfig      `yaml:"auth"`
	RateLimit APIRateLimitConfig `yaml:"rate_limit"`
}

type APIHTTPConfig struct {
	Port int `yaml:"port"`
	// SSEHeartbeat keeps idle event streams alive through proxies.
	SSEHeartbeat time.Duration `yaml:"sse_heartbeat"`
}

type APIGRPCConfig struct {
	Enabled    bool `yaml:"enabled"`
	Port       int  `yaml:"port"`
	Reflection bool `yaml:"reflection"`
}

// APIAuthConfig guards the gRPC health endpoint for infrastructure callers.
type APIAuthConfig struct {
	Enabled      bool           `yaml:"enabled"`
	HeaderAPIKey string         `yaml:"header_api_key"`
	APIKeys      []APIClientKey `yaml:"api_keys"`
}

type APIClientKey struct {
	Key  string `yaml:"key"`
	Name string `yaml:"name"`
}

type APIRateLimitConfig struct {
	RPS   float64 `yaml:"rps"`
	Burst int     `yaml:"burst"`
}

type SessionConfig struct {
	Secret   string        `yaml:"secret"`
	Issuer   string        `yaml:"issuer"`
	TokenTTL time.Duration `yaml:"token_ttl"`
}

type BookingConfig struct {
	IdempotencyTTL time.Duration `yaml:"idempotency_ttl"`
}

type DatabaseConfig struct {
	Path string `yaml:"path"`
}

type RedisConfig struct {
	Address       string `yaml:"address"`
	Password      string `yaml:"password"`
	DB            int    `yaml:"db"`
	PoolSize      int    `yaml:"pool_size"`
	RelayChannel  string `yaml:"relay_channel"`
	RelayDisabled bool   `yaml:"relay_disabled"`
}

type BackupConfig struct {
	Enabled       bool   `yaml:"enabled"`
	Schedule      string `yaml:"schedule"`
	RetentionDays int    `yaml:"retention_days"`
	StoragePath   string `yaml:"storage_path"`
}

type MonitoringConfig struct {
	PrometheusEnabled bool `yaml:"prometheus_enabled"`
	PrometheusPort    int  `yaml:"prometheus_port"`
}

type LoggingConfig struct {
	Level    string `yaml:"level"`
	Format   string `yaml:"format"`
	Output   string `yaml:"output"`
	FilePath string `yaml:"file_path"`
}

type KafkaConfig struct {
	Brokers []string `yaml:"brokers"`
	Topic   string   `yaml:"topic"`
}

type TelegramConfig struct {
	BotToken   string  `yaml:"bot_token"`
	AdminChats []int64 `yaml:"admin_chats"`
	Debug      bool    `yaml:"debug"`
}

type GoogleConfig struct {
	CredentialsFile string `yaml:"credentials_file"`
	SpreadsheetID   string `yaml:"spreadsheet_id"`
	SheetName       string `yaml:"sheet_name"`
}

type ExportConfig struct {
	SheetName string `yaml:"sheet_name"`
}

func Load(configPath string) (*Config, error) {
	// .env is optional outside of local development
	if err := godotenv.Load(".env"); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, err
	}

	expandedData := []byte(os.ExpandEnv(string(data)))

	var config Config
	if err := yaml.Unmarshal(expandedData, &config); err != nil {
		return nil, err
	}

	config.applyDefaults()

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

func (c *Config) Validate() error {
	if c.Database.Path == "" {
		return errors.New("database path is required")
	}

	if len(c.Session.Secret) < 16 {
		return errors.New("session secret must be at least 16 characters")
	}

	if c.API.HTTP.Port == c.API.GRPC.Port && c.API.GRPC.Enabled {
		return fmt.Errorf("http and grpc ports collide: %d", c.API.HTTP.Port)
	}

	if len(c.Kafka.Brokers) > 0 && c.Kafka.Topic == "" {
		return errors.New("kafka topic is required when brokers are set")
	}

	return ValidateAdmins(c.Admins)
}

func ValidateAdmins(admins []string) error {
	seen := make(map[string]bool)
	for _, admin := range admins {
		key := strings.ToLower(strings.TrimSpace(admin))
		if key == "" {
			return errors.New("admin entry is empty")
		}
		if seen[key] {
			return fmt.Errorf("duplicate admin entry: %s", admin)
		}
		seen[key] = true
	}
	return nil
}

func (c *Config) applyDefaults() {
	if c.API.HTTP.Port == 0 {
		c.API.HTTP.Port = 8080
	}
	if c.API.GRPC.Port == 0 {
		c.API.GRPC.Port = 8081
	}
	if c.API.HTTP.SSEHeartbeat == 0 {
		c.API.HTTP.SSEHeartbeat = 25 * time.Second
	}
	if c.API.Auth.HeaderAPIKey == "" {
		c.API.Auth.HeaderAPIKey = "x-api-key"
	}
	if c.Monitoring.PrometheusEnabled && c.Monitoring.PrometheusPort == 0 {
		c.Monitoring.PrometheusPort = 9090
	}
	if c.Session.Issuer == "" {
		c.Session.Issuer = "clinica-auth"
	}
	if c.Session.TokenTTL == 0 {
		c.Session.TokenTTL = time.Hour
	}
	if c.Booking.IdempotencyTTL == 0 {
		c.Booking.IdempotencyTTL = models.DefaultIdempotencyTTL
	}
	if c.Redis.RelayChannel == "" {
		c.Redis.RelayChannel = "clinica:appointments"
	}
	if c.Google.SheetName == "" {
		c.Google.SheetName = "Citas"
	}
	if c.Exports.SheetName == "" {
		c.Exports.SheetName = "Citas"
	}
}
