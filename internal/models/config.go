package models

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v2"
)

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"

	DefaultMaxUploadBytes    = 50 << 20
	DefaultMaxFilesPerUpload = 20
	// DefaultMaxImagePixels is 0x3FFF squared, large enough for any camera.
	DefaultMaxImagePixels = 268_402_689
)

type Config struct {
	ServerAddr        string   `yaml:"server_addr"`
	DatabaseDriver    string   `yaml:"database_driver"`
	DatabaseURL       string   `yaml:"database_url"`
	UploadsDir        string   `yaml:"uploads_dir"`
	MaxUploadBytes    int64    `yaml:"max_upload_bytes"`
	MaxFilesPerUpload int      `yaml:"max_files_per_upload"`
	MaxImagePixels    int64    `yaml:"max_image_pixels"`
	AdminToken        string   `yaml:"admin_token"`
	KafkaBroker       string   `yaml:"kafka_broker"`
	KafkaTopic        string   `yaml:"kafka_topic"`
	KafkaGroupID      string   `yaml:"kafka_group_id"`
	CORSOrigins       []string `yaml:"cors_origins"`
	TrustedProxies    []string `yaml:"trusted_proxies"`
	RateLimitRPS      float64  `yaml:"rate_limit_rps"`
	RateLimitBurst    int      `yaml:"rate_limit_burst"`
	LogLevel          string   `yaml:"log_level"`
	LogFormat         string   `yaml:"log_format"`
}

// LoadConfig reads path (a missing file is not an error), applies GALLERY_*
// environment overrides and defaults, then validates the result.
func LoadConfig(path string) (*Config, error) {
	const op = "models.LoadConfig"

	var cfg Config
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
	case errors.Is(err, os.ErrNotExist):
	default:
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	cfg.applyEnv()
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return &cfg, nil
}

func (c *Config) applyEnv() {
	readEnvString("GALLERY_SERVER_ADDR", &c.ServerAddr)
	readEnvString("GALLERY_DATABASE_DRIVER", &c.DatabaseDriver)
	readEnvString("GALLERY_DATABASE_URL", &c.DatabaseURL)
	readEnvString("GALLERY_UPLOADS_DIR", &c.UploadsDir)
	readEnvInt64("GALLERY_MAX_UPLOAD_BYTES", &c.MaxUploadBytes)
	readEnvInt("GALLERY_MAX_FILES_PER_UPLOAD", &c.MaxFilesPerUpload)
	readEnvInt64("GALLERY_MAX_IMAGE_PIXELS", &c.MaxImagePixels)
	readEnvString("GALLERY_ADMIN_TOKEN", &c.AdminToken)
	readEnvString("GALLERY_KAFKA_BROKER", &c.KafkaBroker)
	readEnvString("GALLERY_KAFKA_TOPIC", &c.KafkaTopic)
	readEnvString("GALLERY_KAFKA_GROUP_ID", &c.KafkaGroupID)
	readEnvFloat("GALLERY_RATE_LIMIT_RPS", &c.RateLimitRPS)
	readEnvInt("GALLERY_RATE_LIMIT_BURST", &c.RateLimitBurst)
	readEnvString("GALLERY_LOG_LEVEL", &c.LogLevel)
	readEnvString("GALLERY_LOG_FORMAT", &c.LogFormat)
	if v := os.Getenv("GALLERY_CORS_ORIGINS"); v != "" {
		c.CORSOrigins = strings.Split(v, ",")
	}
	if v := os.Getenv("GALLERY_TRUSTED_PROXIES"); v != "" {
		c.TrustedProxies = strings.Split(v, ",")
	}
}

func (c *Config) applyDefaults() {
	if c.ServerAddr == "" {
		c.ServerAddr = ":8080"
	}
	if c.DatabaseDriver == "" {
		c.DatabaseDriver = DriverSQLite
	}
	if c.DatabaseURL == "" && c.DatabaseDriver == DriverSQLite {
		c.DatabaseURL = "./database.sqlite"
	}
	if c.UploadsDir == "" {
		c.UploadsDir = "uploads"
	}
	if c.MaxUploadBytes == 0 {
		c.MaxUploadBytes = DefaultMaxUploadBytes
	}
	if c.MaxFilesPerUpload == 0 {
		c.MaxFilesPerUpload = DefaultMaxFilesPerUpload
	}
	if c.MaxImagePixels == 0 {
		c.MaxImagePixels = DefaultMaxImagePixels
	}
	if c.KafkaTopic == "" {
		c.KafkaTopic = "gallery-events"
	}
	if c.KafkaGroupID == "" {
		c.KafkaGroupID = "gallery-orphan-sweeper"
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
}

func (c *Config) Validate() error {
	switch c.DatabaseDriver {
	case DriverSQLite, DriverPostgres:
	default:
		return fmt.Errorf("unknown database_driver %q", c.DatabaseDriver)
	}
	if c.DatabaseURL == "" {
		return fmt.Errorf("database_url is required for driver %q", c.DatabaseDriver)
	}
	if strings.TrimSpace(c.UploadsDir) == "" {
		return fmt.Errorf("uploads_dir cannot be empty")
	}
	if c.MaxUploadBytes < 0 {
		return fmt.Errorf("max_upload_bytes must be positive, got %d", c.MaxUploadBytes)
	}
	if c.MaxFilesPerUpload < 0 {
		return fmt.Errorf("max_files_per_upload must be positive, got %d", c.MaxFilesPerUpload)
	}
	if c.MaxImagePixels < 0 {
		return fmt.Errorf("max_image_pixels must be positive, got %d", c.MaxImagePixels)
	}
	if c.RateLimitRPS < 0 || c.RateLimitBurst < 0 {
		return fmt.Errorf("rate limit values cannot be negative")
	}
	return nil
}

// EventsEnabled reports whether a Kafka broker is configured.
func (c *Config) EventsEnabled() bool {
	return c.KafkaBroker != ""
}

func readEnvString(name string, value *string) {
	if v := os.Getenv(name); v != "" {
		*value = v
	}
}

func readEnvInt(name string, value *int) {
	v := os.Getenv(name)
	if v == "" {
		return
	}
	if n, err := strconv.Atoi(v); err == nil {
		*value = n
	}
}

func readEnvInt64(name string, value *int64) {
	v := os.Getenv(name)
	if v == "" {
		return
	}
	if n, err := strconv.ParseInt(v, 10, 64); err == nil {
		*value = n
	}
}

func readEnvFloat(name string, value *float64) {
	v := os.Getenv(name)
	if v == "" {
		return
	}
	if f, err := strconv.ParseFloat(v, 64); err == nil {
		*value = f
	}
}
