// Package config loads the dashwatch configuration from a YAML file and the
// process environment.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the complete dashwatch configuration.
type Config struct {
	Log       LogConfig       `yaml:"log"`
	Camera    CameraConfig    `yaml:"camera"`
	Loop      LoopConfig      `yaml:"loop"`
	Vision    VisionConfig    `yaml:"vision"`
	OCR       OCRConfig       `yaml:"ocr"`
	Registry  RegistryConfig  `yaml:"registry"`
	Alerts    AlertConfig     `yaml:"alerts"`
	StatusLog StatusLogConfig `yaml:"status_log"`
	Server    ServerConfig    `yaml:"server"`
	MQTT      MQTTConfig      `yaml:"mqtt"`
}

// LogConfig selects the slog handler.
type LogConfig struct {
	Format string `yaml:"format"` // json or kv
	Level  string `yaml:"level"`  // debug, info, warn, error
}

// CameraConfig describes the frame source.
type CameraConfig struct {
	// Source is a device index ("0"), a stream URL or a video file path.
	Source string `yaml:"source"`
	// Image replaces the camera with a static image when set.
	Image             string        `yaml:"image"`
	MaxFailures       int           `yaml:"max_failures"`
	BreakerTimeout    time.Duration `yaml:"breaker_timeout"`
	RecoveryThreshold int           `yaml:"recovery_threshold"`
	ReconnectAttempts int           `yaml:"reconnect_attempts"`
	ReconnectBudget   time.Duration `yaml:"reconnect_budget"`
	ProbeDevices      int           `yaml:"probe_devices"`
}

// LoopConfig controls cycle scheduling.
type LoopConfig struct {
	Interval               time.Duration `yaml:"interval"`
	RetryBackoff           time.Duration `yaml:"retry_backoff"`
	MaxConsecutiveFailures int           `yaml:"max_consecutive_failures"`
}

// VisionConfig controls region extraction.
type VisionConfig struct {
	CapturePolicy  string `yaml:"capture_policy"` // adjacent or dot
	DiagnosticsDir string `yaml:"diagnostics_dir"`
}

// OCRConfig configures the Tesseract reader.
type OCRConfig struct {
	Language string `yaml:"language"`
}

// RegistryConfig selects the service registry backend.
type RegistryConfig struct {
	Backend string      `yaml:"backend"` // file or redis
	Path    string      `yaml:"path"`
	Redis   RedisConfig `yaml:"redis"`
}

// RedisConfig addresses a Redis registry.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Prefix   string `yaml:"prefix"`
}

// AlertConfig enables the alert channels.
type AlertConfig struct {
	Email     EmailConfig     `yaml:"email"`
	Messaging MessagingConfig `yaml:"messaging"`
	// SMTP is filled from the environment only.
	SMTP SMTPConfig `yaml:"-"`
}

// EmailConfig toggles email alerts.
type EmailConfig struct {
	Enabled bool `yaml:"enabled"`
}

// MessagingConfig configures WhatsApp Web delivery.
type MessagingConfig struct {
	Enabled    bool          `yaml:"enabled"`
	LeadTime   time.Duration `yaml:"lead_time"`
	ProfileDir string        `yaml:"profile_dir"`
	Headless   bool          `yaml:"headless"`
	Timeout    time.Duration `yaml:"timeout"`
}

// SMTPConfig holds mail transfer credentials.
type SMTPConfig struct {
	Sender   string
	Password string
	Host     string
	Port     int
}

// StatusLogConfig selects where observations are recorded.
type StatusLogConfig struct {
	Dir         string `yaml:"dir"`
	PostgresDSN string `yaml:"postgres_dsn"`
}

// ServerConfig configures the status HTTP surface. An empty Addr disables it.
type ServerConfig struct {
	Addr string `yaml:"addr"`
}

// MQTTConfig configures the result emitter. An empty Broker disables it.
type MQTTConfig struct {
	Broker   string `yaml:"broker"`
	ClientID string `yaml:"client_id"`
	Topic    string `yaml:"topic"`
	QoS      byte   `yaml:"qos"`
	Codec    string `yaml:"codec"` // json or msgpack
}

// Load reads the YAML file at path (optional), applies the SMTP environment
// and fills defaults.
func Load(path string) (*Config, error) {
	cfg := &Config{}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	cfg.Alerts.SMTP = smtpFromEnv()
	Normalize(cfg)
	return cfg, nil
}

func smtpFromEnv() SMTPConfig {
	return SMTPConfig{
		Sender:   os.Getenv("EMAIL_SENDER"),
		Password: os.Getenv("EMAIL_PASSWORD"),
		Host:     getEnv("SMTP_SERVER", "smtp.gmail.com"),
		Port:     getEnvInt("SMTP_PORT", 587),
	}
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getEnvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}
