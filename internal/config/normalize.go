package config

import (
	"strings"
	"time"
)

// Defaults.
const (
	DefaultInterval               = 60 * time.Second
	DefaultRetryBackoff           = 5 * time.Second
	DefaultMaxConsecutiveFailures = 30
	DefaultMaxFailures            = 5
	DefaultBreakerTimeout         = 30 * time.Second
	DefaultRecoveryThreshold      = 3
	DefaultReconnectAttempts      = 10
	DefaultReconnectBudget        = 30 * time.Second
	DefaultProbeDevices           = 10
	DefaultLeadTime               = 2 * time.Minute
	DefaultMessagingTimeout       = 90 * time.Second
)

// Normalize fills zero values with defaults and canonicalizes enum strings.
func Normalize(cfg *Config) {
	cfg.Log.Format = lowerOr(cfg.Log.Format, "json")
	cfg.Log.Level = lowerOr(cfg.Log.Level, "info")

	if cfg.Camera.Source == "" && cfg.Camera.Image == "" {
		cfg.Camera.Source = "0"
	}
	if cfg.Camera.MaxFailures <= 0 {
		cfg.Camera.MaxFailures = DefaultMaxFailures
	}
	if cfg.Camera.BreakerTimeout <= 0 {
		cfg.Camera.BreakerTimeout = DefaultBreakerTimeout
	}
	if cfg.Camera.RecoveryThreshold <= 0 {
		cfg.Camera.RecoveryThreshold = DefaultRecoveryThreshold
	}
	if cfg.Camera.ReconnectAttempts <= 0 {
		cfg.Camera.ReconnectAttempts = DefaultReconnectAttempts
	}
	if cfg.Camera.ReconnectBudget <= 0 {
		cfg.Camera.ReconnectBudget = DefaultReconnectBudget
	}
	if cfg.Camera.ProbeDevices <= 0 {
		cfg.Camera.ProbeDevices = DefaultProbeDevices
	}

	if cfg.Loop.Interval <= 0 {
		cfg.Loop.Interval = DefaultInterval
	}
	if cfg.Loop.RetryBackoff <= 0 {
		cfg.Loop.RetryBackoff = DefaultRetryBackoff
	}
	if cfg.Loop.MaxConsecutiveFailures <= 0 {
		cfg.Loop.MaxConsecutiveFailures = DefaultMaxConsecutiveFailures
	}

	cfg.Vision.CapturePolicy = lowerOr(cfg.Vision.CapturePolicy, "adjacent")
	if cfg.OCR.Language == "" {
		cfg.OCR.Language = "eng"
	}

	cfg.Registry.Backend = lowerOr(cfg.Registry.Backend, "file")
	if cfg.Registry.Path == "" {
		cfg.Registry.Path = "service_config.json"
	}
	if cfg.Registry.Redis.Prefix == "" {
		cfg.Registry.Redis.Prefix = "dashwatch:"
	}

	if cfg.Alerts.Messaging.LeadTime <= 0 {
		cfg.Alerts.Messaging.LeadTime = DefaultLeadTime
	}
	if cfg.Alerts.Messaging.Timeout <= 0 {
		cfg.Alerts.Messaging.Timeout = DefaultMessagingTimeout
	}

	if cfg.StatusLog.Dir == "" {
		cfg.StatusLog.Dir = "service_logs"
	}

	if cfg.MQTT.Topic == "" {
		cfg.MQTT.Topic = "dashwatch"
	}
	if cfg.MQTT.ClientID == "" {
		cfg.MQTT.ClientID = "dashwatch"
	}
	cfg.MQTT.Codec = lowerOr(cfg.MQTT.Codec, "json")
}

func lowerOr(v, def string) string {
	v = strings.ToLower(strings.TrimSpace(v))
	if v == "" {
		return def
	}
	return v
}
