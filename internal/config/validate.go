package config

import (
	"errors"
	"fmt"
)

// Validate checks a normalized configuration.
func Validate(cfg *Config) error {
	var errs []error

	switch cfg.Log.Format {
	case "json", "kv":
	default:
		errs = append(errs, fmt.Errorf("log.format must be 'json' or 'kv', got %q", cfg.Log.Format))
	}

	switch cfg.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("log.level %q is not a slog level", cfg.Log.Level))
	}

	switch cfg.Vision.CapturePolicy {
	case "adjacent", "dot":
	default:
		errs = append(errs, fmt.Errorf("vision.capture_policy must be 'adjacent' or 'dot', got %q", cfg.Vision.CapturePolicy))
	}

	switch cfg.Registry.Backend {
	case "file":
	case "redis":
		if cfg.Registry.Redis.Addr == "" {
			errs = append(errs, errors.New("registry.redis.addr is required for the redis backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("registry.backend must be 'file' or 'redis', got %q", cfg.Registry.Backend))
	}

	if cfg.MQTT.QoS > 2 {
		errs = append(errs, fmt.Errorf("mqtt.qos must be 0, 1 or 2, got %d", cfg.MQTT.QoS))
	}
	switch cfg.MQTT.Codec {
	case "json", "msgpack":
	default:
		errs = append(errs, fmt.Errorf("mqtt.codec must be 'json' or 'msgpack', got %q", cfg.MQTT.Codec))
	}

	if cfg.Loop.RetryBackoff > cfg.Loop.Interval {
		errs = append(errs, fmt.Errorf("loop.retry_backoff %v exceeds loop.interval %v", cfg.Loop.RetryBackoff, cfg.Loop.Interval))
	}

	return errors.Join(errs...)
}
