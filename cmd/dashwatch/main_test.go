package main

import (
	"bytes"
	"context"
	"log/slog"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/clalos/dashwatch/internal/config"
)

func TestParseFlags(t *testing.T) {
	tests := []struct {
		name    string
		args    []string
		want    *options
		wantErr bool
	}{
		{
			name: "defaults to run",
			args: nil,
			want: &options{Command: cmdRun},
		},
		{
			name: "all options",
			args: []string{
				"-config", "dashwatch.yaml",
				"-camera", "rtsp://example.com/dash",
				"-interval", "30s",
				"-logfmt", "kv",
				"-loglevel", "debug",
				"once",
			},
			want: &options{
				Command:    cmdOnce,
				ConfigPath: "dashwatch.yaml",
				Camera:     "rtsp://example.com/dash",
				Interval:   30 * time.Second,
				LogFormat:  "kv",
				LogLevel:   "debug",
			},
		},
		{
			name: "static image discover",
			args: []string{"-image", "dashboard.png", "discover"},
			want: &options{Command: cmdDiscover, Image: "dashboard.png"},
		},
		{
			name: "cameras",
			args: []string{"cameras"},
			want: &options{Command: cmdCameras},
		},
		{
			name:    "unknown command",
			args:    []string{"serve"},
			wantErr: true,
		},
		{
			name:    "extra arguments",
			args:    []string{"run", "now"},
			wantErr: true,
		},
		{
			name:    "invalid log format",
			args:    []string{"-logfmt", "xml"},
			wantErr: true,
		},
		{
			name:    "negative interval",
			args:    []string{"-interval", "-1s"},
			wantErr: true,
		},
		{
			name:    "camera and image",
			args:    []string{"-camera", "0", "-image", "a.png"},
			wantErr: true,
		},
		{
			name:    "unknown flag",
			args:    []string{"-url", "rtsp://example.com"},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseFlags(tt.args)
			if (err != nil) != tt.wantErr {
				t.Errorf("parseFlags() error = %v, wantErr %v", err, tt.wantErr)
				return
			}
			if !tt.wantErr && !reflect.DeepEqual(got, tt.want) {
				t.Errorf("parseFlags() = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestOptionsApply(t *testing.T) {
	cfg := &config.Config{}
	cfg.Camera.Image = "old.png"
	cfg.Loop.Interval = time.Minute
	cfg.Loop.RetryBackoff = 15 * time.Second
	cfg.Log.Format = "json"

	opts := &options{Camera: "1", Interval: 10 * time.Second, LogLevel: "DEBUG"}
	opts.apply(cfg)

	if cfg.Camera.Source != "1" || cfg.Camera.Image != "" {
		t.Errorf("camera = %+v", cfg.Camera)
	}
	if cfg.Loop.Interval != 10*time.Second || cfg.Loop.RetryBackoff != 10*time.Second {
		t.Errorf("loop = %+v, want interval and backoff of 10s", cfg.Loop)
	}
	if cfg.Log.Format != "json" || cfg.Log.Level != "debug" {
		t.Errorf("log = %+v", cfg.Log)
	}
}

func TestSetupLogger(t *testing.T) {
	tests := []struct {
		name      string
		format    string
		level     string
		wantJSON  bool
		wantDebug bool
	}{
		{name: "json logger", format: "json", level: "info", wantJSON: true},
		{name: "kv logger", format: "kv", level: "info"},
		{name: "default to json", format: "invalid", level: "", wantJSON: true},
		{name: "debug level", format: "kv", level: "debug", wantDebug: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			logger := setupLogger(&buf, tt.format, tt.level)
			if logger == nil {
				t.Fatal("setupLogger() returned nil")
			}

			logger.Info("hello", "k", "v")
			if isJSON := strings.HasPrefix(buf.String(), "{"); isJSON != tt.wantJSON {
				t.Errorf("output %q, want json = %v", buf.String(), tt.wantJSON)
			}
			if got := logger.Enabled(context.Background(), slog.LevelDebug); got != tt.wantDebug {
				t.Errorf("debug enabled = %v, want %v", got, tt.wantDebug)
			}
		})
	}
}

func TestClosersReverseOrder(t *testing.T) {
	var order []int
	var c closers
	for i := 1; i <= 3; i++ {
		c.add(func() error {
			order = append(order, i)
			return nil
		})
	}
	if err := c.close(); err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(order, []int{3, 2, 1}) {
		t.Errorf("close order = %v, want [3 2 1]", order)
	}
}
