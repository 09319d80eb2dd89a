// Command dashwatch watches a physical status dashboard through a camera,
// reads the label next to every red or green indicator and alerts the
// owners of services shown as DOWN.
//
// Usage:
//
//	dashwatch [flags] [run|once|discover|cameras]
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/clalos/dashwatch/internal/config"
)

const (
	cmdRun      = "run"
	cmdOnce     = "once"
	cmdDiscover = "discover"
	cmdCameras  = "cameras"
)

// options are the command line flags. Non-zero values override the file.
type options struct {
	Command    string
	ConfigPath string
	Camera     string
	Image      string
	Interval   time.Duration
	LogFormat  string
	LogLevel   string
}

// parseFlags parses args, excluding the program name.
func parseFlags(args []string) (*options, error) {
	// Create a new FlagSet to avoid global flag conflicts in tests
	fs := flag.NewFlagSet("dashwatch", flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	var (
		configPath = fs.String("config", "", "Path to the YAML configuration file")
		camera     = fs.String("camera", "", "Camera device index, stream URL or video file")
		image      = fs.String("image", "", "Read frames from a static image instead of a camera")
		interval   = fs.Duration("interval", 0, "Delay between monitoring cycles")
		logfmt     = fs.String("logfmt", "", "Log format: json or kv")
		loglevel   = fs.String("loglevel", "", "Log level: debug, info, warn or error")
	)

	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	command := cmdRun
	switch rest := fs.Args(); len(rest) {
	case 0:
	case 1:
		command = rest[0]
	default:
		return nil, fmt.Errorf("unexpected arguments: %s", strings.Join(rest[1:], " "))
	}
	switch command {
	case cmdRun, cmdOnce, cmdDiscover, cmdCameras:
	default:
		return nil, fmt.Errorf("unknown command %q", command)
	}

	if *logfmt != "" && *logfmt != "json" && *logfmt != "kv" {
		return nil, fmt.Errorf("logfmt must be 'json' or 'kv'")
	}
	if *interval < 0 {
		return nil, fmt.Errorf("interval must be positive")
	}
	if *camera != "" && *image != "" {
		return nil, fmt.Errorf("camera and image are mutually exclusive")
	}

	return &options{
		Command:    command,
		ConfigPath: *configPath,
		Camera:     *camera,
		Image:      *image,
		Interval:   *interval,
		LogFormat:  *logfmt,
		LogLevel:   *loglevel,
	}, nil
}

// apply overlays the flags on cfg.
func (o *options) apply(cfg *config.Config) {
	if o.Camera != "" {
		cfg.Camera.Source = o.Camera
		cfg.Camera.Image = ""
	}
	if o.Image != "" {
		cfg.Camera.Image = o.Image
	}
	if o.Interval > 0 {
		cfg.Loop.Interval = o.Interval
		if cfg.Loop.RetryBackoff > o.Interval {
			cfg.Loop.RetryBackoff = o.Interval
		}
	}
	if o.LogFormat != "" {
		cfg.Log.Format = o.LogFormat
	}
	if o.LogLevel != "" {
		cfg.Log.Level = strings.ToLower(o.LogLevel)
	}
}

// setupLogger configures structured logging based on the specified format
// and level.
func setupLogger(w io.Writer, format, level string) *slog.Logger {
	var handler slog.Handler

	opts := &slog.HandlerOptions{
		Level: parseLevel(level),
	}

	switch format {
	case "json":
		handler = slog.NewJSONHandler(w, opts)
	case "kv":
		handler = slog.NewTextHandler(w, opts)
	default:
		handler = slog.NewJSONHandler(w, opts)
	}

	return slog.New(handler)
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func main() {
	opts, err := parseFlags(os.Args[1:])
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error parsing flags: %v\n", err)
		os.Exit(2)
	}

	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}
	opts.apply(cfg)
	if err := config.Validate(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid configuration: %v\n", err)
		os.Exit(1)
	}

	// Logs go to stderr so once and discover can print results on stdout.
	logger := setupLogger(os.Stderr, cfg.Log.Format, cfg.Log.Level)
	slog.SetDefault(logger)

	// Create context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-sigChan
		logger.Info("Received shutdown signal, stopping...")
		cancel()
	}()

	if err := run(ctx, opts.Command, cfg, logger); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("dashwatch failed", "command", opts.Command, "error", err)
		os.Exit(1)
	}
}
