package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"github.com/clalos/dashwatch/internal/alert"
	"github.com/clalos/dashwatch/internal/capture"
	"github.com/clalos/dashwatch/internal/config"
	"github.com/clalos/dashwatch/internal/emitter"
	"github.com/clalos/dashwatch/internal/metrics"
	"github.com/clalos/dashwatch/internal/monitor"
	"github.com/clalos/dashwatch/internal/ocr"
	"github.com/clalos/dashwatch/internal/pipeline"
	"github.com/clalos/dashwatch/internal/registry"
	"github.com/clalos/dashwatch/internal/server"
	"github.com/clalos/dashwatch/internal/statuslog"
	"github.com/clalos/dashwatch/internal/vision"
)

// closers releases resources in reverse acquisition order.
type closers []func() error

func (c *closers) add(fn func() error) { *c = append(*c, fn) }

func (c closers) close() error {
	var errs []error
	for i := len(c) - 1; i >= 0; i-- {
		if err := c[i](); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func run(ctx context.Context, command string, cfg *config.Config, logger *slog.Logger) error {
	if command == cmdCameras {
		return listCameras(os.Stdout, cfg)
	}

	m := metrics.New(prometheus.DefaultRegisterer)

	var res closers
	defer func() {
		if err := res.close(); err != nil {
			logger.Warn("Error releasing resources", "error", err)
		}
	}()

	p, err := buildPipeline(ctx, cfg, logger, m, &res)
	if err != nil {
		return err
	}

	switch command {
	case cmdOnce:
		result, err := p.RunCycle(ctx)
		if err != nil {
			return err
		}
		return printJSON(os.Stdout, result)
	case cmdDiscover:
		names, err := p.Discover(ctx)
		if err != nil {
			return err
		}
		for _, name := range names {
			fmt.Fprintln(os.Stdout, name)
		}
		logger.Info("Discovery complete", "services", len(names))
		return nil
	default:
		return monitorLoop(ctx, cfg, p, logger, m, &res)
	}
}

func buildPipeline(ctx context.Context, cfg *config.Config, logger *slog.Logger, m *metrics.Metrics, res *closers) (*pipeline.Pipeline, error) {
	source, err := openSource(cfg, logger, m)
	if err != nil {
		return nil, err
	}
	res.add(source.Close)

	reader, err := ocr.NewTesseractReader(cfg.OCR.Language, logger)
	if err != nil {
		return nil, err
	}
	res.add(reader.Close)

	policy, err := vision.ParseCapturePolicy(cfg.Vision.CapturePolicy)
	if err != nil {
		return nil, err
	}

	reg := registry.LoadRegistry(ctx, registryStore(cfg, res), logger)

	logger.Info("Pipeline ready",
		"source", sourceName(cfg),
		"language", cfg.OCR.Language,
		"capture_policy", policy,
		"registry_backend", cfg.Registry.Backend)

	return pipeline.New(source, reader, reg, pipeline.Options{
		Policy:         policy,
		DiagnosticsDir: cfg.Vision.DiagnosticsDir,
	}, logger, m), nil
}

func openSource(cfg *config.Config, logger *slog.Logger, m *metrics.Metrics) (capture.Source, error) {
	if cfg.Camera.Image != "" {
		return capture.OpenImageFile(cfg.Camera.Image)
	}
	return capture.OpenCamera(capture.Config{
		Source:            cfg.Camera.Source,
		MaxFailures:       cfg.Camera.MaxFailures,
		BreakerTimeout:    cfg.Camera.BreakerTimeout,
		RecoveryThreshold: cfg.Camera.RecoveryThreshold,
		ReconnectAttempts: cfg.Camera.ReconnectAttempts,
		ReconnectBudget:   cfg.Camera.ReconnectBudget,
	}, logger, m)
}

func sourceName(cfg *config.Config) string {
	if cfg.Camera.Image != "" {
		return cfg.Camera.Image
	}
	return cfg.Camera.Source
}

func registryStore(cfg *config.Config, res *closers) registry.Store {
	if cfg.Registry.Backend != "redis" {
		return registry.FileStore{Path: cfg.Registry.Path}
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Registry.Redis.Addr,
		Password: cfg.Registry.Redis.Password,
		DB:       cfg.Registry.Redis.DB,
	})
	res.add(client.Close)
	return registry.RedisStore{Client: client, Prefix: cfg.Registry.Redis.Prefix}
}

func monitorLoop(ctx context.Context, cfg *config.Config, p *pipeline.Pipeline, logger *slog.Logger, m *metrics.Metrics, res *closers) error {
	recorder, err := openRecorder(ctx, cfg, logger, res)
	if err != nil {
		return err
	}
	dispatchers, err := openDispatchers(cfg, logger, res)
	if err != nil {
		return err
	}

	mailbox := pipeline.NewMailbox()
	sinks := []pipeline.Sink{
		monitor.New(recorder, logger, m, dispatchers...),
		mailbox,
	}

	if cfg.MQTT.Broker != "" {
		codec, err := emitter.NewCodec(cfg.MQTT.Codec)
		if err != nil {
			return err
		}
		em := emitter.NewMQTTEmitter(emitter.Config{
			Broker:   cfg.MQTT.Broker,
			ClientID: cfg.MQTT.ClientID,
			Topic:    cfg.MQTT.Topic,
			QoS:      cfg.MQTT.QoS,
			Codec:    codec,
		}, logger)
		if err := em.Connect(ctx); err != nil {
			logger.Warn("MQTT broker unreachable, results will be published once it connects", "error", err)
		}
		res.add(em.Close)
		sinks = append(sinks, em)
	}

	var wg sync.WaitGroup
	serverCtx, stopServer := context.WithCancel(ctx)
	defer func() {
		stopServer()
		wg.Wait()
	}()
	if cfg.Server.Addr != "" {
		srv := server.New(mailbox, prometheus.DefaultGatherer, logger)
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := srv.ListenAndServe(serverCtx, cfg.Server.Addr); err != nil {
				logger.Error("Status server failed", "error", err)
			}
		}()
	}

	loop := pipeline.NewLoop(p, pipeline.LoopConfig{
		Interval:               cfg.Loop.Interval,
		RetryBackoff:           cfg.Loop.RetryBackoff,
		MaxConsecutiveFailures: cfg.Loop.MaxConsecutiveFailures,
	}, logger, sinks...)
	return loop.Run(ctx)
}

func openRecorder(ctx context.Context, cfg *config.Config, logger *slog.Logger, res *closers) (statuslog.Recorder, error) {
	csvRec, err := statuslog.NewCSVRecorder(cfg.StatusLog.Dir)
	if err != nil {
		return nil, err
	}
	recorders := statuslog.Multi{csvRec}

	if cfg.StatusLog.PostgresDSN != "" {
		pg, err := statuslog.OpenPostgres(ctx, cfg.StatusLog.PostgresDSN, logger)
		if err != nil {
			return nil, err
		}
		res.add(func() error { pg.Close(); return nil })
		recorders = append(recorders, pg)
	}
	return recorders, nil
}

func openDispatchers(cfg *config.Config, logger *slog.Logger, res *closers) ([]alert.Dispatcher, error) {
	var out []alert.Dispatcher

	if cfg.Alerts.Email.Enabled {
		email, err := alert.NewEmailDispatcher(alert.SMTPConfig{
			Sender:   cfg.Alerts.SMTP.Sender,
			Password: cfg.Alerts.SMTP.Password,
			Host:     cfg.Alerts.SMTP.Host,
			Port:     cfg.Alerts.SMTP.Port,
		}, logger)
		if err != nil {
			return nil, err
		}
		out = append(out, email)
	}

	if cfg.Alerts.Messaging.Enabled {
		sender, err := alert.NewChromeSender(alert.ChromeOptions{
			ProfileDir: cfg.Alerts.Messaging.ProfileDir,
			Headless:   cfg.Alerts.Messaging.Headless,
		}, logger)
		if err != nil {
			return nil, err
		}
		res.add(sender.Close)

		messaging := alert.NewMessagingDispatcher(sender, cfg.Alerts.Messaging.LeadTime, cfg.Alerts.Messaging.Timeout, logger)
		res.add(messaging.Close)
		out = append(out, messaging)
	}

	return out, nil
}

func listCameras(w io.Writer, cfg *config.Config) error {
	devices := capture.ListDevices(cfg.Camera.ProbeDevices)
	if len(devices) == 0 {
		return errors.New("no cameras found")
	}
	for _, d := range devices {
		fmt.Fprintf(w, "%d\t%s\n", d.ID, d.Name)
	}
	return nil
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
