// Package emitter publishes cycle results to an MQTT broker.
package emitter

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/clalos/dashwatch/internal/pipeline"
)

const (
	connectTimeout = 5 * time.Second
	publishTimeout = 2 * time.Second
)

var (
	// ErrNotConnected is returned by Handle while the broker is unreachable.
	ErrNotConnected = errors.New("mqtt not connected")
	// ErrPublishTimeout is returned when the broker does not acknowledge in time.
	ErrPublishTimeout = errors.New("mqtt publish timeout")
)

// Config selects the broker and payload format.
type Config struct {
	Broker   string
	ClientID string
	// Topic is the base topic; results go to <Topic>/status.
	Topic string
	QoS   byte
	Codec Codec
}

// MQTTEmitter publishes every Result it handles.
type MQTTEmitter struct {
	cfg    Config
	client mqtt.Client
	logger *slog.Logger

	mu        sync.RWMutex
	connected bool
	published uint64
	failures  uint64
}

// NewMQTTEmitter prepares an emitter. Call Connect before use.
func NewMQTTEmitter(cfg Config, logger *slog.Logger) *MQTTEmitter {
	if cfg.Codec == nil {
		cfg.Codec = jsonCodec{}
	}
	return &MQTTEmitter{cfg: cfg, logger: logger}
}

// StatusTopic is where results are published.
func (e *MQTTEmitter) StatusTopic() string {
	return strings.TrimRight(e.cfg.Topic, "/") + "/status"
}

// Connect dials the broker. The client reconnects on its own afterwards.
func (e *MQTTEmitter) Connect(ctx context.Context) error {
	broker := e.cfg.Broker
	if !strings.Contains(broker, "://") {
		broker = "tcp://" + broker
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(broker)
	opts.SetClientID(e.cfg.ClientID)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(2 * time.Second)
	opts.SetMaxReconnectInterval(30 * time.Second)

	opts.OnConnect = func(mqtt.Client) {
		e.setConnected(true)
		e.logger.Info("MQTT connection established", "broker", broker, "client_id", e.cfg.ClientID)
	}
	opts.OnConnectionLost = func(_ mqtt.Client, err error) {
		e.setConnected(false)
		e.logger.Warn("MQTT connection lost, will auto-reconnect", "broker", broker, "error", err)
	}

	e.client = mqtt.NewClient(opts)
	e.logger.Info("Connecting to MQTT broker", "broker", broker)

	token := e.client.Connect()
	select {
	case <-token.Done():
	case <-time.After(connectTimeout):
		return fmt.Errorf("mqtt connection timeout after %v", connectTimeout)
	case <-ctx.Done():
		return ctx.Err()
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("mqtt connection failed: %w", err)
	}
	e.setConnected(true)
	return nil
}

// Handle implements pipeline.Sink.
func (e *MQTTEmitter) Handle(_ context.Context, res pipeline.Result) error {
	if !e.isConnected() {
		e.countFailure()
		return ErrNotConnected
	}

	payload, err := e.cfg.Codec.Marshal(res)
	if err != nil {
		e.countFailure()
		return fmt.Errorf("encode result: %w", err)
	}

	topic := e.StatusTopic()
	token := e.client.Publish(topic, e.cfg.QoS, false, payload)
	if !token.WaitTimeout(publishTimeout) {
		e.countFailure()
		return ErrPublishTimeout
	}
	if err := token.Error(); err != nil {
		e.countFailure()
		return fmt.Errorf("mqtt publish failed: %w", err)
	}

	e.mu.Lock()
	e.published++
	e.mu.Unlock()

	e.logger.Debug("Result published",
		"topic", topic,
		"qos", e.cfg.QoS,
		"codec", e.cfg.Codec.Name(),
		"size", len(payload),
		"cycle_id", res.CycleID)
	return nil
}

// Close disconnects from the broker.
func (e *MQTTEmitter) Close() error {
	if e.client != nil && e.client.IsConnected() {
		e.client.Disconnect(250)
		e.logger.Info("MQTT disconnected")
	}
	e.setConnected(false)
	return nil
}

// Stats returns the published and failed counts.
func (e *MQTTEmitter) Stats() (published, failures uint64) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.published, e.failures
}

func (e *MQTTEmitter) setConnected(v bool) {
	e.mu.Lock()
	e.connected = v
	e.mu.Unlock()
}

func (e *MQTTEmitter) isConnected() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.connected
}

func (e *MQTTEmitter) countFailure() {
	e.mu.Lock()
	e.failures++
	e.mu.Unlock()
}
