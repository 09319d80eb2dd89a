// Package capture supplies frames from a camera, a stream or a static image.
//
// A Source is owned by exactly one goroutine at a time. Every Frame returned
// by Read must be closed by the caller, and the Source itself must be closed
// on every exit path so the hardware handle is released.
package capture

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"math/rand"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"gocv.io/x/gocv"

	"github.com/clalos/dashwatch/internal/metrics"
)

var (
	// ErrFrameUnavailable reports a transient acquisition fault.
	ErrFrameUnavailable = errors.New("frame unavailable")
	// ErrSourceClosed is returned by Read after Close.
	ErrSourceClosed = errors.New("frame source closed")
)

// Frame is a captured BGR image with tracking metadata.
type Frame struct {
	// Image holds the raw pixels. It must be closed by the consumer.
	Image     gocv.Mat
	Index     int64
	Timestamp time.Time
}

// Close releases the frame pixels.
func (f Frame) Close() error {
	return f.Image.Close()
}

// Source produces frames.
type Source interface {
	Read(ctx context.Context) (Frame, error)
	Close() error
}

// Config controls camera resilience.
type Config struct {
	// Source is a device index, stream URL or video file.
	Source            string
	MaxFailures       int
	BreakerTimeout    time.Duration
	RecoveryThreshold int
	ReconnectAttempts int
	// ReconnectBudget bounds the total time one Read spends reopening the
	// device. Zero means DefaultReconnectBudget.
	ReconnectBudget time.Duration
}

// DefaultReconnectBudget keeps a reconnect inside a single cycle.
const DefaultReconnectBudget = 30 * time.Second

// Camera reads frames from a gocv.VideoCapture, reopening the device when the
// circuit breaker trips.
type Camera struct {
	cfg     Config
	logger  *slog.Logger
	metrics *metrics.Metrics

	// mu guards capture and img.
	mu      sync.Mutex
	capture *gocv.VideoCapture
	img     gocv.Mat

	breaker    *CircuitBreaker
	frameIndex atomic.Int64
	closeOnce  sync.Once
	closed     atomic.Bool

	baseDelay time.Duration
	maxDelay  time.Duration
}

// OpenCamera opens the configured device and verifies it is readable.
func OpenCamera(cfg Config, logger *slog.Logger, m *metrics.Metrics) (*Camera, error) {
	capture, err := gocv.OpenVideoCapture(cfg.Source)
	if err != nil {
		return nil, fmt.Errorf("failed to open video capture %q: %w", cfg.Source, err)
	}
	if !capture.IsOpened() {
		capture.Close()
		return nil, fmt.Errorf("video capture %q is not opened", cfg.Source)
	}

	c := &Camera{
		cfg:       cfg,
		logger:    logger,
		metrics:   m,
		capture:   capture,
		img:       gocv.NewMat(),
		baseDelay: time.Second,
		maxDelay:  60 * time.Second,
	}
	c.breaker = NewCircuitBreaker(int64(cfg.MaxFailures), cfg.BreakerTimeout, int64(cfg.RecoveryThreshold), logger)
	c.breaker.onStateChange = func(s CircuitState) { m.SetCircuitState(int(s)) }

	logger.Debug("Camera opened", "source", cfg.Source)
	return c, nil
}

// Read grabs one frame. Failures are reported as ErrFrameUnavailable; once the
// breaker opens the device is reopened with exponential backoff.
func (c *Camera) Read(ctx context.Context) (Frame, error) {
	if c.closed.Load() {
		return Frame{}, ErrSourceClosed
	}

	var frame Frame
	err := c.breaker.Call(func() error {
		c.mu.Lock()
		defer c.mu.Unlock()

		if c.capture == nil {
			return errors.New("connection error: capture is nil")
		}
		if !c.capture.Read(&c.img) {
			return errors.New("stream read error: failed to read frame")
		}
		if c.img.Empty() {
			return errors.New("stream error: empty frame captured")
		}

		frame = Frame{
			Image:     c.img.Clone(),
			Index:     c.frameIndex.Add(1),
			Timestamp: time.Now(),
		}
		return nil
	})
	if err == nil {
		return frame, nil
	}

	state := c.breaker.State()
	c.logger.Warn("Frame capture failed",
		"error", err,
		"circuit_state", state,
		"consecutive_failures", c.breaker.FailureCount())

	if state == CircuitOpen && c.reconnectWithin(ctx) {
		c.breaker.Reset()
	}
	return Frame{}, fmt.Errorf("%w: %v", ErrFrameUnavailable, err)
}

// reconnectWithin runs reconnect bounded by the reconnect budget. Attempts
// left over are resumed on a later Read once the breaker opens again.
func (c *Camera) reconnectWithin(ctx context.Context) bool {
	budget := c.cfg.ReconnectBudget
	if budget <= 0 {
		budget = DefaultReconnectBudget
	}
	ctx, cancel := context.WithTimeout(ctx, budget)
	defer cancel()

	ok := c.reconnect(ctx)
	if !ok && ctx.Err() != nil {
		c.logger.Warn("Camera reconnection budget exhausted", "budget", budget, "source", c.cfg.Source)
	}
	return ok
}

// reconnect reopens the device with exponential backoff and jitter.
func (c *Camera) reconnect(ctx context.Context) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed.Load() {
		return false
	}
	if c.capture != nil {
		c.capture.Close()
		c.capture = nil
	}

	for attempt := 1; attempt <= c.cfg.ReconnectAttempts; attempt++ {
		if ctx.Err() != nil {
			return false
		}

		c.metrics.ReconnectAttempt()
		c.logger.Info("Attempting camera reconnection",
			"attempt", attempt,
			"max_attempts", c.cfg.ReconnectAttempts,
			"source", c.cfg.Source)

		capture, err := gocv.OpenVideoCapture(c.cfg.Source)
		if err == nil && capture.IsOpened() {
			c.capture = capture
			c.logger.Info("Camera reconnection successful", "attempt", attempt)
			return true
		}
		if capture != nil {
			capture.Close()
		}

		delay := backoffDelay(attempt, c.baseDelay, c.maxDelay)
		c.logger.Warn("Camera reconnection failed, retrying",
			"attempt", attempt,
			"error", err,
			"retry_in", delay)

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return false
		}
	}

	c.logger.Error("Camera reconnection failed after all attempts", "max_attempts", c.cfg.ReconnectAttempts)
	return false
}

// backoffDelay returns base*2^(attempt-1) capped at max, plus up to 25% jitter.
func backoffDelay(attempt int, base, max time.Duration) time.Duration {
	delay := time.Duration(float64(base) * math.Pow(2, float64(attempt-1)))
	if delay > max || delay <= 0 {
		delay = max
	}
	if q := int64(delay / 4); q > 0 {
		delay += time.Duration(rand.Int63n(q))
	}
	return delay
}

// Close releases the device. It is safe to call multiple times.
func (c *Camera) Close() error {
	var errs []error
	c.closeOnce.Do(func() {
		c.closed.Store(true)

		c.mu.Lock()
		defer c.mu.Unlock()
		if c.capture != nil {
			if err := c.capture.Close(); err != nil {
				errs = append(errs, fmt.Errorf("close video capture: %w", err))
			}
			c.capture = nil
		}
		if err := c.img.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close scratch frame: %w", err))
		}
		c.logger.Debug("Camera released", "source", c.cfg.Source)
	})
	return errors.Join(errs...)
}

// ImageFile serves the same still image on every Read.
type ImageFile struct {
	path       string
	img        gocv.Mat
	frameIndex atomic.Int64
	closeOnce  sync.Once
	closed     atomic.Bool
}

// OpenImageFile decodes the image at path.
func OpenImageFile(path string) (*ImageFile, error) {
	img := gocv.IMRead(path, gocv.IMReadColor)
	if img.Empty() {
		img.Close()
		return nil, fmt.Errorf("failed to read image %q", path)
	}
	return &ImageFile{path: path, img: img}, nil
}

// Read returns a fresh copy of the image.
func (s *ImageFile) Read(ctx context.Context) (Frame, error) {
	if s.closed.Load() {
		return Frame{}, ErrSourceClosed
	}
	if err := ctx.Err(); err != nil {
		return Frame{}, err
	}
	return Frame{
		Image:     s.img.Clone(),
		Index:     s.frameIndex.Add(1),
		Timestamp: time.Now(),
	}, nil
}

// Close releases the decoded image.
func (s *ImageFile) Close() error {
	var err error
	s.closeOnce.Do(func() {
		s.closed.Store(true)
		err = s.img.Close()
	})
	return err
}

// Device is a camera index that produced a frame when probed.
type Device struct {
	ID   int
	Name string
}

// ListDevices probes device indexes 0..max-1 and returns the readable ones.
// Every probed handle is released before returning.
func ListDevices(max int) []Device {
	var devices []Device
	for id := 0; id < max; id++ {
		if probeDevice(id) {
			devices = append(devices, Device{ID: id, Name: "Camera " + strconv.Itoa(id)})
		}
	}
	return devices
}

func probeDevice(id int) bool {
	capture, err := gocv.VideoCaptureDevice(id)
	if err != nil {
		return false
	}
	defer capture.Close()
	if !capture.IsOpened() {
		return false
	}

	img := gocv.NewMat()
	defer img.Close()
	return capture.Read(&img) && !img.Empty()
}
